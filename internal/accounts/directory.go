package accounts

import (
	"context"
	"sync"
	"sync/atomic"

	"rafflebot/internal/eventbus"
	logx "rafflebot/pkg/logx"
)

// SnapshotLoader produces a complete snapshot or an error.
type SnapshotLoader interface {
	Load(ctx context.Context) (*Snapshot, error)
}

// Directory owns the current snapshot. Refresh swaps it atomically; readers
// holding an older snapshot keep a consistent view.
type Directory struct {
	loader SnapshotLoader
	bus    eventbus.Bus
	log    logx.Logger

	cur atomic.Pointer[Snapshot]
	mu  sync.Mutex // serializes Refresh
}

// Refreshed is the payload of directory.refreshed events.
type Refreshed struct {
	Accounts int `json:"accounts"`
}

// NewDirectory performs the initial load. An error here means the process
// has no pool and must not start.
func NewDirectory(ctx context.Context, loader SnapshotLoader, bus eventbus.Bus, log logx.Logger) (*Directory, error) {
	d := &Directory{loader: loader, bus: bus, log: log}
	if err := d.Refresh(ctx); err != nil {
		return nil, err
	}
	return d, nil
}

func (d *Directory) Current() *Snapshot { return d.cur.Load() }

// Refresh reloads the pool. On failure the previous snapshot stays current.
func (d *Directory) Refresh(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	snap, err := d.loader.Load(ctx)
	if err != nil {
		d.log.Warn("account directory refresh failed", logx.Err(err), logx.Int("kept", d.Current().Len()))
		return err
	}
	prev := d.cur.Swap(snap)
	d.log.Info("account directory loaded", logx.Int("accounts", snap.Len()), logx.Int("previous", prev.Len()))
	if d.bus != nil {
		d.bus.Publish(eventbus.Event{Type: eventbus.TypeDirectoryRefreshed, Data: Refreshed{Accounts: snap.Len()}})
	}
	return nil
}
