package ops

import (
	"context"
	"sync/atomic"
	"time"

	"rafflebot/internal/eventbus"
	"rafflebot/internal/join"
)

// Tally counts join activity seen on the event bus.
type Tally struct {
	attempts  atomic.Uint64
	joined    atomic.Uint64
	failed    atomic.Uint64
	runs      atomic.Uint64
	dropped   atomic.Uint64
	refreshes atomic.Uint64
	lastRunAt atomic.Int64
	lastRunID atomic.Value // string
}

type TallySnapshot struct {
	Attempts      uint64    `json:"attempts"`
	Joined        uint64    `json:"joined"`
	Failed        uint64    `json:"failed"`
	Runs          uint64    `json:"runs"`
	TasksDropped  uint64    `json:"tasks_dropped"`
	PoolRefreshes uint64    `json:"pool_refreshes"`
	LastRunID     string    `json:"last_run_id,omitempty"`
	LastRunAt     time.Time `json:"last_run_at,omitzero"`
}

// Consume reads events until ctx ends or ch closes.
func (t *Tally) Consume(ctx context.Context, ch <-chan eventbus.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			t.Observe(ev)
		}
	}
}

func (t *Tally) Observe(ev eventbus.Event) {
	switch ev.Type {
	case eventbus.TypeJoinAttempt:
		t.attempts.Add(1)
		if a, ok := ev.Data.(join.Attempt); ok {
			switch a.Outcome {
			case join.KindJoined:
				t.joined.Add(1)
			case join.KindFailed:
				t.failed.Add(1)
			}
		}
	case eventbus.TypeJoinCompleted:
		t.runs.Add(1)
		t.lastRunAt.Store(ev.Time.UnixNano())
		if c, ok := ev.Data.(join.Completed); ok {
			t.lastRunID.Store(c.RunID)
		}
	case eventbus.TypeTaskDropped:
		t.dropped.Add(1)
	case eventbus.TypeDirectoryRefreshed:
		t.refreshes.Add(1)
	}
}

func (t *Tally) Snapshot() TallySnapshot {
	s := TallySnapshot{
		Attempts:      t.attempts.Load(),
		Joined:        t.joined.Load(),
		Failed:        t.failed.Load(),
		Runs:          t.runs.Load(),
		TasksDropped:  t.dropped.Load(),
		PoolRefreshes: t.refreshes.Load(),
	}
	if id, ok := t.lastRunID.Load().(string); ok {
		s.LastRunID = id
	}
	if ns := t.lastRunAt.Load(); ns != 0 {
		s.LastRunAt = time.Unix(0, ns)
	}
	return s
}
