package accounts

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	logx "rafflebot/pkg/logx"
)

// Refresher reloads a Directory on a cron schedule. An empty spec leaves the
// pool frozen for the process lifetime.
type Refresher struct {
	dir     *Directory
	spec    string
	timeout time.Duration
	log     logx.Logger
	c       *cron.Cron
}

func NewRefresher(dir *Directory, spec string, timeout time.Duration, log logx.Logger) (*Refresher, error) {
	spec = strings.TrimSpace(spec)
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	r := &Refresher{dir: dir, spec: spec, timeout: timeout, log: log}
	if spec == "" {
		return r, nil
	}
	r.c = cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	if _, err := r.c.AddFunc(spec, r.run); err != nil {
		return nil, fmt.Errorf("accounts.refresh %q: %w", spec, err)
	}
	return r, nil
}

func (r *Refresher) Enabled() bool { return r != nil && r.c != nil }

func (r *Refresher) Start() {
	if !r.Enabled() {
		r.log.Info("account refresh disabled; pool is frozen")
		return
	}
	r.c.Start()
	r.log.Info("account refresh scheduled", logx.String("spec", r.spec))
}

// Stop halts scheduling and waits for a running refresh until ctx is done.
func (r *Refresher) Stop(ctx context.Context) {
	if !r.Enabled() {
		return
	}
	select {
	case <-r.c.Stop().Done():
	case <-ctx.Done():
	}
}

func (r *Refresher) run() {
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()
	_ = r.dir.Refresh(ctx)
}
