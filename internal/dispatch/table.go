// Package dispatch routes stream events to the giveaway handlers.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"rafflebot/internal/join"
	"rafflebot/internal/task/engine"
	logx "rafflebot/pkg/logx"
)

// Runner is the orchestration the handlers drive.
type Runner interface {
	RunRaffle(ctx context.Context, roomID int64) []join.Summary
	RunSmallTV(ctx context.Context, roomID int64, extendID string) join.Summary
}

// Queue accepts handler work without blocking the caller.
type Queue interface {
	Enqueue(t engine.Task) error
}

// Handler turns one announcement for roomID into orchestration work. It
// returns nil work when the payload carries nothing to act on.
type Handler func(roomID int64, p Payload) (name string, work func(ctx context.Context))

// ErrNoHandler is returned for kinds outside the table.
var ErrNoHandler = errors.New("dispatch: no handler for kind")

type Options struct {
	// Unbounded spawns one goroutine per event instead of using the queue.
	Unbounded bool
	Timeout   time.Duration
}

// Table maps every EventKind to its handler. Handlers never run on the
// caller's goroutine.
type Table struct {
	handlers [kindEnd]Handler
	queue    Queue
	opts     Options
	log      logx.Logger

	wg sync.WaitGroup // unbounded mode only
}

// NewTable builds the table: SYS_MSG goes to small-TV, SYS_GIFT to raffle.
func NewTable(r Runner, q Queue, opts Options, log logx.Logger) *Table {
	t := &Table{queue: q, opts: opts, log: log}
	t.handlers[KindSysMsg] = SmallTVHandler(r)
	t.handlers[KindSysGift] = RaffleHandler(r)
	return t
}

// RaffleHandler runs the listing-driven raffle path.
func RaffleHandler(r Runner) Handler {
	return func(roomID int64, _ Payload) (string, func(context.Context)) {
		return fmt.Sprintf("raffle:%d", roomID), func(ctx context.Context) {
			r.RunRaffle(ctx, roomID)
		}
	}
}

// SmallTVHandler runs the small-TV path for the tv_id in the payload.
func SmallTVHandler(r Runner) Handler {
	return func(roomID int64, p Payload) (string, func(context.Context)) {
		tvID, ok := p.ID("tv_id")
		if !ok {
			return "", nil
		}
		return fmt.Sprintf("smalltv:%d:%s", roomID, tvID), func(ctx context.Context) {
			r.RunSmallTV(ctx, roomID, tvID)
		}
	}
}

// Dispatch schedules the handler for kind. Payloads without a room id are
// ignored and return nil. With a queue, a full queue returns
// engine.ErrQueueFull and the event is dropped.
func (t *Table) Dispatch(ctx context.Context, kind EventKind, p Payload) error {
	if !kind.valid() || t.handlers[kind] == nil {
		return fmt.Errorf("%w: %s", ErrNoHandler, kind)
	}
	roomID, ok := p.Int64("roomid")
	if !ok {
		t.log.Debug("event ignored: no room id", logx.String("kind", kind.String()))
		return nil
	}
	name, work := t.handlers[kind](roomID, p)
	if work == nil {
		t.log.Debug("event ignored: nothing to join", logx.String("kind", kind.String()), logx.Int64("room", roomID))
		return nil
	}
	t.log.Info("event dispatched", logx.String("kind", kind.String()), logx.Int64("room", roomID), logx.String("task", name))

	if t.opts.Unbounded || t.queue == nil {
		t.spawn(ctx, name, work)
		return nil
	}
	return t.queue.Enqueue(engine.Task{
		Name:    name,
		Timeout: t.opts.Timeout,
		Run: func(ctx context.Context) error {
			work(ctx)
			return nil
		},
	})
}

// Deliver is the stream callback. Unknown commands are not dispatched;
// scheduling failures are logged and the event is dropped.
func (t *Table) Deliver(ctx context.Context, cmd string, frame map[string]any) {
	kind, ok := ParseKind(cmd)
	if !ok {
		return
	}
	if err := t.Dispatch(ctx, kind, Payload(frame)); err != nil {
		t.log.Warn("event dropped", logx.String("kind", cmd), logx.Err(err))
	}
}

func (t *Table) spawn(ctx context.Context, name string, work func(context.Context)) {
	if t.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.opts.Timeout)
		orig := work
		work = func(c context.Context) {
			defer cancel()
			orig(c)
		}
	}
	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				t.log.Error("handler panicked", logx.String("task", name), logx.Any("panic", r), logx.String("stack", string(debug.Stack())))
			}
		}()
		work(ctx)
	}()
}

// Wait blocks until goroutines started in unbounded mode finish or ctx ends.
func (t *Table) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		t.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
