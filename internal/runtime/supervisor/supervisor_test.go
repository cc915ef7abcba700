package supervisor

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func TestGoPanicCancelsWhenConfigured(t *testing.T) {
	t.Parallel()
	sup := NewSupervisor(context.Background(), WithCancelOnError(true))
	sup.Go("dispatch", func(ctx context.Context) error {
		panic("handler exploded")
	})

	select {
	case <-sup.Context().Done():
	case <-time.After(2 * time.Second):
		t.Fatal("expected supervisor context to be canceled after panic")
	}
	if err := sup.Wait(context.Background()); err == nil {
		t.Fatal("expected first error to be recorded")
	}
}

func TestGoCanceledIsClean(t *testing.T) {
	t.Parallel()
	sup := NewSupervisor(context.Background(), WithCancelOnError(true))
	sup.Go("loop", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	if err := sup.Stop(context.Background()); err != nil {
		t.Fatalf("Stop() = %v, want nil", err)
	}
}

func TestGoRestartGivesUp(t *testing.T) {
	t.Parallel()
	sup := NewSupervisor(context.Background(), WithCancelOnError(true))
	var runs atomic.Int32
	sup.GoRestart("flaky", func(ctx context.Context) error {
		runs.Add(1)
		return errors.New("nope")
	}, WithRestartBackoff(time.Millisecond, 2*time.Millisecond), WithMaxRestarts(2), WithFatalOnFinalError(true))

	select {
	case <-sup.Context().Done():
	case <-time.After(2 * time.Second):
		t.Fatal("expected fatal cancel after restarts are exhausted")
	}
	if got := runs.Load(); got != 3 {
		t.Fatalf("runs = %d, want 3 (initial + 2 restarts)", got)
	}
	if c := sup.Counters(); c.Restarts != 3 {
		t.Fatalf("restarts = %d, want 3", c.Restarts)
	}
}
