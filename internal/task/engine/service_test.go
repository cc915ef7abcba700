package engine

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rafflebot/internal/eventbus"
	logx "rafflebot/pkg/logx"
)

func startEngine(t *testing.T, cfg Config, bus eventbus.Bus) *Service {
	t.Helper()
	s := New(cfg, logx.Nop(), bus)
	s.Start(context.Background())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		s.Stop(ctx)
	})
	return s
}

func TestEnqueueRunsTaskOnce(t *testing.T) {
	s := startEngine(t, Config{Workers: 2, QueueSize: 4}, nil)

	var runs atomic.Int32
	require.NoError(t, s.Enqueue(Task{Name: "smalltv", Run: func(ctx context.Context) error {
		runs.Add(1)
		return errors.New("upstream said no")
	}}))

	require.Eventually(t, func() bool { return s.Snapshot().Failed == 1 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, int32(1), runs.Load())
	snap := s.Snapshot()
	require.Len(t, snap.History, 1)
	assert.Equal(t, "upstream said no", snap.History[0].Error)
}

func TestPanicIsContained(t *testing.T) {
	s := startEngine(t, Config{Workers: 1, QueueSize: 4}, nil)

	require.NoError(t, s.Enqueue(Task{Name: "boom", Run: func(ctx context.Context) error { panic("bad payload") }}))
	done := make(chan struct{})
	require.NoError(t, s.Enqueue(Task{Name: "after", Run: func(ctx context.Context) error { close(done); return nil }}))

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not survive a panicking task")
	}
	require.Eventually(t, func() bool { return s.Snapshot().Completed == 1 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, uint64(1), s.Snapshot().Failed)
}

func TestQueueFullIsReported(t *testing.T) {
	bus := eventbus.New()
	events, unsub := bus.Subscribe(16)
	defer unsub()
	s := startEngine(t, Config{Workers: 1, QueueSize: 1}, bus)

	release := make(chan struct{})
	started := make(chan struct{}, 1)
	block := func(ctx context.Context) error {
		select {
		case started <- struct{}{}:
		default:
		}
		<-release
		return nil
	}
	require.NoError(t, s.Enqueue(Task{Name: "a", Run: block}))
	<-started
	require.NoError(t, s.Enqueue(Task{Name: "b", Run: block}))
	err := s.Enqueue(Task{Name: "c", Run: block})
	close(release)

	require.ErrorIs(t, err, ErrQueueFull)
	assert.Equal(t, uint64(1), s.Snapshot().DroppedQueueFull)

	found := false
	for !found {
		select {
		case ev := <-events:
			found = ev.Type == eventbus.TypeTaskDropped
		case <-time.After(time.Second):
			t.Fatal("missing task.dropped event")
		}
	}
}

func TestEnqueueRequiresRunningEngine(t *testing.T) {
	s := New(Config{}, logx.Nop(), nil)
	err := s.Enqueue(Task{Name: "x", Run: func(context.Context) error { return nil }})
	assert.ErrorIs(t, err, ErrStopped)

	s.Start(context.Background())
	defer s.Stop(context.Background())
	assert.ErrorIs(t, s.Enqueue(Task{Name: "x"}), ErrInvalid)
}

func TestTimeoutAppliesDefault(t *testing.T) {
	s := startEngine(t, Config{Workers: 1, QueueSize: 1, DefaultTimeout: 20 * time.Millisecond}, nil)
	require.NoError(t, s.Enqueue(Task{Name: "slow", Run: func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}}))
	require.Eventually(t, func() bool { return s.Snapshot().Failed == 1 }, 2*time.Second, 5*time.Millisecond)
	assert.Contains(t, s.Snapshot().History[0].Error, "deadline")
}

func TestStaleTaskIsDropped(t *testing.T) {
	bus := eventbus.New()
	events, unsub := bus.Subscribe(16)
	defer unsub()
	s := startEngine(t, Config{Workers: 1, QueueSize: 2, MaxQueueDelay: 20 * time.Millisecond}, bus)

	release := make(chan struct{})
	started := make(chan struct{})
	require.NoError(t, s.Enqueue(Task{Name: "raffle:1", Run: func(ctx context.Context) error {
		close(started)
		<-release
		return nil
	}}))
	<-started

	var staleRuns atomic.Int32
	require.NoError(t, s.Enqueue(Task{Name: "raffle:2", Run: func(ctx context.Context) error {
		staleRuns.Add(1)
		return nil
	}}))
	time.Sleep(60 * time.Millisecond)
	close(release)

	require.Eventually(t, func() bool { return s.Snapshot().DroppedStale == 1 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, int32(0), staleRuns.Load())
	assert.Equal(t, uint64(1), s.Snapshot().Completed)

	var dropped *TaskEvent
	for dropped == nil {
		select {
		case ev := <-events:
			if te, ok := ev.Data.(TaskEvent); ok && ev.Type == eventbus.TypeTaskDropped {
				dropped = &te
			}
		case <-time.After(time.Second):
			t.Fatal("missing task.dropped event")
		}
	}
	assert.Equal(t, "raffle:2", dropped.Name)
	assert.Equal(t, "stale_queue_delay", dropped.Error)
	assert.GreaterOrEqual(t, dropped.QueueDelay, 20*time.Millisecond)
}
