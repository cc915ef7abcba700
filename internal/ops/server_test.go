package ops

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rafflebot/internal/eventbus"
	"rafflebot/internal/join"
	logx "rafflebot/pkg/logx"
)

func get(t *testing.T, h http.Handler, target string, header ...string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, target, nil)
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHandlerEndpoints(t *testing.T) {
	t.Parallel()
	var ready atomic.Bool
	s := New(Config{Pprof: true}, Probes{
		Ready:  ready.Load,
		Status: func() any { return map[string]any{"room_id": 264} },
	}, logx.Nop())
	h := s.Handler()

	assert.Equal(t, http.StatusOK, get(t, h, "/healthz").Code)
	assert.Equal(t, http.StatusServiceUnavailable, get(t, h, "/readyz").Code)
	ready.Store(true)
	assert.Equal(t, http.StatusOK, get(t, h, "/readyz").Code)

	rec := get(t, h, "/status")
	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, float64(264), body["room_id"])

	assert.Equal(t, http.StatusOK, get(t, h, "/debug/pprof/").Code)
	assert.Equal(t, http.StatusNotFound, get(t, New(Config{}, Probes{}, logx.Nop()).Handler(), "/debug/pprof/").Code)
}

func TestHandlerTokenAuth(t *testing.T) {
	t.Parallel()
	h := New(Config{Token: "s3cret"}, Probes{}, logx.Nop()).Handler()

	assert.Equal(t, http.StatusUnauthorized, get(t, h, "/healthz").Code)
	assert.Equal(t, http.StatusUnauthorized, get(t, h, "/healthz?token=nope").Code)
	assert.Equal(t, http.StatusUnauthorized, get(t, h, "/healthz", "Authorization", "Bearer nope").Code)
	assert.Equal(t, http.StatusOK, get(t, h, "/healthz?token=s3cret").Code)
	assert.Equal(t, http.StatusOK, get(t, h, "/healthz", "Authorization", "Bearer s3cret").Code)
}

func TestStartStop(t *testing.T) {
	t.Parallel()
	s := New(Config{Addr: "127.0.0.1:0"}, Probes{}, logx.Nop())
	s.Start(context.Background())

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	addr, err := s.Addr(ctx)
	require.NoError(t, err)

	resp, err := http.Get("http://" + addr + "/healthz")
	require.NoError(t, err)
	b, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, "ok", string(b))

	s.Stop(ctx)
	_, err = http.Get("http://" + addr + "/healthz")
	assert.Error(t, err)
}

func TestRefusesInsecureBind(t *testing.T) {
	t.Parallel()
	s := New(Config{Addr: "0.0.0.0:0"}, Probes{}, logx.Nop())
	require.Error(t, s.serveOnce(context.Background()))

	assert.True(t, isLoopbackAddr("127.0.0.1:6060"))
	assert.True(t, isLoopbackAddr("localhost:1"))
	assert.True(t, isLoopbackAddr("[::1]:1"))
	assert.False(t, isLoopbackAddr(":6060"))
	assert.False(t, isLoopbackAddr("10.0.0.1:6060"))
	assert.False(t, isLoopbackAddr("nonsense"))
}

func TestTally(t *testing.T) {
	t.Parallel()
	bus := eventbus.New()
	ch, unsub := bus.Subscribe(16)
	var tally Tally

	bus.Publish(eventbus.Event{Type: eventbus.TypeJoinAttempt, Data: join.Attempt{Outcome: join.KindJoined}})
	bus.Publish(eventbus.Event{Type: eventbus.TypeJoinAttempt, Data: join.Attempt{Outcome: join.KindFailed}})
	bus.Publish(eventbus.Event{Type: eventbus.TypeJoinCompleted, Data: join.Completed{RunID: "run-1"}})
	bus.Publish(eventbus.Event{Type: eventbus.TypeTaskDropped})
	bus.Publish(eventbus.Event{Type: eventbus.TypeDirectoryRefreshed})
	unsub()

	tally.Consume(context.Background(), ch)
	snap := tally.Snapshot()
	assert.Equal(t, uint64(2), snap.Attempts)
	assert.Equal(t, uint64(1), snap.Joined)
	assert.Equal(t, uint64(1), snap.Failed)
	assert.Equal(t, uint64(1), snap.Runs)
	assert.Equal(t, uint64(1), snap.TasksDropped)
	assert.Equal(t, uint64(1), snap.PoolRefreshes)
	assert.Equal(t, "run-1", snap.LastRunID)
	assert.False(t, snap.LastRunAt.IsZero())
}
