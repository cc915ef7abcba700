package app

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rafflebot/internal/config"
)

type fakeBackend struct {
	joins   atomic.Int32
	reports atomic.Int32
}

func (b *fakeBackend) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	switch r.URL.Path {
	case "/account/amount":
		fmt.Fprint(w, `{"data":2}`)
	case "/account/cookies":
		fmt.Fprint(w, `{"data":[{"id":1,"cookies":"a=1"},{"id":2,"cookies":"b=2"}]}`)
	case "/raffle/join":
		b.reports.Add(1)
		fmt.Fprint(w, `{"code":0}`)
	case "/check":
		fmt.Fprint(w, `{"code":0,"data":[{"raffleId":77}]}`)
	case "/join":
		b.joins.Add(1)
		fmt.Fprint(w, `{"code":0,"msg":"ok"}`)
	default:
		http.NotFound(w, r)
	}
}

func relay(t *testing.T) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer c.CloseNow()
		ctx := r.Context()
		if _, _, err := c.Read(ctx); err != nil {
			return
		}
		_ = c.Write(ctx, websocket.MessageText, []byte(`{"cmd":"SYS_GIFT","roomid":264}`))
		_, _, _ = c.Read(ctx)
	}))
}

func writeConfig(t *testing.T, ledger, stream string) string {
	t.Helper()
	host, port, err := net.SplitHostPort(strings.TrimPrefix(ledger, "http://"))
	require.NoError(t, err)
	body := fmt.Sprintf(`
room_id: 264
ledger:
  host: %s
  port: %s
endpoints:
  raffle_check: %s/check
  raffle_join: %s/join
  smalltv_join: %s/join
stream:
  url: %s
  reconnect_min: 10ms
  reconnect_max: 50ms
logging:
  level: error
`, host, port, ledger, ledger, ledger, stream)
	p := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(p, []byte(body), 0o600))
	return p
}

func TestAppJoinsAnnouncedRaffle(t *testing.T) {
	backend := &fakeBackend{}
	ledgerSrv := httptest.NewServer(backend)
	defer ledgerSrv.Close()
	relaySrv := relay(t)
	defer relaySrv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, err := New(ctx, writeConfig(t, ledgerSrv.URL, "ws"+strings.TrimPrefix(relaySrv.URL, "http")))
	require.NoError(t, err)
	assert.Equal(t, 2, a.dir.Current().Len())

	require.NoError(t, a.Start(ctx))
	require.Eventually(t, func() bool {
		return backend.joins.Load() == 2 && backend.reports.Load() == 2
	}, 5*time.Second, 10*time.Millisecond)
	require.Eventually(t, a.ready, 2*time.Second, 10*time.Millisecond)

	st, ok := a.status().(status)
	require.True(t, ok)
	assert.EqualValues(t, 264, st.RoomID)
	assert.Equal(t, 2, st.Accounts)

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer stopCancel()
	require.NoError(t, a.Stop(stopCtx, StopSignal))
	assert.NoError(t, a.Err())
}

func TestNewRequiresStreamURL(t *testing.T) {
	p := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(p, []byte("room_id: 1\nledger:\n  host: localhost\n"), 0o600))
	_, err := New(context.Background(), p)
	require.ErrorContains(t, err, "stream.url")
}

func TestMapEngineConfig(t *testing.T) {
	t.Parallel()
	cfg := &config.Config{Dispatch: config.DispatchConfig{Workers: 3, QueueSize: 9, Timeout: "2m", MaxQueueDelay: "30s"}}
	ec, err := mapEngineConfig(cfg)
	require.NoError(t, err)
	assert.Equal(t, 3, ec.Workers)
	assert.Equal(t, 9, ec.QueueSize)
	assert.Equal(t, 2*time.Minute, ec.DefaultTimeout)
	assert.Equal(t, 30*time.Second, ec.MaxQueueDelay)

	cfg.Dispatch.MaxQueueDelay = "later"
	_, err = mapEngineConfig(cfg)
	assert.Error(t, err)

	cfg.Dispatch.MaxQueueDelay = ""
	cfg.Dispatch.Timeout = "soon"
	_, err = mapEngineConfig(cfg)
	assert.Error(t, err)
}

func TestMapStreamOptionsDefaults(t *testing.T) {
	t.Parallel()
	so, err := mapStreamOptions(&config.Config{RoomID: 5, Stream: config.StreamConfig{URL: "ws://relay"}})
	require.NoError(t, err)
	assert.Equal(t, time.Second, so.ReconnectMin)
	assert.Equal(t, 30*time.Second, so.ReconnectMax)
	assert.EqualValues(t, 5, so.RoomID)
}
