package ledger

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rafflebot/internal/fetch"
	logx "rafflebot/pkg/logx"
)

type ledgerServer struct {
	*httptest.Server
	mu      sync.Mutex
	methods []string
	got     []url.Values
}

func newLedger(t *testing.T) *ledgerServer {
	t.Helper()
	ls := &ledgerServer{}
	ls.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/raffle/join", r.URL.Path)
		_ = r.ParseForm()
		ls.mu.Lock()
		ls.methods = append(ls.methods, r.Method)
		ls.got = append(ls.got, r.Form)
		ls.mu.Unlock()
		_, _ = w.Write([]byte(`{"result":"ok"}`))
	}))
	t.Cleanup(ls.Close)
	return ls
}

func (ls *ledgerServer) seen() ([]string, []url.Values) {
	ls.mu.Lock()
	defer ls.mu.Unlock()
	return append([]string(nil), ls.methods...), append([]url.Values(nil), ls.got...)
}

func newFetcher() *fetch.Fetcher {
	return fetch.New(nil, nil, fetch.Options{GetTimeout: time.Second, PostTimeout: time.Second}, logx.Nop())
}

func TestReportGet(t *testing.T) {
	t.Parallel()
	ls := newLedger(t)
	r := NewReporter(ls.URL, MethodGet, newFetcher())

	require.NoError(t, r.Report(context.Background(), JoinAttempt{AccountID: 9, RoomID: 264, ExtendID: "1234"}))
	methods, got := ls.seen()
	require.Len(t, got, 1)
	assert.Equal(t, http.MethodGet, methods[0])
	assert.Equal(t, "9", got[0].Get("account_id"))
	assert.Equal(t, "264", got[0].Get("room_id"))
	assert.Equal(t, "1234", got[0].Get("raffle_extend_id"))
}

func TestReportPost(t *testing.T) {
	t.Parallel()
	ls := newLedger(t)
	r := NewReporter(ls.URL+"/", MethodPost, newFetcher())

	require.NoError(t, r.Report(context.Background(), JoinAttempt{AccountID: 1, RoomID: 2, ExtendID: "3"}))
	methods, got := ls.seen()
	require.Len(t, methods, 1)
	assert.Equal(t, http.MethodPost, methods[0])
	assert.Equal(t, "3", got[0].Get("raffle_extend_id"))
}

func TestReportNoResponse(t *testing.T) {
	t.Parallel()
	r := NewReporter("http://127.0.0.1:1", "", newFetcher())
	err := r.Report(context.Background(), JoinAttempt{AccountID: 1})
	require.ErrorIs(t, err, ErrNoResponse)
}

func TestBaseURL(t *testing.T) {
	assert.Equal(t, "http://localhost:8069", BaseURL("localhost", 8069))
}
