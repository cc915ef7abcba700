package join

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rafflebot/internal/accounts"
	"rafflebot/internal/eventbus"
	"rafflebot/internal/fetch"
	"rafflebot/internal/ledger"
	logx "rafflebot/pkg/logx"
)

var testEndpoints = Endpoints{
	RaffleCheck: "http://api.test/activity/v1/Raffle/check",
	RaffleJoin:  "http://api.test/activity/v1/Raffle/join",
	SmallTVJoin: "http://api.test/gift/v2/smalltv/join",
}

type call struct {
	req      fetch.Request
	attempts int
}

// fakeGetter answers by URL. respond may panic to simulate a broken path.
type fakeGetter struct {
	mu      sync.Mutex
	calls   []call
	respond func(n int, req fetch.Request) string
}

func (g *fakeGetter) Get(_ context.Context, req fetch.Request, attempts int) fetch.Result {
	g.mu.Lock()
	g.calls = append(g.calls, call{req: req, attempts: attempts})
	n := len(g.calls)
	g.mu.Unlock()
	return fetch.NewResult([]byte(g.respond(n, req)))
}

func (g *fakeGetter) joins(url string) []call {
	g.mu.Lock()
	defer g.mu.Unlock()
	var out []call
	for _, c := range g.calls {
		if c.req.URL == url {
			out = append(out, c)
		}
	}
	return out
}

type fakeReporter struct {
	mu       sync.Mutex
	attempts []ledger.JoinAttempt
	err      error
}

func (r *fakeReporter) Report(_ context.Context, a ledger.JoinAttempt) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.attempts = append(r.attempts, a)
	return r.err
}

type staticPool struct{ snap *accounts.Snapshot }

func (p staticPool) Current() *accounts.Snapshot { return p.snap }

func threeAccounts() staticPool {
	return staticPool{accounts.NewSnapshot([]accounts.Account{
		{ID: 1, Credential: "sess=one"},
		{ID: 2, Credential: "sess=two"},
		{ID: 3, Credential: "sess=three"},
	}, time.Now())}
}

func newOrchestrator(g Getter, r Reporter, p Pool, bus eventbus.Bus, concurrency int) *Orchestrator {
	return New(g, r, p, bus, Options{Endpoints: testEndpoints, ProxyAttempts: 5, Concurrency: concurrency}, logx.Nop())
}

func TestRunRaffleJoinsEveryAccountPerRaffle(t *testing.T) {
	t.Parallel()
	joinCalls := 0
	g := &fakeGetter{respond: func(_ int, req fetch.Request) string {
		switch req.URL {
		case testEndpoints.RaffleCheck:
			return `{"code":0,"data":[{"raffleId":101,"type":"GIFT_30035"},{"raffleId":"102"}]}`
		case testEndpoints.RaffleJoin:
			joinCalls++
			if joinCalls == 2 {
				panic("connection reset by peer")
			}
			return `{"code":0,"msg":"ok"}`
		}
		return ""
	}}
	rep := &fakeReporter{}
	bus := eventbus.New()
	events, unsub := bus.Subscribe(64)
	defer unsub()

	sums := newOrchestrator(g, rep, threeAccounts(), bus, 1).RunRaffle(context.Background(), 264)

	require.Len(t, sums, 2)
	joins := g.joins(testEndpoints.RaffleJoin)
	assert.Len(t, joins, 6)
	assert.Len(t, rep.attempts, 6)

	assert.Equal(t, "101", sums[0].ExtendID)
	assert.Equal(t, "102", sums[1].ExtendID)
	assert.Equal(t, 2, sums[0].Count(KindJoined))
	assert.Equal(t, 1, sums[0].Count(KindFailed))
	assert.Equal(t, 3, sums[1].Count(KindJoined))
	assert.NotEqual(t, sums[0].RunID, sums[1].RunID)

	// The failing account is still reported.
	assert.Equal(t, ledger.JoinAttempt{AccountID: 2, RoomID: 264, ExtendID: "101", Joined: false}, rep.attempts[1])
	assert.True(t, sums[0].Results[1].Report.OK())

	for _, c := range joins {
		assert.Equal(t, 5, c.attempts)
		assert.Equal(t, "264", c.req.Params.Get("roomid"))
		assert.Equal(t, "api.live.bilibili.com", c.req.Headers.Get("Host"))
		assert.Equal(t, "http://live.bilibili.com", c.req.Headers.Get("Origin"))
		assert.Equal(t, "http://live.bilibili.com/264", c.req.Headers.Get("Referer"))
		assert.Contains(t, c.req.Headers.Get("User-Agent"), "Firefox/57.0")
		assert.Empty(t, c.req.Headers.Get("Cookie"))
	}

	var attempts, completed int
	for len(events) > 0 {
		switch (<-events).Type {
		case eventbus.TypeJoinAttempt:
			attempts++
		case eventbus.TypeJoinCompleted:
			completed++
		}
	}
	assert.Equal(t, 6, attempts)
	assert.Equal(t, 2, completed)
}

func TestRunRaffleEmptyListingDoesNothing(t *testing.T) {
	t.Parallel()
	for _, body := range []string{"", "{}", `{"code":0,"data":[]}`, `{"data":[{"other":1}]}`, "not json"} {
		g := &fakeGetter{respond: func(int, fetch.Request) string { return body }}
		rep := &fakeReporter{}

		sums := newOrchestrator(g, rep, threeAccounts(), nil, 1).RunRaffle(context.Background(), 1)
		assert.Nil(t, sums, "listing %q", body)
		assert.Len(t, g.calls, 1, "listing %q", body)
		assert.Empty(t, rep.attempts)
	}
}

func TestRunSmallTVUsesAccountCookie(t *testing.T) {
	t.Parallel()
	g := &fakeGetter{respond: func(int, fetch.Request) string { return `{"code":0}` }}
	rep := &fakeReporter{}
	o := newOrchestrator(g, rep, threeAccounts(), nil, 2)
	o.now = func() time.Time { return time.Unix(1514764800, 0) }

	sum := o.RunSmallTV(context.Background(), 264, "88")

	joins := g.joins(testEndpoints.SmallTVJoin)
	require.Len(t, joins, 3)
	cookies := map[string]bool{}
	for _, c := range joins {
		cookies[c.req.Headers.Get("Cookie")] = true
		assert.Equal(t, "88", c.req.Params.Get("raffleId"))
		assert.Equal(t, "264", c.req.Params.Get("roomid"))
		assert.Equal(t, "151476480000", c.req.Params.Get("_"))
		for _, h := range []string{"Host", "Origin", "Referer", "User-Agent"} {
			assert.Empty(t, c.req.Headers.Get(h), h)
		}
	}
	assert.Equal(t, map[string]bool{"sess=one": true, "sess=two": true, "sess=three": true}, cookies)
	assert.Equal(t, 3, sum.Count(KindJoined))
	require.Len(t, rep.attempts, 3)
	for _, a := range rep.attempts {
		assert.Equal(t, "88", a.ExtendID)
		assert.True(t, a.Joined)
	}
}

func TestReportFailureIsIsolated(t *testing.T) {
	t.Parallel()
	g := &fakeGetter{respond: func(int, fetch.Request) string { return `{"code":-400,"msg":"already joined"}` }}
	rep := &fakeReporter{err: errors.New("ledger down")}

	sum := newOrchestrator(g, rep, threeAccounts(), nil, 1).RunSmallTV(context.Background(), 5, "9")

	require.Len(t, sum.Results, 3)
	for _, r := range sum.Results {
		var apiErr *APIError
		require.ErrorAs(t, r.Join.Err, &apiErr)
		assert.Equal(t, int64(-400), apiErr.Code)
		assert.True(t, r.Report.Is(KindFailed))
		assert.True(t, strings.Contains(r.Report.String(), "ledger down"))
	}
	assert.Len(t, rep.attempts, 3)
}

func TestClassify(t *testing.T) {
	t.Parallel()
	cases := []struct {
		body string
		want Kind
	}{
		{"", KindFailed},
		{`{"code":0}`, KindJoined},
		{`{"data":{}}`, KindJoined},
		{`{"code":"0"}`, KindJoined},
		{`{"code":65531,"message":"busy"}`, KindFailed},
		{`[1,2]`, KindJoined},
	}
	for _, tc := range cases {
		got := classify(fetch.NewResult([]byte(tc.body)))
		assert.Equal(t, tc.want, got.Kind, "body %q", tc.body)
	}
	assert.ErrorIs(t, classify(fetch.Result{}).Err, ErrNoResponse)
}

func TestEmptyPoolStillCompletes(t *testing.T) {
	t.Parallel()
	g := &fakeGetter{respond: func(int, fetch.Request) string { return `{"code":0}` }}
	pool := staticPool{accounts.NewSnapshot(nil, time.Now())}

	sum := newOrchestrator(g, &fakeReporter{}, pool, nil, 4).RunSmallTV(context.Background(), 1, "2")
	assert.Empty(t, sum.Results)
	assert.Empty(t, g.calls)
}

func TestOutcomeString(t *testing.T) {
	assert.Equal(t, "joined", Joined().String())
	assert.Equal(t, "skipped: empty listing", Skipped("empty listing").String())
	assert.Equal(t, "failed: boom", Failed(errors.New("boom")).String())
}
