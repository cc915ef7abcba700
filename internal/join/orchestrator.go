// Package join enrolls every account of the pool in a giveaway and reports
// each attempt to the ledger.
package join

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"runtime/debug"
	"strconv"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"rafflebot/internal/accounts"
	"rafflebot/internal/eventbus"
	"rafflebot/internal/fetch"
	"rafflebot/internal/ledger"
	logx "rafflebot/pkg/logx"
)

const (
	raffleUserAgent = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10.13; rv:57.0) Gecko/20100101 Firefox/57.0"
	raffleHost      = "api.live.bilibili.com"
	raffleOrigin    = "http://live.bilibili.com"
)

type Getter interface {
	Get(ctx context.Context, req fetch.Request, maxProxyAttempts int) fetch.Result
}

type Reporter interface {
	Report(ctx context.Context, a ledger.JoinAttempt) error
}

// Pool yields the snapshot a run iterates. It is read once per run.
type Pool interface {
	Current() *accounts.Snapshot
}

type Endpoints struct {
	RaffleCheck string
	RaffleJoin  string
	SmallTVJoin string
}

type Options struct {
	Endpoints     Endpoints
	ProxyAttempts int
	// Concurrency bounds in-flight accounts per run; 1 keeps snapshot order.
	Concurrency int
	Tracer      trace.Tracer
}

type Orchestrator struct {
	get  Getter
	rep  Reporter
	pool Pool
	bus  eventbus.Bus
	opts Options
	log  logx.Logger
	now  func() time.Time
}

func New(get Getter, rep Reporter, pool Pool, bus eventbus.Bus, opts Options, log logx.Logger) *Orchestrator {
	if opts.Concurrency <= 0 {
		opts.Concurrency = 1
	}
	if opts.Tracer == nil {
		opts.Tracer = otel.Tracer("rafflebot/internal/join")
	}
	return &Orchestrator{get: get, rep: rep, pool: pool, bus: bus, opts: opts, log: log, now: time.Now}
}

// AccountResult pairs the join and report outcomes of one account.
type AccountResult struct {
	AccountID int64
	Join      Outcome
	Report    Outcome
}

// Summary describes one giveaway run over the pool.
type Summary struct {
	RunID    string
	Kind     string
	RoomID   int64
	ExtendID string
	Started  time.Time
	Duration time.Duration
	Results  []AccountResult
}

// Count tallies join outcomes of kind k.
func (s Summary) Count(k Kind) int {
	n := 0
	for _, r := range s.Results {
		if r.Join.Kind == k {
			n++
		}
	}
	return n
}

// Attempt is the payload of join.attempt events.
type Attempt struct {
	RunID     string `json:"run_id"`
	Kind      string `json:"kind"`
	AccountID int64  `json:"account_id"`
	RoomID    int64  `json:"room_id"`
	ExtendID  string `json:"extend_id"`
	Outcome   Kind   `json:"outcome"`
	Join      string `json:"join"`
	Reported  bool   `json:"reported"`
}

// Completed is the payload of join.completed events.
type Completed struct {
	RunID    string        `json:"run_id"`
	Kind     string        `json:"kind"`
	RoomID   int64         `json:"room_id"`
	ExtendID string        `json:"extend_id"`
	Joined   int           `json:"joined"`
	Skipped  int           `json:"skipped"`
	Failed   int           `json:"failed"`
	Duration time.Duration `json:"duration"`
}

// RunRaffle lists the active raffles of roomID and runs the pool through each
// one. An empty listing returns nil.
func (o *Orchestrator) RunRaffle(ctx context.Context, roomID int64) []Summary {
	ids, outcome := o.listRaffles(ctx, roomID)
	if !outcome.OK() {
		lvl := o.log.Debug
		if outcome.Is(KindFailed) {
			lvl = o.log.Warn
		}
		lvl("raffle listing produced nothing", logx.Int64("room", roomID), logx.String("outcome", outcome.String()))
		return nil
	}

	headers := http.Header{}
	headers.Set("Host", raffleHost)
	headers.Set("Origin", raffleOrigin)
	headers.Set("Referer", raffleOrigin+"/"+strconv.FormatInt(roomID, 10))
	headers.Set("User-Agent", raffleUserAgent)

	out := make([]Summary, 0, len(ids))
	for _, id := range ids {
		params := url.Values{
			"roomid":   {strconv.FormatInt(roomID, 10)},
			"raffleId": {id},
		}
		out = append(out, o.run(ctx, "raffle", roomID, id, func(accounts.Account) fetch.Request {
			return fetch.Request{URL: o.opts.Endpoints.RaffleJoin, Params: params, Headers: headers}
		}))
	}
	return out
}

// RunSmallTV joins the small-TV draw extendID in roomID with every account,
// authenticating each join with the account's own cookie.
func (o *Orchestrator) RunSmallTV(ctx context.Context, roomID int64, extendID string) Summary {
	params := url.Values{
		"roomid":   {strconv.FormatInt(roomID, 10)},
		"raffleId": {extendID},
		"_":        {strconv.FormatInt(o.now().UnixMilli()/10, 10)},
	}
	return o.run(ctx, "smalltv", roomID, extendID, func(a accounts.Account) fetch.Request {
		h := http.Header{}
		h.Set("Cookie", a.Credential)
		return fetch.Request{URL: o.opts.Endpoints.SmallTVJoin, Params: params, Headers: h}
	})
}

func (o *Orchestrator) listRaffles(ctx context.Context, roomID int64) ([]string, Outcome) {
	res := o.get.Get(ctx, fetch.Request{
		URL:    o.opts.Endpoints.RaffleCheck,
		Params: url.Values{"roomid": {strconv.FormatInt(roomID, 10)}},
	}, 0)
	if res.Empty() {
		return nil, Skipped("empty listing")
	}
	var body struct {
		Data []map[string]any `json:"data"`
	}
	if err := res.Decode(&body); err != nil {
		return nil, Failed(fmt.Errorf("decode raffle listing: %w", err))
	}
	ids := make([]string, 0, len(body.Data))
	for _, d := range body.Data {
		switch v := d["raffleId"].(type) {
		case json.Number:
			ids = append(ids, v.String())
		case string:
			if v != "" {
				ids = append(ids, v)
			}
		}
	}
	if len(ids) == 0 {
		return nil, Skipped("no active raffles")
	}
	return ids, Joined()
}

func (o *Orchestrator) run(ctx context.Context, kind string, roomID int64, extendID string, build func(accounts.Account) fetch.Request) Summary {
	snap := o.pool.Current()
	sum := Summary{
		RunID:    uuid.NewString(),
		Kind:     kind,
		RoomID:   roomID,
		ExtendID: extendID,
		Started:  o.now(),
		Results:  make([]AccountResult, snap.Len()),
	}
	log := o.log.With(logx.String("run", sum.RunID), logx.String("kind", kind), logx.Int64("room", roomID), logx.String("giveaway", extendID))

	ctx, span := o.opts.Tracer.Start(ctx, "join."+kind, trace.WithAttributes(
		attribute.String("run.id", sum.RunID),
		attribute.Int64("room.id", roomID),
		attribute.String("giveaway.id", extendID),
		attribute.Int("accounts", snap.Len()),
	))
	defer span.End()

	log.Info("giveaway run started", logx.Int("accounts", snap.Len()))

	var g errgroup.Group
	g.SetLimit(o.opts.Concurrency)
	for i, acct := range snap.Accounts() {
		g.Go(func() error {
			r := o.account(ctx, log, sum, acct, build)
			sum.Results[i] = r
			o.publish(eventbus.TypeJoinAttempt, Attempt{
				RunID:     sum.RunID,
				Kind:      kind,
				AccountID: acct.ID,
				RoomID:    roomID,
				ExtendID:  extendID,
				Outcome:   r.Join.Kind,
				Join:      r.Join.String(),
				Reported:  r.Report.OK(),
			})
			return nil
		})
	}
	_ = g.Wait()
	sum.Duration = time.Since(sum.Started)

	done := Completed{
		RunID:    sum.RunID,
		Kind:     kind,
		RoomID:   roomID,
		ExtendID: extendID,
		Joined:   sum.Count(KindJoined),
		Skipped:  sum.Count(KindSkipped),
		Failed:   sum.Count(KindFailed),
		Duration: sum.Duration,
	}
	span.SetAttributes(
		attribute.Int("joined", done.Joined),
		attribute.Int("failed", done.Failed),
	)
	if done.Failed > 0 {
		span.SetStatus(codes.Error, fmt.Sprintf("%d accounts failed", done.Failed))
	}
	o.publish(eventbus.TypeJoinCompleted, done)
	log.Info("giveaway run finished",
		logx.Int("joined", done.Joined),
		logx.Int("skipped", done.Skipped),
		logx.Int("failed", done.Failed),
		logx.Duration("dur", done.Duration),
	)
	return sum
}

// account joins and then reports, whatever the join outcome was. A panic in
// either step is confined to this account.
func (o *Orchestrator) account(ctx context.Context, log logx.Logger, sum Summary, acct accounts.Account, build func(accounts.Account) fetch.Request) (r AccountResult) {
	r.AccountID = acct.ID
	r.Join = o.guard(log, acct.ID, "join", func() Outcome {
		return classify(o.get.Get(ctx, build(acct), o.opts.ProxyAttempts))
	})
	r.Report = o.guard(log, acct.ID, "report", func() Outcome {
		err := o.rep.Report(ctx, ledger.JoinAttempt{
			AccountID: acct.ID,
			RoomID:    sum.RoomID,
			ExtendID:  sum.ExtendID,
			Joined:    r.Join.OK(),
		})
		if err != nil {
			return Failed(err)
		}
		return Joined()
	})

	if r.Join.Is(KindFailed) || r.Report.Is(KindFailed) {
		log.Warn("account attempt failed", logx.Int64("account", acct.ID), logx.String("join", r.Join.String()), logx.String("report", r.Report.String()))
	} else {
		log.Debug("account attempt done", logx.Int64("account", acct.ID), logx.String("join", r.Join.String()))
	}
	return r
}

func (o *Orchestrator) guard(log logx.Logger, accountID int64, step string, fn func() Outcome) (out Outcome) {
	defer func() {
		if p := recover(); p != nil {
			log.Error("account step panicked",
				logx.Int64("account", accountID),
				logx.String("step", step),
				logx.Any("panic", p),
				logx.String("stack", string(debug.Stack())),
			)
			out = Failed(fmt.Errorf("%s panic: %v", step, p))
		}
	}()
	return fn()
}

// classify turns a join response into an outcome. A body with a non-zero
// "code" is an API refusal.
func classify(res fetch.Result) Outcome {
	if res.Empty() {
		return Failed(ErrNoResponse)
	}
	var body struct {
		Code    *json.Number `json:"code"`
		Msg     string       `json:"msg"`
		Message string       `json:"message"`
	}
	if err := res.Decode(&body); err != nil || body.Code == nil {
		return Joined()
	}
	code, err := body.Code.Int64()
	if err != nil || code == 0 {
		return Joined()
	}
	msg := body.Msg
	if msg == "" {
		msg = body.Message
	}
	return Failed(&APIError{Code: code, Message: msg})
}

func (o *Orchestrator) publish(typ string, data any) {
	if o.bus != nil {
		o.bus.Publish(eventbus.Event{Type: typ, Data: data})
	}
}
