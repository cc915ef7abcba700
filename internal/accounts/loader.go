package accounts

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"rafflebot/internal/fetch"
	logx "rafflebot/pkg/logx"
)

var (
	ErrNoResponse    = errors.New("account directory: no response")
	ErrCountMismatch = errors.New("account directory: loaded count does not match reported count")
)

// Getter is the part of fetch.Fetcher the loader needs.
type Getter interface {
	Get(ctx context.Context, req fetch.Request, maxProxyAttempts int) fetch.Result
}

type LoaderOptions struct {
	PageSize int
	// Offset skips that many accounts of the pool; Limit > 0 caps how many
	// are loaded after the offset.
	Offset int
	Limit  int
}

// Loader reads the pool from the directory service: the total count first,
// then pages of at most PageSize accounts.
type Loader struct {
	base string
	get  Getter
	opts LoaderOptions
	log  logx.Logger
	now  func() time.Time
}

// NewLoader targets the directory service at baseURL (scheme://host:port).
func NewLoader(baseURL string, get Getter, opts LoaderOptions, log logx.Logger) *Loader {
	if opts.PageSize <= 0 {
		opts.PageSize = 100
	}
	return &Loader{
		base: strings.TrimRight(baseURL, "/"),
		get:  get,
		opts: opts,
		log:  log,
		now:  time.Now,
	}
}

type page struct {
	Offset int
	Limit  int
}

// pages splits n accounts starting at offset into requests of at most size.
// A zero remainder produces no trailing request.
func pages(offset, n, size int) []page {
	var out []page
	for done := 0; done < n; done += size {
		out = append(out, page{Offset: offset + done, Limit: min(size, n-done)})
	}
	return out
}

func (l *Loader) Load(ctx context.Context) (*Snapshot, error) {
	amount, err := l.count(ctx)
	if err != nil {
		return nil, err
	}
	want := max(amount-l.opts.Offset, 0)
	if l.opts.Limit > 0 && l.opts.Limit < want {
		want = l.opts.Limit
	}
	l.log.Info("account directory count",
		logx.Int("total", amount),
		logx.Int("selected", want),
		logx.Int("offset", l.opts.Offset),
	)

	all := make([]Account, 0, want)
	for _, p := range pages(l.opts.Offset, want, l.opts.PageSize) {
		got, err := l.page(ctx, p)
		if err != nil {
			return nil, err
		}
		all = append(all, got...)
	}
	// Repeated ids collapse in the snapshot, so compare after building it.
	snap := NewSnapshot(all, l.now())
	if snap.Len() != want {
		return nil, fmt.Errorf("%w: got %d distinct of %d rows, want %d", ErrCountMismatch, snap.Len(), len(all), want)
	}
	return snap, nil
}

func (l *Loader) count(ctx context.Context) (int, error) {
	res := l.get.Get(ctx, fetch.Request{URL: l.base + "/account/amount"}, 0)
	if res.Empty() {
		return 0, fmt.Errorf("%w: /account/amount", ErrNoResponse)
	}
	var body struct {
		Data json.Number `json:"data"`
	}
	if err := res.Decode(&body); err != nil {
		return 0, fmt.Errorf("account directory: decode amount: %w", err)
	}
	n, err := body.Data.Int64()
	if err != nil || n < 0 {
		return 0, fmt.Errorf("account directory: bad amount %q", body.Data.String())
	}
	return int(n), nil
}

type wireAccount struct {
	ID      json.Number `json:"id"`
	Cookies string      `json:"cookies"`
}

func (l *Loader) page(ctx context.Context, p page) ([]Account, error) {
	res := l.get.Get(ctx, fetch.Request{
		URL: l.base + "/account/cookies",
		Params: url.Values{
			"offset": {strconv.Itoa(p.Offset)},
			"limit":  {strconv.Itoa(p.Limit)},
		},
	}, 0)
	if res.Empty() {
		return nil, fmt.Errorf("%w: /account/cookies offset=%d", ErrNoResponse, p.Offset)
	}
	var body struct {
		Data []wireAccount `json:"data"`
	}
	if err := res.Decode(&body); err != nil {
		return nil, fmt.Errorf("account directory: decode page offset=%d: %w", p.Offset, err)
	}
	out := make([]Account, 0, len(body.Data))
	for _, w := range body.Data {
		id, err := w.ID.Int64()
		if err != nil {
			return nil, fmt.Errorf("account directory: bad account id %q: %w", w.ID.String(), err)
		}
		out = append(out, Account{ID: id, Credential: w.Cookies})
	}
	return out, nil
}
