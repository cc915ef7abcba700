// Package ledger reports per-account join attempts to the ledger service.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"rafflebot/internal/fetch"
)

// ErrNoResponse means the ledger gave no usable answer. The attempt may or
// may not have been recorded.
var ErrNoResponse = errors.New("ledger: no response")

// JoinAttempt is one (account, giveaway) pair. It is sent once and not kept.
type JoinAttempt struct {
	AccountID int64
	RoomID    int64
	ExtendID  string
	// Joined is true when the giveaway endpoint answered the join call. It
	// is not part of the report.
	Joined bool
}

// Fetcher is the part of fetch.Fetcher the reporter uses.
type Fetcher interface {
	Get(ctx context.Context, req fetch.Request, maxProxyAttempts int) fetch.Result
	Post(ctx context.Context, rawURL string, form url.Values, headers http.Header) (fetch.Result, bool)
}

type Method string

const (
	MethodGet  Method = "get"
	MethodPost Method = "post"
)

// Reporter sends JoinAttempts to <base>/raffle/join. GET reports always go
// direct.
type Reporter struct {
	endpoint string
	method   Method
	f        Fetcher
}

func NewReporter(baseURL string, method Method, f Fetcher) *Reporter {
	if method != MethodPost {
		method = MethodGet
	}
	return &Reporter{
		endpoint: strings.TrimRight(baseURL, "/") + "/raffle/join",
		method:   method,
		f:        f,
	}
}

// BaseURL formats the ledger service address.
func BaseURL(host string, port int) string {
	return fmt.Sprintf("http://%s:%d", host, port)
}

func (r *Reporter) Report(ctx context.Context, a JoinAttempt) error {
	params := url.Values{
		"account_id":       {strconv.FormatInt(a.AccountID, 10)},
		"room_id":          {strconv.FormatInt(a.RoomID, 10)},
		"raffle_extend_id": {a.ExtendID},
	}
	var res fetch.Result
	switch r.method {
	case MethodPost:
		res, _ = r.f.Post(ctx, r.endpoint, params, nil)
	default:
		res = r.f.Get(ctx, fetch.Request{URL: r.endpoint, Params: params}, 0)
	}
	if res.Empty() {
		return fmt.Errorf("%w: account %d extend %s", ErrNoResponse, a.AccountID, a.ExtendID)
	}
	return nil
}
