// Package fetch performs outbound GET/POST calls with proxy rotation and a
// direct fallback.
package fetch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"rafflebot/internal/proxy"
	logx "rafflebot/pkg/logx"
)

const maxBody = 4 << 20

// Request describes one GET. A "Host" entry in Headers overrides the
// request host line.
type Request struct {
	URL     string
	Params  url.Values
	Headers http.Header
}

type Options struct {
	GetTimeout  time.Duration
	PostTimeout time.Duration
}

// Fetcher never returns an error for steady-state failures: an empty Result
// stands for "no usable response".
type Fetcher struct {
	clients *Clients
	proxies proxy.Source
	opts    Options
	log     logx.Logger
}

func New(clients *Clients, proxies proxy.Source, opts Options, log logx.Logger) *Fetcher {
	if opts.GetTimeout <= 0 {
		opts.GetTimeout = 5 * time.Second
	}
	if opts.PostTimeout <= 0 {
		opts.PostTimeout = 10 * time.Second
	}
	if clients == nil {
		clients = NewHTTPClient(false)
	}
	return &Fetcher{clients: clients, proxies: proxies, opts: opts, log: log}
}

// Get tries up to maxProxyAttempts proxied requests, each through a freshly
// resolved endpoint, and returns the first 200 JSON response. When proxying
// is disabled, maxProxyAttempts <= 0, or the availability probe resolves
// nothing, it goes straight to a single direct request. A failed proxy round
// also ends with one direct request.
func (f *Fetcher) Get(ctx context.Context, req Request, maxProxyAttempts int) Result {
	if maxProxyAttempts > 0 && f.proxies != nil && f.proxies.Enabled() {
		// The probe only checks availability; its endpoint is not used.
		if _, ok := f.proxies.Resolve(ctx); ok {
			for attempt := 1; attempt <= maxProxyAttempts; attempt++ {
				ep, ok := f.proxies.Resolve(ctx)
				if !ok {
					f.log.Debug("proxy unavailable for attempt", logx.Int("attempt", attempt))
					continue
				}
				res, err := f.get(ctx, f.clients.Via(ep), req)
				if err == nil {
					return res
				}
				f.log.Debug("proxied get failed",
					logx.String("url", req.URL),
					logx.String("proxy", ep.String()),
					logx.Int("attempt", attempt),
					logx.Err(err),
				)
				if ctx.Err() != nil {
					return Result{}
				}
			}
		}
	}

	res, err := f.get(ctx, f.clients.Direct(), req)
	if err != nil {
		f.log.Debug("direct get failed", logx.String("url", req.URL), logx.Err(err))
		return Result{}
	}
	return res
}

func (f *Fetcher) get(ctx context.Context, client *http.Client, r Request) (Result, error) {
	ctx, cancel := context.WithTimeout(ctx, f.opts.GetTimeout)
	defer cancel()

	u, err := url.Parse(r.URL)
	if err != nil {
		return Result{}, err
	}
	if len(r.Params) > 0 {
		q := u.Query()
		for k, vs := range r.Params {
			for _, v := range vs {
				q.Add(k, v)
			}
		}
		u.RawQuery = q.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return Result{}, err
	}
	applyHeaders(req, r.Headers)
	return do(client, req)
}

// Post sends a form POST once, bounded by the post timeout, without a proxy.
// ok is false on any failure.
func (f *Fetcher) Post(ctx context.Context, rawURL string, form url.Values, headers http.Header) (Result, bool) {
	ctx, cancel := context.WithTimeout(ctx, f.opts.PostTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, rawURL, strings.NewReader(form.Encode()))
	if err != nil {
		f.log.Debug("post build failed", logx.String("url", rawURL), logx.Err(err))
		return Result{}, false
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	applyHeaders(req, headers)
	res, err := do(f.clients.Direct(), req)
	if err != nil {
		f.log.Debug("post failed", logx.String("url", rawURL), logx.Err(err))
		return Result{}, false
	}
	return res, true
}

func applyHeaders(req *http.Request, h http.Header) {
	for k, vs := range h {
		if http.CanonicalHeaderKey(k) == "Host" {
			if len(vs) > 0 {
				req.Host = vs[0]
			}
			continue
		}
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
}

func do(client *http.Client, req *http.Request) (Result, error) {
	resp, err := client.Do(req)
	if err != nil {
		return Result{}, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return Result{}, err
	}
	if resp.StatusCode != http.StatusOK {
		return Result{}, fmt.Errorf("status %d", resp.StatusCode)
	}
	res := resultOf(body)
	if res.Empty() {
		return Result{}, fmt.Errorf("undecodable body (%d bytes)", len(body))
	}
	return res, nil
}
