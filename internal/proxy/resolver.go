// Package proxy obtains single-use egress endpoints from the proxy-pool
// service.
package proxy

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	logx "rafflebot/pkg/logx"
)

var endpointPattern = regexp.MustCompile(`^\d{1,3}\.\d{1,3}\.\d{1,3}\.\d{1,3}:\d{1,5}$`)

// Endpoint is one proxy address in host:port form. It is used for exactly
// one request.
type Endpoint struct {
	Host string
	Port string
}

func (e Endpoint) String() string { return e.Host + ":" + e.Port }

// URL returns the endpoint as an http proxy URL.
func (e Endpoint) URL() *url.URL {
	return &url.URL{Scheme: "http", Host: e.String()}
}

// Valid reports whether s has the IPv4:port shape the pool dispenses.
func Valid(s string) bool {
	return endpointPattern.MatchString(s)
}

// Parse turns pool output into an Endpoint. Surrounding whitespace is
// ignored; anything else that does not match IPv4:port is rejected.
func Parse(s string) (Endpoint, bool) {
	s = strings.TrimSpace(s)
	if !Valid(s) {
		return Endpoint{}, false
	}
	host, port, _ := strings.Cut(s, ":")
	return Endpoint{Host: host, Port: port}, true
}

// Source hands out proxy endpoints. Implementations must be safe for
// concurrent use.
type Source interface {
	Enabled() bool
	Resolve(ctx context.Context) (Endpoint, bool)
}

// Resolver asks the pool service for a fresh endpoint on every call. The zero
// pool URL disables it.
type Resolver struct {
	poolURL string
	client  *http.Client
	timeout time.Duration
	log     logx.Logger
}

// NewResolver returns a Resolver for http://host:port{path}. An empty host
// yields a disabled resolver.
func NewResolver(host string, port int, path string, client *http.Client, timeout time.Duration, log logx.Logger) *Resolver {
	r := &Resolver{client: client, timeout: timeout, log: log}
	if strings.TrimSpace(host) == "" {
		return r
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	r.poolURL = fmt.Sprintf("http://%s:%d%s", host, port, path)
	if r.client == nil {
		r.client = http.DefaultClient
	}
	return r
}

func (r *Resolver) Enabled() bool { return r != nil && r.poolURL != "" }

// Resolve returns ok=false when proxying is disabled, the pool is unreachable
// or answers non-200, or the body is not an IPv4:port string. It never retries.
func (r *Resolver) Resolve(ctx context.Context) (Endpoint, bool) {
	if !r.Enabled() {
		return Endpoint{}, false
	}
	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.poolURL, nil)
	if err != nil {
		r.log.Debug("proxy pool request build failed", logx.Err(err))
		return Endpoint{}, false
	}
	resp, err := r.client.Do(req)
	if err != nil {
		r.log.Debug("proxy pool unreachable", logx.Err(err))
		return Endpoint{}, false
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		r.log.Debug("proxy pool non-200", logx.Int("status", resp.StatusCode))
		return Endpoint{}, false
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 256))
	if err != nil {
		return Endpoint{}, false
	}
	ep, ok := Parse(string(body))
	if !ok {
		r.log.Debug("proxy pool returned garbage", logx.String("body", string(body)))
	}
	return ep, ok
}
