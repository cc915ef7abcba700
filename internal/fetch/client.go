package fetch

import (
	"net"
	"net/http"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"rafflebot/internal/proxy"
)

// Clients builds the HTTP clients used for outbound calls. The direct client
// is shared; every proxy endpoint gets its own throwaway transport.
type Clients struct {
	direct    *http.Client
	dialer    *net.Dialer
	traceHTTP bool
}

// NewHTTPClient returns the client set. With traceHTTP every transport is
// wrapped by otelhttp.
func NewHTTPClient(traceHTTP bool) *Clients {
	c := &Clients{
		dialer:    &net.Dialer{Timeout: 5 * time.Second, KeepAlive: 30 * time.Second},
		traceHTTP: traceHTTP,
	}
	tr := &http.Transport{
		Proxy:               nil,
		DialContext:         c.dialer.DialContext,
		MaxIdleConns:        64,
		MaxIdleConnsPerHost: 16,
		IdleConnTimeout:     90 * time.Second,
	}
	c.direct = &http.Client{Transport: c.wrap(tr, "direct")}
	return c
}

// Direct is the client for requests without a proxy.
func (c *Clients) Direct() *http.Client { return c.direct }

// Via returns a client that sends every request through ep. Connections are
// not kept alive since the endpoint is never used again.
func (c *Clients) Via(ep proxy.Endpoint) *http.Client {
	tr := &http.Transport{
		Proxy:             http.ProxyURL(ep.URL()),
		DialContext:       c.dialer.DialContext,
		DisableKeepAlives: true,
	}
	return &http.Client{Transport: c.wrap(tr, "proxy")}
}

func (c *Clients) wrap(rt http.RoundTripper, route string) http.RoundTripper {
	if !c.traceHTTP {
		return rt
	}
	return otelhttp.NewTransport(rt,
		otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
			return r.Method + " " + r.URL.Host + " (" + route + ")"
		}),
	)
}
