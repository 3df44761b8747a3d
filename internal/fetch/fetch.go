// Package fetch turns candidate document URLs into raw bytes over an
// unreliable transport. A Chain tries direct access first, then ordered
// fallback proxies, each with one bounded retry. Absence (404-class
// responses) is an expected outcome carried by ErrAbsent and is never
// logged as an error.
package fetch

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/capwatch/capwatch/internal/observability"
)

// ErrAbsent marks a resource the remote tree does not expose. Callers treat
// it as "try the next candidate", not as a failure.
var ErrAbsent = errors.New("fetch: resource absent")

// IsAbsent reports whether err (anywhere in its chain) is ErrAbsent.
func IsAbsent(err error) bool {
	return errors.Is(err, ErrAbsent)
}

// Transport retrieves one URL. Implementations return ErrAbsent for
// 404-class responses and ordinary errors for transport failures.
type Transport interface {
	Name() string
	Fetch(ctx context.Context, rawURL string) ([]byte, error)
}

// Options configures an HTTP transport.
type Options struct {
	Timeout   time.Duration // per-fetch bound; default 5s
	UserAgent string
	RateLimit rate.Limit // requests/second against the host; default 10
	RateBurst int
}

func (o Options) withDefaults() Options {
	if o.Timeout <= 0 {
		o.Timeout = 5 * time.Second
	}
	if o.UserAgent == "" {
		o.UserAgent = "capwatch/1.0"
	}
	if o.RateLimit <= 0 {
		o.RateLimit = 10
	}
	if o.RateBurst <= 0 {
		o.RateBurst = int(o.RateLimit)
	}
	return o
}

// HTTPTransport fetches over net/http, optionally rewriting the target URL
// through an intermediary proxy.
type HTTPTransport struct {
	name    string
	client  *http.Client
	limiter *rate.Limiter
	opts    Options
	rewrite func(string) string
}

// NewDirect creates a transport that fetches URLs as-is.
func NewDirect(opts Options) *HTTPTransport {
	return newHTTPTransport("direct", opts, nil)
}

// NewProxy creates a transport that routes the target URL through an
// intermediary of the form {proxyBase}{url-encoded target}.
func NewProxy(name, proxyBase string, opts Options) *HTTPTransport {
	return newHTTPTransport(name, opts, func(target string) string {
		return proxyBase + url.QueryEscape(target)
	})
}

func newHTTPTransport(name string, opts Options, rewrite func(string) string) *HTTPTransport {
	opts = opts.withDefaults()
	return &HTTPTransport{
		name: name,
		client: &http.Client{
			Timeout: opts.Timeout,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 10,
				MaxConnsPerHost:     20,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		limiter: rate.NewLimiter(opts.RateLimit, opts.RateBurst),
		opts:    opts,
		rewrite: rewrite,
	}
}

// Name identifies the transport in logs and metrics.
func (t *HTTPTransport) Name() string { return t.name }

// Fetch retrieves the URL. 404 and 410 map to ErrAbsent; any other non-2xx
// status or network error is a transport failure.
func (t *HTTPTransport) Fetch(ctx context.Context, rawURL string) ([]byte, error) {
	if err := t.limiter.Wait(ctx); err != nil {
		return nil, eris.Wrap(err, "fetch: rate limiter wait")
	}

	target := rawURL
	if t.rewrite != nil {
		target = t.rewrite(rawURL)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, eris.Wrapf(err, "fetch: create request for %s", rawURL)
	}
	req.Header.Set("User-Agent", t.opts.UserAgent)

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, eris.Wrapf(err, "fetch: %s via %s", rawURL, t.name)
	}
	defer resp.Body.Close() //nolint:errcheck

	switch {
	case resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone:
		return nil, ErrAbsent
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return nil, eris.Errorf("fetch: status %d for %s via %s", resp.StatusCode, rawURL, t.name)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, eris.Wrapf(err, "fetch: read body of %s", rawURL)
	}
	return body, nil
}

// Chain orders transports and walks them until one succeeds. Absence is
// authoritative from the first transport that reports it: a 404 means the
// document does not exist, not that a proxy might find it.
type Chain struct {
	transports []Transport
	metrics    *observability.Metrics
}

// NewChain builds a chain over the given transports in fallback order.
func NewChain(metrics *observability.Metrics, transports ...Transport) *Chain {
	return &Chain{transports: transports, metrics: metrics}
}

// Fetch retrieves the URL through the chain. Each transport gets one retry
// before the chain moves on. Transport failures are logged at warn;
// absence is silent.
func (c *Chain) Fetch(ctx context.Context, rawURL string) ([]byte, error) {
	return c.fetch(ctx, rawURL, false)
}

// Probe is the suppressed-mode fetch used by discovery tiers: any absence,
// timeout, or failure yields (nil, false) without logging.
func (c *Chain) Probe(ctx context.Context, rawURL string) ([]byte, bool) {
	data, err := c.fetch(ctx, rawURL, true)
	if err != nil {
		return nil, false
	}
	return data, true
}

func (c *Chain) fetch(ctx context.Context, rawURL string, suppressed bool) ([]byte, error) {
	if len(c.transports) == 0 {
		return nil, eris.New("fetch: chain has no transports")
	}

	var lastErr error
	for _, t := range c.transports {
		for attempt := 0; attempt < 2; attempt++ {
			data, err := t.Fetch(ctx, rawURL)
			if err == nil {
				c.count(t.Name(), "success")
				return data, nil
			}
			if IsAbsent(err) {
				c.count(t.Name(), "absent")
				return nil, ErrAbsent
			}

			c.count(t.Name(), "failure")
			lastErr = err
			if ctx.Err() != nil {
				return nil, lastErr
			}
			if !suppressed {
				zap.L().Warn("fetch: transport failure",
					zap.String("transport", t.Name()),
					zap.String("url", rawURL),
					zap.Int("attempt", attempt+1),
					zap.Error(err),
				)
			}
		}
	}
	return nil, eris.Wrap(lastErr, "fetch: all transports exhausted")
}

func (c *Chain) count(transport, outcome string) {
	if c.metrics == nil {
		return
	}
	c.metrics.FetchRequests.WithLabelValues(transport, outcome).Inc()
}
