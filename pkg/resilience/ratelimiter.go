// Package resilience holds the guards that keep scraping polite and
// bounded: a per-host rate limiter and a bulkhead for scarce resources such
// as browser sessions.
package resilience

import (
	"context"
	"net/url"
	"strings"
	"sync"

	"golang.org/x/time/rate"
)

// LimiterOpts configures the per-host token bucket.
type LimiterOpts struct {
	// Rate is the number of requests per second allowed per host.
	Rate float64
	// Burst is the bucket capacity.
	Burst int
}

// DefaultLimiterOpts is polite enough for public job boards.
var DefaultLimiterOpts = LimiterOpts{Rate: 1, Burst: 2}

// HostLimiter keeps one token bucket per host so a slow board never starves
// requests to another.
type HostLimiter struct {
	mu       sync.Mutex
	opts     LimiterOpts
	limiters map[string]*rate.Limiter
}

// NewHostLimiter creates a HostLimiter. Non-positive values fall back to
// DefaultLimiterOpts.
func NewHostLimiter(opts LimiterOpts) *HostLimiter {
	if opts.Rate <= 0 {
		opts.Rate = DefaultLimiterOpts.Rate
	}
	if opts.Burst <= 0 {
		opts.Burst = DefaultLimiterOpts.Burst
	}
	return &HostLimiter{opts: opts, limiters: make(map[string]*rate.Limiter)}
}

func (h *HostLimiter) get(host string) *rate.Limiter {
	host = strings.ToLower(host)
	h.mu.Lock()
	defer h.mu.Unlock()
	l, ok := h.limiters[host]
	if !ok {
		l = rate.NewLimiter(rate.Limit(h.opts.Rate), h.opts.Burst)
		h.limiters[host] = l
	}
	return l
}

// Wait blocks until host has a token or ctx ends.
func (h *HostLimiter) Wait(ctx context.Context, host string) error {
	return h.get(host).Wait(ctx)
}

// WaitURL is Wait keyed by the host of rawURL.
func (h *HostLimiter) WaitURL(ctx context.Context, rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return err
	}
	return h.Wait(ctx, u.Host)
}
