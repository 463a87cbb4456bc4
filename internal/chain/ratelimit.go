package chain

import (
	"context"
	"net/url"
	"sync"

	"golang.org/x/time/rate"

	walleterr "github.com/mrz1836/brcwallet/pkg/errors"
)

// RateLimiter keeps one token bucket per remote host.
type RateLimiter struct {
	mu       sync.RWMutex
	limiters map[string]*rate.Limiter
	limit    rate.Limit
	burst    int
}

// NewRateLimiter creates a limiter allowing ratePerSecond requests per host
// with the given burst. A non-positive rate disables limiting.
func NewRateLimiter(ratePerSecond float64, burst int) *RateLimiter {
	limit := rate.Limit(ratePerSecond)
	if ratePerSecond <= 0 {
		limit = rate.Inf
	}
	if burst < 1 {
		burst = 1
	}
	return &RateLimiter{
		limiters: make(map[string]*rate.Limiter),
		limit:    limit,
		burst:    burst,
	}
}

// DefaultRateLimiter allows 3 requests per second with a burst of 5, the
// free WhatsOnChain tier.
func DefaultRateLimiter() *RateLimiter {
	return NewRateLimiter(3, 5)
}

// Allow reports whether a request to endpoint may proceed now.
func (r *RateLimiter) Allow(endpoint string) bool {
	return r.limiter(hostOf(endpoint)).Allow()
}

// Wait blocks until a request to endpoint may proceed.
func (r *RateLimiter) Wait(ctx context.Context, endpoint string) error {
	if err := r.limiter(hostOf(endpoint)).Wait(ctx); err != nil {
		return walleterr.WithCause(walleterr.ErrTimeout, err)
	}
	return nil
}

func (r *RateLimiter) limiter(host string) *rate.Limiter {
	r.mu.RLock()
	l, ok := r.limiters[host]
	r.mu.RUnlock()
	if ok {
		return l
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if l, ok = r.limiters[host]; ok {
		return l
	}
	l = rate.NewLimiter(r.limit, r.burst)
	r.limiters[host] = l
	return l
}

// hostOf keys limiters by host so every path on one service shares a
// bucket. Anything that does not parse as a URL is used verbatim.
func hostOf(endpoint string) string {
	u, err := url.Parse(endpoint)
	if err != nil || u.Host == "" {
		return endpoint
	}
	return u.Host
}
