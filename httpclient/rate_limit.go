package httpclient

import (
	"context"
	"errors"
	"net/http"
	"sync"

	"golang.org/x/time/rate"
)

// ErrRateLimited is returned when the rate limiter rejects an exchange.
var ErrRateLimited = errors.New("httpclient: rate limit exceeded")

// RateLimitConfig limits the rate of exchanges a Client sends. Every
// redirect hop is an exchange of its own.
type RateLimitConfig struct {
	// RequestsPerSecond is the sustained rate. Zero or less disables limiting.
	RequestsPerSecond float64

	// Burst is the number of exchanges allowed above the rate at once.
	// Values below 1 are raised to 1.
	Burst int

	// WaitOnLimit waits for a token until the request context ends. When
	// false, exchanges over the limit fail with ErrRateLimited.
	WaitOnLimit bool

	// PerHost gives each remote host its own limiter.
	PerHost bool
}

// DefaultRateLimitConfig returns 100 requests per second with a burst of
// 10, waiting for tokens.
func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		RequestsPerSecond: 100,
		Burst:             10,
		WaitOnLimit:       true,
	}
}

// RateLimiterStats is a snapshot of one limiter.
type RateLimiterStats struct {
	Key             string
	Limit           float64
	Burst           int
	TokensAvailable float64
}

type rateLimitTransport struct {
	next    http.RoundTripper
	limit   rate.Limit
	burst   int
	wait    bool
	perHost bool

	mu       sync.RWMutex
	limiters map[string]*rate.Limiter
}

// newRateLimitTransport wraps next when cfg enables limiting.
func newRateLimitTransport(next http.RoundTripper, cfg *RateLimitConfig) http.RoundTripper {
	if cfg == nil || cfg.RequestsPerSecond <= 0 {
		return next
	}
	return &rateLimitTransport{
		next:     next,
		limit:    rate.Limit(cfg.RequestsPerSecond),
		burst:    max(cfg.Burst, 1),
		wait:     cfg.WaitOnLimit,
		perHost:  cfg.PerHost,
		limiters: make(map[string]*rate.Limiter),
	}
}

func (t *rateLimitTransport) limiterFor(req *http.Request) *rate.Limiter {
	var key string
	if t.perHost {
		key = req.URL.Host
	}

	t.mu.RLock()
	l, ok := t.limiters[key]
	t.mu.RUnlock()
	if ok {
		return l
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if l, ok := t.limiters[key]; ok {
		return l
	}
	l = rate.NewLimiter(t.limit, t.burst)
	t.limiters[key] = l
	return l
}

func (t *rateLimitTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	ctx := req.Context()
	limiter := t.limiterFor(req)

	if !t.wait {
		if !limiter.Allow() {
			return nil, ErrRateLimited
		}
		return t.next.RoundTrip(req)
	}

	if err := limiter.Wait(ctx); err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			return nil, err
		}
		// Wait also fails when the deadline is too close to ever get a token.
		return nil, ErrRateLimited
	}
	return t.next.RoundTrip(req)
}

// stats returns a snapshot of every limiter created so far.
func (t *rateLimitTransport) stats() []RateLimiterStats {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]RateLimiterStats, 0, len(t.limiters))
	for key, l := range t.limiters {
		out = append(out, RateLimiterStats{
			Key:             key,
			Limit:           float64(l.Limit()),
			Burst:           l.Burst(),
			TokensAvailable: l.Tokens(),
		})
	}
	return out
}
