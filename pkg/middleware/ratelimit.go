package middleware

import (
	"context"
	"net/http"
	"strconv"
	"time"
)

// RateLimitConfig defines rate limiting configuration
type RateLimitConfig struct {
	// RequestsPerWindow is the max requests allowed in the time window
	RequestsPerWindow int
	// WindowDuration is the time window for rate limiting
	WindowDuration time.Duration
}

// DefaultRateLimitConfig returns the login endpoint limits: 10 attempts per
// minute per client address.
func DefaultRateLimitConfig() *RateLimitConfig {
	return &RateLimitConfig{
		RequestsPerWindow: 10,
		WindowDuration:    time.Minute,
	}
}

// Decision is the outcome of a rate limit check.
type Decision struct {
	Allowed   bool
	Limit     int
	Remaining int
	// RetryAfter is the time until the current window resets.
	RetryAfter time.Duration
}

// SetHeaders writes the X-RateLimit-* headers, and Retry-After when the
// request was rejected.
func (d Decision) SetHeaders(w http.ResponseWriter) {
	w.Header().Set("X-RateLimit-Limit", strconv.Itoa(d.Limit))
	w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))
	if !d.Allowed {
		w.Header().Set("Retry-After", strconv.Itoa(CeilSeconds(d.RetryAfter)))
	}
}

// Limiter is satisfied by both the in-memory and the Redis limiter.
type Limiter interface {
	Allow(ctx context.Context, key string) (Decision, error)
}

// RateLimiter implements a fixed-window counter per key.
type RateLimiter struct {
	config  *RateLimitConfig
	windows *keyedTable[rateWindow]
	now     func() time.Time
}

type rateWindow struct {
	count int
	start time.Time
}

var _ Limiter = (*RateLimiter)(nil)

// NewRateLimiter creates a new rate limiter
func NewRateLimiter(config *RateLimitConfig, opts ...Option) *RateLimiter {
	if config == nil {
		config = DefaultRateLimitConfig()
	}
	o := buildOptions(opts)

	return &RateLimiter{
		config:  config,
		windows: newKeyedTable[rateWindow](),
		now:     o.now,
	}
}

// Allow counts a request for key. The first request, or the first after the
// window has elapsed, opens a new window. The in-memory limiter never
// returns an error.
func (rl *RateLimiter) Allow(ctx context.Context, key string) (Decision, error) {
	now := rl.now()
	limit := rl.config.RequestsPerWindow
	var d Decision

	rl.windows.update(key, true, func(w *rateWindow) bool {
		if w.start.IsZero() || now.Sub(w.start) > rl.config.WindowDuration {
			w.start = now
			w.count = 0
		}
		w.count++

		d = Decision{
			Allowed:    w.count <= limit,
			Limit:      limit,
			Remaining:  max(limit-w.count, 0),
			RetryAfter: max(w.start.Add(rl.config.WindowDuration).Sub(now), 0),
		}
		return false
	})

	return d, nil
}

// Sweep removes windows that started more than two window lengths ago and
// returns how many were removed.
func (rl *RateLimiter) Sweep() int {
	now := rl.now()
	cutoff := rl.config.WindowDuration * 2
	return rl.windows.sweep(func(w *rateWindow) bool {
		return now.Sub(w.start) > cutoff
	})
}

// Len returns the number of tracked keys.
func (rl *RateLimiter) Len() int {
	return rl.windows.len()
}

// CeilSeconds rounds d up to whole seconds.
func CeilSeconds(d time.Duration) int {
	if d <= 0 {
		return 0
	}
	return int((d + time.Second - 1) / time.Second)
}
