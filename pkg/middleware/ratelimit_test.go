package middleware

import (
	"context"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testClock struct {
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time           { return c.now }
func (c *testClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func TestRateLimiter_Allow(t *testing.T) {
	clock := newTestClock()
	limiter := NewRateLimiter(DefaultRateLimitConfig(), WithClock(clock.Now))
	ctx := context.Background()

	for i := 1; i <= 10; i++ {
		d, err := limiter.Allow(ctx, "1.2.3.4")
		require.NoError(t, err)
		assert.True(t, d.Allowed, "request %d", i)
		assert.Equal(t, 10-i, d.Remaining)
	}

	d, err := limiter.Allow(ctx, "1.2.3.4")
	require.NoError(t, err)
	assert.False(t, d.Allowed, "11th request in the window")
	assert.Equal(t, 0, d.Remaining)
	assert.Equal(t, time.Minute, d.RetryAfter)

	// Other keys have their own window
	d, _ = limiter.Allow(ctx, "5.6.7.8")
	assert.True(t, d.Allowed)
}

func TestRateLimiter_ConcurrentAllowAdmitsExactlyLimit(t *testing.T) {
	limiter := NewRateLimiter(DefaultRateLimitConfig())

	var wg sync.WaitGroup
	var allowed atomic.Int32
	for i := 0; i < 500; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d, err := limiter.Allow(context.Background(), "1.2.3.4")
			if err == nil && d.Allowed {
				allowed.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(10), allowed.Load())
	assert.Equal(t, 1, limiter.Len())
}

func TestRateLimiter_WindowBoundary(t *testing.T) {
	clock := newTestClock()
	limiter := NewRateLimiter(DefaultRateLimitConfig(), WithClock(clock.Now))
	ctx := context.Background()

	for i := 0; i < 11; i++ {
		limiter.Allow(ctx, "ip")
	}

	// Exactly one window later the window has not yet been exceeded
	clock.Advance(time.Minute)
	d, _ := limiter.Allow(ctx, "ip")
	assert.False(t, d.Allowed)
	assert.Equal(t, time.Duration(0), d.RetryAfter)

	clock.Advance(time.Millisecond)
	d, _ = limiter.Allow(ctx, "ip")
	assert.True(t, d.Allowed)
	assert.Equal(t, 9, d.Remaining)
	assert.Equal(t, time.Minute, d.RetryAfter)
}

func TestRateLimiter_RetryAfterShrinks(t *testing.T) {
	clock := newTestClock()
	limiter := NewRateLimiter(&RateLimitConfig{RequestsPerWindow: 1, WindowDuration: time.Minute}, WithClock(clock.Now))
	ctx := context.Background()

	limiter.Allow(ctx, "ip")
	clock.Advance(20 * time.Second)

	d, _ := limiter.Allow(ctx, "ip")
	assert.False(t, d.Allowed)
	assert.Equal(t, 40*time.Second, d.RetryAfter)
}

func TestRateLimiter_Sweep(t *testing.T) {
	clock := newTestClock()
	limiter := NewRateLimiter(DefaultRateLimitConfig(), WithClock(clock.Now))
	ctx := context.Background()

	for _, key := range []string{"a", "b", "c"} {
		limiter.Allow(ctx, key)
	}
	clock.Advance(90 * time.Second)
	limiter.Allow(ctx, "d")

	assert.Equal(t, 0, limiter.Sweep(), "nothing is older than two windows yet")

	clock.Advance(31 * time.Second)
	assert.Equal(t, 3, limiter.Sweep())
	assert.Equal(t, 1, limiter.Len())
}

func TestDecision_SetHeaders(t *testing.T) {
	w := httptest.NewRecorder()
	Decision{Allowed: false, Limit: 10, Remaining: 0, RetryAfter: 1500 * time.Millisecond}.SetHeaders(w)

	assert.Equal(t, "10", w.Header().Get("X-RateLimit-Limit"))
	assert.Equal(t, "0", w.Header().Get("X-RateLimit-Remaining"))
	assert.Equal(t, "2", w.Header().Get("Retry-After"))

	w = httptest.NewRecorder()
	Decision{Allowed: true, Limit: 10, Remaining: 9}.SetHeaders(w)
	assert.Empty(t, w.Header().Get("Retry-After"))
}

func TestCeilSeconds(t *testing.T) {
	tests := []struct {
		in   time.Duration
		want int
	}{
		{0, 0},
		{-time.Second, 0},
		{time.Nanosecond, 1},
		{time.Second, 1},
		{time.Second + time.Millisecond, 2},
		{15 * time.Minute, 900},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, CeilSeconds(tt.in), "CeilSeconds(%v)", tt.in)
	}
}
