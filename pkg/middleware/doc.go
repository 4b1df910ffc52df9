// Package middleware provides per-client admission control for the gateway:
// the session guard, fixed-window rate limiting and brute-force lockout.
//
// # Components
//
// AuthMiddleware: Admits requests that present a live session token
//
//	guard := middleware.NewAuthMiddleware(sessions, verifier.IsConfigured(), logger)
//	router.Handle("/api/auth/sessions", guard.Handler(listHandler))
//	// Rejections are 401 {"error":"Unauthorized","needsAuth":true}
//
// RateLimiter: In-memory fixed window per key
//
//	limiter := middleware.NewRateLimiter(middleware.DefaultRateLimitConfig()) // 10/min
//	d, _ := limiter.Allow(ctx, ip)
//
// DistributedRateLimiter: The same window in Redis, shared across replicas
//
//	limiter := middleware.NewDistributedRateLimiter(redisClient, cfg, "codeck:ratelimit")
//
// LockoutTracker: 5 consecutive failures lock a key for 15 minutes
//
//	if st := tracker.Check(ip); st.Locked {
//		retry := st.RetryAfterSeconds()
//	}
//
// # Sweeping
//
// RateLimiter and LockoutTracker hold per-key state until swept. Sweep takes
// a snapshot of the keys and then locks one entry at a time, so a sweep
// never stalls requests for unrelated keys.
package middleware
