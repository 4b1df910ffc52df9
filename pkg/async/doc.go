// Package async runs work off the request goroutine.
//
// WorkerPool bounds CPU-heavy work such as bcrypt comparisons so a burst of
// login requests cannot spawn unbounded goroutines:
//
//	pool := async.NewWorkerPool(ctx, 4, "password verify", 10*time.Second)
//	defer pool.Shutdown(5 * time.Second)
//
//	err := pool.Do(r.Context(), func(ctx context.Context) error {
//		return bcrypt.CompareHashAndPassword(hash, []byte(candidate))
//	})
//
// Batch fans a call out over a slice and collects failures. The audit
// package uses it to flush every sink at once.
//
// Both recover panics and report them as ErrTaskPanicked.
package async
