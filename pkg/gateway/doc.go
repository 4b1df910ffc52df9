// Package gateway is the access-control front of the Codeck daemon.
//
// A Gateway owns the login flow and the per-request guard. A login attempt
// passes the rate limiter first, then the lockout tracker, then password
// verification, so a throttled or locked-out client never reaches password
// comparison. Every failed verification counts toward lockout, whatever the
// cause.
//
// # Routes
//
//	GET    /api/auth/status         public, reports whether a password is set
//	POST   /api/auth/login          public, returns a bearer token
//	POST   /api/auth/logout         public, idempotent
//	GET    /api/auth/sessions       guarded
//	DELETE /api/auth/sessions/{id}  guarded
//	GET    /api/auth/log            guarded, ?format=json|ndjson|csv
//	GET    /api/ui/status           public
//	GET    /api/agent/usage         guarded
//
// Guarded routes answer 401 {"error": ..., "needsAuth": true} when the token
// is missing or unknown. With no password configured the guard admits
// every request.
//
// # Maintenance
//
// Maintenance schedules the rate-limit and lockout sweeps and periodic audit
// flushes on a cron scheduler.
package gateway
