// Package auth provides shared-password verification and bearer-token
// session management for the Codeck gateway.
//
// # Overview
//
// There are no user accounts. A single operator-configured password gates
// access; a successful login yields an opaque bearer token bound to a
// server-side Session. The token is shown to the client once and stored
// only as a SHA256 hash.
//
// # Key Components
//
// PasswordVerifier: Constant-time comparison against a plaintext secret, or
// bcrypt comparison against a configured hash on a bounded worker pool.
//
//	verifier, err := auth.NewPasswordVerifier(auth.PasswordConfig{Password: "secret"}, pool)
//	ok, err := verifier.Verify(ctx, candidate)
//
// Tokens: codeck_<base64url(32 random bytes)>, distinct from the listable
// session id (a UUID).
//
// SessionStore: Issue, Validate, Touch, lookup, Invalidate, RevokeByID and
// ListActive. Two backends:
//
//	store := auth.NewMemorySessionStore()
//	store := auth.NewRedisSessionStore(redisClient, "codeck:sessions")
//
// Sessions never expire on their own; they end on logout or revocation.
//
// # Related Packages
//
//   - pkg/gateway: Login flow and request guard built on this package
//   - pkg/async: Worker pool used for bcrypt verification
package auth
