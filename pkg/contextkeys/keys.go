// Package contextkeys provides centralized context key definitions
//
// IMPORTANT: All context keys used across the application must be defined here.
// This prevents typos, documents dependencies, and makes key usage discoverable.
//
// USAGE PATTERN:
//
//	import "github.com/codeck/gateway/pkg/contextkeys"
//	ctx = contextkeys.WithSession(ctx, sess)
//	sess, ok := contextkeys.GetSession(ctx)
package contextkeys

import "context"

// Key is the type for context keys to prevent collisions
type Key string

const (
	// SessionKey contains the caller's session record
	// Set by: middleware.AuthMiddleware (pkg/middleware/auth.go)
	// Required by: Session listing and revocation handlers
	// Type: value set by the guard (auth.Session)
	SessionKey Key = "session"

	// SessionTokenKey contains the bearer token that authenticated the request
	// Set by: middleware.AuthMiddleware
	// Used by: ListActive to flag the current session
	// Type: string
	SessionTokenKey Key = "session_token"

	// RequestIDKey contains request ID string (UUID)
	// Set by: httputil.RequestIDMiddleware
	// Used by: Logger, distributed tracing
	// Type: string
	RequestIDKey Key = "request_id"

	// LoggerKey contains a request-scoped logrus.FieldLogger
	// Set by: httputil.RequestIDMiddleware
	// Used by: Handlers that need structured logging with request context
	// Type: logrus.FieldLogger
	LoggerKey Key = "logger"
)

// WithSession adds the authenticated session to the context
func WithSession(ctx context.Context, session interface{}) context.Context {
	return context.WithValue(ctx, SessionKey, session)
}

// GetSession retrieves the authenticated session from context
func GetSession(ctx context.Context) (interface{}, bool) {
	v := ctx.Value(SessionKey)
	return v, v != nil
}

// WithSessionToken adds the bearer token to the context
func WithSessionToken(ctx context.Context, token string) context.Context {
	return context.WithValue(ctx, SessionTokenKey, token)
}

// GetSessionToken retrieves the bearer token from context
func GetSessionToken(ctx context.Context) string {
	if token, ok := ctx.Value(SessionTokenKey).(string); ok {
		return token
	}
	return ""
}

// WithRequestID adds request ID to the context
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, RequestIDKey, requestID)
}

// GetRequestID retrieves request ID from context
func GetRequestID(ctx context.Context) string {
	if requestID, ok := ctx.Value(RequestIDKey).(string); ok {
		return requestID
	}
	return ""
}

// WithLogger adds logger to the context
func WithLogger(ctx context.Context, logger interface{}) context.Context {
	return context.WithValue(ctx, LoggerKey, logger)
}

// GetLogger retrieves the logger stored in context, if any
func GetLogger(ctx context.Context) interface{} {
	return ctx.Value(LoggerKey)
}
