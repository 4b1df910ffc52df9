package middleware

import (
	"context"
	"errors"
	"net/http"

	"github.com/codeck/gateway/pkg/auth"
	"github.com/codeck/gateway/pkg/contextkeys"
	"github.com/codeck/gateway/pkg/httputil"
	"github.com/sirupsen/logrus"
)

// Rejection reasons passed to the reject hook.
const (
	RejectMissingToken   = "missing_token"
	RejectMalformedToken = "malformed_header"
	RejectInvalidToken   = "invalid_token"
	RejectBackendError   = "backend_error"
)

// SessionAuthenticator is the part of auth.SessionStore the guard needs.
type SessionAuthenticator interface {
	GetByToken(ctx context.Context, token string) (auth.Session, bool, error)
	Touch(ctx context.Context, token string) error
}

// AuthMiddleware admits requests carrying a live session token.
type AuthMiddleware struct {
	sessions SessionAuthenticator
	enabled  bool
	logger   logrus.FieldLogger
	onReject func(reason string)
}

// AuthOption configures an AuthMiddleware.
type AuthOption func(*AuthMiddleware)

// WithRejectHook is called with a reason constant for every rejected request.
func WithRejectHook(fn func(reason string)) AuthOption {
	return func(m *AuthMiddleware) { m.onReject = fn }
}

// NewAuthMiddleware creates a new authentication middleware. When enabled is
// false every request is admitted.
func NewAuthMiddleware(sessions SessionAuthenticator, enabled bool, logger logrus.FieldLogger, opts ...AuthOption) *AuthMiddleware {
	m := &AuthMiddleware{
		sessions: sessions,
		enabled:  enabled,
		logger:   logger,
		onReject: func(string) {},
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Handler wraps an HTTP handler with authentication
func (m *AuthMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !m.enabled {
			next.ServeHTTP(w, r)
			return
		}

		tok, err := httputil.ExtractToken(r)
		if err != nil {
			reason := RejectMissingToken
			if errors.Is(err, httputil.ErrMalformedAuthHeader) {
				reason = RejectMalformedToken
			}
			m.reject(w, reason, "Unauthorized")
			return
		}

		ctx := r.Context()
		sess, ok, err := m.sessions.GetByToken(ctx, tok.Value)
		if err != nil {
			httputil.LoggerFrom(ctx, m.logger).WithError(err).Error("session lookup failed")
			m.onReject(RejectBackendError)
			httputil.WriteInternalError(w)
			return
		}
		if !ok {
			m.reject(w, RejectInvalidToken, "Unauthorized")
			return
		}

		if err := m.sessions.Touch(ctx, tok.Value); err != nil {
			httputil.LoggerFrom(ctx, m.logger).WithError(err).Warn("failed to touch session")
		}

		ctx = contextkeys.WithSession(ctx, sess)
		ctx = contextkeys.WithSessionToken(ctx, tok.Value)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (m *AuthMiddleware) reject(w http.ResponseWriter, reason, message string) {
	m.onReject(reason)
	httputil.WriteJSON(w, http.StatusUnauthorized, UnauthorizedResponse{
		Error:     message,
		NeedsAuth: true,
	})
}

// UnauthorizedResponse lets clients tell "log in again" apart from other
// failures.
type UnauthorizedResponse struct {
	Error     string `json:"error"`
	NeedsAuth bool   `json:"needsAuth"`
}

// SessionFromRequest returns the session attached by the guard.
func SessionFromRequest(r *http.Request) (auth.Session, bool) {
	v, ok := contextkeys.GetSession(r.Context())
	if !ok {
		return auth.Session{}, false
	}
	sess, ok := v.(auth.Session)
	return sess, ok
}
