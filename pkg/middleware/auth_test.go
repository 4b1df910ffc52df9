package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/codeck/gateway/pkg/auth"
	"github.com/codeck/gateway/pkg/contextkeys"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type failingSessions struct{}

func (failingSessions) GetByToken(ctx context.Context, token string) (auth.Session, bool, error) {
	return auth.Session{}, false, errors.New("redis down")
}

func (failingSessions) Touch(ctx context.Context, token string) error { return nil }

func newGuard(t *testing.T, enabled bool) (*AuthMiddleware, *auth.MemorySessionStore, *[]string) {
	t.Helper()
	logger, _ := test.NewNullLogger()
	store := auth.NewMemorySessionStore()
	var reasons []string
	guard := NewAuthMiddleware(store, enabled, logger, WithRejectHook(func(reason string) {
		reasons = append(reasons, reason)
	}))
	return guard, store, &reasons
}

func okHandler(called *bool) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		*called = true
		w.WriteHeader(http.StatusOK)
	})
}

func TestAuthMiddleware_Disabled(t *testing.T) {
	guard, _, _ := newGuard(t, false)

	called := false
	w := httptest.NewRecorder()
	guard.Handler(okHandler(&called)).ServeHTTP(w, httptest.NewRequest("GET", "/api/auth/sessions", nil))

	assert.True(t, called)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestAuthMiddleware_Rejections(t *testing.T) {
	tests := []struct {
		name   string
		header string
		target string
		reason string
	}{
		{name: "no token", target: "/", reason: RejectMissingToken},
		{name: "malformed header", header: "Token abc", target: "/", reason: RejectMalformedToken},
		{name: "unknown token", header: "Bearer codeck_nope", target: "/", reason: RejectInvalidToken},
		{name: "unknown query token", target: "/?token=codeck_nope", reason: RejectInvalidToken},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			guard, _, reasons := newGuard(t, true)

			req := httptest.NewRequest("GET", tt.target, nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			called := false
			w := httptest.NewRecorder()
			guard.Handler(okHandler(&called)).ServeHTTP(w, req)

			assert.False(t, called)
			assert.Equal(t, http.StatusUnauthorized, w.Code)

			var body map[string]interface{}
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
			assert.Equal(t, true, body["needsAuth"])
			assert.NotEmpty(t, body["error"])
			assert.Equal(t, []string{tt.reason}, *reasons)
		})
	}
}

func TestAuthMiddleware_ValidToken(t *testing.T) {
	guard, store, _ := newGuard(t, true)
	issued, err := store.Issue(context.Background(), "10.0.0.1", "laptop")
	require.NoError(t, err)

	for _, req := range []*http.Request{
		httptest.NewRequest("GET", "/", nil),
		httptest.NewRequest("GET", "/?token="+issued.Token, nil),
	} {
		if req.URL.RawQuery == "" {
			req.Header.Set("Authorization", "Bearer "+issued.Token)
		}

		var sess auth.Session
		var token string
		handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			var ok bool
			sess, ok = SessionFromRequest(r)
			assert.True(t, ok)
			token = contextkeys.GetSessionToken(r.Context())
		})

		w := httptest.NewRecorder()
		guard.Handler(handler).ServeHTTP(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, issued.SessionID, sess.ID)
		assert.Equal(t, issued.Token, token)
	}
}

func TestAuthMiddleware_BackendError(t *testing.T) {
	logger, hook := test.NewNullLogger()
	var reasons []string
	guard := NewAuthMiddleware(failingSessions{}, true, logger, WithRejectHook(func(r string) { reasons = append(reasons, r) }))

	req := httptest.NewRequest("GET", "/", nil)
	req.Header.Set("Authorization", "Bearer codeck_x")
	called := false
	w := httptest.NewRecorder()
	guard.Handler(okHandler(&called)).ServeHTTP(w, req)

	assert.False(t, called)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.NotContains(t, w.Body.String(), "redis down")
	assert.Equal(t, []string{RejectBackendError}, reasons)
	require.NotNil(t, hook.LastEntry())
}

func TestSessionFromRequest_Missing(t *testing.T) {
	_, ok := SessionFromRequest(httptest.NewRequest("GET", "/", nil))
	assert.False(t, ok)
}
