package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codeck/gateway/pkg/audit"
	"github.com/codeck/gateway/pkg/auth"
	"github.com/codeck/gateway/pkg/usage"
)

type stubUsage struct {
	report usage.Report
}

func (s stubUsage) Get(context.Context) usage.Report {
	return s.report
}

func newTestRouter(g *Gateway) *mux.Router {
	router := mux.NewRouter()
	g.RegisterRoutes(router)
	return router
}

type requestOpts struct {
	ip    string
	token string
	body  interface{}
}

func doRequest(t *testing.T, h http.Handler, method, target string, opts requestOpts) *httptest.ResponseRecorder {
	t.Helper()

	var body bytes.Buffer
	switch b := opts.body.(type) {
	case nil:
	case string:
		body.WriteString(b)
	default:
		require.NoError(t, json.NewEncoder(&body).Encode(b))
	}

	req := httptest.NewRequest(method, target, &body)
	req.Header.Set("Content-Type", "application/json")
	if opts.ip != "" {
		req.Header.Set("X-Forwarded-For", opts.ip)
	}
	if opts.token != "" {
		req.Header.Set("Authorization", "Bearer "+opts.token)
	}

	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

func loginToken(t *testing.T, h http.Handler, ip, password string) string {
	t.Helper()
	w := doRequest(t, h, http.MethodPost, "/api/auth/login", requestOpts{
		ip:   ip,
		body: map[string]string{"password": password},
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	resp := decode[LoginResponse](t, w)
	require.True(t, resp.Success)
	return resp.Token
}

func TestHandlers_LockoutScenario(t *testing.T) {
	g, _ := newTestGateway(t, "secret")
	router := newTestRouter(g)

	for i := 0; i < 5; i++ {
		w := doRequest(t, router, http.MethodPost, "/api/auth/login", requestOpts{
			ip:   "9.9.9.9",
			body: map[string]string{"password": "wrong"},
		})
		require.Equal(t, http.StatusUnauthorized, w.Code, "attempt %d", i+1)
		resp := decode[LoginResponse](t, w)
		assert.False(t, resp.Success)
		assert.NotEmpty(t, resp.Error)
		assert.Empty(t, resp.Token)
	}

	w := doRequest(t, router, http.MethodPost, "/api/auth/login", requestOpts{
		ip:   "9.9.9.9",
		body: map[string]string{"password": "secret"},
	})
	require.Equal(t, http.StatusTooManyRequests, w.Code)
	resp := decode[LoginResponse](t, w)
	assert.False(t, resp.Success)
	assert.Equal(t, 900, resp.RetryAfter)
	assert.Equal(t, "900", w.Header().Get("Retry-After"))

	token := loginToken(t, router, "1.2.3.4", "secret")

	w = doRequest(t, router, http.MethodGet, "/api/auth/sessions", requestOpts{token: token})
	require.Equal(t, http.StatusOK, w.Code)
	sessions := decode[SessionsResponse](t, w)
	require.Len(t, sessions.Sessions, 1)
	assert.True(t, sessions.Sessions[0].Current)
	assert.Equal(t, "1.2.3.4", sessions.Sessions[0].IP)
	assert.NotContains(t, w.Body.String(), token)
}

func TestHandlers_Status(t *testing.T) {
	tests := []struct {
		name       string
		password   string
		configured bool
	}{
		{"configured", "secret", true},
		{"open", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g, _ := newTestGateway(t, tt.password)
			w := doRequest(t, newTestRouter(g), http.MethodGet, "/api/auth/status", requestOpts{})

			require.Equal(t, http.StatusOK, w.Code)
			assert.Equal(t, "no-store", w.Header().Get("Cache-Control"))
			assert.Equal(t, tt.configured, decode[StatusResponse](t, w).Configured)
		})
	}
}

func TestHandlers_LoginBadRequest(t *testing.T) {
	g, _ := newTestGateway(t, "secret")
	router := newTestRouter(g)

	for _, body := range []interface{}{map[string]string{}, "{not json", nil} {
		w := doRequest(t, router, http.MethodPost, "/api/auth/login", requestOpts{ip: "10.1.0.1", body: body})
		require.Equal(t, http.StatusBadRequest, w.Code)
		resp := decode[LoginResponse](t, w)
		assert.False(t, resp.Success)
		assert.Equal(t, "Password is required", resp.Error)
	}
}

func TestHandlers_LoginBodyTooLarge(t *testing.T) {
	clock := newFakeClock()
	cfg := DefaultConfig()
	cfg.Password = auth.PasswordConfig{Password: "secret"}
	cfg.MaxBodyBytes = 16

	g, err := New(cfg, WithClock(clock.Now))
	require.NoError(t, err)

	body := `{"password":"secret","deviceId":"` + strings.Repeat("x", 64) + `"}`
	w := doRequest(t, newTestRouter(g), http.MethodPost, "/api/auth/login", requestOpts{body: body})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandlers_RateLimited(t *testing.T) {
	g, _ := newTestGateway(t, "secret")
	router := newTestRouter(g)

	// Successful logins do not lock, so the eleventh attempt trips the limiter
	for i := 0; i < 10; i++ {
		loginToken(t, router, "10.1.0.2", "secret")
	}

	w := doRequest(t, router, http.MethodPost, "/api/auth/login", requestOpts{
		ip:   "10.1.0.2",
		body: map[string]string{"password": "secret"},
	})
	require.Equal(t, http.StatusTooManyRequests, w.Code)
	resp := decode[LoginResponse](t, w)
	assert.Equal(t, 60, resp.RetryAfter)
	assert.Equal(t, "60", w.Header().Get("Retry-After"))
	assert.Equal(t, "10", w.Header().Get("X-RateLimit-Limit"))
	assert.Equal(t, "0", w.Header().Get("X-RateLimit-Remaining"))
}

func TestHandlers_GuardRejections(t *testing.T) {
	g, _ := newTestGateway(t, "secret")
	router := newTestRouter(g)

	routes := []struct {
		method string
		target string
	}{
		{http.MethodGet, "/api/auth/sessions"},
		{http.MethodDelete, "/api/auth/sessions/abc"},
		{http.MethodGet, "/api/auth/log"},
		{http.MethodGet, "/api/agent/usage"},
	}

	for _, route := range routes {
		t.Run(route.method+" "+route.target, func(t *testing.T) {
			for _, token := range []string{"", "codeck_bogus"} {
				w := doRequest(t, router, route.method, route.target, requestOpts{token: token})
				require.Equal(t, http.StatusUnauthorized, w.Code)

				var resp map[string]interface{}
				require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
				assert.Equal(t, true, resp["needsAuth"])
				assert.NotEmpty(t, resp["error"])
			}
		})
	}
}

func TestHandlers_TokenQueryParameter(t *testing.T) {
	g, _ := newTestGateway(t, "secret")
	router := newTestRouter(g)
	token := loginToken(t, router, "10.1.0.3", "secret")

	w := doRequest(t, router, http.MethodGet, "/api/auth/sessions?token="+token, requestOpts{})
	require.Equal(t, http.StatusOK, w.Code)
	sessions := decode[SessionsResponse](t, w)
	require.Len(t, sessions.Sessions, 1)
	assert.True(t, sessions.Sessions[0].Current)
}

func TestHandlers_MalformedHeaderDoesNotFallBack(t *testing.T) {
	g, _ := newTestGateway(t, "secret")
	router := newTestRouter(g)
	token := loginToken(t, router, "10.1.0.4", "secret")

	req := httptest.NewRequest(http.MethodGet, "/api/auth/sessions?token="+token, nil)
	req.Header.Set("Authorization", "Basic abc")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestHandlers_Logout(t *testing.T) {
	g, _ := newTestGateway(t, "secret")
	router := newTestRouter(g)
	token := loginToken(t, router, "10.1.0.5", "secret")

	for i := 0; i < 2; i++ {
		w := doRequest(t, router, http.MethodPost, "/api/auth/logout", requestOpts{token: token})
		require.Equal(t, http.StatusOK, w.Code)
		assert.True(t, decode[SuccessResponse](t, w).Success)
	}

	w := doRequest(t, router, http.MethodPost, "/api/auth/logout", requestOpts{})
	assert.Equal(t, http.StatusOK, w.Code)

	w = doRequest(t, router, http.MethodGet, "/api/auth/sessions", requestOpts{token: token})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	assert.Equal(t, []audit.EventKind{audit.EventLoginSuccess, audit.EventLogout}, eventKinds(g.Events()))
}

func TestHandlers_RevokeSession(t *testing.T) {
	g, _ := newTestGateway(t, "secret")
	router := newTestRouter(g)

	mine := loginToken(t, router, "10.1.0.6", "secret")
	theirs := loginToken(t, router, "10.1.0.7", "secret")

	w := doRequest(t, router, http.MethodGet, "/api/auth/sessions", requestOpts{token: mine})
	require.Equal(t, http.StatusOK, w.Code)
	sessions := decode[SessionsResponse](t, w).Sessions
	require.Len(t, sessions, 2)

	var myID, theirID string
	for _, s := range sessions {
		if s.Current {
			myID = s.ID
		} else {
			theirID = s.ID
		}
	}
	require.NotEmpty(t, myID)
	require.NotEmpty(t, theirID)

	w = doRequest(t, router, http.MethodDelete, "/api/auth/sessions/"+theirID, requestOpts{token: mine, ip: "10.1.0.6"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, decode[SuccessResponse](t, w).Success)

	w = doRequest(t, router, http.MethodGet, "/api/auth/sessions", requestOpts{token: theirs})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = doRequest(t, router, http.MethodDelete, "/api/auth/sessions/"+theirID, requestOpts{token: mine})
	require.Equal(t, http.StatusNotFound, w.Code)
	resp := decode[SuccessResponse](t, w)
	assert.False(t, resp.Success)
	assert.Equal(t, "Session not found", resp.Error)

	events := g.Events()
	revoked := events[len(events)-1]
	assert.Equal(t, audit.EventSessionRevoked, revoked.Kind)
	assert.Equal(t, theirID, revoked.SessionID)
	assert.Equal(t, "10.1.0.6", revoked.IP)
	assert.Equal(t, myID, revoked.Metadata["revokedBy"])
}

func TestHandlers_AuditLog(t *testing.T) {
	g, _ := newTestGateway(t, "secret")
	router := newTestRouter(g)

	doRequest(t, router, http.MethodPost, "/api/auth/login", requestOpts{ip: "10.1.0.8", body: map[string]string{"password": "wrong"}})
	token := loginToken(t, router, "10.1.0.8", "secret")

	w := doRequest(t, router, http.MethodGet, "/api/auth/log", requestOpts{token: token})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

	var body struct {
		Events []audit.Event `json:"events"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, []audit.EventKind{audit.EventLoginFailure, audit.EventLoginSuccess}, eventKinds(body.Events))
	assert.NotContains(t, w.Body.String(), "secret")
	assert.NotContains(t, w.Body.String(), token)

	w = doRequest(t, router, http.MethodGet, "/api/auth/log?format=csv", requestOpts{token: token})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "text/csv", w.Header().Get("Content-Type"))
	lines := strings.Split(strings.TrimSpace(w.Body.String()), "\n")
	assert.Len(t, lines, 3)

	w = doRequest(t, router, http.MethodGet, "/api/auth/log?format=xml", requestOpts{token: token})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandlers_OpenWhenUnconfigured(t *testing.T) {
	g, _ := newTestGateway(t, "")
	router := newTestRouter(g)

	w := doRequest(t, router, http.MethodGet, "/api/auth/sessions", requestOpts{})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, decode[SessionsResponse](t, w).Sessions)

	w = doRequest(t, router, http.MethodPost, "/api/auth/login", requestOpts{body: map[string]string{"password": "x"}})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestHandlers_DaemonStatus(t *testing.T) {
	clock := newFakeClock()
	g, err := New(DefaultConfig(), WithClock(clock.Now), WithStartTime(clock.Now()))
	require.NoError(t, err)
	clock.Advance(90 * time.Second)

	w := doRequest(t, newTestRouter(g), http.MethodGet, "/api/ui/status", requestOpts{})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, DaemonStatus{Status: "ok", Mode: "gateway", Uptime: 90}, decode[DaemonStatus](t, w))
}

func TestHandlers_Usage(t *testing.T) {
	resets := "2024-05-01T17:00:00Z"
	report := usage.Report{
		Available: true,
		FiveHour:  &usage.Window{Utilization: 42.4, Percent: 42, ResetsAt: &resets},
	}

	t.Run("with source", func(t *testing.T) {
		g, _ := newTestGateway(t, "secret", WithUsage(stubUsage{report: report}))
		router := newTestRouter(g)
		token := loginToken(t, router, "10.1.0.9", "secret")

		w := doRequest(t, router, http.MethodGet, "/api/agent/usage", requestOpts{token: token})
		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, report, decode[usage.Report](t, w))
	})

	t.Run("without source", func(t *testing.T) {
		g, _ := newTestGateway(t, "secret")
		router := newTestRouter(g)
		token := loginToken(t, router, "10.1.0.10", "secret")

		w := doRequest(t, router, http.MethodGet, "/api/agent/usage", requestOpts{token: token})
		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, usage.Unavailable(), decode[usage.Report](t, w))
	})
}
