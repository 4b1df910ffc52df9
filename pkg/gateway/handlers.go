package gateway

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/codeck/gateway/pkg/audit"
	"github.com/codeck/gateway/pkg/auth"
	"github.com/codeck/gateway/pkg/httputil"
	"github.com/codeck/gateway/pkg/middleware"
	"github.com/codeck/gateway/pkg/usage"
)

// StatusResponse is returned by GET /api/auth/status.
type StatusResponse struct {
	Configured bool `json:"configured"`
}

// LoginResponse is returned by POST /api/auth/login.
type LoginResponse struct {
	Success    bool   `json:"success"`
	Token      string `json:"token,omitempty"`
	Error      string `json:"error,omitempty"`
	RetryAfter int    `json:"retryAfter,omitempty"`
}

// SuccessResponse is the body of logout and revoke.
type SuccessResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// SessionsResponse is returned by GET /api/auth/sessions.
type SessionsResponse struct {
	Sessions []auth.SessionSummary `json:"sessions"`
}

// DaemonStatus is returned by GET /api/ui/status.
type DaemonStatus struct {
	Status string  `json:"status"`
	Mode   string  `json:"mode"`
	Uptime float64 `json:"uptime"`
}

type loginBody struct {
	Password string `json:"password"`
	DeviceID string `json:"deviceId"`
}

// RegisterRoutes registers the auth, status and usage routes
func (g *Gateway) RegisterRoutes(router *mux.Router) {
	// Public routes
	router.HandleFunc("/api/auth/status", g.handleStatus).Methods(http.MethodGet)
	router.HandleFunc("/api/auth/login", g.handleLogin).Methods(http.MethodPost)
	router.HandleFunc("/api/auth/logout", g.handleLogout).Methods(http.MethodPost)
	router.HandleFunc("/api/ui/status", g.handleDaemonStatus).Methods(http.MethodGet)

	// Guarded routes
	router.Handle("/api/auth/sessions", g.RequireSession(http.HandlerFunc(g.handleListSessions))).Methods(http.MethodGet)
	router.Handle("/api/auth/sessions/{id}", g.RequireSession(http.HandlerFunc(g.handleRevokeSession))).Methods(http.MethodDelete)
	router.Handle("/api/auth/log", g.RequireSession(http.HandlerFunc(g.handleAuditLog))).Methods(http.MethodGet)
	router.Handle("/api/agent/usage", g.RequireSession(http.HandlerFunc(g.handleUsage))).Methods(http.MethodGet)
}

// handleStatus handles GET /api/auth/status
func (g *Gateway) handleStatus(w http.ResponseWriter, r *http.Request) {
	httputil.NoStore(w)
	httputil.WriteSuccess(w, StatusResponse{Configured: g.Configured()})
}

// handleLogin handles POST /api/auth/login
func (g *Gateway) handleLogin(w http.ResponseWriter, r *http.Request) {
	if g.config.MaxBodyBytes > 0 && r.Body != nil {
		r.Body = http.MaxBytesReader(w, r.Body, g.config.MaxBodyBytes)
	}

	// An unreadable body still goes through the limiter and lockout, and
	// comes back as a missing password.
	var body loginBody
	if err := httputil.ParseJSON(r, &body); err != nil {
		body = loginBody{}
	}

	result, err := g.Login(r.Context(), LoginRequest{
		Password: body.Password,
		DeviceID: body.DeviceID,
		IP:       httputil.ClientIP(r, g.config.TrustProxyHops),
	})
	if err != nil {
		g.writeLoginError(w, r, err)
		return
	}

	httputil.NoStore(w)
	httputil.WriteSuccess(w, LoginResponse{Success: true, Token: result.Token})
}

func (g *Gateway) writeLoginError(w http.ResponseWriter, r *http.Request, err error) {
	gerr := asError(err, "login failed")
	if gerr.Kind == KindInternal {
		httputil.LoggerFrom(r.Context(), g.logger).WithError(gerr).Error("login failed")
	}

	resp := LoginResponse{Success: false, Error: gerr.Public()}
	if gerr.Kind == KindRateLimited || gerr.Kind == KindLockedOut {
		resp.RetryAfter = gerr.RetryAfterSeconds()
	}
	gerr.SetHeaders(w)
	httputil.WriteJSON(w, gerr.Kind.HTTPStatus(), resp)
}

// handleLogout handles POST /api/auth/logout
func (g *Gateway) handleLogout(w http.ResponseWriter, r *http.Request) {
	var token string
	if tok, err := httputil.ExtractToken(r); err == nil {
		token = tok.Value
	}

	if err := g.Logout(r.Context(), token, httputil.ClientIP(r, g.config.TrustProxyHops)); err != nil {
		g.writeError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, SuccessResponse{Success: true})
}

// handleListSessions handles GET /api/auth/sessions
func (g *Gateway) handleListSessions(w http.ResponseWriter, r *http.Request) {
	tok, _ := httputil.ExtractToken(r)

	sessions, err := g.ListSessions(r.Context(), tok.Value)
	if err != nil {
		g.writeError(w, r, err)
		return
	}
	httputil.NoStore(w)
	httputil.WriteSuccess(w, SessionsResponse{Sessions: sessions})
}

// handleRevokeSession handles DELETE /api/auth/sessions/{id}
func (g *Gateway) handleRevokeSession(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.PathVar(r, "id")
	if !ok {
		g.writeError(w, r, newError(KindNotFound, "Session not found"))
		return
	}

	var revokedBy string
	if sess, ok := middleware.SessionFromRequest(r); ok {
		revokedBy = sess.ID
	}

	if err := g.RevokeSession(r.Context(), id, httputil.ClientIP(r, g.config.TrustProxyHops), revokedBy); err != nil {
		g.writeError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, SuccessResponse{Success: true})
}

// handleAuditLog handles GET /api/auth/log
func (g *Gateway) handleAuditLog(w http.ResponseWriter, r *http.Request) {
	format, err := audit.ParseExportFormat(r.URL.Query().Get("format"))
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}

	httputil.NoStore(w)
	w.Header().Set("Content-Type", format.ContentType())
	w.WriteHeader(http.StatusOK)
	if err := audit.Export(w, g.Events(), format); err != nil {
		httputil.LoggerFrom(r.Context(), g.logger).WithError(err).Error("failed to write audit log")
	}
}

// handleDaemonStatus handles GET /api/ui/status
func (g *Gateway) handleDaemonStatus(w http.ResponseWriter, r *http.Request) {
	httputil.WriteSuccess(w, DaemonStatus{
		Status: "ok",
		Mode:   "gateway",
		Uptime: g.Uptime().Seconds(),
	})
}

// handleUsage handles GET /api/agent/usage
func (g *Gateway) handleUsage(w http.ResponseWriter, r *http.Request) {
	report := usage.Unavailable()
	if g.usage != nil {
		report = g.usage.Get(r.Context())
	}
	httputil.NoStore(w)
	httputil.WriteSuccess(w, report)
}

func (g *Gateway) writeError(w http.ResponseWriter, r *http.Request, err error) {
	gerr := asError(err, "request failed")
	if gerr.Kind == KindInternal {
		httputil.LoggerFrom(r.Context(), g.logger).WithError(gerr).Error("request failed")
	}
	httputil.WriteJSON(w, gerr.Kind.HTTPStatus(), SuccessResponse{Success: false, Error: gerr.Public()})
}
