package gateway

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/codeck/gateway/pkg/audit"
	"github.com/codeck/gateway/pkg/auth"
	"github.com/codeck/gateway/pkg/middleware"
	"github.com/codeck/gateway/pkg/observability"
	"github.com/codeck/gateway/pkg/usage"
)

const tracerName = "github.com/codeck/gateway/pkg/gateway"

// Config holds the gateway's access-control settings.
type Config struct {
	Password  auth.PasswordConfig
	RateLimit *middleware.RateLimitConfig
	Lockout   *middleware.LockoutConfig
	// TrustProxyHops is passed to httputil.ClientIP.
	TrustProxyHops int
	// SweepInterval schedules the limiter and lockout sweeps.
	SweepInterval time.Duration
	// MaxBodyBytes bounds login request bodies. Zero disables the limit.
	MaxBodyBytes int64
}

// DefaultConfig returns the default limits with no password configured.
func DefaultConfig() Config {
	return Config{
		RateLimit:      middleware.DefaultRateLimitConfig(),
		Lockout:        middleware.DefaultLockoutConfig(),
		TrustProxyHops: 1,
		SweepInterval:  5 * time.Minute,
		MaxBodyBytes:   1 << 20,
	}
}

// UsageSource reports agent usage for the guarded usage endpoint.
// *usage.Client satisfies it.
type UsageSource interface {
	Get(ctx context.Context) usage.Report
}

// Gateway composes password verification, rate limiting, lockout, sessions
// and the audit log into the login flow and the per-request guard.
type Gateway struct {
	config   Config
	verifier *auth.PasswordVerifier
	limiter  middleware.Limiter
	lockout  *middleware.LockoutTracker
	sessions auth.SessionStore
	audit    *audit.Log
	usage    UsageSource
	recorder observability.AuthRecorder
	logger   logrus.FieldLogger
	tracer   trace.Tracer
	guard    *middleware.AuthMiddleware
	now      func() time.Time
	started  time.Time
}

type options struct {
	now      func() time.Time
	started  time.Time
	sessions auth.SessionStore
	limiter  middleware.Limiter
	audit    *audit.Log
	logger   logrus.FieldLogger
	recorder observability.AuthRecorder
	usage    UsageSource
	runner   auth.Runner
	tracer   trace.Tracer
}

// Option configures a Gateway.
type Option func(*options)

// WithClock overrides the time source of every component the gateway
// builds itself.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}

// WithStartTime sets the instant uptime is measured from.
func WithStartTime(t time.Time) Option {
	return func(o *options) { o.started = t }
}

// WithSessionStore replaces the in-memory session store.
func WithSessionStore(s auth.SessionStore) Option {
	return func(o *options) { o.sessions = s }
}

// WithLimiter replaces the in-memory login rate limiter.
func WithLimiter(l middleware.Limiter) Option {
	return func(o *options) { o.limiter = l }
}

// WithAuditLog replaces the default memory-only audit log.
func WithAuditLog(l *audit.Log) Option {
	return func(o *options) { o.audit = l }
}

// WithLogger sets the logger.
func WithLogger(logger logrus.FieldLogger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithRecorder receives login, lockout and guard events.
func WithRecorder(r observability.AuthRecorder) Option {
	return func(o *options) {
		if r != nil {
			o.recorder = r
		}
	}
}

// WithUsage enables the agent usage endpoint.
func WithUsage(u UsageSource) Option {
	return func(o *options) { o.usage = u }
}

// WithVerifierRunner runs bcrypt comparisons on r.
func WithVerifierRunner(r auth.Runner) Option {
	return func(o *options) { o.runner = r }
}

// WithTracer overrides the tracer used for login spans.
func WithTracer(t trace.Tracer) Option {
	return func(o *options) { o.tracer = t }
}

// New builds a gateway. Components not supplied through options are created
// in memory, so independent gateways never share state.
func New(cfg Config, opts ...Option) (*Gateway, error) {
	o := options{
		now:      time.Now,
		logger:   logrus.StandardLogger(),
		recorder: observability.NopRecorder{},
	}
	for _, opt := range opts {
		opt(&o)
	}

	defaults := DefaultConfig()
	if cfg.RateLimit == nil {
		cfg.RateLimit = defaults.RateLimit
	}
	if cfg.Lockout == nil {
		cfg.Lockout = defaults.Lockout
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = defaults.SweepInterval
	}

	verifier, err := auth.NewPasswordVerifier(cfg.Password, o.runner)
	if err != nil {
		return nil, fmt.Errorf("failed to create password verifier: %w", err)
	}

	if o.sessions == nil {
		o.sessions = auth.NewMemorySessionStore(auth.WithClock(o.now))
	}
	if o.limiter == nil {
		o.limiter = middleware.NewRateLimiter(cfg.RateLimit, middleware.WithClock(o.now))
	}
	if o.audit == nil {
		o.audit = audit.NewLog(audit.WithClock(o.now), audit.WithLogger(o.logger))
	}
	if o.tracer == nil {
		o.tracer = otel.Tracer(tracerName)
	}
	if o.started.IsZero() {
		o.started = o.now()
	}

	g := &Gateway{
		config:   cfg,
		verifier: verifier,
		limiter:  o.limiter,
		lockout:  middleware.NewLockoutTracker(cfg.Lockout, middleware.WithClock(o.now)),
		sessions: o.sessions,
		audit:    o.audit,
		usage:    o.usage,
		recorder: o.recorder,
		logger:   o.logger,
		tracer:   o.tracer,
		now:      o.now,
		started:  o.started,
	}
	g.guard = middleware.NewAuthMiddleware(g.sessions, verifier.IsConfigured(), o.logger,
		middleware.WithRejectHook(func(reason string) {
			g.recorder.GuardRejected(context.Background(), reason)
		}),
	)

	return g, nil
}

// Configured reports whether a password is set. Without one the guard
// admits every request.
func (g *Gateway) Configured() bool {
	return g.verifier.IsConfigured()
}

// LoginRequest is one login attempt. IP is the resolved client address.
type LoginRequest struct {
	Password string
	DeviceID string
	IP       string
}

// LoginResult carries the new session's bearer token. It is the only copy.
type LoginResult struct {
	SessionID string
	Token     string
}

// Login runs one attempt through the rate limiter, the lockout tracker and
// the password verifier, in that order. A rate-limited or locked-out caller
// never reaches password comparison.
func (g *Gateway) Login(ctx context.Context, req LoginRequest) (LoginResult, error) {
	ctx, span := g.tracer.Start(ctx, "gateway.Login",
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(attribute.String("client.address", req.IP)),
	)
	defer span.End()

	result, err := g.login(ctx, req)

	outcome := outcomeOf(err)
	g.recorder.LoginAttempt(ctx, outcome)
	span.SetAttributes(attribute.String("codeck.auth.outcome", outcome))
	if err != nil {
		span.SetStatus(codes.Error, outcome)
	}

	return result, err
}

func (g *Gateway) login(ctx context.Context, req LoginRequest) (LoginResult, error) {
	logger := g.logger.WithField("ip", req.IP)

	decision, err := g.limiter.Allow(ctx, req.IP)
	if err != nil {
		// Limiter backends fail open
		logger.WithError(err).Warn("login rate limiter unavailable")
	}
	if !decision.Allowed {
		e := newError(KindRateLimited, "Too many login attempts. Please try again later.")
		e.RetryAfter = decision.RetryAfter
		e.RateLimit = &decision
		return LoginResult{}, e
	}

	if status := g.lockout.Check(req.IP); status.Locked {
		e := newError(KindLockedOut, "Too many failed attempts. Please try again later.")
		e.RetryAfter = status.RetryAfter
		return LoginResult{}, e
	}

	if req.Password == "" {
		return LoginResult{}, newError(KindBadRequest, "Password is required")
	}

	deviceID := req.DeviceID
	if deviceID == "" {
		deviceID = auth.DefaultDeviceID
	}

	ok, err := g.verifier.Verify(ctx, req.Password)
	if err != nil {
		logger.WithError(err).Error("password verification error")
	}
	if !ok {
		status := g.lockout.RecordFailure(req.IP)
		detail := audit.Detail{DeviceID: deviceID}
		if status.Locked {
			g.recorder.Lockout(ctx)
			detail.Metadata = map[string]string{"locked": "true"}
			logger.WithField("retry_after", status.RetryAfterSeconds()).Warn("client locked out after repeated login failures")
		} else {
			logger.WithField("failures", g.lockout.Failures(req.IP)).Info("login failed")
		}
		g.audit.Record(ctx, audit.EventLoginFailure, req.IP, detail)
		return LoginResult{}, newError(KindUnauthorized, "Incorrect password")
	}

	g.lockout.Clear(req.IP)

	issued, err := g.sessions.Issue(ctx, req.IP, deviceID)
	if err != nil {
		return LoginResult{}, internalError("failed to issue session", err)
	}

	g.audit.Record(ctx, audit.EventLoginSuccess, req.IP, audit.Detail{
		SessionID: issued.SessionID,
		DeviceID:  deviceID,
	})
	g.reportSessions(ctx)

	return LoginResult{SessionID: issued.SessionID, Token: issued.Token}, nil
}

// Logout ends the session owning token. It succeeds whether or not the
// token was live; only a removed session is audited.
func (g *Gateway) Logout(ctx context.Context, token, ip string) error {
	if token == "" {
		return nil
	}

	sess, removed, err := g.sessions.Invalidate(ctx, token)
	if err != nil {
		return internalError("failed to end session", err)
	}
	if !removed {
		return nil
	}

	g.audit.Record(ctx, audit.EventLogout, ip, audit.Detail{
		SessionID: sess.ID,
		DeviceID:  sess.DeviceID,
	})
	g.reportSessions(ctx)
	return nil
}

// ListSessions returns every live session, flagging the one owning
// currentToken.
func (g *Gateway) ListSessions(ctx context.Context, currentToken string) ([]auth.SessionSummary, error) {
	sessions, err := g.sessions.ListActive(ctx, currentToken)
	if err != nil {
		return nil, internalError("failed to list sessions", err)
	}
	return sessions, nil
}

// RevokeSession ends the session with the given id. revokedBy is the id of
// the caller's own session, if known.
func (g *Gateway) RevokeSession(ctx context.Context, id, ip, revokedBy string) error {
	sess, removed, err := g.sessions.RevokeByID(ctx, id)
	if err != nil {
		return internalError("failed to revoke session", err)
	}
	if !removed {
		return newError(KindNotFound, "Session not found")
	}

	detail := audit.Detail{SessionID: sess.ID, DeviceID: sess.DeviceID}
	if revokedBy != "" {
		detail.Metadata = map[string]string{"revokedBy": revokedBy}
	}
	g.audit.Record(ctx, audit.EventSessionRevoked, ip, detail)
	g.reportSessions(ctx)
	return nil
}

// Events returns the retained audit events, oldest first.
func (g *Gateway) Events() []audit.Event {
	return g.audit.List()
}

// AuditLog returns the gateway's audit log.
func (g *Gateway) AuditLog() *audit.Log {
	return g.audit
}

// RequireSession admits requests carrying a live session token. When no
// password is configured every request is admitted.
func (g *Gateway) RequireSession(next http.Handler) http.Handler {
	return g.guard.Handler(next)
}

// Uptime is the time since the gateway started.
func (g *Gateway) Uptime() time.Duration {
	return g.now().Sub(g.started)
}

func (g *Gateway) reportSessions(ctx context.Context) {
	n, err := g.sessions.Count(ctx)
	if err != nil {
		g.logger.WithError(err).Warn("failed to count sessions")
		return
	}
	g.recorder.SessionsActive(ctx, n)
}

func outcomeOf(err error) string {
	if err == nil {
		return observability.OutcomeSuccess
	}
	switch KindOf(err) {
	case KindRateLimited:
		return observability.OutcomeRateLimited
	case KindLockedOut:
		return observability.OutcomeLocked
	case KindBadRequest:
		return observability.OutcomeBadRequest
	default:
		return observability.OutcomeFailure
	}
}
