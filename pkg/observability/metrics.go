package observability

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Login outcomes
const (
	OutcomeSuccess     = "success"
	OutcomeFailure     = "failure"
	OutcomeLocked      = "locked"
	OutcomeRateLimited = "rate_limited"
	OutcomeBadRequest  = "bad_request"
)

// AuthRecorder receives authentication events worth counting.
type AuthRecorder interface {
	LoginAttempt(ctx context.Context, outcome string)
	Lockout(ctx context.Context)
	GuardRejected(ctx context.Context, reason string)
	SessionsActive(ctx context.Context, n int)
	AuditDropped(ctx context.Context, reason string)
}

// Metrics holds all Prometheus metrics
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	HTTPResponseSize    *prometheus.HistogramVec

	// Auth metrics
	LoginAttemptsTotal   *prometheus.CounterVec
	LockoutsTotal        prometheus.Counter
	GuardRejectionsTotal *prometheus.CounterVec
	SessionsActiveGauge  prometheus.Gauge

	// Audit metrics
	AuditDroppedTotal *prometheus.CounterVec
}

var _ AuthRecorder = (*Metrics)(nil)

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics(registry prometheus.Registerer) *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "codeck_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "route", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "codeck_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),
		HTTPResponseSize: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "codeck_http_response_size_bytes",
				Help:    "HTTP response size in bytes",
				Buckets: prometheus.ExponentialBuckets(100, 10, 6),
			},
			[]string{"method", "route"},
		),

		LoginAttemptsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "codeck_auth_login_attempts_total",
				Help: "Total number of login attempts by outcome",
			},
			[]string{"outcome"},
		),
		LockoutsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "codeck_auth_lockouts_total",
				Help: "Total number of client addresses locked out",
			},
		),
		GuardRejectionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "codeck_auth_guard_rejections_total",
				Help: "Total number of requests rejected by the session guard",
			},
			[]string{"reason"},
		),
		SessionsActiveGauge: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "codeck_auth_sessions_active",
				Help: "Number of live sessions",
			},
		),

		AuditDroppedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "codeck_audit_events_dropped_total",
				Help: "Audit events that did not reach the durable sink",
			},
			[]string{"reason"},
		),
	}

	registry.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.HTTPResponseSize,
		m.LoginAttemptsTotal,
		m.LockoutsTotal,
		m.GuardRejectionsTotal,
		m.SessionsActiveGauge,
		m.AuditDroppedTotal,
	)

	return m
}

// LoginAttempt counts a login by outcome.
func (m *Metrics) LoginAttempt(_ context.Context, outcome string) {
	m.LoginAttemptsTotal.WithLabelValues(outcome).Inc()
}

// Lockout counts a newly locked address.
func (m *Metrics) Lockout(_ context.Context) {
	m.LockoutsTotal.Inc()
}

// GuardRejected counts a request rejected by the session guard.
func (m *Metrics) GuardRejected(_ context.Context, reason string) {
	m.GuardRejectionsTotal.WithLabelValues(reason).Inc()
}

// SessionsActive sets the live session gauge.
func (m *Metrics) SessionsActive(_ context.Context, n int) {
	m.SessionsActiveGauge.Set(float64(n))
}

// AuditDropped counts an audit event that missed the sink.
func (m *Metrics) AuditDropped(_ context.Context, reason string) {
	m.AuditDroppedTotal.WithLabelValues(reason).Inc()
}

// MultiRecorder fans every event out to several recorders.
type MultiRecorder []AuthRecorder

var _ AuthRecorder = MultiRecorder(nil)

func (mr MultiRecorder) LoginAttempt(ctx context.Context, outcome string) {
	for _, r := range mr {
		r.LoginAttempt(ctx, outcome)
	}
}

func (mr MultiRecorder) Lockout(ctx context.Context) {
	for _, r := range mr {
		r.Lockout(ctx)
	}
}

func (mr MultiRecorder) GuardRejected(ctx context.Context, reason string) {
	for _, r := range mr {
		r.GuardRejected(ctx, reason)
	}
}

func (mr MultiRecorder) SessionsActive(ctx context.Context, n int) {
	for _, r := range mr {
		r.SessionsActive(ctx, n)
	}
}

func (mr MultiRecorder) AuditDropped(ctx context.Context, reason string) {
	for _, r := range mr {
		r.AuditDropped(ctx, reason)
	}
}

// NopRecorder discards everything.
type NopRecorder struct{}

func (NopRecorder) LoginAttempt(context.Context, string)  {}
func (NopRecorder) Lockout(context.Context)               {}
func (NopRecorder) GuardRejected(context.Context, string) {}
func (NopRecorder) SessionsActive(context.Context, int)   {}
func (NopRecorder) AuditDropped(context.Context, string)  {}

// responseWriter wraps http.ResponseWriter to capture status code and size
type responseWriter struct {
	http.ResponseWriter
	statusCode   int
	bytesWritten int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	rw.bytesWritten += n
	return n, err
}

// routeLabel returns the mux route template so session ids do not become
// label values.
func routeLabel(r *http.Request) string {
	if route := mux.CurrentRoute(r); route != nil {
		if tmpl, err := route.GetPathTemplate(); err == nil {
			return tmpl
		}
	}
	return "unmatched"
}

// HTTPMetricsMiddleware instruments HTTP requests with Prometheus metrics.
// Use it as mux router middleware so the route template is known.
func HTTPMetricsMiddleware(metrics *Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			rw := &responseWriter{
				ResponseWriter: w,
				statusCode:     http.StatusOK,
			}

			next.ServeHTTP(rw, r)

			route := routeLabel(r)
			status := strconv.Itoa(rw.statusCode)

			metrics.HTTPRequestsTotal.WithLabelValues(r.Method, route, status).Inc()
			metrics.HTTPRequestDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
			metrics.HTTPResponseSize.WithLabelValues(r.Method, route).Observe(float64(rw.bytesWritten))
		})
	}
}

// MetricsHandler serves the registry in the Prometheus exposition format
func MetricsHandler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
