package observability

import (
	"context"
	"fmt"
	"sync/atomic"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "github.com/codeck/gateway"

// OTelMetrics records the auth events as OpenTelemetry instruments
type OTelMetrics struct {
	loginAttempts   metric.Int64Counter
	lockouts        metric.Int64Counter
	guardRejections metric.Int64Counter
	auditDropped    metric.Int64Counter
	sessionsActive  metric.Int64ObservableGauge

	sessions atomic.Int64
}

var _ AuthRecorder = (*OTelMetrics)(nil)

// NewOTelMetrics creates the instruments on provider
func NewOTelMetrics(provider metric.MeterProvider) (*OTelMetrics, error) {
	meter := provider.Meter(meterName)

	m := &OTelMetrics{}
	var err error

	m.loginAttempts, err = meter.Int64Counter(
		"codeck.auth.login.attempts",
		metric.WithDescription("Login attempts by outcome"),
		metric.WithUnit("{attempt}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create login attempts counter: %w", err)
	}

	m.lockouts, err = meter.Int64Counter(
		"codeck.auth.lockouts",
		metric.WithDescription("Client addresses locked out"),
		metric.WithUnit("{lockout}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create lockouts counter: %w", err)
	}

	m.guardRejections, err = meter.Int64Counter(
		"codeck.auth.guard.rejections",
		metric.WithDescription("Requests rejected by the session guard"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create guard rejections counter: %w", err)
	}

	m.auditDropped, err = meter.Int64Counter(
		"codeck.audit.dropped",
		metric.WithDescription("Audit events that did not reach the durable sink"),
		metric.WithUnit("{event}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create audit dropped counter: %w", err)
	}

	m.sessionsActive, err = meter.Int64ObservableGauge(
		"codeck.auth.sessions.active",
		metric.WithDescription("Number of live sessions"),
		metric.WithUnit("{session}"),
		metric.WithInt64Callback(func(_ context.Context, o metric.Int64Observer) error {
			o.Observe(m.sessions.Load())
			return nil
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create active sessions gauge: %w", err)
	}

	return m, nil
}

// LoginAttempt counts a login by outcome.
func (m *OTelMetrics) LoginAttempt(ctx context.Context, outcome string) {
	m.loginAttempts.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

// Lockout counts a newly locked address.
func (m *OTelMetrics) Lockout(ctx context.Context) {
	m.lockouts.Add(ctx, 1)
}

// GuardRejected counts a request rejected by the session guard.
func (m *OTelMetrics) GuardRejected(ctx context.Context, reason string) {
	m.guardRejections.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
}

// SessionsActive updates the value reported by the session gauge.
func (m *OTelMetrics) SessionsActive(_ context.Context, n int) {
	m.sessions.Store(int64(n))
}

// AuditDropped counts an audit event that missed the sink.
func (m *OTelMetrics) AuditDropped(ctx context.Context, reason string) {
	m.auditDropped.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
}
