// Package observability provides structured logging, Prometheus metrics, and OpenTelemetry tracing.
//
// # Overview
//
// This package centralizes the gateway's observability infrastructure:
// logrus logging, auth metrics, health checks, graceful shutdown and
// OpenTelemetry providers.
//
// # Structured Logging
//
//	logger, err := observability.NewLogger("info", "json", os.Stdout)
//	logger.WithField("request_id", reqID).Info("Request complete")
//
// # Metrics
//
// Metrics and OTelMetrics both implement AuthRecorder; combine them with
// MultiRecorder:
//
//	prom := observability.NewMetrics(registry)
//	otelMetrics, _ := observability.NewOTelMetrics(otel.GetMeterProvider())
//	recorder := observability.MultiRecorder{prom, otelMetrics}
//	recorder.LoginAttempt(ctx, observability.OutcomeFailure)
//
// # Health Checks
//
//	checker := observability.NewHealthChecker(db, redisClient, version)
//	observability.RegisterHealthRoutes(router, checker)
//
// # Related Packages
//
//   - pkg/config: Observability configuration
//   - pkg/httputil: Request logging middleware
package observability
