// Package config provides gateway configuration from a YAML file and
// environment variables.
//
// # Overview
//
// LoadConfig starts from Default, overlays the YAML file named by
// CODECK_CONFIG_FILE when set, then applies CODECK_* environment variables
// and validates the result.
//
// # Configuration Structure
//
// Server settings:
//
//	CODECK_HOST="0.0.0.0"
//	CODECK_PORT="8080"
//	CODECK_SHUTDOWN_TIMEOUT="5s"
//	CODECK_TRUST_PROXY_HOPS="1"
//
// CODECK_TRUST_PROXY_HOPS defaults to 1, which assumes one reverse proxy
// that overwrites X-Forwarded-For. Without such a proxy a client can send any
// X-Forwarded-For value and get a fresh rate limit and lockout counter per
// address it claims. Set it to 0 for a directly exposed gateway.
//
// Auth settings:
//
//	CODECK_PASSWORD="..."            # or CODECK_PASSWORD_HASH (bcrypt)
//	CODECK_RATE_LIMIT_REQUESTS="10"
//	CODECK_RATE_LIMIT_WINDOW="1m"
//	CODECK_LOCKOUT_THRESHOLD="5"
//	CODECK_LOCKOUT_DURATION="15m"
//	CODECK_SESSION_BACKEND="memory"  # memory, redis
//
// Storage settings:
//
//	CODECK_REDIS_URL="redis://localhost:6379/0"
//	CODECK_POSTGRES_URL="postgres://localhost/codeck"
//	CODECK_AUDIT_DIR="/var/log/codeck/audit"
//
// Observability settings:
//
//	CODECK_LOG_LEVEL="info"
//	CODECK_LOG_FORMAT="json"
//	CODECK_OTEL_ENABLED="false"
//
// Config.String redacts passwords and connection credentials.
package config
