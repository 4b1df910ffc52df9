package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/codeck/gateway/pkg/auth"
	"gopkg.in/yaml.v3"
)

// Backend names for sessions and rate limiting
const (
	BackendMemory = "memory"
	BackendRedis  = "redis"
)

// ConfigFileEnv names the optional YAML config file
const ConfigFileEnv = "CODECK_CONFIG_FILE"

// Config holds all application configuration
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Auth          AuthConfig          `yaml:"auth"`
	Storage       StorageConfig       `yaml:"storage"`
	Observability ObservabilityConfig `yaml:"observability"`
	Usage         UsageConfig         `yaml:"usage"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string        `yaml:"host"`
	Port            string        `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	// TrustProxyHops is how many reverse proxies in front of the gateway
	// may append to X-Forwarded-For. Set it to 0 when clients reach the
	// gateway directly, or they can pick their own address and sidestep
	// rate limiting and lockout.
	TrustProxyHops int   `yaml:"trust_proxy_hops"`
	MaxBodyBytes   int64 `yaml:"max_body_bytes"`
}

// Addr returns host:port for http.Server
func (s ServerConfig) Addr() string {
	return s.Host + ":" + s.Port
}

// AuthConfig holds the access-control settings
type AuthConfig struct {
	auth.PasswordConfig `yaml:",inline"`

	RateLimitRequests int           `yaml:"rate_limit_requests"`
	RateLimitWindow   time.Duration `yaml:"rate_limit_window"`
	LockoutThreshold  int           `yaml:"lockout_threshold"`
	LockoutDuration   time.Duration `yaml:"lockout_duration"`
	SweepInterval     time.Duration `yaml:"sweep_interval"`
	AuditCapacity     int           `yaml:"audit_capacity"`
	VerifyWorkers     int           `yaml:"verify_workers"`
	SessionBackend    string        `yaml:"session_backend"`
	RateLimitBackend  string        `yaml:"rate_limit_backend"`
}

// StorageConfig holds the optional backing services
type StorageConfig struct {
	RedisURL      string `yaml:"redis_url"`
	RedisPassword string `yaml:"redis_password"`
	RedisDB       int    `yaml:"redis_db"`
	RedisPoolSize int    `yaml:"redis_pool_size"`
	RedisPrefix   string `yaml:"redis_prefix"`

	PostgresURL      string        `yaml:"postgres_url"`
	PostgresMaxConns int           `yaml:"postgres_max_conns"`
	PostgresMinConns int           `yaml:"postgres_min_conns"`
	PostgresTimeout  time.Duration `yaml:"postgres_timeout"`

	AuditDir      string `yaml:"audit_dir"`
	AuditMaxSize  int64  `yaml:"audit_max_size"`
	AuditMaxFiles int    `yaml:"audit_max_files"`
}

// ObservabilityConfig holds observability settings
type ObservabilityConfig struct {
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`

	MetricsEnabled bool `yaml:"metrics_enabled"`

	OTelEnabled        bool   `yaml:"otel_enabled"`
	OTelEndpoint       string `yaml:"otel_endpoint"`
	OTelServiceName    string `yaml:"otel_service_name"`
	OTelServiceVersion string `yaml:"otel_service_version"`
	OTelInsecure       bool   `yaml:"otel_insecure"` // Use insecure gRPC connection
}

// UsageConfig configures the agent usage endpoint
type UsageConfig struct {
	APIURL          string        `yaml:"api_url"`
	CredentialsFile string        `yaml:"credentials_file"`
	CacheTTL        time.Duration `yaml:"cache_ttl"`
}

// Default returns the built-in configuration
func Default() *Config {
	home, _ := os.UserHomeDir()
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            "8080",
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    15 * time.Second,
			IdleTimeout:     60 * time.Second,
			ShutdownTimeout: 5 * time.Second,
			TrustProxyHops:  1,
			MaxBodyBytes:    1 << 20,
		},
		Auth: AuthConfig{
			RateLimitRequests: 10,
			RateLimitWindow:   time.Minute,
			LockoutThreshold:  5,
			LockoutDuration:   15 * time.Minute,
			SweepInterval:     5 * time.Minute,
			AuditCapacity:     1000,
			VerifyWorkers:     2,
			SessionBackend:    BackendMemory,
			RateLimitBackend:  BackendMemory,
		},
		Storage: StorageConfig{
			RedisPoolSize:    10,
			RedisPrefix:      "codeck",
			PostgresMaxConns: 10,
			PostgresMinConns: 1,
			PostgresTimeout:  5 * time.Second,
			AuditMaxSize:     10 * 1024 * 1024,
			AuditMaxFiles:    5,
		},
		Observability: ObservabilityConfig{
			LogLevel:           "info",
			LogFormat:          "json",
			MetricsEnabled:     true,
			OTelEndpoint:       "localhost:4317",
			OTelServiceName:    "codeck-gateway",
			OTelServiceVersion: "dev",
			OTelInsecure:       true,
		},
		Usage: UsageConfig{
			APIURL:          "https://api.anthropic.com/api/oauth/usage",
			CredentialsFile: home + "/.claude/.credentials.json",
			CacheTTL:        60 * time.Second,
		},
	}
}

// LoadConfig builds the configuration from defaults, the optional YAML file
// named by CODECK_CONFIG_FILE, and CODECK_* environment overrides, in that
// order.
func LoadConfig() (*Config, error) {
	cfg := Default()

	if path := os.Getenv(ConfigFileEnv); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// loadFile overlays the YAML file at path onto c
func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

// applyEnv overrides fields whose environment variable is set
func (c *Config) applyEnv() {
	s := &c.Server
	s.Host = getEnv("CODECK_HOST", s.Host)
	s.Port = getEnv("CODECK_PORT", s.Port)
	s.ReadTimeout = getEnvDuration("CODECK_READ_TIMEOUT", s.ReadTimeout)
	s.WriteTimeout = getEnvDuration("CODECK_WRITE_TIMEOUT", s.WriteTimeout)
	s.IdleTimeout = getEnvDuration("CODECK_IDLE_TIMEOUT", s.IdleTimeout)
	s.ShutdownTimeout = getEnvDuration("CODECK_SHUTDOWN_TIMEOUT", s.ShutdownTimeout)
	s.TrustProxyHops = getEnvInt("CODECK_TRUST_PROXY_HOPS", s.TrustProxyHops)
	s.MaxBodyBytes = getEnvInt64("CODECK_MAX_BODY_BYTES", s.MaxBodyBytes)

	a := &c.Auth
	a.Password = getEnv("CODECK_PASSWORD", a.Password)
	a.PasswordHash = getEnv("CODECK_PASSWORD_HASH", a.PasswordHash)
	a.RateLimitRequests = getEnvInt("CODECK_RATE_LIMIT_REQUESTS", a.RateLimitRequests)
	a.RateLimitWindow = getEnvDuration("CODECK_RATE_LIMIT_WINDOW", a.RateLimitWindow)
	a.LockoutThreshold = getEnvInt("CODECK_LOCKOUT_THRESHOLD", a.LockoutThreshold)
	a.LockoutDuration = getEnvDuration("CODECK_LOCKOUT_DURATION", a.LockoutDuration)
	a.SweepInterval = getEnvDuration("CODECK_SWEEP_INTERVAL", a.SweepInterval)
	a.AuditCapacity = getEnvInt("CODECK_AUDIT_CAPACITY", a.AuditCapacity)
	a.VerifyWorkers = getEnvInt("CODECK_VERIFY_WORKERS", a.VerifyWorkers)
	a.SessionBackend = strings.ToLower(getEnv("CODECK_SESSION_BACKEND", a.SessionBackend))
	a.RateLimitBackend = strings.ToLower(getEnv("CODECK_RATE_LIMIT_BACKEND", a.RateLimitBackend))

	st := &c.Storage
	st.RedisURL = getEnv("CODECK_REDIS_URL", st.RedisURL)
	st.RedisPassword = getEnv("CODECK_REDIS_PASSWORD", st.RedisPassword)
	st.RedisDB = getEnvInt("CODECK_REDIS_DB", st.RedisDB)
	st.RedisPoolSize = getEnvInt("CODECK_REDIS_POOL_SIZE", st.RedisPoolSize)
	st.RedisPrefix = getEnv("CODECK_REDIS_PREFIX", st.RedisPrefix)
	st.PostgresURL = getEnv("CODECK_POSTGRES_URL", st.PostgresURL)
	st.PostgresMaxConns = getEnvInt("CODECK_POSTGRES_MAX_CONNS", st.PostgresMaxConns)
	st.PostgresMinConns = getEnvInt("CODECK_POSTGRES_MIN_CONNS", st.PostgresMinConns)
	st.PostgresTimeout = getEnvDuration("CODECK_POSTGRES_TIMEOUT", st.PostgresTimeout)
	st.AuditDir = getEnv("CODECK_AUDIT_DIR", st.AuditDir)
	st.AuditMaxSize = getEnvInt64("CODECK_AUDIT_MAX_SIZE", st.AuditMaxSize)
	st.AuditMaxFiles = getEnvInt("CODECK_AUDIT_MAX_FILES", st.AuditMaxFiles)

	o := &c.Observability
	o.LogLevel = getEnv("CODECK_LOG_LEVEL", o.LogLevel)
	o.LogFormat = getEnv("CODECK_LOG_FORMAT", o.LogFormat)
	o.MetricsEnabled = getEnvBool("CODECK_METRICS_ENABLED", o.MetricsEnabled)
	o.OTelEnabled = getEnvBool("CODECK_OTEL_ENABLED", o.OTelEnabled)
	o.OTelEndpoint = getEnv("CODECK_OTEL_ENDPOINT", o.OTelEndpoint)
	o.OTelServiceName = getEnv("CODECK_OTEL_SERVICE_NAME", o.OTelServiceName)
	o.OTelServiceVersion = getEnv("CODECK_OTEL_SERVICE_VERSION", o.OTelServiceVersion)
	o.OTelInsecure = getEnvBool("CODECK_OTEL_INSECURE", o.OTelInsecure)

	u := &c.Usage
	u.APIURL = getEnv("CODECK_USAGE_API_URL", u.APIURL)
	u.CredentialsFile = getEnv("CODECK_CREDENTIALS_FILE", u.CredentialsFile)
	u.CacheTTL = getEnvDuration("CODECK_USAGE_CACHE_TTL", u.CacheTTL)
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	var errs []error

	if c.Server.Port == "" {
		errs = append(errs, fmt.Errorf("server port is required"))
	}
	if c.Server.TrustProxyHops < 0 {
		errs = append(errs, fmt.Errorf("trust proxy hops must not be negative"))
	}

	if c.Auth.RateLimitRequests <= 0 || c.Auth.RateLimitWindow <= 0 {
		errs = append(errs, fmt.Errorf("rate limit requests and window must be positive"))
	}
	if c.Auth.LockoutThreshold <= 0 || c.Auth.LockoutDuration <= 0 {
		errs = append(errs, fmt.Errorf("lockout threshold and duration must be positive"))
	}
	if c.Auth.SweepInterval <= 0 {
		errs = append(errs, fmt.Errorf("sweep interval must be positive"))
	}
	if c.Auth.VerifyWorkers <= 0 {
		errs = append(errs, fmt.Errorf("verify workers must be positive"))
	}

	for name, backend := range map[string]string{
		"session backend":    c.Auth.SessionBackend,
		"rate limit backend": c.Auth.RateLimitBackend,
	} {
		switch backend {
		case BackendMemory:
		case BackendRedis:
			if c.Storage.RedisURL == "" {
				errs = append(errs, fmt.Errorf("redis URL is required for redis %s", name))
			}
		default:
			errs = append(errs, fmt.Errorf("invalid %s: %s (must be memory or redis)", name, backend))
		}
	}

	if c.Observability.OTelEnabled {
		if c.Observability.OTelEndpoint == "" {
			errs = append(errs, fmt.Errorf("OpenTelemetry endpoint is required when OTel is enabled"))
		}
		if c.Observability.OTelServiceName == "" {
			errs = append(errs, fmt.Errorf("OpenTelemetry service name is required when OTel is enabled"))
		}
	}

	return errors.Join(errs...)
}

// String renders the configuration with secrets redacted
func (c *Config) String() string {
	redacted := *c
	redacted.Auth.PasswordConfig = auth.PasswordConfig{}
	if c.Auth.Password != "" {
		redacted.Auth.Password = "[REDACTED]"
	}
	if c.Auth.PasswordHash != "" {
		redacted.Auth.PasswordHash = "[REDACTED]"
	}
	if c.Storage.RedisPassword != "" {
		redacted.Storage.RedisPassword = "[REDACTED]"
	}
	redacted.Storage.RedisURL = redactURL(c.Storage.RedisURL)
	redacted.Storage.PostgresURL = redactURL(c.Storage.PostgresURL)

	out, err := yaml.Marshal(&redacted)
	if err != nil {
		return "config: <unprintable>"
	}
	return string(out)
}

// redactURL hides the userinfo of a connection URL
func redactURL(raw string) string {
	scheme, rest, ok := strings.Cut(raw, "://")
	if !ok {
		return raw
	}
	if at := strings.LastIndex(rest, "@"); at >= 0 {
		return scheme + "://[REDACTED]@" + rest[at+1:]
	}
	return raw
}

// getEnv returns an environment variable value or a default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvBool returns a boolean environment variable or a default
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return strings.ToLower(value) == "true" || value == "1"
	}
	return defaultValue
}

// getEnvInt returns an integer environment variable or a default
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvInt64 returns an int64 environment variable or a default
func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvDuration returns a duration environment variable or a default
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
