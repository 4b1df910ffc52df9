package main

import (
	"bufio"
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/term"

	"github.com/codeck/gateway/pkg/async"
	"github.com/codeck/gateway/pkg/audit"
	"github.com/codeck/gateway/pkg/auth"
	"github.com/codeck/gateway/pkg/config"
	"github.com/codeck/gateway/pkg/gateway"
	"github.com/codeck/gateway/pkg/httputil"
	"github.com/codeck/gateway/pkg/middleware"
	"github.com/codeck/gateway/pkg/observability"
	"github.com/codeck/gateway/pkg/storage"
	"github.com/codeck/gateway/pkg/usage"
)

// Set with -ldflags "-X main.version=..."
var version = "dev"

const verifyTimeout = 10 * time.Second

func main() {
	if len(os.Args) > 1 && os.Args[1] == "hash-password" {
		if err := hashPassword(os.Stdin, os.Stdout, os.Stderr); err != nil {
			fmt.Fprintln(os.Stderr, "error:", err)
			os.Exit(1)
		}
		return
	}

	configFile := flag.String("config", "", "Path to a YAML config file (overrides "+config.ConfigFileEnv+")")
	flag.Parse()

	if *configFile != "" {
		os.Setenv(config.ConfigFileEnv, *configFile)
	}

	if err := run(); err != nil {
		logrus.WithError(err).Fatal("gateway exited")
	}
}

// hashPassword reads a password, from the terminal without echo when stdin
// is one, and prints its bcrypt hash.
func hashPassword(in *os.File, out, prompt io.Writer) error {
	var password string
	if term.IsTerminal(int(in.Fd())) {
		fmt.Fprint(prompt, "Password: ")
		pw, err := term.ReadPassword(int(in.Fd()))
		fmt.Fprintln(prompt)
		if err != nil {
			return fmt.Errorf("failed to read password: %w", err)
		}
		password = string(pw)
	} else {
		line, err := bufio.NewReader(in).ReadString('\n')
		if err != nil && !errors.Is(err, io.EOF) {
			return fmt.Errorf("failed to read password: %w", err)
		}
		password = strings.TrimRight(line, "\r\n")
	}

	hash, err := auth.HashPassword(password)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(out, hash)
	return err
}

func run() error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return err
	}

	logger, err := observability.NewLogger(cfg.Observability.LogLevel, cfg.Observability.LogFormat, os.Stdout)
	if err != nil {
		return err
	}
	logger.WithField("config", cfg.String()).Debug("configuration loaded")

	ctx := context.Background()
	var steps []shutdownStep

	providers, err := observability.InitOTel(ctx, observability.OTelConfig{
		Enabled:        cfg.Observability.OTelEnabled,
		Endpoint:       cfg.Observability.OTelEndpoint,
		ServiceName:    cfg.Observability.OTelServiceName,
		ServiceVersion: cfg.Observability.OTelServiceVersion,
		Insecure:       cfg.Observability.OTelInsecure,
	}, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize OpenTelemetry: %w", err)
	}
	if providers != nil {
		steps = append(steps, shutdownStep{observability.PhaseRelease, "opentelemetry", func(ctx context.Context) error {
			return observability.ShutdownOTel(ctx, providers, logger)
		}})
	}

	// Metrics
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	var recorders observability.MultiRecorder
	var metrics *observability.Metrics
	if cfg.Observability.MetricsEnabled {
		metrics = observability.NewMetrics(registry)
		recorders = append(recorders, metrics)
	}
	if providers != nil {
		otelMetrics, err := observability.NewOTelMetrics(providers.MeterProvider)
		if err != nil {
			return err
		}
		recorders = append(recorders, otelMetrics)
	}

	// Backing services
	var redisClient *redis.Client
	if cfg.Storage.RedisURL != "" {
		redisClient, err = storage.NewRedisClient(ctx, storage.RedisConfig{
			URL:      cfg.Storage.RedisURL,
			Password: cfg.Storage.RedisPassword,
			DB:       cfg.Storage.RedisDB,
			PoolSize: cfg.Storage.RedisPoolSize,
		})
		if err != nil {
			return err
		}
		steps = append(steps, closeRedis(redisClient))
		logger.Info("connected to redis")
	}

	var db *sql.DB
	if cfg.Storage.PostgresURL != "" {
		db, err = storage.OpenPostgres(ctx, storage.PostgresConfig{
			URL:      cfg.Storage.PostgresURL,
			MaxConns: cfg.Storage.PostgresMaxConns,
			MinConns: cfg.Storage.PostgresMinConns,
			Timeout:  cfg.Storage.PostgresTimeout,
		})
		if err != nil {
			return err
		}
		steps = append(steps, closeDB(db))
		logger.Info("connected to postgres")
	}

	// Audit
	var (
		sinks    []audit.Sink
		fileSink *audit.FileSink
		dbSink   *audit.DBSink
	)
	if cfg.Storage.AuditDir != "" {
		fileSink, err = audit.NewFileSink(audit.FileSinkConfig{
			BasePath: cfg.Storage.AuditDir,
			MaxSize:  cfg.Storage.AuditMaxSize,
			MaxFiles: cfg.Storage.AuditMaxFiles,
		})
		if err != nil {
			return err
		}
		sinks = append(sinks, fileSink)
	}
	if db != nil {
		dbSink, err = audit.NewDBSink(ctx, db)
		if err != nil {
			return err
		}
		sinks = append(sinks, dbSink)
	}

	auditOpts := []audit.Option{
		audit.WithCapacity(cfg.Auth.AuditCapacity),
		audit.WithLogger(logger),
		audit.WithDropHook(func(reason string) {
			recorders.AuditDropped(context.Background(), reason)
		}),
	}
	if len(sinks) > 0 {
		auditOpts = append(auditOpts, audit.WithSink(audit.NewMultiSink(sinks...)))
	}
	auditLog := audit.NewLog(auditOpts...)
	if n, err := restoreAuditHistory(ctx, auditLog, dbSink, fileSink); err != nil {
		logger.WithError(err).Warn("failed to restore audit history")
	} else if n > 0 {
		logger.WithField("events", n).Info("restored audit history")
	}
	steps = append(steps, closeAuditLog(auditLog))

	// Gateway
	verifyPool := async.NewWorkerPool(ctx, cfg.Auth.VerifyWorkers, "password verify", verifyTimeout, async.WithPoolLogger(logger))
	steps = append(steps, shutdownStep{observability.PhaseStop, "password verifier", func(ctx context.Context) error {
		return verifyPool.Shutdown(time.Until(deadline(ctx)))
	}})

	opts := []gateway.Option{
		gateway.WithLogger(logger),
		gateway.WithRecorder(recorders),
		gateway.WithAuditLog(auditLog),
		gateway.WithVerifierRunner(verifyPool),
		gateway.WithUsage(usage.NewClient(usage.Config{
			APIURL:          cfg.Usage.APIURL,
			CredentialsFile: cfg.Usage.CredentialsFile,
			CacheTTL:        cfg.Usage.CacheTTL,
		}, usage.WithLogger(logger))),
	}

	rateLimit := &middleware.RateLimitConfig{
		RequestsPerWindow: cfg.Auth.RateLimitRequests,
		WindowDuration:    cfg.Auth.RateLimitWindow,
	}
	if cfg.Auth.SessionBackend == config.BackendRedis {
		opts = append(opts, gateway.WithSessionStore(auth.NewRedisSessionStore(redisClient, cfg.Storage.RedisPrefix)))
	}
	if cfg.Auth.RateLimitBackend == config.BackendRedis {
		opts = append(opts, gateway.WithLimiter(middleware.NewDistributedRateLimiter(redisClient, rateLimit, cfg.Storage.RedisPrefix+":ratelimit")))
	}

	gw, err := gateway.New(gateway.Config{
		Password:  cfg.Auth.PasswordConfig,
		RateLimit: rateLimit,
		Lockout: &middleware.LockoutConfig{
			Threshold: cfg.Auth.LockoutThreshold,
			Duration:  cfg.Auth.LockoutDuration,
		},
		TrustProxyHops: cfg.Server.TrustProxyHops,
		SweepInterval:  cfg.Auth.SweepInterval,
		MaxBodyBytes:   cfg.Server.MaxBodyBytes,
	}, opts...)
	if err != nil {
		return err
	}
	if !gw.Configured() {
		logger.Warn("no password configured, authentication is disabled")
	}
	warnProxyTrust(logger, cfg.Server.TrustProxyHops)

	maintenance, err := gateway.NewMaintenance(gw)
	if err != nil {
		return err
	}
	maintenance.Start()
	steps = append(steps, shutdownStep{observability.PhaseStop, "maintenance", maintenance.Stop})

	// Routes
	router := mux.NewRouter()
	router.Use(
		httputil.RecoveryMiddleware(logger),
		httputil.RequestIDMiddleware(logger),
		httputil.LoggingMiddleware(logger),
	)
	if metrics != nil {
		router.Use(observability.HTTPMetricsMiddleware(metrics))
		router.Handle("/metrics", observability.MetricsHandler(registry)).Methods(http.MethodGet)
	}
	observability.RegisterHealthRoutes(router, observability.NewHealthChecker(db, redisClient, version))
	gw.RegisterRoutes(router)

	handler := httputil.Chain(
		httputil.SecurityHeadersMiddleware,
		httputil.MaxBytesMiddleware(cfg.Server.MaxBodyBytes),
	)(router)

	server := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      otelhttp.NewHandler(handler, "codeck-gateway"),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	shutdown := observability.NewShutdownManager(logger, server, cfg.Server.ShutdownTimeout)
	registerShutdown(shutdown, steps)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	serveErr := make(chan error, 1)
	go func() {
		logger.WithFields(logrus.Fields{
			"addr":    server.Addr,
			"version": version,
		}).Info("codeck gateway listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
			cancel()
		}
		close(serveErr)
	}()

	shutdownErr := shutdown.WaitForShutdown(runCtx)
	return errors.Join(<-serveErr, shutdownErr)
}

// restoreAuditHistory seeds the in-memory audit window from durable
// storage. Postgres is preferred since it spans file rotations.
func restoreAuditHistory(ctx context.Context, l *audit.Log, db *audit.DBSink, file *audit.FileSink) (int, error) {
	var (
		events []audit.Event
		err    error
	)
	switch {
	case db != nil:
		events, err = db.Search(ctx, audit.SearchFilter{Limit: l.Capacity(), Latest: true})
	case file != nil:
		events, err = file.ReadEvents(l.Capacity())
	default:
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return l.Restore(events), nil
}

// shutdownStep is one resource to release on exit. Producers stop first,
// the audit log drains next and the stores it writes to close last.
type shutdownStep struct {
	phase observability.ShutdownPhase
	name  string
	fn    observability.ShutdownFunc
}

// warnProxyTrust flags a forwarded-address setting that a directly exposed
// gateway would let clients spoof.
func warnProxyTrust(logger logrus.FieldLogger, hops int) {
	if hops <= 0 {
		return
	}
	logger.WithField("trust_proxy_hops", hops).
		Warn("client addresses are taken from X-Forwarded-For; run behind a proxy that overwrites it or set CODECK_TRUST_PROXY_HOPS=0")
}

func closeAuditLog(l *audit.Log) shutdownStep {
	return shutdownStep{observability.PhaseFlush, "audit log", l.Close}
}

func closeDB(db *sql.DB) shutdownStep {
	return shutdownStep{observability.PhaseRelease, "postgres", func(context.Context) error { return db.Close() }}
}

func closeRedis(client *redis.Client) shutdownStep {
	return shutdownStep{observability.PhaseRelease, "redis", func(context.Context) error { return client.Close() }}
}

func registerShutdown(sm *observability.ShutdownManager, steps []shutdownStep) {
	for _, step := range steps {
		sm.RegisterShutdownFunc(step.phase, step.name, step.fn)
	}
}

func deadline(ctx context.Context) time.Time {
	if d, ok := ctx.Deadline(); ok {
		return d
	}
	return time.Now().Add(observability.DefaultShutdownTimeout)
}
