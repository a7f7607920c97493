// Command server starts the SoundFlow API HTTP service.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"soundflow/internal/api"
	"soundflow/internal/auth"
	"soundflow/internal/observability/logging"
	"soundflow/internal/observability/metrics"
	"soundflow/internal/server"
	"soundflow/internal/serverutil"
	"soundflow/internal/storage"
)

func main() {
	addr := flag.String("addr", "", "HTTP listen address")
	storageDriver := flag.String("storage-driver", "", "datastore driver (memory or postgres)")
	postgresDSN := flag.String("postgres-dsn", "", "Postgres connection string")
	postgresMaxConns := flag.Int("postgres-max-conns", 0, "maximum connections in the Postgres pool")
	postgresMinConns := flag.Int("postgres-min-conns", 0, "minimum idle connections maintained by the Postgres pool")
	postgresMaxConnLifetime := flag.Duration("postgres-max-conn-lifetime", 0, "maximum lifetime for a pooled Postgres connection")
	postgresMaxConnIdle := flag.Duration("postgres-max-conn-idle", 0, "maximum idle time for a pooled Postgres connection")
	postgresHealthInterval := flag.Duration("postgres-health-interval", 0, "interval between Postgres health checks")
	postgresAcquireTimeout := flag.Duration("postgres-acquire-timeout", 0, "timeout when acquiring a Postgres connection from the pool")
	postgresAppName := flag.String("postgres-app-name", "", "application_name reported to Postgres")
	appSecret := flag.String("app-secret", "", "32-character shared secret required by the track endpoints")
	tokenSecret := flag.String("token-secret", "", "HMAC secret for signing auth tokens")
	tlsCert := flag.String("tls-cert", "", "path to TLS certificate file")
	tlsKey := flag.String("tls-key", "", "path to TLS private key file")
	corsOrigins := flag.String("cors-origins", "", "comma-separated origins allowed cross-origin access (empty allows all)")
	logLevel := flag.String("log-level", "info", "log level (debug, info, warn, error)")
	logFormat := flag.String("log-format", "", "log output format (json or text)")
	globalRPS := flag.Float64("rate-global-rps", 0, "global request rate limit in requests per second")
	globalBurst := flag.Int("rate-global-burst", 0, "global rate limit burst allowance")
	loginLimit := flag.Int("rate-login-limit", 0, "maximum login attempts per window for a single IP")
	loginWindow := flag.Duration("rate-login-window", 0, "window for counting login attempts")
	redisAddr := flag.String("rate-redis-addr", "", "Redis address for distributed login throttling")
	redisUsername := flag.String("rate-redis-username", "", "Redis username for distributed login throttling")
	redisPassword := flag.String("rate-redis-password", "", "Redis password for distributed login throttling")
	redisTimeout := flag.Duration("rate-redis-timeout", 0, "timeout for Redis operations")
	shutdownTimeout := flag.Duration("shutdown-timeout", 0, "graceful shutdown deadline")
	flag.Parse()

	logger := logging.Init(logging.Config{
		Level:  firstNonEmpty(*logLevel, os.Getenv("SOUNDFLOW_LOG_LEVEL")),
		Format: firstNonEmpty(*logFormat, os.Getenv("SOUNDFLOW_LOG_FORMAT")),
	})
	auditLogger := logging.WithComponent(logger, "audit")
	recorder := metrics.Default()

	secret := firstNonEmpty(*appSecret, os.Getenv("SOUNDFLOW_APP_SECRET"))
	if len(secret) != 32 {
		logger.Error("app secret must be exactly 32 characters", "length", len(secret))
		os.Exit(1)
	}

	issuer, err := auth.NewTokenIssuer(firstNonEmpty(*tokenSecret, os.Getenv("SOUNDFLOW_TOKEN_SECRET")))
	if err != nil {
		logger.Error("failed to configure token issuer", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	resolvedDSN := strings.TrimSpace(firstNonEmpty(*postgresDSN, os.Getenv("SOUNDFLOW_POSTGRES_DSN"), os.Getenv("DATABASE_URL")))
	driver, err := resolveStorageDriver(*storageDriver, os.Getenv("SOUNDFLOW_STORAGE_DRIVER"), resolvedDSN)
	if err != nil {
		logger.Error("failed to resolve storage driver", "error", err)
		os.Exit(1)
	}

	var store storage.Repository
	switch driver {
	case "memory":
		store = storage.NewMemoryRepository()
	case "postgres":
		if resolvedDSN == "" {
			logger.Error("postgres storage selected without DSN")
			os.Exit(1)
		}
		var pgOptions []storage.Option
		maxConns := resolveInt(*postgresMaxConns, "SOUNDFLOW_POSTGRES_MAX_CONNS")
		minConns := resolveInt(*postgresMinConns, "SOUNDFLOW_POSTGRES_MIN_CONNS")
		if maxConns > 0 || minConns > 0 {
			pgOptions = append(pgOptions, storage.WithPoolLimits(int32(maxConns), int32(minConns)))
		}
		maxLifetime := resolveDuration(*postgresMaxConnLifetime, "SOUNDFLOW_POSTGRES_MAX_CONN_LIFETIME", 0)
		maxIdle := resolveDuration(*postgresMaxConnIdle, "SOUNDFLOW_POSTGRES_MAX_CONN_IDLE", 0)
		healthInterval := resolveDuration(*postgresHealthInterval, "SOUNDFLOW_POSTGRES_HEALTH_INTERVAL", 0)
		if maxLifetime > 0 || maxIdle > 0 || healthInterval > 0 {
			pgOptions = append(pgOptions, storage.WithPoolDurations(maxLifetime, maxIdle, healthInterval))
		}
		if acquireTimeout := resolveDuration(*postgresAcquireTimeout, "SOUNDFLOW_POSTGRES_ACQUIRE_TIMEOUT", 0); acquireTimeout > 0 {
			pgOptions = append(pgOptions, storage.WithAcquireTimeout(acquireTimeout))
		}
		if appName := firstNonEmpty(*postgresAppName, os.Getenv("SOUNDFLOW_POSTGRES_APP_NAME")); appName != "" {
			pgOptions = append(pgOptions, storage.WithApplicationName(appName))
		}
		store, err = storage.NewPostgresRepository(ctx, resolvedDSN, pgOptions...)
		if err != nil {
			logger.Error("failed to open datastore", "error", err)
			os.Exit(1)
		}
	default:
		logger.Error("unsupported storage driver", "driver", driver)
		os.Exit(1)
	}

	handler := api.NewHandler(store, issuer, secret, logger)
	handler.Metrics = recorder

	rateCfg := server.RateLimitConfig{
		GlobalRPS:     resolveFloat(*globalRPS, "SOUNDFLOW_RATE_GLOBAL_RPS"),
		GlobalBurst:   resolveInt(*globalBurst, "SOUNDFLOW_RATE_GLOBAL_BURST"),
		LoginLimit:    resolveInt(*loginLimit, "SOUNDFLOW_RATE_LOGIN_LIMIT"),
		LoginWindow:   resolveDuration(*loginWindow, "SOUNDFLOW_RATE_LOGIN_WINDOW", time.Minute),
		RedisAddr:     firstNonEmpty(*redisAddr, os.Getenv("SOUNDFLOW_RATE_REDIS_ADDR")),
		RedisUsername: firstNonEmpty(*redisUsername, os.Getenv("SOUNDFLOW_RATE_REDIS_USERNAME")),
		RedisPassword: firstNonEmpty(*redisPassword, os.Getenv("SOUNDFLOW_RATE_REDIS_PASSWORD")),
		RedisTimeout:  resolveDuration(*redisTimeout, "SOUNDFLOW_RATE_REDIS_TIMEOUT", 2*time.Second),
	}

	tlsCfg := server.TLSConfig{
		CertFile: firstNonEmpty(*tlsCert, os.Getenv("SOUNDFLOW_TLS_CERT")),
		KeyFile:  firstNonEmpty(*tlsKey, os.Getenv("SOUNDFLOW_TLS_KEY")),
	}

	listenAddr := firstNonEmpty(*addr, os.Getenv("SOUNDFLOW_ADDR"))
	if listenAddr == "" {
		listenAddr = ":8080"
	}

	srv, err := server.New(handler, server.Config{
		Addr:        listenAddr,
		TLS:         tlsCfg,
		CORS:        server.CORSConfig{AllowedOrigins: splitList(firstNonEmpty(*corsOrigins, os.Getenv("SOUNDFLOW_CORS_ORIGINS")))},
		RateLimit:   rateCfg,
		Logger:      logger,
		AuditLogger: auditLogger,
		Metrics:     recorder,
	})
	if err != nil {
		logger.Error("failed to initialise server", "error", err)
		os.Exit(1)
	}

	logger.Info("SoundFlow API listening", "addr", listenAddr, "storage_driver", driver)
	if tlsCfg.CertFile != "" && tlsCfg.KeyFile != "" {
		logger.Info("TLS enabled", "cert_file", tlsCfg.CertFile)
	}
	logger.Info("metrics endpoint available", "path", "/metrics")

	certFile, keyFile := srv.TLSFiles()
	runErr := serverutil.Run(ctx, serverutil.Config{
		Server:          srv.HTTPServer(),
		TLS:             serverutil.TLSConfig{CertFile: certFile, KeyFile: keyFile},
		ShutdownTimeout: resolveDuration(*shutdownTimeout, "SOUNDFLOW_SHUTDOWN_TIMEOUT", serverutil.DefaultShutdownTimeout),
	})
	if runErr != nil {
		logger.Error("server error", "error", runErr)
	}
	if err := srv.Close(); err != nil {
		logger.Warn("failed to release server resources", "error", err)
	}

	closeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if closer, ok := store.(interface{ Close(context.Context) error }); ok {
		if err := closer.Close(closeCtx); err != nil {
			logger.Warn("failed to close datastore", "error", err)
		}
	}

	logger.Info("server stopped")
	if runErr != nil {
		os.Exit(1)
	}
}

func resolveStorageDriver(flagValue, envValue, dsn string) (string, error) {
	if driver := strings.ToLower(strings.TrimSpace(flagValue)); driver != "" {
		return driver, nil
	}
	if driver := strings.ToLower(strings.TrimSpace(envValue)); driver != "" {
		return driver, nil
	}
	if strings.TrimSpace(dsn) != "" {
		return "postgres", nil
	}
	return "memory", nil
}

func splitList(value string) []string {
	if value == "" {
		return nil
	}
	var out []string
	for _, item := range strings.Split(value, ",") {
		if trimmed := strings.TrimSpace(item); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		trimmed := strings.TrimSpace(value)
		if trimmed != "" {
			return trimmed
		}
	}
	return ""
}

func resolveFloat(flagValue float64, envKey string) float64 {
	if flagValue > 0 {
		return flagValue
	}
	if env := os.Getenv(envKey); env != "" {
		if value, err := strconv.ParseFloat(strings.TrimSpace(env), 64); err == nil {
			return value
		}
	}
	return 0
}

func resolveInt(flagValue int, envKey string) int {
	if flagValue > 0 {
		return flagValue
	}
	if env := os.Getenv(envKey); env != "" {
		if value, err := strconv.Atoi(strings.TrimSpace(env)); err == nil {
			return value
		}
	}
	return 0
}

func resolveDuration(flagValue time.Duration, envKey string, fallback time.Duration) time.Duration {
	if flagValue > 0 {
		return flagValue
	}
	if env := os.Getenv(envKey); env != "" {
		if value, err := time.ParseDuration(env); err == nil {
			return value
		}
	}
	if fallback > 0 {
		return fallback
	}
	return 0
}
