package serverapp

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"omnifetch/internal/config"
	"omnifetch/internal/dbexec"
	"omnifetch/internal/fetch"
	"omnifetch/internal/handler"
	"omnifetch/internal/logging"
	"omnifetch/internal/middleware"
	"omnifetch/internal/naming"
	"omnifetch/internal/observability"
	"omnifetch/internal/planner"
	"omnifetch/internal/schema"
	"omnifetch/internal/schemafilter"
	"omnifetch/internal/sqlstore"

	"github.com/XSAM/otelsql"
	_ "github.com/go-sql-driver/mysql"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	_ "modernc.org/sqlite"
)

func exporterConfig(c config.OTLPConfig) observability.OTLPExporterConfig {
	return observability.OTLPExporterConfig{
		Endpoint:          c.Endpoint,
		Protocol:          c.Protocol,
		Insecure:          c.Insecure,
		TLSCertFile:       c.TLSCertFile,
		TLSClientCertFile: c.TLSClientCertFile,
		TLSClientKeyFile:  c.TLSClientKeyFile,
		Headers:           c.Headers,
		Timeout:           c.Timeout,
		Compression:       c.Compression,
		RetryEnabled:      c.RetryEnabled,
		RetryMaxAttempts:  c.RetryMaxAttempts,
	}
}

func otelConfig(cfg *config.Config, exporter config.OTLPConfig) observability.Config {
	return observability.Config{
		ServiceName:      cfg.Observability.ServiceName,
		ServiceVersion:   cfg.Observability.ServiceVersion,
		Environment:      cfg.Observability.Environment,
		TraceSampleRatio: cfg.Observability.TraceSampleRatio,
		Exporter:         exporterConfig(exporter),
	}
}

// InitLogger builds the process logger. With log exports enabled it also
// starts the OTLP logger provider and tees records into it; the caller owns
// the returned provider.
func InitLogger(cfg *config.Config) (*logging.Logger, *observability.LoggerProvider, error) {
	loggerCfg := logging.Config{
		Level:  cfg.Observability.Logging.Level,
		Format: cfg.Observability.Logging.Format,
	}
	logger := logging.NewLogger(loggerCfg)
	slog.SetDefault(logger.Logger)

	if !cfg.Observability.Logging.ExportsEnabled {
		return logger, nil, nil
	}

	logsConfig := cfg.Observability.GetLogsConfig()
	logger.Info("initializing OpenTelemetry logging",
		slog.String("service_name", cfg.Observability.ServiceName),
		slog.String("otlp_endpoint", logsConfig.Endpoint),
		slog.String("otlp_protocol", logsConfig.Protocol),
		slog.Bool("insecure", logsConfig.Insecure),
	)

	loggerProvider, err := observability.InitLoggerProvider(otelConfig(cfg, logsConfig))
	if err != nil {
		return nil, nil, err
	}

	loggerCfg.LoggerProvider = loggerProvider.Provider()
	logger = logging.NewLogger(loggerCfg)
	slog.SetDefault(logger.Logger)
	logger.Info("OpenTelemetry logging initialized")

	return logger, loggerProvider, nil
}

func initMetrics(cfg *config.Config, logger *logging.Logger) (*observability.MeterProvider, *observability.FetchMetrics, error) {
	if !cfg.Observability.MetricsEnabled {
		return nil, nil, nil
	}

	meterProvider, err := observability.InitMeterProvider(otelConfig(cfg, config.OTLPConfig{}))
	if err != nil {
		return nil, nil, err
	}
	fetchMetrics, err := observability.InitMetrics(logger.Logger)
	if err != nil {
		_ = meterProvider.Shutdown(context.Background(), logger.Logger)
		return nil, nil, err
	}

	logger.Info("OpenTelemetry metrics initialized",
		slog.String("service_name", cfg.Observability.ServiceName),
		slog.String("environment", cfg.Observability.Environment),
	)
	return meterProvider, fetchMetrics, nil
}

func initTracing(cfg *config.Config, logger *logging.Logger) (*observability.TracerProvider, error) {
	if !cfg.Observability.TracingEnabled {
		return nil, nil
	}

	tracesConfig := cfg.Observability.GetTracesConfig()
	tracerProvider, err := observability.InitTracerProvider(otelConfig(cfg, tracesConfig))
	if err != nil {
		return nil, err
	}

	logger.Info("OpenTelemetry tracing initialized",
		slog.String("otlp_endpoint", tracesConfig.Endpoint),
		slog.String("otlp_protocol", tracesConfig.Protocol),
		slog.Float64("sample_ratio", cfg.Observability.TraceSampleRatio),
	)
	return tracerProvider, nil
}

// connectDB opens the configured driver, instrumented through otelsql when
// metrics or tracing are on. The pool is not contacted here.
func connectDB(cfg *config.Config, logger *logging.Logger) (*sql.DB, interface{ Unregister() error }, error) {
	if err := cfg.Database.RegisterTLS(); err != nil {
		return nil, nil, fmt.Errorf("failed to register database TLS config: %w", err)
	}

	driver := cfg.Database.DriverName()
	dsn := cfg.Database.DSN()
	obs := cfg.Observability

	if !obs.MetricsEnabled && !obs.TracingEnabled {
		db, err := sql.Open(driver, dsn)
		if err != nil {
			return nil, nil, err
		}
		return db, nil, nil
	}

	system := semconv.DBSystemKey.String(driver)
	opts := []otelsql.Option{otelsql.WithAttributes(system)}
	if obs.TracingEnabled {
		opts = append(opts, otelsql.WithSpanOptions(otelsql.SpanOptions{DisableErrSkip: true}))
	}
	sqlCommenter := obs.SQLCommenterEnabled && obs.TracingEnabled
	if sqlCommenter {
		opts = append(opts, otelsql.WithSQLCommenter(true))
	} else if obs.SQLCommenterEnabled {
		logger.Warn("SQLCommenter requires tracing to be enabled - skipping SQLCommenter")
	}

	db, err := otelsql.Open(driver, dsn, opts...)
	if err != nil {
		return nil, nil, err
	}

	var dbStatsReg interface{ Unregister() error }
	if obs.MetricsEnabled {
		dbStatsReg, err = otelsql.RegisterDBStatsMetrics(db, otelsql.WithAttributes(system))
		if err != nil {
			logger.Warn("failed to register DB stats metrics", slog.String("error", err.Error()))
		}
	}

	logger.Info("database instrumentation enabled",
		slog.String("driver", driver),
		slog.Bool("metrics", obs.MetricsEnabled),
		slog.Bool("tracing", obs.TracingEnabled),
		slog.Bool("sqlcommenter", sqlCommenter),
	)
	return db, dbStatsReg, nil
}

func configureDatabase(ctx context.Context, cfg *config.Config, logger *logging.Logger, db *sql.DB) error {
	pool := cfg.Database.Pool
	if cfg.Database.DriverName() == config.DriverSQLite && cfg.Database.DSN() == ":memory:" {
		// Each connection to :memory: is a separate database.
		pool.MaxOpen, pool.MaxIdle, pool.MaxLifetime = 1, 1, 0
	}
	db.SetMaxOpenConns(pool.MaxOpen)
	db.SetMaxIdleConns(pool.MaxIdle)
	db.SetConnMaxLifetime(pool.MaxLifetime)

	if err := waitForDatabase(ctx, cfg, logger, db); err != nil {
		return err
	}

	logger.Info("connected to database",
		slog.String("driver", cfg.Database.DriverName()),
		slog.String("database", cfg.Database.Database),
		slog.Int("pool_max_open", pool.MaxOpen),
		slog.Int("pool_max_idle", pool.MaxIdle),
		slog.Duration("pool_max_lifetime", pool.MaxLifetime),
	)
	return nil
}

// waitForDatabase pings until the database answers, backing off
// exponentially up to 30s between attempts. A zero connection timeout means
// a single attempt.
func waitForDatabase(ctx context.Context, cfg *config.Config, logger *logging.Logger, db *sql.DB) error {
	timeout := cfg.Database.ConnectionTimeout
	interval := cfg.Database.ConnectionRetryInterval

	if timeout == 0 {
		return db.PingContext(ctx)
	}

	deadline := time.Now().Add(timeout)
	for attempt := 1; ; attempt++ {
		err := db.PingContext(ctx)
		if err == nil {
			if attempt > 1 {
				logger.Info("database connection established", slog.Int("attempts", attempt))
			}
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("database not available after %v: %w", timeout, err)
		}

		logger.Warn("database not ready, retrying...",
			slog.Int("attempt", attempt),
			slog.Duration("retry_in", interval),
			slog.String("error", err.Error()),
		)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(interval):
		}
		interval = min(interval*2, 30*time.Second)
	}
}

// loadCatalog reads the catalogue file when one is configured and otherwise
// introspects the database schema.
func loadCatalog(ctx context.Context, cfg *config.Config, logger *logging.Logger, db *sql.DB) (*schema.Catalog, error) {
	if file := strings.TrimSpace(cfg.Schema.File); file != "" {
		catalog, err := schema.LoadFile(file)
		if err != nil {
			return nil, err
		}
		if catalog, err = schemafilter.Apply(catalog, cfg.Schema.Filters); err != nil {
			return nil, fmt.Errorf("failed to apply schema filters: %w", err)
		}
		logger.Info("entity catalogue loaded",
			slog.String("source", "file"),
			slog.String("file", file),
			slog.Int("entities", len(catalog.Names())),
		)
		return catalog, nil
	}

	if cfg.Database.DriverName() != config.DriverMySQL {
		return nil, errors.New("schema introspection requires the mysql driver; set schema.file")
	}
	database, err := cfg.Database.EffectiveDatabaseName()
	if err != nil {
		return nil, err
	}

	namer := naming.New(cfg.Schema.Naming, logger.Logger)
	catalog, err := schema.Introspect(ctx, db, database, namer)
	if err != nil {
		return nil, err
	}
	if catalog, err = schemafilter.Apply(catalog, cfg.Schema.Filters); err != nil {
		return nil, fmt.Errorf("failed to apply schema filters: %w", err)
	}
	logger.Info("entity catalogue loaded",
		slog.String("source", "introspection"),
		slog.String("database", database),
		slog.Int("entities", len(catalog.Names())),
	)
	return catalog, nil
}

func buildFetcher(cfg *config.Config, db *sql.DB, catalog *schema.Catalog, fetchMetrics *observability.FetchMetrics) (*fetch.Fetcher, error) {
	dialect, err := planner.DialectFor(cfg.Database.DriverName())
	if err != nil {
		return nil, err
	}
	store := sqlstore.New(dbexec.NewStandardExecutor(db), catalog, dialect)
	return fetch.New(store,
		fetch.WithMetrics(fetchMetrics),
		fetch.WithDefaultPageSize(cfg.Fetch.DefaultPageSize),
		fetch.WithMaxPageSize(cfg.Fetch.MaxPageSize),
		fetch.WithEmbedConcurrency(cfg.Fetch.EmbedConcurrency),
	), nil
}

func buildRouter(cfg *config.Config, logger *logging.Logger, db *sql.DB, fetcher handler.Fetcher, catalog handler.Catalog, meterProvider *observability.MeterProvider) *http.ServeMux {
	mux := http.NewServeMux()
	handler.New(fetcher, catalog, handler.WithMaxBodyBytes(cfg.Server.MaxBodyBytes)).Register(mux)

	mux.HandleFunc("GET /health", healthHandler(db, cfg.Server.HealthCheckTimeout))
	if cfg.Observability.MetricsEnabled && meterProvider != nil {
		mux.Handle("GET /metrics", promhttp.Handler())
		logger.Info("metrics endpoint enabled", slog.String("path", "/metrics"))
	}
	return mux
}

// wrapHTTPHandler applies the middleware chain. From the outside in:
// instrumentation, CORS, rate limiting, request logging, request timeout.
func wrapHTTPHandler(cfg *config.Config, logger *logging.Logger, h http.Handler) http.Handler {
	h = middleware.TimeoutMiddleware(cfg.Server.RequestTimeout)(h)
	h = middleware.LoggingMiddleware(logger)(h)
	h = middleware.RateLimitMiddleware(middleware.RateLimitConfig{
		Enabled: cfg.Server.RateLimit.Enabled,
		RPS:     cfg.Server.RateLimit.RPS,
		Burst:   cfg.Server.RateLimit.Burst,
	})(h)
	h = middleware.CORSMiddleware(middleware.CORSConfig{
		Enabled:          cfg.Server.CORS.Enabled,
		AllowedOrigins:   cfg.Server.CORS.AllowedOrigins,
		AllowedMethods:   cfg.Server.CORS.AllowedMethods,
		AllowedHeaders:   cfg.Server.CORS.AllowedHeaders,
		ExposeHeaders:    cfg.Server.CORS.ExposeHeaders,
		AllowCredentials: cfg.Server.CORS.AllowCredentials,
		MaxAge:           cfg.Server.CORS.MaxAge,
	})(h)

	if cfg.Observability.MetricsEnabled || cfg.Observability.TracingEnabled {
		h = otelhttp.NewHandler(h, "http.server",
			otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
				return httpRootSpanName(r)
			}),
		)
		logger.Info("HTTP instrumentation enabled")
	}
	return h
}

func httpRootSpanName(r *http.Request) string {
	if r == nil {
		return "HTTP /*"
	}
	method := strings.TrimSpace(r.Method)
	if method == "" {
		method = "HTTP"
	}
	return method + " " + normalizeHTTPSpanRoute(r.URL.Path)
}

// normalizeHTTPSpanRoute folds entity names out of span names to keep their
// cardinality bounded.
func normalizeHTTPSpanRoute(rawPath string) string {
	switch rawPath {
	case "/health", "/metrics", "/entities":
		return rawPath
	}
	rest, ok := strings.CutPrefix(rawPath, "/entities/")
	if !ok || rest == "" {
		return "/*"
	}
	switch entity, suffix, nested := strings.Cut(rest, "/"); {
	case entity == "":
		return "/*"
	case !nested:
		return "/entities/{entity}"
	case suffix == "one":
		return "/entities/{entity}/one"
	default:
		return "/*"
	}
}

func buildServer(cfg *config.Config, h http.Handler, serverAddr string) *http.Server {
	return &http.Server{
		Addr:         serverAddr,
		Handler:      h,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}
}

func startServer(cfg *config.Config, logger *logging.Logger, srv *http.Server) chan error {
	serverErrors := make(chan error, 1)
	go func() {
		logAttrs := []any{
			slog.String("address", srv.Addr),
			slog.String("entities_endpoint", "/entities"),
			slog.String("health_endpoint", "/health"),
			slog.Int("default_page_size", cfg.Fetch.DefaultPageSize),
			slog.Int("max_page_size", cfg.Fetch.MaxPageSize),
			slog.Int("embed_concurrency", cfg.Fetch.EmbedConcurrency),
			slog.Duration("request_timeout", cfg.Server.RequestTimeout),
		}
		if cfg.Observability.MetricsEnabled {
			logAttrs = append(logAttrs, slog.String("metrics_endpoint", "/metrics"))
		}
		if cfg.Server.RateLimit.Enabled {
			logAttrs = append(logAttrs,
				slog.Float64("rate_limit_rps", cfg.Server.RateLimit.RPS),
				slog.Int("rate_limit_burst", cfg.Server.RateLimit.Burst),
			)
		}
		logger.Info("server starting", logAttrs...)

		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErrors <- fmt.Errorf("server failed: %w", err)
		}
	}()
	return serverErrors
}

// healthHandler reports database reachability. Failures return a generic
// body so driver errors stay in the logs.
func healthHandler(db *sql.DB, timeout time.Duration) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		reqLogger := logging.FromContext(r.Context())
		w.Header().Set("Content-Type", "application/json")

		ctx := r.Context()
		if timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, timeout)
			defer cancel()
		}

		if err := db.PingContext(ctx); err != nil {
			reqLogger.Error("health check failed",
				slog.String("error", err.Error()),
				slog.String("check", "database"),
			)
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = fmt.Fprint(w, `{"status":"unhealthy","database":"failed"}`)
			return
		}

		reqLogger.Debug("health check passed")
		w.WriteHeader(http.StatusOK)
		_, _ = fmt.Fprint(w, `{"status":"healthy","database":"ok"}`)
	}
}
