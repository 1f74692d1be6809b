package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"steamkit/adapters/jsonfile"
	mem "steamkit/adapters/memory"
	redisAdapter "steamkit/adapters/redis"
	sqlxAdapter "steamkit/adapters/sqlx"
	"steamkit/analytics"
	"steamkit/api/httpapi"
	"steamkit/config"
	"steamkit/core"
	"steamkit/engine"
	"steamkit/integrations/webhook"
	"steamkit/realtime"
	"steamkit/steam"
)

// App aggregates the assembled server components.
type App struct {
	Config    *config.Config
	Logger    *zap.Logger
	Hub       *realtime.Hub
	Service   *steam.Service
	Analytics *analytics.AnalyticsService
	Server    *http.Server
	Metrics   *MetricsServer
}

// MetricsServer serves the Prometheus registry apart from the API.
type MetricsServer struct{ *http.Server }

func provideConfig(ctx context.Context) (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	cfg.ResolveSecrets(ctx, config.NewEnvironmentSecretStore())
	if err := cfg.Platform.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func provideLogger(cfg *config.Config) (*zap.Logger, error) {
	return setupLogging(cfg.Logging)
}

func provideHub() *realtime.Hub {
	return realtime.NewHub()
}

func provideRegistry(cfg *config.Config) *prometheus.Registry {
	reg := prometheus.NewRegistry()
	if cfg.Metrics.CollectSystem {
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	}
	return reg
}

func provideStorage(ctx context.Context, cfg *config.Config, logger *zap.Logger) (engine.Storage, func(), error) {
	store, err := setupStorage(ctx, cfg.Storage, logger.Named("storage"))
	if err != nil {
		return nil, nil, err
	}
	cleanup := func() {
		if c, ok := store.(io.Closer); ok {
			if err := c.Close(); err != nil {
				logger.Warn("closing storage", zap.Error(err))
			}
		}
	}
	return store, cleanup, nil
}

func provideSchemas(cfg *config.Config) ([]core.Schema, error) {
	return loadSchemas(cfg.Platform.SchemaFile)
}

func provideService(cfg *config.Config, logger *zap.Logger, hub *realtime.Hub, store engine.Storage, schemas []core.Schema) (*steam.Service, func(), error) {
	mode, _ := engine.ParseDispatchMode(cfg.Platform.DispatchMode)
	svc, err := steam.New(
		steam.WithStorage(store),
		steam.WithRealtime(hub),
		steam.WithDispatchMode(mode),
		steam.WithQueueSize(cfg.Platform.QueueSize),
		steam.WithWorkers(cfg.Platform.Workers),
		steam.WithLogger(logger),
		steam.WithSchemas(schemas...),
		steam.WithTicketSecret([]byte(cfg.Platform.TicketSecret)),
		steam.WithTicketTTL(cfg.Platform.TicketTTL),
	)
	if err != nil {
		return nil, nil, err
	}
	if len(cfg.Analytics.Webhooks) > 0 {
		sink := webhook.New(cfg.Analytics.Webhooks, webhook.WithLogger(logger))
		svc.SubscribeAll(sink.OnCallback)
	}
	return svc, svc.Close, nil
}

// provideAnalytics attaches metrics and KPI aggregation to the callback stream.
// It returns nil when analytics are disabled; metrics still attach on their own.
func provideAnalytics(cfg *config.Config, logger *zap.Logger, reg *prometheus.Registry, svc *steam.Service, hub *realtime.Hub) (*analytics.AnalyticsService, func()) {
	var metrics *analytics.Metrics
	if cfg.Metrics.Enabled {
		bus, calls := svc.Dispatcher(), svc.Calls()
		metrics = analytics.NewMetrics(reg, analytics.Sources{
			Posted:         bus.Posted,
			Flushed:        bus.Flushed,
			CallsBegun:     calls.Begun,
			CallsCompleted: calls.Completed,
			CallsPending:   calls.Pending,
			Subscribers:    hub.Subscribers,
		})
	}
	if !cfg.Analytics.Enabled {
		if metrics != nil {
			return nil, svc.SubscribeAll(metrics.OnCallback)
		}
		return nil, func() {}
	}

	ac := &analytics.AnalyticsConfig{
		AggregationInterval: cfg.Analytics.AggregationInterval,
		ExportInterval:      cfg.Analytics.ExportInterval,
		Exporters:           []analytics.ExporterConfig{{Type: "log"}},
	}
	if cfg.Analytics.ExportEndpoint != "" {
		ac.Exporters = append(ac.Exporters, analytics.ExporterConfig{
			Type:     "http",
			Endpoint: cfg.Analytics.ExportEndpoint,
			APIKey:   cfg.Analytics.ExportAPIKey,
		})
	}
	as := analytics.NewAnalyticsService(ac, logger.Named("analytics"), metrics)
	unsubscribe := as.Attach(svc)
	return as, func() {
		unsubscribe()
		if err := as.Close(); err != nil {
			logger.Warn("closing analytics", zap.Error(err))
		}
	}
}

func provideHandler(cfg *config.Config, logger *zap.Logger, svc *steam.Service, hub *realtime.Hub, store engine.Storage) http.Handler {
	checks := map[string]func(context.Context) error{}
	if p, ok := store.(interface{ Ping(context.Context) error }); ok {
		checks["storage"] = p.Ping
	}
	return httpapi.NewMux(svc.Platform, hub, httpapi.Options{
		PathPrefix:       cfg.Server.PathPrefix,
		AllowCORSOrigin:  cfg.Server.CORSOrigin,
		APIKeys:          cfg.Security.APIKeys,
		RateLimitEnabled: cfg.Security.EnableRateLimit,
		RateLimitRPM:     cfg.Security.RateLimit.RequestsPerMinute,
		RateLimitBurst:   cfg.Security.RateLimit.BurstSize,
		RateLimitCleanup: cfg.Security.RateLimit.CleanupInterval,
		HealthChecks:     checks,
		Logger:           logger.Named("http"),
	})
}

func provideServer(cfg *config.Config, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              cfg.Server.Address,
		Handler:           handler,
		ReadHeaderTimeout: cfg.Server.ReadHeaderTimeout,
		ReadTimeout:       cfg.Server.ReadTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
		IdleTimeout:       cfg.Server.IdleTimeout,
	}
}

// provideMetricsServer serves the registry on its own address; nil when metrics are off.
func provideMetricsServer(cfg *config.Config, reg *prometheus.Registry) *MetricsServer {
	if !cfg.Metrics.Enabled {
		return nil
	}
	mux := http.NewServeMux()
	mux.Handle(cfg.Metrics.Path, promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	return &MetricsServer{&http.Server{
		Addr:              cfg.Metrics.Address,
		Handler:           mux,
		ReadHeaderTimeout: cfg.Server.ReadHeaderTimeout,
	}}
}

// setupLogging builds a zap logger from the logging section.
func setupLogging(cfg config.LoggingConfig) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		level = zapcore.InfoLevel
	}

	var encoder zapcore.Encoder
	switch cfg.Format {
	case "console":
		encoder = zapcore.NewConsoleEncoder(zap.NewDevelopmentEncoderConfig())
	default:
		ec := zap.NewProductionEncoderConfig()
		ec.EncodeTime = zapcore.ISO8601TimeEncoder
		encoder = zapcore.NewJSONEncoder(ec)
	}

	out := zapcore.Lock(os.Stdout)
	if cfg.Output == "stderr" {
		out = zapcore.Lock(os.Stderr)
	}

	logger := zap.New(zapcore.NewCore(encoder, out, level), zap.AddCaller())
	if len(cfg.Attributes) > 0 {
		fields := make([]zap.Field, 0, len(cfg.Attributes))
		for k, v := range cfg.Attributes {
			fields = append(fields, zap.String(k, v))
		}
		logger = logger.With(fields...)
	}
	zap.ReplaceGlobals(logger)
	return logger, nil
}

// setupStorage creates the appropriate storage adapter based on configuration.
func setupStorage(ctx context.Context, cfg config.StorageConfig, logger *zap.Logger) (engine.Storage, error) {
	switch cfg.Adapter {
	case "memory":
		return mem.New(), nil
	case "redis":
		return redisAdapter.New(cfg.Redis, redisAdapter.WithLogger(logger))
	case "sql":
		store, err := sqlxAdapter.New(ctx, cfg.SQL.Adapter(), sqlxAdapter.WithLogger(logger))
		if err != nil {
			return nil, err
		}
		if cfg.SQL.Migrate {
			if err := store.Migrate(ctx); err != nil {
				_ = store.Close()
				return nil, fmt.Errorf("migrate: %w", err)
			}
		}
		return store, nil
	case "file":
		return jsonfile.New(cfg.File.Path)
	default:
		return nil, fmt.Errorf("unknown storage adapter: %s", cfg.Adapter)
	}
}

// loadSchemas reads a JSON array of schemas. An empty path loads none.
func loadSchemas(path string) ([]core.Schema, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read schema file: %w", err)
	}
	return core.DecodeSchemas(data)
}
