package analytics

import (
	"context"
	"time"

	"go.uber.org/zap"

	"steamkit/core"
)

// Subscriber is the callback source analytics attaches to; *engine.Platform and
// *engine.Dispatcher both satisfy it.
type Subscriber interface {
	SubscribeAll(handler func(context.Context, core.CallbackMsg)) func()
}

// AnalyticsConfig holds configuration for analytics services
type AnalyticsConfig struct {
	AggregationInterval time.Duration    `json:"aggregation_interval"`
	ExportInterval      time.Duration    `json:"export_interval"`
	Exporters           []ExporterConfig `json:"exporters"`
}

// ExporterConfig holds configuration for individual exporters
type ExporterConfig struct {
	Type      string `json:"type"` // "http", "log"
	Endpoint  string `json:"endpoint,omitempty"`
	APIKey    string `json:"api_key,omitempty"`
	BatchSize int    `json:"batch_size,omitempty"`
}

// DefaultAnalyticsConfig aggregates hourly and exports to the log every 6 hours.
func DefaultAnalyticsConfig() *AnalyticsConfig {
	return &AnalyticsConfig{
		AggregationInterval: time.Hour,
		ExportInterval:      6 * time.Hour,
		Exporters:           []ExporterConfig{{Type: "log"}},
	}
}

// AnalyticsService bundles activity tracking, aggregation, export and
// optional Prometheus metrics behind one hook.
type AnalyticsService struct {
	config     *AnalyticsConfig
	logger     *zap.Logger
	activity   *Activity
	dau        *DAU
	metrics    *Metrics
	aggregator *AggregationEngine
	exporter   *ExportManager
	hook       *BridgeHook
}

// NewAnalyticsService creates analytics with the given configuration. metrics may be nil.
func NewAnalyticsService(config *AnalyticsConfig, logger *zap.Logger, metrics *Metrics) *AnalyticsService {
	if config == nil {
		config = DefaultAnalyticsConfig()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	activity := NewActivity()
	dau := NewDAU()

	var exporters []Exporter
	for _, ec := range config.Exporters {
		switch ec.Type {
		case "http":
			exporters = append(exporters, NewHTTPExporter(ec.Endpoint, ec.APIKey, ec.BatchSize))
		case "log":
			exporters = append(exporters, NewLogExporter(logger))
		default:
			logger.Warn("unknown analytics exporter", zap.String("type", ec.Type))
		}
	}

	hooks := []Hook{activity, dau}
	if metrics != nil {
		hooks = append(hooks, metrics)
	}

	return &AnalyticsService{
		config:     config,
		logger:     logger,
		activity:   activity,
		dau:        dau,
		metrics:    metrics,
		aggregator: NewAggregationEngine(activity, config.AggregationInterval, logger),
		exporter:   NewExportManager(exporters...),
		hook:       NewBridge(hooks...),
	}
}

// Hook returns the fan-out hook.
func (as *AnalyticsService) Hook() Hook { return as.hook }

// Attach subscribes the service to every callback of src and returns the unsubscribe func.
func (as *AnalyticsService) Attach(src Subscriber) func() {
	return src.SubscribeAll(as.hook.OnCallback)
}

// Activity exposes the underlying counters.
func (as *AnalyticsService) Activity() *Activity { return as.activity }

// DAU exposes the daily active session tracker.
func (as *AnalyticsService) DAU() *DAU { return as.dau }

// Start runs aggregation and periodic export until ctx is done.
func (as *AnalyticsService) Start(ctx context.Context) {
	go as.aggregator.Start(ctx)
	go as.startPeriodicExport(ctx)
}

func (as *AnalyticsService) startPeriodicExport(ctx context.Context) {
	ticker := time.NewTicker(as.config.ExportInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := as.Export(ctx); err != nil {
				as.logger.Warn("analytics export failed", zap.Error(err))
			}
		}
	}
}

// Export sends the current daily aggregates to every exporter.
func (as *AnalyticsService) Export(ctx context.Context) error {
	return as.exporter.ExportData(ctx, as.aggregator.GetAllAggregatedData(PeriodDaily))
}

// ForceAggregation triggers immediate aggregation (useful for testing)
func (as *AnalyticsService) ForceAggregation() error {
	return as.aggregator.AggregateNow()
}

// Aggregated returns one aggregate.
func (as *AnalyticsService) Aggregated(period AggregationPeriod, key string) (*AggregatedData, bool) {
	return as.aggregator.GetAggregatedData(period, key)
}

// Close flushes and closes the exporters.
func (as *AnalyticsService) Close() error {
	return as.exporter.Close()
}
