package telemetry

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

const (
	// DefaultMetricsInterval is the default interval for metric collection
	DefaultMetricsInterval = 60 * time.Second
)

// MeterProviderOption is a function that configures the meter provider setup
type MeterProviderOption func(*meterProviderConfig)

// meterProviderConfig holds the settings used to build a meter provider
type meterProviderConfig struct {
	exporterConfig
	metricsConfig *MetricsConfig
}

// WithMeterExporter sets the service identity and OTLP destination
func WithMeterExporter(cfg *Config) MeterProviderOption {
	return func(mc *meterProviderConfig) {
		mc.exporterConfig = newExporterConfig(cfg)
	}
}

// WithMetricsConfig sets the metrics configuration
func WithMetricsConfig(mc *MetricsConfig) MeterProviderOption {
	return func(cfg *meterProviderConfig) {
		cfg.metricsConfig = mc
	}
}

// NewMeterProvider creates a new OpenTelemetry MeterProvider based on the configuration.
// Returns a no-op provider if metrics are disabled or configuration is nil.
// The caller is responsible for calling Shutdown on the returned provider.
func NewMeterProvider(ctx context.Context, opts ...MeterProviderOption) (metric.MeterProvider, error) {
	cfg := &meterProviderConfig{exporterConfig: newExporterConfig(nil)}
	for _, opt := range opts {
		opt(cfg)
	}

	// No-op provider when metrics are off
	if cfg.metricsConfig == nil || !cfg.metricsConfig.Enabled {
		slog.Debug("Metrics disabled, using no-op meter provider")
		return noop.NewMeterProvider(), nil
	}

	// Resource with the uploader's service identity
	res, err := cfg.resource(ctx)
	if err != nil {
		return nil, err
	}

	// OTLP HTTP exporter towards the telemetry collector
	exporterOpts := []otlpmetrichttp.Option{otlpmetrichttp.WithEndpoint(cfg.endpoint)}
	if cfg.insecure {
		exporterOpts = append(exporterOpts, otlpmetrichttp.WithInsecure())
	}
	if len(cfg.headers) > 0 {
		exporterOpts = append(exporterOpts, otlpmetrichttp.WithHeaders(cfg.headers))
	}
	exporter, err := otlpmetrichttp.New(ctx, exporterOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create OTLP metrics exporter: %w", err)
	}

	// Periodic reader pushing every interval
	interval := cfg.metricsConfig.GetInterval()
	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(
			sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(interval)),
		),
	)

	// Set as global meter provider
	otel.SetMeterProvider(mp)

	slog.Info("Metrics initialized",
		"endpoint", cfg.endpoint,
		"insecure", cfg.insecure,
		"interval", interval,
	)

	return mp, nil
}
