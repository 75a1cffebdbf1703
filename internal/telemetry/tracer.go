package telemetry

import (
	"context"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// TracerProviderOption is a function that configures the tracer provider setup
type TracerProviderOption func(*tracerProviderConfig)

// tracerProviderConfig holds the settings used to build a tracer provider
type tracerProviderConfig struct {
	exporterConfig
	tracingConfig *TracingConfig
}

// WithTracerExporter sets the service identity and OTLP destination
func WithTracerExporter(cfg *Config) TracerProviderOption {
	return func(tc *tracerProviderConfig) {
		tc.exporterConfig = newExporterConfig(cfg)
	}
}

// WithTracingConfig sets the tracing configuration
func WithTracingConfig(tc *TracingConfig) TracerProviderOption {
	return func(cfg *tracerProviderConfig) {
		cfg.tracingConfig = tc
	}
}

// NewTracerProvider creates a new OpenTelemetry TracerProvider based on the configuration.
// Returns a no-op provider if tracing is disabled or configuration is nil.
// The caller is responsible for calling Shutdown on the returned provider.
func NewTracerProvider(ctx context.Context, opts ...TracerProviderOption) (trace.TracerProvider, error) {
	cfg := &tracerProviderConfig{exporterConfig: newExporterConfig(nil)}
	for _, opt := range opts {
		opt(cfg)
	}

	// No-op provider when tracing is off
	if cfg.tracingConfig == nil || !cfg.tracingConfig.Enabled {
		slog.Debug("Tracing disabled, using no-op tracer provider")
		return noop.NewTracerProvider(), nil
	}

	// Resource with the uploader's service identity
	res, err := cfg.resource(ctx)
	if err != nil {
		return nil, err
	}

	// OTLP HTTP exporter towards the telemetry collector
	exporterOpts := []otlptracehttp.Option{otlptracehttp.WithEndpoint(cfg.endpoint)}
	if cfg.insecure {
		exporterOpts = append(exporterOpts, otlptracehttp.WithInsecure())
	}
	if len(cfg.headers) > 0 {
		exporterOpts = append(exporterOpts, otlptracehttp.WithHeaders(cfg.headers))
	}
	exporter, err := otlptracehttp.New(ctx, exporterOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create OTLP tracing exporter: %w", err)
	}

	// Batch span processor, sampling follows the parent span
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithResource(res),
		sdktrace.WithBatcher(exporter),
		sdktrace.WithSampler(sdktrace.ParentBased(
			sdktrace.TraceIDRatioBased(cfg.tracingConfig.GetSampling()),
		)),
	)

	// Set as global tracer provider with W3C Trace Context propagation
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	if cfg.insecure {
		slog.Warn("Tracing configured with insecure connection - telemetry data will be transmitted over unencrypted HTTP")
	}

	slog.Info("Tracing initialized",
		"endpoint", cfg.endpoint,
		"sampling_ratio", cfg.tracingConfig.GetSampling(),
		"insecure", cfg.insecure,
	)

	return tp, nil
}
