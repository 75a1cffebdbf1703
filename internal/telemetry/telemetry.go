package telemetry

import (
	"context"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
)

// Telemetry encapsulates OpenTelemetry providers and handles their lifecycle
type Telemetry struct {
	tracerProvider trace.TracerProvider
	meterProvider  metric.MeterProvider
}

// Option is a function that configures the telemetry setup
type Option func(*telemetryConfig)

// telemetryConfig holds the options collected by New
type telemetryConfig struct {
	config *Config
}

// WithTelemetryConfig sets the telemetry configuration
func WithTelemetryConfig(cfg *Config) Option {
	return func(tc *telemetryConfig) {
		tc.config = cfg
	}
}

// New creates and initializes a new Telemetry instance based on the configuration.
// If telemetry is disabled or configuration is nil, returns a Telemetry with no-op providers.
// The caller is responsible for calling Shutdown when the application exits.
func New(ctx context.Context, opts ...Option) (*Telemetry, error) {
	cfg := &telemetryConfig{}
	for _, opt := range opts {
		opt(cfg)
	}

	if cfg.config == nil || !cfg.config.Enabled {
		slog.Debug("Telemetry disabled")
		return newNoOpTelemetry(ctx)
	}

	if err := cfg.config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid telemetry configuration: %w", err)
	}

	slog.Info("Initializing telemetry",
		"service_name", cfg.config.GetServiceName(),
		"service_version", cfg.config.GetServiceVersion(),
	)

	tracerProvider, err := NewTracerProvider(ctx,
		WithTracerExporter(cfg.config),
		WithTracingConfig(cfg.config.Tracing),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create tracer provider: %w", err)
	}

	meterProvider, err := NewMeterProvider(ctx,
		WithMeterExporter(cfg.config),
		WithMetricsConfig(cfg.config.Metrics),
	)
	if err != nil {
		if shutdownable, ok := tracerProvider.(*sdktrace.TracerProvider); ok {
			_ = shutdownable.Shutdown(ctx)
		}
		return nil, fmt.Errorf("failed to create meter provider: %w", err)
	}

	return &Telemetry{
		tracerProvider: tracerProvider,
		meterProvider:  meterProvider,
	}, nil
}

func newNoOpTelemetry(ctx context.Context) (*Telemetry, error) {
	tracerProvider, err := NewTracerProvider(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create no-op tracer provider: %w", err)
	}

	meterProvider, err := NewMeterProvider(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create no-op meter provider: %w", err)
	}

	return &Telemetry{
		tracerProvider: tracerProvider,
		meterProvider:  meterProvider,
	}, nil
}

// TracerProvider returns the configured tracer provider
func (t *Telemetry) TracerProvider() trace.TracerProvider {
	return t.tracerProvider
}

// MeterProvider returns the configured meter provider
func (t *Telemetry) MeterProvider() metric.MeterProvider {
	return t.meterProvider
}

// Tracer returns a named tracer from the tracer provider
func (t *Telemetry) Tracer(name string, opts ...trace.TracerOption) trace.Tracer {
	return t.tracerProvider.Tracer(name, opts...)
}

// ForceFlush exports everything recorded so far. One-shot commands call it
// before exiting so that short runs are not lost between export intervals.
func (t *Telemetry) ForceFlush(ctx context.Context) error {
	return t.each(ctx, "flush",
		func(ctx context.Context, tp *sdktrace.TracerProvider) error { return tp.ForceFlush(ctx) },
		func(ctx context.Context, mp *sdkmetric.MeterProvider) error { return mp.ForceFlush(ctx) },
	)
}

// Shutdown flushes and stops both providers concurrently
func (t *Telemetry) Shutdown(ctx context.Context) error {
	err := t.each(ctx, "shutdown",
		func(ctx context.Context, tp *sdktrace.TracerProvider) error { return tp.Shutdown(ctx) },
		func(ctx context.Context, mp *sdkmetric.MeterProvider) error { return mp.Shutdown(ctx) },
	)
	if err != nil {
		return err
	}
	slog.Debug("Telemetry shutdown complete")
	return nil
}

func (t *Telemetry) each(
	ctx context.Context,
	op string,
	traces func(context.Context, *sdktrace.TracerProvider) error,
	metrics func(context.Context, *sdkmetric.MeterProvider) error,
) error {
	var g errgroup.Group

	if tp, ok := t.tracerProvider.(*sdktrace.TracerProvider); ok {
		g.Go(func() error {
			if err := traces(ctx, tp); err != nil {
				return fmt.Errorf("failed to %s tracer provider: %w", op, err)
			}
			return nil
		})
	}

	if mp, ok := t.meterProvider.(*sdkmetric.MeterProvider); ok {
		g.Go(func() error {
			if err := metrics(ctx, mp); err != nil {
				return fmt.Errorf("failed to %s meter provider: %w", op, err)
			}
			return nil
		})
	}

	return g.Wait()
}
