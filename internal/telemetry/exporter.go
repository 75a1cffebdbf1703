package telemetry

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

// exporterConfig is the part of the configuration shared by the trace and
// metric exporters
type exporterConfig struct {
	serviceName    string
	serviceVersion string
	endpoint       string
	insecure       bool
	headers        map[string]string
}

func newExporterConfig(cfg *Config) exporterConfig {
	if cfg == nil {
		return exporterConfig{
			serviceName:    DefaultServiceName,
			serviceVersion: "unknown",
			endpoint:       DefaultEndpoint,
		}
	}
	return exporterConfig{
		serviceName:    cfg.GetServiceName(),
		serviceVersion: cfg.GetServiceVersion(),
		endpoint:       cfg.GetEndpoint(),
		insecure:       cfg.Insecure,
		headers:        cfg.Headers,
	}
}

// resource describes this process. resource.New is used rather than
// resource.Default to avoid schema URL conflicts.
func (c exporterConfig) resource(ctx context.Context) (*resource.Resource, error) {
	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(c.serviceName),
			semconv.ServiceVersion(c.serviceVersion),
		),
		resource.WithHost(),
		resource.WithTelemetrySDK(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}
	return res, nil
}
