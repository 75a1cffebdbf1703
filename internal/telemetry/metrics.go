package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const (
	// UploadMetricsMeterName is the name used for the upload metrics meter
	UploadMetricsMeterName = "github.com/stacklok/telemetry-uploader/upload"

	// SweepMetricsMeterName is the name used for the sweep metrics meter
	SweepMetricsMeterName = "github.com/stacklok/telemetry-uploader/sweep"
)

// Disposition is what happened to a cached payload after its operation finished
type Disposition string

const (
	// DispositionDelivered means the collector accepted the payload
	DispositionDelivered Disposition = "delivered"

	// DispositionDropped means the payload was deleted without being delivered
	DispositionDropped Disposition = "dropped"

	// DispositionDeferred means the payload stays cached for a later sweep
	DispositionDeferred Disposition = "deferred"
)

// UploadMetrics holds the OpenTelemetry instruments for upload attempts
type UploadMetrics struct {
	attemptsTotal   metric.Int64Counter
	attemptDuration metric.Float64Histogram
	outcomesTotal   metric.Int64Counter
	inFlight        metric.Int64UpDownCounter
	cachedPayloads  metric.Int64Gauge
}

// NewUploadMetrics creates a new UploadMetrics instance with the given meter provider.
// If provider is nil, it returns nil (no-op metrics).
func NewUploadMetrics(provider metric.MeterProvider) (*UploadMetrics, error) {
	if provider == nil {
		return nil, nil
	}

	meter := provider.Meter(UploadMetricsMeterName)

	attemptsTotal, err := meter.Int64Counter(
		"uploader_upload_attempts_total",
		metric.WithDescription("Number of network attempts by payload type and result"),
		metric.WithUnit("{attempt}"),
	)
	if err != nil {
		return nil, err
	}

	attemptDuration, err := meter.Float64Histogram(
		"uploader_upload_attempt_duration_seconds",
		metric.WithDescription("Duration of a single upload request in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30),
	)
	if err != nil {
		return nil, err
	}

	outcomesTotal, err := meter.Int64Counter(
		"uploader_upload_outcomes_total",
		metric.WithDescription("Terminal outcomes of upload operations"),
		metric.WithUnit("{upload}"),
	)
	if err != nil {
		return nil, err
	}

	inFlight, err := meter.Int64UpDownCounter(
		"uploader_uploads_in_flight",
		metric.WithDescription("Number of upload operations currently running"),
		metric.WithUnit("{upload}"),
	)
	if err != nil {
		return nil, err
	}

	cachedPayloads, err := meter.Int64Gauge(
		"uploader_cached_payloads",
		metric.WithDescription("Number of payloads waiting in the cache"),
		metric.WithUnit("{payload}"),
	)
	if err != nil {
		return nil, err
	}

	return &UploadMetrics{
		attemptsTotal:   attemptsTotal,
		attemptDuration: attemptDuration,
		outcomesTotal:   outcomesTotal,
		inFlight:        inFlight,
		cachedPayloads:  cachedPayloads,
	}, nil
}

// RecordAttempt records one network attempt. result is "success",
// "retriable_failure" or "permanent_failure".
func (m *UploadMetrics) RecordAttempt(ctx context.Context, payloadType, result string, duration time.Duration) {
	if m == nil {
		return
	}

	attrs := metric.WithAttributes(
		attribute.String("type", payloadType),
		attribute.String("result", result),
	)
	m.attemptsTotal.Add(ctx, 1, attrs)
	m.attemptDuration.Record(ctx, duration.Seconds(), attrs)
}

// RecordOutcome records the terminal disposition of an upload operation
func (m *UploadMetrics) RecordOutcome(ctx context.Context, payloadType string, disposition Disposition) {
	if m == nil {
		return
	}

	m.outcomesTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("type", payloadType),
		attribute.String("disposition", string(disposition)),
	))
}

// AddInFlight adjusts the number of running operations by delta
func (m *UploadMetrics) AddInFlight(ctx context.Context, delta int64) {
	if m == nil {
		return
	}
	m.inFlight.Add(ctx, delta)
}

// RecordCachedPayloads records the current cache size
func (m *UploadMetrics) RecordCachedPayloads(ctx context.Context, count int64) {
	if m == nil {
		return
	}
	m.cachedPayloads.Record(ctx, count)
}

// SweepMetrics holds the OpenTelemetry instruments for cache sweeps
type SweepMetrics struct {
	sweepDuration metric.Float64Histogram
	entriesTotal  metric.Int64Counter
}

// NewSweepMetrics creates a new SweepMetrics instance with the given meter provider.
// If provider is nil, it returns nil (no-op metrics).
func NewSweepMetrics(provider metric.MeterProvider) (*SweepMetrics, error) {
	if provider == nil {
		return nil, nil
	}

	meter := provider.Meter(SweepMetricsMeterName)

	sweepDuration, err := meter.Float64Histogram(
		"uploader_sweep_duration_seconds",
		metric.WithDescription("Duration of cache sweeps in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300),
	)
	if err != nil {
		return nil, err
	}

	entriesTotal, err := meter.Int64Counter(
		"uploader_sweep_entries_total",
		metric.WithDescription("Cached entries seen by sweeps, by action"),
		metric.WithUnit("{payload}"),
	)
	if err != nil {
		return nil, err
	}

	return &SweepMetrics{
		sweepDuration: sweepDuration,
		entriesTotal:  entriesTotal,
	}, nil
}

// RecordSweep records the duration of a sweep and how many entries it purged,
// scheduled and skipped
func (m *SweepMetrics) RecordSweep(
	ctx context.Context, duration time.Duration, success bool, purged, scheduled, skipped int,
) {
	if m == nil {
		return
	}

	m.sweepDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(attribute.Bool("success", success)))

	for action, count := range map[string]int{"purged": purged, "scheduled": scheduled, "skipped": skipped} {
		if count > 0 {
			m.entriesTotal.Add(ctx, int64(count), metric.WithAttributes(attribute.String("action", action)))
		}
	}
}
