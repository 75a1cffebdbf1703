package telemetry

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func collect(t *testing.T, reader *sdkmetric.ManualReader, scopeName string) map[string]metricdata.Metrics {
	t.Helper()

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))

	result := map[string]metricdata.Metrics{}
	for _, scope := range rm.ScopeMetrics {
		if scope.Scope.Name != scopeName {
			continue
		}
		for _, m := range scope.Metrics {
			result[m.Name] = m
		}
	}
	return result
}

func TestNewUploadMetrics(t *testing.T) {
	t.Parallel()

	t.Run("returns nil when provider is nil", func(t *testing.T) {
		t.Parallel()

		metrics, err := NewUploadMetrics(nil)
		require.NoError(t, err)
		assert.Nil(t, metrics)
	})

	t.Run("nil metrics are no-ops", func(t *testing.T) {
		t.Parallel()

		var metrics *UploadMetrics
		ctx := context.Background()
		metrics.RecordAttempt(ctx, "spans", "success", time.Second)
		metrics.RecordOutcome(ctx, "spans", DispositionDelivered)
		metrics.AddInFlight(ctx, 1)
		metrics.RecordCachedPayloads(ctx, 3)
	})
}

func TestUploadMetrics_Record(t *testing.T) {
	t.Parallel()

	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	defer func() { _ = mp.Shutdown(context.Background()) }()

	metrics, err := NewUploadMetrics(mp)
	require.NoError(t, err)
	require.NotNil(t, metrics)

	ctx := context.Background()
	metrics.RecordAttempt(ctx, "spans", "retriable_failure", 200*time.Millisecond)
	metrics.RecordAttempt(ctx, "spans", "success", 100*time.Millisecond)
	metrics.RecordOutcome(ctx, "spans", DispositionDelivered)
	metrics.AddInFlight(ctx, 1)
	metrics.AddInFlight(ctx, -1)
	metrics.RecordCachedPayloads(ctx, 7)

	collected := collect(t, reader, UploadMetricsMeterName)

	attempts, ok := collected["uploader_upload_attempts_total"]
	require.True(t, ok)
	sum, ok := attempts.Data.(metricdata.Sum[int64])
	require.True(t, ok)
	var total int64
	for _, dp := range sum.DataPoints {
		total += dp.Value
	}
	assert.Equal(t, int64(2), total)

	assert.Contains(t, collected, "uploader_upload_attempt_duration_seconds")
	assert.Contains(t, collected, "uploader_upload_outcomes_total")
	assert.Contains(t, collected, "uploader_uploads_in_flight")

	gauge, ok := collected["uploader_cached_payloads"].Data.(metricdata.Gauge[int64])
	require.True(t, ok)
	require.Len(t, gauge.DataPoints, 1)
	assert.Equal(t, int64(7), gauge.DataPoints[0].Value)
}

func TestSweepMetrics_RecordSweep(t *testing.T) {
	t.Parallel()

	t.Run("nil metrics are no-ops", func(t *testing.T) {
		t.Parallel()

		metrics, err := NewSweepMetrics(nil)
		require.NoError(t, err)
		metrics.RecordSweep(context.Background(), time.Second, true, 1, 2, 3)
	})

	t.Run("records duration and entries", func(t *testing.T) {
		t.Parallel()

		reader := sdkmetric.NewManualReader()
		mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
		defer func() { _ = mp.Shutdown(context.Background()) }()

		metrics, err := NewSweepMetrics(mp)
		require.NoError(t, err)

		metrics.RecordSweep(context.Background(), 3*time.Second, true, 1, 4, 0)

		collected := collect(t, reader, SweepMetricsMeterName)

		hist, ok := collected["uploader_sweep_duration_seconds"].Data.(metricdata.Histogram[float64])
		require.True(t, ok)
		require.Len(t, hist.DataPoints, 1)
		assert.Equal(t, uint64(1), hist.DataPoints[0].Count)
		assert.InDelta(t, 3.0, hist.DataPoints[0].Sum, 0.001)

		entries, ok := collected["uploader_sweep_entries_total"].Data.(metricdata.Sum[int64])
		require.True(t, ok)
		assert.Len(t, entries.DataPoints, 2, "zero counts are not recorded")
	})
}
