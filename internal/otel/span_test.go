package otel

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"

	"github.com/stacklok/telemetry-uploader/internal/payload"
)

// recordingTracer returns a tracer whose ended spans land in the returned recorder
func recordingTracer(t *testing.T) (*tracetest.SpanRecorder, trace.Tracer) {
	t.Helper()
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })
	return recorder, tp.Tracer("uploader-test")
}

func attributesOf(span sdktrace.ReadOnlySpan) map[attribute.Key]attribute.Value {
	attrs := map[attribute.Key]attribute.Value{}
	for _, kv := range span.Attributes() {
		attrs[kv.Key] = kv.Value
	}
	return attrs
}

func TestKeyAttributes(t *testing.T) {
	t.Parallel()

	tests := []struct {
		key      payload.Key
		wantType string
	}{
		{payload.Key{ID: "S1", Type: payload.TypeSpans}, "spans"},
		{payload.Key{ID: "L1", Type: payload.TypeLog}, "log"},
		{payload.Key{ID: "A1", Type: payload.TypeAttachment}, "attachment"},
	}

	for _, tt := range tests {
		t.Run(tt.wantType, func(t *testing.T) {
			t.Parallel()

			attrs := KeyAttributes(tt.key)
			assert.ElementsMatch(t, []attribute.KeyValue{
				AttrPayloadID.String(tt.key.ID),
				AttrPayloadType.String(tt.wantType),
			}, attrs)
		})
	}
}

func TestStartSpan_WithoutTracer(t *testing.T) {
	t.Parallel()

	parent := context.Background()
	ctx, span := StartSpan(parent, nil, "coordinator.Upload")

	assert.Equal(t, parent, ctx)
	assert.False(t, span.SpanContext().IsValid())
	assert.NotPanics(t, func() {
		span.SetAttributes(AttrDisposition.String("delivered"))
		RecordError(span, errors.New("ignored"))
		span.End()
	})
}

func TestStartSpan_RecordsUploadOutcome(t *testing.T) {
	t.Parallel()

	recorder, tracer := recordingTracer(t)
	key := payload.Key{ID: "L7", Type: payload.TypeLog}

	ctx, span := StartSpan(context.Background(), tracer, "coordinator.Upload",
		trace.WithAttributes(append(KeyAttributes(key), AttrPayloadSize.Int(512))...),
	)
	assert.True(t, trace.SpanFromContext(ctx).SpanContext().IsValid())

	span.SetAttributes(
		AttrDisposition.String("deferred"),
		AttrAttemptCount.Int(3),
		AttrRetriable.Bool(true),
	)
	RecordError(span, fmt.Errorf("%w: 503 Service Unavailable", payload.ErrNetworkTransient))
	span.End()

	ended := recorder.Ended()
	require.Len(t, ended, 1)
	assert.Equal(t, "coordinator.Upload", ended[0].Name())

	attrs := attributesOf(ended[0])
	assert.Equal(t, "L7", attrs[AttrPayloadID].AsString())
	assert.Equal(t, "log", attrs[AttrPayloadType].AsString())
	assert.Equal(t, int64(512), attrs[AttrPayloadSize].AsInt64())
	assert.Equal(t, "deferred", attrs[AttrDisposition].AsString())
	assert.Equal(t, int64(3), attrs[AttrAttemptCount].AsInt64())
	assert.True(t, attrs[AttrRetriable].AsBool())
	assert.Equal(t, codes.Error, ended[0].Status().Code)
}

func TestRecordError(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		err        error
		wantCode   codes.Code
		wantEvents int
	}{
		{
			name:     "nil error leaves the span untouched",
			wantCode: codes.Unset,
		},
		{
			name:       "collector failure",
			err:        fmt.Errorf("%w: dial tcp collector.internal:443: connection refused", payload.ErrNetworkTransient),
			wantCode:   codes.Error,
			wantEvents: 1,
		},
		{
			name:       "cache failure",
			err:        fmt.Errorf("%w: database is locked", payload.ErrCacheIO),
			wantCode:   codes.Error,
			wantEvents: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			recorder, tracer := recordingTracer(t)
			_, span := tracer.Start(context.Background(), "coordinator.RetryCachedData")
			RecordError(span, tt.err)
			span.End()

			ended := recorder.Ended()
			require.Len(t, ended, 1)
			assert.Equal(t, tt.wantCode, ended[0].Status().Code)
			require.Len(t, ended[0].Events(), tt.wantEvents)
			if tt.err != nil {
				// the endpoint only appears in the exception event
				assert.Equal(t, "operation failed", ended[0].Status().Description)
				assert.Equal(t, "exception", ended[0].Events()[0].Name)
			}
		})
	}

	assert.NotPanics(t, func() { RecordError(nil, errors.New("no span")) })
}
