// Package otel provides OpenTelemetry instrumentation utilities for the payload uploader.
package otel

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/stacklok/telemetry-uploader/internal/payload"
)

// Common attribute keys used across upload and sweep spans
const (
	AttrPayloadID       = attribute.Key("payload.id")
	AttrPayloadType     = attribute.Key("payload.type")
	AttrPayloadSize     = attribute.Key("payload.size_bytes")
	AttrAttemptCount    = attribute.Key("upload.attempt_count")
	AttrRetriable       = attribute.Key("upload.retriable")
	AttrDisposition     = attribute.Key("upload.disposition")
	AttrSweepPurged     = attribute.Key("sweep.purged")
	AttrSweepScheduled  = attribute.Key("sweep.scheduled")
	AttrSweepSkipped    = attribute.Key("sweep.skipped")
	AttrResultCount     = attribute.Key("result.count")
	AttrCollectorTarget = attribute.Key("collector.endpoint")
)

// KeyAttributes returns the attributes identifying a cached payload
func KeyAttributes(key payload.Key) []attribute.KeyValue {
	return []attribute.KeyValue{
		AttrPayloadID.String(key.ID),
		AttrPayloadType.String(key.Type.String()),
	}
}

// StartSpan starts a new span if the tracer is non-nil, otherwise returns a no-op span.
func StartSpan(
	ctx context.Context,
	tracer trace.Tracer,
	name string,
	opts ...trace.SpanStartOption,
) (context.Context, trace.Span) {
	if tracer == nil {
		return ctx, trace.SpanFromContext(ctx)
	}
	return tracer.Start(ctx, name, opts...)
}

// RecordError records an error on a span and sets the span status to error.
// It safely handles nil spans and nil errors.
// The status description stays generic so that collector URLs and cache
// paths only show up in the exception event.
func RecordError(span trace.Span, err error) {
	if err != nil && span != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "operation failed")
	}
}
