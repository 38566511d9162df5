package observability

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/photosync/mediaindex/observability"

// StartSpan starts a new span from context
func StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return otel.Tracer(instrumentationName).Start(ctx, name, opts...)
}

// StartDBSpan starts a span for a metadata store operation
func StartDBSpan(ctx context.Context, dialect, operation, table string) (context.Context, trace.Span) {
	return StartSpan(ctx, fmt.Sprintf("DB %s %s", operation, table),
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("db.system", dialect),
			attribute.String("db.operation", operation),
			attribute.String("db.sql.table", table),
		),
	)
}

// StartServiceSpan starts a span for service operations
func StartServiceSpan(ctx context.Context, service, operation string) (context.Context, trace.Span) {
	return StartSpan(ctx, fmt.Sprintf("%s.%s", service, operation),
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			attribute.String("service.component", service),
			attribute.String("service.operation", operation),
		),
	)
}

// RecordError records an error on the span
func RecordError(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
}

// SetSuccess marks the span as successful
func SetSuccess(span trace.Span) {
	span.SetStatus(codes.Ok, "")
}

// AddEvent adds an event to the span
func AddEvent(span trace.Span, name string, attrs ...attribute.KeyValue) {
	span.AddEvent(name, trace.WithAttributes(attrs...))
}

// IngestMetrics counts ingestion outcomes and how long they took
type IngestMetrics struct {
	outcomes metric.Int64Counter
	duration metric.Float64Histogram
	bytes    metric.Int64Counter
}

// NewIngestMetrics creates ingestion metric instruments on the global meter
func NewIngestMetrics() (*IngestMetrics, error) {
	meter := otel.Meter(instrumentationName)

	outcomes, err := meter.Int64Counter(
		"mediaindex.ingest.outcomes",
		metric.WithDescription("Ingestion attempts by media kind and outcome"),
		metric.WithUnit("{files}"),
	)
	if err != nil {
		return nil, err
	}

	duration, err := meter.Float64Histogram(
		"mediaindex.ingest.duration",
		metric.WithDescription("Ingestion duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, err
	}

	stored, err := meter.Int64Counter(
		"mediaindex.storage.bytes_written",
		metric.WithDescription("Media bytes written to the storage root"),
		metric.WithUnit("By"),
	)
	if err != nil {
		return nil, err
	}

	return &IngestMetrics{
		outcomes: outcomes,
		duration: duration,
		bytes:    stored,
	}, nil
}

// RecordIngest records one ingestion attempt. outcome is a Modification name
// on success or an error kind on failure.
func (m *IngestMetrics) RecordIngest(ctx context.Context, kind, outcome string, took time.Duration) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("media.kind", kind),
		attribute.String("outcome", outcome),
	)
	m.outcomes.Add(ctx, 1, attrs)
	m.duration.Record(ctx, float64(took.Milliseconds()), attrs)
}

// RecordBytesWritten records bytes committed under their final path
func (m *IngestMetrics) RecordBytesWritten(ctx context.Context, n int) {
	if m == nil {
		return
	}
	m.bytes.Add(ctx, int64(n))
}
