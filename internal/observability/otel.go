// Package observability wires OpenTelemetry metrics and traces for batch
// execution. Instruments default to the global (no-op) providers until Setup
// installs SDK providers.
package observability

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "labvalidate"

// Metrics holds all engine metrics
type Metrics struct {
	UnitsCompleted    metric.Int64Counter
	UnitDuration      metric.Float64Histogram
	BatchesCompleted  metric.Int64Counter
	LexicalFallbacks  metric.Int64Counter
	EmbeddingFailures metric.Int64Counter
	FeedbackRecorded  metric.Int64Counter
}

// Provider bundles the SDK providers installed by Setup.
type Provider struct {
	reader *sdkmetric.ManualReader
	meters *sdkmetric.MeterProvider
	traces *sdktrace.TracerProvider
}

// Setup installs SDK meter and tracer providers as the globals. Metrics are
// pulled through a manual reader (see Collect).
func Setup(ctx context.Context, serviceName, serviceVersion string) (*Provider, error) {
	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(serviceName),
			semconv.ServiceVersion(serviceVersion),
		),
	)
	if err != nil {
		return nil, err
	}

	reader := sdkmetric.NewManualReader()
	meters := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(reader),
		sdkmetric.WithResource(res),
	)
	traces := sdktrace.NewTracerProvider(sdktrace.WithResource(res))

	otel.SetMeterProvider(meters)
	otel.SetTracerProvider(traces)

	return &Provider{reader: reader, meters: meters, traces: traces}, nil
}

// Collect reads the current metric totals.
func (p *Provider) Collect(ctx context.Context) (metricdata.ResourceMetrics, error) {
	var rm metricdata.ResourceMetrics
	err := p.reader.Collect(ctx, &rm)
	return rm, err
}

// Shutdown flushes and stops both providers.
func (p *Provider) Shutdown(ctx context.Context) error {
	return errors.Join(p.meters.Shutdown(ctx), p.traces.Shutdown(ctx))
}

// InitMetrics creates the instruments on the global meter provider.
func InitMetrics() (*Metrics, error) {
	return NewMetrics(otel.Meter(instrumentationName))
}

// NewMetrics creates the instruments on meter.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	unitsCompleted, err := meter.Int64Counter(
		"labval.units.completed",
		metric.WithDescription("Number of execution units that produced a result"),
	)
	if err != nil {
		return nil, err
	}

	unitDuration, err := meter.Float64Histogram(
		"labval.unit.duration",
		metric.WithDescription("Execution unit duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, err
	}

	batchesCompleted, err := meter.Int64Counter(
		"labval.batches.completed",
		metric.WithDescription("Number of batches that reached a terminal state"),
	)
	if err != nil {
		return nil, err
	}

	lexicalFallbacks, err := meter.Int64Counter(
		"labval.retrieval.lexical_fallbacks",
		metric.WithDescription("Number of searches that fell back to lexical matching"),
	)
	if err != nil {
		return nil, err
	}

	embeddingFailures, err := meter.Int64Counter(
		"labval.embedding.failures",
		metric.WithDescription("Number of failed embedding calls"),
	)
	if err != nil {
		return nil, err
	}

	feedbackRecorded, err := meter.Int64Counter(
		"labval.knowledge.feedback_recorded",
		metric.WithDescription("Number of knowledge documents created from reviews"),
	)
	if err != nil {
		return nil, err
	}

	return &Metrics{
		UnitsCompleted:    unitsCompleted,
		UnitDuration:      unitDuration,
		BatchesCompleted:  batchesCompleted,
		LexicalFallbacks:  lexicalFallbacks,
		EmbeddingFailures: embeddingFailures,
		FeedbackRecorded:  feedbackRecorded,
	}, nil
}

// StartSpan starts a new trace span
func StartSpan(ctx context.Context, spanName string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	tracer := otel.Tracer(instrumentationName)
	return tracer.Start(ctx, spanName, trace.WithAttributes(attrs...))
}

// RecordError records an error in the span
func RecordError(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
	}
}

// RecordUnit records one finished execution unit. Nil metrics are ignored.
func RecordUnit(ctx context.Context, m *Metrics, mode, outcome, errorKind string, duration time.Duration) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("mode", mode),
		attribute.String("outcome", outcome),
		attribute.String("error_kind", errorKind),
	)
	m.UnitsCompleted.Add(ctx, 1, attrs)
	m.UnitDuration.Record(ctx, float64(duration.Milliseconds()), attrs)
}

// RecordBatch records a batch reaching a terminal state.
func RecordBatch(ctx context.Context, m *Metrics, mode, status string) {
	if m == nil {
		return
	}
	m.BatchesCompleted.Add(ctx, 1, metric.WithAttributes(
		attribute.String("mode", mode),
		attribute.String("status", status),
	))
}

// RecordLexicalFallback records a search that needed lexical matches.
func RecordLexicalFallback(ctx context.Context, m *Metrics, store string) {
	if m == nil {
		return
	}
	m.LexicalFallbacks.Add(ctx, 1, metric.WithAttributes(attribute.String("store", store)))
}

// RecordEmbeddingFailure records a failed embedding call.
func RecordEmbeddingFailure(ctx context.Context, m *Metrics, operation string) {
	if m == nil {
		return
	}
	m.EmbeddingFailures.Add(ctx, 1, metric.WithAttributes(attribute.String("operation", operation)))
}

// RecordFeedback records knowledge documents created from a review.
func RecordFeedback(ctx context.Context, m *Metrics, category string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.FeedbackRecorded.Add(ctx, int64(n), metric.WithAttributes(attribute.String("category", category)))
}
