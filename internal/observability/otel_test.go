package observability

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func newTestMetrics(t *testing.T) (*Metrics, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = provider.Shutdown(context.Background()) })

	m, err := NewMetrics(provider.Meter("test"))
	require.NoError(t, err)
	return m, reader
}

func sumOf(t *testing.T, reader *sdkmetric.ManualReader, name string) int64 {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))
	var total int64
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != name {
				continue
			}
			sum, ok := m.Data.(metricdata.Sum[int64])
			require.True(t, ok, "metric %s is not an int64 sum", name)
			for _, dp := range sum.DataPoints {
				total += dp.Value
			}
		}
	}
	return total
}

func TestRecordUnitAndBatch(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	RecordUnit(ctx, m, "scripted", "PASS", "", 120*time.Millisecond)
	RecordUnit(ctx, m, "scripted", "FAIL", "timeout", time.Second)
	RecordBatch(ctx, m, "scripted", "COMPLETED")
	RecordLexicalFallback(ctx, m, "memory")
	RecordEmbeddingFailure(ctx, m, "search")
	RecordFeedback(ctx, m, "validation_method", 2)
	RecordFeedback(ctx, m, "validation_method", 0)

	assert.Equal(t, int64(2), sumOf(t, reader, "labval.units.completed"))
	assert.Equal(t, int64(1), sumOf(t, reader, "labval.batches.completed"))
	assert.Equal(t, int64(1), sumOf(t, reader, "labval.retrieval.lexical_fallbacks"))
	assert.Equal(t, int64(1), sumOf(t, reader, "labval.embedding.failures"))
	assert.Equal(t, int64(2), sumOf(t, reader, "labval.knowledge.feedback_recorded"))
}

func TestNilMetricsAreIgnored(t *testing.T) {
	ctx := context.Background()
	assert.NotPanics(t, func() {
		RecordUnit(ctx, nil, "scripted", "PASS", "", time.Millisecond)
		RecordBatch(ctx, nil, "autonomous", "FAILED")
		RecordLexicalFallback(ctx, nil, "sqlite")
		RecordEmbeddingFailure(ctx, nil, "insert")
		RecordFeedback(ctx, nil, "x", 1)
	})
}

func TestSetupCollectsFromGlobalProvider(t *testing.T) {
	ctx := context.Background()
	p, err := Setup(ctx, "labvalidate-test", "0.0.1")
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Shutdown(ctx) })

	m, err := InitMetrics()
	require.NoError(t, err)
	RecordBatch(ctx, m, "scripted", "CANCELLED")

	_, span := StartSpan(ctx, "batch")
	assert.True(t, span.SpanContext().IsValid())
	span.End()

	rm, err := p.Collect(ctx)
	require.NoError(t, err)
	assert.NotEmpty(t, rm.ScopeMetrics)
}
