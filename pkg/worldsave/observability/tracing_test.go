package observability

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

// setupTracingTest installs a tracer provider backed by an in-memory exporter.
func setupTracingTest(t *testing.T) (*tracetest.InMemoryExporter, SpanManager) {
	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter))

	originalProvider := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)

	t.Cleanup(func() {
		otel.SetTracerProvider(originalProvider)
		if err := tp.Shutdown(context.Background()); err != nil {
			t.Logf("Error shutting down tracer provider: %v", err)
		}
	})
	return exporter, NewSpanManager()
}

func attrValue(attrs []attribute.KeyValue, key string) (attribute.Value, bool) {
	for _, kv := range attrs {
		if string(kv.Key) == key {
			return kv.Value, true
		}
	}
	return attribute.Value{}, false
}

func TestStartTaskSpan(t *testing.T) {
	exporter, spans := setupTracingTest(t)

	_, span := spans.StartTaskSpan(context.Background(), "save", "task-1")
	spans.EndSpanWithError(span, nil)

	got := exporter.GetSpans()
	require.Len(t, got, 1)
	assert.Equal(t, "worldsave.save", got[0].Name)
	assert.Equal(t, codes.Ok, got[0].Status.Code)

	v, ok := attrValue(got[0].Attributes, "task.id")
	require.True(t, ok)
	assert.Equal(t, "task-1", v.AsString())
}

func TestStartStepSpan_IsChild(t *testing.T) {
	exporter, spans := setupTracingTest(t)

	ctx, parent := spans.StartTaskSpan(context.Background(), "load", "task-2")
	_, child := spans.StartStepSpan(ctx, "wait_ready")
	spans.EndSpanWithError(child, nil)
	spans.EndSpanWithError(parent, nil)

	got := exporter.GetSpans()
	require.Len(t, got, 2)
	assert.Equal(t, "worldsave.step.wait_ready", got[0].Name)
	assert.Equal(t, got[1].SpanContext.SpanID(), got[0].Parent.SpanID())
}

func TestEndSpanWithError(t *testing.T) {
	exporter, spans := setupTracingTest(t)

	_, span := spans.StartTaskSpan(context.Background(), "save", "task-3")
	spans.EndSpanWithError(span, errors.New("disk full"))

	got := exporter.GetSpans()
	require.Len(t, got, 1)
	assert.Equal(t, codes.Error, got[0].Status.Code)
	assert.Equal(t, "disk full", got[0].Status.Description)
	require.Len(t, got[0].Events, 1)
	assert.Equal(t, "exception", got[0].Events[0].Name)

	assert.NotPanics(t, func() { spans.EndSpanWithError(nil, nil) })
}

func TestAddSpanEvent(t *testing.T) {
	exporter, spans := setupTracingTest(t)

	ctx, span := spans.StartTaskSpan(context.Background(), "load", "task-4")
	spans.AddSpanEvent(ctx, "batch_spawned", attribute.Int("count", 10))
	spans.EndSpanWithError(span, nil)

	got := exporter.GetSpans()
	require.Len(t, got, 1)
	require.Len(t, got[0].Events, 1)
	assert.Equal(t, "batch_spawned", got[0].Events[0].Name)

	// no span in context
	assert.NotPanics(t, func() { spans.AddSpanEvent(context.Background(), "ignored") })
}

func TestNoopSpanManager(t *testing.T) {
	var spans SpanManager = NoopSpanManager{}
	ctx := context.Background()

	got, span := spans.StartTaskSpan(ctx, "save", "id")
	assert.Equal(t, ctx, got)
	assert.False(t, span.IsRecording())
	assert.NotPanics(t, func() {
		spans.EndSpanWithError(span, errors.New("x"))
		spans.AddSpanEvent(ctx, "x")
	})
}
