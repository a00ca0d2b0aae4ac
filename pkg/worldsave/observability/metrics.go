package observability

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// MetricsRecorder records engine metrics.
// Use NewMetricsRecorder() for OTel metrics or NoopMetrics{} when disabled.
type MetricsRecorder interface {
	// RecordTask records a finished save, load or region task.
	RecordTask(ctx context.Context, kind string, success bool, duration time.Duration)

	// RecordStep records one state transition of a task.
	RecordStep(ctx context.Context, kind, step string, duration time.Duration, err error)

	// RecordBlob records the size of a written blob.
	RecordBlob(ctx context.Context, artifact string, sizeBytes int64)

	// RecordSpawnFailure records a record that could not be re-created.
	RecordSpawnFailure(ctx context.Context, class string)
}

type otelMetrics struct {
	tasks         metric.Int64Counter
	taskLatency   metric.Float64Histogram
	steps         metric.Int64Counter
	stepErrors    metric.Int64Counter
	stepLatency   metric.Float64Histogram
	blobSize      metric.Int64Histogram
	spawnFailures metric.Int64Counter
}

var (
	defaultMetrics     *otelMetrics
	defaultMetricsOnce sync.Once
	defaultMetricsErr  error
)

func getDefaultMetrics() (*otelMetrics, error) {
	defaultMetricsOnce.Do(func() {
		defaultMetrics, defaultMetricsErr = newOtelMetrics()
	})
	return defaultMetrics, defaultMetricsErr
}

func newOtelMetrics() (*otelMetrics, error) {
	meter := otel.Meter("worldsave")
	m := &otelMetrics{}
	var err error

	if m.tasks, err = meter.Int64Counter("worldsave.task.runs",
		metric.WithDescription("Number of finished tasks"),
	); err != nil {
		return nil, err
	}
	if m.taskLatency, err = meter.Float64Histogram("worldsave.task.latency_ms",
		metric.WithDescription("Task latency from creation to completion in milliseconds"),
		metric.WithUnit("ms"),
	); err != nil {
		return nil, err
	}
	if m.steps, err = meter.Int64Counter("worldsave.step.executions",
		metric.WithDescription("Number of task state transitions"),
	); err != nil {
		return nil, err
	}
	if m.stepErrors, err = meter.Int64Counter("worldsave.step.errors",
		metric.WithDescription("Number of failed task steps"),
	); err != nil {
		return nil, err
	}
	if m.stepLatency, err = meter.Float64Histogram("worldsave.step.latency_ms",
		metric.WithDescription("Step latency in milliseconds"),
		metric.WithUnit("ms"),
	); err != nil {
		return nil, err
	}
	if m.blobSize, err = meter.Int64Histogram("worldsave.blob.size_bytes",
		metric.WithDescription("Written blob size in bytes"),
		metric.WithUnit("By"),
	); err != nil {
		return nil, err
	}
	if m.spawnFailures, err = meter.Int64Counter("worldsave.spawn.failures",
		metric.WithDescription("Number of records that could not be re-created"),
	); err != nil {
		return nil, err
	}
	return m, nil
}

// NewMetricsRecorder returns a MetricsRecorder that uses OpenTelemetry.
// If metrics initialization fails, returns a no-op recorder.
//
// The recorder uses the global OTel meter provider. Configure the provider
// before calling this function:
//
//	otel.SetMeterProvider(yourProvider)
func NewMetricsRecorder() MetricsRecorder {
	m, err := getDefaultMetrics()
	if err != nil {
		slog.Warn("metrics initialization failed, using no-op recorder",
			slog.String("error", err.Error()))
		return NoopMetrics{}
	}
	return m
}

// RecordTask records a finished task.
func (m *otelMetrics) RecordTask(ctx context.Context, kind string, success bool, duration time.Duration) {
	attrs := metric.WithAttributes(
		attribute.String("kind", kind),
		attribute.Bool("success", success),
	)
	m.tasks.Add(ctx, 1, attrs)
	m.taskLatency.Record(ctx, float64(duration.Milliseconds()), attrs)
}

// RecordStep records one state transition.
func (m *otelMetrics) RecordStep(ctx context.Context, kind, step string, duration time.Duration, err error) {
	attrs := metric.WithAttributes(
		attribute.String("kind", kind),
		attribute.String("step", step),
	)
	m.steps.Add(ctx, 1, attrs)
	m.stepLatency.Record(ctx, float64(duration.Microseconds())/1000, attrs)
	if err != nil {
		m.stepErrors.Add(ctx, 1, attrs)
	}
}

// RecordBlob records a written blob.
func (m *otelMetrics) RecordBlob(ctx context.Context, artifact string, sizeBytes int64) {
	m.blobSize.Record(ctx, sizeBytes, metric.WithAttributes(attribute.String("artifact", artifact)))
}

// RecordSpawnFailure records a record that could not be re-created.
func (m *otelMetrics) RecordSpawnFailure(ctx context.Context, class string) {
	m.spawnFailures.Add(ctx, 1, metric.WithAttributes(attribute.String("class", class)))
}
