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

// MetricsRecorder records featureflow metrics.
// Use NewMetricsRecorder() for OTel metrics or NoopMetrics{} when disabled.
type MetricsRecorder interface {
	// RecordEvent records one event folded into a transformer's aggregates.
	RecordEvent(ctx context.Context, transformer string)

	// RecordPass records an identity pass with its duration and error status.
	RecordPass(ctx context.Context, transformer string, duration time.Duration, err error)

	// RecordPersist records an aggregate snapshot saved to a store.
	RecordPersist(ctx context.Context, aggregate string)

	// RecordWindow records a window evaluation; emitted is false when the
	// window was skipped for missing blocks.
	RecordWindow(ctx context.Context, transformer string, emitted bool)

	// RecordExpressionError records a formula evaluation failure.
	RecordExpressionError(ctx context.Context, fqn string)
}

type otelMetrics struct {
	events      metric.Int64Counter
	passes      metric.Int64Counter
	passLatency metric.Float64Histogram
	passErrors  metric.Int64Counter
	persists    metric.Int64Counter
	windows     metric.Int64Counter
	exprErrors  metric.Int64Counter
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
	meter := otel.Meter("featureflow")

	events, err := meter.Int64Counter("featureflow.events",
		metric.WithDescription("Number of events evaluated"),
	)
	if err != nil {
		return nil, err
	}

	passes, err := meter.Int64Counter("featureflow.pass.count",
		metric.WithDescription("Number of identity passes"),
	)
	if err != nil {
		return nil, err
	}

	passLatency, err := meter.Float64Histogram("featureflow.pass.latency_ms",
		metric.WithDescription("Identity pass latency in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, err
	}

	passErrors, err := meter.Int64Counter("featureflow.pass.errors",
		metric.WithDescription("Number of failed identity passes"),
	)
	if err != nil {
		return nil, err
	}

	persists, err := meter.Int64Counter("featureflow.aggregate.persisted",
		metric.WithDescription("Number of aggregate snapshots saved"),
	)
	if err != nil {
		return nil, err
	}

	windows, err := meter.Int64Counter("featureflow.window.evaluated",
		metric.WithDescription("Number of anchored windows evaluated"),
	)
	if err != nil {
		return nil, err
	}

	exprErrors, err := meter.Int64Counter("featureflow.expression.errors",
		metric.WithDescription("Number of formula evaluation failures"),
	)
	if err != nil {
		return nil, err
	}

	return &otelMetrics{
		events:      events,
		passes:      passes,
		passLatency: passLatency,
		passErrors:  passErrors,
		persists:    persists,
		windows:     windows,
		exprErrors:  exprErrors,
	}, nil
}

// NewMetricsRecorder returns a MetricsRecorder that uses OpenTelemetry.
// If metrics initialization fails, returns a no-op recorder.
//
// The recorder uses the global OTel meter provider. Configure the provider
// before calling this function.
func NewMetricsRecorder() MetricsRecorder {
	m, err := getDefaultMetrics()
	if err != nil {
		slog.Warn("metrics initialization failed, using no-op recorder",
			slog.String("error", err.Error()))
		return NoopMetrics{}
	}
	return m
}

func (m *otelMetrics) RecordEvent(ctx context.Context, transformer string) {
	m.events.Add(ctx, 1, metric.WithAttributes(attribute.String("transformer", transformer)))
}

func (m *otelMetrics) RecordPass(ctx context.Context, transformer string, duration time.Duration, err error) {
	attrs := metric.WithAttributes(
		attribute.String("transformer", transformer),
		attribute.Bool("success", err == nil),
	)
	m.passes.Add(ctx, 1, attrs)
	m.passLatency.Record(ctx, float64(duration.Microseconds())/1000, attrs)
	if err != nil {
		m.passErrors.Add(ctx, 1, metric.WithAttributes(attribute.String("transformer", transformer)))
	}
}

func (m *otelMetrics) RecordPersist(ctx context.Context, aggregate string) {
	m.persists.Add(ctx, 1, metric.WithAttributes(attribute.String("aggregate", aggregate)))
}

func (m *otelMetrics) RecordWindow(ctx context.Context, transformer string, emitted bool) {
	m.windows.Add(ctx, 1, metric.WithAttributes(
		attribute.String("transformer", transformer),
		attribute.Bool("emitted", emitted),
	))
}

func (m *otelMetrics) RecordExpressionError(ctx context.Context, fqn string) {
	m.exprErrors.Add(ctx, 1, metric.WithAttributes(attribute.String("fqn", fqn)))
}
