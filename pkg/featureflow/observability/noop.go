package observability

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// NoopMetrics discards every measurement.
type NoopMetrics struct{}

var _ MetricsRecorder = NoopMetrics{}

func (NoopMetrics) RecordEvent(context.Context, string)                      {}
func (NoopMetrics) RecordPass(context.Context, string, time.Duration, error) {}
func (NoopMetrics) RecordPersist(context.Context, string)                    {}
func (NoopMetrics) RecordWindow(context.Context, string, bool)               {}
func (NoopMetrics) RecordExpressionError(context.Context, string)            {}

// NoopSpanManager hands out non-recording spans and leaves the context
// untouched.
type NoopSpanManager struct{}

var _ SpanManager = NoopSpanManager{}

func (NoopSpanManager) StartPassSpan(ctx context.Context, _, _ string) (context.Context, trace.Span) {
	return ctx, noop.Span{}
}

func (NoopSpanManager) StartWindowSpan(ctx context.Context, _ string, _ time.Time) (context.Context, trace.Span) {
	return ctx, noop.Span{}
}

func (NoopSpanManager) EndSpan(trace.Span, error)                 {}
func (NoopSpanManager) Persisted(context.Context, string, string) {}
