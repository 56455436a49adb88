package featureflow

import (
	"context"
	"log/slog"

	"github.com/randalmurphal/featureflow/pkg/featureflow/observability"
	"github.com/randalmurphal/featureflow/pkg/featureflow/store"
)

// runtime carries the ambient collaborators of one pass.
type runtime struct {
	ctx       context.Context
	logger    *slog.Logger
	metrics   observability.MetricsRecorder
	spans     observability.SpanManager
	onPersist func(aggregate string, key store.Key, rec store.Record)
}

func defaultRuntime() *runtime {
	return &runtime{
		ctx:     context.Background(),
		metrics: observability.NoopMetrics{},
		spans:   observability.NoopSpanManager{},
	}
}

func newRuntime(opts []Option) *runtime {
	rt := defaultRuntime()
	for _, opt := range opts {
		opt(rt)
	}
	return rt
}

// Option configures a transformer.
type Option func(*runtime)

// WithLogger sets the logger for pass events. Default: no logging.
func WithLogger(logger *slog.Logger) Option {
	return func(rt *runtime) {
		rt.logger = logger
	}
}

// WithMetrics sets the metrics recorder. Default: observability.NoopMetrics.
func WithMetrics(m observability.MetricsRecorder) Option {
	return func(rt *runtime) {
		if m != nil {
			rt.metrics = m
		}
	}
}

// WithSpanManager sets the tracing span manager.
// Default: observability.NoopSpanManager.
func WithSpanManager(sm observability.SpanManager) Option {
	return func(rt *runtime) {
		if sm != nil {
			rt.spans = sm
		}
	}
}

// WithObservability enables OpenTelemetry metrics and tracing using the
// global providers.
func WithObservability() Option {
	return func(rt *runtime) {
		rt.metrics = observability.NewMetricsRecorder()
		rt.spans = observability.NewSpanManager()
	}
}

func (rt *runtime) persisted(aggregate string, key store.Key, rec store.Record) {
	rt.metrics.RecordPersist(rt.ctx, aggregate)
	rt.spans.Persisted(rt.ctx, aggregate, key.String())
	observability.LogBlockPersisted(rt.logger, aggregate, key.String())
	if rt.onPersist != nil {
		rt.onPersist(aggregate, key, rec)
	}
}
