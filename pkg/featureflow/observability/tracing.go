package observability

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const instrumentation = "featureflow"

// Span attribute keys.
const (
	KeyTransformer = attribute.Key("featureflow.transformer")
	KeyIdentity    = attribute.Key("featureflow.identity")
	KeyAggregate   = attribute.Key("featureflow.aggregate")
	KeyAnchor      = attribute.Key("featureflow.anchor")
	KeyStoreKey    = attribute.Key("featureflow.store_key")
)

// SpanManager opens the spans of a pass. A pass span covers one identity
// going through one transformer; window spans are its children, one per
// accepted anchor.
type SpanManager interface {
	StartPassSpan(ctx context.Context, transformer, identity string) (context.Context, trace.Span)
	StartWindowSpan(ctx context.Context, transformer string, anchor time.Time) (context.Context, trace.Span)

	// EndSpan records err, if any, as the span status and ends it.
	EndSpan(span trace.Span, err error)

	// Persisted adds an event for a saved snapshot to the span in ctx.
	Persisted(ctx context.Context, aggregate, key string)
}

type otelSpanManager struct {
	tracer trace.Tracer
}

// NewSpanManager returns a SpanManager on the global tracer provider.
// The provider is resolved at each span start, so it may be set later.
func NewSpanManager() SpanManager {
	return otelSpanManager{}
}

// NewSpanManagerWithProvider returns a SpanManager bound to tp.
func NewSpanManagerWithProvider(tp trace.TracerProvider) SpanManager {
	return otelSpanManager{tracer: tp.Tracer(instrumentation)}
}

func (m otelSpanManager) start(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	tr := m.tracer
	if tr == nil {
		tr = otel.Tracer(instrumentation)
	}
	return tr.Start(ctx, name, trace.WithAttributes(attrs...), trace.WithSpanKind(trace.SpanKindInternal))
}

func (m otelSpanManager) StartPassSpan(ctx context.Context, transformer, identity string) (context.Context, trace.Span) {
	return m.start(ctx, "featureflow.pass "+transformer,
		KeyTransformer.String(transformer),
		KeyIdentity.String(identity),
	)
}

func (m otelSpanManager) StartWindowSpan(ctx context.Context, transformer string, anchor time.Time) (context.Context, trace.Span) {
	return m.start(ctx, "featureflow.window "+transformer,
		KeyTransformer.String(transformer),
		KeyAnchor.String(anchor.UTC().Format(time.RFC3339)),
	)
}

func (otelSpanManager) EndSpan(span trace.Span, err error) {
	if span == nil {
		return
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}

func (otelSpanManager) Persisted(ctx context.Context, aggregate, key string) {
	span := trace.SpanFromContext(ctx)
	if !span.IsRecording() {
		return
	}
	span.AddEvent("aggregate.persisted", trace.WithAttributes(
		KeyAggregate.String(aggregate),
		KeyStoreKey.String(key),
	))
}
