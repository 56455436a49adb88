package featureflow

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.uber.org/multierr"

	fferrors "github.com/randalmurphal/featureflow/pkg/featureflow/errors"
	"github.com/randalmurphal/featureflow/pkg/featureflow/expr"
	"github.com/randalmurphal/featureflow/pkg/featureflow/observability"
	"github.com/randalmurphal/featureflow/pkg/featureflow/schema"
	"github.com/randalmurphal/featureflow/pkg/featureflow/store"
)

// StreamingTransformerSchema describes how raw events of one identity are
// folded into streaming aggregates.
type StreamingTransformerSchema struct {
	base *schema.Schema

	// Identity extracts the identity of an event.
	Identity *expr.Expression
	// Time extracts the event time.
	Time *expr.Expression
	// When filters events; an absent guard keeps every event.
	When *expr.Expression

	Stores     []*StoreSchema
	Aggregates []*AggregateSchema
}

// NewStreamingTransformerSchema parses the transformer loaded under fqn.
func NewStreamingTransformerSchema(l *schema.Loader, fqn string) (*StreamingTransformerSchema, error) {
	s, err := l.Get(fqn)
	if err != nil {
		return nil, err
	}
	var errs fferrors.ErrorCollection
	ts := &StreamingTransformerSchema{base: s}

	ts.Identity, err = compileAttribute(s, AttrIdentity, true)
	errs.Add(err)
	ts.Time, err = compileAttribute(s, AttrTime, true)
	errs.Add(err)
	ts.When, err = compileAttribute(s, schema.AttrWhen, false)
	errs.Add(err)

	stores, err := buildNested(l, s, schema.AttrStores)
	errs.Add(err)
	for _, st := range stores {
		if ss, ok := st.(*StoreSchema); ok {
			ts.Stores = append(ts.Stores, ss)
		}
	}

	aggs, err := buildNested(l, s, schema.AttrAggregates)
	errs.Add(err)
	if len(s.NestedIn(schema.AttrAggregates)) == 0 {
		errs.Add(fferrors.RequiredAttribute(fqn, schema.AttrAggregates))
	}
	for _, a := range aggs {
		as, ok := a.(*AggregateSchema)
		if !ok || as.Kind() == KindWindowAggregate {
			errs.Add(fferrors.InvalidAttribute(a.Schema().FullyQualifiedName, schema.AttrType,
				fmt.Errorf("%s cannot be used in a streaming transformer", a.Kind())))
			continue
		}
		ts.Aggregates = append(ts.Aggregates, as)
	}

	if err := errs.Err(); err != nil {
		return nil, err
	}
	return ts, nil
}

// Schema implements TypedSchema.
func (s *StreamingTransformerSchema) Schema() *schema.Schema { return s.base }

// Kind implements TypedSchema.
func (s *StreamingTransformerSchema) Kind() Kind { return KindStreamingTransformer }

// Name returns the transformer name.
func (s *StreamingTransformerSchema) Name() string { return s.base.Name }

func (s *StreamingTransformerSchema) eventContext(record map[string]any) *expr.Context {
	ctx := expr.NewContext()
	ctx.LocalAdd(BindSource, record)
	return ctx
}

// IdentityOf evaluates the Identity formula against record.
func (s *StreamingTransformerSchema) IdentityOf(record map[string]any) (string, error) {
	return identityOf(s.Identity, s.eventContext(record))
}

// TimeOf evaluates the Time formula against record.
func (s *StreamingTransformerSchema) TimeOf(record map[string]any) (time.Time, error) {
	return timeOf(s.Time, s.eventContext(record))
}

func identityOf(e *expr.Expression, ctx *expr.Context) (string, error) {
	v, err := e.Evaluate(ctx)
	if err != nil {
		return "", err
	}
	if v == nil {
		return "", ErrEmptyIdentity
	}
	id := fmt.Sprint(v)
	if id == "" {
		return "", ErrEmptyIdentity
	}
	return id, nil
}

func timeOf(e *expr.Expression, ctx *expr.Context) (time.Time, error) {
	v, err := e.Evaluate(ctx)
	if err != nil {
		return time.Time{}, err
	}
	t, ok := expr.ToTime(v)
	if !ok || t.IsZero() {
		return time.Time{}, fmt.Errorf("%s: got %v: %w", e.String(), v, ErrInvalidTime)
	}
	return t.UTC(), nil
}

// StreamingTransformer runs one identity's events through the streaming
// aggregates. Every aggregate is bound in the context under its own name,
// next to the current event (source), its time and the identity.
//
// A StreamingTransformer is not safe for concurrent use.
type StreamingTransformer struct {
	schema     *StreamingTransformerSchema
	ctx        *expr.Context
	rt         *runtime
	logger     *slog.Logger
	identity   string
	aggregates []StreamingAggregate
	byName     map[string]StreamingAggregate
	last       time.Time
	events     int
	rows       []Row
}

// NewStreamingTransformer creates the aggregates of s for identity and
// begins the pass, restoring persisted state where a variant keeps any.
func NewStreamingTransformer(s *StreamingTransformerSchema, identity string, opts ...Option) (*StreamingTransformer, error) {
	if identity == "" {
		return nil, ErrEmptyIdentity
	}
	rt := newRuntime(opts)
	t := &StreamingTransformer{
		schema:   s,
		ctx:      expr.NewContext(),
		rt:       rt,
		logger:   observability.EnrichLogger(rt.logger, identity, s.Name(), ""),
		identity: identity,
		byName:   make(map[string]StreamingAggregate, len(s.Aggregates)),
	}
	rt.onPersist = func(aggregate string, key store.Key, rec store.Record) {
		t.rows = append(t.rows, blockRow(aggregate, key, rec))
	}
	t.ctx.GlobalAdd(BindIdentity, identity)

	for _, as := range s.Aggregates {
		agg, err := NewAggregate(as, t.ctx)
		if err != nil {
			return nil, err
		}
		sa, ok := agg.(StreamingAggregate)
		if !ok {
			return nil, wrongSchema(as, KindBlockAggregate)
		}
		if err := sa.SetIdentity(identity); err != nil {
			return nil, err
		}
		bindRuntime(sa, rt)
		t.aggregates = append(t.aggregates, sa)
		t.byName[as.Name()] = sa
		t.ctx.GlobalAdd(as.Name(), sa)
	}

	for _, sa := range t.aggregates {
		if err := sa.Begin(); err != nil {
			return nil, err
		}
	}
	return t, nil
}

// bindRuntime hands rt to the aggregate base embedded in every variant.
func bindRuntime(agg Aggregator, rt *runtime) {
	if b, ok := agg.(interface{ bind(*runtime) }); ok {
		b.bind(rt)
	}
}

// Identity returns the identity of the pass.
func (t *StreamingTransformer) Identity() string { return t.identity }

// Aggregate returns the aggregate bound under name.
func (t *StreamingTransformer) Aggregate(name string) (StreamingAggregate, bool) {
	a, ok := t.byName[name]
	return a, ok
}

// Evaluate folds one event into every aggregate. Events must belong to the
// transformer's identity and arrive in ascending time order.
func (t *StreamingTransformer) Evaluate(record map[string]any) error {
	t.ctx.LocalAdd(BindSource, record)

	id, err := identityOf(t.schema.Identity, t.ctx)
	if err != nil {
		return err
	}
	if id != t.identity {
		return fmt.Errorf("got %q, want %q: %w", id, t.identity, ErrIdentityMismatch)
	}

	ts, err := timeOf(t.schema.Time, t.ctx)
	if err != nil {
		return err
	}
	if ts.Before(t.last) {
		return fmt.Errorf("%s before %s: %w", ts.Format(time.RFC3339Nano), t.last.Format(time.RFC3339Nano), ErrEventOutOfOrder)
	}
	t.last = ts
	t.ctx.LocalAdd(BindTime, ts)

	if t.schema.When != nil {
		ok, err := t.schema.When.EvaluateBool(t.ctx)
		if err != nil || !ok {
			return err
		}
	}

	t.events++
	t.rt.metrics.RecordEvent(t.rt.ctx, t.schema.Name())
	for _, sa := range t.aggregates {
		if err := sa.Step(); err != nil {
			t.expressionFailed(err)
			return err
		}
	}
	return nil
}

func (t *StreamingTransformer) expressionFailed(err error) {
	if fqn, ok := expressionFQN(err); ok {
		t.rt.metrics.RecordExpressionError(t.rt.ctx, fqn)
	}
}

// Finalize persists whatever every aggregate still holds open. Every
// aggregate is finalized even when an earlier one fails.
func (t *StreamingTransformer) Finalize() error {
	var err error
	for _, sa := range t.aggregates {
		err = multierr.Append(err, sa.Finalize())
	}
	return err
}

// Rows returns the snapshots persisted so far, in write order.
func (t *StreamingTransformer) Rows() []Row {
	return append([]Row(nil), t.rows...)
}

// Events returns the number of events that passed the When guard.
func (t *StreamingTransformer) Events() int { return t.events }

// Process evaluates records in order and finalizes the pass.
func (t *StreamingTransformer) Process(ctx context.Context, records []map[string]any) (rows []Row, err error) {
	ctx, span := t.rt.spans.StartPassSpan(ctx, t.schema.Name(), t.identity)
	t.rt.ctx = ctx
	elapsed := observability.TimedOperation()
	start := time.Now()
	observability.LogPassStart(t.logger, t.schema.Name(), t.identity, len(records))

	defer func() {
		t.rt.metrics.RecordPass(ctx, t.schema.Name(), time.Since(start), err)
		t.rt.spans.EndSpan(span, err)
		if err != nil {
			observability.LogPassError(t.logger, t.schema.Name(), t.identity, err)
			return
		}
		observability.LogPassComplete(t.logger, t.schema.Name(), t.identity, elapsed(), len(rows))
	}()

	for _, record := range records {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if err := t.Evaluate(record); err != nil {
			return nil, err
		}
	}
	if err := t.Finalize(); err != nil {
		return nil, err
	}
	return t.Rows(), nil
}
