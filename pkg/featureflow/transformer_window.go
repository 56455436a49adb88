package featureflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	fferrors "github.com/randalmurphal/featureflow/pkg/featureflow/errors"
	"github.com/randalmurphal/featureflow/pkg/featureflow/expr"
	"github.com/randalmurphal/featureflow/pkg/featureflow/observability"
	"github.com/randalmurphal/featureflow/pkg/featureflow/schema"
	"github.com/randalmurphal/featureflow/pkg/featureflow/store"
)

// WindowTransformerSchema describes a second pass over the blocks a
// streaming transformer persisted: every stored block of SourceBlock that
// satisfies the Anchor opens one window per window aggregate.
type WindowTransformerSchema struct {
	base *schema.Schema

	SourceFQN string
	Source    *AggregateSchema
	When      *expr.Expression
	Anchor    *AnchorSchema

	Stores     []*StoreSchema
	Aggregates []*AggregateSchema
}

// NewWindowTransformerSchema parses the transformer loaded under fqn.
func NewWindowTransformerSchema(l *schema.Loader, fqn string) (*WindowTransformerSchema, error) {
	s, err := l.Get(fqn)
	if err != nil {
		return nil, err
	}
	var errs fferrors.ErrorCollection
	ts := &WindowTransformerSchema{base: s}

	if source, ok := s.Spec.Text(AttrSourceBlock); !ok {
		errs.Add(fferrors.RequiredAttribute(fqn, AttrSourceBlock))
	} else if src, err := sourceSchema(l, fqn, AttrSourceBlock, source); err != nil {
		errs.Add(schemaFailure(fqn, AttrSourceBlock, err))
	} else {
		ts.SourceFQN, ts.Source = source, src
	}

	ts.When, err = compileAttribute(s, schema.AttrWhen, false)
	errs.Add(err)

	switch anchors := s.NestedIn(schema.AttrAnchor); len(anchors) {
	case 0:
		errs.Add(fferrors.RequiredAttribute(fqn, schema.AttrAnchor))
	default:
		ts.Anchor, err = NewAnchorSchema(l, anchors[0].FullyQualifiedName)
		errs.Add(err)
	}

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
		if !ok || as.Kind() != KindWindowAggregate {
			errs.Add(fferrors.InvalidAttribute(a.Schema().FullyQualifiedName, schema.AttrType,
				fmt.Errorf("%s cannot be used in a window transformer", a.Kind())))
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
func (s *WindowTransformerSchema) Schema() *schema.Schema { return s.base }

// Kind implements TypedSchema.
func (s *WindowTransformerSchema) Kind() Kind { return KindWindowTransformer }

// Name returns the transformer name.
func (s *WindowTransformerSchema) Name() string { return s.base.Name }

// WindowTransformer evaluates the windows of one identity. The current
// stored block is bound under the source aggregate's name while the
// anchor condition runs.
//
// A WindowTransformer is not safe for concurrent use.
type WindowTransformer struct {
	schema     *WindowTransformerSchema
	ctx        *expr.Context
	rt         *runtime
	logger     *slog.Logger
	identity   string
	source     store.Store
	anchor     *Anchor
	aggregates []*WindowAggregate
}

// NewWindowTransformer creates the anchor and window aggregates of s for
// identity.
func NewWindowTransformer(s *WindowTransformerSchema, identity string, opts ...Option) (*WindowTransformer, error) {
	if identity == "" {
		return nil, ErrEmptyIdentity
	}
	source, err := s.Source.Store()
	if err != nil {
		return nil, err
	}
	rt := newRuntime(opts)
	t := &WindowTransformer{
		schema:   s,
		ctx:      expr.NewContext(),
		rt:       rt,
		logger:   observability.EnrichLogger(rt.logger, identity, s.Name(), ""),
		identity: identity,
		source:   source,
	}
	t.ctx.GlobalAdd(BindIdentity, identity)
	t.anchor = NewAnchor(s.Anchor, t.ctx)

	for _, as := range s.Aggregates {
		agg, err := NewAggregate(as, t.ctx)
		if err != nil {
			return nil, err
		}
		wa, ok := agg.(*WindowAggregate)
		if !ok {
			return nil, wrongSchema(as, KindWindowAggregate)
		}
		if err := wa.SetIdentity(identity); err != nil {
			return nil, err
		}
		bindRuntime(wa, rt)
		t.aggregates = append(t.aggregates, wa)
		t.ctx.GlobalAdd(as.Name(), wa)
	}
	return t, nil
}

// Anchor returns the anchor state of the pass.
func (t *WindowTransformer) Anchor() *Anchor { return t.anchor }

// Blocks returns the identity's stored blocks of the source aggregate in
// store order.
func (t *WindowTransformer) Blocks() ([]StoredBlock, error) {
	entries, err := t.source.GetAll(t.identity)
	if err != nil {
		observability.LogStoreError(t.logger, t.source.Name(), "get_all", err)
		return nil, err
	}
	group := t.schema.Source.Name()
	blocks := make([]StoredBlock, 0, len(entries))
	for _, e := range entries {
		if e.Key.Group == group {
			blocks = append(blocks, StoredBlock{Key: e.Key, Record: e.Record})
		}
	}
	return blocks, nil
}

// EvaluateBlock runs the anchor against block and, when it is accepted,
// every window aggregate. It returns the window row and whether one was
// emitted. A count window short of blocks emits nothing and the anchor is
// not counted.
func (t *WindowTransformer) EvaluateBlock(ctx context.Context, block StoredBlock) (Row, bool, error) {
	t.ctx.LocalAdd(t.schema.Source.Name(), block)
	t.ctx.LocalAdd(BindTime, block.Start())

	if t.schema.When != nil {
		ok, err := t.schema.When.EvaluateBool(t.ctx)
		if err != nil || !ok {
			return Row{}, false, err
		}
	}

	ok, err := t.anchor.EvaluateAnchor(block)
	if err != nil || !ok {
		return Row{}, false, err
	}

	_, span := t.rt.spans.StartWindowSpan(ctx, t.schema.Name(), block.Start())
	row, emitted, err := t.evaluateWindows(block)
	t.rt.spans.EndSpan(span, err)
	t.rt.metrics.RecordWindow(ctx, t.schema.Name(), emitted)
	if err != nil || !emitted {
		return Row{}, false, err
	}
	t.anchor.AddConditionMet()
	observability.LogWindowEmitted(t.logger, t.identity, row.Start)
	return row, true, nil
}

func (t *WindowTransformer) evaluateWindows(block StoredBlock) (Row, bool, error) {
	row := Row{Identity: t.identity, Start: block.Start(), Values: make(map[string]any)}
	for _, wa := range t.aggregates {
		if err := wa.EvaluateWindow(block); err != nil {
			if errors.Is(err, ErrMissingBlocks) {
				return Row{}, false, nil
			}
			if fqn, ok := expressionFQN(err); ok {
				t.rt.metrics.RecordExpressionError(t.rt.ctx, fqn)
			}
			return Row{}, false, err
		}
		rec, err := wa.Record()
		if err != nil {
			return Row{}, false, err
		}
		flatten(row.Values, wa.Name(), rec)
	}
	return row, true, nil
}

// Process evaluates every stored block of the identity in store order and
// returns one row per emitted window.
func (t *WindowTransformer) Process(ctx context.Context) (rows []Row, err error) {
	ctx, span := t.rt.spans.StartPassSpan(ctx, t.schema.Name(), t.identity)
	t.rt.ctx = ctx
	elapsed := observability.TimedOperation()
	start := time.Now()

	defer func() {
		t.rt.metrics.RecordPass(ctx, t.schema.Name(), time.Since(start), err)
		t.rt.spans.EndSpan(span, err)
		if err != nil {
			observability.LogPassError(t.logger, t.schema.Name(), t.identity, err)
			return
		}
		observability.LogPassComplete(t.logger, t.schema.Name(), t.identity, elapsed(), len(rows))
	}()

	blocks, err := t.Blocks()
	if err != nil {
		return nil, err
	}
	observability.LogPassStart(t.logger, t.schema.Name(), t.identity, len(blocks))

	for _, block := range blocks {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		row, ok, err := t.EvaluateBlock(ctx, block)
		if err != nil {
			return nil, err
		}
		if ok {
			rows = append(rows, row)
		}
	}
	return rows, nil
}
