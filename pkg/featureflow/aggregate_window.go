package featureflow

import (
	"github.com/randalmurphal/featureflow/pkg/featureflow/expr"
	"github.com/randalmurphal/featureflow/pkg/featureflow/store"
)

// BindAnchor is the local binding of the anchor block inside a window
// aggregate's formulas.
const BindAnchor = "anchor"

// WindowAggregate re-aggregates the stored blocks of a window. Its
// formulas see a WindowView, where every field is the list of that
// field's values across the window, bound under both the aggregate's own
// name and the source aggregate's name. The anchor block is bound under
// BindAnchor.
type WindowAggregate struct {
	*Aggregate
	window *Window
	local  *expr.Context
}

func newWindowAggregate(s *AggregateSchema, ctx *expr.Context) (*WindowAggregate, error) {
	local := ctx.Fork()
	base, err := newAggregate(s, local)
	if err != nil {
		return nil, err
	}
	w, err := NewWindow(s.Window)
	if err != nil {
		return nil, &AggregateError{FQN: s.base.FullyQualifiedName, Op: "open", Err: err}
	}
	return &WindowAggregate{Aggregate: base, window: w, local: local}, nil
}

// Window returns the window the aggregate reads.
func (w *WindowAggregate) Window() *Window { return w.window }

// EvaluateWindow recomputes the aggregate over the window of anchor and
// persists it under (identity, name, anchor start). Count windows short of
// blocks return ErrMissingBlocks and persist nothing.
func (w *WindowAggregate) EvaluateWindow(anchor StoredBlock) error {
	if err := w.requireIdentity(); err != nil {
		return err
	}
	w.Reset()

	entries, err := w.window.Blocks(anchor)
	if err != nil {
		return &AggregateError{FQN: w.FullyQualifiedName(), Op: "window", Err: err}
	}
	view := w.window.View(entries)
	w.local.LocalAdd(w.window.schema.source.Name(), view)
	w.local.LocalAdd(w.Name(), view)
	w.local.LocalAdd(BindAnchor, anchor)

	ok, err := w.coll.Guard()
	if err != nil {
		return &AggregateError{FQN: w.FullyQualifiedName(), Op: "evaluate", Err: err}
	}
	if !ok {
		return nil
	}
	start := anchor.Start()
	w.observe(start)
	if end, ok := anchor.Record.EndTime(); ok {
		w.observe(end)
	}
	if err := w.coll.evaluateItems(); err != nil {
		return &AggregateError{FQN: w.FullyQualifiedName(), Op: "evaluate", Err: err}
	}
	return w.persist(store.NewKey(w.identity, w.Name(), start))
}

// Evaluate implements Item. Window aggregates are driven by EvaluateWindow;
// outside a window pass they only recompute their fields.
func (w *WindowAggregate) Evaluate() error {
	return w.coll.Evaluate()
}
