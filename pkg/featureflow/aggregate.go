package featureflow

import (
	"errors"
	"fmt"
	"strings"
	"time"

	fferrors "github.com/randalmurphal/featureflow/pkg/featureflow/errors"
	"github.com/randalmurphal/featureflow/pkg/featureflow/expr"
	"github.com/randalmurphal/featureflow/pkg/featureflow/schema"
	"github.com/randalmurphal/featureflow/pkg/featureflow/store"
)

// AggregateSchema is the parsed form of every aggregate variant. Only the
// attributes of the schema's kind are set.
type AggregateSchema struct {
	CollectionSchema

	kind   Kind
	loader *schema.Loader

	// StoreFQN names the store snapshots are written to, or "" for none.
	StoreFQN string

	// Split closes the current block when true (block).
	Split *expr.Expression
	// Label selects the label an event belongs to (label).
	Label *expr.Expression
	// Condition keeps an activity open while true (activity).
	Condition *expr.Expression
	// InactiveGap closes an activity after this much silence (activity).
	InactiveGap time.Duration
	// Window selects the blocks re-aggregated per anchor (window).
	Window *WindowSchema
}

// NewAggregateSchema parses the aggregate loaded under fqn.
func NewAggregateSchema(l *schema.Loader, fqn string) (*AggregateSchema, error) {
	s, err := l.Get(fqn)
	if err != nil {
		return nil, err
	}
	kind, err := KindOf(s.Type)
	if err != nil || !kind.IsAggregate() {
		return nil, fferrors.UnknownType(fqn, s.Type)
	}

	var errs fferrors.ErrorCollection
	coll, err := newCollectionSchema(l, s)
	errs.Add(err)

	as := &AggregateSchema{CollectionSchema: coll, kind: kind, loader: l}

	for _, name := range as.FieldNames() {
		if strings.HasPrefix(name, "_") {
			errs.Add(fferrors.InvalidIdentifier(schema.Join(fqn, name), schema.AttrName, name))
		}
	}

	if storeName, ok := s.Spec.Text(schema.AttrStore); ok {
		as.StoreFQN = s.Sibling(storeName)
		errs.Add(checkStoreRef(l, fqn, as.StoreFQN))
	}

	switch kind {
	case KindBlockAggregate:
		as.Split, err = compileAttribute(s, AttrSplit, false)
		errs.Add(err)
	case KindLabelAggregate:
		as.Label, err = compileAttribute(s, AttrLabel, true)
		errs.Add(err)
	case KindActivityAggregate:
		as.Condition, err = compileAttribute(s, AttrCondition, false)
		errs.Add(err)
		secs, ok := s.Spec.OptionalInt(AttrSeparateByInactiveSeconds)
		switch {
		case !s.Spec.Has(AttrSeparateByInactiveSeconds):
			errs.Add(fferrors.RequiredAttribute(fqn, AttrSeparateByInactiveSeconds))
		case !ok || secs <= 0:
			errs.Add(fferrors.InvalidAttribute(fqn, AttrSeparateByInactiveSeconds,
				fmt.Errorf("expected a positive number of seconds, got %v", s.Spec.Any(AttrSeparateByInactiveSeconds, nil))))
		default:
			as.InactiveGap = time.Duration(secs) * time.Second
		}
	case KindWindowAggregate:
		as.Window, err = windowSchemaFromAggregate(l, s)
		errs.Add(err)
	}

	if err := errs.Err(); err != nil {
		return nil, err
	}
	return as, nil
}

func checkStoreRef(l *schema.Loader, fqn, storeFQN string) error {
	target, err := l.Get(storeFQN)
	if err != nil {
		return fferrors.InvalidAttribute(fqn, schema.AttrStore, err)
	}
	if kind, _ := KindOf(target.Type); kind != KindStore {
		return fferrors.InvalidAttribute(fqn, schema.AttrStore,
			fmt.Errorf("%s is a %s, not a store", storeFQN, kind))
	}
	return nil
}

// Kind implements TypedSchema.
func (s *AggregateSchema) Kind() Kind { return s.kind }

// Name returns the aggregate's Name, which is also its store group and
// its binding in the evaluation context.
func (s *AggregateSchema) Name() string { return s.base.Name }

// Store returns the aggregate's store, or nil when none is configured.
func (s *AggregateSchema) Store() (store.Store, error) {
	if s.StoreFQN == "" {
		return nil, nil
	}
	return s.loader.GetStore(s.StoreFQN)
}

// Aggregator is implemented by every aggregate variant.
type Aggregator interface {
	Item
	expr.Valuer

	// Kind returns the aggregate variant.
	Kind() Kind
	// Identity returns the identity the aggregate belongs to.
	Identity() string
	// SetIdentity binds the aggregate to an identity.
	SetIdentity(identity string) error
	// Start returns the earliest event time seen since the last reset.
	Start() time.Time
	// End returns the latest event time seen since the last reset.
	End() time.Time
	// GetField returns a field value or a reserved value by name.
	GetField(name string) (any, error)
	// Record returns the snapshot in store form.
	Record() (store.Record, error)
}

// StreamingAggregate is an aggregate driven event by event by a streaming
// transformer.
type StreamingAggregate interface {
	Aggregator

	// Begin prepares the aggregate for a pass, restoring persisted state
	// where the variant keeps any.
	Begin() error
	// Step folds the current event into the aggregate, closing and
	// persisting state when the variant's boundary rule fires.
	Step() error
	// Finalize persists whatever is still open at the end of the pass.
	Finalize() error
}

// NewAggregate creates the variant described by s.
func NewAggregate(s *AggregateSchema, ctx *expr.Context) (Aggregator, error) {
	if s.kind == KindWindowAggregate {
		wa, err := newWindowAggregate(s, ctx)
		if err != nil {
			return nil, err
		}
		return wa, nil
	}
	base, err := newAggregate(s, ctx)
	if err != nil {
		return nil, err
	}
	switch s.kind {
	case KindBlockAggregate:
		return &BlockAggregate{Aggregate: base}, nil
	case KindLabelAggregate:
		return &LabelAggregate{Aggregate: base}, nil
	case KindActivityAggregate:
		return &ActivityAggregate{Aggregate: base}, nil
	case KindIdentityAggregate:
		return &IdentityAggregate{Aggregate: base}, nil
	case KindVariableAggregate:
		return &VariableAggregate{Aggregate: base}, nil
	}
	return nil, wrongSchema(s, KindBlockAggregate)
}

// Aggregate holds the state shared by every variant: the fields, the
// identity and the time span of the events folded in.
type Aggregate struct {
	schema   *AggregateSchema
	coll     *Collection
	ctx      *expr.Context
	store    store.Store
	rt       *runtime
	identity string
	start    time.Time
	end      time.Time
}

func newAggregate(s *AggregateSchema, ctx *expr.Context) (*Aggregate, error) {
	coll, err := NewCollection(&s.CollectionSchema, ctx)
	if err != nil {
		return nil, err
	}
	st, err := s.Store()
	if err != nil {
		return nil, err
	}
	return &Aggregate{schema: s, coll: coll, ctx: ctx, store: st, rt: defaultRuntime()}, nil
}

// Name implements Item.
func (a *Aggregate) Name() string { return a.schema.base.Name }

// FullyQualifiedName returns the aggregate's schema name.
func (a *Aggregate) FullyQualifiedName() string { return a.schema.base.FullyQualifiedName }

// Kind implements Aggregator.
func (a *Aggregate) Kind() Kind { return a.schema.kind }

// Identity implements Aggregator.
func (a *Aggregate) Identity() string { return a.identity }

// SetIdentity implements Aggregator.
func (a *Aggregate) SetIdentity(identity string) error {
	if identity == "" {
		return &AggregateError{FQN: a.FullyQualifiedName(), Op: "bind", Err: ErrEmptyIdentity}
	}
	a.identity = identity
	return nil
}

// Start implements Aggregator.
func (a *Aggregate) Start() time.Time { return a.start }

// End implements Aggregator.
func (a *Aggregate) End() time.Time { return a.end }

// State returns the evaluation state of the fields.
func (a *Aggregate) State() State { return a.coll.State() }

// Store returns the store snapshots are written to, or nil.
func (a *Aggregate) Store() store.Store { return a.store }

func (a *Aggregate) bind(rt *runtime) {
	if rt != nil {
		a.rt = rt
	}
}

// open reports whether an event was folded in since the last reset.
func (a *Aggregate) open() bool {
	return !a.start.IsZero()
}

// Evaluate implements Item. When the guard passes, the time span is
// widened to the bound event time and every field is recomputed.
func (a *Aggregate) Evaluate() error {
	ok, err := a.coll.Guard()
	if err != nil || !ok {
		return err
	}
	if t, ok := a.eventTime(); ok {
		a.observe(t)
	}
	return a.coll.evaluateItems()
}

// eventTime returns the time bound for the current event.
func (a *Aggregate) eventTime() (time.Time, bool) {
	v, found := a.ctx.Lookup(BindTime)
	if !found {
		return time.Time{}, false
	}
	t, ok := expr.ToTime(v)
	if !ok || t.IsZero() {
		return time.Time{}, false
	}
	return t.UTC(), true
}

func (a *Aggregate) observe(t time.Time) {
	if a.start.IsZero() || t.Before(a.start) {
		a.start = t
	}
	if a.end.IsZero() || t.After(a.end) {
		a.end = t
	}
}

// Reset implements Item.
func (a *Aggregate) Reset() {
	a.coll.Reset()
	a.start = time.Time{}
	a.end = time.Time{}
}

// Snapshot implements Item. The snapshot is a store.Record.
func (a *Aggregate) Snapshot() (any, error) {
	return a.Record()
}

// Record implements Aggregator.
func (a *Aggregate) Record() (store.Record, error) {
	fields, err := a.coll.snapshot()
	if err != nil {
		return nil, err
	}
	rec := store.Record(fields)
	rec[store.FieldIdentity] = a.identity
	rec[store.FieldStartTime] = timeOrNil(a.start)
	rec[store.FieldEndTime] = timeOrNil(a.end)
	return rec, nil
}

// Restore implements Item. The reserved fields restore the identity and
// time span; every other key must name a field.
func (a *Aggregate) Restore(snapshot any) error {
	m, ok := asSnapshotMap(snapshot)
	if !ok {
		return &fferrors.SnapshotError{FQN: a.FullyQualifiedName(), Err: fferrors.ErrSnapshotNotMapping}
	}
	rec := store.Record(m)
	fields := make(map[string]any, len(m))
	for k, v := range m {
		if !isReserved(k) {
			fields[k] = v
		}
	}
	if err := a.coll.restore(fields); err != nil {
		return err
	}
	if id := rec.Identity(); id != "" {
		a.identity = id
	}
	a.start, _ = rec.StartTime()
	a.end, _ = rec.EndTime()
	return nil
}

// GetField implements Aggregator.
func (a *Aggregate) GetField(name string) (any, error) {
	switch name {
	case store.FieldIdentity:
		return a.identity, nil
	case store.FieldStartTime:
		return timeOrNil(a.start), nil
	case store.FieldEndTime:
		return timeOrNil(a.end), nil
	}
	return a.coll.GetField(name)
}

// Values implements expr.Valuer.
func (a *Aggregate) Values() map[string]any {
	out := a.coll.Values()
	out[store.FieldIdentity] = a.identity
	out[store.FieldStartTime] = timeOrNil(a.start)
	out[store.FieldEndTime] = timeOrNil(a.end)
	return out
}

// persist writes the current snapshot under key. Aggregates without a
// store, and aggregates that saw no event, write nothing.
func (a *Aggregate) persist(key store.Key) error {
	if a.store == nil || !a.open() {
		return nil
	}
	if a.identity == "" {
		return &AggregateError{FQN: a.FullyQualifiedName(), Op: "persist", Err: ErrEmptyIdentity}
	}
	rec, err := a.Record()
	if err != nil {
		return &AggregateError{FQN: a.FullyQualifiedName(), Op: "persist", Err: err}
	}
	if err := a.store.Save(key, rec); err != nil {
		return &AggregateError{FQN: a.FullyQualifiedName(), Op: "persist", Err: err}
	}
	a.rt.persisted(a.Name(), key, rec)
	return nil
}

// load restores the snapshot stored under key. It reports false when
// there is none.
func (a *Aggregate) load(key store.Key) (bool, error) {
	if a.store == nil {
		return false, nil
	}
	rec, err := a.store.Get(key)
	if err != nil {
		if isNotFound(err) {
			return false, nil
		}
		return false, &AggregateError{FQN: a.FullyQualifiedName(), Op: "restore", Err: err}
	}
	if err := a.Restore(rec); err != nil {
		return false, &AggregateError{FQN: a.FullyQualifiedName(), Op: "restore", Err: err}
	}
	return true, nil
}

// blockKey is the key of a time-keyed snapshot.
func (a *Aggregate) blockKey() store.Key {
	return store.NewKey(a.identity, a.Name(), a.start)
}

func (a *Aggregate) requireIdentity() error {
	if a.identity == "" {
		return &AggregateError{FQN: a.FullyQualifiedName(), Op: "evaluate", Err: ErrEmptyIdentity}
	}
	return nil
}

func isNotFound(err error) bool {
	return errors.Is(err, store.ErrNotFound)
}

func isReserved(name string) bool {
	return name == store.FieldIdentity || name == store.FieldStartTime || name == store.FieldEndTime
}

func timeOrNil(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t
}
