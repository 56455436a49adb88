package featureflow

import (
	"fmt"
	"time"

	fferrors "github.com/randalmurphal/featureflow/pkg/featureflow/errors"
	"github.com/randalmurphal/featureflow/pkg/featureflow/schema"
	"github.com/randalmurphal/featureflow/pkg/featureflow/store"
)

// WindowType is how a window measures its span.
type WindowType int

const (
	WindowDay WindowType = iota + 1
	WindowHour
	WindowCount
)

func (t WindowType) String() string {
	switch t {
	case WindowDay:
		return "day"
	case WindowHour:
		return "hour"
	case WindowCount:
		return "count"
	}
	return fmt.Sprintf("WindowType(%d)", int(t))
}

// ParseWindowType resolves a window type tag, ignoring case.
func ParseWindowType(tag string) (WindowType, bool) {
	switch normalizeTag(tag) {
	case "day":
		return WindowDay, true
	case "hour":
		return WindowHour, true
	case "count":
		return WindowCount, true
	}
	return 0, false
}

// WindowSchema describes the blocks selected around an anchor: Value days,
// hours or blocks before (negative) or after (positive) it, taken from the
// store of the Source aggregate.
type WindowSchema struct {
	base      *schema.Schema
	Type      WindowType
	Value     int
	SourceFQN string
	source    *AggregateSchema
}

// NewWindowSchema parses a standalone window node: Type is day, hour or
// count, with Value and Source attributes.
func NewWindowSchema(l *schema.Loader, fqn string) (*WindowSchema, error) {
	s, err := l.Get(fqn)
	if err != nil {
		return nil, err
	}
	return buildWindowSchema(l, s, schema.AttrType, AttrValue, s.Spec.String(AttrSource, ""))
}

// windowSchemaFromAggregate reads WindowType, WindowValue and Source from
// a window aggregate. Source defaults to the SourceBlock of the enclosing
// window transformer.
func windowSchemaFromAggregate(l *schema.Loader, s *schema.Schema) (*WindowSchema, error) {
	source := s.Spec.String(AttrSource, "")
	if source == "" {
		if parent, err := l.Get(s.Parent()); err == nil {
			source = parent.Spec.String(AttrSourceBlock, "")
		}
	}
	return buildWindowSchema(l, s, AttrWindowType, AttrWindowValue, source)
}

func buildWindowSchema(l *schema.Loader, s *schema.Schema, typeAttr, valueAttr, source string) (*WindowSchema, error) {
	fqn := s.FullyQualifiedName
	var errs fferrors.ErrorCollection

	ws := &WindowSchema{base: s, SourceFQN: source}

	tag, hasType := s.Spec.Text(typeAttr)
	if !hasType {
		errs.Add(fferrors.RequiredAttribute(fqn, typeAttr))
	} else if wt, ok := ParseWindowType(tag); ok {
		ws.Type = wt
	} else {
		errs.Add(fferrors.InvalidAttribute(fqn, typeAttr, fmt.Errorf("unknown window type %q", tag)))
	}

	value, ok := s.Spec.OptionalInt(valueAttr)
	switch {
	case !s.Spec.Has(valueAttr):
		errs.Add(fferrors.RequiredAttribute(fqn, valueAttr))
	case !ok || value == 0:
		errs.Add(fferrors.InvalidAttribute(fqn, valueAttr,
			fmt.Errorf("expected a non-zero integer, got %v", s.Spec.Any(valueAttr, nil))))
	default:
		ws.Value = value
	}

	if source == "" {
		errs.Add(fferrors.RequiredAttribute(fqn, AttrSource))
	} else if src, err := sourceSchema(l, fqn, AttrSource, source); err != nil {
		errs.Add(err)
	} else {
		ws.source = src
	}

	if err := errs.Err(); err != nil {
		return nil, err
	}
	return ws, nil
}

// sourceSchema resolves the time-keyed aggregate with a store that attr
// of fqn names.
func sourceSchema(l *schema.Loader, fqn, attr, source string) (*AggregateSchema, error) {
	if _, err := l.Get(source); err != nil {
		return nil, fferrors.InvalidAttribute(fqn, attr, err)
	}
	src, err := NewAggregateSchema(l, source)
	if err != nil {
		return nil, err
	}
	if src.Kind() != KindBlockAggregate && src.Kind() != KindActivityAggregate {
		return nil, fferrors.InvalidAttribute(fqn, attr,
			fmt.Errorf("%s is a %s; windows read block or activity aggregates", source, src.Kind()))
	}
	if src.StoreFQN == "" {
		return nil, fferrors.InvalidAttribute(fqn, attr,
			fmt.Errorf("%s has no store", source))
	}
	return src, nil
}

// Schema implements TypedSchema.
func (s *WindowSchema) Schema() *schema.Schema { return s.base }

// Kind implements TypedSchema.
func (s *WindowSchema) Kind() Kind { return KindWindow }

// Source returns the aggregate whose stored blocks the window reads.
func (s *WindowSchema) Source() *AggregateSchema { return s.source }

// StoredBlock is a persisted block read back from a store.
type StoredBlock struct {
	Key    store.Key
	Record store.Record
}

// Start returns the key timestamp, or the record's start time for keys
// without one.
func (b StoredBlock) Start() time.Time {
	if b.Key.Timestamp != nil {
		return b.Key.Timestamp.UTC()
	}
	t, _ := b.Record.StartTime()
	return t
}

// Values implements expr.Valuer.
func (b StoredBlock) Values() map[string]any {
	return b.Record.Clone()
}

// positionKey is the key the block occupies in store order.
func (b StoredBlock) positionKey() store.Key {
	return store.NewKey(b.Key.Identity, b.Key.Group, b.Start())
}

// Window selects the stored blocks around an anchor block.
type Window struct {
	schema *WindowSchema
	store  store.Store
}

// NewWindow opens the source aggregate's store.
func NewWindow(s *WindowSchema) (*Window, error) {
	st, err := s.source.Store()
	if err != nil {
		return nil, err
	}
	return &Window{schema: s, store: st}, nil
}

// Blocks returns the blocks in the window of anchor, in store order. A
// count window that finds fewer blocks than it spans fails with
// ErrMissingBlocks.
func (w *Window) Blocks(anchor StoredBlock) ([]store.Entry, error) {
	key := anchor.positionKey()
	value := w.schema.Value

	switch w.schema.Type {
	case WindowDay, WindowHour:
		unit := time.Hour
		if w.schema.Type == WindowDay {
			unit = 24 * time.Hour
		}
		edge := store.NewKey(key.Identity, key.Group, anchor.Start().Add(time.Duration(value)*unit))
		return w.store.GetRange(key, &edge, 0)
	case WindowCount:
		entries, err := w.store.GetRange(key, nil, value)
		if err != nil {
			return nil, err
		}
		if want := abs(value); len(entries) < want {
			return nil, fmt.Errorf("%s: found %d of %d blocks: %w",
				w.schema.base.FullyQualifiedName, len(entries), want, ErrMissingBlocks)
		}
		return entries, nil
	}
	return nil, fmt.Errorf("%s: %w", w.schema.base.FullyQualifiedName, fferrors.ErrInvalidAttribute)
}

// View exposes entries to formulas: every field of the source aggregate,
// and its reserved time fields, as the list of values across the blocks.
func (w *Window) View(entries []store.Entry) WindowView {
	fields := append(w.schema.source.FieldNames(), store.FieldStartTime, store.FieldEndTime)
	return WindowView{fields: fields, entries: entries}
}

// WindowView is the formula view of the blocks in one window.
type WindowView struct {
	fields  []string
	entries []store.Entry
}

// Len returns the number of blocks in the window.
func (v WindowView) Len() int { return len(v.entries) }

// Values implements expr.Valuer.
func (v WindowView) Values() map[string]any {
	out := make(map[string]any, len(v.fields))
	for _, f := range v.fields {
		list := make([]any, len(v.entries))
		for i, e := range v.entries {
			list[i] = e.Record[f]
		}
		out[f] = list
	}
	return out
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
