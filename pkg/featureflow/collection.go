package featureflow

import (
	fferrors "github.com/randalmurphal/featureflow/pkg/featureflow/errors"
	"github.com/randalmurphal/featureflow/pkg/featureflow/expr"
	"github.com/randalmurphal/featureflow/pkg/featureflow/schema"
	"github.com/randalmurphal/featureflow/pkg/featureflow/store"
)

// State is the evaluation state of a collection.
type State int

const (
	NotEvaluated State = iota
	Evaluated
)

func (s State) String() string {
	if s == Evaluated {
		return "evaluated"
	}
	return "not evaluated"
}

// CollectionSchema is the shared part of every schema that owns fields.
type CollectionSchema struct {
	base  *schema.Schema
	When  *expr.Expression
	Items []TypedSchema
}

func newCollectionSchema(l *schema.Loader, s *schema.Schema) (CollectionSchema, error) {
	var errs fferrors.ErrorCollection
	when, err := compileAttribute(s, schema.AttrWhen, false)
	errs.Add(err)
	items, err := buildNested(l, s, schema.AttrFields)
	errs.Add(err)
	return CollectionSchema{base: s, When: when, Items: items}, errs.Err()
}

// Schema returns the underlying DTC node.
func (s *CollectionSchema) Schema() *schema.Schema { return s.base }

// FieldNames returns the names of the nested items in declared order.
func (s *CollectionSchema) FieldNames() []string {
	names := make([]string, len(s.Items))
	for i, item := range s.Items {
		names[i] = item.Schema().Name
	}
	return names
}

// Collection is an item owning named child items. Evaluation is gated by
// the schema's When guard; an absent guard always passes.
type Collection struct {
	schema *CollectionSchema
	ctx    *expr.Context
	names  []string
	items  map[string]Item
	state  State
}

// NewCollection creates the children declared by s.
func NewCollection(s *CollectionSchema, ctx *expr.Context) (*Collection, error) {
	c := &Collection{
		schema: s,
		ctx:    ctx,
		names:  make([]string, 0, len(s.Items)),
		items:  make(map[string]Item, len(s.Items)),
	}
	for _, child := range s.Items {
		item, err := newItem(child, ctx)
		if err != nil {
			return nil, err
		}
		c.names = append(c.names, item.Name())
		c.items[item.Name()] = item
	}
	return c, nil
}

// Name implements Item.
func (c *Collection) Name() string {
	return c.schema.base.Name
}

// State returns whether the children were evaluated since the last reset.
func (c *Collection) State() State {
	return c.state
}

// Guard evaluates the When formula.
func (c *Collection) Guard() (bool, error) {
	if c.schema.When == nil {
		return true, nil
	}
	return c.schema.When.EvaluateBool(c.ctx)
}

// Evaluate implements Item. When the guard is false no child is touched.
// A guard that fails to evaluate is returned and no child is touched
// either.
func (c *Collection) Evaluate() error {
	ok, err := c.Guard()
	if err != nil || !ok {
		return err
	}
	return c.evaluateItems()
}

func (c *Collection) evaluateItems() error {
	if c.items == nil {
		return c.noItems()
	}
	for _, name := range c.names {
		if err := c.items[name].Evaluate(); err != nil {
			return err
		}
	}
	c.state = Evaluated
	return nil
}

// Reset implements Item.
func (c *Collection) Reset() {
	for _, item := range c.items {
		item.Reset()
	}
	c.state = NotEvaluated
}

// Snapshot implements Item. The snapshot is a map[string]any of child
// snapshots.
func (c *Collection) Snapshot() (any, error) {
	return c.snapshot()
}

func (c *Collection) snapshot() (map[string]any, error) {
	if c.items == nil {
		return nil, c.noItems()
	}
	out := make(map[string]any, len(c.items))
	for _, name := range c.names {
		v, err := c.items[name].Snapshot()
		if err != nil {
			return nil, err
		}
		out[name] = v
	}
	return out, nil
}

// Restore implements Item. Every key must name a child and every value
// must restore; otherwise the collection is left unchanged.
func (c *Collection) Restore(snapshot any) error {
	m, ok := asSnapshotMap(snapshot)
	if !ok {
		return &fferrors.SnapshotError{FQN: c.schema.base.FullyQualifiedName, Err: fferrors.ErrSnapshotNotMapping}
	}
	return c.restore(m)
}

func (c *Collection) restore(m map[string]any) error {
	if c.items == nil {
		return c.noItems()
	}
	for key := range m {
		if _, ok := c.items[key]; !ok {
			return &fferrors.SnapshotError{
				FQN: c.schema.base.FullyQualifiedName,
				Key: key,
				Err: fferrors.ErrSnapshotUnmatched,
			}
		}
	}
	prev := make(map[string]any, len(m))
	for _, name := range c.names {
		v, ok := m[name]
		if !ok {
			continue
		}
		item := c.items[name]
		old, err := item.Snapshot()
		if err != nil {
			c.rollback(prev)
			return err
		}
		if err := item.Restore(v); err != nil {
			c.rollback(prev)
			return err
		}
		prev[name] = old
	}
	return nil
}

// rollback puts back the child states taken before a failed restore.
func (c *Collection) rollback(prev map[string]any) {
	for name, old := range prev {
		_ = c.items[name].Restore(old)
	}
}

// GetField returns the current value of the named child.
func (c *Collection) GetField(name string) (any, error) {
	item, ok := c.items[name]
	if !ok {
		return nil, &fferrors.UnknownFieldError{FQN: c.schema.base.FullyQualifiedName, Field: name}
	}
	return itemValue(item), nil
}

// Item returns the named child.
func (c *Collection) Item(name string) (Item, bool) {
	item, ok := c.items[name]
	return item, ok
}

// Values implements expr.Valuer with the current child values.
func (c *Collection) Values() map[string]any {
	out := make(map[string]any, len(c.items))
	for name, item := range c.items {
		out[name] = itemValue(item)
	}
	return out
}

func (c *Collection) noItems() error {
	return &fferrors.SnapshotError{FQN: c.schema.base.FullyQualifiedName, Err: fferrors.ErrSnapshotNoItems}
}

func itemValue(item Item) any {
	switch v := item.(type) {
	case *Field:
		return v.Value()
	case expr.Valuer:
		return v.Values()
	}
	snap, _ := item.Snapshot()
	return snap
}

func asSnapshotMap(v any) (map[string]any, bool) {
	switch m := v.(type) {
	case map[string]any:
		return m, true
	case store.Record:
		return m, true
	}
	return nil, false
}
