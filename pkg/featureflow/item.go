package featureflow

import (
	"errors"
	"fmt"

	fferrors "github.com/randalmurphal/featureflow/pkg/featureflow/errors"
	"github.com/randalmurphal/featureflow/pkg/featureflow/expr"
	"github.com/randalmurphal/featureflow/pkg/featureflow/schema"
)

// Type-specific DTC attributes. Shared ones live in package schema.
const (
	AttrValue                     = "Value"
	AttrIdentity                  = "Identity"
	AttrTime                      = "Time"
	AttrSplit                     = "Split"
	AttrLabel                     = "Label"
	AttrCondition                 = "Condition"
	AttrSeparateByInactiveSeconds = "SeparateByInactiveSeconds"
	AttrMax                       = "Max"
	AttrWindowType                = "WindowType"
	AttrWindowValue               = "WindowValue"
	AttrSource                    = "Source"
	AttrSourceBlock               = "SourceBlock"
)

// Context bindings set by the transformers.
const (
	BindSource   = "source"
	BindTime     = "time"
	BindIdentity = "identity"
)

// Item is a runtime instance of one schema, bound to the evaluation
// context of an identity's pass.
type Item interface {
	// Name returns the schema Name the item is bound to in its parent.
	Name() string

	// Evaluate recomputes the item against its context.
	Evaluate() error

	// Reset returns the item to its declared default.
	Reset()

	// Snapshot returns the persisted form of the item's state.
	Snapshot() (any, error)

	// Restore replaces the item's state from a snapshot.
	Restore(snapshot any) error
}

// compileAttribute compiles the formula under attr. A missing optional
// attribute yields nil. Compile failures are reported as schema errors so
// they are collected with the rest of the DTC's problems.
func compileAttribute(s *schema.Schema, attr string, required bool) (*expr.Expression, error) {
	text, ok := s.Spec.Text(attr)
	if !ok {
		if required {
			return nil, fferrors.RequiredAttribute(s.FullyQualifiedName, attr)
		}
		return nil, nil
	}
	e, err := expr.Compile(text, expr.WithName(s.FullyQualifiedName))
	if err != nil {
		return nil, fferrors.InvalidAttribute(s.FullyQualifiedName, attr, err)
	}
	return e, nil
}

// buildNested parses the children of s declared under attr.
func buildNested(l *schema.Loader, s *schema.Schema, attr string) ([]TypedSchema, error) {
	var errs fferrors.ErrorCollection
	var out []TypedSchema
	for _, child := range s.NestedIn(attr) {
		factory, err := LoadSchema(child.Type)
		if err != nil {
			errs.Add(fferrors.UnknownType(child.FullyQualifiedName, child.Type))
			continue
		}
		ts, err := factory(l, child.FullyQualifiedName)
		if err != nil {
			errs.Add(schemaFailure(child.FullyQualifiedName, attr, err))
			continue
		}
		out = append(out, ts)
	}
	if err := errs.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// schemaFailure makes sure err is visible to an ErrorCollection.
func schemaFailure(fqn, attr string, err error) error {
	var schemaErr *fferrors.SchemaError
	var collErr *fferrors.CollectionError
	if errors.As(err, &schemaErr) || errors.As(err, &collErr) {
		return err
	}
	return fferrors.InvalidAttribute(fqn, attr, err)
}

// newItem creates the item for a typed schema.
func newItem(s TypedSchema, ctx *expr.Context) (Item, error) {
	factory, err := LoadItem(s.Schema().Type)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", s.Schema().FullyQualifiedName, err)
	}
	return factory(s, ctx)
}
