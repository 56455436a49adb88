package featureflow

import (
	"fmt"
	"maps"
	"strconv"
	"time"

	fferrors "github.com/randalmurphal/featureflow/pkg/featureflow/errors"
	"github.com/randalmurphal/featureflow/pkg/featureflow/expr"
	"github.com/randalmurphal/featureflow/pkg/featureflow/schema"
)

// FieldType is the declared type of a field value.
type FieldType int

const (
	FieldString FieldType = iota + 1
	FieldInteger
	FieldFloat
	FieldBoolean
	FieldDateTime
	FieldMap
	FieldList
	FieldSet
)

var fieldTypeNames = map[FieldType]string{
	FieldString:   "string",
	FieldInteger:  "integer",
	FieldFloat:    "float",
	FieldBoolean:  "boolean",
	FieldDateTime: "datetime",
	FieldMap:      "map",
	FieldList:     "list",
	FieldSet:      "set",
}

func (t FieldType) String() string {
	if s, ok := fieldTypeNames[t]; ok {
		return s
	}
	return fmt.Sprintf("FieldType(%d)", int(t))
}

// ParseFieldType resolves a field type tag, ignoring case.
func ParseFieldType(tag string) (FieldType, bool) {
	n := normalizeTag(tag)
	for t, name := range fieldTypeNames {
		if name == n {
			return t, true
		}
	}
	return 0, false
}

// Default returns the value a field of this type holds after a reset.
// Datetime fields default to nil.
func (t FieldType) Default() any {
	switch t {
	case FieldString:
		return ""
	case FieldInteger:
		return 0
	case FieldFloat:
		return 0.0
	case FieldBoolean:
		return false
	case FieldMap:
		return map[string]any{}
	case FieldList, FieldSet:
		return []any{}
	}
	return nil
}

// Coerce converts v to the field type.
func (t FieldType) Coerce(v any) (any, error) {
	switch t {
	case FieldString:
		switch val := v.(type) {
		case string:
			return val, nil
		case time.Time:
			return val.UTC().Format(time.RFC3339Nano), nil
		}
		return fmt.Sprint(v), nil
	case FieldInteger:
		if n, ok := expr.ToInt(v); ok {
			return n, nil
		}
	case FieldFloat:
		if f, ok := expr.ToFloat64(v); ok {
			return f, nil
		}
	case FieldBoolean:
		if s, ok := v.(string); ok {
			if b, err := strconv.ParseBool(s); err == nil {
				return b, nil
			}
		}
		return expr.IsTruthy(v), nil
	case FieldDateTime:
		if tm, ok := expr.ToTime(v); ok {
			return tm.UTC(), nil
		}
	case FieldMap:
		switch m := v.(type) {
		case map[string]any:
			return maps.Clone(m), nil
		case map[any]any:
			out := make(map[string]any, len(m))
			for k, val := range m {
				out[fmt.Sprint(k)] = val
			}
			return out, nil
		}
	case FieldList:
		return append([]any{}, expr.Flatten(v)...), nil
	case FieldSet:
		return dedupe(expr.Flatten(v)), nil
	}
	return nil, fmt.Errorf("cannot convert %T to %s", v, t)
}

// dedupe keeps the first occurrence of every element.
func dedupe(items []any) []any {
	out := make([]any, 0, len(items))
	seen := make(map[string]struct{}, len(items))
	for _, item := range items {
		sig := fmt.Sprintf("%T:%v", item, item)
		if _, dup := seen[sig]; dup {
			continue
		}
		seen[sig] = struct{}{}
		out = append(out, item)
	}
	return out
}

// copyValue detaches mutable values from the field that holds them.
func copyValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		return maps.Clone(val)
	case []any:
		return append([]any{}, val...)
	}
	return v
}

// FieldSchema is the parsed form of a field node.
type FieldSchema struct {
	base  *schema.Schema
	Type  FieldType
	Value *expr.Expression
	When  *expr.Expression
}

// NewFieldSchema parses the field loaded under fqn. Value is required.
func NewFieldSchema(l *schema.Loader, fqn string) (*FieldSchema, error) {
	s, err := l.Get(fqn)
	if err != nil {
		return nil, err
	}
	ft, ok := ParseFieldType(s.Type)
	if !ok {
		return nil, fferrors.UnknownType(fqn, s.Type)
	}

	var errs fferrors.ErrorCollection
	value, err := compileAttribute(s, AttrValue, true)
	errs.Add(err)
	when, err := compileAttribute(s, schema.AttrWhen, false)
	errs.Add(err)
	if err := errs.Err(); err != nil {
		return nil, err
	}
	return &FieldSchema{base: s, Type: ft, Value: value, When: when}, nil
}

// Schema implements TypedSchema.
func (s *FieldSchema) Schema() *schema.Schema { return s.base }

// Kind implements TypedSchema.
func (s *FieldSchema) Kind() Kind { return KindField }

// Field is a leaf item whose value is recomputed from its Value formula on
// every evaluation.
type Field struct {
	schema *FieldSchema
	ctx    *expr.Context
	value  any
}

// NewField creates a field holding its type's default.
func NewField(s *FieldSchema, ctx *expr.Context) *Field {
	return &Field{schema: s, ctx: ctx, value: s.Type.Default()}
}

// Name implements Item.
func (f *Field) Name() string {
	return f.schema.base.Name
}

// Value returns the current value.
func (f *Field) Value() any {
	return f.value
}

// Evaluate implements Item. A nil result leaves the value unchanged; any
// other result replaces it after conversion to the field type.
func (f *Field) Evaluate() error {
	if f.schema.When != nil {
		ok, err := f.schema.When.EvaluateBool(f.ctx)
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
	}

	v, err := f.schema.Value.Evaluate(f.ctx)
	if err != nil {
		return err
	}
	if v == nil {
		return nil
	}
	coerced, err := f.schema.Type.Coerce(v)
	if err != nil {
		return &fferrors.ExpressionEvaluationError{
			FQN:     f.schema.base.FullyQualifiedName,
			Formula: f.schema.Value.String(),
			Err:     err,
		}
	}
	f.value = coerced
	return nil
}

// Reset implements Item.
func (f *Field) Reset() {
	f.value = f.schema.Type.Default()
}

// Snapshot implements Item.
func (f *Field) Snapshot() (any, error) {
	return copyValue(f.value), nil
}

// Restore implements Item. nil restores the default.
func (f *Field) Restore(snapshot any) error {
	if snapshot == nil {
		f.Reset()
		return nil
	}
	v, err := f.schema.Type.Coerce(snapshot)
	if err != nil {
		return &fferrors.SnapshotError{FQN: f.schema.base.FullyQualifiedName, Err: err}
	}
	f.value = v
	return nil
}
