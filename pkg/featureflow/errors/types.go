package errors

import (
	"errors"
	"fmt"
)

// Schema failure reasons. Match them with errors.Is.
var (
	ErrRequiredAttribute  = errors.New("required attribute missing")
	ErrEmptyAttribute     = errors.New("attribute left empty")
	ErrInvalidIdentifier  = errors.New("invalid identifier")
	ErrInvalidAttribute   = errors.New("invalid attribute")
	ErrUnknownType        = errors.New("unknown type")
	ErrDuplicateSchema    = errors.New("duplicate schema")
	ErrSchemaNotFound     = errors.New("schema not found")
	ErrUnknownField       = errors.New("unknown field")
	ErrSnapshotUnmatched  = errors.New("snapshot key has no matching item")
	ErrSnapshotNotMapping = errors.New("snapshot is not a mapping")
	ErrSnapshotNoItems    = errors.New("collection has no nested items")
)

// SchemaError reports a malformed DTC node.
type SchemaError struct {
	// FQN is the fully qualified name of the offending schema.
	FQN string

	// Attribute is the DTC key at fault, if any.
	Attribute string

	// Value is the offending value, if any.
	Value any

	// Err is one of the schema sentinels, possibly wrapping a cause.
	Err error
}

func (e *SchemaError) Error() string {
	switch {
	case errors.Is(e.Err, ErrRequiredAttribute):
		return fmt.Sprintf("Attribute `%s` must be present under `%s`.", e.Attribute, e.FQN)
	case errors.Is(e.Err, ErrEmptyAttribute):
		return fmt.Sprintf("Attribute `%s` under `%s` cannot be left empty.", e.Attribute, e.FQN)
	case errors.Is(e.Err, ErrInvalidIdentifier):
		return fmt.Sprintf("`%s: %v` in section `%s` is invalid. Identifiers starting with underscore `_` are reserved.",
			e.Attribute, e.Value, e.FQN)
	case errors.Is(e.Err, ErrUnknownType):
		return fmt.Sprintf("Type `%v` used in `%s` is not a registered type.", e.Value, e.FQN)
	case errors.Is(e.Err, ErrDuplicateSchema):
		return fmt.Sprintf("`%s` is already defined with a different spec.", e.FQN)
	}
	if e.Attribute != "" {
		return fmt.Sprintf("schema %s: %s: %v", e.FQN, e.Attribute, e.Err)
	}
	return fmt.Sprintf("schema %s: %v", e.FQN, e.Err)
}

func (e *SchemaError) Unwrap() error {
	return e.Err
}

// RequiredAttribute reports a missing DTC key.
func RequiredAttribute(fqn, attribute string) *SchemaError {
	return &SchemaError{FQN: fqn, Attribute: attribute, Err: ErrRequiredAttribute}
}

// EmptyAttribute reports a DTC key whose value is blank.
func EmptyAttribute(fqn, attribute string) *SchemaError {
	return &SchemaError{FQN: fqn, Attribute: attribute, Err: ErrEmptyAttribute}
}

// InvalidIdentifier reports a name that collides with reserved identifiers.
func InvalidIdentifier(fqn, attribute string, value any) *SchemaError {
	return &SchemaError{FQN: fqn, Attribute: attribute, Value: value, Err: ErrInvalidIdentifier}
}

// InvalidAttribute reports a DTC key whose value cannot be used.
func InvalidAttribute(fqn, attribute string, cause error) *SchemaError {
	return &SchemaError{FQN: fqn, Attribute: attribute, Err: fmt.Errorf("%w: %w", ErrInvalidAttribute, cause)}
}

// UnknownType reports a type tag missing from the type registry.
func UnknownType(fqn, tag string) *SchemaError {
	return &SchemaError{FQN: fqn, Attribute: "Type", Value: tag, Err: ErrUnknownType}
}

// DuplicateSchema reports a second, different spec registered under fqn.
func DuplicateSchema(fqn string) *SchemaError {
	return &SchemaError{FQN: fqn, Err: ErrDuplicateSchema}
}

// ExpressionSyntaxError reports a formula that does not compile.
type ExpressionSyntaxError struct {
	FQN     string
	Formula string
	Err     error
}

func (e *ExpressionSyntaxError) Error() string {
	return fmt.Sprintf("invalid formula %q in %s: %v", e.Formula, orUnnamed(e.FQN), e.Err)
}

func (e *ExpressionSyntaxError) Unwrap() error {
	return e.Err
}

// ExpressionEvaluationError reports a formula that failed at run time,
// for example on division by zero or an unresolved name.
type ExpressionEvaluationError struct {
	FQN     string
	Formula string
	Err     error
}

func (e *ExpressionEvaluationError) Error() string {
	return fmt.Sprintf("evaluate %q in %s: %v", e.Formula, orUnnamed(e.FQN), e.Err)
}

func (e *ExpressionEvaluationError) Unwrap() error {
	return e.Err
}

// SnapshotError reports persisted state that does not fit the item tree.
type SnapshotError struct {
	FQN string
	Key string
	Err error
}

func (e *SnapshotError) Error() string {
	if e.Key != "" {
		return fmt.Sprintf("snapshot %s: key %q: %v", e.FQN, e.Key, e.Err)
	}
	return fmt.Sprintf("snapshot %s: %v", e.FQN, e.Err)
}

func (e *SnapshotError) Unwrap() error {
	return e.Err
}

// UnknownFieldError is returned when a collection is asked for a child it
// does not declare.
type UnknownFieldError struct {
	FQN   string
	Field string
}

func (e *UnknownFieldError) Error() string {
	return fmt.Sprintf("%s has no field %q", e.FQN, e.Field)
}

func (e *UnknownFieldError) Unwrap() error {
	return ErrUnknownField
}

// StoreQueryError reports range arguments rejected before any scan.
type StoreQueryError struct {
	Store   string
	Message string
}

func (e *StoreQueryError) Error() string {
	return fmt.Sprintf("store %s: %s", orUnnamed(e.Store), e.Message)
}

// BackendError wraps a failure from a store backend. Temporary marks
// failures the retry helpers should attempt again.
type BackendError struct {
	Backend   string
	Op        string
	Temporary bool
	Err       error
}

func (e *BackendError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Backend, e.Op, e.Err)
}

func (e *BackendError) Unwrap() error {
	return e.Err
}

func orUnnamed(name string) string {
	if name == "" {
		return "<unnamed>"
	}
	return name
}
