package featureflow

import (
	"errors"
	"fmt"

	fferrors "github.com/randalmurphal/featureflow/pkg/featureflow/errors"
)

// Sentinel errors for aggregate and window evaluation.
var (
	// ErrEmptyIdentity indicates an aggregate was used without an identity.
	ErrEmptyIdentity = errors.New("identity cannot be empty")

	// ErrMissingBlocks indicates a count window found fewer blocks than it
	// spans. The window is skipped and the anchor is not counted.
	ErrMissingBlocks = errors.New("not enough blocks for window")

	// ErrIdentityMismatch indicates an event belongs to another identity.
	ErrIdentityMismatch = errors.New("event identity does not match transformer identity")

	// ErrEventOutOfOrder indicates an event older than its predecessor.
	ErrEventOutOfOrder = errors.New("event time precedes previous event")

	// ErrInvalidTime indicates the Time formula did not produce a time.
	ErrInvalidTime = errors.New("time formula did not produce a time")

	// ErrNotAnItem indicates a type tag whose kind has no item constructor.
	ErrNotAnItem = errors.New("type has no item constructor")

	// ErrWrongSchema indicates a typed schema of the wrong kind was passed
	// to a constructor.
	ErrWrongSchema = errors.New("schema kind does not match")
)

// AggregateError attaches the aggregate being evaluated to a failure.
type AggregateError struct {
	// FQN is the fully qualified name of the aggregate.
	FQN string
	// Op is the lifecycle step that failed ("evaluate", "persist", "restore").
	Op string
	// Err is the underlying error.
	Err error
}

// Error implements the error interface.
func (e *AggregateError) Error() string {
	return fmt.Sprintf("aggregate %s: %s: %v", e.FQN, e.Op, e.Err)
}

// Unwrap returns the underlying error for errors.Is/As support.
func (e *AggregateError) Unwrap() error {
	return e.Err
}

// expressionFQN returns the schema whose formula failed in err.
func expressionFQN(err error) (string, bool) {
	var evalErr *fferrors.ExpressionEvaluationError
	if errors.As(err, &evalErr) {
		return evalErr.FQN, true
	}
	return "", false
}
