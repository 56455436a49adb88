// Package errors provides the error taxonomy used across featureflow.
//
// The package is layered:
//   - Typed errors: schema, expression, snapshot, store query and backend
//     failures, each carrying the fully qualified name it concerns
//   - Collection: schema errors gathered during load and reported together
//   - Categorization: classify errors for handling
//   - Retry: transient backend failures with exponential backoff
package errors

import (
	"context"
	"errors"
	"fmt"
)

// Category represents how an error should be handled.
type Category int

const (
	// CategoryTransient indicates retry will likely help.
	// Examples: a locked SQLite database, a dropped Redis connection.
	CategoryTransient Category = iota

	// CategoryPermanent indicates retry won't help.
	CategoryPermanent

	// CategorySchema marks a malformed or unknown DTC. Fatal at load.
	CategorySchema

	// CategoryExpression marks a formula that failed to compile or evaluate.
	// Fatal for the current step of the offending identity.
	CategoryExpression

	// CategorySnapshot marks persisted state that no longer matches its schema.
	CategorySnapshot

	// CategoryQuery marks invalid store range arguments.
	CategoryQuery
)

// String returns the category name.
func (c Category) String() string {
	switch c {
	case CategoryTransient:
		return "transient"
	case CategoryPermanent:
		return "permanent"
	case CategorySchema:
		return "schema"
	case CategoryExpression:
		return "expression"
	case CategorySnapshot:
		return "snapshot"
	case CategoryQuery:
		return "query"
	default:
		return "unknown"
	}
}

// CategorizedError wraps an error with its category and context.
type CategorizedError struct {
	// Err is the underlying error.
	Err error

	// Category indicates how this error should be handled.
	Category Category

	// Retries is the number of attempts that have been made.
	Retries int

	// Context describes what operation was being attempted.
	Context string
}

// Error implements the error interface.
func (e *CategorizedError) Error() string {
	if e.Context != "" {
		return fmt.Sprintf("%s: %s (category: %s, attempts: %d)",
			e.Context, e.Err, e.Category, e.Retries)
	}
	return fmt.Sprintf("%s (category: %s, attempts: %d)",
		e.Err, e.Category, e.Retries)
}

// Unwrap returns the underlying error.
func (e *CategorizedError) Unwrap() error {
	return e.Err
}

// Transient marks err as worth retrying.
func Transient(err error, context string) *CategorizedError {
	return &CategorizedError{Err: err, Category: CategoryTransient, Context: context}
}

// Permanent marks err as not worth retrying.
func Permanent(err error, context string) *CategorizedError {
	return &CategorizedError{Err: err, Category: CategoryPermanent, Context: context}
}

// Categorize determines how an error should be handled.
func Categorize(err error) Category {
	if err == nil {
		return CategoryPermanent
	}

	var catErr *CategorizedError
	if errors.As(err, &catErr) {
		return catErr.Category
	}

	var backendErr *BackendError
	if errors.As(err, &backendErr) {
		if backendErr.Temporary {
			return CategoryTransient
		}
		return CategoryPermanent
	}

	var schemaErr *SchemaError
	var collErr *CollectionError
	if errors.As(err, &schemaErr) || errors.As(err, &collErr) {
		return CategorySchema
	}

	var syntaxErr *ExpressionSyntaxError
	var evalErr *ExpressionEvaluationError
	if errors.As(err, &syntaxErr) || errors.As(err, &evalErr) {
		return CategoryExpression
	}

	var snapErr *SnapshotError
	if errors.As(err, &snapErr) {
		return CategorySnapshot
	}

	var queryErr *StoreQueryError
	if errors.As(err, &queryErr) {
		return CategoryQuery
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return CategoryTransient
	}

	return CategoryPermanent
}

// IsRetryable reports whether the error should be retried.
func IsRetryable(err error) bool {
	return Categorize(err) == CategoryTransient
}
