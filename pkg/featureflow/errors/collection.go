package errors

import (
	"errors"
	"sort"
	"strings"

	"go.uber.org/multierr"
)

// ErrorCollection gathers schema errors raised while a DTC is loaded so
// they can be reported in one pass. Errors are grouped by fully qualified
// name and de-duplicated by message. Errors that are not *SchemaError are
// ignored.
//
// The zero value is ready to use. ErrorCollection is not safe for
// concurrent use.
type ErrorCollection struct {
	byFQN map[string][]*SchemaError
	seen  map[string]struct{}
	order []string
}

// Add files every schema error found in errs. Combined errors, including
// a *CollectionError from another collection, are flattened first.
func (c *ErrorCollection) Add(errs ...error) {
	for _, err := range errs {
		for _, single := range flatten(err) {
			var schemaErr *SchemaError
			if !errors.As(single, &schemaErr) {
				continue
			}
			c.add(schemaErr)
		}
	}
}

func (c *ErrorCollection) add(err *SchemaError) {
	if c.byFQN == nil {
		c.byFQN = make(map[string][]*SchemaError)
		c.seen = make(map[string]struct{})
	}
	sig := err.FQN + "\x00" + err.Error()
	if _, dup := c.seen[sig]; dup {
		return
	}
	c.seen[sig] = struct{}{}
	if _, ok := c.byFQN[err.FQN]; !ok {
		c.order = append(c.order, err.FQN)
	}
	c.byFQN[err.FQN] = append(c.byFQN[err.FQN], err)
}

func flatten(err error) []error {
	if err == nil {
		return nil
	}
	var coll *CollectionError
	if errors.As(err, &coll) {
		return coll.Errors()
	}
	return multierr.Errors(err)
}

// Len returns the number of distinct errors collected.
func (c *ErrorCollection) Len() int {
	return len(c.seen)
}

// Get returns the errors filed under fqn in the order they were added.
func (c *ErrorCollection) Get(fqn string) []*SchemaError {
	return c.byFQN[fqn]
}

// FQNs returns the names that have errors, in first-seen order.
func (c *ErrorCollection) FQNs() []string {
	return append([]string(nil), c.order...)
}

// Err returns nil when the collection is empty, and a *CollectionError
// otherwise.
func (c *ErrorCollection) Err() error {
	if c.Len() == 0 {
		return nil
	}
	return &CollectionError{collection: c}
}

// Format renders the collection as a report grouped by name:
//
//	users.sessions
//	==============
//	--> Attribute `Split` must be present under `users.sessions`.
func (c *ErrorCollection) Format(lineSeparator string) string {
	if lineSeparator == "" {
		lineSeparator = "\n"
	}
	fqns := c.FQNs()
	sort.Strings(fqns)

	var b strings.Builder
	for _, fqn := range fqns {
		b.WriteString(lineSeparator)
		b.WriteString(fqn)
		b.WriteString(lineSeparator)
		b.WriteString(strings.Repeat("=", len(fqn)))
		b.WriteString(lineSeparator)
		for _, err := range c.byFQN[fqn] {
			b.WriteString("--> ")
			b.WriteString(err.Error())
			b.WriteString(lineSeparator)
		}
	}
	return b.String()
}

// CollectionError is the error form of a non-empty ErrorCollection.
// errors.Is and errors.As see every collected error.
type CollectionError struct {
	collection *ErrorCollection
}

func (e *CollectionError) Error() string {
	return "invalid dtc:" + e.collection.Format("\n")
}

// Errors returns the collected errors, grouped by name.
func (e *CollectionError) Errors() []error {
	var all error
	for _, fqn := range e.collection.order {
		for _, err := range e.collection.byFQN[fqn] {
			all = multierr.Append(all, err)
		}
	}
	return multierr.Errors(all)
}

// Unwrap exposes the collected errors to errors.Is and errors.As.
func (e *CollectionError) Unwrap() []error {
	return e.Errors()
}

// Collection returns the underlying collection.
func (e *CollectionError) Collection() *ErrorCollection {
	return e.collection
}
