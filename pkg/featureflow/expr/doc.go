/*
Package expr compiles and evaluates DTC formulas.

Formulas use the github.com/antonmedv/expr language. A formula is a pure
read of a Context: it never assigns, and any state change comes from the
caller storing the result.

# Context

A Context holds the bindings for one identity's pass. The streaming
transformer binds `time`, `identity` and `source` per event, and each
aggregate under its own name, so a field can accumulate by reading its own
previous value:

	Fields:
	  - Name: event_count
	    Type: integer
	    Value: session.event_count + 1

Aggregates implement Valuer. They are materialized to a map on every
evaluation, so `session.event_count` is read before the field is
overwritten.

# Builtins

Every environment carries:

	True, False, None                 aliases for true, false, nil
	int, float, str                   conversions
	sum, avg, minimum, maximum        over lists, e.g. sum(window.amount)
	parse_time, date, same_day        time helpers
	seconds_between, hours_between, days_between
	sprig                             github.com/Masterminds/sprig generic functions

# Errors

Compile reports malformed text as *errors.ExpressionSyntaxError. Evaluate
reports unresolved names, runtime failures and non-finite arithmetic
(division by zero) as *errors.ExpressionEvaluationError carrying the
formula and the owning schema name.
*/
package expr
