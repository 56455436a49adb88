// Package featureflow computes time-windowed feature aggregates over
// per-identity event streams, driven by a declarative transform
// configuration (DTC).
//
// A streaming DTC folds ordered events into aggregates. Block, label and
// activity aggregates close on their own boundary rules and are written to
// a store; identity aggregates keep one row per identity; variable
// aggregates hold per-pass scratch values. A window DTC then scans the
// stored blocks of one identity, asks an Anchor which blocks open a
// window, and re-aggregates the blocks each Window selects.
//
// # Formulas
//
// Every Value, When, Split, Label, Condition, Identity and Time attribute
// is an expression (see package expr). The transformer binds:
//
//   - source: the raw event
//   - time: the event time
//   - identity: the identity being processed
//   - one binding per aggregate, under the aggregate's Name
//
// A field may read its own previous value through its aggregate:
//
//	Fields:
//	  - Name: events
//	    Type: integer
//	    Value: session.events + 1
//
// # Basic Usage
//
//	loader := featureflow.NewLoader()
//	fqn, err := loader.AddSchema(spec, "")
//	ts, err := featureflow.NewStreamingTransformerSchema(loader, fqn)
//	t, err := featureflow.NewStreamingTransformer(ts, "user-1")
//	for _, event := range events {
//	    if err := t.Evaluate(event); err != nil { ... }
//	}
//	err = t.Finalize()
//
// # Concurrency
//
// One identity's pass is sequential: a transformer, its aggregates and its
// evaluation context must not be shared between goroutines. Schemas,
// compiled expressions and stores are safe to share.
package featureflow
