// Package schema parses DTC subtrees into immutable Schema nodes.
//
// A Loader owns every schema of a process, keyed by fully qualified name:
// the dot path of Name attributes from the document root. Nested specs
// under Fields, Aggregates, Stores and Anchor are added recursively, and
// load-time problems are collected into an errors.ErrorCollection so a
// DTC reports all of its mistakes at once.
//
// Adding the same name twice is idempotent when the specs are deep-equal
// and fails with a duplicate schema error otherwise.
//
// Type tags are opaque here. The featureflow package installs the tag
// check and the store opener through WithTypeCheck and WithStoreOpener.
package schema
