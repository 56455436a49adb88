// Package registry provides a generic thread-safe lookup table.
//
// Keys may be normalized through WithNormalizer so that, for example,
// type tags resolve case-insensitively:
//
//	tags := registry.New[string, Kind](
//	    registry.WithNormalizer[string, Kind](strings.ToLower),
//	)
//	tags.Register("Aggregate:Block", KindBlockAggregate)
//	kind, ok := tags.Get("aggregate:block") // ok == true
//
// Add refuses to overwrite an existing key and GetOrCreate builds a value
// at most once per key, which the schema loader uses to share one store
// instance per fully qualified name.
package registry
