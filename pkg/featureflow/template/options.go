package template

// Option configures an Expander.
type Option func(*Expander)

// Strict makes Expand fail when a reference has neither a value nor a
// default. Without it the placeholder is left in the output.
func Strict() Option {
	return func(e *Expander) { e.strict = true }
}

// WithLookup resolves names through fn instead of the environment.
func WithLookup(fn LookupFunc) Option {
	return func(e *Expander) { e.lookup = fn }
}

// FromMap resolves names from vars only.
func FromMap(vars map[string]string) Option {
	return WithLookup(func(name string) (string, bool) {
		v, ok := vars[name]
		return v, ok
	})
}

// BracesOnly turns off bare $NAME references, for values such as
// passwords that may contain a literal dollar sign.
func BracesOnly() Option {
	return func(e *Expander) { e.bare = false }
}
