package expr

import "maps"

// Valuer is implemented by bindings whose visible value changes while a
// pass runs, such as aggregates and windows. The context asks for a fresh
// view on every evaluation, so a formula always reads the current field
// values of the aggregate it belongs to.
type Valuer interface {
	Values() map[string]any
}

// Context holds the named bindings formulas are evaluated against for one
// identity's pass. Global bindings are shared by every fork; local
// bindings are private to one fork.
//
// A Context is not safe for concurrent use.
type Context struct {
	global map[string]any
	local  map[string]any
}

// NewContext returns an empty context.
func NewContext() *Context {
	return &Context{
		global: make(map[string]any),
		local:  make(map[string]any),
	}
}

// Fork returns a context sharing the global bindings and holding a
// shallow copy of the local ones.
func (c *Context) Fork() *Context {
	return &Context{
		global: c.global,
		local:  maps.Clone(c.local),
	}
}

// GlobalAdd binds name in the shared scope.
func (c *Context) GlobalAdd(name string, value any) {
	c.global[name] = value
}

// LocalAdd binds name in this fork only.
func (c *Context) LocalAdd(name string, value any) {
	c.local[name] = value
}

// LocalInclude merges bindings into the local scope, overwriting names
// that already exist.
func (c *Context) LocalInclude(bindings map[string]any) {
	maps.Copy(c.local, bindings)
}

// Remove drops name from both scopes.
func (c *Context) Remove(name string) {
	delete(c.local, name)
	delete(c.global, name)
}

// Lookup resolves name, preferring the local scope. Valuer bindings are
// returned as they are, not materialized.
func (c *Context) Lookup(name string) (any, bool) {
	if v, ok := c.local[name]; ok {
		return v, true
	}
	v, ok := c.global[name]
	return v, ok
}

// Env builds the environment a program runs against: the builtin
// functions, then global bindings, then local bindings. Valuer bindings
// are materialized.
func (c *Context) Env() map[string]any {
	env := make(map[string]any, len(builtins)+len(c.global)+len(c.local))
	maps.Copy(env, builtins)
	for k, v := range c.global {
		env[k] = materialize(v)
	}
	for k, v := range c.local {
		env[k] = materialize(v)
	}
	return env
}

func materialize(v any) any {
	if valuer, ok := v.(Valuer); ok {
		return valuer.Values()
	}
	return v
}
