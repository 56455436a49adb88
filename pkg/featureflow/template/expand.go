package template

import (
	"fmt"
	"os"
	"regexp"
	"sort"
	"strings"
)

var (
	// bracePattern matches ${NAME} and ${NAME:-default}.
	bracePattern = regexp.MustCompile(`\$\{([a-zA-Z_][a-zA-Z0-9_]*)(:-[^}]*)?\}`)

	// barePattern matches $NAME up to the next non-word character.
	barePattern = regexp.MustCompile(`\$([a-zA-Z_][a-zA-Z0-9_]*)\b`)
)

// LookupFunc resolves a variable name. It has the shape of os.LookupEnv.
type LookupFunc func(name string) (string, bool)

// Expander substitutes ${NAME}, ${NAME:-default} and $NAME references in
// DTC attribute values, typically store connection settings such as DSN
// or Addr. A name that is set to the empty string counts as unset for
// the default form. An Expander is safe for concurrent use.
type Expander struct {
	lookup LookupFunc
	strict bool
	bare   bool
}

// NewExpander returns an Expander reading the process environment and
// keeping unresolved placeholders as they are.
func NewExpander(opts ...Option) *Expander {
	e := &Expander{
		lookup: os.LookupEnv,
		bare:   true,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Expand substitutes every reference in s.
func (e *Expander) Expand(s string) (string, error) {
	if !strings.Contains(s, "$") {
		return s, nil
	}

	missing := make(map[string]struct{})
	unresolved := func(name, match string) string {
		if e.strict {
			missing[name] = struct{}{}
		}
		return match
	}

	result := bracePattern.ReplaceAllStringFunc(s, func(match string) string {
		groups := bracePattern.FindStringSubmatch(match)
		name, fallback := groups[1], groups[2]
		val, ok := e.lookup(name)
		switch {
		case fallback != "" && val == "":
			return fallback[2:]
		case ok:
			return val
		}
		return unresolved(name, match)
	})
	if e.bare {
		result = barePattern.ReplaceAllStringFunc(result, func(match string) string {
			if val, ok := e.lookup(match[1:]); ok {
				return val
			}
			return unresolved(match[1:], match)
		})
	}

	if len(missing) > 0 {
		names := make([]string, 0, len(missing))
		for name := range missing {
			names = append(names, name)
		}
		sort.Strings(names)
		return result, &UndefinedVariableError{Names: names}
	}
	return result, nil
}

// ExpandMap returns a copy of m with the string values of keys expanded.
// Nested maps are walked; values of other types are copied unchanged.
// When keys is empty every string value is expanded.
func (e *Expander) ExpandMap(m map[string]any, keys ...string) (map[string]any, error) {
	if m == nil {
		return nil, nil
	}
	only := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		only[k] = struct{}{}
	}

	result := make(map[string]any, len(m))
	for k, v := range m {
		_, selected := only[k]
		switch val := v.(type) {
		case string:
			if len(only) > 0 && !selected {
				result[k] = val
				continue
			}
			expanded, err := e.Expand(val)
			if err != nil {
				return nil, fmt.Errorf("expand %s: %w", k, err)
			}
			result[k] = expanded
		case map[string]any:
			nested, err := e.ExpandMap(val, keys...)
			if err != nil {
				return nil, err
			}
			result[k] = nested
		default:
			result[k] = v
		}
	}
	return result, nil
}

// UndefinedVariableError is returned by a strict Expander for references
// that cannot be resolved.
type UndefinedVariableError struct {
	Names []string
}

func (e *UndefinedVariableError) Error() string {
	if len(e.Names) == 1 {
		return fmt.Sprintf("undefined variable: %s", e.Names[0])
	}
	return fmt.Sprintf("undefined variables: %s", strings.Join(e.Names, ", "))
}
