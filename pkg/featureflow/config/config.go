package config

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Lookup failures reported by RequireString.
var (
	ErrMissingKey = errors.New("key missing")
	ErrEmptyValue = errors.New("value empty")
)

// Config wraps one node of a DTC document for type-safe value extraction.
// Accessors return the supplied default when the key is missing or the
// value cannot be converted.
type Config struct {
	data map[string]any
}

// New creates a Config from the given map.
// If data is nil, an empty Config is returned.
func New(data map[string]any) Config {
	if data == nil {
		data = make(map[string]any)
	}
	return Config{data: data}
}

// String returns the string value for key, or defaultVal if missing or not a string.
func (c Config) String(key, defaultVal string) string {
	if s, ok := c.data[key].(string); ok {
		return s
	}
	return defaultVal
}

// RequireString returns the non-blank string under key. Scalars are
// rendered as by Text.
func (c Config) RequireString(key string) (string, error) {
	if !c.Has(key) {
		return "", fmt.Errorf("%s: %w", key, ErrMissingKey)
	}
	s, ok := c.Text(key)
	if !ok || strings.TrimSpace(s) == "" {
		return "", fmt.Errorf("%s: %w", key, ErrEmptyValue)
	}
	return s, nil
}

// Text returns the value for key rendered as formula text. DTC authors
// write short formulas as bare scalars (`Value: 5`, `When: true`), so
// numbers and booleans are formatted rather than rejected. The boolean
// result is false when the key is missing or holds a nested structure.
func (c Config) Text(key string) (string, bool) {
	v, ok := c.data[key]
	if !ok || v == nil {
		return "", false
	}
	switch val := v.(type) {
	case string:
		return val, true
	case bool:
		return strconv.FormatBool(val), true
	case int:
		return strconv.Itoa(val), true
	case int64:
		return strconv.FormatInt(val, 10), true
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64), true
	case map[string]any, []any:
		return "", false
	default:
		return fmt.Sprint(val), true
	}
}

// Duration returns the duration value for key, or defaultVal if missing or invalid.
//
// Accepts:
//   - string: parsed with time.ParseDuration
//   - int, int64, float64: interpreted as seconds
//   - time.Duration: used directly
func (c Config) Duration(key string, defaultVal time.Duration) time.Duration {
	switch val := c.data[key].(type) {
	case string:
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
	case float64:
		return time.Duration(val * float64(time.Second))
	case int:
		return time.Duration(val) * time.Second
	case int64:
		return time.Duration(val) * time.Second
	case time.Duration:
		return val
	}
	return defaultVal
}

// Bool returns the boolean value for key, or defaultVal if missing or not a bool.
func (c Config) Bool(key string, defaultVal bool) bool {
	if b, ok := c.data[key].(bool); ok {
		return b
	}
	return defaultVal
}

// Int returns the integer value for key, or defaultVal if missing or not
// convertible.
func (c Config) Int(key string, defaultVal int) int {
	if n, ok := c.OptionalInt(key); ok {
		return n
	}
	return defaultVal
}

// OptionalInt returns the integer value for key and whether one was found.
// Floats are accepted only when they carry no fraction, and numeric
// strings are parsed.
func (c Config) OptionalInt(key string) (int, bool) {
	switch val := c.data[key].(type) {
	case int:
		return val, true
	case int64:
		return int(val), true
	case float64:
		if val == float64(int(val)) {
			return int(val), true
		}
	case string:
		if n, err := strconv.Atoi(val); err == nil {
			return n, true
		}
	}
	return 0, false
}

// Float returns the float64 value for key, or defaultVal if missing or not convertible.
func (c Config) Float(key string, defaultVal float64) float64 {
	switch val := c.data[key].(type) {
	case float64:
		return val
	case int:
		return float64(val)
	case int64:
		return float64(val)
	case string:
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			return f
		}
	}
	return defaultVal
}

// Section returns the nested mapping under key. A missing or non-mapping
// value yields an empty Config and false.
func (c Config) Section(key string) (Config, bool) {
	m, ok := asMap(c.data[key])
	if !ok {
		return New(nil), false
	}
	return New(m), true
}

// Sections returns the list of mappings under key in declared order.
// Non-mapping list elements are reported by index in the error.
func (c Config) Sections(key string) ([]Config, error) {
	v, ok := c.data[key]
	if !ok || v == nil {
		return nil, nil
	}
	list, ok := v.([]any)
	if !ok {
		return nil, fmt.Errorf("%s: expected a list, got %T", key, v)
	}
	out := make([]Config, 0, len(list))
	for i, item := range list {
		m, ok := asMap(item)
		if !ok {
			return nil, fmt.Errorf("%s[%d]: expected a mapping, got %T", key, i, item)
		}
		out = append(out, New(m))
	}
	return out, nil
}

// Any returns the raw value for key, or defaultVal if missing.
func (c Config) Any(key string, defaultVal any) any {
	v, ok := c.data[key]
	if !ok {
		return defaultVal
	}
	return v
}

// Has returns true if the key exists in the config.
func (c Config) Has(key string) bool {
	_, ok := c.data[key]
	return ok
}

// Keys returns the keys of the node in lexical order.
func (c Config) Keys() []string {
	keys := make([]string, 0, len(c.data))
	for k := range c.data {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Raw returns the underlying map.
// The returned map should not be modified.
func (c Config) Raw() map[string]any {
	return c.data
}

// asMap accepts both decoded JSON maps and the map[any]any that some
// YAML producers emit.
func asMap(v any) (map[string]any, bool) {
	switch m := v.(type) {
	case map[string]any:
		return m, true
	case map[any]any:
		out := make(map[string]any, len(m))
		for k, val := range m {
			out[fmt.Sprint(k)] = val
		}
		return out, true
	}
	return nil, false
}
