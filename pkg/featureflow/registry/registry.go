package registry

import (
	"errors"
	"sort"
	"sync"
)

// ErrDuplicate is returned by Add when the normalized key is already taken.
var ErrDuplicate = errors.New("registry: key already registered")

// Registry is a thread-safe lookup table indexed by key. Keys can be
// normalized on the way in and out, which is how type tags become
// case-insensitive.
type Registry[K comparable, V any] struct {
	mu        sync.RWMutex
	entries   map[K]V
	order     []K
	normalize func(K) K
}

// Option configures a Registry.
type Option[K comparable, V any] func(*Registry[K, V])

// WithNormalizer applies fn to every key before it is stored or looked up.
func WithNormalizer[K comparable, V any](fn func(K) K) Option[K, V] {
	return func(r *Registry[K, V]) {
		r.normalize = fn
	}
}

// New creates a new empty registry.
func New[K comparable, V any](opts ...Option[K, V]) *Registry[K, V] {
	r := &Registry[K, V]{
		entries: make(map[K]V),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Registry[K, V]) key(k K) K {
	if r.normalize == nil {
		return k
	}
	return r.normalize(k)
}

// Register adds or replaces a value.
func (r *Registry[K, V]) Register(key K, value V) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.put(r.key(key), value)
}

// Add inserts a value, failing with ErrDuplicate if the key exists.
func (r *Registry[K, V]) Add(key K, value V) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	k := r.key(key)
	if _, ok := r.entries[k]; ok {
		return ErrDuplicate
	}
	r.put(k, value)
	return nil
}

// put must be called with the write lock held.
func (r *Registry[K, V]) put(k K, value V) {
	if _, ok := r.entries[k]; !ok {
		r.order = append(r.order, k)
	}
	r.entries[k] = value
}

// Get returns the value for a key and whether it exists.
func (r *Registry[K, V]) Get(key K) (V, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	v, ok := r.entries[r.key(key)]
	return v, ok
}

// Has returns true if the key exists in the registry.
func (r *Registry[K, V]) Has(key K) bool {
	_, ok := r.Get(key)
	return ok
}

// Keys returns the normalized keys in insertion order.
func (r *Registry[K, V]) Keys() []K {
	r.mu.RLock()
	defer r.mu.RUnlock()
	keys := make([]K, len(r.order))
	copy(keys, r.order)
	return keys
}

// Len returns the number of entries in the registry.
func (r *Registry[K, V]) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// GetOrCreate returns the value for a key, creating it with factory if
// it is missing. The factory runs at most once per key. A factory error
// leaves the registry unchanged.
func (r *Registry[K, V]) GetOrCreate(key K, factory func() (V, error)) (V, error) {
	k := r.key(key)

	r.mu.RLock()
	v, ok := r.entries[k]
	r.mu.RUnlock()
	if ok {
		return v, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if v, ok := r.entries[k]; ok {
		return v, nil
	}

	v, err := factory()
	if err != nil {
		var zero V
		return zero, err
	}
	r.put(k, v)
	return v, nil
}

// SortedKeys returns the keys of a string-keyed registry in lexical order.
func SortedKeys[V any](r *Registry[string, V]) []string {
	keys := r.Keys()
	sort.Strings(keys)
	return keys
}
