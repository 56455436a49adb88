package store

import (
	"sync"
)

// MemoryBackend keeps entries in a map. It is suitable for tests, for
// window passes over data produced in the same process, and for transient
// state that need not survive a restart.
type MemoryBackend struct {
	mu      sync.RWMutex
	entries map[string]Entry
	closed  bool
}

// NewMemoryBackend creates an empty in-memory backend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{
		entries: make(map[string]Entry),
	}
}

// NewMemoryStore returns a Store over a fresh MemoryBackend.
func NewMemoryStore(name string) *Ordered {
	return NewOrdered(name, NewMemoryBackend())
}

// Kind implements Backend.
func (m *MemoryBackend) Kind() string {
	return "memory"
}

// Load implements Backend.
func (m *MemoryBackend) Load(key Key) (Record, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, false, ErrStoreClosed
	}
	e, ok := m.entries[key.slot()]
	if !ok {
		return nil, false, nil
	}
	return e.Record.Clone(), true, nil
}

// Put implements Backend.
func (m *MemoryBackend) Put(key Key, rec Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrStoreClosed
	}
	// Copy to prevent external mutation of the stored record.
	m.entries[key.slot()] = Entry{Key: copyKey(key), Record: rec.Clone()}
	return nil
}

// Remove implements Backend.
func (m *MemoryBackend) Remove(key Key) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrStoreClosed
	}
	delete(m.entries, key.slot())
	return nil
}

// Scan implements Backend.
func (m *MemoryBackend) Scan(identity, group string) ([]Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, ErrStoreClosed
	}
	var out []Entry
	for _, e := range m.entries {
		if identity != "" && e.Key.Identity != identity {
			continue
		}
		if group != "" && e.Key.Group != group {
			continue
		}
		out = append(out, Entry{Key: e.Key, Record: e.Record.Clone()})
	}
	return out, nil
}

// Len returns the number of entries held.
func (m *MemoryBackend) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}

// Close implements Backend.
func (m *MemoryBackend) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.closed = true
	m.entries = nil
	return nil
}

func copyKey(k Key) Key {
	if k.Timestamp != nil {
		t := *k.Timestamp
		k.Timestamp = &t
	}
	return k
}
