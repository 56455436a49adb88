package store

import (
	"context"
	"errors"
	"fmt"
	"slices"

	fferrors "github.com/randalmurphal/featureflow/pkg/featureflow/errors"
)

var (
	// ErrNotFound is returned by Get when no record is saved under the key.
	ErrNotFound = errors.New("record not found")

	// ErrStoreClosed is returned when operating on a closed store.
	ErrStoreClosed = errors.New("store is closed")
)

// Entry is one key and its record.
type Entry struct {
	Key    Key
	Record Record
}

// Store persists aggregate snapshots under ordered keys.
//
// Implementations must be safe for concurrent use: one store instance is
// shared by every identity a runner processes.
type Store interface {
	// Name identifies the store in logs and errors.
	Name() string

	// Get returns the record saved under key, or ErrNotFound.
	Get(key Key) (Record, error)

	// GetAll returns every entry of identity in store order.
	GetAll(identity string) ([]Entry, error)

	// Save overwrites or inserts the record under key.
	Save(key Key, rec Record) error

	// Delete removes key. Deleting an absent key is not an error.
	Delete(key Key) error

	// GetRange runs a range query. Exactly one of end and count must be
	// set, otherwise a *errors.StoreQueryError is returned before any scan.
	//
	// Bounded mode (end != nil) returns the entries strictly between start
	// and end, swapping the bounds if they are reversed. Signed count mode
	// returns up to count entries after start (count > 0) or up to -count
	// entries before it (count < 0), scoped to start's identity and group.
	// Both modes return entries in ascending store order and clamp
	// silently when fewer entries qualify.
	GetRange(start Key, end *Key, count int) ([]Entry, error)

	// Close releases the backend. Close is idempotent.
	Close() error
}

// Backend is the storage primitive a Store is built from. Backends only
// load, write and list raw entries; ordering, the timestamp fallback and
// range semantics live in Ordered so they are identical for every
// backend.
type Backend interface {
	// Kind names the backend type, e.g. "memory" or "sqlite".
	Kind() string

	// Load returns the record under key and whether it exists.
	Load(key Key) (Record, bool, error)

	// Put overwrites or inserts the record under key.
	Put(key Key, rec Record) error

	// Remove deletes key if present.
	Remove(key Key) error

	// Scan lists entries of identity, restricted to group unless group is
	// empty. An empty identity lists everything. Order is unspecified.
	Scan(identity, group string) ([]Entry, error)

	// Close releases resources.
	Close() error
}

// Ordered implements Store over a Backend.
type Ordered struct {
	name    string
	backend Backend
	retry   fferrors.RetryPolicy
}

// OrderedOption configures an Ordered store.
type OrderedOption func(*Ordered)

// WithRetry sets the retry policy applied to backend calls. Only errors
// categorized as transient are retried.
func WithRetry(p fferrors.RetryPolicy) OrderedOption {
	return func(o *Ordered) {
		o.retry = p
	}
}

// NewOrdered wraps backend as a named Store.
func NewOrdered(name string, backend Backend, opts ...OrderedOption) *Ordered {
	o := &Ordered{
		name:    name,
		backend: backend,
		retry:   fferrors.LocalRetry,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Name implements Store.
func (o *Ordered) Name() string {
	return o.name
}

// Backend returns the wrapped backend.
func (o *Ordered) Backend() Backend {
	return o.backend
}

// Get implements Store.
func (o *Ordered) Get(key Key) (Record, error) {
	type loaded struct {
		rec Record
		ok  bool
	}
	res, _, err := fferrors.Do(context.Background(), o.retry, func(context.Context) (loaded, error) {
		rec, ok, err := o.backend.Load(key)
		return loaded{rec, ok}, err
	})
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", key, err)
	}
	if !res.ok {
		return nil, ErrNotFound
	}
	return res.rec, nil
}

// GetAll implements Store.
func (o *Ordered) GetAll(identity string) ([]Entry, error) {
	entries, err := o.scan(identity, "")
	if err != nil {
		return nil, err
	}
	slices.SortFunc(entries, orderEntries)
	return entries, nil
}

// Save implements Store.
func (o *Ordered) Save(key Key, rec Record) error {
	if err := fferrors.Retry(o.retry, func() error {
		return o.backend.Put(key, rec)
	}); err != nil {
		return fmt.Errorf("save %s: %w", key, err)
	}
	return nil
}

// Delete implements Store.
func (o *Ordered) Delete(key Key) error {
	if err := fferrors.Retry(o.retry, func() error {
		return o.backend.Remove(key)
	}); err != nil {
		return fmt.Errorf("delete %s: %w", key, err)
	}
	return nil
}

// GetRange implements Store.
func (o *Ordered) GetRange(start Key, end *Key, count int) ([]Entry, error) {
	switch {
	case end != nil && count != 0:
		return nil, &fferrors.StoreQueryError{Store: o.name, Message: "only one of end or count can be set"}
	case end == nil && count == 0:
		return nil, &fferrors.StoreQueryError{Store: o.name, Message: "one of end or count must be set"}
	case end != nil:
		return o.bounded(start, *end)
	default:
		return o.counted(start, count)
	}
}

func (o *Ordered) bounded(start, end Key) ([]Entry, error) {
	lo, hi := boundPosition(start), boundPosition(end)
	if comparePositions(hi, lo) < 0 {
		lo, hi = hi, lo
	}

	identity, group := "", ""
	if lo.identity == hi.identity {
		identity = lo.identity
		if lo.group == hi.group {
			group = lo.group
		}
	}
	entries, err := o.scan(identity, group)
	if err != nil {
		return nil, err
	}

	out := entries[:0]
	for _, e := range entries {
		p := positionOf(e.Key, e.Record)
		if comparePositions(lo, p) < 0 && comparePositions(p, hi) < 0 {
			out = append(out, e)
		}
	}
	slices.SortFunc(out, orderEntries)
	return out, nil
}

func (o *Ordered) counted(start Key, count int) ([]Entry, error) {
	entries, err := o.scan(start.Identity, start.Group)
	if err != nil {
		return nil, err
	}
	slices.SortFunc(entries, orderEntries)

	anchor := boundPosition(start)
	selected := entries[:0]
	for _, e := range entries {
		c := comparePositions(positionOf(e.Key, e.Record), anchor)
		if (count > 0 && c > 0) || (count < 0 && c < 0) {
			selected = append(selected, e)
		}
	}

	n := min(abs(count), len(selected))
	if count > 0 {
		return selected[:n], nil
	}
	return selected[len(selected)-n:], nil
}

func (o *Ordered) scan(identity, group string) ([]Entry, error) {
	entries, _, err := fferrors.Do(context.Background(), o.retry, func(context.Context) ([]Entry, error) {
		return o.backend.Scan(identity, group)
	})
	if err != nil {
		return nil, fmt.Errorf("scan %s/%s: %w", identity, group, err)
	}
	return entries, nil
}

// Close implements Store.
func (o *Ordered) Close() error {
	return o.backend.Close()
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
