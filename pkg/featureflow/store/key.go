package store

import (
	"cmp"
	"fmt"
	"time"
)

// Key addresses one persisted snapshot. Keys are totally ordered by
// identity, then group, then timestamp. A key without a timestamp (a
// label or identity singleton) is placed by the start time recorded in
// its payload; see Record.StartTime.
type Key struct {
	Identity  string
	Group     string
	Timestamp *time.Time
}

// NewKey returns a key with a timestamp, normalized to UTC.
func NewKey(identity, group string, ts time.Time) Key {
	t := ts.UTC()
	return Key{Identity: identity, Group: group, Timestamp: &t}
}

// SingletonKey returns a key without a timestamp.
func SingletonKey(identity, group string) Key {
	return Key{Identity: identity, Group: group}
}

// HasTimestamp reports whether the key carries its own timestamp.
func (k Key) HasTimestamp() bool {
	return k.Timestamp != nil
}

// Equal reports whether two keys address the same slot.
func (k Key) Equal(o Key) bool {
	return Compare(k, o) == 0
}

func (k Key) String() string {
	if k.Timestamp == nil {
		return fmt.Sprintf("%s/%s", k.Identity, k.Group)
	}
	return fmt.Sprintf("%s/%s/%s", k.Identity, k.Group, k.Timestamp.UTC().Format(time.RFC3339Nano))
}

// slot is the canonical string form backends index by.
func (k Key) slot() string {
	return k.Identity + "\x00" + k.Group + "\x00" + timestampColumn(k)
}

// timestampColumn is the persisted form of the timestamp: fixed-width
// RFC 3339 in UTC, or empty for keys without one.
func timestampColumn(k Key) string {
	if k.Timestamp == nil {
		return ""
	}
	return k.Timestamp.UTC().Format(timestampLayout)
}

const timestampLayout = "2006-01-02T15:04:05.000000000Z"

func parseTimestampColumn(s string) (*time.Time, error) {
	if s == "" {
		return nil, nil
	}
	t, err := time.Parse(timestampLayout, s)
	if err != nil {
		return nil, fmt.Errorf("parse key timestamp %q: %w", s, err)
	}
	return &t, nil
}

// Compare orders keys by identity, group and timestamp. A key without a
// timestamp sorts before any key with one in the same group.
func Compare(a, b Key) int {
	if c := cmp.Compare(a.Identity, b.Identity); c != 0 {
		return c
	}
	if c := cmp.Compare(a.Group, b.Group); c != 0 {
		return c
	}
	switch {
	case a.Timestamp == nil && b.Timestamp == nil:
		return 0
	case a.Timestamp == nil:
		return -1
	case b.Timestamp == nil:
		return 1
	}
	return a.Timestamp.Compare(*b.Timestamp)
}

// position is where an entry sits in store order: its key with the
// timestamp resolved through the payload fallback.
type position struct {
	identity string
	group    string
	at       time.Time
}

func positionOf(key Key, rec Record) position {
	p := position{identity: key.Identity, group: key.Group}
	switch {
	case key.Timestamp != nil:
		p.at = key.Timestamp.UTC()
	default:
		if t, ok := rec.StartTime(); ok {
			p.at = t
		}
	}
	return p
}

// boundPosition places a range bound. Bounds are plain keys; a bound
// without a timestamp sits at the zero time.
func boundPosition(key Key) position {
	p := position{identity: key.Identity, group: key.Group}
	if key.Timestamp != nil {
		p.at = key.Timestamp.UTC()
	}
	return p
}

func comparePositions(a, b position) int {
	if c := cmp.Compare(a.identity, b.identity); c != 0 {
		return c
	}
	if c := cmp.Compare(a.group, b.group); c != 0 {
		return c
	}
	return a.at.Compare(b.at)
}

// orderEntries is the tie-broken total order used when returning entries.
func orderEntries(a, b Entry) int {
	if c := comparePositions(positionOf(a.Key, a.Record), positionOf(b.Key, b.Record)); c != 0 {
		return c
	}
	return Compare(a.Key, b.Key)
}
