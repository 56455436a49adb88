package store

import (
	"maps"
	"time"

	"github.com/araddon/dateparse"
)

// Reserved record fields written by every aggregate snapshot.
const (
	FieldIdentity  = "_identity"
	FieldStartTime = "_start_time"
	FieldEndTime   = "_end_time"
)

// Record is the persisted form of an aggregate: field name to value plus
// the reserved fields above. The store treats it as opaque except for
// StartTime, which orders keys that have no timestamp of their own.
type Record map[string]any

// StartTime returns the record's _start_time in UTC. Strings are parsed
// and times without a zone are read as UTC.
func (r Record) StartTime() (time.Time, bool) {
	return timeField(r, FieldStartTime)
}

// EndTime returns the record's _end_time in UTC.
func (r Record) EndTime() (time.Time, bool) {
	return timeField(r, FieldEndTime)
}

// Identity returns the record's _identity.
func (r Record) Identity() string {
	s, _ := r[FieldIdentity].(string)
	return s
}

// Clone returns a shallow copy.
func (r Record) Clone() Record {
	if r == nil {
		return nil
	}
	return maps.Clone(r)
}

func timeField(r Record, name string) (time.Time, bool) {
	switch v := r[name].(type) {
	case time.Time:
		if v.IsZero() {
			return time.Time{}, false
		}
		return v.UTC(), true
	case *time.Time:
		if v == nil {
			return time.Time{}, false
		}
		return v.UTC(), true
	case string:
		t, err := dateparse.ParseIn(v, time.UTC)
		if err != nil {
			return time.Time{}, false
		}
		return t.UTC(), true
	}
	return time.Time{}, false
}
