package store

import (
	"bytes"
	"fmt"
	"time"

	"github.com/goccy/go-json"
)

// codecVersion is bumped when the envelope layout changes.
const codecVersion = 1

// envelope is the serialized form of a Record. JSON has no time type, so
// the names of top-level time values are listed and restored on decode.
type envelope struct {
	Version int            `json:"v"`
	Times   []string       `json:"times,omitempty"`
	Record  map[string]any `json:"record"`
}

// Marshal encodes a record for backends that store bytes.
func Marshal(rec Record) ([]byte, error) {
	env := envelope{Version: codecVersion, Record: make(map[string]any, len(rec))}
	for k, v := range rec {
		switch t := v.(type) {
		case time.Time:
			env.Times = append(env.Times, k)
			env.Record[k] = t.UTC().Format(time.RFC3339Nano)
		case *time.Time:
			if t == nil {
				env.Record[k] = nil
				continue
			}
			env.Times = append(env.Times, k)
			env.Record[k] = t.UTC().Format(time.RFC3339Nano)
		default:
			env.Record[k] = v
		}
	}
	data, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("marshal record: %w", err)
	}
	return data, nil
}

// Unmarshal decodes a record written by Marshal. Integral numbers decode
// as int and other numbers as float64.
func Unmarshal(data []byte) (Record, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var env envelope
	if err := dec.Decode(&env); err != nil {
		return nil, fmt.Errorf("unmarshal record: %w", err)
	}
	if env.Version != codecVersion {
		return nil, fmt.Errorf("unmarshal record: unsupported version %d", env.Version)
	}

	rec := make(Record, len(env.Record))
	for k, v := range env.Record {
		rec[k] = normalizeNumbers(v)
	}
	for _, k := range env.Times {
		s, ok := rec[k].(string)
		if !ok {
			continue
		}
		t, err := time.Parse(time.RFC3339Nano, s)
		if err != nil {
			return nil, fmt.Errorf("unmarshal record: field %s: %w", k, err)
		}
		rec[k] = t
	}
	return rec, nil
}

func normalizeNumbers(v any) any {
	switch val := v.(type) {
	case json.Number:
		if n, err := val.Int64(); err == nil {
			return int(n)
		}
		if f, err := val.Float64(); err == nil {
			return f
		}
		return val.String()
	case map[string]any:
		for k, item := range val {
			val[k] = normalizeNumbers(item)
		}
		return val
	case []any:
		for i, item := range val {
			val[i] = normalizeNumbers(item)
		}
		return val
	}
	return v
}
