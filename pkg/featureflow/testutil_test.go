package featureflow

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/randalmurphal/featureflow/pkg/featureflow/config"
	"github.com/randalmurphal/featureflow/pkg/featureflow/expr"
	"github.com/randalmurphal/featureflow/pkg/featureflow/schema"
)

// Test DTCs shared across tests

// streamingDTC folds events into a per-user counter, 30 minute sessions
// and a per-country label.
const streamingDTC = `
Type: Transform:Streaming
Name: stream
Identity: source.user_id
Time: parse_time(source.ts)
Stores:
  - Type: Store:Memory
    Name: mem
Aggregates:
  - Type: Aggregate:Identity
    Name: user
    Store: mem
    Fields:
      - Name: event_count
        Type: integer
        Value: user.event_count + 1
  - Type: Aggregate:Block
    Name: session
    Store: mem
    Split: seconds_between(session._end_time, time) > 1800
    Fields:
      - Name: events
        Type: integer
        Value: session.events + 1
      - Name: spend
        Type: float
        Value: session.spend + source.amount
  - Type: Aggregate:Label
    Name: country
    Store: mem
    Label: source.country
    Fields:
      - Name: events
        Type: integer
        Value: country.events + 1
  - Type: Aggregate:Variable
    Name: vars
    Fields:
      - Name: last_amount
        Type: float
        Value: source.amount
`

// Helper functions

// loadDTC adds a YAML DTC to l and returns its fully qualified name.
func loadDTC(t *testing.T, l *schema.Loader, doc string) string {
	t.Helper()
	cfg, err := config.FromYAML([]byte(doc))
	require.NoError(t, err)
	fqn, err := l.AddSchema(cfg.Raw(), "")
	require.NoError(t, err)
	return fqn
}

// loadStreaming loads streamingDTC and parses the transformer schema.
func loadStreaming(t *testing.T, l *schema.Loader) *StreamingTransformerSchema {
	t.Helper()
	s, err := NewStreamingTransformerSchema(l, loadDTC(t, l, streamingDTC))
	require.NoError(t, err)
	return s
}

// at parses an RFC 3339 time.
func at(s string) time.Time {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		panic(err)
	}
	return t.UTC()
}

// event builds a raw event for streamingDTC.
func event(user, ts string, amount float64, country string) map[string]any {
	return map[string]any{
		"user_id": user,
		"ts":      ts,
		"amount":  amount,
		"country": country,
	}
}

// testAggregate loads a single aggregate spec under parent "test" with a
// memory store and binds it under its name in a fresh context.
func testAggregate(t *testing.T, spec string) (Aggregator, *expr.Context) {
	t.Helper()
	l := NewLoader()
	_, err := l.AddSchema(map[string]any{"Type": TagMemoryStore, "Name": "mem"}, "test")
	require.NoError(t, err)
	cfg, err := config.FromYAML([]byte(spec))
	require.NoError(t, err)
	fqn, err := l.AddSchema(cfg.Raw(), "test")
	require.NoError(t, err)

	as, err := NewAggregateSchema(l, fqn)
	require.NoError(t, err)
	ctx := expr.NewContext()
	agg, err := NewAggregate(as, ctx)
	require.NoError(t, err)
	require.NoError(t, agg.SetIdentity("userA"))
	ctx.GlobalAdd(as.Name(), agg)
	return agg, ctx
}
