package benchmarks

import (
	"fmt"
	"testing"
	"time"

	"github.com/randalmurphal/featureflow/pkg/featureflow"
	"github.com/randalmurphal/featureflow/pkg/featureflow/config"
	"github.com/randalmurphal/featureflow/pkg/featureflow/schema"
)

const streamingDTC = `
Type: Transform:Streaming
Name: bench
Identity: source.user
Time: parse_time(source.at)
Stores:
  - Type: Store:Memory
    Name: mem
Aggregates:
  - Type: Aggregate:Identity
    Name: user
    Store: mem
    Fields:
      - Name: events
        Type: integer
        Value: user.events + 1
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
    Name: page
    Store: mem
    Label: source.page
    Fields:
      - Name: views
        Type: integer
        Value: page.views + 1
`

const windowDTC = `
Type: Transform:Window
Name: bench_windows
SourceBlock: bench.session
Anchor:
  Condition: "true"
Aggregates:
  - Type: Aggregate:Window
    Name: prev_day
    WindowType: day
    WindowValue: -1
    Fields:
      - Name: spend
        Type: float
        Value: sum(prev_day.spend)
  - Type: Aggregate:Window
    Name: next_three
    WindowType: count
    WindowValue: 3
    Fields:
      - Name: events
        Type: integer
        Value: sum(next_three.events)
`

var epoch = time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)

// events returns n events for user, one every ten minutes with an hour
// gap after every sixth, so sessions hold six events.
func events(user string, n int) []map[string]any {
	out := make([]map[string]any, n)
	at := epoch
	for i := range out {
		if i > 0 {
			at = at.Add(10 * time.Minute)
			if i%6 == 0 {
				at = at.Add(time.Hour)
			}
		}
		out[i] = map[string]any{
			"user":   user,
			"at":     at.Format(time.RFC3339),
			"amount": float64(i%7) + 0.5,
			"page":   fmt.Sprintf("/p%d", i%5),
		}
	}
	return out
}

func mustLoad(b *testing.B, l *schema.Loader, doc string) string {
	b.Helper()
	cfg, err := config.FromYAML([]byte(doc))
	if err != nil {
		b.Fatal(err)
	}
	fqn, err := l.AddSchema(cfg.Raw(), "")
	if err != nil {
		b.Fatal(err)
	}
	return fqn
}

func mustStreaming(b *testing.B, l *schema.Loader) *featureflow.StreamingTransformerSchema {
	b.Helper()
	s, err := featureflow.NewStreamingTransformerSchema(l, mustLoad(b, l, streamingDTC))
	if err != nil {
		b.Fatal(err)
	}
	return s
}
