package featureflow

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	fferrors "github.com/randalmurphal/featureflow/pkg/featureflow/errors"
	"github.com/randalmurphal/featureflow/pkg/featureflow/schema"
	"github.com/randalmurphal/featureflow/pkg/featureflow/store"
)

const windowDTC = `
Type: Transform:Window
Name: windows
SourceBlock: stream.session
Stores:
  - Type: Store:Memory
    Name: wmem
Anchor:
  Condition: session.events >= 2
  Max: 1
Aggregates:
  - Type: Aggregate:Window
    Name: last_day
    Store: wmem
    WindowType: day
    WindowValue: -1
    Fields:
      - Name: session_count
        Type: integer
        Value: len(last_day._start_time)
      - Name: total_events
        Type: integer
        Value: sum(last_day.events)
  - Type: Aggregate:Window
    Name: next_half_day
    WindowType: hour
    WindowValue: 12
    Fields:
      - Name: session_count
        Type: integer
        Value: len(session.events)
`

// Sessions of u1 after the streaming pass:
//
//	A 03-07 10:00  3 events
//	B 03-07 20:00  1 event
//	C 03-08 09:00  2 events
//	D 03-08 15:00  2 events
func runSessions(t *testing.T, l *schema.Loader) {
	t.Helper()
	s := loadStreaming(t, l)
	tr, err := NewStreamingTransformer(s, "u1")
	require.NoError(t, err)
	_, err = tr.Process(context.Background(), []map[string]any{
		event("u1", "2018-03-07T10:00:00Z", 1, "US"),
		event("u1", "2018-03-07T10:05:00Z", 1, "US"),
		event("u1", "2018-03-07T10:10:00Z", 1, "US"),
		event("u1", "2018-03-07T20:00:00Z", 1, "US"),
		event("u1", "2018-03-08T09:00:00Z", 1, "US"),
		event("u1", "2018-03-08T09:10:00Z", 1, "US"),
		event("u1", "2018-03-08T15:00:00Z", 1, "US"),
		event("u1", "2018-03-08T15:20:00Z", 1, "US"),
	})
	require.NoError(t, err)
}

func newWindowTransformer(t *testing.T, l *schema.Loader, doc string) *WindowTransformer {
	t.Helper()
	s, err := NewWindowTransformerSchema(l, loadDTC(t, l, doc))
	require.NoError(t, err)
	tr, err := NewWindowTransformer(s, "u1")
	require.NoError(t, err)
	return tr
}

func TestWindowTransformer_DayAndHourWindows(t *testing.T) {
	l := NewLoader()
	runSessions(t, l)
	tr := newWindowTransformer(t, l, windowDTC)

	blocks, err := tr.Blocks()
	require.NoError(t, err)
	require.Len(t, blocks, 4)

	rows, err := tr.Process(context.Background())
	require.NoError(t, err)
	require.Len(t, rows, 2)

	a := rows[0]
	assert.Equal(t, at("2018-03-07T10:00:00Z"), a.Start)
	assert.Equal(t, "u1", a.Identity)
	assert.Empty(t, a.Aggregate)
	assert.Equal(t, 0, a.Values["last_day.session_count"])
	assert.Equal(t, 0, a.Values["last_day.total_events"])
	assert.Equal(t, 1, a.Values["next_half_day.session_count"])
	assert.Equal(t, at("2018-03-07T10:00:00Z"), a.Values["last_day._start_time"])
	assert.Equal(t, at("2018-03-07T10:10:00Z"), a.Values["last_day._end_time"])

	c := rows[1]
	assert.Equal(t, at("2018-03-08T09:00:00Z"), c.Start)
	assert.Equal(t, 2, c.Values["last_day.session_count"])
	assert.Equal(t, 4, c.Values["last_day.total_events"])
	assert.Equal(t, 1, c.Values["next_half_day.session_count"])

	assert.Equal(t, 1, tr.Anchor().ConditionsMet(at("2018-03-07T00:00:00Z")))
	assert.Equal(t, 1, tr.Anchor().ConditionsMet(at("2018-03-08T00:00:00Z")), "D is over the daily max")
}

func TestWindowTransformer_PersistsWindowAggregates(t *testing.T) {
	l := NewLoader()
	runSessions(t, l)
	tr := newWindowTransformer(t, l, windowDTC)
	_, err := tr.Process(context.Background())
	require.NoError(t, err)

	st, err := l.GetStore("windows.wmem")
	require.NoError(t, err)
	rec, err := st.Get(store.NewKey("u1", "last_day", at("2018-03-08T09:00:00Z")))
	require.NoError(t, err)
	assert.Equal(t, 4, rec["total_events"])
	assert.Equal(t, "u1", rec[store.FieldIdentity])
}

func TestWindowTransformer_CountWindowMissingBlocks(t *testing.T) {
	l := NewLoader()
	runSessions(t, l)
	tr := newWindowTransformer(t, l, `
Type: Transform:Window
Name: previous_windows
SourceBlock: stream.session
Anchor:
  Condition: session.events >= 2
  Max: 1
Aggregates:
  - Type: Aggregate:Window
    Name: previous
    WindowType: count
    WindowValue: -1
    Fields:
      - Name: events
        Type: integer
        Value: sum(previous.events)
`)

	rows, err := tr.Process(context.Background())
	require.NoError(t, err)

	require.Len(t, rows, 1, "A has no previous block and D is over the daily max")
	assert.Equal(t, at("2018-03-08T09:00:00Z"), rows[0].Start)
	assert.Equal(t, 1, rows[0].Values["previous.events"])
	assert.Equal(t, 0, tr.Anchor().ConditionsMet(at("2018-03-07T10:00:00Z")), "a window short of blocks is not counted")
}

func TestWindowTransformer_NoBlocks(t *testing.T) {
	l := NewLoader()
	loadStreaming(t, l)
	tr := newWindowTransformer(t, l, windowDTC)

	rows, err := tr.Process(context.Background())

	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestWindow_CountClampsToMissingBlocks(t *testing.T) {
	l := NewLoader()
	runSessions(t, l)
	s, err := NewWindowTransformerSchema(l, loadDTC(t, l, `
Type: Transform:Window
Name: forward
SourceBlock: stream.session
Anchor:
  Condition: True
Aggregates:
  - Type: Aggregate:Window
    Name: next_two
    WindowType: count
    WindowValue: 2
    Fields:
      - Name: n
        Type: integer
        Value: len(next_two.events)
`))
	require.NoError(t, err)
	w, err := NewWindow(s.Aggregates[0].Window)
	require.NoError(t, err)

	tr, err := NewWindowTransformer(s, "u1")
	require.NoError(t, err)
	blocks, err := tr.Blocks()
	require.NoError(t, err)

	entries, err := w.Blocks(blocks[1])
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, at("2018-03-08T09:00:00Z"), *entries[0].Key.Timestamp)

	_, err = w.Blocks(blocks[3])
	assert.ErrorIs(t, err, ErrMissingBlocks)

	view := w.View(entries).Values()
	assert.Equal(t, []any{2, 2}, view["events"])
}

func TestNewWindowTransformerSchema_Validation(t *testing.T) {
	l := NewLoader()
	loadStreaming(t, l)
	fqn, err := l.AddSchema(map[string]any{
		"Type":        TagWindowTransformer,
		"Name":        "broken",
		"SourceBlock": "stream.user",
		"Aggregates": []any{map[string]any{
			"Type": TagWindowAggregate, "Name": "w", "WindowType": "week", "WindowValue": 0,
			"Fields": []any{map[string]any{"Type": "integer", "Name": "n", "Value": "1"}},
		}},
	}, "")
	require.NoError(t, err)

	_, err = NewWindowTransformerSchema(l, fqn)

	require.Error(t, err)
	assertHasAttribute(t, err, AttrSourceBlock)
	assertHasAttribute(t, err, "Anchor")
	assertHasAttribute(t, err, AttrWindowType)
	assertHasAttribute(t, err, AttrWindowValue)
	assert.ErrorIs(t, err, fferrors.ErrInvalidAttribute)
}

func TestNewWindowSchema_Standalone(t *testing.T) {
	l := NewLoader()
	loadStreaming(t, l)
	fqn, err := l.AddSchema(map[string]any{
		"Type": "Hour", "Name": "recent", "Value": -6, "Source": "stream.session",
	}, "")
	require.NoError(t, err)

	ws, err := NewWindowSchema(l, fqn)
	require.NoError(t, err)

	assert.Equal(t, WindowHour, ws.Type)
	assert.Equal(t, -6, ws.Value)
	assert.Equal(t, "session", ws.Source().Name())
	assert.Equal(t, KindWindow, ws.Kind())
}
