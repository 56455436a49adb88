package featureflow

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	fferrors "github.com/randalmurphal/featureflow/pkg/featureflow/errors"
	"github.com/randalmurphal/featureflow/pkg/featureflow/store"
)

const blockSpec = `
Type: Aggregate:Block
Name: user
Store: mem
When: source.kind != "bot"
Fields:
  - Name: event_count
    Type: integer
    Value: user.event_count + 1
  - Name: last_kind
    Type: string
    Value: source.kind
`

func TestAggregate_FalseGuardKeepsDefaults(t *testing.T) {
	agg, ctx := testAggregate(t, blockSpec)
	ctx.LocalAdd(BindTime, at("2018-03-07T19:35:31Z"))
	ctx.LocalAdd(BindSource, map[string]any{"kind": "bot"})

	require.NoError(t, agg.Evaluate())

	v, err := agg.GetField("event_count")
	require.NoError(t, err)
	assert.Equal(t, 0, v)
	assert.True(t, agg.Start().IsZero())
	assert.Equal(t, NotEvaluated, agg.(*BlockAggregate).State())
}

func TestAggregate_TracksTimeSpan(t *testing.T) {
	agg, ctx := testAggregate(t, blockSpec)
	for _, ts := range []string{"2018-03-07T19:35:31Z", "2018-03-07T19:40:00Z"} {
		ctx.LocalAdd(BindTime, at(ts))
		ctx.LocalAdd(BindSource, map[string]any{"kind": "click"})
		require.NoError(t, agg.Evaluate())
	}

	assert.Equal(t, at("2018-03-07T19:35:31Z"), agg.Start())
	assert.Equal(t, at("2018-03-07T19:40:00Z"), agg.End())

	v, err := agg.GetField(store.FieldEndTime)
	require.NoError(t, err)
	assert.Equal(t, at("2018-03-07T19:40:00Z"), v)

	kind, err := agg.GetField("last_kind")
	require.NoError(t, err)
	assert.Equal(t, "click", kind)
}

func TestAggregate_SnapshotRestoreRoundTrip(t *testing.T) {
	agg, ctx := testAggregate(t, blockSpec)
	ctx.LocalAdd(BindTime, at("2018-03-07T19:35:31Z"))
	for _, kind := range []string{"click", "view", "click"} {
		ctx.LocalAdd(BindSource, map[string]any{"kind": kind})
		require.NoError(t, agg.Evaluate())
	}
	snap, err := agg.Snapshot()
	require.NoError(t, err)

	other, _ := testAggregate(t, blockSpec)
	require.NoError(t, other.Restore(snap))

	again, err := other.Snapshot()
	require.NoError(t, err)
	assert.Equal(t, snap, again)
	assert.Equal(t, agg.Start(), other.Start())
	assert.Equal(t, "userA", other.Identity())
}

func TestAggregate_RestoreUnmatchedKey(t *testing.T) {
	agg, _ := testAggregate(t, blockSpec)

	err := agg.Restore(map[string]any{"event_count": 5, "unknown": 1})

	var snapErr *fferrors.SnapshotError
	require.ErrorAs(t, err, &snapErr)
	assert.Equal(t, "unknown", snapErr.Key)
	assert.ErrorIs(t, err, fferrors.ErrSnapshotUnmatched)

	v, _ := agg.GetField("event_count")
	assert.Equal(t, 0, v, "nothing is restored when a key does not match")
}

func TestAggregate_RestoreFailureLeavesStateUnchanged(t *testing.T) {
	agg, ctx := testAggregate(t, `
Type: Aggregate:Block
Name: user
Store: mem
Fields:
  - Name: last_kind
    Type: string
    Value: source.kind
  - Name: event_count
    Type: integer
    Value: user.event_count + 1
  - Name: seen
    Type: datetime
    Value: time
`)
	ctx.LocalAdd(BindTime, at("2018-03-07T19:35:31Z"))
	ctx.LocalAdd(BindSource, map[string]any{"kind": "click"})
	require.NoError(t, agg.Evaluate())
	before, err := agg.Snapshot()
	require.NoError(t, err)

	tests := []map[string]any{
		{"last_kind": "view", "event_count": "nope"},
		{"last_kind": "view", "event_count": 9, "seen": "not a time"},
	}
	for _, snap := range tests {
		err := agg.Restore(snap)

		var snapErr *fferrors.SnapshotError
		require.ErrorAs(t, err, &snapErr)

		after, err := agg.Snapshot()
		require.NoError(t, err)
		assert.Equal(t, before, after)
	}
}

func TestAggregate_RestoreNotAMapping(t *testing.T) {
	agg, _ := testAggregate(t, blockSpec)

	err := agg.Restore([]any{1, 2})

	assert.ErrorIs(t, err, fferrors.ErrSnapshotNotMapping)
}

func TestAggregate_GetFieldUnknown(t *testing.T) {
	agg, _ := testAggregate(t, blockSpec)

	_, err := agg.GetField("nope")

	assert.ErrorIs(t, err, fferrors.ErrUnknownField)
}

func TestAggregate_SetIdentityEmpty(t *testing.T) {
	agg, _ := testAggregate(t, blockSpec)

	assert.ErrorIs(t, agg.SetIdentity(""), ErrEmptyIdentity)
}

func TestAggregate_ResetClearsSpan(t *testing.T) {
	agg, ctx := testAggregate(t, blockSpec)
	ctx.LocalAdd(BindTime, at("2018-03-07T19:35:31Z"))
	ctx.LocalAdd(BindSource, map[string]any{"kind": "click"})
	require.NoError(t, agg.Evaluate())

	agg.Reset()

	v, _ := agg.GetField("event_count")
	assert.Equal(t, 0, v)
	assert.True(t, agg.Start().IsZero())
	rec, err := agg.Record()
	require.NoError(t, err)
	assert.Nil(t, rec[store.FieldStartTime])
}

func TestBlockAggregate_SplitPersists(t *testing.T) {
	agg, ctx := testAggregate(t, `
Type: Aggregate:Block
Name: session
Store: mem
Split: seconds_between(session._end_time, time) > 1800
Fields:
  - Name: events
    Type: integer
    Value: session.events + 1
`)
	block := agg.(*BlockAggregate)
	require.NoError(t, block.Begin())

	for _, ts := range []string{"2018-03-07T10:00:00Z", "2018-03-07T10:10:00Z", "2018-03-07T12:00:00Z"} {
		ctx.LocalAdd(BindTime, at(ts))
		require.NoError(t, block.Step())
	}

	st := block.Store()
	rec, err := st.Get(store.NewKey("userA", "session", at("2018-03-07T10:00:00Z")))
	require.NoError(t, err)
	assert.Equal(t, 2, rec["events"])

	_, err = st.Get(store.NewKey("userA", "session", at("2018-03-07T12:00:00Z")))
	assert.ErrorIs(t, err, store.ErrNotFound, "the open block is written on finalize")

	require.NoError(t, block.Finalize())
	rec, err = st.Get(store.NewKey("userA", "session", at("2018-03-07T12:00:00Z")))
	require.NoError(t, err)
	assert.Equal(t, 1, rec["events"])
}

func TestBlockAggregate_NothingToPersist(t *testing.T) {
	agg, _ := testAggregate(t, blockSpec)
	block := agg.(*BlockAggregate)

	require.NoError(t, block.Finalize())

	entries, err := block.Store().GetAll("userA")
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestActivityAggregate_SeparatesOnGapAndCondition(t *testing.T) {
	agg, ctx := testAggregate(t, `
Type: Aggregate:Activity
Name: activity
Store: mem
Condition: source.active
SeparateByInactiveSeconds: 600
Fields:
  - Name: events
    Type: integer
    Value: activity.events + 1
`)
	act := agg.(*ActivityAggregate)
	require.NoError(t, act.Begin())

	steps := []struct {
		ts     string
		active bool
	}{
		{"2018-03-07T10:00:00Z", true},
		{"2018-03-07T10:05:00Z", true},
		{"2018-03-07T10:20:00Z", true},
		{"2018-03-07T10:21:00Z", false},
		{"2018-03-07T10:22:00Z", false},
	}
	for _, s := range steps {
		ctx.LocalAdd(BindTime, at(s.ts))
		ctx.LocalAdd(BindSource, map[string]any{"active": s.active})
		require.NoError(t, act.Step())
	}
	require.NoError(t, act.Finalize())

	entries, err := act.Store().GetAll("userA")
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, 2, entries[0].Record["events"])
	assert.Equal(t, at("2018-03-07T10:05:00Z"), entries[0].Record[store.FieldEndTime])
	assert.Equal(t, 1, entries[1].Record["events"])
	assert.Equal(t, at("2018-03-07T10:20:00Z"), *entries[1].Key.Timestamp)
}

func TestLabelAggregate_ResumesReturningLabel(t *testing.T) {
	agg, ctx := testAggregate(t, `
Type: Aggregate:Label
Name: country
Store: mem
Label: source.country
Fields:
  - Name: events
    Type: integer
    Value: country.events + 1
`)
	label := agg.(*LabelAggregate)
	require.NoError(t, label.Begin())

	events := []struct {
		ts      string
		country any
	}{
		{"2018-03-07T10:00:00Z", "US"},
		{"2018-03-07T10:01:00Z", "US"},
		{"2018-03-07T10:02:00Z", "CA"},
		{"2018-03-07T10:03:00Z", nil},
		{"2018-03-07T10:04:00Z", "US"},
	}
	for _, e := range events {
		ctx.LocalAdd(BindTime, at(e.ts))
		ctx.LocalAdd(BindSource, map[string]any{"country": e.country})
		require.NoError(t, label.Step())
	}
	assert.Equal(t, "US", label.CurrentLabel())
	require.NoError(t, label.Finalize())

	st := label.Store()
	us, err := st.Get(label.LabelKey("US"))
	require.NoError(t, err)
	assert.Equal(t, 3, us["events"])
	assert.Equal(t, at("2018-03-07T10:00:00Z"), us[store.FieldStartTime])
	assert.Equal(t, at("2018-03-07T10:04:00Z"), us[store.FieldEndTime])

	ca, err := st.Get(store.SingletonKey("userA", "country:CA"))
	require.NoError(t, err)
	assert.Equal(t, 1, ca["events"])
}

func TestIdentityAggregate_RestoresAcrossPasses(t *testing.T) {
	agg, ctx := testAggregate(t, `
Type: Aggregate:Identity
Name: user
Store: mem
Fields:
  - Name: event_count
    Type: integer
    Value: user.event_count + 1
`)
	first := agg.(*IdentityAggregate)
	require.NoError(t, first.Begin())
	ctx.LocalAdd(BindTime, at("2018-03-07T10:00:00Z"))
	require.NoError(t, first.Step())
	require.NoError(t, first.Step())
	require.NoError(t, first.Finalize())

	second, err := NewAggregate(first.schema, ctx)
	require.NoError(t, err)
	require.NoError(t, second.SetIdentity("userA"))
	ctx.GlobalAdd("user", second)

	ia := second.(*IdentityAggregate)
	require.NoError(t, ia.Begin())
	require.NoError(t, ia.Step())

	v, err := ia.GetField("event_count")
	require.NoError(t, err)
	assert.Equal(t, 3, v)
}

func TestVariableAggregate_NeverPersists(t *testing.T) {
	agg, ctx := testAggregate(t, `
Type: Aggregate:Variable
Name: vars
Store: mem
Fields:
  - Name: last
    Type: string
    Value: source.kind
`)
	v := agg.(*VariableAggregate)
	require.NoError(t, v.Begin())
	ctx.LocalAdd(BindTime, at("2018-03-07T10:00:00Z"))
	ctx.LocalAdd(BindSource, map[string]any{"kind": "click"})
	require.NoError(t, v.Step())
	require.NoError(t, v.Finalize())

	entries, err := v.Store().GetAll("userA")
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestAggregateRequiresIdentity(t *testing.T) {
	l := NewLoader()
	_, err := l.AddSchema(map[string]any{"Type": TagMemoryStore, "Name": "mem"}, "test")
	require.NoError(t, err)
	fqn, err := l.AddSchema(map[string]any{
		"Type":   TagBlockAggregate,
		"Name":   "session",
		"Store":  "mem",
		"Fields": []any{map[string]any{"Type": "integer", "Name": "n", "Value": "1"}},
	}, "test")
	require.NoError(t, err)

	as, err := NewAggregateSchema(l, fqn)
	require.NoError(t, err)
	agg, err := NewAggregate(as, nil)
	require.NoError(t, err)

	assert.ErrorIs(t, agg.(StreamingAggregate).Begin(), ErrEmptyIdentity)
}
