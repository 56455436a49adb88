package store_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	fferrors "github.com/randalmurphal/featureflow/pkg/featureflow/errors"
	"github.com/randalmurphal/featureflow/pkg/featureflow/store"
)

// storeFactory creates a store instance for testing.
type storeFactory func(t *testing.T) store.Store

func day(d int) time.Time {
	return time.Date(2018, 1, d, 0, 0, 0, 0, time.UTC)
}

func dayKey(identity, group string, d int) store.Key {
	return store.NewKey(identity, group, day(d))
}

func days(entries []store.Entry) []int {
	out := make([]int, 0, len(entries))
	for _, e := range entries {
		if e.Key.Timestamp != nil {
			out = append(out, e.Key.Timestamp.Day())
			continue
		}
		start, _ := e.Record.StartTime()
		out = append(out, start.Day())
	}
	return out
}

func seed(t *testing.T, s store.Store, identity, group string, ds ...int) {
	t.Helper()
	for _, d := range ds {
		require.NoError(t, s.Save(dayKey(identity, group, d), store.Record{
			"day":                d,
			store.FieldStartTime: day(d),
		}))
	}
}

// storeContractTest runs contract tests against any Store implementation.
func storeContractTest(t *testing.T, name string, factory storeFactory) {
	t.Run(name+"/Save_and_Get", func(t *testing.T) {
		s := factory(t)
		defer s.Close()

		key := dayKey("u", "session", 7)
		rec := store.Record{
			"events":             3,
			"ratio":              0.5,
			"kinds":              []any{"click", "view"},
			store.FieldIdentity:  "u",
			store.FieldStartTime: time.Date(2018, 3, 7, 19, 35, 31, 0, time.UTC),
		}
		require.NoError(t, s.Save(key, rec))

		got, err := s.Get(key)
		require.NoError(t, err)
		assert.Equal(t, 3, got["events"])
		assert.Equal(t, 0.5, got["ratio"])
		assert.Equal(t, []any{"click", "view"}, got["kinds"])
		assert.Equal(t, "u", got.Identity())
		start, ok := got.StartTime()
		require.True(t, ok)
		assert.True(t, start.Equal(time.Date(2018, 3, 7, 19, 35, 31, 0, time.UTC)))
	})

	t.Run(name+"/Get_NotFound", func(t *testing.T) {
		s := factory(t)
		defer s.Close()

		_, err := s.Get(dayKey("nobody", "session", 1))
		assert.ErrorIs(t, err, store.ErrNotFound)
	})

	t.Run(name+"/Save_Overwrite", func(t *testing.T) {
		s := factory(t)
		defer s.Close()

		key := store.SingletonKey("u", "state")
		require.NoError(t, s.Save(key, store.Record{"n": 1}))
		require.NoError(t, s.Save(key, store.Record{"n": 2}))

		got, err := s.Get(key)
		require.NoError(t, err)
		assert.Equal(t, 2, got["n"])
	})

	t.Run(name+"/Delete", func(t *testing.T) {
		s := factory(t)
		defer s.Close()

		key := dayKey("u", "session", 1)
		require.NoError(t, s.Save(key, store.Record{"n": 1}))
		require.NoError(t, s.Delete(key))
		require.NoError(t, s.Delete(key))

		_, err := s.Get(key)
		assert.ErrorIs(t, err, store.ErrNotFound)
	})

	t.Run(name+"/GetAll_Ordered", func(t *testing.T) {
		s := factory(t)
		defer s.Close()

		seed(t, s, "u", "session", 10, 1, 5)
		seed(t, s, "other", "session", 3)

		entries, err := s.GetAll("u")
		require.NoError(t, err)
		assert.Equal(t, []int{1, 5, 10}, days(entries))
	})

	t.Run(name+"/GetRange_Bounded", func(t *testing.T) {
		s := factory(t)
		defer s.Close()

		seed(t, s, "u", "g", 10, 5, 1)

		end := dayKey("u", "g", 10)
		entries, err := s.GetRange(dayKey("u", "g", 1), &end, 0)
		require.NoError(t, err)
		assert.Equal(t, []int{5}, days(entries))
	})

	t.Run(name+"/GetRange_BoundedSwapsReversedBounds", func(t *testing.T) {
		s := factory(t)
		defer s.Close()

		seed(t, s, "u", "g", 1, 2, 3, 4)

		end := dayKey("u", "g", 1)
		entries, err := s.GetRange(dayKey("u", "g", 4), &end, 0)
		require.NoError(t, err)
		assert.Equal(t, []int{2, 3}, days(entries))
	})

	t.Run(name+"/GetRange_BoundedFallsBackToStartTime", func(t *testing.T) {
		s := factory(t)
		defer s.Close()

		seed(t, s, "u", "g", 1, 9)
		require.NoError(t, s.Save(store.SingletonKey("u", "g"), store.Record{
			store.FieldStartTime: "2018-01-05T00:00:00",
		}))
		require.NoError(t, s.Save(store.SingletonKey("u", "h"), store.Record{
			store.FieldStartTime: day(5),
		}))

		end := dayKey("u", "g", 9)
		entries, err := s.GetRange(dayKey("u", "g", 1), &end, 0)
		require.NoError(t, err)
		require.Len(t, entries, 1)
		assert.False(t, entries[0].Key.HasTimestamp())
		assert.Equal(t, "g", entries[0].Key.Group)
	})

	t.Run(name+"/GetRange_CountPositive", func(t *testing.T) {
		s := factory(t)
		defer s.Close()

		seed(t, s, "u", "g", 4, 1, 3, 2, 5)
		seed(t, s, "u", "other", 2, 3)

		entries, err := s.GetRange(dayKey("u", "g", 2), nil, 2)
		require.NoError(t, err)
		assert.Equal(t, []int{3, 4}, days(entries))
	})

	t.Run(name+"/GetRange_CountNegative", func(t *testing.T) {
		s := factory(t)
		defer s.Close()

		seed(t, s, "u", "g", 1, 2, 3, 4, 5)

		entries, err := s.GetRange(dayKey("u", "g", 4), nil, -2)
		require.NoError(t, err)
		assert.Equal(t, []int{2, 3}, days(entries))
	})

	t.Run(name+"/GetRange_CountClamps", func(t *testing.T) {
		s := factory(t)
		defer s.Close()

		seed(t, s, "u", "g", 1, 2, 3)

		entries, err := s.GetRange(dayKey("u", "g", 2), nil, 10)
		require.NoError(t, err)
		assert.Equal(t, []int{3}, days(entries))

		entries, err = s.GetRange(dayKey("u", "g", 1), nil, -3)
		require.NoError(t, err)
		assert.Empty(t, entries)
	})

	t.Run(name+"/GetRange_RejectsInvalidArguments", func(t *testing.T) {
		s := factory(t)
		defer s.Close()

		end := dayKey("u", "g", 9)
		_, err := s.GetRange(dayKey("u", "g", 1), &end, 2)
		var queryErr *fferrors.StoreQueryError
		require.ErrorAs(t, err, &queryErr)

		_, err = s.GetRange(dayKey("u", "g", 1), nil, 0)
		require.ErrorAs(t, err, &queryErr)
	})

	t.Run(name+"/Close_Idempotent", func(t *testing.T) {
		s := factory(t)
		require.NoError(t, s.Close())
		assert.NotPanics(t, func() { _ = s.Close() })
	})
}

func TestMemoryStore_Contract(t *testing.T) {
	storeContractTest(t, "Memory", func(t *testing.T) store.Store {
		return store.NewMemoryStore("memstore")
	})
}

func TestSQLiteStore_Contract(t *testing.T) {
	storeContractTest(t, "SQLite", func(t *testing.T) store.Store {
		s, err := store.NewSQLiteStore("sqlstore", filepath.Join(t.TempDir(), "records.db"))
		require.NoError(t, err)
		return s
	})
}

func TestPostgresStore_Contract(t *testing.T) {
	dsn := os.Getenv("FEATUREFLOW_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("FEATUREFLOW_TEST_POSTGRES_DSN not set")
	}
	storeContractTest(t, "Postgres", func(t *testing.T) store.Store {
		table := "featureflow_test_" + time.Now().Format("150405000000")
		backend, err := store.NewPostgresBackend(context.Background(), dsn, table)
		require.NoError(t, err)
		return store.NewOrdered("pgstore", backend)
	})
}

func TestRedisStore_Contract(t *testing.T) {
	addr := os.Getenv("FEATUREFLOW_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("FEATUREFLOW_TEST_REDIS_ADDR not set")
	}
	storeContractTest(t, "Redis", func(t *testing.T) store.Store {
		client := store.NewRedisClient(addr, "", "", 0)
		prefix := "featureflow-test-" + time.Now().Format("150405000000")
		return store.NewOrdered("redisstore", store.NewRedisBackend(client, prefix))
	})
}

func TestMemoryStore_ClosedRejectsOperations(t *testing.T) {
	s := store.NewMemoryStore("memstore")
	require.NoError(t, s.Close())

	err := s.Save(dayKey("u", "g", 1), store.Record{})
	assert.ErrorIs(t, err, store.ErrStoreClosed)

	_, err = s.Get(dayKey("u", "g", 1))
	assert.ErrorIs(t, err, store.ErrStoreClosed)
}

func TestMemoryStore_CopiesRecords(t *testing.T) {
	s := store.NewMemoryStore("memstore")
	key := dayKey("u", "g", 1)
	rec := store.Record{"n": 1}

	require.NoError(t, s.Save(key, rec))
	rec["n"] = 2

	got, err := s.Get(key)
	require.NoError(t, err)
	assert.Equal(t, 1, got["n"])
}
