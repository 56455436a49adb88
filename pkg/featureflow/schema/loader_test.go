package schema_test

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/randalmurphal/featureflow/pkg/featureflow/config"
	fferrors "github.com/randalmurphal/featureflow/pkg/featureflow/errors"
	"github.com/randalmurphal/featureflow/pkg/featureflow/schema"
	"github.com/randalmurphal/featureflow/pkg/featureflow/store"
	"github.com/randalmurphal/featureflow/pkg/featureflow/template"
)

func streamingSpec() map[string]any {
	return map[string]any{
		"Type":     "Transform:Streaming",
		"Name":     "sessions",
		"Identity": "source.user_id",
		"Time":     "parse_time(source.timestamp)",
		"Stores": []any{
			map[string]any{"Type": "Store:Memory", "Name": "memstore"},
		},
		"Aggregates": []any{
			map[string]any{
				"Type":  "Aggregate:Block",
				"Name":  "session",
				"Store": "memstore",
				"Fields": []any{
					map[string]any{"Type": "integer", "Name": "events", "Value": "session.events + 1"},
					map[string]any{"Type": "float", "Name": "spend", "Value": "session.spend + source.amount"},
				},
			},
		},
	}
}

func TestAddSchema_Nested(t *testing.T) {
	l := schema.NewLoader()

	fqn, err := l.AddSchema(streamingSpec(), "")
	require.NoError(t, err)
	assert.Equal(t, "sessions", fqn)

	root, err := l.Get("sessions")
	require.NoError(t, err)
	assert.Equal(t, "Transform:Streaming", root.Type)
	assert.Equal(t, "source.user_id", root.Spec.String("Identity", ""))

	aggs := root.NestedIn(schema.AttrAggregates)
	require.Len(t, aggs, 1)
	assert.Equal(t, "sessions.session", aggs[0].FullyQualifiedName)
	assert.Equal(t, "sessions.memstore", aggs[0].Sibling(aggs[0].Spec.String("Store", "")))

	fields := aggs[0].NestedIn(schema.AttrFields)
	require.Len(t, fields, 2)
	assert.Equal(t, "sessions.session.events", fields[0].FullyQualifiedName)
	assert.Equal(t, "sessions.session.spend", fields[1].FullyQualifiedName)
	assert.Equal(t, "sessions.session", fields[1].Parent())

	child, ok := root.Child("memstore")
	require.True(t, ok)
	assert.Equal(t, "Store:Memory", child.Type)

	assert.Equal(t, []string{
		"sessions.memstore",
		"sessions.session.events",
		"sessions.session.spend",
		"sessions.session",
		"sessions",
	}, l.Names())
}

func TestAddSchema_WithParent(t *testing.T) {
	l := schema.NewLoader()

	fqn, err := l.AddSchema(map[string]any{"Type": "Store:Memory", "Name": "memstore"}, "user")
	require.NoError(t, err)
	assert.Equal(t, "user.memstore", fqn)
}

func TestAddSchema_DuplicatePolicy(t *testing.T) {
	l := schema.NewLoader()

	first, err := l.AddSchema(streamingSpec(), "")
	require.NoError(t, err)

	again, err := l.AddSchema(streamingSpec(), "")
	require.NoError(t, err, "identical spec is idempotent")
	assert.Equal(t, first, again)

	changed := streamingSpec()
	changed["Identity"] = "source.account_id"
	_, err = l.AddSchema(changed, "")
	require.Error(t, err)
	assert.ErrorIs(t, err, fferrors.ErrDuplicateSchema)

	s, err := l.Get("sessions")
	require.NoError(t, err)
	assert.Equal(t, "source.user_id", s.Spec.String("Identity", ""), "original schema is kept")
}

func TestAddSchema_CollectsErrors(t *testing.T) {
	known := func(tag string) bool { return !strings.EqualFold(tag, "Aggregate:Bogus") }
	l := schema.NewLoader(schema.WithTypeCheck(known))

	spec := map[string]any{
		"Type": "Transform:Streaming",
		"Name": "sessions",
		"Time": "",
		"Aggregates": []any{
			map[string]any{"Type": "Aggregate:Bogus", "Name": "_hidden"},
			map[string]any{"Type": "Aggregate:Block"},
		},
	}

	_, err := l.AddSchema(spec, "")
	require.Error(t, err)

	var collErr *fferrors.CollectionError
	require.ErrorAs(t, err, &collErr)
	coll := collErr.Collection()
	assert.Equal(t, 4, coll.Len())

	assert.Len(t, coll.Get("sessions"), 2)
	assert.Len(t, coll.Get("sessions._hidden"), 2)

	assert.ErrorIs(t, err, fferrors.ErrEmptyAttribute)
	assert.ErrorIs(t, err, fferrors.ErrUnknownType)
	assert.ErrorIs(t, err, fferrors.ErrInvalidIdentifier)
	assert.ErrorIs(t, err, fferrors.ErrRequiredAttribute)

	report := coll.Format("\n")
	assert.Contains(t, report, "Attribute `Name` must be present under `sessions`.")
	assert.Contains(t, report, "Attribute `Time` under `sessions` cannot be left empty.")

	assert.Equal(t, 4, l.Errors().Len())
}

func TestAddSchema_FailedSpecNotRegistered(t *testing.T) {
	known := func(tag string) bool { return !strings.EqualFold(tag, "Bogus") }

	t.Run("root", func(t *testing.T) {
		l := schema.NewLoader(schema.WithTypeCheck(known))
		spec := map[string]any{"Type": "Bogus", "Name": "x"}

		_, err := l.AddSchema(spec, "")
		require.ErrorIs(t, err, fferrors.ErrUnknownType)

		_, err = l.AddSchema(spec, "")
		assert.ErrorIs(t, err, fferrors.ErrUnknownType, "a failed spec fails again")
		assert.False(t, l.Has("x"))
		_, err = l.Get("x")
		assert.ErrorIs(t, err, fferrors.ErrSchemaNotFound)
	})

	t.Run("nested", func(t *testing.T) {
		l := schema.NewLoader(schema.WithTypeCheck(known))
		spec := streamingSpec()
		spec["Aggregates"] = append(spec["Aggregates"].([]any),
			map[string]any{"Type": "Bogus", "Name": "broken"})

		_, err := l.AddSchema(spec, "")
		require.Error(t, err)
		assert.False(t, l.Has("sessions"))
		assert.False(t, l.Has("sessions.broken"))
		assert.True(t, l.Has("sessions.session"), "valid siblings still load")

		_, err = l.AddSchema(spec, "")
		assert.ErrorIs(t, err, fferrors.ErrUnknownType)
		assert.False(t, l.Has("sessions"))
	})
}

func TestAddSchema_InvalidNestedList(t *testing.T) {
	l := schema.NewLoader()

	_, err := l.AddSchema(map[string]any{
		"Type":   "Aggregate:Block",
		"Name":   "session",
		"Fields": "events",
		"Anchor": 3,
	}, "")
	require.Error(t, err)
	assert.ErrorIs(t, err, fferrors.ErrInvalidAttribute)

	var collErr *fferrors.CollectionError
	require.ErrorAs(t, err, &collErr)
	assert.Len(t, collErr.Collection().Get("session"), 2)
}

func TestAddSchema_AnchorDefaults(t *testing.T) {
	l := schema.NewLoader()

	_, err := l.AddSchema(map[string]any{
		"Type":        "Transform:Window",
		"Name":        "windows",
		"SourceBlock": "sessions.session",
		"Anchor":      map[string]any{"Condition": "session.events > 3", "Max": 1},
	}, "")
	require.NoError(t, err)

	anchor, err := l.Get("windows.anchor")
	require.NoError(t, err)
	assert.Equal(t, schema.DefaultAnchorType, anchor.Type)
	assert.Equal(t, 1, anchor.Spec.Int("Max", 0))
}

func TestGet_NotFound(t *testing.T) {
	_, err := schema.NewLoader().Get("missing")
	assert.ErrorIs(t, err, fferrors.ErrSchemaNotFound)
}

func TestSchemasOfType(t *testing.T) {
	l := schema.NewLoader()
	_, err := l.AddSchema(streamingSpec(), "")
	require.NoError(t, err)

	blocks := l.SchemasOfType("aggregate:block")
	require.Len(t, blocks, 1)
	assert.Equal(t, "sessions.session", blocks[0].FullyQualifiedName)
}

func TestGetStore_Cached(t *testing.T) {
	opened := 0
	var gotPath string
	opener := func(s *schema.Schema, spec config.Config) (store.Store, error) {
		opened++
		gotPath = spec.String("Path", "")
		return store.NewMemoryStore(s.Name), nil
	}
	lookup := func(name string) (string, bool) {
		if name == "DATA_DIR" {
			return "/var/data", true
		}
		return "", false
	}
	l := schema.NewLoader(
		schema.WithStoreOpener(opener),
		schema.WithExpander(template.NewExpander(
			template.WithLookup(lookup),
			template.Strict(),
		)),
	)

	_, err := l.AddSchema(map[string]any{"Type": "Store:SQLite", "Name": "db", "Path": "${DATA_DIR}/x.db"}, "sessions")
	require.NoError(t, err)

	first, err := l.GetStore("sessions.db")
	require.NoError(t, err)
	second, err := l.GetStore("sessions.db")
	require.NoError(t, err)

	assert.Same(t, first, second)
	assert.Equal(t, 1, opened)
	assert.Equal(t, "/var/data/x.db", gotPath)
	assert.NoError(t, l.Close())
}

func TestGetStore_Errors(t *testing.T) {
	l := schema.NewLoader(schema.WithStoreOpener(func(*schema.Schema, config.Config) (store.Store, error) {
		return nil, errors.New("connection refused")
	}))
	_, err := l.AddSchema(map[string]any{"Type": "Store:Redis", "Name": "cache", "Addr": "localhost:6379"}, "")
	require.NoError(t, err)

	_, err = l.GetStore("cache")
	assert.ErrorContains(t, err, "connection refused")

	_, err = l.GetStore("missing")
	assert.ErrorIs(t, err, fferrors.ErrSchemaNotFound)

	_, err = schema.NewLoader().GetStore("cache")
	assert.Error(t, err)
}

func TestJoinAndParent(t *testing.T) {
	assert.Equal(t, "a", schema.Join("", "a"))
	assert.Equal(t, "a.b", schema.Join("a", "b"))
	assert.Equal(t, "a.b", schema.ParentOf("a.b.c"))
	assert.Equal(t, "", schema.ParentOf("a"))
}
