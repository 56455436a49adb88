package expr

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	fferrors "github.com/randalmurphal/featureflow/pkg/featureflow/errors"
)

type counter struct {
	values map[string]any
}

func (c *counter) Values() map[string]any {
	return c.values
}

func TestCompile_SyntaxError(t *testing.T) {
	_, err := Compile("1 +", WithName("user.session.count"))

	var syntaxErr *fferrors.ExpressionSyntaxError
	require.ErrorAs(t, err, &syntaxErr)
	assert.Equal(t, "user.session.count", syntaxErr.FQN)
	assert.Equal(t, "1 +", syntaxErr.Formula)
}

func TestCompile_BlankEvaluatesToNil(t *testing.T) {
	e, err := Compile("   ")
	require.NoError(t, err)

	v, err := e.Evaluate(NewContext())
	require.NoError(t, err)
	assert.Nil(t, v)
}

func TestEvaluate(t *testing.T) {
	tests := []struct {
		name    string
		formula string
		vars    map[string]any
		want    any
	}{
		{"literal", "5", nil, 5},
		{"python booleans", "True and not False", nil, true},
		{"arithmetic", "a * 2 + 1", map[string]any{"a": 3}, 7},
		{"member access", "s.count + 1", map[string]any{"s": map[string]any{"count": 2}}, 3},
		{"nil binding", "x == nil", map[string]any{"x": nil}, true},
		{"string compare", `kind == "click"`, map[string]any{"kind": "click"}, true},
		{"sum", "sum(xs)", map[string]any{"xs": []any{1, 2.5, nil}}, 3.5},
		{"avg empty", "avg(xs)", map[string]any{"xs": []any{}}, 0.0},
		{"maximum", "maximum(xs)", map[string]any{"xs": []int{4, 9, 2}}, 9.0},
		{"sprig", `sprig.upper("ab")`, nil, "AB"},
		{"int conversion", `int("42")`, nil, 42},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := NewContext()
			for k, v := range tt.vars {
				ctx.GlobalAdd(k, v)
			}
			e, err := Compile(tt.formula)
			require.NoError(t, err)

			got, err := e.Evaluate(ctx)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestEvaluate_TimeHelpers(t *testing.T) {
	ctx := NewContext()
	start := time.Date(2018, 1, 1, 10, 0, 0, 0, time.UTC)
	ctx.GlobalAdd("start", start)
	ctx.GlobalAdd("end", start.Add(36*time.Hour))

	v, err := MustCompile("hours_between(start, end)").Evaluate(ctx)
	require.NoError(t, err)
	assert.Equal(t, 36.0, v)

	v, err = MustCompile("days_between(start, end)").Evaluate(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1.5, v)

	v, err = MustCompile("same_day(start, end)").Evaluate(ctx)
	require.NoError(t, err)
	assert.Equal(t, false, v)

	v, err = MustCompile(`date(parse_time("2018-03-07 19:35:31"))`).Evaluate(ctx)
	require.NoError(t, err)
	assert.Equal(t, "2018-03-07", v)
}

func TestEvaluate_SelfReference(t *testing.T) {
	ctx := NewContext()
	agg := &counter{values: map[string]any{"event_count": 0}}
	ctx.GlobalAdd("user", agg)
	e := MustCompile("user.event_count + 1")

	for i := 0; i < 3; i++ {
		v, err := e.Evaluate(ctx)
		require.NoError(t, err)
		agg.values["event_count"] = v
	}

	assert.Equal(t, 3, agg.values["event_count"])
}

func TestEvaluate_DivideByZero(t *testing.T) {
	tests := []struct {
		name      string
		formula   string
		vars      map[string]any
		nonFinite bool
	}{
		{name: "constant", formula: "1 / 0"},
		{name: "integer variables", formula: "a / b", vars: map[string]any{"a": 1, "b": 0}},
		{name: "float variables", formula: "x / y", vars: map[string]any{"x": 1.5, "y": 0.0}, nonFinite: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e, err := Compile(tt.formula, WithName("user.ratio"))
			require.NoError(t, err, "division by zero is not a compile error")

			ctx := NewContext()
			for k, v := range tt.vars {
				ctx.GlobalAdd(k, v)
			}
			_, err = e.Evaluate(ctx)

			var evalErr *fferrors.ExpressionEvaluationError
			require.ErrorAs(t, err, &evalErr)
			assert.Equal(t, "user.ratio", evalErr.FQN)
			assert.Equal(t, tt.formula, evalErr.Formula)
			if tt.nonFinite {
				assert.ErrorIs(t, err, ErrNonFinite)
			}
		})
	}
}

func TestEvaluate_UnresolvedName(t *testing.T) {
	_, err := MustCompile("missing + 1").Evaluate(NewContext())

	var evalErr *fferrors.ExpressionEvaluationError
	require.ErrorAs(t, err, &evalErr)
	assert.ErrorIs(t, err, ErrUnresolvedName)
	assert.Contains(t, err.Error(), "missing")
}

func TestEvaluate_RuntimePanicRecovered(t *testing.T) {
	_, err := MustCompile(`int("nope")`).Evaluate(NewContext())

	var evalErr *fferrors.ExpressionEvaluationError
	assert.True(t, errors.As(err, &evalErr))
}

func TestEvaluateBool(t *testing.T) {
	ctx := NewContext()
	ctx.GlobalAdd("items", []any{})

	ok, err := MustCompile("items").EvaluateBool(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = MustCompile("1 < 2").EvaluateBool(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestNames(t *testing.T) {
	e := MustCompile("session.count + sum(window.amount) > limit")
	assert.Equal(t, []string{"limit", "session", "window"}, e.Names())
}

func TestContext_ForkSharesGlobal(t *testing.T) {
	parent := NewContext()
	parent.LocalAdd("a", 1)
	child := parent.Fork()

	child.LocalAdd("a", 2)
	child.GlobalAdd("g", "shared")

	v, _ := parent.Lookup("a")
	assert.Equal(t, 1, v)
	v, _ = child.Lookup("a")
	assert.Equal(t, 2, v)
	v, ok := parent.Lookup("g")
	assert.True(t, ok)
	assert.Equal(t, "shared", v)
}

func TestContext_LocalShadowsGlobal(t *testing.T) {
	ctx := NewContext()
	ctx.GlobalAdd("x", 1)
	ctx.LocalInclude(map[string]any{"x": 2, "y": 3})

	assert.Equal(t, 2, ctx.Env()["x"])
	assert.Equal(t, 3, ctx.Env()["y"])

	ctx.Remove("x")
	_, ok := ctx.Lookup("x")
	assert.False(t, ok)
}

func TestContext_EnvMaterializesValuers(t *testing.T) {
	ctx := NewContext()
	agg := &counter{values: map[string]any{"n": 1}}
	ctx.GlobalAdd("agg", agg)

	assert.Equal(t, map[string]any{"n": 1}, ctx.Env()["agg"])
	raw, _ := ctx.Lookup("agg")
	assert.Same(t, agg, raw)
}

func TestIsTruthy(t *testing.T) {
	assert.False(t, IsTruthy(nil))
	assert.False(t, IsTruthy(""))
	assert.False(t, IsTruthy(0))
	assert.False(t, IsTruthy(map[string]any{}))
	assert.False(t, IsTruthy(time.Time{}))
	assert.True(t, IsTruthy("x"))
	assert.True(t, IsTruthy(0.5))
	assert.True(t, IsTruthy([]int{1}))
}

func TestToTime(t *testing.T) {
	got, ok := ToTime("2018-01-05")
	require.True(t, ok)
	assert.Equal(t, time.Date(2018, 1, 5, 0, 0, 0, 0, time.UTC), got)

	_, ok = ToTime(12)
	assert.False(t, ok)
}

func TestToInt(t *testing.T) {
	n, ok := ToInt(3.9)
	assert.True(t, ok)
	assert.Equal(t, 3, n)

	_, ok = ToInt("x")
	assert.False(t, ok)
}
