package expr

import (
	"errors"
	"fmt"
	"math"
	"reflect"
	"sort"
	"strings"

	"github.com/antonmedv/expr"
	"github.com/antonmedv/expr/ast"
	"github.com/antonmedv/expr/parser"
	"github.com/antonmedv/expr/vm"
	lru "github.com/hashicorp/golang-lru/v2"

	fferrors "github.com/randalmurphal/featureflow/pkg/featureflow/errors"
)

var (
	// ErrNonFinite is the cause reported when arithmetic produces an
	// infinite or NaN result, which is how division by zero surfaces.
	ErrNonFinite = errors.New("result is not a finite number")

	// ErrUnresolvedName is the cause reported when a formula references a
	// name that is bound in neither scope.
	ErrUnresolvedName = errors.New("unresolved name")
)

// programCacheSize bounds the number of compiled formulas shared across
// schemas. DTCs repeat short formulas such as `True` and `time` heavily.
const programCacheSize = 4096

type compiled struct {
	program *vm.Program
	names   []string
}

var programs, _ = lru.New[string, *compiled](programCacheSize)

// Expression is a compiled formula. It is immutable and safe to share
// between goroutines; each evaluation reads only the Context it is given.
type Expression struct {
	text string
	name string
	code *compiled
}

// Option configures Compile.
type Option func(*Expression)

// WithName attaches the fully qualified name of the owning schema, which
// is reported in errors.
func WithName(fqn string) Option {
	return func(e *Expression) {
		e.name = fqn
	}
}

// Compile parses text and fails with *errors.ExpressionSyntaxError when
// it is malformed. Blank text compiles to an expression that evaluates to
// nil.
func Compile(text string, opts ...Option) (*Expression, error) {
	e := &Expression{text: text}
	for _, opt := range opts {
		opt(e)
	}
	if strings.TrimSpace(text) == "" {
		return e, nil
	}

	if c, ok := programs.Get(text); ok {
		e.code = c
		return e, nil
	}

	c, err := compile(text)
	if err != nil {
		return nil, &fferrors.ExpressionSyntaxError{FQN: e.name, Formula: text, Err: err}
	}
	programs.Add(text, c)
	e.code = c
	return e, nil
}

func compile(text string) (c *compiled, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%v", r)
		}
	}()

	tree, err := parser.Parse(text)
	if err != nil {
		return nil, err
	}
	// Without folding, faults such as 1 / 0 surface from Evaluate.
	program, err := expr.Compile(text, expr.Optimize(false))
	if err != nil {
		return nil, err
	}

	seen := make(map[string]struct{})
	collectNames(tree.Node, seen)
	names := make([]string, 0, len(seen))
	for name := range seen {
		if _, ok := builtins[name]; ok {
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)
	return &compiled{program: program, names: names}, nil
}

// collectNames records every identifier referenced by the tree. Nodes are
// walked by reflection over their exported fields.
func collectNames(node ast.Node, into map[string]struct{}) {
	if node == nil {
		return
	}
	if id, ok := node.(*ast.IdentifierNode); ok {
		into[id.Value] = struct{}{}
	}

	v := reflect.ValueOf(node)
	if v.Kind() == reflect.Ptr {
		if v.IsNil() {
			return
		}
		v = v.Elem()
	}
	if v.Kind() != reflect.Struct {
		return
	}
	for i := 0; i < v.NumField(); i++ {
		f := v.Field(i)
		if !f.CanInterface() {
			continue
		}
		switch child := f.Interface().(type) {
		case ast.Node:
			collectNames(child, into)
		case []ast.Node:
			for _, n := range child {
				collectNames(n, into)
			}
		}
	}
}

// MustCompile is Compile for formulas known to be valid at build time.
func MustCompile(text string, opts ...Option) *Expression {
	e, err := Compile(text, opts...)
	if err != nil {
		panic(err)
	}
	return e
}

// String returns the formula text.
func (e *Expression) String() string {
	return e.text
}

// Names returns the non-builtin identifiers the formula references, sorted.
func (e *Expression) Names() []string {
	if e.code == nil {
		return nil
	}
	return append([]string(nil), e.code.names...)
}

// Evaluate runs the formula against ctx. Unresolved names, type errors,
// non-finite arithmetic and runtime panics are reported as
// *errors.ExpressionEvaluationError.
func (e *Expression) Evaluate(ctx *Context) (result any, err error) {
	if e.code == nil {
		return nil, nil
	}

	for _, name := range e.code.names {
		if _, ok := ctx.Lookup(name); ok {
			continue
		}
		return nil, e.evalError(fmt.Errorf("%w: %s", ErrUnresolvedName, name))
	}

	defer func() {
		if r := recover(); r != nil {
			result = nil
			err = e.evalError(fmt.Errorf("panic: %v", r))
		}
	}()

	out, err := expr.Run(e.code.program, ctx.Env())
	if err != nil {
		return nil, e.evalError(err)
	}
	if f, ok := asFloat(out); ok && (math.IsInf(f, 0) || math.IsNaN(f)) {
		return nil, e.evalError(ErrNonFinite)
	}
	return out, nil
}

// EvaluateBool runs the formula and reports its truthiness.
func (e *Expression) EvaluateBool(ctx *Context) (bool, error) {
	v, err := e.Evaluate(ctx)
	if err != nil {
		return false, err
	}
	return IsTruthy(v), nil
}

func (e *Expression) evalError(cause error) error {
	return &fferrors.ExpressionEvaluationError{FQN: e.name, Formula: e.text, Err: cause}
}
