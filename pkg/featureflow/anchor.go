package featureflow

import (
	"fmt"
	"slices"
	"time"

	fferrors "github.com/randalmurphal/featureflow/pkg/featureflow/errors"
	"github.com/randalmurphal/featureflow/pkg/featureflow/expr"
	"github.com/randalmurphal/featureflow/pkg/featureflow/schema"
)

const dateLayout = "2006-01-02"

// AnchorSchema decides which blocks open a window: Condition must hold,
// and at most Max anchors are accepted per calendar day when Max is set.
type AnchorSchema struct {
	base      *schema.Schema
	Condition *expr.Expression
	Max       int
	HasMax    bool
}

// NewAnchorSchema parses the anchor loaded under fqn.
func NewAnchorSchema(l *schema.Loader, fqn string) (*AnchorSchema, error) {
	s, err := l.Get(fqn)
	if err != nil {
		return nil, err
	}
	var errs fferrors.ErrorCollection
	as := &AnchorSchema{base: s}

	as.Condition, err = compileAttribute(s, AttrCondition, true)
	errs.Add(err)

	if s.Spec.Has(AttrMax) {
		limit, ok := s.Spec.OptionalInt(AttrMax)
		if !ok || limit < 0 {
			errs.Add(fferrors.InvalidAttribute(fqn, AttrMax,
				fmt.Errorf("expected a non-negative integer, got %v", s.Spec.Any(AttrMax, nil))))
		} else {
			as.Max, as.HasMax = limit, true
		}
	}

	if err := errs.Err(); err != nil {
		return nil, err
	}
	return as, nil
}

// Schema implements TypedSchema.
func (s *AnchorSchema) Schema() *schema.Schema { return s.base }

// Kind implements TypedSchema.
func (s *AnchorSchema) Kind() Kind { return KindAnchor }

// Anchor tracks how many anchors were accepted per UTC calendar day within
// one identity's pass.
type Anchor struct {
	schema *AnchorSchema
	ctx    *expr.Context
	counts map[string]int
	dates  []string
	block  interface{ Start() time.Time }
}

// NewAnchor creates an anchor evaluating against ctx.
func NewAnchor(s *AnchorSchema, ctx *expr.Context) *Anchor {
	return &Anchor{schema: s, ctx: ctx, counts: make(map[string]int)}
}

// EvaluateAnchor reports whether block opens a window. Once Max anchors
// were accepted on the block's date, it returns false without evaluating
// the condition.
func (a *Anchor) EvaluateAnchor(block interface{ Start() time.Time }) (bool, error) {
	a.block = block
	if a.schema.HasMax && a.counts[dayOf(block.Start())] >= a.schema.Max {
		return false, nil
	}
	return a.schema.Condition.EvaluateBool(a.ctx)
}

// AddConditionMet counts an accepted anchor against the date of the block
// last passed to EvaluateAnchor.
func (a *Anchor) AddConditionMet() {
	if a.block == nil {
		return
	}
	day := dayOf(a.block.Start())
	if _, ok := a.counts[day]; !ok {
		i, _ := slices.BinarySearch(a.dates, day)
		a.dates = slices.Insert(a.dates, i, day)
	}
	a.counts[day]++
}

// ConditionsMet returns the accepted anchors on the date of t.
func (a *Anchor) ConditionsMet(t time.Time) int {
	return a.counts[dayOf(t)]
}

// Dates returns the dates with accepted anchors, ascending.
func (a *Anchor) Dates() []string {
	return slices.Clone(a.dates)
}

// Prune forgets the counters of dates before t. Counters are otherwise
// kept for the whole pass.
func (a *Anchor) Prune(before time.Time) {
	cut := dayOf(before)
	i, _ := slices.BinarySearch(a.dates, cut)
	for _, day := range a.dates[:i] {
		delete(a.counts, day)
	}
	a.dates = slices.Delete(a.dates, 0, i)
}

func dayOf(t time.Time) string {
	return t.UTC().Format(dateLayout)
}
