package featureflow

import (
	"fmt"

	"github.com/randalmurphal/featureflow/pkg/featureflow/store"
)

// LabelAggregate keeps one snapshot per value of its Label formula. When
// the label of an incoming event differs from the open one, the open
// snapshot is persisted and the snapshot of the new label is restored, so
// a label that reappears continues where it left off. Events whose label
// is nil are skipped.
type LabelAggregate struct {
	*Aggregate
	label string
}

// CurrentLabel returns the label of the open snapshot.
func (l *LabelAggregate) CurrentLabel() string {
	return l.label
}

// LabelKey returns the key the snapshot of label is stored under.
func (l *LabelAggregate) LabelKey(label string) store.Key {
	return store.SingletonKey(l.identity, l.Name()+":"+label)
}

// Begin implements StreamingAggregate.
func (l *LabelAggregate) Begin() error {
	return l.requireIdentity()
}

// Step implements StreamingAggregate.
func (l *LabelAggregate) Step() error {
	v, err := l.schema.Label.Evaluate(l.ctx)
	if err != nil {
		return err
	}
	if v == nil {
		return nil
	}
	label := fmt.Sprint(v)

	if label != l.label || !l.open() {
		if l.label != "" {
			if err := l.persist(l.LabelKey(l.label)); err != nil {
				return err
			}
		}
		l.Reset()
		if _, err := l.load(l.LabelKey(label)); err != nil {
			return err
		}
		l.label = label
	}
	return l.Evaluate()
}

// Finalize implements StreamingAggregate.
func (l *LabelAggregate) Finalize() error {
	if l.label == "" {
		return nil
	}
	return l.persist(l.LabelKey(l.label))
}
