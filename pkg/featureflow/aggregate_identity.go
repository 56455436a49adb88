package featureflow

import "github.com/randalmurphal/featureflow/pkg/featureflow/store"

// IdentityAggregate keeps a single snapshot per identity, restored at the
// start of every pass and written back at its end.
type IdentityAggregate struct {
	*Aggregate
}

// Key returns the singleton key of the identity's snapshot.
func (i *IdentityAggregate) Key() store.Key {
	return store.SingletonKey(i.identity, i.Name())
}

// Begin implements StreamingAggregate.
func (i *IdentityAggregate) Begin() error {
	if err := i.requireIdentity(); err != nil {
		return err
	}
	_, err := i.load(i.Key())
	return err
}

// Step implements StreamingAggregate.
func (i *IdentityAggregate) Step() error {
	return i.Evaluate()
}

// Finalize implements StreamingAggregate.
func (i *IdentityAggregate) Finalize() error {
	return i.persist(i.Key())
}
