package featureflow

// ActivityAggregate folds events while its Condition holds and no more
// than SeparateByInactiveSeconds pass between consecutive events. When
// either rule breaks, the open activity is persisted under
// (identity, name, start) and reset.
type ActivityAggregate struct {
	*Aggregate
}

// Begin implements StreamingAggregate.
func (a *ActivityAggregate) Begin() error {
	return a.requireIdentity()
}

// Step implements StreamingAggregate.
func (a *ActivityAggregate) Step() error {
	active := true
	if a.schema.Condition != nil {
		var err error
		if active, err = a.schema.Condition.EvaluateBool(a.ctx); err != nil {
			return err
		}
	}

	if a.open() {
		expired := false
		if now, ok := a.eventTime(); ok {
			expired = now.Sub(a.end) > a.schema.InactiveGap
		}
		if !active || expired {
			if err := a.persist(a.blockKey()); err != nil {
				return err
			}
			a.Reset()
		}
	}
	if !active {
		return nil
	}
	return a.Evaluate()
}

// Finalize implements StreamingAggregate.
func (a *ActivityAggregate) Finalize() error {
	return a.persist(a.blockKey())
}
