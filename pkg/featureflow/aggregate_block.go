package featureflow

// BlockAggregate folds a contiguous run of events. The run closes when the
// Split formula is true for an incoming event: the open block is persisted
// under (identity, name, start) and a fresh block starts with that event.
type BlockAggregate struct {
	*Aggregate
}

// Begin implements StreamingAggregate.
func (b *BlockAggregate) Begin() error {
	return b.requireIdentity()
}

// Step implements StreamingAggregate.
func (b *BlockAggregate) Step() error {
	if b.open() && b.schema.Split != nil {
		split, err := b.schema.Split.EvaluateBool(b.ctx)
		if err != nil {
			return err
		}
		if split {
			if err := b.persist(b.blockKey()); err != nil {
				return err
			}
			b.Reset()
		}
	}
	return b.Evaluate()
}

// Finalize implements StreamingAggregate.
func (b *BlockAggregate) Finalize() error {
	return b.persist(b.blockKey())
}
