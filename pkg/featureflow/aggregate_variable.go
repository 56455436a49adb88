package featureflow

// VariableAggregate holds per-pass scratch values. It is evaluated with
// every event and never persisted.
type VariableAggregate struct {
	*Aggregate
}

// Begin implements StreamingAggregate.
func (v *VariableAggregate) Begin() error {
	v.Reset()
	return nil
}

// Step implements StreamingAggregate.
func (v *VariableAggregate) Step() error {
	return v.Evaluate()
}

// Finalize implements StreamingAggregate.
func (v *VariableAggregate) Finalize() error {
	return nil
}
