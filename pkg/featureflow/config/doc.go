/*
Package config gives typed access to DTC (declarative transform
configuration) documents.

A DTC is a nested YAML or JSON mapping. Each node becomes a Config whose
accessors return defaults on missing keys or type mismatches:

	dtc, err := config.FromFile("sessions.yaml")
	if err != nil {
	    return err
	}
	name := dtc.String("Name", "")
	aggregates, err := dtc.Sections("Aggregates")

Formula attributes (Value, When, Split, Condition) are read with Text,
which renders bare scalars such as `Value: 5` as formula source.

Config is safe for concurrent reads. The underlying map is never
modified after creation.
*/
package config
