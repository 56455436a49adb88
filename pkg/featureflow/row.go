package featureflow

import (
	"time"

	"github.com/randalmurphal/featureflow/pkg/featureflow/store"
)

// Row is one output record of a pass. Streaming rows hold one persisted
// aggregate snapshot, with Aggregate naming it. Window rows hold every
// window aggregate computed for one anchor, flattened as
// "<aggregate>.<field>", and leave Aggregate empty.
type Row struct {
	Aggregate string
	Identity  string
	Start     time.Time
	Values    map[string]any
}

func blockRow(aggregate string, key store.Key, rec store.Record) Row {
	start, _ := rec.StartTime()
	if key.Timestamp != nil {
		start = key.Timestamp.UTC()
	}
	return Row{
		Aggregate: aggregate,
		Identity:  key.Identity,
		Start:     start,
		Values:    rec.Clone(),
	}
}

// flatten copies rec into out under "<prefix>.<field>".
func flatten(out map[string]any, prefix string, rec store.Record) {
	for k, v := range rec {
		out[prefix+"."+k] = v
	}
}
