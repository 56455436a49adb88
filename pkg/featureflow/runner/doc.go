// Package runner executes featureflow DTCs over a batch of raw events.
//
// Events are read as JSON lines, grouped by the identity the streaming
// DTC extracts, ordered by event time and processed identity by identity.
// Identities are spread over worker shards by hash, so one identity is
// always processed by one worker, and a failing identity never affects
// the others: its error is recorded in the Summary and the run goes on.
//
// Basic usage:
//
//	r, err := runner.FromFiles("stream.yaml", "window.yaml")
//	if err != nil {
//	    return err
//	}
//	defer r.Close()
//
//	summary, err := r.Run(ctx, input)
//	if err != nil {
//	    return err
//	}
//	err = runner.WriteRows(out, summary.Rows)
package runner
