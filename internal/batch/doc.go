// Package batch runs a worker function over a slice of items with a fixed
// upper bound on the number of invocations in flight.
//
// A fixed set of runner goroutines pull the next unclaimed index from a shared
// counter, so a runner that finishes early immediately picks up more work
// instead of idling behind a slow item. Results are written by index and
// always come back in input order, whatever order the workers finish in.
//
// Two failure policies are available. Run collects every worker error into
// the result slot of its item and never fails as a whole. RunFailFast stops
// claiming new items at the first worker error and returns that error,
// discarding all results.
package batch
