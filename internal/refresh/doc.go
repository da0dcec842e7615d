// Package refresh re-fetches watched marketplace listings in bounded-concurrency
// batches. It records every batch as a refresh run, persists per-item outcomes,
// streams item progress to subscribers, and can repeat a full snapshot refresh
// on a fixed interval.
package refresh
