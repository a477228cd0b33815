// Package scheduler drives a run end to end: it pulls batches from the
// backlog, provisions one workspace per task, runs agents concurrently,
// captures sandbox changes, cleans up, and finally hands the surviving
// branches to the merge coordinator.
//
// The loop moves through fetching, dispatching, collecting, cleanup,
// and merging. Workers only build TaskOutcome values; every mutation of
// run-level state happens on the coordinating goroutine between phases,
// so the accounting needs no locks. A batch fully settles, cleanup
// included, before the next one is fetched.
package scheduler
