// Package backlog defines the task model and the providers that read
// tasks from external backlog sources.
//
// A provider exposes an ordered list of [Task] values and persists
// completion state back to its source. Sources that understand parallel
// grouping (the @parallel(N) marker) additionally implement
// [GroupedProvider], which lets the scheduler dispatch a whole group as
// one batch. Tasks without a group run alone.
//
// Completion writes are debounced: MarkComplete updates in-memory state
// and schedules a deferred write, so marking many tasks complete in
// quick succession costs one file write instead of N. Callers must call
// Flush before exiting to guarantee the last marks reach disk.
//
// Usage:
//
//	provider, err := backlog.NewMarkdownProvider("BACKLOG.md")
//	task, err := provider.NextTask()
//	if task != nil {
//	    // ... execute task ...
//	    provider.MarkComplete(task.ID)
//	}
//	defer provider.Flush()
package backlog
