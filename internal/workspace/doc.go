// Package workspace provisions isolated working copies of a repository,
// one per task attempt.
//
// Two variants are supported. Worktree workspaces are git-native: a fresh
// branch is created (or atomically reset) and attached to a new working
// directory, so git itself tracks the agent's changes. Sandbox workspaces
// are plain directories built from the source tree, symlinking large
// read-only dependency directories and copying everything else with
// modification times preserved so change capture can later diff by
// timestamp and size.
//
// Names are derived from a process-wide agent counter plus a
// timestamp-and-random unique id, so concurrently provisioned workspaces
// never collide on directory or branch names, even across batches:
//
//	counter := &workspace.Counter{}
//	mgr := workspace.NewWorktreeManager(gitClient, rootDir, "tutti", logger)
//	ws, err := mgr.Create("Add request logging", counter.Next(), "main")
//	// ws.Path   -> <rootDir>/agent-1-20260825-093015-3f2a91bc-add-request-logging
//	// ws.Branch -> tutti/agent-1-20260825-093015-3f2a91bc-add-request-logging
//
// A workspace is owned exclusively by one in-flight task attempt. Cleanup
// deliberately errs on the side of preservation: a worktree with
// uncommitted changes is left in place rather than destroyed, and sandbox
// removal is driven by the caller, which preserves sandboxes whose changes
// were never committed.
package workspace
