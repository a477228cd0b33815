package scheduler

import (
	"context"
	"time"

	"github.com/Iron-Ham/tutti/internal/agent"
	"github.com/Iron-Ham/tutti/internal/backlog"
	"github.com/Iron-Ham/tutti/internal/capture"
	"github.com/Iron-Ham/tutti/internal/merge"
	"github.com/Iron-Ham/tutti/internal/workspace"
)

// Phase names the scheduler's states, in the order a run moves through
// them. Used for logging and error context.
type Phase string

const (
	PhaseFetching   Phase = "fetching_batch"
	PhaseDispatch   Phase = "dispatching"
	PhaseCollecting Phase = "collecting"
	PhaseCleanup    Phase = "cleaning_up"
	PhaseMerging    Phase = "merging"
	PhaseDone       Phase = "done"
)

// TaskOutcome records how one dispatched task ended. Workers build
// outcomes; all bookkeeping against shared state happens on the
// coordinating goroutine after the batch settles.
type TaskOutcome struct {
	Task backlog.Task

	// Workspace is nil when provisioning failed.
	Workspace *workspace.Workspace

	// Result is the last agent attempt's result, zero when the agent
	// never ran.
	Result agent.Result

	// Branch is set only when completed work landed on a branch. A
	// sandbox run that modified nothing completes without one.
	Branch string

	// Err is the hard failure (provisioning, agent process, capture),
	// nil for agent-reported failures, which live in Result.
	Err error

	// NoChanges marks a successful sandbox run that modified no files.
	NoChanges bool
}

// Failed reports whether the outcome counts as a task failure, either a
// hard error or the agent reporting failure.
func (o TaskOutcome) Failed() bool {
	return o.Err != nil || !o.Result.Success
}

// FailureReason returns a human-readable reason for a failed outcome.
func (o TaskOutcome) FailureReason() string {
	if o.Err != nil {
		return o.Err.Error()
	}
	if o.Result.Error != "" {
		return o.Result.Error
	}
	return "agent reported failure"
}

// RunResult aggregates everything a run produced.
type RunResult struct {
	// Completed and Failed hold settled task outcomes in collection order.
	Completed []TaskOutcome
	Failed    []TaskOutcome

	// Branches lists the branches completed tasks produced, in
	// collection order. Input to the merge phase.
	Branches []string

	// Preserved lists workspace paths kept for manual inspection.
	Preserved []string

	// Merge is nil when the merge phase was skipped.
	Merge *merge.Report

	// Iterations counts batch fetch cycles.
	Iterations int

	// TotalTokens sums token usage across every agent attempt collected.
	TotalTokens int64

	Duration time.Duration

	// DryRun marks a walk of the fetch logic with no dispatching;
	// DryRunTasks lists what would have been dispatched, in batch order.
	DryRun      bool
	DryRunTasks []backlog.Task
}

// WorktreeProvisioner provisions and cleans worktree workspaces.
// *workspace.WorktreeManager satisfies it.
type WorktreeProvisioner interface {
	Create(title string, agentNumber int, baseBranch string) (*workspace.Workspace, error)
	Cleanup(ws *workspace.Workspace) (preserved bool, err error)
}

// SandboxProvisioner provisions and removes sandbox workspaces.
// *workspace.SandboxManager satisfies it.
type SandboxProvisioner interface {
	Create(title string, agentNumber int) (*workspace.Workspace, workspace.SandboxStats, error)
	Remove(ws *workspace.Workspace) error
}

// ChangeDetector finds modified files in a sandbox.
// *capture.Detector satisfies it.
type ChangeDetector interface {
	ModifiedFiles(sandboxDir, originalDir string) ([]string, error)
}

// ChangeCommitter lands sandbox changes on a branch.
// *capture.Committer satisfies it.
type ChangeCommitter interface {
	Commit(ctx context.Context, req capture.CommitRequest) error
}

// TaskRunner executes one task's agent run with retries.
// *agent.Runner satisfies it.
type TaskRunner interface {
	RunTask(ctx context.Context, a agent.Agent, task backlog.Task, ws *workspace.Workspace, opts agent.Options) (agent.Result, error)
}

// Merger reconciles completed branches into the base branch.
// *merge.Coordinator satisfies it.
type Merger interface {
	MergeBranches(ctx context.Context, branches []string, target string) (*merge.Report, error)
}

// RunGit is the subset of git operations the run loop itself needs.
// *git.Client satisfies it.
type RunGit interface {
	CurrentBranch() (string, error)
	Checkout(branch string) error
}

// BoundaryNotifier learns about the core's own writes to boundary
// files, so the watcher does not warn about them.
// *boundary.Watcher satisfies it.
type BoundaryNotifier interface {
	SelfWrite(path string)
}
