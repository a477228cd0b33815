package scheduler

import (
	"context"
	"time"

	"github.com/Iron-Ham/tutti/internal/agent"
	"github.com/Iron-Ham/tutti/internal/backlog"
	"github.com/Iron-Ham/tutti/internal/config"
	"github.com/Iron-Ham/tutti/internal/errors"
	"github.com/Iron-Ham/tutti/internal/logging"
	"github.com/Iron-Ham/tutti/internal/merge"
	"github.com/Iron-Ham/tutti/internal/notify"
	"github.com/Iron-Ham/tutti/internal/progress"
	"github.com/Iron-Ham/tutti/internal/workspace"
)

// Deps bundles the scheduler's collaborators. Every seam is an
// interface so tests can substitute fakes; production wiring constructs
// the real implementations once, in the command layer.
//
// Worktrees or Sandboxes may be nil when the run mode never touches
// them. Progress and Notifier are optional; a nil progress logger
// discards events and a nil notifier disables the run-end webhook.
type Deps struct {
	Backlog   backlog.Provider
	Agent     agent.Agent
	Runner    TaskRunner
	Worktrees WorktreeProvisioner
	Sandboxes SandboxProvisioner
	Detector  ChangeDetector
	Committer ChangeCommitter
	Merger    Merger
	Git       RunGit
	Progress  *progress.Logger
	Notifier  notify.Sink
	Boundary  BoundaryNotifier
	Log       *logging.Logger
}

// Scheduler drives one backlog to completion: fetch a batch, dispatch
// it, collect outcomes, clean up, repeat, then merge what landed.
type Scheduler struct {
	cfg      *config.Config
	repoRoot string
	deps     Deps
	counter  workspace.Counter
	log      *logging.Logger

	// Boundary file locations, announced to the watcher before the
	// core writes them.
	backlogPath  string
	progressPath string
}

// New creates a Scheduler for the repository at repoRoot.
func New(cfg *config.Config, repoRoot string, deps Deps) *Scheduler {
	log := deps.Log
	if log == nil {
		log = logging.NopLogger()
	}
	return &Scheduler{
		cfg:          cfg,
		repoRoot:     repoRoot,
		deps:         deps,
		log:          log,
		backlogPath:  config.ResolveRepoPath(repoRoot, cfg.Run.BacklogFile),
		progressPath: config.ResolveRepoPath(repoRoot, cfg.Run.ProgressFile),
	}
}

// noteBacklogWrite and noteProgressWrite announce imminent core writes
// to the boundary watcher.
func (s *Scheduler) noteBacklogWrite() {
	if s.deps.Boundary != nil {
		s.deps.Boundary.SelfWrite(s.backlogPath)
	}
}

func (s *Scheduler) noteProgressWrite() {
	if s.deps.Boundary != nil {
		s.deps.Boundary.SelfWrite(s.progressPath)
	}
}

// Run executes the scheduling loop until the backlog is exhausted, the
// iteration cap is hit, or ctx is canceled. Per-task failures are
// reported in the result, never as the returned error; the error covers
// run-level problems only (backlog access, merge phase, cancellation).
// The result is valid even when the error is non-nil.
func (s *Scheduler) Run(ctx context.Context) (*RunResult, error) {
	start := time.Now()

	if s.cfg.Run.DryRun {
		return s.dryRun(ctx, start)
	}

	current, err := s.deps.Git.CurrentBranch()
	if err != nil {
		return nil, errors.Wrap(err, "resolving current branch")
	}
	base := s.cfg.Run.BaseBranch
	if base == "" {
		base = current
	}

	pending, err := s.pendingCount()
	if err != nil {
		return nil, err
	}
	s.noteProgressWrite()
	_ = s.deps.Progress.RunStarted(pending, s.cfg.Run.Mode)
	s.log.Info("run started",
		"pending", pending,
		"mode", s.cfg.Run.Mode,
		"base", base,
		"concurrency", s.maxConcurrency())

	result := &RunResult{}
	attempted := make(map[string]bool)
	var runErr error

	for {
		if cerr := ctx.Err(); cerr != nil {
			runErr = cerr
			break
		}
		if maxIter := s.cfg.Run.MaxIterations; maxIter > 0 && result.Iterations >= maxIter {
			s.log.Info("iteration cap reached", "iterations", result.Iterations)
			break
		}

		batch, ferr := s.fetchBatch(attempted)
		if ferr != nil {
			runErr = ferr
			break
		}
		if len(batch) == 0 {
			break
		}
		result.Iterations++
		s.log.WithPhase(string(PhaseFetching)).Info("batch fetched",
			"iteration", result.Iterations, "tasks", len(batch))

		outcomes := s.dispatchBatch(ctx, batch, base)
		s.collect(outcomes, attempted, result)
		s.cleanupBatch(outcomes, result)
	}

	// Completion marks may be deferred in the provider; persist them
	// before anything else can fail, including on a canceled run.
	s.noteBacklogWrite()
	if ferr := s.deps.Backlog.Flush(); ferr != nil {
		s.log.Error("flushing backlog", "error", ferr)
		if runErr == nil {
			runErr = errors.Wrap(ferr, "flushing backlog")
		}
	}

	if runErr == nil && !s.cfg.Run.SkipMerge && len(result.Branches) > 0 {
		report, merr := s.mergePhase(ctx, result.Branches, base, current)
		result.Merge = report
		runErr = merr
	}

	result.Duration = time.Since(start)
	s.noteProgressWrite()
	_ = s.deps.Progress.RunFinished(len(result.Completed), len(result.Failed), result.Duration)
	s.notifyRun(ctx, result)
	s.log.WithPhase(string(PhaseDone)).Info("run finished",
		"completed", len(result.Completed),
		"failed", len(result.Failed),
		"branches", len(result.Branches),
		"iterations", result.Iterations,
		"duration", result.Duration.Round(time.Second))
	return result, runErr
}

// mergePhase reconciles completed branches into base and then restores
// the branch that was checked out when the run began. Restoration runs
// even when merging fails; the repository must not be left sitting on
// the merge target unexpectedly.
func (s *Scheduler) mergePhase(ctx context.Context, branches []string, base, previous string) (*merge.Report, error) {
	log := s.log.WithPhase(string(PhaseMerging))
	log.Info("merging completed branches", "count", len(branches), "target", base)

	report, err := s.deps.Merger.MergeBranches(ctx, branches, base)
	if previous != "" && previous != base {
		if cerr := s.deps.Git.Checkout(previous); cerr != nil {
			log.Warn("restoring original branch", "branch", previous, "error", cerr)
		}
	}
	if err != nil {
		return report, errors.Wrap(err, "merging branches")
	}
	return report, nil
}

// notifyRun sends the run-end webhook. Failures are logged and never
// fail the run. The sink carries its own timeout, so a canceled run
// context must not suppress the notification.
func (s *Scheduler) notifyRun(ctx context.Context, result *RunResult) {
	if s.deps.Notifier == nil {
		return
	}
	stats := notify.RunStats{
		Completed:       len(result.Completed),
		Failed:          len(result.Failed),
		TotalTokens:     result.TotalTokens,
		DurationSeconds: result.Duration.Seconds(),
		DryRun:          result.DryRun,
	}
	if result.Merge != nil {
		stats.BranchesMerged = len(result.Merge.Merged)
		stats.BranchesFailed = len(result.Merge.Failed)
	}
	if err := s.deps.Notifier.RunFinished(context.WithoutCancel(ctx), stats); err != nil {
		s.log.Warn("run notification failed", "error", err)
	}
}

// pendingCount counts incomplete tasks, for the progress header.
func (s *Scheduler) pendingCount() (int, error) {
	tasks, err := s.deps.Backlog.AllTasks()
	if err != nil {
		return 0, errors.Wrap(err, "reading backlog")
	}
	n := 0
	for _, t := range tasks {
		if !t.Completed {
			n++
		}
	}
	return n, nil
}

func (s *Scheduler) maxConcurrency() int {
	if n := s.cfg.Run.MaxConcurrency; n > 0 {
		return n
	}
	return 1
}
