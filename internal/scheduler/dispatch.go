package scheduler

import (
	"context"

	"github.com/sourcegraph/conc/pool"

	"github.com/Iron-Ham/tutti/internal/agent"
	"github.com/Iron-Ham/tutti/internal/backlog"
	"github.com/Iron-Ham/tutti/internal/capture"
	"github.com/Iron-Ham/tutti/internal/config"
	"github.com/Iron-Ham/tutti/internal/errors"
	"github.com/Iron-Ham/tutti/internal/workspace"
)

// dispatchBatch runs every task in the batch concurrently and returns
// outcomes in batch order. Agent numbers are assigned here, on the
// coordinating goroutine, so numbering follows batch order regardless
// of worker interleaving. The pool always drains fully; one task's
// failure never short-circuits its batch mates.
func (s *Scheduler) dispatchBatch(ctx context.Context, batch []backlog.Task, base string) []TaskOutcome {
	outcomes := make([]TaskOutcome, len(batch))
	s.log.WithPhase(string(PhaseDispatch)).Info("dispatching batch", "tasks", len(batch))

	p := pool.New().WithMaxGoroutines(s.maxConcurrency())
	for i, task := range batch {
		agentNumber := s.counter.Next()
		p.Go(func() {
			outcomes[i] = s.runOne(ctx, task, agentNumber, base)
		})
	}
	p.Wait()
	return outcomes
}

// runOne drives one task through provision, agent run, and change
// capture. It touches no scheduler state; the coordinating goroutine
// folds the returned outcome into the run afterwards.
func (s *Scheduler) runOne(ctx context.Context, task backlog.Task, agentNumber int, base string) TaskOutcome {
	out := TaskOutcome{Task: task}
	log := s.log.WithTask(taskKey(task)).WithAgent(agentNumber)

	ws, err := s.provision(task, agentNumber, base)
	if err != nil {
		out.Err = errors.Wrapf(err, "provisioning workspace for task %s", taskKey(task))
		return out
	}
	out.Workspace = ws
	log.Info("workspace provisioned", "path", ws.Path, "branch", ws.Branch, "mode", ws.Mode)

	opts := agent.Options{
		Model:     s.cfg.Agent.Model,
		ExtraArgs: s.cfg.Agent.ExtraArgs,
	}
	res, err := s.deps.Runner.RunTask(ctx, s.deps.Agent, task, ws, opts)
	out.Result = res
	if err != nil {
		out.Err = err
		return out
	}
	if !res.Success {
		return out
	}

	if ws.Mode == config.ModeSandbox {
		noChanges, cerr := s.captureChanges(ctx, task, ws, base)
		if cerr != nil {
			out.Err = cerr
			return out
		}
		if noChanges {
			out.NoChanges = true
			log.Info("agent succeeded without modifying files")
			return out
		}
	}

	out.Branch = ws.Branch
	return out
}

// provision creates the task's workspace in the configured mode.
func (s *Scheduler) provision(task backlog.Task, agentNumber int, base string) (*workspace.Workspace, error) {
	if s.cfg.Run.Mode == config.ModeSandbox {
		ws, stats, err := s.deps.Sandboxes.Create(task.Title, agentNumber)
		if err != nil {
			return nil, err
		}
		s.log.Debug("sandbox built",
			"path", ws.Path, "copied", stats.Copied, "symlinks", stats.Symlinks)
		return ws, nil
	}
	return s.deps.Worktrees.Create(task.Title, agentNumber, base)
}

// captureChanges lands a successful sandbox run on its branch. A run
// that modified nothing is reported as such rather than committed.
func (s *Scheduler) captureChanges(ctx context.Context, task backlog.Task, ws *workspace.Workspace, base string) (noChanges bool, err error) {
	files, err := s.deps.Detector.ModifiedFiles(ws.Path, s.repoRoot)
	if err != nil {
		return false, errors.Wrap(err, "detecting sandbox changes")
	}
	if len(files) == 0 {
		return true, nil
	}

	req := capture.CommitRequest{
		SandboxDir:  ws.Path,
		OriginalDir: s.repoRoot,
		Files:       files,
		Branch:      ws.Branch,
		BaseBranch:  base,
		TaskTitle:   task.Title,
		AgentNumber: ws.AgentNumber,
	}
	return false, s.deps.Committer.Commit(ctx, req)
}

// collect folds a settled batch into the run result and the backlog.
// Runs on the coordinating goroutine after the batch pool has drained;
// this is the only place run-level state mutates.
func (s *Scheduler) collect(outcomes []TaskOutcome, attempted map[string]bool, result *RunResult) {
	log := s.log.WithPhase(string(PhaseCollecting))
	for _, out := range outcomes {
		attempted[taskKey(out.Task)] = true
		result.TotalTokens += out.Result.TotalTokens()

		if out.Failed() {
			reason := out.FailureReason()
			log.Warn("task failed", "task", taskKey(out.Task), "error", reason)
			s.noteProgressWrite()
			_ = s.deps.Progress.TaskFailed(out.Task, reason)
			result.Failed = append(result.Failed, out)
			continue
		}

		// The work has already landed; a lost completion mark must not
		// discard it. The attempted set keeps the task from redispatching
		// within this run either way.
		s.noteBacklogWrite()
		if err := s.deps.Backlog.MarkComplete(out.Task.ID); err != nil {
			log.Error("marking task complete", "task", taskKey(out.Task), "error", err)
		}
		s.noteProgressWrite()
		_ = s.deps.Progress.TaskCompleted(out.Task, out.Branch)
		result.Completed = append(result.Completed, out)
		if out.Branch != "" {
			result.Branches = append(result.Branches, out.Branch)
		}
		log.Info("task completed",
			"task", taskKey(out.Task),
			"branch", out.Branch,
			"tokens", out.Result.TotalTokens())
	}
}

// cleanupBatch disposes each outcome's workspace after collection.
// Worktree cleanup preserves dirty trees on its own; failed sandboxes
// are preserved only while uncommitted output is still inside them.
func (s *Scheduler) cleanupBatch(outcomes []TaskOutcome, result *RunResult) {
	preserved := make([]string, len(outcomes))

	p := pool.New().WithMaxGoroutines(s.maxConcurrency())
	for i, out := range outcomes {
		if out.Workspace == nil {
			continue
		}
		p.Go(func() {
			preserved[i] = s.cleanupOne(out)
		})
	}
	p.Wait()

	for _, path := range preserved {
		if path != "" {
			result.Preserved = append(result.Preserved, path)
		}
	}
}

// cleanupOne disposes one workspace and returns its path when it was
// preserved instead. Disposal failures preserve; losing an agent's only
// copy of its work is worse than leaving a directory behind.
func (s *Scheduler) cleanupOne(out TaskOutcome) string {
	ws := out.Workspace
	log := s.log.WithPhase(string(PhaseCleanup)).WithTask(taskKey(out.Task)).WithAgent(ws.AgentNumber)

	if ws.Mode == config.ModeWorktree {
		kept, err := s.deps.Worktrees.Cleanup(ws)
		if err != nil {
			log.Warn("worktree cleanup failed, preserving", "path", ws.Path, "error", err)
			return ws.Path
		}
		if kept {
			log.Info("worktree preserved", "path", ws.Path)
			return ws.Path
		}
		return ""
	}

	if out.Failed() && s.sandboxHasOutput(ws) {
		log.Info("sandbox preserved", "path", ws.Path)
		return ws.Path
	}
	if err := s.deps.Sandboxes.Remove(ws); err != nil {
		log.Warn("sandbox removal failed", "path", ws.Path, "error", err)
		return ws.Path
	}
	return ""
}

// sandboxHasOutput reports whether the sandbox still holds modified
// files. A detection error counts as output: when the answer is
// unknowable the sandbox is kept rather than destroyed.
func (s *Scheduler) sandboxHasOutput(ws *workspace.Workspace) bool {
	files, err := s.deps.Detector.ModifiedFiles(ws.Path, s.repoRoot)
	if err != nil {
		return true
	}
	return len(files) > 0
}
