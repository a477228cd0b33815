package merge

import (
	"context"
	"fmt"
	"time"

	"github.com/sourcegraph/conc/pool"

	"github.com/Iron-Ham/tutti/internal/config"
	"github.com/Iron-Ham/tutti/internal/errors"
	"github.com/Iron-Ham/tutti/internal/logging"
)

// MergeGit is the subset of git operations the coordinator needs.
// *git.Client satisfies it.
type MergeGit interface {
	Checkout(branch string) error
	Merge(branch, message string) error
	AbortMerge() error
	CommitResolved() error
	IsMergeInProgress() bool
	ConflictingFiles(dir string) ([]string, error)
	ChangedFiles(target, branch string) ([]string, error)
	DeleteBranch(branch string) error
}

// Failure records one branch the coordinator could not merge. The
// branch itself is always preserved for manual recovery.
type Failure struct {
	Branch string
	Reason string

	// Conflicts holds the conflicted paths when the failure came from an
	// unresolved merge conflict; nil otherwise.
	Conflicts []string
}

// Report summarizes one merge pass.
type Report struct {
	// Target is the branch everything was merged into.
	Target string

	// Merged lists branches that landed, in merge order.
	Merged []string

	// Failed lists branches that did not land, with reasons.
	Failed []Failure

	// Analyses holds the per-branch diffs in the order merges were
	// attempted.
	Analyses []Analysis

	// Duration covers the whole pass, analysis through deletion.
	Duration time.Duration
}

// Coordinator merges the branches a run produced back into the target
// branch. Analysis and branch deletion fan out; the merges themselves
// run strictly sequentially because they share one working tree.
//
// A coordinator is not blindly re-runnable on the same branch set after
// a partial pass: merged branches may already be deleted. Callers pass
// only the still-unmerged branches on retry.
type Coordinator struct {
	git            MergeGit
	resolver       ConflictResolver
	repoRoot       string
	maxConcurrency int
	deleteMerged   bool
	log            *logging.Logger
}

// NewCoordinator creates a coordinator for the repository at repoRoot.
// maxConcurrency bounds the analysis and deletion pools; values below 1
// are raised to 1.
func NewCoordinator(g MergeGit, repoRoot string, cfg config.MergeConfig, maxConcurrency int, log *logging.Logger) *Coordinator {
	if maxConcurrency < 1 {
		maxConcurrency = 1
	}
	if log == nil {
		log = logging.NopLogger()
	}
	return &Coordinator{
		git:            g,
		repoRoot:       repoRoot,
		maxConcurrency: maxConcurrency,
		deleteMerged:   cfg.DeleteMerged,
		log:            log,
	}
}

// WithResolver attaches a conflict resolver. Without one, conflicted
// merges are aborted immediately and recorded as failed.
func (c *Coordinator) WithResolver(r ConflictResolver) *Coordinator {
	c.resolver = r
	return c
}

// MergeBranches merges branches into target, least-conflicting first.
// Individual failures never stop the pass; they are recorded and the
// next branch is attempted. The returned error is non-nil only for
// pass-level problems (target checkout failure, context cancellation),
// and the Report is valid either way.
//
// The caller is responsible for restoring whatever branch was checked
// out before the pass; the coordinator leaves target checked out.
func (c *Coordinator) MergeBranches(ctx context.Context, branches []string, target string) (*Report, error) {
	start := time.Now()
	report := &Report{Target: target}
	if len(branches) == 0 {
		return report, nil
	}

	log := c.log.WithPhase("merging")
	log.Info("analyzing branches", "count", len(branches), "target", target)

	analyses, errs := analyzeBranches(c.git, target, branches, c.maxConcurrency)
	ordered := make([]Analysis, 0, len(analyses))
	for i, a := range analyses {
		if errs[i] != nil {
			log.Warn("branch analysis failed", "branch", branches[i], "error", errs[i])
			report.Failed = append(report.Failed, Failure{
				Branch: branches[i],
				Reason: fmt.Sprintf("analysis failed: %v", errs[i]),
			})
			continue
		}
		ordered = append(ordered, a)
	}
	orderForMerge(ordered)
	report.Analyses = ordered

	if len(ordered) == 0 {
		report.Duration = time.Since(start)
		return report, nil
	}

	if err := c.git.Checkout(target); err != nil {
		report.Duration = time.Since(start)
		return report, errors.Wrapf(err, "checking out merge target %s", target)
	}

	for _, a := range ordered {
		if err := ctx.Err(); err != nil {
			report.Duration = time.Since(start)
			return report, err
		}
		if f := c.mergeOne(ctx, a, target); f != nil {
			report.Failed = append(report.Failed, *f)
			continue
		}
		report.Merged = append(report.Merged, a.Branch)
	}

	if c.deleteMerged && len(report.Merged) > 0 {
		c.deleteBranches(report.Merged)
	}

	report.Duration = time.Since(start)
	log.Info("merge pass finished",
		"merged", len(report.Merged), "failed", len(report.Failed), "duration", report.Duration)
	return report, nil
}

// mergeOne merges a single analyzed branch into the already checked-out
// target. Returns nil on success, or the failure to record. The tree is
// never left mid-merge: every failure path aborts before returning.
func (c *Coordinator) mergeOne(ctx context.Context, a Analysis, target string) *Failure {
	log := c.log.WithPhase("merging")

	err := c.git.Merge(a.Branch, mergeMessage(a.Branch, target))
	if err == nil {
		log.Info("merged cleanly", "branch", a.Branch, "files", a.FileCount)
		return nil
	}

	if !errors.Is(err, errors.ErrMergeConflict) {
		c.abortMerge(a.Branch)
		log.Warn("merge failed", "branch", a.Branch, "error", err)
		return &Failure{Branch: a.Branch, Reason: err.Error()}
	}

	conflicted, cErr := c.git.ConflictingFiles(c.repoRoot)
	if cErr != nil {
		c.abortMerge(a.Branch)
		return &Failure{Branch: a.Branch, Reason: fmt.Sprintf("listing conflicts: %v", cErr)}
	}
	log.Info("merge conflict", "branch", a.Branch, "conflicts", len(conflicted))

	if c.resolver == nil {
		c.abortMerge(a.Branch)
		return &Failure{
			Branch:    a.Branch,
			Reason:    "merge conflict (no resolver configured)",
			Conflicts: conflicted,
		}
	}

	if rErr := c.resolver.Resolve(ctx, a.Branch, conflicted); rErr != nil {
		c.abortMerge(a.Branch)
		log.Warn("conflict resolution failed", "branch", a.Branch, "error", rErr)
		return &Failure{Branch: a.Branch, Reason: rErr.Error(), Conflicts: conflicted}
	}

	// Verify the resolver actually left a conflict-free tree.
	remaining, vErr := c.git.ConflictingFiles(c.repoRoot)
	if vErr != nil {
		c.abortMerge(a.Branch)
		return &Failure{Branch: a.Branch, Reason: fmt.Sprintf("verifying resolution: %v", vErr)}
	}
	if len(remaining) > 0 {
		c.abortMerge(a.Branch)
		return &Failure{
			Branch:    a.Branch,
			Reason:    fmt.Sprintf("resolution left %d conflicts unresolved", len(remaining)),
			Conflicts: remaining,
		}
	}
	if c.git.IsMergeInProgress() {
		// Resolved but never committed.
		if err := c.git.CommitResolved(); err != nil {
			c.abortMerge(a.Branch)
			return &Failure{Branch: a.Branch, Reason: fmt.Sprintf("committing resolution: %v", err)}
		}
	}

	log.Info("merged after resolution", "branch", a.Branch)
	return nil
}

// abortMerge aborts the in-progress merge, if any. Abort failures are
// logged and the pass continues to the next branch.
func (c *Coordinator) abortMerge(branch string) {
	if !c.git.IsMergeInProgress() {
		return
	}
	if err := c.git.AbortMerge(); err != nil {
		c.log.Error("failed to abort merge", "branch", branch, "error", err)
	}
}

// deleteBranches removes merged branches concurrently. Failures are
// logged and the branches left for manual cleanup; they never fail the
// pass.
func (c *Coordinator) deleteBranches(branches []string) {
	p := pool.New().WithMaxGoroutines(c.maxConcurrency)
	for _, branch := range branches {
		p.Go(func() {
			if err := c.git.DeleteBranch(branch); err != nil {
				c.log.Warn("failed to delete merged branch", "branch", branch, "error", err)
			}
		})
	}
	p.Wait()
}

func mergeMessage(branch, target string) string {
	return fmt.Sprintf("Merge branch '%s' into %s", branch, target)
}
