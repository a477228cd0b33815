package capture

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/Iron-Ham/tutti/internal/errors"
	"github.com/Iron-Ham/tutti/internal/logging"
	"github.com/Iron-Ham/tutti/internal/workspace"
)

// CommitGit is the subset of git operations a sandbox commit needs.
// *git.Client satisfies it.
type CommitGit interface {
	CurrentBranch() (string, error)
	CreateOrResetBranch(branch, base string) error
	Checkout(branch string) error
	AddPaths(dir string, paths []string) error
	Commit(dir, message string) error
}

// CommitRequest carries one sandbox's captured changes into the real
// repository.
type CommitRequest struct {
	// SandboxDir is the sandbox the files come from.
	SandboxDir string

	// OriginalDir is the real repository's working tree.
	OriginalDir string

	// Files are the modified paths relative to SandboxDir, as returned
	// by Detector.ModifiedFiles.
	Files []string

	// Branch is the branch to commit to, created or reset from BaseBranch.
	Branch string

	// BaseBranch seeds the capture branch.
	BaseBranch string

	// TaskTitle and AgentNumber identify the work in the commit message.
	TaskTitle   string
	AgentNumber int
}

// Committer serializes sandbox commits into the one real repository.
// Concurrent sandbox agents share a single .git through their symlinks,
// and interleaved index or HEAD mutation would corrupt it, so every
// request passes through a strict first-come-first-served critical
// section. One Committer must be shared by all workers of a run.
type Committer struct {
	git  CommitGit
	lock fifoLock
	log  *logging.Logger
}

// NewCommitter creates a committer for the repository behind g.
func NewCommitter(g CommitGit, log *logging.Logger) *Committer {
	if log == nil {
		log = logging.NopLogger()
	}
	return &Committer{git: g, log: log}
}

// Commit copies the modified files over the original tree, stages
// exactly that set, and commits it on req.Branch. The previously
// checked-out branch is restored before returning. On any failure
// inside the critical section the repository is steered back to
// req.BaseBranch and the partially created branch is left in place for
// inspection.
//
// Only the copy, stage, and commit happen under the lock. Detection and
// sandbox provisioning stay outside it, so the serialized window is as
// short as the design allows.
func (c *Committer) Commit(ctx context.Context, req CommitRequest) error {
	if len(req.Files) == 0 {
		return errors.NewCaptureError("no modified files", errors.ErrInvalidInput).
			WithSandbox(req.SandboxDir)
	}

	if err := c.lock.Acquire(ctx); err != nil {
		return errors.NewCaptureError("waiting for commit lock", err).
			WithSandbox(req.SandboxDir)
	}
	defer c.lock.Release()

	previous, err := c.git.CurrentBranch()
	if err != nil {
		return errors.NewCaptureError("reading current branch", err).
			WithSandbox(req.SandboxDir)
	}

	if err := c.git.CreateOrResetBranch(req.Branch, req.BaseBranch); err != nil {
		return c.fail(req, "creating capture branch", err)
	}

	for _, rel := range req.Files {
		src := filepath.Join(req.SandboxDir, rel)
		dst := filepath.Join(req.OriginalDir, rel)
		if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
			return c.fail(req, "creating parent directory", err)
		}
		if err := workspace.CopyFile(src, dst); err != nil {
			return c.fail(req, fmt.Sprintf("copying %s", rel), err)
		}
	}

	// Exactly the modified set. A blanket stage-all could pick up
	// unrelated changes sitting in the shared tree.
	if err := c.git.AddPaths(req.OriginalDir, req.Files); err != nil {
		return c.fail(req, "staging modified files", err)
	}

	message := fmt.Sprintf("%s (agent %d)", req.TaskTitle, req.AgentNumber)
	if err := c.git.Commit(req.OriginalDir, message); err != nil {
		return c.fail(req, "committing", err)
	}

	if err := c.git.Checkout(previous); err != nil {
		return c.fail(req, "restoring previous branch", err)
	}

	c.log.Info("sandbox changes committed",
		"branch", req.Branch, "files", len(req.Files), "agent", req.AgentNumber)
	return nil
}

// fail steers the repository back to the base branch and wraps the
// cause. The partially created branch is never deleted; it may hold the
// only copy of the agent's work.
func (c *Committer) fail(req CommitRequest, stage string, cause error) error {
	if err := c.git.Checkout(req.BaseBranch); err != nil {
		c.log.Error("recovery checkout failed", "base", req.BaseBranch, "error", err)
	}
	return errors.NewCaptureError(stage, cause).
		WithSandbox(req.SandboxDir).WithBranch(req.Branch).WithPreserved(true)
}
