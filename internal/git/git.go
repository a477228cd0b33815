// Package git wraps the git CLI operations tutti needs: branch and
// worktree management, change queries between refs, merging, and
// staging. All implementations shell out to git; the interfaces in
// interfaces.go allow mock implementations in tests.
package git

import (
	"os"
	"os/exec"
	"strconv"
	"strings"

	"github.com/Iron-Ham/tutti/internal/errors"
)

// -----------------------------------------------------------------------------
// Command Executor
// -----------------------------------------------------------------------------

// CommandExecutor abstracts command execution for testability.
// This allows tests to mock git commands without executing them.
type CommandExecutor interface {
	// Run executes a command and returns combined output.
	Run(dir string, name string, args ...string) ([]byte, error)

	// RunQuiet executes a command and returns only the error.
	RunQuiet(dir string, name string, args ...string) error
}

// CLICommandExecutor executes commands using os/exec.
type CLICommandExecutor struct{}

// NewCLICommandExecutor creates a new CLI command executor.
func NewCLICommandExecutor() *CLICommandExecutor {
	return &CLICommandExecutor{}
}

// Run executes a command and returns combined output.
func (e *CLICommandExecutor) Run(dir string, name string, args ...string) ([]byte, error) {
	cmd := exec.Command(name, args...)
	cmd.Dir = dir
	return cmd.CombinedOutput()
}

// RunQuiet executes a command and returns only the error.
func (e *CLICommandExecutor) RunQuiet(dir string, name string, args ...string) error {
	cmd := exec.Command(name, args...)
	cmd.Dir = dir
	return cmd.Run()
}

// -----------------------------------------------------------------------------
// Client
// -----------------------------------------------------------------------------

// Client implements all git operations against a single repository
// using CLI commands. Operations that take a dir argument run in that
// directory (a worktree or sandbox source repo); all others run in the
// repository the client was created for.
type Client struct {
	repoDir  string
	executor CommandExecutor
}

// NewClient creates a Client for the repository at repoDir.
func NewClient(repoDir string) *Client {
	return &Client{
		repoDir:  repoDir,
		executor: NewCLICommandExecutor(),
	}
}

// NewClientWithExecutor creates a Client with a custom executor.
// This is primarily useful for testing.
func NewClientWithExecutor(repoDir string, executor CommandExecutor) *Client {
	return &Client{
		repoDir:  repoDir,
		executor: executor,
	}
}

// RepoDir returns the repository directory the client operates on.
func (c *Client) RepoDir() string {
	return c.repoDir
}

// -----------------------------------------------------------------------------
// Inspector
// -----------------------------------------------------------------------------

// IsRepository reports whether repoDir is inside a git repository.
func (c *Client) IsRepository() bool {
	return c.executor.RunQuiet(c.repoDir, "git", "rev-parse", "--git-dir") == nil
}

// Root returns the absolute path of the repository's top-level directory.
func (c *Client) Root() (string, error) {
	output, err := c.executor.Run(c.repoDir, "git", "rev-parse", "--show-toplevel")
	if err != nil {
		return "", errors.NewGitError("failed to locate repository root", errors.ErrNotGitRepository).
			WithRepository(c.repoDir).
			WithGitOutput(string(output))
	}
	return strings.TrimSpace(string(output)), nil
}

// CurrentBranch returns the checked-out branch name.
// A detached HEAD is reported as "HEAD".
func (c *Client) CurrentBranch() (string, error) {
	output, err := c.executor.Run(c.repoDir, "git", "rev-parse", "--abbrev-ref", "HEAD")
	if err != nil {
		return "", errors.NewGitError("failed to get current branch", err).
			WithRepository(c.repoDir).
			WithGitOutput(string(output))
	}
	return strings.TrimSpace(string(output)), nil
}

// HeadSHA returns the commit SHA at HEAD.
func (c *Client) HeadSHA() (string, error) {
	output, err := c.executor.Run(c.repoDir, "git", "rev-parse", "HEAD")
	if err != nil {
		return "", errors.NewGitError("failed to get HEAD commit", err).
			WithRepository(c.repoDir).
			WithGitOutput(string(output))
	}
	return strings.TrimSpace(string(output)), nil
}

// HasUncommittedChanges checks if a working tree has uncommitted changes.
func (c *Client) HasUncommittedChanges(dir string) (bool, error) {
	output, err := c.executor.Run(dir, "git", "status", "--porcelain")
	if err != nil {
		return false, errors.NewGitError("failed to check git status", err).
			WithRepository(dir).
			WithGitOutput(string(output))
	}
	return len(strings.TrimSpace(string(output))) > 0, nil
}

// -----------------------------------------------------------------------------
// BranchManager
// -----------------------------------------------------------------------------

// Checkout switches the repository to an existing branch.
func (c *Client) Checkout(branch string) error {
	output, err := c.executor.Run(c.repoDir, "git", "checkout", branch)
	if err != nil {
		return errors.NewGitError("failed to checkout branch "+branch, err).
			WithRepository(c.repoDir).
			WithBranch(branch).
			WithGitOutput(string(output))
	}
	return nil
}

// CreateOrResetBranch creates branch at base, resetting it if it already
// exists, and leaves it checked out.
func (c *Client) CreateOrResetBranch(branch, base string) error {
	output, err := c.executor.Run(c.repoDir, "git", "checkout", "-B", branch, base)
	if err != nil {
		return errors.NewGitError("failed to create branch "+branch+" from "+base, err).
			WithRepository(c.repoDir).
			WithBranch(branch).
			WithGitOutput(string(output))
	}
	return nil
}

// DeleteBranch force-deletes a branch by name.
func (c *Client) DeleteBranch(branch string) error {
	output, err := c.executor.Run(c.repoDir, "git", "branch", "-D", branch)
	if err != nil {
		// Check if branch doesn't exist
		if strings.Contains(string(output), "not found") {
			return errors.NewGitError("branch not found", errors.ErrBranchNotFound).
				WithRepository(c.repoDir).
				WithBranch(branch).
				WithGitOutput(string(output))
		}
		return errors.NewGitError("failed to delete branch", err).
			WithRepository(c.repoDir).
			WithBranch(branch).
			WithGitOutput(string(output))
	}
	return nil
}

// BranchExists reports whether a local branch exists.
func (c *Client) BranchExists(branch string) bool {
	return c.executor.RunQuiet(c.repoDir, "git", "rev-parse", "--verify", "--quiet", "refs/heads/"+branch) == nil
}

// ListBranches returns local branch names matching a pattern.
func (c *Client) ListBranches(pattern string) ([]string, error) {
	output, err := c.executor.Run(c.repoDir, "git", "branch", "--list", pattern, "--format=%(refname:short)")
	if err != nil {
		return nil, errors.NewGitError("failed to list branches", err).
			WithRepository(c.repoDir).
			WithGitOutput(string(output))
	}

	lines := strings.TrimSpace(string(output))
	if lines == "" {
		return []string{}, nil
	}

	return strings.Split(lines, "\n"), nil
}

// FindDefaultBranch returns the name of the default branch (main or master).
func (c *Client) FindDefaultBranch() string {
	// Check if 'main' exists
	err := c.executor.RunQuiet(c.repoDir, "git", "rev-parse", "--verify", "main")
	if err == nil {
		return "main"
	}
	return "master"
}

// -----------------------------------------------------------------------------
// WorktreeManager
// -----------------------------------------------------------------------------

// AddWorktree creates a worktree at path on branch based off base.
// Uses -B so a leftover branch from a failed earlier attempt is reset
// rather than causing the add to fail.
func (c *Client) AddWorktree(path, branch, base string) error {
	output, err := c.executor.Run(c.repoDir, "git", "worktree", "add", "-B", branch, path, base)
	if err != nil {
		return errors.NewGitError("failed to create worktree", err).
			WithRepository(c.repoDir).
			WithWorktree(path).
			WithBranch(branch).
			WithGitOutput(string(output))
	}
	return nil
}

// RemoveWorktree removes a worktree at the given path.
func (c *Client) RemoveWorktree(path string) error {
	output, err := c.executor.Run(c.repoDir, "git", "worktree", "remove", "--force", path)
	if err != nil {
		// Try to clean up manually
		_ = os.RemoveAll(path)

		// Prune worktree references
		_, _ = c.executor.Run(c.repoDir, "git", "worktree", "prune")

		return errors.NewGitError("failed to remove worktree cleanly", err).
			WithRepository(c.repoDir).
			WithWorktree(path).
			WithGitOutput(string(output))
	}
	return nil
}

// PruneWorktrees removes stale administrative entries for worktrees
// whose directories no longer exist.
func (c *Client) PruneWorktrees() error {
	output, err := c.executor.Run(c.repoDir, "git", "worktree", "prune")
	if err != nil {
		return errors.NewGitError("failed to prune worktrees", err).
			WithRepository(c.repoDir).
			WithGitOutput(string(output))
	}
	return nil
}

// ListWorktrees returns paths of all worktrees in the repository.
func (c *Client) ListWorktrees() ([]string, error) {
	output, err := c.executor.Run(c.repoDir, "git", "worktree", "list", "--porcelain")
	if err != nil {
		return nil, errors.NewGitError("failed to list worktrees", err).
			WithRepository(c.repoDir).
			WithGitOutput(string(output))
	}

	var worktrees []string
	for _, line := range strings.Split(string(output), "\n") {
		if strings.HasPrefix(line, "worktree ") {
			path := strings.TrimPrefix(line, "worktree ")
			worktrees = append(worktrees, path)
		}
	}

	return worktrees, nil
}

// -----------------------------------------------------------------------------
// DiffProvider
// -----------------------------------------------------------------------------

// ChangedFiles returns the paths a branch touched since it diverged from
// target. Uses three-dot syntax so commits landed on target after
// divergence are not counted against the branch.
func (c *Client) ChangedFiles(target, branch string) ([]string, error) {
	output, err := c.executor.Run(c.repoDir, "git", "diff", "--name-only", target+"..."+branch)
	if err != nil {
		return nil, errors.NewGitError("failed to get changed files", err).
			WithRepository(c.repoDir).
			WithBranch(branch).
			WithGitOutput(string(output))
	}

	lines := strings.TrimSpace(string(output))
	if lines == "" {
		return []string{}, nil
	}

	return strings.Split(lines, "\n"), nil
}

// CommitCount returns the number of commits on branch that are not on target.
func (c *Client) CommitCount(target, branch string) (int, error) {
	output, err := c.executor.Run(c.repoDir, "git", "rev-list", "--count", target+".."+branch)
	if err != nil {
		return 0, errors.NewGitError("failed to count commits", err).
			WithRepository(c.repoDir).
			WithBranch(branch).
			WithGitOutput(string(output))
	}

	count, err := strconv.Atoi(strings.TrimSpace(string(output)))
	if err != nil {
		return 0, errors.NewGitError("failed to parse commit count", err).
			WithRepository(c.repoDir).
			WithBranch(branch)
	}

	return count, nil
}

// ConflictingFiles returns files with unresolved merge conflicts in the
// given working tree.
func (c *Client) ConflictingFiles(dir string) ([]string, error) {
	output, err := c.executor.Run(dir, "git", "diff", "--name-only", "--diff-filter=U")
	if err != nil {
		return nil, errors.NewGitError("failed to get conflicting files", err).
			WithRepository(dir).
			WithGitOutput(string(output))
	}

	lines := strings.TrimSpace(string(output))
	if lines == "" {
		return []string{}, nil
	}

	return strings.Split(lines, "\n"), nil
}

// -----------------------------------------------------------------------------
// MergeRunner
// -----------------------------------------------------------------------------

// Merge merges branch into the current branch with a merge commit.
// A conflicted merge returns an error wrapping ErrMergeConflict and
// leaves the conflict in place so a resolver can inspect it.
func (c *Client) Merge(branch, message string) error {
	output, err := c.executor.Run(c.repoDir, "git", "merge", "--no-ff", branch, "-m", message)
	if err != nil {
		outputStr := string(output)
		if strings.Contains(outputStr, "CONFLICT") || strings.Contains(outputStr, "Automatic merge failed") {
			return errors.NewGitError("merge conflicts detected", errors.ErrMergeConflict).
				WithRepository(c.repoDir).
				WithBranch(branch).
				WithGitOutput(outputStr)
		}
		return errors.NewGitError("failed to merge branch "+branch, err).
			WithRepository(c.repoDir).
			WithBranch(branch).
			WithGitOutput(outputStr)
	}
	return nil
}

// AbortMerge aborts an in-progress merge, restoring the pre-merge state.
func (c *Client) AbortMerge() error {
	output, err := c.executor.Run(c.repoDir, "git", "merge", "--abort")
	if err != nil {
		return errors.NewGitError("failed to abort merge", err).
			WithRepository(c.repoDir).
			WithGitOutput(string(output))
	}
	return nil
}

// CommitResolved stages all changes and concludes an in-progress merge
// with the default merge commit message.
func (c *Client) CommitResolved() error {
	output, err := c.executor.Run(c.repoDir, "git", "add", "-A")
	if err != nil {
		return errors.NewGitError("failed to stage resolved files", err).
			WithRepository(c.repoDir).
			WithGitOutput(string(output))
	}

	output, err = c.executor.Run(c.repoDir, "git", "commit", "--no-edit")
	if err != nil {
		return errors.NewGitError("failed to commit resolved merge", err).
			WithRepository(c.repoDir).
			WithGitOutput(string(output))
	}

	return nil
}

// IsMergeInProgress reports whether a merge is awaiting resolution.
func (c *Client) IsMergeInProgress() bool {
	return c.executor.RunQuiet(c.repoDir, "git", "rev-parse", "--verify", "--quiet", "MERGE_HEAD") == nil
}

// -----------------------------------------------------------------------------
// Stager
// -----------------------------------------------------------------------------

// AddPaths stages an exact set of paths, including deletions.
// A nil or empty set is a no-op.
func (c *Client) AddPaths(dir string, paths []string) error {
	if len(paths) == 0 {
		return nil
	}

	args := append([]string{"add", "--"}, paths...)
	output, err := c.executor.Run(dir, "git", args...)
	if err != nil {
		return errors.NewGitError("failed to stage paths", err).
			WithRepository(dir).
			WithGitOutput(string(output))
	}
	return nil
}

// AddAll stages all changes in the working tree.
func (c *Client) AddAll(dir string) error {
	output, err := c.executor.Run(dir, "git", "add", "-A")
	if err != nil {
		return errors.NewGitError("failed to stage changes", err).
			WithRepository(dir).
			WithGitOutput(string(output))
	}
	return nil
}

// Commit records staged changes with the given message.
// Returns nil if there is nothing to commit.
func (c *Client) Commit(dir, message string) error {
	output, err := c.executor.Run(dir, "git", "commit", "-m", message)
	if err != nil {
		// Check if there's nothing to commit
		if strings.Contains(string(output), "nothing to commit") {
			return nil
		}
		return errors.NewGitError("failed to commit changes", err).
			WithRepository(dir).
			WithGitOutput(string(output))
	}
	return nil
}

// HasStagedChanges reports whether anything is staged.
func (c *Client) HasStagedChanges(dir string) (bool, error) {
	output, err := c.executor.Run(dir, "git", "diff", "--cached", "--name-only")
	if err != nil {
		return false, errors.NewGitError("failed to check staged changes", err).
			WithRepository(dir).
			WithGitOutput(string(output))
	}
	return len(strings.TrimSpace(string(output))) > 0, nil
}
