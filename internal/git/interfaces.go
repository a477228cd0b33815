package git

// Inspector defines read-only repository queries.
// This interface abstracts git CLI operations, enabling mock implementations
// for testing without actual git repositories.
type Inspector interface {
	// IsRepository reports whether the directory is inside a git repository.
	IsRepository() bool

	// Root returns the absolute path of the repository's top-level directory.
	Root() (string, error)

	// CurrentBranch returns the checked-out branch name.
	// A detached HEAD is reported as "HEAD".
	CurrentBranch() (string, error)

	// HeadSHA returns the commit SHA at HEAD.
	HeadSHA() (string, error)

	// HasUncommittedChanges checks if a working tree has uncommitted changes.
	HasUncommittedChanges(dir string) (bool, error)
}

// BranchManager defines operations for managing git branches.
// All operations run against the repository the manager was created for.
type BranchManager interface {
	// Checkout switches the repository to an existing branch.
	Checkout(branch string) error

	// CreateOrResetBranch creates branch at base, resetting it if it
	// already exists (git checkout -B). Leaves the branch checked out.
	CreateOrResetBranch(branch, base string) error

	// DeleteBranch force-deletes a branch by name.
	DeleteBranch(branch string) error

	// BranchExists reports whether a local branch exists.
	BranchExists(branch string) bool

	// ListBranches returns local branch names matching a pattern
	// (e.g. "tutti/*").
	ListBranches(pattern string) ([]string, error)

	// FindDefaultBranch returns the name of the default branch (main or master).
	FindDefaultBranch() string
}

// WorktreeManager defines operations for managing git worktrees.
// Worktrees allow multiple working directories attached to a single
// repository, enabling parallel work on different branches.
type WorktreeManager interface {
	// AddWorktree creates a worktree at path on a new branch based off base.
	// The branch is created or reset atomically with the worktree (-B), so a
	// retry after a partial failure succeeds instead of colliding.
	AddWorktree(path, branch, base string) error

	// RemoveWorktree removes a worktree at the given path.
	RemoveWorktree(path string) error

	// PruneWorktrees removes stale administrative entries for worktrees
	// whose directories no longer exist.
	PruneWorktrees() error

	// ListWorktrees returns paths of all worktrees in the repository.
	ListWorktrees() ([]string, error)
}

// DiffProvider defines operations for retrieving file changes between refs.
type DiffProvider interface {
	// ChangedFiles returns the paths a branch touched since it diverged
	// from target. Uses three-dot syntax (target...branch) so commits
	// landed on target after divergence are not misattributed.
	ChangedFiles(target, branch string) ([]string, error)

	// CommitCount returns the number of commits on branch that are not
	// on target.
	CommitCount(target, branch string) (int, error)

	// ConflictingFiles returns files with unresolved merge conflicts in
	// the given working tree.
	ConflictingFiles(dir string) ([]string, error)
}

// MergeRunner defines merge operations against the repository's
// checked-out branch.
type MergeRunner interface {
	// Merge merges branch into the current branch with a merge commit
	// (--no-ff). A conflicted merge returns an error wrapping
	// ErrMergeConflict and leaves the conflict in place for resolution.
	Merge(branch, message string) error

	// AbortMerge aborts an in-progress merge, restoring the pre-merge state.
	AbortMerge() error

	// CommitResolved stages all changes and concludes an in-progress
	// merge with the default merge commit message.
	CommitResolved() error

	// IsMergeInProgress reports whether a merge is awaiting resolution.
	IsMergeInProgress() bool
}

// Stager defines staging and commit operations for a working tree.
type Stager interface {
	// AddPaths stages an exact set of paths, including deletions.
	AddPaths(dir string, paths []string) error

	// AddAll stages all changes in the working tree.
	AddAll(dir string) error

	// Commit records staged changes with the given message.
	// Returns nil if there is nothing to commit.
	Commit(dir, message string) error

	// HasStagedChanges reports whether anything is staged.
	HasStagedChanges(dir string) (bool, error)
}

// Repository combines all git operation interfaces into a single type.
// This composite interface is useful when a component needs access to
// multiple categories of git operations.
type Repository interface {
	Inspector
	BranchManager
	WorktreeManager
	DiffProvider
	MergeRunner
	Stager
}

// Ensure Client implements all interfaces at compile time.
var (
	_ Inspector       = (*Client)(nil)
	_ BranchManager   = (*Client)(nil)
	_ WorktreeManager = (*Client)(nil)
	_ DiffProvider    = (*Client)(nil)
	_ MergeRunner     = (*Client)(nil)
	_ Stager          = (*Client)(nil)
	_ Repository      = (*Client)(nil)
)
