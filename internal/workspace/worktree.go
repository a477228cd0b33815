package workspace

import (
	"os"
	"path/filepath"

	"github.com/Iron-Ham/tutti/internal/config"
	"github.com/Iron-Ham/tutti/internal/errors"
	"github.com/Iron-Ham/tutti/internal/git"
	"github.com/Iron-Ham/tutti/internal/logging"
)

// WorktreeGit is the subset of git operations worktree provisioning needs.
// *git.Client satisfies it.
type WorktreeGit interface {
	git.WorktreeManager
	git.Inspector
}

// WorktreeManager provisions and cleans up git worktree workspaces under
// a single root directory.
type WorktreeManager struct {
	git     WorktreeGit
	rootDir string
	prefix  string
	newID   func() string
	log     *logging.Logger
}

// NewWorktreeManager creates a manager that places worktrees under
// rootDir and names branches under the given prefix.
func NewWorktreeManager(g WorktreeGit, rootDir, branchPrefix string, log *logging.Logger) *WorktreeManager {
	if log == nil {
		log = logging.NopLogger()
	}
	return &WorktreeManager{
		git:     g,
		rootDir: rootDir,
		prefix:  branchPrefix,
		newID:   UniqueID,
		log:     log,
	}
}

// Create provisions a worktree workspace for one task attempt, seeded
// from baseBranch. The branch is created or reset atomically with the
// worktree, so a name left over from a crashed run cannot make a retry
// fail or race a concurrent create.
func (m *WorktreeManager) Create(title string, agentNumber int, baseBranch string) (*Workspace, error) {
	id := m.newID()
	branch := BranchName(m.prefix, agentNumber, id, title)
	path := filepath.Join(m.rootDir, DirName(agentNumber, id, title))

	if err := os.MkdirAll(m.rootDir, 0o755); err != nil {
		return nil, errors.NewWorkspaceError("creating worktree root", err).
			WithPath(m.rootDir).WithMode(config.ModeWorktree)
	}

	// Stale administrative entries from a crashed prior run can block the
	// add. Prune failures are logged, not fatal: if git is actually broken
	// the add below reports it.
	if err := m.git.PruneWorktrees(); err != nil {
		m.log.Warn("worktree prune failed", "error", err)
	}

	if _, err := os.Stat(path); err == nil {
		m.log.Warn("removing leftover workspace directory", "path", path)
		if err := os.RemoveAll(path); err != nil {
			return nil, errors.NewWorkspaceError("removing leftover directory", err).
				WithPath(path).WithMode(config.ModeWorktree)
		}
		if err := m.git.PruneWorktrees(); err != nil {
			m.log.Warn("worktree prune failed", "error", err)
		}
	}

	if err := m.git.AddWorktree(path, branch, baseBranch); err != nil {
		return nil, errors.NewWorkspaceError("adding worktree", err).
			WithPath(path).WithBranch(branch).WithMode(config.ModeWorktree)
	}

	m.log.Debug("worktree created", "path", path, "branch", branch, "base", baseBranch)

	return &Workspace{
		Path:        path,
		Branch:      branch,
		AgentNumber: agentNumber,
		Mode:        config.ModeWorktree,
	}, nil
}

// Cleanup removes a worktree workspace unless it still holds uncommitted
// changes, in which case it is left in place for manual inspection and
// preserved reports true. The branch is never deleted here; it may carry
// commits the merge phase needs.
func (m *WorktreeManager) Cleanup(ws *Workspace) (preserved bool, err error) {
	dirty, err := m.git.HasUncommittedChanges(ws.Path)
	if err != nil {
		return false, errors.NewWorkspaceError("inspecting worktree", err).
			WithPath(ws.Path).WithBranch(ws.Branch).WithMode(config.ModeWorktree)
	}
	if dirty {
		m.log.Warn("worktree left in place", "path", ws.Path, "reason", "uncommitted changes")
		return true, nil
	}

	if err := m.git.RemoveWorktree(ws.Path); err != nil {
		return false, errors.NewWorkspaceError("removing worktree", err).
			WithPath(ws.Path).WithBranch(ws.Branch).WithMode(config.ModeWorktree)
	}

	m.log.Debug("worktree removed", "path", ws.Path, "branch", ws.Branch)
	return false, nil
}
