package workspace

import (
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/Iron-Ham/tutti/internal/config"
	"github.com/Iron-Ham/tutti/internal/errors"
	"github.com/Iron-Ham/tutti/internal/logging"
)

// SandboxStats reports what a sandbox build did. Diagnostics only.
type SandboxStats struct {
	// Symlinks is the number of symbolic links created, both for
	// symlink-set entries and for re-created source links.
	Symlinks int

	// Copied is the number of files and directories copied.
	Copied int
}

// SandboxManager builds sandbox workspaces from a source tree. Entries
// named in symlinkDirs (version-control metadata, package caches, vendor
// trees) are symlinked instead of copied, so provisioning cost does not
// scale with dependency-tree size.
type SandboxManager struct {
	originalDir string
	rootDir     string
	prefix      string
	symlinkDirs []string
	skipPaths   []string
	newID       func() string
	log         *logging.Logger
}

// NewSandboxManager creates a manager that copies originalDir into
// sandboxes under rootDir. branchPrefix names the branch change capture
// will later commit to. skipPaths lists additional absolute paths to
// exclude from the walk, such as a worktree root configured inside the
// repository.
func NewSandboxManager(originalDir, rootDir, branchPrefix string, symlinkDirs, skipPaths []string, log *logging.Logger) *SandboxManager {
	if log == nil {
		log = logging.NopLogger()
	}
	return &SandboxManager{
		originalDir: originalDir,
		rootDir:     rootDir,
		prefix:      branchPrefix,
		symlinkDirs: symlinkDirs,
		skipPaths:   skipPaths,
		newID:       UniqueID,
		log:         log,
	}
}

// Create builds a sandbox workspace for one task attempt. The returned
// workspace carries the branch name change capture will commit to; the
// branch itself does not exist until then.
func (m *SandboxManager) Create(title string, agentNumber int) (*Workspace, SandboxStats, error) {
	id := m.newID()
	path := filepath.Join(m.rootDir, DirName(agentNumber, id, title))

	stats, err := m.Build(path)
	if err != nil {
		return nil, SandboxStats{}, err
	}

	m.log.Debug("sandbox created", "path", path, "symlinks", stats.Symlinks, "copied", stats.Copied)

	return &Workspace{
		Path:        path,
		Branch:      BranchName(m.prefix, agentNumber, id, title),
		AgentNumber: agentNumber,
		Mode:        config.ModeSandbox,
	}, stats, nil
}

// Build materializes the sandbox tree at sandboxDir, replacing anything
// already there. Copies preserve modification times so change capture
// can later diff by timestamp and size. A failure mid-walk removes the
// partially built sandbox before the error is returned.
func (m *SandboxManager) Build(sandboxDir string) (SandboxStats, error) {
	if err := os.RemoveAll(sandboxDir); err != nil {
		return SandboxStats{}, errors.NewWorkspaceError("clearing sandbox directory", err).
			WithPath(sandboxDir).WithMode(config.ModeSandbox)
	}
	if err := os.MkdirAll(sandboxDir, 0o755); err != nil {
		return SandboxStats{}, errors.NewWorkspaceError("creating sandbox directory", err).
			WithPath(sandboxDir).WithMode(config.ModeSandbox)
	}

	var stats SandboxStats
	if err := m.populate(sandboxDir, &stats); err != nil {
		if rmErr := os.RemoveAll(sandboxDir); rmErr != nil {
			m.log.Warn("removing partial sandbox failed", "path", sandboxDir, "error", rmErr)
		}
		return SandboxStats{}, errors.NewWorkspaceError("building sandbox", err).
			WithPath(sandboxDir).WithMode(config.ModeSandbox)
	}

	return stats, nil
}

// Remove deletes a sandbox directory. Callers preserve a sandbox whose
// changes were never committed by not calling Remove.
func (m *SandboxManager) Remove(ws *Workspace) error {
	if err := os.RemoveAll(ws.Path); err != nil {
		return errors.NewWorkspaceError("removing sandbox", err).
			WithPath(ws.Path).WithMode(config.ModeSandbox)
	}
	m.log.Debug("sandbox removed", "path", ws.Path)
	return nil
}

func (m *SandboxManager) populate(sandboxDir string, stats *SandboxStats) error {
	entries, err := os.ReadDir(m.originalDir)
	if err != nil {
		return err
	}

	for _, entry := range entries {
		src := filepath.Join(m.originalDir, entry.Name())
		dst := filepath.Join(sandboxDir, entry.Name())

		if m.skipEntry(entry.Name(), src, sandboxDir) {
			continue
		}

		if slices.Contains(m.symlinkDirs, entry.Name()) {
			if err := os.Symlink(src, dst); err != nil {
				// Some filesystems refuse symlinks; fall back to copying.
				m.log.Warn("symlink refused, copying instead", "entry", entry.Name(), "error", err)
				if err := m.copyEntry(src, dst, entry, stats); err != nil {
					return err
				}
				continue
			}
			stats.Symlinks++
			continue
		}

		if err := m.copyEntry(src, dst, entry, stats); err != nil {
			return err
		}
	}

	return nil
}

// skipEntry reports whether a top-level source entry is excluded from
// the walk. Run state is not part of the tree being isolated, and
// descending into the sandbox root while building it would recurse.
func (m *SandboxManager) skipEntry(name, src, sandboxDir string) bool {
	if name == config.StateDirName {
		return true
	}
	if isAncestor(src, sandboxDir) || isAncestor(src, m.rootDir) {
		return true
	}
	for _, p := range m.skipPaths {
		if p != "" && isAncestor(src, p) {
			return true
		}
	}
	return false
}

// copyEntry replicates one directory entry into the sandbox. Source
// symlinks are re-created with their original target only if that target
// still resolves; broken links are skipped so the sandbox never
// propagates them.
func (m *SandboxManager) copyEntry(src, dst string, entry os.DirEntry, stats *SandboxStats) error {
	info, err := entry.Info()
	if err != nil {
		return err
	}

	switch {
	case info.Mode()&os.ModeSymlink != 0:
		target, err := os.Readlink(src)
		if err != nil {
			return err
		}
		resolved := target
		if !filepath.IsAbs(resolved) {
			resolved = filepath.Join(filepath.Dir(src), target)
		}
		if _, err := os.Stat(resolved); err != nil {
			m.log.Debug("skipping broken symlink", "path", src, "target", target)
			return nil
		}
		if err := os.Symlink(target, dst); err != nil {
			return err
		}
		stats.Symlinks++
		return nil

	case info.IsDir():
		if err := os.MkdirAll(dst, 0o755); err != nil {
			return err
		}
		if err := os.Chmod(dst, info.Mode().Perm()); err != nil {
			return err
		}
		children, err := os.ReadDir(src)
		if err != nil {
			return err
		}
		for _, child := range children {
			childSrc := filepath.Join(src, child.Name())
			childDst := filepath.Join(dst, child.Name())
			if err := m.copyEntry(childSrc, childDst, child, stats); err != nil {
				return err
			}
		}
		// Writing children bumps the directory mtime, so it is restored
		// after they are in place.
		if err := os.Chtimes(dst, info.ModTime(), info.ModTime()); err != nil {
			return err
		}
		stats.Copied++
		return nil

	default:
		if !info.Mode().IsRegular() {
			m.log.Debug("skipping irregular file", "path", src)
			return nil
		}
		if err := CopyFile(src, dst); err != nil {
			return err
		}
		if err := os.Chtimes(dst, info.ModTime(), info.ModTime()); err != nil {
			return err
		}
		stats.Copied++
		return nil
	}
}

// isAncestor reports whether dir is path itself or one of its ancestors.
func isAncestor(dir, path string) bool {
	if dir == "" || path == "" {
		return false
	}
	rel, err := filepath.Rel(dir, path)
	if err != nil {
		return false
	}
	return rel == "." || (rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)))
}
