package capture

import (
	"io/fs"
	"os"
	"path/filepath"
	"slices"

	"github.com/Iron-Ham/tutti/internal/errors"
	"github.com/Iron-Ham/tutti/internal/logging"
)

// Detector finds files an agent modified in a sandbox by comparing
// modification time and byte size against the original tree.
//
// This is a heuristic, not a content hash: a file rewritten with
// identical size and an identical timestamp goes undetected. Hashing
// every file on every task completion is too expensive for large trees,
// and tools that preserve both metrics on a real change are vanishingly
// rare.
type Detector struct {
	symlinkDirs []string
	log         *logging.Logger
}

// NewDetector creates a detector that ignores the given top-level
// symlink-set directory names.
func NewDetector(symlinkDirs []string, log *logging.Logger) *Detector {
	if log == nil {
		log = logging.NopLogger()
	}
	return &Detector{symlinkDirs: symlinkDirs, log: log}
}

// ModifiedFiles walks the sandbox tree and returns the paths, relative
// to sandboxDir, of every regular file that does not exist in
// originalDir or differs from it in size or modification time. Symlinked
// entries and top-level symlink-set directories are skipped; they are
// shared with the original tree, not copies of it.
func (d *Detector) ModifiedFiles(sandboxDir, originalDir string) ([]string, error) {
	var modified []string

	err := filepath.WalkDir(sandboxDir, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if path == sandboxDir {
			return nil
		}

		rel, err := filepath.Rel(sandboxDir, path)
		if err != nil {
			return err
		}

		// WalkDir does not follow symlinks, so skipping the entry skips
		// the whole linked tree.
		if entry.Type()&fs.ModeSymlink != 0 {
			return nil
		}

		if entry.IsDir() {
			// A symlink-set directory that was copied because the OS
			// refused symlinks is still shared-tree content.
			if filepath.Dir(path) == sandboxDir && slices.Contains(d.symlinkDirs, entry.Name()) {
				return filepath.SkipDir
			}
			return nil
		}

		if !entry.Type().IsRegular() {
			return nil
		}

		info, err := entry.Info()
		if err != nil {
			return err
		}

		origInfo, err := os.Stat(filepath.Join(originalDir, rel))
		switch {
		case os.IsNotExist(err):
			modified = append(modified, rel)
		case err != nil:
			return err
		case info.Size() != origInfo.Size() || !info.ModTime().Equal(origInfo.ModTime()):
			modified = append(modified, rel)
		}
		return nil
	})
	if err != nil {
		return nil, errors.NewCaptureError("detecting modified files", err).WithSandbox(sandboxDir)
	}

	d.log.Debug("change detection complete", "sandbox", sandboxDir, "modified", len(modified))
	return modified, nil
}
