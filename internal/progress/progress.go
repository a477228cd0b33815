// Package progress maintains the run's human-readable progress file.
//
// The file is one of the boundary paths named in every agent prompt:
// agents must never write it, only the engine appends to it. One line
// per event, timestamped, append-only.
package progress

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/Iron-Ham/tutti/internal/backlog"
	"github.com/Iron-Ham/tutti/internal/util"
)

const (
	fileMode = 0o644
	dirMode  = 0o755

	// reasonLimit bounds how much failure text one line carries.
	reasonLimit = 300
)

// Logger appends task outcomes to a progress file. A nil *Logger
// discards everything, so callers can leave it unwired for dry runs.
type Logger struct {
	path string
	mu   sync.Mutex
	now  func() time.Time
}

// NewLogger creates a logger appending to path. The file and its
// parent directory are created on first append.
func NewLogger(path string) *Logger {
	return &Logger{path: path, now: time.Now}
}

// Path returns the file the logger appends to.
func (l *Logger) Path() string {
	if l == nil {
		return ""
	}
	return l.path
}

// RunStarted records the beginning of a run.
func (l *Logger) RunStarted(taskCount int, mode string) error {
	return l.append(fmt.Sprintf("run started: %d tasks, %s mode", taskCount, mode))
}

// TaskCompleted records a task that finished, and the branch holding
// its work when one was produced.
func (l *Logger) TaskCompleted(task backlog.Task, branch string) error {
	line := fmt.Sprintf("completed: %s", task.Title)
	if branch != "" {
		line += fmt.Sprintf(" [%s]", branch)
	}
	return l.append(line)
}

// TaskFailed records a task that did not complete, with a bounded
// single-line reason.
func (l *Logger) TaskFailed(task backlog.Task, reason string) error {
	reason = singleLine(reason)
	if reason == "" {
		reason = "unknown failure"
	}
	return l.append(fmt.Sprintf("failed: %s: %s", task.Title, util.TruncateString(reason, reasonLimit)))
}

// RunFinished records the run's aggregate outcome.
func (l *Logger) RunFinished(completed, failed int, duration time.Duration) error {
	return l.append(fmt.Sprintf("run finished: %d completed, %d failed in %s",
		completed, failed, duration.Round(time.Second)))
}

func (l *Logger) append(event string) error {
	if l == nil {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now
	if now == nil {
		now = time.Now
	}
	line := fmt.Sprintf("- %s %s\n", now().UTC().Format(time.RFC3339), event)

	if err := os.MkdirAll(filepath.Dir(l.path), dirMode); err != nil {
		return fmt.Errorf("creating progress directory: %w", err)
	}
	f, err := os.OpenFile(l.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, fileMode)
	if err != nil {
		return fmt.Errorf("opening progress file %s: %w", l.path, err)
	}
	if _, err := f.WriteString(line); err != nil {
		_ = f.Close()
		return fmt.Errorf("writing progress file %s: %w", l.path, err)
	}
	return f.Close()
}

// singleLine collapses newlines so one event stays one line.
func singleLine(s string) string {
	s = strings.ReplaceAll(s, "\r\n", " ")
	s = strings.ReplaceAll(s, "\n", " ")
	return strings.TrimSpace(s)
}
