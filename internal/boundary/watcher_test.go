package boundary

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/fsnotify/fsnotify"
)

func newTestWatcher(t *testing.T, paths ...string) *Watcher {
	t.Helper()
	w, err := NewWatcher(paths, nil)
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	if err := w.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(w.Stop)
	return w
}

// waitForWarnings polls until at least n warnings have been recorded.
func waitForWarnings(t *testing.T, w *Watcher, n int) []Warning {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if ws := w.Warnings(); len(ws) >= n {
			return ws
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d warnings, have %v", n, w.Warnings())
	return nil
}

func TestWatcher_WarnsOnOutsideWrite(t *testing.T) {
	dir := t.TempDir()
	backlog := filepath.Join(dir, "BACKLOG.md")
	if err := os.WriteFile(backlog, []byte("- [ ] Task\n"), 0o644); err != nil {
		t.Fatalf("seeding backlog: %v", err)
	}

	w := newTestWatcher(t, backlog)

	if err := os.WriteFile(backlog, []byte("- [ ] Edited\n"), 0o644); err != nil {
		t.Fatalf("writing backlog: %v", err)
	}

	warnings := waitForWarnings(t, w, 1)
	if warnings[0].Path != backlog {
		t.Errorf("warning path = %q, want %q", warnings[0].Path, backlog)
	}
	if warnings[0].Op == "" {
		t.Error("warning has no operation")
	}
	if warnings[0].At.IsZero() {
		t.Error("warning has no timestamp")
	}
}

func TestWatcher_SelfWritesAreNotWarnedAbout(t *testing.T) {
	dir := t.TempDir()
	progress := filepath.Join(dir, "PROGRESS.md")

	w := newTestWatcher(t, progress)

	w.SelfWrite(progress)
	if err := os.WriteFile(progress, []byte("- done\n"), 0o644); err != nil {
		t.Fatalf("writing progress: %v", err)
	}

	time.Sleep(300 * time.Millisecond)
	if ws := w.Warnings(); len(ws) != 0 {
		t.Errorf("warnings = %v, want none for a core write", ws)
	}
}

func TestWatcher_SelfWriteWindowExpires(t *testing.T) {
	dir := t.TempDir()
	backlog := filepath.Join(dir, "BACKLOG.md")

	w, err := NewWatcher([]string{backlog}, nil)
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	w.window = 50 * time.Millisecond
	if err := w.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(w.Stop)

	w.SelfWrite(backlog)
	time.Sleep(100 * time.Millisecond)

	if err := os.WriteFile(backlog, []byte("late\n"), 0o644); err != nil {
		t.Fatalf("writing backlog: %v", err)
	}
	waitForWarnings(t, w, 1)
}

func TestWatcher_IgnoresUntrackedSiblings(t *testing.T) {
	dir := t.TempDir()
	backlog := filepath.Join(dir, "BACKLOG.md")

	w := newTestWatcher(t, backlog)

	other := filepath.Join(dir, "README.md")
	if err := os.WriteFile(other, []byte("hello\n"), 0o644); err != nil {
		t.Fatalf("writing sibling: %v", err)
	}

	time.Sleep(300 * time.Millisecond)
	if ws := w.Warnings(); len(ws) != 0 {
		t.Errorf("warnings = %v, want none for untracked files", ws)
	}
}

func TestWatcher_SeesReplaceByRename(t *testing.T) {
	dir := t.TempDir()
	backlog := filepath.Join(dir, "BACKLOG.md")
	if err := os.WriteFile(backlog, []byte("original\n"), 0o644); err != nil {
		t.Fatalf("seeding backlog: %v", err)
	}

	w := newTestWatcher(t, backlog)

	tmp := filepath.Join(dir, "BACKLOG.md.tmp")
	if err := os.WriteFile(tmp, []byte("replaced\n"), 0o644); err != nil {
		t.Fatalf("writing temp file: %v", err)
	}
	if err := os.Rename(tmp, backlog); err != nil {
		t.Fatalf("renaming over backlog: %v", err)
	}

	warnings := waitForWarnings(t, w, 1)
	if warnings[0].Path != backlog {
		t.Errorf("warning path = %q, want %q", warnings[0].Path, backlog)
	}
}

func TestWatcher_WarnsOnLateFileCreation(t *testing.T) {
	dir := t.TempDir()
	progress := filepath.Join(dir, "PROGRESS.md")

	// The progress file does not exist when watching begins.
	w := newTestWatcher(t, progress)

	if err := os.WriteFile(progress, []byte("- started\n"), 0o644); err != nil {
		t.Fatalf("creating progress file: %v", err)
	}
	waitForWarnings(t, w, 1)
}

func TestWatcher_StopIsIdempotent(t *testing.T) {
	dir := t.TempDir()
	w, err := NewWatcher([]string{filepath.Join(dir, "BACKLOG.md")}, nil)
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	if err := w.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	time.Sleep(10 * time.Millisecond)

	w.Stop()
	w.Stop()
	w.Stop()
}

func TestWatcher_StopWithoutStart(t *testing.T) {
	w, err := NewWatcher([]string{"BACKLOG.md"}, nil)
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	w.Stop()
}

func TestWatcher_StartFailsOnMissingDirectory(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "absent", "BACKLOG.md")
	w, err := NewWatcher([]string{missing}, nil)
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	defer w.Stop()

	if err := w.Start(); err == nil {
		t.Fatal("Start succeeded with a missing parent directory")
	}
}

func TestWatcher_ChmodEventsIgnored(t *testing.T) {
	if fsnotify.Chmod&watchedOps != 0 {
		t.Fatal("chmod is part of the watched operation mask")
	}
}
