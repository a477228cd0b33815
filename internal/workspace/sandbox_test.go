package workspace

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/Iron-Ham/tutti/internal/config"
	"github.com/Iron-Ham/tutti/internal/errors"
)

var testSymlinkDirs = []string{".git", "node_modules"}

func mustMkdir(t *testing.T, path string) {
	t.Helper()
	if err := os.MkdirAll(path, 0o755); err != nil {
		t.Fatal(err)
	}
}

func mustWrite(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

// newSandboxSource builds a source tree with two symlink-set directories,
// a mutable source directory, and a top-level file.
func newSandboxSource(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()

	mustMkdir(t, filepath.Join(dir, ".git"))
	mustWrite(t, filepath.Join(dir, ".git", "HEAD"), "ref: refs/heads/main")
	mustMkdir(t, filepath.Join(dir, "node_modules", "leftpad"))
	mustWrite(t, filepath.Join(dir, "node_modules", "leftpad", "index.js"), "module.exports = {}")

	mustMkdir(t, filepath.Join(dir, "src"))
	mustWrite(t, filepath.Join(dir, "src", "main.go"), "package main")
	mustWrite(t, filepath.Join(dir, "README.md"), "# project")

	return dir
}

func TestSandboxManager_Build(t *testing.T) {
	original := newSandboxSource(t)
	rootDir := t.TempDir()
	sandboxDir := filepath.Join(rootDir, "sb")

	m := NewSandboxManager(original, rootDir, "tutti", testSymlinkDirs, nil, nil)
	stats, err := m.Build(sandboxDir)
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}

	// Symlink-set directories are links back to the original tree.
	for _, name := range testSymlinkDirs {
		info, err := os.Lstat(filepath.Join(sandboxDir, name))
		if err != nil {
			t.Fatalf("Lstat(%s) error = %v", name, err)
		}
		if info.Mode()&os.ModeSymlink == 0 {
			t.Errorf("%s is not a symlink", name)
		}
		target, err := os.Readlink(filepath.Join(sandboxDir, name))
		if err != nil {
			t.Fatal(err)
		}
		if target != filepath.Join(original, name) {
			t.Errorf("%s links to %q, want %q", name, target, filepath.Join(original, name))
		}
	}

	// Everything else is a real copy.
	info, err := os.Lstat(filepath.Join(sandboxDir, "src"))
	if err != nil {
		t.Fatal(err)
	}
	if !info.IsDir() || info.Mode()&os.ModeSymlink != 0 {
		t.Errorf("src mode = %v, want a real directory", info.Mode())
	}
	got, err := os.ReadFile(filepath.Join(sandboxDir, "src", "main.go"))
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "package main" {
		t.Errorf("src/main.go = %q, want %q", got, "package main")
	}
	if _, err := os.Stat(filepath.Join(sandboxDir, "README.md")); err != nil {
		t.Errorf("README.md not copied: %v", err)
	}

	if stats.Symlinks != 2 {
		t.Errorf("Symlinks = %d, want 2", stats.Symlinks)
	}
	// src directory, src/main.go, README.md.
	if stats.Copied != 3 {
		t.Errorf("Copied = %d, want 3", stats.Copied)
	}
}

func TestSandboxManager_Build_Isolation(t *testing.T) {
	original := newSandboxSource(t)
	sandboxDir := filepath.Join(t.TempDir(), "sb")

	m := NewSandboxManager(original, filepath.Dir(sandboxDir), "tutti", testSymlinkDirs, nil, nil)
	if _, err := m.Build(sandboxDir); err != nil {
		t.Fatalf("Build() error = %v", err)
	}

	if err := os.WriteFile(filepath.Join(sandboxDir, "src", "main.go"), []byte("package edited"), 0o644); err != nil {
		t.Fatal(err)
	}

	got, err := os.ReadFile(filepath.Join(original, "src", "main.go"))
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "package main" {
		t.Errorf("original mutated through sandbox copy: %q", got)
	}
}

func TestSandboxManager_Build_PreservesModTimes(t *testing.T) {
	original := newSandboxSource(t)
	past := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	if err := os.Chtimes(filepath.Join(original, "src", "main.go"), past, past); err != nil {
		t.Fatal(err)
	}

	sandboxDir := filepath.Join(t.TempDir(), "sb")
	m := NewSandboxManager(original, filepath.Dir(sandboxDir), "tutti", testSymlinkDirs, nil, nil)
	if _, err := m.Build(sandboxDir); err != nil {
		t.Fatalf("Build() error = %v", err)
	}

	origInfo, err := os.Stat(filepath.Join(original, "src", "main.go"))
	if err != nil {
		t.Fatal(err)
	}
	copyInfo, err := os.Stat(filepath.Join(sandboxDir, "src", "main.go"))
	if err != nil {
		t.Fatal(err)
	}
	if !copyInfo.ModTime().Equal(origInfo.ModTime()) {
		t.Errorf("sandbox mtime = %v, want %v", copyInfo.ModTime(), origInfo.ModTime())
	}
}

func TestSandboxManager_Build_RecreatesValidSymlinks(t *testing.T) {
	original := newSandboxSource(t)
	if err := os.Symlink("README.md", filepath.Join(original, "link.txt")); err != nil {
		t.Fatal(err)
	}
	if err := os.Symlink(filepath.Join("..", "README.md"), filepath.Join(original, "src", "inner-link")); err != nil {
		t.Fatal(err)
	}

	sandboxDir := filepath.Join(t.TempDir(), "sb")
	m := NewSandboxManager(original, filepath.Dir(sandboxDir), "tutti", testSymlinkDirs, nil, nil)
	stats, err := m.Build(sandboxDir)
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}

	target, err := os.Readlink(filepath.Join(sandboxDir, "link.txt"))
	if err != nil {
		t.Fatalf("link.txt not re-created: %v", err)
	}
	if target != "README.md" {
		t.Errorf("link.txt target = %q, want %q", target, "README.md")
	}

	// A relative link re-created inside the sandbox resolves to the
	// sandbox's own copy.
	got, err := os.ReadFile(filepath.Join(sandboxDir, "src", "inner-link"))
	if err != nil {
		t.Fatalf("inner-link unreadable: %v", err)
	}
	if string(got) != "# project" {
		t.Errorf("inner-link content = %q, want %q", got, "# project")
	}

	// .git, node_modules, link.txt, inner-link.
	if stats.Symlinks != 4 {
		t.Errorf("Symlinks = %d, want 4", stats.Symlinks)
	}
}

func TestSandboxManager_Build_SkipsBrokenSymlinks(t *testing.T) {
	original := newSandboxSource(t)
	if err := os.Symlink("does-not-exist.txt", filepath.Join(original, "broken")); err != nil {
		t.Fatal(err)
	}

	sandboxDir := filepath.Join(t.TempDir(), "sb")
	m := NewSandboxManager(original, filepath.Dir(sandboxDir), "tutti", testSymlinkDirs, nil, nil)
	if _, err := m.Build(sandboxDir); err != nil {
		t.Fatalf("Build() error = %v", err)
	}

	if _, err := os.Lstat(filepath.Join(sandboxDir, "broken")); !os.IsNotExist(err) {
		t.Error("broken symlink was propagated into the sandbox")
	}
}

func TestSandboxManager_Build_SkipsStateDir(t *testing.T) {
	original := newSandboxSource(t)
	otherSandbox := filepath.Join(original, config.StateDirName, "sandboxes", "agent-1-old")
	mustMkdir(t, otherSandbox)
	mustWrite(t, filepath.Join(otherSandbox, "file.txt"), "other agent's work")

	sandboxDir := filepath.Join(t.TempDir(), "sb")
	m := NewSandboxManager(original, filepath.Dir(sandboxDir), "tutti", testSymlinkDirs, nil, nil)
	if _, err := m.Build(sandboxDir); err != nil {
		t.Fatalf("Build() error = %v", err)
	}

	if _, err := os.Lstat(filepath.Join(sandboxDir, config.StateDirName)); !os.IsNotExist(err) {
		t.Error("state directory was copied into the sandbox")
	}
}

func TestSandboxManager_Build_SkipsRootsInsideSource(t *testing.T) {
	original := newSandboxSource(t)

	// Sandbox root configured inside the source tree. The walk must not
	// descend into it, or it would copy the sandbox being built.
	rootDir := filepath.Join(original, "ws")
	wtRoot := filepath.Join(original, "wt")
	mustMkdir(t, wtRoot)
	mustWrite(t, filepath.Join(wtRoot, "other.txt"), "another task's worktree")

	m := NewSandboxManager(original, rootDir, "tutti", testSymlinkDirs, []string{wtRoot}, nil)
	sandboxDir := filepath.Join(rootDir, "sb")
	if _, err := m.Build(sandboxDir); err != nil {
		t.Fatalf("Build() error = %v", err)
	}

	if _, err := os.Lstat(filepath.Join(sandboxDir, "ws")); !os.IsNotExist(err) {
		t.Error("sandbox root was copied into the sandbox")
	}
	if _, err := os.Lstat(filepath.Join(sandboxDir, "wt")); !os.IsNotExist(err) {
		t.Error("skip path was copied into the sandbox")
	}
	if _, err := os.Stat(filepath.Join(sandboxDir, "README.md")); err != nil {
		t.Errorf("README.md not copied: %v", err)
	}
}

func TestSandboxManager_Build_ReplacesExisting(t *testing.T) {
	original := newSandboxSource(t)
	sandboxDir := filepath.Join(t.TempDir(), "sb")
	mustMkdir(t, sandboxDir)
	mustWrite(t, filepath.Join(sandboxDir, "stale.txt"), "from a previous attempt")

	m := NewSandboxManager(original, filepath.Dir(sandboxDir), "tutti", testSymlinkDirs, nil, nil)
	if _, err := m.Build(sandboxDir); err != nil {
		t.Fatalf("Build() error = %v", err)
	}

	if _, err := os.Stat(filepath.Join(sandboxDir, "stale.txt")); !os.IsNotExist(err) {
		t.Error("stale file survived the rebuild")
	}
	if _, err := os.Stat(filepath.Join(sandboxDir, "README.md")); err != nil {
		t.Errorf("README.md not copied: %v", err)
	}
}

func TestSandboxManager_Build_FailureRemovesPartial(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "does-not-exist")
	sandboxDir := filepath.Join(t.TempDir(), "sb")

	m := NewSandboxManager(missing, filepath.Dir(sandboxDir), "tutti", testSymlinkDirs, nil, nil)
	_, err := m.Build(sandboxDir)
	if err == nil {
		t.Fatal("Build() error = nil, want error for missing source")
	}

	var wsErr *errors.WorkspaceError
	if !errors.As(err, &wsErr) {
		t.Fatalf("error type = %T, want *errors.WorkspaceError", err)
	}
	if wsErr.Mode != config.ModeSandbox {
		t.Errorf("Mode = %q, want %q", wsErr.Mode, config.ModeSandbox)
	}

	if _, err := os.Stat(sandboxDir); !os.IsNotExist(err) {
		t.Error("partially built sandbox was not removed")
	}
}

func TestSandboxManager_Create(t *testing.T) {
	original := newSandboxSource(t)
	rootDir := t.TempDir()

	m := NewSandboxManager(original, rootDir, "tutti", testSymlinkDirs, nil, nil)
	m.newID = func() string { return fixedID }

	ws, stats, err := m.Create("Upgrade deps", 5)
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	wantPath := filepath.Join(rootDir, "agent-5-"+fixedID+"-upgrade-deps")
	if ws.Path != wantPath {
		t.Errorf("Path = %q, want %q", ws.Path, wantPath)
	}
	wantBranch := "tutti/agent-5-" + fixedID + "-upgrade-deps"
	if ws.Branch != wantBranch {
		t.Errorf("Branch = %q, want %q", ws.Branch, wantBranch)
	}
	if ws.Mode != config.ModeSandbox {
		t.Errorf("Mode = %q, want %q", ws.Mode, config.ModeSandbox)
	}
	if ws.AgentNumber != 5 {
		t.Errorf("AgentNumber = %d, want 5", ws.AgentNumber)
	}
	if stats.Symlinks == 0 || stats.Copied == 0 {
		t.Errorf("stats = %+v, want non-zero counts", stats)
	}
	if _, err := os.Stat(filepath.Join(ws.Path, "README.md")); err != nil {
		t.Errorf("sandbox not materialized: %v", err)
	}
}

func TestSandboxManager_Remove(t *testing.T) {
	original := newSandboxSource(t)
	rootDir := t.TempDir()

	m := NewSandboxManager(original, rootDir, "tutti", testSymlinkDirs, nil, nil)
	ws, _, err := m.Create("Upgrade deps", 1)
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	if err := m.Remove(ws); err != nil {
		t.Fatalf("Remove() error = %v", err)
	}
	if _, err := os.Stat(ws.Path); !os.IsNotExist(err) {
		t.Error("sandbox still present after Remove")
	}
}
