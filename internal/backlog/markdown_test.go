package backlog

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/Iron-Ham/tutti/internal/errors"
)

const sampleBacklog = `# Project backlog

Some introduction text.

- [ ] Fix broken links @parallel(1)
  Check the README and the docs tree.

  Links to the wiki moved last month.
- [ ] Bump dependencies @parallel(1)
- [x] Add CI badge
- [ ] Rewrite the parser

## Notes

Not a task line.
`

func writeBacklog(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "BACKLOG.md")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write backlog: %v", err)
	}
	return path
}

func TestMarkdownProvider_Parse(t *testing.T) {
	p, err := NewMarkdownProvider(writeBacklog(t, sampleBacklog))
	if err != nil {
		t.Fatalf("NewMarkdownProvider() error = %v", err)
	}

	tasks, err := p.AllTasks()
	if err != nil {
		t.Fatalf("AllTasks() error = %v", err)
	}
	if len(tasks) != 4 {
		t.Fatalf("AllTasks() returned %d tasks, want 4", len(tasks))
	}

	first := tasks[0]
	if first.ID != "task-1" {
		t.Errorf("first task ID = %q, want %q", first.ID, "task-1")
	}
	if first.Title != "Fix broken links" {
		t.Errorf("first task title = %q, want marker stripped", first.Title)
	}
	if first.Group != 1 {
		t.Errorf("first task group = %d, want 1", first.Group)
	}
	if !strings.Contains(first.Body, "Check the README") {
		t.Errorf("first task body missing first paragraph: %q", first.Body)
	}
	if !strings.Contains(first.Body, "wiki moved") {
		t.Errorf("first task body missing paragraph after blank line: %q", first.Body)
	}
	if first.Completed {
		t.Error("first task should be incomplete")
	}

	if !tasks[2].Completed {
		t.Error("third task should be completed")
	}
	if tasks[3].Group != 0 {
		t.Errorf("ungrouped task group = %d, want 0", tasks[3].Group)
	}
	if tasks[1].Body != "" {
		t.Errorf("task without indented lines should have empty body, got %q", tasks[1].Body)
	}
}

func TestMarkdownProvider_Add(t *testing.T) {
	path := writeBacklog(t, sampleBacklog)
	p, err := NewMarkdownProviderWithDelay(path, time.Hour)
	if err != nil {
		t.Fatalf("NewMarkdownProviderWithDelay() error = %v", err)
	}

	added, err := p.Add(Task{Title: "Ship release notes", Body: "Cover the merge changes.", Group: 3})
	if err != nil {
		t.Fatalf("Add() error = %v", err)
	}
	if added.ID != "task-5" {
		t.Errorf("Add() assigned ID = %q, want %q", added.ID, "task-5")
	}
	if added.Title != "Ship release notes" {
		t.Errorf("Add() title = %q", added.Title)
	}
	if added.Group != 3 {
		t.Errorf("Add() group = %d, want 3", added.Group)
	}

	tasks, _ := p.AllTasks()
	if len(tasks) != 5 {
		t.Fatalf("AllTasks() returned %d tasks after Add, want 5", len(tasks))
	}
	if tasks[0].ID != "task-1" {
		t.Errorf("existing task ID changed after Add: %q", tasks[0].ID)
	}

	if err := p.Flush(); err != nil {
		t.Fatalf("Flush() error = %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading backlog: %v", err)
	}
	content := string(data)
	if !strings.Contains(content, "- [ ] Ship release notes @parallel(3)\n  Cover the merge changes.") {
		t.Errorf("written file missing new item:\n%s", content)
	}
	if !strings.HasSuffix(content, "\n") {
		t.Error("written file should end with a newline")
	}

	reloaded, err := NewMarkdownProvider(path)
	if err != nil {
		t.Fatalf("reload error = %v", err)
	}
	reloadedTasks, _ := reloaded.AllTasks()
	if len(reloadedTasks) != 5 {
		t.Fatalf("reloaded %d tasks, want 5", len(reloadedTasks))
	}
	last := reloadedTasks[4]
	if last.Title != "Ship release notes" || last.Group != 3 || last.Completed {
		t.Errorf("reloaded task = %+v", last)
	}
}

func TestMarkdownProvider_Add_EmptyTitle(t *testing.T) {
	p, err := NewMarkdownProvider(writeBacklog(t, "- [ ] Existing\n"))
	if err != nil {
		t.Fatalf("NewMarkdownProvider() error = %v", err)
	}

	if _, err := p.Add(Task{Title: "   "}); !errors.Is(err, errors.ErrInvalidInput) {
		t.Errorf("Add() error = %v, want ErrInvalidInput", err)
	}
}

func TestMarkdownProvider_NextTask(t *testing.T) {
	t.Run("skips completed", func(t *testing.T) {
		p, err := NewMarkdownProvider(writeBacklog(t, "- [x] Done\n- [ ] Pending\n"))
		if err != nil {
			t.Fatalf("NewMarkdownProvider() error = %v", err)
		}

		task, err := p.NextTask()
		if err != nil {
			t.Fatalf("NextTask() error = %v", err)
		}
		if task == nil {
			t.Fatal("NextTask() = nil, want task")
		}
		if task.Title != "Pending" {
			t.Errorf("NextTask() title = %q, want %q", task.Title, "Pending")
		}
	})

	t.Run("exhausted backlog", func(t *testing.T) {
		p, err := NewMarkdownProvider(writeBacklog(t, "- [x] Done\n"))
		if err != nil {
			t.Fatalf("NewMarkdownProvider() error = %v", err)
		}

		task, err := p.NextTask()
		if err != nil {
			t.Fatalf("NextTask() error = %v", err)
		}
		if task != nil {
			t.Errorf("NextTask() = %+v, want nil", task)
		}
	})
}

func TestMarkdownProvider_MarkComplete(t *testing.T) {
	path := writeBacklog(t, sampleBacklog)
	p, err := NewMarkdownProviderWithDelay(path, time.Hour)
	if err != nil {
		t.Fatalf("NewMarkdownProviderWithDelay() error = %v", err)
	}

	if err := p.MarkComplete("task-1"); err != nil {
		t.Fatalf("MarkComplete() error = %v", err)
	}
	if err := p.Flush(); err != nil {
		t.Fatalf("Flush() error = %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("failed to read backlog: %v", err)
	}
	content := string(data)

	if !strings.Contains(content, "- [x] Fix broken links @parallel(1)") {
		t.Errorf("checkbox not flipped:\n%s", content)
	}
	if !strings.Contains(content, "- [ ] Bump dependencies") {
		t.Error("other tasks should stay unchecked")
	}
	if !strings.Contains(content, "## Notes") {
		t.Error("non-task lines should be preserved")
	}
	if !strings.Contains(content, "Check the README and the docs tree.") {
		t.Error("body lines should be preserved")
	}

	// Marking again is a no-op
	if err := p.MarkComplete("task-1"); err != nil {
		t.Errorf("MarkComplete() on completed task error = %v, want nil", err)
	}
}

func TestMarkdownProvider_MarkComplete_UnknownID(t *testing.T) {
	p, err := NewMarkdownProvider(writeBacklog(t, "- [ ] Only task\n"))
	if err != nil {
		t.Fatalf("NewMarkdownProvider() error = %v", err)
	}

	err = p.MarkComplete("task-99")
	if err == nil {
		t.Fatal("MarkComplete() expected error for unknown ID")
	}
	if !errors.Is(err, errors.ErrTaskNotFound) {
		t.Errorf("MarkComplete() error should wrap ErrTaskNotFound, got %v", err)
	}
}

func TestMarkdownProvider_DebouncedWrite(t *testing.T) {
	t.Run("write is deferred until flush", func(t *testing.T) {
		path := writeBacklog(t, "- [ ] One\n- [ ] Two\n")
		p, err := NewMarkdownProviderWithDelay(path, time.Hour)
		if err != nil {
			t.Fatalf("NewMarkdownProviderWithDelay() error = %v", err)
		}

		if err := p.MarkComplete("task-1"); err != nil {
			t.Fatalf("MarkComplete() error = %v", err)
		}

		data, _ := os.ReadFile(path)
		if strings.Contains(string(data), "[x]") {
			t.Error("file should not be rewritten before the debounce fires")
		}

		if err := p.Flush(); err != nil {
			t.Fatalf("Flush() error = %v", err)
		}
		data, _ = os.ReadFile(path)
		if !strings.Contains(string(data), "- [x] One") {
			t.Errorf("Flush() should force the write, got:\n%s", data)
		}
	})

	t.Run("debounce timer eventually writes", func(t *testing.T) {
		path := writeBacklog(t, "- [ ] One\n")
		p, err := NewMarkdownProviderWithDelay(path, 10*time.Millisecond)
		if err != nil {
			t.Fatalf("NewMarkdownProviderWithDelay() error = %v", err)
		}

		if err := p.MarkComplete("task-1"); err != nil {
			t.Fatalf("MarkComplete() error = %v", err)
		}

		deadline := time.Now().Add(2 * time.Second)
		for time.Now().Before(deadline) {
			data, _ := os.ReadFile(path)
			if strings.Contains(string(data), "- [x] One") {
				return
			}
			time.Sleep(5 * time.Millisecond)
		}
		t.Error("debounced write never reached disk")
	})

	t.Run("flush with nothing pending is a no-op", func(t *testing.T) {
		path := writeBacklog(t, "- [ ] One\n")
		p, err := NewMarkdownProvider(path)
		if err != nil {
			t.Fatalf("NewMarkdownProvider() error = %v", err)
		}
		if err := p.Flush(); err != nil {
			t.Errorf("Flush() error = %v", err)
		}
	})
}

func TestMarkdownProvider_TasksInGroup(t *testing.T) {
	content := `- [ ] A @parallel(1)
- [x] B @parallel(1)
- [ ] C @parallel(2)
- [ ] D @parallel(1)
`
	p, err := NewMarkdownProvider(writeBacklog(t, content))
	if err != nil {
		t.Fatalf("NewMarkdownProvider() error = %v", err)
	}

	tasks, err := p.TasksInGroup(1)
	if err != nil {
		t.Fatalf("TasksInGroup() error = %v", err)
	}
	if len(tasks) != 2 {
		t.Fatalf("TasksInGroup(1) returned %d tasks, want 2 (completed excluded)", len(tasks))
	}
	if tasks[0].Title != "A" || tasks[1].Title != "D" {
		t.Errorf("TasksInGroup(1) = %q, %q; want A, D", tasks[0].Title, tasks[1].Title)
	}
}

func TestMarkdownProvider_ParallelGroup(t *testing.T) {
	p, err := NewMarkdownProvider(writeBacklog(t, "- [ ] X\n"))
	if err != nil {
		t.Fatalf("NewMarkdownProvider() error = %v", err)
	}

	if got := p.ParallelGroup("Task @parallel(7)"); got != 7 {
		t.Errorf("ParallelGroup() = %d, want 7", got)
	}
	if got := p.ParallelGroup("Task"); got != 0 {
		t.Errorf("ParallelGroup() = %d, want 0", got)
	}
}

func TestMarkdownProvider_MissingFile(t *testing.T) {
	_, err := NewMarkdownProvider(filepath.Join(t.TempDir(), "absent.md"))
	if err == nil {
		t.Error("NewMarkdownProvider() expected error for missing file")
	}
}
