package backlog

import (
	"fmt"
	"os"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/Iron-Ham/tutti/internal/errors"
)

// defaultWriteDelay is how long completion marks are batched before the
// backlog file is rewritten.
const defaultWriteDelay = 2 * time.Second

// checklistItemRe matches a markdown checklist item: "- [ ] Title" or
// "- [x] Title".
var checklistItemRe = regexp.MustCompile(`^- \[([ xX])\] (.+)$`)

// markdownItem ties a parsed task to the file line it came from.
type markdownItem struct {
	line int // index into lines
	task Task
}

// MarkdownProvider reads tasks from a markdown checklist file.
//
// Each "- [ ] Title" line is one task; "- [x]" marks it complete.
// Indented lines following an item form its body. An @parallel(N)
// marker anywhere in the title assigns the task to parallel group N and
// is stripped from the title. Completion is persisted by flipping the
// checkbox in place, leaving every other line of the file untouched.
type MarkdownProvider struct {
	path       string
	writeDelay time.Duration

	mu    sync.Mutex
	lines []string
	items []markdownItem
	dirty bool
	timer *time.Timer
}

// NewMarkdownProvider reads and parses the checklist at path.
func NewMarkdownProvider(path string) (*MarkdownProvider, error) {
	return NewMarkdownProviderWithDelay(path, defaultWriteDelay)
}

// NewMarkdownProviderWithDelay creates a provider with a custom write
// debounce delay. This is primarily useful for testing.
func NewMarkdownProviderWithDelay(path string, delay time.Duration) (*MarkdownProvider, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read backlog file: %w", err)
	}

	p := &MarkdownProvider{
		path:       path,
		writeDelay: delay,
		lines:      strings.Split(string(data), "\n"),
	}
	p.parse()
	return p, nil
}

// parse walks the file lines and extracts checklist items. Task IDs are
// derived from the item's ordinal position, which is stable because
// completion only flips the checkbox and never adds or removes lines.
func (p *MarkdownProvider) parse() {
	ordinal := 0
	for i, line := range p.lines {
		m := checklistItemRe.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		ordinal++

		group, title := ParseParallelGroup(m[2])
		p.items = append(p.items, markdownItem{
			line: i,
			task: Task{
				ID:        fmt.Sprintf("task-%d", ordinal),
				Title:     title,
				Body:      p.bodyAfter(i),
				Group:     group,
				Completed: m[1] != " ",
			},
		})
	}
}

// bodyAfter collects the indented lines following a checklist item.
func (p *MarkdownProvider) bodyAfter(itemLine int) string {
	var body []string
	for j := itemLine + 1; j < len(p.lines); j++ {
		line := p.lines[j]
		switch {
		case strings.HasPrefix(line, "  "):
			body = append(body, strings.TrimPrefix(line, "  "))
		case strings.TrimSpace(line) == "":
			// A blank line only continues the body if indented text follows
			if j+1 < len(p.lines) && strings.HasPrefix(p.lines[j+1], "  ") {
				body = append(body, "")
				continue
			}
			return strings.TrimSpace(strings.Join(body, "\n"))
		default:
			return strings.TrimSpace(strings.Join(body, "\n"))
		}
	}
	return strings.TrimSpace(strings.Join(body, "\n"))
}

// AllTasks returns every task in backlog order, complete or not.
func (p *MarkdownProvider) AllTasks() ([]Task, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	tasks := make([]Task, len(p.items))
	for i, item := range p.items {
		tasks[i] = item.task
	}
	return tasks, nil
}

// NextTask returns the first incomplete task, or nil when the backlog
// is exhausted.
func (p *MarkdownProvider) NextTask() (*Task, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, item := range p.items {
		if !item.task.Completed {
			cp := item.task
			return &cp, nil
		}
	}
	return nil, nil
}

// MarkComplete flips the task's checkbox in memory and schedules a
// deferred rewrite of the backlog file.
func (p *MarkdownProvider) MarkComplete(id string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	for i := range p.items {
		if p.items[i].task.ID != id {
			continue
		}
		if p.items[i].task.Completed {
			return nil
		}

		p.items[i].task.Completed = true
		line := p.items[i].line
		p.lines[line] = strings.Replace(p.lines[line], "- [ ]", "- [x]", 1)
		p.dirty = true
		p.scheduleWrite()
		return nil
	}
	return fmt.Errorf("%w: %s", errors.ErrTaskNotFound, id)
}

// TasksInGroup returns the incomplete tasks sharing a group number.
func (p *MarkdownProvider) TasksInGroup(group int) ([]Task, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	var tasks []Task
	for _, item := range p.items {
		if item.task.Group == group && !item.task.Completed {
			tasks = append(tasks, item.task)
		}
	}
	return tasks, nil
}

// Add appends a new checklist item to the end of the file and schedules
// a rewrite. Appending keeps every existing task's ordinal ID stable.
// The returned task carries the ID it was assigned.
func (p *MarkdownProvider) Add(t Task) (Task, error) {
	if strings.TrimSpace(t.Title) == "" {
		return Task{}, fmt.Errorf("%w: task has no title", errors.ErrInvalidInput)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	line := "- [ ] " + t.Title
	if t.Group != 0 {
		line += fmt.Sprintf(" @parallel(%d)", t.Group)
	}

	// Drop trailing blank lines, append, and restore the final newline.
	for len(p.lines) > 0 && strings.TrimSpace(p.lines[len(p.lines)-1]) == "" {
		p.lines = p.lines[:len(p.lines)-1]
	}
	p.lines = append(p.lines, line)
	for _, bodyLine := range strings.Split(t.Body, "\n") {
		if strings.TrimSpace(bodyLine) == "" {
			continue
		}
		p.lines = append(p.lines, "  "+bodyLine)
	}
	p.lines = append(p.lines, "")

	p.items = nil
	p.parse()
	p.dirty = true
	p.scheduleWrite()

	return p.items[len(p.items)-1].task, nil
}

// ParallelGroup extracts the parallel-group number from a raw title.
func (p *MarkdownProvider) ParallelGroup(title string) int {
	group, _ := ParseParallelGroup(title)
	return group
}

// scheduleWrite arms the debounce timer. Callers must hold p.mu.
func (p *MarkdownProvider) scheduleWrite() {
	if p.timer != nil {
		return
	}
	p.timer = time.AfterFunc(p.writeDelay, func() {
		_ = p.Flush()
	})
}

// Flush writes any pending completion marks to the backlog file.
// The write is atomic: data goes to a temporary file first, then is
// renamed into place.
func (p *MarkdownProvider) Flush() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.timer != nil {
		p.timer.Stop()
		p.timer = nil
	}
	if !p.dirty {
		return nil
	}

	data := strings.Join(p.lines, "\n")
	tmp := p.path + ".tmp"

	if err := os.WriteFile(tmp, []byte(data), 0644); err != nil {
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := os.Rename(tmp, p.path); err != nil {
		_ = os.Remove(tmp) // best-effort cleanup
		return fmt.Errorf("rename temp file: %w", err)
	}

	p.dirty = false
	return nil
}

var _ GroupedProvider = (*MarkdownProvider)(nil)
