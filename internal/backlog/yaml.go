package backlog

import (
	"fmt"
	"os"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/Iron-Ham/tutti/internal/errors"
)

// yamlBacklog is the on-disk document shape for YAML backlogs.
type yamlBacklog struct {
	Tasks []Task `yaml:"tasks"`
}

// YAMLProvider reads tasks from a YAML backlog file of the form:
//
//	tasks:
//	  - title: Fix broken links
//	    body: Check the README and docs/ tree.
//	    group: 2
//	  - title: Bump dependencies
//	    completed: true
//
// IDs default to the task's ordinal position when omitted. A task
// without an explicit group may carry an @parallel(N) marker in its
// title instead. Completion is persisted by rewriting the document.
type YAMLProvider struct {
	path       string
	writeDelay time.Duration

	mu    sync.Mutex
	tasks []Task
	dirty bool
	timer *time.Timer
}

// NewYAMLProvider reads and parses the YAML backlog at path.
func NewYAMLProvider(path string) (*YAMLProvider, error) {
	return NewYAMLProviderWithDelay(path, defaultWriteDelay)
}

// NewYAMLProviderWithDelay creates a provider with a custom write
// debounce delay. This is primarily useful for testing.
func NewYAMLProviderWithDelay(path string, delay time.Duration) (*YAMLProvider, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read backlog file: %w", err)
	}

	var doc yamlBacklog
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse backlog file: %w", err)
	}

	for i := range doc.Tasks {
		if doc.Tasks[i].Title == "" {
			return nil, fmt.Errorf("%w: task %d has no title", errors.ErrInvalidInput, i+1)
		}
		if doc.Tasks[i].ID == "" {
			doc.Tasks[i].ID = fmt.Sprintf("task-%d", i+1)
		}
		group, title := ParseParallelGroup(doc.Tasks[i].Title)
		if doc.Tasks[i].Group == 0 {
			doc.Tasks[i].Group = group
		}
		doc.Tasks[i].Title = title
	}

	return &YAMLProvider{
		path:       path,
		writeDelay: delay,
		tasks:      doc.Tasks,
	}, nil
}

// AllTasks returns every task in backlog order, complete or not.
func (p *YAMLProvider) AllTasks() ([]Task, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	tasks := make([]Task, len(p.tasks))
	copy(tasks, p.tasks)
	return tasks, nil
}

// NextTask returns the first incomplete task, or nil when the backlog
// is exhausted.
func (p *YAMLProvider) NextTask() (*Task, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for i := range p.tasks {
		if !p.tasks[i].Completed {
			cp := p.tasks[i]
			return &cp, nil
		}
	}
	return nil, nil
}

// MarkComplete records completion in memory and schedules a deferred
// rewrite of the backlog file.
func (p *YAMLProvider) MarkComplete(id string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	for i := range p.tasks {
		if p.tasks[i].ID != id {
			continue
		}
		if p.tasks[i].Completed {
			return nil
		}

		p.tasks[i].Completed = true
		p.dirty = true
		p.scheduleWrite()
		return nil
	}
	return fmt.Errorf("%w: %s", errors.ErrTaskNotFound, id)
}

// TasksInGroup returns the incomplete tasks sharing a group number.
func (p *YAMLProvider) TasksInGroup(group int) ([]Task, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	var tasks []Task
	for i := range p.tasks {
		if p.tasks[i].Group == group && !p.tasks[i].Completed {
			tasks = append(tasks, p.tasks[i])
		}
	}
	return tasks, nil
}

// Add appends a new task to the document and schedules a rewrite. The
// returned task carries the ID it was assigned.
func (p *YAMLProvider) Add(t Task) (Task, error) {
	group, title := ParseParallelGroup(t.Title)
	if title == "" {
		return Task{}, fmt.Errorf("%w: task has no title", errors.ErrInvalidInput)
	}
	if t.Group == 0 {
		t.Group = group
	}
	t.Title = title
	t.Completed = false

	p.mu.Lock()
	defer p.mu.Unlock()

	if t.ID == "" {
		t.ID = fmt.Sprintf("task-%d", len(p.tasks)+1)
	}
	p.tasks = append(p.tasks, t)
	p.dirty = true
	p.scheduleWrite()

	return t, nil
}

// ParallelGroup extracts the parallel-group number from a raw title.
func (p *YAMLProvider) ParallelGroup(title string) int {
	group, _ := ParseParallelGroup(title)
	return group
}

// scheduleWrite arms the debounce timer. Callers must hold p.mu.
func (p *YAMLProvider) scheduleWrite() {
	if p.timer != nil {
		return
	}
	p.timer = time.AfterFunc(p.writeDelay, func() {
		_ = p.Flush()
	})
}

// Flush writes any pending completion marks to the backlog file.
func (p *YAMLProvider) Flush() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.timer != nil {
		p.timer.Stop()
		p.timer = nil
	}
	if !p.dirty {
		return nil
	}

	data, err := yaml.Marshal(yamlBacklog{Tasks: p.tasks})
	if err != nil {
		return fmt.Errorf("marshal backlog: %w", err)
	}

	tmp := p.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := os.Rename(tmp, p.path); err != nil {
		_ = os.Remove(tmp) // best-effort cleanup
		return fmt.Errorf("rename temp file: %w", err)
	}

	p.dirty = false
	return nil
}

var _ GroupedProvider = (*YAMLProvider)(nil)
