package backlog

import (
	"fmt"
	"sync"

	"github.com/Iron-Ham/tutti/internal/errors"
)

// MemoryProvider serves tasks from memory. Completion state is kept
// in-process only, which makes it useful for tests and for dry runs
// that must not mutate a real backlog.
type MemoryProvider struct {
	mu    sync.Mutex
	tasks []Task
}

// NewMemoryProvider creates a provider over the given tasks. Tasks
// without an ID get one derived from their ordinal position; titles
// may carry @parallel(N) markers, which are parsed and stripped.
func NewMemoryProvider(tasks []Task) *MemoryProvider {
	owned := make([]Task, len(tasks))
	copy(owned, tasks)

	for i := range owned {
		if owned[i].ID == "" {
			owned[i].ID = fmt.Sprintf("task-%d", i+1)
		}
		group, title := ParseParallelGroup(owned[i].Title)
		if owned[i].Group == 0 {
			owned[i].Group = group
		}
		owned[i].Title = title
	}

	return &MemoryProvider{tasks: owned}
}

// AllTasks returns every task in order, complete or not.
func (p *MemoryProvider) AllTasks() ([]Task, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	tasks := make([]Task, len(p.tasks))
	copy(tasks, p.tasks)
	return tasks, nil
}

// NextTask returns the first incomplete task, or nil when exhausted.
func (p *MemoryProvider) NextTask() (*Task, error) {
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

// MarkComplete records completion in memory.
func (p *MemoryProvider) MarkComplete(id string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	for i := range p.tasks {
		if p.tasks[i].ID == id {
			p.tasks[i].Completed = true
			return nil
		}
	}
	return fmt.Errorf("%w: %s", errors.ErrTaskNotFound, id)
}

// TasksInGroup returns the incomplete tasks sharing a group number.
func (p *MemoryProvider) TasksInGroup(group int) ([]Task, error) {
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

// ParallelGroup extracts the parallel-group number from a raw title.
func (p *MemoryProvider) ParallelGroup(title string) int {
	group, _ := ParseParallelGroup(title)
	return group
}

// Flush is a no-op: memory providers have no backing store.
func (p *MemoryProvider) Flush() error {
	return nil
}

var _ GroupedProvider = (*MemoryProvider)(nil)
