package backlog

import (
	"regexp"
	"strconv"
	"strings"
)

// Task represents a single unit of work from the backlog.
// The core never mutates a task except through MarkComplete on its
// provider; everything else is read-only.
type Task struct {
	// ID is the stable identifier within the backlog source.
	ID string `yaml:"id,omitempty"`

	// Title is the human-readable task title, used for branch-name
	// derivation and agent prompts. Parallel-group markers are stripped.
	Title string `yaml:"title"`

	// Body is optional free-form text describing the task in detail.
	Body string `yaml:"body,omitempty"`

	// Group is the parallel-group number. Tasks sharing a non-zero
	// group are dispatched together in one batch; 0 means run alone.
	Group int `yaml:"group,omitempty"`

	// Completed is true once the task's agent run has succeeded.
	Completed bool `yaml:"completed"`
}

// Provider is the contract between the backlog source and the scheduler.
type Provider interface {
	// AllTasks returns every task in backlog order, complete or not.
	AllTasks() ([]Task, error)

	// NextTask returns the first incomplete task, or nil with no error
	// when the backlog is exhausted.
	NextTask() (*Task, error)

	// MarkComplete records that a task's agent run succeeded. The write
	// to the backing source may be deferred; call Flush to force it.
	// Marking an already complete task is a no-op.
	MarkComplete(id string) error

	// Flush forces any deferred completion writes to the backing source.
	Flush() error
}

// GroupedProvider extends Provider for sources that understand
// parallel grouping.
type GroupedProvider interface {
	Provider

	// TasksInGroup returns the incomplete tasks sharing a group number,
	// in backlog order.
	TasksInGroup(group int) ([]Task, error)

	// ParallelGroup extracts the parallel-group number from a raw task
	// title, or 0 if the title carries no marker.
	ParallelGroup(title string) int
}

// parallelGroupRe matches the @parallel(N) marker in a task title.
var parallelGroupRe = regexp.MustCompile(`@parallel\((\d+)\)`)

// ParseParallelGroup extracts the parallel-group marker from a raw
// title. It returns the group number (0 when absent) and the title with
// the marker removed and surrounding whitespace collapsed.
func ParseParallelGroup(title string) (int, string) {
	m := parallelGroupRe.FindStringSubmatch(title)
	if m == nil {
		return 0, strings.TrimSpace(title)
	}

	group, _ := strconv.Atoi(m[1])

	cleaned := parallelGroupRe.ReplaceAllString(title, "")
	cleaned = strings.Join(strings.Fields(cleaned), " ")
	return group, cleaned
}
