package agent

import (
	"context"
	"time"
)

// Options carries per-run invocation settings passed through to the
// underlying agent process.
type Options struct {
	// Model overrides the agent's default model when non-empty.
	Model string

	// ExtraArgs are appended to the agent command line verbatim. They are
	// opaque to tutti and land before the prompt argument.
	ExtraArgs []string
}

// Result is the outcome of one agent run. It is produced once per task
// attempt and immutable after creation; the scheduler reads it to decide
// task completion and the summary renders it at the end of the run.
type Result struct {
	// Success is true when the agent reported it completed the task.
	Success bool

	// Response is the agent's final answer text.
	Response string

	// InputTokens and OutputTokens are usage counts parsed from the
	// agent's result envelope, zero when the agent did not report them.
	InputTokens  int64
	OutputTokens int64

	// CostUSD is the agent-reported cost of the run, zero when unknown.
	CostUSD float64

	// Error holds the failure text when Success is false. It derives from
	// the agent's own error output, truncated to the trailing lines.
	Error string

	// Duration is the wall-clock time of the final attempt.
	Duration time.Duration

	// Attempts counts how many attempts the run consumed, including the
	// final one. The runner fills it in; a bare Execute leaves it zero.
	Attempts int

	// Workspace and Branch record where the run happened. The runner fills
	// them in so downstream consumers need no side channel.
	Workspace string
	Branch    string
}

// TotalTokens returns the sum of input and output tokens.
func (r Result) TotalTokens() int64 {
	return r.InputTokens + r.OutputTokens
}

// Agent runs a single prompt to completion inside a working directory.
// Implementations must honor context cancellation and are called
// concurrently from the dispatch pool, one goroutine per task.
type Agent interface {
	Execute(ctx context.Context, prompt string, dir string, opts Options) (Result, error)
}
