package agent

import (
	"context"
	"fmt"
	"time"

	"github.com/Iron-Ham/tutti/internal/backlog"
	"github.com/Iron-Ham/tutti/internal/config"
	"github.com/Iron-Ham/tutti/internal/errors"
	"github.com/Iron-Ham/tutti/internal/logging"
	"github.com/Iron-Ham/tutti/internal/workspace"
)

// Runner executes one task with an agent under a bounded retry policy.
// Only failures the classifier marks transient are retried; deterministic
// failures surface immediately so the attempt budget is not wasted on
// runs that cannot succeed.
//
// A Runner is immutable after construction and safe for concurrent use;
// the dispatch pool shares one across all workers.
type Runner struct {
	maxRetries     int
	retryDelay     time.Duration
	attemptTimeout time.Duration
	boundaries     Boundaries
	isRetryable    func(errorText string) bool
	sleep          func(ctx context.Context, d time.Duration) error
	log            *logging.Logger
}

// NewRunner creates a Runner from agent configuration. MaxRetries below
// one is treated as a single attempt.
func NewRunner(cfg config.AgentConfig, b Boundaries, log *logging.Logger) *Runner {
	if log == nil {
		log = logging.NopLogger()
	}
	maxRetries := cfg.MaxRetries
	if maxRetries < 1 {
		maxRetries = 1
	}
	return &Runner{
		maxRetries:     maxRetries,
		retryDelay:     cfg.RetryDelay(),
		attemptTimeout: cfg.AttemptTimeout(),
		boundaries:     b,
		isRetryable:    DefaultRetryable,
		sleep:          sleepCtx,
		log:            log,
	}
}

// WithClassifier replaces the retryable-failure classifier and returns
// the Runner for chaining. A nil classifier keeps the current one.
func (r *Runner) WithClassifier(fn func(errorText string) bool) *Runner {
	if fn != nil {
		r.isRetryable = fn
	}
	return r
}

// RunTask builds the task prompt and runs the agent in ws until it
// succeeds, fails terminally, or the retry budget runs out. The returned
// Result is always annotated with the workspace path and branch, even on
// failure, so callers can report where the attempt ran.
//
// A nil error with Success false means the agent itself reported it could
// not complete the task. A non-nil error means the run machinery failed:
// process errors, exhausted retries, or context cancellation. Neither
// case removes the workspace here; cleanup decides that later.
func (r *Runner) RunTask(ctx context.Context, a Agent, task backlog.Task, ws *workspace.Workspace, opts Options) (Result, error) {
	log := r.log.WithTask(task.ID).WithAgent(ws.AgentNumber)
	prompt := BuildTaskPrompt(task, r.boundaries, ws.Mode == config.ModeWorktree)

	var res Result
	var err error
	for attempt := 1; ; attempt++ {
		res, err = r.attempt(ctx, a, prompt, ws.Path, opts)
		res.Attempts = attempt
		res.Workspace = ws.Path
		res.Branch = ws.Branch

		if err == nil && res.Success {
			log.Info("agent run succeeded",
				"attempt", attempt,
				"tokens", res.TotalTokens(),
				"duration", res.Duration.Round(time.Millisecond))
			return res, nil
		}

		text := failureText(res, err)
		if !r.classify(err, text) {
			if err != nil {
				log.Error("agent run failed", "attempt", attempt, "error", err)
				return res, errors.Wrapf(err, "agent run for task %s", task.ID)
			}
			log.Warn("agent reported failure", "attempt", attempt, "error", res.Error)
			return res, nil
		}

		if attempt >= r.maxRetries {
			log.Error("agent retries exhausted", "attempts", attempt, "error", text)
			return res, errors.NewAgentError(
				fmt.Sprintf("%d attempts failed with transient errors", attempt),
				errors.Join(errors.ErrRetriesExhausted, err)).
				WithTaskID(task.ID).
				WithWorkspace(ws.Path).
				WithAttempts(attempt)
		}

		log.Warn("transient agent failure, retrying",
			"attempt", attempt,
			"delay", r.retryDelay,
			"error", text)
		if serr := r.sleep(ctx, r.retryDelay); serr != nil {
			return res, errors.Wrap(serr, "waiting to retry agent run")
		}
	}
}

// attempt runs the agent once, bounded by the per-attempt wall-clock
// timeout when one is configured.
func (r *Runner) attempt(ctx context.Context, a Agent, prompt, dir string, opts Options) (Result, error) {
	if r.attemptTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.attemptTimeout)
		defer cancel()
	}
	return a.Execute(ctx, prompt, dir, opts)
}

// classify decides whether a failed attempt is worth retrying. Errors
// already marked transient (timeouts, rate-limit sentinels) short-circuit;
// otherwise the text classifier inspects the agent's failure output.
// Context cancellation is never retryable.
func (r *Runner) classify(err error, text string) bool {
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return false
		}
		if errors.IsRetryable(err) {
			return true
		}
	}
	return r.isRetryable(text)
}

// failureText picks the text the classifier inspects: the agent's own
// error output when present, the process error otherwise.
func failureText(res Result, err error) string {
	if res.Error != "" {
		return res.Error
	}
	if err != nil {
		return err.Error()
	}
	return ""
}

// sleepCtx pauses for d or until ctx is done, whichever comes first.
func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
