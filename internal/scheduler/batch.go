package scheduler

import (
	"context"
	"time"

	"github.com/Iron-Ham/tutti/internal/backlog"
	"github.com/Iron-Ham/tutti/internal/errors"
)

// taskKey identifies a task across fetches. Providers guarantee
// non-empty IDs; the title fallback covers hand-built tasks.
func taskKey(t backlog.Task) string {
	if t.ID != "" {
		return t.ID
	}
	return t.Title
}

// fetchBatch assembles the next batch. Tasks dispatched earlier in this
// run are excluded even though failed ones remain incomplete in the
// backlog; without that exclusion a permanently failing task would be
// redispatched forever.
//
// Sources that understand grouping batch the next pending task's whole
// parallel group, or the task alone when it declares none. Ungrouped
// sources batch everything still pending. Either way the batch is
// capped at the configured concurrency; the remainder of an oversized
// group is picked up by later fetches.
func (s *Scheduler) fetchBatch(attempted map[string]bool) ([]backlog.Task, error) {
	tasks, err := s.deps.Backlog.AllTasks()
	if err != nil {
		return nil, errors.Wrap(err, "reading backlog")
	}

	var pending []backlog.Task
	for _, t := range tasks {
		if !t.Completed && !attempted[taskKey(t)] {
			pending = append(pending, t)
		}
	}
	if len(pending) == 0 {
		return nil, nil
	}

	batch := pending
	if grouped, ok := s.deps.Backlog.(backlog.GroupedProvider); ok {
		head := pending[0]
		if head.Group == 0 {
			batch = pending[:1]
		} else {
			members, gerr := grouped.TasksInGroup(head.Group)
			if gerr != nil {
				return nil, errors.Wrapf(gerr, "reading task group %d", head.Group)
			}
			batch = nil
			for _, t := range members {
				if !attempted[taskKey(t)] {
					batch = append(batch, t)
				}
			}
		}
	}

	if limit := s.maxConcurrency(); len(batch) > limit {
		batch = batch[:limit]
	}
	return batch, nil
}

// dryRun walks the batch-fetch logic without dispatching agents or
// mutating the backlog. It validates that the backlog parses, grouping
// resolves, and iteration accounting behaves, and reports the tasks a
// real run would have dispatched, in batch order. The run-end webhook
// still fires when configured, flagged as a dry run.
func (s *Scheduler) dryRun(ctx context.Context, start time.Time) (*RunResult, error) {
	result := &RunResult{DryRun: true}
	processed := make(map[string]bool)

	for {
		if cerr := ctx.Err(); cerr != nil {
			return result, cerr
		}
		if maxIter := s.cfg.Run.MaxIterations; maxIter > 0 && result.Iterations >= maxIter {
			break
		}

		batch, err := s.fetchBatch(processed)
		if err != nil {
			return result, err
		}
		if len(batch) == 0 {
			break
		}
		result.Iterations++
		for _, t := range batch {
			processed[taskKey(t)] = true
			result.DryRunTasks = append(result.DryRunTasks, t)
		}
		s.log.Info("dry run batch", "iteration", result.Iterations, "tasks", len(batch))
	}

	result.Duration = time.Since(start)
	s.notifyRun(ctx, result)
	return result, nil
}
