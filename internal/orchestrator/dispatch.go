package orchestrator

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/ShayCichocki/taskloom/pkg/models"
)

// dispatchResult is what one task's invocation produced.
type dispatchResult struct {
	outcome models.Outcome
	// tool is the capability that produced outcome.
	tool         string
	usedFallback bool
	// err is set for failures, already wrapped as ToolExecutionError.
	err error
}

// dispatchGroup invokes every task concurrently and waits for all of them.
// results[i] belongs to tasks[i]. No failure cancels a sibling.
func (e *Engine) dispatchGroup(ctx context.Context, tasks []*models.Task, params []map[string]any) []dispatchResult {
	results := make([]dispatchResult, len(tasks))

	var eg errgroup.Group
	if e.maxConcurrency > 0 {
		eg.SetLimit(e.maxConcurrency)
	}
	for i, t := range tasks {
		i := i // per-iteration copy; go.mod targets Go 1.21 loop semantics
		taskID, tool, fallback := t.ID, t.Tool, t.FallbackTool
		p := params[i]
		eg.Go(func() error {
			results[i] = e.executeTask(ctx, taskID, tool, fallback, p)
			return nil
		})
	}
	// Goroutines never return an error; Wait is only the join.
	_ = eg.Wait()
	return results
}

// executeTask runs one task, retrying once with its fallback tool on failure.
func (e *Engine) executeTask(ctx context.Context, taskID, tool, fallback string, params map[string]any) dispatchResult {
	ctx, span := e.startTaskSpan(ctx, taskID, tool)

	res := dispatchResult{tool: tool, outcome: e.invoke(ctx, tool, params)}
	if res.outcome.Kind == models.OutcomeFailure && fallback != "" {
		debugLog("[dispatch] task %s: %s failed (%v), trying fallback %s", taskID, tool, res.outcome.Err, fallback)
		first := res.outcome.Err
		res = dispatchResult{tool: fallback, usedFallback: true, outcome: e.invoke(ctx, fallback, params)}
		if res.outcome.Kind == models.OutcomeFailure {
			res.err = &ToolExecutionError{
				TaskID:       taskID,
				Tool:         tool,
				FallbackTool: fallback,
				Err:          errors.Join(first, res.outcome.Err),
			}
		}
	} else if res.outcome.Kind == models.OutcomeFailure {
		res.err = &ToolExecutionError{TaskID: taskID, Tool: tool, Err: res.outcome.Err}
	}

	e.endTaskSpan(span, res)
	return res
}

// invoke calls the tool with its own timeout. Timeouts and panics become
// failure outcomes.
func (e *Engine) invoke(ctx context.Context, tool string, params map[string]any) models.Outcome {
	callCtx := ctx
	if e.toolTimeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, e.toolTimeout)
		defer cancel()
	}

	done := make(chan models.Outcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- models.Failure(fmt.Errorf("tool %s panicked: %v", tool, r))
			}
		}()
		// Each attempt gets its own copy; tools may mutate what they receive.
		done <- e.tools.Invoke(callCtx, tool, models.CloneValue(params).(map[string]any))
	}()

	select {
	case out := <-done:
		return normalizeOutcome(tool, out)
	case <-callCtx.Done():
		// Prefer an outcome that raced the deadline.
		select {
		case out := <-done:
			return normalizeOutcome(tool, out)
		default:
		}
		return models.Failure(fmt.Errorf("tool %s: %w", tool, callCtx.Err()))
	}
}

func normalizeOutcome(tool string, out models.Outcome) models.Outcome {
	switch out.Kind {
	case models.OutcomeSuccess:
		return out
	case models.OutcomeAmbiguity:
		if out.Ambiguity == nil {
			out.Ambiguity = &models.Ambiguity{}
		}
		return out
	case models.OutcomeFailure:
		if out.Err == nil {
			out.Err = fmt.Errorf("tool %s failed", tool)
		}
		return out
	default:
		return models.Failure(fmt.Errorf("tool %s returned unknown outcome %q", tool, out.Kind))
	}
}
