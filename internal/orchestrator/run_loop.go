package orchestrator

import (
	"context"
	"fmt"

	"github.com/ShayCichocki/taskloom/internal/graph"
	"github.com/ShayCichocki/taskloom/pkg/models"
)

// run is the mutable state of one execution. It is only touched from the
// run loop's goroutine; dispatched tools see copies.
type run struct {
	id      string
	userID  string
	session *models.Session
	graph   *graph.DependencyGraph
	groups  []graph.ExecutionGroup

	// tasks lists every task of the run in report order: preloaded
	// completed and failed tasks first, then the graph's tasks.
	tasks []*models.Task
	byID  map[string]*models.Task
}

func newRun(id, userID string, sess *models.Session, g *graph.DependencyGraph, groups []graph.ExecutionGroup) *run {
	r := &run{
		id:      id,
		userID:  userID,
		session: sess,
		graph:   g,
		groups:  groups,
		byID:    make(map[string]*models.Task),
	}
	for _, t := range g.Tasks() {
		r.add(t)
	}
	return r
}

// preload adds tasks finished before a suspension, ahead of the graph's tasks.
func (r *run) preload(completed, failed []*models.Task) {
	before := make([]*models.Task, 0, len(completed)+len(failed))
	for _, t := range completed {
		before = append(before, t)
		r.byID[t.ID] = t
	}
	for _, t := range models.CloneTasks(failed) {
		before = append(before, t)
		r.byID[t.ID] = t
	}
	r.tasks = append(before, r.tasks...)
}

func (r *run) add(t *models.Task) {
	r.tasks = append(r.tasks, t)
	r.byID[t.ID] = t
}

func (r *run) completed() map[string]*models.Task {
	out := make(map[string]*models.Task)
	for _, t := range r.tasks {
		if t.Status == models.TaskStatusCompleted {
			out[t.ID] = t
		}
	}
	return out
}

func (r *run) withStatus(statuses ...models.TaskStatus) []*models.Task {
	var out []*models.Task
	for _, t := range r.tasks {
		for _, s := range statuses {
			if t.Status == s {
				out = append(out, t)
				break
			}
		}
	}
	return out
}

// runLoop walks the execution groups in order. It returns when every group
// ran, when a task needs confirmation, or when ctx is done between groups.
func (e *Engine) runLoop(ctx context.Context, r *run) *models.RunResult {
	e.logger.Log("[runLoop] run %s: %d groups", r.id, len(r.groups))
	e.emit(ProgressEvent{
		Type:    EventRunStarted,
		RunID:   r.id,
		UserID:  r.userID,
		Message: fmt.Sprintf("%d tasks in %d groups", r.graph.Size(), len(r.groups)),
	})

	for gi, group := range r.groups {
		if ctx.Err() != nil {
			return e.interrupt(r, context.Cause(ctx))
		}

		var ready []*models.Task
		for _, id := range group {
			t := r.byID[id]
			if t.Status != models.TaskStatusPending {
				// Skipped when a dependency failed.
				continue
			}
			transition(t, models.TaskStatusReady)
			ready = append(ready, t)
		}
		if len(ready) == 0 {
			continue
		}

		ids := make([]string, len(ready))
		for i, t := range ready {
			ids[i] = t.ID
		}
		e.emit(ProgressEvent{
			Type:       EventGroupStarted,
			RunID:      r.id,
			UserID:     r.userID,
			GroupIndex: gi,
			TaskIDs:    ids,
		})

		// Resolve parameters before launching anything; a bad reference
		// fails only its own task.
		var launch []*models.Task
		var params []map[string]any
		for _, t := range ready {
			p, err := resolveParams(t.ID, t.Parameters, r.byID)
			if err != nil {
				e.failTask(r, gi, t, err)
				continue
			}
			transition(t, models.TaskStatusRunning)
			launch = append(launch, t)
			params = append(params, p)
		}
		if len(launch) == 0 {
			continue
		}

		gctx, span := e.startGroupSpan(ctx, gi, ids)
		results := e.dispatchGroup(gctx, launch, params)
		span.End()

		// Classify in launch order once every sibling has finished.
		var ambiguous []int
		for i, t := range launch {
			res := results[i]
			switch res.outcome.Kind {
			case models.OutcomeSuccess:
				e.completeTask(r, gi, t, params[i], res)
			case models.OutcomeAmbiguity:
				ambiguous = append(ambiguous, i)
			default:
				e.failTask(r, gi, t, res.err)
			}
		}

		if len(ambiguous) > 0 {
			return e.suspend(r, gi, launch, results, ambiguous)
		}
	}

	return e.finish(r)
}

func (e *Engine) completeTask(r *run, gi int, t *models.Task, params map[string]any, res dispatchResult) {
	now := e.now()
	transition(t, models.TaskStatusCompleted)
	t.Result = res.outcome.Result
	t.UsedFallback = res.usedFallback
	t.CompletedAt = &now

	if e.isMutating(res.tool) {
		entry := models.OperationHistoryEntry{
			OperationID: e.newID(),
			RunID:       r.id,
			TaskID:      t.ID,
			Tool:        res.tool,
			Parameters:  params,
			After:       models.CloneValue(res.outcome.Result),
			Timestamp:   now,
		}
		if m, ok := res.outcome.Result.(map[string]any); ok {
			if before, ok := m["before"]; ok {
				entry.Before = models.CloneValue(before)
			}
			if after, ok := m["after"]; ok {
				entry.After = models.CloneValue(after)
			}
		}
		r.session.AddOperation(entry, e.historySize)
	}

	e.logger.Log("[runLoop] task %s completed via %s", t.ID, res.tool)
	e.emit(ProgressEvent{
		Type:            EventTaskCompleted,
		RunID:           r.id,
		UserID:          r.userID,
		GroupIndex:      gi,
		TaskID:          t.ID,
		TaskDescription: t.Description,
		Tool:            res.tool,
	})
}

// failTask marks t failed and skips every pending task that depends on it.
func (e *Engine) failTask(r *run, gi int, t *models.Task, err error) {
	now := e.now()
	transition(t, models.TaskStatusFailed)
	t.Error = err.Error()
	t.CompletedAt = &now

	e.logger.Log("[runLoop] task %s failed: %v", t.ID, err)
	e.emit(ProgressEvent{
		Type:            EventTaskFailed,
		RunID:           r.id,
		UserID:          r.userID,
		GroupIndex:      gi,
		TaskID:          t.ID,
		TaskDescription: t.Description,
		Tool:            t.Tool,
		Error:           err.Error(),
		Code:            ErrorCode(err),
	})

	for _, id := range r.graph.TransitiveDependents(t.ID) {
		dep := r.byID[id]
		if dep == nil || dep.Status != models.TaskStatusPending {
			continue
		}
		transition(dep, models.TaskStatusSkipped)
		dep.Error = fmt.Sprintf("skipped: dependency %s failed", t.ID)
		e.emit(ProgressEvent{
			Type:            EventTaskSkipped,
			RunID:           r.id,
			UserID:          r.userID,
			GroupIndex:      gi,
			TaskID:          dep.ID,
			TaskDescription: dep.Description,
			Message:         dep.Error,
		})
	}
}

// suspend parks the run on the first ambiguous task in launch order.
// Other ambiguous siblings go back to pending and run again after resume.
func (e *Engine) suspend(r *run, gi int, launch []*models.Task, results []dispatchResult, ambiguous []int) *models.RunResult {
	first := launch[ambiguous[0]]
	transition(first, models.TaskStatusAwaitingConfirmation)

	remaining := []*models.Task{first}
	for _, i := range ambiguous[1:] {
		t := launch[i]
		transition(t, models.TaskStatusAwaitingConfirmation)
		transition(t, models.TaskStatusPending)
		remaining = append(remaining, t)
	}
	for _, group := range r.groups[gi+1:] {
		for _, id := range group {
			if t := r.byID[id]; t.Status == models.TaskStatusPending {
				remaining = append(remaining, t)
			}
		}
	}

	failed := r.withStatus(models.TaskStatusFailed, models.TaskStatusSkipped)
	cctx := e.gate.Suspend(r.id, first, results[ambiguous[0]].outcome.Ambiguity, r.completed(), remaining, failed)
	r.session.Pending = cctx
	payload := e.gate.Payload(cctx)

	progress := models.ComputeProgress(r.tasks, true)
	result := &models.RunResult{
		RunID:        r.id,
		SessionID:    r.session.ID,
		Status:       models.RunAwaitingConfirmation,
		Tasks:        models.CloneTasks(r.tasks),
		Confirmation: payload,
		Progress:     progress,
	}
	result.Summary = BuildSummary(result)

	e.logger.Log("[runLoop] run %s awaiting confirmation on %s (%d remaining)", r.id, first.ID, len(remaining))
	e.emit(ProgressEvent{
		Type:            EventAwaitingConfirmation,
		RunID:           r.id,
		UserID:          r.userID,
		GroupIndex:      gi,
		TaskID:          first.ID,
		TaskDescription: first.Description,
		Progress:        &progress,
		Confirmation:    payload,
	})
	return result
}

func (e *Engine) finish(r *run) *models.RunResult {
	status := models.RunCompleted
	if len(r.withStatus(models.TaskStatusFailed, models.TaskStatusSkipped)) > 0 {
		status = models.RunFailed
	}

	progress := models.ComputeProgress(r.tasks, false)
	result := &models.RunResult{
		RunID:     r.id,
		SessionID: r.session.ID,
		Status:    status,
		Tasks:     models.CloneTasks(r.tasks),
		Progress:  progress,
	}
	result.Summary = BuildSummary(result)

	e.logger.Log("[runLoop] run %s finished: %s", r.id, status)
	e.emit(ProgressEvent{
		Type:     EventRunCompleted,
		RunID:    r.id,
		UserID:   r.userID,
		Message:  string(status),
		Progress: &progress,
	})
	return result
}

// interrupt ends a run whose context was cancelled between groups.
// Nothing is parked: the unstarted tasks are reported and dropped.
func (e *Engine) interrupt(r *run, cause error) *models.RunResult {
	progress := models.ComputeProgress(r.tasks, false)
	result := &models.RunResult{
		RunID:        r.id,
		SessionID:    r.session.ID,
		Status:       models.RunCancelled,
		Tasks:        models.CloneTasks(r.tasks),
		Progress:     progress,
		CancelReason: fmt.Sprintf("interrupted: %v", cause),
	}
	for _, t := range r.tasks {
		if t.Status == models.TaskStatusCompleted && e.isMutating(toolUsed(t)) {
			result.RollbackRequired = true
			break
		}
	}
	result.Summary = BuildSummary(result)

	e.logger.Log("[runLoop] run %s interrupted: %v", r.id, cause)
	e.emit(ProgressEvent{
		Type:     EventRunCancelled,
		RunID:    r.id,
		UserID:   r.userID,
		Message:  result.CancelReason,
		Progress: &progress,
	})
	return result
}

// transition moves t to next, logging moves the state machine does not allow.
func transition(t *models.Task, next models.TaskStatus) {
	if !t.Status.CanTransitionTo(next) {
		debugLog("[runLoop] unexpected transition for %s: %s -> %s", t.ID, t.Status, next)
	}
	t.Status = next
}
