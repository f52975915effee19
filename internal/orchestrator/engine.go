package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"

	"github.com/ShayCichocki/taskloom/internal/graph"
	"github.com/ShayCichocki/taskloom/internal/planner"
	"github.com/ShayCichocki/taskloom/internal/session"
	"github.com/ShayCichocki/taskloom/pkg/models"
)

// ToolInvoker runs a named capability. Implementations report ambiguity as
// an outcome, never as an error.
type ToolInvoker interface {
	Invoke(ctx context.Context, tool string, params map[string]any) models.Outcome
}

// ToolCatalog is implemented by invokers that can describe their tools.
// Without it, plans are not checked against tool names and no tool counts
// as mutating.
type ToolCatalog interface {
	Specs() []planner.ToolSpec
	IsMutating(tool string) bool
}

// Engine plans, resolves and executes task graphs for users, suspending on
// ambiguity and resuming on the caller's answer.
type Engine struct {
	tools    ToolInvoker
	catalog  ToolCatalog
	sessions session.Store
	planner  planner.Planner
	gate     *ConfirmationGate
	emitter  *EventEmitter
	logger   *DebugLogger
	tracer   trace.Tracer

	toolTimeout    time.Duration
	maxConcurrency int
	historySize    int
	now            func() time.Time
	newID          func() string
}

// New creates an Engine.
func New(req RequiredConfig, opts ...Option) *Engine {
	o := defaultOptions()
	for _, opt := range opts {
		opt(o)
	}

	e := &Engine{
		tools:          req.Tools,
		sessions:       req.Sessions,
		planner:        o.planner,
		gate:           NewConfirmationGate(o.confirmationTimeout, o.now),
		emitter:        o.emitter,
		logger:         o.logger,
		tracer:         o.tracer,
		toolTimeout:    o.toolTimeout,
		maxConcurrency: o.maxConcurrency,
		historySize:    o.historySize,
		now:            o.now,
		newID:          o.newID,
	}
	if c, ok := req.Tools.(ToolCatalog); ok {
		e.catalog = c
	}
	if e.logger == nil {
		e.logger = NopLogger()
	}
	if e.tracer == nil {
		e.tracer = defaultTracer()
	}
	if e.newID == nil {
		e.newID = func() string { return uuid.New().String() }
	}
	setPackageLogger(e.logger)
	return e
}

// Events returns the progress event channel, or nil without an emitter.
func (e *Engine) Events() <-chan ProgressEvent {
	if e.emitter == nil {
		return nil
	}
	return e.emitter.Events()
}

// Gate returns the confirmation gate.
func (e *Engine) Gate() *ConfirmationGate {
	return e.gate
}

// Run plans request with the configured planner and executes the plan.
func (e *Engine) Run(ctx context.Context, userID, request string) (*models.RunResult, error) {
	if e.planner == nil {
		return nil, &PlanningError{Reason: "no planner configured"}
	}

	release, err := e.sessions.Acquire(ctx, userID)
	if err != nil {
		return nil, err
	}
	defer release()

	sess, err := e.openSession(userID)
	if err != nil {
		return nil, err
	}

	tasks, err := e.planner.Decompose(ctx, request, e.toolSpecs(), sess.Summary())
	if err != nil {
		return nil, &PlanningError{Reason: "planner failed", Err: err}
	}
	e.logger.Log("[engine] planner produced %d tasks for user %s", len(tasks), userID)
	return e.start(ctx, sess, tasks)
}

// Execute runs an already planned task list.
func (e *Engine) Execute(ctx context.Context, userID string, tasks []*models.Task) (*models.RunResult, error) {
	release, err := e.sessions.Acquire(ctx, userID)
	if err != nil {
		return nil, err
	}
	defer release()

	sess, err := e.openSession(userID)
	if err != nil {
		return nil, err
	}
	return e.start(ctx, sess, tasks)
}

// Resume continues the user's suspended run with res.
func (e *Engine) Resume(ctx context.Context, userID string, res models.Resolution) (*models.RunResult, error) {
	release, err := e.sessions.Acquire(ctx, userID)
	if err != nil {
		return nil, err
	}
	defer release()

	sess, err := e.existingSession(userID)
	if err != nil {
		return nil, err
	}
	pending := sess.Pending
	if pending == nil {
		return nil, ErrNoPendingConfirmation
	}
	if e.gate.Expired(pending) {
		sess.Pending = nil
		if err := e.sessions.Put(sess); err != nil {
			return nil, err
		}
		return nil, &ConfirmationTimeoutError{TaskID: pending.TaskID}
	}

	replacement, cancel, err := e.gate.Resolve(pending, res)
	if err != nil {
		return nil, err
	}
	if cancel {
		return e.cancelPending(sess, pending, "cancelled at confirmation")
	}
	if e.catalog != nil && !e.knownTool(replacement.Tool) {
		return nil, &InvalidResolutionError{Input: replacement.Tool, Reason: "unknown tool " + replacement.Tool}
	}

	remaining, err := Splice(pending, replacement)
	if err != nil {
		return nil, err
	}

	completedIDs := make([]string, 0, len(pending.Completed))
	for id := range pending.Completed {
		completedIDs = append(completedIDs, id)
	}
	g, groups, err := e.resolve(remaining, completedIDs)
	if err != nil {
		// A replacement that breaks the graph is a bad answer; keep the question.
		return nil, &InvalidResolutionError{Input: replacement.ID, Reason: err.Error()}
	}

	e.logger.Log("[engine] resuming run %s for user %s with %s (%d tasks left)", pending.RunID, userID, replacement.ID, len(remaining))
	sess.Pending = nil

	r := newRun(pending.RunID, userID, sess, g, groups)
	r.preload(sortedCompleted(pending.Completed), pending.Failed)

	ctx, span := e.startRunSpan(ctx, "resume", r.id, userID, len(remaining))
	result := e.runLoop(ctx, r)
	e.endRunSpan(span, string(result.Status), nil)

	if err := e.sessions.Put(sess); err != nil {
		return result, err
	}
	return result, nil
}

// Cancel discards the user's suspended run. Completed tasks stay applied.
func (e *Engine) Cancel(ctx context.Context, userID, reason string) (*models.RunResult, error) {
	release, err := e.sessions.Acquire(ctx, userID)
	if err != nil {
		return nil, err
	}
	defer release()

	sess, err := e.existingSession(userID)
	if err != nil {
		return nil, err
	}
	if sess.Pending == nil {
		return nil, ErrNoPendingConfirmation
	}
	if reason == "" {
		reason = "cancelled by user"
	}
	return e.cancelPending(sess, sess.Pending, reason)
}

// Pending returns the user's outstanding confirmation, or ErrNoPendingConfirmation.
func (e *Engine) Pending(userID string) (*models.ConfirmationPayload, error) {
	sess, err := e.existingSession(userID)
	if err != nil {
		return nil, err
	}
	if sess.Pending == nil {
		return nil, ErrNoPendingConfirmation
	}
	return e.gate.Payload(sess.Pending), nil
}

// start validates and executes a fresh plan in sess.
func (e *Engine) start(ctx context.Context, sess *models.Session, tasks []*models.Task) (*models.RunResult, error) {
	runID := e.newID()

	if sess.Pending != nil {
		if !e.gate.Expired(sess.Pending) {
			return nil, ErrConfirmationPending
		}
		e.logger.Log("[engine] dropping expired confirmation for run %s", sess.Pending.RunID)
		sess.Pending = nil
	}

	if len(tasks) == 0 {
		sess.RunCount++
		if err := e.sessions.Put(sess); err != nil {
			return nil, err
		}
		return &models.RunResult{
			RunID:     runID,
			SessionID: sess.ID,
			Status:    models.RunCompleted,
			Summary:   "No actionable tasks.",
			Progress:  models.ComputeProgress(nil, false),
		}, nil
	}

	if e.catalog != nil {
		if err := planner.ValidatePlan(tasks, planner.ToolNames(e.catalog.Specs())); err != nil {
			return nil, &PlanningError{Reason: "plan rejected", Err: err}
		}
	}

	// Tasks are owned by the run from here on.
	owned := models.CloneTasks(tasks)
	for _, t := range owned {
		if t != nil {
			t.Status = models.TaskStatusPending
			t.Result, t.Error, t.CompletedAt, t.UsedFallback = nil, "", nil, false
		}
	}

	g, groups, err := e.resolve(owned, nil)
	if err != nil {
		return nil, wrapGraphError(err)
	}

	sess.RunCount++
	r := newRun(runID, sess.UserID, sess, g, groups)

	ctx, span := e.startRunSpan(ctx, "execute", runID, sess.UserID, len(owned))
	result := e.runLoop(ctx, r)
	e.endRunSpan(span, string(result.Status), nil)

	if err := e.sessions.Put(sess); err != nil {
		return result, err
	}
	return result, nil
}

// resolve builds the dependency graph with satisfied IDs treated as done.
func (e *Engine) resolve(tasks []*models.Task, satisfied []string) (*graph.DependencyGraph, []graph.ExecutionGroup, error) {
	g := graph.New()
	g.SetDebugLog(debugLog)
	g.SetSatisfied(satisfied)
	if err := g.Build(tasks); err != nil {
		return nil, nil, err
	}
	return g, g.Groups(), nil
}

func (e *Engine) cancelPending(sess *models.Session, pending *models.ConfirmationContext, reason string) (*models.RunResult, error) {
	completed := sortedCompleted(pending.Completed)

	rollback := false
	for _, t := range completed {
		if e.isMutating(toolUsed(t)) {
			rollback = true
			break
		}
	}

	tasks := make([]*models.Task, 0, len(completed)+len(pending.Failed)+len(pending.Remaining))
	tasks = append(tasks, completed...)
	tasks = append(tasks, models.CloneTasks(pending.Failed)...)
	for _, t := range models.CloneTasks(pending.Remaining) {
		t.Status = models.TaskStatusPending
		tasks = append(tasks, t)
	}

	sess.Pending = nil
	if err := e.sessions.Put(sess); err != nil {
		return nil, err
	}

	progress := models.ComputeProgress(tasks, false)
	result := &models.RunResult{
		RunID:            pending.RunID,
		SessionID:        sess.ID,
		Status:           models.RunCancelled,
		Tasks:            tasks,
		Progress:         progress,
		CancelReason:     reason,
		RollbackRequired: rollback,
	}
	result.Summary = BuildSummary(result)

	e.emit(ProgressEvent{
		Type:     EventRunCancelled,
		RunID:    pending.RunID,
		UserID:   sess.UserID,
		Message:  reason,
		Progress: &progress,
	})
	e.logger.Log("[engine] run %s cancelled: %s (rollback required: %v)", pending.RunID, reason, rollback)
	return result, nil
}

// openSession loads or creates the user's session.
func (e *Engine) openSession(userID string) (*models.Session, error) {
	sess, err := e.sessions.GetOrCreate(userID)
	if err != nil {
		return nil, fmt.Errorf("open session: %w", err)
	}
	return sess, nil
}

// existingSession loads the user's session, failing if it is gone.
func (e *Engine) existingSession(userID string) (*models.Session, error) {
	sess, err := e.sessions.Get(userID)
	if errors.Is(err, session.ErrNotFound) || errors.Is(err, session.ErrExpired) {
		return nil, &SessionExpiredError{UserID: userID, Err: err}
	}
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}
	return sess, nil
}

func (e *Engine) toolSpecs() []planner.ToolSpec {
	if e.catalog == nil {
		return nil
	}
	return e.catalog.Specs()
}

func (e *Engine) knownTool(name string) bool {
	for _, s := range e.catalog.Specs() {
		if s.Name == name {
			return true
		}
	}
	return false
}

func (e *Engine) isMutating(tool string) bool {
	return e.catalog != nil && e.catalog.IsMutating(tool)
}

func (e *Engine) emit(ev ProgressEvent) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = e.now()
	}
	e.emitter.Emit(ev)
}

// toolUsed is the capability that actually produced t's result.
func toolUsed(t *models.Task) string {
	if t.UsedFallback && t.FallbackTool != "" {
		return t.FallbackTool
	}
	return t.Tool
}

// sortedCompleted orders a completed snapshot by completion time, then ID.
func sortedCompleted(completed map[string]*models.Task) []*models.Task {
	out := make([]*models.Task, 0, len(completed))
	for _, t := range completed {
		out = append(out, t.Clone())
	}
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i].CompletedAt, out[j].CompletedAt
		if a != nil && b != nil && !a.Equal(*b) {
			return a.Before(*b)
		}
		return out[i].ID < out[j].ID
	})
	return out
}
