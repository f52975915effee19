package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ShayCichocki/taskloom/internal/planner"
	"github.com/ShayCichocki/taskloom/internal/session"
	"github.com/ShayCichocki/taskloom/pkg/models"
)

type handler func(ctx context.Context, params map[string]any) models.Outcome

// fakeTools is a ToolInvoker and ToolCatalog recording every call.
type fakeTools struct {
	mu       sync.Mutex
	handlers map[string]handler
	mutating map[string]bool
	byTool   map[string]int
	byTag    map[string]int
	params   map[string][]map[string]any
}

func newFakeTools() *fakeTools {
	return &fakeTools{
		handlers: make(map[string]handler),
		mutating: make(map[string]bool),
		byTool:   make(map[string]int),
		byTag:    make(map[string]int),
		params:   make(map[string][]map[string]any),
	}
}

func (f *fakeTools) on(tool string, mutating bool, h handler) *fakeTools {
	f.handlers[tool] = h
	f.mutating[tool] = mutating
	return f
}

func (f *fakeTools) Invoke(ctx context.Context, tool string, params map[string]any) models.Outcome {
	f.mu.Lock()
	f.byTool[tool]++
	if tag, ok := params["tag"].(string); ok {
		f.byTag[tag]++
	}
	f.params[tool] = append(f.params[tool], params)
	h := f.handlers[tool]
	f.mu.Unlock()

	if h == nil {
		return models.Failure(fmt.Errorf("no tool %s", tool))
	}
	return h(ctx, params)
}

func (f *fakeTools) Specs() []planner.ToolSpec {
	var specs []planner.ToolSpec
	for name := range f.handlers {
		specs = append(specs, planner.ToolSpec{Name: name, Mutating: f.mutating[name]})
	}
	sort.Slice(specs, func(i, j int) bool { return specs[i].Name < specs[j].Name })
	return specs
}

func (f *fakeTools) IsMutating(tool string) bool {
	return f.mutating[tool]
}

func (f *fakeTools) toolCalls(tool string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.byTool[tool]
}

func (f *fakeTools) tagCalls(tag string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.byTag[tag]
}

func echo(_ context.Context, params map[string]any) models.Outcome {
	return models.Success(params["value"])
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func setupEngine(t *testing.T, tools *fakeTools, opts ...Option) (*Engine, *session.MemoryStore, *EventEmitter) {
	t.Helper()
	store := session.NewMemoryStore()
	emitter := NewEventEmitter(DefaultEventBufferSize)
	t.Cleanup(emitter.Close)
	opts = append([]Option{WithEventEmitter(emitter), WithLogger(NopLogger())}, opts...)
	return New(RequiredConfig{Tools: tools, Sessions: store}, opts...), store, emitter
}

func drain(em *EventEmitter) []ProgressEvent {
	var out []ProgressEvent
	for {
		select {
		case ev := <-em.Events():
			out = append(out, ev)
		default:
			return out
		}
	}
}

func task(id, tool string, deps ...string) *models.Task {
	return &models.Task{
		ID:          id,
		Description: "do " + id,
		Tool:        tool,
		DependsOn:   deps,
		Priority:    models.DefaultPriority,
		Parameters:  map[string]any{"tag": id, "value": id},
	}
}

func TestExecute_Diamond(t *testing.T) {
	tools := newFakeTools().on("echo", false, echo)
	engine, _, emitter := setupEngine(t, tools)

	d := task("D", "echo", "B", "C")
	d.Parameters["value"] = "${B}+${C}"
	result, err := engine.Execute(context.Background(), "alice", []*models.Task{
		task("A", "echo"),
		task("B", "echo", "A"),
		task("C", "echo", "A"),
		d,
	})
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if result.Status != models.RunCompleted {
		t.Fatalf("Status = %s, want completed\n%s", result.Status, result.Summary)
	}
	if got := result.Task("D").Result; got != "B+C" {
		t.Errorf("D result = %v, want B+C", got)
	}

	var groups [][]string
	for _, ev := range drain(emitter) {
		if ev.Type == EventGroupStarted {
			groups = append(groups, ev.TaskIDs)
		}
	}
	want := [][]string{{"A"}, {"B", "C"}, {"D"}}
	if !reflect.DeepEqual(groups, want) {
		t.Errorf("groups = %v, want %v", groups, want)
	}
	if !result.Progress.IsComplete || result.Progress.Percentage != 100 {
		t.Errorf("Progress = %+v", result.Progress)
	}
}

func TestExecute_EventOrder(t *testing.T) {
	tools := newFakeTools().on("echo", false, echo)
	engine, _, emitter := setupEngine(t, tools)

	_, err := engine.Execute(context.Background(), "alice", []*models.Task{
		task("A", "echo"),
		task("B", "echo", "A"),
	})
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}

	var types []EventType
	for _, ev := range drain(emitter) {
		types = append(types, ev.Type)
	}
	want := []EventType{
		EventRunStarted,
		EventGroupStarted, EventTaskCompleted,
		EventGroupStarted, EventTaskCompleted,
		EventRunCompleted,
	}
	if !reflect.DeepEqual(types, want) {
		t.Errorf("events = %v, want %v", types, want)
	}
}

func TestExecute_CycleHasNoSideEffects(t *testing.T) {
	tools := newFakeTools().on("write", true, echo)
	engine, store, _ := setupEngine(t, tools)

	_, err := engine.Execute(context.Background(), "alice", []*models.Task{
		task("A", "write", "C"),
		task("B", "write", "A"),
		task("C", "write", "B"),
	})

	var cycle *DependencyCycleError
	if !errors.As(err, &cycle) {
		t.Fatalf("err = %v, want DependencyCycleError", err)
	}
	if ErrorCode(err) != CodeDependencyCycle {
		t.Errorf("ErrorCode = %s", ErrorCode(err))
	}
	if len(cycle.Path) != 4 || cycle.Path[0] != cycle.Path[3] {
		t.Errorf("Path = %v, want closed loop of 3 tasks", cycle.Path)
	}
	if n := tools.toolCalls("write"); n != 0 {
		t.Errorf("tool invoked %d times, want 0", n)
	}
	sess, _ := store.Get("alice")
	if len(sess.History) != 0 {
		t.Errorf("len(History) = %d, want 0", len(sess.History))
	}
}

func TestExecute_PlanRejected(t *testing.T) {
	tools := newFakeTools().on("echo", false, echo)
	engine, _, _ := setupEngine(t, tools)

	_, err := engine.Execute(context.Background(), "alice", []*models.Task{task("A", "launch")})
	var perr *PlanningError
	if !errors.As(err, &perr) {
		t.Fatalf("err = %v, want PlanningError", err)
	}
	if !errors.Is(err, planner.ErrInvalidPlan) {
		t.Errorf("err = %v, want wrapped ErrInvalidPlan", err)
	}
	if tools.toolCalls("echo") != 0 {
		t.Error("no tool should run for a rejected plan")
	}
}

func TestExecute_PlaceholderReceivesExactResult(t *testing.T) {
	stored := map[string]any{
		"items": []any{
			map[string]any{"name": "milk", "qty": 2},
			map[string]any{"name": "eggs", "qty": 12},
		},
		"count": 2,
	}
	tools := newFakeTools().
		on("list", false, func(context.Context, map[string]any) models.Outcome {
			return models.Success(stored)
		}).
		on("echo", false, func(_ context.Context, p map[string]any) models.Outcome {
			return models.Success(p)
		})
	engine, _, _ := setupEngine(t, tools)

	use := task("B", "echo", "A")
	use.Parameters = map[string]any{
		"all":    "${A}",
		"items":  "${A.items}",
		"label":  "first is ${A.items.0.name}, count ${A.count}",
		"nested": []any{map[string]any{"qty": "${A.items.1.qty}"}},
	}
	result, err := engine.Execute(context.Background(), "alice", []*models.Task{task("A", "list"), use})
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}

	got := result.Task("B").Result.(map[string]any)
	if !reflect.DeepEqual(got["all"], stored) {
		t.Errorf("all = %#v, want %#v", got["all"], stored)
	}
	if !reflect.DeepEqual(got["items"], stored["items"]) {
		t.Errorf("items = %#v", got["items"])
	}
	if got["label"] != "first is milk, count 2" {
		t.Errorf("label = %v", got["label"])
	}
	nested := got["nested"].([]any)[0].(map[string]any)
	if nested["qty"] != 12 {
		t.Errorf("nested qty = %#v, want 12", nested["qty"])
	}
}

func TestExecute_PrematureReferenceFailsOnlyThatTask(t *testing.T) {
	tools := newFakeTools().on("echo", false, echo)
	engine, _, _ := setupEngine(t, tools)

	// B references C without depending on it, so C has not completed yet.
	b := task("B", "echo")
	b.Parameters["value"] = "${C.name}"
	after := task("E", "echo", "B")

	result, err := engine.Execute(context.Background(), "alice", []*models.Task{b, task("C", "echo"), after})
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}

	if got := result.Task("B"); got.Status != models.TaskStatusFailed || !strings.Contains(got.Error, "not completed") {
		t.Errorf("B = %s %q, want failed with not completed", got.Status, got.Error)
	}
	if got := result.Task("C").Status; got != models.TaskStatusCompleted {
		t.Errorf("C status = %s, want completed", got)
	}
	if got := result.Task("E").Status; got != models.TaskStatusSkipped {
		t.Errorf("E status = %s, want skipped", got)
	}
	if tools.tagCalls("B") != 0 || tools.tagCalls("E") != 0 {
		t.Error("B and E must not be invoked")
	}
	if result.Status != models.RunFailed {
		t.Errorf("Status = %s, want failed", result.Status)
	}
}

func TestExecute_FailureSkipsDependentsNotSiblings(t *testing.T) {
	tools := newFakeTools().
		on("echo", false, echo).
		on("broken", false, func(context.Context, map[string]any) models.Outcome {
			return models.Failure(errors.New("disk full"))
		})
	engine, _, emitter := setupEngine(t, tools)

	result, err := engine.Execute(context.Background(), "alice", []*models.Task{
		task("A", "broken"),
		task("S", "echo"),
		task("B", "echo", "A"),
		task("C", "echo", "B"),
		task("T", "echo", "S"),
	})
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}

	want := map[string]models.TaskStatus{
		"A": models.TaskStatusFailed,
		"S": models.TaskStatusCompleted,
		"B": models.TaskStatusSkipped,
		"C": models.TaskStatusSkipped,
		"T": models.TaskStatusCompleted,
	}
	for id, status := range want {
		if got := result.Task(id).Status; got != status {
			t.Errorf("%s status = %s, want %s", id, got, status)
		}
	}
	if !strings.Contains(result.Task("A").Error, "disk full") {
		t.Errorf("A error = %q", result.Task("A").Error)
	}

	skipped := 0
	for _, ev := range drain(emitter) {
		if ev.Type == EventTaskSkipped {
			skipped++
		}
		if ev.Type == EventTaskFailed && ev.Code != CodeTaskFailed {
			t.Errorf("task_failed code = %s, want %s", ev.Code, CodeTaskFailed)
		}
	}
	if skipped != 2 {
		t.Errorf("task_skipped events = %d, want 2", skipped)
	}
}

func TestExecute_Fallback(t *testing.T) {
	fail := func(context.Context, map[string]any) models.Outcome {
		return models.Failure(errors.New("primary down"))
	}

	t.Run("fallback succeeds", func(t *testing.T) {
		tools := newFakeTools().on("primary", false, fail).on("backup", true, echo)
		engine, store, _ := setupEngine(t, tools)

		a := task("A", "primary")
		a.FallbackTool = "backup"
		result, err := engine.Execute(context.Background(), "alice", []*models.Task{a})
		if err != nil {
			t.Fatalf("Execute failed: %v", err)
		}
		got := result.Task("A")
		if got.Status != models.TaskStatusCompleted || !got.UsedFallback {
			t.Errorf("A = %s fallback=%v, want completed via fallback", got.Status, got.UsedFallback)
		}
		if tools.toolCalls("primary") != 1 || tools.toolCalls("backup") != 1 {
			t.Errorf("calls primary=%d backup=%d, want 1 each", tools.toolCalls("primary"), tools.toolCalls("backup"))
		}
		sess, _ := store.Get("alice")
		if len(sess.History) != 1 || sess.History[0].Tool != "backup" {
			t.Errorf("History = %+v, want one backup entry", sess.History)
		}
	})

	t.Run("fallback fails", func(t *testing.T) {
		tools := newFakeTools().on("primary", false, fail).on("backup", false, func(context.Context, map[string]any) models.Outcome {
			return models.Failure(errors.New("backup down"))
		})
		engine, _, _ := setupEngine(t, tools)

		a := task("A", "primary")
		a.FallbackTool = "backup"
		result, err := engine.Execute(context.Background(), "alice", []*models.Task{a})
		if err != nil {
			t.Fatalf("Execute failed: %v", err)
		}
		got := result.Task("A")
		if got.Status != models.TaskStatusFailed {
			t.Errorf("A status = %s, want failed", got.Status)
		}
		for _, want := range []string{"primary down", "backup down"} {
			if !strings.Contains(got.Error, want) {
				t.Errorf("error %q missing %q", got.Error, want)
			}
		}
		if tools.toolCalls("backup") != 1 {
			t.Errorf("backup calls = %d, want exactly 1", tools.toolCalls("backup"))
		}
	})
}

func TestExecute_ToolTimeoutIsFailure(t *testing.T) {
	tools := newFakeTools().
		on("echo", false, echo).
		on("hang", false, func(ctx context.Context, _ map[string]any) models.Outcome {
			<-ctx.Done()
			time.Sleep(5 * time.Millisecond)
			return models.Success("too late")
		})
	engine, _, _ := setupEngine(t, tools, WithToolTimeout(20*time.Millisecond))

	result, err := engine.Execute(context.Background(), "alice", []*models.Task{task("A", "hang"), task("B", "echo")})
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if got := result.Task("A"); got.Status != models.TaskStatusFailed || !strings.Contains(got.Error, "deadline") {
		t.Errorf("A = %s %q, want failed on deadline", got.Status, got.Error)
	}
	if got := result.Task("B").Status; got != models.TaskStatusCompleted {
		t.Errorf("B status = %s, want completed", got)
	}
}

func TestExecute_PanicIsFailure(t *testing.T) {
	tools := newFakeTools().on("boom", false, func(context.Context, map[string]any) models.Outcome {
		panic("nil map")
	})
	engine, _, _ := setupEngine(t, tools)

	result, err := engine.Execute(context.Background(), "alice", []*models.Task{task("A", "boom")})
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if got := result.Task("A"); got.Status != models.TaskStatusFailed || !strings.Contains(got.Error, "panicked") {
		t.Errorf("A = %s %q", got.Status, got.Error)
	}
}

func TestExecute_HistoryKeepsTenMostRecent(t *testing.T) {
	tools := newFakeTools().on("insert", true, echo)
	engine, store, _ := setupEngine(t, tools)

	var tasks []*models.Task
	for i := 1; i <= 11; i++ {
		tasks = append(tasks, task(fmt.Sprintf("t%02d", i), "insert"))
	}
	if _, err := engine.Execute(context.Background(), "alice", tasks); err != nil {
		t.Fatalf("Execute failed: %v", err)
	}

	sess, _ := store.Get("alice")
	if len(sess.History) != 10 {
		t.Fatalf("len(History) = %d, want 10", len(sess.History))
	}
	if sess.History[0].TaskID != "t02" || sess.History[9].TaskID != "t11" {
		t.Errorf("History spans %s..%s, want t02..t11", sess.History[0].TaskID, sess.History[9].TaskID)
	}
}

// deleteTool asks for confirmation until a strategy is chosen.
func deleteTool(_ context.Context, p map[string]any) models.Outcome {
	strategy, _ := p["strategy"].(string)
	if strategy == "" {
		out := models.NeedsConfirmation("2 items named milk", models.Labels(models.MultiTargetLabels...)...)
		out.Ambiguity.Items = []any{"milk (Mon)", "milk (Fri)"}
		return out
	}
	return models.Success(map[string]any{
		"before": map[string]any{"count": 2},
		"after":  map[string]any{"deleted": strategy},
	})
}

func ambiguousPlan() []*models.Task {
	b := task("B", "delete", "A")
	b.Description = "delete milk"
	d := task("D", "echo", "B")
	d.Description = "report deletion"
	d.Parameters["value"] = "${B.after.deleted}"
	return []*models.Task{task("A", "list"), b, task("C", "echo", "A"), d}
}

func TestResume_DoesNotReinvokeCompletedSibling(t *testing.T) {
	tools := newFakeTools().
		on("list", false, echo).
		on("echo", false, echo).
		on("delete", true, deleteTool)
	engine, store, emitter := setupEngine(t, tools)
	ctx := context.Background()

	result, err := engine.Execute(ctx, "alice", ambiguousPlan())
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if result.Status != models.RunAwaitingConfirmation {
		t.Fatalf("Status = %s, want awaiting_confirmation", result.Status)
	}

	conf := result.Confirmation
	if conf.AmbiguousTaskDescription != "delete milk" {
		t.Errorf("AmbiguousTaskDescription = %q", conf.AmbiguousTaskDescription)
	}
	var labels []string
	for _, o := range conf.Options {
		labels = append(labels, o.Label)
	}
	if !reflect.DeepEqual(labels, models.MultiTargetLabels) {
		t.Errorf("labels = %v, want %v", labels, models.MultiTargetLabels)
	}
	if !reflect.DeepEqual(conf.RemainingTaskDescriptions, []string{"report deletion"}) {
		t.Errorf("RemainingTaskDescriptions = %v", conf.RemainingTaskDescriptions)
	}
	if !strings.Contains(conf.Prompt, "1. report deletion") {
		t.Errorf("prompt missing numbered chain:\n%s", conf.Prompt)
	}

	sess, _ := store.Get("alice")
	if sess.Pending == nil {
		t.Fatal("expected pending confirmation in session")
	}
	if c := sess.Pending.Completed["C"]; c == nil || c.Result != "C" {
		t.Errorf("pending context lost sibling result: %+v", sess.Pending.Completed)
	}

	events := drain(emitter)
	if last := events[len(events)-1]; last.Type != EventAwaitingConfirmation {
		t.Errorf("last event = %s, want awaiting_confirmation", last.Type)
	}

	resumed, err := engine.Resume(ctx, "alice", models.Resolution{Label: "oldest"})
	if err != nil {
		t.Fatalf("Resume failed: %v", err)
	}
	if resumed.Status != models.RunCompleted {
		t.Fatalf("resumed Status = %s, want completed\n%s", resumed.Status, resumed.Summary)
	}
	if resumed.RunID != result.RunID {
		t.Errorf("RunID changed across resume: %s -> %s", result.RunID, resumed.RunID)
	}

	if n := tools.tagCalls("A"); n != 1 {
		t.Errorf("A invoked %d times, want 1", n)
	}
	if n := tools.tagCalls("C"); n != 1 {
		t.Errorf("C invoked %d times, want 1", n)
	}
	if got := resumed.Task("B_oldest"); got == nil || got.Status != models.TaskStatusCompleted {
		t.Fatalf("B_oldest = %+v, want completed", got)
	}
	if got := resumed.Task("D").Result; got != "oldest" {
		t.Errorf("D result = %v, want oldest (placeholder re-pointed to replacement)", got)
	}
	if resumed.Task("C") == nil {
		t.Error("resumed result should include completed sibling C")
	}

	sess, _ = store.Get("alice")
	if sess.Pending != nil {
		t.Error("pending confirmation should be cleared after resume")
	}
	if len(sess.History) != 1 {
		t.Fatalf("len(History) = %d, want 1", len(sess.History))
	}
	entry := sess.History[0]
	if entry.TaskID != "B_oldest" || entry.Tool != "delete" {
		t.Errorf("entry = %+v", entry)
	}
	if !reflect.DeepEqual(entry.Before, map[string]any{"count": 2}) {
		t.Errorf("Before = %#v", entry.Before)
	}
}

func TestResume_ExplicitReplacementTask(t *testing.T) {
	tools := newFakeTools().
		on("list", false, echo).
		on("echo", false, echo).
		on("delete", true, deleteTool)
	engine, _, _ := setupEngine(t, tools)
	ctx := context.Background()

	if _, err := engine.Execute(ctx, "alice", ambiguousPlan()); err != nil {
		t.Fatalf("Execute failed: %v", err)
	}

	replacement := &models.Task{
		ID:         "B_pick",
		Tool:       "delete",
		Parameters: map[string]any{"strategy": "id-42"},
	}
	resumed, err := engine.Resume(ctx, "alice", models.Resolution{Task: replacement})
	if err != nil {
		t.Fatalf("Resume failed: %v", err)
	}
	got := resumed.Task("B_pick")
	if got == nil || got.Status != models.TaskStatusCompleted {
		t.Fatalf("B_pick = %+v", got)
	}
	if !reflect.DeepEqual(got.DependsOn, []string{"A"}) {
		t.Errorf("DependsOn = %v, want inherited [A]", got.DependsOn)
	}
	if resumed.Task("D").Result != "id-42" {
		t.Errorf("D result = %v", resumed.Task("D").Result)
	}
}

func TestResume_ReplacementCollidingWithCompletedTask(t *testing.T) {
	tools := newFakeTools().
		on("list", false, echo).
		on("echo", false, echo).
		on("delete", true, deleteTool)
	engine, _, _ := setupEngine(t, tools)
	ctx := context.Background()

	engine.Execute(ctx, "alice", ambiguousPlan())

	_, err := engine.Resume(ctx, "alice", models.Resolution{Task: &models.Task{ID: "C", Tool: "delete"}})
	var invalid *InvalidResolutionError
	if !errors.As(err, &invalid) {
		t.Fatalf("err = %v, want InvalidResolutionError", err)
	}
	if _, err := engine.Pending("alice"); err != nil {
		t.Errorf("pending confirmation should be kept: %v", err)
	}
}

func TestResume_ReplacementCollidingWithFailedTask(t *testing.T) {
	tools := newFakeTools().
		on("list", false, echo).
		on("echo", false, echo).
		on("delete", true, deleteTool).
		on("boom", false, func(context.Context, map[string]any) models.Outcome {
			return models.Failure(errors.New("boom"))
		})
	engine, _, _ := setupEngine(t, tools)
	ctx := context.Background()

	plan := append(ambiguousPlan(), task("F", "boom", "A"))
	result, err := engine.Execute(ctx, "alice", plan)
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if result.Status != models.RunAwaitingConfirmation {
		t.Fatalf("Status = %s, want awaiting_confirmation", result.Status)
	}

	replacement := &models.Task{ID: "F", Tool: "delete", Parameters: map[string]any{"strategy": "x"}}
	_, err = engine.Resume(ctx, "alice", models.Resolution{Task: replacement})
	var invalid *InvalidResolutionError
	if !errors.As(err, &invalid) {
		t.Fatalf("err = %v, want InvalidResolutionError", err)
	}
	if n := tools.toolCalls("delete"); n != 1 {
		t.Errorf("delete called %d times, want 1", n)
	}
	if _, err := engine.Pending("alice"); err != nil {
		t.Errorf("pending confirmation should be kept: %v", err)
	}
}

func TestExecute_LongRunKeepsSessionAlive(t *testing.T) {
	clock := newTestClock()
	slow := func(ctx context.Context, p map[string]any) models.Outcome {
		clock.Advance(2 * time.Minute)
		return echo(ctx, p)
	}
	tools := newFakeTools().
		on("list", false, slow).
		on("echo", false, echo).
		on("delete", true, deleteTool)
	store := session.NewMemoryStore(session.WithTTL(time.Minute), session.WithClock(clock.Now))
	engine := New(RequiredConfig{Tools: tools, Sessions: store},
		WithClock(clock.Now), WithConfirmationTimeout(0), WithLogger(NopLogger()))
	ctx := context.Background()

	result, err := engine.Execute(ctx, "alice", ambiguousPlan())
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if result.Status != models.RunAwaitingConfirmation {
		t.Fatalf("Status = %s, want awaiting_confirmation", result.Status)
	}

	evicted, err := store.Sweep(clock.Now())
	if err != nil {
		t.Fatalf("Sweep failed: %v", err)
	}
	if evicted != 0 {
		t.Errorf("Sweep evicted %d sessions right after the run parked", evicted)
	}
	if _, err := engine.Resume(ctx, "alice", models.Resolution{Label: "oldest"}); err != nil {
		t.Errorf("Resume failed: %v", err)
	}
}

func TestResume_InvalidLabelKeepsPending(t *testing.T) {
	tools := newFakeTools().
		on("list", false, echo).
		on("echo", false, echo).
		on("delete", true, deleteTool)
	engine, _, _ := setupEngine(t, tools)
	ctx := context.Background()

	engine.Execute(ctx, "alice", ambiguousPlan())

	_, err := engine.Resume(ctx, "alice", models.Resolution{Label: "newest-ish"})
	var invalid *InvalidResolutionError
	if !errors.As(err, &invalid) {
		t.Fatalf("err = %v, want InvalidResolutionError", err)
	}
	if !reflect.DeepEqual(invalid.Expected, models.MultiTargetLabels) {
		t.Errorf("Expected = %v", invalid.Expected)
	}
	if _, err := engine.Pending("alice"); err != nil {
		t.Errorf("Pending after bad answer: %v", err)
	}

	// Numeric answers pick options by position.
	resumed, err := engine.Resume(ctx, "alice", models.Resolution{Label: "2"})
	if err != nil {
		t.Fatalf("Resume failed: %v", err)
	}
	if resumed.Task("B_latest") == nil {
		t.Error("option 2 should resolve to B_latest")
	}
}

func TestCancel(t *testing.T) {
	tools := newFakeTools().
		on("list", true, echo).
		on("echo", false, echo).
		on("delete", true, deleteTool)
	engine, store, emitter := setupEngine(t, tools)
	ctx := context.Background()

	engine.Execute(ctx, "alice", ambiguousPlan())
	drain(emitter)

	result, err := engine.Cancel(ctx, "alice", "changed my mind")
	if err != nil {
		t.Fatalf("Cancel failed: %v", err)
	}
	if result.Status != models.RunCancelled || result.CancelReason != "changed my mind" {
		t.Errorf("result = %s %q", result.Status, result.CancelReason)
	}
	if !result.RollbackRequired {
		t.Error("RollbackRequired should be set: A was mutating")
	}
	if result.Task("A").Status != models.TaskStatusCompleted || result.Task("C").Status != models.TaskStatusCompleted {
		t.Error("completed tasks must be returned")
	}
	if result.Task("D").Status != models.TaskStatusPending {
		t.Errorf("D status = %s, want pending (never run)", result.Task("D").Status)
	}

	events := drain(emitter)
	if len(events) != 1 || events[0].Type != EventRunCancelled {
		t.Errorf("events = %+v, want one run_cancelled", events)
	}

	sess, _ := store.Get("alice")
	if sess.Pending != nil {
		t.Error("pending should be cleared")
	}
	if _, err := engine.Resume(ctx, "alice", models.Resolution{Label: "oldest"}); !errors.Is(err, ErrNoPendingConfirmation) {
		t.Errorf("Resume after cancel err = %v, want ErrNoPendingConfirmation", err)
	}
}

func TestResume_CancelLabel(t *testing.T) {
	tools := newFakeTools().
		on("list", false, echo).
		on("echo", false, echo).
		on("delete", true, deleteTool)
	engine, _, _ := setupEngine(t, tools)
	ctx := context.Background()

	engine.Execute(ctx, "alice", ambiguousPlan())
	result, err := engine.Resume(ctx, "alice", models.Resolution{Label: " Cancel "})
	if err != nil {
		t.Fatalf("Resume failed: %v", err)
	}
	if result.Status != models.RunCancelled {
		t.Errorf("Status = %s, want cancelled", result.Status)
	}
	if result.RollbackRequired {
		t.Error("no mutating task completed, RollbackRequired should be false")
	}
}

func TestResume_SessionExpired(t *testing.T) {
	clock := newTestClock()
	tools := newFakeTools().
		on("list", false, echo).
		on("echo", false, echo).
		on("delete", true, deleteTool)
	store := session.NewMemoryStore(session.WithTTL(time.Minute), session.WithClock(clock.Now))
	engine := New(RequiredConfig{Tools: tools, Sessions: store}, WithClock(clock.Now), WithConfirmationTimeout(0))
	ctx := context.Background()

	engine.Execute(ctx, "alice", ambiguousPlan())
	clock.Advance(2 * time.Minute)

	_, err := engine.Resume(ctx, "alice", models.Resolution{Label: "oldest"})
	var expired *SessionExpiredError
	if !errors.As(err, &expired) {
		t.Fatalf("err = %v, want SessionExpiredError", err)
	}
	if !strings.Contains(UserMessage(err), "(code: SESSION_EXPIRED)") {
		t.Errorf("UserMessage = %q", UserMessage(err))
	}
}

func TestResume_ConfirmationTimeout(t *testing.T) {
	clock := newTestClock()
	tools := newFakeTools().
		on("list", false, echo).
		on("echo", false, echo).
		on("delete", true, deleteTool)
	store := session.NewMemoryStore(session.WithTTL(time.Hour), session.WithClock(clock.Now))
	engine := New(RequiredConfig{Tools: tools, Sessions: store}, WithClock(clock.Now), WithConfirmationTimeout(time.Minute))
	ctx := context.Background()

	engine.Execute(ctx, "alice", ambiguousPlan())
	clock.Advance(2 * time.Minute)

	_, err := engine.Resume(ctx, "alice", models.Resolution{Label: "oldest"})
	var timeout *ConfirmationTimeoutError
	if !errors.As(err, &timeout) || timeout.TaskID != "B" {
		t.Fatalf("err = %v, want ConfirmationTimeoutError for B", err)
	}
	if _, err := engine.Pending("alice"); !errors.Is(err, ErrNoPendingConfirmation) {
		t.Errorf("Pending err = %v, want ErrNoPendingConfirmation", err)
	}
}

func TestExecute_RejectedWhileConfirmationPending(t *testing.T) {
	tools := newFakeTools().
		on("list", false, echo).
		on("echo", false, echo).
		on("delete", true, deleteTool)
	engine, _, _ := setupEngine(t, tools)
	ctx := context.Background()

	engine.Execute(ctx, "alice", ambiguousPlan())

	_, err := engine.Execute(ctx, "alice", []*models.Task{task("X", "echo")})
	if !errors.Is(err, ErrConfirmationPending) {
		t.Fatalf("err = %v, want ErrConfirmationPending", err)
	}
	if tools.tagCalls("X") != 0 {
		t.Error("X must not run")
	}

	// Other users are unaffected.
	if _, err := engine.Execute(ctx, "bob", []*models.Task{task("X", "echo")}); err != nil {
		t.Errorf("Execute for bob failed: %v", err)
	}
}

func TestExecute_OnlyFirstAmbiguitySuspends(t *testing.T) {
	var mu sync.Mutex
	asked := map[string]int{}
	tools := newFakeTools().on("pick", false, func(_ context.Context, p map[string]any) models.Outcome {
		tag := p["tag"].(string)
		mu.Lock()
		asked[tag]++
		n := asked[tag]
		mu.Unlock()
		if _, chosen := p["strategy"]; !chosen && n == 1 {
			return models.NeedsConfirmation("which one?")
		}
		return models.Success(tag)
	})
	engine, store, _ := setupEngine(t, tools)
	ctx := context.Background()

	result, err := engine.Execute(ctx, "alice", []*models.Task{task("X", "pick"), task("Y", "pick")})
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if result.Confirmation.TaskID != "X" {
		t.Fatalf("suspended on %s, want X", result.Confirmation.TaskID)
	}

	sess, _ := store.Get("alice")
	rem := sess.Pending.Remaining
	if len(rem) != 2 || rem[0].ID != "X" || rem[1].ID != "Y" || rem[1].Status != models.TaskStatusPending {
		t.Fatalf("Remaining = %+v, want [X, Y(pending)]", rem)
	}

	resumed, err := engine.Resume(ctx, "alice", models.Resolution{Label: models.LabelConfirm})
	if err != nil {
		t.Fatalf("Resume failed: %v", err)
	}
	if resumed.Status != models.RunCompleted {
		t.Fatalf("Status = %s\n%s", resumed.Status, resumed.Summary)
	}
	if resumed.Task("Y").Result != "Y" {
		t.Errorf("Y result = %v", resumed.Task("Y").Result)
	}
}

func TestExecute_CancelledContextRunsNothing(t *testing.T) {
	tools := newFakeTools().on("echo", false, echo)
	engine, store, emitter := setupEngine(t, tools)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result, err := engine.Execute(ctx, "alice", []*models.Task{task("A", "echo"), task("B", "echo", "A")})
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if result.Status != models.RunCancelled {
		t.Errorf("Status = %s, want cancelled", result.Status)
	}
	if !strings.Contains(result.CancelReason, "context canceled") {
		t.Errorf("CancelReason = %q", result.CancelReason)
	}
	if tools.toolCalls("echo") != 0 {
		t.Error("no task may start after cancellation")
	}
	sess, _ := store.Get("alice")
	if sess.Pending != nil {
		t.Error("an interrupted run must not be parked")
	}
	events := drain(emitter)
	if last := events[len(events)-1]; last.Type != EventRunCancelled {
		t.Errorf("last event = %s, want run_cancelled", last.Type)
	}
}

type fakePlanner struct {
	tasks   []*models.Task
	err     error
	summary string
}

func (p *fakePlanner) Decompose(_ context.Context, _ string, _ []planner.ToolSpec, summary string) ([]*models.Task, error) {
	p.summary = summary
	return p.tasks, p.err
}

func TestRun_UsesPlanner(t *testing.T) {
	tools := newFakeTools().on("insert", true, echo)

	t.Run("empty plan", func(t *testing.T) {
		engine, _, _ := setupEngine(t, tools, WithPlanner(&fakePlanner{}))
		result, err := engine.Run(context.Background(), "alice", "hello")
		if err != nil {
			t.Fatalf("Run failed: %v", err)
		}
		if result.Status != models.RunCompleted || result.Summary != "No actionable tasks." {
			t.Errorf("result = %s %q", result.Status, result.Summary)
		}
	})

	t.Run("planner error", func(t *testing.T) {
		engine, _, _ := setupEngine(t, tools, WithPlanner(&fakePlanner{err: errors.New("rate limited")}))
		_, err := engine.Run(context.Background(), "alice", "hello")
		if ErrorCode(err) != CodePlanningFailed {
			t.Errorf("ErrorCode = %s, want %s", ErrorCode(err), CodePlanningFailed)
		}
	})

	t.Run("summary reaches planner", func(t *testing.T) {
		p := &fakePlanner{tasks: []*models.Task{task("A", "insert")}}
		engine, _, _ := setupEngine(t, tools, WithPlanner(p))
		ctx := context.Background()
		if _, err := engine.Run(ctx, "alice", "add milk"); err != nil {
			t.Fatalf("Run failed: %v", err)
		}
		if _, err := engine.Run(ctx, "alice", "add eggs"); err != nil {
			t.Fatalf("Run failed: %v", err)
		}
		if !strings.Contains(p.summary, "insert") {
			t.Errorf("planner summary = %q, want recent insert", p.summary)
		}
	})

	t.Run("no planner", func(t *testing.T) {
		engine, _, _ := setupEngine(t, tools)
		if _, err := engine.Run(context.Background(), "alice", "hello"); ErrorCode(err) != CodePlanningFailed {
			t.Errorf("err = %v", err)
		}
	})
}

func TestExecute_DoesNotMutateCallerTasks(t *testing.T) {
	tools := newFakeTools().on("echo", false, echo)
	engine, _, _ := setupEngine(t, tools)

	tasks := []*models.Task{task("A", "echo")}
	if _, err := engine.Execute(context.Background(), "alice", tasks); err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if tasks[0].Status != "" || tasks[0].Result != nil {
		t.Errorf("caller task mutated: %+v", tasks[0])
	}
}
