package graph

import (
	"errors"
	"fmt"
	"math/rand"
	"reflect"
	"testing"

	"github.com/ShayCichocki/taskloom/pkg/models"
)

func task(id string, priority int, deps ...string) *models.Task {
	return &models.Task{ID: id, Tool: "noop", Priority: priority, DependsOn: deps, Status: models.TaskStatusPending}
}

func TestNew(t *testing.T) {
	g := New()
	if g == nil {
		t.Fatal("expected non-nil graph")
	}
	if g.Size() != 0 {
		t.Errorf("expected empty graph, got size %d", g.Size())
	}
}

func TestResolve_Diamond(t *testing.T) {
	tasks := []*models.Task{
		task("A", 2),
		task("B", 2, "A"),
		task("C", 2, "A"),
		task("D", 2, "B", "C"),
	}

	groups, err := Resolve(tasks)
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}

	want := []ExecutionGroup{{"A"}, {"B", "C"}, {"D"}}
	if !reflect.DeepEqual(groups, want) {
		t.Errorf("groups = %v, want %v", groups, want)
	}
}

func TestResolve_PriorityTieBreak(t *testing.T) {
	tests := []struct {
		name  string
		tasks []*models.Task
		want  ExecutionGroup
	}{
		{
			name:  "insertion order on equal priority",
			tasks: []*models.Task{task("x", 2), task("y", 2), task("z", 2)},
			want:  ExecutionGroup{"x", "y", "z"},
		},
		{
			name:  "lower priority value first",
			tasks: []*models.Task{task("x", 3), task("y", 1), task("z", 2)},
			want:  ExecutionGroup{"y", "z", "x"},
		},
		{
			name:  "mixed priority keeps insertion within ties",
			tasks: []*models.Task{task("x", 2), task("y", 1), task("z", 2), task("w", 1)},
			want:  ExecutionGroup{"y", "w", "x", "z"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			groups, err := Resolve(tt.tasks)
			if err != nil {
				t.Fatalf("Resolve failed: %v", err)
			}
			if len(groups) != 1 {
				t.Fatalf("expected 1 group, got %d", len(groups))
			}
			if !reflect.DeepEqual(groups[0], tt.want) {
				t.Errorf("group = %v, want %v", groups[0], tt.want)
			}
		})
	}
}

func TestResolve_Cycle(t *testing.T) {
	// A depends on C, C on B, B on A.
	tasks := []*models.Task{
		task("A", 2, "C"),
		task("B", 2, "A"),
		task("C", 2, "B"),
	}

	_, err := Resolve(tasks)
	if !errors.Is(err, ErrCycleDetected) {
		t.Fatalf("expected ErrCycleDetected, got %v", err)
	}

	var gerr *GraphError
	if !errors.As(err, &gerr) {
		t.Fatalf("expected *GraphError, got %T", err)
	}
	if len(gerr.Path) != 4 || gerr.Path[0] != gerr.Path[len(gerr.Path)-1] {
		t.Errorf("cycle path = %v, want closed 3-cycle", gerr.Path)
	}
}

func TestResolve_SelfLoop(t *testing.T) {
	_, err := Resolve([]*models.Task{task("A", 2, "A")})
	if !errors.Is(err, ErrCycleDetected) {
		t.Fatalf("expected ErrCycleDetected, got %v", err)
	}
}

func TestResolve_ValidationErrors(t *testing.T) {
	tests := []struct {
		name  string
		tasks []*models.Task
		want  error
	}{
		{"unknown dependency", []*models.Task{task("A", 2, "ghost")}, ErrUnknownDependency},
		{"duplicate id", []*models.Task{task("A", 2), task("A", 1)}, ErrDuplicateTask},
		{"empty id", []*models.Task{task("", 2)}, ErrInvalidTask},
		{"nil task", []*models.Task{nil}, ErrInvalidTask},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Resolve(tt.tasks)
			if !errors.Is(err, tt.want) {
				t.Errorf("err = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestResolve_Empty(t *testing.T) {
	groups, err := Resolve(nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(groups) != 0 {
		t.Errorf("expected no groups, got %v", groups)
	}
}

func TestResolveRemaining_SatisfiedDependencies(t *testing.T) {
	// A and C already completed in an earlier part of the run.
	remaining := []*models.Task{
		task("B_oldest", 2, "A"),
		task("D", 2, "B_oldest", "C"),
	}

	g, groups, err := ResolveRemaining(remaining, []string{"A", "C"})
	if err != nil {
		t.Fatalf("ResolveRemaining failed: %v", err)
	}
	want := []ExecutionGroup{{"B_oldest"}, {"D"}}
	if !reflect.DeepEqual(groups, want) {
		t.Errorf("groups = %v, want %v", groups, want)
	}
	if deps := g.Dependencies("D"); !reflect.DeepEqual(deps, []string{"B_oldest"}) {
		t.Errorf("Dependencies(D) = %v, want [B_oldest]", deps)
	}

	// Without the satisfied set the same remainder is invalid.
	if _, _, err := ResolveRemaining(remaining, nil); !errors.Is(err, ErrUnknownDependency) {
		t.Errorf("expected ErrUnknownDependency without satisfied set, got %v", err)
	}
}

func TestDependents(t *testing.T) {
	g := New()
	tasks := []*models.Task{
		task("A", 2),
		task("B", 2, "A"),
		task("C", 2, "B"),
		task("D", 2),
		task("E", 2, "C", "D"),
	}
	if err := g.Build(tasks); err != nil {
		t.Fatalf("Build failed: %v", err)
	}

	if got := g.Dependents("A"); !reflect.DeepEqual(got, []string{"B"}) {
		t.Errorf("Dependents(A) = %v, want [B]", got)
	}
	if got := g.TransitiveDependents("A"); !reflect.DeepEqual(got, []string{"B", "C", "E"}) {
		t.Errorf("TransitiveDependents(A) = %v, want [B C E]", got)
	}
	if got := g.TransitiveDependents("E"); len(got) != 0 {
		t.Errorf("TransitiveDependents(E) = %v, want none", got)
	}
}

// TestResolve_GroupsPartitionRandomDAGs checks on random acyclic graphs that
// every task appears exactly once and each dependency sits in an earlier group.
func TestResolve_GroupsPartitionRandomDAGs(t *testing.T) {
	rng := rand.New(rand.NewSource(7))

	for iter := 0; iter < 50; iter++ {
		n := 1 + rng.Intn(30)
		tasks := make([]*models.Task, n)
		for i := 0; i < n; i++ {
			var deps []string
			// Only depend on lower indices so the graph is acyclic.
			for j := 0; j < i; j++ {
				if rng.Intn(4) == 0 {
					deps = append(deps, fmt.Sprintf("t%d", j))
				}
			}
			tasks[i] = task(fmt.Sprintf("t%d", i), 1+rng.Intn(3), deps...)
		}
		// Shuffle insertion order; layering must not depend on it.
		rng.Shuffle(n, func(i, j int) { tasks[i], tasks[j] = tasks[j], tasks[i] })

		groups, err := Resolve(tasks)
		if err != nil {
			t.Fatalf("iter %d: Resolve failed: %v", iter, err)
		}

		groupOf := make(map[string]int)
		for gi, group := range groups {
			for _, id := range group {
				if _, dup := groupOf[id]; dup {
					t.Fatalf("iter %d: task %s placed twice", iter, id)
				}
				groupOf[id] = gi
			}
		}
		if len(groupOf) != n {
			t.Fatalf("iter %d: placed %d tasks, want %d", iter, len(groupOf), n)
		}
		for _, tk := range tasks {
			for _, dep := range tk.DependsOn {
				if groupOf[dep] >= groupOf[tk.ID] {
					t.Errorf("iter %d: %s (group %d) depends on %s (group %d)", iter, tk.ID, groupOf[tk.ID], dep, groupOf[dep])
				}
			}
		}
	}
}

func TestSetDebugLog(t *testing.T) {
	g := New()
	var lines int
	g.SetDebugLog(func(format string, args ...interface{}) { lines++ })
	g.SetDebugLog(nil) // ignored

	if err := g.Build([]*models.Task{task("A", 2)}); err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	if lines == 0 {
		t.Error("expected debug log calls")
	}
}
