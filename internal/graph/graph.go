// Package graph provides dependency resolution for task graphs.
package graph

import (
	"sort"
	"sync"

	"github.com/ShayCichocki/taskloom/pkg/models"
)

// ExecutionGroup is an ordered set of task IDs that can run concurrently.
// Every dependency of a member lies in a strictly earlier group.
type ExecutionGroup []string

// DependencyGraph represents a directed acyclic graph of task dependencies.
// Tasks are nodes, and edges represent "depends on" relationships.
type DependencyGraph struct {
	mu sync.RWMutex
	// order holds task IDs in insertion order.
	order []string
	// index maps task ID to insertion position, the final tie-break.
	index map[string]int
	// nodes maps task ID to the task itself.
	nodes map[string]*models.Task
	// edges maps task ID to IDs of in-graph tasks it depends on.
	edges map[string][]string
	// dependents is the reverse of edges.
	dependents map[string][]string
	// satisfied holds IDs outside the graph treated as already completed.
	satisfied map[string]bool
	// debugLog is an optional logging function.
	debugLog func(format string, args ...interface{})
}

// New creates a new empty dependency graph.
func New() *DependencyGraph {
	return &DependencyGraph{
		index:      make(map[string]int),
		nodes:      make(map[string]*models.Task),
		edges:      make(map[string][]string),
		dependents: make(map[string][]string),
		satisfied:  make(map[string]bool),
		debugLog:   func(format string, args ...interface{}) {}, // no-op by default
	}
}

// SetDebugLog sets the debug logging function.
func (g *DependencyGraph) SetDebugLog(fn func(format string, args ...interface{})) {
	if fn != nil {
		g.debugLog = fn
	}
}

// SetSatisfied marks IDs that are not part of the graph but count as
// completed dependencies. Used when resolving the remainder of a resumed run.
func (g *DependencyGraph) SetSatisfied(ids []string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, id := range ids {
		g.satisfied[id] = true
	}
}

// Build constructs the dependency graph from a slice of tasks.
// Returns a *GraphError for nil or duplicate tasks, unknown dependencies, or cycles.
// Build never mutates the tasks.
func (g *DependencyGraph) Build(tasks []*models.Task) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.debugLog("[graph.Build] building graph from %d tasks (%d satisfied externally)", len(tasks), len(g.satisfied))

	// First pass: register all tasks as nodes.
	for i, task := range tasks {
		if task == nil || task.ID == "" {
			return invalidTaskError(i)
		}
		if _, dup := g.nodes[task.ID]; dup {
			return duplicateError(task.ID)
		}
		g.debugLog("[graph.Build] adding task: id=%s tool=%s depends_on=%v", task.ID, task.Tool, task.DependsOn)
		g.index[task.ID] = len(g.order)
		g.order = append(g.order, task.ID)
		g.nodes[task.ID] = task
		g.edges[task.ID] = nil
	}

	// Second pass: build edges from DependsOn fields.
	for _, id := range g.order {
		task := g.nodes[id]
		seen := make(map[string]bool, len(task.DependsOn))
		for _, depID := range task.DependsOn {
			if seen[depID] {
				continue
			}
			seen[depID] = true
			if _, exists := g.nodes[depID]; !exists {
				if g.satisfied[depID] {
					continue
				}
				return unknownDependencyError(id, depID)
			}
			g.edges[id] = append(g.edges[id], depID)
			g.dependents[depID] = append(g.dependents[depID], id)
		}
	}

	if path := g.findCycleLocked(); path != nil {
		g.debugLog("[graph.Build] cycle detected: %v", path)
		return cycleError(path)
	}

	g.debugLog("[graph.Build] graph built successfully with %d nodes", len(g.nodes))
	return nil
}

// HasCycle returns true if the graph contains a circular dependency.
func (g *DependencyGraph) HasCycle() bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.findCycleLocked() != nil
}

// findCycleLocked runs a depth-first search with coloring and returns the
// first cycle found as a depends-on chain, or nil. Assumes the lock is held.
func (g *DependencyGraph) findCycleLocked() []string {
	// Color states: 0 = white (unvisited), 1 = gray (in progress), 2 = black (done).
	colors := make(map[string]int, len(g.nodes))
	var stack []string
	var cycle []string

	var visit func(id string) bool
	visit = func(id string) bool {
		colors[id] = 1
		stack = append(stack, id)

		for _, depID := range g.edges[id] {
			switch colors[depID] {
			case 1:
				// Back edge. The cycle is the stack suffix starting at depID.
				for i := len(stack) - 1; i >= 0; i-- {
					if stack[i] == depID {
						cycle = append(append([]string(nil), stack[i:]...), depID)
						break
					}
				}
				return true
			case 0:
				if visit(depID) {
					return true
				}
			}
		}

		stack = stack[:len(stack)-1]
		colors[id] = 2
		return false
	}

	for _, id := range g.order {
		if colors[id] == 0 && visit(id) {
			return cycle
		}
	}
	return nil
}

// Groups layers the graph into execution groups by repeatedly extracting
// the tasks whose dependencies all lie in earlier groups. Within a group,
// tasks are ordered by ascending priority, then insertion order.
// Must only be called on a successfully built graph.
func (g *DependencyGraph) Groups() []ExecutionGroup {
	g.mu.RLock()
	defer g.mu.RUnlock()

	indegree := make(map[string]int, len(g.nodes))
	var current []string
	for _, id := range g.order {
		indegree[id] = len(g.edges[id])
		if indegree[id] == 0 {
			current = append(current, id)
		}
	}

	var groups []ExecutionGroup
	for len(current) > 0 {
		g.sortLocked(current)
		groups = append(groups, ExecutionGroup(current))
		g.debugLog("[graph.Groups] group %d: %v", len(groups)-1, current)

		var next []string
		for _, id := range current {
			for _, dep := range g.dependents[id] {
				indegree[dep]--
				if indegree[dep] == 0 {
					next = append(next, dep)
				}
			}
		}
		current = next
	}
	return groups
}

func (g *DependencyGraph) sortLocked(ids []string) {
	sort.SliceStable(ids, func(i, j int) bool {
		a, b := g.nodes[ids[i]], g.nodes[ids[j]]
		if a.Priority != b.Priority {
			return a.Priority < b.Priority
		}
		return g.index[ids[i]] < g.index[ids[j]]
	})
}

// Task returns the task for a given ID, or nil if not found.
func (g *DependencyGraph) Task(taskID string) *models.Task {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.nodes[taskID]
}

// Tasks returns all tasks in insertion order.
func (g *DependencyGraph) Tasks() []*models.Task {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]*models.Task, 0, len(g.order))
	for _, id := range g.order {
		out = append(out, g.nodes[id])
	}
	return out
}

// Size returns the number of tasks in the graph.
func (g *DependencyGraph) Size() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.nodes)
}

// Dependencies returns the in-graph IDs the given task depends on.
// Externally satisfied dependencies are not included.
func (g *DependencyGraph) Dependencies(taskID string) []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return append([]string(nil), g.edges[taskID]...)
}

// Dependents returns the IDs of tasks that directly depend on the given task.
func (g *DependencyGraph) Dependents(taskID string) []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return append([]string(nil), g.dependents[taskID]...)
}

// TransitiveDependents returns every task reachable through dependents of
// taskID, in insertion order.
func (g *DependencyGraph) TransitiveDependents(taskID string) []string {
	g.mu.RLock()
	defer g.mu.RUnlock()

	reached := make(map[string]bool)
	queue := append([]string(nil), g.dependents[taskID]...)
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		if reached[id] {
			continue
		}
		reached[id] = true
		queue = append(queue, g.dependents[id]...)
	}

	out := make([]string, 0, len(reached))
	for _, id := range g.order {
		if reached[id] {
			out = append(out, id)
		}
	}
	return out
}

// Resolve validates tasks and returns their execution groups.
func Resolve(tasks []*models.Task) ([]ExecutionGroup, error) {
	_, groups, err := ResolveRemaining(tasks, nil)
	return groups, err
}

// ResolveRemaining is Resolve for a partial run: IDs in satisfied are not
// in tasks but count as completed dependencies.
func ResolveRemaining(tasks []*models.Task, satisfied []string) (*DependencyGraph, []ExecutionGroup, error) {
	g := New()
	g.SetSatisfied(satisfied)
	if err := g.Build(tasks); err != nil {
		return nil, nil, err
	}
	return g, g.Groups(), nil
}
