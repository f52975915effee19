// Package tools maps tool names to the capabilities that run them.
package tools

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/ShayCichocki/taskloom/internal/planner"
	"github.com/ShayCichocki/taskloom/pkg/models"
)

var (
	// ErrUnknownTool is returned for a tool with no registered capability.
	ErrUnknownTool = errors.New("unknown tool")
	// ErrDuplicateTool is returned when a name is registered twice.
	ErrDuplicateTool = errors.New("tool already registered")
)

// Handler performs one capability. Ambiguity is reported through the
// outcome, never as a failure.
type Handler func(ctx context.Context, params map[string]any) models.Outcome

// Capability is one named, invocable tool.
type Capability struct {
	Name        string
	Description string
	// Mutating capabilities change external state and are recorded in the
	// session's operation history.
	Mutating bool
	Handler  Handler
}

// Registry routes tool invocations to registered capabilities.
// It is safe for concurrent use.
type Registry struct {
	mu   sync.RWMutex
	caps map[string]Capability
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{caps: make(map[string]Capability)}
}

// Register adds c. Names must be unique and non-empty.
func (r *Registry) Register(c Capability) error {
	name := strings.TrimSpace(c.Name)
	if name == "" {
		return fmt.Errorf("register capability: empty name")
	}
	if c.Handler == nil {
		return fmt.Errorf("register capability %s: nil handler", name)
	}
	c.Name = name

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.caps[name]; ok {
		return fmt.Errorf("register capability %s: %w", name, ErrDuplicateTool)
	}
	r.caps[name] = c
	return nil
}

// MustRegister is Register for static setup; it panics on error.
func (r *Registry) MustRegister(c Capability) {
	if err := r.Register(c); err != nil {
		panic(err)
	}
}

// Lookup returns the capability registered under name.
func (r *Registry) Lookup(name string) (Capability, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.caps[name]
	return c, ok
}

// Names returns the registered tool names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.caps))
	for name := range r.caps {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Specs describes every capability for a planner, sorted by name.
func (r *Registry) Specs() []planner.ToolSpec {
	names := r.Names()

	r.mu.RLock()
	defer r.mu.RUnlock()
	specs := make([]planner.ToolSpec, 0, len(names))
	for _, name := range names {
		c := r.caps[name]
		specs = append(specs, planner.ToolSpec{Name: c.Name, Description: c.Description, Mutating: c.Mutating})
	}
	return specs
}

// IsMutating reports whether tool changes external state.
func (r *Registry) IsMutating(tool string) bool {
	c, ok := r.Lookup(tool)
	return ok && c.Mutating
}

// Validate reports every catalog tool that has no registered capability.
func (r *Registry) Validate(catalog []planner.ToolSpec) error {
	var missing []string
	for _, spec := range catalog {
		if _, ok := r.Lookup(spec.Name); !ok {
			missing = append(missing, spec.Name)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("catalog tools without a handler: %s: %w", strings.Join(missing, ", "), ErrUnknownTool)
	}
	return nil
}

// Invoke runs tool with params.
func (r *Registry) Invoke(ctx context.Context, tool string, params map[string]any) models.Outcome {
	c, ok := r.Lookup(tool)
	if !ok {
		return models.Failure(fmt.Errorf("invoke %s: %w", tool, ErrUnknownTool))
	}
	return c.Handler(ctx, params)
}
