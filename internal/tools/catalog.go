package tools

import (
	"fmt"
	"os"
	"strings"
	"time"

	"go.yaml.in/yaml/v3"

	"github.com/ShayCichocki/taskloom/internal/exec"
	"github.com/ShayCichocki/taskloom/internal/planner"
)

// Catalog is the YAML tool catalog:
//
//	tools:
//	  - name: list_items
//	    description: List shopping items
//	    command: cat items.json
//	  - name: delete_item
//	    mutating: true
//	    ambiguous:
//	      reason: two items named milk
//	      items: [milk-1, milk-2]
//	      options: [oldest, latest, all]
//	      resolved: {deleted: 1}
type Catalog struct {
	Tools []ToolDef `yaml:"tools"`
}

// ToolDef declares one tool and exactly one backend.
type ToolDef struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
	Mutating    bool   `yaml:"mutating"`

	// Command is a shell script run by the command backend.
	Command string `yaml:"command,omitempty"`
	// Dir is the command's working directory.
	Dir string `yaml:"dir,omitempty"`
	// Timeout bounds one command run. Zero leaves it to the engine.
	Timeout time.Duration `yaml:"timeout,omitempty"`

	// Static is returned as-is by the static backend.
	Static any `yaml:"static,omitempty"`

	// Ambiguous describes a tool that always asks for confirmation until a
	// strategy is chosen.
	Ambiguous *AmbiguousDef `yaml:"ambiguous,omitempty"`
}

// AmbiguousDef configures the ambiguous backend.
type AmbiguousDef struct {
	Reason  string   `yaml:"reason"`
	Items   []any    `yaml:"items,omitempty"`
	Options []string `yaml:"options,omitempty"`
	// Resolved is returned once a strategy parameter is present.
	Resolved any `yaml:"resolved,omitempty"`
}

// Backend names.
const (
	BackendCommand   = "command"
	BackendStatic    = "static"
	BackendAmbiguous = "ambiguous"
)

// Backend reports which backend d declares, or an error when it declares
// none or several.
func (d ToolDef) Backend() (string, error) {
	var found []string
	if d.Command != "" {
		found = append(found, BackendCommand)
	}
	if d.Static != nil {
		found = append(found, BackendStatic)
	}
	if d.Ambiguous != nil {
		found = append(found, BackendAmbiguous)
	}
	switch len(found) {
	case 0:
		return "", fmt.Errorf("tool %s: no backend (want one of command, static, ambiguous)", d.Name)
	case 1:
		return found[0], nil
	default:
		return "", fmt.Errorf("tool %s: several backends: %s", d.Name, strings.Join(found, ", "))
	}
}

// LoadCatalog reads a YAML tool catalog from path.
func LoadCatalog(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read tool catalog: %w", err)
	}
	return ParseCatalog(data)
}

// ParseCatalog decodes and checks a YAML tool catalog.
func ParseCatalog(data []byte) (*Catalog, error) {
	var c Catalog
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("parse tool catalog: %w", err)
	}

	seen := make(map[string]bool, len(c.Tools))
	for _, d := range c.Tools {
		if strings.TrimSpace(d.Name) == "" {
			return nil, fmt.Errorf("parse tool catalog: tool with empty name")
		}
		if seen[d.Name] {
			return nil, fmt.Errorf("parse tool catalog: duplicate tool %s", d.Name)
		}
		seen[d.Name] = true
		if _, err := d.Backend(); err != nil {
			return nil, fmt.Errorf("parse tool catalog: %w", err)
		}
	}
	return &c, nil
}

// Specs describes the catalog's tools in declaration order.
func (c *Catalog) Specs() []planner.ToolSpec {
	specs := make([]planner.ToolSpec, 0, len(c.Tools))
	for _, d := range c.Tools {
		specs = append(specs, planner.ToolSpec{Name: d.Name, Description: d.Description, Mutating: d.Mutating})
	}
	return specs
}

// Build registers a capability for every catalog tool. Command tools run
// through runner.
func Build(c *Catalog, runner exec.CommandRunner) (*Registry, error) {
	r := NewRegistry()
	if err := r.RegisterCatalog(c, runner); err != nil {
		return nil, err
	}
	return r, nil
}

// RegisterCatalog adds the catalog's tools to r.
func (r *Registry) RegisterCatalog(c *Catalog, runner exec.CommandRunner) error {
	for _, d := range c.Tools {
		backend, err := d.Backend()
		if err != nil {
			return err
		}

		var h Handler
		switch backend {
		case BackendCommand:
			if runner == nil {
				return fmt.Errorf("tool %s: command backend needs a runner", d.Name)
			}
			h = CommandHandler(runner, d.Command, d.Dir, d.Timeout)
		case BackendStatic:
			h = StaticHandler(d.Static)
		case BackendAmbiguous:
			h = AmbiguousHandler(*d.Ambiguous)
		}

		if err := r.Register(Capability{
			Name:        d.Name,
			Description: d.Description,
			Mutating:    d.Mutating,
			Handler:     h,
		}); err != nil {
			return err
		}
	}
	return r.Validate(c.Specs())
}
