// Package tools implements the read-only vehicle-data tool catalog
// offered to the model, plus the registry and executor that run tool
// invocations on its behalf.
package tools

import (
	"context"
	"fmt"
	"sort"

	"github.com/openroad-labs/carscout/internal/llm"
)

// Handler executes one tool invocation. The returned string is the
// result content delivered to the model, usually JSON. An error
// becomes a ToolResult with error status; it never aborts the turn.
type Handler func(ctx context.Context, input map[string]any) (string, error)

// Tool pairs a model-facing spec with its executor.
type Tool struct {
	Name        string
	Description string

	// InputSchema is a JSON Schema object. Used both for the
	// model-facing catalog and to validate incoming tool input.
	InputSchema map[string]any

	Handler Handler
}

// Registry holds the tool catalog. Populated once at startup and
// read-only afterwards, so no locking.
type Registry struct {
	tools map[string]*Tool
}

// NewRegistry creates an empty tool registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]*Tool)}
}

// Register adds a tool. A duplicate name is a configuration error and
// fails fast.
func (r *Registry) Register(t *Tool) error {
	if t.Name == "" {
		return fmt.Errorf("tool has no name")
	}
	if t.Handler == nil {
		return fmt.Errorf("tool %s has no handler", t.Name)
	}
	if _, exists := r.tools[t.Name]; exists {
		return fmt.Errorf("duplicate tool name: %s", t.Name)
	}
	r.tools[t.Name] = t
	return nil
}

// Get returns a tool by name.
func (r *Registry) Get(name string) (*Tool, bool) {
	t, ok := r.tools[name]
	return t, ok
}

// Specs exports the catalog in the model-facing format, sorted by
// name for stable prompts.
func (r *Registry) Specs() []llm.ToolSpec {
	specs := make([]llm.ToolSpec, 0, len(r.tools))
	for _, t := range r.tools {
		schema := t.InputSchema
		if schema == nil {
			schema = map[string]any{"type": "object", "properties": map[string]any{}}
		}
		specs = append(specs, llm.ToolSpec{
			Name:        t.Name,
			Description: t.Description,
			InputSchema: schema,
		})
	}
	sort.Slice(specs, func(i, j int) bool { return specs[i].Name < specs[j].Name })
	return specs
}

// Names returns the registered tool names, sorted.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
