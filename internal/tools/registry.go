// ABOUTME: Local tool registry for in-line synchronous tool execution
// ABOUTME: Tools are looked up by name when the upstream model requests them

package tools

import (
	"context"
	"fmt"
	"sync"

	"github.com/parleyhq/parley/internal/chat"
)

// Tool is one locally-executable capability exposed to the model.
type Tool interface {
	Name() string
	Description() string
	// Parameters returns the JSON-schema description of the arguments.
	Parameters() map[string]any
	// Execute runs the tool. The returned string is fed back to the model
	// verbatim.
	Execute(ctx context.Context, args map[string]any) (string, error)
}

// Registry holds the tools available to a gateway instance.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Tool
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]Tool)}
}

// Register adds a tool. Registering a duplicate name is an error.
func (r *Registry) Register(t Tool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[t.Name()]; exists {
		return fmt.Errorf("tool %q already registered", t.Name())
	}
	r.tools[t.Name()] = t
	return nil
}

// Get returns the tool by name.
func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// Specs returns wire specs for the named tools. Unknown names are skipped.
func (r *Registry) Specs(names []string) []chat.ToolSpec {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var specs []chat.ToolSpec
	for _, name := range names {
		t, ok := r.tools[name]
		if !ok {
			continue
		}
		specs = append(specs, chat.ToolSpec{
			Name:        t.Name(),
			Description: t.Description(),
			Parameters:  t.Parameters(),
		})
	}
	return specs
}

// Execute runs the named tool, turning unknown names into errors rather
// than panics.
func (r *Registry) Execute(ctx context.Context, name string, args map[string]any) (string, error) {
	t, ok := r.Get(name)
	if !ok {
		return "", fmt.Errorf("unknown tool %q", name)
	}
	out, err := t.Execute(ctx, args)
	if err != nil {
		return "", fmt.Errorf("executing tool %q: %w", name, err)
	}
	return out, nil
}
