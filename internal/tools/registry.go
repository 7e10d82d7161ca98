// Package tools provides the tool registry and the builtin read-only
// project-management tools the executor can dispatch.
package tools

import (
	"sync"

	"github.com/phancao/Project-Management-Agent-sub011/internal/agent/ports"
)

// Registry resolves tool names to implementations. Registration happens at
// startup; lookups are concurrent.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]ports.Tool
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]ports.Tool)}
}

// Register adds a tool, replacing any previous tool of the same name.
func (r *Registry) Register(tool ports.Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[tool.Definition().Name] = tool
}

// Get returns the tool for name or a typed NOT_FOUND error.
func (r *Registry) Get(name string) (ports.Tool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if tool, ok := r.tools[name]; ok {
		return tool, nil
	}
	return nil, ports.NewToolError(ports.ToolErrNotFound, name, "tool not registered", nil)
}

// List returns the definitions of every registered tool.
func (r *Registry) List() []ports.ToolDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	defs := make([]ports.ToolDefinition, 0, len(r.tools))
	for _, tool := range r.tools {
		defs = append(defs, tool.Definition())
	}
	return defs
}
