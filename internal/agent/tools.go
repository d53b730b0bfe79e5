package agent

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// ToolHandler executes a tool call and returns the result as a string.
type ToolHandler func(ctx context.Context, args map[string]any) (string, error)

// Tool describes a callable tool.
type Tool struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters,omitempty"`
	// Source is "builtin" or the name of the MCP server that serves it.
	Source string `json:"source"`
}

// ToolRegistry holds available tools and their handlers. It is shared by
// every agent and safe for concurrent use.
type ToolRegistry struct {
	mu       sync.RWMutex
	defs     map[string]Tool
	order    []string
	handlers map[string]ToolHandler
}

// NewToolRegistry creates an empty registry.
func NewToolRegistry() *ToolRegistry {
	return &ToolRegistry{
		defs:     make(map[string]Tool),
		handlers: make(map[string]ToolHandler),
	}
}

// Register adds a tool and its handler. Registering a name again replaces
// the earlier handler.
func (r *ToolRegistry) Register(def Tool, handler ToolHandler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.defs[def.Name]; !ok {
		r.order = append(r.order, def.Name)
	}
	r.defs[def.Name] = def
	r.handlers[def.Name] = handler
}

// Names lists tool names in registration order.
func (r *ToolRegistry) Names() []string {
	if r == nil {
		return nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.order...)
}

// Definitions returns all tool definitions in registration order.
func (r *ToolRegistry) Definitions() []Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Tool, 0, len(r.order))
	for _, n := range r.order {
		out = append(out, r.defs[n])
	}
	return out
}

// Execute runs a tool by name.
func (r *ToolRegistry) Execute(ctx context.Context, name string, args map[string]any) (string, error) {
	r.mu.RLock()
	h, ok := r.handlers[name]
	r.mu.RUnlock()
	if !ok {
		avail := r.Names()
		sort.Strings(avail)
		return "", fmt.Errorf("unknown tool %q, available: %s", name, strings.Join(avail, ", "))
	}
	if args == nil {
		args = map[string]any{}
	}
	return h(ctx, args)
}
