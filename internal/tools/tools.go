// Package tools defines tool schemas, the invocation interface handed
// to the action executor, and an in-process registry implementation.
package tools

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
)

// Definition declares a callable tool: its name, a description the
// model sees, and a JSON-Schema-style parameters object. Definitions
// are passed through to the inference provider unchanged so the model
// knows what it may call.
type Definition struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

// Invoker executes a single tool call. Implementations may run tools
// in-process, shell out, or route through a container sandbox; the
// executor does not care. The context carries the per-call timeout.
type Invoker interface {
	Invoke(ctx context.Context, name string, args map[string]any) (string, error)
}

// Handler is the function signature for in-process tool implementations.
type Handler func(ctx context.Context, args map[string]any) (string, error)

// Tool pairs a definition with its handler.
type Tool struct {
	Definition
	Handler Handler `json:"-"`
}

// Registry holds registered tools and implements Invoker for them.
// Safe for concurrent use.
type Registry struct {
	mu     sync.RWMutex
	tools  map[string]*Tool
	logger *slog.Logger
}

// NewRegistry creates an empty tool registry.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		tools:  make(map[string]*Tool),
		logger: logger.With("component", "tools"),
	}
}

// Register adds a tool. Registering a name twice replaces the earlier
// tool; callers that care should check Has first.
func (r *Registry) Register(t *Tool) error {
	if t == nil || t.Name == "" {
		return fmt.Errorf("tool must have a name")
	}
	if t.Handler == nil {
		return fmt.Errorf("tool %q has no handler", t.Name)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[t.Name]; exists {
		r.logger.Warn("replacing registered tool", "tool", t.Name)
	}
	r.tools[t.Name] = t
	return nil
}

// Has reports whether a tool name is registered.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.tools[name]
	return ok
}

// Definitions returns all registered tool definitions, sorted by name
// for stable provider payloads.
func (r *Registry) Definitions() []Definition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	defs := make([]Definition, 0, len(r.tools))
	for _, t := range r.tools {
		defs = append(defs, t.Definition)
	}
	sort.Slice(defs, func(i, j int) bool { return defs[i].Name < defs[j].Name })
	return defs
}

// Invoke runs the named tool. Returns a *NotFoundError when the name
// is not registered; the caller decides whether that is fatal.
func (r *Registry) Invoke(ctx context.Context, name string, args map[string]any) (string, error) {
	r.mu.RLock()
	t, ok := r.tools[name]
	r.mu.RUnlock()
	if !ok {
		return "", &NotFoundError{Tool: name}
	}
	return t.Handler(ctx, args)
}
