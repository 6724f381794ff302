// Package tools provides the whitelisted tool registry, the execution
// engine that invokes handlers on behalf of the model, and the prefilter
// that bounds how many tool schemas are exposed per model call.
package tools

import (
	"context"
	"fmt"
	"sync"
)

// Handler executes a tool with identity-injected parameters.
// Parameter validation beyond schema shape is the handler's job.
type Handler func(ctx context.Context, params map[string]any) (any, error)

// Definition describes a tool as exposed to the LLM provider.
// Definitions are immutable after registration.
type Definition struct {
	Name        string
	Description string
	Category    string
	Keywords    []string
	// AlwaysInclude marks utility tools (context/profile lookup) that the
	// prefilter never drops.
	AlwaysInclude bool
	// Schema is a JSON-schema object describing the parameters.
	Schema map[string]any
}

// Registry is a static whitelist mapping tool names to handlers.
// It is populated once at process start and read-only afterwards, so it
// is safe for unlimited concurrent readers.
type Registry struct {
	mu       sync.RWMutex
	sealed   bool
	defs     map[string]Definition
	handlers map[string]Handler
	order    []string
	pos      map[string]int
}

func NewRegistry() *Registry {
	return &Registry{
		defs:     make(map[string]Definition),
		handlers: make(map[string]Handler),
		pos:      make(map[string]int),
	}
}

// Register adds a tool to the registry. Duplicate names and missing
// handlers are programming errors and fail immediately.
func (r *Registry) Register(def Definition, h Handler) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.sealed {
		return fmt.Errorf("register %q: registry is sealed", def.Name)
	}
	if def.Name == "" {
		return fmt.Errorf("register tool: empty name")
	}
	if h == nil {
		return fmt.Errorf("register %q: nil handler", def.Name)
	}
	if _, exists := r.defs[def.Name]; exists {
		return fmt.Errorf("register %q: duplicate tool name", def.Name)
	}

	r.defs[def.Name] = def
	r.handlers[def.Name] = h
	r.pos[def.Name] = len(r.order)
	r.order = append(r.order, def.Name)
	return nil
}

// MustRegister is Register for startup wiring, where a bad registration
// should stop the process.
func (r *Registry) MustRegister(def Definition, h Handler) {
	if err := r.Register(def, h); err != nil {
		panic("tools: " + err.Error())
	}
}

// Seal marks the end of startup registration. Further Register calls fail.
func (r *Registry) Seal() {
	r.mu.Lock()
	r.sealed = true
	r.mu.Unlock()
}

// Get returns the definition for a tool name.
func (r *Registry) Get(name string) (Definition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	def, ok := r.defs[name]
	return def, ok
}

func (r *Registry) handler(name string) (Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[name]
	return h, ok
}

// List returns all definitions in registration order.
func (r *Registry) List() []Definition {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Definition, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.defs[name])
	}
	return out
}

// Index returns the registration position of a tool name, used as the
// deterministic tie-break in the prefilter. It is called from inside a
// sort comparator, so it must be a map lookup, not a scan. Unknown names
// sort last.
func (r *Registry) Index(name string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if i, ok := r.pos[name]; ok {
		return i
	}
	return len(r.order)
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.order)
}
