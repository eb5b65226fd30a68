package tool

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// Tool is the abstraction shared by built-in tools and tools discovered on
// external servers. The agent loop never distinguishes between them.
type Tool interface {
	// Name returns the registry-unique tool name.
	Name() string
	// Description returns the model-facing description.
	Description() string
	// Schema returns the parameter schema as a JSON-Schema-shaped map.
	Schema() map[string]interface{}
	// Execute runs the tool. A *Result is the in-band success/error
	// envelope; a non-nil error is reserved for out-of-band failures
	// (security violations, cancellation) that must not be retried
	// or fed back to the model as a recoverable tool error.
	Execute(ctx context.Context, args map[string]interface{}, rc *RunContext) (*Result, error)
}

// Result is the tagged success/error envelope every tool returns.
// Content is what gets reinjected into the next model turn.
type Result struct {
	Content  string
	Success  bool
	Metadata map[string]interface{}
}

// Success wraps content as a successful result.
func Success(content string) *Result {
	return &Result{Content: content, Success: true}
}

// Errorf wraps a formatted failure description as an error result.
func Errorf(format string, args ...interface{}) *Result {
	return &Result{Content: fmt.Sprintf(format, args...), Success: false}
}

// RunContext is the per-invocation bag passed from the loop into a tool.
// It is immutable for the duration of one tool invocation.
type RunContext struct {
	RunID     string
	SessionID string
	Logger    *zap.Logger
}

// Invocation is one tool call parsed out of a model response.
type Invocation struct {
	ToolName  string
	Arguments map[string]interface{}
}

// Definition is the model-facing descriptor of a registered tool.
type Definition struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	Parameters  map[string]interface{} `json:"parameters"`
}

// Registry holds the tools available to the agent loop. Registration order
// is preserved so the rendered manifest is stable between turns.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Tool
	order []string
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]Tool)}
}

// Register adds a tool. Names are case-sensitive and must be unique.
func (r *Registry) Register(t Tool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	name := t.Name()
	if _, exists := r.tools[name]; exists {
		return fmt.Errorf("tool %s already registered", name)
	}
	r.tools[name] = t
	r.order = append(r.order, name)
	return nil
}

// Unregister removes a tool by name.
func (r *Registry) Unregister(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.tools[name]; !exists {
		return fmt.Errorf("tool %s not found", name)
	}
	delete(r.tools, name)
	for i, n := range r.order {
		if n == name {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	return nil
}

// Get returns the tool registered under name.
func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, exists := r.tools[name]
	return t, exists
}

// Has reports whether name is registered.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, exists := r.tools[name]
	return exists
}

// Len returns the number of registered tools.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tools)
}

// List returns tool definitions in registration order.
func (r *Registry) List() []Definition {
	r.mu.RLock()
	defer r.mu.RUnlock()

	defs := make([]Definition, 0, len(r.order))
	for _, name := range r.order {
		t := r.tools[name]
		defs = append(defs, Definition{
			Name:        t.Name(),
			Description: t.Description(),
			Parameters:  t.Schema(),
		})
	}
	return defs
}
