// Package tools implements the ToolRunner: concurrent dispatch of tool
// invocations with per-call timeout, crash isolation, schema validation,
// and ordered fan-in of results.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Context is passed to every tool invocation. Tools never read runtime
// state directly; everything they need arrives through this struct or the
// Emit callback.
type Context struct {
	context.Context
	WorkingDir string
	SessionID  string
	Config     map[string]any
	AgentPID   int
	CallID     string
	Emit       func(event string, data map[string]any)
}

// Outcome discriminates how a tool call resolved, mirroring
// pkg/models.ToolOutcome without importing the models package, so tools
// have no dependency on the wire format.
type Outcome struct {
	Kind   string // "ok", "error", or "effect"
	Text   string
	Effect json.RawMessage
}

func OK(text string) Outcome     { return Outcome{Kind: "ok", Text: text} }
func Err(text string) Outcome    { return Outcome{Kind: "error", Text: text} }
func Effect(v json.RawMessage) Outcome { return Outcome{Kind: "effect", Effect: v} }

// Tool is the capability set every tool implementation satisfies.
type Tool interface {
	Name() string
	Description() string
	// Parameters returns the tool's JSON Schema for its arguments, or nil
	// if the tool accepts no validated schema.
	Parameters() *jsonschema.Schema
	Execute(ctx Context, arguments json.RawMessage) (Outcome, error)
}

// Registry is a thread-safe, late-bound name -> Tool map. External tool
// servers may register tools discovered at startup; name collisions are
// resolved by the caller prefixing Name() with a source identifier before
// registration — the registry itself enforces uniqueness only.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Tool
}

// NewRegistry creates an empty tool registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]Tool)}
}

// Register adds a tool, replacing any existing tool with the same name.
func (r *Registry) Register(t Tool) error {
	if t == nil {
		return fmt.Errorf("tool: cannot register nil tool")
	}
	name := t.Name()
	if name == "" {
		return fmt.Errorf("tool: name must not be empty")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[name] = t
	return nil
}

// Unregister removes a tool by name. No-op if absent.
func (r *Registry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.tools, name)
}

// Get looks up a tool by name.
func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// Names returns the currently registered tool names.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	return names
}
