// Package tool defines the capabilities the fallback agent has over a
// project. Every capability is expressed as a Tool, and every path a tool
// touches goes through the project sandbox.
package tool

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/atelier-ai/atelier/internal/llm"
)

// Tool is one agent capability.
type Tool interface {
	// Schema returns the tool's name, description, and JSON Schema for inputs.
	Schema() llm.ToolSchema

	// Execute runs the tool with the given JSON input and returns a result string.
	Execute(ctx context.Context, input json.RawMessage) (string, error)
}

// Registry holds the tools for one agent run. A registry is built fresh per
// run and used from a single goroutine; it is not safe for concurrent use.
// Registration order is preserved so the model sees a stable tool list.
type Registry struct {
	order []string
	tools map[string]Tool
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]Tool)}
}

// Register adds a tool to the registry. Panics on duplicate name.
func (r *Registry) Register(t Tool) {
	name := t.Schema().Name
	if _, exists := r.tools[name]; exists {
		panic(fmt.Sprintf("tool already registered: %s", name))
	}
	r.order = append(r.order, name)
	r.tools[name] = t
}

// Get returns a tool by name.
func (r *Registry) Get(name string) (Tool, bool) {
	t, ok := r.tools[name]
	return t, ok
}

// Schemas returns all tool schemas in registration order.
func (r *Registry) Schemas() []llm.ToolSchema {
	schemas := make([]llm.ToolSchema, 0, len(r.order))
	for _, name := range r.order {
		schemas = append(schemas, r.tools[name].Schema())
	}
	return schemas
}

// Execute runs a tool by name with JSON input.
func (r *Registry) Execute(ctx context.Context, name string, input json.RawMessage) (string, error) {
	t, ok := r.Get(name)
	if !ok {
		return "", fmt.Errorf("unknown tool: %s", name)
	}
	return t.Execute(ctx, input)
}

// MustSchema builds a json.RawMessage from a Go value (panics on error).
func MustSchema(v interface{}) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		panic(fmt.Sprintf("MustSchema: %v", err))
	}
	return b
}
