// Package tools defines the executable tools the assistant can call during a
// chat turn and the registry that dispatches calls to them.
//
// Each tool takes loosely typed parameters from the model and returns a list
// of collate.Output maps. Tool outputs feed the retrieval pipeline, so every
// tool is expected to put its primary content under the "text" key.
package tools

import (
	"context"
	"errors"
	"fmt"

	"github.com/parleyhq/parley/internal/collate"
	"github.com/parleyhq/parley/internal/log"
)

// Errors returned by the registry.
var (
	ErrUnknownTool   = errors.New("tools: unknown tool")
	ErrDuplicateTool = errors.New("tools: tool already registered")
)

// Tool is a single callable capability.
type Tool interface {
	// Name is the identifier the model uses to invoke the tool.
	Name() string
	// Description tells the model what the tool does.
	Description() string
	// Call executes the tool with the model-provided parameters.
	Call(ctx context.Context, params map[string]any) ([]collate.Output, error)
}

// Registry holds the available tools and executes calls against them.
type Registry struct {
	tools  map[string]Tool
	order  []string
	logger log.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(logger log.Logger) *Registry {
	if logger == nil {
		logger = log.NewNop()
	}
	return &Registry{tools: make(map[string]Tool), logger: logger}
}

// Register adds a tool. Registering the same name twice is an error.
func (r *Registry) Register(t Tool) error {
	name := t.Name()
	if name == "" {
		return fmt.Errorf("tools: tool has no name")
	}
	if _, ok := r.tools[name]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateTool, name)
	}
	r.tools[name] = t
	r.order = append(r.order, name)
	return nil
}

// Get returns the tool registered under name.
func (r *Registry) Get(name string) (Tool, error) {
	t, ok := r.tools[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTool, name)
	}
	return t, nil
}

// Tools lists registered tools in registration order.
func (r *Registry) Tools() []Tool {
	out := make([]Tool, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.tools[name])
	}
	return out
}

// Names lists registered tool names in registration order.
func (r *Registry) Names() []string {
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// Execute runs every call and pairs each with its outputs. A failing tool
// does not abort the batch; its result carries an error output so the model
// can see the failure, matching how unavailable sources degrade elsewhere in
// the pipeline.
func (r *Registry) Execute(ctx context.Context, calls []collate.ToolCall) []collate.ToolResult {
	results := make([]collate.ToolResult, 0, len(calls))
	for _, call := range calls {
		results = append(results, collate.ToolResult{
			Call:    call,
			Outputs: r.executeOne(ctx, call),
		})
	}
	return results
}

func (r *Registry) executeOne(ctx context.Context, call collate.ToolCall) []collate.Output {
	tool, err := r.Get(call.Name)
	if err != nil {
		r.logger.Warn("tool call to unregistered tool", "tool", call.Name)
		return []collate.Output{{"error": err.Error()}}
	}

	outputs, err := tool.Call(ctx, call.Parameters)
	if err != nil {
		r.logger.Error("tool call failed", "tool", call.Name, "error", err)
		return []collate.Output{{"error": err.Error()}}
	}
	return outputs
}

// stringParam reads a string parameter, tolerating absent keys.
func stringParam(params map[string]any, key string) string {
	if v, ok := params[key].(string); ok {
		return v
	}
	return ""
}
