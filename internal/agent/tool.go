package agent

import "context"

// Tool is a function the model may call while working on a task.
type Tool interface {
	Name() string
	Description() string
	ParametersSchema() map[string]any
	Execute(ctx context.Context, params map[string]any) (any, error)
}

// FunctionTool adapts a plain function into a Tool.
type FunctionTool struct {
	name        string
	description string
	schema      map[string]any
	fn          func(ctx context.Context, params map[string]any) (any, error)
}

func NewFunctionTool(name, description string, fn func(ctx context.Context, params map[string]any) (any, error)) *FunctionTool {
	return &FunctionTool{name: name, description: description, fn: fn}
}

// WithSchema sets the JSON schema for the tool parameters.
func (t *FunctionTool) WithSchema(schema map[string]any) *FunctionTool {
	t.schema = schema
	return t
}

func (t *FunctionTool) Name() string        { return t.name }
func (t *FunctionTool) Description() string { return t.description }

func (t *FunctionTool) ParametersSchema() map[string]any {
	if t.schema == nil {
		return map[string]any{"type": "object", "properties": map[string]any{}}
	}
	return t.schema
}

func (t *FunctionTool) Execute(ctx context.Context, params map[string]any) (any, error) {
	return t.fn(ctx, params)
}
