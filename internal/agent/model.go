package agent

import "context"

// Chat roles, following the chat-completions convention.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// Message is one turn of the conversation sent to or received from a model.
type Message struct {
	Role       string
	Content    string
	ToolCalls  []ToolCall
	ToolCallID string
	Name       string
}

// ToolCall is a model's request to invoke a tool.
type ToolCall struct {
	ID        string
	Name      string
	Arguments map[string]any
}

// Request is what one model turn sees.
type Request struct {
	Instructions string
	Messages     []Message
	Tools        []Tool
}

// Response is the model's answer for one turn. A response with tool calls
// continues the loop, one without is the final answer.
type Response struct {
	Content   string
	ToolCalls []ToolCall
}

// Model is a chat-completion capable LLM.
type Model interface {
	GetResponse(ctx context.Context, request *Request) (*Response, error)
}
