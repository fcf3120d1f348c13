package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
)

const DefaultMaxTurns = 6

// ErrMaxTurns is returned when the model keeps calling tools without ever
// producing a final answer.
var ErrMaxTurns = errors.New("agent reached max turns without a final answer")

// Runner drives the conversation loop: model turn, execute requested tools,
// feed results back, repeat until the model answers without tool calls.
type Runner struct {
	MaxTurns int
}

// RunResult is the outcome of a completed run.
type RunResult struct {
	FinalOutput string
	Turns       int
	ToolCalls   []ToolCall
}

func (r *Runner) Run(ctx context.Context, a *Agent, input string) (*RunResult, error) {
	return r.RunMessages(ctx, a, []Message{{Role: RoleUser, Content: input}})
}

// RunMessages runs the loop from an existing conversation, the last message
// should be the user turn to answer.
func (r *Runner) RunMessages(ctx context.Context, a *Agent, messages []Message) (*RunResult, error) {
	if a.Model == nil {
		return nil, errors.New("agent has no model")
	}
	maxTurns := r.MaxTurns
	if maxTurns <= 0 {
		maxTurns = DefaultMaxTurns
	}

	var executed []ToolCall
	for turn := 1; turn <= maxTurns; turn++ {
		resp, err := a.Model.GetResponse(ctx, &Request{
			Instructions: a.Instructions,
			Messages:     messages,
			Tools:        a.Tools,
		})
		if err != nil {
			return nil, fmt.Errorf("model turn %d: %w", turn, err)
		}

		if len(resp.ToolCalls) == 0 {
			return &RunResult{FinalOutput: resp.Content, Turns: turn, ToolCalls: executed}, nil
		}

		messages = append(messages, Message{
			Role:      RoleAssistant,
			Content:   resp.Content,
			ToolCalls: resp.ToolCalls,
		})
		for _, call := range resp.ToolCalls {
			executed = append(executed, call)
			messages = append(messages, Message{
				Role:       RoleTool,
				ToolCallID: call.ID,
				Name:       call.Name,
				Content:    r.executeTool(ctx, a, call),
			})
		}
	}
	return nil, fmt.Errorf("%w (max %d)", ErrMaxTurns, maxTurns)
}

// executeTool runs one tool call. Failures are reported back to the model as
// the tool result instead of aborting the run, so the model can recover or
// answer without the tool.
func (r *Runner) executeTool(ctx context.Context, a *Agent, call ToolCall) string {
	tool := a.toolByName(call.Name)
	if tool == nil {
		slog.WarnContext(ctx, "Agent called unknown tool", "agent", a.Name, "tool", call.Name)
		return fmt.Sprintf(`{"error":"unknown tool %s"}`, call.Name)
	}

	result, err := tool.Execute(ctx, call.Arguments)
	if err != nil {
		slog.WarnContext(ctx, "Tool execution failed", "agent", a.Name, "tool", call.Name, "error", err)
		msg, _ := json.Marshal(err.Error())
		return fmt.Sprintf(`{"error":%s}`, msg)
	}

	raw, err := json.Marshal(result)
	if err != nil {
		msg, _ := json.Marshal(err.Error())
		return fmt.Sprintf(`{"error":%s}`, msg)
	}
	return string(raw)
}
