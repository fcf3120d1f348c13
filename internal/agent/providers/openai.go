package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	"github.com/sentinelwatch/sentinel/internal/agent"
)

// OpenAI speaks the chat-completions protocol. Self-hosted gateways and most
// hosted providers serve the same wire format, so BaseURL is configurable.
type OpenAI struct {
	BaseURL   string
	APIKey    string
	ModelName string
	client    *http.Client
}

func NewOpenAI(baseURL, apiKey, modelName string) *OpenAI {
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}
	rc := retryablehttp.NewClient()
	rc.RetryMax = 2
	rc.RetryWaitMin = 2 * time.Second
	rc.RetryWaitMax = 30 * time.Second
	rc.HTTPClient.Timeout = 120 * time.Second
	rc.Logger = nil

	return &OpenAI{
		BaseURL:   baseURL,
		APIKey:    apiKey,
		ModelName: modelName,
		client:    rc.StandardClient(),
	}
}

type chatMessage struct {
	Role       string        `json:"role"`
	Content    string        `json:"content"`
	Name       string        `json:"name,omitempty"`
	ToolCalls  []msgToolCall `json:"tool_calls,omitempty"`
	ToolCallID string        `json:"tool_call_id,omitempty"`
}

type msgToolCall struct {
	ID       string          `json:"id"`
	Type     string          `json:"type"`
	Function msgToolFunction `json:"function"`
}

type msgToolFunction struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

type chatTool struct {
	Type     string           `json:"type"`
	Function chatToolFunction `json:"function"`
}

type chatToolFunction struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

type chatCompletionRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
	Tools    []chatTool    `json:"tools,omitempty"`
}

type chatCompletionResponse struct {
	Choices []struct {
		Message      chatMessage `json:"message"`
		FinishReason string      `json:"finish_reason"`
	} `json:"choices"`
}

type errorResponse struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

func (p *OpenAI) GetResponse(ctx context.Context, request *agent.Request) (*agent.Response, error) {
	body, err := json.Marshal(p.buildRequest(request))
	if err != nil {
		return nil, fmt.Errorf("marshal chat request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.BaseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build chat request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if p.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+p.APIKey)
	}

	httpResp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("send chat request: %w", err)
	}
	defer httpResp.Body.Close()

	respBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, fmt.Errorf("read chat response: %w", err)
	}
	if httpResp.StatusCode != http.StatusOK {
		var apiErr errorResponse
		if json.Unmarshal(respBody, &apiErr) == nil && apiErr.Error.Message != "" {
			return nil, fmt.Errorf("model API error (%d): %s", httpResp.StatusCode, apiErr.Error.Message)
		}
		return nil, fmt.Errorf("model API returned status %d", httpResp.StatusCode)
	}

	var chatResp chatCompletionResponse
	if err := json.Unmarshal(respBody, &chatResp); err != nil {
		return nil, fmt.Errorf("unmarshal chat response: %w", err)
	}
	if len(chatResp.Choices) == 0 {
		return nil, fmt.Errorf("model returned no choices")
	}
	return parseChoice(chatResp.Choices[0].Message)
}

func (p *OpenAI) buildRequest(request *agent.Request) chatCompletionRequest {
	messages := make([]chatMessage, 0, len(request.Messages)+1)
	if request.Instructions != "" {
		messages = append(messages, chatMessage{Role: agent.RoleSystem, Content: request.Instructions})
	}
	for _, m := range request.Messages {
		cm := chatMessage{
			Role:       m.Role,
			Content:    m.Content,
			Name:       m.Name,
			ToolCallID: m.ToolCallID,
		}
		for _, call := range m.ToolCalls {
			args, err := json.Marshal(call.Arguments)
			if err != nil {
				args = []byte("{}")
			}
			cm.ToolCalls = append(cm.ToolCalls, msgToolCall{
				ID:   call.ID,
				Type: "function",
				Function: msgToolFunction{
					Name:      call.Name,
					Arguments: string(args),
				},
			})
		}
		messages = append(messages, cm)
	}

	var tools []chatTool
	for _, t := range request.Tools {
		tools = append(tools, chatTool{
			Type: "function",
			Function: chatToolFunction{
				Name:        t.Name(),
				Description: t.Description(),
				Parameters:  t.ParametersSchema(),
			},
		})
	}

	return chatCompletionRequest{
		Model:    p.ModelName,
		Messages: messages,
		Tools:    tools,
	}
}

func parseChoice(msg chatMessage) (*agent.Response, error) {
	resp := &agent.Response{Content: msg.Content}
	for _, call := range msg.ToolCalls {
		args := map[string]any{}
		if call.Function.Arguments != "" {
			if err := json.Unmarshal([]byte(call.Function.Arguments), &args); err != nil {
				return nil, fmt.Errorf("parse arguments of tool call %s: %w", call.Function.Name, err)
			}
		}
		resp.ToolCalls = append(resp.ToolCalls, agent.ToolCall{
			ID:        call.ID,
			Name:      call.Function.Name,
			Arguments: args,
		})
	}
	return resp, nil
}
