package providers

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/sentinelwatch/sentinel/internal/agent"
)

func TestOpenAI_GetResponse(t *testing.T) {
	var gotAuth string
	var gotRequest chatCompletionRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		body, _ := io.ReadAll(r.Body)
		if err := json.Unmarshal(body, &gotRequest); err != nil {
			t.Errorf("Request body is not valid JSON: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"choices": [{
				"message": {
					"role": "assistant",
					"content": "",
					"tool_calls": [{
						"id": "call-1",
						"type": "function",
						"function": {"name": "dedup_check", "arguments": "{\"articleId\": 7}"}
					}]
				},
				"finish_reason": "tool_calls"
			}]
		}`))
	}))
	defer server.Close()

	p := NewOpenAI(server.URL, "secret", "gpt-4o-mini")
	tool := agent.NewFunctionTool("dedup_check", "check duplicates", func(ctx context.Context, params map[string]any) (any, error) {
		return nil, nil
	})

	resp, err := p.GetResponse(context.Background(), &agent.Request{
		Instructions: "triage the article",
		Messages:     []agent.Message{{Role: agent.RoleUser, Content: "article payload"}},
		Tools:        []agent.Tool{tool},
	})
	if err != nil {
		t.Fatalf("GetResponse returned error: %v", err)
	}

	if gotAuth != "Bearer secret" {
		t.Errorf("Expected bearer auth, got %q", gotAuth)
	}
	if gotRequest.Model != "gpt-4o-mini" {
		t.Errorf("Expected model name in request, got %q", gotRequest.Model)
	}
	if gotRequest.Messages[0].Role != agent.RoleSystem || gotRequest.Messages[0].Content != "triage the article" {
		t.Errorf("Expected instructions as the system message, got %+v", gotRequest.Messages[0])
	}
	if len(gotRequest.Tools) != 1 || gotRequest.Tools[0].Function.Name != "dedup_check" {
		t.Errorf("Expected the tool on the wire, got %+v", gotRequest.Tools)
	}

	if len(resp.ToolCalls) != 1 {
		t.Fatalf("Expected one tool call, got %+v", resp)
	}
	call := resp.ToolCalls[0]
	if call.ID != "call-1" || call.Name != "dedup_check" {
		t.Errorf("Unexpected tool call: %+v", call)
	}
	if call.Arguments["articleId"] != float64(7) {
		t.Errorf("Expected parsed arguments, got %+v", call.Arguments)
	}
}

func TestOpenAI_APIError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"error": {"message": "bad api key", "type": "auth"}}`))
	}))
	defer server.Close()

	p := NewOpenAI(server.URL, "wrong", "gpt-4o-mini")
	_, err := p.GetResponse(context.Background(), &agent.Request{
		Messages: []agent.Message{{Role: agent.RoleUser, Content: "hi"}},
	})
	if err == nil {
		t.Fatal("Expected an error")
	}
	if !strings.Contains(err.Error(), "bad api key") {
		t.Errorf("Expected the API error message, got %v", err)
	}
}

func TestStatic_ReplaysInOrder(t *testing.T) {
	s := NewStatic(
		agent.Response{Content: "first"},
		agent.Response{Content: "second"},
	)

	r1, err := s.GetResponse(context.Background(), &agent.Request{})
	if err != nil || r1.Content != "first" {
		t.Errorf("Unexpected first response: %v, %v", r1, err)
	}
	r2, err := s.GetResponse(context.Background(), &agent.Request{})
	if err != nil || r2.Content != "second" {
		t.Errorf("Unexpected second response: %v, %v", r2, err)
	}
	if _, err := s.GetResponse(context.Background(), &agent.Request{}); err == nil {
		t.Error("Expected exhaustion error")
	}
	if len(s.Requests) != 3 {
		t.Errorf("Expected 3 recorded requests, got %d", len(s.Requests))
	}
}
