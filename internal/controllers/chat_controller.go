package controllers

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"github.com/sentinelwatch/sentinel/internal/agent"
	"github.com/sentinelwatch/sentinel/internal/engine"
	"github.com/sentinelwatch/sentinel/internal/models"
)

// chatHistoryLimit caps how many prior turns a request may replay.
const chatHistoryLimit = 40

// ChatController exposes the analyst assistant. When no model is configured
// the endpoint answers 503 so clients can hide the feature.
type ChatController struct {
	AuthController
	Model    agent.Model
	Toolbox  *agent.Toolbox
	MaxTurns int
}

func NewChatController(model agent.Model, toolbox *agent.Toolbox, maxTurns int, userRepo engine.UserRepo) *ChatController {
	return &ChatController{
		Model:    model,
		Toolbox:  toolbox,
		MaxTurns: maxTurns,
		AuthController: AuthController{
			UserRepo: userRepo,
		},
	}
}

func (c *ChatController) handleChat(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if c.Model == nil {
		http.Error(w, "no model configured", http.StatusServiceUnavailable)
		return
	}

	var req models.ChatRequest
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		http.Error(w, "invalid JSON payload", http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		http.Error(w, "message is required", http.StatusBadRequest)
		return
	}
	if len(req.History) > chatHistoryLimit {
		http.Error(w, "history is too long", http.StatusBadRequest)
		return
	}

	messages := make([]agent.Message, 0, len(req.History)+1)
	for _, m := range req.History {
		if m.Role != agent.RoleUser && m.Role != agent.RoleAssistant {
			http.Error(w, "history roles must be user or assistant", http.StatusBadRequest)
			return
		}
		messages = append(messages, agent.Message{Role: m.Role, Content: m.Content})
	}
	messages = append(messages, agent.Message{Role: agent.RoleUser, Content: req.Message})

	runner := &agent.Runner{MaxTurns: c.MaxTurns}
	result, err := runner.RunMessages(r.Context(), agent.NewChatAgent(c.Model, c.Toolbox), messages)
	if err != nil {
		slog.Error("Chat run failed", "error", err)
		http.Error(w, "assistant is unavailable", http.StatusBadGateway)
		return
	}

	resp := models.ChatResponse{Reply: result.FinalOutput}
	for _, call := range result.ToolCalls {
		args, _ := json.Marshal(call.Arguments)
		resp.ToolCalls = append(resp.ToolCalls, models.ChatToolCall{Name: call.Name, Arguments: string(args)})
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(resp)
}
