package controllers

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/sentinelwatch/sentinel/internal/engine"
)

// ActionsController serves the audit trail of a single workflow.
type ActionsController struct {
	AuthController
	WorkflowActionRepo engine.WorkflowActionRepo
}

func NewActionsController(workflowActionRepo engine.WorkflowActionRepo, userRepo engine.UserRepo) *ActionsController {
	return &ActionsController{
		AuthController:     AuthController{UserRepo: userRepo},
		WorkflowActionRepo: workflowActionRepo,
	}
}

func (c *ActionsController) handleGetActionsForWorkflow(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		http.Error(w, "invalid id", http.StatusBadRequest)
		return
	}

	actions, err := c.WorkflowActionRepo.FindAllByWorkflowID(id)
	if err != nil {
		slog.Error("Failed to load workflow actions", "workflowId", id, "error", err)
		http.Error(w, "failed to load actions", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(actions)
}
