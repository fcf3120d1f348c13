package controllers

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/sentinelwatch/sentinel/internal/config"
	"github.com/sentinelwatch/sentinel/internal/domain"
	"github.com/sentinelwatch/sentinel/internal/engine"
	"github.com/sentinelwatch/sentinel/internal/models"
	wfmodels "github.com/sentinelwatch/sentinel/pkg/sentinel/models"
)

const defaultDeadLetterLimit = 100

// DeadLetterRepo is the dead letter persistence surface the API needs.
type DeadLetterRepo interface {
	FindAll(includeRedriven bool, limit int) (*[]domain.DeadLetter, error)
	FindByID(id int64) (*domain.DeadLetter, error)
	MarkRedriven(id int64) (bool, error)
}

type DeadLettersController struct {
	AuthController
	DeadLetters     DeadLetterRepo
	WorkflowRepo    engine.WorkflowRepo
	WorkflowManager *engine.WorkflowManager
}

func NewDeadLettersController(deadLetters DeadLetterRepo, workflowRepo engine.WorkflowRepo,
	workflowManager *engine.WorkflowManager, userRepo engine.UserRepo) *DeadLettersController {
	return &DeadLettersController{
		DeadLetters:     deadLetters,
		WorkflowRepo:    workflowRepo,
		WorkflowManager: workflowManager,
		AuthController: AuthController{
			UserRepo: userRepo,
		},
	}
}

func mapDeadLetterToResponse(d *domain.DeadLetter) models.DeadLetterResponse {
	resp := models.DeadLetterResponse{
		ID:           d.ID,
		WorkflowID:   d.WorkflowID,
		WorkflowType: d.WorkflowType,
		BusinessKey:  d.BusinessKey,
		State:        d.State,
		Reason:       d.Reason,
		Payload:      d.Payload.String,
		Created:      d.Created,
		Redriven:     d.Redriven,
	}
	if d.RedrivenAt.Valid {
		t := d.RedrivenAt.Time
		resp.RedrivenAt = &t
	}
	return resp
}

func (c *DeadLettersController) handleGetDeadLetters(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	includeRedriven := r.URL.Query().Get("includeRedriven") == "true"
	limit := defaultDeadLetterLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > 1000 {
			http.Error(w, "limit must be between 1 and 1000", http.StatusBadRequest)
			return
		}
		limit = n
	}

	letters, err := c.DeadLetters.FindAll(includeRedriven, limit)
	if err != nil {
		slog.Error("Failed to load dead letters", "error", err)
		http.Error(w, "failed to load dead letters", http.StatusInternalServerError)
		return
	}
	out := make([]models.DeadLetterResponse, 0)
	if letters != nil {
		for i := range *letters {
			out = append(out, mapDeadLetterToResponse(&(*letters)[i]))
		}
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(out)
}

// handleRedrive starts a fresh workflow from a dead letter's captured state
// vars. The dead letter is claimed first so two admins cannot redrive the
// same failure twice.
func (c *DeadLettersController) handleRedrive(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		http.Error(w, "invalid dead letter id", http.StatusBadRequest)
		return
	}
	dl, err := c.DeadLetters.FindByID(id)
	if err != nil || dl == nil {
		http.Error(w, "dead letter not found", http.StatusNotFound)
		return
	}
	if dl.Redriven {
		http.Error(w, "dead letter already redriven", http.StatusConflict)
		return
	}

	ok, err := c.DeadLetters.MarkRedriven(dl.ID)
	if err != nil {
		slog.Error("Failed to claim dead letter", "deadLetterId", dl.ID, "error", err)
		http.Error(w, "failed to redrive dead letter", http.StatusInternalServerError)
		return
	}
	if !ok {
		http.Error(w, "dead letter already redriven", http.StatusConflict)
		return
	}

	stateVars := map[string]string{}
	if dl.Payload.Valid && dl.Payload.String != "" {
		if err := json.Unmarshal([]byte(dl.Payload.String), &stateVars); err != nil {
			slog.Error("Dead letter payload is not valid JSON", "deadLetterId", dl.ID, "error", err)
			http.Error(w, "dead letter payload is not valid JSON", http.StatusUnprocessableEntity)
			return
		}
	}

	req := wfmodels.CreateWorkflowRequest{
		ExternalID:    "redrive-" + strconv.FormatInt(dl.ID, 10) + "-" + uuid.NewString()[:8],
		ExecutorGroup: config.GetSystemSettingString(config.ENGINE_EXECUTOR_GROUP),
		WorkflowType:  dl.WorkflowType,
		BusinessKey:   dl.BusinessKey,
		StateVars:     stateVars,
	}
	wfID, err := createWorkflow(r.Context(), c.WorkflowRepo, c.WorkflowManager, req)
	if err != nil {
		slog.Error("Failed to start redrive workflow", "deadLetterId", dl.ID, "error", err)
		http.Error(w, "failed to start redrive workflow", http.StatusInternalServerError)
		return
	}
	c.WorkflowManager.Wakeup()

	slog.Info("Dead letter redriven", "deadLetterId", dl.ID, "workflowId", wfID,
		"workflowType", dl.WorkflowType)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(models.RedriveResponse{OK: true, WorkflowID: wfID})
}
