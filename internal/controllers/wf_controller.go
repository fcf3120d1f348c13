package controllers

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/sentinelwatch/sentinel/internal/engine"
	"github.com/sentinelwatch/sentinel/pkg/sentinel/core"
	"github.com/sentinelwatch/sentinel/pkg/sentinel/domain"
	"github.com/sentinelwatch/sentinel/pkg/sentinel/models"
)

// searchLimitMax caps one page of workflow search results.
const searchLimitMax = 1000

// WorkflowsController serves the workflow CRUD and search endpoints.
type WorkflowsController struct {
	AuthController
	WorkflowRepo       engine.WorkflowRepo
	WorkflowActionRepo engine.WorkflowActionRepo
	WorkflowManager    *engine.WorkflowManager
}

func NewWorkflowsController(workflowRepo engine.WorkflowRepo, workflowActionsRepo engine.WorkflowActionRepo, workflowManager *engine.WorkflowManager,
	userRepo engine.UserRepo) *WorkflowsController {
	return &WorkflowsController{
		AuthController:     AuthController{UserRepo: userRepo},
		WorkflowRepo:       workflowRepo,
		WorkflowActionRepo: workflowActionsRepo,
		WorkflowManager:    workflowManager,
	}
}

// writeJSON sends v as the 200 response body.
func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(v)
}

func (c *WorkflowsController) handleGetWorkflowById(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	idStr := r.PathValue("id")
	if idStr == "" {
		http.Error(w, "id is required", http.StatusBadRequest)
		return
	}
	id, err := strconv.ParseInt(idStr, 10, 64)
	if err != nil {
		http.Error(w, "id must be an integer", http.StatusBadRequest)
		return
	}

	result, err := c.WorkflowRepo.FindByID(id)
	if err != nil || result == nil {
		http.Error(w, "workflow not found", http.StatusNotFound)
		return
	}
	writeJSON(w, mapWorkflowToApiWorkflow(result, id))
}

func (c *WorkflowsController) handleGetWorkflowByExternalId(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	externalId := r.PathValue("externalId")
	if externalId == "" {
		http.Error(w, "externalId is required", http.StatusBadRequest)
		return
	}

	result, err := c.WorkflowRepo.FindByExternalId(externalId)
	if err != nil || result == nil {
		http.Error(w, "workflow not found", http.StatusNotFound)
		return
	}
	writeJSON(w, mapWorkflowToApiWorkflow(result, result.ID))
}

func (c *WorkflowsController) handleCreateWorkflow(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req models.CreateWorkflowRequest
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		http.Error(w, "invalid JSON payload", http.StatusBadRequest)
		return
	}
	if err := validateCreateWorkflow(req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	id, err := createWorkflow(r.Context(), c.WorkflowRepo, c.WorkflowManager, req)
	if err != nil {
		slog.Error("Failed to save workflow", "error", err)
		http.Error(w, "failed to create workflow", http.StatusInternalServerError)
		return
	}

	c.WorkflowManager.Wakeup()
	writeJSON(w, models.CreateWorkflowResponse{ID: id})
}

func validateCreateWorkflow(req models.CreateWorkflowRequest) error {
	if req.ExternalID == "" || req.ExecutorGroup == "" || req.WorkflowType == "" || req.BusinessKey == "" {
		return errors.New("externalId, executorGroup, workflowType and businessKey are required")
	}
	return nil
}

// createWorkflow inserts a new workflow in its initial state. The external id
// is idempotent, a duplicate returns the existing workflow's id. Shared with
// the article requeue and the dead letter redrive endpoints.
func createWorkflow(ctx context.Context, repo engine.WorkflowRepo, wm *engine.WorkflowManager, req models.CreateWorkflowRequest) (int64, error) {
	slog.InfoContext(ctx, "Creating workflow", "externalId", req.ExternalID, "businessKey", req.BusinessKey, "workflowType", req.WorkflowType)

	// Stamp the authenticated caller onto the workflow so the audit trail
	// shows who asked for it.
	if userName := ctx.Value(core.CtxKeyUsername); userName != nil {
		if s, ok := userName.(string); ok && s != "" {
			if req.StateVars == nil {
				req.StateVars = make(map[string]string)
			}
			req.StateVars["createdBy"] = s
		}
	}

	wfInstance, err := engine.CreateWorkflowInstance(wm, req.WorkflowType)
	if err != nil {
		return 0, err
	}
	initialState := wfInstance.InitialState()

	existing, _ := repo.FindByExternalId(req.ExternalID)
	if existing != nil {
		slog.WarnContext(ctx, "Workflow already exists", "externalId", req.ExternalID)
		return existing.ID, nil
	}

	var stateVarsJSON string
	if req.StateVars != nil {
		b, err := json.Marshal(req.StateVars)
		if err != nil {
			return 0, err
		}
		stateVarsJSON = string(b)
	}

	now := time.Now().UTC()
	nextActivation := now
	if req.NextActivation != nil {
		nextActivation = *req.NextActivation
	}

	wf := &domain.Workflow{
		Status:         "NEW",
		ExecutionCount: 0,
		RetryCount:     0,
		Created:        now,
		Modified:       now,
		NextActivation: sql.NullTime{Time: nextActivation, Valid: true},
		Started:        sql.NullTime{},
		ExecutorGroup:  req.ExecutorGroup,
		WorkflowType:   req.WorkflowType,
		ExternalID:     req.ExternalID,
		BusinessKey:    req.BusinessKey,
		State:          initialState,
	}
	if stateVarsJSON != "" {
		wf.StateVars.String = stateVarsJSON
		wf.StateVars.Valid = true
	}

	return repo.Save(wf)
}

func (c *WorkflowsController) handleCreateAndWaitWorkflow(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req models.CreateAndWaitRequest
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		http.Error(w, "invalid JSON payload", http.StatusBadRequest)
		return
	}
	if err := validateCreateWorkflow(req.CreateWorkflowRequest); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	id, err := createWorkflow(r.Context(), c.WorkflowRepo, c.WorkflowManager, req.CreateWorkflowRequest)
	if err != nil {
		slog.Error("Failed to save workflow", "error", err)
		http.Error(w, "failed to create workflow", http.StatusInternalServerError)
		return
	}
	c.WorkflowManager.Wakeup()

	c.pollWorkflowUntil(w, id, req.WaitSeconds, req.CheckSeconds, req.WaitForStates)
}

// pollWorkflowUntil re-reads the workflow until it lands in one of the waitFor
// states, then writes it out. An empty waitFor accepts the first read; running
// out of waitSeconds answers 504. Both wait endpoints share this loop.
func (c *WorkflowsController) pollWorkflowUntil(w http.ResponseWriter, id int64, waitSeconds, checkSeconds int, waitFor []string) {
	if checkSeconds < 1 {
		checkSeconds = 1
	}
	if waitSeconds < 1 {
		waitSeconds = 1
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(waitSeconds)*time.Second)
	defer cancel()
	ticker := time.NewTicker(time.Duration(checkSeconds) * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			http.Error(w, "timed out waiting for workflow", http.StatusGatewayTimeout)
			return
		case <-ticker.C:
			result, err := c.WorkflowRepo.FindByID(id)
			if err != nil || result == nil {
				continue
			}
			if len(waitFor) == 0 || slices.Contains(waitFor, result.State) {
				writeJSON(w, mapWorkflowToApiWorkflow(result, id))
				return
			}
		}
	}
}

func mapWorkflowToApiWorkflow(result *domain.Workflow, id int64) models.WorkflowApiResponse {
	stateVars := make(map[string]string)
	if result.StateVars.Valid && len(result.StateVars.String) > 0 {
		if err := json.Unmarshal([]byte(result.StateVars.String), &stateVars); err != nil {
			slog.Warn("Failed to parse state vars", "id", id, "error", err)
		}
	}
	var nextActivation, started time.Time
	if result.NextActivation.Valid {
		nextActivation = result.NextActivation.Time
	}
	if result.Started.Valid {
		started = result.Started.Time
	}
	var executorID string
	if result.ExecutorID.Valid {
		executorID = result.ExecutorID.String
	}
	return models.WorkflowApiResponse{
		ID:             result.ID,
		Status:         result.Status,
		ExecutionCount: result.ExecutionCount,
		RetryCount:     result.RetryCount,
		Created:        result.Created,
		Modified:       result.Modified,
		NextActivation: nextActivation,
		Started:        started,
		ExecutorID:     executorID,
		ExecutorGroup:  result.ExecutorGroup,
		WorkflowType:   result.WorkflowType,
		ExternalID:     result.ExternalID,
		BusinessKey:    result.BusinessKey,
		State:          result.State,
		StateVars:      stateVars,
	}
}

func (c *WorkflowsController) handleSearchWorkflows(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req models.SearchWorkflowRequest
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		slog.Error("Failed to decode request", "error", err)
		http.Error(w, "invalid JSON payload", http.StatusBadRequest)
		return
	}
	if req.Limit > searchLimitMax {
		http.Error(w, "limit is capped at 1000", http.StatusBadRequest)
		return
	}

	results, err := c.WorkflowRepo.SearchWorkflows(req)
	if err != nil {
		slog.Error("Failed to search workflows", "error", err)
		http.Error(w, "failed to search workflows", http.StatusInternalServerError)
		return
	}

	resp := models.SearchWorkflowResponse{Offset: req.Offset}
	if results != nil {
		resp.Results = len(*results)
		resp.Workflows = *results
	}
	writeJSON(w, resp)
}

// findWorkflowByPathID resolves the {id} path value first as a numeric id and
// then as an external id.
func (c *WorkflowsController) findWorkflowByPathID(idStr string) *domain.Workflow {
	var wf *domain.Workflow
	if id, err := strconv.ParseInt(idStr, 10, 64); err == nil {
		wf, _ = c.WorkflowRepo.FindByID(id)
	}
	if wf == nil {
		wf, _ = c.WorkflowRepo.FindByExternalId(idStr)
	}
	return wf
}

// handleUpdateWorkflowState forces a workflow into a named state under an
// optimistic lock on the modified column.
func (c *WorkflowsController) handleUpdateWorkflowState(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	idStr := r.PathValue("id")
	if idStr == "" {
		http.Error(w, "id is required", http.StatusBadRequest)
		return
	}
	wf := c.findWorkflowByPathID(idStr)
	if wf == nil {
		http.Error(w, "workflow not found", http.StatusNotFound)
		return
	}
	var req models.UpdateWorkflowStateRequest
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		http.Error(w, "invalid JSON payload", http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(req.State) == "" {
		http.Error(w, "state is required", http.StatusBadRequest)
		return
	}
	next := time.Now()
	if req.NextActivation != nil {
		next = *req.NextActivation
	}
	if !c.WorkflowRepo.LockWorkflowByModified(wf.ID, wf.Modified) {
		http.Error(w, "workflow is busy, try again", http.StatusConflict)
		return
	}
	if err := c.updateLockedWorkflowState(wf, req.State, next); err != nil {
		http.Error(w, "failed to update state", http.StatusInternalServerError)
		return
	}
	c.WorkflowManager.Wakeup()
	writeJSON(w, models.UpdateWorkflowStateResponse{OK: true})
}

// updateLockedWorkflowState assumes the caller holds the optimistic lock. The
// lock leaves the row in status LOCK, so the workflow has to be put back to
// NEW or the engine will never pick it up again.
func (c *WorkflowsController) updateLockedWorkflowState(wf *domain.Workflow, state string, next time.Time) error {
	if err := c.WorkflowRepo.UpdateState(wf.ID, state); err != nil {
		slog.Error("UpdateState failed", "error", err)
		return err
	}
	_, _ = c.WorkflowActionRepo.Save(&domain.WorkflowAction{WorkflowID: wf.ID, ExecutorID: 0, ExecutionCount: wf.RetryCount, Type: "LOG", Name: wf.State, Text: "User Manually Changed State :" + state, DateTime: time.Now()})

	if err := c.WorkflowRepo.UpdateWorkflowStatus(wf.ID, "NEW"); err != nil {
		slog.Error("UpdateWorkflowStatus failed", "error", err)
		return err
	}
	if err := c.WorkflowRepo.UpdateNextActivationSpecific(wf.ID, next); err != nil {
		slog.Error("UpdateNextActivationSpecific failed", "error", err)
		return err
	}
	return nil
}

// handleUpdateWorkflowStateAndWait updates the state like
// handleUpdateWorkflowState and then polls until the workflow reaches one of
// the wait states.
func (c *WorkflowsController) handleUpdateWorkflowStateAndWait(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	idStr := r.PathValue("id")
	if idStr == "" {
		http.Error(w, "id is required", http.StatusBadRequest)
		return
	}
	wf := c.findWorkflowByPathID(idStr)
	if wf == nil {
		http.Error(w, "workflow not found", http.StatusNotFound)
		return
	}

	var req models.UpdateWorkflowStateAndWaitRequest
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		http.Error(w, "invalid JSON payload", http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(req.UpdateWorkflowStateRequest.State) == "" {
		http.Error(w, "state is required", http.StatusBadRequest)
		return
	}
	if len(req.FromStates) > 0 && !slices.Contains(req.FromStates, wf.State) {
		http.Error(w, "current State: "+wf.State+" is not in the expected from states", http.StatusBadRequest)
		return
	}

	next := time.Now()
	if req.UpdateWorkflowStateRequest.NextActivation != nil {
		next = *req.UpdateWorkflowStateRequest.NextActivation
	}
	if !c.WorkflowRepo.LockWorkflowByModified(wf.ID, wf.Modified) {
		http.Error(w, "workflow is busy, try again", http.StatusConflict)
		return
	}
	if err := c.updateLockedWorkflowState(wf, req.UpdateWorkflowStateRequest.State, next); err != nil {
		http.Error(w, "failed to update state", http.StatusInternalServerError)
		return
	}

	if req.UpdateStateVarRequest.Key != "" {
		if err := c.saveStateVar(wf, req.UpdateStateVarRequest.Key, req.UpdateStateVarRequest.Value); err != nil {
			http.Error(w, "failed to update state var", http.StatusInternalServerError)
			return
		}
	}

	c.WorkflowManager.Wakeup()

	c.pollWorkflowUntil(w, wf.ID, req.WaitSeconds, req.CheckSeconds, req.WaitForStates)
}

// saveStateVar upserts one key into the workflow's state vars and records an
// action. Only the modified date changes beyond the vars themselves.
func (c *WorkflowsController) saveStateVar(wf *domain.Workflow, key string, value string) error {
	vars := map[string]string{}
	if wf.StateVars.Valid && wf.StateVars.String != "" {
		_ = json.Unmarshal([]byte(wf.StateVars.String), &vars)
	}
	vars[key] = value
	b, err := json.Marshal(vars)
	if err != nil {
		return err
	}
	if err := c.WorkflowRepo.SaveWorkflowVariablesAndTouch(wf.ID, string(b)); err != nil {
		slog.Error("SaveWorkflowVariablesAndTouch failed", "error", err)
		return err
	}
	_, _ = c.WorkflowActionRepo.Save(&domain.WorkflowAction{WorkflowID: wf.ID, ExecutorID: 0, ExecutionCount: wf.RetryCount, Type: "LOG", Name: wf.State, Text: "Set state var " + key, DateTime: time.Now()})
	return nil
}

// handleUpdateStateVar upserts a single state var key/value.
func (c *WorkflowsController) handleUpdateStateVar(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	idStr := r.PathValue("id")
	if idStr == "" {
		http.Error(w, "id is required", http.StatusBadRequest)
		return
	}
	wf := c.findWorkflowByPathID(idStr)
	if wf == nil {
		http.Error(w, "workflow not found", http.StatusNotFound)
		return
	}
	var req models.UpdateStateVarRequest
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		http.Error(w, "invalid JSON payload", http.StatusBadRequest)
		return
	}
	key := strings.TrimSpace(req.Key)
	if key == "" {
		http.Error(w, "key is required", http.StatusBadRequest)
		return
	}
	if err := c.saveStateVar(wf, key, req.Value); err != nil {
		http.Error(w, "failed to update state var", http.StatusInternalServerError)
		return
	}
	writeJSON(w, models.UpdateStateVarResponse{OK: true})
}

func (c *WorkflowsController) handleListWorkflowDefinitions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	defs, err := c.WorkflowManager.ListWorkflowDefinitions()
	if err != nil {
		slog.Error("Failed to list workflow definitions", "error", err)
		http.Error(w, "Failed to load definitions", http.StatusInternalServerError)
		return
	}
	writeJSON(w, defs)
}

func (c *WorkflowsController) handleGetWorkflowDefinitionByName(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	name := r.PathValue("name")
	if name == "" {
		http.Error(w, "name is required", http.StatusBadRequest)
		return
	}

	def, err := c.WorkflowManager.GetWorkflowDefinitionByName(name)
	if err != nil {
		slog.Error("Failed to get workflow definition", "name", name, "error", err)
		http.Error(w, "Failed to load definition", http.StatusInternalServerError)
		return
	}
	if def == nil {
		http.Error(w, "Definition not found", http.StatusNotFound)
		return
	}
	writeJSON(w, def)
}
