package controllers

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/sentinelwatch/sentinel/internal/domain"
	"github.com/sentinelwatch/sentinel/internal/engine"
	"github.com/sentinelwatch/sentinel/internal/models"
	"github.com/sentinelwatch/sentinel/internal/workflows"
	wfdomain "github.com/sentinelwatch/sentinel/pkg/sentinel/domain"
)

const defaultReviewQueueLimit = 50

type ReviewController struct {
	AuthController
	Articles           ArticleRepo
	WorkflowRepo       engine.WorkflowRepo
	WorkflowActionRepo engine.WorkflowActionRepo
	WorkflowManager    *engine.WorkflowManager
}

func NewReviewController(articles ArticleRepo, workflowRepo engine.WorkflowRepo,
	workflowActionsRepo engine.WorkflowActionRepo, workflowManager *engine.WorkflowManager,
	userRepo engine.UserRepo) *ReviewController {
	return &ReviewController{
		Articles:           articles,
		WorkflowRepo:       workflowRepo,
		WorkflowActionRepo: workflowActionsRepo,
		WorkflowManager:    workflowManager,
		AuthController: AuthController{
			UserRepo: userRepo,
		},
	}
}

// handleGetReviewQueue lists the articles waiting on an analyst, oldest
// first.
func (c *ReviewController) handleGetReviewQueue(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	limit := defaultReviewQueueLimit
	offset := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 1000 {
			limit = n
		}
	}
	if v := r.URL.Query().Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			offset = n
		}
	}

	articles, err := c.Articles.FindByStatus(domain.ArticleStatusInReview, limit, offset)
	if err != nil {
		slog.Error("Failed to load review queue", "error", err)
		http.Error(w, "failed to load review queue", http.StatusInternalServerError)
		return
	}
	out := mapArticlesToResponse(articles)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(models.SearchArticleResponse{
		Results:  len(out),
		Articles: out,
		Offset:   int64(offset),
	})
}

// handleReviewDecision resolves an article that is parked for analyst review.
// Approve moves the triage workflow to its publish state, reject to its drop
// state. The workflow row is claimed with an optimistic lock, a lost race is
// a 409 and the caller should reload the queue.
func (c *ReviewController) handleReviewDecision(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		http.Error(w, "invalid article id", http.StatusBadRequest)
		return
	}

	var req models.ReviewDecisionRequest
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		http.Error(w, "invalid JSON payload", http.StatusBadRequest)
		return
	}
	if req.Decision != models.ReviewDecisionApprove && req.Decision != models.ReviewDecisionReject {
		http.Error(w, "decision must be approve or reject", http.StatusBadRequest)
		return
	}

	a, err := c.Articles.FindByID(id)
	if err != nil || a == nil {
		http.Error(w, "article not found", http.StatusNotFound)
		return
	}
	if a.Status != domain.ArticleStatusInReview {
		http.Error(w, "article is not awaiting review", http.StatusConflict)
		return
	}
	if !a.WorkflowID.Valid {
		http.Error(w, "article has no triage workflow", http.StatusConflict)
		return
	}
	wf, err := c.WorkflowRepo.FindByID(a.WorkflowID.Int64)
	if err != nil || wf == nil {
		http.Error(w, "triage workflow not found", http.StatusConflict)
		return
	}
	if wf.State != workflows.StateAwaitReview {
		http.Error(w, "triage workflow is not parked for review", http.StatusConflict)
		return
	}

	target := workflows.StatePublish
	if req.Decision == models.ReviewDecisionReject {
		target = workflows.StateDrop
	}

	if !c.WorkflowRepo.LockWorkflowByModified(wf.ID, wf.Modified) {
		http.Error(w, "another decision is in flight for this article", http.StatusConflict)
		return
	}
	if err := c.WorkflowRepo.UpdateState(wf.ID, target); err != nil {
		slog.Error("Failed to move reviewed workflow", "workflowId", wf.ID, "error", err)
		http.Error(w, "failed to apply decision", http.StatusInternalServerError)
		return
	}

	reviewer := UsernameFromContext(r.Context())
	if err := c.Articles.UpdateReview(a.ID, reviewer, req.Note); err != nil {
		slog.Error("Failed to record reviewer", "articleId", a.ID, "error", err)
	}
	_, _ = c.WorkflowActionRepo.Save(&wfdomain.WorkflowAction{
		WorkflowID:     wf.ID,
		ExecutorID:     0,
		ExecutionCount: wf.RetryCount,
		Type:           "LOG",
		Name:           wf.State,
		Text:           "Review " + req.Decision + " by " + reviewer,
		DateTime:       time.Now(),
	})

	// The lock left the row in status LOCK, revive it so the engine resumes
	// the run at the new state.
	if err := c.WorkflowRepo.UpdateWorkflowStatus(wf.ID, "NEW"); err != nil {
		slog.Error("Failed to revive reviewed workflow", "workflowId", wf.ID, "error", err)
		http.Error(w, "failed to apply decision", http.StatusInternalServerError)
		return
	}
	if err := c.WorkflowRepo.UpdateNextActivationSpecific(wf.ID, time.Now()); err != nil {
		slog.Error("Failed to schedule reviewed workflow", "workflowId", wf.ID, "error", err)
		http.Error(w, "failed to apply decision", http.StatusInternalServerError)
		return
	}
	c.WorkflowManager.Wakeup()

	slog.Info("Review decision applied", "articleId", a.ID, "decision", req.Decision, "reviewer", reviewer)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(models.ReviewDecisionResponse{
		OK:            true,
		Decision:      req.Decision,
		WorkflowState: target,
	})
}
