package controllers

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/sentinelwatch/sentinel/internal/engine"
	"github.com/sentinelwatch/sentinel/internal/models"
)

// DeadLetterCounter is the slice of the dead letter repo the overview needs.
type DeadLetterCounter interface {
	CountPending() (int, error)
}

type OverviewController struct {
	AuthController
	Articles        ArticleRepo
	DeadLetters     DeadLetterCounter
	WorkflowManager *engine.WorkflowManager
}

func NewOverviewController(articles ArticleRepo, deadLetters DeadLetterCounter,
	workflowManager *engine.WorkflowManager, userRepo engine.UserRepo) *OverviewController {
	return &OverviewController{
		Articles:        articles,
		DeadLetters:     deadLetters,
		WorkflowManager: workflowManager,
		AuthController: AuthController{
			UserRepo: userRepo,
		},
	}
}

// handleOverview renders the triage dashboard counts. The published breakdown
// covers the trailing 24 hours.
func (c *OverviewController) handleOverview(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	resp := models.OverviewResponse{
		Workflows: make([]models.WorkflowTypeCount, 0),
		Articles:  make([]models.ArticleStatusCount, 0),
		Published: make([]models.SeverityCount, 0),
	}

	rows, err := c.WorkflowManager.Overview()
	if err != nil {
		slog.Error("Failed to load workflow overview", "error", err)
		http.Error(w, "failed to load overview", http.StatusInternalServerError)
		return
	}
	for _, row := range rows {
		resp.Workflows = append(resp.Workflows, models.WorkflowTypeCount{
			ExecutorGroup:   row.ExecutorGroup,
			WorkflowType:    row.WorkflowType,
			NewCount:        row.NewCount,
			ScheduledCount:  row.ScheduledCount,
			ExecutingCount:  row.ExecutingCount,
			FinishedCount:   row.FinishedCount,
			InProgressCount: row.InProgressCount,
			FailedCount:     row.FailedCount,
		})
	}

	statusRows, err := c.Articles.CountByStatus()
	if err != nil {
		slog.Error("Failed to count articles by status", "error", err)
		http.Error(w, "failed to load overview", http.StatusInternalServerError)
		return
	}
	for _, row := range statusRows {
		resp.Articles = append(resp.Articles, models.ArticleStatusCount{
			Status: row.Status,
			Count:  row.Count,
		})
	}

	severityRows, err := c.Articles.CountPublishedBySeverity(time.Now().Add(-24 * time.Hour))
	if err != nil {
		slog.Error("Failed to count published articles", "error", err)
		http.Error(w, "failed to load overview", http.StatusInternalServerError)
		return
	}
	for _, row := range severityRows {
		resp.Published = append(resp.Published, models.SeverityCount{
			Severity: row.Severity,
			Count:    row.Count,
		})
	}

	pending, err := c.DeadLetters.CountPending()
	if err != nil {
		slog.Error("Failed to count pending dead letters", "error", err)
		http.Error(w, "failed to load overview", http.StatusInternalServerError)
		return
	}
	resp.DeadLettersPending = pending

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(resp)
}
