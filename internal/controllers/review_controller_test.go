package controllers

import (
	"bytes"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/sentinelwatch/sentinel/internal/domain"
	"github.com/sentinelwatch/sentinel/internal/models"
	"github.com/sentinelwatch/sentinel/internal/workflows"
	wfdomain "github.com/sentinelwatch/sentinel/pkg/sentinel/domain"
)

func newReviewController(articles ArticleRepo, workflowRepo *MockWorkflowRepo,
	actionRepo *MockWorkflowActionRepo) *ReviewController {
	wm := newTestWorkflowManager(workflowRepo, actionRepo, &MockExecutorRepo{}, &MockDefinitionRepo{})
	return NewReviewController(articles, workflowRepo, actionRepo, wm, nil)
}

func reviewRequest(t *testing.T, articleID string, decision string, note string) *http.Request {
	t.Helper()
	body, err := json.Marshal(models.ReviewDecisionRequest{Decision: decision, Note: note})
	if err != nil {
		t.Fatalf("Failed to marshal decision: %v", err)
	}
	req := httptest.NewRequest("POST", "/api/review/"+articleID, bytes.NewReader(body))
	req.SetPathValue("id", articleID)
	return req.WithContext(authContext(req.Context(), "reviewer1", []string{domain.GroupAnalysts}))
}

func TestReviewController_GetReviewQueue(t *testing.T) {
	var gotStatus string
	var gotLimit int
	articles := &MockArticleRepo{
		FindByStatusFunc: func(status string, limit int, offset int) (*[]domain.Article, error) {
			gotStatus = status
			gotLimit = limit
			return &[]domain.Article{
				{ID: 9, Title: "Zero day in VPN appliance", Status: domain.ArticleStatusInReview},
			}, nil
		},
	}
	c := newReviewController(articles, &MockWorkflowRepo{}, &MockWorkflowActionRepo{})

	req := httptest.NewRequest("GET", "/api/review", nil)
	w := httptest.NewRecorder()

	c.handleGetReviewQueue(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}
	if gotStatus != domain.ArticleStatusInReview {
		t.Errorf("Expected query for IN_REVIEW, got %q", gotStatus)
	}
	if gotLimit != defaultReviewQueueLimit {
		t.Errorf("Expected the default limit %d, got %d", defaultReviewQueueLimit, gotLimit)
	}
	var resp models.SearchArticleResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if resp.Results != 1 {
		t.Errorf("Expected 1 queued article, got %d", resp.Results)
	}
}

func TestReviewController_ReviewDecision_Approve(t *testing.T) {
	articles := &MockArticleRepo{
		FindByIDFunc: func(id int64) (*domain.Article, error) {
			return &domain.Article{ID: 9, Status: domain.ArticleStatusInReview,
				WorkflowID: sql.NullInt64{Int64: 5, Valid: true}}, nil
		},
	}
	var reviewedBy, reviewNote string
	articles.UpdateReviewFunc = func(id int64, by string, note string) error {
		reviewedBy = by
		reviewNote = note
		return nil
	}
	var gotState, gotStatus string
	var rescheduled bool
	workflowRepo := &MockWorkflowRepo{
		FindByIDFunc: func(id int64) (*wfdomain.Workflow, error) {
			return &wfdomain.Workflow{ID: 5, State: workflows.StateAwaitReview,
				Status: "IN_PROGRESS", Modified: time.Now()}, nil
		},
		UpdateStateFunc: func(id int64, state string) error {
			gotState = state
			return nil
		},
		UpdateWorkflowStatusFunc: func(id int64, status string) error {
			gotStatus = status
			return nil
		},
		UpdateNextActivationSpecificFunc: func(id int64, next time.Time) error {
			rescheduled = true
			return nil
		},
	}
	c := newReviewController(articles, workflowRepo, &MockWorkflowActionRepo{})

	w := httptest.NewRecorder()
	c.handleReviewDecision(w, reviewRequest(t, "9", models.ReviewDecisionApprove, "looks real"))

	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d: %s", w.Code, w.Body.String())
	}
	var resp models.ReviewDecisionResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if !resp.OK || resp.WorkflowState != workflows.StatePublish {
		t.Errorf("Unexpected decision response: %+v", resp)
	}
	if gotState != workflows.StatePublish {
		t.Errorf("Expected the workflow moved to Publish, got %q", gotState)
	}
	// the optimistic lock leaves the row in LOCK, the decision must revive it
	if gotStatus != "NEW" {
		t.Errorf("Expected status reset to NEW, got %q", gotStatus)
	}
	if !rescheduled {
		t.Error("Expected the workflow to be scheduled for immediate pickup")
	}
	if reviewedBy != "reviewer1" || reviewNote != "looks real" {
		t.Errorf("Expected the reviewer to be recorded, got %q/%q", reviewedBy, reviewNote)
	}
}

func TestReviewController_ReviewDecision_Reject(t *testing.T) {
	articles := &MockArticleRepo{
		FindByIDFunc: func(id int64) (*domain.Article, error) {
			return &domain.Article{ID: 9, Status: domain.ArticleStatusInReview,
				WorkflowID: sql.NullInt64{Int64: 5, Valid: true}}, nil
		},
	}
	var gotState string
	workflowRepo := &MockWorkflowRepo{
		FindByIDFunc: func(id int64) (*wfdomain.Workflow, error) {
			return &wfdomain.Workflow{ID: 5, State: workflows.StateAwaitReview, Modified: time.Now()}, nil
		},
		UpdateStateFunc: func(id int64, state string) error {
			gotState = state
			return nil
		},
	}
	c := newReviewController(articles, workflowRepo, &MockWorkflowActionRepo{})

	w := httptest.NewRecorder()
	c.handleReviewDecision(w, reviewRequest(t, "9", models.ReviewDecisionReject, ""))

	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}
	if gotState != workflows.StateDrop {
		t.Errorf("Expected the workflow moved to Drop, got %q", gotState)
	}
}

func TestReviewController_ReviewDecision_BadDecision(t *testing.T) {
	c := newReviewController(&MockArticleRepo{}, &MockWorkflowRepo{}, &MockWorkflowActionRepo{})

	w := httptest.NewRecorder()
	c.handleReviewDecision(w, reviewRequest(t, "9", "maybe", ""))

	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected status 400, got %d", w.Code)
	}
}

func TestReviewController_ReviewDecision_NotInReview(t *testing.T) {
	articles := &MockArticleRepo{
		FindByIDFunc: func(id int64) (*domain.Article, error) {
			return &domain.Article{ID: 9, Status: domain.ArticleStatusPublished}, nil
		},
	}
	c := newReviewController(articles, &MockWorkflowRepo{}, &MockWorkflowActionRepo{})

	w := httptest.NewRecorder()
	c.handleReviewDecision(w, reviewRequest(t, "9", models.ReviewDecisionApprove, ""))

	if w.Code != http.StatusConflict {
		t.Errorf("Expected status 409, got %d", w.Code)
	}
}

func TestReviewController_ReviewDecision_WorkflowNotParked(t *testing.T) {
	articles := &MockArticleRepo{
		FindByIDFunc: func(id int64) (*domain.Article, error) {
			return &domain.Article{ID: 9, Status: domain.ArticleStatusInReview,
				WorkflowID: sql.NullInt64{Int64: 5, Valid: true}}, nil
		},
	}
	workflowRepo := &MockWorkflowRepo{
		FindByIDFunc: func(id int64) (*wfdomain.Workflow, error) {
			return &wfdomain.Workflow{ID: 5, State: "Relevance", Modified: time.Now()}, nil
		},
	}
	c := newReviewController(articles, workflowRepo, &MockWorkflowActionRepo{})

	w := httptest.NewRecorder()
	c.handleReviewDecision(w, reviewRequest(t, "9", models.ReviewDecisionApprove, ""))

	if w.Code != http.StatusConflict {
		t.Errorf("Expected status 409, got %d", w.Code)
	}
}

func TestReviewController_ReviewDecision_LockLost(t *testing.T) {
	articles := &MockArticleRepo{
		FindByIDFunc: func(id int64) (*domain.Article, error) {
			return &domain.Article{ID: 9, Status: domain.ArticleStatusInReview,
				WorkflowID: sql.NullInt64{Int64: 5, Valid: true}}, nil
		},
	}
	workflowRepo := &MockWorkflowRepo{
		FindByIDFunc: func(id int64) (*wfdomain.Workflow, error) {
			return &wfdomain.Workflow{ID: 5, State: workflows.StateAwaitReview, Modified: time.Now()}, nil
		},
		LockWorkflowByModifiedFunc: func(id int64, modified time.Time) bool { return false },
		UpdateStateFunc: func(id int64, state string) error {
			t.Error("UpdateState should not run after a lost lock")
			return nil
		},
	}
	c := newReviewController(articles, workflowRepo, &MockWorkflowActionRepo{})

	w := httptest.NewRecorder()
	c.handleReviewDecision(w, reviewRequest(t, "9", models.ReviewDecisionApprove, ""))

	if w.Code != http.StatusConflict {
		t.Errorf("Expected status 409, got %d", w.Code)
	}
}
