package controllers

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/sentinelwatch/sentinel/internal/config"
	"github.com/sentinelwatch/sentinel/internal/domain"
	"github.com/sentinelwatch/sentinel/internal/engine"
	"github.com/sentinelwatch/sentinel/internal/models"
	"github.com/sentinelwatch/sentinel/internal/repository"
	"github.com/sentinelwatch/sentinel/internal/workflows"
	wfdomain "github.com/sentinelwatch/sentinel/pkg/sentinel/domain"
	wfmodels "github.com/sentinelwatch/sentinel/pkg/sentinel/models"
)

// ArticleRepo is the article persistence surface the API needs.
type ArticleRepo interface {
	FindByID(id int64) (*domain.Article, error)
	FindByStatus(status string, limit int, offset int) (*[]domain.Article, error)
	Search(req models.SearchArticleRequest) (*[]domain.Article, error)
	UpdateStatus(id int64, status string) error
	UpdateReview(id int64, reviewedBy string, note string) error
	CountByStatus() ([]repository.ArticleStatusRow, error)
	CountPublishedBySeverity(since time.Time) ([]repository.SeverityRow, error)
}

type ArticlesController struct {
	AuthController
	Articles           ArticleRepo
	WorkflowRepo       engine.WorkflowRepo
	WorkflowActionRepo engine.WorkflowActionRepo
	WorkflowManager    *engine.WorkflowManager
}

func NewArticlesController(articles ArticleRepo, workflowRepo engine.WorkflowRepo,
	workflowActionsRepo engine.WorkflowActionRepo, workflowManager *engine.WorkflowManager,
	userRepo engine.UserRepo) *ArticlesController {
	return &ArticlesController{
		Articles:           articles,
		WorkflowRepo:       workflowRepo,
		WorkflowActionRepo: workflowActionsRepo,
		WorkflowManager:    workflowManager,
		AuthController: AuthController{
			UserRepo: userRepo,
		},
	}
}

func mapArticleToResponse(a *domain.Article) models.ArticleResponse {
	resp := models.ArticleResponse{
		ID:           a.ID,
		ExternalID:   a.ExternalID,
		FeedID:       a.FeedID,
		GUID:         a.GUID,
		Link:         a.Link,
		Title:        a.Title,
		Summary:      a.Summary.String,
		Content:      a.Content.String,
		Severity:     a.Severity.String,
		Score:        a.Score.Int64,
		Decision:     a.Decision.String,
		Status:       a.Status,
		MatchedRules: a.MatchedRuleList(),
		CveIDs:       a.CveList(),
		DuplicateOf:  a.DuplicateOf.Int64,
		DropReason:   a.DropReason.String,
		WorkflowID:   a.WorkflowID.Int64,
		ReviewedBy:   a.ReviewedBy.String,
		ReviewNote:   a.ReviewNote.String,
		Created:      a.Created,
		Modified:     a.Modified,
	}
	if a.PublishedAt.Valid {
		t := a.PublishedAt.Time
		resp.PublishedAt = &t
	}
	return resp
}

func mapArticlesToResponse(articles *[]domain.Article) []models.ArticleResponse {
	out := make([]models.ArticleResponse, 0)
	if articles != nil {
		for i := range *articles {
			out = append(out, mapArticleToResponse(&(*articles)[i]))
		}
	}
	return out
}

// parseListQuery maps the list endpoint's query params onto a search request.
func parseListQuery(r *http.Request) (models.SearchArticleRequest, error) {
	req := models.SearchArticleRequest{}
	q := r.URL.Query()
	if v := q.Get("status"); v != "" {
		req.Statuses = []string{v}
	}
	if v := q.Get("severity"); v != "" {
		req.Severities = []string{v}
	}
	if v := q.Get("feed"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return req, errBadQueryParam("feed")
		}
		req.FeedIDs = []int64{id}
	}
	req.Text = q.Get("q")
	if v := q.Get("from"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return req, errBadQueryParam("from")
		}
		req.From = &t
	}
	if v := q.Get("to"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return req, errBadQueryParam("to")
		}
		req.To = &t
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return req, errBadQueryParam("limit")
		}
		req.Limit = n
	}
	if v := q.Get("offset"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return req, errBadQueryParam("offset")
		}
		req.Offset = n
	}
	return req, nil
}

func errBadQueryParam(param string) error {
	return fmt.Errorf("invalid value for query param %s", param)
}

func (c *ArticlesController) handleListArticles(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	req, err := parseListQuery(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	c.searchArticles(w, req)
}

// handleQueryArticles is the structured variant of the list endpoint, the
// filters arrive as a JSON body instead of query params.
func (c *ArticlesController) handleQueryArticles(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var req models.SearchArticleRequest
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		http.Error(w, "invalid JSON payload", http.StatusBadRequest)
		return
	}
	c.searchArticles(w, req)
}

func (c *ArticlesController) searchArticles(w http.ResponseWriter, req models.SearchArticleRequest) {
	if req.Limit > 1000 {
		http.Error(w, "limit is capped at 1000", http.StatusBadRequest)
		return
	}
	results, err := c.Articles.Search(req)
	if err != nil {
		slog.Error("Failed to search articles", "error", err)
		http.Error(w, "failed to search articles", http.StatusInternalServerError)
		return
	}
	articles := mapArticlesToResponse(results)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(models.SearchArticleResponse{
		Results:  len(articles),
		Articles: articles,
		Offset:   req.Offset,
	})
}

func (c *ArticlesController) handleGetArticle(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	a, ok := c.articleByPathID(w, r)
	if !ok {
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(mapArticleToResponse(a))
}

// handleGetArticleTimeline returns the workflow action audit of the article's
// triage run. An article that has not been picked up yet has an empty
// timeline.
func (c *ArticlesController) handleGetArticleTimeline(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	a, ok := c.articleByPathID(w, r)
	if !ok {
		return
	}

	actions := make([]wfdomain.WorkflowAction, 0)
	if a.WorkflowID.Valid {
		results, err := c.WorkflowActionRepo.FindAllByWorkflowID(a.WorkflowID.Int64)
		if err != nil {
			slog.Error("Failed to load article timeline", "articleId", a.ID, "error", err)
			http.Error(w, "failed to load timeline", http.StatusInternalServerError)
			return
		}
		if results != nil {
			actions = *results
		}
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(actions)
}

// handleRequeueArticle re-runs triage for an article as a fresh workflow. An
// article whose triage workflow is still live cannot be requeued.
func (c *ArticlesController) handleRequeueArticle(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	a, ok := c.articleByPathID(w, r)
	if !ok {
		return
	}

	if a.WorkflowID.Valid {
		wf, _ := c.WorkflowRepo.FindByID(a.WorkflowID.Int64)
		if wf != nil && wf.Status != "FINISHED" && wf.Status != "FAILED" {
			http.Error(w, "article has a live triage workflow", http.StatusConflict)
			return
		}
	}

	req := wfmodels.CreateWorkflowRequest{
		ExternalID:    "triage-" + a.ExternalID + "-" + uuid.NewString()[:8],
		ExecutorGroup: config.GetSystemSettingString(config.ENGINE_EXECUTOR_GROUP),
		WorkflowType:  workflows.ArticleTriageType,
		BusinessKey:   a.ExternalID,
		StateVars:     map[string]string{workflows.VarArticleID: strconv.FormatInt(a.ID, 10)},
	}
	id, err := createWorkflow(r.Context(), c.WorkflowRepo, c.WorkflowManager, req)
	if err != nil {
		slog.Error("Failed to requeue article", "articleId", a.ID, "error", err)
		http.Error(w, "failed to requeue article", http.StatusInternalServerError)
		return
	}
	if err := c.Articles.UpdateStatus(a.ID, domain.ArticleStatusPending); err != nil {
		slog.Error("Failed to reset article status", "articleId", a.ID, "error", err)
	}
	c.WorkflowManager.Wakeup()

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(models.RequeueArticleResponse{WorkflowID: id})
}

// articleByPathID loads the article named by the {id} path value, writing the
// error response itself when the id is bad or unknown.
func (c *ArticlesController) articleByPathID(w http.ResponseWriter, r *http.Request) (*domain.Article, bool) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		http.Error(w, "invalid article id", http.StatusBadRequest)
		return nil, false
	}
	a, err := c.Articles.FindByID(id)
	if err != nil || a == nil {
		http.Error(w, "article not found", http.StatusNotFound)
		return nil, false
	}
	return a, true
}
