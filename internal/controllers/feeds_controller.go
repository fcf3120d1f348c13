package controllers

import (
	"database/sql"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/sentinelwatch/sentinel/internal/domain"
	"github.com/sentinelwatch/sentinel/internal/engine"
	"github.com/sentinelwatch/sentinel/internal/models"
	"github.com/sentinelwatch/sentinel/internal/workflows"
)

// FeedRepo is the feed persistence surface the API needs.
type FeedRepo interface {
	FindAll() (*[]domain.Feed, error)
	FindByID(id int64) (*domain.Feed, error)
	Save(f *domain.Feed) (int64, error)
	Update(f *domain.Feed) error
	Delete(id int64) error
}

type FeedsController struct {
	AuthController
	Feeds           FeedRepo
	WorkflowRepo    engine.WorkflowRepo
	WorkflowManager *engine.WorkflowManager
}

func NewFeedsController(feeds FeedRepo, workflowRepo engine.WorkflowRepo,
	workflowManager *engine.WorkflowManager, userRepo engine.UserRepo) *FeedsController {
	return &FeedsController{
		Feeds:           feeds,
		WorkflowRepo:    workflowRepo,
		WorkflowManager: workflowManager,
		AuthController: AuthController{
			UserRepo: userRepo,
		},
	}
}

func mapFeedToResponse(f *domain.Feed) models.FeedResponse {
	resp := models.FeedResponse{
		ID:           f.ID,
		Name:         f.Name,
		URL:          f.URL,
		Enabled:      f.Enabled,
		PollInterval: f.PollInterval,
		Tags:         f.TagList(),
		LastStatus:   f.LastStatus.String,
		LastError:    f.LastError.String,
		Created:      f.Created,
	}
	if f.LastPolled.Valid {
		t := f.LastPolled.Time
		resp.LastPolled = &t
	}
	return resp
}

func validateFeedRequest(req models.FeedRequest) string {
	if strings.TrimSpace(req.Name) == "" {
		return "name is required"
	}
	if req.URL == "" {
		return "url is required"
	}
	u, err := url.Parse(req.URL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return "url must be an absolute http or https url"
	}
	return ""
}

func (c *FeedsController) handleGetFeeds(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	feeds, err := c.Feeds.FindAll()
	if err != nil {
		slog.Error("Failed to load feeds", "error", err)
		http.Error(w, "failed to load feeds", http.StatusInternalServerError)
		return
	}
	out := make([]models.FeedResponse, 0)
	if feeds != nil {
		for i := range *feeds {
			out = append(out, mapFeedToResponse(&(*feeds)[i]))
		}
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(out)
}

func (c *FeedsController) handleCreateFeed(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var req models.FeedRequest
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		http.Error(w, "invalid JSON payload", http.StatusBadRequest)
		return
	}
	if msg := validateFeedRequest(req); msg != "" {
		http.Error(w, msg, http.StatusBadRequest)
		return
	}

	feed := &domain.Feed{
		Name:         strings.TrimSpace(req.Name),
		URL:          req.URL,
		Enabled:      true,
		PollInterval: req.PollInterval,
	}
	if req.Enabled != nil {
		feed.Enabled = *req.Enabled
	}
	if feed.PollInterval == "" {
		feed.PollInterval = "15 minutes"
	}
	if len(req.Tags) > 0 {
		feed.Tags = sql.NullString{String: strings.Join(req.Tags, ","), Valid: true}
	}

	id, err := c.Feeds.Save(feed)
	if err != nil {
		slog.Error("Failed to create feed", "name", feed.Name, "error", err)
		http.Error(w, "failed to create feed", http.StatusInternalServerError)
		return
	}
	feed.ID = id

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(mapFeedToResponse(feed))
}

func (c *FeedsController) handleUpdateFeed(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPut {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	feed, ok := c.feedByPathID(w, r)
	if !ok {
		return
	}

	var req models.FeedRequest
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		http.Error(w, "invalid JSON payload", http.StatusBadRequest)
		return
	}
	if msg := validateFeedRequest(req); msg != "" {
		http.Error(w, msg, http.StatusBadRequest)
		return
	}

	feed.Name = strings.TrimSpace(req.Name)
	feed.URL = req.URL
	if req.Enabled != nil {
		feed.Enabled = *req.Enabled
	}
	if req.PollInterval != "" {
		feed.PollInterval = req.PollInterval
	}
	if req.Tags != nil {
		feed.Tags = sql.NullString{String: strings.Join(req.Tags, ","), Valid: len(req.Tags) > 0}
	}

	if err := c.Feeds.Update(feed); err != nil {
		slog.Error("Failed to update feed", "feedId", feed.ID, "error", err)
		http.Error(w, "failed to update feed", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(mapFeedToResponse(feed))
}

func (c *FeedsController) handleDeleteFeed(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodDelete {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	feed, ok := c.feedByPathID(w, r)
	if !ok {
		return
	}
	if err := c.Feeds.Delete(feed.ID); err != nil {
		slog.Error("Failed to delete feed", "feedId", feed.ID, "error", err)
		http.Error(w, "failed to delete feed", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleForcePoll pulls the next feed poll cycle forward to now. The poller
// itself still honors each feed's own interval.
func (c *FeedsController) handleForcePoll(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if _, ok := c.feedByPathID(w, r); !ok {
		return
	}

	wf, err := c.WorkflowRepo.FindByExternalId(workflows.FeedPollExternalID)
	if err != nil || wf == nil {
		http.Error(w, "feed poll workflow is not running", http.StatusConflict)
		return
	}
	if err := c.WorkflowRepo.UpdateNextActivationSpecific(wf.ID, time.Now()); err != nil {
		slog.Error("Failed to schedule feed poll", "error", err)
		http.Error(w, "failed to schedule poll", http.StatusInternalServerError)
		return
	}
	c.WorkflowManager.Wakeup()

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]bool{"ok": true})
}

func (c *FeedsController) feedByPathID(w http.ResponseWriter, r *http.Request) (*domain.Feed, bool) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		http.Error(w, "invalid feed id", http.StatusBadRequest)
		return nil, false
	}
	feed, err := c.Feeds.FindByID(id)
	if err != nil || feed == nil {
		http.Error(w, "feed not found", http.StatusNotFound)
		return nil, false
	}
	return feed, true
}
