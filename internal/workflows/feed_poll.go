package workflows

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/sentinelwatch/sentinel/internal/domain"
	"github.com/sentinelwatch/sentinel/internal/ingest"
	"github.com/sentinelwatch/sentinel/pkg/sentinel/core"
	wfdomain "github.com/sentinelwatch/sentinel/pkg/sentinel/domain"
	"github.com/sentinelwatch/sentinel/pkg/sentinel/models"
	"github.com/sentinelwatch/sentinel/pkg/sentinel/workflow_helpers"
)

// FeedPollType is the workflow type of the singleton feed polling loop.
const FeedPollType = "FeedPoll"

// FeedPollExternalID keys the singleton instance; bootstrap creates it
// idempotently on startup.
const FeedPollExternalID = "feed-poll"

// FeedPoll states. The loop re-arms itself through Idle; Paused and Stopped
// exist for operators to suspend or terminate polling through the API.
const (
	StateFetchFeeds = "FetchFeeds"
	StateDispatch   = "Dispatch"
	StateIdle       = "Idle"
	StatePaused     = "Paused"
	StateStopped    = "Stopped"
)

// feedPollCycle is how often the loop wakes to check which feeds are due.
// Individual feeds poll on their own configured interval.
const feedPollCycle = "2 minutes"

const VarPendingArticles = "pendingArticles"

// FeedFetcher runs a polling cycle over the given feeds. *ingest.Fetcher
// satisfies it.
type FeedFetcher interface {
	FetchDue(ctx context.Context, feeds []domain.Feed) ([]ingest.FetchResult, error)
}

// FeedLister lists the feeds a cycle considers. *repository.FeedRepository
// satisfies it.
type FeedLister interface {
	FindEnabled() (*[]domain.Feed, error)
}

type FeedPollDeps struct {
	Fetcher FeedFetcher
	Feeds   FeedLister
}

// pendingArticle is carried in state vars between FetchFeeds and Dispatch.
type pendingArticle struct {
	ID         int64  `json:"id"`
	ExternalID string `json:"externalId"`
}

// FeedPollWorkflow polls the configured feeds on a cycle and spawns one
// ArticleTriage child per newly stored article.
type FeedPollWorkflow struct {
	core.BaseWorkflow
	deps *FeedPollDeps
}

func NewFeedPollWorkflow(deps *FeedPollDeps) *FeedPollWorkflow {
	return &FeedPollWorkflow{deps: deps}
}

func (w *FeedPollWorkflow) Setup(wf *wfdomain.Workflow) {
	w.BaseWorkflow.Setup(wf)
}

func (w *FeedPollWorkflow) GetWorkflowData() *wfdomain.Workflow {
	return w.WorkflowState
}

func (w *FeedPollWorkflow) GetStateVariables() map[string]string {
	return w.StateVariables
}

func (w *FeedPollWorkflow) InitialState() string {
	return StateFetchFeeds
}

func (w *FeedPollWorkflow) Description() string {
	return "Polls the configured feeds and spawns a triage workflow per new article"
}

func (w *FeedPollWorkflow) StateTransitions() map[string][]string {
	return map[string][]string{
		StateFetchFeeds: {StateDispatch},
		StateDispatch:   {StateIdle},
		StateIdle:       {StateFetchFeeds, StatePaused, StateStopped},
		StatePaused:     {StateFetchFeeds, StateStopped},
	}
}

func (w *FeedPollWorkflow) GetAllStates() []models.WorkflowState {
	return []models.WorkflowState{
		{Name: StateFetchFeeds, StateType: models.StateStart},
		{Name: StateDispatch, StateType: models.StateNormal},
		{Name: StateIdle, StateType: models.StateNormal},
		{Name: StatePaused, StateType: models.StateManual},
		{Name: StateStopped, StateType: models.StateEnd},
		{Name: StateFailed, StateType: models.StateError},
	}
}

func (w *FeedPollWorkflow) GetRetryConfig() models.RetryConfig {
	return models.RetryConfig{
		MaxRetryCount:    5,
		RetryIntervalMin: time.Minute * 1,
		RetryIntervalMax: time.Minute * 15,
	}
}

// FetchFeeds runs one polling cycle. Per-feed failures are recorded on the
// feed rows by the fetcher and must not fail the loop, so only the article
// ids of successful polls move forward.
func (w *FeedPollWorkflow) FetchFeeds(ctx context.Context) (*models.NextState, error) {
	feeds, err := w.deps.Feeds.FindEnabled()
	if err != nil {
		return nil, fmt.Errorf("list enabled feeds: %w", err)
	}

	results, aggErr := w.deps.Fetcher.FetchDue(ctx, *feeds)
	if aggErr != nil {
		slog.WarnContext(ctx, "Some feeds failed this cycle", "error", aggErr)
	}

	var pending []pendingArticle
	polled := 0
	for _, res := range results {
		polled++
		for _, a := range res.NewArticles {
			pending = append(pending, pendingArticle{ID: a.ID, ExternalID: a.ExternalID})
		}
	}
	if err := workflow_helpers.SaveStructToStateVars(w.StateVariables, VarPendingArticles, pending); err != nil {
		return nil, fmt.Errorf("save pending articles: %w", err)
	}

	log := fmt.Sprintf("%d feeds polled, %d new articles", polled, len(pending))
	if aggErr != nil {
		log += ", some feeds failed"
	}
	return &models.NextState{
		Name:      StateDispatch,
		ActionLog: log,
	}, nil
}

// Dispatch spawns one ArticleTriage child per pending article. Child creation
// is idempotent on the triage external id, so re-running this state after a
// crash cannot double-triage an article.
func (w *FeedPollWorkflow) Dispatch(ctx context.Context) (*models.NextState, error) {
	pending, err := workflow_helpers.LoadStructFromStateVars[[]pendingArticle](w.StateVariables, VarPendingArticles)
	if err != nil {
		return nil, fmt.Errorf("load pending articles: %w", err)
	}

	var children []models.ChildWorkflowRequest
	for _, p := range *pending {
		children = append(children, models.ChildWorkflowRequest{
			WorkflowType:   ArticleTriageType,
			ExternalID:     "triage-" + p.ExternalID,
			BusinessKey:    p.ExternalID,
			StateVariables: map[string]string{VarArticleID: strconv.FormatInt(p.ID, 10)},
		})
	}
	delete(w.StateVariables, VarPendingArticles)

	slog.InfoContext(ctx, "Dispatching triage workflows", "workflow_id", w.WorkflowState.ID, "count", len(children))
	return &models.NextState{
		Name:           StateIdle,
		ActionLog:      fmt.Sprintf("dispatched %d triage workflows", len(children)),
		ChildWorkflows: children,
	}, nil
}

// Idle re-arms the loop for the next cycle.
func (w *FeedPollWorkflow) Idle(ctx context.Context) (*models.NextState, error) {
	slog.DebugContext(ctx, "Feed poll idling", "workflow_id", w.WorkflowState.ID, "cycle", feedPollCycle)
	return &models.NextState{
		Name:                StateFetchFeeds,
		ActionLog:           "sleeping until next poll cycle",
		NextExecutionOffset: feedPollCycle,
	}, nil
}
