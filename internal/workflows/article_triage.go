package workflows

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/sentinelwatch/sentinel/internal/config"
	"github.com/sentinelwatch/sentinel/internal/domain"
	"github.com/sentinelwatch/sentinel/internal/notify"
	"github.com/sentinelwatch/sentinel/internal/triage"
	"github.com/sentinelwatch/sentinel/pkg/sentinel/core"
	wfdomain "github.com/sentinelwatch/sentinel/pkg/sentinel/domain"
	"github.com/sentinelwatch/sentinel/pkg/sentinel/models"
	"github.com/sentinelwatch/sentinel/pkg/sentinel/workflow_helpers"
)

// ArticleTriageType is the workflow type both triage variants register under.
// The engine only ever sees one ArticleTriage definition; which variant backs
// it is decided once at startup from the agent configuration.
const ArticleTriageType = "ArticleTriage"

// States shared by both triage variants. The direct variant walks the rule
// pipeline state by state, the agent variant collapses it into AgentAssess
// with EvaluateFallback as the degraded path. Terminal states are identical.
const (
	StateParseContent      = "ParseContent"
	StateEvaluateRelevance = "EvaluateRelevance"
	StateDeduplicate       = "Deduplicate"
	StateCheckGuardrails   = "CheckGuardrails"
	StateAgentAssess       = "AgentAssess"
	StateEvaluateFallback  = "EvaluateFallback"
	StatePublish           = "Publish"
	StateAwaitReview       = "AwaitReview"
	StateDrop              = "Drop"
	StatePublished         = "Published"
	StateDiscarded         = "Discarded"
	StateFailed            = "Failed"
)

// State variable keys used across triage states.
const (
	VarArticleID  = "articleId"
	VarVerdict    = "verdict"
	VarDropReason = "dropReason"
)

// ArticleStore is the article persistence surface the triage states need.
// *repository.ArticleRepository satisfies it.
type ArticleStore interface {
	FindByID(id int64) (*domain.Article, error)
	UpdateParsed(id int64, titleNorm string, contentHash string, cveIDs string) error
	UpdateTriageOutcome(id int64, score int64, decision string, severity string, matchedRules string, cveIDs string) error
	UpdateStatus(id int64, status string) error
	MarkDuplicate(id int64, duplicateOf int64) error
	MarkPublished(id int64) error
	MarkDropped(id int64, reason string) error
	SetWorkflowID(id int64, workflowID int64) error
}

// FeedStore resolves the feed an article came from, for the rule environment.
type FeedStore interface {
	FindByID(id int64) (*domain.Feed, error)
}

// TriageDeps bundles everything a triage workflow instance needs. One value
// is shared by every instance the factory produces, so all fields must be
// safe for concurrent use.
type TriageDeps struct {
	Articles ArticleStore
	Feeds    FeedStore
	Rules    *triage.RuleSet
	Guards   *triage.Guardrails
	Deduper  *triage.Deduper
	Notifier notify.Notifier
	Config   *config.TriageConfig
}

// NewArticleTriageFactory returns the registry factory for the ArticleTriage
// type. With agent.enabled the agent variant is served, otherwise the
// rule-driven direct variant. Both share TriageDeps; the agent variant
// additionally needs the model runtime.
func NewArticleTriageFactory(deps *TriageDeps, agentDeps *AgentDeps) func() core.Workflow {
	if deps.Config != nil && deps.Config.Agent.Enabled {
		return func() core.Workflow {
			return &TriageAgentWorkflow{deps: deps, agent: agentDeps}
		}
	}
	return func() core.Workflow {
		return &TriageDirectWorkflow{deps: deps}
	}
}

// loadArticle resolves the article this workflow instance triages from its
// state variables.
func (d *TriageDeps) loadArticle(vars map[string]string) (*domain.Article, error) {
	raw, ok := vars[VarArticleID]
	if !ok || raw == "" {
		return nil, fmt.Errorf("state variable %s is not set", VarArticleID)
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("state variable %s is not an article id: %w", VarArticleID, err)
	}
	a, err := d.Articles.FindByID(id)
	if err != nil {
		return nil, fmt.Errorf("load article %d: %w", id, err)
	}
	if a == nil {
		return nil, fmt.Errorf("article %d not found", id)
	}
	return a, nil
}

func (d *TriageDeps) loadFeed(a *domain.Article) (*domain.Feed, error) {
	feed, err := d.Feeds.FindByID(a.FeedID)
	if err != nil {
		return nil, fmt.Errorf("load feed %d: %w", a.FeedID, err)
	}
	if feed == nil {
		return nil, fmt.Errorf("feed %d not found", a.FeedID)
	}
	return feed, nil
}

// notifyEvent delivers best effort. A notifier failure is logged and never
// fails the triage state.
func (d *TriageDeps) notifyEvent(ctx context.Context, event notify.Event) {
	if d.Notifier == nil {
		return
	}
	if err := d.Notifier.Notify(ctx, event); err != nil {
		slog.WarnContext(ctx, "Notification delivery failed", "type", event.Type, "article_id", event.ArticleID, "error", err)
	}
}

// parseContent is the shared Start state. It claims the article for this
// workflow, derives the normalized fields used by dedup and rules, and
// persists them. Articles with no usable text go straight to Drop.
func parseContent(ctx context.Context, deps *TriageDeps, wf *wfdomain.Workflow, vars map[string]string, nextOnSuccess string) (*models.NextState, error) {
	a, err := deps.loadArticle(vars)
	if err != nil {
		return nil, err
	}
	slog.InfoContext(ctx, "Parsing article content", "workflow_id", wf.ID, "article_id", a.ID, "title", a.Title)

	if err := deps.Articles.SetWorkflowID(a.ID, wf.ID); err != nil {
		return nil, fmt.Errorf("attach workflow to article %d: %w", a.ID, err)
	}
	if err := deps.Articles.UpdateStatus(a.ID, domain.ArticleStatusTriaging); err != nil {
		return nil, fmt.Errorf("mark article %d triaging: %w", a.ID, err)
	}

	body := a.Content.String
	if strings.TrimSpace(body) == "" {
		body = a.Summary.String
	}
	text := triage.CollapseWhitespace(triage.StripHTML(body))
	if strings.TrimSpace(a.Title) == "" && text == "" {
		vars[VarDropReason] = "article has no usable content"
		return &models.NextState{
			Name:      StateDrop,
			ActionLog: "no title and no body text, nothing to triage",
		}, nil
	}

	titleNorm := triage.NormalizeTitle(a.Title)
	hash := triage.ContentHash(a.Title + " " + text)
	cves := triage.ExtractCVEs(strings.Join([]string{a.Title, a.Summary.String, a.Content.String}, " "))
	if err := deps.Articles.UpdateParsed(a.ID, titleNorm, hash, strings.Join(cves, ",")); err != nil {
		return nil, fmt.Errorf("persist parsed fields for article %d: %w", a.ID, err)
	}

	return &models.NextState{
		Name:      nextOnSuccess,
		ActionLog: fmt.Sprintf("parsed content, %d CVE ids extracted", len(cves)),
	}, nil
}

// evaluateRules runs the rule set and persists the verdict on the article and
// into the state variables for the downstream states.
func evaluateRules(ctx context.Context, deps *TriageDeps, vars map[string]string) (*triage.Verdict, *domain.Article, error) {
	a, err := deps.loadArticle(vars)
	if err != nil {
		return nil, nil, err
	}
	feed, err := deps.loadFeed(a)
	if err != nil {
		return nil, nil, err
	}
	v, err := deps.Rules.Evaluate(a, feed)
	if err != nil {
		return nil, nil, err
	}
	if err := deps.Articles.UpdateTriageOutcome(a.ID, int64(v.Score), v.Decision, v.Severity, strings.Join(v.Matched, ","), a.CveIDs.String); err != nil {
		return nil, nil, fmt.Errorf("persist triage outcome for article %d: %w", a.ID, err)
	}
	if err := workflow_helpers.SaveStructToStateVars(vars, VarVerdict, v); err != nil {
		return nil, nil, fmt.Errorf("save verdict state var: %w", err)
	}
	slog.InfoContext(ctx, "Rules evaluated", "article_id", a.ID, "score", v.Score, "decision", v.Decision, "severity", v.Severity)
	return &v, a, nil
}

// loadVerdict reads the verdict a previous state stored. Falls back to the
// persisted article columns when the state variable is missing, which happens
// when an operator moves the workflow by hand.
func loadVerdict(vars map[string]string, a *domain.Article) triage.Verdict {
	if v, err := workflow_helpers.LoadStructFromStateVars[triage.Verdict](vars, VarVerdict); err == nil {
		return *v
	}
	return triage.Verdict{
		Decision: a.Decision.String,
		Severity: a.Severity.String,
		Score:    int(a.Score.Int64),
		Matched:  a.MatchedRuleList(),
	}
}

// escalateForReview marks the article for analyst review and notifies. The
// caller transitions to AwaitReview, a manual state, so these side effects
// must happen here: manual states park without running any method.
func escalateForReview(ctx context.Context, deps *TriageDeps, a *domain.Article, severity string, reason string) (*models.NextState, error) {
	if err := deps.Articles.UpdateStatus(a.ID, domain.ArticleStatusInReview); err != nil {
		return nil, fmt.Errorf("mark article %d in review: %w", a.ID, err)
	}
	deps.notifyEvent(ctx, notify.Event{
		Type:      notify.EventArticleEscalated,
		Title:     "Review needed: " + a.Title,
		Message:   reason,
		Severity:  severity,
		Link:      a.Link,
		ArticleID: a.ID,
	})
	return &models.NextState{
		Name:      StateAwaitReview,
		ActionLog: "escalated for analyst review: " + reason,
	}, nil
}

// routeVerdict maps a decision onto the outcome states. Used by the direct
// CheckGuardrails state and by the agent fallback path after guardrails ran.
func routeVerdict(ctx context.Context, deps *TriageDeps, vars map[string]string, a *domain.Article, v triage.Verdict) (*models.NextState, error) {
	switch v.Decision {
	case triage.DecisionAutoPublish:
		return &models.NextState{
			Name:      StatePublish,
			ActionLog: fmt.Sprintf("score %d clears auto publish threshold", v.Score),
		}, nil
	case triage.DecisionReview:
		return escalateForReview(ctx, deps, a, v.Severity, v.Rationale)
	default:
		vars[VarDropReason] = "not relevant: " + v.Rationale
		return &models.NextState{
			Name:      StateDrop,
			ActionLog: fmt.Sprintf("score %d below review threshold", v.Score),
		}, nil
	}
}

// publish is the shared Publish state body.
func publish(ctx context.Context, deps *TriageDeps, vars map[string]string) (*models.NextState, error) {
	a, err := deps.loadArticle(vars)
	if err != nil {
		return nil, err
	}
	if err := deps.Articles.MarkPublished(a.ID); err != nil {
		return nil, fmt.Errorf("mark article %d published: %w", a.ID, err)
	}
	v := loadVerdict(vars, a)
	slog.InfoContext(ctx, "Article published", "article_id", a.ID, "severity", v.Severity, "score", v.Score)

	minSeverity := ""
	if deps.Config != nil {
		minSeverity = deps.Config.Notify.MinSeverity
	}
	if triage.SeverityAtLeast(v.Severity, minSeverity) {
		deps.notifyEvent(ctx, notify.Event{
			Type:      notify.EventArticlePublished,
			Title:     a.Title,
			Message:   v.Rationale,
			Severity:  v.Severity,
			Link:      a.Link,
			ArticleID: a.ID,
		})
	}
	return &models.NextState{
		Name:      StatePublished,
		ActionLog: "article published",
	}, nil
}

// drop is the shared Drop state body. The reason comes from whichever state
// routed here; a reviewer rejection arrives without one.
func drop(ctx context.Context, deps *TriageDeps, vars map[string]string) (*models.NextState, error) {
	a, err := deps.loadArticle(vars)
	if err != nil {
		return nil, err
	}
	reason := vars[VarDropReason]
	if reason == "" {
		if a.Status == domain.ArticleStatusInReview {
			reason = "rejected by reviewer"
		} else {
			reason = "dropped by triage"
		}
	}
	if err := deps.Articles.MarkDropped(a.ID, reason); err != nil {
		return nil, fmt.Errorf("mark article %d dropped: %w", a.ID, err)
	}
	slog.InfoContext(ctx, "Article dropped", "article_id", a.ID, "reason", reason)
	return &models.NextState{
		Name:      StateDiscarded,
		ActionLog: "dropped: " + reason,
	}, nil
}

// markDuplicate records the canonical article and discards this one.
func markDuplicate(ctx context.Context, deps *TriageDeps, a *domain.Article, canonicalID int64) (*models.NextState, error) {
	if err := deps.Articles.MarkDuplicate(a.ID, canonicalID); err != nil {
		return nil, fmt.Errorf("mark article %d duplicate: %w", a.ID, err)
	}
	slog.InfoContext(ctx, "Article is a duplicate", "article_id", a.ID, "duplicate_of", canonicalID)
	return &models.NextState{
		Name:      StateDiscarded,
		ActionLog: fmt.Sprintf("duplicate of article %d", canonicalID),
	}, nil
}

func triageRetryConfig() models.RetryConfig {
	return models.RetryConfig{
		MaxRetryCount:    3,
		RetryIntervalMin: time.Second * 30,
		RetryIntervalMax: time.Minute * 10,
	}
}
