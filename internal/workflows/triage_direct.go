package workflows

import (
	"context"
	"log/slog"

	"github.com/sentinelwatch/sentinel/internal/triage"
	"github.com/sentinelwatch/sentinel/pkg/sentinel/core"
	wfdomain "github.com/sentinelwatch/sentinel/pkg/sentinel/domain"
	"github.com/sentinelwatch/sentinel/pkg/sentinel/models"
)

// TriageDirectWorkflow is the rule-driven ArticleTriage variant. Every
// decision comes from the compiled rule set, the dedup index and the
// guardrails; no model is involved.
type TriageDirectWorkflow struct {
	core.BaseWorkflow
	deps *TriageDeps
}

func NewTriageDirectWorkflow(deps *TriageDeps) *TriageDirectWorkflow {
	return &TriageDirectWorkflow{deps: deps}
}

func (w *TriageDirectWorkflow) Setup(wf *wfdomain.Workflow) {
	w.BaseWorkflow.Setup(wf)
}

func (w *TriageDirectWorkflow) GetWorkflowData() *wfdomain.Workflow {
	return w.WorkflowState
}

func (w *TriageDirectWorkflow) GetStateVariables() map[string]string {
	return w.StateVariables
}

func (w *TriageDirectWorkflow) InitialState() string {
	return StateParseContent
}

func (w *TriageDirectWorkflow) Description() string {
	return "Triages a fetched article through parsing, relevance rules, dedup and guardrails"
}

func (w *TriageDirectWorkflow) StateTransitions() map[string][]string {
	return map[string][]string{
		StateParseContent:      {StateEvaluateRelevance, StateDrop},
		StateEvaluateRelevance: {StateDeduplicate},
		StateDeduplicate:       {StateCheckGuardrails, StateDiscarded},
		StateCheckGuardrails:   {StatePublish, StateAwaitReview, StateDrop},
		StatePublish:           {StatePublished},
		StateAwaitReview:       {StatePublish, StateDrop},
		StateDrop:              {StateDiscarded},
	}
}

func (w *TriageDirectWorkflow) GetAllStates() []models.WorkflowState {
	return []models.WorkflowState{
		{Name: StateParseContent, StateType: models.StateStart},
		{Name: StateEvaluateRelevance, StateType: models.StateNormal},
		{Name: StateDeduplicate, StateType: models.StateNormal},
		{Name: StateCheckGuardrails, StateType: models.StateNormal},
		{Name: StatePublish, StateType: models.StateNormal},
		{Name: StateAwaitReview, StateType: models.StateManual},
		{Name: StateDrop, StateType: models.StateNormal},
		{Name: StatePublished, StateType: models.StateEnd},
		{Name: StateDiscarded, StateType: models.StateEnd},
		{Name: StateFailed, StateType: models.StateError},
	}
}

func (w *TriageDirectWorkflow) GetRetryConfig() models.RetryConfig {
	return triageRetryConfig()
}

// ParseContent claims the article and derives the normalized fields.
func (w *TriageDirectWorkflow) ParseContent(ctx context.Context) (*models.NextState, error) {
	return parseContent(ctx, w.deps, w.WorkflowState, w.StateVariables, StateEvaluateRelevance)
}

// EvaluateRelevance scores the article against the rule set.
func (w *TriageDirectWorkflow) EvaluateRelevance(ctx context.Context) (*models.NextState, error) {
	v, _, err := evaluateRules(ctx, w.deps, w.StateVariables)
	if err != nil {
		return nil, err
	}
	return &models.NextState{
		Name:      StateDeduplicate,
		ActionLog: v.Rationale,
	}, nil
}

// Deduplicate discards the article when an earlier one already covers it.
func (w *TriageDirectWorkflow) Deduplicate(ctx context.Context) (*models.NextState, error) {
	a, err := w.deps.loadArticle(w.StateVariables)
	if err != nil {
		return nil, err
	}
	dup, err := w.deps.Deduper.FindDuplicate(ctx, a)
	if err != nil {
		return nil, err
	}
	if dup != nil {
		return markDuplicate(ctx, w.deps, a, dup.ID)
	}
	return &models.NextState{
		Name:      StateCheckGuardrails,
		ActionLog: "no duplicate within the dedup window",
	}, nil
}

// CheckGuardrails gates the article before it can publish. A deny rule wins
// over everything, a review rule forces the analyst queue, otherwise the
// relevance decision routes the article.
func (w *TriageDirectWorkflow) CheckGuardrails(ctx context.Context) (*models.NextState, error) {
	a, err := w.deps.loadArticle(w.StateVariables)
	if err != nil {
		return nil, err
	}
	feed, err := w.deps.loadFeed(a)
	if err != nil {
		return nil, err
	}
	res, err := w.deps.Guards.Check(a, feed)
	if err != nil {
		return nil, err
	}
	v := loadVerdict(w.StateVariables, a)

	if res.Intervened {
		slog.InfoContext(ctx, "Guardrail intervened", "article_id", a.ID, "rule", res.Matched, "action", res.Action)
		if res.Action == triage.GuardrailDeny {
			w.StateVariables[VarDropReason] = "guardrail " + res.Matched
			return &models.NextState{
				Name:      StateDrop,
				ActionLog: "guardrail " + res.Matched + " denied publication",
			}, nil
		}
		return escalateForReview(ctx, w.deps, a, v.Severity, "guardrail "+res.Matched)
	}
	return routeVerdict(ctx, w.deps, w.StateVariables, a, v)
}

// Publish marks the article published and notifies when severe enough.
func (w *TriageDirectWorkflow) Publish(ctx context.Context) (*models.NextState, error) {
	return publish(ctx, w.deps, w.StateVariables)
}

// Drop marks the article dropped with whatever reason routed it here.
func (w *TriageDirectWorkflow) Drop(ctx context.Context) (*models.NextState, error) {
	return drop(ctx, w.deps, w.StateVariables)
}
