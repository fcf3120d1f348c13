package workflows

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/sentinelwatch/sentinel/internal/agent"
	"github.com/sentinelwatch/sentinel/internal/domain"
	"github.com/sentinelwatch/sentinel/internal/triage"
	"github.com/sentinelwatch/sentinel/pkg/sentinel/core"
	wfdomain "github.com/sentinelwatch/sentinel/pkg/sentinel/domain"
	"github.com/sentinelwatch/sentinel/pkg/sentinel/models"
	"github.com/sentinelwatch/sentinel/pkg/sentinel/workflow_helpers"
)

// AgentDeps is the model runtime the agent triage variant needs on top of
// TriageDeps.
type AgentDeps struct {
	Model   agent.Model
	Toolbox *agent.Toolbox
}

// TriageAgentWorkflow is the agent-driven ArticleTriage variant. A model
// assesses the parsed article with dedup and guardrail tools and returns a
// structured verdict. Low confidence degrades to the rule pipeline in
// EvaluateFallback, so a struggling model never blocks triage outright.
type TriageAgentWorkflow struct {
	core.BaseWorkflow
	deps  *TriageDeps
	agent *AgentDeps
}

func NewTriageAgentWorkflow(deps *TriageDeps, agentDeps *AgentDeps) *TriageAgentWorkflow {
	return &TriageAgentWorkflow{deps: deps, agent: agentDeps}
}

func (w *TriageAgentWorkflow) Setup(wf *wfdomain.Workflow) {
	w.BaseWorkflow.Setup(wf)
}

func (w *TriageAgentWorkflow) GetWorkflowData() *wfdomain.Workflow {
	return w.WorkflowState
}

func (w *TriageAgentWorkflow) GetStateVariables() map[string]string {
	return w.StateVariables
}

func (w *TriageAgentWorkflow) InitialState() string {
	return StateParseContent
}

func (w *TriageAgentWorkflow) Description() string {
	return "Triages a fetched article with an agent verdict, falling back to rules on low confidence"
}

func (w *TriageAgentWorkflow) StateTransitions() map[string][]string {
	return map[string][]string{
		StateParseContent:     {StateAgentAssess, StateDrop},
		StateAgentAssess:      {StatePublish, StateAwaitReview, StateDrop, StateDiscarded, StateEvaluateFallback},
		StateEvaluateFallback: {StatePublish, StateAwaitReview, StateDrop, StateDiscarded},
		StatePublish:          {StatePublished},
		StateAwaitReview:      {StatePublish, StateDrop},
		StateDrop:             {StateDiscarded},
	}
}

func (w *TriageAgentWorkflow) GetAllStates() []models.WorkflowState {
	return []models.WorkflowState{
		{Name: StateParseContent, StateType: models.StateStart},
		{Name: StateAgentAssess, StateType: models.StateNormal},
		{Name: StateEvaluateFallback, StateType: models.StateNormal},
		{Name: StatePublish, StateType: models.StateNormal},
		{Name: StateAwaitReview, StateType: models.StateManual},
		{Name: StateDrop, StateType: models.StateNormal},
		{Name: StatePublished, StateType: models.StateEnd},
		{Name: StateDiscarded, StateType: models.StateEnd},
		{Name: StateFailed, StateType: models.StateError},
	}
}

func (w *TriageAgentWorkflow) GetRetryConfig() models.RetryConfig {
	return triageRetryConfig()
}

// ParseContent claims the article and derives the normalized fields.
func (w *TriageAgentWorkflow) ParseContent(ctx context.Context) (*models.NextState, error) {
	return parseContent(ctx, w.deps, w.WorkflowState, w.StateVariables, StateAgentAssess)
}

// agentPayload is what the model sees about the article.
type agentPayload struct {
	ArticleID int64    `json:"articleId"`
	Feed      string   `json:"feed"`
	Title     string   `json:"title"`
	Summary   string   `json:"summary"`
	Link      string   `json:"link"`
	CVEs      []string `json:"cves,omitempty"`
}

// AgentAssess runs the triage agent and routes on its verdict. A model or
// parse failure is returned so the engine retries and eventually dead
// letters; a verdict below the confidence floor falls back to the rules.
func (w *TriageAgentWorkflow) AgentAssess(ctx context.Context) (*models.NextState, error) {
	a, err := w.deps.loadArticle(w.StateVariables)
	if err != nil {
		return nil, err
	}
	feed, err := w.deps.loadFeed(a)
	if err != nil {
		return nil, err
	}

	payload, err := json.Marshal(agentPayload{
		ArticleID: a.ID,
		Feed:      feed.Name,
		Title:     a.Title,
		Summary:   triage.CollapseWhitespace(triage.StripHTML(a.Summary.String)),
		Link:      a.Link,
		CVEs:      a.CveList(),
	})
	if err != nil {
		return nil, fmt.Errorf("marshal agent payload: %w", err)
	}

	runner := &agent.Runner{MaxTurns: w.deps.Config.Agent.MaxTurns}
	result, err := runner.Run(ctx, agent.NewTriageAgent(w.agent.Model, w.agent.Toolbox), string(payload))
	if err != nil {
		return nil, fmt.Errorf("agent run for article %d: %w", a.ID, err)
	}
	verdict, err := agent.ParseVerdict(result.FinalOutput)
	if err != nil {
		return nil, fmt.Errorf("agent verdict for article %d: %w", a.ID, err)
	}
	slog.InfoContext(ctx, "Agent verdict", "article_id", a.ID, "decision", verdict.Decision,
		"severity", verdict.Severity, "confidence", verdict.Confidence, "turns", result.Turns)

	if verdict.DuplicateOf > 0 && verdict.DuplicateOf != a.ID {
		return markDuplicate(ctx, w.deps, a, verdict.DuplicateOf)
	}

	floor := w.deps.Config.Agent.ConfidenceFloor
	if verdict.Confidence < floor {
		return &models.NextState{
			Name:      StateEvaluateFallback,
			ActionLog: fmt.Sprintf("agent confidence %.2f below floor %.2f, using rule pipeline", verdict.Confidence, floor),
		}, nil
	}

	v := triage.Verdict{
		Decision:  verdict.Decision,
		Severity:  verdict.Severity,
		Score:     verdict.Score,
		Rationale: verdict.Rationale,
	}
	if err := w.persistAgentVerdict(a, v); err != nil {
		return nil, err
	}
	ns, err := routeVerdict(ctx, w.deps, w.StateVariables, a, v)
	if err != nil {
		return nil, err
	}
	ns.ActionLog = fmt.Sprintf("agent decided %s (confidence %.2f, %d tool calls): %s",
		verdict.Decision, verdict.Confidence, len(result.ToolCalls), verdict.Rationale)
	return ns, nil
}

func (w *TriageAgentWorkflow) persistAgentVerdict(a *domain.Article, v triage.Verdict) error {
	if err := w.deps.Articles.UpdateTriageOutcome(a.ID, int64(v.Score), v.Decision, v.Severity, "", a.CveIDs.String); err != nil {
		return fmt.Errorf("persist agent verdict for article %d: %w", a.ID, err)
	}
	if err := workflow_helpers.SaveStructToStateVars(w.StateVariables, VarVerdict, v); err != nil {
		return fmt.Errorf("save verdict state var: %w", err)
	}
	return nil
}

// EvaluateFallback is the condensed rule pipeline, run when the agent verdict
// cannot be trusted. Relevance, dedup and guardrails happen in one state.
func (w *TriageAgentWorkflow) EvaluateFallback(ctx context.Context) (*models.NextState, error) {
	v, a, err := evaluateRules(ctx, w.deps, w.StateVariables)
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

	feed, err := w.deps.loadFeed(a)
	if err != nil {
		return nil, err
	}
	res, err := w.deps.Guards.Check(a, feed)
	if err != nil {
		return nil, err
	}
	if res.Intervened {
		if res.Action == triage.GuardrailDeny {
			w.StateVariables[VarDropReason] = "guardrail " + res.Matched
			return &models.NextState{
				Name:      StateDrop,
				ActionLog: "guardrail " + res.Matched + " denied publication",
			}, nil
		}
		return escalateForReview(ctx, w.deps, a, v.Severity, "guardrail "+res.Matched)
	}
	return routeVerdict(ctx, w.deps, w.StateVariables, a, *v)
}

// Publish marks the article published and notifies when severe enough.
func (w *TriageAgentWorkflow) Publish(ctx context.Context) (*models.NextState, error) {
	return publish(ctx, w.deps, w.StateVariables)
}

// Drop marks the article dropped with whatever reason routed it here.
func (w *TriageAgentWorkflow) Drop(ctx context.Context) (*models.NextState, error) {
	return drop(ctx, w.deps, w.StateVariables)
}
