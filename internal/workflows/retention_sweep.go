package workflows

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/sentinelwatch/sentinel/internal/config"
	"github.com/sentinelwatch/sentinel/pkg/sentinel/core"
	wfdomain "github.com/sentinelwatch/sentinel/pkg/sentinel/domain"
	"github.com/sentinelwatch/sentinel/pkg/sentinel/models"
)

// RetentionSweepType is the workflow type of the singleton retention sweeper.
const RetentionSweepType = "RetentionSweep"

// RetentionSweepExternalID keys the singleton instance.
const RetentionSweepExternalID = "retention-sweep"

// RetentionSweep states.
const (
	StateSweepArticles    = "SweepArticles"
	StateSweepWorkflows   = "SweepWorkflows"
	StateSweepDeadLetters = "SweepDeadLetters"
)

// sweepBatchLimit bounds each delete pass so a sweep never holds long
// transactions on a backlog; whatever remains goes in the next cycle.
const sweepBatchLimit = 1000

// ArticleSweeper purges aged articles. *repository.ArticleRepository
// satisfies it.
type ArticleSweeper interface {
	DeleteTerminalBefore(cutoff time.Time, limit int) (int64, error)
	ClearRawBefore(cutoff time.Time, limit int) (int64, error)
}

// WorkflowSweeper purges aged workflow rows. *repository.WorkflowRepository
// satisfies it.
type WorkflowSweeper interface {
	DeleteFinishedBefore(cutoff time.Time, limit int) (int64, error)
}

// DeadLetterSweeper purges redriven dead letters.
// *repository.DeadLetterRepository satisfies it.
type DeadLetterSweeper interface {
	DeleteRedrivenBefore(cutoff time.Time) (int64, error)
}

type SweepDeps struct {
	Articles    ArticleSweeper
	Workflows   WorkflowSweeper
	DeadLetters DeadLetterSweeper
	Config      *config.TriageConfig
	Clock       core.Clock
}

// RetentionSweepWorkflow ages out terminal articles, raw feed payloads,
// finished workflows and redriven dead letters on a fixed cycle.
type RetentionSweepWorkflow struct {
	core.BaseWorkflow
	deps *SweepDeps
}

func NewRetentionSweepWorkflow(deps *SweepDeps) *RetentionSweepWorkflow {
	if deps.Clock == nil {
		deps.Clock = core.NewRealClock()
	}
	return &RetentionSweepWorkflow{deps: deps}
}

func (w *RetentionSweepWorkflow) Setup(wf *wfdomain.Workflow) {
	w.BaseWorkflow.Setup(wf)
}

func (w *RetentionSweepWorkflow) GetWorkflowData() *wfdomain.Workflow {
	return w.WorkflowState
}

func (w *RetentionSweepWorkflow) GetStateVariables() map[string]string {
	return w.StateVariables
}

func (w *RetentionSweepWorkflow) InitialState() string {
	return StateSweepArticles
}

func (w *RetentionSweepWorkflow) Description() string {
	return "Purges aged articles, workflows and dead letters per the retention configuration"
}

func (w *RetentionSweepWorkflow) StateTransitions() map[string][]string {
	return map[string][]string{
		StateSweepArticles:    {StateSweepWorkflows},
		StateSweepWorkflows:   {StateSweepDeadLetters},
		StateSweepDeadLetters: {StateIdle},
		StateIdle:             {StateSweepArticles, StatePaused, StateStopped},
		StatePaused:           {StateSweepArticles, StateStopped},
	}
}

func (w *RetentionSweepWorkflow) GetAllStates() []models.WorkflowState {
	return []models.WorkflowState{
		{Name: StateSweepArticles, StateType: models.StateStart},
		{Name: StateSweepWorkflows, StateType: models.StateNormal},
		{Name: StateSweepDeadLetters, StateType: models.StateNormal},
		{Name: StateIdle, StateType: models.StateNormal},
		{Name: StatePaused, StateType: models.StateManual},
		{Name: StateStopped, StateType: models.StateEnd},
		{Name: StateFailed, StateType: models.StateError},
	}
}

func (w *RetentionSweepWorkflow) GetRetryConfig() models.RetryConfig {
	return models.RetryConfig{
		MaxRetryCount:    3,
		RetryIntervalMin: time.Minute * 5,
		RetryIntervalMax: time.Minute * 30,
	}
}

// SweepArticles purges terminal articles past retention and clears raw feed
// payloads past the raw window.
func (w *RetentionSweepWorkflow) SweepArticles(ctx context.Context) (*models.NextState, error) {
	now := w.deps.Clock.Now().UTC()
	deleted, err := w.deps.Articles.DeleteTerminalBefore(now.Add(-w.deps.Config.Retention.ArticleRetention()), sweepBatchLimit)
	if err != nil {
		return nil, fmt.Errorf("purge terminal articles: %w", err)
	}
	cleared, err := w.deps.Articles.ClearRawBefore(now.Add(-w.deps.Config.Retention.RawRetention()), sweepBatchLimit)
	if err != nil {
		return nil, fmt.Errorf("clear raw payloads: %w", err)
	}
	slog.InfoContext(ctx, "Article sweep done", "deleted", deleted, "raw_cleared", cleared)
	return &models.NextState{
		Name:      StateSweepWorkflows,
		ActionLog: fmt.Sprintf("purged %d articles, cleared %d raw payloads", deleted, cleared),
	}, nil
}

// SweepWorkflows purges finished and failed workflow rows, with their action
// history, past the workflow retention window.
func (w *RetentionSweepWorkflow) SweepWorkflows(ctx context.Context) (*models.NextState, error) {
	cutoff := w.deps.Clock.Now().UTC().Add(-w.deps.Config.Retention.WorkflowRetention())
	deleted, err := w.deps.Workflows.DeleteFinishedBefore(cutoff, sweepBatchLimit)
	if err != nil {
		return nil, fmt.Errorf("purge finished workflows: %w", err)
	}
	slog.InfoContext(ctx, "Workflow sweep done", "deleted", deleted)
	return &models.NextState{
		Name:      StateSweepDeadLetters,
		ActionLog: fmt.Sprintf("purged %d workflows", deleted),
	}, nil
}

// SweepDeadLetters purges dead letters that were redriven long enough ago.
// Unredriven rows are kept regardless of age so nothing is lost silently.
func (w *RetentionSweepWorkflow) SweepDeadLetters(ctx context.Context) (*models.NextState, error) {
	cutoff := w.deps.Clock.Now().UTC().Add(-w.deps.Config.Retention.DeadLetterRetention())
	deleted, err := w.deps.DeadLetters.DeleteRedrivenBefore(cutoff)
	if err != nil {
		return nil, fmt.Errorf("purge dead letters: %w", err)
	}
	slog.InfoContext(ctx, "Dead letter sweep done", "deleted", deleted)
	return &models.NextState{
		Name:      StateIdle,
		ActionLog: fmt.Sprintf("purged %d dead letters", deleted),
	}, nil
}

// Idle re-arms the sweep for the next cycle.
func (w *RetentionSweepWorkflow) Idle(ctx context.Context) (*models.NextState, error) {
	interval := w.deps.Config.Retention.SweepInterval
	slog.DebugContext(ctx, "Retention sweep idling", "workflow_id", w.WorkflowState.ID, "interval", interval)
	return &models.NextState{
		Name:                StateSweepArticles,
		ActionLog:           "sleeping until next sweep",
		NextExecutionOffset: interval,
	}, nil
}
