package common

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/sentinelwatch/sentinel/internal/repository"
	"github.com/sentinelwatch/sentinel/pkg/sentinel"
	"github.com/sentinelwatch/sentinel/pkg/sentinel/core"
	"github.com/sentinelwatch/sentinel/pkg/sentinel/domain"
	"github.com/sentinelwatch/sentinel/pkg/sentinel/models"
)

const ParentWorkflowType = "ParentWorkflow"
const ChildWorkflowType = "ChildWorkflow"

// Parent workflow states
const (
	ParentInit            = "ParentInit"
	ParentSpawnChildren   = "ParentSpawnChildren"
	ParentWaitForChildren = "ParentWaitForChildren"
	ParentCollectResults  = "ParentCollectResults"
	ParentFinish          = "ParentFinish"
)

// Child workflow states
const (
	ChildInit = "ChildInit"
	ChildWork = "ChildWork"
	ChildDone = "ChildDone"
)

const VAR_CHILD_COUNT = "childCount"

// ParentWorkflow spawns two children, parks until both finish and then
// aggregates their results. The wait state re-enters itself, so the
// self transition has to be declared or the executor refuses it.
type ParentWorkflow struct {
	core.BaseWorkflow
	repo *repository.WorkflowRepository
}

// ChildWorkflow does one unit of work and records a result for the parent.
// The engine wakes the parent when the child reaches its end state.
type ChildWorkflow struct {
	core.BaseWorkflow
}

func NewParentWorkflow(repo *repository.WorkflowRepository) *ParentWorkflow {
	return &ParentWorkflow{repo: repo}
}

func NewChildWorkflow() *ChildWorkflow {
	return &ChildWorkflow{}
}

func (w *ParentWorkflow) Setup(wf *domain.Workflow) {
	w.BaseWorkflow.Setup(wf)
}

func (w *ParentWorkflow) GetWorkflowData() *domain.Workflow {
	return w.WorkflowState
}

func (w *ParentWorkflow) GetStateVariables() map[string]string {
	return w.StateVariables
}

func (w *ParentWorkflow) InitialState() string {
	return ParentInit
}

func (w *ParentWorkflow) Description() string {
	return "Parent workflow that spawns and coordinates child workflows"
}

func (w *ParentWorkflow) StateTransitions() map[string][]string {
	return map[string][]string{
		ParentInit:            {ParentSpawnChildren},
		ParentSpawnChildren:   {ParentWaitForChildren},
		ParentWaitForChildren: {ParentWaitForChildren, ParentCollectResults},
		ParentCollectResults:  {ParentFinish},
	}
}

func (w *ParentWorkflow) GetAllStates() []models.WorkflowState {
	return []models.WorkflowState{
		{Name: ParentInit, StateType: models.StateStart},
		{Name: ParentSpawnChildren, StateType: models.StateNormal},
		{Name: ParentWaitForChildren, StateType: models.StateNormal},
		{Name: ParentCollectResults, StateType: models.StateNormal},
		{Name: ParentFinish, StateType: models.StateEnd},
	}
}

func (w *ParentWorkflow) GetRetryConfig() models.RetryConfig {
	return models.RetryConfig{
		MaxRetryCount:    3,
		RetryIntervalMin: time.Second * 1,
		RetryIntervalMax: time.Second * 5,
	}
}

func (w *ParentWorkflow) ParentInit(ctx context.Context) (*models.NextState, error) {
	slog.InfoContext(ctx, "Initializing parent workflow")

	return &models.NextState{
		Name:      ParentSpawnChildren,
		ActionLog: "Parent workflow initialized",
	}, nil
}

// ParentSpawnChildren hands the child requests to the engine and parks. The
// children are created before the park takes effect, so by the time the
// parent wakes they exist.
func (w *ParentWorkflow) ParentSpawnChildren(ctx context.Context) (*models.NextState, error) {
	slog.InfoContext(ctx, "Spawning child workflows")

	childRequests := []models.ChildWorkflowRequest{
		sentinel.CreateChildWorkflowRequest(
			ChildWorkflowType,
			w.WorkflowState.ExternalID+"-child-1",
			"child-1",
			map[string]string{"input": "value1"},
		),
		sentinel.CreateChildWorkflowRequest(
			ChildWorkflowType,
			w.WorkflowState.ExternalID+"-child-2",
			"child-2",
			map[string]string{"input": "value2"},
		),
	}

	w.StateVariables[VAR_CHILD_COUNT] = strconv.Itoa(len(childRequests))

	return &models.NextState{
		Name:                ParentWaitForChildren,
		ActionLog:           fmt.Sprintf("Spawned %d child workflows", len(childRequests)),
		NextExecutionOffset: "1 second",
		ChildWorkflows:      childRequests,
	}, nil
}

func (w *ParentWorkflow) ParentWaitForChildren(ctx context.Context) (*models.NextState, error) {
	expected, _ := strconv.Atoi(w.StateVariables[VAR_CHILD_COUNT])

	children, err := w.repo.GetChildrenByParentID(w.WorkflowState.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to get child workflows: %w", err)
	}

	completed := 0
	for _, child := range *children {
		if child.Status == "FINISHED" {
			completed++
		}
	}

	if completed < expected {
		slog.InfoContext(ctx, "Not all children complete, waiting",
			"completed", completed,
			"total", expected)

		return &models.NextState{
			Name:                ParentWaitForChildren,
			ActionLog:           fmt.Sprintf("Waiting for children: %d/%d complete", completed, expected),
			NextExecutionOffset: "1 second",
		}, nil
	}

	return &models.NextState{
		Name:      ParentCollectResults,
		ActionLog: "All child workflows complete",
	}, nil
}

func (w *ParentWorkflow) ParentCollectResults(ctx context.Context) (*models.NextState, error) {
	slog.InfoContext(ctx, "Collecting child workflow results")

	children, err := w.repo.GetChildrenByParentID(w.WorkflowState.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to get child workflows: %w", err)
	}

	for i, child := range *children {
		if !child.StateVars.Valid {
			continue
		}
		vars := map[string]string{}
		if err := json.Unmarshal([]byte(child.StateVars.String), &vars); err != nil {
			slog.WarnContext(ctx, "Failed to parse child state vars", "childId", child.ID, "error", err)
			continue
		}
		w.StateVariables[fmt.Sprintf("child_%d_result", i+1)] = vars["result"]
	}

	return &models.NextState{
		Name:      ParentFinish,
		ActionLog: "Collected all child workflow results",
	}, nil
}

func (w *ChildWorkflow) Setup(wf *domain.Workflow) {
	w.BaseWorkflow.Setup(wf)
}

func (w *ChildWorkflow) GetWorkflowData() *domain.Workflow {
	return w.WorkflowState
}

func (w *ChildWorkflow) GetStateVariables() map[string]string {
	return w.StateVariables
}

func (w *ChildWorkflow) InitialState() string {
	return ChildInit
}

func (w *ChildWorkflow) Description() string {
	return "Child workflow that performs a task for its parent"
}

func (w *ChildWorkflow) StateTransitions() map[string][]string {
	return map[string][]string{
		ChildInit: {ChildWork},
		ChildWork: {ChildDone},
	}
}

func (w *ChildWorkflow) GetAllStates() []models.WorkflowState {
	return []models.WorkflowState{
		{Name: ChildInit, StateType: models.StateStart},
		{Name: ChildWork, StateType: models.StateNormal},
		{Name: ChildDone, StateType: models.StateEnd},
	}
}

func (w *ChildWorkflow) GetRetryConfig() models.RetryConfig {
	return models.RetryConfig{
		MaxRetryCount:    3,
		RetryIntervalMin: time.Second * 1,
		RetryIntervalMax: time.Second * 5,
	}
}

func (w *ChildWorkflow) ChildInit(ctx context.Context) (*models.NextState, error) {
	slog.InfoContext(ctx, "Initializing child workflow", "input", w.StateVariables["input"])

	return &models.NextState{
		Name:      ChildWork,
		ActionLog: "Child workflow initialized",
	}, nil
}

func (w *ChildWorkflow) ChildWork(ctx context.Context) (*models.NextState, error) {
	w.StateVariables["result"] = "done-" + w.StateVariables["input"]

	return &models.NextState{
		Name:      ChildDone,
		ActionLog: "Child workflow processed data",
	}, nil
}
