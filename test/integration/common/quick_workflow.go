package common

import (
	"context"
	"log/slog"
	"time"

	"github.com/sentinelwatch/sentinel/pkg/sentinel/core"
	"github.com/sentinelwatch/sentinel/pkg/sentinel/domain"
	"github.com/sentinelwatch/sentinel/pkg/sentinel/models"
)

// QuickWorkflowType is the registry key used when registering the fixture.
const QuickWorkflowType = "QuickWorkflow"

var (
	StateInit         = "Init"
	StateRecordResult = "StateRecordResult"
	StateFinish       = "Finish"
)

const VAR_RESULT = "result"

// QuickWorkflow is a three state fixture that runs to completion in a single
// engine pass. Tests assert on the recorded result var.
type QuickWorkflow struct {
	core.BaseWorkflow
}

func (m *QuickWorkflow) Setup(wf *domain.Workflow) {
	m.BaseWorkflow.Setup(wf)
}
func (m *QuickWorkflow) GetWorkflowData() *domain.Workflow {
	return m.WorkflowState
}
func (m *QuickWorkflow) GetStateVariables() map[string]string {
	return m.StateVariables
}
func (m *QuickWorkflow) InitialState() string {
	return StateInit
}

func (m *QuickWorkflow) Description() string {
	return "Minimal workflow used by the integration tests"
}

func (m *QuickWorkflow) GetRetryConfig() models.RetryConfig {
	return models.RetryConfig{
		MaxRetryCount:    3,
		RetryIntervalMin: time.Second * 1,
		RetryIntervalMax: time.Second * 5,
	}
}

func (m *QuickWorkflow) StateTransitions() map[string][]string {
	return map[string][]string{
		StateInit:         {StateRecordResult},
		StateRecordResult: {StateFinish},
	}
}

func (m *QuickWorkflow) GetAllStates() []models.WorkflowState {
	return []models.WorkflowState{
		{Name: StateInit, StateType: models.StateStart},
		{Name: StateRecordResult, StateType: models.StateNormal},
		{Name: StateFinish, StateType: models.StateEnd},
	}
}

func (m *QuickWorkflow) Init(ctx context.Context) (*models.NextState, error) {
	slog.InfoContext(ctx, "Starting quick workflow")
	return &models.NextState{
		Name: StateRecordResult,
	}, nil
}

func (m *QuickWorkflow) StateRecordResult(ctx context.Context) (*models.NextState, error) {
	m.StateVariables[VAR_RESULT] = "ok"
	return &models.NextState{
		Name: StateFinish,
	}, nil
}
