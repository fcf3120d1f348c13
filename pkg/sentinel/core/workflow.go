package core

import (
	"github.com/sentinelwatch/sentinel/pkg/sentinel/domain"
	"github.com/sentinelwatch/sentinel/pkg/sentinel/models"
)

// Workflow is implemented by every workflow type the engine can run. The
// engine drives an instance through the graph returned by StateTransitions,
// invoking one exported state method per step; the executor rejects any
// transition the graph does not list.
type Workflow interface {
	StateTransitions() map[string][]string // state name -> allowed next states
	InitialState() string
	Description() string
	Setup(wf *domain.Workflow)
	GetWorkflowData() *domain.Workflow
	GetStateVariables() map[string]string
	GetAllStates() []models.WorkflowState
	GetRetryConfig() models.RetryConfig
}
