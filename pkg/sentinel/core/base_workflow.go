package core

import (
	"encoding/json"
	"log/slog"

	"github.com/sentinelwatch/sentinel/pkg/sentinel/domain"
)

// BaseWorkflow carries the state shared by every workflow implementation.
// Embed it in a workflow struct to get state variable loading and child
// workflow bookkeeping.
type BaseWorkflow struct {
	StateVariables map[string]string
	WorkflowState  *domain.Workflow
	ChildWorkflows []domain.Workflow
}

// Setup binds the persisted workflow row to this instance and loads its state
// variables. Persisted vars replace whatever the map held; a missing or empty
// column leaves an initialized empty map in place.
func (b *BaseWorkflow) Setup(wf *domain.Workflow) {
	b.WorkflowState = wf
	if b.StateVariables == nil {
		b.StateVariables = make(map[string]string)
	}
	raw := wf.StateVars
	if !raw.Valid || raw.String == "" || raw.String == "null" {
		return
	}
	vars := make(map[string]string)
	if err := json.Unmarshal([]byte(raw.String), &vars); err != nil {
		slog.Error("Could not parse persisted state vars", "workflowId", wf.ID, "error", err)
		return
	}
	b.StateVariables = vars
}

func (b *BaseWorkflow) SetChildWorkflows(children []domain.Workflow) {
	b.ChildWorkflows = children
}
