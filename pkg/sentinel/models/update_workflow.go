package models

import "time"

// UpdateStateVarRequest sets one state variable on a workflow.
type UpdateStateVarRequest struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

type UpdateStateVarResponse struct {
	OK bool `json:"ok"`
}

// UpdateWorkflowStateRequest forces a workflow into the given state. The
// optional NextActivation schedules when an executor should pick it up,
// defaulting to immediately.
type UpdateWorkflowStateRequest struct {
	State          string     `json:"state"`
	NextActivation *time.Time `json:"nextActivation,omitempty"`
}

// UpdateWorkflowStateAndWaitRequest combines a state change, an optional
// state var write and polling parameters. FromStates, when set, restricts
// which current states the change is accepted from; the handler then waits
// until the workflow reaches one of WaitForStates or the budget runs out.
type UpdateWorkflowStateAndWaitRequest struct {
	UpdateWorkflowStateRequest UpdateWorkflowStateRequest `json:"updateWorkflowStateRequest"`
	UpdateStateVarRequest      UpdateStateVarRequest      `json:"updateStateVarRequest"`
	WaitSeconds                int                        `json:"waitSeconds"`
	CheckSeconds               int                        `json:"checkSeconds"`
	FromStates                 []string                   `json:"fromStates"`
	WaitForStates              []string                   `json:"waitForStates"`
}

type UpdateWorkflowStateResponse struct {
	OK bool `json:"ok"`
}
