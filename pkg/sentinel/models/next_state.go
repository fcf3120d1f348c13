package models

import "time"

// ChildWorkflowRequest asks the engine to spawn a child workflow when the
// current state commits. The ExternalID keys creation, so re-running a state
// that already spawned its children is safe.
type ChildWorkflowRequest struct {
	WorkflowType   string
	ExternalID     string
	BusinessKey    string
	StateVariables map[string]string
}

// NextState is what a state method returns to move the workflow along. Name
// selects the next state; NextExecution or NextExecutionOffset (an interval
// string such as "10 minutes") schedules it, with an unset pair meaning run
// now.
type NextState struct {
	Name                string
	ActionLog           string
	NextExecution       time.Time
	NextExecutionOffset string
	ChildWorkflows      []ChildWorkflowRequest
}
