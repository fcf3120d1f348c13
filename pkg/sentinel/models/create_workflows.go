package models

import "time"

// CreateWorkflowRequest is the payload for POST /api/workflows. ExternalID
// keys idempotent creation: posting the same id again returns the workflow
// already created for it. NextActivation or NextActivationOffset pushes the
// first activation into the future; leaving both unset runs the workflow as
// soon as an executor picks it up.
type CreateWorkflowRequest struct {
	ExternalID           string            `json:"externalId"`
	ExecutorGroup        string            `json:"executorGroup"`
	WorkflowType         string            `json:"workflowType"`
	BusinessKey          string            `json:"businessKey"`
	StateVars            map[string]string `json:"stateVars"`
	NextActivation       *time.Time        `json:"nextActivation,omitempty"`
	NextActivationOffset string            `json:"nextActivationOffset,omitempty"`
}

// CreateWorkflowResponse carries the id of the created (or already existing)
// workflow.
type CreateWorkflowResponse struct {
	ID int64 `json:"id"`
}

// CreateAndWaitRequest wraps a create request with polling parameters. The
// handler creates the workflow, then checks it every CheckSeconds until it
// reaches one of WaitForStates or WaitSeconds run out.
type CreateAndWaitRequest struct {
	CreateWorkflowRequest CreateWorkflowRequest `json:"createWorkflowRequest"`
	WaitSeconds           int                   `json:"waitSeconds"`
	CheckSeconds          int                   `json:"checkSeconds"`
	WaitForStates         []string              `json:"waitForStates"`
}

// WorkflowApiResponse is the wire shape of a workflow, with the nullable
// database columns flattened and the state vars decoded into a map.
type WorkflowApiResponse struct {
	ID             int64             `json:"id"`
	Status         string            `json:"status"`
	ExecutionCount int               `json:"executionCount"`
	RetryCount     int               `json:"retryCount"`
	Created        time.Time         `json:"created"`
	Modified       time.Time         `json:"modified"`
	NextActivation time.Time         `json:"nextActivation,omitempty"`
	Started        time.Time         `json:"started,omitempty"`
	ExecutorID     string            `json:"executorId,omitempty"`
	ExecutorGroup  string            `json:"executorGroup"`
	WorkflowType   string            `json:"workflowType"`
	ExternalID     string            `json:"externalId"`
	BusinessKey    string            `json:"businessKey"`
	State          string            `json:"state"`
	StateVars      map[string]string `json:"stateVars,omitempty"`
}
