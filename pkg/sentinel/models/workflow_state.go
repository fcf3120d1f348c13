package models

// WorkflowState names one state of a workflow definition. The engine uses
// the list at registration to validate state methods and render the flow
// chart.
type WorkflowState struct {
	Name      string
	StateType StateType
}
