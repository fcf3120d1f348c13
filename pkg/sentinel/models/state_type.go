package models

// StateType classifies a workflow state for the engine. Start marks the entry
// point, Normal states execute and advance, and the remaining three are
// terminal as far as the executor is concerned: End and Error settle the
// workflow while Manual parks it until an operator resumes it.
type StateType string

const (
	StateStart  StateType = "Start"
	StateNormal StateType = "Normal"
	StateManual StateType = "Manual"
	StateError  StateType = "Error"
	StateEnd    StateType = "End"
)
