package domain

import "time"

// WorkflowAction is one audit trail entry for a workflow. The executor writes
// a row per step it takes, with Type naming the kind of event (TRANSITION,
// ERROR, RETRY, SCHEDULE_ACTIVATION, END and so on), Name the state involved
// and Text the detail.
type WorkflowAction struct {
	ID             int64
	WorkflowID     int64
	ExecutorID     int64
	ExecutionCount int
	RetryCount     int
	Type           string
	Name           string
	Text           string
	DateTime       time.Time
}
