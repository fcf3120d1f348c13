package models

import "time"

type DeadLetterResponse struct {
	ID           int64      `json:"id"`
	WorkflowID   int64      `json:"workflowId"`
	WorkflowType string     `json:"workflowType"`
	BusinessKey  string     `json:"businessKey,omitempty"`
	State        string     `json:"state"`
	Reason       string     `json:"reason"`
	Payload      string     `json:"payload,omitempty"`
	Created      time.Time  `json:"created"`
	Redriven     bool       `json:"redriven"`
	RedrivenAt   *time.Time `json:"redrivenAt,omitempty"`
}

// RedriveResponse reports the replacement workflow started for a dead letter.
type RedriveResponse struct {
	OK         bool  `json:"ok"`
	WorkflowID int64 `json:"workflowId"`
}
