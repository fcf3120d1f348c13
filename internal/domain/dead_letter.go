package domain

import (
	"database/sql"
	"time"
)

// DeadLetter is written when a workflow exhausts its retry budget. The payload
// holds the workflow's state vars at the time of failure so the run can be
// redriven as a fresh workflow later.
type DeadLetter struct {
	ID           int64          `json:"id"`
	WorkflowID   int64          `json:"workflowId"`
	WorkflowType string         `json:"workflowType"`
	BusinessKey  string         `json:"businessKey"`
	State        string         `json:"state"`
	Reason       string         `json:"reason"`
	Payload      sql.NullString `json:"payload"`
	Created      time.Time      `json:"created"`
	Redriven     bool           `json:"redriven"`
	RedrivenAt   sql.NullTime   `json:"redrivenAt"`
}
