package domain

import (
	"database/sql"
	"time"
)

// Workflow is one persisted workflow instance. An executor claims a due row
// by moving it NEW -> SCHEDULED -> EXECUTING, parks it as IN_PROGRESS between
// activations and settles it as FINISHED or FAILED. LOCK marks a row taken
// back from a dead executor. ParentID links a spawned child to the workflow
// that created it.
type Workflow struct {
	ID             int64
	Status         string
	ExecutionCount int
	RetryCount     int
	Created        time.Time
	Modified       time.Time
	NextActivation sql.NullTime
	Started        sql.NullTime
	ExecutorID     sql.NullString
	ExecutorGroup  string
	WorkflowType   string
	ExternalID     string
	BusinessKey    string
	State          string
	StateVars      sql.NullString
	ParentID       sql.NullInt64
}
