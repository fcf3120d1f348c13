package engine

import (
	"context"
	"time"

	appdomain "github.com/sentinelwatch/sentinel/internal/domain"
	"github.com/sentinelwatch/sentinel/internal/repository"
	"github.com/sentinelwatch/sentinel/pkg/sentinel/domain"
	"github.com/sentinelwatch/sentinel/pkg/sentinel/models"
)

// The engine reaches persistence only through the interfaces in this file.
// The concrete types in internal/repository satisfy them directly.

// WorkflowRepo covers the workflow table: creation, the claim cycle, state
// and variable writes, parent/child links, and the read side the API serves.
type WorkflowRepo interface {
	Save(wf *domain.Workflow) (int64, error)
	FindByID(id int64) (*domain.Workflow, error)
	FindByExternalId(id string) (*domain.Workflow, error)

	FindPendingWorkflows(size int, executorGroup string) (*[]domain.Workflow, error)
	MarkWorkflowAsScheduledForExecution(id int64, executorId int64, modified time.Time) bool
	FindStuckWorkflows(minutesRepair string, executorGroup string, limit int) (*[]domain.Workflow, error)
	LockWorkflowByModified(id int64, modified time.Time) bool

	UpdateState(id int64, state string) error
	UpdateWorkflowStatus(id int64, status string) error
	UpdateWorkflowStartingTime(id int64) error
	SaveWorkflowVariables(id int64, vars string) error
	SaveWorkflowVariablesAndTouch(id int64, vars string) error
	UpdateNextActivationSpecific(id int64, next time.Time) error
	UpdateNextActivationOffset(id int64, offset string) error
	ClearExecutorId(id int64) error
	IncrementRetryCounterAndSetNextActivation(id int64, activation time.Time) error

	GetChildrenByParentID(parentID int64) (*[]domain.Workflow, error)
	WakeParentWorkflow(parentID int64) error

	SearchWorkflows(req models.SearchWorkflowRequest) (*[]domain.Workflow, error)
	GetTopExecuting(limit int) (*[]domain.Workflow, error)
	GetNextToExecute(limit int) (*[]domain.Workflow, error)
	GetWorkflowOverview() ([]repository.WorkflowOverviewRow, error)
	GetDefinitionStateOverview(workflowType string) ([]repository.DefinitionStateRow, error)
}

// WorkflowActionRepo records the audit trail rows written while a workflow runs.
type WorkflowActionRepo interface {
	Save(a *domain.WorkflowAction) (int64, error)
	FindAllByWorkflowID(workflowID int64) (*[]domain.WorkflowAction, error)
}

// ExecutorRepo registers engine instances and keeps their heartbeats fresh.
type ExecutorRepo interface {
	Save(e *domain.Executor) (int64, error)
	UpdateLastActive(id int64, ts time.Time) error
	GetExecutorsByLastActive(limit int) ([]*domain.Executor, error)
}

// DefinitionRepo stores registered workflow definitions with their rendered
// flow charts so the API can describe each type.
type DefinitionRepo interface {
	FindAll() (*[]domain.WorkflowDefinition, error)
	FindByName(name string) (*domain.WorkflowDefinition, error)
	Save(def *domain.WorkflowDefinition) error
}

// UserRepo holds credentials and api keys. Auth is stateless (JWT), so there
// are no session methods.
type UserRepo interface {
	FindByUsername(username string) (*appdomain.User, error)
	FindByApiKey(apiKey string) (*appdomain.User, error)
	FindById(id int64) (*appdomain.User, error)
	FindAll() (*[]appdomain.User, error)
	Save(user *appdomain.User) (int64, error)
	UpdateUser(user *appdomain.User) error
	DeleteById(id int64) error
	IncrementRetryCount(username string) error
	ResetRetryCount(username string) error
}

// FailureHandler is notified after a workflow is marked FAILED, either because
// its retry budget ran out or a state method panicked. stateVars is the live
// variable map at the time of failure. Implementations run on the worker
// goroutine and must not panic.
type FailureHandler interface {
	OnWorkflowFailed(ctx context.Context, wf *domain.Workflow, state string, reason string, stateVars map[string]string)
}
