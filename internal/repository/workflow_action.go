package repository

import (
	"database/sql"
	"log/slog"

	"github.com/sentinelwatch/sentinel/pkg/sentinel/domain"
)

// actionColumns is the scan order shared by the workflow_actions queries.
const actionColumns = ` id, workflow_id, executor_id, execution_count, retry_count, type, name, text, date_time `

// WorkflowActionRepository persists the per step audit trail the executor
// writes while running workflows.
type WorkflowActionRepository struct {
	db *sql.DB
}

func NewWorkflowActionRepository(db *sql.DB) *WorkflowActionRepository {
	return &WorkflowActionRepository{db: db}
}

// Save inserts an action row and fills in the generated id.
func (r *WorkflowActionRepository) Save(a *domain.WorkflowAction) (int64, error) {
	insert := `
		INSERT INTO workflow_actions (
			workflow_id, executor_id, execution_count, retry_count, type, name, text, date_time
		) VALUES (
			` + placeholder(1) + `, ` + placeholder(2) + `, ` + placeholder(3) + `, ` + placeholder(4) + `, ` + placeholder(5) + `, ` + placeholder(6) + `, ` + placeholder(7) + `, ` + placeholder(8) + `
		)`
	args := []interface{}{
		a.WorkflowID, a.ExecutorID, a.ExecutionCount, a.RetryCount,
		a.Type, a.Name, a.Text, a.DateTime,
	}

	if supportsReturning() {
		if err := r.db.QueryRow(insert+" RETURNING id", args...).Scan(&a.ID); err != nil {
			slog.Error("Failed to save workflow action", "error", err)
			return 0, err
		}
		return a.ID, nil
	}

	res, err := r.db.Exec(insert, args...)
	if err != nil {
		slog.Error("Failed to save workflow action", "error", err)
		return 0, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		slog.Error("Failed to read workflow action id", "error", err)
		return 0, err
	}
	a.ID = id
	return a.ID, nil
}

// FindAllByWorkflowID returns the audit trail for one workflow, newest entry
// first.
func (r *WorkflowActionRepository) FindAllByWorkflowID(workflowID int64) (*[]domain.WorkflowAction, error) {
	query := `
		SELECT` + actionColumns + `
		FROM workflow_actions
		WHERE workflow_id = ` + placeholder(1) + `
		ORDER BY id DESC
	`
	rows, err := r.db.Query(query, workflowID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var actions []domain.WorkflowAction
	for rows.Next() {
		var a domain.WorkflowAction
		if err := rows.Scan(&a.ID, &a.WorkflowID, &a.ExecutorID, &a.ExecutionCount,
			&a.RetryCount, &a.Type, &a.Name, &a.Text, &a.DateTime); err != nil {
			return nil, err
		}
		actions = append(actions, a)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return &actions, nil
}
