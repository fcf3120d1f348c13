package repository

import (
	"database/sql"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/sentinelwatch/sentinel/pkg/sentinel/core"
	"github.com/sentinelwatch/sentinel/pkg/sentinel/domain"
	"github.com/sentinelwatch/sentinel/pkg/sentinel/models"
)

type WorkflowRepository struct {
	db    *sql.DB
	clock core.Clock
}

// WorkflowOverviewRow is one line of the dashboard overview: per executor
// group and workflow type, how many rows sit in each status.
type WorkflowOverviewRow struct {
	ExecutorGroup   string
	WorkflowType    string
	NewCount        int
	ScheduledCount  int
	ExecutingCount  int
	FinishedCount   int
	InProgressCount int
	FailedCount     int
}

// DefinitionStateRow counts rows per status within one state of a workflow type.
type DefinitionStateRow struct {
	State           string
	NewCount        int
	ScheduledCount  int
	ExecutingCount  int
	InProgressCount int
	FinishedCount   int
	FailedCount     int
}

// WORKFLOW_COLUMNS is the select list every workflow query shares. scanWorkflow
// depends on this exact column order.
const WORKFLOW_COLUMNS = ` id, status, execution_count, retry_count, created, modified,
		       next_activation, started, executor_id, executor_group,
		       workflow_type, external_id, business_key, state, state_vars, parent_id `

func NewWorkflowRepository(db *sql.DB, clock core.Clock) *WorkflowRepository {
	if clock == nil {
		clock = core.NewRealClock()
	}
	return &WorkflowRepository{db: db, clock: clock}
}

// rowScanner is satisfied by both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanWorkflow(s rowScanner) (*domain.Workflow, error) {
	var wf domain.Workflow
	err := s.Scan(
		&wf.ID,
		&wf.Status,
		&wf.ExecutionCount,
		&wf.RetryCount,
		&wf.Created,
		&wf.Modified,
		&wf.NextActivation,
		&wf.Started,
		&wf.ExecutorID,
		&wf.ExecutorGroup,
		&wf.WorkflowType,
		&wf.ExternalID,
		&wf.BusinessKey,
		&wf.State,
		&wf.StateVars,
		&wf.ParentID,
	)
	if err != nil {
		return nil, err
	}
	return &wf, nil
}

func scanWorkflows(rows *sql.Rows) (*[]domain.Workflow, error) {
	var workflows []domain.Workflow
	for rows.Next() {
		wf, err := scanWorkflow(rows)
		if err != nil {
			return nil, err
		}
		workflows = append(workflows, *wf)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return &workflows, nil
}

func (r *WorkflowRepository) FindByID(id int64) (*domain.Workflow, error) {
	query := `
		SELECT ` + WORKFLOW_COLUMNS + `
		FROM workflow WHERE id = ` + placeholder(1) + `
	`
	return scanWorkflow(r.db.QueryRow(query, id))
}

// FindByExternalId is the idempotency check for workflow creation. Returns
// (nil, nil) when no workflow carries the external id.
func (r *WorkflowRepository) FindByExternalId(id string) (*domain.Workflow, error) {
	query := `
		SELECT ` + WORKFLOW_COLUMNS + `
		FROM workflow WHERE external_id = ` + placeholder(1) + `
	`
	wf, err := scanWorkflow(r.db.QueryRow(query, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return wf, nil
}

// Save inserts the workflow and fills in its generated id.
func (r *WorkflowRepository) Save(wf *domain.Workflow) (int64, error) {
	args := []interface{}{
		wf.Status, wf.ExecutionCount, wf.RetryCount,
		formatDateInDatabase(wf.Created), formatDateInDatabase(wf.Modified),
		formatDateInDatabaseNull(wf.NextActivation), formatDateInDatabaseNull(wf.Started),
		wf.ExecutorID, wf.ExecutorGroup, wf.WorkflowType,
		wf.ExternalID, wf.BusinessKey, wf.State, wf.StateVars, wf.ParentID,
	}
	pps := make([]string, len(args))
	for i := range args {
		pps[i] = placeholder(i + 1)
	}
	query := `INSERT INTO workflow (
		status, execution_count, retry_count, created, modified,
		next_activation, started, executor_id, executor_group,
		workflow_type, external_id, business_key, state, state_vars, parent_id
	) VALUES (` + strings.Join(pps, ", ") + `)`

	if supportsReturning() {
		err := r.db.QueryRow(query+" RETURNING id", args...).Scan(&wf.ID)
		return wf.ID, err
	}
	res, err := r.db.Exec(query, args...)
	if err != nil {
		return 0, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	wf.ID = id
	return id, nil
}

// FindPendingWorkflows returns due, unclaimed rows for the executor group,
// oldest activation first.
func (r *WorkflowRepository) FindPendingWorkflows(size int, executorGroup string) (*[]domain.Workflow, error) {
	query := `
		SELECT ` + WORKFLOW_COLUMNS + `
		FROM workflow
		WHERE ` + dateBeforeNow("next_activation", r.clock) + `
		  AND status in ('NEW', 'IN_PROGRESS')
		  AND executor_id IS NULL
		  AND executor_group = ` + placeholder(1) + `
		ORDER BY next_activation ASC
		LIMIT ` + placeholder(2) + `
	`

	rows, err := r.db.Query(query, executorGroup, size)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanWorkflows(rows)
}

// MarkWorkflowAsScheduledForExecution claims a due workflow for this executor.
// The modified timestamp acts as an optimistic lock; false means another
// executor won the row first.
func (r *WorkflowRepository) MarkWorkflowAsScheduledForExecution(id int64, executorId int64, modified time.Time) bool {
	query := `
		UPDATE workflow
		SET status = 'SCHEDULED', modified = ` + nowFunc(r.clock) + `, executor_id = ` + placeholder(1) + `
		WHERE id = ` + placeholder(2) + ` AND modified = ` + placeholder(3) + ` AND status IN ('NEW', 'IN_PROGRESS') AND executor_id IS NULL
	`
	modifiedAt := formatDateInDatabase(modified)
	result, err := r.db.Exec(query, executorId, id, modifiedAt)
	if err != nil {
		slog.Error("Could not mark workflow as scheduled", "error", err, "id", id, "executorId", executorId, "modified", modified)
		return false
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false
	}
	return rowsAffected == 1
}

// UpdateState moves the workflow to the given state and resets its retry
// budget, so each state starts with a clean retry counter.
func (r *WorkflowRepository) UpdateState(id int64, state string) error {
	query := `
		UPDATE workflow
		SET state = ` + placeholder(1) + `, modified = ` + nowFunc(r.clock) + `, retry_count = 0
		WHERE id = ` + placeholder(2) + `
	`
	_, err := r.db.Exec(query, state, id)
	return err
}

func (r *WorkflowRepository) UpdateWorkflowStatus(id int64, status string) error {
	query := `
		UPDATE workflow
		SET status = ` + placeholder(1) + `, modified = ` + nowFunc(r.clock) + `
		WHERE id = ` + placeholder(2) + `
	`
	_, err := r.db.Exec(query, status, id)
	return err
}

func (r *WorkflowRepository) UpdateWorkflowStartingTime(id int64) error {
	query := `
		UPDATE workflow
		SET started = ` + nowFunc(r.clock) + `
		WHERE id = ` + placeholder(1) + `
	`
	_, err := r.db.Exec(query, id)
	return err
}

func (r *WorkflowRepository) SaveWorkflowVariables(id int64, vars string) error {
	query := `
		UPDATE workflow
		SET state_vars = ` + placeholder(1) + `
		WHERE id = ` + placeholder(2) + `
	`
	_, err := r.db.Exec(query, vars, id)
	return err
}

// SaveWorkflowVariablesAndTouch writes state_vars and bumps modified, which
// invalidates any optimistic lock taken on the old timestamp.
func (r *WorkflowRepository) SaveWorkflowVariablesAndTouch(id int64, vars string) error {
	query := `
		UPDATE workflow
		SET state_vars = ` + placeholder(1) + `, modified = ` + nowFunc(r.clock) + `
		WHERE id = ` + placeholder(2) + `
	`
	_, err := r.db.Exec(query, vars, id)
	return err
}

// UpdateNextActivationSpecific parks the workflow until the given time.
func (r *WorkflowRepository) UpdateNextActivationSpecific(id int64, next time.Time) error {
	query := `
		UPDATE workflow
		SET status = 'IN_PROGRESS', next_activation = ` + placeholder(1) + `, modified = ` + nowFunc(r.clock) + `
		WHERE id = ` + placeholder(2) + `
	`
	_, err := r.db.Exec(query, formatDateInDatabase(next), id)
	return err
}

// UpdateNextActivationOffset parks the workflow until offset from now. The
// offset is an interval string such as "10 minutes"; a bare leading integer
// is read as minutes. The target time is computed in Go so the statement
// stays portable across dialects.
func (r *WorkflowRepository) UpdateNextActivationOffset(id int64, offset string) error {
	dur, err := ParsePostgresInterval(offset)
	if err != nil {
		var mins int
		fmt.Sscanf(offset, "%d", &mins)
		dur = time.Duration(mins) * time.Minute
	}
	next := r.clock.Now().UTC().Add(dur)
	query := `
		UPDATE workflow
		SET status = 'IN_PROGRESS', next_activation = ` + placeholder(1) + `, modified = ` + nowFunc(r.clock) + `
		WHERE id = ` + placeholder(2) + `
	`
	_, err = r.db.Exec(query, formatDateInDatabase(next), id)
	return err
}

var intervalPattern = regexp.MustCompile(`(?i)(-?\d+(?:\.\d*)?)\s*(hour|hours|minute|minutes|second|seconds|ms|millisecond|milliseconds)`)

var intervalUnits = map[string]time.Duration{
	"hour":         time.Hour,
	"hours":        time.Hour,
	"minute":       time.Minute,
	"minutes":      time.Minute,
	"second":       time.Second,
	"seconds":      time.Second,
	"ms":           time.Millisecond,
	"millisecond":  time.Millisecond,
	"milliseconds": time.Millisecond,
}

// ParsePostgresInterval converts an interval string such as "2 minutes" or
// "1 hour 30 minutes" to a time.Duration. Units from hours down to
// milliseconds are accepted, fractions included, and all parts are summed.
func ParsePostgresInterval(interval string) (time.Duration, error) {
	interval = strings.TrimSpace(interval)
	if interval == "" {
		return 0, nil
	}

	matches := intervalPattern.FindAllStringSubmatch(interval, -1)
	if matches == nil {
		return 0, fmt.Errorf("invalid interval format: %s", interval)
	}

	var total time.Duration
	for _, m := range matches {
		value, err := strconv.ParseFloat(m[1], 64)
		if err != nil {
			return 0, fmt.Errorf("invalid number in interval: %s", m[1])
		}
		unit, ok := intervalUnits[strings.ToLower(m[2])]
		if !ok {
			return 0, fmt.Errorf("unknown unit in interval: %s", m[2])
		}
		total += time.Duration(value * float64(unit))
	}
	return total, nil
}

func (r *WorkflowRepository) ClearExecutorId(id int64) error {
	query := `
		UPDATE workflow
		SET executor_id = NULL, modified = ` + nowFunc(r.clock) + `
		WHERE id = ` + placeholder(1) + `
	`
	_, err := r.db.Exec(query, id)
	return err
}

// IncrementRetryCounterAndSetNextActivation releases the row back to the pool
// with one more retry on the counter and a fresh activation time.
func (r *WorkflowRepository) IncrementRetryCounterAndSetNextActivation(id int64, activation time.Time) error {
	query := `
		UPDATE workflow
		SET status = 'IN_PROGRESS', executor_id = NULL, retry_count = retry_count + 1, next_activation = ` + placeholder(1) + `, modified = ` + nowFunc(r.clock) + `
		WHERE id = ` + placeholder(2) + `
	`
	_, err := r.db.Exec(query, formatDateInDatabase(activation), id)
	return err
}

// FindStuckWorkflows returns claimed or running rows whose executor has not
// heartbeated inside the repair window. minutesRepair carries a leading
// integer count of minutes.
func (r *WorkflowRepository) FindStuckWorkflows(minutesRepair string, executorGroup string, limit int) (*[]domain.Workflow, error) {
	var mins int
	fmt.Sscanf(minutesRepair, "%d", &mins)
	cutoff := r.clock.Now().UTC().Add(-time.Duration(mins) * time.Minute)

	query := `
		SELECT ` + WORKFLOW_COLUMNS + `
		FROM workflow
		WHERE modified < ` + placeholder(1) + `
		  AND status IN ('SCHEDULED', 'EXECUTING', 'IN_PROGRESS', 'LOCK')
		  AND executor_group = ` + placeholder(2) + `
		  AND executor_id NOT IN (
		      SELECT id
		      FROM executors
		      WHERE last_active > ` + placeholder(3) + `
		  )
		ORDER BY next_activation ASC
		LIMIT ` + placeholder(4) + `
		`
	rows, err := r.db.Query(query, cutoff, executorGroup, cutoff, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanWorkflows(rows)
}

// LockWorkflowByModified takes a stuck row back from a dead executor. The
// modified check keeps two repairers from both winning the same row.
func (r *WorkflowRepository) LockWorkflowByModified(id int64, modified time.Time) bool {
	query := `
		UPDATE workflow
		SET status = 'LOCK', executor_id = NULL, retry_count = retry_count + 1, next_activation = ` + placeholder(1) + `, modified = ` + nowFunc(r.clock) + `
		WHERE id = ` + placeholder(2) + ` AND modified = ` + placeholder(3) + `
	`
	result, err := r.db.Exec(query, formatDateInDatabase(modified), id, formatDateInDatabase(modified))
	if err != nil {
		return false
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false
	}
	return rowsAffected == 1
}

func (r *WorkflowRepository) SearchWorkflows(req models.SearchWorkflowRequest) (*[]domain.Workflow, error) {
	where, args := buildWhereClause(req)

	query := `
		SELECT ` + WORKFLOW_COLUMNS + `
		FROM workflow` + where + `
		ORDER BY id DESC` + buildLimitClause(req)

	rows, err := r.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanWorkflows(rows)
}

// GetChildrenByParentID returns all workflows spawned by the given parent.
func (r *WorkflowRepository) GetChildrenByParentID(parentID int64) (*[]domain.Workflow, error) {
	query := `
		SELECT ` + WORKFLOW_COLUMNS + `
		FROM workflow
		WHERE parent_id = ` + placeholder(1) + `
		ORDER BY id ASC
	`
	rows, err := r.db.Query(query, parentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanWorkflows(rows)
}

// WakeParentWorkflow pulls a waiting parent's next activation forward to now.
// Only parents still runnable are touched so finished parents stay untouched.
func (r *WorkflowRepository) WakeParentWorkflow(parentID int64) error {
	query := `
		UPDATE workflow
		SET next_activation = ` + nowFunc(r.clock) + `, modified = ` + nowFunc(r.clock) + `
		WHERE id = ` + placeholder(1) + ` AND status IN ('NEW', 'IN_PROGRESS') AND executor_id IS NULL
	`
	_, err := r.db.Exec(query, parentID)
	return err
}

// DeleteFinishedBefore removes terminal workflows whose modified timestamp is
// older than the cutoff, along with their action history. IDs are collected
// first because DELETE ... LIMIT is not portable across dialects.
func (r *WorkflowRepository) DeleteFinishedBefore(cutoff time.Time, limit int) (int64, error) {
	query := `
		SELECT id FROM workflow
		WHERE status IN ('FINISHED', 'FAILED')
		  AND ` + dateBefore("modified", cutoff) + `
		ORDER BY id ASC
		LIMIT ` + placeholder(1) + `
	`
	rows, err := r.db.Query(query, limit)
	if err != nil {
		return 0, err
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return 0, err
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return 0, err
	}
	if len(ids) == 0 {
		return 0, nil
	}

	pps := make([]string, 0, len(ids))
	args := make([]interface{}, 0, len(ids))
	for i, id := range ids {
		pps = append(pps, placeholder(i+1))
		args = append(args, id)
	}
	in := strings.Join(pps, ", ")

	if _, err := r.db.Exec(`DELETE FROM workflow_actions WHERE workflow_id IN (`+in+`)`, args...); err != nil {
		return 0, err
	}
	res, err := r.db.Exec(`DELETE FROM workflow WHERE id IN (`+in+`)`, args...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// GetWorkflowOverview aggregates row counts per executor group and workflow type.
func (r *WorkflowRepository) GetWorkflowOverview() ([]WorkflowOverviewRow, error) {
	query := `
SELECT
    executor_group,
    workflow_type,
    SUM(CASE WHEN status = 'NEW' THEN 1 ELSE 0 END) AS new_count,
    SUM(CASE WHEN status = 'SCHEDULED' THEN 1 ELSE 0 END) AS scheduled_count,
    SUM(CASE WHEN status = 'EXECUTING' THEN 1 ELSE 0 END) AS executing_count,
    SUM(CASE WHEN status = 'FINISHED' THEN 1 ELSE 0 END) AS finished_count,
    SUM(CASE WHEN status = 'IN_PROGRESS' THEN 1 ELSE 0 END) AS in_progress_count,
    SUM(CASE WHEN status = 'FAILED' THEN 1 ELSE 0 END) AS failed_count
FROM workflow
GROUP BY executor_group, workflow_type
	`
	rows, err := r.db.Query(query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []WorkflowOverviewRow
	for rows.Next() {
		var row WorkflowOverviewRow
		if err := rows.Scan(&row.ExecutorGroup, &row.WorkflowType, &row.NewCount, &row.ScheduledCount, &row.ExecutingCount, &row.FinishedCount, &row.InProgressCount, &row.FailedCount); err != nil {
			return nil, err
		}
		res = append(res, row)
	}
	return res, nil
}

// GetDefinitionStateOverview aggregates row counts per state for one workflow type.
func (r *WorkflowRepository) GetDefinitionStateOverview(workflowType string) ([]DefinitionStateRow, error) {
	query := `
SELECT
    COALESCE(state, '') AS state,
    SUM(CASE WHEN status = 'NEW' THEN 1 ELSE 0 END) AS new_count,
    SUM(CASE WHEN status = 'SCHEDULED' THEN 1 ELSE 0 END) AS scheduled_count,
    SUM(CASE WHEN status = 'EXECUTING' THEN 1 ELSE 0 END) AS executing_count,
    SUM(CASE WHEN status = 'IN_PROGRESS' THEN 1 ELSE 0 END) AS in_progress_count,
    SUM(CASE WHEN status = 'FINISHED' THEN 1 ELSE 0 END) AS finished_count,
    SUM(CASE WHEN status = 'FAILED' THEN 1 ELSE 0 END) AS failed_count
FROM workflow
WHERE workflow_type = ` + placeholder(1) + `
GROUP BY COALESCE(state, '')
ORDER BY COALESCE(state, '')
	`
	rows, err := r.db.Query(query, workflowType)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []DefinitionStateRow
	for rows.Next() {
		var row DefinitionStateRow
		if err := rows.Scan(&row.State, &row.NewCount, &row.ScheduledCount, &row.ExecutingCount, &row.InProgressCount, &row.FinishedCount, &row.FailedCount); err != nil {
			return nil, err
		}
		res = append(res, row)
	}
	return res, nil
}

// GetTopExecuting returns the most recently touched EXECUTING rows.
func (r *WorkflowRepository) GetTopExecuting(limit int) (*[]domain.Workflow, error) {
	query := `
		SELECT ` + WORKFLOW_COLUMNS + `
		FROM workflow
		WHERE status = 'EXECUTING'
		ORDER BY modified DESC
		LIMIT ` + placeholder(1) + `
	`
	rows, err := r.db.Query(query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanWorkflows(rows)
}

// GetNextToExecute returns the soonest upcoming NEW and IN_PROGRESS rows.
func (r *WorkflowRepository) GetNextToExecute(limit int) (*[]domain.Workflow, error) {
	query := `
		SELECT ` + WORKFLOW_COLUMNS + `
		FROM workflow
		WHERE status IN ('NEW','IN_PROGRESS')
		ORDER BY next_activation ASC
		LIMIT ` + placeholder(1) + `
	`
	rows, err := r.db.Query(query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanWorkflows(rows)
}

func buildLimitClause(req models.SearchWorkflowRequest) string {
	if req.Limit <= 0 {
		return ""
	}
	return fmt.Sprintf(" LIMIT %d OFFSET %d", req.Limit, req.Offset)
}

// buildWhereClause renders the search filters. The identity filters (id,
// external id, business key) form one OR group so a caller can probe several
// identifiers at once; the remaining filters narrow with AND. Clauses are
// emitted in the order their arguments are appended, which is what positional
// ? placeholders require.
func buildWhereClause(req models.SearchWorkflowRequest) (string, []interface{}) {
	var args []interface{}
	arg := func(v interface{}) string {
		args = append(args, v)
		return placeholder(len(args))
	}

	var identity []string
	if req.ID != 0 {
		identity = append(identity, "id = "+arg(req.ID))
	}
	if req.ExternalID != "" {
		identity = append(identity, "external_id = "+arg(req.ExternalID))
	}
	if req.BusinessKey != "" {
		identity = append(identity, "business_key = "+arg(req.BusinessKey))
	}

	var clauses []string
	if len(identity) > 0 {
		clauses = append(clauses, "("+strings.Join(identity, " OR ")+")")
	}
	if req.ExecutorGroup != "" {
		clauses = append(clauses, "executor_group = "+arg(req.ExecutorGroup))
	}
	if req.WorkflowType != "" {
		clauses = append(clauses, "workflow_type = "+arg(req.WorkflowType))
	}
	if req.State != "" {
		clauses = append(clauses, "state = "+arg(req.State))
	}
	if req.Status != "" {
		clauses = append(clauses, "status = "+arg(req.Status))
	}

	if len(clauses) == 0 {
		return "", args
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}
