package repository

import (
	"database/sql"
	"strings"
	"time"

	"github.com/sentinelwatch/sentinel/pkg/sentinel/core"
	"github.com/sentinelwatch/sentinel/pkg/sentinel/domain"
)

// ExecutorRepository records engine instances and their heartbeats. Each
// booting engine registers itself here; stuck workflow repair treats rows
// with a stale last_active as dead peers whose work may be reclaimed.
type ExecutorRepository struct {
	db    *sql.DB
	clock core.Clock
}

func NewExecutorRepository(db *sql.DB, clock core.Clock) *ExecutorRepository {
	if clock == nil {
		clock = core.NewRealClock()
	}
	return &ExecutorRepository{db: db, clock: clock}
}

// Save inserts a new executor row and returns its ID. A zero Started defaults
// to now and a zero LastActive to Started.
func (r *ExecutorRepository) Save(e *domain.Executor) (int64, error) {
	started := e.Started
	if started.IsZero() {
		started = r.clock.Now()
	}
	lastActive := e.LastActive
	if lastActive.IsZero() {
		lastActive = started
	}
	vals := []interface{}{e.Name, e.Group, formatDateInDatabase(started), formatDateInDatabase(lastActive)}
	pps := []string{placeholder(1), placeholder(2), placeholder(3), placeholder(4)}
	base := `INSERT INTO executors (name, executor_group, started, last_active) VALUES (` + strings.Join(pps, ", ") + `)`
	if supportsReturning() {
		query := base + " RETURNING id"
		if err := r.db.QueryRow(query, vals...).Scan(&e.ID); err != nil {
			return 0, err
		}
	} else {
		res, err := r.db.Exec(base, vals...)
		if err != nil {
			return 0, err
		}
		id, err := res.LastInsertId()
		if err != nil {
			return 0, err
		}
		e.ID = id
	}
	e.Started = started
	e.LastActive = lastActive
	return e.ID, nil
}

// UpdateLastActive stamps the executor's heartbeat column.
func (r *ExecutorRepository) UpdateLastActive(id int64, ts time.Time) error {
	query := `UPDATE executors SET last_active = ` + placeholder(1) + ` WHERE id = ` + placeholder(2)
	_, err := r.db.Exec(query, formatDateInDatabase(ts), id)
	return err
}

// GetExecutorsByLastActive lists executors with the freshest heartbeat first.
func (r *ExecutorRepository) GetExecutorsByLastActive(limit int) ([]*domain.Executor, error) {
	query := `
		SELECT id, name, executor_group, started, last_active
		FROM executors
		ORDER BY last_active DESC
		LIMIT ` + placeholder(1) + `
	`
	rows, err := r.db.Query(query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var executors []*domain.Executor
	for rows.Next() {
		var e domain.Executor
		if err := rows.Scan(&e.ID, &e.Name, &e.Group, &e.Started, &e.LastActive); err != nil {
			return nil, err
		}
		executors = append(executors, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return executors, nil
}
