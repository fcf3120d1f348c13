package repository

import (
	"database/sql"
	"time"

	"github.com/sentinelwatch/sentinel/internal/domain"
	"github.com/sentinelwatch/sentinel/pkg/sentinel/core"
)

// DeadLetterRepository persists workflows that exhausted their retry budget.
type DeadLetterRepository struct {
	db    *sql.DB
	clock core.Clock
}

const DEAD_LETTER_COLUMNS = ` id, workflow_id, workflow_type, business_key, state,
		       reason, payload, created, redriven, redriven_at `

func NewDeadLetterRepository(db *sql.DB, clock core.Clock) *DeadLetterRepository {
	if clock == nil {
		clock = core.NewRealClock()
	}
	return &DeadLetterRepository{db: db, clock: clock}
}

func scanDeadLetter(s rowScanner) (*domain.DeadLetter, error) {
	var d domain.DeadLetter
	err := s.Scan(
		&d.ID,
		&d.WorkflowID,
		&d.WorkflowType,
		&d.BusinessKey,
		&d.State,
		&d.Reason,
		&d.Payload,
		&d.Created,
		&d.Redriven,
		&d.RedrivenAt,
	)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

// Save inserts a new dead letter and returns its ID.
func (r *DeadLetterRepository) Save(d *domain.DeadLetter) (int64, error) {
	if d.Created.IsZero() {
		d.Created = r.clock.Now().UTC()
	}
	base := `
		INSERT INTO dead_letters (workflow_id, workflow_type, business_key, state, reason, payload, created, redriven)
		VALUES (` + placeholder(1) + `, ` + placeholder(2) + `, ` + placeholder(3) + `, ` + placeholder(4) + `, ` + placeholder(5) + `, ` + placeholder(6) + `, ` + placeholder(7) + `, ` + placeholder(8) + `)
	`
	var err error
	if supportsReturning() {
		query := base + " RETURNING id"
		err = r.db.QueryRow(query,
			d.WorkflowID, d.WorkflowType, d.BusinessKey, d.State, d.Reason, d.Payload,
			formatDateInDatabase(d.Created), d.Redriven,
		).Scan(&d.ID)
	} else {
		res, e := r.db.Exec(base,
			d.WorkflowID, d.WorkflowType, d.BusinessKey, d.State, d.Reason, d.Payload,
			formatDateInDatabase(d.Created), d.Redriven,
		)
		if e != nil {
			err = e
		} else {
			id, e2 := res.LastInsertId()
			if e2 != nil {
				err = e2
			} else {
				d.ID = id
			}
		}
	}
	return d.ID, err
}

func (r *DeadLetterRepository) FindByID(id int64) (*domain.DeadLetter, error) {
	query := `
		SELECT ` + DEAD_LETTER_COLUMNS + `
		FROM dead_letters WHERE id = ` + placeholder(1) + `
	`
	return scanDeadLetter(r.db.QueryRow(query, id))
}

// FindAll returns dead letters newest first. When includeRedriven is false only
// letters still awaiting redrive are returned.
func (r *DeadLetterRepository) FindAll(includeRedriven bool, limit int) (*[]domain.DeadLetter, error) {
	query := `
		SELECT ` + DEAD_LETTER_COLUMNS + `
		FROM dead_letters
	`
	if !includeRedriven {
		query += ` WHERE redriven = ` + placeholder(1) + `
		ORDER BY id DESC
		LIMIT ` + placeholder(2)
	} else {
		query += ` ORDER BY id DESC
		LIMIT ` + placeholder(1)
	}

	var rows *sql.Rows
	var err error
	if !includeRedriven {
		rows, err = r.db.Query(query, false, limit)
	} else {
		rows, err = r.db.Query(query, limit)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	letters := make([]domain.DeadLetter, 0)
	for rows.Next() {
		d, err := scanDeadLetter(rows)
		if err != nil {
			return nil, err
		}
		letters = append(letters, *d)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return &letters, nil
}

// MarkRedriven flags a dead letter as replayed. Only letters not yet redriven
// are updated so a double redrive is detectable by the caller.
func (r *DeadLetterRepository) MarkRedriven(id int64) (bool, error) {
	query := `
		UPDATE dead_letters
		SET redriven = ` + placeholder(1) + `, redriven_at = ` + nowFunc(r.clock) + `
		WHERE id = ` + placeholder(2) + ` AND redriven = ` + placeholder(3) + `
	`
	res, err := r.db.Exec(query, true, id, false)
	if err != nil {
		return false, err
	}
	rowsAffected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return rowsAffected == 1, nil
}

// CountPending returns the number of dead letters awaiting redrive.
func (r *DeadLetterRepository) CountPending() (int, error) {
	query := `SELECT COUNT(*) FROM dead_letters WHERE redriven = ` + placeholder(1)
	var count int
	if err := r.db.QueryRow(query, false).Scan(&count); err != nil {
		return 0, err
	}
	return count, nil
}

// DeleteRedrivenBefore removes redriven dead letters older than the cutoff.
func (r *DeadLetterRepository) DeleteRedrivenBefore(cutoff time.Time) (int64, error) {
	query := `
		DELETE FROM dead_letters
		WHERE redriven = ` + placeholder(1) + `
		  AND ` + dateBefore("created", cutoff) + `
	`
	res, err := r.db.Exec(query, true)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
