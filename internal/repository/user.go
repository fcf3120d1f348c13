package repository

import (
	"database/sql"
	"strings"

	"github.com/sentinelwatch/sentinel/internal/domain"
	"github.com/sentinelwatch/sentinel/pkg/sentinel/core"
)

// UserRepository persists the users table. Auth is stateless (JWT), so unlike
// the workflow tables there is no session state here, only credentials,
// groups and the optional api key.
type UserRepository struct {
	db    *sql.DB
	clock core.Clock
}

func NewUserRepository(db *sql.DB, clock core.Clock) *UserRepository {
	if clock == nil {
		clock = core.NewRealClock()
	}
	return &UserRepository{db: db, clock: clock}
}

// userColumns is the select list shared by the user queries, in scanUser order.
const userColumns = ` id, username, password, user_groups, api_key, retry_count, created, enabled `

func scanUser(s rowScanner) (*domain.User, error) {
	var u domain.User
	err := s.Scan(
		&u.ID,
		&u.Username,
		&u.Password,
		&u.Groups,
		&u.ApiKey,
		&u.RetryCount,
		&u.Created,
		&u.Enabled,
	)
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// findUser runs a single-row lookup on one column and maps a miss to (nil, nil).
func (r *UserRepository) findUser(column string, arg interface{}) (*domain.User, error) {
	query := `
		SELECT` + userColumns + `
		FROM users
		WHERE ` + column + ` = ` + placeholder(1) + `
		LIMIT 1
	`
	u, err := scanUser(r.db.QueryRow(query, arg))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return u, nil
}

// Save inserts the user and fills in its generated id. A zero Created
// defaults to now.
func (r *UserRepository) Save(u *domain.User) (int64, error) {
	if !u.Created.Valid {
		u.Created = sql.NullTime{Time: r.clock.Now().UTC(), Valid: true}
	}

	args := []interface{}{u.Username, u.Password, u.Groups, u.ApiKey, u.RetryCount, u.Created, u.Enabled}
	pps := make([]string, len(args))
	for i := range args {
		pps[i] = placeholder(i + 1)
	}
	query := `INSERT INTO users (username, password, user_groups, api_key, retry_count, created, enabled)
		VALUES (` + strings.Join(pps, ", ") + `)`

	if supportsReturning() {
		var id int64
		if err := r.db.QueryRow(query+" RETURNING id", args...).Scan(&id); err != nil {
			return 0, err
		}
		u.ID = id
		return id, nil
	}
	res, err := r.db.Exec(query, args...)
	if err != nil {
		return 0, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	u.ID = id
	return id, nil
}

// FindByUsername looks up a user by exact username. Returns (nil, nil) on a miss.
func (r *UserRepository) FindByUsername(username string) (*domain.User, error) {
	return r.findUser("username", username)
}

// FindByApiKey looks up a user by exact api key. Returns (nil, nil) on a miss.
func (r *UserRepository) FindByApiKey(apiKey string) (*domain.User, error) {
	return r.findUser("api_key", apiKey)
}

// FindById looks up a user by id. Returns (nil, nil) on a miss.
func (r *UserRepository) FindById(id int64) (*domain.User, error) {
	return r.findUser("id", id)
}

func (r *UserRepository) DeleteById(id int64) error {
	query := `
		DELETE FROM users
		WHERE id = ` + placeholder(1) + `
	`
	_, err := r.db.Exec(query, id)
	return err
}

// UpdateUser writes the mutable fields of a user: password hash, groups,
// api key and the enabled flag.
func (r *UserRepository) UpdateUser(u *domain.User) error {
	query := `
		UPDATE users
		SET password = ` + placeholder(1) + `, user_groups = ` + placeholder(2) + `, api_key = ` + placeholder(3) + `, enabled = ` + placeholder(4) + `
		WHERE id = ` + placeholder(5) + `
	`
	_, err := r.db.Exec(query, u.Password, u.Groups, u.ApiKey, u.Enabled, u.ID)
	return err
}

// IncrementRetryCount bumps the failed login counter for a user.
func (r *UserRepository) IncrementRetryCount(username string) error {
	query := `
		UPDATE users
		SET retry_count = retry_count + 1
		WHERE username = ` + placeholder(1) + `
	`
	_, err := r.db.Exec(query, username)
	return err
}

// ResetRetryCount clears the failed login counter after a successful login.
func (r *UserRepository) ResetRetryCount(username string) error {
	query := `
		UPDATE users
		SET retry_count = 0
		WHERE username = ` + placeholder(1) + `
	`
	_, err := r.db.Exec(query, username)
	return err
}

// FindAll returns all users ordered by id ascending.
func (r *UserRepository) FindAll() (*[]domain.User, error) {
	query := `
		SELECT` + userColumns + `
		FROM users
		ORDER BY id ASC
	`
	rows, err := r.db.Query(query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	users := make([]domain.User, 0)
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, *u)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return &users, nil
}
