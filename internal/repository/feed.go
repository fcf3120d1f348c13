package repository

import (
	"database/sql"
	"strings"

	"github.com/sentinelwatch/sentinel/internal/config"
	"github.com/sentinelwatch/sentinel/internal/domain"
	"github.com/sentinelwatch/sentinel/pkg/sentinel/core"
)

type FeedRepository struct {
	db    *sql.DB
	clock core.Clock
}

const FEED_COLUMNS = ` id, name, url, enabled, poll_interval, tags,
		       last_polled, last_status, last_error, created, modified `

func NewFeedRepository(db *sql.DB, clock core.Clock) *FeedRepository {
	if clock == nil {
		clock = core.NewRealClock()
	}
	return &FeedRepository{db: db, clock: clock}
}

func scanFeed(s rowScanner) (*domain.Feed, error) {
	var f domain.Feed
	err := s.Scan(
		&f.ID,
		&f.Name,
		&f.URL,
		&f.Enabled,
		&f.PollInterval,
		&f.Tags,
		&f.LastPolled,
		&f.LastStatus,
		&f.LastError,
		&f.Created,
		&f.Modified,
	)
	if err != nil {
		return nil, err
	}
	return &f, nil
}

func (r *FeedRepository) Save(f *domain.Feed) (int64, error) {
	if f.Created.IsZero() {
		f.Created = r.clock.Now().UTC()
	}
	if f.Modified.IsZero() {
		f.Modified = f.Created
	}
	args := []interface{}{
		f.Name, f.URL, f.Enabled, f.PollInterval, f.Tags,
		formatDateInDatabaseNull(f.LastPolled), f.LastStatus, f.LastError,
		formatDateInDatabase(f.Created), formatDateInDatabase(f.Modified),
	}
	pps := make([]string, len(args))
	for i := range args {
		pps[i] = placeholder(i + 1)
	}
	query := `INSERT INTO feeds (
		name, url, enabled, poll_interval, tags,
		last_polled, last_status, last_error, created, modified
	) VALUES (` + strings.Join(pps, ", ") + `)`

	if supportsReturning() {
		err := r.db.QueryRow(query+" RETURNING id", args...).Scan(&f.ID)
		return f.ID, err
	}
	res, err := r.db.Exec(query, args...)
	if err != nil {
		return 0, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	f.ID = id
	return id, nil
}

// UpsertByName inserts a feed or updates an existing one with the same name.
// Used to seed feeds declared in the config file at startup.
func (r *FeedRepository) UpsertByName(f *domain.Feed) error {
	if f.Created.IsZero() {
		f.Created = r.clock.Now().UTC()
	}
	if f.Modified.IsZero() {
		f.Modified = f.Created
	}
	insert := `
		INSERT INTO feeds (name, url, enabled, poll_interval, tags, created, modified)
		VALUES (` + placeholder(1) + `, ` + placeholder(2) + `, ` + placeholder(3) + `, ` + placeholder(4) + `, ` + placeholder(5) + `, ` + placeholder(6) + `, ` + placeholder(7) + `)
	`
	switch config.GetSystemSettingString(config.DATABASE_TYPE) {
	case config.DATABASE_TYPE_POSTGRES, config.DATABASE_TYPE_SQLLITE:
		insert += `
		ON CONFLICT (name)
		DO UPDATE SET url = EXCLUDED.url,
			enabled = EXCLUDED.enabled,
			poll_interval = EXCLUDED.poll_interval,
			tags = EXCLUDED.tags,
			modified = EXCLUDED.modified
		`
	case config.DATABASE_TYPE_MYSQL:
		insert += `
		ON DUPLICATE KEY UPDATE url = VALUES(url),
			enabled = VALUES(enabled),
			poll_interval = VALUES(poll_interval),
			tags = VALUES(tags),
			modified = VALUES(modified)
		`
	default:
		panic("no feeds upsert for database type " + config.GetSystemSettingString(config.DATABASE_TYPE))
	}

	_, err := r.db.Exec(insert, f.Name, f.URL, f.Enabled, f.PollInterval, f.Tags,
		formatDateInDatabase(f.Created), formatDateInDatabase(f.Modified))
	return err
}

// Update overwrites the editable fields of a feed by id.
func (r *FeedRepository) Update(f *domain.Feed) error {
	query := `
		UPDATE feeds
		SET name = ` + placeholder(1) + `, url = ` + placeholder(2) + `, enabled = ` + placeholder(3) + `,
		    poll_interval = ` + placeholder(4) + `, tags = ` + placeholder(5) + `, modified = ` + nowFunc(r.clock) + `
		WHERE id = ` + placeholder(6) + `
	`
	_, err := r.db.Exec(query, f.Name, f.URL, f.Enabled, f.PollInterval, f.Tags, f.ID)
	return err
}

// UpdatePollStatus records the outcome of a poll attempt.
func (r *FeedRepository) UpdatePollStatus(id int64, status string, pollError string) error {
	lastErr := sql.NullString{String: pollError, Valid: pollError != ""}
	query := `
		UPDATE feeds
		SET last_polled = ` + nowFunc(r.clock) + `, last_status = ` + placeholder(1) + `, last_error = ` + placeholder(2) + `, modified = ` + nowFunc(r.clock) + `
		WHERE id = ` + placeholder(3) + `
	`
	_, err := r.db.Exec(query, status, lastErr, id)
	return err
}

func (r *FeedRepository) FindByID(id int64) (*domain.Feed, error) {
	query := `
		SELECT ` + FEED_COLUMNS + `
		FROM feeds WHERE id = ` + placeholder(1) + `
	`
	return scanFeed(r.db.QueryRow(query, id))
}

// FindByName fetches a feed by its unique name. Returns (nil, nil) if not found.
func (r *FeedRepository) FindByName(name string) (*domain.Feed, error) {
	query := `
		SELECT ` + FEED_COLUMNS + `
		FROM feeds WHERE name = ` + placeholder(1) + `
		LIMIT 1
	`
	f, err := scanFeed(r.db.QueryRow(query, name))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return f, nil
}

func (r *FeedRepository) FindAll() (*[]domain.Feed, error) {
	query := `
		SELECT ` + FEED_COLUMNS + `
		FROM feeds
		ORDER BY id ASC
	`
	rows, err := r.db.Query(query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	feeds := make([]domain.Feed, 0)
	for rows.Next() {
		f, err := scanFeed(rows)
		if err != nil {
			return nil, err
		}
		feeds = append(feeds, *f)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return &feeds, nil
}

// FindEnabled returns all feeds eligible for polling. Whether a feed is due is
// decided in Go because interval arithmetic differs per dialect.
func (r *FeedRepository) FindEnabled() (*[]domain.Feed, error) {
	query := `
		SELECT ` + FEED_COLUMNS + `
		FROM feeds
		WHERE enabled = ` + placeholder(1) + `
		ORDER BY id ASC
	`
	rows, err := r.db.Query(query, true)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	feeds := make([]domain.Feed, 0)
	for rows.Next() {
		f, err := scanFeed(rows)
		if err != nil {
			return nil, err
		}
		feeds = append(feeds, *f)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return &feeds, nil
}

func (r *FeedRepository) Delete(id int64) error {
	query := `DELETE FROM feeds WHERE id = ` + placeholder(1)
	_, err := r.db.Exec(query, id)
	return err
}
