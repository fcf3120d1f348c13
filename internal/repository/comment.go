package repository

import (
	"database/sql"

	"github.com/sentinelwatch/sentinel/internal/domain"
	"github.com/sentinelwatch/sentinel/pkg/sentinel/core"
)

// CommentRepository provides persistence for analyst comments on articles.
type CommentRepository struct {
	db    *sql.DB
	clock core.Clock
}

func NewCommentRepository(db *sql.DB, clock core.Clock) *CommentRepository {
	if clock == nil {
		clock = core.NewRealClock()
	}
	return &CommentRepository{db: db, clock: clock}
}

// Save inserts a new comment and returns its ID.
func (r *CommentRepository) Save(c *domain.Comment) (int64, error) {
	if c.Created.IsZero() {
		c.Created = r.clock.Now().UTC()
	}
	base := `
		INSERT INTO comments (article_id, author, body, created)
		VALUES (` + placeholder(1) + `, ` + placeholder(2) + `, ` + placeholder(3) + `, ` + placeholder(4) + `)
	`
	var err error
	if supportsReturning() {
		query := base + " RETURNING id"
		err = r.db.QueryRow(query, c.ArticleID, c.Author, c.Body, formatDateInDatabase(c.Created)).Scan(&c.ID)
	} else {
		res, e := r.db.Exec(base, c.ArticleID, c.Author, c.Body, formatDateInDatabase(c.Created))
		if e != nil {
			err = e
		} else {
			id, e2 := res.LastInsertId()
			if e2 != nil {
				err = e2
			} else {
				c.ID = id
			}
		}
	}
	return c.ID, err
}

// FindByID returns one comment, or nil when it does not exist.
func (r *CommentRepository) FindByID(id int64) (*domain.Comment, error) {
	query := `
		SELECT id, article_id, author, body, created
		FROM comments
		WHERE id = ` + placeholder(1) + `
	`
	var c domain.Comment
	err := r.db.QueryRow(query, id).Scan(&c.ID, &c.ArticleID, &c.Author, &c.Body, &c.Created)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// DeleteById removes a comment.
func (r *CommentRepository) DeleteById(id int64) error {
	query := `
		DELETE FROM comments
		WHERE id = ` + placeholder(1) + `
	`
	_, err := r.db.Exec(query, id)
	return err
}

// FindAllByArticleID returns all comments for an article, oldest first.
func (r *CommentRepository) FindAllByArticleID(articleID int64) (*[]domain.Comment, error) {
	query := `
		SELECT id, article_id, author, body, created
		FROM comments
		WHERE article_id = ` + placeholder(1) + `
		ORDER BY id ASC
	`
	rows, err := r.db.Query(query, articleID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	comments := make([]domain.Comment, 0)
	for rows.Next() {
		var c domain.Comment
		if err := rows.Scan(&c.ID, &c.ArticleID, &c.Author, &c.Body, &c.Created); err != nil {
			return nil, err
		}
		comments = append(comments, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return &comments, nil
}
