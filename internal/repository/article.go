package repository

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/sentinelwatch/sentinel/internal/domain"
	"github.com/sentinelwatch/sentinel/internal/models"
	"github.com/sentinelwatch/sentinel/pkg/sentinel/core"
)

type ArticleRepository struct {
	db    *sql.DB
	clock core.Clock
}

// ArticleStatusRow holds a count of articles per status.
type ArticleStatusRow struct {
	Status string
	Count  int
}

// SeverityRow holds a count of published articles per severity.
type SeverityRow struct {
	Severity string
	Count    int
}

const ARTICLE_COLUMNS = ` id, external_id, feed_id, guid, link, title, title_norm,
		       summary, content, content_hash, severity, score, decision, status,
		       matched_rules, cve_ids, duplicate_of, drop_reason, raw, workflow_id,
		       reviewed_by, review_note, published_at, created, modified `

func NewArticleRepository(db *sql.DB, clock core.Clock) *ArticleRepository {
	if clock == nil {
		clock = core.NewRealClock()
	}
	return &ArticleRepository{db: db, clock: clock}
}

func scanArticle(s rowScanner) (*domain.Article, error) {
	var a domain.Article
	err := s.Scan(
		&a.ID,
		&a.ExternalID,
		&a.FeedID,
		&a.GUID,
		&a.Link,
		&a.Title,
		&a.TitleNorm,
		&a.Summary,
		&a.Content,
		&a.ContentHash,
		&a.Severity,
		&a.Score,
		&a.Decision,
		&a.Status,
		&a.MatchedRules,
		&a.CveIDs,
		&a.DuplicateOf,
		&a.DropReason,
		&a.Raw,
		&a.WorkflowID,
		&a.ReviewedBy,
		&a.ReviewNote,
		&a.PublishedAt,
		&a.Created,
		&a.Modified,
	)
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func scanArticles(rows *sql.Rows) (*[]domain.Article, error) {
	var articles []domain.Article
	for rows.Next() {
		a, err := scanArticle(rows)
		if err != nil {
			return nil, err
		}
		articles = append(articles, *a)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return &articles, nil
}

func (r *ArticleRepository) Save(a *domain.Article) (int64, error) {
	if a.Created.IsZero() {
		a.Created = r.clock.Now().UTC()
	}
	if a.Modified.IsZero() {
		a.Modified = a.Created
	}
	vals := []interface{}{
		a.ExternalID, a.FeedID, a.GUID, a.Link, a.Title, a.TitleNorm,
		a.Summary, a.Content, a.ContentHash, a.Severity, a.Score, a.Decision, a.Status,
		a.MatchedRules, a.CveIDs, a.DuplicateOf, a.DropReason, a.Raw, a.WorkflowID,
		a.ReviewedBy, a.ReviewNote, formatDateInDatabaseNull(a.PublishedAt),
		formatDateInDatabase(a.Created), formatDateInDatabase(a.Modified),
	}
	pps := make([]string, 0, len(vals))
	for i := range vals {
		pps = append(pps, placeholder(i+1))
	}
	base := `INSERT INTO articles (
		external_id, feed_id, guid, link, title, title_norm,
		summary, content, content_hash, severity, score, decision, status,
		matched_rules, cve_ids, duplicate_of, drop_reason, raw, workflow_id,
		reviewed_by, review_note, published_at, created, modified
	) VALUES (` + strings.Join(pps, ", ") + `)`
	var err error
	if supportsReturning() {
		query := base + " RETURNING id"
		err = r.db.QueryRow(query, vals...).Scan(&a.ID)
	} else {
		res, e := r.db.Exec(base, vals...)
		if e != nil {
			err = e
		} else {
			id, e2 := res.LastInsertId()
			if e2 != nil {
				err = e2
			} else {
				a.ID = id
			}
		}
	}
	return a.ID, err
}

func (r *ArticleRepository) FindByID(id int64) (*domain.Article, error) {
	query := `
		SELECT ` + ARTICLE_COLUMNS + `
		FROM articles WHERE id = ` + placeholder(1) + `
	`
	return scanArticle(r.db.QueryRow(query, id))
}

func (r *ArticleRepository) FindByExternalID(externalID string) (*domain.Article, error) {
	query := `
		SELECT ` + ARTICLE_COLUMNS + `
		FROM articles WHERE external_id = ` + placeholder(1) + `
	`
	return scanArticle(r.db.QueryRow(query, externalID))
}

// FindByFeedAndGUID is the ingest existence check. Returns (nil, nil) when the
// feed has not delivered this item before.
func (r *ArticleRepository) FindByFeedAndGUID(feedID int64, guid string) (*domain.Article, error) {
	query := `
		SELECT ` + ARTICLE_COLUMNS + `
		FROM articles WHERE feed_id = ` + placeholder(1) + ` AND guid = ` + placeholder(2) + `
		LIMIT 1
	`
	a, err := scanArticle(r.db.QueryRow(query, feedID, guid))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return a, nil
}

// UpdateParsed records the fields derived while parsing article content.
func (r *ArticleRepository) UpdateParsed(id int64, titleNorm string, contentHash string, cveIDs string) error {
	query := `
		UPDATE articles
		SET title_norm = ` + placeholder(1) + `, content_hash = ` + placeholder(2) + `,
		    cve_ids = ` + placeholder(3) + `, modified = ` + nowFunc(r.clock) + `
		WHERE id = ` + placeholder(4) + `
	`
	_, err := r.db.Exec(query, titleNorm, contentHash, cveIDs, id)
	return err
}

// UpdateTriageOutcome records the relevance evaluation on the article row.
func (r *ArticleRepository) UpdateTriageOutcome(id int64, score int64, decision string, severity string, matchedRules string, cveIDs string) error {
	query := `
		UPDATE articles
		SET score = ` + placeholder(1) + `, decision = ` + placeholder(2) + `, severity = ` + placeholder(3) + `,
		    matched_rules = ` + placeholder(4) + `, cve_ids = ` + placeholder(5) + `, modified = ` + nowFunc(r.clock) + `
		WHERE id = ` + placeholder(6) + `
	`
	_, err := r.db.Exec(query, score, decision, severity, matchedRules, cveIDs, id)
	return err
}

func (r *ArticleRepository) UpdateStatus(id int64, status string) error {
	query := `
		UPDATE articles
		SET status = ` + placeholder(1) + `, modified = ` + nowFunc(r.clock) + `
		WHERE id = ` + placeholder(2) + `
	`
	_, err := r.db.Exec(query, status, id)
	return err
}

func (r *ArticleRepository) MarkDuplicate(id int64, duplicateOf int64) error {
	query := `
		UPDATE articles
		SET status = '` + domain.ArticleStatusDuplicate + `', duplicate_of = ` + placeholder(1) + `, modified = ` + nowFunc(r.clock) + `
		WHERE id = ` + placeholder(2) + `
	`
	_, err := r.db.Exec(query, duplicateOf, id)
	return err
}

func (r *ArticleRepository) MarkPublished(id int64) error {
	query := `
		UPDATE articles
		SET status = '` + domain.ArticleStatusPublished + `', published_at = ` + nowFunc(r.clock) + `, modified = ` + nowFunc(r.clock) + `
		WHERE id = ` + placeholder(1) + `
	`
	_, err := r.db.Exec(query, id)
	return err
}

func (r *ArticleRepository) MarkDropped(id int64, reason string) error {
	query := `
		UPDATE articles
		SET status = '` + domain.ArticleStatusDropped + `', drop_reason = ` + placeholder(1) + `, modified = ` + nowFunc(r.clock) + `
		WHERE id = ` + placeholder(2) + `
	`
	_, err := r.db.Exec(query, reason, id)
	return err
}

func (r *ArticleRepository) MarkFailed(id int64, reason string) error {
	query := `
		UPDATE articles
		SET status = '` + domain.ArticleStatusFailed + `', drop_reason = ` + placeholder(1) + `, modified = ` + nowFunc(r.clock) + `
		WHERE id = ` + placeholder(2) + `
	`
	_, err := r.db.Exec(query, reason, id)
	return err
}

// SetWorkflowID links the article to its live triage workflow.
func (r *ArticleRepository) SetWorkflowID(id int64, workflowID int64) error {
	query := `
		UPDATE articles
		SET workflow_id = ` + placeholder(1) + `, modified = ` + nowFunc(r.clock) + `
		WHERE id = ` + placeholder(2) + `
	`
	_, err := r.db.Exec(query, workflowID, id)
	return err
}

// UpdateReview records who reviewed the article and the note they left.
func (r *ArticleRepository) UpdateReview(id int64, reviewedBy string, note string) error {
	query := `
		UPDATE articles
		SET reviewed_by = ` + placeholder(1) + `, review_note = ` + placeholder(2) + `, modified = ` + nowFunc(r.clock) + `
		WHERE id = ` + placeholder(3) + `
	`
	_, err := r.db.Exec(query, reviewedBy, note, id)
	return err
}

// FindRecentByContentHash returns articles within the dedup window sharing the
// exact content hash, excluding the article being triaged.
func (r *ArticleRepository) FindRecentByContentHash(hash string, since time.Time, excludeID int64) (*[]domain.Article, error) {
	query := `
		SELECT ` + ARTICLE_COLUMNS + `
		FROM articles
		WHERE content_hash = ` + placeholder(1) + `
		  AND id != ` + placeholder(2) + `
		  AND status != '` + domain.ArticleStatusDuplicate + `'
		  AND ` + dateAfter("created", since) + `
		ORDER BY id ASC
	`
	rows, err := r.db.Query(query, hash, excludeID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanArticles(rows)
}

// FindRecentByTitleNorm returns articles within the dedup window sharing the
// normalized title, excluding the article being triaged.
func (r *ArticleRepository) FindRecentByTitleNorm(titleNorm string, since time.Time, excludeID int64) (*[]domain.Article, error) {
	query := `
		SELECT ` + ARTICLE_COLUMNS + `
		FROM articles
		WHERE title_norm = ` + placeholder(1) + `
		  AND id != ` + placeholder(2) + `
		  AND status != '` + domain.ArticleStatusDuplicate + `'
		  AND ` + dateAfter("created", since) + `
		ORDER BY id ASC
	`
	rows, err := r.db.Query(query, titleNorm, excludeID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanArticles(rows)
}

// FindPublishedSince returns recently published articles, newest first.
func (r *ArticleRepository) FindPublishedSince(since time.Time, limit int) (*[]domain.Article, error) {
	query := `
		SELECT ` + ARTICLE_COLUMNS + `
		FROM articles
		WHERE status = '` + domain.ArticleStatusPublished + `'
		  AND ` + dateAfter("published_at", since) + `
		ORDER BY published_at DESC
		LIMIT ` + placeholder(1) + `
	`
	rows, err := r.db.Query(query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanArticles(rows)
}

// FindByStatus returns articles in the given status, oldest first, for the
// review queue.
func (r *ArticleRepository) FindByStatus(status string, limit int, offset int) (*[]domain.Article, error) {
	query := `
		SELECT ` + ARTICLE_COLUMNS + `
		FROM articles
		WHERE status = ` + placeholder(1) + `
		ORDER BY id ASC
		LIMIT ` + placeholder(2) + ` OFFSET ` + placeholder(3) + `
	`
	rows, err := r.db.Query(query, status, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanArticles(rows)
}

func (r *ArticleRepository) Search(req models.SearchArticleRequest) (*[]domain.Article, error) {
	whereClause, args := buildArticleWhereClause(req)

	limit := req.Limit
	if limit <= 0 {
		limit = 50
	}

	query := `
		SELECT ` + ARTICLE_COLUMNS + `
		FROM articles
		` + whereClause + `
		ORDER BY id DESC
	` + fmt.Sprintf(" LIMIT %d OFFSET %d", limit, req.Offset)

	rows, err := r.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanArticles(rows)
}

func buildArticleWhereClause(req models.SearchArticleRequest) (string, []interface{}) {
	var clauses []string
	var args []interface{}

	if req.Text != "" {
		// LOWER + LIKE is portable across all three dialects
		pattern := "%" + strings.ToLower(req.Text) + "%"
		args = append(args, pattern)
		p1 := placeholder(len(args))
		args = append(args, pattern)
		p2 := placeholder(len(args))
		clauses = append(clauses, "(LOWER(title) LIKE "+p1+" OR LOWER(summary) LIKE "+p2+")")
	}
	if len(req.Statuses) > 0 {
		var pps []string
		for _, s := range req.Statuses {
			args = append(args, s)
			pps = append(pps, placeholder(len(args)))
		}
		clauses = append(clauses, "status IN ("+strings.Join(pps, ", ")+")")
	}
	if len(req.Severities) > 0 {
		var pps []string
		for _, s := range req.Severities {
			args = append(args, s)
			pps = append(pps, placeholder(len(args)))
		}
		clauses = append(clauses, "severity IN ("+strings.Join(pps, ", ")+")")
	}
	if len(req.FeedIDs) > 0 {
		var pps []string
		for _, id := range req.FeedIDs {
			args = append(args, id)
			pps = append(pps, placeholder(len(args)))
		}
		clauses = append(clauses, "feed_id IN ("+strings.Join(pps, ", ")+")")
	}
	if req.From != nil {
		clauses = append(clauses, dateAfter("created", *req.From))
	}
	if req.To != nil {
		clauses = append(clauses, dateBefore("created", *req.To))
	}

	if len(clauses) == 0 {
		return "", args
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

// CountByStatus returns article counts grouped by status.
func (r *ArticleRepository) CountByStatus() ([]ArticleStatusRow, error) {
	query := `
		SELECT status, COUNT(*) AS cnt
		FROM articles
		GROUP BY status
		ORDER BY status
	`
	rows, err := r.db.Query(query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []ArticleStatusRow
	for rows.Next() {
		var row ArticleStatusRow
		if err := rows.Scan(&row.Status, &row.Count); err != nil {
			return nil, err
		}
		res = append(res, row)
	}
	return res, nil
}

// CountPublishedBySeverity returns published article counts per severity since
// the given time.
func (r *ArticleRepository) CountPublishedBySeverity(since time.Time) ([]SeverityRow, error) {
	query := `
		SELECT COALESCE(severity, '') AS severity, COUNT(*) AS cnt
		FROM articles
		WHERE status = '` + domain.ArticleStatusPublished + `'
		  AND ` + dateAfter("published_at", since) + `
		GROUP BY COALESCE(severity, '')
		ORDER BY COALESCE(severity, '')
	`
	rows, err := r.db.Query(query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []SeverityRow
	for rows.Next() {
		var row SeverityRow
		if err := rows.Scan(&row.Severity, &row.Count); err != nil {
			return nil, err
		}
		res = append(res, row)
	}
	return res, nil
}

// DeleteTerminalBefore removes dropped, duplicate and failed articles older
// than the cutoff along with their comments. Published articles are kept.
func (r *ArticleRepository) DeleteTerminalBefore(cutoff time.Time, limit int) (int64, error) {
	query := `
		SELECT id FROM articles
		WHERE status IN ('` + domain.ArticleStatusDropped + `', '` + domain.ArticleStatusDuplicate + `', '` + domain.ArticleStatusFailed + `')
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

	if _, err := r.db.Exec(`DELETE FROM comments WHERE article_id IN (`+in+`)`, args...); err != nil {
		return 0, err
	}
	res, err := r.db.Exec(`DELETE FROM articles WHERE id IN (`+in+`)`, args...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// ClearRawBefore nulls the stored raw feed payload on articles older than the
// cutoff. The payload is only needed while triage and review are live.
func (r *ArticleRepository) ClearRawBefore(cutoff time.Time, limit int) (int64, error) {
	query := `
		SELECT id FROM articles
		WHERE raw IS NOT NULL
		  AND ` + dateBefore("created", cutoff) + `
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
	res, err := r.db.Exec(`UPDATE articles SET raw = NULL WHERE id IN (`+strings.Join(pps, ", ")+`)`, args...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
