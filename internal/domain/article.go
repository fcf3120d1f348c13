package domain

import (
	"database/sql"
	"strings"
	"time"
)

// Article lifecycle statuses. An article enters as PENDING, moves to TRIAGING
// once a triage workflow picks it up, and lands in exactly one terminal status.
const (
	ArticleStatusPending   = "PENDING"
	ArticleStatusTriaging  = "TRIAGING"
	ArticleStatusInReview  = "IN_REVIEW"
	ArticleStatusPublished = "PUBLISHED"
	ArticleStatusDropped   = "DROPPED"
	ArticleStatusDuplicate = "DUPLICATE"
	ArticleStatusFailed    = "FAILED"
)

type Article struct {
	ID          int64
	ExternalID  string
	FeedID      int64
	GUID        string
	Link        string
	Title       string
	// TitleNorm is the lowercased, whitespace collapsed title used for
	// near-duplicate matching.
	TitleNorm   string
	Summary     sql.NullString
	Content     sql.NullString
	ContentHash sql.NullString
	Severity    sql.NullString
	Score       sql.NullInt64
	Decision    sql.NullString
	Status      string
	// MatchedRules and CveIDs are comma separated lists
	MatchedRules sql.NullString
	CveIDs       sql.NullString
	DuplicateOf  sql.NullInt64
	DropReason   sql.NullString
	Raw          sql.NullString
	WorkflowID   sql.NullInt64
	ReviewedBy   sql.NullString
	ReviewNote   sql.NullString
	PublishedAt  sql.NullTime
	Created      time.Time
	Modified     time.Time
}

// CveList splits the stored comma separated CVE ids.
func (a *Article) CveList() []string {
	if !a.CveIDs.Valid || a.CveIDs.String == "" {
		return nil
	}
	return strings.Split(a.CveIDs.String, ",")
}

// MatchedRuleList splits the stored comma separated rule names.
func (a *Article) MatchedRuleList() []string {
	if !a.MatchedRules.Valid || a.MatchedRules.String == "" {
		return nil
	}
	return strings.Split(a.MatchedRules.String, ",")
}
