package models

import "time"

// ArticleResponse is the API shape of an article.
type ArticleResponse struct {
	ID           int64      `json:"id"`
	ExternalID   string     `json:"externalId"`
	FeedID       int64      `json:"feedId"`
	GUID         string     `json:"guid,omitempty"`
	Link         string     `json:"link"`
	Title        string     `json:"title"`
	Summary      string     `json:"summary,omitempty"`
	Content      string     `json:"content,omitempty"`
	Severity     string     `json:"severity,omitempty"`
	Score        int64      `json:"score"`
	Decision     string     `json:"decision,omitempty"`
	Status       string     `json:"status"`
	MatchedRules []string   `json:"matchedRules,omitempty"`
	CveIDs       []string   `json:"cveIds,omitempty"`
	DuplicateOf  int64      `json:"duplicateOf,omitempty"`
	DropReason   string     `json:"dropReason,omitempty"`
	WorkflowID   int64      `json:"workflowId,omitempty"`
	ReviewedBy   string     `json:"reviewedBy,omitempty"`
	ReviewNote   string     `json:"reviewNote,omitempty"`
	PublishedAt  *time.Time `json:"publishedAt,omitempty"`
	Created      time.Time  `json:"created"`
	Modified     time.Time  `json:"modified"`
}

// SearchArticleRequest is the payload for the structured query endpoint.
type SearchArticleRequest struct {
	Text       string     `json:"text"`
	Statuses   []string   `json:"statuses"`
	Severities []string   `json:"severities"`
	FeedIDs    []int64    `json:"feedIds"`
	From       *time.Time `json:"from,omitempty"`
	To         *time.Time `json:"to,omitempty"`
	Limit      int64      `json:"limit"`
	Offset     int64      `json:"offset"`
}

type SearchArticleResponse struct {
	Results  int               `json:"results"`
	Articles []ArticleResponse `json:"articles"`
	Offset   int64             `json:"offset"`
}

type RequeueArticleResponse struct {
	WorkflowID int64 `json:"workflowId"`
}

type CreateCommentRequest struct {
	Body string `json:"body"`
}
