package notify

import (
	"context"
	"log/slog"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/hashicorp/go-retryablehttp"
)

// Event types.
const (
	EventArticlePublished   = "article.published"
	EventArticleEscalated   = "article.escalated"
	EventWorkflowDeadLetter = "workflow.dead_lettered"
)

// Event is a notification about something an operator may care about.
type Event struct {
	Type      string `json:"type"`
	Title     string `json:"title"`
	Message   string `json:"message"`
	Severity  string `json:"severity,omitempty"`
	Link      string `json:"link,omitempty"`
	ArticleID int64  `json:"articleId,omitempty"`
}

// Notifier delivers events to one destination.
type Notifier interface {
	Notify(ctx context.Context, event Event) error
}

// Multi fans an event out to every configured notifier. Every destination is
// attempted, failures aggregate into the returned multierror.
type Multi struct {
	notifiers []Notifier
}

func NewMulti(notifiers ...Notifier) *Multi {
	return &Multi{notifiers: notifiers}
}

func (m *Multi) Notify(ctx context.Context, event Event) error {
	var merr *multierror.Error
	for _, n := range m.notifiers {
		if err := n.Notify(ctx, event); err != nil {
			merr = multierror.Append(merr, err)
		}
	}
	return merr.ErrorOrNil()
}

func newRetryClient(timeout time.Duration) *retryablehttp.Client {
	rc := retryablehttp.NewClient()
	rc.RetryMax = 3
	rc.RetryWaitMin = 1 * time.Second
	rc.RetryWaitMax = 10 * time.Second
	rc.HTTPClient.Timeout = timeout
	rc.Logger = slog.Default()
	return rc
}
