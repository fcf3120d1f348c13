package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
	"github.com/hashicorp/go-retryablehttp"
	"github.com/mmcdole/gofeed"
	"golang.org/x/sync/errgroup"

	"github.com/sentinelwatch/sentinel/internal/domain"
	"github.com/sentinelwatch/sentinel/internal/repository"
	"github.com/sentinelwatch/sentinel/internal/triage"
	"github.com/sentinelwatch/sentinel/pkg/sentinel/core"
)

// Feed poll statuses recorded on the feed row.
const (
	PollStatusOK    = "OK"
	PollStatusError = "ERROR"
)

// ArticleStore is the slice of the article repository ingest needs.
type ArticleStore interface {
	FindByFeedAndGUID(feedID int64, guid string) (*domain.Article, error)
	Save(a *domain.Article) (int64, error)
}

// FeedStore records poll outcomes on feed rows.
type FeedStore interface {
	UpdatePollStatus(id int64, status string, pollError string) error
}

// FetchResult is the outcome of polling a single feed.
type FetchResult struct {
	Feed        *domain.Feed
	NewArticles []domain.Article
	Err         error
}

// Fetcher polls RSS/Atom feeds and stores items it has not seen before as
// PENDING articles.
type Fetcher struct {
	client      *http.Client
	parser      *gofeed.Parser
	articles    ArticleStore
	feeds       FeedStore
	clock       core.Clock
	concurrency int
}

func NewFetcher(articles ArticleStore, feeds FeedStore, clock core.Clock) *Fetcher {
	if clock == nil {
		clock = core.NewRealClock()
	}
	rc := retryablehttp.NewClient()
	rc.RetryMax = 3
	rc.RetryWaitMin = 1 * time.Second
	rc.RetryWaitMax = 15 * time.Second
	rc.HTTPClient.Timeout = 30 * time.Second
	rc.Logger = slog.Default()

	return &Fetcher{
		client:      rc.StandardClient(),
		parser:      gofeed.NewParser(),
		articles:    articles,
		feeds:       feeds,
		clock:       clock,
		concurrency: 4,
	}
}

// FetchFeed polls one feed and returns the articles it created. The poll
// outcome is recorded on the feed row either way.
func (f *Fetcher) FetchFeed(ctx context.Context, feed *domain.Feed) ([]domain.Article, error) {
	created, err := f.fetchFeed(ctx, feed)
	if err != nil {
		if statusErr := f.feeds.UpdatePollStatus(feed.ID, PollStatusError, err.Error()); statusErr != nil {
			slog.ErrorContext(ctx, "Failed to record feed poll error", "feed", feed.Name, "error", statusErr)
		}
		return created, err
	}
	if statusErr := f.feeds.UpdatePollStatus(feed.ID, PollStatusOK, ""); statusErr != nil {
		slog.ErrorContext(ctx, "Failed to record feed poll status", "feed", feed.Name, "error", statusErr)
	}
	return created, nil
}

func (f *Fetcher) fetchFeed(ctx context.Context, feed *domain.Feed) ([]domain.Article, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, feed.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("build request for feed %s: %w", feed.Name, err)
	}
	req.Header.Set("User-Agent", "sentinel-feed-fetcher/1.0")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch feed %s: %w", feed.Name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch feed %s: unexpected status %d", feed.Name, resp.StatusCode)
	}

	parsed, err := f.parser.Parse(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("parse feed %s: %w", feed.Name, err)
	}

	var created []domain.Article
	for _, item := range parsed.Items {
		guid := item.GUID
		if guid == "" {
			guid = item.Link
		}
		if guid == "" {
			slog.WarnContext(ctx, "Skipping feed item without guid or link", "feed", feed.Name, "title", item.Title)
			continue
		}

		existing, err := f.articles.FindByFeedAndGUID(feed.ID, guid)
		if err != nil {
			return created, fmt.Errorf("check existing item in feed %s: %w", feed.Name, err)
		}
		if existing != nil {
			continue
		}

		article := f.buildArticle(feed, item, guid)
		id, err := f.articles.Save(&article)
		if err != nil {
			return created, fmt.Errorf("save article from feed %s: %w", feed.Name, err)
		}
		article.ID = id
		created = append(created, article)
	}

	slog.InfoContext(ctx, "Feed polled", "feed", feed.Name, "items", len(parsed.Items), "new", len(created))
	return created, nil
}

func (f *Fetcher) buildArticle(feed *domain.Feed, item *gofeed.Item, guid string) domain.Article {
	now := f.clock.Now().UTC()
	a := domain.Article{
		ExternalID: uuid.NewString(),
		FeedID:     feed.ID,
		GUID:       guid,
		Link:       item.Link,
		Title:      item.Title,
		TitleNorm:  triage.NormalizeTitle(item.Title),
		Status:     domain.ArticleStatusPending,
		Created:    now,
		Modified:   now,
	}
	if item.Description != "" {
		a.Summary.String = item.Description
		a.Summary.Valid = true
	}
	if item.Content != "" {
		a.Content.String = item.Content
		a.Content.Valid = true
	}
	// The raw item is kept for the raw retention window so parsing bugs can
	// be replayed against the original payload.
	if raw, err := json.Marshal(item); err == nil {
		a.Raw.String = string(raw)
		a.Raw.Valid = true
	}
	return a
}

// FetchDue polls every due feed with bounded concurrency. A failing feed
// never cancels the others; per-feed errors aggregate into the returned
// multierror.
func (f *Fetcher) FetchDue(ctx context.Context, feeds []domain.Feed) ([]FetchResult, error) {
	now := f.clock.Now().UTC()
	due := make([]*domain.Feed, 0, len(feeds))
	for i := range feeds {
		if FeedDue(&feeds[i], now) {
			due = append(due, &feeds[i])
		}
	}

	results := make([]FetchResult, len(due))
	g := new(errgroup.Group)
	g.SetLimit(f.concurrency)
	for i, feed := range due {
		g.Go(func() error {
			articles, err := f.FetchFeed(ctx, feed)
			results[i] = FetchResult{Feed: feed, NewArticles: articles, Err: err}
			// A broken feed must not cancel the rest of the cycle, so the
			// error is carried in the result instead of the group.
			return nil
		})
	}
	g.Wait()

	var merr *multierror.Error
	for _, res := range results {
		if res.Err != nil {
			merr = multierror.Append(merr, res.Err)
		}
	}
	return results, merr.ErrorOrNil()
}

// FeedDue reports whether a feed's poll interval has elapsed since its last
// poll. Feeds that have never been polled are always due.
func FeedDue(feed *domain.Feed, now time.Time) bool {
	if !feed.Enabled {
		return false
	}
	if !feed.LastPolled.Valid {
		return true
	}
	interval, err := repository.ParsePostgresInterval(feed.PollInterval)
	if err != nil || interval <= 0 {
		interval = 15 * time.Minute
	}
	return !feed.LastPolled.Time.Add(interval).After(now)
}
