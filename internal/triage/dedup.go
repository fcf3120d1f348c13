package triage

import (
	"context"
	"log/slog"
	"time"

	"github.com/sentinelwatch/sentinel/internal/domain"
	"github.com/sentinelwatch/sentinel/pkg/sentinel/core"
)

// ArticleFinder is the slice of the article repository the deduper needs.
type ArticleFinder interface {
	FindRecentByContentHash(hash string, since time.Time, excludeID int64) (*[]domain.Article, error)
	FindRecentByTitleNorm(titleNorm string, since time.Time, excludeID int64) (*[]domain.Article, error)
}

// Deduper finds earlier copies of an article within the lookback window.
type Deduper struct {
	articles ArticleFinder
	window   time.Duration
	clock    core.Clock
}

func NewDeduper(articles ArticleFinder, window time.Duration, clock core.Clock) *Deduper {
	if clock == nil {
		clock = core.NewRealClock()
	}
	return &Deduper{articles: articles, window: window, clock: clock}
}

// FindDuplicate returns the earliest matching article within the window, or
// nil when the article is unique. Exact content hash matches are checked
// before normalized title matches, and the article itself is excluded.
func (d *Deduper) FindDuplicate(ctx context.Context, a *domain.Article) (*domain.Article, error) {
	since := d.clock.Now().UTC().Add(-d.window)

	if a.ContentHash.Valid && a.ContentHash.String != "" {
		hits, err := d.articles.FindRecentByContentHash(a.ContentHash.String, since, a.ID)
		if err != nil {
			return nil, err
		}
		if hits != nil && len(*hits) > 0 {
			dup := (*hits)[0]
			slog.DebugContext(ctx, "Duplicate by content hash",
				"article_id", a.ID, "duplicate_of", dup.ID)
			return &dup, nil
		}
	}

	if a.TitleNorm != "" {
		hits, err := d.articles.FindRecentByTitleNorm(a.TitleNorm, since, a.ID)
		if err != nil {
			return nil, err
		}
		if hits != nil && len(*hits) > 0 {
			dup := (*hits)[0]
			slog.DebugContext(ctx, "Duplicate by normalized title",
				"article_id", a.ID, "duplicate_of", dup.ID)
			return &dup, nil
		}
	}

	return nil, nil
}
