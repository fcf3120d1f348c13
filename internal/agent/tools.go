package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/sentinelwatch/sentinel/internal/domain"
	"github.com/sentinelwatch/sentinel/internal/models"
	"github.com/sentinelwatch/sentinel/internal/repository"
	"github.com/sentinelwatch/sentinel/internal/triage"
)

// ArticleReader is the slice of the article repository the tools need.
type ArticleReader interface {
	FindByID(id int64) (*domain.Article, error)
	Search(req models.SearchArticleRequest) (*[]domain.Article, error)
	CountByStatus() ([]repository.ArticleStatusRow, error)
}

// FeedReader resolves feed metadata for rule environments.
type FeedReader interface {
	FindByID(id int64) (*domain.Feed, error)
}

// Toolbox builds the tool set shared by the triage and chat agents.
type Toolbox struct {
	articles ArticleReader
	feeds    FeedReader
	deduper  *triage.Deduper
	guards   *triage.Guardrails
}

func NewToolbox(articles ArticleReader, feeds FeedReader, deduper *triage.Deduper, guards *triage.Guardrails) *Toolbox {
	return &Toolbox{articles: articles, feeds: feeds, deduper: deduper, guards: guards}
}

// DedupCheck reports whether an article duplicates an earlier one.
func (tb *Toolbox) DedupCheck() Tool {
	return NewFunctionTool(
		"dedup_check",
		"Check whether an article duplicates an earlier article. Returns the canonical article id when it does.",
		func(ctx context.Context, params map[string]any) (any, error) {
			id, err := int64Param(params, "articleId")
			if err != nil {
				return nil, err
			}
			article, err := tb.articles.FindByID(id)
			if err != nil {
				return nil, fmt.Errorf("load article %d: %w", id, err)
			}
			dup, err := tb.deduper.FindDuplicate(ctx, article)
			if err != nil {
				return nil, err
			}
			if dup == nil {
				return map[string]any{"duplicate": false}, nil
			}
			return map[string]any{
				"duplicate":      true,
				"duplicateOf":    dup.ID,
				"duplicateTitle": dup.Title,
			}, nil
		},
	).WithSchema(articleIDSchema("The id of the article to check"))
}

// GuardrailCheck runs the content policy gate against an article.
func (tb *Toolbox) GuardrailCheck() Tool {
	return NewFunctionTool(
		"guardrail_check",
		"Run the content policy guardrails against an article. Returns the action (deny or review) when a rule intervenes.",
		func(ctx context.Context, params map[string]any) (any, error) {
			id, err := int64Param(params, "articleId")
			if err != nil {
				return nil, err
			}
			article, err := tb.articles.FindByID(id)
			if err != nil {
				return nil, fmt.Errorf("load article %d: %w", id, err)
			}
			feed, _ := tb.feeds.FindByID(article.FeedID)
			res, err := tb.guards.Check(article, feed)
			if err != nil {
				return nil, err
			}
			return map[string]any{
				"intervened": res.Intervened,
				"action":     res.Action,
				"matched":    res.Matched,
			}, nil
		},
	).WithSchema(articleIDSchema("The id of the article to check"))
}

// SearchArticles finds articles by free text.
func (tb *Toolbox) SearchArticles() Tool {
	return NewFunctionTool(
		"search_articles",
		"Search stored articles by free text over title and summary. Returns id, title, status and severity per hit.",
		func(ctx context.Context, params map[string]any) (any, error) {
			query, _ := params["query"].(string)
			limit, err := int64Param(params, "limit")
			if err != nil || limit <= 0 {
				limit = 10
			}
			if limit > 25 {
				limit = 25
			}
			hits, err := tb.articles.Search(models.SearchArticleRequest{Text: query, Limit: limit})
			if err != nil {
				return nil, err
			}
			rows := make([]map[string]any, 0, len(*hits))
			for _, a := range *hits {
				rows = append(rows, map[string]any{
					"id":       a.ID,
					"title":    a.Title,
					"status":   a.Status,
					"severity": a.Severity.String,
					"score":    a.Score.Int64,
				})
			}
			return map[string]any{"results": len(rows), "articles": rows}, nil
		},
	).WithSchema(map[string]any{
		"type": "object",
		"properties": map[string]any{
			"query": map[string]any{"type": "string", "description": "Free text to search for"},
			"limit": map[string]any{"type": "integer", "description": "Max results, default 10"},
		},
		"required": []string{"query"},
	})
}

// GetArticle loads one article.
func (tb *Toolbox) GetArticle() Tool {
	return NewFunctionTool(
		"get_article",
		"Load one article by id, including its triage outcome.",
		func(ctx context.Context, params map[string]any) (any, error) {
			id, err := int64Param(params, "articleId")
			if err != nil {
				return nil, err
			}
			a, err := tb.articles.FindByID(id)
			if err != nil {
				return nil, fmt.Errorf("load article %d: %w", id, err)
			}
			return map[string]any{
				"id":       a.ID,
				"title":    a.Title,
				"link":     a.Link,
				"summary":  truncate(a.Summary.String, 500),
				"status":   a.Status,
				"severity": a.Severity.String,
				"score":    a.Score.Int64,
				"decision": a.Decision.String,
				"cves":     a.CveList(),
			}, nil
		},
	).WithSchema(articleIDSchema("The id of the article to load"))
}

// TriageStats reports article counts per status.
func (tb *Toolbox) TriageStats() Tool {
	return NewFunctionTool(
		"triage_stats",
		"Count stored articles per triage status.",
		func(ctx context.Context, params map[string]any) (any, error) {
			rows, err := tb.articles.CountByStatus()
			if err != nil {
				return nil, err
			}
			counts := map[string]int{}
			for _, row := range rows {
				counts[row.Status] = row.Count
			}
			return counts, nil
		},
	)
}

func articleIDSchema(description string) map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"articleId": map[string]any{"type": "integer", "description": description},
		},
		"required": []string{"articleId"},
	}
}

func int64Param(params map[string]any, key string) (int64, error) {
	v, ok := params[key]
	if !ok {
		return 0, fmt.Errorf("missing parameter %q", key)
	}
	switch n := v.(type) {
	case float64:
		return int64(n), nil
	case int:
		return int64(n), nil
	case int64:
		return n, nil
	case json.Number:
		return n.Int64()
	case string:
		return strconv.ParseInt(n, 10, 64)
	}
	return 0, fmt.Errorf("parameter %q is not a number", key)
}

func truncate(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max]) + "..."
}
