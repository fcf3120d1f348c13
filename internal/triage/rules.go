package triage

import (
	"errors"
	"fmt"
	"strings"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"github.com/sentinelwatch/sentinel/internal/config"
	"github.com/sentinelwatch/sentinel/internal/domain"
)

// Triage decisions.
const (
	DecisionAutoPublish = "AUTO_PUBLISH"
	DecisionReview      = "REVIEW"
	DecisionDrop        = "DROP"
)

// Severity levels, highest first.
const (
	SeverityCritical = "CRITICAL"
	SeverityHigh     = "HIGH"
	SeverityMedium   = "MEDIUM"
	SeverityLow      = "LOW"
	SeverityInfo     = "INFO"
)

var severityRank = map[string]int{
	SeverityCritical: 5,
	SeverityHigh:     4,
	SeverityMedium:   3,
	SeverityLow:      2,
	SeverityInfo:     1,
}

// SeverityAtLeast reports whether severity is at or above min. Unknown
// severities rank below INFO.
func SeverityAtLeast(severity, min string) bool {
	return severityRank[severity] >= severityRank[min]
}

// Verdict is the outcome of rule evaluation for one article.
type Verdict struct {
	Decision  string
	Severity  string
	Score     int
	Matched   []string
	Rationale string
}

type compiledRule struct {
	name     string
	weight   int
	severity string
	program  *vm.Program
}

// RuleSet holds the compiled relevance rules and decision thresholds.
type RuleSet struct {
	rules      []compiledRule
	thresholds config.Thresholds
}

// NewRuleSet compiles the configured relevance rules. A rule that fails to
// compile is a configuration error and callers should treat it as fatal, no
// compilation happens during evaluation.
func NewRuleSet(cfg config.RulesConfig) (*RuleSet, error) {
	if len(cfg.Relevance) == 0 {
		return nil, errors.New("no relevance rules configured")
	}
	rules := make([]compiledRule, 0, len(cfg.Relevance))
	for _, r := range cfg.Relevance {
		program, err := expr.Compile(r.When, expr.AsBool())
		if err != nil {
			return nil, fmt.Errorf("compile rule %q: %w", r.Name, err)
		}
		rules = append(rules, compiledRule{
			name:     r.Name,
			weight:   r.Weight,
			severity: r.Severity,
			program:  program,
		})
	}
	return &RuleSet{rules: rules, thresholds: cfg.Thresholds}, nil
}

// Environment builds the expr environment for an article. Rule expressions
// see title, summary, content, text (all three lowercased and concatenated),
// link, feed, tags, cves and the containsAny helper. The feed may be nil when
// the article's feed no longer exists.
func Environment(a *domain.Article, feed *domain.Feed) map[string]any {
	title := CollapseWhitespace(StripHTML(a.Title))
	summary := CollapseWhitespace(StripHTML(a.Summary.String))
	content := CollapseWhitespace(StripHTML(a.Content.String))
	text := strings.ToLower(CollapseWhitespace(title + " " + summary + " " + content))

	feedName := ""
	tags := []string{}
	if feed != nil {
		feedName = feed.Name
		if t := feed.TagList(); t != nil {
			tags = t
		}
	}
	cves := a.CveList()
	if cves == nil {
		cves = []string{}
	}

	return map[string]any{
		"title":   title,
		"summary": summary,
		"content": content,
		"text":    text,
		"link":    a.Link,
		"feed":    feedName,
		"tags":    tags,
		"cves":    cves,
		"containsAny": func(words ...string) bool {
			for _, w := range words {
				if strings.Contains(text, strings.ToLower(w)) {
					return true
				}
			}
			return false
		},
	}
}

// Evaluate runs every rule against the article and maps the summed weight of
// matching rules through the decision thresholds. Severity is the highest
// severity among matched rules, falling back to MEDIUM when CVE ids are
// present and INFO otherwise. Evaluation never writes anything.
func (rs *RuleSet) Evaluate(a *domain.Article, feed *domain.Feed) (Verdict, error) {
	env := Environment(a, feed)

	score := 0
	severity := ""
	var matched []string
	for _, rule := range rs.rules {
		out, err := expr.Run(rule.program, env)
		if err != nil {
			return Verdict{}, fmt.Errorf("rule %q: %w", rule.name, err)
		}
		if !out.(bool) { // safe due to expr.AsBool()
			continue
		}
		score += rule.weight
		matched = append(matched, rule.name)
		if severityRank[rule.severity] > severityRank[severity] {
			severity = rule.severity
		}
	}

	if severity == "" {
		if len(a.CveList()) > 0 {
			severity = SeverityMedium
		} else {
			severity = SeverityInfo
		}
	}

	decision := DecisionDrop
	switch {
	case score >= rs.thresholds.AutoPublish:
		decision = DecisionAutoPublish
	case score >= rs.thresholds.Review:
		decision = DecisionReview
	}

	rationale := "no rules matched"
	if len(matched) > 0 {
		rationale = fmt.Sprintf("score %d from %d rule(s): %s", score, len(matched), strings.Join(matched, ", "))
	}

	return Verdict{
		Decision:  decision,
		Severity:  severity,
		Score:     score,
		Matched:   matched,
		Rationale: rationale,
	}, nil
}
