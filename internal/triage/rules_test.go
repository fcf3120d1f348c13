package triage

import (
	"database/sql"
	"testing"

	"github.com/sentinelwatch/sentinel/internal/config"
	"github.com/sentinelwatch/sentinel/internal/domain"
)

func testArticle() *domain.Article {
	return &domain.Article{
		ID:    1,
		Title: "Ransomware gang exploits CVE-2024-12345",
		Summary: sql.NullString{
			String: "Active exploitation of a critical flaw in WidgetServer.",
			Valid:  true,
		},
		Content: sql.NullString{
			String: "Attackers are deploying ransomware after exploiting CVE-2024-12345.",
			Valid:  true,
		},
		Link:   "https://example.com/advisory",
		CveIDs: sql.NullString{String: "CVE-2024-12345", Valid: true},
	}
}

func testRulesConfig(rules ...config.RelevanceRule) config.RulesConfig {
	return config.RulesConfig{
		Relevance:  rules,
		Thresholds: config.Thresholds{AutoPublish: 70, Review: 30},
	}
}

func TestNewRuleSet_EmptyRulesError(t *testing.T) {
	_, err := NewRuleSet(config.RulesConfig{})
	if err == nil {
		t.Error("Expected error for empty rule set")
	}
}

func TestNewRuleSet_CompileError(t *testing.T) {
	_, err := NewRuleSet(testRulesConfig(
		config.RelevanceRule{Name: "broken", When: "((", Weight: 10},
	))
	if err == nil {
		t.Error("Expected compile error")
	}
}

func TestEvaluate_SumsWeightsAndAutoPublishes(t *testing.T) {
	rs, err := NewRuleSet(testRulesConfig(
		config.RelevanceRule{Name: "ransomware", When: `containsAny("ransomware")`, Weight: 40},
		config.RelevanceRule{Name: "has-cve", When: `len(cves) > 0`, Weight: 40},
		config.RelevanceRule{Name: "never", When: `containsAny("quantum-teapot")`, Weight: 100},
	))
	if err != nil {
		t.Fatalf("NewRuleSet returned error: %v", err)
	}

	v, err := rs.Evaluate(testArticle(), nil)
	if err != nil {
		t.Fatalf("Evaluate returned error: %v", err)
	}
	if v.Score != 80 {
		t.Errorf("Expected score 80, got %d", v.Score)
	}
	if v.Decision != DecisionAutoPublish {
		t.Errorf("Expected AUTO_PUBLISH, got %s", v.Decision)
	}
	if len(v.Matched) != 2 {
		t.Errorf("Expected 2 matched rules, got %v", v.Matched)
	}
}

func TestEvaluate_ThresholdMapping(t *testing.T) {
	rs, err := NewRuleSet(testRulesConfig(
		config.RelevanceRule{Name: "ransomware", When: `containsAny("ransomware")`, Weight: 35},
	))
	if err != nil {
		t.Fatalf("NewRuleSet returned error: %v", err)
	}

	v, err := rs.Evaluate(testArticle(), nil)
	if err != nil {
		t.Fatalf("Evaluate returned error: %v", err)
	}
	if v.Decision != DecisionReview {
		t.Errorf("Expected REVIEW at score 35, got %s", v.Decision)
	}

	quiet := &domain.Article{ID: 2, Title: "Weekly newsletter"}
	v, err = rs.Evaluate(quiet, nil)
	if err != nil {
		t.Fatalf("Evaluate returned error: %v", err)
	}
	if v.Decision != DecisionDrop {
		t.Errorf("Expected DROP at score 0, got %s", v.Decision)
	}
	if v.Rationale != "no rules matched" {
		t.Errorf("Unexpected rationale: %q", v.Rationale)
	}
}

func TestEvaluate_SeverityIsMaxOfMatched(t *testing.T) {
	rs, err := NewRuleSet(testRulesConfig(
		config.RelevanceRule{Name: "ransomware", When: `containsAny("ransomware")`, Weight: 10, Severity: SeverityMedium},
		config.RelevanceRule{Name: "exploited", When: `containsAny("exploit")`, Weight: 10, Severity: SeverityCritical},
	))
	if err != nil {
		t.Fatalf("NewRuleSet returned error: %v", err)
	}

	v, err := rs.Evaluate(testArticle(), nil)
	if err != nil {
		t.Fatalf("Evaluate returned error: %v", err)
	}
	if v.Severity != SeverityCritical {
		t.Errorf("Expected CRITICAL, got %s", v.Severity)
	}
}

func TestEvaluate_SeverityFallback(t *testing.T) {
	rs, err := NewRuleSet(testRulesConfig(
		config.RelevanceRule{Name: "anything", When: `true`, Weight: 10},
	))
	if err != nil {
		t.Fatalf("NewRuleSet returned error: %v", err)
	}

	// CVE present, no rule severity
	v, err := rs.Evaluate(testArticle(), nil)
	if err != nil {
		t.Fatalf("Evaluate returned error: %v", err)
	}
	if v.Severity != SeverityMedium {
		t.Errorf("Expected MEDIUM fallback with CVEs, got %s", v.Severity)
	}

	// No CVEs at all
	v, err = rs.Evaluate(&domain.Article{ID: 3, Title: "Conference recap"}, nil)
	if err != nil {
		t.Fatalf("Evaluate returned error: %v", err)
	}
	if v.Severity != SeverityInfo {
		t.Errorf("Expected INFO fallback, got %s", v.Severity)
	}
}

func TestEvaluate_MatchesOperatorAndFeedEnv(t *testing.T) {
	rs, err := NewRuleSet(testRulesConfig(
		config.RelevanceRule{Name: "regex", When: `text matches "widget.?server"`, Weight: 20},
		config.RelevanceRule{Name: "trusted-feed", When: `feed == "CISA"`, Weight: 20},
		config.RelevanceRule{Name: "ics-tagged", When: `"ics" in tags`, Weight: 20},
	))
	if err != nil {
		t.Fatalf("NewRuleSet returned error: %v", err)
	}

	feed := &domain.Feed{
		Name: "CISA",
		Tags: sql.NullString{String: "ics, advisory", Valid: true},
	}
	v, err := rs.Evaluate(testArticle(), feed)
	if err != nil {
		t.Fatalf("Evaluate returned error: %v", err)
	}
	if v.Score != 60 {
		t.Errorf("Expected score 60, got %d (matched %v)", v.Score, v.Matched)
	}
}

func TestSeverityAtLeast(t *testing.T) {
	if !SeverityAtLeast(SeverityCritical, SeverityHigh) {
		t.Error("CRITICAL should be at least HIGH")
	}
	if !SeverityAtLeast(SeverityHigh, SeverityHigh) {
		t.Error("HIGH should be at least HIGH")
	}
	if SeverityAtLeast(SeverityLow, SeverityHigh) {
		t.Error("LOW should not be at least HIGH")
	}
	if SeverityAtLeast("", SeverityInfo) {
		t.Error("Unknown severity should rank below INFO")
	}
}
