package agent

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/sentinelwatch/sentinel/internal/triage"
)

// Verdict is the structured assessment the triage agent must produce.
type Verdict struct {
	Decision    string  `json:"decision"`
	Severity    string  `json:"severity"`
	Score       int     `json:"score"`
	Confidence  float64 `json:"confidence"`
	DuplicateOf int64   `json:"duplicateOf,omitempty"`
	Rationale   string  `json:"rationale"`
}

var fencedJSON = regexp.MustCompile("(?s)```(?:json)?\\s*(\\{.*?\\})\\s*```")

// ParseVerdict extracts the verdict object from a model answer. Models wrap
// JSON in code fences or surround it with prose often enough that both are
// tolerated.
func ParseVerdict(output string) (*Verdict, error) {
	text := extractJSON(output)
	if text == "" {
		return nil, errors.New("no JSON object in model output")
	}

	var v Verdict
	if err := json.Unmarshal([]byte(text), &v); err != nil {
		return nil, fmt.Errorf("parse verdict: %w", err)
	}

	v.Decision = strings.ToUpper(strings.TrimSpace(v.Decision))
	switch v.Decision {
	case triage.DecisionAutoPublish, triage.DecisionReview, triage.DecisionDrop:
	default:
		return nil, fmt.Errorf("verdict has unknown decision %q", v.Decision)
	}

	v.Severity = strings.ToUpper(strings.TrimSpace(v.Severity))
	switch v.Severity {
	case triage.SeverityCritical, triage.SeverityHigh, triage.SeverityMedium, triage.SeverityLow, triage.SeverityInfo:
	case "":
		v.Severity = triage.SeverityInfo
	default:
		return nil, fmt.Errorf("verdict has unknown severity %q", v.Severity)
	}

	if v.Confidence < 0 || v.Confidence > 1 {
		return nil, fmt.Errorf("verdict confidence %v out of range", v.Confidence)
	}
	return &v, nil
}

func extractJSON(s string) string {
	if m := fencedJSON.FindStringSubmatch(s); m != nil {
		return m[1]
	}
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start < 0 || end <= start {
		return ""
	}
	return s[start : end+1]
}
