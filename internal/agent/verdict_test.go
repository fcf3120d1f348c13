package agent

import (
	"testing"

	"github.com/sentinelwatch/sentinel/internal/triage"
)

func TestParseVerdict_PlainJSON(t *testing.T) {
	v, err := ParseVerdict(`{"decision":"AUTO_PUBLISH","severity":"HIGH","score":82,"confidence":0.9,"rationale":"actively exploited"}`)
	if err != nil {
		t.Fatalf("ParseVerdict returned error: %v", err)
	}
	if v.Decision != triage.DecisionAutoPublish || v.Severity != triage.SeverityHigh {
		t.Errorf("Unexpected verdict: %+v", v)
	}
	if v.Score != 82 || v.Confidence != 0.9 {
		t.Errorf("Unexpected numbers: %+v", v)
	}
}

func TestParseVerdict_FencedJSON(t *testing.T) {
	out := "Here is my assessment:\n```json\n{\"decision\":\"review\",\"severity\":\"medium\",\"confidence\":0.4}\n```\nLet me know."
	v, err := ParseVerdict(out)
	if err != nil {
		t.Fatalf("ParseVerdict returned error: %v", err)
	}
	if v.Decision != triage.DecisionReview {
		t.Errorf("Expected decision normalized to REVIEW, got %s", v.Decision)
	}
	if v.Severity != triage.SeverityMedium {
		t.Errorf("Expected severity normalized to MEDIUM, got %s", v.Severity)
	}
}

func TestParseVerdict_ProseWrapped(t *testing.T) {
	out := `I think this should be dropped. {"decision":"DROP","severity":"INFO","confidence":0.8,"rationale":"marketing content"} Hope that helps.`
	v, err := ParseVerdict(out)
	if err != nil {
		t.Fatalf("ParseVerdict returned error: %v", err)
	}
	if v.Decision != triage.DecisionDrop {
		t.Errorf("Expected DROP, got %s", v.Decision)
	}
}

func TestParseVerdict_DuplicateOf(t *testing.T) {
	v, err := ParseVerdict(`{"decision":"DROP","severity":"INFO","confidence":1,"duplicateOf":17}`)
	if err != nil {
		t.Fatalf("ParseVerdict returned error: %v", err)
	}
	if v.DuplicateOf != 17 {
		t.Errorf("Expected duplicateOf 17, got %d", v.DuplicateOf)
	}
}

func TestParseVerdict_Errors(t *testing.T) {
	if _, err := ParseVerdict("no json here"); err == nil {
		t.Error("Expected error for missing JSON")
	}
	if _, err := ParseVerdict(`{"decision":"MAYBE","severity":"HIGH","confidence":0.5}`); err == nil {
		t.Error("Expected error for unknown decision")
	}
	if _, err := ParseVerdict(`{"decision":"DROP","severity":"EXTREME","confidence":0.5}`); err == nil {
		t.Error("Expected error for unknown severity")
	}
	if _, err := ParseVerdict(`{"decision":"DROP","severity":"INFO","confidence":1.5}`); err == nil {
		t.Error("Expected error for out of range confidence")
	}
}

func TestParseVerdict_DefaultsSeverity(t *testing.T) {
	v, err := ParseVerdict(`{"decision":"DROP","confidence":0.7}`)
	if err != nil {
		t.Fatalf("ParseVerdict returned error: %v", err)
	}
	if v.Severity != triage.SeverityInfo {
		t.Errorf("Expected INFO default, got %s", v.Severity)
	}
}
