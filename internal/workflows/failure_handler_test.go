package workflows

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/sentinelwatch/sentinel/internal/domain"
	"github.com/sentinelwatch/sentinel/internal/notify"
	wfdomain "github.com/sentinelwatch/sentinel/pkg/sentinel/domain"
)

type MockDeadLetterStore struct {
	Saved   *domain.DeadLetter
	SaveErr error
}

func (m *MockDeadLetterStore) Save(d *domain.DeadLetter) (int64, error) {
	m.Saved = d
	if m.SaveErr != nil {
		return 0, m.SaveErr
	}
	return 99, nil
}

type MockFailedArticleStore struct {
	FailedID     int64
	FailedReason string
}

func (m *MockFailedArticleStore) MarkFailed(id int64, reason string) error {
	m.FailedID = id
	m.FailedReason = reason
	return nil
}

func failedWorkflow() *wfdomain.Workflow {
	return &wfdomain.Workflow{
		ID:           17,
		WorkflowType: ArticleTriageType,
		BusinessKey:  "ext-42",
		Status:       "FAILED",
	}
}

func TestDeadLetterHandler_WritesDeadLetterAndMarksArticle(t *testing.T) {
	letters := &MockDeadLetterStore{}
	articles := &MockFailedArticleStore{}
	notifier := &recordedNotifier{}
	h := NewDeadLetterHandler(letters, articles, notifier)

	h.OnWorkflowFailed(context.Background(), failedWorkflow(), StateAgentAssess, "model offline",
		map[string]string{VarArticleID: "42"})

	if letters.Saved == nil {
		t.Fatal("expected a dead letter to be written")
	}
	if letters.Saved.WorkflowID != 17 || letters.Saved.State != StateAgentAssess {
		t.Errorf("unexpected dead letter %+v", letters.Saved)
	}
	if !letters.Saved.Payload.Valid || !strings.Contains(letters.Saved.Payload.String, `"articleId":"42"`) {
		t.Errorf("expected state vars in payload, got %v", letters.Saved.Payload)
	}
	if articles.FailedID != 42 {
		t.Errorf("expected article 42 marked failed, got %d", articles.FailedID)
	}
	if !strings.Contains(articles.FailedReason, "model offline") {
		t.Errorf("expected the failure reason on the article, got %q", articles.FailedReason)
	}
	if len(notifier.Events) != 1 || notifier.Events[0].Type != notify.EventWorkflowDeadLetter {
		t.Fatalf("expected a dead letter event, got %v", notifier.Events)
	}
	if notifier.Events[0].ArticleID != 42 {
		t.Errorf("expected article id 42 on the event, got %d", notifier.Events[0].ArticleID)
	}
}

func TestDeadLetterHandler_NoArticleInStateVars(t *testing.T) {
	letters := &MockDeadLetterStore{}
	articles := &MockFailedArticleStore{}
	notifier := &recordedNotifier{}
	h := NewDeadLetterHandler(letters, articles, notifier)

	h.OnWorkflowFailed(context.Background(), failedWorkflow(), StateFetchFeeds, "db gone", map[string]string{})

	if articles.FailedID != 0 {
		t.Errorf("expected no article marked failed, got %d", articles.FailedID)
	}
	if len(notifier.Events) != 1 || notifier.Events[0].ArticleID != 0 {
		t.Errorf("expected an event without an article id, got %v", notifier.Events)
	}
}

func TestDeadLetterHandler_SaveErrorStillNotifies(t *testing.T) {
	letters := &MockDeadLetterStore{SaveErr: errors.New("insert failed")}
	articles := &MockFailedArticleStore{}
	notifier := &recordedNotifier{}
	h := NewDeadLetterHandler(letters, articles, notifier)

	h.OnWorkflowFailed(context.Background(), failedWorkflow(), StateParseContent, "boom",
		map[string]string{VarArticleID: "42"})

	if len(notifier.Events) != 1 {
		t.Fatalf("expected the notification despite the save failure, got %v", notifier.Events)
	}
	if articles.FailedID != 42 {
		t.Errorf("expected the article still marked failed, got %d", articles.FailedID)
	}
}
