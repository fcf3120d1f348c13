package workflows

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/sentinelwatch/sentinel/internal/domain"
	"github.com/sentinelwatch/sentinel/internal/notify"
	wfdomain "github.com/sentinelwatch/sentinel/pkg/sentinel/domain"
)

// DeadLetterStore records exhausted workflows. *repository.DeadLetterRepository
// satisfies it.
type DeadLetterStore interface {
	Save(d *domain.DeadLetter) (int64, error)
}

// FailedArticleStore marks the article a dead workflow was triaging.
// *repository.ArticleRepository satisfies it.
type FailedArticleStore interface {
	MarkFailed(id int64, reason string) error
}

// DeadLetterHandler is the engine failure hook. When a workflow exhausts its
// retries it writes a dead letter carrying the state variables so the run can
// be redriven later, marks the triaged article FAILED when there is one, and
// notifies operators.
type DeadLetterHandler struct {
	deadLetters DeadLetterStore
	articles    FailedArticleStore
	notifier    notify.Notifier
}

func NewDeadLetterHandler(deadLetters DeadLetterStore, articles FailedArticleStore, notifier notify.Notifier) *DeadLetterHandler {
	return &DeadLetterHandler{
		deadLetters: deadLetters,
		articles:    articles,
		notifier:    notifier,
	}
}

func (h *DeadLetterHandler) OnWorkflowFailed(ctx context.Context, wf *wfdomain.Workflow, state string, reason string, stateVars map[string]string) {
	payload := "{}"
	if b, err := json.Marshal(stateVars); err == nil {
		payload = string(b)
	}

	dl := &domain.DeadLetter{
		WorkflowID:   wf.ID,
		WorkflowType: wf.WorkflowType,
		BusinessKey:  wf.BusinessKey,
		State:        state,
		Reason:       reason,
		Payload:      sql.NullString{String: payload, Valid: true},
	}
	id, err := h.deadLetters.Save(dl)
	if err != nil {
		slog.ErrorContext(ctx, "Failed to write dead letter", "workflow_id", wf.ID, "error", err)
	} else {
		slog.WarnContext(ctx, "Workflow dead lettered", "workflow_id", wf.ID, "dead_letter_id", id,
			"type", wf.WorkflowType, "state", state, "reason", reason)
	}

	articleID := h.markArticleFailed(ctx, stateVars, state, reason)

	if h.notifier != nil {
		event := notify.Event{
			Type:      notify.EventWorkflowDeadLetter,
			Title:     fmt.Sprintf("Workflow %d (%s) dead lettered", wf.ID, wf.WorkflowType),
			Message:   fmt.Sprintf("failed in %s: %s", state, reason),
			ArticleID: articleID,
		}
		if err := h.notifier.Notify(ctx, event); err != nil {
			slog.WarnContext(ctx, "Dead letter notification failed", "workflow_id", wf.ID, "error", err)
		}
	}
}

// markArticleFailed flags the article of a dead triage run so it stops
// showing as TRIAGING or IN_REVIEW. Returns the article id, or zero when the
// workflow carried none.
func (h *DeadLetterHandler) markArticleFailed(ctx context.Context, stateVars map[string]string, state string, reason string) int64 {
	raw, ok := stateVars[VarArticleID]
	if !ok || raw == "" {
		return 0
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		slog.WarnContext(ctx, "Dead letter state vars carry a malformed article id", "value", raw)
		return 0
	}
	if err := h.articles.MarkFailed(id, fmt.Sprintf("triage failed in %s: %s", state, reason)); err != nil {
		slog.ErrorContext(ctx, "Failed to mark article failed", "article_id", id, "error", err)
	}
	return id
}
