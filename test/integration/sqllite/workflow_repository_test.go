package sqllite

import (
	"database/sql"
	"testing"
	"time"

	"github.com/sentinelwatch/sentinel/internal/repository"
	"github.com/sentinelwatch/sentinel/pkg/sentinel/domain"
	"github.com/sentinelwatch/sentinel/pkg/sentinel/models"
)

// newTestWorkflow builds a saveable workflow. Save does not default the
// timestamps, so they are set here. Truncating to milliseconds matches the
// precision the repository stores, which keeps round trip comparisons exact.
func newTestWorkflow(externalID string, businessKey string) *domain.Workflow {
	now := time.Now().UTC().Truncate(time.Millisecond)
	return &domain.Workflow{
		Status:         "NEW",
		ExecutionCount: 0,
		RetryCount:     0,
		Created:        now,
		Modified:       now,
		NextActivation: sql.NullTime{Time: now, Valid: true},
		ExecutorGroup:  "default",
		WorkflowType:   "QuickWorkflow",
		ExternalID:     externalID,
		BusinessKey:    businessKey,
		State:          "Init",
		StateVars:      sql.NullString{String: "{}", Valid: true},
	}
}

func TestWorkflowRepository(t *testing.T) {
	db := openTestDatabase(t)
	wfRepo := repository.NewWorkflowRepository(db, nil)

	t.Run("SaveAndFindByID", func(t *testing.T) {
		wf := newTestWorkflow("wf-save-1", "bk-1")
		id, err := wfRepo.Save(wf)
		if err != nil {
			t.Fatalf("Failed to save workflow: %v", err)
		}
		if id == 0 {
			t.Fatal("Expected a non zero workflow id")
		}

		found, err := wfRepo.FindByID(id)
		if err != nil {
			t.Fatalf("Failed to find workflow: %v", err)
		}
		if found.ExternalID != "wf-save-1" {
			t.Errorf("Expected external id wf-save-1, got %s", found.ExternalID)
		}
		if found.BusinessKey != "bk-1" {
			t.Errorf("Expected business key bk-1, got %s", found.BusinessKey)
		}
		if found.Status != "NEW" {
			t.Errorf("Expected status NEW, got %s", found.Status)
		}
		if found.State != "Init" {
			t.Errorf("Expected state Init, got %s", found.State)
		}
		if !found.Created.Equal(wf.Created) {
			t.Errorf("Expected created %v to round trip, got %v", wf.Created, found.Created)
		}
		if !found.StateVars.Valid || found.StateVars.String != "{}" {
			t.Errorf("Expected state vars {}, got %v", found.StateVars)
		}
		if found.ExecutorID.Valid {
			t.Errorf("Expected executor id to be NULL, got %v", found.ExecutorID)
		}
	})

	t.Run("FindByExternalId", func(t *testing.T) {
		wf := newTestWorkflow("wf-ext-1", "bk-ext")
		if _, err := wfRepo.Save(wf); err != nil {
			t.Fatalf("Failed to save workflow: %v", err)
		}

		found, err := wfRepo.FindByExternalId("wf-ext-1")
		if err != nil {
			t.Fatalf("Failed to find workflow by external id: %v", err)
		}
		if found == nil {
			t.Fatal("Expected a workflow for wf-ext-1")
		}
		if found.BusinessKey != "bk-ext" {
			t.Errorf("Expected business key bk-ext, got %s", found.BusinessKey)
		}

		// A miss is not an error, callers use nil to mean not found
		missing, err := wfRepo.FindByExternalId("no-such-external-id")
		if err != nil {
			t.Fatalf("Expected no error for a miss, got %v", err)
		}
		if missing != nil {
			t.Errorf("Expected nil workflow for a miss, got %+v", missing)
		}
	})

	t.Run("FindPendingAndScheduleLock", func(t *testing.T) {
		wf := newTestWorkflow("wf-pending-1", "bk-pending")
		wf.NextActivation = sql.NullTime{Time: time.Now().UTC().Add(-time.Minute), Valid: true}
		id, err := wfRepo.Save(wf)
		if err != nil {
			t.Fatalf("Failed to save workflow: %v", err)
		}

		pending, err := wfRepo.FindPendingWorkflows(100, "default")
		if err != nil {
			t.Fatalf("Failed to find pending workflows: %v", err)
		}
		var match *domain.Workflow
		for i := range *pending {
			if (*pending)[i].ID == id {
				match = &(*pending)[i]
			}
		}
		if match == nil {
			t.Fatalf("Expected workflow %d in the pending set", id)
		}

		// First claim wins, the stale second claim loses the optimistic lock
		if !wfRepo.MarkWorkflowAsScheduledForExecution(id, 7, match.Modified) {
			t.Fatal("Expected first schedule claim to succeed")
		}
		if wfRepo.MarkWorkflowAsScheduledForExecution(id, 8, match.Modified) {
			t.Error("Expected second schedule claim to fail")
		}

		found, err := wfRepo.FindByID(id)
		if err != nil {
			t.Fatalf("Failed to find workflow: %v", err)
		}
		if found.Status != "SCHEDULED" {
			t.Errorf("Expected status SCHEDULED, got %s", found.Status)
		}
		if !found.ExecutorID.Valid {
			t.Error("Expected executor id to be set after scheduling")
		}

		// A scheduled workflow must not show up as pending again
		pending, err = wfRepo.FindPendingWorkflows(100, "default")
		if err != nil {
			t.Fatalf("Failed to find pending workflows: %v", err)
		}
		for _, p := range *pending {
			if p.ID == id {
				t.Errorf("Workflow %d is scheduled but still pending", id)
			}
		}
	})

	t.Run("RetryCounterAndStateReset", func(t *testing.T) {
		wf := newTestWorkflow("wf-retry-1", "bk-retry")
		id, err := wfRepo.Save(wf)
		if err != nil {
			t.Fatalf("Failed to save workflow: %v", err)
		}

		activation := time.Now().UTC().Add(30 * time.Second)
		if err := wfRepo.IncrementRetryCounterAndSetNextActivation(id, activation); err != nil {
			t.Fatalf("Failed to increment retry counter: %v", err)
		}

		found, err := wfRepo.FindByID(id)
		if err != nil {
			t.Fatalf("Failed to find workflow: %v", err)
		}
		if found.RetryCount != 1 {
			t.Errorf("Expected retry count 1, got %d", found.RetryCount)
		}
		if found.Status != "IN_PROGRESS" {
			t.Errorf("Expected status IN_PROGRESS, got %s", found.Status)
		}

		// A successful transition clears the retry counter
		if err := wfRepo.UpdateState(id, "StateRecordResult"); err != nil {
			t.Fatalf("Failed to update state: %v", err)
		}
		found, err = wfRepo.FindByID(id)
		if err != nil {
			t.Fatalf("Failed to find workflow: %v", err)
		}
		if found.State != "StateRecordResult" {
			t.Errorf("Expected state StateRecordResult, got %s", found.State)
		}
		if found.RetryCount != 0 {
			t.Errorf("Expected retry count reset to 0, got %d", found.RetryCount)
		}
	})

	t.Run("UpdateNextActivationOffset", func(t *testing.T) {
		wf := newTestWorkflow("wf-offset-1", "bk-offset")
		id, err := wfRepo.Save(wf)
		if err != nil {
			t.Fatalf("Failed to save workflow: %v", err)
		}

		if err := wfRepo.UpdateNextActivationOffset(id, "90 seconds"); err != nil {
			t.Fatalf("Failed to update next activation offset: %v", err)
		}

		found, err := wfRepo.FindByID(id)
		if err != nil {
			t.Fatalf("Failed to find workflow: %v", err)
		}
		if found.Status != "IN_PROGRESS" {
			t.Errorf("Expected status IN_PROGRESS, got %s", found.Status)
		}
		if !found.NextActivation.Valid {
			t.Fatal("Expected next activation to be set")
		}
		diff := found.NextActivation.Time.Sub(time.Now().UTC().Add(90 * time.Second))
		if diff < -2*time.Second || diff > 2*time.Second {
			t.Errorf("Expected next activation about 90s out, got diff %v", diff)
		}
	})

	t.Run("SearchWorkflows", func(t *testing.T) {
		wf := newTestWorkflow("wf-search-1", "bk-search")
		wf.WorkflowType = "SearchFixture"
		if _, err := wfRepo.Save(wf); err != nil {
			t.Fatalf("Failed to save workflow: %v", err)
		}

		results, err := wfRepo.SearchWorkflows(models.SearchWorkflowRequest{
			WorkflowType: "SearchFixture",
			Status:       "NEW",
			Limit:        10,
		})
		if err != nil {
			t.Fatalf("Failed to search workflows: %v", err)
		}
		if len(*results) != 1 {
			t.Fatalf("Expected 1 search result, got %d", len(*results))
		}
		if (*results)[0].ExternalID != "wf-search-1" {
			t.Errorf("Expected external id wf-search-1, got %s", (*results)[0].ExternalID)
		}

		// The identity filters are OR-ed together
		results, err = wfRepo.SearchWorkflows(models.SearchWorkflowRequest{
			ExternalID:  "wf-search-1",
			BusinessKey: "no-such-key",
			Limit:       10,
		})
		if err != nil {
			t.Fatalf("Failed to search workflows: %v", err)
		}
		if len(*results) != 1 {
			t.Errorf("Expected 1 search result for OR identity match, got %d", len(*results))
		}
	})
}

func TestParentChildWorkflowRepository(t *testing.T) {
	db := openTestDatabase(t)
	wfRepo := repository.NewWorkflowRepository(db, nil)

	parent := newTestWorkflow("parent-1", "parent-bk")
	parent.Status = "IN_PROGRESS"
	parent.State = "ParentWaitForChildren"
	parent.NextActivation = sql.NullTime{Time: time.Now().UTC().Add(24 * time.Hour), Valid: true}
	parentID, err := wfRepo.Save(parent)
	if err != nil {
		t.Fatalf("Failed to save parent workflow: %v", err)
	}

	for _, key := range []string{"child-1", "child-2"} {
		child := newTestWorkflow("parent-1-"+key, key)
		child.WorkflowType = "ChildWorkflow"
		child.State = "ChildInit"
		child.ParentID = sql.NullInt64{Int64: parentID, Valid: true}
		if _, err := wfRepo.Save(child); err != nil {
			t.Fatalf("Failed to save child workflow: %v", err)
		}
	}

	t.Run("GetChildrenByParentID", func(t *testing.T) {
		children, err := wfRepo.GetChildrenByParentID(parentID)
		if err != nil {
			t.Fatalf("Failed to get child workflows: %v", err)
		}
		if len(*children) != 2 {
			t.Fatalf("Expected 2 child workflows, got %d", len(*children))
		}
		for _, child := range *children {
			if !child.ParentID.Valid || child.ParentID.Int64 != parentID {
				t.Errorf("Expected parent id %d, got %v", parentID, child.ParentID)
			}
		}
	})

	t.Run("WakeParentWorkflow", func(t *testing.T) {
		before, err := wfRepo.FindByID(parentID)
		if err != nil {
			t.Fatalf("Failed to find parent workflow: %v", err)
		}
		if !before.NextActivation.Time.After(time.Now().UTC().Add(time.Hour)) {
			t.Fatal("Expected parent next activation to start in the future")
		}

		if err := wfRepo.WakeParentWorkflow(parentID); err != nil {
			t.Fatalf("Failed to wake parent workflow: %v", err)
		}

		after, err := wfRepo.FindByID(parentID)
		if err != nil {
			t.Fatalf("Failed to find parent workflow after wake: %v", err)
		}
		diff := after.NextActivation.Time.Sub(time.Now().UTC())
		if diff < -2*time.Second || diff > 2*time.Second {
			t.Errorf("Expected next activation close to now, got diff %v", diff)
		}
	})

	t.Run("WakeSkipsClaimedParent", func(t *testing.T) {
		claimed := newTestWorkflow("parent-claimed", "parent-claimed-bk")
		claimed.Status = "IN_PROGRESS"
		future := time.Now().UTC().Add(24 * time.Hour).Truncate(time.Millisecond)
		claimed.NextActivation = sql.NullTime{Time: future, Valid: true}
		claimedID, err := wfRepo.Save(claimed)
		if err != nil {
			t.Fatalf("Failed to save workflow: %v", err)
		}
		row, err := wfRepo.FindByID(claimedID)
		if err != nil {
			t.Fatalf("Failed to find workflow: %v", err)
		}
		if !wfRepo.MarkWorkflowAsScheduledForExecution(claimedID, 9, row.Modified) {
			t.Fatal("Expected schedule claim to succeed")
		}

		// The wake must not touch a workflow while an executor holds it
		if err := wfRepo.WakeParentWorkflow(claimedID); err != nil {
			t.Fatalf("Failed to run wake: %v", err)
		}
		after, err := wfRepo.FindByID(claimedID)
		if err != nil {
			t.Fatalf("Failed to find workflow: %v", err)
		}
		if !after.NextActivation.Time.Equal(future) {
			t.Errorf("Expected next activation unchanged at %v, got %v", future, after.NextActivation.Time)
		}
	})
}

func TestDeleteFinishedBefore(t *testing.T) {
	db := openTestDatabase(t)
	wfRepo := repository.NewWorkflowRepository(db, nil)
	actionRepo := repository.NewWorkflowActionRepository(db)

	old := time.Now().UTC().Add(-48 * time.Hour).Truncate(time.Millisecond)

	oldFinished := newTestWorkflow("retention-finished", "bk-1")
	oldFinished.Status = "FINISHED"
	oldFinished.Modified = old
	oldFinishedID, err := wfRepo.Save(oldFinished)
	if err != nil {
		t.Fatalf("Failed to save workflow: %v", err)
	}
	if _, err := actionRepo.Save(&domain.WorkflowAction{
		WorkflowID: oldFinishedID,
		Type:       "END",
		Name:       "Finish",
		Text:       "done",
		DateTime:   old,
	}); err != nil {
		t.Fatalf("Failed to save workflow action: %v", err)
	}

	oldFailed := newTestWorkflow("retention-failed", "bk-2")
	oldFailed.Status = "FAILED"
	oldFailed.Modified = old
	if _, err := wfRepo.Save(oldFailed); err != nil {
		t.Fatalf("Failed to save workflow: %v", err)
	}

	recentFinished := newTestWorkflow("retention-recent", "bk-3")
	recentFinished.Status = "FINISHED"
	recentID, err := wfRepo.Save(recentFinished)
	if err != nil {
		t.Fatalf("Failed to save workflow: %v", err)
	}

	oldRunning := newTestWorkflow("retention-running", "bk-4")
	oldRunning.Status = "IN_PROGRESS"
	oldRunning.Modified = old
	runningID, err := wfRepo.Save(oldRunning)
	if err != nil {
		t.Fatalf("Failed to save workflow: %v", err)
	}

	cutoff := time.Now().UTC().Add(-24 * time.Hour)
	deleted, err := wfRepo.DeleteFinishedBefore(cutoff, 100)
	if err != nil {
		t.Fatalf("Failed to delete finished workflows: %v", err)
	}
	if deleted != 2 {
		t.Errorf("Expected 2 deleted workflows, got %d", deleted)
	}

	if _, err := wfRepo.FindByID(oldFinishedID); err == nil {
		t.Error("Expected the old finished workflow to be gone")
	}
	if _, err := wfRepo.FindByID(recentID); err != nil {
		t.Errorf("Expected the recent finished workflow to survive: %v", err)
	}
	if _, err := wfRepo.FindByID(runningID); err != nil {
		t.Errorf("Expected the old running workflow to survive: %v", err)
	}

	actions, err := actionRepo.FindAllByWorkflowID(oldFinishedID)
	if err != nil {
		t.Fatalf("Failed to list workflow actions: %v", err)
	}
	if len(*actions) != 0 {
		t.Errorf("Expected action history to be deleted, got %d rows", len(*actions))
	}
}
