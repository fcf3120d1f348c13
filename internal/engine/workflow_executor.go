package engine

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"reflect"
	"time"

	"github.com/sentinelwatch/sentinel/pkg/sentinel/core"
	"github.com/sentinelwatch/sentinel/pkg/sentinel/domain"
	"github.com/sentinelwatch/sentinel/pkg/sentinel/models"
)

// RunWorkflow drives a workflow from its current state until it parks, fails
// or reaches a terminal state. A panic inside a state method is recovered and
// marks the workflow FAILED instead of killing the worker.
func RunWorkflow(ctx context.Context, w core.Workflow, r WorkflowRepo, wa WorkflowActionRepo, fh FailureHandler, registry *map[string]func() core.Workflow, executorID int64, workerID string) {

	//the database determines where we are and start at
	currentState := w.GetWorkflowData().State

	defer func() {
		if rec := recover(); rec != nil {
			reason := fmt.Sprintf("panic in state %s: %v", currentState, rec)
			slog.ErrorContext(ctx, "Recovered panic while executing workflow", "workflow_id", w.GetWorkflowData().ID, "state", currentState, "panic", rec, "worker_id", workerID)
			_ = r.UpdateWorkflowStatus(w.GetWorkflowData().ID, "FAILED")
			_, _ = wa.Save(&domain.WorkflowAction{WorkflowID: w.GetWorkflowData().ID, ExecutorID: executorID, ExecutionCount: w.GetWorkflowData().ExecutionCount,
				Type: "FAILED", Name: currentState, Text: reason, DateTime: time.Now()})
			processWorkflowFailed(ctx, w, r, fh, currentState, reason)
		}
	}()

	slog.InfoContext(ctx, "Running workflow", "workflow_id", w.GetWorkflowData().ID, "worker_id", workerID)
	err := r.UpdateWorkflowStatus(w.GetWorkflowData().ID, "EXECUTING")
	_, _ = wa.Save(&domain.WorkflowAction{WorkflowID: w.GetWorkflowData().ID, ExecutorID: executorID, ExecutionCount: w.GetWorkflowData().ExecutionCount, Type: "EXECUTING", Name: "EXECUTING", Text: "EXECUTING", DateTime: time.Now()})

	if err != nil {
		slog.ErrorContext(ctx, "Error updating workflow status", "error", err, "worker_id", workerID)
		return
	}

	stateMap := w.StateTransitions()

	//if we are on the starting state then update the starting time
	if currentState == w.InitialState() {
		err := r.UpdateWorkflowStartingTime(w.GetWorkflowData().ID)
		_, _ = wa.Save(&domain.WorkflowAction{WorkflowID: w.GetWorkflowData().ID, ExecutorID: executorID, ExecutionCount: w.GetWorkflowData().ExecutionCount, Type: "STARTING", Name: "EXECUTING", Text: "Starting Workflow", DateTime: time.Now()})
		if err != nil {
			slog.ErrorContext(ctx, "Error updating workflow starting time", "error", err, "worker_id", workerID)
			return
		}
	}

	val := reflect.ValueOf(w)

	for {

		isEndState := false
		for _, state := range w.GetAllStates() {
			if state.Name == currentState && (state.StateType == models.StateEnd ||
				state.StateType == models.StateManual ||
				state.StateType == models.StateError) {
				isEndState = true
				break
			}
		}
		if isEndState {
			if processWorkflowCompleted(ctx, w, r, wa, executorID, workerID, currentState) {
				return
			}
			break
		}

		method := val.MethodByName(currentState)
		if !method.IsValid() {
			panic(fmt.Sprintf("method %s not found", currentState))
		}

		// Call the method and get the next state
		results := method.Call([]reflect.Value{reflect.ValueOf(ctx)})
		if len(results) != 2 {
			panic(fmt.Sprintf("method %s should return (*NextState, error)", currentState))
		}

		ns, ok := results[0].Interface().(*models.NextState)
		if !ok {
			panic(fmt.Sprintf("method %s did not return a *NextState as first value", currentState))
		}
		// Second return value = error
		var callErr error
		if !results[1].IsNil() {
			callErr = results[1].Interface().(error)
		}
		if callErr != nil {
			processStateExecutionError(ctx, w, r, wa, fh, executorID, workerID, currentState, callErr)
			return
		}

		nextState := ns.Name
		// Validate if the transition is allowed (one-to-many)
		allowedList, ok := stateMap[currentState]
		if !ok {
			_, _ = wa.Save(&domain.WorkflowAction{WorkflowID: w.GetWorkflowData().ID, ExecutorID: executorID, ExecutionCount: w.GetWorkflowData().RetryCount, Type: "ERROR", Name: "Invalid Transition", Text: "no transitions defined for current state", DateTime: time.Now()})
			panic(fmt.Sprintf("invalid state transition from %s to %s (no transitions)", currentState, nextState))
		}
		valid := false
		for _, t := range allowedList {
			if t == nextState {
				valid = true
				break
			}
		}
		if !valid {
			_, _ = wa.Save(&domain.WorkflowAction{WorkflowID: w.GetWorkflowData().ID, ExecutorID: executorID, ExecutionCount: w.GetWorkflowData().RetryCount, Type: "ERROR", Name: "Invalid Transition", Text: "transition is not allowed", DateTime: time.Now()})
			panic(fmt.Sprintf("invalid state transition from %s to %s", currentState, nextState))
		}

		slog.InfoContext(ctx, "Transitioning state", "from", currentState, "to", nextState, "worker_id", workerID)
		_, _ = wa.Save(&domain.WorkflowAction{WorkflowID: w.GetWorkflowData().ID, ExecutorID: executorID, ExecutionCount: w.GetWorkflowData().RetryCount, Type: "TRANSITION", Name: currentState, Text: "From " + currentState + " to " + nextState, DateTime: time.Now()})
		currentState = nextState

		slog.InfoContext(ctx, "Updating workflow state", "workflow_id", w.GetWorkflowData().ID, "state", currentState, "worker_id", workerID)
		//this also resets the retry count
		err := r.UpdateState(w.GetWorkflowData().ID, currentState)
		if err != nil {
			return
		}

		if compareAndSaveWorkflowStateVars(ctx, w, r, workerID) {
			return
		}

		if ns.ActionLog != "" {
			_, _ = wa.Save(&domain.WorkflowAction{WorkflowID: w.GetWorkflowData().ID, ExecutorID: executorID, ExecutionCount: w.GetWorkflowData().RetryCount, Type: "LOG", Name: currentState, Text: ns.ActionLog, DateTime: time.Now()})
		}

		// Spawn requested child workflows before any parking so a state that
		// both dispatches children and reschedules itself loses nothing.
		for _, childReq := range ns.ChildWorkflows {
			createChildWorkflow(ctx, w, r, wa, registry, childReq, currentState, executorID, workerID)
		}

		nextExecution := ns.NextExecution
		// if the next execution is a valid date and time then set it and break processing
		if !nextExecution.IsZero() {
			slog.InfoContext(ctx, "Setting next activation (specific)", "workflow_id", w.GetWorkflowData().ID, "next_activation", nextExecution, "worker_id", workerID)
			if err := r.UpdateNextActivationSpecific(w.GetWorkflowData().ID, nextExecution); err != nil {
				slog.ErrorContext(ctx, "Error updating next activation", "error", err, "worker_id", workerID)
				return
			}
			_, _ = wa.Save(&domain.WorkflowAction{WorkflowID: w.GetWorkflowData().ID, ExecutorID: executorID, ExecutionCount: w.GetWorkflowData().RetryCount, Type: "SCHEDULE_ACTIVATION", Name: currentState, Text: nextExecution.String(), DateTime: time.Now()})
			break
		}
		if ns.NextExecutionOffset != "" {
			slog.InfoContext(ctx, "Setting next activation (offset)", "workflow_id", w.GetWorkflowData().ID, "offset", ns.NextExecutionOffset, "worker_id", workerID)
			if err := r.UpdateNextActivationOffset(w.GetWorkflowData().ID, ns.NextExecutionOffset); err != nil {
				slog.ErrorContext(ctx, "Error updating next activation", "error", err, "worker_id", workerID)
				return
			}
			_, _ = wa.Save(&domain.WorkflowAction{WorkflowID: w.GetWorkflowData().ID, ExecutorID: executorID, ExecutionCount: w.GetWorkflowData().RetryCount, Type: "SCHEDULE_ACTIVATION", Name: currentState, Text: ns.NextExecutionOffset, DateTime: time.Now()})
			break
		}

	}

	_, _ = wa.Save(&domain.WorkflowAction{WorkflowID: w.GetWorkflowData().ID, ExecutorID: executorID, ExecutionCount: w.GetWorkflowData().RetryCount, Type: "FINISHED", Name: currentState, Text: "FINISHED", DateTime: time.Now()})
	//clear out the executor id for another to possibly pick up the workflow
	err = r.ClearExecutorId(w.GetWorkflowData().ID)
	if err != nil {
		slog.ErrorContext(ctx, "Error clearing executor id", "error", err, "worker_id", workerID)
		return
	}
	slog.InfoContext(ctx, "Workflow finished", "worker_id", workerID)

}

// createChildWorkflow saves a NEW workflow row pointing back at the parent.
// Creation is idempotent on ExternalID so a re-run of the dispatching state
// cannot duplicate children. The child inherits the parent's executor group.
func createChildWorkflow(ctx context.Context, w core.Workflow, r WorkflowRepo, wa WorkflowActionRepo, registry *map[string]func() core.Workflow, req models.ChildWorkflowRequest, currentState string, executorID int64, workerID string) {
	parent := w.GetWorkflowData()
	slog.InfoContext(ctx, "Creating child workflow", "parent_id", parent.ID, "type", req.WorkflowType, "externalId", req.ExternalID, "worker_id", workerID)

	if req.ExternalID != "" {
		existing, err := r.FindByExternalId(req.ExternalID)
		if err != nil {
			slog.ErrorContext(ctx, "Error checking for existing child workflow", "error", err, "worker_id", workerID)
			return
		}
		if existing != nil {
			slog.WarnContext(ctx, "Child workflow already exists, skipping", "externalId", req.ExternalID, "workflow_id", existing.ID)
			return
		}
	}

	if registry == nil {
		slog.ErrorContext(ctx, "No workflow registry, cannot resolve child initial state", "type", req.WorkflowType)
		return
	}
	factory, ok := (*registry)[req.WorkflowType]
	if !ok {
		slog.ErrorContext(ctx, "Child workflow type not registered", "type", req.WorkflowType)
		return
	}
	initialState := factory().InitialState()

	stateVarsJSON := "{}"
	if len(req.StateVariables) > 0 {
		b, err := json.Marshal(req.StateVariables)
		if err != nil {
			slog.ErrorContext(ctx, "Error marshaling child workflow state variables", "error", err)
		} else {
			stateVarsJSON = string(b)
		}
	}

	now := time.Now().UTC()
	child := &domain.Workflow{
		Status:         "NEW",
		Created:        now,
		Modified:       now,
		NextActivation: sql.NullTime{Time: now, Valid: true},
		ExecutorGroup:  parent.ExecutorGroup,
		WorkflowType:   req.WorkflowType,
		ExternalID:     req.ExternalID,
		BusinessKey:    req.BusinessKey,
		State:          initialState,
		StateVars:      sql.NullString{String: stateVarsJSON, Valid: true},
		ParentID:       sql.NullInt64{Int64: parent.ID, Valid: true},
	}
	childID, err := r.Save(child)
	if err != nil {
		slog.ErrorContext(ctx, "Error creating child workflow", "error", err, "worker_id", workerID)
		return
	}

	_, _ = wa.Save(&domain.WorkflowAction{
		WorkflowID:     parent.ID,
		ExecutorID:     executorID,
		ExecutionCount: parent.RetryCount,
		Type:           "CHILD_CREATED",
		Name:           currentState,
		Text:           fmt.Sprintf("Created child workflow ID %d of type %s", childID, req.WorkflowType),
		DateTime:       time.Now(),
	})
}

func processWorkflowCompleted(ctx context.Context, w core.Workflow, r WorkflowRepo, wa WorkflowActionRepo, executorID int64, workerID string, currentState string) bool {
	slog.InfoContext(ctx, "Workflow completed", "worker_id", workerID)
	err := r.UpdateWorkflowStatus(w.GetWorkflowData().ID, "FINISHED")
	_, _ = wa.Save(&domain.WorkflowAction{WorkflowID: w.GetWorkflowData().ID, ExecutorID: executorID, ExecutionCount: w.GetWorkflowData().ExecutionCount, Type: "END", Name: currentState, Text: "workflow complete", DateTime: time.Now()})
	if err != nil {
		slog.ErrorContext(ctx, "Error updating workflow status", "error", err, "worker_id", workerID)
		return true
	}
	wakeParentIfChild(ctx, w, r, workerID)
	return false
}

// wakeParentIfChild pulls a waiting parent's next activation forward so it can
// observe this child's completion without waiting out its polling interval.
func wakeParentIfChild(ctx context.Context, w core.Workflow, r WorkflowRepo, workerID string) {
	parentID := w.GetWorkflowData().ParentID
	if !parentID.Valid {
		return
	}
	if err := r.WakeParentWorkflow(parentID.Int64); err != nil {
		slog.ErrorContext(ctx, "Error waking parent workflow", "parent_id", parentID.Int64, "error", err, "worker_id", workerID)
	}
}

func processStateExecutionError(ctx context.Context, w core.Workflow, r WorkflowRepo, wa WorkflowActionRepo, fh FailureHandler, executorID int64, workerID string, currentState string, callErr error) {
	slog.ErrorContext(ctx, "Error executing state method", "state", currentState, "error", callErr, "worker_id", workerID)
	_, _ = wa.Save(&domain.WorkflowAction{
		WorkflowID:     w.GetWorkflowData().ID,
		ExecutorID:     executorID,
		ExecutionCount: w.GetWorkflowData().ExecutionCount,
		Type:           "ERROR",
		Name:           currentState,
		Text:           callErr.Error(),
		DateTime:       time.Now(),
	})

	if compareAndSaveWorkflowStateVars(ctx, w, r, workerID) {
		return
	}

	//increment workflow retry counter, fail permanently once the budget is spent
	if w.GetWorkflowData().RetryCount >= w.GetRetryConfig().MaxRetryCount {
		slog.ErrorContext(ctx, "Max retry count reached", "worker_id", workerID)
		_ = r.UpdateWorkflowStatus(w.GetWorkflowData().ID, "FAILED")
		_, _ = wa.Save(&domain.WorkflowAction{WorkflowID: w.GetWorkflowData().ID, ExecutorID: executorID, ExecutionCount: w.GetWorkflowData().ExecutionCount,
			Type: "FAILED", Name: currentState, Text: fmt.Sprintf("Max retry count reached for workflow id:%d count :%d", w.GetWorkflowData().ID, w.GetWorkflowData().RetryCount), DateTime: time.Now()})
		processWorkflowFailed(ctx, w, r, fh, currentState, callErr.Error())
		return
	}

	config := w.GetRetryConfig()
	nextActivation := time.Now().Add(config.SlidingInterval(w.GetWorkflowData().RetryCount))
	err := r.IncrementRetryCounterAndSetNextActivation(w.GetWorkflowData().ID, nextActivation)
	if err != nil {
		slog.ErrorContext(ctx, "Error incrementing retry count", "error", err, "worker_id", workerID)
		return
	}
	_, _ = wa.Save(&domain.WorkflowAction{WorkflowID: w.GetWorkflowData().ID, ExecutorID: executorID, ExecutionCount: w.GetWorkflowData().ExecutionCount,
		Type: "RETRY", Name: currentState, Text: fmt.Sprintf("Retry at  :%s", nextActivation), DateTime: time.Now()})
}

// processWorkflowFailed runs after the FAILED status is written. It hands the
// failure to the handler (dead letter, notification) and wakes any waiting
// parent so it can react.
func processWorkflowFailed(ctx context.Context, w core.Workflow, r WorkflowRepo, fh FailureHandler, currentState string, reason string) {
	if fh != nil {
		fh.OnWorkflowFailed(ctx, w.GetWorkflowData(), currentState, reason, w.GetStateVariables())
	}
	wakeParentIfChild(ctx, w, r, "")
}

func compareAndSaveWorkflowStateVars(ctx context.Context, w core.Workflow, r WorkflowRepo, workerID string) bool {
	jsonString, _ := json.Marshal(w.GetStateVariables())

	if string(jsonString) != w.GetWorkflowData().StateVars.String {
		slog.InfoContext(ctx, "Updating workflow variables", "workflow_id", w.GetWorkflowData().ID, "state_vars", string(jsonString), "worker_id", workerID)
		err2 := r.SaveWorkflowVariables(w.GetWorkflowData().ID, string(jsonString))
		if err2 != nil {
			slog.ErrorContext(ctx, "Error saving workflow variables", "error", err2, "worker_id", workerID)
			return true
		}
	} else {
		slog.DebugContext(ctx, "Workflow variables unchanged", "worker_id", workerID)
	}
	return false
}
