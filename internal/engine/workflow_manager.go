package engine

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"reflect"
	"strings"
	"time"

	"github.com/sentinelwatch/sentinel/internal/config"
	"github.com/sentinelwatch/sentinel/internal/repository"
	"github.com/sentinelwatch/sentinel/pkg/sentinel/core"
	"github.com/sentinelwatch/sentinel/pkg/sentinel/domain"
	"github.com/sentinelwatch/sentinel/pkg/sentinel/models"
)

// workflowQueue hands claimed workflows to the worker pool. StartEngine sizes
// it from ENGINE_BATCH_SIZE, so it exists once per process.
var workflowQueue chan core.Workflow

// heartbeatInterval is how often a running engine refreshes its last_active
// row. Stuck workflow repair on peer engines keys off this timestamp.
const heartbeatInterval = 30 * time.Second

// repairBatchLimit caps how many stuck workflows one repair pass reclaims.
const repairBatchLimit = 100

type WorkflowManager struct {
	WorkflowRegistry   *map[string]func() core.Workflow
	WorkflowRepo       WorkflowRepo
	WorkflowActionRepo WorkflowActionRepo
	executorRepo       ExecutorRepo
	DefinitionRepo     DefinitionRepo
	failureHandler     FailureHandler
	executorID         int64
	wakeup             chan struct{}
	clock              core.Clock
}

func NewWorkflowManager(workflowRepo WorkflowRepo, workflowActionRepo WorkflowActionRepo, executorRepo ExecutorRepo,
	definitionRepo DefinitionRepo, WorkflowRegistry *map[string]func() core.Workflow, clock core.Clock) *WorkflowManager {
	if clock == nil {
		clock = core.NewRealClock()
	}
	return &WorkflowManager{
		WorkflowRegistry:   WorkflowRegistry,
		WorkflowRepo:       workflowRepo,
		WorkflowActionRepo: workflowActionRepo,
		executorRepo:       executorRepo,
		DefinitionRepo:     definitionRepo,
		wakeup:             make(chan struct{}, 1),
		clock:              clock,
	}
}

// SetFailureHandler installs the hook invoked when workflows are marked
// FAILED. Must be called before StartEngine.
func (wm *WorkflowManager) SetFailureHandler(fh FailureHandler) {
	wm.failureHandler = fh
}

// The read side delegates below exist so the API controllers can depend on
// the manager alone instead of holding every repository.

func (wm *WorkflowManager) ListWorkflowDefinitions() (*[]domain.WorkflowDefinition, error) {
	return wm.DefinitionRepo.FindAll()
}

func (wm *WorkflowManager) GetWorkflowDefinitionByName(name string) (*domain.WorkflowDefinition, error) {
	return wm.DefinitionRepo.FindByName(name)
}

func (wm *WorkflowManager) ListExecutors(limit int) ([]*domain.Executor, error) {
	return wm.executorRepo.GetExecutorsByLastActive(limit)
}

func (wm *WorkflowManager) SearchWorkflows(req models.SearchWorkflowRequest) (*[]domain.Workflow, error) {
	return wm.WorkflowRepo.SearchWorkflows(req)
}

func (wm *WorkflowManager) TopExecuting(limit int) (*[]domain.Workflow, error) {
	return wm.WorkflowRepo.GetTopExecuting(limit)
}

func (wm *WorkflowManager) NextToExecute(limit int) (*[]domain.Workflow, error) {
	return wm.WorkflowRepo.GetNextToExecute(limit)
}

func (wm *WorkflowManager) Overview() ([]repository.WorkflowOverviewRow, error) {
	return wm.WorkflowRepo.GetWorkflowOverview()
}

func (wm *WorkflowManager) DefinitionOverview(workflowType string) ([]repository.DefinitionStateRow, error) {
	return wm.WorkflowRepo.GetDefinitionStateOverview(workflowType)
}

// StartEngine registers this executor, spawns the worker pool and then polls
// the workflow table at pollInterval until the context is canceled. Wakeup
// cuts the wait short when a controller knows new work exists.
func (wm *WorkflowManager) StartEngine(ctx context.Context, pollInterval time.Duration) {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	registerExecutorInstance(ctx, wm)
	registerWorkflowDefinitions(ctx, wm)

	go repairStuckWorkflowsLoop(ctx, wm)

	queueSize := config.GetSystemSettingInteger(config.ENGINE_BATCH_SIZE)
	if queueSize <= 0 {
		queueSize = 10
	}
	workflowQueue = make(chan core.Workflow, queueSize)

	workers := config.GetSystemSettingInteger(config.ENGINE_EXECUTOR_SIZE)
	slog.Info("Starting workflow engine", "workers", workers, "queue_size", queueSize)
	for i := 0; i < workers; i++ {
		workerContext := context.WithValue(ctx, core.CtxKeyWorkerId, i)
		go Worker(workerContext, i, wm.executorID, wm.WorkflowRepo, wm.WorkflowActionRepo, wm.failureHandler, wm.WorkflowRegistry, workflowQueue)
	}

	slog.Info("Workflow engine started", "poll_interval", pollInterval.String())

	for {
		select {
		case <-ctx.Done():
			slog.InfoContext(ctx, "Workflow engine stopping due to context cancel")
			return
		case <-ticker.C:
			wm.pollAndRunWorkflows(ctx)
		case <-wm.wakeup:
			wm.pollAndRunWorkflows(ctx)
		}
	}
}

// repairStuckWorkflowsLoop reclaims workflows abandoned by a crashed engine.
// A workflow counts as stuck when it sits in a running status while its
// executor's heartbeat has gone stale.
func repairStuckWorkflowsLoop(ctx context.Context, wm *WorkflowManager) {
	dur, _ := time.ParseDuration(config.GetSystemSettingString(config.ENGINE_STUCK_WORKFLOWS_INTERVAL))
	ticker := time.NewTicker(dur)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.InfoContext(ctx, "Workflow repair service stopping due to context cancel")
			return
		case <-ticker.C:
			stuck, err := wm.WorkflowRepo.FindStuckWorkflows(
				config.GetSystemSettingString(config.ENGINE_STUCK_WORKFLOWS_REPAIR_AFTER_MINUTES),
				config.GetSystemSettingString(config.ENGINE_EXECUTOR_GROUP),
				repairBatchLimit)
			if err != nil {
				slog.Error("Error finding stuck workflows", "error", err)
				continue
			}
			for _, wf := range *stuck {
				wm.repairStuckWorkflow(ctx, wf)
			}
		}
	}
}

// repairStuckWorkflow takes an optimistic lock on one stuck workflow and, if
// it wins, reschedules it for immediate pickup with the dead executor's claim
// cleared. Losing the lock means another engine repaired it first.
func (wm *WorkflowManager) repairStuckWorkflow(ctx context.Context, wf domain.Workflow) {
	slog.Warn("Repairing stuck workflow", "workflow_id", wf.ID, "business_key", wf.BusinessKey, "state", wf.State, "status", wf.Status)
	prevExecutor := wf.ExecutorID
	if !wm.WorkflowRepo.LockWorkflowByModified(wf.ID, wf.Modified) {
		return
	}
	_, _ = wm.WorkflowActionRepo.Save(&domain.WorkflowAction{
		WorkflowID:     wf.ID,
		ExecutorID:     wm.executorID,
		ExecutionCount: 1,
		Type:           "REPAIRED",
		Name:           "REPAIRED",
		Text:           "Repaired and scheduled, previous executor was: " + fmt.Sprint(prevExecutor.String),
		DateTime:       wm.clock.Now(),
	})
	if err := wm.WorkflowRepo.UpdateNextActivationSpecific(wf.ID, wm.clock.Now()); err != nil {
		slog.ErrorContext(ctx, "Failed to repair update workflow next activation", "workflow_id", wf.ID, "error", err)
	}
	if err := wm.WorkflowRepo.ClearExecutorId(wf.ID); err != nil {
		slog.ErrorContext(ctx, "Failed to repair clear executor id", "workflow_id", wf.ID, "error", err)
	}
}

// registerWorkflowDefinitions validates every registered workflow type and
// upserts its definition row, including the rendered flow chart. Validation
// panics on a malformed workflow because a bad state method signature is a
// programming error that would otherwise surface mid run.
func registerWorkflowDefinitions(ctx context.Context, wm *WorkflowManager) {
	nextStateType := reflect.TypeOf((*models.NextState)(nil))
	errorType := reflect.TypeOf((*error)(nil)).Elem()
	ctxType := reflect.TypeOf((*context.Context)(nil)).Elem()

	for name := range *wm.WorkflowRegistry {
		def, err := wm.DefinitionRepo.FindByName(name)
		if err != nil {
			// A genuine lookup failure; a first registration comes back (nil, nil)
			slog.WarnContext(ctx, "Workflow definition lookup error, will attempt create", "name", name, "error", err)
			def = nil
		}

		flow := buildFlowChart(wm, name)
		instance, _ := CreateWorkflowInstance(wm, name)
		desc := instance.Description()

		for _, state := range instance.GetAllStates() {
			if state.StateType != models.StateNormal && state.StateType != models.StateStart {
				continue
			}
			// Every runnable state needs a method func (w *W) Name(ctx
			// context.Context) (*models.NextState, error). NumIn counts the
			// receiver, so two inputs means exactly one declared parameter.
			typ := reflect.TypeOf(instance)
			m, ok := typ.MethodByName(state.Name)
			if !ok {
				panic(fmt.Sprintf("method %s not found in workflow definition %s", state.Name, name))
			}
			if m.Type.NumIn() != 2 {
				panic(fmt.Sprintf(
					"Workflow:%s method:%s must have exactly one parameter: context.Context (found %d parameters)",
					name, state.Name, m.Type.NumIn()-1,
				))
			}
			if m.Type.In(1) != ctxType {
				panic(fmt.Sprintf(
					"method %s must take context.Context as its only parameter",
					state.Name,
				))
			}
			if m.Type.NumOut() != 2 || m.Type.Out(0) != nextStateType || m.Type.Out(1) != errorType {
				panic(fmt.Sprintf(
					"Workflow:%s method:%s must return (*models.NextState, error)",
					name, state.Name,
				))
			}
		}

		if def == nil {
			def = &domain.WorkflowDefinition{
				Name:        name,
				Description: desc,
				Created:     wm.clock.Now(),
				Updated:     wm.clock.Now(),
				FlowChart:   flow,
			}
			slog.InfoContext(ctx, "Saving workflow definition", "name", name)
			if err := wm.DefinitionRepo.Save(def); err != nil {
				slog.Error("Failed to save workflow definition", "name", name, "error", err)
			}
			continue
		}

		slog.InfoContext(ctx, "Updating workflow definition", "name", name)
		def.Description = desc
		def.Updated = wm.clock.Now()
		def.FlowChart = flow
		if err := wm.DefinitionRepo.Save(def); err != nil {
			slog.Error("Failed to update workflow definition", "name", name, "error", err)
		}
	}
}

// buildFlowChart renders a workflow's state graph as a mermaid flowchart for
// the definitions API.
func buildFlowChart(wm *WorkflowManager, name string) string {
	errorClass := "fill:#D64550,stroke:#9E2B35,stroke-width:2px,color:#fff,stroke-dasharray: 4 2,rx:8,ry:8;"
	doneClass := "fill:#3BA99C,stroke:#22756B,stroke-width:2px,color:#fff,stroke-dasharray: 4 2,rx:8,ry:8;"
	startClass := "fill:#4662D7,stroke:#2C43B8,stroke-width:2px,color:#fff,stroke-dasharray: 4 2,rx:8,ry:8;"
	manualClass := "fill:#E8B931,stroke:#BA9210,stroke-width:2px,color:#333,stroke-dasharray: 4 2,rx:8,ry:8;"
	normalClass := "fill:#EEF2F7,stroke:#A9BDD6,stroke-width:1px,color:#333,rx:8,ry:8;"

	wf, err := createWorkflow(wm, name)
	if err != nil {
		return fmt.Sprintf("flowchart TD\n    %s[Uninitialized]\n", name)
	}

	var sb strings.Builder
	sb.WriteString("flowchart TD\n")

	for from, tos := range wf.StateTransitions() {
		for _, to := range tos {
			sb.WriteString(fmt.Sprintf("    %s --> %s\n", from, to))
		}
	}

	sb.WriteString(fmt.Sprintf("    classDef errorClass %s\n", errorClass))
	sb.WriteString(fmt.Sprintf("    classDef doneClass %s\n", doneClass))
	sb.WriteString(fmt.Sprintf("    classDef startClass %s\n", startClass))
	sb.WriteString(fmt.Sprintf("    classDef manualClass %s\n", manualClass))
	sb.WriteString(fmt.Sprintf("    classDef normalClass %s\n", normalClass))

	for _, st := range wf.GetAllStates() {
		switch st.StateType {
		case models.StateStart:
			sb.WriteString(fmt.Sprintf("    class %s startClass;\n", st.Name))
		case models.StateEnd:
			sb.WriteString(fmt.Sprintf("    class %s doneClass;\n", st.Name))
		case models.StateManual:
			sb.WriteString(fmt.Sprintf("    class %s manualClass;\n", st.Name))
		case models.StateError:
			sb.WriteString(fmt.Sprintf("    class %s errorClass;\n", st.Name))
		default:
			sb.WriteString(fmt.Sprintf("    class %s normalClass;\n", st.Name))
		}
	}

	return sb.String()
}

// registerExecutorInstance writes this engine's executor row and starts the
// heartbeat that keeps it marked alive. The executor name falls back to the
// hostname when EXECUTOR_NAME is not set.
func registerExecutorInstance(ctx context.Context, wm *WorkflowManager) {
	name := config.GetSystemSettingString(config.EXECUTOR_NAME)
	if name == "" {
		hostname, err := os.Hostname()
		if err != nil {
			name = "sentinel-engine"
		} else {
			name = hostname
		}
	}
	group := config.GetSystemSettingString(config.ENGINE_EXECUTOR_GROUP)
	exec := &domain.Executor{Name: name, Group: group, Started: wm.clock.Now(), LastActive: wm.clock.Now()}
	id, err := wm.executorRepo.Save(exec)
	if err != nil {
		slog.Error("Failed to register executor", "error", err)
		return
	}
	wm.executorID = id
	slog.Info("Registered executor", "executor_id", id, "name", name, "group", group)
	go wm.heartbeatLoop(ctx, id)
}

func (wm *WorkflowManager) heartbeatLoop(ctx context.Context, executorID int64) {
	hb := time.NewTicker(heartbeatInterval)
	defer hb.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-hb.C:
			if err := wm.executorRepo.UpdateLastActive(executorID, wm.clock.Now()); err != nil {
				slog.Error("Failed to update executor last_active", "executor_id", executorID, "error", err)
			} else {
				slog.Debug("Updated executor last_active", "executor_id", executorID)
			}
		}
	}
}

// pollAndRunWorkflows claims a batch of due workflows and feeds them to the
// worker pool. Claiming is an optimistic lock on the modified column, so a
// row picked up by another engine in the meantime is skipped with an action
// recording the lost race.
func (wm *WorkflowManager) pollAndRunWorkflows(ctx context.Context) {
	slog.Debug("Polling for new workflows")

	batchSize := config.GetSystemSettingInteger(config.ENGINE_BATCH_SIZE)
	if len(workflowQueue) >= batchSize {
		slog.Warn("workflow queue full, skipping pollAndRunWorkflows, possibly stuck workflows or long running workflows")
		return
	}

	workflows, err := wm.WorkflowRepo.FindPendingWorkflows(
		batchSize,
		config.GetSystemSettingString(config.ENGINE_EXECUTOR_GROUP),
	)
	if err != nil {
		slog.Error("Error fetching workflows", "error", err)
		return
	}

	for _, wf := range *workflows {
		slog.InfoContext(ctx, "Marking workflow as scheduled for execution", "business_key", wf.BusinessKey, "externalId", wf.ExternalID)
		locked := wm.WorkflowRepo.MarkWorkflowAsScheduledForExecution(wf.ID, wm.executorID, wf.Modified)
		if !locked {
			slog.InfoContext(ctx, "Unable to gain lock on workflow, possibly picked up by other executor", "business_key", wf.BusinessKey, "externalId", wf.ExternalID)
			_, _ = wm.WorkflowActionRepo.Save(&domain.WorkflowAction{WorkflowID: wf.ID, ExecutorID: wm.executorID, ExecutionCount: 1, Type: "LOCK_FAILED", Name: "LOCK_FAILED", Text: "Failed to acquire a lock on the workflow", DateTime: wm.clock.Now()})
			continue
		}
		_, _ = wm.WorkflowActionRepo.Save(&domain.WorkflowAction{WorkflowID: wf.ID, ExecutorID: wm.executorID, ExecutionCount: 1, Type: "SCHEDULED", Name: "SCHEDULED", Text: "Scheduled for Execution", DateTime: wm.clock.Now()})

		instance, err := createWorkflow(wm, wf.WorkflowType)
		if err != nil {
			slog.ErrorContext(ctx, "Unknown workflow type, cannot execute", "workflow_id", wf.ID, "type", wf.WorkflowType, "error", err)
			continue
		}

		slog.InfoContext(ctx, "Add workflow to execution channel", "business_key", wf.BusinessKey, "externalId", wf.ExternalID)
		instance.Setup(&wf)
		workflowQueue <- instance
	}
}

func createWorkflow(wm *WorkflowManager, name string) (core.Workflow, error) {
	factory, ok := (*wm.WorkflowRegistry)[name]
	if !ok {
		slog.Error("workflow not found", "name", name)
		return nil, fmt.Errorf("workflow not found: %s", name)
	}
	return factory(), nil
}

// CreateWorkflowInstance builds an unbound instance of a registered workflow
// type, for callers outside the engine package.
func CreateWorkflowInstance(wm *WorkflowManager, name string) (core.Workflow, error) {
	return createWorkflow(wm, name)
}

// Wakeup nudges the polling loop without waiting out the interval. Safe to
// call from any goroutine; a wakeup already pending is enough.
func (wm *WorkflowManager) Wakeup() {
	slog.Debug("Wakeup Manager called")
	select {
	case wm.wakeup <- struct{}{}:
	default:
	}
}
