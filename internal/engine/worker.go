package engine

import (
	"context"
	"log/slog"
	"strconv"

	"github.com/sentinelwatch/sentinel/pkg/sentinel/core"
)

// Worker pulls workflows off the queue and runs them until the context is
// cancelled.
func Worker(ctx context.Context, id int, executorID int64, workflowRepository WorkflowRepo, workflowActionRepository WorkflowActionRepo, failureHandler FailureHandler, registry *map[string]func() core.Workflow, workflowQueue <-chan core.Workflow) {
	for {
		select {
		case <-ctx.Done():
			slog.InfoContext(ctx, "Worker stopping due to context cancel", "worker_id", id)
			return
		case wf := <-workflowQueue:
			slog.Info("Worker starting workflow", "worker_id", id)
			RunWorkflow(ctx, wf, workflowRepository, workflowActionRepository, failureHandler, registry, executorID, strconv.Itoa(id))
			slog.Info("Worker finished workflow", "worker_id", id)
		}
	}
}
