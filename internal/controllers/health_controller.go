package controllers

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/sentinelwatch/sentinel/internal/engine"
	"github.com/sentinelwatch/sentinel/internal/models"
)

// executorStaleAfter is how long an executor may go without a heartbeat
// before health reports the engine as stale.
const executorStaleAfter = 2 * time.Minute

// DBPinger lets health checks probe the database without holding the
// full *sql.DB surface.
type DBPinger interface {
	PingContext(ctx context.Context) error
}

type HealthController struct {
	DB              DBPinger
	WorkflowManager *engine.WorkflowManager
}

func NewHealthController(db DBPinger, workflowManager *engine.WorkflowManager) *HealthController {
	return &HealthController{
		DB:              db,
		WorkflowManager: workflowManager,
	}
}

// handleHealth reports liveness. A failed database ping is the only condition
// that turns the endpoint 503, a quiet engine is reported in the body so load
// balancers do not pull an instance that is merely idle.
func (c *HealthController) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	resp := models.HealthResponse{Status: "ok", Database: "ok", Engine: "ok"}
	code := http.StatusOK

	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := c.DB.PingContext(ctx); err != nil {
		resp.Status = "down"
		resp.Database = "down"
		resp.Engine = "unknown"
		code = http.StatusServiceUnavailable
	} else {
		executors, err := c.WorkflowManager.ListExecutors(1)
		if err != nil || len(executors) == 0 {
			resp.Engine = "no executors"
		} else if time.Since(executors[0].LastActive) > executorStaleAfter {
			resp.Engine = "stale"
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(resp)
}
