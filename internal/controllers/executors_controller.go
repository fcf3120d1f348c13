package controllers

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/sentinelwatch/sentinel/internal/engine"
)

// executorListLimit caps how many executor rows the API returns, newest
// heartbeat first.
const executorListLimit = 20

// ExecutorsController lists the engine instances known to the cluster.
type ExecutorsController struct {
	AuthController
	ExecutorsRepo engine.ExecutorRepo
}

func NewExecutorsController(executorRepo engine.ExecutorRepo, userRepo engine.UserRepo) *ExecutorsController {
	return &ExecutorsController{
		AuthController: AuthController{UserRepo: userRepo},
		ExecutorsRepo:  executorRepo,
	}
}

func (c *ExecutorsController) handleGetExecutors(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	executors, err := c.ExecutorsRepo.GetExecutorsByLastActive(executorListLimit)
	if err != nil {
		slog.Error("Failed to load executors", "error", err)
		http.Error(w, "failed to load executors", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(executors)
}
