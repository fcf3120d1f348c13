package app

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"testing"
	"time"

	"github.com/sentinelwatch/sentinel/internal/models"
	"github.com/sentinelwatch/sentinel/internal/util"
	"github.com/sentinelwatch/sentinel/pkg/sentinel"
	"github.com/sentinelwatch/sentinel/pkg/sentinel/core"
	"github.com/sentinelwatch/sentinel/pkg/sentinel/domain"
	wfmodels "github.com/sentinelwatch/sentinel/pkg/sentinel/models"
	"github.com/sentinelwatch/sentinel/test/integration/common"
)

const adminApiKey = "7c4be9d1-2f60-4b8a-9a75-c1e04f1d2a53"

// The whole API flow runs against a single boot. Start blocks on the HTTP
// listener and runs its engine on a background context, so a second boot in
// the same process would share the engine queue with the first.
func TestStartupAppAndApiFlow(t *testing.T) {
	runTestWithSetup(t, func(t *testing.T, port int) {

		// Register the fixture before Start reads the registry.
		sentinel.WorkflowRegistry = map[string]func() core.Workflow{
			common.QuickWorkflowType: func() core.Workflow {
				return &common.QuickWorkflow{}
			},
		}

		go func() {
			if err := sentinel.Start(nil); err != nil {
				slog.Error("App exited with error", "error", err)
			}
		}()

		waitForHealthy(t, port)
		seedUser(t, "admin", "admin-pass-1", "Admins", adminApiKey)
		seedUser(t, "analyst", "analyst-pass-1", "Analysts", "")

		client := &http.Client{Timeout: 10 * time.Second}

		// ---- Health reports component status ----
		healthResp, err := client.Get(fmt.Sprintf("http://localhost:%d/api/health", port))
		if err != nil {
			t.Fatalf("Failed to GET /api/health: %v", err)
		}
		defer healthResp.Body.Close()
		health, _ := util.DecodeJSONBodyResponse[models.HealthResponse](healthResp)
		if health.Status != "ok" || health.Database != "ok" {
			t.Errorf("Expected health status ok with database ok, got %+v", health)
		}

		// ---- Login issues tokens carrying groups ----
		adminLogin := login(t, client, port, "admin", "admin-pass-1")
		if len(adminLogin.Groups) != 1 || adminLogin.Groups[0] != "Admins" {
			t.Errorf("Expected admin groups [Admins], got %v", adminLogin.Groups)
		}
		if !adminLogin.ExpiresAt.After(time.Now()) {
			t.Errorf("Expected token expiry in the future, got %v", adminLogin.ExpiresAt)
		}
		analystLogin := login(t, client, port, "analyst", "analyst-pass-1")
		if len(analystLogin.Groups) != 1 || analystLogin.Groups[0] != "Analysts" {
			t.Errorf("Expected analyst groups [Analysts], got %v", analystLogin.Groups)
		}

		// ---- Requests without credentials are rejected ----
		noAuthReq, _ := http.NewRequest("GET", fmt.Sprintf("http://localhost:%d/api/feeds", port), nil)
		noAuthResp, err := client.Do(noAuthReq)
		if err != nil {
			t.Fatalf("Failed to GET /api/feeds: %v", err)
		}
		noAuthResp.Body.Close()
		if noAuthResp.StatusCode != http.StatusUnauthorized {
			t.Errorf("Expected 401 without credentials, got %d", noAuthResp.StatusCode)
		}

		badKeyReq, _ := http.NewRequest("GET", fmt.Sprintf("http://localhost:%d/api/feeds", port), nil)
		badKeyReq.Header.Set("X-API-Key", "no-such-key")
		badKeyResp, err := client.Do(badKeyReq)
		if err != nil {
			t.Fatalf("Failed to GET /api/feeds with bad key: %v", err)
		}
		badKeyResp.Body.Close()
		if badKeyResp.StatusCode != http.StatusUnauthorized {
			t.Errorf("Expected 401 for unknown API key, got %d", badKeyResp.StatusCode)
		}

		// ---- Analysts cannot reach admin routes ----
		createReq := wfmodels.CreateWorkflowRequest{
			ExternalID:    "app-flow-1",
			ExecutorGroup: "default",
			WorkflowType:  common.QuickWorkflowType,
			BusinessKey:   "app-flow-key-1",
			StateVars:     map[string]string{"seed": "from-test"},
		}
		jsonData, _ := json.Marshal(createReq)

		forbiddenReq, _ := http.NewRequest("POST", fmt.Sprintf("http://localhost:%d/api/workflows", port), bytes.NewReader(jsonData))
		forbiddenReq.Header.Set("Content-Type", "application/json")
		forbiddenReq.Header.Set("Authorization", "Bearer "+analystLogin.Token)
		forbiddenResp, err := client.Do(forbiddenReq)
		if err != nil {
			t.Fatalf("Failed to POST /api/workflows as analyst: %v", err)
		}
		forbiddenResp.Body.Close()
		if forbiddenResp.StatusCode != http.StatusForbidden {
			t.Errorf("Expected 403 for analyst on admin route, got %d", forbiddenResp.StatusCode)
		}

		// ---- The engine registers an executor ----
		var executors []domain.Executor
		deadline := time.Now().Add(15 * time.Second)
		for time.Now().Before(deadline) {
			execReq, _ := http.NewRequest("GET", fmt.Sprintf("http://localhost:%d/api/executors", port), nil)
			execReq.Header.Set("X-API-Key", adminApiKey)
			execResp, err := client.Do(execReq)
			if err != nil {
				t.Fatalf("Failed to GET /api/executors: %v", err)
			}
			if execResp.StatusCode == http.StatusOK {
				executors, _ = util.DecodeJSONBodyResponse[[]domain.Executor](execResp)
				if len(executors) > 0 {
					break
				}
			} else {
				execResp.Body.Close()
			}
			time.Sleep(200 * time.Millisecond)
		}
		if len(executors) == 0 {
			t.Fatalf("No executor registered within the deadline")
		}
		for _, e := range executors {
			if e.ID == 0 {
				t.Errorf("Executor ID is 0")
			}
			if e.Name == "" {
				t.Errorf("Executor name is empty")
			}
			if e.Started.IsZero() {
				t.Errorf("Executor started time is zero")
			}
		}

		// ---- Admins create workflows, repeat creates are idempotent ----
		wf := createWorkflow(t, client, port, adminLogin.Token, jsonData)
		if wf.ID == 0 {
			t.Fatalf("Expected a workflow id, got 0")
		}
		slog.Info("Created workflow over the API", "id", wf.ID)

		wfAgain := createWorkflow(t, client, port, adminLogin.Token, jsonData)
		if wfAgain.ID != wf.ID {
			t.Errorf("Expected create with the same external id to return workflow %d, got %d", wf.ID, wfAgain.ID)
		}

		// ---- The workflow runs to completion ----
		var finalWf wfmodels.WorkflowApiResponse
		deadline = time.Now().Add(20 * time.Second)
		for time.Now().Before(deadline) {
			w, status := getWorkflow(t, client, port, wf.ID)
			if status == http.StatusOK && w.Status == "FINISHED" {
				finalWf = w
				break
			}
			time.Sleep(200 * time.Millisecond)
		}
		if finalWf.ID == 0 {
			t.Fatalf("Workflow %d did not finish within the deadline", wf.ID)
		}
		if finalWf.State != common.StateFinish {
			t.Errorf("Expected final state %s, got %s", common.StateFinish, finalWf.State)
		}
		if finalWf.WorkflowType != common.QuickWorkflowType {
			t.Errorf("Expected workflow type %s, got %s", common.QuickWorkflowType, finalWf.WorkflowType)
		}
		if finalWf.StateVars[common.VAR_RESULT] != "ok" {
			t.Errorf("Expected state var %s to be ok, got %q", common.VAR_RESULT, finalWf.StateVars[common.VAR_RESULT])
		}
		if finalWf.StateVars["seed"] != "from-test" {
			t.Errorf("Expected state var seed to survive, got %q", finalWf.StateVars["seed"])
		}
		// The create handler stamps the caller onto the workflow.
		if finalWf.StateVars["createdBy"] != "admin" {
			t.Errorf("Expected state var createdBy to be admin, got %q", finalWf.StateVars["createdBy"])
		}

		// ---- Analysts can read workflows ----
		readReq, _ := http.NewRequest("GET", fmt.Sprintf("http://localhost:%d/api/workflows/%d", port, wf.ID), nil)
		readReq.Header.Set("Authorization", "Bearer "+analystLogin.Token)
		readResp, err := client.Do(readReq)
		if err != nil {
			t.Fatalf("Failed to GET /api/workflows/%d as analyst: %v", wf.ID, err)
		}
		defer readResp.Body.Close()
		if readResp.StatusCode != http.StatusOK {
			t.Fatalf("Expected 200 for analyst read, got %d", readResp.StatusCode)
		}
		readWf, _ := util.DecodeJSONBodyResponse[wfmodels.WorkflowApiResponse](readResp)
		if readWf.ID != wf.ID {
			t.Errorf("Expected workflow %d, got %d", wf.ID, readWf.ID)
		}
	})
}

func login(t *testing.T, client *http.Client, port int, username string, password string) models.LoginResponse {
	t.Helper()

	jsonData, _ := json.Marshal(models.LoginRequest{Username: username, Password: password})
	req, err := http.NewRequest("POST", fmt.Sprintf("http://localhost:%d/api/login", port), bytes.NewReader(jsonData))
	if err != nil {
		t.Fatalf("Failed to create request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("Failed to POST /api/login: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected 200 OK from login for %s, got %d", username, resp.StatusCode)
	}
	loginRsp, err := util.DecodeJSONBodyResponse[models.LoginResponse](resp)
	if err != nil {
		t.Fatalf("Failed to decode login response: %v", err)
	}
	if loginRsp.Token == "" {
		t.Fatalf("Login for %s returned an empty token", username)
	}
	if loginRsp.Username != username {
		t.Errorf("Expected login username %s, got %s", username, loginRsp.Username)
	}
	return loginRsp
}

func createWorkflow(t *testing.T, client *http.Client, port int, token string, jsonData []byte) wfmodels.CreateWorkflowResponse {
	t.Helper()

	req, err := http.NewRequest("POST", fmt.Sprintf("http://localhost:%d/api/workflows", port), bytes.NewReader(jsonData))
	if err != nil {
		t.Fatalf("Failed to create request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("Failed to POST /api/workflows: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected 200 OK, got %d", resp.StatusCode)
	}
	wf, err := util.DecodeJSONBodyResponse[wfmodels.CreateWorkflowResponse](resp)
	if err != nil {
		t.Fatalf("Failed to decode create response: %v", err)
	}
	return wf
}

func getWorkflow(t *testing.T, client *http.Client, port int, id int64) (wfmodels.WorkflowApiResponse, int) {
	t.Helper()

	req, err := http.NewRequest("GET", fmt.Sprintf("http://localhost:%d/api/workflows/%d", port, id), nil)
	if err != nil {
		t.Fatalf("Failed to create request: %v", err)
	}
	req.Header.Set("X-API-Key", adminApiKey)

	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("Failed to GET /api/workflows/%d: %v", id, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return wfmodels.WorkflowApiResponse{}, resp.StatusCode
	}
	wf, err := util.DecodeJSONBodyResponse[wfmodels.WorkflowApiResponse](resp)
	if err != nil {
		t.Fatalf("Failed to decode workflow response: %v", err)
	}
	return wf, resp.StatusCode
}
