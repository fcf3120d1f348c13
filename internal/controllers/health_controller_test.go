package controllers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/sentinelwatch/sentinel/internal/models"
	"github.com/sentinelwatch/sentinel/pkg/sentinel/domain"
)

type MockDBPinger struct {
	PingContextFunc func(ctx context.Context) error
}

func (m *MockDBPinger) PingContext(ctx context.Context) error {
	if m.PingContextFunc != nil {
		return m.PingContextFunc(ctx)
	}
	return nil
}

func healthResponse(t *testing.T, w *httptest.ResponseRecorder) models.HealthResponse {
	t.Helper()
	var resp models.HealthResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	return resp
}

func TestHealthController_Healthy(t *testing.T) {
	executorRepo := &MockExecutorRepo{
		GetExecutorsByLastActiveFunc: func(limit int) ([]*domain.Executor, error) {
			return []*domain.Executor{{ID: 1, Name: "exec-1", LastActive: time.Now()}}, nil
		},
	}
	wm := newTestWorkflowManager(&MockWorkflowRepo{}, &MockWorkflowActionRepo{}, executorRepo, &MockDefinitionRepo{})
	c := NewHealthController(&MockDBPinger{}, wm)

	req := httptest.NewRequest("GET", "/api/health", nil)
	w := httptest.NewRecorder()

	c.handleHealth(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}
	resp := healthResponse(t, w)
	if resp.Status != "ok" || resp.Database != "ok" || resp.Engine != "ok" {
		t.Errorf("Unexpected health response: %+v", resp)
	}
}

func TestHealthController_DatabaseDown(t *testing.T) {
	db := &MockDBPinger{
		PingContextFunc: func(ctx context.Context) error { return errors.New("connection refused") },
	}
	wm := newTestWorkflowManager(&MockWorkflowRepo{}, &MockWorkflowActionRepo{}, &MockExecutorRepo{}, &MockDefinitionRepo{})
	c := NewHealthController(db, wm)

	req := httptest.NewRequest("GET", "/api/health", nil)
	w := httptest.NewRecorder()

	c.handleHealth(w, req)

	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("Expected status 503, got %d", w.Code)
	}
	resp := healthResponse(t, w)
	if resp.Status != "down" || resp.Database != "down" {
		t.Errorf("Unexpected health response: %+v", resp)
	}
}

func TestHealthController_StaleEngine(t *testing.T) {
	executorRepo := &MockExecutorRepo{
		GetExecutorsByLastActiveFunc: func(limit int) ([]*domain.Executor, error) {
			return []*domain.Executor{{ID: 1, Name: "exec-1", LastActive: time.Now().Add(-10 * time.Minute)}}, nil
		},
	}
	wm := newTestWorkflowManager(&MockWorkflowRepo{}, &MockWorkflowActionRepo{}, executorRepo, &MockDefinitionRepo{})
	c := NewHealthController(&MockDBPinger{}, wm)

	req := httptest.NewRequest("GET", "/api/health", nil)
	w := httptest.NewRecorder()

	c.handleHealth(w, req)

	// a quiet engine is not a load balancer failure
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}
	resp := healthResponse(t, w)
	if resp.Engine != "stale" {
		t.Errorf("Expected a stale engine, got %+v", resp)
	}
}

func TestHealthController_NoExecutors(t *testing.T) {
	wm := newTestWorkflowManager(&MockWorkflowRepo{}, &MockWorkflowActionRepo{}, &MockExecutorRepo{}, &MockDefinitionRepo{})
	c := NewHealthController(&MockDBPinger{}, wm)

	req := httptest.NewRequest("GET", "/api/health", nil)
	w := httptest.NewRecorder()

	c.handleHealth(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}
	resp := healthResponse(t, w)
	if resp.Engine != "no executors" {
		t.Errorf("Expected no executors, got %+v", resp)
	}
}
