package controllers

import (
	"bytes"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"golang.org/x/crypto/bcrypt"

	"github.com/sentinelwatch/sentinel/internal/config"
	"github.com/sentinelwatch/sentinel/internal/domain"
	"github.com/sentinelwatch/sentinel/internal/models"
)

// MockUserRepo implements engine.UserRepo for testing
type MockUserRepo struct {
	FindByUsernameFunc      func(username string) (*domain.User, error)
	FindByApiKeyFunc        func(apiKey string) (*domain.User, error)
	FindByIdFunc            func(id int64) (*domain.User, error)
	FindAllFunc             func() (*[]domain.User, error)
	SaveFunc                func(user *domain.User) (int64, error)
	UpdateUserFunc          func(user *domain.User) error
	DeleteByIdFunc          func(id int64) error
	IncrementRetryCountFunc func(username string) error
	ResetRetryCountFunc     func(username string) error
}

func (m *MockUserRepo) FindByUsername(username string) (*domain.User, error) {
	if m.FindByUsernameFunc != nil {
		return m.FindByUsernameFunc(username)
	}
	return nil, nil
}
func (m *MockUserRepo) FindByApiKey(apiKey string) (*domain.User, error) {
	if m.FindByApiKeyFunc != nil {
		return m.FindByApiKeyFunc(apiKey)
	}
	return nil, nil
}
func (m *MockUserRepo) FindById(id int64) (*domain.User, error) {
	if m.FindByIdFunc != nil {
		return m.FindByIdFunc(id)
	}
	return nil, nil
}
func (m *MockUserRepo) FindAll() (*[]domain.User, error) {
	if m.FindAllFunc != nil {
		return m.FindAllFunc()
	}
	return nil, nil
}
func (m *MockUserRepo) Save(user *domain.User) (int64, error) {
	if m.SaveFunc != nil {
		return m.SaveFunc(user)
	}
	return 0, nil
}
func (m *MockUserRepo) UpdateUser(user *domain.User) error {
	if m.UpdateUserFunc != nil {
		return m.UpdateUserFunc(user)
	}
	return nil
}
func (m *MockUserRepo) DeleteById(id int64) error {
	if m.DeleteByIdFunc != nil {
		return m.DeleteByIdFunc(id)
	}
	return nil
}
func (m *MockUserRepo) IncrementRetryCount(username string) error {
	if m.IncrementRetryCountFunc != nil {
		return m.IncrementRetryCountFunc(username)
	}
	return nil
}
func (m *MockUserRepo) ResetRetryCount(username string) error {
	if m.ResetRetryCountFunc != nil {
		return m.ResetRetryCountFunc(username)
	}
	return nil
}

func analystUser(t *testing.T, password string) *domain.User {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("Failed to hash password: %v", err)
	}
	return &domain.User{
		ID:       1,
		Username: "alice",
		Password: string(hash),
		Groups:   domain.GroupAnalysts,
		Enabled:  sql.NullBool{Bool: true, Valid: true},
	}
}

func loginBody(t *testing.T, username, password string) *bytes.Reader {
	t.Helper()
	body, err := json.Marshal(models.LoginRequest{Username: username, Password: password})
	if err != nil {
		t.Fatalf("Failed to marshal login request: %v", err)
	}
	return bytes.NewReader(body)
}

func TestAuthController_Login(t *testing.T) {
	t.Setenv(config.JWT_SECRET, "test-secret")

	user := analystUser(t, "correct horse")
	var resetCalled bool
	mockRepo := &MockUserRepo{
		FindByUsernameFunc: func(username string) (*domain.User, error) {
			if username == "alice" {
				return user, nil
			}
			return nil, nil
		},
		ResetRetryCountFunc: func(username string) error {
			resetCalled = true
			return nil
		},
	}
	ac := NewBaseController(mockRepo)

	req := httptest.NewRequest("POST", "/api/login", loginBody(t, "alice", "correct horse"))
	w := httptest.NewRecorder()

	ac.handleLogin(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d: %s", w.Code, w.Body.String())
	}
	var resp models.LoginResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if resp.Token == "" {
		t.Error("Expected a token in the response")
	}
	if resp.Username != "alice" {
		t.Errorf("Expected username alice, got %s", resp.Username)
	}
	if len(resp.Groups) != 1 || resp.Groups[0] != domain.GroupAnalysts {
		t.Errorf("Expected groups [Analysts], got %v", resp.Groups)
	}
	if !resetCalled {
		t.Error("Expected the retry count to be reset on success")
	}
}

func TestAuthController_Login_WrongPassword(t *testing.T) {
	t.Setenv(config.JWT_SECRET, "test-secret")

	user := analystUser(t, "correct horse")
	var incrementCalled bool
	mockRepo := &MockUserRepo{
		FindByUsernameFunc: func(username string) (*domain.User, error) { return user, nil },
		IncrementRetryCountFunc: func(username string) error {
			incrementCalled = true
			return nil
		},
	}
	ac := NewBaseController(mockRepo)

	req := httptest.NewRequest("POST", "/api/login", loginBody(t, "alice", "battery staple"))
	w := httptest.NewRecorder()

	ac.handleLogin(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Errorf("Expected status 401, got %d", w.Code)
	}
	if !incrementCalled {
		t.Error("Expected the retry count to be incremented")
	}
}

func TestAuthController_Login_LockedAccount(t *testing.T) {
	t.Setenv(config.JWT_SECRET, "test-secret")

	user := analystUser(t, "correct horse")
	user.RetryCount = sql.NullInt32{Int32: maxLoginAttempts, Valid: true}
	mockRepo := &MockUserRepo{
		FindByUsernameFunc: func(username string) (*domain.User, error) { return user, nil },
	}
	ac := NewBaseController(mockRepo)

	// even the right password cannot get past the lock
	req := httptest.NewRequest("POST", "/api/login", loginBody(t, "alice", "correct horse"))
	w := httptest.NewRecorder()

	ac.handleLogin(w, req)

	if w.Code != http.StatusLocked {
		t.Errorf("Expected status 423, got %d", w.Code)
	}
}

func TestAuthController_Login_DisabledUser(t *testing.T) {
	t.Setenv(config.JWT_SECRET, "test-secret")

	user := analystUser(t, "correct horse")
	user.Enabled = sql.NullBool{Bool: false, Valid: true}
	mockRepo := &MockUserRepo{
		FindByUsernameFunc: func(username string) (*domain.User, error) { return user, nil },
	}
	ac := NewBaseController(mockRepo)

	req := httptest.NewRequest("POST", "/api/login", loginBody(t, "alice", "correct horse"))
	w := httptest.NewRecorder()

	ac.handleLogin(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Errorf("Expected status 401, got %d", w.Code)
	}
}

func TestAuthController_RequireAuth_BearerToken(t *testing.T) {
	t.Setenv(config.JWT_SECRET, "test-secret")

	user := analystUser(t, "correct horse")
	token, _, err := IssueToken(user)
	if err != nil {
		t.Fatalf("Failed to issue token: %v", err)
	}
	ac := NewBaseController(&MockUserRepo{})

	var nextCalled bool
	nextHandler := func(w http.ResponseWriter, r *http.Request) {
		nextCalled = true
		if got := UsernameFromContext(r.Context()); got != "alice" {
			t.Errorf("Expected username alice in context, got %q", got)
		}
		if groups := GroupsFromContext(r.Context()); len(groups) != 1 || groups[0] != domain.GroupAnalysts {
			t.Errorf("Expected groups [Analysts] in context, got %v", groups)
		}
		w.WriteHeader(http.StatusOK)
	}

	req := httptest.NewRequest("GET", "/protected", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	w := httptest.NewRecorder()

	ac.RequireAuth(nextHandler).ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("Expected status 200, got %d", w.Code)
	}
	if !nextCalled {
		t.Error("Expected the next handler to be called")
	}
}

func TestAuthController_RequireAuth_ExpiredToken(t *testing.T) {
	t.Setenv(config.JWT_SECRET, "test-secret")
	t.Setenv(config.JWT_EXPIRY_HOURS, "-1")

	user := analystUser(t, "correct horse")
	token, _, err := IssueToken(user)
	if err != nil {
		t.Fatalf("Failed to issue token: %v", err)
	}
	ac := NewBaseController(&MockUserRepo{})

	nextHandler := func(w http.ResponseWriter, r *http.Request) {
		t.Error("Next handler should not be called")
	}

	req := httptest.NewRequest("GET", "/protected", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	w := httptest.NewRecorder()

	ac.RequireAuth(nextHandler).ServeHTTP(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Errorf("Expected status 401, got %d", w.Code)
	}
}

func TestAuthController_RequireAuth_ApiKey(t *testing.T) {
	mockRepo := &MockUserRepo{
		FindByApiKeyFunc: func(apiKey string) (*domain.User, error) {
			if apiKey == "valid_key" {
				return &domain.User{Username: "api_user", Groups: domain.GroupAnalysts}, nil
			}
			return nil, nil
		},
	}
	ac := NewBaseController(mockRepo)

	nextHandler := func(w http.ResponseWriter, r *http.Request) {
		if got := UsernameFromContext(r.Context()); got != "api_user" {
			t.Errorf("Expected username api_user in context, got %q", got)
		}
		w.WriteHeader(http.StatusOK)
	}

	req := httptest.NewRequest("GET", "/protected", nil)
	req.Header.Set("X-API-Key", "valid_key")
	w := httptest.NewRecorder()

	ac.RequireAuth(nextHandler).ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("Expected status 200, got %d", w.Code)
	}
}

func TestAuthController_RequireAuth_Unauthorized(t *testing.T) {
	t.Setenv(config.JWT_SECRET, "test-secret")

	mockRepo := &MockUserRepo{
		FindByApiKeyFunc: func(apiKey string) (*domain.User, error) { return nil, nil },
	}
	ac := NewBaseController(mockRepo)

	nextHandler := func(w http.ResponseWriter, r *http.Request) {
		t.Error("Next handler should not be called")
	}

	// Case 1: no credentials
	req := httptest.NewRequest("GET", "/protected", nil)
	w := httptest.NewRecorder()
	ac.RequireAuth(nextHandler).ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("Expected status 401 without credentials, got %d", w.Code)
	}

	// Case 2: malformed Authorization header
	req = httptest.NewRequest("GET", "/protected", nil)
	req.Header.Set("Authorization", "Basic abcdef")
	w = httptest.NewRecorder()
	ac.RequireAuth(nextHandler).ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("Expected status 401 for a non bearer header, got %d", w.Code)
	}

	// Case 3: garbage bearer token
	req = httptest.NewRequest("GET", "/protected", nil)
	req.Header.Set("Authorization", "Bearer not.a.token")
	w = httptest.NewRecorder()
	ac.RequireAuth(nextHandler).ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("Expected status 401 for a garbage token, got %d", w.Code)
	}

	// Case 4: unknown API key
	req = httptest.NewRequest("GET", "/protected", nil)
	req.Header.Set("X-API-Key", "invalid_key")
	w = httptest.NewRecorder()
	ac.RequireAuth(nextHandler).ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("Expected status 401 for an unknown api key, got %d", w.Code)
	}
}

func TestAuthController_RequireGroup(t *testing.T) {
	t.Setenv(config.JWT_SECRET, "test-secret")

	analyst := analystUser(t, "correct horse")
	analystToken, _, err := IssueToken(analyst)
	if err != nil {
		t.Fatalf("Failed to issue token: %v", err)
	}
	admin := &domain.User{Username: "root", Groups: domain.GroupAdmins}
	adminToken, _, err := IssueToken(admin)
	if err != nil {
		t.Fatalf("Failed to issue token: %v", err)
	}

	ac := NewBaseController(&MockUserRepo{})
	okHandler := func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) }

	// analyst passes an Analysts check
	req := httptest.NewRequest("GET", "/protected", nil)
	req.Header.Set("Authorization", "Bearer "+analystToken)
	w := httptest.NewRecorder()
	ac.RequireGroup(domain.GroupAnalysts, okHandler).ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Errorf("Expected status 200 for analyst on analyst route, got %d", w.Code)
	}

	// analyst is rejected from an Admins check
	req = httptest.NewRequest("GET", "/protected", nil)
	req.Header.Set("Authorization", "Bearer "+analystToken)
	w = httptest.NewRecorder()
	ac.RequireGroup(domain.GroupAdmins, okHandler).ServeHTTP(w, req)
	if w.Code != http.StatusForbidden {
		t.Errorf("Expected status 403 for analyst on admin route, got %d", w.Code)
	}

	// admins pass every group check
	req = httptest.NewRequest("GET", "/protected", nil)
	req.Header.Set("Authorization", "Bearer "+adminToken)
	w = httptest.NewRecorder()
	ac.RequireGroup(domain.GroupAnalysts, okHandler).ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Errorf("Expected status 200 for admin on analyst route, got %d", w.Code)
	}
}
