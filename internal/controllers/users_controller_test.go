package controllers

import (
	"bytes"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"golang.org/x/crypto/bcrypt"

	"github.com/sentinelwatch/sentinel/internal/domain"
	"github.com/sentinelwatch/sentinel/internal/models"
)

func TestUsersController_GetUsers(t *testing.T) {
	mockUserRepo := &MockUserRepo{
		FindAllFunc: func() (*[]domain.User, error) {
			return &[]domain.User{
				{ID: 1, Username: "user1", Groups: domain.GroupAnalysts,
					ApiKey: sql.NullString{String: "secret-key", Valid: true}},
			}, nil
		},
	}

	c := NewUsersController(mockUserRepo)

	req := httptest.NewRequest("GET", "/api/users", nil)
	w := httptest.NewRecorder()

	c.handleGetUsers(w, req)

	resp := w.Result()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected status 200, got %d", resp.StatusCode)
	}

	var users []models.UserResponse
	if err := json.NewDecoder(resp.Body).Decode(&users); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if len(users) != 1 {
		t.Fatalf("Expected 1 user, got %d", len(users))
	}
	// api keys are only ever shown on create or rotation
	if users[0].ApiKey != "" {
		t.Errorf("Expected api key to be hidden in listings, got %q", users[0].ApiKey)
	}
}

func TestUsersController_CreateUser(t *testing.T) {
	var saved *domain.User
	mockUserRepo := &MockUserRepo{
		SaveFunc: func(user *domain.User) (int64, error) {
			saved = user
			return 123, nil
		},
	}

	c := NewUsersController(mockUserRepo)

	body, _ := json.Marshal(models.CreateUserRequest{
		Username: "newuser",
		Password: "password123",
		Groups:   []string{domain.GroupAdmins},
		ApiKey:   true,
	})
	req := httptest.NewRequest("POST", "/api/users", bytes.NewReader(body))
	w := httptest.NewRecorder()

	c.handleCreateUser(w, req)

	resp := w.Result()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("Expected status 201, got %d: %s", resp.StatusCode, w.Body.String())
	}
	var created models.UserResponse
	if err := json.NewDecoder(resp.Body).Decode(&created); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if created.ID != 123 || created.Username != "newuser" {
		t.Errorf("Unexpected user in response: %+v", created)
	}
	if created.ApiKey == "" {
		t.Error("Expected the generated api key to be returned once")
	}
	if saved == nil {
		t.Fatal("Expected the user to be saved")
	}
	if saved.Password == "password123" {
		t.Error("Expected the password to be hashed before saving")
	}
	if err := bcrypt.CompareHashAndPassword([]byte(saved.Password), []byte("password123")); err != nil {
		t.Errorf("Stored hash does not match the password: %v", err)
	}
	if saved.Groups != domain.GroupAdmins {
		t.Errorf("Expected groups Admins, got %q", saved.Groups)
	}
}

func TestUsersController_CreateUser_DefaultGroup(t *testing.T) {
	var saved *domain.User
	mockUserRepo := &MockUserRepo{
		SaveFunc: func(user *domain.User) (int64, error) {
			saved = user
			return 1, nil
		},
	}

	c := NewUsersController(mockUserRepo)

	body, _ := json.Marshal(models.CreateUserRequest{Username: "newuser", Password: "password123"})
	req := httptest.NewRequest("POST", "/api/users", bytes.NewReader(body))
	w := httptest.NewRecorder()

	c.handleCreateUser(w, req)

	if w.Code != http.StatusCreated {
		t.Fatalf("Expected status 201, got %d", w.Code)
	}
	if saved.Groups != domain.GroupAnalysts {
		t.Errorf("Expected default group Analysts, got %q", saved.Groups)
	}
}

func TestUsersController_CreateUser_ShortPassword(t *testing.T) {
	c := NewUsersController(&MockUserRepo{})

	body, _ := json.Marshal(models.CreateUserRequest{Username: "newuser", Password: "short"})
	req := httptest.NewRequest("POST", "/api/users", bytes.NewReader(body))
	w := httptest.NewRecorder()

	c.handleCreateUser(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected status 400, got %d", w.Code)
	}
}

func TestUsersController_CreateUser_DuplicateUsername(t *testing.T) {
	mockUserRepo := &MockUserRepo{
		FindByUsernameFunc: func(username string) (*domain.User, error) {
			return &domain.User{ID: 1, Username: username}, nil
		},
		SaveFunc: func(user *domain.User) (int64, error) {
			t.Error("Save should not be called for a duplicate username")
			return 0, nil
		},
	}

	c := NewUsersController(mockUserRepo)

	body, _ := json.Marshal(models.CreateUserRequest{Username: "newuser", Password: "password123"})
	req := httptest.NewRequest("POST", "/api/users", bytes.NewReader(body))
	w := httptest.NewRecorder()

	c.handleCreateUser(w, req)

	if w.Code != http.StatusConflict {
		t.Errorf("Expected status 409, got %d", w.Code)
	}
}

func TestUsersController_GetUserById(t *testing.T) {
	mockUserRepo := &MockUserRepo{
		FindByIdFunc: func(id int64) (*domain.User, error) {
			if id == 7 {
				return &domain.User{ID: 7, Username: "user7", Groups: domain.GroupAnalysts}, nil
			}
			return nil, nil
		},
	}

	c := NewUsersController(mockUserRepo)

	req := httptest.NewRequest("GET", "/api/users/7", nil)
	req.SetPathValue("id", "7")
	w := httptest.NewRecorder()

	c.handleGetUserById(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}
	var user models.UserResponse
	if err := json.NewDecoder(w.Body).Decode(&user); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if user.ID != 7 || user.Username != "user7" {
		t.Errorf("Unexpected user: %+v", user)
	}

	req = httptest.NewRequest("GET", "/api/users/99", nil)
	req.SetPathValue("id", "99")
	w = httptest.NewRecorder()
	c.handleGetUserById(w, req)
	if w.Code != http.StatusNotFound {
		t.Errorf("Expected status 404 for unknown id, got %d", w.Code)
	}
}

func TestUsersController_DeleteUser(t *testing.T) {
	var deletedID int64
	mockUserRepo := &MockUserRepo{
		DeleteByIdFunc: func(id int64) error {
			deletedID = id
			return nil
		},
	}

	c := NewUsersController(mockUserRepo)

	req := httptest.NewRequest("DELETE", "/api/users/7", nil)
	req.SetPathValue("id", "7")
	w := httptest.NewRecorder()

	c.handleDeleteUser(w, req)

	if w.Code != http.StatusNoContent {
		t.Errorf("Expected status 204, got %d", w.Code)
	}
	if deletedID != 7 {
		t.Errorf("Expected user 7 to be deleted, got %d", deletedID)
	}
}

func TestUsersController_RotateApiKey(t *testing.T) {
	existing := &domain.User{ID: 7, Username: "user7",
		ApiKey: sql.NullString{String: "old-key", Valid: true}}
	var updated *domain.User
	mockUserRepo := &MockUserRepo{
		FindByIdFunc: func(id int64) (*domain.User, error) { return existing, nil },
		UpdateUserFunc: func(user *domain.User) error {
			updated = user
			return nil
		},
	}

	c := NewUsersController(mockUserRepo)

	req := httptest.NewRequest("POST", "/api/users/7/apikey", nil)
	req.SetPathValue("id", "7")
	w := httptest.NewRecorder()

	c.handleRotateApiKey(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}
	if updated == nil {
		t.Fatal("Expected the user to be updated")
	}
	if !updated.ApiKey.Valid || updated.ApiKey.String == "old-key" {
		t.Errorf("Expected a fresh api key, got %+v", updated.ApiKey)
	}
	var resp models.UserResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if resp.ApiKey != updated.ApiKey.String {
		t.Errorf("Expected the new key in the response, got %q", resp.ApiKey)
	}
}
