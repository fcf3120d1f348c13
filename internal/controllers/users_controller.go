package controllers

import (
	"database/sql"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/sentinelwatch/sentinel/internal/domain"
	"github.com/sentinelwatch/sentinel/internal/engine"
	"github.com/sentinelwatch/sentinel/internal/models"
)

type UsersController struct {
	AuthController
}

func NewUsersController(userRepo engine.UserRepo) *UsersController {
	return &UsersController{
		AuthController: AuthController{
			UserRepo: userRepo,
		},
	}
}

func mapUserToResponse(u *domain.User, includeApiKey bool) models.UserResponse {
	resp := models.UserResponse{
		ID:       u.ID,
		Username: u.Username,
		Groups:   u.GroupList(),
		Enabled:  !userDisabled(u),
	}
	if includeApiKey && u.ApiKey.Valid {
		resp.ApiKey = u.ApiKey.String
	}
	return resp
}

// handleGetUsers returns all users. Api keys are never listed, they are shown
// once on create or rotation.
func (c *UsersController) handleGetUsers(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	users, err := c.UserRepo.FindAll()
	if err != nil {
		slog.Error("Failed to get users", "error", err)
		http.Error(w, "failed to get users", http.StatusInternalServerError)
		return
	}

	out := make([]models.UserResponse, 0)
	if users != nil {
		for i := range *users {
			out = append(out, mapUserToResponse(&(*users)[i], false))
		}
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(out)
}

// handleCreateUser creates a new user with a bcrypt hashed password. Users
// without explicit groups become Analysts.
func (c *UsersController) handleCreateUser(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req models.CreateUserRequest
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		http.Error(w, "invalid JSON payload", http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(req.Username) == "" || req.Password == "" {
		http.Error(w, "username and password are required", http.StatusBadRequest)
		return
	}
	if len(req.Password) < 8 {
		http.Error(w, "password must be at least 8 characters", http.StatusBadRequest)
		return
	}
	if existing, _ := c.UserRepo.FindByUsername(req.Username); existing != nil {
		http.Error(w, "username already exists", http.StatusConflict)
		return
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		slog.Error("Failed to hash password", "error", err)
		http.Error(w, "failed to create user", http.StatusInternalServerError)
		return
	}

	groups := req.Groups
	if len(groups) == 0 {
		groups = []string{domain.GroupAnalysts}
	}
	user := &domain.User{
		Username: strings.TrimSpace(req.Username),
		Password: string(hash),
		Groups:   strings.Join(groups, ","),
		Enabled:  sql.NullBool{Bool: true, Valid: true},
	}
	if req.ApiKey {
		user.ApiKey = sql.NullString{String: uuid.NewString(), Valid: true}
	}

	id, err := c.UserRepo.Save(user)
	if err != nil {
		slog.Error("Failed to create user", "username", user.Username, "error", err)
		http.Error(w, "failed to create user", http.StatusInternalServerError)
		return
	}
	user.ID = id

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(mapUserToResponse(user, true))
}

// handleGetUserById gets a user by their ID
func (c *UsersController) handleGetUserById(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		http.Error(w, "invalid user id", http.StatusBadRequest)
		return
	}

	user, err := c.UserRepo.FindById(id)
	if err != nil {
		slog.Error("Failed to get user", "error", err)
		http.Error(w, "failed to get user", http.StatusInternalServerError)
		return
	}
	if user == nil {
		http.Error(w, "user not found", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(mapUserToResponse(user, false))
}

// handleDeleteUser deletes a user by ID
func (c *UsersController) handleDeleteUser(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodDelete {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		http.Error(w, "invalid user id", http.StatusBadRequest)
		return
	}

	if err := c.UserRepo.DeleteById(id); err != nil {
		slog.Error("Failed to delete user", "error", err)
		http.Error(w, "failed to delete user", http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// handleRotateApiKey replaces the user's API key. The old key stops working
// immediately, the new key is returned once in the response.
func (c *UsersController) handleRotateApiKey(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		http.Error(w, "invalid user id", http.StatusBadRequest)
		return
	}

	user, err := c.UserRepo.FindById(id)
	if err != nil {
		slog.Error("Failed to get user", "error", err)
		http.Error(w, "failed to get user", http.StatusInternalServerError)
		return
	}
	if user == nil {
		http.Error(w, "user not found", http.StatusNotFound)
		return
	}

	user.ApiKey = sql.NullString{String: uuid.NewString(), Valid: true}
	if err := c.UserRepo.UpdateUser(user); err != nil {
		slog.Error("Failed to rotate api key", "username", user.Username, "error", err)
		http.Error(w, "failed to rotate api key", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(mapUserToResponse(user, true))
}
