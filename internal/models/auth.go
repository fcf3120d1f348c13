package models

import "time"

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expiresAt"`
	Username  string    `json:"username"`
	Groups    []string  `json:"groups"`
}

type CreateUserRequest struct {
	Username string   `json:"username"`
	Password string   `json:"password"`
	Groups   []string `json:"groups"`
	ApiKey   bool     `json:"apiKey"` // generate an API key for service callers
}

type UserResponse struct {
	ID       int64    `json:"id"`
	Username string   `json:"username"`
	Groups   []string `json:"groups"`
	ApiKey   string   `json:"apiKey,omitempty"`
	Enabled  bool     `json:"enabled"`
}
