package controllers

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"github.com/sentinelwatch/sentinel/internal/config"
	"github.com/sentinelwatch/sentinel/internal/domain"
	"github.com/sentinelwatch/sentinel/internal/engine"
	"github.com/sentinelwatch/sentinel/internal/models"
	"github.com/sentinelwatch/sentinel/pkg/sentinel/core"
)

// maxLoginAttempts locks an account after this many consecutive failed logins.
// The counter resets on the next successful login after an admin re-enables
// the account or the retry count is cleared.
const maxLoginAttempts = 5

// AuthController issues JWT tokens and guards the API routes. Every other
// controller embeds it for RequireAuth / RequireGroup.
type AuthController struct {
	UserRepo engine.UserRepo
}

func NewBaseController(userRepo engine.UserRepo) *AuthController {
	return &AuthController{UserRepo: userRepo}
}

// handleLogin checks the credentials and returns a signed token carrying the
// user's groups.
func (wc *AuthController) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var req models.LoginRequest
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		http.Error(w, "invalid JSON payload", http.StatusBadRequest)
		return
	}
	if req.Username == "" || req.Password == "" {
		http.Error(w, "username and password are required", http.StatusBadRequest)
		return
	}

	u, err := wc.UserRepo.FindByUsername(req.Username)
	if err != nil || u == nil {
		http.Error(w, "invalid credentials", http.StatusUnauthorized)
		return
	}
	if userDisabled(u) {
		http.Error(w, "invalid credentials", http.StatusUnauthorized)
		return
	}
	if u.RetryCount.Valid && int(u.RetryCount.Int32) >= maxLoginAttempts {
		slog.Warn("Login rejected, account locked", "username", u.Username)
		http.Error(w, "account locked after too many failed logins", http.StatusLocked)
		return
	}
	if err := bcrypt.CompareHashAndPassword([]byte(u.Password), []byte(req.Password)); err != nil {
		if err := wc.UserRepo.IncrementRetryCount(u.Username); err != nil {
			slog.Error("Failed to increment login retry count", "username", u.Username, "error", err)
		}
		http.Error(w, "invalid credentials", http.StatusUnauthorized)
		return
	}
	if err := wc.UserRepo.ResetRetryCount(u.Username); err != nil {
		slog.Error("Failed to reset login retry count", "username", u.Username, "error", err)
	}

	token, expires, err := IssueToken(u)
	if err != nil {
		slog.Error("Failed to issue token", "username", u.Username, "error", err)
		http.Error(w, "failed to issue token", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(models.LoginResponse{
		Token:     token,
		ExpiresAt: expires,
		Username:  u.Username,
		Groups:    u.GroupList(),
	})
}

// RequireAuth accepts either a Bearer JWT or an X-API-Key header and puts the
// caller's username and groups on the request context.
func (wc *AuthController) RequireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		// 1) Bearer token
		if auth := r.Header.Get("Authorization"); auth != "" {
			raw := strings.TrimPrefix(auth, "Bearer ")
			if raw == auth {
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}
			username, groups, err := parseToken(raw)
			if err != nil {
				slog.Debug("Rejected bearer token", "error", err)
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}
			next(w, r.WithContext(authContext(r.Context(), username, groups)))
			return
		}
		// 2) API key for service callers
		if apiKey := r.Header.Get("X-API-Key"); apiKey != "" {
			u, err := wc.UserRepo.FindByApiKey(apiKey)
			if err == nil && u != nil && !userDisabled(u) {
				next(w, r.WithContext(authContext(r.Context(), u.Username, u.GroupList())))
				return
			}
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
	}
}

// RequireGroup authenticates and then rejects callers outside the given
// group. Admins pass every group check.
func (wc *AuthController) RequireGroup(group string, next http.HandlerFunc) http.HandlerFunc {
	return wc.RequireAuth(func(w http.ResponseWriter, r *http.Request) {
		if !groupAllowed(GroupsFromContext(r.Context()), group) {
			http.Error(w, "Forbidden", http.StatusForbidden)
			return
		}
		next(w, r)
	})
}

func groupAllowed(groups []string, want string) bool {
	for _, g := range groups {
		if g == want || g == domain.GroupAdmins {
			return true
		}
	}
	return false
}

func userDisabled(u *domain.User) bool {
	return u.Enabled.Valid && !u.Enabled.Bool
}

func authContext(ctx context.Context, username string, groups []string) context.Context {
	ctx = context.WithValue(ctx, core.CtxKeyUsername, username)
	return context.WithValue(ctx, core.CtxKeyGroups, groups)
}

// UsernameFromContext returns the authenticated username, or "" when the
// request did not pass RequireAuth.
func UsernameFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(core.CtxKeyUsername).(string); ok {
		return v
	}
	return ""
}

// GroupsFromContext returns the authenticated caller's groups.
func GroupsFromContext(ctx context.Context) []string {
	if v, ok := ctx.Value(core.CtxKeyGroups).([]string); ok {
		return v
	}
	return nil
}

func jwtSecret() []byte {
	return []byte(config.GetSystemSettingString(config.JWT_SECRET))
}

// IssueToken signs a JWT for the user carrying their groups. Also used by
// the token CLI subcommand.
func IssueToken(u *domain.User) (string, time.Time, error) {
	secret := jwtSecret()
	if len(secret) == 0 {
		return "", time.Time{}, errors.New("jwt secret is not configured")
	}
	now := time.Now().UTC()
	expires := now.Add(time.Duration(config.GetSystemSettingInteger(config.JWT_EXPIRY_HOURS)) * time.Hour)
	claims := jwt.MapClaims{
		"sub":    u.Username,
		"groups": u.GroupList(),
		"iss":    config.GetSystemSettingString(config.JWT_ISSUER),
		"iat":    now.Unix(),
		"exp":    expires.Unix(),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
	return signed, expires, err
}

func parseToken(raw string) (string, []string, error) {
	secret := jwtSecret()
	if len(secret) == 0 {
		return "", nil, errors.New("jwt secret is not configured")
	}
	claims := jwt.MapClaims{}
	_, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (interface{}, error) {
		return secret, nil
	},
		jwt.WithValidMethods([]string{"HS256"}),
		jwt.WithIssuer(config.GetSystemSettingString(config.JWT_ISSUER)),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return "", nil, err
	}
	username, _ := claims["sub"].(string)
	if username == "" {
		return "", nil, errors.New("token is missing the sub claim")
	}
	var groups []string
	if list, ok := claims["groups"].([]interface{}); ok {
		for _, g := range list {
			if s, ok := g.(string); ok {
				groups = append(groups, s)
			}
		}
	}
	return username, groups, nil
}
