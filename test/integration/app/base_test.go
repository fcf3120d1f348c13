package app

import (
	"database/sql"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/sentinelwatch/sentinel/internal/config"
	"github.com/sentinelwatch/sentinel/internal/domain"
	"github.com/sentinelwatch/sentinel/internal/repository"

	_ "github.com/mattn/go-sqlite3"
)

var portBase int32 = 9118 // starting port number (can be anything safe)

func nextPort() int {
	return int(atomic.AddInt32(&portBase, 1))
}

// runTestWithSetup points the app at a fresh sqlite file and a free port.
// Plain os.Setenv rather than t.Setenv because the server goroutine started
// by the test outlives the test and keeps reading these values.
func runTestWithSetup(t *testing.T, testFunc func(t *testing.T, port int)) {
	port := nextPort()
	filename := filepath.Join(os.TempDir(), fmt.Sprintf("sentinel-app-test-%d.db", port))
	defer os.Remove(filename)

	os.Setenv("HTTP_ADDR", ":"+strconv.Itoa(port))
	os.Setenv(config.DATABASE_TYPE, config.DATABASE_TYPE_SQLLITE)
	os.Setenv(config.DATABASE_SQLLITE_FILE_NAME, filename)
	os.Setenv(config.JWT_SECRET, "integration-test-secret")
	os.Setenv(config.ENGINE_CHECK_DB_INTERVAL, "200ms")
	// A config path that does not exist makes the app boot on defaults with
	// no feeds, so the feed poller has nothing to fetch during the test.
	os.Setenv(config.CONFIG_FILE, filepath.Join(os.TempDir(), "sentinel-no-such-config.yaml"))

	testFunc(t, port)
}

// waitForHealthy polls the health endpoint until the app answers 200. The
// first boot also runs migrations so this can take a moment.
func waitForHealthy(t *testing.T, port int) {
	t.Helper()

	client := &http.Client{Timeout: 2 * time.Second}
	url := fmt.Sprintf("http://localhost:%d/api/health", port)
	deadline := time.Now().Add(20 * time.Second)
	for time.Now().Before(deadline) {
		resp, err := client.Get(url)
		if err == nil {
			resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				return
			}
		}
		time.Sleep(200 * time.Millisecond)
	}
	t.Fatalf("App did not become healthy on port %d", port)
}

// seedUser inserts a user straight into the database, migrations ship no
// accounts. An empty apiKey leaves the column NULL.
func seedUser(t *testing.T, username string, password string, groups string, apiKey string) {
	t.Helper()

	db, err := sql.Open("sqlite3", os.Getenv(config.DATABASE_SQLLITE_FILE_NAME))
	if err != nil {
		t.Fatalf("Failed to open database: %v", err)
	}
	defer db.Close()

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("Failed to hash password: %v", err)
	}
	user := &domain.User{
		Username:   username,
		Password:   string(hash),
		Groups:     groups,
		RetryCount: sql.NullInt32{Int32: 0, Valid: true},
		Enabled:    sql.NullBool{Bool: true, Valid: true},
	}
	if apiKey != "" {
		user.ApiKey = sql.NullString{String: apiKey, Valid: true}
	}
	if _, err := repository.NewUserRepository(db, nil).Save(user); err != nil {
		t.Fatalf("Failed to seed user %s: %v", username, err)
	}
}
