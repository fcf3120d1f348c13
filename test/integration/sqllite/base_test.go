package sqllite

import (
	"database/sql"
	"fmt"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/sentinelwatch/sentinel/internal/config"
	"github.com/sentinelwatch/sentinel/pkg/sentinel"
)

var dbCounter int32

func nextDB() int {
	return int(atomic.AddInt32(&dbCounter, 1))
}

// openTestDatabase points the SQLite settings at a per-test file and opens it
// through the same migration path the application uses. The dialect helpers
// read the database type from the environment on every call, so the env vars
// stay set for the duration of the test.
func openTestDatabase(t *testing.T) *sql.DB {
	t.Helper()
	filename := filepath.Join(t.TempDir(), fmt.Sprintf("sentinel-test-%d.db", nextDB()))
	t.Setenv(config.DATABASE_TYPE, config.DATABASE_TYPE_SQLLITE)
	t.Setenv(config.DATABASE_SQLLITE_FILE_NAME, filename)
	db := sentinel.OpenDatabase()
	t.Cleanup(func() { db.Close() })
	return db
}
