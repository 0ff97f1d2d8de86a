// Package testing provides shared test fixtures.
package testing

import (
	"database/sql"
	"testing"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/teranos/staffsync/db"
)

// CreateTestDB returns a migrated in-memory SQLite database that is closed
// when the test ends.
func CreateTestDB(t *testing.T) *sql.DB {
	t.Helper()

	conn, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err, "failed to open in-memory database")
	t.Cleanup(func() { conn.Close() })

	// In-memory SQLite drops the database when its last connection closes;
	// a second pooled connection would see an empty schema.
	conn.SetMaxOpenConns(1)

	require.NoError(t, db.Migrate(conn, zap.NewNop().Sugar()), "failed to migrate test database")
	return conn
}
