package testutil

import (
	"testing"

	"clocktrack/internal/database"
	"clocktrack/internal/database/migrations"
	"clocktrack/internal/tracker"
)

// NewTestDatabase creates a new in-memory SQLite database with migrations applied.
// The database is automatically closed when the test completes.
func NewTestDatabase(t *testing.T, clock tracker.Clock) *database.SQLiteDatabase {
	t.Helper()
	return OpenTestDatabase(t, ":memory:", clock)
}

// OpenTestDatabase opens the database file at path. Opening the same path
// twice gives two connections to one queue, as two processes would have.
func OpenTestDatabase(t *testing.T, path string, clock tracker.Clock) *database.SQLiteDatabase {
	t.Helper()

	db, err := database.NewSQLiteDatabase(path, migrations.DriverSQLite3, clock)
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}

	t.Cleanup(func() {
		db.Close()
	})

	return db
}
