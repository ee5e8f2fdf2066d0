package migrations

import (
	"database/sql"
	"testing"

	_ "github.com/mattn/go-sqlite3"
	_ "modernc.org/sqlite"
)

func TestMigrateUp_FreshDatabase(t *testing.T) {
	for _, driver := range []string{DriverSQLite3, DriverSQLite} {
		t.Run(driver, func(t *testing.T) {
			db := openTestDB(t, driver)

			if err := MigrateUp(db, driver); err != nil {
				t.Fatalf("MigrateUp() failed: %v", err)
			}

			tables := []string{"shifts", "gps_points", "gps_gaps", "diagnostic_events",
				"quarantined_records", "sync_metadata", "capture_context", "schema_migrations"}
			for _, table := range tables {
				var name string
				err := db.QueryRow("SELECT name FROM sqlite_master WHERE type='table' AND name=?", table).Scan(&name)
				if err != nil {
					t.Errorf("Table %s was not created: %v", table, err)
				}
			}
		})
	}
}

func TestCheckDBMigrationStatus_FreshDatabase(t *testing.T) {
	db := openTestDB(t, DriverSQLite3)

	err := CheckDBMigrationStatus(db, DriverSQLite3)
	if err == nil {
		t.Fatal("CheckDBMigrationStatus() expected error for fresh database, got nil")
	}
	if err.Error() != "database has no schema version (needs migration)" {
		t.Errorf("CheckDBMigrationStatus() error = %q, want error about needing migration", err.Error())
	}
}

func TestMigrateUp_Idempotent(t *testing.T) {
	db := openTestDB(t, DriverSQLite3)

	if err := MigrateUp(db, DriverSQLite3); err != nil {
		t.Fatalf("First MigrateUp() failed: %v", err)
	}
	if err := MigrateUp(db, DriverSQLite3); err != nil {
		t.Errorf("Second MigrateUp() failed: %v (should be idempotent)", err)
	}
	if err := CheckDBMigrationStatus(db, DriverSQLite3); err != nil {
		t.Errorf("CheckDBMigrationStatus() after double migration returned error: %v", err)
	}
}

func TestMigrateUp_UnknownDriver(t *testing.T) {
	db := openTestDB(t, DriverSQLite3)

	if err := MigrateUp(db, "postgres"); err == nil {
		t.Error("MigrateUp() expected error for unsupported driver")
	}
}

func TestSchema_SyncMetadataSingleton(t *testing.T) {
	db := openTestDB(t, DriverSQLite3)
	if err := MigrateUp(db, DriverSQLite3); err != nil {
		t.Fatalf("MigrateUp() failed: %v", err)
	}

	var count int
	if err := db.QueryRow("SELECT COUNT(*) FROM sync_metadata").Scan(&count); err != nil {
		t.Fatalf("counting sync_metadata: %v", err)
	}
	if count != 1 {
		t.Errorf("sync_metadata rows = %d, want 1", count)
	}

	if _, err := db.Exec("INSERT INTO sync_metadata (id) VALUES (2)"); err == nil {
		t.Error("Expected check constraint violation for second metadata row")
	}

	if _, err := db.Exec("UPDATE sync_metadata SET consecutive_failures = 2, current_backoff_ms = 0"); err == nil {
		t.Error("Expected check constraint violation for failures without backoff")
	}
}

func TestSchema_OneActiveShiftPerEmployee(t *testing.T) {
	db := openTestDB(t, DriverSQLite3)
	if err := MigrateUp(db, DriverSQLite3); err != nil {
		t.Fatalf("MigrateUp() failed: %v", err)
	}

	insert := `INSERT INTO shifts (id, employee_id, status, clock_in_at, clock_in_latitude, clock_in_longitude, updated_at)
		VALUES (?, 'emp-1', 'active', 1, 0, 0, 1)`
	if _, err := db.Exec(insert, "shift-1"); err != nil {
		t.Fatalf("Failed to insert first shift: %v", err)
	}
	if _, err := db.Exec(insert, "shift-2"); err == nil {
		t.Error("Expected unique constraint violation for second active shift")
	}
}

func TestSchema_CompletedShiftNeedsClockOut(t *testing.T) {
	db := openTestDB(t, DriverSQLite3)
	if err := MigrateUp(db, DriverSQLite3); err != nil {
		t.Fatalf("MigrateUp() failed: %v", err)
	}

	_, err := db.Exec(`INSERT INTO shifts (id, employee_id, status, clock_in_at, clock_in_latitude, clock_in_longitude, updated_at)
		VALUES ('shift-1', 'emp-1', 'completed', 1, 0, 0, 1)`)
	if err == nil {
		t.Error("Expected check constraint violation for completed shift without clock-out")
	}
}

func TestSchema_GapEndNotBeforeStart(t *testing.T) {
	db := openTestDB(t, DriverSQLite3)
	if err := MigrateUp(db, DriverSQLite3); err != nil {
		t.Fatalf("MigrateUp() failed: %v", err)
	}

	if _, err := db.Exec(`INSERT INTO shifts (id, employee_id, status, clock_in_at, clock_in_latitude, clock_in_longitude, updated_at)
		VALUES ('shift-1', 'emp-1', 'active', 1, 0, 0, 1)`); err != nil {
		t.Fatalf("Failed to insert shift: %v", err)
	}

	_, err := db.Exec(`INSERT INTO gps_gaps (id, shift_id, employee_id, started_at, ended_at, reason)
		VALUES ('gap-1', 'shift-1', 'emp-1', 100, 50, 'signal_loss')`)
	if err == nil {
		t.Error("Expected check constraint violation for gap ending before it starts")
	}
}

func TestForeignKeyConstraints(t *testing.T) {
	db := openTestDB(t, DriverSQLite3)
	if err := MigrateUp(db, DriverSQLite3); err != nil {
		t.Fatalf("MigrateUp() failed: %v", err)
	}

	_, err := db.Exec(`INSERT INTO gps_points (id, shift_id, employee_id, latitude, longitude, captured_at)
		VALUES ('p-1', 'no-such-shift', 'emp-1', 0, 0, 1)`)
	if err == nil {
		t.Error("Expected foreign key constraint violation, but insert succeeded")
	}
}

// openTestDB opens an in-memory SQLite database for testing.
func openTestDB(t *testing.T, driver string) *sql.DB {
	t.Helper()

	db, err := sql.Open(driver, ":memory:")
	if err != nil {
		t.Fatalf("Failed to open test database: %v", err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		t.Fatalf("Failed to enable foreign keys: %v", err)
	}
	return db
}
