package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"clocktrack/internal/database/migrations"
	"clocktrack/internal/tracker"

	_ "github.com/mattn/go-sqlite3" // SQLite driver (cgo)
	_ "modernc.org/sqlite"          // SQLite driver (pure Go)
)

// SQLiteDatabase implements tracker.Database using SQLite.
type SQLiteDatabase struct {
	db     *sql.DB
	driver string
	path   string
	clock  tracker.Clock
}

var _ tracker.Database = (*SQLiteDatabase)(nil)

// NewSQLiteDatabase opens the database at path, migrating it to the latest
// schema. path can be a file path or ":memory:". driver is one of
// migrations.DriverSQLite3 or migrations.DriverSQLite.
func NewSQLiteDatabase(path, driver string, clock tracker.Clock) (*SQLiteDatabase, error) {
	db, err := OpenConnection(path, driver)
	if err != nil {
		return nil, err
	}

	if err := migrations.MigrateUp(db, driver); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrating database: %w", err)
	}

	return NewSQLiteDatabaseFromDB(db, driver, path, clock), nil
}

// NewSQLiteDatabaseFromDB wraps an existing, already migrated connection.
func NewSQLiteDatabaseFromDB(db *sql.DB, driver, path string, clock tracker.Clock) *SQLiteDatabase {
	if clock == nil {
		clock = tracker.RealClock{}
	}
	return &SQLiteDatabase{db: db, driver: driver, path: path, clock: clock}
}

// OpenConnection opens and configures a SQLite connection with appropriate PRAGMAs.
// The pool is limited to one connection: it serializes every write to the
// queue and keeps ":memory:" databases from splitting across connections.
func OpenConnection(path, driver string) (*sql.DB, error) {
	db, err := sql.Open(driver, path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	}
	if path != ":memory:" {
		pragmas = append(pragmas, "PRAGMA journal_mode = WAL", "PRAGMA synchronous = NORMAL")
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", p, err)
		}
	}

	return db, nil
}

// CheckMigrations verifies the schema is at the latest version.
func (s *SQLiteDatabase) CheckMigrations() error {
	return migrations.CheckDBMigrationStatus(s.db, s.driver)
}

// Path returns the database file, or ":memory:".
func (s *SQLiteDatabase) Path() string {
	return s.path
}

func (s *SQLiteDatabase) Close() error {
	return s.db.Close()
}

// inTx runs fn inside a transaction, committing when it returns nil.
func (s *SQLiteDatabase) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

// ErrConstraint reports that a write violated a schema constraint.
var ErrConstraint = errors.New("constraint violation")

// wrapConstraint maps driver-specific constraint failures to ErrConstraint.
// Both drivers report them with a "constraint failed" message.
func wrapConstraint(err error) error {
	if err == nil {
		return nil
	}
	if strings.Contains(strings.ToLower(err.Error()), "constraint failed") {
		return fmt.Errorf("%w: %v", ErrConstraint, err)
	}
	return err
}

func toDB(t time.Time) int64 {
	return t.UTC().UnixNano()
}

func fromDB(n int64) time.Time {
	return time.Unix(0, n).UTC()
}

func nullTime(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: toDB(*t), Valid: true}
}

func timePtr(n sql.NullInt64) *time.Time {
	if !n.Valid {
		return nil
	}
	t := fromDB(n.Int64)
	return &t
}

func nullFloat(f *float64) sql.NullFloat64 {
	if f == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *f, Valid: true}
}

func floatPtr(n sql.NullFloat64) *float64 {
	if !n.Valid {
		return nil
	}
	f := n.Float64
	return &f
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// placeholders returns "?, ?, ?" for n args along with the args themselves.
func placeholders(ids []string) (string, []any) {
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	return strings.TrimSuffix(strings.Repeat("?, ", len(ids)), ", "), args
}
