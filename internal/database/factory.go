package database

import (
	"fmt"
	"os"
	"path/filepath"

	"clocktrack/internal/config"
	"clocktrack/internal/database/migrations"
	"clocktrack/internal/tracker"
)

// NewDatabaseFromConfig creates the local queue based on the database config type.
func NewDatabaseFromConfig(cfg config.DatabaseConfig, deviceID string, clock tracker.Clock) (*SQLiteDatabase, error) {
	switch cfg.Type {
	case "sqlite", "sqlite-purego":
		if cfg.DataDir == "" {
			return nil, fmt.Errorf("data_dir required for %s database", cfg.Type)
		}
		if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
		driver := migrations.DriverSQLite3
		if cfg.Type == "sqlite-purego" {
			driver = migrations.DriverSQLite
		}
		return NewSQLiteDatabase(filepath.Join(cfg.DataDir, deviceID+".db"), driver, clock)
	case "memory":
		return NewSQLiteDatabase(":memory:", migrations.DriverSQLite3, clock)
	default:
		return nil, fmt.Errorf("unknown database type: %s", cfg.Type)
	}
}
