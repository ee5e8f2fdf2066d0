package database

import (
	"context"
	"testing"

	"clocktrack/internal/config"
)

func TestNewDatabaseFromConfig(t *testing.T) {
	t.Run("memory database", func(t *testing.T) {
		got, err := NewDatabaseFromConfig(config.DatabaseConfig{Type: "memory"}, "device-1", nil)
		if err != nil {
			t.Fatalf("NewDatabaseFromConfig() unexpected error: %v", err)
		}
		defer got.Close()

		if _, err := got.LoadSyncMetadata(context.Background()); err != nil {
			t.Errorf("LoadSyncMetadata() error = %v", err)
		}
	})

	for _, typ := range []string{"sqlite", "sqlite-purego"} {
		t.Run(typ+" database", func(t *testing.T) {
			cfg := config.DatabaseConfig{Type: typ, DataDir: t.TempDir()}
			got, err := NewDatabaseFromConfig(cfg, "device-1", nil)
			if err != nil {
				t.Fatalf("NewDatabaseFromConfig() unexpected error: %v", err)
			}
			defer got.Close()

			if err := got.CheckMigrations(); err != nil {
				t.Errorf("CheckMigrations() error = %v", err)
			}
		})
	}

	t.Run("sqlite database without data_dir", func(t *testing.T) {
		got, err := NewDatabaseFromConfig(config.DatabaseConfig{Type: "sqlite"}, "device-1", nil)
		if err == nil {
			t.Error("NewDatabaseFromConfig() expected error for missing data_dir, got nil")
		}
		if got != nil {
			t.Error("NewDatabaseFromConfig() should return nil on error")
			got.Close()
		}
	})

	t.Run("unknown type", func(t *testing.T) {
		if _, err := NewDatabaseFromConfig(config.DatabaseConfig{Type: "oracle"}, "device-1", nil); err == nil {
			t.Error("NewDatabaseFromConfig() expected error for unknown type")
		}
	})
}
