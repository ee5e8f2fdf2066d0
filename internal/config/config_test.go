package config

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestManager_ReadWrite_RoundTrip(t *testing.T) {
	original := NewConfig("device-abc", "emp-42", "/home/user/.local/share/clocktrack")
	original.Remote = RemoteConfig{
		Type:        "http",
		HTTPBaseURL: "https://api.example.com",
		HTTPTimeout: D(20 * time.Second),
	}
	original.Tracking.ActiveInterval = D(45 * time.Second)
	original.Sync.DeleteOnSync = true

	var buf bytes.Buffer
	m := &Manager{}

	if err := m.Write(&buf, original); err != nil {
		t.Fatalf("Write() error = %v", err)
	}

	got, err := m.Read(&buf)
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}

	if got.DeviceID != "device-abc" {
		t.Errorf("DeviceID = %q, want %q", got.DeviceID, "device-abc")
	}
	if got.EmployeeID != "emp-42" {
		t.Errorf("EmployeeID = %q, want %q", got.EmployeeID, "emp-42")
	}
	if got.Remote.Type != "http" {
		t.Errorf("Remote.Type = %q, want %q", got.Remote.Type, "http")
	}
	if got.Remote.HTTPTimeout.Duration != 20*time.Second {
		t.Errorf("Remote.HTTPTimeout = %s, want 20s", got.Remote.HTTPTimeout)
	}
	if got.Tracking.ActiveInterval.Duration != 45*time.Second {
		t.Errorf("Tracking.ActiveInterval = %s, want 45s", got.Tracking.ActiveInterval)
	}
	if got.Tracking.StationaryInterval.Duration != 300*time.Second {
		t.Errorf("Tracking.StationaryInterval = %s, want 5m", got.Tracking.StationaryInterval)
	}
	if !got.Sync.DeleteOnSync {
		t.Error("Sync.DeleteOnSync = false, want true")
	}
	if got.Database.Type != "sqlite" {
		t.Errorf("Database.Type = %q, want %q", got.Database.Type, "sqlite")
	}
}

func TestManager_Read_AppliesDefaults(t *testing.T) {
	input := `
device_id = "d1"

[tracking]
platform = "ios"
active_interval = "30s"

[sync]
batch_size = 50
`
	m := &Manager{}
	got, err := m.Read(strings.NewReader(input))
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}

	if got.Tracking.Platform != "ios" {
		t.Errorf("Platform = %q, want ios", got.Tracking.Platform)
	}
	if got.Tracking.ActiveInterval.Duration != 30*time.Second {
		t.Errorf("ActiveInterval = %s, want 30s", got.Tracking.ActiveInterval)
	}
	if got.Tracking.GPSLossAfter.Duration != 2*time.Minute {
		t.Errorf("GPSLossAfter = %s, want 2m", got.Tracking.GPSLossAfter)
	}
	if got.Sync.BatchSize != 50 {
		t.Errorf("BatchSize = %d, want 50", got.Sync.BatchSize)
	}
	if got.Sync.BackoffBase.Duration != 2*time.Minute {
		t.Errorf("BackoffBase = %s, want 2m", got.Sync.BackoffBase)
	}
	if got.Sync.BackoffMax.Duration != time.Hour {
		t.Errorf("BackoffMax = %s, want 1h", got.Sync.BackoffMax)
	}
	if got.Log.Format != "text" {
		t.Errorf("Log.Format = %q, want text", got.Log.Format)
	}
}

func TestManager_Read_InvalidDuration(t *testing.T) {
	m := &Manager{}
	_, err := m.Read(strings.NewReader("[sync]\nbackoff_base = \"soon\"\n"))
	if err == nil {
		t.Fatal("Read() expected error for invalid duration")
	}
}

func TestNewConfig(t *testing.T) {
	cfg := NewConfig("device-1", "emp-1", "/data/clocktrack")

	if cfg.LogDir != "/data/clocktrack/log" {
		t.Errorf("LogDir = %q, want %q", cfg.LogDir, "/data/clocktrack/log")
	}
	if cfg.Database.DataDir != "/data/clocktrack/db" {
		t.Errorf("Database.DataDir = %q, want %q", cfg.Database.DataDir, "/data/clocktrack/db")
	}
	if cfg.Encryption.PublicKeyPath != "/data/clocktrack/keys/clocktrack.pub" {
		t.Errorf("Encryption.PublicKeyPath = %q", cfg.Encryption.PublicKeyPath)
	}
	if cfg.Permission.GrantFile != "/data/clocktrack/permission" {
		t.Errorf("Permission.GrantFile = %q", cfg.Permission.GrantFile)
	}
	if cfg.Sync.ConnectivityDebounce.Duration != 30*time.Second {
		t.Errorf("ConnectivityDebounce = %s, want 30s", cfg.Sync.ConnectivityDebounce)
	}
}

func TestInit(t *testing.T) {
	t.Run("creates config file", func(t *testing.T) {
		dir := t.TempDir()
		path := filepath.Join(dir, "clocktrack.toml")

		if err := Init(path, NewConfig("d1", "e1", dir)); err != nil {
			t.Fatalf("Init() error = %v", err)
		}
		if _, err := os.Stat(path); err != nil {
			t.Fatalf("config file not created: %v", err)
		}
	})

	t.Run("fails if file already exists", func(t *testing.T) {
		dir := t.TempDir()
		path := filepath.Join(dir, "clocktrack.toml")
		cfg := NewConfig("d1", "e1", dir)

		if err := Init(path, cfg); err != nil {
			t.Fatalf("first Init() error = %v", err)
		}
		if err := Init(path, cfg); err == nil {
			t.Fatal("second Init() expected error")
		}
	})
}

func TestReadFromFile(t *testing.T) {
	t.Run("reads valid config", func(t *testing.T) {
		dir := t.TempDir()
		path := filepath.Join(dir, "clocktrack.toml")
		cfg := NewConfig("read-test", "e1", dir)
		cfg.Database = DatabaseConfig{Type: "memory"}

		if err := Init(path, cfg); err != nil {
			t.Fatalf("Init() error = %v", err)
		}

		got, err := ReadFromFile(path)
		if err != nil {
			t.Fatalf("ReadFromFile() error = %v", err)
		}
		if got.DeviceID != "read-test" {
			t.Errorf("DeviceID = %q, want %q", got.DeviceID, "read-test")
		}
		if got.Database.Type != "memory" {
			t.Errorf("Database.Type = %q, want memory", got.Database.Type)
		}
	})

	t.Run("returns error for missing file", func(t *testing.T) {
		if _, err := ReadFromFile("/nonexistent/path/clocktrack.toml"); err == nil {
			t.Fatal("ReadFromFile() expected error for missing file")
		}
	})
}
