package app

import (
	"os"
	"path/filepath"
	"testing"
)

func TestGetDefaults(t *testing.T) {
	t.Run("uses env vars when set", func(t *testing.T) {
		t.Setenv("CLOCKTRACK_CONFIG_PATH", "/custom/config.toml")
		t.Setenv("CLOCKTRACK_HOME", "/custom/clocktrack")

		defaults, err := GetDefaults()
		if err != nil {
			t.Fatalf("GetDefaults() error = %v", err)
		}

		if defaults["config_path"] != "/custom/config.toml" {
			t.Errorf("config_path = %q, want %q", defaults["config_path"], "/custom/config.toml")
		}
		if defaults["base_dir"] != "/custom/clocktrack" {
			t.Errorf("base_dir = %q, want %q", defaults["base_dir"], "/custom/clocktrack")
		}
		if defaults["log_dir"] != "/custom/clocktrack/log" {
			t.Errorf("log_dir = %q, want %q", defaults["log_dir"], "/custom/clocktrack/log")
		}
		if defaults["run_dir"] != "/custom/clocktrack/run" {
			t.Errorf("run_dir = %q, want %q", defaults["run_dir"], "/custom/clocktrack/run")
		}
	})

	t.Run("falls back to home dir defaults", func(t *testing.T) {
		t.Setenv("CLOCKTRACK_CONFIG_PATH", "")
		t.Setenv("CLOCKTRACK_HOME", "")

		defaults, err := GetDefaults()
		if err != nil {
			t.Fatalf("GetDefaults() error = %v", err)
		}

		homeDir, _ := os.UserHomeDir()

		wantConfig := filepath.Join(homeDir, ".config", "clocktrack.toml")
		if defaults["config_path"] != wantConfig {
			t.Errorf("config_path = %q, want %q", defaults["config_path"], wantConfig)
		}

		wantBase := filepath.Join(homeDir, ".local", "share", "clocktrack")
		if defaults["base_dir"] != wantBase {
			t.Errorf("base_dir = %q, want %q", defaults["base_dir"], wantBase)
		}
	})
}

func TestPathsFor(t *testing.T) {
	p := PathsFor("/data")
	if p.AgentLock != "/data/run/agent.lock" || p.CaptureLock != "/data/run/capture.lock" {
		t.Errorf("locks = %q, %q", p.AgentLock, p.CaptureLock)
	}
	if p.SyncLock != "/data/run/sync.lock" || p.LaunchLock != "/data/run/launch.lock" {
		t.Errorf("SyncLock, LaunchLock = %q, %q", p.SyncLock, p.LaunchLock)
	}
	if p.ShiftSignal != "/data/run/shifts.signal" {
		t.Errorf("ShiftSignal = %q", p.ShiftSignal)
	}
}
