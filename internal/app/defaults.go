package app

import (
	"fmt"
	"os"
	"path/filepath"
)

// GetDefaults returns application default paths, checking environment variables first.
// Environment variables:
//   - CLOCKTRACK_CONFIG_PATH: config file location (default: ~/.config/clocktrack.toml)
//   - CLOCKTRACK_HOME: base directory for clocktrack data (default: ~/.local/share/clocktrack)
func GetDefaults() (map[string]string, error) {
	configPath, err := getConfigPath()
	if err != nil {
		return nil, err
	}

	baseDir, err := getBaseDir()
	if err != nil {
		return nil, err
	}

	return map[string]string{
		"config_path": configPath,
		"base_dir":    baseDir,
		"log_dir":     filepath.Join(baseDir, "log"),
		"run_dir":     filepath.Join(baseDir, "run"),
	}, nil
}

// getConfigPath returns the config file path, checking CLOCKTRACK_CONFIG_PATH first,
// then falling back to ~/.config/clocktrack.toml.
func getConfigPath() (string, error) {
	if path := os.Getenv("CLOCKTRACK_CONFIG_PATH"); path != "" {
		return path, nil
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory: %w", err)
	}
	return filepath.Join(homeDir, ".config", "clocktrack.toml"), nil
}

// getBaseDir returns the base directory for clocktrack data, checking
// CLOCKTRACK_HOME first, then falling back to the XDG default.
func getBaseDir() (string, error) {
	if path := os.Getenv("CLOCKTRACK_HOME"); path != "" {
		return path, nil
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory: %w", err)
	}
	return filepath.Join(homeDir, ".local", "share", "clocktrack"), nil
}

// Paths are the runtime files shared between the CLI and the agent.
type Paths struct {
	AgentLock   string
	CaptureLock string
	// SyncLock is held for the whole of a sync attempt.
	SyncLock string
	// LaunchLock serializes starting the agent.
	LaunchLock  string
	ShiftSignal string
}

// PathsFor derives the runtime files from the base directory.
func PathsFor(baseDir string) Paths {
	run := filepath.Join(baseDir, "run")
	return Paths{
		AgentLock:   filepath.Join(run, "agent.lock"),
		CaptureLock: filepath.Join(run, "capture.lock"),
		SyncLock:    filepath.Join(run, "sync.lock"),
		LaunchLock:  filepath.Join(run, "launch.lock"),
		ShiftSignal: filepath.Join(run, "shifts.signal"),
	}
}
