package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

// Config represents the main configuration for clocktrack.
type Config struct {
	DeviceID   string           `toml:"device_id"`
	EmployeeID string           `toml:"employee_id"`
	BaseDir    string           `toml:"base_dir"`
	LogDir     string           `toml:"log_dir"`
	Log        LogConfig        `toml:"log"`
	Database   DatabaseConfig   `toml:"database"`
	Remote     RemoteConfig     `toml:"remote"`
	Location   LocationConfig   `toml:"location"`
	Encryption EncryptionConfig `toml:"encryption"`
	Permission PermissionConfig `toml:"permission"`
	Tracking   TrackingConfig   `toml:"tracking"`
	Sync       SyncConfig       `toml:"sync"`
}

// Duration is a time.Duration written as a string ("90s", "5m") in TOML.
type Duration struct {
	time.Duration
}

// D is shorthand for building a Duration.
func D(d time.Duration) Duration { return Duration{d} }

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", string(text), err)
	}
	d.Duration = v
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// LogConfig controls log output.
type LogConfig struct {
	Format     string `toml:"format"` // "text" (default) or "json"
	Level      string `toml:"level"`  // "debug", "info" (default), "warn", "error"
	MaxSizeMB  int    `toml:"max_size_mb"`
	MaxBackups int    `toml:"max_backups"`
}

// EncryptionConfig holds paths to the age key pair used to encrypt uploads.
type EncryptionConfig struct {
	Type           string `toml:"type"` // "age", "test" or "none" (default)
	PublicKeyPath  string `toml:"public_key_path"`
	PrivateKeyPath string `toml:"private_key_path"`
}

// DatabaseConfig represents configuration for the local queue.
// This uses a tagged union pattern - the Type field determines which other fields are relevant.
type DatabaseConfig struct {
	Type    string `toml:"type"`               // "sqlite", "sqlite-purego" or "memory"
	DataDir string `toml:"data_dir,omitempty"` // only used for the file-backed types
}

// RemoteConfig represents the remote submission endpoint.
// This uses a tagged union pattern - the Type field determines which other fields are relevant.
type RemoteConfig struct {
	Type         string `toml:"type"` // "memory", "filesystem", "http", "s3", "postgres" or "redis"
	MaxBatchSize int    `toml:"max_batch_size,omitempty"`

	// HTTP-specific fields (only used when Type == "http")
	HTTPBaseURL string   `toml:"http_base_url,omitempty"`
	HTTPToken   string   `toml:"http_token,omitempty"`
	HTTPTimeout Duration `toml:"http_timeout,omitempty"`

	// S3-specific fields (only used when Type == "s3")
	S3Bucket   string `toml:"s3_bucket,omitempty"`
	S3Prefix   string `toml:"s3_prefix,omitempty"`
	S3Region   string `toml:"s3_region,omitempty"`
	S3Endpoint string `toml:"s3_endpoint,omitempty"`
	// Static credentials; when empty the default AWS credential chain is used.
	S3AccessKeyID     string `toml:"s3_access_key_id,omitempty"`
	S3SecretAccessKey string `toml:"s3_secret_access_key,omitempty"`

	// FileSystem-specific fields (only used when Type == "filesystem")
	FSRoot string `toml:"fs_root,omitempty"`

	// Postgres-specific fields (only used when Type == "postgres")
	PostgresDSN string `toml:"postgres_dsn,omitempty"`

	// Redis-specific fields (only used when Type == "redis")
	RedisAddr     string `toml:"redis_addr,omitempty"`
	RedisPassword string `toml:"redis_password,omitempty"`
	RedisDB       int    `toml:"redis_db,omitempty"`
	RedisStream   string `toml:"redis_stream,omitempty"`
}

// LocationConfig selects where fixes come from.
// This uses a tagged union pattern - the Type field determines which other fields are relevant.
type LocationConfig struct {
	Type string `toml:"type"` // "replay", "mqtt" or "websocket"

	// Replay-specific fields (only used when Type == "replay")
	ReplayFile  string   `toml:"replay_file,omitempty"`
	ReplayDelay Duration `toml:"replay_delay,omitempty"`

	// MQTT-specific fields (only used when Type == "mqtt")
	MQTTBroker   string `toml:"mqtt_broker,omitempty"`
	MQTTTopic    string `toml:"mqtt_topic,omitempty"`
	MQTTClientID string `toml:"mqtt_client_id,omitempty"`
	MQTTUsername string `toml:"mqtt_username,omitempty"`
	MQTTPassword string `toml:"mqtt_password,omitempty"`

	// WebSocket-specific fields (only used when Type == "websocket")
	WebSocketURL string `toml:"websocket_url,omitempty"`
}

// PermissionConfig points at the file holding the granted permission level.
type PermissionConfig struct {
	GrantFile string `toml:"grant_file"`
}

// TrackingConfig holds sampling cadence and platform selection.
type TrackingConfig struct {
	Platform            string   `toml:"platform"` // "android" or "ios"
	ActiveInterval      Duration `toml:"active_interval"`
	StationaryInterval  Duration `toml:"stationary_interval"`
	DistanceFilter      float64  `toml:"distance_filter"`
	MovementThreshold   float64  `toml:"movement_threshold"`
	StationaryAfter     Duration `toml:"stationary_after"`
	HealthTick          Duration `toml:"health_tick"`
	GPSLossAfter        Duration `toml:"gps_loss_after"`
	RecoveryBase        Duration `toml:"recovery_base"`
	RecoveryMax         Duration `toml:"recovery_max"`
	RecoveryReportEvery int      `toml:"recovery_report_every"`
	StopTimeout         Duration `toml:"stop_timeout"`
}

// SyncConfig holds upload batching, retry and retention settings.
type SyncConfig struct {
	BatchSize            int      `toml:"batch_size"`
	BackoffBase          Duration `toml:"backoff_base"`
	BackoffMax           Duration `toml:"backoff_max"`
	DataDebounce         Duration `toml:"data_debounce"`
	ConnectivityDebounce Duration `toml:"connectivity_debounce"`
	ConnectivityPoll     Duration `toml:"connectivity_poll"`
	DeleteOnSync         bool     `toml:"delete_on_sync"`
	RetentionDays        int      `toml:"retention_days"`
}

// DefaultTracking returns the sampling defaults.
func DefaultTracking() TrackingConfig {
	return TrackingConfig{
		Platform:            "android",
		ActiveInterval:      D(60 * time.Second),
		StationaryInterval:  D(300 * time.Second),
		MovementThreshold:   10,
		StationaryAfter:     D(30 * time.Second),
		HealthTick:          D(30 * time.Second),
		GPSLossAfter:        D(2 * time.Minute),
		RecoveryBase:        D(2 * time.Minute),
		RecoveryMax:         D(30 * time.Minute),
		RecoveryReportEvery: 5,
		StopTimeout:         D(5 * time.Second),
	}
}

// DefaultSync returns the upload defaults.
func DefaultSync() SyncConfig {
	return SyncConfig{
		BatchSize:            200,
		BackoffBase:          D(2 * time.Minute),
		BackoffMax:           D(time.Hour),
		DataDebounce:         D(5 * time.Second),
		ConnectivityDebounce: D(30 * time.Second),
		ConnectivityPoll:     D(15 * time.Second),
		RetentionDays:        7,
	}
}

// NewConfig creates a new Config with the provided values and default paths.
func NewConfig(deviceID, employeeID, baseDir string) *Config {
	return &Config{
		DeviceID:   deviceID,
		EmployeeID: employeeID,
		BaseDir:    baseDir,
		LogDir:     filepath.Join(baseDir, "log"),
		Log:        LogConfig{Format: "text", Level: "info", MaxSizeMB: 10, MaxBackups: 3},
		Database:   DatabaseConfig{Type: "sqlite", DataDir: filepath.Join(baseDir, "db")},
		Remote:     RemoteConfig{Type: "filesystem", FSRoot: filepath.Join(baseDir, "outbox")},
		Location:   LocationConfig{Type: "replay", ReplayFile: filepath.Join(baseDir, "fixes.jsonl")},
		Encryption: EncryptionConfig{
			Type:           "none",
			PublicKeyPath:  filepath.Join(baseDir, "keys", "clocktrack.pub"),
			PrivateKeyPath: filepath.Join(baseDir, "keys", "clocktrack.key"),
		},
		Permission: PermissionConfig{GrantFile: filepath.Join(baseDir, "permission")},
		Tracking:   DefaultTracking(),
		Sync:       DefaultSync(),
	}
}

// ApplyDefaults fills zero tracking and sync fields so a partial config file
// still yields usable settings.
func (c *Config) ApplyDefaults() {
	dt, ds := DefaultTracking(), DefaultSync()
	t, s := &c.Tracking, &c.Sync

	if t.Platform == "" {
		t.Platform = dt.Platform
	}
	setDuration(&t.ActiveInterval, dt.ActiveInterval)
	setDuration(&t.StationaryInterval, dt.StationaryInterval)
	setDuration(&t.StationaryAfter, dt.StationaryAfter)
	setDuration(&t.HealthTick, dt.HealthTick)
	setDuration(&t.GPSLossAfter, dt.GPSLossAfter)
	setDuration(&t.RecoveryBase, dt.RecoveryBase)
	setDuration(&t.RecoveryMax, dt.RecoveryMax)
	setDuration(&t.StopTimeout, dt.StopTimeout)
	if t.MovementThreshold == 0 {
		t.MovementThreshold = dt.MovementThreshold
	}
	if t.RecoveryReportEvery == 0 {
		t.RecoveryReportEvery = dt.RecoveryReportEvery
	}

	if s.BatchSize == 0 {
		s.BatchSize = ds.BatchSize
	}
	setDuration(&s.BackoffBase, ds.BackoffBase)
	setDuration(&s.BackoffMax, ds.BackoffMax)
	setDuration(&s.DataDebounce, ds.DataDebounce)
	setDuration(&s.ConnectivityDebounce, ds.ConnectivityDebounce)
	setDuration(&s.ConnectivityPoll, ds.ConnectivityPoll)

	if c.Log.Format == "" {
		c.Log.Format = "text"
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
}

func setDuration(d *Duration, def Duration) {
	if d.Duration == 0 {
		*d = def
	}
}

// Manager handles reading and writing configuration.
type Manager struct{}

// Read decodes a Config from the provided reader.
func (m *Manager) Read(r io.Reader) (*Config, error) {
	var cfg Config
	if _, err := toml.NewDecoder(r).Decode(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	cfg.ApplyDefaults()
	return &cfg, nil
}

// Write encodes a Config to the provided writer.
func (m *Manager) Write(w io.Writer, cfg *Config) error {
	if err := toml.NewEncoder(w).Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	return nil
}

// ReadFromFile reads a Config from the specified file path.
func ReadFromFile(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer f.Close()

	m := &Manager{}
	cfg, err := m.Read(f)
	if err != nil {
		return nil, fmt.Errorf("reading config from %s: %w", path, err)
	}
	return cfg, nil
}

func writeToFile(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	defer f.Close()

	m := &Manager{}
	if err := m.Write(f, cfg); err != nil {
		return fmt.Errorf("writing config to %s: %w", path, err)
	}
	return nil
}

// Init initializes a new config file at the specified path with the provided Config.
func Init(path string, cfg *Config) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists at %s", path)
	}

	if err := writeToFile(path, cfg); err != nil {
		return fmt.Errorf("initializing config: %w", err)
	}
	return nil
}
