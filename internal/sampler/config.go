package sampler

import (
	"encoding/json"
	"fmt"
	"time"

	"clocktrack/internal/config"
)

// Config is everything the sampler loads on start. It is persisted with the
// capture context so a restarted process resumes with the same settings.
type Config struct {
	ShiftID    string `json:"shift_id"`
	EmployeeID string `json:"employee_id"`
	DeviceID   string `json:"device_id"`

	ActiveInterval     time.Duration `json:"active_interval"`
	StationaryInterval time.Duration `json:"stationary_interval"`
	// DistanceFilter is requested from the provider; platforms that would
	// suppress motionless updates override it with zero.
	DistanceFilter    float64       `json:"distance_filter"`
	MovementThreshold float64       `json:"movement_threshold"`
	StationaryAfter   time.Duration `json:"stationary_after"`

	HealthTick          time.Duration `json:"health_tick"`
	GPSLossAfter        time.Duration `json:"gps_loss_after"`
	RecoveryBase        time.Duration `json:"recovery_base"`
	RecoveryMax         time.Duration `json:"recovery_max"`
	RecoveryReportEvery int           `json:"recovery_report_every"`
}

// FromTracking builds a config from the tracking section of the config file.
func FromTracking(t config.TrackingConfig, deviceID string) Config {
	return Config{
		DeviceID:            deviceID,
		ActiveInterval:      t.ActiveInterval.Duration,
		StationaryInterval:  t.StationaryInterval.Duration,
		DistanceFilter:      t.DistanceFilter,
		MovementThreshold:   t.MovementThreshold,
		StationaryAfter:     t.StationaryAfter.Duration,
		HealthTick:          t.HealthTick.Duration,
		GPSLossAfter:        t.GPSLossAfter.Duration,
		RecoveryBase:        t.RecoveryBase.Duration,
		RecoveryMax:         t.RecoveryMax.Duration,
		RecoveryReportEvery: t.RecoveryReportEvery,
	}.WithDefaults()
}

// WithDefaults fills zero fields.
func (c Config) WithDefaults() Config {
	d := DefaultConfig()
	if c.ActiveInterval <= 0 {
		c.ActiveInterval = d.ActiveInterval
	}
	if c.StationaryInterval <= 0 {
		c.StationaryInterval = d.StationaryInterval
	}
	if c.MovementThreshold <= 0 {
		c.MovementThreshold = d.MovementThreshold
	}
	if c.StationaryAfter <= 0 {
		c.StationaryAfter = d.StationaryAfter
	}
	if c.HealthTick <= 0 {
		c.HealthTick = d.HealthTick
	}
	if c.GPSLossAfter <= 0 {
		c.GPSLossAfter = d.GPSLossAfter
	}
	if c.RecoveryBase <= 0 {
		c.RecoveryBase = d.RecoveryBase
	}
	if c.RecoveryMax <= 0 {
		c.RecoveryMax = d.RecoveryMax
	}
	if c.RecoveryReportEvery <= 0 {
		c.RecoveryReportEvery = d.RecoveryReportEvery
	}
	return c
}

// DefaultConfig returns the built-in cadence.
func DefaultConfig() Config {
	t := config.DefaultTracking()
	return Config{
		ActiveInterval:      t.ActiveInterval.Duration,
		StationaryInterval:  t.StationaryInterval.Duration,
		DistanceFilter:      t.DistanceFilter,
		MovementThreshold:   t.MovementThreshold,
		StationaryAfter:     t.StationaryAfter.Duration,
		HealthTick:          t.HealthTick.Duration,
		GPSLossAfter:        t.GPSLossAfter.Duration,
		RecoveryBase:        t.RecoveryBase.Duration,
		RecoveryMax:         t.RecoveryMax.Duration,
		RecoveryReportEvery: t.RecoveryReportEvery,
	}
}

// Validate checks the fields that must be set before sampling.
func (c Config) Validate() error {
	if c.ShiftID == "" || c.EmployeeID == "" {
		return fmt.Errorf("sampler config requires shift and employee")
	}
	if c.StationaryInterval < c.ActiveInterval {
		return fmt.Errorf("stationary interval %s shorter than active interval %s", c.StationaryInterval, c.ActiveInterval)
	}
	if c.RecoveryMax < c.RecoveryBase {
		return fmt.Errorf("recovery cap %s below base %s", c.RecoveryMax, c.RecoveryBase)
	}
	return nil
}

// Marshal encodes the config for the capture context.
func (c Config) Marshal() (json.RawMessage, error) {
	data, err := json.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("encoding sampler config: %w", err)
	}
	return data, nil
}

// Unmarshal decodes a persisted config.
func Unmarshal(data json.RawMessage) (Config, error) {
	var c Config
	if err := json.Unmarshal(data, &c); err != nil {
		return Config{}, fmt.Errorf("decoding sampler config: %w", err)
	}
	return c.WithDefaults(), nil
}

// RecoveryDelay is the wait before stream-recovery attempt n (1-based):
// base doubling per attempt, capped at max.
func (c Config) RecoveryDelay(n int) time.Duration {
	if n < 1 {
		n = 1
	}
	d := c.RecoveryBase
	for i := 1; i < n; i++ {
		d *= 2
		if d >= c.RecoveryMax {
			return c.RecoveryMax
		}
	}
	if d > c.RecoveryMax {
		return c.RecoveryMax
	}
	return d
}
