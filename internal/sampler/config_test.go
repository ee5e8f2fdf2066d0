package sampler

import (
	"testing"
	"time"

	"clocktrack/internal/config"
)

func TestRecoveryDelay(t *testing.T) {
	cfg := DefaultConfig()
	want := []time.Duration{
		2 * time.Minute, 4 * time.Minute, 8 * time.Minute, 16 * time.Minute,
		30 * time.Minute, 30 * time.Minute,
	}
	for i, w := range want {
		if got := cfg.RecoveryDelay(i + 1); got != w {
			t.Errorf("RecoveryDelay(%d) = %v, want %v", i+1, got, w)
		}
	}

	prev := time.Duration(0)
	for n := 1; n < 100; n++ {
		d := cfg.RecoveryDelay(n)
		if d < prev || d > cfg.RecoveryMax {
			t.Fatalf("RecoveryDelay(%d) = %v after %v, cap %v", n, d, prev, cfg.RecoveryMax)
		}
		prev = d
	}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"valid", func(*Config) {}, false},
		{"no shift", func(c *Config) { c.ShiftID = "" }, true},
		{"no employee", func(c *Config) { c.EmployeeID = "" }, true},
		{"stationary faster than active", func(c *Config) { c.StationaryInterval = 30 * time.Second }, true},
		{"recovery cap below base", func(c *Config) { c.RecoveryMax = time.Minute }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := DefaultConfig()
			c.ShiftID, c.EmployeeID = "s", "e"
			tt.mutate(&c)
			if err := c.Validate(); (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestFromTracking(t *testing.T) {
	tr := config.DefaultTracking()
	tr.ActiveInterval = config.D(45 * time.Second)
	tr.RecoveryReportEvery = 0

	c := FromTracking(tr, "dev-9")
	if c.ActiveInterval != 45*time.Second {
		t.Errorf("ActiveInterval = %v, want 45s", c.ActiveInterval)
	}
	if c.RecoveryReportEvery != 5 {
		t.Errorf("RecoveryReportEvery = %d, want default 5", c.RecoveryReportEvery)
	}
	if c.DeviceID != "dev-9" {
		t.Errorf("DeviceID = %q, want dev-9", c.DeviceID)
	}
}

func TestConfigRoundTripKeepsIdentity(t *testing.T) {
	c := DefaultConfig()
	c.ShiftID, c.EmployeeID, c.DeviceID = "s", "e", "d"
	c.StationaryInterval = 10 * time.Minute

	data, err := c.Marshal()
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	got, err := Unmarshal(data)
	if err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if got != c {
		t.Errorf("Unmarshal() = %+v, want %+v", got, c)
	}
}

func TestDistance(t *testing.T) {
	// One thousandth of a degree of latitude is about 111 m.
	d := distance(officeLat, officeLon, officeLat+0.001, officeLon)
	if d < 110 || d > 112 {
		t.Errorf("distance = %.2f m, want ~111", d)
	}
	if d := distance(officeLat, officeLon, officeLat, officeLon); d != 0 {
		t.Errorf("distance to self = %v, want 0", d)
	}
}
