package supervisor

import (
	"testing"

	"clocktrack/internal/sampler"
	"clocktrack/internal/tracker"
)

func TestPlatformFor(t *testing.T) {
	tests := []struct {
		name    string
		want    string
		wantErr bool
	}{
		{"", "android", false},
		{"android", "android", false},
		{"ios", "ios", false},
		{"symbian", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := PlatformFor(tt.name)
			if (err != nil) != tt.wantErr {
				t.Fatalf("PlatformFor() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err == nil && p.Name() != tt.want {
				t.Errorf("Name() = %q, want %q", p.Name(), tt.want)
			}
		})
	}
}

func TestPlatformSettings(t *testing.T) {
	cfg := sampler.DefaultConfig()
	cfg.DistanceFilter = 25

	for _, p := range []Platform{Android{}, IOS{}} {
		t.Run(p.Name(), func(t *testing.T) {
			s := p.SubscriptionSettings(cfg)
			if s.DistanceFilter != 0 {
				t.Errorf("DistanceFilter = %v, want 0", s.DistanceFilter)
			}
			if s.PauseAutomatically {
				t.Error("PauseAutomatically = true")
			}
			if s.Interval != cfg.ActiveInterval {
				t.Errorf("Interval = %v, want %v", s.Interval, cfg.ActiveInterval)
			}
			if p.RequiredPermission() != tracker.PermissionAlways {
				t.Errorf("RequiredPermission() = %v, want always", p.RequiredPermission())
			}
		})
	}

	if (IOS{}).SubscriptionSettings(cfg).Notification != "" {
		t.Error("ios settings carry a notification")
	}
}
