package supervisor

import (
	"fmt"

	"clocktrack/internal/sampler"
	"clocktrack/internal/tracker"
)

// Platform builds the background-location settings for one OS model.
type Platform interface {
	Name() string
	// SubscriptionSettings returns the live subscription settings for cfg.
	SubscriptionSettings(cfg sampler.Config) tracker.SubscriptionSettings
	// RequiredPermission is the permission level continuous capture needs.
	RequiredPermission() tracker.PermissionLevel
}

// Android models a foreground service: capture keeps running while a
// persistent notification is shown.
type Android struct{}

func (Android) Name() string { return "android" }

func (Android) SubscriptionSettings(cfg sampler.Config) tracker.SubscriptionSettings {
	return tracker.SubscriptionSettings{
		// A nonzero filter suppresses updates while motionless; the sampler
		// throttles instead.
		DistanceFilter: 0,
		Interval:       cfg.ActiveInterval,
		Notification:   "Recording location for your shift",
	}
}

func (Android) RequiredPermission() tracker.PermissionLevel { return tracker.PermissionAlways }

// IOS models background location updates: no notification, and automatic
// pausing must stay off or the OS stops delivering fixes at rest.
type IOS struct{}

func (IOS) Name() string { return "ios" }

func (IOS) SubscriptionSettings(cfg sampler.Config) tracker.SubscriptionSettings {
	return tracker.SubscriptionSettings{
		DistanceFilter:     0,
		Interval:           cfg.ActiveInterval,
		PauseAutomatically: false,
	}
}

func (IOS) RequiredPermission() tracker.PermissionLevel { return tracker.PermissionAlways }

// PlatformFor selects a platform by its configured name.
func PlatformFor(name string) (Platform, error) {
	switch name {
	case "", "android":
		return Android{}, nil
	case "ios":
		return IOS{}, nil
	default:
		return nil, fmt.Errorf("unsupported platform: %s", name)
	}
}

var (
	_ Platform = Android{}
	_ Platform = IOS{}
)
