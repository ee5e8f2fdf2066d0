package tracker

import (
	"context"
	"time"
)

// Fix is one raw position reading from a location provider.
type Fix struct {
	Latitude         float64
	Longitude        float64
	Accuracy         *float64
	Speed            *float64
	SpeedAccuracy    *float64
	Heading          *float64
	HeadingAccuracy  *float64
	Altitude         *float64
	AltitudeAccuracy *float64
	IsMocked         bool
	Timestamp        time.Time
}

// SubscriptionSettings are the platform-specific knobs for a live subscription.
type SubscriptionSettings struct {
	// DistanceFilter in meters. Zero delivers fixes while motionless.
	DistanceFilter float64
	// Interval is the requested delivery cadence.
	Interval time.Duration
	// PauseAutomatically lets the provider stop updates it considers idle.
	PauseAutomatically bool
	// Notification is shown while capture runs, empty for none.
	Notification string
}

// Subscription is one live stream of fixes. The channel is closed when the
// stream dies.
type Subscription interface {
	Fixes() <-chan Fix
	Close() error
}

// LocationProvider is the device location subsystem.
type LocationProvider interface {
	Subscribe(ctx context.Context, settings SubscriptionSettings) (Subscription, error)

	// CurrentPosition requests a fresh single-shot fix.
	CurrentPosition(ctx context.Context) (*Fix, error)

	// LastKnownPosition returns the provider's cached fix without disturbing
	// any live subscription. Returns nil, nil when nothing is cached.
	LastKnownPosition(ctx context.Context) (*Fix, error)
}

// PermissionLevel is the granted location permission class.
type PermissionLevel int

const (
	PermissionDenied PermissionLevel = iota
	PermissionWhenInUse
	PermissionAlways
)

func (l PermissionLevel) String() string {
	switch l {
	case PermissionWhenInUse:
		return "when_in_use"
	case PermissionAlways:
		return "always"
	default:
		return "denied"
	}
}

// ParsePermissionLevel parses the names returned by String.
func ParsePermissionLevel(s string) PermissionLevel {
	switch s {
	case "always":
		return PermissionAlways
	case "when_in_use":
		return PermissionWhenInUse
	default:
		return PermissionDenied
	}
}

// PermissionSurface exposes the current permission level and a request flow.
type PermissionSurface interface {
	Level(ctx context.Context) (PermissionLevel, error)
	Request(ctx context.Context, level PermissionLevel) (PermissionLevel, error)
}

// ConnectivityStatus is the last observed reachability of the remote service.
type ConnectivityStatus int

const (
	ConnectivityUnknown ConnectivityStatus = iota
	ConnectivityOffline
	ConnectivityOnline
)

func (s ConnectivityStatus) String() string {
	switch s {
	case ConnectivityOnline:
		return "online"
	case ConnectivityOffline:
		return "offline"
	default:
		return "unknown"
	}
}

// Connectivity reports reachability. Unknown counts as offline.
type Connectivity interface {
	Status() ConnectivityStatus
}

// SyncTrigger is notified when new records become pending.
type SyncTrigger interface {
	DataPending()
}
