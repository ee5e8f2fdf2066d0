package location

import (
	"fmt"
	"io"

	"clocktrack/internal/config"
	"clocktrack/internal/tracker"
)

// Provider is a LocationProvider that holds a connection or goroutine.
type Provider interface {
	tracker.LocationProvider
	io.Closer
}

// NewProviderFromConfig creates a location provider based on the config type.
func NewProviderFromConfig(cfg config.LocationConfig, clock tracker.Clock, logger tracker.Logger) (Provider, error) {
	switch cfg.Type {
	case "replay":
		if cfg.ReplayFile == "" {
			return nil, fmt.Errorf("replay location requires replay_file to be set")
		}
		return orNil(NewReplayProvider(cfg.ReplayFile, cfg.ReplayDelay.Duration, clock, logger))
	case "mqtt":
		return orNil(NewMQTTProvider(cfg, logger))
	case "websocket":
		return orNil(NewWebSocketProvider(cfg.WebSocketURL, logger))
	default:
		return nil, fmt.Errorf("unknown location type: %s", cfg.Type)
	}
}

// orNil keeps a failed constructor from returning a typed nil inside a
// non-nil interface.
func orNil[P Provider](p P, err error) (Provider, error) {
	if err != nil {
		return nil, err
	}
	return p, nil
}
