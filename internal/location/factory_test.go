package location

import (
	"testing"

	"clocktrack/internal/config"
	"clocktrack/internal/tracker"
)

func TestNewProviderFromConfig(t *testing.T) {
	trackFile := writeTrack(t, track)

	tests := []struct {
		name    string
		cfg     config.LocationConfig
		wantErr bool
	}{
		{"replay", config.LocationConfig{Type: "replay", ReplayFile: trackFile}, false},
		{"replay without file", config.LocationConfig{Type: "replay"}, true},
		{"mqtt", config.LocationConfig{Type: "mqtt", MQTTBroker: "tcp://localhost:1883", MQTTTopic: "owntracks/+/+"}, false},
		{"websocket", config.LocationConfig{Type: "websocket", WebSocketURL: "ws://localhost:8080/feed"}, false},
		{"unknown", config.LocationConfig{Type: "gnss-serial"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := NewProviderFromConfig(tt.cfg, tracker.RealClock{}, tracker.NewNopLogger())
			if (err != nil) != tt.wantErr {
				t.Fatalf("NewProviderFromConfig() error = %v, wantErr %v", err, tt.wantErr)
			}
			if p != nil {
				p.Close()
			}
		})
	}
}
