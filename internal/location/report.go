// Package location provides LocationProvider implementations that receive
// fixes from outside the process: a replayed track file, an MQTT topic, or
// a websocket feed.
package location

import (
	"encoding/json"
	"fmt"
	"time"

	"clocktrack/internal/tracker"
)

// Report is the OwnTracks-style location message all providers accept.
// Non-location messages (_type other than "location") are ignored.
type Report struct {
	Type      string   `json:"_type"`
	Latitude  float64  `json:"lat"`
	Longitude float64  `json:"lon"`
	Accuracy  *float64 `json:"acc,omitempty"`
	Velocity  *float64 `json:"vel,omitempty"` // km/h
	Course    *float64 `json:"cog,omitempty"` // degrees
	Altitude  *float64 `json:"alt,omitempty"`
	VAccuracy *float64 `json:"vac,omitempty"`
	Timestamp int64    `json:"tst,omitempty"` // unix seconds
	Mocked    bool     `json:"mocked,omitempty"`
}

// DecodeReport parses one message. ok is false for messages that carry no
// position.
func DecodeReport(data []byte) (fix tracker.Fix, ok bool, err error) {
	var r Report
	if err := json.Unmarshal(data, &r); err != nil {
		return tracker.Fix{}, false, fmt.Errorf("decoding location report: %w", err)
	}
	if r.Type != "" && r.Type != "location" {
		return tracker.Fix{}, false, nil
	}
	return r.Fix(), true, nil
}

// Fix converts the report. Velocity is converted from km/h to m/s.
func (r Report) Fix() tracker.Fix {
	f := tracker.Fix{
		Latitude:         r.Latitude,
		Longitude:        r.Longitude,
		Accuracy:         r.Accuracy,
		Heading:          r.Course,
		Altitude:         r.Altitude,
		AltitudeAccuracy: r.VAccuracy,
		IsMocked:         r.Mocked,
	}
	if r.Velocity != nil {
		mps := *r.Velocity / 3.6
		f.Speed = &mps
	}
	if r.Timestamp > 0 {
		f.Timestamp = time.Unix(r.Timestamp, 0).UTC()
	}
	return f
}
