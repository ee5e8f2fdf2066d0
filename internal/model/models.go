package model

import (
	"encoding/json"
	"fmt"
	"time"
)

// SyncStatus is the upload state of a locally queued record.
type SyncStatus string

const (
	SyncPending SyncStatus = "pending"
	SyncSyncing SyncStatus = "syncing"
	SyncSynced  SyncStatus = "synced"
	SyncError   SyncStatus = "error"
)

// CanTransition reports whether a record may move from s to next.
// Status only advances pending → syncing → {synced|error}; the single
// backward move is syncing → pending when an upload is aborted.
func (s SyncStatus) CanTransition(next SyncStatus) bool {
	switch s {
	case SyncPending:
		return next == SyncSyncing
	case SyncSyncing:
		return next == SyncSynced || next == SyncError || next == SyncPending
	case SyncError:
		// A quarantined record re-enters the queue only through an explicit retry.
		return next == SyncPending
	default:
		return false
	}
}

// RecordType identifies the kind of record carried in a sync batch.
type RecordType string

const (
	RecordShift           RecordType = "shift"
	RecordGpsPoint        RecordType = "gps_point"
	RecordGpsGap          RecordType = "gps_gap"
	RecordDiagnosticEvent RecordType = "diagnostic_event"
)

// RecordTypes lists every record type in upload order. Shifts go first so the
// server already knows the shift when its points arrive.
var RecordTypes = []RecordType{RecordShift, RecordGpsPoint, RecordGpsGap, RecordDiagnosticEvent}

// ParseRecordType validates a record type name.
func ParseRecordType(s string) (RecordType, error) {
	for _, t := range RecordTypes {
		if string(t) == s {
			return t, nil
		}
	}
	return "", fmt.Errorf("unknown record type: %q", s)
}

// Location is a single lat/lon reading with optional accuracy in meters.
type Location struct {
	Latitude  float64  `json:"latitude"`
	Longitude float64  `json:"longitude"`
	Accuracy  *float64 `json:"accuracy,omitempty"`
}

// Validate checks the coordinate ranges.
func (l Location) Validate() error {
	if l.Latitude < -90 || l.Latitude > 90 {
		return fmt.Errorf("latitude out of range: %f", l.Latitude)
	}
	if l.Longitude < -180 || l.Longitude > 180 {
		return fmt.Errorf("longitude out of range: %f", l.Longitude)
	}
	if l.Accuracy != nil && *l.Accuracy < 0 {
		return fmt.Errorf("negative accuracy: %f", *l.Accuracy)
	}
	return nil
}

// GpsPoint is one captured position. Everything except SyncStatus is
// immutable once the point has been written to the queue.
type GpsPoint struct {
	ID               string     `json:"id"` // client-generated UUID
	ShiftID          string     `json:"shift_id"`
	EmployeeID       string     `json:"employee_id"`
	Latitude         float64    `json:"latitude"`
	Longitude        float64    `json:"longitude"`
	Accuracy         *float64   `json:"accuracy,omitempty"` // meters
	CapturedAt       time.Time  `json:"captured_at"`
	Speed            *float64   `json:"speed,omitempty"` // m/s
	SpeedAccuracy    *float64   `json:"speed_accuracy,omitempty"`
	Heading          *float64   `json:"heading,omitempty"` // degrees
	HeadingAccuracy  *float64   `json:"heading_accuracy,omitempty"`
	Altitude         *float64   `json:"altitude,omitempty"` // meters
	AltitudeAccuracy *float64   `json:"altitude_accuracy,omitempty"`
	IsMocked         bool       `json:"is_mocked"`
	DeviceID         string     `json:"device_id"`
	SyncStatus       SyncStatus `json:"-"`
}

// Location returns the point's position.
func (p *GpsPoint) Location() Location {
	return Location{Latitude: p.Latitude, Longitude: p.Longitude, Accuracy: p.Accuracy}
}

// Validate checks the fields the server will reject.
func (p *GpsPoint) Validate() error {
	if p.ID == "" {
		return fmt.Errorf("gps point has no id")
	}
	if p.ShiftID == "" {
		return fmt.Errorf("gps point %s has no shift", p.ID)
	}
	if p.CapturedAt.IsZero() {
		return fmt.Errorf("gps point %s has no capture time", p.ID)
	}
	return p.Location().Validate()
}

// GapReason explains why a GpsGap was opened.
type GapReason string

const (
	GapSignalLoss GapReason = "signal_loss"
)

// GpsGap is an interval during a shift in which no fixes arrived.
type GpsGap struct {
	ID         string     `json:"id"`
	ShiftID    string     `json:"shift_id"`
	EmployeeID string     `json:"employee_id"`
	StartedAt  time.Time  `json:"started_at"`
	EndedAt    *time.Time `json:"ended_at,omitempty"` // nil while the gap is open
	Reason     GapReason  `json:"reason"`
	SyncStatus SyncStatus `json:"-"`
}

// IsOpen reports whether the gap has not been closed yet.
func (g *GpsGap) IsOpen() bool {
	return g.EndedAt == nil
}

// Close sets the gap's end. An end before the start is rejected.
func (g *GpsGap) Close(endedAt time.Time) error {
	if endedAt.Before(g.StartedAt) {
		return fmt.Errorf("gap %s: end %s before start %s", g.ID, endedAt.Format(time.RFC3339), g.StartedAt.Format(time.RFC3339))
	}
	g.EndedAt = &endedAt
	return nil
}

// Duration returns the length of a closed gap, or zero while open.
func (g *GpsGap) Duration() time.Duration {
	if g.EndedAt == nil {
		return 0
	}
	return g.EndedAt.Sub(g.StartedAt)
}

// ShiftStatus is the lifecycle state of a work shift.
type ShiftStatus string

const (
	ShiftActive    ShiftStatus = "active"
	ShiftCompleted ShiftStatus = "completed"
)

// Shift is one clock-in/clock-out period for an employee. At most one
// active shift may exist per employee.
type Shift struct {
	ID               string      `json:"id"`
	EmployeeID       string      `json:"employee_id"`
	Status           ShiftStatus `json:"status"`
	ClockInAt        time.Time   `json:"clock_in_at"`
	ClockInLocation  Location    `json:"clock_in_location"`
	ClockOutAt       *time.Time  `json:"clock_out_at,omitempty"`
	ClockOutLocation *Location   `json:"clock_out_location,omitempty"`
	SyncStatus       SyncStatus  `json:"-"`
}

// Validate enforces that a completed shift carries its clock-out data.
func (s *Shift) Validate() error {
	if s.ID == "" || s.EmployeeID == "" {
		return fmt.Errorf("shift requires id and employee")
	}
	if err := s.ClockInLocation.Validate(); err != nil {
		return fmt.Errorf("shift %s clock-in: %w", s.ID, err)
	}
	switch s.Status {
	case ShiftActive:
		return nil
	case ShiftCompleted:
		if s.ClockOutAt == nil || s.ClockOutLocation == nil {
			return fmt.Errorf("completed shift %s missing clock-out time or location", s.ID)
		}
		if s.ClockOutAt.Before(s.ClockInAt) {
			return fmt.Errorf("shift %s clocks out before it clocks in", s.ID)
		}
		return s.ClockOutLocation.Validate()
	default:
		return fmt.Errorf("shift %s has unknown status %q", s.ID, s.Status)
	}
}

// EventKind names a diagnostic event emitted by the tracking core.
type EventKind string

const (
	EventTrackingStarted       EventKind = "tracking_started"
	EventTrackingStopped       EventKind = "tracking_stopped"
	EventGpsLost               EventKind = "gps_lost"
	EventGpsRestored           EventKind = "gps_restored"
	EventStreamRecovery        EventKind = "stream_recovery"
	EventStreamRecoveryFailing EventKind = "stream_recovery_failing"
	EventWatchdogRestart       EventKind = "watchdog_restart"
	EventHeartbeat             EventKind = "heartbeat"
)

// DiagnosticEvent records something that happened to tracking during a
// shift, uploaded alongside points so the backend can explain holes.
type DiagnosticEvent struct {
	ID         string          `json:"id"`
	ShiftID    string          `json:"shift_id,omitempty"`
	EmployeeID string          `json:"employee_id,omitempty"`
	Kind       EventKind       `json:"kind"`
	Payload    json.RawMessage `json:"payload,omitempty"`
	OccurredAt time.Time       `json:"occurred_at"`
	SyncStatus SyncStatus      `json:"-"`
}

// ReviewStatus is the manual review state of a quarantined record.
type ReviewStatus string

const (
	ReviewPending   ReviewStatus = "pending"
	ReviewRetrying  ReviewStatus = "retrying"
	ReviewResolved  ReviewStatus = "resolved"
	ReviewDiscarded ReviewStatus = "discarded"
)

// QuarantinedRecord holds a record the sync engine gave up on.
type QuarantinedRecord struct {
	ID              string
	RecordType      RecordType
	RecordID        string
	Snapshot        json.RawMessage // frozen copy of the record at quarantine time
	ErrorCode       string
	ErrorMessage    string
	QuarantinedAt   time.Time
	ReviewStatus    ReviewStatus
	ResolutionNotes string
	RetryCount      int
}

// CaptureContext is what the supervisor persists so tracking can resume
// after the process dies.
type CaptureContext struct {
	ShiftID     string
	EmployeeID  string
	Config      json.RawMessage // sampler config as started
	StartedAt   time.Time
	HeartbeatAt time.Time
	PointCount  int
}
