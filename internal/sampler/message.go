package sampler

import (
	"time"

	"clocktrack/internal/model"
)

// MessageKind identifies what a sampler message reports.
type MessageKind int

const (
	MsgStarted MessageKind = iota
	MsgPointCaptured
	MsgHeartbeat
	MsgGpsLost
	MsgGpsRestored
	MsgStreamRecovered
	MsgStreamRecoveryFailing
	MsgStopped
)

func (k MessageKind) String() string {
	switch k {
	case MsgStarted:
		return "started"
	case MsgPointCaptured:
		return "point_captured"
	case MsgHeartbeat:
		return "heartbeat"
	case MsgGpsLost:
		return "gps_lost"
	case MsgGpsRestored:
		return "gps_restored"
	case MsgStreamRecovered:
		return "stream_recovered"
	case MsgStreamRecoveryFailing:
		return "stream_recovery_failing"
	case MsgStopped:
		return "stopped"
	}
	return "unknown"
}

// Message is a value sent from the sampler to its supervisor. It carries no
// references into sampler state.
type Message struct {
	Kind       MessageKind
	At         time.Time
	ShiftID    string
	EmployeeID string

	// Point is set for MsgPointCaptured.
	Point model.GpsPoint

	PointCount int
	Stationary bool

	// Gap bounds for MsgGpsLost (start only) and MsgGpsRestored.
	GapStartedAt time.Time
	GapEndedAt   time.Time

	// Attempt is the recovery attempt number for stream messages.
	Attempt int
	Error   string
}

// Status is the sampler's answer to a QueryStatus command.
type Status struct {
	Running          bool
	PointCount       int
	Stationary       bool
	GpsLost          bool
	LastFixAt        time.Time
	LastCaptureAt    time.Time
	RecoveryAttempts int
	Config           Config
}

// Command is a request sent from the supervisor to the sampler.
type Command interface {
	command()
}

// UpdateConfig replaces the cadence settings. Shift and employee are kept.
type UpdateConfig struct {
	Config Config
}

// QueryStatus asks for a Status on Reply. Reply should be buffered.
type QueryStatus struct {
	Reply chan<- Status
}

func (UpdateConfig) command() {}
func (QueryStatus) command()  {}
