package app

import "time"

// Operation tracks the CLI command being run. Its ID tags every log line
// the command writes.
type Operation struct {
	Name       string
	Parameters string
	StartedAt  time.Time
	Status     string // "success" or "error"
}

// NewOperation creates an operation started at now.
func NewOperation(name, parameters string, now time.Time) *Operation {
	return &Operation{
		Name:       name,
		Parameters: parameters,
		StartedAt:  now,
		Status:     "success",
	}
}

// ID is the start time in UTC, unique enough to tell runs apart in a log.
func (op *Operation) ID() string {
	return op.StartedAt.UTC().Format("20060102T150405Z")
}

// Fail marks the operation as failed when err is non-nil and returns err.
func (op *Operation) Fail(err error) error {
	if err != nil {
		op.Status = "error"
	}
	return err
}
