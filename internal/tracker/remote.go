package tracker

import (
	"context"
	"errors"
	"fmt"

	"clocktrack/internal/model"
)

// Outcome classifies what happened to one submitted record.
type Outcome int

const (
	OutcomeInserted Outcome = iota
	OutcomeDuplicate
	OutcomeTransient
	OutcomePermanent
	OutcomeUnauthorized
)

func (o Outcome) String() string {
	switch o {
	case OutcomeInserted:
		return "inserted"
	case OutcomeDuplicate:
		return "duplicate"
	case OutcomeTransient:
		return "transient"
	case OutcomePermanent:
		return "permanent"
	case OutcomeUnauthorized:
		return "unauthorized"
	}
	return fmt.Sprintf("outcome(%d)", int(o))
}

// Synced reports whether the server now holds the record.
func (o Outcome) Synced() bool {
	return o == OutcomeInserted || o == OutcomeDuplicate
}

// Batch is one upload of records of a single type.
type Batch struct {
	Type    model.RecordType
	Records []Record
}

// RecordResult is the server's verdict on one record.
type RecordResult struct {
	ID      string
	Outcome Outcome
	Code    string
	Message string
}

// BatchResult carries per-batch counts and, when the sink can report them,
// per-record results. Sinks that only return counts leave Results empty.
type BatchResult struct {
	Inserted   int
	Duplicates int
	Errors     int
	Results    []RecordResult
}

// Limits are the server-declared upload constraints.
type Limits struct {
	MaxBatchSize int
}

// Submitter is the remote submission endpoint.
type Submitter interface {
	Limits(ctx context.Context) (Limits, error)
	Submit(ctx context.Context, batch Batch) (BatchResult, error)
	// Ping checks that the service is reachable.
	Ping(ctx context.Context) error
}

// SubmitError is a classified failure of a whole submission.
type SubmitError struct {
	Outcome Outcome
	Code    string
	Message string
	Err     error
}

func (e *SubmitError) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if e.Code != "" {
		return fmt.Sprintf("%s (%s): %s", e.Outcome, e.Code, msg)
	}
	return fmt.Sprintf("%s: %s", e.Outcome, msg)
}

func (e *SubmitError) Unwrap() error { return e.Err }

// OutcomeOf classifies an error returned by a Submitter. Unclassified errors
// are treated as transient.
func OutcomeOf(err error) Outcome {
	var se *SubmitError
	if errors.As(err, &se) {
		return se.Outcome
	}
	return OutcomeTransient
}
