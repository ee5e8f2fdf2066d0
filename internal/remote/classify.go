package remote

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"

	"clocktrack/internal/tracker"
)

// DefaultMaxBatchSize is the largest batch any sink accepts.
const DefaultMaxBatchSize = 200

// Classify maps an HTTP status code onto a submission outcome.
func Classify(status int) tracker.Outcome {
	switch {
	case status >= 200 && status < 300:
		return tracker.OutcomeInserted
	case status == http.StatusUnauthorized, status == http.StatusForbidden:
		return tracker.OutcomeUnauthorized
	case status == http.StatusBadRequest, status == http.StatusConflict, status == http.StatusUnprocessableEntity:
		return tracker.OutcomePermanent
	case status == http.StatusTooManyRequests, status == http.StatusRequestTimeout, status >= 500:
		return tracker.OutcomeTransient
	case status >= 400:
		return tracker.OutcomePermanent
	}
	return tracker.OutcomeTransient
}

// StatusError builds a classified error for a failed HTTP exchange.
func StatusError(status int, message string) *tracker.SubmitError {
	return &tracker.SubmitError{
		Outcome: Classify(status),
		Code:    strconv.Itoa(status),
		Message: message,
	}
}

// TransportError wraps a network-level failure. Network errors and timeouts
// are always transient; context cancellation is passed through unchanged.
func TransportError(op string, err error) error {
	if errors.Is(err, context.Canceled) {
		return err
	}
	msg := fmt.Sprintf("%s: %v", op, err)
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return &tracker.SubmitError{Outcome: tracker.OutcomeTransient, Code: "timeout", Message: msg, Err: err}
	}
	return &tracker.SubmitError{Outcome: tracker.OutcomeTransient, Code: "network", Message: msg, Err: err}
}

// Rejected builds a per-record permanent failure.
func Rejected(id, code, message string) tracker.RecordResult {
	return tracker.RecordResult{ID: id, Outcome: tracker.OutcomePermanent, Code: code, Message: message}
}

// tally fills the batch counters from per-record results.
func tally(results []tracker.RecordResult) tracker.BatchResult {
	br := tracker.BatchResult{Results: results}
	for _, r := range results {
		switch r.Outcome {
		case tracker.OutcomeInserted:
			br.Inserted++
		case tracker.OutcomeDuplicate:
			br.Duplicates++
		default:
			br.Errors++
		}
	}
	return br
}

func batchLimit(configured int) int {
	if configured <= 0 || configured > DefaultMaxBatchSize {
		return DefaultMaxBatchSize
	}
	return configured
}
