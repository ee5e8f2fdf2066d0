package model

import (
	"fmt"
	"time"
)

// MetadataStatus is the overall sync state shown to the user.
type MetadataStatus string

const (
	StatusIdle         MetadataStatus = "idle"
	StatusPending      MetadataStatus = "pending"
	StatusSyncing      MetadataStatus = "syncing"
	StatusSynced       MetadataStatus = "synced"
	StatusError        MetadataStatus = "error"
	StatusAuthRequired MetadataStatus = "auth_required"
)

// PendingCounts is the number of unsynced records per type.
type PendingCounts struct {
	Shifts int
	Points int
	Gaps   int
	Events int
}

// Total returns the sum across all types.
func (c PendingCounts) Total() int {
	return c.Shifts + c.Points + c.Gaps + c.Events
}

// For returns the count for one record type.
func (c PendingCounts) For(t RecordType) int {
	switch t {
	case RecordShift:
		return c.Shifts
	case RecordGpsPoint:
		return c.Points
	case RecordGpsGap:
		return c.Gaps
	case RecordDiagnosticEvent:
		return c.Events
	}
	return 0
}

// SyncMetadata is the singleton sync state row. Only the sync engine writes it.
type SyncMetadata struct {
	Status              MetadataStatus
	LastAttemptAt       *time.Time
	LastSuccessAt       *time.Time
	ConsecutiveFailures int
	CurrentBackoff      time.Duration
	BackoffUntil        *time.Time
	InProgress          bool
	LastError           string
	Pending             PendingCounts
}

// NewSyncMetadata returns the state of a queue that has never synced.
func NewSyncMetadata() *SyncMetadata {
	return &SyncMetadata{Status: StatusIdle}
}

// Validate checks that the failure streak and backoff agree.
func (m *SyncMetadata) Validate() error {
	if m.ConsecutiveFailures < 0 {
		return fmt.Errorf("negative failure count: %d", m.ConsecutiveFailures)
	}
	if m.ConsecutiveFailures > 0 && m.CurrentBackoff <= 0 {
		return fmt.Errorf("%d consecutive failures with no backoff", m.ConsecutiveFailures)
	}
	if m.ConsecutiveFailures == 0 && m.CurrentBackoff != 0 {
		return fmt.Errorf("backoff %s set with no failures", m.CurrentBackoff)
	}
	return nil
}

// BackoffRemaining returns how long until the next attempt is allowed.
// Zero means an attempt may run now. Without BackoffUntil the deadline is
// the last attempt plus the current backoff.
func (m *SyncMetadata) BackoffRemaining(now time.Time) time.Duration {
	var until time.Time
	switch {
	case m.BackoffUntil != nil:
		until = *m.BackoffUntil
	case m.ConsecutiveFailures > 0 && m.CurrentBackoff > 0 && m.LastAttemptAt != nil:
		until = m.LastAttemptAt.Add(m.CurrentBackoff)
	default:
		return 0
	}
	if d := until.Sub(now); d > 0 {
		return d
	}
	return 0
}

// TypeProgress is synced/total for one record type.
type TypeProgress struct {
	Synced int
	Total  int
}

// SyncProgress drives UI during an active run. It is never persisted.
type SyncProgress struct {
	StartedAt time.Time
	Operation string
	Types     map[RecordType]TypeProgress
}

// NewSyncProgress creates progress with totals taken from the pending counts.
func NewSyncProgress(startedAt time.Time, counts PendingCounts) SyncProgress {
	p := SyncProgress{
		StartedAt: startedAt,
		Operation: "starting",
		Types:     make(map[RecordType]TypeProgress, len(RecordTypes)),
	}
	for _, t := range RecordTypes {
		p.Types[t] = TypeProgress{Total: counts.For(t)}
	}
	return p
}

// Advance adds n synced records of type t and returns the updated copy.
func (p SyncProgress) Advance(t RecordType, n int, operation string) SyncProgress {
	next := SyncProgress{
		StartedAt: p.StartedAt,
		Operation: operation,
		Types:     make(map[RecordType]TypeProgress, len(p.Types)),
	}
	for k, v := range p.Types {
		next.Types[k] = v
	}
	tp := next.Types[t]
	tp.Synced += n
	next.Types[t] = tp
	return next
}

// Synced returns the number of records synced so far across types.
func (p SyncProgress) Synced() int {
	n := 0
	for _, tp := range p.Types {
		n += tp.Synced
	}
	return n
}

// Total returns the number of records the run started with.
func (p SyncProgress) Total() int {
	n := 0
	for _, tp := range p.Types {
		n += tp.Total
	}
	return n
}

// SyncResult is the outcome of one sync run, or of one batch within a run.
type SyncResult struct {
	Synced      int
	Failed      int // transient failures, retried later
	Quarantined int
	LastError   string
	Duration    time.Duration
}

// Merge folds other into r. The later error wins.
func (r SyncResult) Merge(other SyncResult) SyncResult {
	r.Synced += other.Synced
	r.Failed += other.Failed
	r.Quarantined += other.Quarantined
	r.Duration += other.Duration
	if other.LastError != "" {
		r.LastError = other.LastError
	}
	return r
}
