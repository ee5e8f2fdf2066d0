package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"clocktrack/internal/model"
)

func (s *SQLiteDatabase) LoadSyncMetadata(ctx context.Context) (*model.SyncMetadata, error) {
	var (
		m                         model.SyncMetadata
		status, lastError         string
		lastAttempt, lastSuccess  sql.NullInt64
		backoffUntil              sql.NullInt64
		backoffMillis, inProgress int64
	)
	err := s.db.QueryRowContext(ctx, `SELECT status, last_attempt_at, last_success_at, consecutive_failures,
			current_backoff_ms, backoff_until, in_progress, last_error,
			pending_shifts, pending_points, pending_gaps, pending_events
		FROM sync_metadata WHERE id = 1`).
		Scan(&status, &lastAttempt, &lastSuccess, &m.ConsecutiveFailures,
			&backoffMillis, &backoffUntil, &inProgress, &lastError,
			&m.Pending.Shifts, &m.Pending.Points, &m.Pending.Gaps, &m.Pending.Events)
	if err != nil {
		return nil, fmt.Errorf("loading sync metadata: %w", err)
	}

	m.Status = model.MetadataStatus(status)
	m.LastAttemptAt = timePtr(lastAttempt)
	m.LastSuccessAt = timePtr(lastSuccess)
	m.CurrentBackoff = time.Duration(backoffMillis) * time.Millisecond
	m.BackoffUntil = timePtr(backoffUntil)
	m.InProgress = inProgress != 0
	m.LastError = lastError
	return &m, nil
}

func (s *SQLiteDatabase) SaveSyncMetadata(ctx context.Context, m *model.SyncMetadata) error {
	if err := m.Validate(); err != nil {
		return fmt.Errorf("invalid sync metadata: %w", err)
	}
	_, err := s.db.ExecContext(ctx, `UPDATE sync_metadata SET
			status = ?, last_attempt_at = ?, last_success_at = ?, consecutive_failures = ?,
			current_backoff_ms = ?, backoff_until = ?, in_progress = ?, last_error = ?,
			pending_shifts = ?, pending_points = ?, pending_gaps = ?, pending_events = ?
		WHERE id = 1`,
		string(m.Status), nullTime(m.LastAttemptAt), nullTime(m.LastSuccessAt), m.ConsecutiveFailures,
		m.CurrentBackoff.Milliseconds(), nullTime(m.BackoffUntil), boolToInt(m.InProgress), m.LastError,
		m.Pending.Shifts, m.Pending.Points, m.Pending.Gaps, m.Pending.Events)
	if err != nil {
		return fmt.Errorf("saving sync metadata: %w", wrapConstraint(err))
	}
	return nil
}
