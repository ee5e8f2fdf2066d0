package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"clocktrack/internal/model"
)

const quarantineColumns = `id, record_type, record_id, snapshot, error_code, error_message,
	quarantined_at, review_status, resolution_notes, retry_count`

// QuarantineRecord inserts an entry or, when the record was quarantined
// before, resets the existing row to pending review with the new error.
// The row keeps its id and retry count.
func (s *SQLiteDatabase) QuarantineRecord(ctx context.Context, q *model.QuarantinedRecord) error {
	if q.ReviewStatus == "" {
		q.ReviewStatus = model.ReviewPending
	}
	_, err := s.db.ExecContext(ctx, `INSERT INTO quarantined_records (`+quarantineColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (record_type, record_id) DO UPDATE SET
			snapshot = excluded.snapshot,
			error_code = excluded.error_code,
			error_message = excluded.error_message,
			quarantined_at = excluded.quarantined_at,
			review_status = excluded.review_status`,
		q.ID, string(q.RecordType), q.RecordID, string(q.Snapshot), q.ErrorCode, q.ErrorMessage,
		toDB(q.QuarantinedAt), string(q.ReviewStatus), q.ResolutionNotes, q.RetryCount)
	if err != nil {
		return fmt.Errorf("quarantining %s %s: %w", q.RecordType, q.RecordID, wrapConstraint(err))
	}
	return nil
}

func (s *SQLiteDatabase) FindQuarantined(ctx context.Context, id string) (*model.QuarantinedRecord, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+quarantineColumns+` FROM quarantined_records WHERE id = ?`, id)
	q, err := scanQuarantined(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("finding quarantined record: %w", err)
	}
	return q, nil
}

func (s *SQLiteDatabase) FindQuarantinedByRecord(ctx context.Context, t model.RecordType, recordID string) (*model.QuarantinedRecord, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+quarantineColumns+` FROM quarantined_records
		WHERE record_type = ? AND record_id = ?`, string(t), recordID)
	q, err := scanQuarantined(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("finding quarantined record: %w", err)
	}
	return q, nil
}

// ListQuarantined returns entries oldest first. With no statuses every entry
// is returned.
func (s *SQLiteDatabase) ListQuarantined(ctx context.Context, statuses ...model.ReviewStatus) ([]*model.QuarantinedRecord, error) {
	query := `SELECT ` + quarantineColumns + ` FROM quarantined_records`
	var args []any
	if len(statuses) > 0 {
		query += ` WHERE review_status IN (` + strings.TrimSuffix(strings.Repeat("?, ", len(statuses)), ", ") + `)`
		for _, st := range statuses {
			args = append(args, string(st))
		}
	}
	query += ` ORDER BY quarantined_at, id`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing quarantined records: %w", err)
	}
	defer rows.Close()

	var records []*model.QuarantinedRecord
	for rows.Next() {
		q, err := scanQuarantined(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning quarantined record: %w", err)
		}
		records = append(records, q)
	}
	return records, rows.Err()
}

func (s *SQLiteDatabase) UpdateQuarantined(ctx context.Context, q *model.QuarantinedRecord) error {
	res, err := s.db.ExecContext(ctx, `UPDATE quarantined_records
		SET review_status = ?, resolution_notes = ?, retry_count = ?, error_code = ?, error_message = ?
		WHERE id = ?`,
		string(q.ReviewStatus), q.ResolutionNotes, q.RetryCount, q.ErrorCode, q.ErrorMessage, q.ID)
	if err != nil {
		return fmt.Errorf("updating quarantined record: %w", wrapConstraint(err))
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("quarantined record %s not found", q.ID)
	}
	return nil
}

func (s *SQLiteDatabase) DeleteQuarantined(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM quarantined_records WHERE id = ?`, id); err != nil {
		return fmt.Errorf("deleting quarantined record: %w", err)
	}
	return nil
}

func scanQuarantined(row scanner) (*model.QuarantinedRecord, error) {
	var (
		q                        model.QuarantinedRecord
		recordType, review, snap string
		quarantinedAt            int64
	)
	err := row.Scan(&q.ID, &recordType, &q.RecordID, &snap, &q.ErrorCode, &q.ErrorMessage,
		&quarantinedAt, &review, &q.ResolutionNotes, &q.RetryCount)
	if err != nil {
		return nil, err
	}
	q.RecordType = model.RecordType(recordType)
	q.Snapshot = []byte(snap)
	q.QuarantinedAt = fromDB(quarantinedAt)
	q.ReviewStatus = model.ReviewStatus(review)
	return &q, nil
}
