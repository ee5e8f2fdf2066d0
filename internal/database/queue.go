package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"clocktrack/internal/model"
	"clocktrack/internal/tracker"
)

// queueTable describes where a record type lives and how it is ordered.
type queueTable struct {
	name     string
	orderCol string
	// ready restricts which pending rows may be uploaded.
	ready string
}

var queueTables = map[model.RecordType]queueTable{
	model.RecordShift:           {name: "shifts", orderCol: "updated_at"},
	model.RecordGpsPoint:        {name: "gps_points", orderCol: "captured_at"},
	model.RecordGpsGap:          {name: "gps_gaps", orderCol: "started_at", ready: "ended_at IS NOT NULL"},
	model.RecordDiagnosticEvent: {name: "diagnostic_events", orderCol: "occurred_at"},
}

func tableFor(t model.RecordType) (queueTable, error) {
	qt, ok := queueTables[t]
	if !ok {
		return queueTable{}, fmt.Errorf("unknown record type: %q", t)
	}
	return qt, nil
}

func (qt queueTable) pendingWhere() string {
	where := "sync_status = 'pending'"
	if qt.ready != "" {
		where += " AND " + qt.ready
	}
	return where
}

// PendingCounts counts uploadable records. Open gaps are not counted until
// they close.
func (s *SQLiteDatabase) PendingCounts(ctx context.Context) (model.PendingCounts, error) {
	var counts model.PendingCounts
	targets := map[model.RecordType]*int{
		model.RecordShift:           &counts.Shifts,
		model.RecordGpsPoint:        &counts.Points,
		model.RecordGpsGap:          &counts.Gaps,
		model.RecordDiagnosticEvent: &counts.Events,
	}
	for _, t := range model.RecordTypes {
		qt := queueTables[t]
		err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM `+qt.name+` WHERE `+qt.pendingWhere()).
			Scan(targets[t])
		if err != nil {
			return model.PendingCounts{}, fmt.Errorf("counting pending %s: %w", t, err)
		}
	}
	return counts, nil
}

func (s *SQLiteDatabase) PendingRecords(ctx context.Context, t model.RecordType, after tracker.Cursor, limit int) ([]tracker.Record, error) {
	qt, err := tableFor(t)
	if err != nil {
		return nil, err
	}

	where := qt.pendingWhere()
	var args []any
	if after.ID != "" {
		where += fmt.Sprintf(" AND (%[1]s > ? OR (%[1]s = ? AND id > ?))", qt.orderCol)
		at := toDB(after.At)
		args = append(args, at, at, after.ID)
	}
	args = append(args, limit)

	var columns string
	switch t {
	case model.RecordShift:
		columns = shiftColumns
	case model.RecordGpsPoint:
		columns = pointColumns
	case model.RecordGpsGap:
		columns = "id, shift_id, employee_id, started_at, ended_at, reason, sync_status"
	case model.RecordDiagnosticEvent:
		columns = "id, shift_id, employee_id, kind, payload, occurred_at, sync_status"
	}

	rows, err := s.db.QueryContext(ctx, `SELECT `+columns+` FROM `+qt.name+` WHERE `+where+
		` ORDER BY `+qt.orderCol+`, id LIMIT ?`, args...)
	if err != nil {
		return nil, fmt.Errorf("querying pending %s: %w", t, err)
	}
	defer rows.Close()

	var records []tracker.Record
	for rows.Next() {
		rec, err := scanRecord(t, rows)
		if err != nil {
			return nil, fmt.Errorf("scanning pending %s: %w", t, err)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

func scanRecord(t model.RecordType, row scanner) (tracker.Record, error) {
	var (
		rec tracker.Record
		v   any
	)
	rec.Type = t

	switch t {
	case model.RecordShift:
		shift, updatedAt, err := scanShiftRow(row)
		if err != nil {
			return rec, err
		}
		rec.ID, rec.Key, rec.OrderedAt, v = shift.ID, shift.ID+":"+string(shift.Status), updatedAt, shift
	case model.RecordGpsPoint:
		p, err := scanGpsPoint(row)
		if err != nil {
			return rec, err
		}
		rec.ID, rec.Key, rec.OrderedAt, v = p.ID, p.ID, p.CapturedAt, p
	case model.RecordGpsGap:
		g, err := scanGap(row)
		if err != nil {
			return rec, err
		}
		rec.ID, rec.Key, rec.OrderedAt, v = g.ID, g.ID, g.StartedAt, g
	case model.RecordDiagnosticEvent:
		e, err := scanEvent(row)
		if err != nil {
			return rec, err
		}
		rec.ID, rec.Key, rec.OrderedAt, v = e.ID, e.ID, e.OccurredAt, e
	}

	payload, err := json.Marshal(v)
	if err != nil {
		return rec, fmt.Errorf("encoding %s %s: %w", t, rec.ID, err)
	}
	rec.Payload = payload
	return rec, nil
}

func scanEvent(row scanner) (*model.DiagnosticEvent, error) {
	var (
		e                model.DiagnosticEvent
		kind, syncStatus string
		payload          sql.NullString
		occurredAt       int64
	)
	if err := row.Scan(&e.ID, &e.ShiftID, &e.EmployeeID, &kind, &payload, &occurredAt, &syncStatus); err != nil {
		return nil, err
	}
	e.Kind = model.EventKind(kind)
	if payload.Valid {
		e.Payload = json.RawMessage(payload.String)
	}
	e.OccurredAt = fromDB(occurredAt)
	e.SyncStatus = model.SyncStatus(syncStatus)
	return &e, nil
}

// SetSyncStatus applies the transition only to rows whose current status
// allows it.
func (s *SQLiteDatabase) SetSyncStatus(ctx context.Context, t model.RecordType, ids []string, status model.SyncStatus) error {
	if len(ids) == 0 {
		return nil
	}
	qt, err := tableFor(t)
	if err != nil {
		return err
	}

	var from []string
	for _, st := range []model.SyncStatus{model.SyncPending, model.SyncSyncing, model.SyncSynced, model.SyncError} {
		if st.CanTransition(status) {
			from = append(from, "'"+string(st)+"'")
		}
	}
	if len(from) == 0 {
		return fmt.Errorf("no status can move to %q", status)
	}

	ph, idArgs := placeholders(ids)
	args := append([]any{string(status)}, idArgs...)
	_, err = s.db.ExecContext(ctx, `UPDATE `+qt.name+` SET sync_status = ?
		WHERE id IN (`+ph+`) AND sync_status IN (`+strings.Join(from, ", ")+`)`, args...)
	if err != nil {
		return fmt.Errorf("setting %s status to %s: %w", t, status, err)
	}
	return nil
}

func (s *SQLiteDatabase) DeleteRecords(ctx context.Context, t model.RecordType, ids []string) error {
	if len(ids) == 0 || t == model.RecordShift {
		return nil
	}
	qt, err := tableFor(t)
	if err != nil {
		return err
	}

	ph, args := placeholders(ids)
	_, err = s.db.ExecContext(ctx, `DELETE FROM `+qt.name+` WHERE id IN (`+ph+`) AND sync_status = 'synced'`, args...)
	if err != nil {
		return fmt.Errorf("deleting synced %s: %w", t, err)
	}
	return nil
}

func (s *SQLiteDatabase) ResetSyncing(ctx context.Context) (int64, error) {
	var total int64
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		for _, t := range model.RecordTypes {
			res, err := tx.ExecContext(ctx, `UPDATE `+queueTables[t].name+
				` SET sync_status = 'pending' WHERE sync_status = 'syncing'`)
			if err != nil {
				return fmt.Errorf("resetting %s: %w", t, err)
			}
			n, err := res.RowsAffected()
			if err != nil {
				return err
			}
			total += n
		}
		return nil
	})
	return total, err
}

func (s *SQLiteDatabase) PruneSynced(ctx context.Context, olderThan time.Time) (int64, error) {
	var total int64
	cutoff := toDB(olderThan)
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		for _, t := range []model.RecordType{model.RecordGpsPoint, model.RecordGpsGap, model.RecordDiagnosticEvent} {
			qt := queueTables[t]
			res, err := tx.ExecContext(ctx, `DELETE FROM `+qt.name+
				` WHERE sync_status = 'synced' AND `+qt.orderCol+` < ?`, cutoff)
			if err != nil {
				return fmt.Errorf("pruning %s: %w", t, err)
			}
			n, err := res.RowsAffected()
			if err != nil {
				return err
			}
			total += n
		}
		return nil
	})
	return total, err
}

func (s *SQLiteDatabase) RequeueRecord(ctx context.Context, t model.RecordType, id string) (bool, error) {
	qt, err := tableFor(t)
	if err != nil {
		return false, err
	}

	var found bool
	err = s.inTx(ctx, func(tx *sql.Tx) error {
		var status string
		err := tx.QueryRowContext(ctx, `SELECT sync_status FROM `+qt.name+` WHERE id = ?`, id).Scan(&status)
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("reading %s %s: %w", t, id, err)
		}
		found = true
		if model.SyncStatus(status) != model.SyncError {
			return nil
		}
		if _, err := tx.ExecContext(ctx, `UPDATE `+qt.name+` SET sync_status = 'pending' WHERE id = ?`, id); err != nil {
			return fmt.Errorf("requeueing %s %s: %w", t, id, err)
		}
		return nil
	})
	return found, err
}

// RestoreRecord re-inserts a pruned record from its snapshot. An existing
// row with the same id is set back to pending instead.
func (s *SQLiteDatabase) RestoreRecord(ctx context.Context, t model.RecordType, snapshot json.RawMessage) error {
	var err error
	switch t {
	case model.RecordShift:
		var shift model.Shift
		if err = json.Unmarshal(snapshot, &shift); err != nil {
			break
		}
		shift.SyncStatus = model.SyncPending
		err = s.inTx(ctx, func(tx *sql.Tx) error {
			res, err := tx.ExecContext(ctx, `UPDATE shifts SET sync_status = 'pending' WHERE id = ?`, shift.ID)
			if err != nil {
				return err
			}
			if n, _ := res.RowsAffected(); n > 0 {
				return nil
			}
			return insertShift(ctx, tx, &shift, s.clock.Now())
		})
	case model.RecordGpsPoint:
		var p model.GpsPoint
		if err = json.Unmarshal(snapshot, &p); err == nil {
			err = insertGpsPoint(ctx, s.db, &p, true)
		}
	case model.RecordGpsGap:
		var g model.GpsGap
		if err = json.Unmarshal(snapshot, &g); err == nil {
			err = insertGap(ctx, s.db, &g, true)
		}
	case model.RecordDiagnosticEvent:
		var e model.DiagnosticEvent
		if err = json.Unmarshal(snapshot, &e); err == nil {
			err = insertEvent(ctx, s.db, &e, true)
		}
	default:
		return fmt.Errorf("unknown record type: %q", t)
	}
	if err != nil {
		return fmt.Errorf("restoring %s: %w", t, err)
	}
	return nil
}
