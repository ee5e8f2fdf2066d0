package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"clocktrack/internal/model"
)

const shiftColumns = `id, employee_id, status, clock_in_at, clock_in_latitude, clock_in_longitude,
	clock_in_accuracy, clock_out_at, clock_out_latitude, clock_out_longitude, clock_out_accuracy,
	sync_status, updated_at`

func (s *SQLiteDatabase) CreateShift(ctx context.Context, shift *model.Shift) error {
	if err := shift.Validate(); err != nil {
		return fmt.Errorf("invalid shift: %w", err)
	}
	if shift.SyncStatus == "" {
		shift.SyncStatus = model.SyncPending
	}

	if err := insertShift(ctx, s.db, shift, s.clock.Now()); err != nil {
		return fmt.Errorf("inserting shift: %w", err)
	}
	return nil
}

func insertShift(ctx context.Context, db execer, shift *model.Shift, updatedAt time.Time) error {
	var outLat, outLon, outAcc sql.NullFloat64
	if shift.ClockOutLocation != nil {
		outLat = sql.NullFloat64{Float64: shift.ClockOutLocation.Latitude, Valid: true}
		outLon = sql.NullFloat64{Float64: shift.ClockOutLocation.Longitude, Valid: true}
		outAcc = nullFloat(shift.ClockOutLocation.Accuracy)
	}

	_, err := db.ExecContext(ctx, `INSERT INTO shifts (`+shiftColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		shift.ID, shift.EmployeeID, string(shift.Status), toDB(shift.ClockInAt),
		shift.ClockInLocation.Latitude, shift.ClockInLocation.Longitude, nullFloat(shift.ClockInLocation.Accuracy),
		nullTime(shift.ClockOutAt), outLat, outLon, outAcc,
		string(shift.SyncStatus), toDB(updatedAt))
	return wrapConstraint(err)
}

// CompleteShift stores the clock-out and queues the completed shift for
// upload. A shift mid-upload keeps the new pending status, so the completed
// version is sent on the next run.
func (s *SQLiteDatabase) CompleteShift(ctx context.Context, shiftID string, at time.Time, loc model.Location) error {
	if err := loc.Validate(); err != nil {
		return fmt.Errorf("invalid clock-out location: %w", err)
	}

	res, err := s.db.ExecContext(ctx, `UPDATE shifts
		SET status = 'completed', clock_out_at = ?, clock_out_latitude = ?, clock_out_longitude = ?,
		    clock_out_accuracy = ?, sync_status = 'pending', updated_at = ?
		WHERE id = ? AND status = 'active'`,
		toDB(at), loc.Latitude, loc.Longitude, nullFloat(loc.Accuracy), toDB(s.clock.Now()), shiftID)
	if err != nil {
		return fmt.Errorf("completing shift: %w", wrapConstraint(err))
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("completing shift: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("no active shift %s", shiftID)
	}
	return nil
}

func (s *SQLiteDatabase) FindShift(ctx context.Context, shiftID string) (*model.Shift, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+shiftColumns+` FROM shifts WHERE id = ?`, shiftID)
	shift, err := scanShift(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("finding shift: %w", err)
	}
	return shift, nil
}

func (s *SQLiteDatabase) FindActiveShift(ctx context.Context, employeeID string) (*model.Shift, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+shiftColumns+` FROM shifts
		WHERE employee_id = ? AND status = 'active'`, employeeID)
	shift, err := scanShift(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("finding active shift: %w", err)
	}
	return shift, nil
}

func (s *SQLiteDatabase) ActiveShifts(ctx context.Context) ([]*model.Shift, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+shiftColumns+` FROM shifts
		WHERE status = 'active' ORDER BY clock_in_at, id`)
	if err != nil {
		return nil, fmt.Errorf("listing active shifts: %w", err)
	}
	defer rows.Close()

	var shifts []*model.Shift
	for rows.Next() {
		shift, err := scanShift(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning shift: %w", err)
		}
		shifts = append(shifts, shift)
	}
	return shifts, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanShift(row scanner) (*model.Shift, error) {
	shift, _, err := scanShiftRow(row)
	return shift, err
}

// scanShiftRow also returns updated_at, the shift's position in the upload queue.
func scanShiftRow(row scanner) (*model.Shift, time.Time, error) {
	var (
		shift                  model.Shift
		status, syncStatus     string
		clockInAt, updatedAt   int64
		inAcc                  sql.NullFloat64
		clockOutAt             sql.NullInt64
		outLat, outLon, outAcc sql.NullFloat64
	)
	err := row.Scan(&shift.ID, &shift.EmployeeID, &status, &clockInAt,
		&shift.ClockInLocation.Latitude, &shift.ClockInLocation.Longitude, &inAcc,
		&clockOutAt, &outLat, &outLon, &outAcc, &syncStatus, &updatedAt)
	if err != nil {
		return nil, time.Time{}, err
	}

	shift.Status = model.ShiftStatus(status)
	shift.SyncStatus = model.SyncStatus(syncStatus)
	shift.ClockInAt = fromDB(clockInAt)
	shift.ClockInLocation.Accuracy = floatPtr(inAcc)
	shift.ClockOutAt = timePtr(clockOutAt)
	if outLat.Valid && outLon.Valid {
		shift.ClockOutLocation = &model.Location{
			Latitude:  outLat.Float64,
			Longitude: outLon.Float64,
			Accuracy:  floatPtr(outAcc),
		}
	}
	return &shift, fromDB(updatedAt), nil
}
