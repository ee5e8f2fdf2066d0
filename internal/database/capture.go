package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"clocktrack/internal/model"
)

const pointColumns = `id, shift_id, employee_id, latitude, longitude, accuracy, captured_at,
	speed, speed_accuracy, heading, heading_accuracy, altitude, altitude_accuracy,
	is_mocked, device_id, sync_status`

func (s *SQLiteDatabase) InsertGpsPoint(ctx context.Context, p *model.GpsPoint) error {
	if err := p.Validate(); err != nil {
		return fmt.Errorf("invalid gps point: %w", err)
	}
	if err := insertGpsPoint(ctx, s.db, p, false); err != nil {
		return fmt.Errorf("inserting gps point: %w", err)
	}
	return nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func insertGpsPoint(ctx context.Context, db execer, p *model.GpsPoint, requeue bool) error {
	conflict := ""
	if requeue {
		conflict = ` ON CONFLICT (id) DO UPDATE SET sync_status = 'pending'`
	}
	_, err := db.ExecContext(ctx, `INSERT INTO gps_points (`+pointColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 'pending')`+conflict,
		p.ID, p.ShiftID, p.EmployeeID, p.Latitude, p.Longitude, nullFloat(p.Accuracy), toDB(p.CapturedAt),
		nullFloat(p.Speed), nullFloat(p.SpeedAccuracy), nullFloat(p.Heading), nullFloat(p.HeadingAccuracy),
		nullFloat(p.Altitude), nullFloat(p.AltitudeAccuracy), boolToInt(p.IsMocked), p.DeviceID)
	return wrapConstraint(err)
}

func (s *SQLiteDatabase) ListGpsPoints(ctx context.Context, since time.Time, limit int) ([]*model.GpsPoint, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+pointColumns+` FROM gps_points
		WHERE captured_at >= ? ORDER BY captured_at, id LIMIT ?`, toDB(since), limit)
	if err != nil {
		return nil, fmt.Errorf("listing gps points: %w", err)
	}
	defer rows.Close()

	var points []*model.GpsPoint
	for rows.Next() {
		p, err := scanGpsPoint(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning gps point: %w", err)
		}
		points = append(points, p)
	}
	return points, rows.Err()
}

func scanGpsPoint(row scanner) (*model.GpsPoint, error) {
	var (
		p                         model.GpsPoint
		accuracy, speed, speedAcc sql.NullFloat64
		heading, headingAcc       sql.NullFloat64
		altitude, altitudeAcc     sql.NullFloat64
		capturedAt                int64
		mocked                    int
		syncStatus                string
	)
	err := row.Scan(&p.ID, &p.ShiftID, &p.EmployeeID, &p.Latitude, &p.Longitude, &accuracy, &capturedAt,
		&speed, &speedAcc, &heading, &headingAcc, &altitude, &altitudeAcc, &mocked, &p.DeviceID, &syncStatus)
	if err != nil {
		return nil, err
	}
	p.Accuracy = floatPtr(accuracy)
	p.CapturedAt = fromDB(capturedAt)
	p.Speed = floatPtr(speed)
	p.SpeedAccuracy = floatPtr(speedAcc)
	p.Heading = floatPtr(heading)
	p.HeadingAccuracy = floatPtr(headingAcc)
	p.Altitude = floatPtr(altitude)
	p.AltitudeAccuracy = floatPtr(altitudeAcc)
	p.IsMocked = mocked != 0
	p.SyncStatus = model.SyncStatus(syncStatus)
	return &p, nil
}

// OpenGap inserts an open gap. A shift has at most one open gap.
func (s *SQLiteDatabase) OpenGap(ctx context.Context, gap *model.GpsGap) error {
	if gap.Reason == "" {
		gap.Reason = model.GapSignalLoss
	}
	if err := insertGap(ctx, s.db, gap, false); err != nil {
		return fmt.Errorf("opening gap: %w", err)
	}
	return nil
}

func insertGap(ctx context.Context, db execer, g *model.GpsGap, requeue bool) error {
	conflict := ""
	if requeue {
		conflict = ` ON CONFLICT (id) DO UPDATE SET sync_status = 'pending'`
	}
	_, err := db.ExecContext(ctx, `INSERT INTO gps_gaps (id, shift_id, employee_id, started_at, ended_at, reason, sync_status)
		VALUES (?, ?, ?, ?, ?, ?, 'pending')`+conflict,
		g.ID, g.ShiftID, g.EmployeeID, toDB(g.StartedAt), nullTime(g.EndedAt), string(g.Reason))
	return wrapConstraint(err)
}

// CloseGap sets the end of an open gap. Closing an already closed gap is an error.
func (s *SQLiteDatabase) CloseGap(ctx context.Context, gapID string, endedAt time.Time) error {
	res, err := s.db.ExecContext(ctx, `UPDATE gps_gaps SET ended_at = ?
		WHERE id = ? AND ended_at IS NULL`, toDB(endedAt), gapID)
	if err != nil {
		return fmt.Errorf("closing gap: %w", wrapConstraint(err))
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("closing gap: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("no open gap %s", gapID)
	}
	return nil
}

func (s *SQLiteDatabase) FindOpenGap(ctx context.Context, shiftID string) (*model.GpsGap, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id, shift_id, employee_id, started_at, ended_at, reason, sync_status
		FROM gps_gaps WHERE shift_id = ? AND ended_at IS NULL`, shiftID)
	g, err := scanGap(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("finding open gap: %w", err)
	}
	return g, nil
}

func scanGap(row scanner) (*model.GpsGap, error) {
	var (
		g                  model.GpsGap
		startedAt          int64
		endedAt            sql.NullInt64
		reason, syncStatus string
	)
	if err := row.Scan(&g.ID, &g.ShiftID, &g.EmployeeID, &startedAt, &endedAt, &reason, &syncStatus); err != nil {
		return nil, err
	}
	g.StartedAt = fromDB(startedAt)
	g.EndedAt = timePtr(endedAt)
	g.Reason = model.GapReason(reason)
	g.SyncStatus = model.SyncStatus(syncStatus)
	return &g, nil
}

func (s *SQLiteDatabase) InsertEvent(ctx context.Context, e *model.DiagnosticEvent) error {
	if err := insertEvent(ctx, s.db, e, false); err != nil {
		return fmt.Errorf("inserting diagnostic event: %w", err)
	}
	return nil
}

func insertEvent(ctx context.Context, db execer, e *model.DiagnosticEvent, requeue bool) error {
	conflict := ""
	if requeue {
		conflict = ` ON CONFLICT (id) DO UPDATE SET sync_status = 'pending'`
	}
	var payload sql.NullString
	if len(e.Payload) > 0 {
		payload = sql.NullString{String: string(e.Payload), Valid: true}
	}
	_, err := db.ExecContext(ctx, `INSERT INTO diagnostic_events (id, shift_id, employee_id, kind, payload, occurred_at, sync_status)
		VALUES (?, ?, ?, ?, ?, ?, 'pending')`+conflict,
		e.ID, e.ShiftID, e.EmployeeID, string(e.Kind), payload, toDB(e.OccurredAt))
	return wrapConstraint(err)
}

// Capture context

func (s *SQLiteDatabase) SaveCaptureContext(ctx context.Context, cc *model.CaptureContext) error {
	var cfg sql.NullString
	if len(cc.Config) > 0 {
		cfg = sql.NullString{String: string(cc.Config), Valid: true}
	}
	_, err := s.db.ExecContext(ctx, `INSERT INTO capture_context (id, shift_id, employee_id, config, started_at, heartbeat_at, point_count)
		VALUES (1, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET shift_id = excluded.shift_id, employee_id = excluded.employee_id,
			config = excluded.config, started_at = excluded.started_at,
			heartbeat_at = excluded.heartbeat_at, point_count = excluded.point_count`,
		cc.ShiftID, cc.EmployeeID, cfg, toDB(cc.StartedAt), toDB(cc.HeartbeatAt), cc.PointCount)
	if err != nil {
		return fmt.Errorf("saving capture context: %w", err)
	}
	return nil
}

func (s *SQLiteDatabase) LoadCaptureContext(ctx context.Context) (*model.CaptureContext, error) {
	var (
		cc                     model.CaptureContext
		cfg                    sql.NullString
		startedAt, heartbeatAt int64
	)
	err := s.db.QueryRowContext(ctx, `SELECT shift_id, employee_id, config, started_at, heartbeat_at, point_count
		FROM capture_context WHERE id = 1`).
		Scan(&cc.ShiftID, &cc.EmployeeID, &cfg, &startedAt, &heartbeatAt, &cc.PointCount)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("loading capture context: %w", err)
	}
	if cfg.Valid {
		cc.Config = []byte(cfg.String)
	}
	cc.StartedAt = fromDB(startedAt)
	cc.HeartbeatAt = fromDB(heartbeatAt)
	return &cc, nil
}

func (s *SQLiteDatabase) TouchCaptureContext(ctx context.Context, at time.Time, pointCount int) error {
	_, err := s.db.ExecContext(ctx, `UPDATE capture_context SET heartbeat_at = ?, point_count = ? WHERE id = 1`,
		toDB(at), pointCount)
	if err != nil {
		return fmt.Errorf("touching capture context: %w", err)
	}
	return nil
}

func (s *SQLiteDatabase) ClearCaptureContext(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM capture_context`); err != nil {
		return fmt.Errorf("clearing capture context: %w", err)
	}
	return nil
}
