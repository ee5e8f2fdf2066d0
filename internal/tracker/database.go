package tracker

import (
	"context"
	"encoding/json"
	"time"

	"clocktrack/internal/model"
)

// Record is a queued row flattened for upload. Payload is the JSON document
// sent to the remote service and frozen into quarantine snapshots.
type Record struct {
	Type model.RecordType
	ID   string
	// Key identifies this version of the record on the server. It equals ID
	// except for shifts, which are uploaded once active and once completed.
	Key       string
	OrderedAt time.Time
	Payload   json.RawMessage
}

// Cursor marks the last record read in an oldest-first scan.
type Cursor struct {
	At time.Time
	ID string
}

// After returns the cursor positioned just past r.
func (r Record) After() Cursor {
	return Cursor{At: r.OrderedAt, ID: r.ID}
}

// ShiftStore is the clock-in/clock-out side of the queue.
type ShiftStore interface {
	// CreateShift inserts a new active shift. Fails if the employee already
	// has an active shift.
	CreateShift(ctx context.Context, shift *model.Shift) error

	// CompleteShift records the clock-out and marks the shift pending upload.
	CompleteShift(ctx context.Context, shiftID string, at time.Time, loc model.Location) error

	// FindShift returns nil, nil when the shift does not exist.
	FindShift(ctx context.Context, shiftID string) (*model.Shift, error)

	// FindActiveShift returns the employee's active shift, or nil, nil.
	FindActiveShift(ctx context.Context, employeeID string) (*model.Shift, error)

	// ActiveShifts returns every active shift on this device.
	ActiveShifts(ctx context.Context) ([]*model.Shift, error)
}

// CaptureStore receives everything the sampler produces. It only ever
// inserts pending rows and never touches sync status of existing rows.
type CaptureStore interface {
	InsertGpsPoint(ctx context.Context, point *model.GpsPoint) error
	OpenGap(ctx context.Context, gap *model.GpsGap) error
	CloseGap(ctx context.Context, gapID string, endedAt time.Time) error
	FindOpenGap(ctx context.Context, shiftID string) (*model.GpsGap, error)
	InsertEvent(ctx context.Context, event *model.DiagnosticEvent) error

	// ListGpsPoints returns points captured at or after since, oldest first.
	ListGpsPoints(ctx context.Context, since time.Time, limit int) ([]*model.GpsPoint, error)
}

// CaptureContextStore persists what the supervisor needs to resume after the
// process dies.
type CaptureContextStore interface {
	SaveCaptureContext(ctx context.Context, cc *model.CaptureContext) error
	LoadCaptureContext(ctx context.Context) (*model.CaptureContext, error)
	TouchCaptureContext(ctx context.Context, at time.Time, pointCount int) error
	ClearCaptureContext(ctx context.Context) error
}

// SyncQueue is the sync engine's view of the queue.
type SyncQueue interface {
	PendingCounts(ctx context.Context) (model.PendingCounts, error)

	// PendingRecords returns up to limit pending records of type t strictly
	// after the cursor, oldest first.
	PendingRecords(ctx context.Context, t model.RecordType, after Cursor, limit int) ([]Record, error)

	// SetSyncStatus moves the given records to status. Records whose current
	// status does not allow the transition are left unchanged.
	SetSyncStatus(ctx context.Context, t model.RecordType, ids []string, status model.SyncStatus) error

	// DeleteRecords removes synced records. Shifts are never deleted.
	DeleteRecords(ctx context.Context, t model.RecordType, ids []string) error

	// ResetSyncing returns rows left in syncing by a dead process to pending.
	ResetSyncing(ctx context.Context) (int64, error)

	// PruneSynced drops synced points, gaps and events captured before olderThan.
	PruneSynced(ctx context.Context, olderThan time.Time) (int64, error)

	// RequeueRecord sets an errored record back to pending. It reports false
	// when the record no longer exists locally.
	RequeueRecord(ctx context.Context, t model.RecordType, id string) (bool, error)

	// RestoreRecord re-inserts a record from its frozen snapshot as pending.
	RestoreRecord(ctx context.Context, t model.RecordType, snapshot json.RawMessage) error
}

// QuarantineStore holds records the sync engine gave up on.
type QuarantineStore interface {
	// QuarantineRecord inserts the entry, or when the record is already
	// quarantined, updates the existing row back to pending review.
	QuarantineRecord(ctx context.Context, q *model.QuarantinedRecord) error
	FindQuarantined(ctx context.Context, id string) (*model.QuarantinedRecord, error)
	FindQuarantinedByRecord(ctx context.Context, t model.RecordType, recordID string) (*model.QuarantinedRecord, error)
	ListQuarantined(ctx context.Context, statuses ...model.ReviewStatus) ([]*model.QuarantinedRecord, error)
	UpdateQuarantined(ctx context.Context, q *model.QuarantinedRecord) error
	DeleteQuarantined(ctx context.Context, id string) error
}

// MetadataStore loads and saves the sync metadata singleton.
type MetadataStore interface {
	LoadSyncMetadata(ctx context.Context) (*model.SyncMetadata, error)
	SaveSyncMetadata(ctx context.Context, meta *model.SyncMetadata) error
}

// Database is the local durable queue. All mutation is serialized by the
// implementation.
type Database interface {
	ShiftStore
	CaptureStore
	CaptureContextStore
	SyncQueue
	QuarantineStore
	MetadataStore

	// Close closes the database connection.
	Close() error
}
