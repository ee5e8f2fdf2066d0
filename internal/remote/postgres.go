package remote

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"

	"github.com/lib/pq"

	"clocktrack/internal/tracker"
)

const createRecordsTable = `CREATE TABLE IF NOT EXISTS clocktrack_records (
	record_type TEXT NOT NULL,
	record_key  TEXT NOT NULL,
	record_id   TEXT NOT NULL,
	device_id   TEXT NOT NULL,
	payload     JSONB NOT NULL,
	received_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (record_type, record_key)
)`

const insertRecord = `INSERT INTO clocktrack_records (record_type, record_key, record_id, device_id, payload)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (record_type, record_key) DO NOTHING`

// PostgresSubmitter ingests records straight into a backend Postgres table.
// Duplicates are detected by the primary key.
type PostgresSubmitter struct {
	db       *sql.DB
	deviceID string
	maxBatch int

	mu    sync.Mutex
	ready bool
}

// NewPostgresSubmitter opens a lazy connection pool. The server is not
// contacted until the first submission.
func NewPostgresSubmitter(dsn, deviceID string, maxBatch int) (*PostgresSubmitter, error) {
	if dsn == "" {
		return nil, fmt.Errorf("postgres remote requires postgres_dsn to be set")
	}
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(2)
	return NewPostgresSubmitterFromDB(db, deviceID, maxBatch), nil
}

// NewPostgresSubmitterFromDB wraps an existing pool.
func NewPostgresSubmitterFromDB(db *sql.DB, deviceID string, maxBatch int) *PostgresSubmitter {
	return &PostgresSubmitter{db: db, deviceID: deviceID, maxBatch: batchLimit(maxBatch)}
}

// Limits returns the configured batch limit.
func (s *PostgresSubmitter) Limits(context.Context) (tracker.Limits, error) {
	return tracker.Limits{MaxBatchSize: s.maxBatch}, nil
}

// EnsureSchema creates the ingestion table once per submitter.
func (s *PostgresSubmitter) EnsureSchema(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ready {
		return nil
	}
	if _, err := s.db.ExecContext(ctx, createRecordsTable); err != nil {
		return classifyPQ("create table", err)
	}
	s.ready = true
	return nil
}

// Submit inserts each record in its own statement so one bad row does not
// abort the rest.
func (s *PostgresSubmitter) Submit(ctx context.Context, batch tracker.Batch) (tracker.BatchResult, error) {
	if err := s.EnsureSchema(ctx); err != nil {
		return tracker.BatchResult{}, err
	}

	results := make([]tracker.RecordResult, 0, len(batch.Records))
	for _, r := range batch.Records {
		res, err := s.db.ExecContext(ctx, insertRecord, string(batch.Type), r.Key, r.ID, s.deviceID, string(r.Payload))
		if err != nil {
			classified := classifyPQ("insert", err)
			if tracker.OutcomeOf(classified) == tracker.OutcomePermanent {
				var se *tracker.SubmitError
				errors.As(classified, &se)
				results = append(results, Rejected(r.ID, se.Code, se.Message))
				continue
			}
			return tracker.BatchResult{}, classified
		}
		n, err := res.RowsAffected()
		if err != nil {
			return tracker.BatchResult{}, fmt.Errorf("reading rows affected: %w", err)
		}
		if n == 0 {
			results = append(results, tracker.RecordResult{ID: r.ID, Outcome: tracker.OutcomeDuplicate})
		} else {
			results = append(results, tracker.RecordResult{ID: r.ID, Outcome: tracker.OutcomeInserted})
		}
	}
	return tally(results), nil
}

// Ping checks the connection.
func (s *PostgresSubmitter) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return classifyPQ("ping", err)
	}
	return nil
}

// Close releases the pool.
func (s *PostgresSubmitter) Close() error {
	return s.db.Close()
}

// classifyPQ maps Postgres SQLSTATE classes onto outcomes: data and
// integrity errors are the record's fault, authorization classes halt sync,
// everything else is retried.
func classifyPQ(op string, err error) error {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return TransportError(op, err)
	}
	outcome := tracker.OutcomeTransient
	switch pqErr.Code.Class() {
	case "22", "23":
		outcome = tracker.OutcomePermanent
	case "28":
		outcome = tracker.OutcomeUnauthorized
	case "42":
		if pqErr.Code == "42501" {
			outcome = tracker.OutcomeUnauthorized
		}
	}
	return &tracker.SubmitError{
		Outcome: outcome,
		Code:    string(pqErr.Code),
		Message: fmt.Sprintf("%s: %s", op, pqErr.Message),
		Err:     err,
	}
}

var _ tracker.Submitter = (*PostgresSubmitter)(nil)
