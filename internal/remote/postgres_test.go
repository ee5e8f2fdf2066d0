package remote

import (
	"context"
	"database/sql"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"clocktrack/internal/model"
	"clocktrack/internal/tracker"
)

func setupMockPostgres(t *testing.T) (*sql.DB, sqlmock.Sqlmock, *PostgresSubmitter) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db, mock, NewPostgresSubmitterFromDB(db, "dev-1", 0)
}

func TestPostgresSubmitter_Submit(t *testing.T) {
	_, mock, s := setupMockPostgres(t)

	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS clocktrack_records`).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`INSERT INTO clocktrack_records`).
		WithArgs("gps_point", "p1", "p1", "dev-1", `{"id":"p1"}`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO clocktrack_records`).
		WithArgs("gps_point", "p2", "p2", "dev-1", `{"id":"p2"}`).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`INSERT INTO clocktrack_records`).
		WithArgs("gps_point", "p3", "p3", "dev-1", `{"id":"p3"}`).
		WillReturnError(&pq.Error{Code: "22P02", Message: "invalid input syntax for type json"})

	got, err := s.Submit(context.Background(), testBatch(model.RecordGpsPoint, "p1", "p2", "p3"))
	require.NoError(t, err)
	assert.Equal(t, 1, got.Inserted)
	assert.Equal(t, 1, got.Duplicates)
	assert.Equal(t, 1, got.Errors)
	assert.Equal(t, tracker.OutcomePermanent, got.Results[2].Outcome)
	assert.Equal(t, "22P02", got.Results[2].Code)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresSubmitter_SchemaCreatedOnce(t *testing.T) {
	_, mock, s := setupMockPostgres(t)

	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS clocktrack_records`).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`INSERT INTO clocktrack_records`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO clocktrack_records`).WillReturnResult(sqlmock.NewResult(0, 1))

	ctx := context.Background()
	_, err := s.Submit(ctx, testBatch(model.RecordShift, "s1"))
	require.NoError(t, err)
	_, err = s.Submit(ctx, testBatch(model.RecordShift, "s2"))
	require.NoError(t, err)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresSubmitter_Errors(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want tracker.Outcome
	}{
		{"bad password", &pq.Error{Code: "28P01", Message: "password authentication failed"}, tracker.OutcomeUnauthorized},
		{"insufficient privilege", &pq.Error{Code: "42501", Message: "permission denied"}, tracker.OutcomeUnauthorized},
		{"admin shutdown", &pq.Error{Code: "57P01", Message: "terminating connection"}, tracker.OutcomeTransient},
		{"connection refused", sql.ErrConnDone, tracker.OutcomeTransient},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, mock, s := setupMockPostgres(t)
			mock.ExpectExec(`CREATE TABLE IF NOT EXISTS clocktrack_records`).
				WillReturnResult(sqlmock.NewResult(0, 0))
			mock.ExpectExec(`INSERT INTO clocktrack_records`).WillReturnError(tt.err)

			_, err := s.Submit(context.Background(), testBatch(model.RecordShift, "s1"))
			require.Error(t, err)
			assert.Equal(t, tt.want, tracker.OutcomeOf(err))
		})
	}
}
