package remote

import (
	"context"
	"testing"

	"clocktrack/internal/model"
	"clocktrack/internal/tracker"
)

func TestMemorySubmitter_Submit(t *testing.T) {
	ctx := context.Background()

	t.Run("insert then duplicate", func(t *testing.T) {
		m := NewMemorySubmitter(0)
		batch := testBatch(model.RecordGpsPoint, "p1", "p2")

		got, err := m.Submit(ctx, batch)
		if err != nil {
			t.Fatalf("Submit() error = %v", err)
		}
		if got.Inserted != 2 || got.Duplicates != 0 {
			t.Errorf("first Submit() = %+v, want 2 inserted", got)
		}

		got, err = m.Submit(ctx, batch)
		if err != nil {
			t.Fatalf("Submit() error = %v", err)
		}
		if got.Duplicates != 2 || got.Inserted != 0 {
			t.Errorf("second Submit() = %+v, want 2 duplicates", got)
		}
		if m.Count() != 2 {
			t.Errorf("Count() = %d, want 2", m.Count())
		}
	})

	t.Run("forced verdict", func(t *testing.T) {
		m := NewMemorySubmitter(0)
		m.SetVerdict("p2", Rejected("", "validation", "latitude out of range"))

		got, err := m.Submit(ctx, testBatch(model.RecordGpsPoint, "p1", "p2"))
		if err != nil {
			t.Fatalf("Submit() error = %v", err)
		}
		if got.Inserted != 1 || got.Errors != 1 {
			t.Errorf("Submit() = %+v, want 1 inserted 1 error", got)
		}
		if got.Results[1].ID != "p2" || got.Results[1].Outcome != tracker.OutcomePermanent {
			t.Errorf("Results[1] = %+v", got.Results[1])
		}
		if m.Has(testRecord(model.RecordGpsPoint, "p2")) {
			t.Error("rejected record should not be stored")
		}
	})

	t.Run("offline", func(t *testing.T) {
		m := NewMemorySubmitter(0)
		m.SetOffline(true)

		_, err := m.Submit(ctx, testBatch(model.RecordGpsPoint, "p1"))
		if tracker.OutcomeOf(err) != tracker.OutcomeTransient {
			t.Errorf("Submit() offline error = %v, want transient", err)
		}
		if err := m.Ping(ctx); err == nil {
			t.Error("Ping() expected error while offline")
		}
	})

	t.Run("queued failures", func(t *testing.T) {
		m := NewMemorySubmitter(0)
		m.FailNext(StatusError(401, "token expired"))

		_, err := m.Submit(ctx, testBatch(model.RecordShift, "s1"))
		if tracker.OutcomeOf(err) != tracker.OutcomeUnauthorized {
			t.Errorf("Submit() error = %v, want unauthorized", err)
		}
		if _, err := m.Submit(ctx, testBatch(model.RecordShift, "s1")); err != nil {
			t.Errorf("Submit() after failure error = %v", err)
		}
	})

	t.Run("batch over limit", func(t *testing.T) {
		m := NewMemorySubmitter(1)
		_, err := m.Submit(ctx, testBatch(model.RecordGpsPoint, "p1", "p2"))
		if tracker.OutcomeOf(err) != tracker.OutcomePermanent {
			t.Errorf("Submit() error = %v, want permanent", err)
		}
	})

	t.Run("omit results", func(t *testing.T) {
		m := NewMemorySubmitter(0)
		m.OmitResults(true)
		got, err := m.Submit(ctx, testBatch(model.RecordGpsPoint, "p1"))
		if err != nil {
			t.Fatalf("Submit() error = %v", err)
		}
		if got.Inserted != 1 || got.Results != nil {
			t.Errorf("Submit() = %+v, want counts only", got)
		}
	})
}

func TestMemorySubmitter_Limits(t *testing.T) {
	tests := []struct {
		configured, want int
	}{
		{0, DefaultMaxBatchSize},
		{50, 50},
		{500, DefaultMaxBatchSize},
	}
	for _, tt := range tests {
		got, err := NewMemorySubmitter(tt.configured).Limits(context.Background())
		if err != nil {
			t.Fatalf("Limits() error = %v", err)
		}
		if got.MaxBatchSize != tt.want {
			t.Errorf("Limits(%d) = %d, want %d", tt.configured, got.MaxBatchSize, tt.want)
		}
	}
}
