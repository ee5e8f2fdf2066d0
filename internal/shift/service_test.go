package shift

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"clocktrack/internal/model"
	"clocktrack/internal/testutil"
	"clocktrack/internal/tracker"
)

var office = model.Location{Latitude: 51.5, Longitude: -0.12}

func newTestService(t *testing.T) (*Service, *testutil.StubClock, string) {
	t.Helper()
	clock := testutil.FixedClock()
	db := testutil.NewTestDatabase(t, clock)
	signal := filepath.Join(t.TempDir(), "signals", "shift")
	svc := NewService(db, clock, testutil.NewStubIDGenerator(), SignalFile{Path: signal, Clock: clock}, tracker.NewNopLogger())
	return svc, clock, signal
}

func TestService_ClockInOut(t *testing.T) {
	ctx := context.Background()
	svc, clock, signal := newTestService(t)

	shift, err := svc.ClockIn(ctx, "emp-1", office)
	if err != nil {
		t.Fatalf("ClockIn() error = %v", err)
	}
	if shift.ID != "id-1" || shift.Status != model.ShiftActive {
		t.Errorf("ClockIn() = %+v", shift)
	}
	if _, err := os.Stat(signal); err != nil {
		t.Errorf("signal file not written: %v", err)
	}

	if _, err := svc.ClockIn(ctx, "emp-1", office); !errors.Is(err, ErrAlreadyClockedIn) {
		t.Errorf("second ClockIn() error = %v, want ErrAlreadyClockedIn", err)
	}

	clock.Advance(8 * time.Hour)
	done, err := svc.ClockOut(ctx, "emp-1", office)
	if err != nil {
		t.Fatalf("ClockOut() error = %v", err)
	}
	if done.Status != model.ShiftCompleted || done.ClockOutAt == nil || !done.ClockOutAt.Equal(clock.Now()) {
		t.Errorf("ClockOut() = %+v", done)
	}

	active, err := svc.Active(ctx, "emp-1")
	if err != nil {
		t.Fatalf("Active() error = %v", err)
	}
	if active != nil {
		t.Errorf("Active() = %+v after clock-out, want nil", active)
	}

	if _, err := svc.ClockOut(ctx, "emp-1", office); !errors.Is(err, ErrNotClockedIn) {
		t.Errorf("ClockOut() without shift error = %v, want ErrNotClockedIn", err)
	}
}

func TestService_ClockInRejectsBadLocation(t *testing.T) {
	svc, _, _ := newTestService(t)
	if _, err := svc.ClockIn(context.Background(), "emp-1", model.Location{Latitude: 123}); err == nil {
		t.Error("ClockIn() expected error for invalid location")
	}
}
