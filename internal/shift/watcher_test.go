package shift

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"clocktrack/internal/testutil"
	"clocktrack/internal/tracker"
)

func TestWatcher_Scan(t *testing.T) {
	ctx := context.Background()
	clock := testutil.FixedClock()
	db := testutil.NewTestDatabase(t, clock)
	svc := NewService(db, clock, testutil.NewStubIDGenerator(), nil, tracker.NewNopLogger())
	w := NewWatcher(db, filepath.Join(t.TempDir(), "shift"), time.Minute, tracker.NewNopLogger())

	if _, err := svc.ClockIn(ctx, "emp-1", office); err != nil {
		t.Fatalf("ClockIn() error = %v", err)
	}

	events, err := w.Scan(ctx)
	if err != nil {
		t.Fatalf("Scan() error = %v", err)
	}
	if len(events) != 1 || events[0].Kind != Activated || events[0].ShiftID != "id-1" {
		t.Fatalf("first Scan() = %+v, want one Activated", events)
	}

	events, _ = w.Scan(ctx)
	if len(events) != 0 {
		t.Errorf("unchanged Scan() = %+v, want none", events)
	}

	if _, err := svc.ClockOut(ctx, "emp-1", office); err != nil {
		t.Fatalf("ClockOut() error = %v", err)
	}
	events, _ = w.Scan(ctx)
	if len(events) != 1 || events[0].Kind != Ended || events[0].EmployeeID != "emp-1" {
		t.Errorf("Scan() after clock-out = %+v, want one Ended", events)
	}
}

func TestWatcher_Run(t *testing.T) {
	clock := testutil.FixedClock()
	db := testutil.NewTestDatabase(t, clock)
	signal := filepath.Join(t.TempDir(), "signals", "shift")
	svc := NewService(db, clock, testutil.NewStubIDGenerator(), SignalFile{Path: signal, Clock: clock}, tracker.NewNopLogger())
	w := NewWatcher(db, signal, time.Hour, tracker.NewNopLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	events := make(chan Event, 16)
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx, events) }()

	// Let the watcher register before the first signal.
	time.Sleep(100 * time.Millisecond)
	if _, err := svc.ClockIn(ctx, "emp-1", office); err != nil {
		t.Fatalf("ClockIn() error = %v", err)
	}

	waitFor(t, events, Activated)

	if _, err := svc.ClockOut(ctx, "emp-1", office); err != nil {
		t.Fatalf("ClockOut() error = %v", err)
	}
	waitFor(t, events, Ended)

	cancel()
	if err := <-done; err != nil {
		t.Errorf("Run() error = %v", err)
	}
	// Ends only once Run closes the channel.
	for range events {
	}
}

// waitFor skips re-announcements until an event of kind arrives.
func waitFor(t *testing.T, events <-chan Event, kind EventKind) Event {
	t.Helper()
	timeout := time.After(3 * time.Second)
	for {
		select {
		case ev := <-events:
			if ev.Kind == kind {
				return ev
			}
		case <-timeout:
			t.Fatalf("no %s event", kind)
		}
	}
}

func TestWatcher_Announce(t *testing.T) {
	ctx := context.Background()
	clock := testutil.FixedClock()
	db := testutil.NewTestDatabase(t, clock)
	svc := NewService(db, clock, testutil.NewStubIDGenerator(), nil, tracker.NewNopLogger())
	w := NewWatcher(db, filepath.Join(t.TempDir(), "shift"), time.Minute, tracker.NewNopLogger())

	if _, err := svc.ClockIn(ctx, "emp-1", office); err != nil {
		t.Fatalf("ClockIn() error = %v", err)
	}
	if _, err := w.Scan(ctx); err != nil {
		t.Fatalf("Scan() error = %v", err)
	}

	events, err := w.Announce(ctx)
	if err != nil {
		t.Fatalf("Announce() error = %v", err)
	}
	if len(events) != 1 || events[0].Kind != Activated || events[0].ShiftID != "id-1" {
		t.Errorf("Announce() = %+v, want the active shift again", events)
	}
}
