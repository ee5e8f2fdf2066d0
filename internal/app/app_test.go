package app

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"clocktrack/internal/config"
	"clocktrack/internal/model"
	"clocktrack/internal/runlock"
	"clocktrack/internal/shift"
	"clocktrack/internal/supervisor"
	"clocktrack/internal/syncengine"
	"clocktrack/internal/tracker"
	"clocktrack/internal/watchdog"
)

const track = `{"_type":"location","lat":52.5200,"lon":13.4050,"acc":5}
{"_type":"location","lat":52.5203,"lon":13.4061,"acc":5}
{"_type":"location","lat":52.5207,"lon":13.4075,"acc":6}
`

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	base := t.TempDir()
	cfg := config.NewConfig("dev-1", "emp-1", base)
	cfg.Database = config.DatabaseConfig{Type: "memory"}
	cfg.Remote = config.RemoteConfig{Type: "memory"}
	cfg.Log.Level = "error"
	cfg.Location.ReplayDelay = config.D(10 * time.Millisecond)
	cfg.Sync.DataDebounce = config.D(10 * time.Millisecond)
	cfg.Sync.ConnectivityDebounce = config.D(10 * time.Millisecond)
	if err := os.WriteFile(cfg.Location.ReplayFile, []byte(track), 0644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	return cfg
}

func newTestApp(t *testing.T, cfg *config.Config) *TrackerApp {
	t.Helper()
	a, err := NewTrackerApp(context.Background(), cfg, "Test", "")
	if err != nil {
		t.Fatalf("NewTrackerApp() error = %v", err)
	}
	// Never spawn the test binary as an agent.
	a.executable = "true"
	t.Cleanup(func() { a.Close() })
	if err := a.GrantPermission(tracker.PermissionAlways); err != nil {
		t.Fatalf("GrantPermission() error = %v", err)
	}
	return a
}

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

var office = model.Location{Latitude: 52.52, Longitude: 13.405}

func TestNewTrackerApp_RequiresDeviceID(t *testing.T) {
	cfg := testConfig(t)
	cfg.DeviceID = ""
	if _, err := NewTrackerApp(context.Background(), cfg, "Test", ""); err == nil {
		t.Fatal("NewTrackerApp() without device id succeeded")
	}
}

func TestTrackerApp_ClockInOutAndSync(t *testing.T) {
	ctx := context.Background()
	a := newTestApp(t, testConfig(t))

	sh, res, err := a.ClockIn(ctx, office)
	if err != nil {
		t.Fatalf("ClockIn() error = %v", err)
	}
	if res.Outcome != supervisor.Success {
		t.Errorf("ClockIn() start = %v, want success", res)
	}
	if _, _, err := a.ClockIn(ctx, office); !errors.Is(err, shift.ErrAlreadyClockedIn) {
		t.Errorf("second ClockIn() error = %v, want ErrAlreadyClockedIn", err)
	}

	report, err := a.Status(ctx)
	if err != nil {
		t.Fatalf("Status() error = %v", err)
	}
	if report.Shift == nil || report.Shift.ID != sh.ID || report.Pending.Shifts != 1 {
		t.Errorf("Status() = %+v", report)
	}
	if report.Permission != tracker.PermissionAlways || report.CaptureActive || report.AgentRunning {
		t.Errorf("Status() = %+v, want permission granted and nothing running", report)
	}

	if got, err := a.SyncIfPending(ctx); err != nil || got.Synced != 1 {
		t.Fatalf("SyncIfPending() = %+v, %v; want the new shift synced", got, err)
	}
	if got, _ := a.SyncIfPending(ctx); got.Synced != 0 {
		t.Errorf("second SyncIfPending() = %+v, want no run", got)
	}

	if _, err := a.ClockOut(ctx, office); err != nil {
		t.Fatalf("ClockOut() error = %v", err)
	}
	if _, err := a.ClockOut(ctx, office); !errors.Is(err, shift.ErrNotClockedIn) {
		t.Errorf("second ClockOut() error = %v, want ErrNotClockedIn", err)
	}
	got, err := a.Sync(ctx, false)
	if err != nil || got.Synced != 1 {
		t.Fatalf("Sync() = %+v, %v; want the completed shift synced", got, err)
	}

	report, _ = a.Status(ctx)
	if report.Shift != nil || report.Sync.Status != model.StatusSynced || report.Pending.Total() != 0 {
		t.Errorf("Status() after clock out = %+v", report)
	}
}

func TestTrackerApp_RunAgent(t *testing.T) {
	a := newTestApp(t, testConfig(t))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if _, _, err := a.ClockIn(ctx, office); err != nil {
		t.Fatalf("ClockIn() error = %v", err)
	}

	done := make(chan error, 1)
	go func() { done <- a.RunAgent(ctx) }()

	eventually(t, "agent lock", a.AgentRunning)
	if err := a.RunAgent(ctx); !errors.Is(err, ErrAgentRunning) {
		t.Errorf("second RunAgent() error = %v, want ErrAgentRunning", err)
	}

	eventually(t, "capture", a.CaptureActive)
	eventually(t, "a captured point", func() bool {
		points, err := a.Points(ctx, time.Unix(0, 0), 10)
		return err == nil && len(points) > 0
	})
	eventually(t, "a successful sync", func() bool {
		r, err := a.Status(ctx)
		return err == nil && r.Sync.LastSuccessAt != nil
	})

	if _, err := a.ClockOut(ctx, office); err != nil {
		t.Fatalf("ClockOut() error = %v", err)
	}
	eventually(t, "capture to stop", func() bool { return !a.CaptureActive() })

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("RunAgent() error = %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("RunAgent() did not return after cancel")
	}
	if a.AgentRunning() {
		t.Error("agent lock still held after exit")
	}
}

func TestTrackerApp_Watchdog(t *testing.T) {
	ctx := context.Background()
	a := newTestApp(t, testConfig(t))

	if got := a.Watchdog(ctx, "timer-5m"); got != watchdog.Skipped {
		t.Errorf("Watchdog() with no shift = %v, want skipped", got)
	}
	if _, _, err := a.ClockIn(ctx, office); err != nil {
		t.Fatalf("ClockIn() error = %v", err)
	}
	if got := a.Watchdog(ctx, "timer-5m"); got != watchdog.Restarted {
		t.Errorf("Watchdog() with dead capture = %v, want restarted", got)
	}

	lines := a.WatchdogCronLines()
	if len(lines) != 2 {
		t.Fatalf("WatchdogCronLines() = %v", lines)
	}
	if !strings.HasPrefix(lines[0], "*/5 * * * * true watchdog --source timer-5m") {
		t.Errorf("cron line = %q", lines[0])
	}
}

func TestTrackerApp_SyncIfPending(t *testing.T) {
	ctx := context.Background()
	a := newTestApp(t, testConfig(t))

	a.DataPending()
	if !a.pending.Load() {
		t.Fatal("DataPending() without an agent was not remembered")
	}
	if _, err := a.SyncIfPending(ctx); err != nil {
		t.Fatalf("SyncIfPending() error = %v", err)
	}
	if a.pending.Load() {
		t.Error("pending flag not cleared")
	}

	// An agent mid-sync holds the sync lock; the command leaves it be.
	lock, err := runlock.Acquire(a.paths.SyncLock)
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	defer lock.Release()
	a.DataPending()
	if res, err := a.SyncIfPending(ctx); err != nil || res.Synced != 0 {
		t.Errorf("SyncIfPending() while locked = %+v, %v; want no run and no error", res, err)
	}
	if _, err := a.Sync(ctx, false); !errors.Is(err, syncengine.ErrSyncInProgress) {
		t.Errorf("Sync() while locked error = %v, want ErrSyncInProgress", err)
	}
}

func TestTrackerApp_LogFile(t *testing.T) {
	cfg := testConfig(t)
	cfg.Log.Level = "debug"
	a, err := NewTrackerApp(context.Background(), cfg, "Test", "")
	if err != nil {
		t.Fatalf("NewTrackerApp() error = %v", err)
	}
	if err := a.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	data, err := os.ReadFile(filepath.Join(cfg.LogDir, "clocktrack.log"))
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	if !strings.Contains(string(data), "operation started\toperation=Test") {
		t.Errorf("log file = %q", data)
	}
}
