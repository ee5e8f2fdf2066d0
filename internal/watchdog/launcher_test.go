package watchdog

import (
	"context"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"clocktrack/internal/runlock"
	"clocktrack/internal/sampler"
	"clocktrack/internal/supervisor"
	"clocktrack/internal/tracker"
)

type countingNotifier struct{ n int }

func (c *countingNotifier) Notify() error {
	c.n++
	return nil
}

func TestProcessLauncher_IsActive(t *testing.T) {
	dir := t.TempDir()
	l := &ProcessLauncher{CaptureLock: filepath.Join(dir, "capture.lock"), Logger: tracker.NewNopLogger()}

	if l.IsActive() {
		t.Error("IsActive() = true with no lock file")
	}
	lock, err := runlock.Acquire(l.CaptureLock)
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	defer lock.Release()
	if !l.IsActive() {
		t.Error("IsActive() = false while capture lock is held")
	}
}

func TestProcessLauncher_WakesLiveAgent(t *testing.T) {
	dir := t.TempDir()
	wake := &countingNotifier{}
	l := &ProcessLauncher{
		Executable:  "/nonexistent/clocktrack",
		AgentLock:   filepath.Join(dir, "agent.lock"),
		CaptureLock: filepath.Join(dir, "capture.lock"),
		Wake:        wake,
		Logger:      tracker.NewNopLogger(),
	}
	lock, err := runlock.Acquire(l.AgentLock)
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	defer lock.Release()

	res := l.Start(context.Background(), "shift-1", "emp-1", sampler.DefaultConfig())
	if res.Outcome != supervisor.Success {
		t.Fatalf("Start() = %v, want success", res)
	}
	if wake.n != 1 {
		t.Errorf("wake notifications = %d, want 1", wake.n)
	}
}

func TestProcessLauncher_SpawnsAgent(t *testing.T) {
	bin, err := exec.LookPath("true")
	if err != nil {
		t.Skip("no true binary")
	}
	dir := t.TempDir()
	l := &ProcessLauncher{
		Executable:  bin,
		Args:        []string{"agent"},
		AgentLock:   filepath.Join(dir, "agent.lock"),
		CaptureLock: filepath.Join(dir, "capture.lock"),
		Logger:      tracker.NewNopLogger(),
	}

	if res := l.Start(context.Background(), "shift-1", "emp-1", sampler.DefaultConfig()); res.Outcome != supervisor.Success {
		t.Errorf("Start() = %v, want success", res)
	}

	l.Executable = filepath.Join(dir, "missing")
	if res := l.Start(context.Background(), "shift-1", "emp-1", sampler.DefaultConfig()); res.Outcome != supervisor.ServiceError {
		t.Errorf("Start() with missing binary = %v, want service_error", res)
	}
}

func sleepLauncher(t *testing.T, dir, seconds string) *ProcessLauncher {
	t.Helper()
	bin, err := exec.LookPath("sleep")
	if err != nil {
		t.Skip("no sleep binary")
	}
	return &ProcessLauncher{
		Executable:  bin,
		Args:        []string{seconds},
		AgentLock:   filepath.Join(dir, "agent.lock"),
		CaptureLock: filepath.Join(dir, "capture.lock"),
		LaunchLock:  filepath.Join(dir, "launch.lock"),
		StartupWait: 10 * time.Second,
		Logger:      tracker.NewNopLogger(),
	}
}

func TestProcessLauncher_OverlappingStartsSpawnOnce(t *testing.T) {
	dir := t.TempDir()
	// The 5 and 15 minute triggers firing in the same minute.
	launchers := []*ProcessLauncher{sleepLauncher(t, dir, "2"), sleepLauncher(t, dir, "2")}

	results := make([]supervisor.StartResult, len(launchers))
	var wg sync.WaitGroup
	for i, l := range launchers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i] = l.Start(context.Background(), "shift-1", "emp-1", sampler.DefaultConfig())
		}()
	}
	wg.Wait()

	var spawned, skipped int
	for _, r := range results {
		switch r.Outcome {
		case supervisor.Success:
			spawned++
		case supervisor.AlreadyActive:
			skipped++
		}
	}
	if spawned != 1 || skipped != 1 {
		t.Errorf("Start() results = %v, want one spawn and one already_active", results)
	}
}

func TestProcessLauncher_WaitsForCapture(t *testing.T) {
	dir := t.TempDir()
	l := sleepLauncher(t, dir, "5")

	held := make(chan *runlock.Lock, 1)
	go func() {
		time.Sleep(200 * time.Millisecond)
		lock, _ := runlock.Acquire(l.CaptureLock)
		held <- lock
	}()

	start := time.Now()
	res := l.Start(context.Background(), "shift-1", "emp-1", sampler.DefaultConfig())
	lock := <-held
	defer lock.Release()
	if lock == nil {
		t.Fatal("capture lock not taken")
	}
	if res.Outcome != supervisor.Success {
		t.Fatalf("Start() = %v, want success", res)
	}
	if waited := time.Since(start); waited < 200*time.Millisecond || waited > 4*time.Second {
		t.Errorf("Start() returned after %v, want once capture came up", waited)
	}
	if res := l.Start(context.Background(), "shift-1", "emp-1", sampler.DefaultConfig()); res.Outcome != supervisor.AlreadyActive {
		t.Errorf("Start() with capture up = %v, want already_active", res)
	}
}

func TestTriggerCronLine(t *testing.T) {
	if len(Triggers) != 2 {
		t.Fatalf("Triggers = %v, want two", Triggers)
	}
	line := Triggers[0].CronLine([]string{"/home/a b/bin/clocktrack"})
	want := "*/5 * * * * '/home/a b/bin/clocktrack' watchdog --source timer-5m"
	if line != want {
		t.Errorf("CronLine() = %q, want %q", line, want)
	}
	if !strings.HasPrefix(Triggers[1].CronLine([]string{"clocktrack"}), "*/15 ") {
		t.Errorf("15 minute trigger renders %q", Triggers[1].CronLine([]string{"clocktrack"}))
	}
}
