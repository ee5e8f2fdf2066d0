package watchdog

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"syscall"
	"time"

	"clocktrack/internal/runlock"
	"clocktrack/internal/sampler"
	"clocktrack/internal/shift"
	"clocktrack/internal/supervisor"
	"clocktrack/internal/tracker"
)

// ProcessLauncher is the Controller used from a cold process. It reads
// liveness from the run locks and restarts capture by waking a live agent
// or spawning a detached one.
type ProcessLauncher struct {
	Executable  string
	Args        []string
	AgentLock   string
	CaptureLock string
	// LaunchLock, if set, is held from the liveness check until the agent
	// is capturing, so overlapping firings start one agent.
	LaunchLock string
	// StartupWait bounds how long a launch waits for capture to come up.
	// Zero means DefaultStartupWait.
	StartupWait time.Duration
	// Wake asks a live agent to re-check active shifts.
	Wake   shift.Notifier
	Logger tracker.Logger
}

const (
	DefaultStartupWait = 10 * time.Second
	startupPoll        = 100 * time.Millisecond
)

func (l *ProcessLauncher) IsActive() bool {
	held, err := runlock.Probe(l.CaptureLock)
	if err != nil {
		l.Logger.Warn("probing capture lock", "error", err)
		return false
	}
	return held
}

// Start ignores cfg: the agent resumes with its persisted capture context.
// It reports AlreadyActive when another launch holds the launch lock or
// capture came up while waiting for it.
func (l *ProcessLauncher) Start(ctx context.Context, shiftID, employeeID string, cfg sampler.Config) supervisor.StartResult {
	if l.LaunchLock != "" {
		lock, err := runlock.Acquire(l.LaunchLock)
		if errors.Is(err, runlock.ErrLocked) {
			l.Logger.Info("agent launch already under way", "pid", runlock.Holder(l.LaunchLock))
			return supervisor.StartResult{Outcome: supervisor.AlreadyActive}
		}
		if err != nil {
			return supervisor.StartResult{Outcome: supervisor.ServiceError, Reason: err.Error()}
		}
		defer lock.Release()
		if l.IsActive() {
			return supervisor.StartResult{Outcome: supervisor.AlreadyActive}
		}
	}

	agentAlive, err := runlock.Probe(l.AgentLock)
	if err != nil {
		return supervisor.StartResult{Outcome: supervisor.ServiceError, Reason: err.Error()}
	}
	if agentAlive {
		if l.Wake == nil {
			return supervisor.StartResult{Outcome: supervisor.ServiceError, Reason: "agent running without capture and no wake signal"}
		}
		if err := l.Wake.Notify(); err != nil {
			return supervisor.StartResult{Outcome: supervisor.ServiceError, Reason: err.Error()}
		}
		l.Logger.Info("woke running agent", "shift", shiftID, "pid", runlock.Holder(l.AgentLock))
		l.awaitCapture(ctx, nil)
		return supervisor.StartResult{Outcome: supervisor.Success}
	}

	pid, exited, err := l.spawn()
	if err != nil {
		return supervisor.StartResult{Outcome: supervisor.ServiceError, Reason: err.Error()}
	}
	l.Logger.Info("spawned agent", "shift", shiftID, "pid", pid)
	l.awaitCapture(ctx, exited)
	return supervisor.StartResult{Outcome: supervisor.Success}
}

// awaitCapture holds a launch until capture is up, the spawned agent has
// exited, ctx is done or the startup wait passes. Without a launch lock
// there is nothing to hold.
func (l *ProcessLauncher) awaitCapture(ctx context.Context, exited <-chan struct{}) {
	if l.LaunchLock == "" {
		return
	}
	wait := l.StartupWait
	if wait <= 0 {
		wait = DefaultStartupWait
	}
	deadline := time.NewTimer(wait)
	defer deadline.Stop()
	tick := time.NewTicker(startupPoll)
	defer tick.Stop()
	for !l.IsActive() {
		select {
		case <-ctx.Done():
			return
		case <-exited:
			l.Logger.Warn("agent exited before capture started")
			return
		case <-deadline.C:
			l.Logger.Warn("capture not up after launch", "waited", wait)
			return
		case <-tick.C:
		}
	}
}

// spawn starts a detached agent. exited is closed when it terminates.
func (l *ProcessLauncher) spawn() (int, <-chan struct{}, error) {
	cmd := exec.Command(l.Executable, l.Args...)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
	devnull, err := os.OpenFile(os.DevNull, os.O_RDWR, 0)
	if err != nil {
		return 0, nil, fmt.Errorf("opening %s: %w", os.DevNull, err)
	}
	defer devnull.Close()
	cmd.Stdin, cmd.Stdout, cmd.Stderr = devnull, devnull, devnull

	if err := cmd.Start(); err != nil {
		return 0, nil, fmt.Errorf("starting agent: %w", err)
	}
	exited := make(chan struct{})
	go func() {
		cmd.Wait()
		close(exited)
	}()
	return cmd.Process.Pid, exited, nil
}

var (
	_ Controller = (*ProcessLauncher)(nil)
	_ Controller = (*supervisor.Supervisor)(nil)
)
