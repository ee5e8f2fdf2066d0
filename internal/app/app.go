package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync/atomic"
	"time"

	"clocktrack/internal/config"
	"clocktrack/internal/connectivity"
	"clocktrack/internal/database"
	"clocktrack/internal/encryption"
	"clocktrack/internal/model"
	"clocktrack/internal/permission"
	"clocktrack/internal/quarantine"
	"clocktrack/internal/remote"
	"clocktrack/internal/runlock"
	"clocktrack/internal/sampler"
	"clocktrack/internal/shift"
	"clocktrack/internal/supervisor"
	"clocktrack/internal/syncengine"
	"clocktrack/internal/tracker"
	"clocktrack/internal/watchdog"
)

// TrackerApp is the application layer between the CLI and the tracking
// core. It constructs all dependencies from config, exposes the operations
// the commands run, and manages the DB lifecycle on Close.
type TrackerApp struct {
	cfg        *config.Config
	paths      Paths
	db         *database.SQLiteDatabase
	submitter  tracker.Submitter
	observer   *connectivity.Observer
	engine     *syncengine.Engine
	shifts     *shift.Service
	quarantine *quarantine.Service
	permission *permission.FileSurface
	clock      tracker.Clock
	ids        tracker.IDGenerator
	logger     tracker.Logger
	logCloser  io.Closer
	op         *Operation
	executable string

	// scheduler is set while the agent runs; otherwise sync requests are
	// remembered in pending and served by SyncIfPending.
	scheduler atomic.Pointer[syncengine.Scheduler]
	pending   atomic.Bool
}

// NewTrackerApp creates a fully wired TrackerApp from the given config.
// operation identifies the CLI command being run (e.g. "ClockIn", "Sync").
// The caller must call Close when done.
func NewTrackerApp(ctx context.Context, cfg *config.Config, operation, parameters string) (*TrackerApp, error) {
	if cfg.DeviceID == "" {
		return nil, fmt.Errorf("device_id not configured")
	}
	clock := tracker.RealClock{}
	op := NewOperation(operation, parameters, clock.Now())

	logger, logCloser, err := newLogger(cfg.Log, cfg.LogDir, op.ID(), nil)
	if err != nil {
		return nil, fmt.Errorf("creating logger: %w", err)
	}

	db, err := database.NewDatabaseFromConfig(cfg.Database, cfg.DeviceID, clock)
	if err != nil {
		logCloser.Close()
		return nil, fmt.Errorf("creating database: %w", err)
	}
	if err := db.CheckMigrations(); err != nil {
		db.Close()
		logCloser.Close()
		return nil, fmt.Errorf("database schema out of date: %w", err)
	}

	enc, err := encryption.NewEncryptorFromConfig(cfg.Encryption)
	if err != nil {
		db.Close()
		logCloser.Close()
		return nil, fmt.Errorf("creating encryptor: %w", err)
	}

	sub, err := remote.NewSubmitterFromConfig(ctx, cfg.Remote, cfg.DeviceID, enc)
	if err != nil {
		db.Close()
		logCloser.Close()
		return nil, fmt.Errorf("creating submitter: %w", err)
	}

	exe, err := os.Executable()
	if err != nil {
		exe = os.Args[0]
	}

	a := &TrackerApp{
		cfg:        cfg,
		paths:      PathsFor(cfg.BaseDir),
		db:         db,
		submitter:  sub,
		clock:      clock,
		ids:        tracker.UUIDGenerator{},
		logger:     logger,
		logCloser:  logCloser,
		op:         op,
		executable: exe,
	}
	a.observer = connectivity.NewObserver(sub, cfg.Sync.ConnectivityPoll.Duration, logger)
	opts := syncengine.OptionsFromConfig(cfg.Sync)
	opts.LockPath = a.paths.SyncLock
	a.engine = syncengine.NewEngine(db, sub, a.observer, clock, a.ids, logger, opts)
	a.shifts = shift.NewService(db, clock, a.ids, shift.SignalFile{Path: a.paths.ShiftSignal, Clock: clock}, logger)
	a.quarantine = quarantine.NewService(db, a, logger)
	a.permission = permission.NewFileSurface(cfg.Permission.GrantFile, logger)

	logger.Debug("operation started", "operation", op.Name, "parameters", op.Parameters)
	return a, nil
}

// Fail marks the running operation as failed when err is non-nil.
func (a *TrackerApp) Fail(err error) error {
	return a.op.Fail(err)
}

// Close closes the submitter, the database and the log file.
func (a *TrackerApp) Close() error {
	var errs []error
	a.logger.Debug("operation finished", "operation", a.op.Name, "status", a.op.Status,
		"duration", a.clock.Now().Sub(a.op.StartedAt))

	if c, ok := a.submitter.(io.Closer); ok {
		if err := c.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing submitter: %w", err))
		}
	}
	if err := a.db.Close(); err != nil {
		errs = append(errs, fmt.Errorf("closing database: %w", err))
	}
	if a.logCloser != nil {
		a.logCloser.Close()
	}
	return errors.Join(errs...)
}

// DataPending forwards to the agent's scheduler, or remembers the request
// for SyncIfPending in a one-shot command.
func (a *TrackerApp) DataPending() {
	if s := a.scheduler.Load(); s != nil {
		s.DataPending()
		return
	}
	a.pending.Store(true)
}

func (a *TrackerApp) samplerConfig() sampler.Config {
	return sampler.FromTracking(a.cfg.Tracking, a.cfg.DeviceID)
}

func (a *TrackerApp) launcher() *watchdog.ProcessLauncher {
	return &watchdog.ProcessLauncher{
		Executable:  a.executable,
		Args:        []string{"agent"},
		AgentLock:   a.paths.AgentLock,
		CaptureLock: a.paths.CaptureLock,
		LaunchLock:  a.paths.LaunchLock,
		Wake:        shift.SignalFile{Path: a.paths.ShiftSignal, Clock: a.clock},
		Logger:      a.logger,
	}
}

// ClockIn opens a shift for the configured employee and makes sure capture
// is running for it.
func (a *TrackerApp) ClockIn(ctx context.Context, loc model.Location) (*model.Shift, supervisor.StartResult, error) {
	sh, err := a.shifts.ClockIn(ctx, a.cfg.EmployeeID, loc)
	if err != nil {
		return nil, supervisor.StartResult{}, err
	}
	res := a.launcher().Start(ctx, sh.ID, sh.EmployeeID, a.samplerConfig())
	a.DataPending()
	return sh, res, nil
}

// ClockOut completes the active shift. The agent stops capture when it
// sees the shift end.
func (a *TrackerApp) ClockOut(ctx context.Context, loc model.Location) (*model.Shift, error) {
	sh, err := a.shifts.ClockOut(ctx, a.cfg.EmployeeID, loc)
	if err != nil {
		return nil, err
	}
	a.DataPending()
	return sh, nil
}

// ActiveShift returns the configured employee's active shift, or nil.
func (a *TrackerApp) ActiveShift(ctx context.Context) (*model.Shift, error) {
	return a.shifts.Active(ctx, a.cfg.EmployeeID)
}

// CaptureActive reports whether some process is capturing right now.
func (a *TrackerApp) CaptureActive() bool {
	return a.launcher().IsActive()
}

// AgentRunning reports whether an agent holds the agent lock.
func (a *TrackerApp) AgentRunning() bool {
	held, err := runlock.Probe(a.paths.AgentLock)
	return err == nil && held
}

// GrantPermission records the location permission level the user granted.
func (a *TrackerApp) GrantPermission(level tracker.PermissionLevel) error {
	if err := a.permission.Grant(level); err != nil {
		return err
	}
	a.logger.Info("location permission granted", "level", level.String())
	return nil
}

func (a *TrackerApp) PermissionLevel(ctx context.Context) (tracker.PermissionLevel, error) {
	return a.permission.Level(ctx)
}

// Sync runs one sync attempt now. With resumeAuth an authorization halt
// is cleared first.
func (a *TrackerApp) Sync(ctx context.Context, resumeAuth bool) (model.SyncResult, error) {
	if _, err := a.engine.Load(ctx); err != nil {
		return model.SyncResult{}, err
	}
	if resumeAuth {
		if err := a.engine.ResumeAuth(ctx); err != nil {
			return model.SyncResult{}, err
		}
	}
	a.observer.Check(ctx)
	return a.engine.Sync(ctx)
}

// SyncIfPending runs a sync when a one-shot command queued records. Being
// offline is not an error here, and neither is a sync already running in
// the agent: the agent syncs again after the shift change it is told of.
func (a *TrackerApp) SyncIfPending(ctx context.Context) (model.SyncResult, error) {
	if !a.pending.Swap(false) {
		return model.SyncResult{}, nil
	}
	res, err := a.Sync(ctx, false)
	switch {
	case errors.Is(err, syncengine.ErrOffline):
		return res, nil
	case errors.Is(err, syncengine.ErrSyncInProgress):
		a.logger.Info("sync left to the running agent")
		return res, nil
	}
	return res, err
}

// Watchdog runs one liveness check for the trigger named source.
func (a *TrackerApp) Watchdog(ctx context.Context, source string) watchdog.Outcome {
	wd := watchdog.New(a.db, a.launcher(), a.samplerConfig(), a.clock, a.ids, a.logger)
	return wd.Fire(ctx, source)
}

// WatchdogCronLines renders the crontab entries for both watchdog timers.
func (a *TrackerApp) WatchdogCronLines() []string {
	var lines []string
	for _, t := range watchdog.Triggers {
		lines = append(lines, t.CronLine([]string{a.executable}))
	}
	return lines
}

// Report is what the status command shows.
type Report struct {
	Shift         *model.Shift
	CaptureActive bool
	AgentRunning  bool
	Permission    tracker.PermissionLevel
	Sync          *model.SyncMetadata
	Pending       model.PendingCounts
	Quarantined   int
	Capture       *model.CaptureContext
}

func (a *TrackerApp) Status(ctx context.Context) (*Report, error) {
	r := &Report{
		CaptureActive: a.CaptureActive(),
		AgentRunning:  a.AgentRunning(),
	}
	var err error
	if r.Shift, err = a.ActiveShift(ctx); err != nil {
		return nil, err
	}
	if r.Permission, err = a.permission.Level(ctx); err != nil {
		return nil, err
	}
	if r.Sync, err = a.db.LoadSyncMetadata(ctx); err != nil {
		return nil, err
	}
	if r.Pending, err = a.db.PendingCounts(ctx); err != nil {
		return nil, err
	}
	if r.Capture, err = a.db.LoadCaptureContext(ctx); err != nil {
		return nil, err
	}
	q, err := a.quarantine.ListPending(ctx)
	if err != nil {
		return nil, err
	}
	r.Quarantined = len(q)
	return r, nil
}

// Points lists captured points at or after since, oldest first.
func (a *TrackerApp) Points(ctx context.Context, since time.Time, limit int) ([]*model.GpsPoint, error) {
	return a.db.ListGpsPoints(ctx, since, limit)
}

// Quarantine is the review surface for quarantined records.
func (a *TrackerApp) Quarantine() *quarantine.Service {
	return a.quarantine
}

// Now is the app clock, for commands that parse relative times.
func (a *TrackerApp) Now() time.Time {
	return a.clock.Now()
}
