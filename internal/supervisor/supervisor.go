// Package supervisor runs the location sampler for the active shift and
// persists everything it produces.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"clocktrack/internal/model"
	"clocktrack/internal/runlock"
	"clocktrack/internal/sampler"
	"clocktrack/internal/shift"
	"clocktrack/internal/tracker"
)

// Outcome is the result class of Start.
type Outcome int

const (
	Success Outcome = iota
	PermissionDenied
	AlreadyActive
	ServiceError
)

func (o Outcome) String() string {
	switch o {
	case Success:
		return "success"
	case PermissionDenied:
		return "permission_denied"
	case AlreadyActive:
		return "already_active"
	default:
		return "service_error"
	}
}

// StartResult reports what Start did. Reason is set for ServiceError.
type StartResult struct {
	Outcome Outcome
	Reason  string
}

func (r StartResult) String() string {
	if r.Reason == "" {
		return r.Outcome.String()
	}
	return r.Outcome.String() + ": " + r.Reason
}

// State is the capture lifecycle state.
type State int

const (
	Stopped State = iota
	Starting
	Running
	GpsDegraded
)

func (s State) String() string {
	switch s {
	case Starting:
		return "starting"
	case Running:
		return "running"
	case GpsDegraded:
		return "gps_degraded"
	default:
		return "stopped"
	}
}

// Store is the part of the local queue the supervisor writes.
type Store interface {
	tracker.CaptureStore
	tracker.CaptureContextStore
	FindShift(ctx context.Context, shiftID string) (*model.Shift, error)
	ActiveShifts(ctx context.Context) ([]*model.Shift, error)
}

// Params wires a Supervisor.
type Params struct {
	Store      Store
	Provider   tracker.LocationProvider
	Permission tracker.PermissionSurface
	Platform   Platform
	// Trigger is told when new records are pending. Optional.
	Trigger tracker.SyncTrigger
	Clock   tracker.Clock
	IDs     tracker.IDGenerator
	Logger  tracker.Logger

	// Sampler is the config used for shifts started by the lifecycle
	// signal or by Resume without a persisted context.
	Sampler sampler.Config
	// LockPath is the capture lock other processes probe. Empty disables
	// cross-process detection.
	LockPath    string
	StopTimeout time.Duration
}

// Status is a snapshot of the capture state.
type Status struct {
	State      State
	ShiftID    string
	EmployeeID string
	Sampler    sampler.Status
}

// Supervisor owns at most one running sampler.
type Supervisor struct {
	p Params

	mu    sync.Mutex
	state State
	run   *run
}

// run is one started capture. Only the pump goroutine touches gap.
type run struct {
	shiftID    string
	employeeID string
	cancel     context.CancelFunc
	commands   chan<- sampler.Command
	done       chan struct{}
	lock       *runlock.Lock
	gap        *model.GpsGap
}

func New(p Params) *Supervisor {
	if p.StopTimeout <= 0 {
		p.StopTimeout = 5 * time.Second
	}
	if p.Platform == nil {
		p.Platform = Android{}
	}
	return &Supervisor{p: p}
}

// Start begins capture for an active shift. Calling it while capture runs,
// here or in another process, returns AlreadyActive without side effects.
func (s *Supervisor) Start(ctx context.Context, shiftID, employeeID string, cfg sampler.Config) StartResult {
	s.mu.Lock()
	if s.state != Stopped {
		s.mu.Unlock()
		return StartResult{Outcome: AlreadyActive}
	}
	s.state = Starting
	s.mu.Unlock()

	res, r := s.start(ctx, shiftID, employeeID, cfg)

	s.mu.Lock()
	defer s.mu.Unlock()
	if res.Outcome != Success {
		s.state = Stopped
		if res.Outcome == AlreadyActive {
			s.p.Logger.Debug("capture already active elsewhere", "shift", shiftID)
		} else {
			s.p.Logger.Warn("capture start failed", "shift", shiftID, "result", res.String())
		}
		return res
	}
	s.run = r
	s.state = Running
	s.p.Logger.Info("capture started", "shift", shiftID, "employee", employeeID, "platform", s.p.Platform.Name())
	return res
}

func (s *Supervisor) start(ctx context.Context, shiftID, employeeID string, cfg sampler.Config) (res StartResult, r *run) {
	defer func() {
		if v := recover(); v != nil {
			res, r = StartResult{Outcome: ServiceError, Reason: fmt.Sprintf("panic: %v", v)}, nil
		}
	}()

	if s.p.LockPath != "" {
		held, err := runlock.Probe(s.p.LockPath)
		if err != nil {
			return serviceError("probing capture lock", err), nil
		}
		if held {
			return StartResult{Outcome: AlreadyActive}, nil
		}
	}

	if res, ok := s.checkPermission(ctx); !ok {
		return res, nil
	}

	sh, err := s.p.Store.FindShift(ctx, shiftID)
	if err != nil {
		return serviceError("loading shift", err), nil
	}
	if sh == nil || sh.Status != model.ShiftActive {
		return StartResult{Outcome: ServiceError, Reason: fmt.Sprintf("shift %s is not active", shiftID)}, nil
	}
	if employeeID == "" {
		employeeID = sh.EmployeeID
	}
	if sh.EmployeeID != employeeID {
		return StartResult{Outcome: ServiceError, Reason: fmt.Sprintf("shift %s belongs to %s", shiftID, sh.EmployeeID)}, nil
	}

	cfg = cfg.WithDefaults()
	cfg.ShiftID, cfg.EmployeeID = shiftID, employeeID
	if cfg.DeviceID == "" {
		cfg.DeviceID = s.p.Sampler.DeviceID
	}
	if err := cfg.Validate(); err != nil {
		return serviceError("sampler config", err), nil
	}

	var lock *runlock.Lock
	if s.p.LockPath != "" {
		lock, err = runlock.Acquire(s.p.LockPath)
		if errors.Is(err, runlock.ErrLocked) {
			return StartResult{Outcome: AlreadyActive}, nil
		}
		if err != nil {
			return serviceError("acquiring capture lock", err), nil
		}
	}
	release := func() {
		if lock != nil {
			lock.Release()
		}
	}

	now := s.p.Clock.Now()
	if err := s.closeStaleGap(ctx, shiftID, now); err != nil {
		s.p.Logger.Warn("closing gap left by previous run", "shift", shiftID, "error", err)
	}

	raw, err := cfg.Marshal()
	if err != nil {
		release()
		return serviceError("encoding capture context", err), nil
	}
	cc := &model.CaptureContext{
		ShiftID:     shiftID,
		EmployeeID:  employeeID,
		Config:      raw,
		StartedAt:   now,
		HeartbeatAt: now,
	}
	if err := s.p.Store.SaveCaptureContext(ctx, cc); err != nil {
		release()
		return serviceError("persisting capture context", err), nil
	}

	out := make(chan sampler.Message, 64)
	smp := sampler.New(cfg, s.p.Provider, s.p.Platform.SubscriptionSettings(cfg), s.p.Clock, s.p.IDs, s.p.Logger, out)
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	r = &run{
		shiftID:    shiftID,
		employeeID: employeeID,
		cancel:     cancel,
		commands:   smp.Commands(),
		done:       make(chan struct{}),
		lock:       lock,
	}

	go func() {
		if err := smp.Run(runCtx); err != nil {
			s.p.Logger.Error("sampler exited", "shift", shiftID, "error", err)
		}
	}()
	go s.pump(runCtx, r, out)

	s.recordEvent(ctx, shiftID, employeeID, model.EventTrackingStarted, map[string]any{
		"platform": s.p.Platform.Name(),
	})
	return StartResult{Outcome: Success}, r
}

func serviceError(op string, err error) StartResult {
	return StartResult{Outcome: ServiceError, Reason: fmt.Sprintf("%s: %v", op, err)}
}

// checkPermission asks for the platform's level once when it is missing.
func (s *Supervisor) checkPermission(ctx context.Context) (StartResult, bool) {
	if s.p.Permission == nil {
		return StartResult{}, true
	}
	want := s.p.Platform.RequiredPermission()
	level, err := s.p.Permission.Level(ctx)
	if err != nil {
		return serviceError("reading permission", err), false
	}
	if level >= want {
		return StartResult{}, true
	}
	level, err = s.p.Permission.Request(ctx, want)
	if err != nil {
		return serviceError("requesting permission", err), false
	}
	if level < want {
		return StartResult{Outcome: PermissionDenied, Reason: fmt.Sprintf("have %s, need %s", level, want)}, false
	}
	return StartResult{}, true
}

func (s *Supervisor) closeStaleGap(ctx context.Context, shiftID string, at time.Time) error {
	gap, err := s.p.Store.FindOpenGap(ctx, shiftID)
	if err != nil || gap == nil {
		return err
	}
	if at.Before(gap.StartedAt) {
		at = gap.StartedAt
	}
	return s.p.Store.CloseGap(ctx, gap.ID, at)
}

// Stop ends capture. It is a no-op when nothing runs here.
func (s *Supervisor) Stop(ctx context.Context) {
	s.mu.Lock()
	r := s.run
	s.run = nil
	if r == nil {
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()

	r.cancel()
	select {
	case <-r.done:
	case <-time.After(s.p.StopTimeout):
		s.p.Logger.Warn("sampler did not drain before stop timeout", "shift", r.shiftID, "timeout", s.p.StopTimeout)
	}

	if err := s.closeStaleGap(ctx, r.shiftID, s.p.Clock.Now()); err != nil {
		s.p.Logger.Warn("closing open gap on stop", "shift", r.shiftID, "error", err)
	}
	if err := s.p.Store.ClearCaptureContext(ctx); err != nil {
		s.p.Logger.Error("clearing capture context", "error", err)
	}
	if r.lock != nil {
		if err := r.lock.Release(); err != nil {
			s.p.Logger.Warn("releasing capture lock", "error", err)
		}
	}

	s.mu.Lock()
	s.state = Stopped
	s.mu.Unlock()
	s.p.Logger.Info("capture stopped", "shift", r.shiftID)
}

// IsActive reports whether capture runs in this process or any other.
func (s *Supervisor) IsActive() bool {
	s.mu.Lock()
	running := s.state != Stopped
	s.mu.Unlock()
	if running || s.p.LockPath == "" {
		return running
	}
	held, err := runlock.Probe(s.p.LockPath)
	if err != nil {
		s.p.Logger.Warn("probing capture lock", "error", err)
		return false
	}
	return held
}

// State returns the in-process lifecycle state.
func (s *Supervisor) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Supervisor) setState(from, to State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == from {
		s.state = to
	}
}

// Status asks the running sampler for a snapshot.
func (s *Supervisor) Status(ctx context.Context) (Status, error) {
	s.mu.Lock()
	st := Status{State: s.state}
	r := s.run
	s.mu.Unlock()
	if r == nil {
		return st, nil
	}
	st.ShiftID, st.EmployeeID = r.shiftID, r.employeeID

	reply := make(chan sampler.Status, 1)
	select {
	case r.commands <- sampler.QueryStatus{Reply: reply}:
	case <-r.done:
		return st, nil
	case <-ctx.Done():
		return st, ctx.Err()
	}
	select {
	case st.Sampler = <-reply:
		return st, nil
	case <-r.done:
		return st, nil
	case <-ctx.Done():
		return st, ctx.Err()
	}
}

// UpdateConfig forwards new cadence settings to the running sampler.
func (s *Supervisor) UpdateConfig(ctx context.Context, cfg sampler.Config) error {
	s.mu.Lock()
	r := s.run
	s.mu.Unlock()
	if r == nil {
		return fmt.Errorf("capture is not running")
	}
	select {
	case r.commands <- sampler.UpdateConfig{Config: cfg}:
		return nil
	case <-r.done:
		return fmt.Errorf("capture is stopping")
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Listen starts and stops capture from shift lifecycle events until ctx is
// done or events is closed.
func (s *Supervisor) Listen(ctx context.Context, events <-chan shift.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			s.handleShiftEvent(ctx, ev)
		}
	}
}

// handleShiftEvent follows a shift change made by another process. The
// change queued a shift record there, so sync is nudged here too.
func (s *Supervisor) handleShiftEvent(ctx context.Context, ev shift.Event) {
	defer s.dataPending()
	switch ev.Kind {
	case shift.Activated:
		res := s.Start(ctx, ev.ShiftID, ev.EmployeeID, s.p.Sampler)
		s.p.Logger.Debug("shift activated", "shift", ev.ShiftID, "result", res.String())
	case shift.Ended:
		s.mu.Lock()
		current := s.run != nil && s.run.shiftID == ev.ShiftID
		s.mu.Unlock()
		if current {
			s.Stop(ctx)
		}
	}
}

// Resume restarts capture after process start: from the persisted context
// when its shift is still active, otherwise for any active shift. It
// reports false when there was nothing to resume.
func (s *Supervisor) Resume(ctx context.Context) (StartResult, bool) {
	cc, err := s.p.Store.LoadCaptureContext(ctx)
	if err != nil {
		return serviceError("loading capture context", err), true
	}
	if cc != nil {
		sh, err := s.p.Store.FindShift(ctx, cc.ShiftID)
		if err != nil {
			return serviceError("loading shift", err), true
		}
		if sh != nil && sh.Status == model.ShiftActive {
			cfg := s.p.Sampler
			if len(cc.Config) > 0 {
				if saved, err := sampler.Unmarshal(cc.Config); err == nil {
					cfg = saved
				} else {
					s.p.Logger.Warn("ignoring persisted sampler config", "error", err)
				}
			}
			return s.Start(ctx, cc.ShiftID, cc.EmployeeID, cfg), true
		}
		s.p.Logger.Info("dropping capture context for ended shift", "shift", cc.ShiftID)
		if err := s.closeStaleGap(ctx, cc.ShiftID, s.p.Clock.Now()); err != nil {
			s.p.Logger.Warn("closing gap of ended shift", "shift", cc.ShiftID, "error", err)
		}
		if err := s.p.Store.ClearCaptureContext(ctx); err != nil {
			s.p.Logger.Error("clearing capture context", "error", err)
		}
	}

	shifts, err := s.p.Store.ActiveShifts(ctx)
	if err != nil {
		return serviceError("listing active shifts", err), true
	}
	if len(shifts) == 0 {
		return StartResult{}, false
	}
	return s.Start(ctx, shifts[0].ID, shifts[0].EmployeeID, s.p.Sampler), true
}
