// Package watchdog restarts capture when a shift is active but nothing is
// capturing. Each firing works from persisted state alone, so it can run in
// a freshly started process.
package watchdog

import (
	"context"
	"encoding/json"
	"fmt"

	"clocktrack/internal/model"
	"clocktrack/internal/sampler"
	"clocktrack/internal/supervisor"
	"clocktrack/internal/tracker"
)

// Outcome is what one firing did.
type Outcome int

const (
	Skipped Outcome = iota
	AlreadyRunning
	Restarted
	Failed
)

func (o Outcome) String() string {
	switch o {
	case Skipped:
		return "skipped"
	case AlreadyRunning:
		return "already_running"
	case Restarted:
		return "restarted"
	default:
		return "failed"
	}
}

// Controller is the capture surface the watchdog drives: the Supervisor
// in-process, or a ProcessLauncher from a cold start.
type Controller interface {
	IsActive() bool
	Start(ctx context.Context, shiftID, employeeID string, cfg sampler.Config) supervisor.StartResult
}

// Store is the persisted state a firing reads and the event log it writes.
type Store interface {
	ActiveShifts(ctx context.Context) ([]*model.Shift, error)
	LoadCaptureContext(ctx context.Context) (*model.CaptureContext, error)
	InsertEvent(ctx context.Context, event *model.DiagnosticEvent) error
}

type Watchdog struct {
	store      Store
	controller Controller
	defaults   sampler.Config
	clock      tracker.Clock
	ids        tracker.IDGenerator
	logger     tracker.Logger
}

func New(store Store, controller Controller, defaults sampler.Config, clock tracker.Clock, ids tracker.IDGenerator, logger tracker.Logger) *Watchdog {
	return &Watchdog{
		store:      store,
		controller: controller,
		defaults:   defaults,
		clock:      clock,
		ids:        ids,
		logger:     logger,
	}
}

// Fire runs one check. It never returns an error and never panics.
func (w *Watchdog) Fire(ctx context.Context, source string) (out Outcome) {
	defer func() {
		if r := recover(); r != nil {
			w.logger.Error("watchdog recovered from panic", "source", source, "panic", fmt.Sprint(r))
			out = Failed
		}
	}()

	shifts, err := w.store.ActiveShifts(ctx)
	if err != nil {
		w.logger.Error("watchdog reading active shifts", "source", source, "error", err)
		return Failed
	}
	if len(shifts) == 0 {
		w.logger.Debug("watchdog: no active shift", "source", source)
		return Skipped
	}
	if w.controller.IsActive() {
		w.logger.Debug("watchdog: capture alive", "source", source)
		return AlreadyRunning
	}

	sh := shifts[0]
	res := w.controller.Start(ctx, sh.ID, sh.EmployeeID, w.configFor(ctx, sh.ID))
	switch res.Outcome {
	case supervisor.AlreadyActive:
		return AlreadyRunning
	case supervisor.Success:
		w.logger.Warn("watchdog restarted capture", "source", source, "shift", sh.ID)
		w.recordRestart(ctx, sh, source, res)
		return Restarted
	default:
		w.logger.Error("watchdog restart failed", "source", source, "shift", sh.ID, "result", res.String())
		w.recordRestart(ctx, sh, source, res)
		return Failed
	}
}

// configFor prefers the config the shift was last started with.
func (w *Watchdog) configFor(ctx context.Context, shiftID string) sampler.Config {
	cc, err := w.store.LoadCaptureContext(ctx)
	if err != nil || cc == nil || cc.ShiftID != shiftID || len(cc.Config) == 0 {
		return w.defaults
	}
	cfg, err := sampler.Unmarshal(cc.Config)
	if err != nil {
		return w.defaults
	}
	return cfg
}

func (w *Watchdog) recordRestart(ctx context.Context, sh *model.Shift, source string, res supervisor.StartResult) {
	payload, _ := json.Marshal(map[string]string{"source": source, "result": res.String()})
	ev := &model.DiagnosticEvent{
		ID:         w.ids.New(),
		ShiftID:    sh.ID,
		EmployeeID: sh.EmployeeID,
		Kind:       model.EventWatchdogRestart,
		Payload:    payload,
		OccurredAt: w.clock.Now(),
		SyncStatus: model.SyncPending,
	}
	if err := w.store.InsertEvent(ctx, ev); err != nil {
		w.logger.Warn("recording watchdog restart", "error", err)
	}
}
