// Package shift handles clock-in and clock-out and turns shift lifecycle
// changes into events for the capture supervisor.
package shift

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"clocktrack/internal/model"
	"clocktrack/internal/tracker"
)

var (
	ErrAlreadyClockedIn = errors.New("employee already has an active shift")
	ErrNotClockedIn     = errors.New("employee has no active shift")
)

// Notifier tells a running agent that shifts changed.
type Notifier interface {
	Notify() error
}

// SignalFile is a Notifier that rewrites a file the agent's Watcher
// watches.
type SignalFile struct {
	Path  string
	Clock tracker.Clock
}

func (s SignalFile) Notify() error {
	if err := os.MkdirAll(filepath.Dir(s.Path), 0755); err != nil {
		return fmt.Errorf("creating signal directory: %w", err)
	}
	stamp := strconv.FormatInt(s.Clock.Now().UnixNano(), 10)
	if err := os.WriteFile(s.Path, []byte(stamp+"\n"), 0644); err != nil {
		return fmt.Errorf("writing shift signal: %w", err)
	}
	return nil
}

// Service records clock-in and clock-out.
type Service struct {
	store    tracker.ShiftStore
	clock    tracker.Clock
	ids      tracker.IDGenerator
	notifier Notifier
	logger   tracker.Logger
}

func NewService(store tracker.ShiftStore, clock tracker.Clock, ids tracker.IDGenerator, notifier Notifier, logger tracker.Logger) *Service {
	return &Service{store: store, clock: clock, ids: ids, notifier: notifier, logger: logger}
}

// ClockIn opens a new active shift at loc.
func (s *Service) ClockIn(ctx context.Context, employeeID string, loc model.Location) (*model.Shift, error) {
	existing, err := s.store.FindActiveShift(ctx, employeeID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return existing, ErrAlreadyClockedIn
	}

	shift := &model.Shift{
		ID:              s.ids.New(),
		EmployeeID:      employeeID,
		Status:          model.ShiftActive,
		ClockInAt:       s.clock.Now(),
		ClockInLocation: loc,
		SyncStatus:      model.SyncPending,
	}
	if err := s.store.CreateShift(ctx, shift); err != nil {
		return nil, fmt.Errorf("clocking in: %w", err)
	}
	s.logger.Info("clocked in", "shift", shift.ID, "employee", employeeID)
	s.notify()
	return shift, nil
}

// ClockOut completes the employee's active shift at loc.
func (s *Service) ClockOut(ctx context.Context, employeeID string, loc model.Location) (*model.Shift, error) {
	active, err := s.store.FindActiveShift(ctx, employeeID)
	if err != nil {
		return nil, err
	}
	if active == nil {
		return nil, ErrNotClockedIn
	}

	if err := s.store.CompleteShift(ctx, active.ID, s.clock.Now(), loc); err != nil {
		return nil, fmt.Errorf("clocking out: %w", err)
	}
	s.logger.Info("clocked out", "shift", active.ID, "employee", employeeID)
	s.notify()
	return s.store.FindShift(ctx, active.ID)
}

// Active returns the employee's active shift, or nil.
func (s *Service) Active(ctx context.Context, employeeID string) (*model.Shift, error) {
	return s.store.FindActiveShift(ctx, employeeID)
}

func (s *Service) notify() {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.Notify(); err != nil {
		s.logger.Warn("failed to signal shift change", "error", err)
	}
}
