package syncengine

import (
	"context"
	"errors"
	"sync"
	"time"

	"clocktrack/internal/model"
	"clocktrack/internal/tracker"
)

// Syncer is the engine surface the scheduler drives.
type Syncer interface {
	Sync(ctx context.Context) (model.SyncResult, error)
	NextAttemptDelay(now time.Time) time.Duration
	AuthHalted() bool
}

// Timer is a pending scheduled call.
type Timer interface {
	Stop() bool
}

// AfterFunc schedules f after d. Tests replace it to fire timers by hand.
type AfterFunc func(d time.Duration, f func()) Timer

func realAfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

// Scheduler decides when sync attempts run. It holds at most one timer,
// which is either a debounce timer or a backoff timer.
//
// A backoff timer is never moved by a trigger; it runs to completion. A
// debounce timer is re-armed to the latest of its current deadline, now
// plus the trigger's debounce, and the end of any persisted backoff.
type Scheduler struct {
	engine       Syncer
	conn         tracker.Connectivity
	clock        tracker.Clock
	logger       tracker.Logger
	dataDebounce time.Duration
	connDebounce time.Duration
	afterFunc    AfterFunc

	mu      sync.Mutex
	ctx     context.Context
	timer   Timer
	due     time.Time
	backoff bool
	gen     int
	closed  bool
	// status is the last connectivity status reported.
	status tracker.ConnectivityStatus
}

func NewScheduler(engine Syncer, conn tracker.Connectivity, clock tracker.Clock, logger tracker.Logger,
	dataDebounce, connDebounce time.Duration) *Scheduler {
	if dataDebounce <= 0 {
		dataDebounce = 5 * time.Second
	}
	if connDebounce <= 0 {
		connDebounce = 30 * time.Second
	}
	return &Scheduler{
		engine:       engine,
		conn:         conn,
		clock:        clock,
		logger:       logger,
		dataDebounce: dataDebounce,
		connDebounce: connDebounce,
		afterFunc:    realAfterFunc,
		ctx:          context.Background(),
	}
}

// SetAfterFunc replaces the timer source. Call before Start.
func (s *Scheduler) SetAfterFunc(f AfterFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.afterFunc = f
}

// Start arms the first attempt after process start: at the end of a
// persisted backoff if one remains, otherwise after the data debounce.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ctx = ctx
	s.closed = false
	now := s.clock.Now()
	if d := s.engine.NextAttemptDelay(now); d > 0 {
		s.logger.Info("resuming sync backoff", "remaining", d)
		s.armLocked(now.Add(d), true)
		return
	}
	s.armLocked(now.Add(s.dataDebounce), false)
}

// Stop cancels any pending timer. Triggers after Stop are ignored.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.clearLocked()
}

// DataPending schedules an attempt after the short debounce.
func (s *Scheduler) DataPending() {
	s.trigger(s.dataDebounce, "data pending")
}

// ConnectivityChanged schedules an attempt after the long debounce when
// the service becomes reachable again after being offline. The first
// check finding it reachable leaves the start-up attempt as armed.
func (s *Scheduler) ConnectivityChanged(status tracker.ConnectivityStatus) {
	s.mu.Lock()
	prev := s.status
	s.status = status
	s.mu.Unlock()
	if status != tracker.ConnectivityOnline || prev != tracker.ConnectivityOffline {
		return
	}
	s.trigger(s.connDebounce, "connectivity restored")
}

// Run starts the scheduler and feeds it connectivity changes until ctx is
// done or changes is closed.
func (s *Scheduler) Run(ctx context.Context, changes <-chan tracker.ConnectivityStatus) {
	s.Start(ctx)
	defer s.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case st, ok := <-changes:
			if !ok {
				<-ctx.Done()
				return
			}
			s.ConnectivityChanged(st)
		}
	}
}

// Due returns when the pending attempt fires and whether it is a backoff
// timer.
func (s *Scheduler) Due() (time.Time, bool, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.due, s.backoff, s.timer != nil
}

func (s *Scheduler) trigger(debounce time.Duration, reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	if s.timer != nil && s.backoff {
		s.logger.Debug("sync trigger deferred to backoff", "reason", reason, "due", s.due)
		return
	}
	now := s.clock.Now()
	at := now.Add(debounce)
	if d := s.engine.NextAttemptDelay(now); d > 0 && now.Add(d).After(at) {
		at = now.Add(d)
	}
	if s.timer != nil && s.due.After(at) {
		at = s.due
	}
	s.logger.Debug("sync scheduled", "reason", reason, "in", at.Sub(now))
	s.armLocked(at, false)
}

func (s *Scheduler) clearLocked() {
	if s.timer != nil {
		s.timer.Stop()
	}
	s.timer = nil
	s.due = time.Time{}
	s.backoff = false
	s.gen++
}

func (s *Scheduler) armLocked(at time.Time, backoff bool) {
	s.clearLocked()
	gen := s.gen
	s.due = at
	s.backoff = backoff
	s.timer = s.afterFunc(at.Sub(s.clock.Now()), func() { s.fire(gen) })
}

// fire runs one attempt for the timer armed as generation gen. A stopped
// timer that fires anyway is ignored.
func (s *Scheduler) fire(gen int) {
	s.mu.Lock()
	if s.closed || gen != s.gen {
		s.mu.Unlock()
		return
	}
	s.timer = nil
	s.due = time.Time{}
	s.backoff = false
	ctx := s.ctx
	s.mu.Unlock()

	if s.engine.AuthHalted() {
		s.logger.Debug("sync skipped: authorization required")
		return
	}

	_, err := s.engine.Sync(ctx)
	switch {
	case errors.Is(err, ErrSyncInProgress):
		s.trigger(s.dataDebounce, "sync busy")
		return
	case errors.Is(err, ErrOffline), errors.Is(err, ErrAuthRequired):
		return
	case err != nil:
		s.logger.Warn("sync attempt failed", "error", err)
	}

	now := s.clock.Now()
	d := s.engine.NextAttemptDelay(now)
	if d <= 0 {
		return
	}
	if s.conn != nil && s.conn.Status() != tracker.ConnectivityOnline {
		s.logger.Debug("not scheduling backoff retry while offline")
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	// A trigger that arrived during the attempt is superseded by the
	// backoff timer.
	s.armLocked(now.Add(d), true)
	s.logger.Info("sync retry scheduled", "in", d)
}

var _ tracker.SyncTrigger = (*Scheduler)(nil)
