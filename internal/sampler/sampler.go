// Package sampler decides which location fixes become GPS points. It owns
// one live subscription, chooses between the active and stationary cadence,
// detects GPS loss and recovers dead streams. It never touches the queue:
// everything it produces leaves as a Message.
package sampler

import (
	"context"
	"fmt"
	"time"

	"clocktrack/internal/model"
	"clocktrack/internal/tracker"
)

const (
	currentPositionTimeout = 30 * time.Second
	finalMessageTimeout    = 5 * time.Second
)

// Sampler processes fixes for one shift. All state is owned by the
// goroutine running Run; HandleFix and Tick are exported for tests that
// drive it step by step.
type Sampler struct {
	cfg      Config
	provider tracker.LocationProvider
	settings tracker.SubscriptionSettings
	clock    tracker.Clock
	ids      tracker.IDGenerator
	logger   tracker.Logger

	out      chan<- Message
	commands chan Command
	oneShot  chan tracker.Fix

	sub       tracker.Subscription
	startedAt time.Time

	lastFix   *tracker.Fix
	lastFixAt time.Time

	lastCaptureAt time.Time

	refLat, refLon float64
	refAt          time.Time
	hasRef         bool
	stationary     bool

	gpsLost      bool
	gapStartedAt time.Time

	pointCount       int
	recoveryAttempts int
	nextRecoveryAt   time.Time
}

// New creates a sampler that reports on out. out is closed when Run returns.
func New(cfg Config, provider tracker.LocationProvider, settings tracker.SubscriptionSettings,
	clock tracker.Clock, ids tracker.IDGenerator, logger tracker.Logger, out chan<- Message) *Sampler {
	return &Sampler{
		cfg:      cfg.WithDefaults(),
		provider: provider,
		settings: settings,
		clock:    clock,
		ids:      ids,
		logger:   logger,
		out:      out,
		commands: make(chan Command, 8),
		oneShot:  make(chan tracker.Fix, 1),
	}
}

// Commands accepts UpdateConfig and QueryStatus while Run is active.
func (s *Sampler) Commands() chan<- Command {
	return s.commands
}

// Run samples until ctx is cancelled, then emits MsgStopped and closes the
// outbound channel.
func (s *Sampler) Run(ctx context.Context) error {
	if err := s.cfg.Validate(); err != nil {
		close(s.out)
		return err
	}
	defer close(s.out)

	s.Start(ctx)
	go s.requestCurrentPosition(ctx)

	ticker := time.NewTicker(s.cfg.HealthTick)
	defer ticker.Stop()
	tickEvery := s.cfg.HealthTick

	for {
		var fixes <-chan tracker.Fix
		if s.sub != nil {
			fixes = s.sub.Fixes()
		}

		select {
		case <-ctx.Done():
			s.Stop()
			return nil

		case f, ok := <-fixes:
			if !ok {
				s.logger.Warn("location stream ended", "shift", s.cfg.ShiftID)
				s.sub = nil
				continue
			}
			s.HandleFix(ctx, f)

		case f := <-s.oneShot:
			s.HandleFix(ctx, f)

		case <-ticker.C:
			s.Tick(ctx)

		case cmd := <-s.commands:
			s.handleCommand(cmd)
			if s.cfg.HealthTick != tickEvery {
				tickEvery = s.cfg.HealthTick
				ticker.Reset(tickEvery)
			}
		}
	}
}

// Start records the start time, opens the subscription and emits
// MsgStarted. Run calls it; tests driving the sampler by hand call it
// directly.
func (s *Sampler) Start(ctx context.Context) {
	s.startedAt = s.clock.Now()
	s.subscribe(ctx)
	s.emit(ctx, Message{Kind: MsgStarted})
}

// Stop closes the subscription without waiting and emits MsgStopped.
func (s *Sampler) Stop() {
	s.closeSubscription()
	msg := s.message(Message{Kind: MsgStopped})
	select {
	case s.out <- msg:
	case <-time.After(finalMessageTimeout):
		s.logger.Warn("dropped final sampler message", "shift", s.cfg.ShiftID)
	}
}

// HandleFix applies one raw fix: liveness, stationary state, then the
// capture decision.
func (s *Sampler) HandleFix(ctx context.Context, f tracker.Fix) {
	defer s.recoverPanic("handle fix")

	now := s.clock.Now()
	if err := (model.Location{Latitude: f.Latitude, Longitude: f.Longitude, Accuracy: f.Accuracy}).Validate(); err != nil {
		s.logger.Warn("dropping invalid fix", "error", err)
		return
	}
	capturedAt := f.Timestamp
	if capturedAt.IsZero() {
		capturedAt = now
	}
	if !s.lastCaptureAt.IsZero() && capturedAt.Before(s.lastCaptureAt) {
		s.logger.Debug("dropping fix older than last capture", "fix", capturedAt, "last", s.lastCaptureAt)
		return
	}

	// 1. Liveness.
	fix := f
	s.lastFix = &fix
	prevFixAt := s.lastFixAt
	s.lastFixAt = now
	if s.recoveryAttempts > 0 {
		s.emit(ctx, Message{Kind: MsgStreamRecovered, Attempt: s.recoveryAttempts})
		s.recoveryAttempts = 0
	}
	s.nextRecoveryAt = time.Time{}
	if s.gpsLost {
		s.gpsLost = false
		s.emit(ctx, Message{Kind: MsgGpsRestored, GapStartedAt: s.gapStartedAt, GapEndedAt: now})
		s.logger.Info("gps restored", "shift", s.cfg.ShiftID, "gap", now.Sub(s.gapStartedAt), "last_fix", prevFixAt)
	}

	// 2. Stationary state.
	s.updateMovement(f, now)

	// 3. Capture decision.
	if !s.intervalElapsed(capturedAt) {
		return
	}
	s.capture(ctx, f, capturedAt)
}

func (s *Sampler) updateMovement(f tracker.Fix, now time.Time) {
	if !s.hasRef {
		s.refLat, s.refLon, s.refAt, s.hasRef = f.Latitude, f.Longitude, now, true
		return
	}
	if distance(s.refLat, s.refLon, f.Latitude, f.Longitude) > s.cfg.MovementThreshold {
		if s.stationary {
			s.logger.Debug("movement detected", "shift", s.cfg.ShiftID)
		}
		s.stationary = false
		s.refLat, s.refLon, s.refAt = f.Latitude, f.Longitude, now
		return
	}
	if !s.stationary && now.Sub(s.refAt) >= s.cfg.StationaryAfter {
		s.stationary = true
		s.logger.Debug("stationary", "shift", s.cfg.ShiftID)
	}
}

func (s *Sampler) interval() time.Duration {
	if s.stationary {
		return s.cfg.StationaryInterval
	}
	return s.cfg.ActiveInterval
}

func (s *Sampler) intervalElapsed(at time.Time) bool {
	return s.lastCaptureAt.IsZero() || at.Sub(s.lastCaptureAt) >= s.interval()
}

func (s *Sampler) capture(ctx context.Context, f tracker.Fix, at time.Time) {
	p := model.GpsPoint{
		ID:               s.ids.New(),
		ShiftID:          s.cfg.ShiftID,
		EmployeeID:       s.cfg.EmployeeID,
		Latitude:         f.Latitude,
		Longitude:        f.Longitude,
		Accuracy:         f.Accuracy,
		CapturedAt:       at,
		Speed:            f.Speed,
		SpeedAccuracy:    f.SpeedAccuracy,
		Heading:          f.Heading,
		HeadingAccuracy:  f.HeadingAccuracy,
		Altitude:         f.Altitude,
		AltitudeAccuracy: f.AltitudeAccuracy,
		IsMocked:         f.IsMocked,
		DeviceID:         s.cfg.DeviceID,
		SyncStatus:       model.SyncPending,
	}
	s.lastCaptureAt = at
	s.pointCount++
	s.emit(ctx, Message{Kind: MsgPointCaptured, Point: p})
}

// Tick runs the periodic health checks: heartbeat, GPS-loss detection,
// stream recovery and forced capture.
func (s *Sampler) Tick(ctx context.Context) {
	defer s.recoverPanic("health tick")

	now := s.clock.Now()
	s.emit(ctx, Message{Kind: MsgHeartbeat})

	silentSince := s.lastFixAt
	if silentSince.IsZero() {
		silentSince = s.startedAt
	}
	silence := now.Sub(silentSince)

	if !s.gpsLost && silence >= s.cfg.GPSLossAfter {
		s.gpsLost = true
		s.gapStartedAt = silentSince
		s.logger.Warn("gps lost", "shift", s.cfg.ShiftID, "silence", silence)
		s.emit(ctx, Message{Kind: MsgGpsLost, GapStartedAt: silentSince})
	}

	if s.recoveryDue(now, silentSince) {
		s.recoverStream(ctx, now)
	}

	// A stationary device may stop reporting fixes altogether, so forced
	// capture carries on while GPS is lost.
	if s.intervalElapsed(now) {
		s.forceCapture(ctx, now)
	}
}

func (s *Sampler) recoveryDue(now, silentSince time.Time) bool {
	if s.nextRecoveryAt.IsZero() {
		return s.sub == nil || now.Sub(silentSince) >= s.cfg.RecoveryDelay(1)
	}
	return !now.Before(s.nextRecoveryAt)
}

func (s *Sampler) recoverStream(ctx context.Context, now time.Time) {
	s.recoveryAttempts++
	attempt := s.recoveryAttempts
	s.nextRecoveryAt = now.Add(s.cfg.RecoveryDelay(attempt + 1))
	s.logger.Warn("recreating location stream", "shift", s.cfg.ShiftID, "attempt", attempt,
		"next_attempt", s.nextRecoveryAt)

	s.closeSubscription()
	s.subscribe(ctx)

	if attempt%s.cfg.RecoveryReportEvery == 0 {
		s.emit(ctx, Message{Kind: MsgStreamRecoveryFailing, Attempt: attempt})
	}
}

// forceCapture captures when the interval passed without a usable fix,
// from the cached fix or the provider's last known position.
func (s *Sampler) forceCapture(ctx context.Context, now time.Time) {
	f := s.lastFix
	if f == nil {
		f = s.lastKnown(ctx)
	}
	if f == nil {
		return
	}
	s.logger.Debug("forced capture", "shift", s.cfg.ShiftID, "stationary", s.stationary)
	s.capture(ctx, *f, now)
}

func (s *Sampler) lastKnown(ctx context.Context) (f *tracker.Fix) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("last known position panicked", "panic", fmt.Sprint(r))
			f = nil
		}
	}()
	fix, err := s.provider.LastKnownPosition(ctx)
	if err != nil {
		s.logger.Warn("last known position failed", "error", err)
		return nil
	}
	return fix
}

func (s *Sampler) subscribe(ctx context.Context) {
	defer s.recoverPanic("subscribe")
	sub, err := s.provider.Subscribe(ctx, s.settings)
	if err != nil {
		s.logger.Error("location subscribe failed", "shift", s.cfg.ShiftID, "error", err)
		return
	}
	s.sub = sub
}

// closeSubscription hands the old subscription to a goroutine so a hung
// provider cannot block the sampler.
func (s *Sampler) closeSubscription() {
	sub := s.sub
	s.sub = nil
	if sub == nil {
		return
	}
	go func() {
		defer s.recoverPanic("close subscription")
		if err := sub.Close(); err != nil {
			s.logger.Warn("closing location stream", "error", err)
		}
	}()
}

func (s *Sampler) requestCurrentPosition(ctx context.Context) {
	defer s.recoverPanic("current position")
	reqCtx, cancel := context.WithTimeout(ctx, currentPositionTimeout)
	defer cancel()

	f, err := s.provider.CurrentPosition(reqCtx)
	if err != nil {
		s.logger.Debug("single-shot fix unavailable", "error", err)
		return
	}
	if f == nil {
		return
	}
	select {
	case s.oneShot <- *f:
	case <-ctx.Done():
	}
}

func (s *Sampler) handleCommand(cmd Command) {
	switch c := cmd.(type) {
	case UpdateConfig:
		next := c.Config.WithDefaults()
		next.ShiftID, next.EmployeeID = s.cfg.ShiftID, s.cfg.EmployeeID
		if next.DeviceID == "" {
			next.DeviceID = s.cfg.DeviceID
		}
		if err := next.Validate(); err != nil {
			s.logger.Warn("ignoring invalid sampler config", "error", err)
			return
		}
		s.cfg = next
		s.logger.Info("sampler config updated", "active", next.ActiveInterval, "stationary", next.StationaryInterval)
	case QueryStatus:
		select {
		case c.Reply <- s.Status():
		default:
		}
	}
}

// Status returns a snapshot of the sampler state.
func (s *Sampler) Status() Status {
	return Status{
		Running:          !s.startedAt.IsZero(),
		PointCount:       s.pointCount,
		Stationary:       s.stationary,
		GpsLost:          s.gpsLost,
		LastFixAt:        s.lastFixAt,
		LastCaptureAt:    s.lastCaptureAt,
		RecoveryAttempts: s.recoveryAttempts,
		Config:           s.cfg,
	}
}

func (s *Sampler) message(m Message) Message {
	m.At = s.clock.Now()
	m.ShiftID = s.cfg.ShiftID
	m.EmployeeID = s.cfg.EmployeeID
	m.PointCount = s.pointCount
	m.Stationary = s.stationary
	return m
}

func (s *Sampler) emit(ctx context.Context, m Message) {
	select {
	case s.out <- s.message(m):
	case <-ctx.Done():
	}
}

func (s *Sampler) recoverPanic(op string) {
	if r := recover(); r != nil {
		s.logger.Error("sampler recovered from panic", "op", op, "panic", fmt.Sprint(r))
	}
}
