package app

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sync/errgroup"

	"clocktrack/internal/location"
	"clocktrack/internal/runlock"
	"clocktrack/internal/shift"
	"clocktrack/internal/supervisor"
	"clocktrack/internal/syncengine"
)

// ErrAgentRunning is returned by RunAgent when another agent holds the lock.
var ErrAgentRunning = errors.New("agent already running")

// RunAgent runs capture, the shift watcher, connectivity polling and the
// sync scheduler until ctx is done. Only one agent runs per base directory.
func (a *TrackerApp) RunAgent(ctx context.Context) error {
	lock, err := runlock.Acquire(a.paths.AgentLock)
	if err != nil {
		if errors.Is(err, runlock.ErrLocked) {
			return fmt.Errorf("%w (pid %d)", ErrAgentRunning, runlock.Holder(a.paths.AgentLock))
		}
		return err
	}
	defer lock.Release()

	platform, err := supervisor.PlatformFor(a.cfg.Tracking.Platform)
	if err != nil {
		return err
	}
	provider, err := location.NewProviderFromConfig(a.cfg.Location, a.clock, a.logger)
	if err != nil {
		return fmt.Errorf("creating location provider: %w", err)
	}
	defer provider.Close()

	if _, err := a.engine.Load(ctx); err != nil {
		return fmt.Errorf("loading sync state: %w", err)
	}
	sched := syncengine.NewScheduler(a.engine, a.observer, a.clock, a.logger,
		a.cfg.Sync.DataDebounce.Duration, a.cfg.Sync.ConnectivityDebounce.Duration)
	a.scheduler.Store(sched)
	defer a.scheduler.Store(nil)

	sup := supervisor.New(supervisor.Params{
		Store:       a.db,
		Provider:    provider,
		Permission:  a.permission,
		Platform:    platform,
		Trigger:     a,
		Clock:       a.clock,
		IDs:         a.ids,
		Logger:      a.logger,
		Sampler:     a.samplerConfig(),
		LockPath:    a.paths.CaptureLock,
		StopTimeout: a.cfg.Tracking.StopTimeout.Duration,
	})
	defer sup.Stop(context.WithoutCancel(ctx))

	a.logger.Info("agent started", "platform", platform.Name(), "location", a.cfg.Location.Type,
		"remote", a.cfg.Remote.Type)
	if res, ok := sup.Resume(ctx); ok {
		a.logger.Info("capture resumed", "result", res.String())
	}

	watcher := shift.NewWatcher(a.db, a.paths.ShiftSignal, 0, a.logger)
	events := make(chan shift.Event, 16)
	changes := a.observer.Subscribe()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return a.observer.Run(gctx) })
	g.Go(func() error {
		sched.Run(gctx, changes)
		return nil
	})
	g.Go(func() error { return watcher.Run(gctx, events) })
	g.Go(func() error {
		sup.Listen(gctx, events)
		return nil
	})

	err = g.Wait()
	a.logger.Info("agent stopping", "error", err)
	return err
}
