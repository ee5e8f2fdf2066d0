// Package connectivity tracks whether the remote service is reachable.
package connectivity

import (
	"context"
	"sync"
	"time"

	"clocktrack/internal/tracker"
)

const defaultProbeTimeout = 10 * time.Second

// Pinger is the reachability probe, normally the configured Submitter.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Observer polls a Pinger and reports changes. The status is Unknown until
// the first probe completes; Unknown counts as offline.
type Observer struct {
	pinger   Pinger
	interval time.Duration
	timeout  time.Duration
	logger   tracker.Logger

	mu     sync.Mutex
	status tracker.ConnectivityStatus
	subs   []chan tracker.ConnectivityStatus
}

func NewObserver(pinger Pinger, interval time.Duration, logger tracker.Logger) *Observer {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	return &Observer{
		pinger:   pinger,
		interval: interval,
		timeout:  defaultProbeTimeout,
		logger:   logger,
	}
}

// Status returns the last observed status.
func (o *Observer) Status() tracker.ConnectivityStatus {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.status
}

// Online reports whether the last probe succeeded.
func (o *Observer) Online() bool {
	return o.Status() == tracker.ConnectivityOnline
}

// Subscribe returns a channel that receives each status change. A slow
// reader only ever sees the latest status.
func (o *Observer) Subscribe() <-chan tracker.ConnectivityStatus {
	o.mu.Lock()
	defer o.mu.Unlock()
	ch := make(chan tracker.ConnectivityStatus, 1)
	o.subs = append(o.subs, ch)
	return ch
}

// Check probes once and publishes the result if it changed.
func (o *Observer) Check(ctx context.Context) tracker.ConnectivityStatus {
	probeCtx, cancel := context.WithTimeout(ctx, o.timeout)
	err := o.pinger.Ping(probeCtx)
	cancel()

	next := tracker.ConnectivityOnline
	if err != nil && reachabilityLost(err) {
		next = tracker.ConnectivityOffline
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	if next == o.status {
		return next
	}
	o.logger.Info("connectivity changed", "from", o.status.String(), "to", next.String())
	o.status = next
	for _, ch := range o.subs {
		select {
		case <-ch:
		default:
		}
		ch <- next
	}
	return next
}

// reachabilityLost separates "could not reach the server" from "the server
// answered with an error". An answered 401 still means we are online.
func reachabilityLost(err error) bool {
	return tracker.OutcomeOf(err) == tracker.OutcomeTransient
}

// Run probes immediately and then every interval until ctx is done.
func (o *Observer) Run(ctx context.Context) error {
	ticker := time.NewTicker(o.interval)
	defer ticker.Stop()

	o.Check(ctx)
	for {
		select {
		case <-ctx.Done():
			o.closeSubs()
			return nil
		case <-ticker.C:
			o.Check(ctx)
		}
	}
}

func (o *Observer) closeSubs() {
	o.mu.Lock()
	defer o.mu.Unlock()
	for _, ch := range o.subs {
		close(ch)
	}
	o.subs = nil
}

var _ tracker.Connectivity = (*Observer)(nil)
