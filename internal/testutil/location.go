package testutil

import (
	"context"
	"errors"
	"sync"
	"time"

	"clocktrack/internal/tracker"
)

// ErrNoFix is returned by FakeLocationProvider.CurrentPosition when no
// current fix has been set.
var ErrNoFix = errors.New("no fix available")

// FakeLocationProvider is a scriptable LocationProvider. Tests push fixes
// into the live subscription and can kill the stream.
type FakeLocationProvider struct {
	mu           sync.Mutex
	subs         []*FakeSubscription
	settings     []tracker.SubscriptionSettings
	current      *tracker.Fix
	lastKnown    *tracker.Fix
	subscribeErr error
	currentCalls int
	lastCalls    int
	panicOnLast  bool
}

func NewFakeLocationProvider() *FakeLocationProvider {
	return &FakeLocationProvider{}
}

func (p *FakeLocationProvider) Subscribe(ctx context.Context, settings tracker.SubscriptionSettings) (tracker.Subscription, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.subscribeErr != nil {
		return nil, p.subscribeErr
	}
	sub := &FakeSubscription{fixes: make(chan tracker.Fix, 64)}
	p.subs = append(p.subs, sub)
	p.settings = append(p.settings, settings)
	return sub, nil
}

func (p *FakeLocationProvider) CurrentPosition(ctx context.Context) (*tracker.Fix, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.currentCalls++
	if p.current == nil {
		return nil, ErrNoFix
	}
	f := *p.current
	return &f, nil
}

func (p *FakeLocationProvider) LastKnownPosition(ctx context.Context) (*tracker.Fix, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.lastCalls++
	if p.panicOnLast {
		panic("location service crashed")
	}
	if p.lastKnown == nil {
		return nil, nil
	}
	f := *p.lastKnown
	return &f, nil
}

// SetCurrent sets the fix returned by CurrentPosition.
func (p *FakeLocationProvider) SetCurrent(f *tracker.Fix) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.current = f
}

// SetLastKnown sets the fix returned by LastKnownPosition.
func (p *FakeLocationProvider) SetLastKnown(f *tracker.Fix) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.lastKnown = f
}

// FailSubscribe makes later Subscribe calls fail with err.
func (p *FakeLocationProvider) FailSubscribe(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.subscribeErr = err
}

// PanicOnLastKnown makes LastKnownPosition panic.
func (p *FakeLocationProvider) PanicOnLastKnown(v bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.panicOnLast = v
}

// Subscriptions returns every subscription opened so far.
func (p *FakeLocationProvider) Subscriptions() []*FakeSubscription {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]*FakeSubscription, len(p.subs))
	copy(out, p.subs)
	return out
}

// Settings returns the settings passed to each Subscribe call.
func (p *FakeLocationProvider) Settings() []tracker.SubscriptionSettings {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]tracker.SubscriptionSettings, len(p.settings))
	copy(out, p.settings)
	return out
}

// Latest returns the most recent subscription, or nil.
func (p *FakeLocationProvider) Latest() *FakeSubscription {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.subs) == 0 {
		return nil
	}
	return p.subs[len(p.subs)-1]
}

// CurrentCalls returns how many single-shot reads were requested.
func (p *FakeLocationProvider) CurrentCalls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.currentCalls
}

// LastKnownCalls returns how many cached reads were requested.
func (p *FakeLocationProvider) LastKnownCalls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastCalls
}

// FakeSubscription is a live stream fed by the test.
type FakeSubscription struct {
	mu     sync.Mutex
	fixes  chan tracker.Fix
	closed bool
	killed bool
}

func (s *FakeSubscription) Fixes() <-chan tracker.Fix { return s.fixes }

func (s *FakeSubscription) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	if !s.killed {
		s.killed = true
		close(s.fixes)
	}
	return nil
}

// Emit delivers a fix unless the stream is dead.
func (s *FakeSubscription) Emit(f tracker.Fix) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.killed {
		return
	}
	s.fixes <- f
}

// Kill ends the stream as if the OS dropped it.
func (s *FakeSubscription) Kill() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.killed {
		s.killed = true
		close(s.fixes)
	}
}

// Closed reports whether the consumer closed the subscription.
func (s *FakeSubscription) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Fix builds a fix at the given position and time.
func Fix(lat, lon float64, at time.Time) tracker.Fix {
	acc := 5.0
	return tracker.Fix{Latitude: lat, Longitude: lon, Accuracy: &acc, Timestamp: at}
}

var _ tracker.LocationProvider = (*FakeLocationProvider)(nil)
