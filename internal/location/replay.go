package location

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"clocktrack/internal/tracker"
)

// ErrNoPosition is returned when a provider has no fix to offer.
var ErrNoPosition = errors.New("no position available")

// ReplayProvider plays back a JSON-lines track file, one Report per line.
// Fixes are re-stamped with the current time as they are played, so the
// file describes a path rather than a moment. After the last line the
// stream stays open and silent.
type ReplayProvider struct {
	fixes  []tracker.Fix
	delay  time.Duration
	clock  tracker.Clock
	logger tracker.Logger
	hub    *hub

	mu      sync.Mutex
	started bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewReplayProvider loads the track file.
func NewReplayProvider(path string, delay time.Duration, clock tracker.Clock, logger tracker.Logger) (*ReplayProvider, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading replay file: %w", err)
	}
	fixes, err := parseTrack(data)
	if err != nil {
		return nil, fmt.Errorf("parsing replay file %s: %w", path, err)
	}
	if delay <= 0 {
		delay = time.Second
	}
	return &ReplayProvider{
		fixes:  fixes,
		delay:  delay,
		clock:  clock,
		logger: logger,
		hub:    newHub(),
	}, nil
}

func parseTrack(data []byte) ([]tracker.Fix, error) {
	var fixes []tracker.Fix
	scanner := bufio.NewScanner(bytes.NewReader(data))
	line := 0
	for scanner.Scan() {
		line++
		text := bytes.TrimSpace(scanner.Bytes())
		if len(text) == 0 || text[0] == '#' {
			continue
		}
		f, ok, err := DecodeReport(text)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		if ok {
			fixes = append(fixes, f)
		}
	}
	return fixes, scanner.Err()
}

// Subscribe starts playback on first use and attaches a new stream.
func (p *ReplayProvider) Subscribe(ctx context.Context, settings tracker.SubscriptionSettings) (tracker.Subscription, error) {
	sub := p.hub.subscribe(nil)

	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.started {
		p.started = true
		playCtx, cancel := context.WithCancel(context.Background())
		p.cancel = cancel
		p.done = make(chan struct{})
		go p.play(playCtx)
	}
	return sub, nil
}

func (p *ReplayProvider) play(ctx context.Context) {
	defer close(p.done)
	ticker := time.NewTicker(p.delay)
	defer ticker.Stop()

	for i, f := range p.fixes {
		if i > 0 {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
		f.Timestamp = p.clock.Now()
		p.hub.publish(f)
	}
	p.logger.Info("replay finished", "fixes", len(p.fixes))
}

// CurrentPosition returns the fix most recently played, or the first fix of
// the track before playback starts.
func (p *ReplayProvider) CurrentPosition(ctx context.Context) (*tracker.Fix, error) {
	if f := p.hub.lastKnown(); f != nil {
		f.Timestamp = p.clock.Now()
		return f, nil
	}
	if len(p.fixes) == 0 {
		return nil, ErrNoPosition
	}
	f := p.fixes[0]
	f.Timestamp = p.clock.Now()
	return &f, nil
}

// LastKnownPosition returns the fix most recently played.
func (p *ReplayProvider) LastKnownPosition(ctx context.Context) (*tracker.Fix, error) {
	return p.hub.lastKnown(), nil
}

// Close stops playback and ends every stream.
func (p *ReplayProvider) Close() error {
	p.mu.Lock()
	cancel, done := p.cancel, p.done
	p.mu.Unlock()
	if cancel != nil {
		cancel()
		<-done
	}
	p.hub.closeAll()
	return nil
}

var _ tracker.LocationProvider = (*ReplayProvider)(nil)
