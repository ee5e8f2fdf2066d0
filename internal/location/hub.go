package location

import (
	"context"
	"sync"

	"clocktrack/internal/tracker"
)

const subscriptionBuffer = 32

// hub fans published fixes out to live subscriptions and remembers the most
// recent one.
type hub struct {
	mu      sync.Mutex
	subs    map[*subscription]struct{}
	last    *tracker.Fix
	waiters []chan tracker.Fix
}

func newHub() *hub {
	return &hub{subs: make(map[*subscription]struct{})}
}

func (h *hub) publish(f tracker.Fix) {
	h.mu.Lock()
	defer h.mu.Unlock()

	last := f
	h.last = &last
	for s := range h.subs {
		s.deliver(f)
	}
	for _, w := range h.waiters {
		w <- f
	}
	h.waiters = nil
}

func (h *hub) subscribe(onClose func()) *subscription {
	h.mu.Lock()
	defer h.mu.Unlock()
	s := &subscription{fixes: make(chan tracker.Fix, subscriptionBuffer)}
	s.onClose = func() {
		h.remove(s)
		if onClose != nil {
			onClose()
		}
	}
	h.subs[s] = struct{}{}
	return s
}

func (h *hub) remove(s *subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.subs, s)
}

// closeAll ends every live subscription, as when the upstream connection
// drops.
func (h *hub) closeAll() {
	h.mu.Lock()
	subs := make([]*subscription, 0, len(h.subs))
	for s := range h.subs {
		subs = append(subs, s)
	}
	h.subs = make(map[*subscription]struct{})
	h.mu.Unlock()

	for _, s := range subs {
		s.end()
	}
}

func (h *hub) lastKnown() *tracker.Fix {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.last == nil {
		return nil
	}
	f := *h.last
	return &f
}

// next waits for the next published fix.
func (h *hub) next(ctx context.Context) (*tracker.Fix, error) {
	w := make(chan tracker.Fix, 1)
	h.mu.Lock()
	h.waiters = append(h.waiters, w)
	h.mu.Unlock()

	select {
	case f := <-w:
		return &f, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (h *hub) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// subscription is one consumer's stream. A full buffer drops the newest fix
// rather than blocking the publisher.
type subscription struct {
	fixes   chan tracker.Fix
	once    sync.Once
	mu      sync.Mutex
	ended   bool
	onClose func()
}

func (s *subscription) Fixes() <-chan tracker.Fix { return s.fixes }

func (s *subscription) Close() error {
	s.end()
	if s.onClose != nil {
		s.onClose()
	}
	return nil
}

func (s *subscription) deliver(f tracker.Fix) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ended {
		return
	}
	select {
	case s.fixes <- f:
	default:
	}
}

func (s *subscription) end() {
	s.once.Do(func() {
		s.mu.Lock()
		s.ended = true
		close(s.fixes)
		s.mu.Unlock()
	})
}

var _ tracker.Subscription = (*subscription)(nil)
