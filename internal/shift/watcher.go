package shift

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"clocktrack/internal/model"
	"clocktrack/internal/tracker"
)

// EventKind is a shift lifecycle transition.
type EventKind int

const (
	Activated EventKind = iota
	Ended
)

func (k EventKind) String() string {
	if k == Activated {
		return "activated"
	}
	return "ended"
}

// Event is one shift starting or ending.
type Event struct {
	Kind       EventKind
	ShiftID    string
	EmployeeID string
}

// ActiveLister is the part of the shift store the Watcher reads.
type ActiveLister interface {
	ActiveShifts(ctx context.Context) ([]*model.Shift, error)
}

// Watcher diffs the set of active shifts whenever the signal file changes,
// and on a slow poll in case a change notification is missed. A signal also
// re-announces every active shift, so a writer can ask a live agent to
// resume capture it lost.
type Watcher struct {
	store  ActiveLister
	signal string
	poll   time.Duration
	logger tracker.Logger
	known  map[string]*model.Shift
}

func NewWatcher(store ActiveLister, signalPath string, poll time.Duration, logger tracker.Logger) *Watcher {
	if poll <= 0 {
		poll = 30 * time.Second
	}
	return &Watcher{
		store:  store,
		signal: filepath.Clean(signalPath),
		poll:   poll,
		logger: logger,
		known:  make(map[string]*model.Shift),
	}
}

// Scan compares the active shifts against the last scan. The first scan
// reports every active shift as Activated.
func (w *Watcher) Scan(ctx context.Context) ([]Event, error) {
	shifts, err := w.store.ActiveShifts(ctx)
	if err != nil {
		return nil, err
	}

	current := make(map[string]*model.Shift, len(shifts))
	var events []Event
	for _, s := range shifts {
		current[s.ID] = s
		if _, ok := w.known[s.ID]; !ok {
			events = append(events, Event{Kind: Activated, ShiftID: s.ID, EmployeeID: s.EmployeeID})
		}
	}
	for id, s := range w.known {
		if _, ok := current[id]; !ok {
			events = append(events, Event{Kind: Ended, ShiftID: id, EmployeeID: s.EmployeeID})
		}
	}
	w.known = current
	return events, nil
}

// Announce scans and then adds an Activated event for every active shift
// the scan did not already report.
func (w *Watcher) Announce(ctx context.Context) ([]Event, error) {
	events, err := w.Scan(ctx)
	if err != nil {
		return nil, err
	}
	reported := make(map[string]bool, len(events))
	for _, ev := range events {
		reported[ev.ShiftID] = true
	}
	for id, s := range w.known {
		if !reported[id] {
			events = append(events, Event{Kind: Activated, ShiftID: id, EmployeeID: s.EmployeeID})
		}
	}
	return events, nil
}

// Run emits events on out until ctx is done. out is closed on return.
func (w *Watcher) Run(ctx context.Context, out chan<- Event) error {
	defer close(out)

	dir := filepath.Dir(w.signal)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("creating signal directory: %w", err)
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}
	defer fsw.Close()
	if err := fsw.Add(dir); err != nil {
		return fmt.Errorf("failed to watch %s: %w", dir, err)
	}

	ticker := time.NewTicker(w.poll)
	defer ticker.Stop()

	if !w.rescan(ctx, out, w.Scan) {
		return nil
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-fsw.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != w.signal || !ev.Has(fsnotify.Write|fsnotify.Create) {
				continue
			}
			if !w.rescan(ctx, out, w.Announce) {
				return nil
			}
		case err, ok := <-fsw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("shift watcher error", "error", err)
		case <-ticker.C:
			if !w.rescan(ctx, out, w.Scan) {
				return nil
			}
		}
	}
}

// rescan returns false once ctx is done.
func (w *Watcher) rescan(ctx context.Context, out chan<- Event, scan func(context.Context) ([]Event, error)) bool {
	events, err := scan(ctx)
	if err != nil {
		w.logger.Error("scanning active shifts", "error", err)
		return ctx.Err() == nil
	}
	for _, ev := range events {
		w.logger.Debug("shift event", "kind", ev.Kind.String(), "shift", ev.ShiftID)
		select {
		case out <- ev:
		case <-ctx.Done():
			return false
		}
	}
	return true
}
