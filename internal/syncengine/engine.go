// Package syncengine uploads the local queue to the remote service. A run
// is single-flight; transient failures back off exponentially and
// permanently rejected records go to quarantine.
package syncengine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"clocktrack/internal/config"
	"clocktrack/internal/model"
	"clocktrack/internal/runlock"
	"clocktrack/internal/tracker"
)

var (
	ErrSyncInProgress = errors.New("sync already in progress")
	ErrOffline        = errors.New("remote service unreachable")
	ErrAuthRequired   = errors.New("remote rejected credentials, re-authentication required")
)

// Store is the part of the local queue the engine uses.
type Store interface {
	tracker.SyncQueue
	tracker.QuarantineStore
	tracker.MetadataStore
}

// Options tune batching, backoff and retention.
type Options struct {
	BatchSize   int
	BackoffBase time.Duration
	BackoffMax  time.Duration
	// DeleteOnSync removes points, gaps and events once the server has them.
	DeleteOnSync bool
	// Retention prunes synced rows older than this after a clean run. Zero
	// keeps them.
	Retention time.Duration
	// OnProgress, if set, receives a copy of the progress after each batch.
	OnProgress func(model.SyncProgress)
	// LockPath, if set, is a run lock held for the whole of an attempt so
	// that processes sharing the queue never upload concurrently.
	LockPath string
}

// OptionsFromConfig maps the sync section of the config file.
func OptionsFromConfig(c config.SyncConfig) Options {
	return Options{
		BatchSize:    c.BatchSize,
		BackoffBase:  c.BackoffBase.Duration,
		BackoffMax:   c.BackoffMax.Duration,
		DeleteOnSync: c.DeleteOnSync,
		Retention:    time.Duration(c.RetentionDays) * 24 * time.Hour,
	}
}

const maxBatchSize = 200

// Backoff is the wait after n consecutive failed runs: base doubling per
// failure, capped at max. It is zero for n <= 0.
func Backoff(n int, base, max time.Duration) time.Duration {
	if n <= 0 {
		return 0
	}
	d := base
	for i := 1; i < n; i++ {
		if d >= max/2 {
			return max
		}
		d *= 2
	}
	if d > max {
		return max
	}
	return d
}

type Engine struct {
	store     Store
	submitter tracker.Submitter
	conn      tracker.Connectivity
	clock     tracker.Clock
	ids       tracker.IDGenerator
	logger    tracker.Logger
	opts      Options

	running atomic.Bool

	mu       sync.Mutex
	meta     *model.SyncMetadata
	progress *model.SyncProgress
}

func NewEngine(store Store, submitter tracker.Submitter, conn tracker.Connectivity, clock tracker.Clock,
	ids tracker.IDGenerator, logger tracker.Logger, opts Options) *Engine {
	d := config.DefaultSync()
	if opts.BatchSize <= 0 || opts.BatchSize > maxBatchSize {
		opts.BatchSize = d.BatchSize
	}
	if opts.BackoffBase <= 0 {
		opts.BackoffBase = d.BackoffBase.Duration
	}
	if opts.BackoffMax < opts.BackoffBase {
		opts.BackoffMax = d.BackoffMax.Duration
	}
	return &Engine{
		store:     store,
		submitter: submitter,
		conn:      conn,
		clock:     clock,
		ids:       ids,
		logger:    logger,
		opts:      opts,
	}
}

// Load prepares the engine after process start: rows a dead process left
// in syncing go back to pending, and the persisted failure streak and
// backoff are restored as they were. While another process holds the sync
// lock its rows are in flight, so they are left alone.
func (e *Engine) Load(ctx context.Context) (*model.SyncMetadata, error) {
	lock, err := e.acquire()
	owned := err == nil
	switch {
	case errors.Is(err, ErrSyncInProgress):
		e.logger.Debug("sync running in another process, leaving its uploads alone")
	case err != nil:
		return nil, err
	default:
		defer lock.Release()
		n, err := e.store.ResetSyncing(ctx)
		if err != nil {
			return nil, fmt.Errorf("resetting interrupted uploads: %w", err)
		}
		if n > 0 {
			e.logger.Info("requeued records from interrupted sync", "count", n)
		}
	}

	meta, err := e.store.LoadSyncMetadata(ctx)
	if err != nil {
		return nil, err
	}
	if meta.InProgress && owned {
		meta.InProgress = false
		if meta.Status == model.StatusSyncing {
			meta.Status = model.StatusPending
		}
		if err := e.store.SaveSyncMetadata(ctx, meta); err != nil {
			return nil, err
		}
	}
	e.mu.Lock()
	e.meta = meta
	e.mu.Unlock()
	cp := *meta
	return &cp, nil
}

// acquire takes the cross-process sync lock. It returns a nil lock when no
// lock path is configured and ErrSyncInProgress when another holder has it.
func (e *Engine) acquire() (*runlock.Lock, error) {
	if e.opts.LockPath == "" {
		return nil, nil
	}
	lock, err := runlock.Acquire(e.opts.LockPath)
	if errors.Is(err, runlock.ErrLocked) {
		return nil, ErrSyncInProgress
	}
	if err != nil {
		return nil, fmt.Errorf("taking sync lock: %w", err)
	}
	return lock, nil
}

// metadata re-reads the persisted state, which another process sharing the
// queue may have changed since this engine last saw it. The last copy seen
// is used when the read fails.
func (e *Engine) metadata(ctx context.Context) (*model.SyncMetadata, error) {
	cached := e.Metadata()
	if cached == nil {
		return e.Load(ctx)
	}
	meta, err := e.store.LoadSyncMetadata(ctx)
	if err != nil {
		e.logger.Warn("reading sync state, using last known", "error", err)
		return cached, nil
	}
	e.mu.Lock()
	e.meta = meta
	e.mu.Unlock()
	cp := *meta
	return &cp, nil
}

// current is metadata for callers without a context. It returns nil before
// Load.
func (e *Engine) current() *model.SyncMetadata {
	if e.Metadata() == nil {
		return nil
	}
	m, err := e.metadata(context.Background())
	if err != nil {
		return e.Metadata()
	}
	return m
}

// Metadata returns the last persisted sync state, or nil before Load.
func (e *Engine) Metadata() *model.SyncMetadata {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.meta == nil {
		return nil
	}
	cp := *e.meta
	return &cp
}

// Progress returns the progress of the running sync, if any.
func (e *Engine) Progress() (model.SyncProgress, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.progress == nil {
		return model.SyncProgress{}, false
	}
	return *e.progress, true
}

// NextAttemptDelay is the remaining backoff at now. Zero means a sync may
// run immediately.
func (e *Engine) NextAttemptDelay(now time.Time) time.Duration {
	m := e.current()
	if m == nil {
		return 0
	}
	return m.BackoffRemaining(now)
}

// AuthHalted reports whether automatic sync is stopped until ResumeAuth.
func (e *Engine) AuthHalted() bool {
	m := e.current()
	return m != nil && m.Status == model.StatusAuthRequired
}

// ResumeAuth clears the authorization halt after the user re-authenticated.
func (e *Engine) ResumeAuth(ctx context.Context) error {
	meta, err := e.metadata(ctx)
	if err != nil {
		return err
	}
	if meta.Status != model.StatusAuthRequired {
		return nil
	}
	meta.Status = model.StatusPending
	meta.LastError = ""
	return e.save(ctx, meta)
}

func (e *Engine) save(ctx context.Context, meta *model.SyncMetadata) error {
	if err := meta.Validate(); err != nil {
		return fmt.Errorf("refusing to save sync metadata: %w", err)
	}
	if err := e.store.SaveSyncMetadata(ctx, meta); err != nil {
		return err
	}
	cp := *meta
	e.mu.Lock()
	e.meta = &cp
	e.mu.Unlock()
	return nil
}

func (e *Engine) publish(p model.SyncProgress) {
	e.mu.Lock()
	e.progress = &p
	e.mu.Unlock()
	if e.opts.OnProgress != nil {
		e.opts.OnProgress(p)
	}
}

// Sync runs one attempt. It returns ErrSyncInProgress when another attempt
// is running here or in another process holding the sync lock, ErrOffline without touching backoff when the service is
// unreachable, and ErrAuthRequired while automatic retry is halted.
func (e *Engine) Sync(ctx context.Context) (result model.SyncResult, err error) {
	if !e.running.CompareAndSwap(false, true) {
		return result, ErrSyncInProgress
	}
	defer e.running.Store(false)

	if e.Metadata() == nil {
		if _, err := e.Load(ctx); err != nil {
			return result, err
		}
	}
	lock, err := e.acquire()
	if err != nil {
		return result, err
	}
	defer lock.Release()

	meta, err := e.metadata(ctx)
	if err != nil {
		return result, err
	}
	if meta.Status == model.StatusAuthRequired {
		return result, ErrAuthRequired
	}

	start := e.clock.Now()
	if e.conn != nil && e.conn.Status() != tracker.ConnectivityOnline {
		meta.Status = model.StatusPending
		if counts, cerr := e.store.PendingCounts(ctx); cerr == nil {
			meta.Pending = counts
		}
		if serr := e.save(ctx, meta); serr != nil {
			return result, serr
		}
		return result, ErrOffline
	}

	counts, err := e.store.PendingCounts(ctx)
	if err != nil {
		return result, err
	}
	if counts.Total() == 0 {
		meta.Status = model.StatusSynced
		meta.LastAttemptAt, meta.LastSuccessAt = &start, &start
		meta.ConsecutiveFailures, meta.CurrentBackoff, meta.BackoffUntil = 0, 0, nil
		meta.LastError = ""
		meta.Pending = counts
		if err := e.save(ctx, meta); err != nil {
			return result, err
		}
		e.prune(ctx, start)
		return result, nil
	}

	meta.Status = model.StatusSyncing
	meta.InProgress = true
	meta.LastAttemptAt = &start
	meta.Pending = counts
	if err := e.save(ctx, meta); err != nil {
		return result, err
	}
	e.publish(model.NewSyncProgress(start, counts))
	e.logger.Info("sync started", "pending", counts.Total())

	var halt error
	defer func() {
		e.mu.Lock()
		e.progress = nil
		e.mu.Unlock()

		result.Duration = e.clock.Now().Sub(start)
		cancelled := ctx.Err() != nil
		if serr := e.finish(context.WithoutCancel(ctx), meta, result, halt, cancelled); serr != nil && err == nil {
			err = serr
		}
	}()

	result, halt = e.upload(ctx, counts)
	if errors.Is(halt, ErrAuthRequired) {
		return result, ErrAuthRequired
	}
	if ctx.Err() != nil {
		return result, ctx.Err()
	}
	return result, nil
}

// finish persists the end state of a run that reached the upload phase.
func (e *Engine) finish(ctx context.Context, meta *model.SyncMetadata, result model.SyncResult, halt error, cancelled bool) error {
	now := e.clock.Now()
	meta.InProgress = false
	if counts, err := e.store.PendingCounts(ctx); err == nil {
		meta.Pending = counts
	}

	switch {
	case errors.Is(halt, ErrAuthRequired):
		meta.Status = model.StatusAuthRequired
		meta.LastError = result.LastError
		e.logger.Error("sync halted: authorization required", "error", result.LastError)
	case result.Failed > 0:
		meta.ConsecutiveFailures++
		meta.CurrentBackoff = Backoff(meta.ConsecutiveFailures, e.opts.BackoffBase, e.opts.BackoffMax)
		until := now.Add(meta.CurrentBackoff)
		meta.BackoffUntil = &until
		meta.Status = model.StatusError
		meta.LastError = result.LastError
		e.logger.Warn("sync failed", "failed", result.Failed, "failures", meta.ConsecutiveFailures,
			"backoff", meta.CurrentBackoff, "error", result.LastError)
	case cancelled:
		meta.Status = model.StatusPending
	default:
		meta.ConsecutiveFailures, meta.CurrentBackoff, meta.BackoffUntil = 0, 0, nil
		meta.Status = model.StatusSynced
		meta.LastSuccessAt = &now
		meta.LastError = ""
		e.logger.Info("sync finished", "synced", result.Synced, "quarantined", result.Quarantined,
			"duration", result.Duration)
	}
	if err := e.save(ctx, meta); err != nil {
		return err
	}
	if meta.Status == model.StatusSynced {
		e.prune(ctx, now)
	}
	return nil
}

func (e *Engine) prune(ctx context.Context, now time.Time) {
	if e.opts.Retention <= 0 {
		return
	}
	n, err := e.store.PruneSynced(ctx, now.Add(-e.opts.Retention))
	if err != nil {
		e.logger.Warn("pruning synced records", "error", err)
		return
	}
	if n > 0 {
		e.logger.Debug("pruned synced records", "count", n)
	}
}

// upload walks every record type oldest-first. It stops early on an
// authorization failure, a failure of the whole service, or cancellation.
func (e *Engine) upload(ctx context.Context, counts model.PendingCounts) (model.SyncResult, error) {
	var result model.SyncResult

	batchSize := e.opts.BatchSize
	limits, err := e.submitter.Limits(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return result, ctx.Err()
		}
		result.Failed = counts.Total()
		result.LastError = err.Error()
		return result, e.haltFor(ctx, err)
	}
	if limits.MaxBatchSize > 0 && limits.MaxBatchSize < batchSize {
		batchSize = limits.MaxBatchSize
	}

	progress, _ := e.Progress()
	for _, t := range model.RecordTypes {
		if counts.For(t) == 0 {
			continue
		}
		var cursor tracker.Cursor
		for {
			if err := ctx.Err(); err != nil {
				return result, err
			}
			recs, err := e.store.PendingRecords(ctx, t, cursor, batchSize)
			if err != nil {
				result.Failed++
				result.LastError = err.Error()
				return result, err
			}
			if len(recs) == 0 {
				break
			}
			cursor = recs[len(recs)-1].After()

			batch, halt := e.uploadBatch(context.WithoutCancel(ctx), t, recs)
			result = result.Merge(batch)
			progress = progress.Advance(t, batch.Synced, fmt.Sprintf("uploading %s", t))
			e.publish(progress)
			if halt != nil {
				return result, halt
			}
		}
	}
	return result, nil
}

// haltFor maps a whole-request failure to the reason the run stops.
func (e *Engine) haltFor(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if tracker.OutcomeOf(err) == tracker.OutcomeUnauthorized {
		return fmt.Errorf("%w: %v", ErrAuthRequired, err)
	}
	return err
}
