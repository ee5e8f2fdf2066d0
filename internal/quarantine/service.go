// Package quarantine is the manual review surface for records the sync
// engine gave up on.
package quarantine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"clocktrack/internal/model"
	"clocktrack/internal/tracker"
)

var (
	ErrNotFound       = errors.New("quarantined record not found")
	ErrReasonRequired = errors.New("a reason is required to discard a record")
	ErrDiscarded      = errors.New("record was discarded")
)

// Store is the part of the local queue the service uses.
type Store interface {
	tracker.QuarantineStore
	RequeueRecord(ctx context.Context, t model.RecordType, id string) (bool, error)
	RestoreRecord(ctx context.Context, t model.RecordType, snapshot json.RawMessage) error
}

type Service struct {
	store   Store
	trigger tracker.SyncTrigger
	logger  tracker.Logger
}

func NewService(store Store, trigger tracker.SyncTrigger, logger tracker.Logger) *Service {
	return &Service{store: store, trigger: trigger, logger: logger}
}

// ListPending returns entries awaiting review, oldest first. Entries being
// retried are included until the retry resolves them.
func (s *Service) ListPending(ctx context.Context) ([]*model.QuarantinedRecord, error) {
	return s.store.ListQuarantined(ctx, model.ReviewPending, model.ReviewRetrying)
}

// Get returns one entry, or nil if it does not exist.
func (s *Service) Get(ctx context.Context, id string) (*model.QuarantinedRecord, error) {
	return s.store.FindQuarantined(ctx, id)
}

func (s *Service) find(ctx context.Context, id string) (*model.QuarantinedRecord, error) {
	q, err := s.store.FindQuarantined(ctx, id)
	if err != nil {
		return nil, err
	}
	if q == nil {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return q, nil
}

// Retry puts the original record back in the queue as pending and asks for
// a sync. A record pruned from the queue is restored from its snapshot. The
// entry stays until the record syncs; a second permanent failure puts it
// back to pending review.
func (s *Service) Retry(ctx context.Context, id string) error {
	q, err := s.find(ctx, id)
	if err != nil {
		return err
	}
	if err := s.retry(ctx, q); err != nil {
		return err
	}
	if s.trigger != nil {
		s.trigger.DataPending()
	}
	return nil
}

func (s *Service) retry(ctx context.Context, q *model.QuarantinedRecord) error {
	if q.ReviewStatus == model.ReviewDiscarded {
		return fmt.Errorf("%w: %s", ErrDiscarded, q.ID)
	}

	found, err := s.store.RequeueRecord(ctx, q.RecordType, q.RecordID)
	if err != nil {
		return fmt.Errorf("requeueing %s %s: %w", q.RecordType, q.RecordID, err)
	}
	if !found {
		if err := s.store.RestoreRecord(ctx, q.RecordType, q.Snapshot); err != nil {
			return fmt.Errorf("restoring %s %s: %w", q.RecordType, q.RecordID, err)
		}
	}

	q.ReviewStatus = model.ReviewRetrying
	q.RetryCount++
	if err := s.store.UpdateQuarantined(ctx, q); err != nil {
		return err
	}
	s.logger.Info("retrying quarantined record", "type", string(q.RecordType), "record", q.RecordID,
		"restored", !found, "attempt", q.RetryCount)
	return nil
}

// Discard closes the entry without uploading the record. The local record
// stays in error and never re-enters the queue.
func (s *Service) Discard(ctx context.Context, id, reason string) error {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return ErrReasonRequired
	}
	q, err := s.find(ctx, id)
	if err != nil {
		return err
	}
	return s.discard(ctx, q, reason)
}

func (s *Service) discard(ctx context.Context, q *model.QuarantinedRecord, reason string) error {
	q.ReviewStatus = model.ReviewDiscarded
	q.ResolutionNotes = reason
	if err := s.store.UpdateQuarantined(ctx, q); err != nil {
		return err
	}
	s.logger.Info("discarded quarantined record", "type", string(q.RecordType), "record", q.RecordID,
		"reason", reason)
	return nil
}

// RetryAll retries every pending entry and triggers one sync. It returns
// how many were requeued and how many could not be.
func (s *Service) RetryAll(ctx context.Context) (retried, failed int, err error) {
	entries, err := s.store.ListQuarantined(ctx, model.ReviewPending)
	if err != nil {
		return 0, 0, err
	}
	for _, q := range entries {
		if err := s.retry(ctx, q); err != nil {
			s.logger.Warn("retrying quarantined record", "id", q.ID, "error", err)
			failed++
			continue
		}
		retried++
	}
	if retried > 0 && s.trigger != nil {
		s.trigger.DataPending()
	}
	return retried, failed, nil
}

// DiscardAllOfType discards every pending entry of type t.
func (s *Service) DiscardAllOfType(ctx context.Context, t model.RecordType, reason string) (int, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return 0, ErrReasonRequired
	}
	entries, err := s.store.ListQuarantined(ctx, model.ReviewPending)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, q := range entries {
		if q.RecordType != t {
			continue
		}
		if err := s.discard(ctx, q, reason); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}
