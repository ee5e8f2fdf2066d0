package syncengine

import (
	"context"
	"errors"
	"fmt"

	"clocktrack/internal/model"
	"clocktrack/internal/tracker"
)

// uploadBatch submits recs and applies each record's outcome to the queue.
// A non-nil error stops the run. The batch is not cancellable: callers pass
// a context without cancellation and check between batches.
func (e *Engine) uploadBatch(ctx context.Context, t model.RecordType, recs []tracker.Record) (model.SyncResult, error) {
	var result model.SyncResult
	ids := make([]string, len(recs))
	for i, r := range recs {
		ids[i] = r.ID
	}
	if err := e.store.SetSyncStatus(ctx, t, ids, model.SyncSyncing); err != nil {
		result.Failed = len(recs)
		result.LastError = err.Error()
		return result, err
	}

	results, submitErr := e.submit(ctx, t, recs)
	byID := make(map[string]tracker.RecordResult, len(results))
	for _, r := range results {
		byID[r.ID] = r
	}

	var synced, retry, rejected []string
	authFailed := false
	for _, rec := range recs {
		r, ok := byID[rec.ID]
		if !ok {
			r = tracker.RecordResult{ID: rec.ID, Outcome: tracker.OutcomeTransient, Message: "no result from server"}
			if submitErr != nil {
				r.Outcome = tracker.OutcomeOf(submitErr)
				r.Message = submitErr.Error()
			}
		}
		switch r.Outcome {
		case tracker.OutcomeInserted, tracker.OutcomeDuplicate:
			synced = append(synced, rec.ID)
			result.Synced++
		case tracker.OutcomePermanent:
			if err := e.quarantine(ctx, rec, r); err != nil {
				e.logger.Error("quarantining record", "type", string(t), "id", rec.ID, "error", err)
				retry = append(retry, rec.ID)
				result.Failed++
				result.LastError = err.Error()
				continue
			}
			rejected = append(rejected, rec.ID)
			result.Quarantined++
		case tracker.OutcomeUnauthorized:
			authFailed = true
			retry = append(retry, rec.ID)
			result.LastError = describe(r)
		default:
			retry = append(retry, rec.ID)
			result.Failed++
			result.LastError = describe(r)
		}
	}

	if err := e.store.SetSyncStatus(ctx, t, synced, model.SyncSynced); err != nil {
		return result, err
	}
	if err := e.store.SetSyncStatus(ctx, t, rejected, model.SyncError); err != nil {
		return result, err
	}
	if err := e.store.SetSyncStatus(ctx, t, retry, model.SyncPending); err != nil {
		return result, err
	}
	e.resolveQuarantined(ctx, t, synced)
	if e.opts.DeleteOnSync && len(synced) > 0 {
		if err := e.store.DeleteRecords(ctx, t, synced); err != nil {
			e.logger.Warn("deleting synced records", "type", string(t), "error", err)
		}
	}

	if len(synced) > 0 || len(rejected) > 0 {
		e.logger.Debug("batch uploaded", "type", string(t), "synced", len(synced), "quarantined", len(rejected), "retry", len(retry))
	}
	if authFailed {
		return result, ErrAuthRequired
	}
	if submitErr != nil {
		return result, e.haltFor(ctx, submitErr)
	}
	return result, nil
}

// submit returns a result for every record it could classify. Records
// missing from the results are retried later. When the sink only reports
// counts or rejects a whole multi-record batch, the records are sent one by
// one so a single bad record cannot hold back the rest.
func (e *Engine) submit(ctx context.Context, t model.RecordType, recs []tracker.Record) ([]tracker.RecordResult, error) {
	br, err := e.submitter.Submit(ctx, tracker.Batch{Type: t, Records: recs})
	if err != nil {
		if tracker.OutcomeOf(err) == tracker.OutcomePermanent {
			if len(recs) == 1 {
				return []tracker.RecordResult{rejection(recs[0].ID, err)}, nil
			}
			return e.submitEach(ctx, t, recs)
		}
		return nil, err
	}
	if len(br.Results) > 0 {
		return br.Results, nil
	}

	if br.Errors == 0 && br.Inserted+br.Duplicates == len(recs) {
		out := make([]tracker.RecordResult, len(recs))
		for i, r := range recs {
			out[i] = tracker.RecordResult{ID: r.ID, Outcome: tracker.OutcomeInserted}
		}
		return out, nil
	}
	if len(recs) == 1 {
		if br.Errors > 0 {
			return []tracker.RecordResult{{ID: recs[0].ID, Outcome: tracker.OutcomePermanent, Code: "rejected"}}, nil
		}
		return nil, nil
	}
	return e.submitEach(ctx, t, recs)
}

func (e *Engine) submitEach(ctx context.Context, t model.RecordType, recs []tracker.Record) ([]tracker.RecordResult, error) {
	e.logger.Debug("isolating records", "type", string(t), "count", len(recs))
	var out []tracker.RecordResult
	for _, rec := range recs {
		res, err := e.submit(ctx, t, []tracker.Record{rec})
		out = append(out, res...)
		if err != nil {
			return out, err
		}
	}
	return out, nil
}

func rejection(id string, err error) tracker.RecordResult {
	r := tracker.RecordResult{ID: id, Outcome: tracker.OutcomePermanent, Message: err.Error()}
	var se *tracker.SubmitError
	if errors.As(err, &se) {
		r.Code, r.Message = se.Code, se.Message
	}
	return r
}

func describe(r tracker.RecordResult) string {
	if r.Code == "" {
		return fmt.Sprintf("%s %s: %s", r.Outcome, r.ID, r.Message)
	}
	return fmt.Sprintf("%s %s (%s): %s", r.Outcome, r.ID, r.Code, r.Message)
}

// quarantine freezes the record's payload. A record quarantined before is
// updated in place.
func (e *Engine) quarantine(ctx context.Context, rec tracker.Record, r tracker.RecordResult) error {
	q := &model.QuarantinedRecord{
		ID:            e.ids.New(),
		RecordType:    rec.Type,
		RecordID:      rec.ID,
		Snapshot:      rec.Payload,
		ErrorCode:     r.Code,
		ErrorMessage:  r.Message,
		QuarantinedAt: e.clock.Now(),
		ReviewStatus:  model.ReviewPending,
	}
	if err := e.store.QuarantineRecord(ctx, q); err != nil {
		return err
	}
	e.logger.Warn("record quarantined", "type", string(rec.Type), "id", rec.ID, "code", r.Code, "message", r.Message)
	return nil
}

// resolveQuarantined drops quarantine entries whose records have now
// synced after a retry.
func (e *Engine) resolveQuarantined(ctx context.Context, t model.RecordType, ids []string) {
	for _, id := range ids {
		q, err := e.store.FindQuarantinedByRecord(ctx, t, id)
		if err != nil {
			e.logger.Warn("looking up quarantine entry", "type", string(t), "id", id, "error", err)
			continue
		}
		if q == nil {
			continue
		}
		if err := e.store.DeleteQuarantined(ctx, q.ID); err != nil {
			e.logger.Warn("removing resolved quarantine entry", "id", q.ID, "error", err)
			continue
		}
		e.logger.Info("quarantined record synced", "type", string(t), "id", id)
	}
}
