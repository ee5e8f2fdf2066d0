package remote

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"clocktrack/internal/tracker"
)

// ErrUnreachable is returned by MemorySubmitter while it is offline.
var ErrUnreachable = errors.New("remote unreachable")

// MemorySubmitter is an in-memory implementation of the Submitter interface.
// It keeps every accepted payload keyed by record key, making it useful for
// testing. This implementation is safe for concurrent use.
type MemorySubmitter struct {
	maxBatch int
	records  map[string]json.RawMessage // "type/key" -> payload
	verdicts map[string]tracker.RecordResult
	failures []error
	offline  bool
	omit     bool
	batches  []tracker.Batch
	mu       sync.Mutex
}

// NewMemorySubmitter creates an empty in-memory sink.
func NewMemorySubmitter(maxBatch int) *MemorySubmitter {
	return &MemorySubmitter{
		maxBatch: batchLimit(maxBatch),
		records:  make(map[string]json.RawMessage),
		verdicts: make(map[string]tracker.RecordResult),
	}
}

func recordKey(r tracker.Record) string {
	return string(r.Type) + "/" + r.Key
}

// Limits returns the configured batch limit.
func (m *MemorySubmitter) Limits(context.Context) (tracker.Limits, error) {
	return tracker.Limits{MaxBatchSize: m.maxBatch}, nil
}

// Submit stores every record not already held. Records with a registered
// verdict get that verdict instead.
func (m *MemorySubmitter) Submit(ctx context.Context, batch tracker.Batch) (tracker.BatchResult, error) {
	if err := ctx.Err(); err != nil {
		return tracker.BatchResult{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.offline {
		return tracker.BatchResult{}, TransportError("submit", ErrUnreachable)
	}
	if len(m.failures) > 0 {
		err := m.failures[0]
		m.failures = m.failures[1:]
		return tracker.BatchResult{}, err
	}
	if len(batch.Records) > m.maxBatch {
		return tracker.BatchResult{}, StatusError(413, "batch exceeds limit")
	}
	m.batches = append(m.batches, batch)

	results := make([]tracker.RecordResult, 0, len(batch.Records))
	for _, r := range batch.Records {
		if v, ok := m.verdicts[r.ID]; ok {
			v.ID = r.ID
			results = append(results, v)
			continue
		}
		key := recordKey(r)
		if _, exists := m.records[key]; exists {
			results = append(results, tracker.RecordResult{ID: r.ID, Outcome: tracker.OutcomeDuplicate})
			continue
		}
		m.records[key] = append(json.RawMessage(nil), r.Payload...)
		results = append(results, tracker.RecordResult{ID: r.ID, Outcome: tracker.OutcomeInserted})
	}

	br := tally(results)
	if m.omit {
		br.Results = nil
	}
	return br, nil
}

// Ping fails while the sink is offline.
func (m *MemorySubmitter) Ping(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.offline {
		return TransportError("ping", ErrUnreachable)
	}
	return nil
}

// SetOffline toggles reachability.
func (m *MemorySubmitter) SetOffline(offline bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.offline = offline
}

// SetVerdict forces the outcome for one record ID. A zero Outcome
// (inserted) removes the override.
func (m *MemorySubmitter) SetVerdict(id string, result tracker.RecordResult) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if result.Outcome == tracker.OutcomeInserted {
		delete(m.verdicts, id)
		return
	}
	m.verdicts[id] = result
}

// FailNext makes the next Submit calls return the given errors in order.
func (m *MemorySubmitter) FailNext(errs ...error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures = append(m.failures, errs...)
}

// OmitResults makes Submit report only counts, like sinks without
// per-record reporting.
func (m *MemorySubmitter) OmitResults(omit bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.omit = omit
}

// Has reports whether the record version identified by key was accepted.
func (m *MemorySubmitter) Has(r tracker.Record) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.records[recordKey(r)]
	return ok
}

// Count returns the number of distinct records accepted.
func (m *MemorySubmitter) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.records)
}

// Batches returns every batch that reached the sink.
func (m *MemorySubmitter) Batches() []tracker.Batch {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]tracker.Batch, len(m.batches))
	copy(out, m.batches)
	return out
}

var _ tracker.Submitter = (*MemorySubmitter)(nil)
