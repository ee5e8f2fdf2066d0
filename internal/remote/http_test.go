package remote

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"clocktrack/internal/model"
	"clocktrack/internal/tracker"
)

// fakeBackend stores records by key and rejects payloads whose id starts
// with "bad".
type fakeBackend struct {
	mu       sync.Mutex
	seen     map[string]bool
	status   int
	limit    int
	lastAuth string
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{seen: make(map[string]bool), limit: 100}
}

func (b *fakeBackend) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.lastAuth = r.Header.Get("Authorization")

	if b.status != 0 {
		w.WriteHeader(b.status)
		json.NewEncoder(w).Encode(errorResponse{Error: "forced failure"})
		return
	}

	switch {
	case r.URL.Path == "/v1/health":
		w.WriteHeader(http.StatusOK)
	case r.URL.Path == "/v1/limits":
		json.NewEncoder(w).Encode(limitsResponse{MaxBatchSize: b.limit})
	case r.Method == http.MethodPost:
		var req submitRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		var resp submitResponse
		for _, rec := range req.Records {
			rs := recordStatus{ID: rec.ID}
			switch {
			case len(rec.ID) >= 3 && rec.ID[:3] == "bad":
				rs.Status, rs.Code, rs.Message = "rejected", "validation", "latitude out of range"
				resp.Errors++
			case b.seen[r.URL.Path+rec.Key]:
				rs.Status = "duplicate"
				resp.Duplicates++
			default:
				b.seen[r.URL.Path+rec.Key] = true
				rs.Status = "inserted"
				resp.Inserted++
			}
			resp.Results = append(resp.Results, rs)
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp)
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func newHTTPFixture(t *testing.T) (*fakeBackend, *HTTPSubmitter) {
	backend := newFakeBackend()
	srv := httptest.NewServer(backend)
	t.Cleanup(srv.Close)
	return backend, NewHTTPSubmitter(srv.URL, "secret-token", "dev-1", 5*time.Second, 200)
}

func TestHTTPSubmitter_Submit(t *testing.T) {
	ctx := context.Background()
	backend, s := newHTTPFixture(t)

	got, err := s.Submit(ctx, testBatch(model.RecordGpsPoint, "p1", "p2", "bad3"))
	require.NoError(t, err)
	assert.Equal(t, 2, got.Inserted)
	assert.Equal(t, 1, got.Errors)
	require.Len(t, got.Results, 3)
	assert.Equal(t, tracker.OutcomePermanent, got.Results[2].Outcome)
	assert.Equal(t, "validation", got.Results[2].Code)
	assert.Equal(t, "Bearer secret-token", backend.lastAuth)

	got, err = s.Submit(ctx, testBatch(model.RecordGpsPoint, "p1"))
	require.NoError(t, err)
	assert.Equal(t, 1, got.Duplicates)
	assert.Equal(t, tracker.OutcomeDuplicate, got.Results[0].Outcome)
}

func TestHTTPSubmitter_StatusClassification(t *testing.T) {
	tests := []struct {
		status int
		want   tracker.Outcome
	}{
		{http.StatusServiceUnavailable, tracker.OutcomeTransient},
		{http.StatusTooManyRequests, tracker.OutcomeTransient},
		{http.StatusUnauthorized, tracker.OutcomeUnauthorized},
		{http.StatusUnprocessableEntity, tracker.OutcomePermanent},
	}

	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			backend, s := newHTTPFixture(t)
			backend.status = tt.status

			_, err := s.Submit(context.Background(), testBatch(model.RecordShift, "s1"))
			require.Error(t, err)
			assert.Equal(t, tt.want, tracker.OutcomeOf(err))
			assert.Contains(t, err.Error(), "forced failure")
		})
	}
}

func TestHTTPSubmitter_Limits(t *testing.T) {
	backend, s := newHTTPFixture(t)

	got, err := s.Limits(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 100, got.MaxBatchSize)

	backend.limit = 1000
	got, err = s.Limits(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 200, got.MaxBatchSize, "local cap wins over a larger server limit")
}

func TestHTTPSubmitter_Ping(t *testing.T) {
	_, s := newHTTPFixture(t)
	assert.NoError(t, s.Ping(context.Background()))

	unreachable := NewHTTPSubmitter("http://127.0.0.1:1", "", "dev-1", time.Second, 0)
	err := unreachable.Ping(context.Background())
	require.Error(t, err)
	assert.Equal(t, tracker.OutcomeTransient, tracker.OutcomeOf(err))
}
