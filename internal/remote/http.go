package remote

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"clocktrack/internal/tracker"
)

// HTTPSubmitter posts batches to the tracking backend's REST API.
type HTTPSubmitter struct {
	client   *resty.Client
	deviceID string
	maxBatch int
}

type submitRequest struct {
	DeviceID string         `json:"device_id"`
	Records  []submitRecord `json:"records"`
}

type submitRecord struct {
	ID      string          `json:"id"`
	Key     string          `json:"key"`
	Payload json.RawMessage `json:"payload"`
}

type submitResponse struct {
	Inserted   int            `json:"inserted"`
	Duplicates int            `json:"duplicates"`
	Errors     int            `json:"errors"`
	Results    []recordStatus `json:"results"`
}

type recordStatus struct {
	ID      string `json:"id"`
	Status  string `json:"status"` // inserted, duplicate, rejected, retry, unauthorized
	Code    string `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
}

type limitsResponse struct {
	MaxBatchSize int `json:"max_batch_size"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// NewHTTPSubmitter creates a client for baseURL. Retries are left to the
// sync engine's backoff, so resty's own retry is disabled.
func NewHTTPSubmitter(baseURL, token, deviceID string, timeout time.Duration, maxBatch int) *HTTPSubmitter {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	client := resty.New().
		SetBaseURL(strings.TrimRight(baseURL, "/")).
		SetTimeout(timeout).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")
	if token != "" {
		client.SetAuthToken(token)
	}
	return &HTTPSubmitter{client: client, deviceID: deviceID, maxBatch: batchLimit(maxBatch)}
}

// Limits asks the server for its batch limit, capped by the local setting.
func (s *HTTPSubmitter) Limits(ctx context.Context) (tracker.Limits, error) {
	var out limitsResponse
	resp, err := s.client.R().SetContext(ctx).SetResult(&out).Get("/v1/limits")
	if err != nil {
		return tracker.Limits{}, TransportError("fetch limits", err)
	}
	if resp.IsError() {
		return tracker.Limits{}, StatusError(resp.StatusCode(), errorMessage(resp))
	}
	limit := s.maxBatch
	if out.MaxBatchSize > 0 && out.MaxBatchSize < limit {
		limit = out.MaxBatchSize
	}
	return tracker.Limits{MaxBatchSize: limit}, nil
}

// Submit posts one batch. Whole-request failures are classified by status
// code; per-record verdicts come from the response body.
func (s *HTTPSubmitter) Submit(ctx context.Context, batch tracker.Batch) (tracker.BatchResult, error) {
	req := submitRequest{DeviceID: s.deviceID, Records: make([]submitRecord, len(batch.Records))}
	for i, r := range batch.Records {
		req.Records[i] = submitRecord{ID: r.ID, Key: r.Key, Payload: r.Payload}
	}

	var out submitResponse
	resp, err := s.client.R().
		SetContext(ctx).
		SetBody(req).
		SetResult(&out).
		Post("/v1/records/" + string(batch.Type))
	if err != nil {
		return tracker.BatchResult{}, TransportError("submit "+string(batch.Type), err)
	}
	if resp.IsError() {
		return tracker.BatchResult{}, StatusError(resp.StatusCode(), errorMessage(resp))
	}

	br := tracker.BatchResult{
		Inserted:   out.Inserted,
		Duplicates: out.Duplicates,
		Errors:     out.Errors,
	}
	for _, rs := range out.Results {
		br.Results = append(br.Results, tracker.RecordResult{
			ID:      rs.ID,
			Outcome: recordOutcome(rs.Status),
			Code:    rs.Code,
			Message: rs.Message,
		})
	}
	return br, nil
}

// Ping checks the health endpoint.
func (s *HTTPSubmitter) Ping(ctx context.Context) error {
	resp, err := s.client.R().SetContext(ctx).Get("/v1/health")
	if err != nil {
		return TransportError("ping", err)
	}
	if resp.IsError() {
		return StatusError(resp.StatusCode(), errorMessage(resp))
	}
	return nil
}

func recordOutcome(status string) tracker.Outcome {
	switch status {
	case "inserted":
		return tracker.OutcomeInserted
	case "duplicate":
		return tracker.OutcomeDuplicate
	case "rejected":
		return tracker.OutcomePermanent
	case "unauthorized":
		return tracker.OutcomeUnauthorized
	default:
		return tracker.OutcomeTransient
	}
}

func errorMessage(resp *resty.Response) string {
	var e errorResponse
	if err := json.Unmarshal(resp.Body(), &e); err == nil && e.Error != "" {
		return e.Error
	}
	if body := strings.TrimSpace(resp.String()); body != "" {
		return body
	}
	return fmt.Sprintf("HTTP %d", resp.StatusCode())
}

var _ tracker.Submitter = (*HTTPSubmitter)(nil)
