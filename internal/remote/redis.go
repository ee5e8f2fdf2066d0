package remote

import (
	"context"
	"fmt"
	"strings"

	"github.com/go-redis/redis/v8"

	"clocktrack/internal/tracker"
)

// DefaultRedisStream is the stream records are appended to.
const DefaultRedisStream = "clocktrack:records"

// RedisSubmitter appends records to a Redis stream consumed by the backend.
// A per-record marker key set with SETNX suppresses duplicate appends.
type RedisSubmitter struct {
	client   *redis.Client
	stream   string
	deviceID string
	maxBatch int
}

// NewRedisSubmitter creates a client for addr.
func NewRedisSubmitter(addr, password string, db int, stream, deviceID string, maxBatch int) *RedisSubmitter {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	return NewRedisSubmitterFromClient(client, stream, deviceID, maxBatch)
}

// NewRedisSubmitterFromClient wraps an existing client.
func NewRedisSubmitterFromClient(client *redis.Client, stream, deviceID string, maxBatch int) *RedisSubmitter {
	if stream == "" {
		stream = DefaultRedisStream
	}
	return &RedisSubmitter{client: client, stream: stream, deviceID: deviceID, maxBatch: batchLimit(maxBatch)}
}

// Limits returns the configured batch limit.
func (s *RedisSubmitter) Limits(context.Context) (tracker.Limits, error) {
	return tracker.Limits{MaxBatchSize: s.maxBatch}, nil
}

func (s *RedisSubmitter) markerKey(t, key string) string {
	return s.stream + ":seen:" + t + ":" + key
}

// Submit claims each record's marker and appends it to the stream. If the
// append fails the marker is released so the retry is not mistaken for a
// duplicate.
func (s *RedisSubmitter) Submit(ctx context.Context, batch tracker.Batch) (tracker.BatchResult, error) {
	results := make([]tracker.RecordResult, 0, len(batch.Records))
	for _, r := range batch.Records {
		marker := s.markerKey(string(batch.Type), r.Key)
		claimed, err := s.client.SetNX(ctx, marker, r.ID, 0).Result()
		if err != nil {
			return tracker.BatchResult{}, classifyRedis("setnx", err)
		}
		if !claimed {
			results = append(results, tracker.RecordResult{ID: r.ID, Outcome: tracker.OutcomeDuplicate})
			continue
		}

		err = s.client.XAdd(ctx, &redis.XAddArgs{
			Stream: s.stream,
			Values: map[string]interface{}{
				"type":      string(batch.Type),
				"id":        r.ID,
				"key":       r.Key,
				"device_id": s.deviceID,
				"payload":   string(r.Payload),
			},
		}).Err()
		if err != nil {
			s.client.Del(ctx, marker)
			return tracker.BatchResult{}, classifyRedis("xadd", err)
		}
		results = append(results, tracker.RecordResult{ID: r.ID, Outcome: tracker.OutcomeInserted})
	}
	return tally(results), nil
}

// Ping checks the connection.
func (s *RedisSubmitter) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return classifyRedis("ping", err)
	}
	return nil
}

// Close releases the client.
func (s *RedisSubmitter) Close() error {
	return s.client.Close()
}

func classifyRedis(op string, err error) error {
	msg := err.Error()
	if strings.HasPrefix(msg, "NOAUTH") || strings.HasPrefix(msg, "WRONGPASS") || strings.HasPrefix(msg, "NOPERM") {
		return &tracker.SubmitError{Outcome: tracker.OutcomeUnauthorized, Code: "auth", Message: fmt.Sprintf("%s: %s", op, msg), Err: err}
	}
	return TransportError(op, err)
}

var _ tracker.Submitter = (*RedisSubmitter)(nil)
