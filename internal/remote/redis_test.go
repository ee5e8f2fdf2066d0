package remote

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"clocktrack/internal/model"
	"clocktrack/internal/tracker"
)

func setupTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client, *RedisSubmitter) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return mr, client, NewRedisSubmitterFromClient(client, "", "dev-1", 0)
}

func TestRedisSubmitter_Submit(t *testing.T) {
	ctx := context.Background()
	_, client, s := setupTestRedis(t)

	got, err := s.Submit(ctx, testBatch(model.RecordGpsPoint, "p1", "p2"))
	require.NoError(t, err)
	assert.Equal(t, 2, got.Inserted)

	got, err = s.Submit(ctx, testBatch(model.RecordGpsPoint, "p2", "p3"))
	require.NoError(t, err)
	assert.Equal(t, 1, got.Inserted)
	assert.Equal(t, 1, got.Duplicates)

	entries, err := client.XRange(ctx, DefaultRedisStream, "-", "+").Result()
	require.NoError(t, err)
	require.Len(t, entries, 3, "duplicates must not be appended")
	assert.Equal(t, "p1", entries[0].Values["id"])
	assert.Equal(t, "dev-1", entries[0].Values["device_id"])
	assert.Equal(t, `{"id":"p1"}`, entries[0].Values["payload"])
}

func TestRedisSubmitter_Unreachable(t *testing.T) {
	mr, _, s := setupTestRedis(t)
	mr.Close()

	_, err := s.Submit(context.Background(), testBatch(model.RecordShift, "s1"))
	require.Error(t, err)
	assert.Equal(t, tracker.OutcomeTransient, tracker.OutcomeOf(err))
	assert.Error(t, s.Ping(context.Background()))
}

func TestRedisSubmitter_AuthRequired(t *testing.T) {
	mr, _, s := setupTestRedis(t)
	mr.RequireAuth("hunter2")

	_, err := s.Submit(context.Background(), testBatch(model.RecordShift, "s1"))
	require.Error(t, err)
	assert.Equal(t, tracker.OutcomeUnauthorized, tracker.OutcomeOf(err))
}
