package repository_test

import (
	"context"
	"testing"
	"time"

	"abandonment-service/repository"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupRedis(t *testing.T) (*miniredis.Miniredis, *repository.RedisActivityStore) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, repository.NewRedisActivityStore(client, time.Hour)
}

func TestActivityStore_TouchAndLastSeen(t *testing.T) {
	mr, store := setupRedis(t)
	ctx := context.Background()

	seen := uuid.New()
	unseen := uuid.New()
	at := time.Unix(1_760_000_000, 0)

	require.NoError(t, store.Touch(ctx, seen, at))
	assert.Equal(t, time.Hour, mr.TTL("activity:user:"+seen.String()))

	got, err := store.LastSeen(ctx, []uuid.UUID{seen, unseen})
	require.NoError(t, err)
	assert.Len(t, got, 1)
	assert.True(t, at.Equal(got[seen]))
}

func TestActivityStore_IgnoresGarbage(t *testing.T) {
	mr, store := setupRedis(t)
	id := uuid.New()
	require.NoError(t, mr.Set("activity:user:"+id.String(), "yesterday"))

	got, err := store.LastSeen(context.Background(), []uuid.UUID{id})
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestActivityStore_Expiry(t *testing.T) {
	mr, store := setupRedis(t)
	id := uuid.New()
	require.NoError(t, store.Touch(context.Background(), id, time.Now()))

	mr.FastForward(2 * time.Hour)
	got, err := store.LastSeen(context.Background(), []uuid.UUID{id})
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestActivityStore_Unavailable(t *testing.T) {
	mr, store := setupRedis(t)
	mr.Close()

	_, err := store.LastSeen(context.Background(), []uuid.UUID{uuid.New()})
	assert.Error(t, err)
}
