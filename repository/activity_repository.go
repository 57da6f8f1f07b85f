package repository

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ActivityStore is a fast cache of per-user last activity, written by the
// gateway on authenticated requests.
type ActivityStore interface {
	Touch(ctx context.Context, userID uuid.UUID, at time.Time) error
	LastSeen(ctx context.Context, userIDs []uuid.UUID) (map[uuid.UUID]time.Time, error)
}

type RedisActivityStore struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisActivityStore(client *redis.Client, ttl time.Duration) *RedisActivityStore {
	return &RedisActivityStore{client: client, ttl: ttl}
}

func (r *RedisActivityStore) getKey(userID uuid.UUID) string {
	return fmt.Sprintf("activity:user:%s", userID)
}

func (r *RedisActivityStore) Touch(ctx context.Context, userID uuid.UUID, at time.Time) error {
	return r.client.Set(ctx, r.getKey(userID), at.Unix(), r.ttl).Err()
}

// LastSeen returns the cached timestamp of every user that has one.
func (r *RedisActivityStore) LastSeen(ctx context.Context, userIDs []uuid.UUID) (map[uuid.UUID]time.Time, error) {
	out := make(map[uuid.UUID]time.Time, len(userIDs))
	if len(userIDs) == 0 {
		return out, nil
	}

	keys := make([]string, len(userIDs))
	for i, id := range userIDs {
		keys[i] = r.getKey(id)
	}

	vals, err := r.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, err
	}

	for i, v := range vals {
		s, ok := v.(string)
		if !ok {
			continue
		}
		sec, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			continue
		}
		out[userIDs[i]] = time.Unix(sec, 0)
	}
	return out, nil
}
