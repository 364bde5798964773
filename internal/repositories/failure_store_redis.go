package repositories

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/BradenHooton/fieldnotes/internal/models"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const failureKeyPrefix = "throttle:"

// RedisFailureStore keeps each identifier's failures in a sorted set scored by
// unix microseconds. The key expires ttl after the latest failure.
type RedisFailureStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisFailureStore creates a store; ttl should be at least the throttle window
func NewRedisFailureStore(client *redis.Client, ttl time.Duration) *RedisFailureStore {
	return &RedisFailureStore{client: client, ttl: ttl}
}

func failureKey(identifier string) string {
	return failureKeyPrefix + identifier
}

// Append adds, trims and refreshes the ttl in one MULTI/EXEC
func (s *RedisFailureStore) Append(ctx context.Context, identifier string, at time.Time, keep int) error {
	key := failureKey(identifier)
	member := strconv.FormatInt(at.UnixNano(), 10) + ":" + uuid.NewString()

	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZAdd(ctx, key, redis.Z{Score: float64(at.UnixMicro()), Member: member})
		if keep > 0 {
			pipe.ZRemRangeByRank(ctx, key, 0, int64(-keep-1))
		}
		if s.ttl > 0 {
			pipe.Expire(ctx, key, s.ttl)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to record failure: %w", err)
	}
	return nil
}

func (s *RedisFailureStore) List(ctx context.Context, identifier string) (*models.FailedAttemptRecord, error) {
	entries, err := s.client.ZRangeWithScores(ctx, failureKey(identifier), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list failures: %w", err)
	}

	record := &models.FailedAttemptRecord{
		Identifier: identifier,
		Timestamps: make([]time.Time, 0, len(entries)),
	}
	for _, z := range entries {
		record.Timestamps = append(record.Timestamps, time.UnixMicro(int64(z.Score)).UTC())
	}
	return record, nil
}

func (s *RedisFailureStore) Clear(ctx context.Context, identifier string) error {
	if err := s.client.Del(ctx, failureKey(identifier)).Err(); err != nil {
		return fmt.Errorf("failed to clear failures: %w", err)
	}
	return nil
}
