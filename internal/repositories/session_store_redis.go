package repositories

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/BradenHooton/fieldnotes/internal/models"
	"github.com/redis/go-redis/v9"
)

const (
	sessionKeyPrefix   = "session:"
	maxOptimisticRetry = 8
)

// RedisSessionStore stores sessions as JSON values with a TTL. Writes to a
// key use WATCH/MULTI so concurrent updates to one id retry rather than lose data.
type RedisSessionStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisSessionStore creates a store whose keys live for ttl after their last write
func NewRedisSessionStore(client *redis.Client, ttl time.Duration) *RedisSessionStore {
	return &RedisSessionStore{client: client, ttl: ttl}
}

func sessionKey(id string) string {
	return sessionKeyPrefix + id
}

func (s *RedisSessionStore) Create(ctx context.Context, sess *models.Session) error {
	data, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("failed to encode session: %w", err)
	}
	created, err := s.client.SetNX(ctx, sessionKey(sess.ID), data, s.ttl).Result()
	if err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}
	if !created {
		return models.ErrConflict
	}
	return nil
}

func (s *RedisSessionStore) Get(ctx context.Context, id string) (*models.Session, error) {
	return s.get(ctx, s.client, id)
}

// stringGetter is satisfied by both *redis.Client and *redis.Tx
type stringGetter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

func (s *RedisSessionStore) get(ctx context.Context, cmd stringGetter, id string) (*models.Session, error) {
	data, err := cmd.Get(ctx, sessionKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get session: %w", err)
	}

	var sess models.Session
	if err := json.Unmarshal(data, &sess); err != nil {
		return nil, fmt.Errorf("failed to decode session: %w", err)
	}
	sess.ID = id
	return &sess, nil
}

func (s *RedisSessionStore) Update(ctx context.Context, id string, fn func(*models.Session) error) (*models.Session, error) {
	var result *models.Session
	key := sessionKey(id)

	err := s.retry(ctx, func(tx *redis.Tx) error {
		sess, err := s.get(ctx, tx, id)
		if err != nil {
			return err
		}
		if err := fn(sess); err != nil {
			return err
		}
		sess.ID = id
		data, err := json.Marshal(sess)
		if err != nil {
			return fmt.Errorf("failed to encode session: %w", err)
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, s.ttl)
			return nil
		})
		if err != nil {
			return err
		}
		result = sess
		return nil
	}, key)
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (s *RedisSessionStore) Rotate(ctx context.Context, oldID, newID string, fn func(*models.Session) error) (*models.Session, error) {
	var result *models.Session
	oldKey, newKey := sessionKey(oldID), sessionKey(newID)

	err := s.retry(ctx, func(tx *redis.Tx) error {
		sess, err := s.get(ctx, tx, oldID)
		if err != nil {
			return err
		}
		taken, err := tx.Exists(ctx, newKey).Result()
		if err != nil {
			return fmt.Errorf("failed to check session id: %w", err)
		}
		if taken > 0 {
			return models.ErrConflict
		}
		if fn != nil {
			if err := fn(sess); err != nil {
				return err
			}
		}
		sess.ID = newID
		data, err := json.Marshal(sess)
		if err != nil {
			return fmt.Errorf("failed to encode session: %w", err)
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, newKey, data, s.ttl)
			pipe.Del(ctx, oldKey)
			return nil
		})
		if err != nil {
			return err
		}
		result = sess
		return nil
	}, oldKey, newKey)
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (s *RedisSessionStore) Delete(ctx context.Context, id string) error {
	if err := s.client.Del(ctx, sessionKey(id)).Err(); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}

// retry runs fn under WATCH on keys, retrying when another client modified them first
func (s *RedisSessionStore) retry(ctx context.Context, fn func(*redis.Tx) error, keys ...string) error {
	for i := 0; i < maxOptimisticRetry; i++ {
		err := s.client.Watch(ctx, fn, keys...)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return err
	}
	return fmt.Errorf("session write contention on %s: %w", keys[0], redis.TxFailedErr)
}
