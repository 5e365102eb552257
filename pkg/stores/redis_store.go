package stores

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "endure:"

// completionKey returns the key holding one completion: endure:completion:{key}
func completionKey(key string) string { return redisKeyPrefix + "completion:" + key }

// workflowKey returns the Set of completion keys of a workflow instance.
func workflowKey(id string) string { return redisKeyPrefix + "workflow:" + id }

// ackedIndexKey is the Sorted Set of acknowledged completion keys scored by
// acknowledgment time in unix milliseconds.
const ackedIndexKey = redisKeyPrefix + "acked"

// RedisStore persists completions in Redis. Completions are JSON strings;
// first-writer-wins is enforced with SETNX.
type RedisStore struct {
	client redis.UniversalClient
}

// NewRedisStore creates a Redis-backed store. The caller owns the client
// lifecycle.
func NewRedisStore(client redis.UniversalClient) *RedisStore {
	return &RedisStore{client: client}
}

// PutCompletion records c unless a completion for the same key exists.
// It reports whether c was inserted.
func (s *RedisStore) PutCompletion(ctx context.Context, c *Completion) (bool, error) {
	data, err := json.Marshal(c)
	if err != nil {
		return false, fmt.Errorf("failed to encode completion: %w", err)
	}

	ok, err := s.client.SetNX(ctx, completionKey(c.Key), data, 0).Result()
	if err != nil {
		return false, fmt.Errorf("failed to insert completion: %w", err)
	}
	if !ok {
		return false, nil
	}

	pipe := s.client.TxPipeline()
	pipe.SAdd(ctx, workflowKey(c.WorkflowInstanceID), c.Key)
	if c.AcknowledgedAt != nil {
		pipe.ZAdd(ctx, ackedIndexKey, redis.Z{Score: float64(c.AcknowledgedAt.UnixMilli()), Member: c.Key})
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return true, fmt.Errorf("failed to index completion: %w", err)
	}

	return true, nil
}

// GetCompletion retrieves the completion for key.
func (s *RedisStore) GetCompletion(ctx context.Context, key string) (*Completion, error) {
	data, err := s.client.Get(ctx, completionKey(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get completion: %w", err)
	}

	var c Completion
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("failed to decode completion %s: %w", key, err)
	}

	return &c, nil
}

// ListCompletions lists the completions of a workflow instance.
func (s *RedisStore) ListCompletions(ctx context.Context, workflowInstanceID string) ([]*Completion, error) {
	keys, err := s.client.SMembers(ctx, workflowKey(workflowInstanceID)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list completions: %w", err)
	}

	completions := make([]*Completion, 0, len(keys))
	for _, key := range keys {
		c, err := s.GetCompletion(ctx, key)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		completions = append(completions, c)
	}

	return completions, nil
}

// AcknowledgeCompletion marks the completion for key as acknowledged by
// the engine. Acknowledging twice keeps the first timestamp.
func (s *RedisStore) AcknowledgeCompletion(ctx context.Context, key string, at time.Time) error {
	rkey := completionKey(key)

	return s.client.Watch(ctx, func(tx *redis.Tx) error {
		data, err := tx.Get(ctx, rkey).Bytes()
		if errors.Is(err, redis.Nil) {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("failed to get completion: %w", err)
		}

		var c Completion
		if err := json.Unmarshal(data, &c); err != nil {
			return fmt.Errorf("failed to decode completion %s: %w", key, err)
		}
		if c.AcknowledgedAt != nil {
			return nil
		}
		at = at.UTC()
		c.AcknowledgedAt = &at

		updated, err := json.Marshal(&c)
		if err != nil {
			return fmt.Errorf("failed to encode completion: %w", err)
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, rkey, updated, redis.KeepTTL)
			pipe.ZAdd(ctx, ackedIndexKey, redis.Z{Score: float64(at.UnixMilli()), Member: key})
			return nil
		})
		if err != nil {
			return fmt.Errorf("failed to acknowledge completion: %w", err)
		}
		return nil
	}, rkey)
}

// PurgeAcknowledged deletes acknowledged completions older than cutoff and
// returns how many were removed.
func (s *RedisStore) PurgeAcknowledged(ctx context.Context, cutoff time.Time) (int64, error) {
	keys, err := s.client.ZRangeByScore(ctx, ackedIndexKey, &redis.ZRangeBy{
		Min: "-inf",
		Max: "(" + strconv.FormatInt(cutoff.UnixMilli(), 10),
	}).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to find acknowledged completions: %w", err)
	}

	var purged int64
	for _, key := range keys {
		c, err := s.GetCompletion(ctx, key)
		if err != nil && !errors.Is(err, ErrNotFound) {
			return purged, err
		}

		pipe := s.client.TxPipeline()
		del := pipe.Del(ctx, completionKey(key))
		pipe.ZRem(ctx, ackedIndexKey, key)
		if c != nil {
			pipe.SRem(ctx, workflowKey(c.WorkflowInstanceID), key)
		}
		if _, err := pipe.Exec(ctx); err != nil {
			return purged, fmt.Errorf("failed to purge completion %s: %w", key, err)
		}
		purged += del.Val()
	}

	return purged, nil
}

// HealthCheck verifies the Redis connection is alive.
func (s *RedisStore) HealthCheck(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close is a no-op; the caller owns the Redis client lifecycle.
func (s *RedisStore) Close() error { return nil }
