package counter

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// RedisStore is a redis-backed Store for multi-node deployments. Windows
// are kept as sorted sets scored by unix nanoseconds; quotas are plain
// integer keys.
type RedisStore struct {
	client *redis.Client
	prefix string
}

// NewRedisStore wraps an existing redis client. Keys are namespaced with
// the given prefix.
func NewRedisStore(client *redis.Client, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "parley"
	}
	return &RedisStore{client: client, prefix: prefix}
}

func (s *RedisStore) windowKey(key string) string { return s.prefix + ":win:" + key }
func (s *RedisStore) quotaKey(key string) string  { return s.prefix + ":quota:" + key }

func (s *RedisStore) Incr(ctx context.Context, key string, window time.Duration) (int64, error) {
	now := time.Now()
	cutoff := now.Add(-window).UnixNano()
	wkey := s.windowKey(key)

	// Member must be unique so concurrent events in the same nanosecond
	// are not collapsed.
	member := fmt.Sprintf("%d-%s", now.UnixNano(), uuid.NewString())

	pipe := s.client.TxPipeline()
	pipe.ZRemRangeByScore(ctx, wkey, "-inf", fmt.Sprintf("%d", cutoff))
	pipe.ZAdd(ctx, wkey, redis.Z{Score: float64(now.UnixNano()), Member: member})
	card := pipe.ZCard(ctx, wkey)
	pipe.Expire(ctx, wkey, window+time.Second)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("counter: redis incr %s: %w", key, err)
	}
	return card.Val(), nil
}

func (s *RedisStore) Count(ctx context.Context, key string, window time.Duration) (int64, error) {
	cutoff := time.Now().Add(-window).UnixNano()
	wkey := s.windowKey(key)

	pipe := s.client.TxPipeline()
	pipe.ZRemRangeByScore(ctx, wkey, "-inf", fmt.Sprintf("%d", cutoff))
	card := pipe.ZCard(ctx, wkey)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("counter: redis count %s: %w", key, err)
	}
	return card.Val(), nil
}

func (s *RedisStore) AddQuota(ctx context.Context, key string, n int64) (int64, error) {
	total, err := s.client.IncrBy(ctx, s.quotaKey(key), n).Result()
	if err != nil {
		return 0, fmt.Errorf("counter: redis quota %s: %w", key, err)
	}
	return total, nil
}

func (s *RedisStore) Quota(ctx context.Context, key string) (int64, error) {
	val, err := s.client.Get(ctx, s.quotaKey(key)).Int64()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("counter: redis quota %s: %w", key, err)
	}
	return val, nil
}
