package countstore

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	redisCountPrefix    = "warden/count/"
	redisDistinctPrefix = "warden/distinct/"
)

// Counters in redis. Distinct counts are HyperLogLogs, so they are
// approximate for large sets.
type RedisCountStore struct {
	Client *redis.Client

	now func() time.Time
}

var _ CountStore = (*RedisCountStore)(nil)

// Shares the client with other redis-backed stores.
func NewRedisCountStore(rdb *redis.Client) *RedisCountStore {
	return &RedisCountStore{
		Client: rdb,
		now:    time.Now,
	}
}

func (s *RedisCountStore) GetCount(ctx context.Context, name, val, period string) (int, error) {
	c, err := s.Client.Get(ctx, redisCountPrefix+periodKey(name, val, period, s.now())).Int()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	return c, err
}

func (s *RedisCountStore) Increment(ctx context.Context, name, val string) error {
	now := s.now()
	// every period bucket in a single round-trip
	_, err := s.Client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, p := range periods {
			key := redisCountPrefix + bucketKey(name, val, p, now)
			pipe.Incr(ctx, key)
			if p.retention > 0 {
				pipe.Expire(ctx, key, p.retention)
			}
		}
		return nil
	})
	return err
}

func (s *RedisCountStore) GetCountDistinct(ctx context.Context, name, bucket, period string) (int, error) {
	c, err := s.Client.PFCount(ctx, redisDistinctPrefix+periodKey(name, bucket, period, s.now())).Result()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	return int(c), err
}

func (s *RedisCountStore) IncrementDistinct(ctx context.Context, name, bucket, val string) error {
	now := s.now()
	_, err := s.Client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, p := range periods {
			key := redisDistinctPrefix + bucketKey(name, bucket, p, now)
			pipe.PFAdd(ctx, key, val)
			if p.retention > 0 {
				pipe.Expire(ctx, key, p.retention)
			}
		}
		return nil
	})
	return err
}
