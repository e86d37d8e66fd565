package kvstore

import (
	"context"

	"github.com/redis/go-redis/v9"
)

var redisKVPrefix string = "kv/"

// Each namespace is one redis hash.
type RedisStore struct {
	Client *redis.Client
}

var _ Store = (*RedisStore)(nil)

// Parses the URL and checks the connection. The client is shared by every
// redis-backed store in the process.
func ConnectRedis(ctx context.Context, redisURL string) (*redis.Client, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}
	rdb := redis.NewClient(opt)
	// check redis connection
	if _, err := rdb.Ping(ctx).Result(); err != nil {
		rdb.Close()
		return nil, err
	}
	return rdb, nil
}

func NewRedisStore(rdb *redis.Client) *RedisStore {
	return &RedisStore{Client: rdb}
}

func (s *RedisStore) Get(ctx context.Context, ns, key string) ([]byte, error) {
	v, err := s.Client.HGet(ctx, redisKVPrefix+ns, key).Bytes()
	if err == redis.Nil {
		return nil, ErrNotFound
	} else if err != nil {
		return nil, err
	}
	return v, nil
}

func (s *RedisStore) Put(ctx context.Context, ns, key string, val []byte) error {
	return s.Client.HSet(ctx, redisKVPrefix+ns, key, val).Err()
}

func (s *RedisStore) Delete(ctx context.Context, ns, key string) error {
	return s.Client.HDel(ctx, redisKVPrefix+ns, key).Err()
}

func (s *RedisStore) List(ctx context.Context, ns string) (map[string][]byte, error) {
	m, err := s.Client.HGetAll(ctx, redisKVPrefix+ns).Result()
	if err != nil {
		return nil, err
	}
	out := make(map[string][]byte, len(m))
	for k, v := range m {
		out[k] = []byte(v)
	}
	return out, nil
}

func (s *RedisStore) Replace(ctx context.Context, ns string, entries map[string][]byte) error {
	key := redisKVPrefix + ns
	// MULTI/EXEC, so other clients never see the namespace half-replaced
	_, err := s.Client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, key)
		if len(entries) > 0 {
			vals := make(map[string]any, len(entries))
			for k, v := range entries {
				vals[k] = v
			}
			pipe.HSet(ctx, key, vals)
		}
		return nil
	})
	return err
}
