package querycache

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisBackend shares cached results across portal instances. Keys are
// namespaced so prefix deletes never touch unrelated data.
type RedisBackend struct {
	rdb       redis.UniversalClient
	namespace string
}

func NewRedisBackend(rdb redis.UniversalClient, namespace string) *RedisBackend {
	if namespace == "" {
		namespace = "carebook:qc:"
	}
	return &RedisBackend{rdb: rdb, namespace: namespace}
}

func (r *RedisBackend) Get(ctx context.Context, key string) ([]byte, bool, error) {
	b, err := r.rdb.Get(ctx, r.namespace+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return b, true, nil
}

func (r *RedisBackend) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return r.rdb.Set(ctx, r.namespace+key, value, ttl).Err()
}

// DeletePrefix walks matching keys with SCAN so large keyspaces do not block Redis.
func (r *RedisBackend) DeletePrefix(ctx context.Context, prefixes ...string) error {
	for _, p := range prefixes {
		iter := r.rdb.Scan(ctx, 0, escapeGlob(r.namespace+p)+"*", 200).Iterator()
		var batch []string
		for iter.Next(ctx) {
			batch = append(batch, iter.Val())
			if len(batch) == 200 {
				if err := r.rdb.Del(ctx, batch...).Err(); err != nil {
					return err
				}
				batch = batch[:0]
			}
		}
		if err := iter.Err(); err != nil {
			return err
		}
		if len(batch) > 0 {
			if err := r.rdb.Del(ctx, batch...).Err(); err != nil {
				return err
			}
		}
	}
	return nil
}

func escapeGlob(s string) string {
	out := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '*', '?', '[', ']', '\\':
			out = append(out, '\\')
		}
		out = append(out, s[i])
	}
	return string(out)
}
