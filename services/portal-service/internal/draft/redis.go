package draft

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const DefaultTTL = 24 * time.Hour

// RedisStore keeps one JSON value per session. Every write slides the TTL, so
// a draft survives reloads during one attempt and expires when abandoned.
type RedisStore struct {
	rdb    redis.UniversalClient
	prefix string
	ttl    time.Duration
	now    func() time.Time
}

func NewRedisStore(rdb redis.UniversalClient, prefix string, ttl time.Duration) *RedisStore {
	if prefix == "" {
		prefix = "carebook:draft:"
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &RedisStore{rdb: rdb, prefix: prefix, ttl: ttl, now: time.Now}
}

func (s *RedisStore) key(session string) string { return s.prefix + session }

func (s *RedisStore) Get(ctx context.Context, session string) (Draft, error) {
	return s.read(ctx, s.rdb, s.key(session))
}

type getter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

func (s *RedisStore) read(ctx context.Context, c getter, key string) (Draft, error) {
	raw, err := c.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return Draft{}, nil
	}
	if err != nil {
		return Draft{}, err
	}
	var d Draft
	if err := json.Unmarshal(raw, &d); err != nil {
		return Draft{}, fmt.Errorf("decode draft %s: %w", key, err)
	}
	return d, nil
}

// SetData merges under WATCH so concurrent writers of one session do not
// lose each other's fields.
func (s *RedisStore) SetData(ctx context.Context, session string, p Partial) (Draft, error) {
	key := s.key(session)
	var merged Draft
	txf := func(tx *redis.Tx) error {
		cur, err := s.read(ctx, tx, key)
		if err != nil {
			return err
		}
		merged = cur.Merge(p)
		merged.UpdatedAt = s.now().UTC()
		raw, err := json.Marshal(merged)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, raw, s.ttl)
			return nil
		})
		return err
	}
	for range 3 {
		err := s.rdb.Watch(ctx, txf, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return merged, err
	}
	return Draft{}, fmt.Errorf("draft %s: too much contention", session)
}

func (s *RedisStore) Clear(ctx context.Context, session string) error {
	return s.rdb.Del(ctx, s.key(session)).Err()
}
