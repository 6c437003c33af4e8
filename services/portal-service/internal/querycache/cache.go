// Package querycache caches remote query results keyed by endpoint and
// parameters, with TTL staleness, fetch deduplication and prefix invalidation.
package querycache

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"
)

// Backend stores encoded results.
type Backend interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	DeletePrefix(ctx context.Context, prefixes ...string) error
}

// Invalidator drops every cached entry under the given key prefixes.
type Invalidator interface {
	Invalidate(ctx context.Context, prefixes ...string) error
}

type Cache struct {
	backend      Backend
	ttl          time.Duration
	fetchTimeout time.Duration
	logger       *slog.Logger
	group        singleflight.Group
	// epoch advances on every invalidation. Fetches started before an
	// invalidation are neither shared with later callers nor stored.
	epoch atomic.Uint64
}

func New(backend Backend, ttl time.Duration, logger *slog.Logger) *Cache {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &Cache{backend: backend, ttl: ttl, fetchTimeout: 15 * time.Second, logger: logger}
}

// Key renders (endpoint, params) with params in sorted order.
func Key(endpoint string, params url.Values) string {
	if len(params) == 0 {
		return endpoint
	}
	return endpoint + "?" + params.Encode()
}

// Fetch returns the cached value for key or runs fetch once for all
// concurrent callers of the same key. Backend errors degrade to a direct fetch.
func Fetch[T any](ctx context.Context, c *Cache, key string, fetch func(context.Context) (T, error)) (T, error) {
	var zero T
	if raw, ok, err := c.backend.Get(ctx, key); err != nil {
		c.logger.Warn("query cache read failed", "key", key, "err", err)
	} else if ok {
		var v T
		if err := json.Unmarshal(raw, &v); err == nil {
			return v, nil
		}
		c.logger.Warn("query cache entry undecodable", "key", key)
	}

	epoch := c.epoch.Load()
	ch := c.group.DoChan(fmt.Sprintf("%s#%d", key, epoch), func() (any, error) {
		fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.fetchTimeout)
		defer cancel()
		v, err := fetch(fctx)
		if err != nil {
			return nil, err
		}
		raw, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("encode %s: %w", key, err)
		}
		if c.epoch.Load() == epoch {
			if err := c.backend.Set(fctx, key, raw, c.ttl); err != nil {
				c.logger.Warn("query cache write failed", "key", key, "err", err)
			}
		}
		return raw, nil
	})

	select {
	case <-ctx.Done():
		return zero, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return zero, res.Err
		}
		var v T
		if err := json.Unmarshal(res.Val.([]byte), &v); err != nil {
			return zero, fmt.Errorf("decode %s: %w", key, err)
		}
		return v, nil
	}
}

func (c *Cache) Invalidate(ctx context.Context, prefixes ...string) error {
	if len(prefixes) == 0 {
		return nil
	}
	c.epoch.Add(1)
	return c.backend.DeletePrefix(ctx, prefixes...)
}
