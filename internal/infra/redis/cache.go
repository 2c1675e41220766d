package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrCacheMiss is returned by Get when the key does not exist.
var ErrCacheMiss = errors.New("cache: key not found")

// Cache stores JSON-encoded T values under "<prefix>:<key>" with a fixed TTL.
type Cache[T any] struct {
	client *Client
	prefix string
	ttl    time.Duration
}

// NewCache creates a cache. prefix also labels the cache's metrics.
func NewCache[T any](client *Client, prefix string, ttl time.Duration) (*Cache[T], error) {
	switch {
	case client == nil:
		return nil, errors.New("redis client is required")
	case prefix == "":
		return nil, errors.New("key prefix is required")
	case ttl <= 0:
		return nil, errors.New("TTL must be positive")
	}
	return &Cache[T]{client: client, prefix: prefix, ttl: ttl}, nil
}

func (c *Cache[T]) key(k string) string {
	return c.prefix + ":" + k
}

// Get returns ErrCacheMiss when k is absent. A value that no longer decodes
// is reported as an error, not a miss.
func (c *Cache[T]) Get(ctx context.Context, k string) (*T, error) {
	if k == "" {
		return nil, errors.New("key is required")
	}

	done := Timed("cache_get")
	data, err := c.client.rdb.Get(ctx, c.key(k)).Bytes()
	switch {
	case errors.Is(err, redis.Nil):
		done(nil)
		DefaultMetrics.RecordCacheMiss(c.prefix)
		return nil, ErrCacheMiss
	case err != nil:
		done(err)
		return nil, fmt.Errorf("cache get %s: %w", k, err)
	}
	done(nil)

	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, fmt.Errorf("cache decode %s: %w", k, err)
	}
	DefaultMetrics.RecordCacheHit(c.prefix)
	return &v, nil
}

func (c *Cache[T]) Set(ctx context.Context, k string, v T) error {
	if k == "" {
		return errors.New("key is required")
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("cache encode %s: %w", k, err)
	}

	done := Timed("cache_set")
	err = c.client.rdb.Set(ctx, c.key(k), data, c.ttl).Err()
	done(err)
	if err != nil {
		return fmt.Errorf("cache set %s: %w", k, err)
	}
	return nil
}

func (c *Cache[T]) Delete(ctx context.Context, k string) error {
	if k == "" {
		return errors.New("key is required")
	}
	if err := c.client.rdb.Del(ctx, c.key(k)).Err(); err != nil {
		return fmt.Errorf("cache delete %s: %w", k, err)
	}
	return nil
}

// DeletePattern removes every key under the prefix matching pattern, in
// batches of 100. "*" drops the whole cache, which plan edits rely on since
// they can change any organization's entitlements.
func (c *Cache[T]) DeletePattern(ctx context.Context, pattern string) error {
	if pattern == "" {
		return errors.New("pattern is required")
	}

	done := Timed("cache_delete_pattern")
	iter := c.client.rdb.Scan(ctx, 0, c.key(pattern), 100).Iterator()
	batch := make([]string, 0, 100)
	deleted := 0

	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if err := c.client.rdb.Del(ctx, batch...).Err(); err != nil {
			return err
		}
		deleted += len(batch)
		batch = batch[:0]
		return nil
	}

	for iter.Next(ctx) {
		batch = append(batch, iter.Val())
		if len(batch) == cap(batch) {
			if err := flush(); err != nil {
				done(err)
				return fmt.Errorf("cache delete pattern: %w", err)
			}
		}
	}
	err := iter.Err()
	if err == nil {
		err = flush()
	}
	done(err)
	if err != nil {
		return fmt.Errorf("cache delete pattern: %w", err)
	}

	c.client.logger.Debug("cache keys dropped", "prefix", c.prefix, "pattern", pattern, "deleted", deleted)
	return nil
}
