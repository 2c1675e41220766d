package redis

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/openctemio/entitlements/internal/config"
	"github.com/openctemio/entitlements/pkg/logger"
)

// Client is the shared go-redis connection.
type Client struct {
	rdb    *redis.Client
	logger *logger.Logger
}

// New connects to Redis, retrying the first PING with capped exponential
// backoff. Replicas can start before Redis is reachable in compose setups.
func New(cfg *config.RedisConfig, log *logger.Logger) (*Client, error) {
	if cfg == nil {
		return nil, errors.New("redis config is required")
	}
	if log == nil {
		return nil, errors.New("logger is required")
	}

	rdb := redis.NewClient(options(cfg))
	if cfg.TLSEnabled {
		log.Info("redis TLS enabled", "skip_verify", cfg.TLSSkipVerify)
	}

	if err := waitReady(rdb, cfg, log); err != nil {
		_ = rdb.Close()
		return nil, err
	}

	log.Info("redis connected", "addr", cfg.Addr(), "db", cfg.DB, "pool_size", cfg.PoolSize)
	return &Client{rdb: rdb, logger: log}, nil
}

func options(cfg *config.RedisConfig) *redis.Options {
	opts := &redis.Options{
		Addr:            cfg.Addr(),
		Password:        cfg.Password,
		DB:              cfg.DB,
		PoolSize:        cfg.PoolSize,
		MinIdleConns:    cfg.MinIdleConns,
		DialTimeout:     cfg.DialTimeout,
		ReadTimeout:     cfg.ReadTimeout,
		WriteTimeout:    cfg.WriteTimeout,
		MaxRetries:      cfg.MaxRetries,
		MinRetryBackoff: cfg.MinRetryDelay,
		MaxRetryBackoff: cfg.MaxRetryDelay,
	}
	if cfg.TLSEnabled {
		opts.TLSConfig = &tls.Config{
			InsecureSkipVerify: cfg.TLSSkipVerify, //nolint:gosec // opt-in for local stacks
			MinVersion:         tls.VersionTLS12,
		}
	}
	return opts
}

func waitReady(rdb *redis.Client, cfg *config.RedisConfig, log *logger.Logger) error {
	backoff := cfg.MinRetryDelay
	var err error
	for attempt := 1; ; attempt++ {
		ctx, cancel := context.WithTimeout(context.Background(), cfg.DialTimeout)
		err = rdb.Ping(ctx).Err()
		cancel()
		if err == nil {
			return nil
		}
		if attempt > cfg.MaxRetries {
			return fmt.Errorf("redis not reachable after %d attempts: %w", attempt, err)
		}

		log.Warn("redis not reachable, retrying", "attempt", attempt, "backoff", backoff, "error", err)
		time.Sleep(backoff)
		backoff = min(backoff*2, cfg.MaxRetryDelay)
	}
}

// NewFromClient wraps an already configured go-redis client.
func NewFromClient(rdb *redis.Client, log *logger.Logger) *Client {
	if log == nil {
		log = logger.NewNop()
	}
	return &Client{rdb: rdb, logger: log}
}

func (c *Client) Close() error {
	return c.rdb.Close()
}

// Ping backs the readiness probe.
func (c *Client) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

func (c *Client) PoolStats() *redis.PoolStats {
	return c.rdb.PoolStats()
}
