// Package redisconn builds the shared Redis client used for locks, worker
// registry entries, the task queue, and progress snapshots.
package redisconn

import (
	"context"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"desceval/internal/config"
)

// New builds a Redis client from configuration. redis.url wins over the
// discrete fields when both are set. The caller owns the client lifecycle.
func New(cfg *config.Config) (*goredis.Client, error) {
	opts, err := Options(cfg)
	if err != nil {
		return nil, err
	}
	return goredis.NewClient(opts), nil
}

// Options resolves the go-redis options the client is built with.
func Options(cfg *config.Config) (*goredis.Options, error) {
	if url := cfg.Redis.URL; url != "" {
		opts, err := goredis.ParseURL(url)
		if err != nil {
			return nil, fmt.Errorf("parse redis url: %w", err)
		}
		return opts, nil
	}
	if cfg.Redis.Addr == "" {
		return nil, fmt.Errorf("redis address is not configured")
	}
	return &goredis.Options{
		Addr:        cfg.Redis.Addr,
		Password:    cfg.Redis.Password,
		DB:          cfg.Redis.DB,
		DialTimeout: time.Duration(cfg.Redis.DialTimeout) * time.Second,
	}, nil
}

// Check verifies the Redis endpoint responds to PING.
func Check(ctx context.Context, client *goredis.Client) error {
	if err := client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("ping redis: %w", err)
	}
	return nil
}
