// Package repository holds the redis-backed stores behind the service-layer
// interfaces: rate-limit buckets, idempotency responses, delivered marks.
package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/Wei-Shaw/notifyhub/internal/config"
)

// NewRedisClient connects to the shared KV store and verifies the
// connection. STORE_URL wins over host/port when both are set.
func NewRedisClient(cfg *config.Config) (*redis.Client, error) {
	var opts *redis.Options
	if cfg.Redis.URL != "" {
		parsed, err := redis.ParseURL(cfg.Redis.URL)
		if err != nil {
			return nil, fmt.Errorf("parse redis url: %w", err)
		}
		opts = parsed
	} else {
		opts = &redis.Options{
			Addr:     cfg.Redis.Address(),
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		}
	}

	opts.DialTimeout = time.Duration(cfg.Redis.DialTimeoutSeconds) * time.Second
	opts.ReadTimeout = time.Duration(cfg.Redis.ReadTimeoutSeconds) * time.Second
	opts.WriteTimeout = time.Duration(cfg.Redis.WriteTimeoutSeconds) * time.Second
	opts.PoolSize = cfg.Redis.PoolSize
	opts.MinIdleConns = cfg.Redis.MinIdleConns

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), opts.DialTimeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return client, nil
}
