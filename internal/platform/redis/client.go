// Package redis opens the Redis connection shared by the distributed claim
// lock and the Redis rate-limit store.
package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"eventlens/internal/platform/config"
)

// Client is the process-wide Redis handle.
type Client struct {
	*redis.Client
	addr string
}

// New parses the URL, applies the pool settings that are set and pings once.
// An empty URL means Redis is not configured; the result is then nil.
func New(cfg config.RedisConfig) (*Client, error) {
	if cfg.URL == "" {
		return nil, nil
	}

	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	if cfg.PoolSize > 0 {
		opts.PoolSize = cfg.PoolSize
	}
	if cfg.MinIdleConns > 0 {
		opts.MinIdleConns = cfg.MinIdleConns
	}
	if cfg.DialTimeout > 0 {
		opts.DialTimeout = cfg.DialTimeout
	}
	if cfg.ReadTimeout > 0 {
		opts.ReadTimeout = cfg.ReadTimeout
	}
	if cfg.WriteTimeout > 0 {
		opts.WriteTimeout = cfg.WriteTimeout
	}

	rc := redis.NewClient(opts)
	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout(cfg))
	defer cancel()
	if err := rc.Ping(ctx).Err(); err != nil {
		_ = rc.Close()
		return nil, fmt.Errorf("redis %s unreachable: %w", opts.Addr, err)
	}
	return &Client{Client: rc, addr: opts.Addr}, nil
}

func connectTimeout(cfg config.RedisConfig) time.Duration {
	if cfg.DialTimeout > 0 {
		return 2 * cfg.DialTimeout
	}
	return 10 * time.Second
}

func (c *Client) Addr() string { return c.addr }

// Health backs the /health redis check.
func (c *Client) Health(ctx context.Context) error {
	if err := c.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis %s: %w", c.addr, err)
	}
	return nil
}
