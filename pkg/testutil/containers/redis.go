//go:build integration

package containers

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/testcontainers/testcontainers-go"
	tcredis "github.com/testcontainers/testcontainers-go/modules/redis"

	"eventlens/internal/platform/config"
	platformredis "eventlens/internal/platform/redis"
)

// RedisContainer backs the shared rate-limit and pair-lock tests. Client is
// built through the same constructor the server uses.
type RedisContainer struct {
	Container testcontainers.Container
	URL       string
	Client    *redis.Client
}

func NewRedisContainer(t *testing.T) *RedisContainer {
	t.Helper()
	ctx := context.Background()

	container, err := tcredis.Run(ctx, "redis:7-alpine")
	if err != nil {
		t.Fatalf("start redis: %v", err)
	}
	url, err := container.ConnectionString(ctx)
	if err != nil {
		abort(t, container, "redis connection string", err)
	}
	c, err := platformredis.New(config.RedisConfig{URL: url, PoolSize: 8, DialTimeout: 5 * time.Second})
	if err != nil {
		abort(t, container, "connect redis", err)
	}
	return &RedisContainer{Container: container, URL: url, Client: c.Client}
}

func (r *RedisContainer) FlushAll(ctx context.Context) error {
	return r.Client.FlushAll(ctx).Err()
}

// abort terminates a half-started container before failing the test.
func abort(t *testing.T, c testcontainers.Container, step string, err error) {
	t.Helper()
	_ = c.Terminate(context.Background())
	t.Fatalf("%s: %v", step, err)
}
