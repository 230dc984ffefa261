package keylock

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	dErrors "eventlens/pkg/domain-errors"
)

// releaseScript deletes the lock only if this holder still owns it.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

const (
	defaultRedisTTL  = 5 * time.Minute
	defaultRetryWait = 25 * time.Millisecond
	redisKeyPrefix   = "eventlens:lock:"
)

// Redis is a Locker shared across replicas. The TTL bounds how long a crashed
// holder blocks the key; it must exceed the longest critical section.
type Redis struct {
	client    redis.UniversalClient
	ttl       time.Duration
	retryWait time.Duration
	logger    *slog.Logger
}

var _ Locker = (*Redis)(nil)

type RedisOption func(*Redis)

func WithTTL(ttl time.Duration) RedisOption {
	return func(r *Redis) {
		if ttl > 0 {
			r.ttl = ttl
		}
	}
}

func WithRetryWait(d time.Duration) RedisOption {
	return func(r *Redis) {
		if d > 0 {
			r.retryWait = d
		}
	}
}

func WithLogger(logger *slog.Logger) RedisOption {
	return func(r *Redis) {
		if logger != nil {
			r.logger = logger
		}
	}
}

func NewRedis(client redis.UniversalClient, opts ...RedisOption) *Redis {
	r := &Redis{client: client, ttl: defaultRedisTTL, retryWait: defaultRetryWait, logger: slog.Default()}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Redis) Lock(ctx context.Context, key string) (func(), error) {
	redisKey := redisKeyPrefix + key
	token := uuid.NewString()

	ticker := time.NewTicker(r.retryWait)
	defer ticker.Stop()
	for {
		ok, err := r.client.SetNX(ctx, redisKey, token, r.ttl).Result()
		if err != nil {
			if ctx.Err() != nil {
				return nil, dErrors.Wrap(ctx.Err(), dErrors.CodeTimeout, "lock aborted: context cancelled")
			}
			return nil, fmt.Errorf("acquire lock %s: %w", key, err)
		}
		if ok {
			break
		}
		select {
		case <-ctx.Done():
			return nil, dErrors.Wrap(ctx.Err(), dErrors.CodeTimeout, "lock aborted: context cancelled")
		case <-ticker.C:
		}
	}

	return func() {
		// Release must run even when the caller's ctx is already cancelled.
		releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
		defer cancel()
		deleted, err := releaseScript.Run(releaseCtx, r.client, []string{redisKey}, token).Int()
		switch {
		case err != nil:
			r.logger.WarnContext(releaseCtx, "lock release failed, key stays blocked until ttl",
				"key", key, "ttl", r.ttl, "error", err)
		case deleted == 0:
			r.logger.WarnContext(releaseCtx, "lock expired before release", "key", key, "ttl", r.ttl)
		}
	}, nil
}
