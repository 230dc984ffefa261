package bucket

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"eventlens/internal/ratelimit/models"
)

// slidingWindowScript keeps one sorted set per key, scored by request time in
// milliseconds. Trim, count and insert happen in one script so concurrent
// replicas never over-admit.
//
// Returns {allowed, remaining, oldest_ms}.
var slidingWindowScript = redis.NewScript(`
local key = KEYS[1]
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])
local cost = tonumber(ARGV[4])
local member = ARGV[5]

redis.call("ZREMRANGEBYSCORE", key, "-inf", now - window)
local count = redis.call("ZCARD", key)
local oldest = now
local head = redis.call("ZRANGE", key, 0, 0, "WITHSCORES")
if head[2] then
	oldest = tonumber(head[2])
end

if count + cost <= limit then
	for i = 1, cost do
		redis.call("ZADD", key, now, member .. ":" .. i)
	end
	redis.call("PEXPIRE", key, window)
	return {1, limit - count - cost, oldest}
end
return {0, 0, oldest}
`)

const redisKeyPrefix = "eventlens:"

// RedisBucketStore shares sliding windows across replicas.
type RedisBucketStore struct {
	client redis.UniversalClient
	now    func() time.Time
}

// NewRedis creates a Redis-backed bucket store.
func NewRedis(client redis.UniversalClient, opts ...RedisOption) *RedisBucketStore {
	s := &RedisBucketStore{client: client, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

type RedisOption func(*RedisBucketStore)

// WithRedisClock overrides time.Now for the timestamps written to Redis.
func WithRedisClock(now func() time.Time) RedisOption {
	return func(s *RedisBucketStore) {
		if now != nil {
			s.now = now
		}
	}
}

func (s *RedisBucketStore) Allow(ctx context.Context, key string, limit int, window time.Duration) (*models.RateLimitResult, error) {
	return s.AllowN(ctx, key, 1, limit, window)
}

func (s *RedisBucketStore) AllowN(ctx context.Context, key string, cost int, limit int, window time.Duration) (*models.RateLimitResult, error) {
	now := s.now()
	nowMs := now.UnixMilli()
	windowMs := window.Milliseconds()

	raw, err := slidingWindowScript.Run(ctx, s.client, []string{redisKeyPrefix + key},
		nowMs, windowMs, limit, cost, uuid.NewString()).Int64Slice()
	if err != nil {
		return nil, fmt.Errorf("rate limit script for %s: %w", key, err)
	}
	if len(raw) != 3 {
		return nil, fmt.Errorf("rate limit script for %s: unexpected reply length %d", key, len(raw))
	}

	resetAt := time.UnixMilli(raw[2] + windowMs)
	result := &models.RateLimitResult{
		Allowed:   raw[0] == 1,
		Limit:     limit,
		Remaining: int(raw[1]),
		ResetAt:   resetAt,
	}
	if !result.Allowed {
		result.RetryAfter = retryAfterSeconds(resetAt.Sub(now))
	}
	return result, nil
}

func (s *RedisBucketStore) Reset(ctx context.Context, key string) error {
	return s.client.Del(ctx, redisKeyPrefix+key).Err()
}

// GetCurrentCount returns the stored entries. Aged-out entries are trimmed on
// the next Allow, so the count can briefly overstate the live window.
func (s *RedisBucketStore) GetCurrentCount(ctx context.Context, key string) (int, error) {
	n, err := s.client.ZCount(ctx, redisKeyPrefix+key, "-inf", "+inf").Result()
	if err != nil {
		return 0, fmt.Errorf("count %s: %w", key, err)
	}
	return int(n), nil
}
