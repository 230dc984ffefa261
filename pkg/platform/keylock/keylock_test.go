package keylock

import (
	"bytes"
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dErrors "eventlens/pkg/domain-errors"
)

func exerciseMutualExclusion(t *testing.T, l Locker) {
	t.Helper()
	var (
		wg      sync.WaitGroup
		inside  atomic.Int32
		maxSeen atomic.Int32
	)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock, err := l.Lock(context.Background(), "event:alice")
			if !assert.NoError(t, err) {
				return
			}
			n := inside.Add(1)
			if n > maxSeen.Load() {
				maxSeen.Store(n)
			}
			time.Sleep(2 * time.Millisecond)
			inside.Add(-1)
			unlock()
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), maxSeen.Load())
}

func TestMemory(t *testing.T) {
	t.Run("serializes one key", func(t *testing.T) {
		exerciseMutualExclusion(t, NewMemory())
	})

	t.Run("different keys do not contend", func(t *testing.T) {
		l := NewMemory()
		unlockA, err := l.Lock(context.Background(), "a")
		require.NoError(t, err)
		defer unlockA()

		ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
		defer cancel()
		unlockB, err := l.Lock(ctx, "b")
		require.NoError(t, err)
		unlockB()
	})

	t.Run("waiter gives up when ctx expires", func(t *testing.T) {
		l := NewMemory()
		unlock, err := l.Lock(context.Background(), "a")
		require.NoError(t, err)

		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancel()
		_, err = l.Lock(ctx, "a")
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeTimeout))

		unlock()
		assert.Equal(t, 0, l.Len())
	})

	t.Run("unlock is idempotent", func(t *testing.T) {
		l := NewMemory()
		unlock, err := l.Lock(context.Background(), "a")
		require.NoError(t, err)
		unlock()
		unlock()

		again, err := l.Lock(context.Background(), "a")
		require.NoError(t, err)
		again()
		assert.Equal(t, 0, l.Len())
	})
}

func newRedisLocker(t *testing.T) (*Redis, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedis(client, WithTTL(time.Minute), WithRetryWait(time.Millisecond)), mr
}

func TestRedis(t *testing.T) {
	t.Run("serializes one key", func(t *testing.T) {
		l, _ := newRedisLocker(t)
		exerciseMutualExclusion(t, l)
	})

	t.Run("waiter gives up when ctx expires", func(t *testing.T) {
		l, _ := newRedisLocker(t)
		unlock, err := l.Lock(context.Background(), "a")
		require.NoError(t, err)
		defer unlock()

		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancel()
		_, err = l.Lock(ctx, "a")
		assert.True(t, dErrors.HasCode(err, dErrors.CodeTimeout))
	})

	t.Run("release does not delete a lock taken over after expiry", func(t *testing.T) {
		l, mr := newRedisLocker(t)
		unlock, err := l.Lock(context.Background(), "a")
		require.NoError(t, err)

		mr.FastForward(2 * time.Minute)
		unlock2, err := l.Lock(context.Background(), "a")
		require.NoError(t, err)

		unlock()
		assert.True(t, mr.Exists(redisKeyPrefix+"a"))
		unlock2()
		assert.False(t, mr.Exists(redisKeyPrefix+"a"))
	})
}

func TestRedisReleaseProblemsAreLogged(t *testing.T) {
	newLogged := func(t *testing.T) (*Redis, *miniredis.Miniredis, *bytes.Buffer) {
		l, mr := newRedisLocker(t)
		var buf bytes.Buffer
		WithLogger(slog.New(slog.NewTextHandler(&buf, nil)))(l)
		return l, mr, &buf
	}

	t.Run("clean release is silent", func(t *testing.T) {
		l, _, buf := newLogged(t)
		unlock, err := l.Lock(context.Background(), "event:alice")
		require.NoError(t, err)
		unlock()
		assert.Empty(t, buf.String())
	})

	t.Run("expired lock is reported", func(t *testing.T) {
		l, mr, buf := newLogged(t)
		unlock, err := l.Lock(context.Background(), "event:alice")
		require.NoError(t, err)
		mr.FastForward(2 * time.Minute)
		unlock()
		assert.Contains(t, buf.String(), "lock expired before release")
		assert.Contains(t, buf.String(), "key=event:alice")
	})

	t.Run("unreachable redis is reported", func(t *testing.T) {
		l, mr, buf := newLogged(t)
		unlock, err := l.Lock(context.Background(), "event:alice")
		require.NoError(t, err)
		mr.Close()
		unlock()
		assert.Contains(t, buf.String(), "lock release failed")
		assert.Contains(t, buf.String(), "level=WARN")
	})
}
