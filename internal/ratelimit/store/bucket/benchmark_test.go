package bucket

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"eventlens/internal/ratelimit/models"
)

type allower interface {
	AllowN(ctx context.Context, key string, cost, limit int, window time.Duration) (*models.RateLimitResult, error)
}

func benchStores(b *testing.B) map[string]allower {
	mr := miniredis.RunT(b)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	b.Cleanup(func() { _ = client.Close() })
	return map[string]allower{
		"memory":    New(),
		"miniredis": NewRedis(client),
	}
}

// One hot client address hammering verify-attendance.
func BenchmarkAllowHotKey(b *testing.B) {
	for name, store := range benchStores(b) {
		b.Run(name, func(b *testing.B) {
			ctx := context.Background()
			for b.Loop() {
				_, _ = store.AllowN(ctx, "attendance:203.0.113.9", 1, 30, time.Minute)
			}
		})
	}
}

// Many distinct addresses, as behind a venue NAT pool.
func BenchmarkAllowManyClients(b *testing.B) {
	store := New()
	ctx := context.Background()
	var seq atomic.Int64

	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			i := seq.Add(1)
			key := fmt.Sprintf("attendance:10.%d.%d.%d", (i>>16)&0xff, (i>>8)&0xff, i&0xff)
			_, _ = store.AllowN(ctx, key, 1, 30, time.Minute)
		}
	})
}

func BenchmarkSweepIdleClients(b *testing.B) {
	now := time.Now()
	store := New(WithClock(func() time.Time { return now }))
	ctx := context.Background()

	for b.Loop() {
		b.StopTimer()
		for i := range 5000 {
			_, _ = store.AllowN(ctx, fmt.Sprintf("admin_login:%d", i), 1, 10, time.Minute)
		}
		now = now.Add(2 * time.Minute)
		b.StartTimer()
		store.Sweep()
	}
}
