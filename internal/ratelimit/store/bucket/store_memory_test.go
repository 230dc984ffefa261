package bucket

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
)

const (
	attendanceBudget = 30
	loginBudget      = 10
	minute           = time.Minute
)

type InMemoryBucketStoreSuite struct {
	suite.Suite
	store *InMemoryBucketStore
	now   time.Time
	ctx   context.Context
}

func TestInMemoryBucketStoreSuite(t *testing.T) {
	suite.Run(t, new(InMemoryBucketStoreSuite))
}

func (s *InMemoryBucketStoreSuite) SetupTest() {
	s.now = time.Date(2026, 5, 2, 18, 30, 0, 0, time.UTC)
	s.store = New(WithClock(func() time.Time { return s.now }))
	s.ctx = context.Background()
}

// spend charges n single requests and returns how many were admitted.
func (s *InMemoryBucketStoreSuite) spend(key string, limit, n int) int {
	admitted := 0
	for range n {
		res, err := s.store.Allow(s.ctx, key, limit, minute)
		s.Require().NoError(err)
		if res.Allowed {
			admitted++
		}
	}
	return admitted
}

func (s *InMemoryBucketStoreSuite) TestFirstAttemptReportsQuota() {
	res, err := s.store.Allow(s.ctx, "rl:attendance:203.0.113.7", attendanceBudget, minute)
	s.Require().NoError(err)
	s.True(res.Allowed)
	s.Equal(attendanceBudget, res.Limit)
	s.Equal(attendanceBudget-1, res.Remaining)
	s.Equal(s.now.Add(minute), res.ResetAt)
	s.Zero(res.RetryAfter)
}

func (s *InMemoryBucketStoreSuite) TestBudgetExhaustion() {
	key := "rl:admin_login:198.51.100.20"
	s.Equal(loginBudget, s.spend(key, loginBudget, loginBudget+3))

	res, err := s.store.Allow(s.ctx, key, loginBudget, minute)
	s.Require().NoError(err)
	s.False(res.Allowed)
	s.Zero(res.Remaining)
	s.Equal(60, res.RetryAfter)

	s.Run("denials leave the window untouched", func() {
		count, err := s.store.GetCurrentCount(s.ctx, key)
		s.Require().NoError(err)
		s.Equal(loginBudget, count)
	})
}

func (s *InMemoryBucketStoreSuite) TestWindowSlides() {
	key := "rl:attendance:203.0.113.8"
	s.spend(key, loginBudget, 4)
	s.now = s.now.Add(20 * time.Second)
	s.spend(key, loginBudget, 6)

	s.now = s.now.Add(30 * time.Second)
	res, err := s.store.Allow(s.ctx, key, loginBudget, minute)
	s.Require().NoError(err)
	s.False(res.Allowed)
	s.Equal(10, res.RetryAfter, "oldest entry ages out 60s after it landed")

	s.now = s.now.Add(10 * time.Second)
	res, err = s.store.Allow(s.ctx, key, loginBudget, minute)
	s.Require().NoError(err)
	s.True(res.Allowed, "entries at exactly now-window have aged out")
	s.Equal(loginBudget-7, res.Remaining)
}

func (s *InMemoryBucketStoreSuite) TestAllowNChargesCost() {
	key := "rl:attendance:203.0.113.9"
	res, err := s.store.AllowN(s.ctx, key, 25, attendanceBudget, minute)
	s.Require().NoError(err)
	s.True(res.Allowed)
	s.Equal(5, res.Remaining)

	res, err = s.store.AllowN(s.ctx, key, 6, attendanceBudget, minute)
	s.Require().NoError(err)
	s.False(res.Allowed, "a cost that does not fit is refused whole")

	res, err = s.store.AllowN(s.ctx, key, 5, attendanceBudget, minute)
	s.Require().NoError(err)
	s.True(res.Allowed)
	s.Zero(res.Remaining)
}

func (s *InMemoryBucketStoreSuite) TestResetRestoresBudget() {
	key := "rl:admin_login:198.51.100.21"
	s.spend(key, loginBudget, loginBudget)
	s.Require().NoError(s.store.Reset(s.ctx, key))
	s.Equal(1, s.spend(key, loginBudget, 1))
}

func (s *InMemoryBucketStoreSuite) TestSweepDropsIdleClients() {
	s.spend("rl:attendance:idle", attendanceBudget, 1)
	s.now = s.now.Add(30 * time.Second)
	s.spend("rl:attendance:busy", attendanceBudget, 1)

	s.now = s.now.Add(40 * time.Second)
	s.Equal(1, s.store.Sweep())

	count, err := s.store.GetCurrentCount(s.ctx, "rl:attendance:busy")
	s.Require().NoError(err)
	s.Equal(1, count)
}

func (s *InMemoryBucketStoreSuite) TestConcurrentClientsShareOneBudget() {
	var (
		wg       sync.WaitGroup
		admitted atomic.Int32
	)
	for range 4 * attendanceBudget {
		wg.Go(func() {
			res, err := s.store.Allow(s.ctx, "rl:attendance:203.0.113.50", attendanceBudget, minute)
			if err == nil && res.Allowed {
				admitted.Add(1)
			}
		})
	}
	wg.Wait()
	s.Equal(int32(attendanceBudget), admitted.Load())
}
