package memory

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"eventlens/internal/event/models"
	"eventlens/internal/event/store"
	"eventlens/pkg/platform/sentinel"
)

type EventStoreSuite struct {
	suite.Suite
	store *InMemory
	ctx   context.Context
}

func TestEventStoreSuite(t *testing.T) {
	suite.Run(t, new(EventStoreSuite))
}

func (s *EventStoreSuite) SetupTest() {
	s.store = NewInMemory()
	s.ctx = context.Background()
}

var nextAsset atomic.Uint64

func (s *EventStoreSuite) newEvent(capacity int) *models.Event {
	e := &models.Event{
		ID:          models.NewEventID(),
		Name:        "Gophercon",
		Location:    "Berlin",
		AssetID:     nextAsset.Add(1),
		IssuanceCap: capacity,
		CreatedAt:   time.Now(),
	}
	s.Require().NoError(s.store.Create(s.ctx, e))
	return e
}

func newIssuance(eventID, identity string) *models.Issuance {
	now := time.Now()
	return &models.Issuance{
		EventID:        eventID,
		Identity:       identity,
		Fingerprint:    "abc",
		Score:          90,
		IdempotencyKey: uuid.New(),
		State:          models.IssuanceNotYetClaimed,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

func newClaim(eventID, identity string) *models.ClaimRecord {
	return &models.ClaimRecord{
		EventID:      eventID,
		Identity:     identity,
		Fingerprint:  "abc",
		Score:        90,
		TransferTxID: "TX1",
		FreezeTxID:   "TX2",
		IssuedAt:     time.Now(),
	}
}

func (s *EventStoreSuite) TestCreateAndGet() {
	s.Run("returns a copy", func() {
		e := s.newEvent(5)
		got, err := s.store.Get(s.ctx, e.ID)
		s.Require().NoError(err)
		got.Name = "mutated"

		again, err := s.store.Get(s.ctx, e.ID)
		s.Require().NoError(err)
		s.Equal("Gophercon", again.Name)
	})

	s.Run("unknown event", func() {
		_, err := s.store.Get(s.ctx, "missing")
		s.ErrorIs(err, sentinel.ErrNotFound)
	})

	s.Run("duplicate asset id", func() {
		e := s.newEvent(5)
		dup := e.Clone()
		dup.ID = models.NewEventID()
		s.ErrorIs(s.store.Create(s.ctx, dup), sentinel.ErrConflict)
	})
}

func (s *EventStoreSuite) TestList() {
	older := s.newEvent(1)
	older.CreatedAt = time.Now().Add(-time.Hour)
	s.store.events[older.ID].CreatedAt = older.CreatedAt
	newer := s.newEvent(1)

	events, err := s.store.List(s.ctx)
	s.Require().NoError(err)
	s.Require().Len(events, 2)
	s.Equal(newer.ID, events[0].ID)
	s.Equal(older.ID, events[1].ID)
}

func (s *EventStoreSuite) TestIncrementIssued() {
	e := s.newEvent(1)
	s.Require().NoError(s.store.IncrementIssued(s.ctx, e.ID))
	s.ErrorIs(s.store.IncrementIssued(s.ctx, e.ID), sentinel.ErrInvalidState)
	s.ErrorIs(s.store.IncrementIssued(s.ctx, "missing"), sentinel.ErrNotFound)
}

func (s *EventStoreSuite) TestReserveIssuance() {
	s.Run("rejects a second reservation for the same pair", func() {
		e := s.newEvent(5)
		s.Require().NoError(s.store.ReserveIssuance(s.ctx, newIssuance(e.ID, "alice")))
		s.ErrorIs(s.store.ReserveIssuance(s.ctx, newIssuance(e.ID, "alice")), sentinel.ErrConflict)
	})

	s.Run("rejects an identity that already claimed", func() {
		e := s.newEvent(5)
		s.Require().NoError(s.store.PutClaim(s.ctx, newClaim(e.ID, "alice")))
		s.ErrorIs(s.store.ReserveIssuance(s.ctx, newIssuance(e.ID, "alice")), sentinel.ErrAlreadyUsed)
	})

	s.Run("open issuances count against the cap", func() {
		e := s.newEvent(1)
		s.Require().NoError(s.store.ReserveIssuance(s.ctx, newIssuance(e.ID, "alice")))
		s.ErrorIs(s.store.ReserveIssuance(s.ctx, newIssuance(e.ID, "bob")), store.ErrCapacityReached)

		s.Require().NoError(s.store.ReleaseIssuance(s.ctx, e.ID, "alice"))
		s.NoError(s.store.ReserveIssuance(s.ctx, newIssuance(e.ID, "bob")))
	})

	s.Run("unknown event", func() {
		s.ErrorIs(s.store.ReserveIssuance(s.ctx, newIssuance("missing", "alice")), sentinel.ErrNotFound)
	})

	s.Run("concurrent reservations never exceed the cap", func() {
		e := s.newEvent(3)
		var wg sync.WaitGroup
		var ok atomic.Int32
		for i := 0; i < 20; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if err := s.store.ReserveIssuance(s.ctx, newIssuance(e.ID, uuid.NewString())); err == nil {
					ok.Add(1)
				}
			}()
		}
		wg.Wait()
		s.Equal(int32(3), ok.Load())
	})
}

func (s *EventStoreSuite) TestUpdateIssuance() {
	e := s.newEvent(2)
	iss := newIssuance(e.ID, "alice")
	s.Require().NoError(s.store.ReserveIssuance(s.ctx, iss))

	iss.State = models.IssuanceAssetTransferred
	iss.TransferTxID = "TX1"
	s.Require().NoError(s.store.UpdateIssuance(s.ctx, iss))

	got, err := s.store.GetIssuance(s.ctx, e.ID, "alice")
	s.Require().NoError(err)
	s.Equal(models.IssuanceAssetTransferred, got.State)
	s.Equal("TX1", got.TransferTxID)

	s.ErrorIs(s.store.UpdateIssuance(s.ctx, newIssuance(e.ID, "bob")), sentinel.ErrNotFound)
}

func (s *EventStoreSuite) TestRecordClaim() {
	e := s.newEvent(2)
	s.Require().NoError(s.store.ReserveIssuance(s.ctx, newIssuance(e.ID, "alice")))

	s.Require().NoError(s.store.RecordClaim(s.ctx, newClaim(e.ID, "alice")))

	got, err := s.store.Get(s.ctx, e.ID)
	s.Require().NoError(err)
	s.Equal(1, got.IssuedCount)

	_, err = s.store.GetIssuance(s.ctx, e.ID, "alice")
	s.ErrorIs(err, sentinel.ErrNotFound)

	claim, err := s.store.GetClaim(s.ctx, e.ID, "alice")
	s.Require().NoError(err)
	s.Equal("TX1", claim.TransferTxID)

	s.Run("second record is a conflict and leaves the count alone", func() {
		s.ErrorIs(s.store.RecordClaim(s.ctx, newClaim(e.ID, "alice")), sentinel.ErrConflict)
		got, err := s.store.Get(s.ctx, e.ID)
		s.Require().NoError(err)
		s.Equal(1, got.IssuedCount)
	})
}

func (s *EventStoreSuite) TestListUnresolvedIssuances() {
	e := s.newEvent(5)
	stale := newIssuance(e.ID, "alice")
	stale.UpdatedAt = time.Now().Add(-time.Hour)
	fresh := newIssuance(e.ID, "bob")
	s.Require().NoError(s.store.ReserveIssuance(s.ctx, stale))
	s.Require().NoError(s.store.ReserveIssuance(s.ctx, fresh))

	got, err := s.store.ListUnresolvedIssuances(s.ctx, time.Now().Add(-time.Minute), 10)
	s.Require().NoError(err)
	s.Require().Len(got, 1)
	s.Equal("alice", got[0].Identity)
}

func (s *EventStoreSuite) TestStatsAndProfile() {
	e1 := s.newEvent(2)
	e2 := s.newEvent(3)
	s.Require().NoError(s.store.RecordClaim(s.ctx, newClaim(e1.ID, "alice")))
	s.Require().NoError(s.store.RecordClaim(s.ctx, newClaim(e2.ID, "alice")))
	s.Require().NoError(s.store.RecordClaim(s.ctx, newClaim(e2.ID, "bob")))

	st, err := s.store.Stats(s.ctx)
	s.Require().NoError(err)
	s.Equal(models.Stats{TotalEvents: 2, TotalBadgesMinted: 3, TotalBadgesAvailable: 5, UniqueAttendees: 2}, st)

	claims, err := s.store.ListClaimsByIdentity(s.ctx, "alice")
	s.Require().NoError(err)
	s.Len(claims, 2)

	none, err := s.store.ListClaimsByIdentity(s.ctx, "carol")
	s.Require().NoError(err)
	s.Empty(none)
}

func (s *EventStoreSuite) TestRunInTxRollsBackRecordClaim() {
	e := s.newEvent(2)
	iss := newIssuance(e.ID, "alice")
	iss.State = models.IssuanceFrozen
	s.Require().NoError(s.store.ReserveIssuance(s.ctx, iss))

	s.Run("failure after the claim undoes it", func() {
		boom := errors.New("audit down")
		err := s.store.RunInTx(s.ctx, func(ctx context.Context) error {
			s.Require().NoError(s.store.RecordClaim(ctx, newClaim(e.ID, "alice")))
			return boom
		})
		s.ErrorIs(err, boom)

		_, err = s.store.GetClaim(s.ctx, e.ID, "alice")
		s.ErrorIs(err, sentinel.ErrNotFound)
		got, err := s.store.Get(s.ctx, e.ID)
		s.Require().NoError(err)
		s.Equal(0, got.IssuedCount)
		left, err := s.store.GetIssuance(s.ctx, e.ID, "alice")
		s.Require().NoError(err)
		s.Equal(models.IssuanceFrozen, left.State)
	})

	s.Run("success keeps the claim", func() {
		err := s.store.RunInTx(s.ctx, func(ctx context.Context) error {
			return s.store.RunInTx(ctx, func(ctx context.Context) error {
				return s.store.RecordClaim(ctx, newClaim(e.ID, "alice"))
			})
		})
		s.Require().NoError(err)

		_, err = s.store.GetClaim(s.ctx, e.ID, "alice")
		s.NoError(err)
		_, err = s.store.GetIssuance(s.ctx, e.ID, "alice")
		s.ErrorIs(err, sentinel.ErrNotFound)
	})
}
