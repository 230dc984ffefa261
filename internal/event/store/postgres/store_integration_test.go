//go:build integration

package postgres_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"eventlens/internal/attestation/geofence"
	"eventlens/internal/event/models"
	"eventlens/internal/event/store"
	eventpg "eventlens/internal/event/store/postgres"
	platformpg "eventlens/internal/platform/postgres"
	"eventlens/pkg/platform/sentinel"
	"eventlens/pkg/testutil/containers"
)

type PostgresStoreSuite struct {
	suite.Suite
	postgres *containers.PostgresContainer
	store    *eventpg.PostgresStore
	asset    atomic.Uint64
}

func TestPostgresStoreSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(PostgresStoreSuite))
}

func (s *PostgresStoreSuite) SetupSuite() {
	s.postgres = containers.GetManager().GetPostgres(s.T())
	s.Require().NoError(platformpg.Migrate(s.postgres.DB))
	s.store = eventpg.NewPostgres(s.postgres.DB)
}

func (s *PostgresStoreSuite) SetupTest() {
	s.Require().NoError(s.postgres.TruncateTables(context.Background(), "outbox", "issuances", "claims", "events"))
}

func (s *PostgresStoreSuite) newEvent(capacity int) *models.Event {
	from := time.Now().Add(-time.Hour).UTC().Truncate(time.Microsecond)
	e := &models.Event{
		ID:          models.NewEventID(),
		Name:        "Gophercon",
		Location:    "Berlin",
		Venue:       &geofence.Coordinate{Lat: 52.52, Lon: 13.405},
		VenueImages: []string{"aGVsbG8="},
		AssetID:     s.asset.Add(1) + 1000,
		IssuanceCap: capacity,
		ActiveFrom:  &from,
		CreatedAt:   time.Now().UTC().Truncate(time.Microsecond),
	}
	s.Require().NoError(s.store.Create(context.Background(), e))
	return e
}

func newIssuance(eventID, identity string) *models.Issuance {
	now := time.Now().UTC()
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
		IssuedAt:     time.Now().UTC(),
	}
}

func (s *PostgresStoreSuite) TestRoundTrip() {
	ctx := context.Background()
	e := s.newEvent(3)

	got, err := s.store.Get(ctx, e.ID)
	s.Require().NoError(err)
	s.Equal(e.Name, got.Name)
	s.Equal(e.AssetID, got.AssetID)
	s.Equal(*e.Venue, *got.Venue)
	s.Equal(e.VenueImages, got.VenueImages)
	s.Require().NotNil(got.ActiveFrom)
	s.True(e.ActiveFrom.Equal(*got.ActiveFrom))
	s.Nil(got.ActiveUntil)

	_, err = s.store.Get(ctx, "missing")
	s.ErrorIs(err, sentinel.ErrNotFound)
}

// TestConcurrentReservations verifies the cap holds when many identities race.
func (s *PostgresStoreSuite) TestConcurrentReservations() {
	ctx := context.Background()
	e := s.newEvent(5)
	const goroutines = 40

	var wg sync.WaitGroup
	var reserved, full atomic.Int32
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := s.store.ReserveIssuance(ctx, newIssuance(e.ID, uuid.NewString()))
			switch {
			case err == nil:
				reserved.Add(1)
			case errors.Is(err, store.ErrCapacityReached):
				full.Add(1)
			}
		}()
	}
	wg.Wait()

	s.Equal(int32(5), reserved.Load())
	s.Equal(int32(goroutines-5), full.Load())
}

// TestConcurrentSameIdentity verifies one reservation per pair.
func (s *PostgresStoreSuite) TestConcurrentSameIdentity() {
	ctx := context.Background()
	e := s.newEvent(5)

	var wg sync.WaitGroup
	var reserved atomic.Int32
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := s.store.ReserveIssuance(ctx, newIssuance(e.ID, "alice")); err == nil {
				reserved.Add(1)
			}
		}()
	}
	wg.Wait()
	s.Equal(int32(1), reserved.Load())
}

func (s *PostgresStoreSuite) TestRecordClaim() {
	ctx := context.Background()
	e := s.newEvent(1)
	iss := newIssuance(e.ID, "alice")
	s.Require().NoError(s.store.ReserveIssuance(ctx, iss))

	iss.State = models.IssuanceFrozen
	iss.TransferTxID = "TX1"
	iss.FreezeTxID = "TX2"
	s.Require().NoError(s.store.UpdateIssuance(ctx, iss))

	s.Require().NoError(s.store.RecordClaim(ctx, newClaim(e.ID, "alice")))

	got, err := s.store.Get(ctx, e.ID)
	s.Require().NoError(err)
	s.Equal(1, got.IssuedCount)

	_, err = s.store.GetIssuance(ctx, e.ID, "alice")
	s.ErrorIs(err, sentinel.ErrNotFound)

	s.ErrorIs(s.store.ReserveIssuance(ctx, newIssuance(e.ID, "alice")), sentinel.ErrAlreadyUsed)
	s.ErrorIs(s.store.ReserveIssuance(ctx, newIssuance(e.ID, "bob")), store.ErrCapacityReached)
	s.ErrorIs(s.store.RecordClaim(ctx, newClaim(e.ID, "alice")), sentinel.ErrConflict)
}

func (s *PostgresStoreSuite) TestRunInTxRollsBack() {
	ctx := context.Background()
	e := s.newEvent(2)

	boom := errors.New("boom")
	err := s.store.RunInTx(ctx, func(ctx context.Context) error {
		if err := s.store.RecordClaim(ctx, newClaim(e.ID, "alice")); err != nil {
			return err
		}
		return boom
	})
	s.ErrorIs(err, boom)

	_, err = s.store.GetClaim(ctx, e.ID, "alice")
	s.ErrorIs(err, sentinel.ErrNotFound)
	got, err := s.store.Get(ctx, e.ID)
	s.Require().NoError(err)
	s.Equal(0, got.IssuedCount)
}

func (s *PostgresStoreSuite) TestStats() {
	ctx := context.Background()
	e1 := s.newEvent(2)
	e2 := s.newEvent(3)
	s.Require().NoError(s.store.RecordClaim(ctx, newClaim(e1.ID, "alice")))
	s.Require().NoError(s.store.RecordClaim(ctx, newClaim(e2.ID, "alice")))

	st, err := s.store.Stats(ctx)
	s.Require().NoError(err)
	s.Equal(models.Stats{TotalEvents: 2, TotalBadgesMinted: 2, TotalBadgesAvailable: 5, UniqueAttendees: 1}, st)

	claims, err := s.store.ListClaimsByIdentity(ctx, "alice")
	s.Require().NoError(err)
	s.Len(claims, 2)
}
