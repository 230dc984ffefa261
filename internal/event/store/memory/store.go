// Package memory is the in-process event store used in dev mode and tests.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"eventlens/internal/event/models"
	"eventlens/internal/event/store"
	"eventlens/pkg/platform/sentinel"
)

type pairKey struct {
	eventID  string
	identity string
}

// InMemory guards all maps with one mutex; ReserveIssuance and RecordClaim
// hold it across their check and write.
type InMemory struct {
	mu        sync.RWMutex
	events    map[string]*models.Event
	claims    map[pairKey]*models.ClaimRecord
	issuances map[pairKey]*models.Issuance
}

var _ store.Store = (*InMemory)(nil)

func NewInMemory() *InMemory {
	return &InMemory{
		events:    make(map[string]*models.Event),
		claims:    make(map[pairKey]*models.ClaimRecord),
		issuances: make(map[pairKey]*models.Issuance),
	}
}

func (s *InMemory) Create(_ context.Context, e *models.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.events[e.ID]; ok {
		return sentinel.ErrConflict
	}
	for _, existing := range s.events {
		if existing.AssetID == e.AssetID {
			return sentinel.ErrConflict
		}
	}
	s.events[e.ID] = e.Clone()
	return nil
}

func (s *InMemory) Get(_ context.Context, eventID string) (*models.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.events[eventID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return e.Clone(), nil
}

// List returns events newest first.
func (s *InMemory) List(_ context.Context) ([]*models.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*models.Event, 0, len(s.events))
	for _, e := range s.events {
		out = append(out, e.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

func (s *InMemory) IncrementIssued(_ context.Context, eventID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.incrementLocked(eventID)
}

func (s *InMemory) incrementLocked(eventID string) error {
	e, ok := s.events[eventID]
	if !ok {
		return sentinel.ErrNotFound
	}
	if e.IssuedCount >= e.IssuanceCap {
		return sentinel.ErrInvalidState
	}
	e.IssuedCount++
	return nil
}

func (s *InMemory) GetClaim(_ context.Context, eventID, identity string) (*models.ClaimRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.claims[pairKey{eventID, identity}]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	c := *rec
	return &c, nil
}

func (s *InMemory) PutClaim(_ context.Context, rec *models.ClaimRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.putClaimLocked(rec)
}

func (s *InMemory) putClaimLocked(rec *models.ClaimRecord) error {
	k := pairKey{rec.EventID, rec.Identity}
	if _, ok := s.claims[k]; ok {
		return sentinel.ErrConflict
	}
	c := *rec
	s.claims[k] = &c
	return nil
}

func (s *InMemory) ListClaimsByIdentity(_ context.Context, identity string) ([]*models.ClaimRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []*models.ClaimRecord{}
	for k, rec := range s.claims {
		if k.identity == identity {
			c := *rec
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].IssuedAt.After(out[j].IssuedAt) })
	return out, nil
}

func (s *InMemory) Stats(_ context.Context) (models.Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st := models.Stats{TotalEvents: len(s.events)}
	for _, e := range s.events {
		st.TotalBadgesMinted += e.IssuedCount
		st.TotalBadgesAvailable += e.IssuanceCap
	}
	attendees := make(map[string]struct{})
	for k := range s.claims {
		attendees[k.identity] = struct{}{}
	}
	st.UniqueAttendees = len(attendees)
	return st, nil
}

func (s *InMemory) ReserveIssuance(_ context.Context, iss *models.Issuance) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.events[iss.EventID]
	if !ok {
		return sentinel.ErrNotFound
	}
	k := pairKey{iss.EventID, iss.Identity}
	if _, ok := s.claims[k]; ok {
		return sentinel.ErrAlreadyUsed
	}
	if _, ok := s.issuances[k]; ok {
		return sentinel.ErrConflict
	}
	open := 0
	for ik := range s.issuances {
		if ik.eventID == iss.EventID {
			open++
		}
	}
	if e.IssuedCount+open >= e.IssuanceCap {
		return store.ErrCapacityReached
	}
	c := *iss
	s.issuances[k] = &c
	return nil
}

func (s *InMemory) GetIssuance(_ context.Context, eventID, identity string) (*models.Issuance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	iss, ok := s.issuances[pairKey{eventID, identity}]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	c := *iss
	return &c, nil
}

func (s *InMemory) UpdateIssuance(_ context.Context, iss *models.Issuance) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := pairKey{iss.EventID, iss.Identity}
	if _, ok := s.issuances[k]; !ok {
		return sentinel.ErrNotFound
	}
	c := *iss
	s.issuances[k] = &c
	return nil
}

func (s *InMemory) ReleaseIssuance(_ context.Context, eventID, identity string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := pairKey{eventID, identity}
	if _, ok := s.issuances[k]; !ok {
		return sentinel.ErrNotFound
	}
	delete(s.issuances, k)
	return nil
}

func (s *InMemory) ListUnresolvedIssuances(_ context.Context, olderThan time.Time, limit int) ([]*models.Issuance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []*models.Issuance{}
	for _, iss := range s.issuances {
		if iss.UpdatedAt.Before(olderThan) {
			c := *iss
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.Before(out[j].UpdatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *InMemory) RecordClaim(ctx context.Context, rec *models.ClaimRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := pairKey{rec.EventID, rec.Identity}
	if _, ok := s.claims[k]; ok {
		return sentinel.ErrConflict
	}
	if err := s.incrementLocked(rec.EventID); err != nil {
		return err
	}
	if err := s.putClaimLocked(rec); err != nil {
		s.events[rec.EventID].IssuedCount--
		return err
	}
	prior, hadIssuance := s.issuances[k]
	delete(s.issuances, k)
	onRollback(ctx, func() {
		delete(s.claims, k)
		if e, ok := s.events[rec.EventID]; ok {
			e.IssuedCount--
		}
		if hadIssuance {
			s.issuances[k] = prior
		}
	})
	return nil
}

type txKey struct{}

// memTx collects undo steps for writes made inside RunInTx. Only RecordClaim
// registers one; the other writes are single-row and run outside transactions.
type memTx struct {
	undo []func()
}

func onRollback(ctx context.Context, fn func()) {
	if tx, ok := ctx.Value(txKey{}).(*memTx); ok {
		tx.undo = append(tx.undo, fn)
	}
}

// RunInTx undoes RecordClaim calls made by fn when fn fails. Nested calls
// join the outer transaction.
func (s *InMemory) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if _, ok := ctx.Value(txKey{}).(*memTx); ok {
		return fn(ctx)
	}
	tx := &memTx{}
	err := fn(context.WithValue(ctx, txKey{}, tx))
	if err == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(tx.undo) - 1; i >= 0; i-- {
		tx.undo[i]()
	}
	return err
}
