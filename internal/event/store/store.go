// Package store defines the event store contract shared by the in-memory and
// Postgres implementations.
//
// Locking contract: every method is individually atomic. ReserveIssuance and
// RecordClaim are the only multi-row mutations; both are serialized per event
// so the cap check and the counter move together. Callers serialize a single
// (event, identity) pair with keylock before reserving.
package store

import (
	"context"
	"errors"
	"time"

	"eventlens/internal/event/models"
)

// ErrCapacityReached is returned by ReserveIssuance when issued plus open
// issuances already equal the cap.
var ErrCapacityReached = errors.New("event capacity reached")

type Store interface {
	Create(ctx context.Context, e *models.Event) error
	Get(ctx context.Context, eventID string) (*models.Event, error)
	List(ctx context.Context) ([]*models.Event, error)
	IncrementIssued(ctx context.Context, eventID string) error

	GetClaim(ctx context.Context, eventID, identity string) (*models.ClaimRecord, error)
	PutClaim(ctx context.Context, rec *models.ClaimRecord) error
	ListClaimsByIdentity(ctx context.Context, identity string) ([]*models.ClaimRecord, error)
	Stats(ctx context.Context) (models.Stats, error)

	// ReserveIssuance inserts the journal row if the pair has neither a claim
	// (sentinel.ErrAlreadyUsed) nor an open issuance (sentinel.ErrConflict) and
	// the event has room (ErrCapacityReached).
	ReserveIssuance(ctx context.Context, iss *models.Issuance) error
	GetIssuance(ctx context.Context, eventID, identity string) (*models.Issuance, error)
	UpdateIssuance(ctx context.Context, iss *models.Issuance) error
	ReleaseIssuance(ctx context.Context, eventID, identity string) error
	// ListUnresolvedIssuances returns open issuances last touched before olderThan.
	ListUnresolvedIssuances(ctx context.Context, olderThan time.Time, limit int) ([]*models.Issuance, error)

	// RecordClaim inserts the claim, increments the issued count and deletes
	// the issuance in one step.
	RecordClaim(ctx context.Context, rec *models.ClaimRecord) error

	// RunInTx runs fn inside one transaction; stores joined through ctx
	// (the audit outbox) commit or roll back with it.
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}
