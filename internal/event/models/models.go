package models

import (
	"time"

	"github.com/google/uuid"

	"eventlens/internal/attestation/geofence"
	dErrors "eventlens/pkg/domain-errors"
)

// Event is created by an admin and never deleted. IssuedCount only moves
// through a recorded claim.
type Event struct {
	ID          string               `json:"id"`
	Name        string               `json:"name"`
	Description string               `json:"description"`
	Location    string               `json:"location"`
	DateStart   string               `json:"date_start,omitempty"`
	DateEnd     string               `json:"date_end,omitempty"`
	Venue       *geofence.Coordinate `json:"venue,omitempty"`
	VenueImages []string             `json:"-"`
	AssetID     uint64               `json:"asset_id"`
	IssuanceCap int                  `json:"total_badges"`
	IssuedCount int                  `json:"minted"`
	ActiveFrom  *time.Time           `json:"active_from,omitempty"`
	ActiveUntil *time.Time           `json:"active_until,omitempty"`
	CreatedBy   string               `json:"-"`
	CreatedAt   time.Time            `json:"created_at"`
}

// NewEventID returns an 8-character id taken from a random UUID.
func NewEventID() string {
	return uuid.NewString()[:8]
}

// Remaining is the number of badges not yet issued.
func (e *Event) Remaining() int {
	if r := e.IssuanceCap - e.IssuedCount; r > 0 {
		return r
	}
	return 0
}

// IsActive reports whether now falls inside the optional active window.
func (e *Event) IsActive(now time.Time) bool {
	if e.ActiveFrom != nil && now.Before(*e.ActiveFrom) {
		return false
	}
	if e.ActiveUntil != nil && now.After(*e.ActiveUntil) {
		return false
	}
	return true
}

// CheckClaimable is the pre-reservation gate: window, then cap.
func (e *Event) CheckClaimable(now time.Time) error {
	if !e.IsActive(now) {
		return dErrors.New(dErrors.CodeEventInactive, "event is not accepting claims")
	}
	if e.Remaining() == 0 {
		return dErrors.New(dErrors.CodeCapacityExhausted, "all badges have been claimed")
	}
	return nil
}

// Clone returns a deep copy.
func (e *Event) Clone() *Event {
	c := *e
	if e.Venue != nil {
		v := *e.Venue
		c.Venue = &v
	}
	if e.ActiveFrom != nil {
		t := *e.ActiveFrom
		c.ActiveFrom = &t
	}
	if e.ActiveUntil != nil {
		t := *e.ActiveUntil
		c.ActiveUntil = &t
	}
	c.VenueImages = append([]string(nil), e.VenueImages...)
	return &c
}

// ClaimRecord is the immutable fact that one identity received one badge.
type ClaimRecord struct {
	EventID      string    `json:"event_id"`
	Identity     string    `json:"identity"`
	Fingerprint  string    `json:"image_hash"`
	Score        int       `json:"ai_confidence"`
	TransferTxID string    `json:"tx_id"`
	FreezeTxID   string    `json:"freeze_tx_id"`
	ProofTxID    string    `json:"proof_tx_id,omitempty"`
	DisplayName  string    `json:"display_name,omitempty"`
	IssuedAt     time.Time `json:"claimed_at"`
}

// IssuanceState is the durable progress of an in-flight claim.
type IssuanceState string

const (
	IssuanceNotYetClaimed    IssuanceState = "NotYetClaimed"
	IssuanceAssetTransferred IssuanceState = "AssetTransferred"
	IssuanceFrozen           IssuanceState = "Frozen"
	IssuancePartiallyIssued  IssuanceState = "PartiallyIssued"
)

// Issuance journals a claim between reservation and record. At most one per
// (event, identity); it counts against the cap while it exists.
type Issuance struct {
	EventID        string        `json:"event_id"`
	Identity       string        `json:"identity"`
	Fingerprint    string        `json:"fingerprint"`
	Score          int           `json:"score"`
	DisplayName    string        `json:"display_name,omitempty"`
	IdempotencyKey uuid.UUID     `json:"idempotency_key"`
	State          IssuanceState `json:"state"`
	TransferTxID   string        `json:"transfer_tx_id,omitempty"`
	FreezeTxID     string        `json:"freeze_tx_id,omitempty"`
	FreezeAttempts int           `json:"freeze_attempts"`
	LastError      string        `json:"last_error,omitempty"`
	CreatedAt      time.Time     `json:"created_at"`
	UpdatedAt      time.Time     `json:"updated_at"`
}

// TransferKey and FreezeKey derive per-step ledger idempotency keys.
func (i *Issuance) TransferKey() string { return i.IdempotencyKey.String() + ":transfer" }
func (i *Issuance) FreezeKey() string   { return i.IdempotencyKey.String() + ":freeze" }

// Stats is the platform dashboard summary.
type Stats struct {
	TotalEvents          int `json:"total_events"`
	TotalBadgesMinted    int `json:"total_badges_minted"`
	TotalBadgesAvailable int `json:"total_badges_available"`
	UniqueAttendees      int `json:"unique_attendees"`
}
