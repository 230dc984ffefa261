// Package sentinel holds the errors stores and outbound clients return for
// infrastructure facts. Services translate them into domain-errors codes;
// handlers never see them directly.
package sentinel

import "errors"

var (
	// ErrNotFound: no event, claim or issuance row for the key.
	ErrNotFound = errors.New("not found")
	// ErrConflict: a row with the same unique key exists, or an issuance for
	// the pair is still open.
	ErrConflict = errors.New("conflict")
	// ErrAlreadyUsed: the pair already has a recorded claim.
	ErrAlreadyUsed = errors.New("already used")
	// ErrInvalidState: the row cannot take the requested transition, such as
	// incrementing a sold-out event.
	ErrInvalidState = errors.New("invalid state")
	// ErrUnavailable: vision, ledger or the shared limiter store did not answer.
	ErrUnavailable = errors.New("unavailable")
)
