package models

import (
	"strings"
	"time"

	"eventlens/internal/ledger"
	dErrors "eventlens/pkg/domain-errors"
)

// LoginRequest is the body of POST /admin/login. Wallet is optional and
// becomes the session subject.
type LoginRequest struct {
	Password string `json:"password"`
	Wallet   string `json:"wallet,omitempty"`
}

func (r *LoginRequest) Normalize() {
	r.Wallet = strings.TrimSpace(r.Wallet)
}

func (r *LoginRequest) Validate() error {
	if r.Password == "" {
		return dErrors.New(dErrors.CodeMalformedInput, "password is required")
	}
	if len(r.Password) > 72 {
		return dErrors.New(dErrors.CodeMalformedInput, "password is too long")
	}
	if r.Wallet != "" && !ledger.ValidAddress(r.Wallet) {
		return dErrors.New(dErrors.CodeMalformedInput, "wallet is not a valid address")
	}
	return nil
}

type LoginResponse struct {
	Success    bool      `json:"success"`
	AdminToken string    `json:"admin_token"`
	ExpiresAt  time.Time `json:"expires_at"`
}

type IsAdminResponse struct {
	IsAdmin bool `json:"is_admin"`
}

// UnresolvedIssuance is one open issuance as shown to operators.
type UnresolvedIssuance struct {
	EventID        string    `json:"event_id"`
	Identity       string    `json:"wallet_address"`
	State          string    `json:"state"`
	TransferTxID   string    `json:"transfer_tx_id,omitempty"`
	FreezeAttempts int       `json:"freeze_attempts"`
	LastError      string    `json:"last_error,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

type UnresolvedResponse struct {
	Issuances []UnresolvedIssuance `json:"issuances"`
	Total     int                  `json:"total"`
}
