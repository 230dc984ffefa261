// Package models holds the claim request, the run state machine and the
// outcome returned to the transport.
package models

import (
	"encoding/hex"
	"strings"

	"eventlens/internal/ledger"
	dErrors "eventlens/pkg/domain-errors"
)

// ClaimRequest is the body of POST /mint-badge.
type ClaimRequest struct {
	EventID     string `json:"event_id"`
	Identity    string `json:"wallet_address"`
	VerifyToken string `json:"verify_token"`
	Fingerprint string `json:"image_hash"`
}

func (r *ClaimRequest) Normalize() {
	r.EventID = strings.TrimSpace(r.EventID)
	r.Identity = strings.TrimSpace(r.Identity)
	r.VerifyToken = strings.TrimSpace(r.VerifyToken)
	r.Fingerprint = strings.ToLower(strings.TrimSpace(r.Fingerprint))
}

func (r *ClaimRequest) Validate() error {
	if r.EventID == "" {
		return dErrors.New(dErrors.CodeMalformedInput, "event_id is required")
	}
	if !ledger.ValidAddress(r.Identity) {
		return dErrors.New(dErrors.CodeMalformedInput, "invalid wallet address")
	}
	if r.VerifyToken == "" {
		return dErrors.New(dErrors.CodeMalformedInput, "verify_token is required")
	}
	if b, err := hex.DecodeString(r.Fingerprint); err != nil || len(b) != 32 {
		return dErrors.New(dErrors.CodeMalformedInput, "image_hash must be a hex SHA-256 digest")
	}
	return nil
}

// Outcome is the result of a claim run that did not fail outright.
//   - Recorded: the claim is durable; AlreadyClaimed marks an idempotent replay.
//   - Pending: an issuance is open for the pair and will be finished by the
//     reconciler; TransferTxID is set once the transfer landed.
type Outcome struct {
	State          State
	EventID        string
	Identity       string
	AssetID        uint64
	TransferTxID   string
	ProofTxID      string
	Recorded       bool
	AlreadyClaimed bool
	Pending        bool
}

// MintResponse is the wire shape of POST /mint-badge.
type MintResponse struct {
	Success       bool   `json:"success"`
	TxID          string `json:"tx_id"`
	AssetID       uint64 `json:"asset_id"`
	Message       string `json:"message"`
	ExplorerURL   string `json:"explorer_url,omitempty"`
	Recorded      bool   `json:"recorded"`
	ProofRecorded bool   `json:"proof_recorded"`
	ProofTxID     string `json:"proof_tx_id,omitempty"`
}

// NewMintResponse renders an outcome. explorerBase is prefixed to the tx id.
func NewMintResponse(o *Outcome, explorerBase string) MintResponse {
	resp := MintResponse{
		Success:       o.Recorded,
		TxID:          o.TransferTxID,
		AssetID:       o.AssetID,
		Recorded:      o.Recorded,
		ProofRecorded: o.ProofTxID != "",
		ProofTxID:     o.ProofTxID,
	}
	switch {
	case o.AlreadyClaimed:
		resp.Message = "badge already claimed"
	case o.Pending:
		resp.Message = "issuance pending"
	default:
		resp.Message = "badge issued"
	}
	if o.TransferTxID != "" && explorerBase != "" {
		resp.ExplorerURL = explorerBase + o.TransferTxID
	}
	return resp
}
