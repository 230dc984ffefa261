// Package models holds the attestation value types shared by the scorer,
// the token service and the transport.
package models

import (
	"time"

	"eventlens/internal/attestation/extractor"
	"eventlens/internal/attestation/geofence"
	"eventlens/internal/attestation/scoring"
)

// VerificationAttempt is the ephemeral record of one verify call.
type VerificationAttempt struct {
	EventID          string
	Identity         string
	DisplayName      string
	Fingerprint      string
	VisionConfidence int
	VisionReason     string
	Venue            scoring.VenueVerdict
	Geo              geofence.Evaluation
	Composite        int
	Eligible         bool
	Adjustments      []scoring.Adjustment
	Metadata         extractor.Metadata
	Rationale        string
	AttemptedAt      time.Time
}

// VerifyInput is what the transport hands the service.
type VerifyInput struct {
	EventID     string
	Identity    string
	DisplayName string
	Image       []byte
	Claimed     *geofence.Coordinate
}

// VerifyResult is returned to the client.
type VerifyResult struct {
	Attempt   VerificationAttempt
	Token     string
	ExpiresAt time.Time
}

// VerifyResponse is the wire shape of POST /verify-attendance.
type VerifyResponse struct {
	Success     bool                `json:"success"`
	Confidence  int                 `json:"confidence"`
	Message     string              `json:"message"`
	Eligible    bool                `json:"eligible"`
	VerifyToken string              `json:"verify_token"`
	ExpiresAt   *time.Time          `json:"expires_at,omitempty"`
	ImageHash   string              `json:"image_hash"`
	GeoCheck    geofence.Evaluation `json:"geo_check"`
	Flags       []string            `json:"flags"`
}

// NewVerifyResponse renders a result for the client.
func NewVerifyResponse(r *VerifyResult) VerifyResponse {
	a := r.Attempt
	resp := VerifyResponse{
		Success:     true,
		Confidence:  a.Composite,
		Message:     a.Rationale,
		Eligible:    a.Eligible,
		VerifyToken: r.Token,
		ImageHash:   a.Fingerprint,
		GeoCheck:    a.Geo,
		Flags:       a.Metadata.Flags,
	}
	if resp.Flags == nil {
		resp.Flags = []string{}
	}
	if r.Token != "" {
		exp := r.ExpiresAt
		resp.ExpiresAt = &exp
	}
	return resp
}
