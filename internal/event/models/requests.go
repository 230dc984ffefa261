package models

import (
	"encoding/base64"
	"strings"
	"time"

	"eventlens/internal/attestation/geofence"
	dErrors "eventlens/pkg/domain-errors"
)

const (
	MaxIssuanceCap    = 10000
	MaxVenueImages    = 3
	maxNameLength     = 200
	maxTextLength     = 2000
	maxVenueImageSize = 10 << 20
)

// CreateEventRequest is the admin payload for POST /events.
type CreateEventRequest struct {
	Name        string     `json:"name"`
	Description string     `json:"description"`
	Location    string     `json:"location"`
	TotalBadges int        `json:"total_badges"`
	Latitude    *float64   `json:"latitude,omitempty"`
	Longitude   *float64   `json:"longitude,omitempty"`
	DateStart   string     `json:"date_start,omitempty"`
	DateEnd     string     `json:"date_end,omitempty"`
	ActiveFrom  *time.Time `json:"active_from,omitempty"`
	ActiveUntil *time.Time `json:"active_until,omitempty"`
	VenuePhotos []string   `json:"venue_photos,omitempty"`
}

func (r *CreateEventRequest) Normalize() {
	if r == nil {
		return
	}
	r.Name = strings.TrimSpace(r.Name)
	r.Description = strings.TrimSpace(r.Description)
	r.Location = strings.TrimSpace(r.Location)
	r.DateStart = strings.TrimSpace(r.DateStart)
	r.DateEnd = strings.TrimSpace(r.DateEnd)
	if r.TotalBadges == 0 {
		r.TotalBadges = 100
	}
}

// Follows validation order: Size -> Required -> Syntax -> Semantic.
func (r *CreateEventRequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeBadRequest, "request is required")
	}

	if len(r.Name) > maxNameLength {
		return dErrors.New(dErrors.CodeValidation, "name must be 200 characters or less")
	}
	if len(r.Description) > maxTextLength || len(r.Location) > maxTextLength {
		return dErrors.New(dErrors.CodeValidation, "description and location must be 2000 characters or less")
	}
	if len(r.VenuePhotos) > MaxVenueImages {
		return dErrors.New(dErrors.CodeValidation, "at most 3 venue photos are allowed")
	}

	if r.Name == "" {
		return dErrors.New(dErrors.CodeValidation, "name is required")
	}
	if r.TotalBadges < 1 || r.TotalBadges > MaxIssuanceCap {
		return dErrors.New(dErrors.CodeValidation, "total_badges must be between 1 and 10000")
	}

	if (r.Latitude == nil) != (r.Longitude == nil) {
		return dErrors.New(dErrors.CodeValidation, "latitude and longitude must be given together")
	}
	if venue := r.Venue(); venue != nil {
		if err := venue.Validate(); err != nil {
			return err
		}
	}
	for _, photo := range r.VenuePhotos {
		raw, err := base64.StdEncoding.DecodeString(photo)
		if err != nil || len(raw) == 0 {
			return dErrors.New(dErrors.CodeValidation, "venue photos must be base64 encoded images")
		}
		if len(raw) > maxVenueImageSize {
			return dErrors.New(dErrors.CodePayloadTooLarge, "venue photo exceeds 10 MB")
		}
	}

	if r.ActiveFrom != nil && r.ActiveUntil != nil && !r.ActiveUntil.After(*r.ActiveFrom) {
		return dErrors.New(dErrors.CodeValidation, "active_until must be after active_from")
	}
	return nil
}

// Venue returns the venue coordinate, or nil when none was given.
func (r *CreateEventRequest) Venue() *geofence.Coordinate {
	if r.Latitude == nil || r.Longitude == nil {
		return nil
	}
	return &geofence.Coordinate{Lat: *r.Latitude, Lon: *r.Longitude}
}

// EventResponse is the public view of an event.
type EventResponse struct {
	*Event
	Remaining        int `json:"remaining"`
	VenuePhotosCount int `json:"venue_photos_count"`
}

func NewEventResponse(e *Event) EventResponse {
	return EventResponse{Event: e, Remaining: e.Remaining(), VenuePhotosCount: len(e.VenueImages)}
}

// Badge is one badge held by a wallet, joined with its event and claim proof.
type Badge struct {
	AssetID      uint64     `json:"asset_id"`
	EventName    string     `json:"event_name"`
	EventID      string     `json:"event_id"`
	Amount       uint64     `json:"amount"`
	Frozen       bool       `json:"frozen"`
	ClaimedAt    *time.Time `json:"claimed_at,omitempty"`
	ImageHash    string     `json:"image_hash,omitempty"`
	AIConfidence int        `json:"ai_confidence"`
	TxID         string     `json:"tx_id,omitempty"`
}
