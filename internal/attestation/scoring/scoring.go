// Package scoring combines attestation signals into one eligibility decision.
package scoring

import (
	"fmt"

	"eventlens/internal/attestation/geofence"
	"eventlens/internal/platform/config"
)

// GeoFailMode selects how a failed geo check affects the composite.
type GeoFailMode string

const (
	GeoFailPenalty GeoFailMode = "penalty"
	GeoFailReject  GeoFailMode = "reject"
)

// VenueVerdict is the vision service's comparison against reference images.
// Empty means the comparison did not run.
type VenueVerdict string

const (
	VenueNotChecked VenueVerdict = ""
	VenueMatch      VenueVerdict = "match"
	VenueMismatch   VenueVerdict = "mismatch"
)

// Policy holds every scoring constant. Loaded once at startup.
type Policy struct {
	Threshold            int
	VenueMatchBonus      int
	VenueMismatchPenalty int
	GeoRadiusKM          float64
	GeoFailMode          GeoFailMode
	GeoFailPenalty       int
}

// DefaultPolicy is threshold 80, venue +10/-25, 2 km radius, geo fail -30.
func DefaultPolicy() Policy {
	return Policy{
		Threshold:            80,
		VenueMatchBonus:      10,
		VenueMismatchPenalty: 25,
		GeoRadiusKM:          geofence.DefaultRadiusKM,
		GeoFailMode:          GeoFailPenalty,
		GeoFailPenalty:       30,
	}
}

// PolicyFromConfig maps the config section onto a Policy.
func PolicyFromConfig(cfg config.PolicyConfig) Policy {
	return Policy{
		Threshold:            cfg.Threshold,
		VenueMatchBonus:      cfg.VenueMatchBonus,
		VenueMismatchPenalty: cfg.VenueMismatchPenalty,
		GeoRadiusKM:          cfg.GeoRadiusKM,
		GeoFailMode:          GeoFailMode(cfg.GeoFailMode),
		GeoFailPenalty:       cfg.GeoFailPenalty,
	}
}

// Signals are the inputs the scorer needs. Metadata flags are deliberately
// absent: they are audited, not scored.
type Signals struct {
	VisionConfidence int
	Venue            VenueVerdict
	Geo              geofence.Result
}

// Adjustment records one rule that moved the score.
type Adjustment struct {
	Rule  string `json:"rule"`
	Delta int    `json:"delta"`
}

// Decision is the scorer's output.
type Decision struct {
	Composite   int          `json:"composite"`
	Eligible    bool         `json:"eligible"`
	Adjustments []Adjustment `json:"adjustments"`
}

// Score applies the policy to the signals.
// This is pure domain logic - no I/O, no side effects.
func Score(p Policy, s Signals) Decision {
	score := s.VisionConfidence
	adjustments := []Adjustment{}

	switch s.Venue {
	case VenueMatch:
		score += p.VenueMatchBonus
		adjustments = append(adjustments, Adjustment{Rule: "venue_match", Delta: p.VenueMatchBonus})
	case VenueMismatch:
		score -= p.VenueMismatchPenalty
		adjustments = append(adjustments, Adjustment{Rule: "venue_mismatch", Delta: -p.VenueMismatchPenalty})
	}

	rejected := false
	if s.Geo == geofence.Fail {
		if p.GeoFailMode == GeoFailReject {
			rejected = true
			adjustments = append(adjustments, Adjustment{Rule: "geo_reject", Delta: -score})
		} else {
			score -= p.GeoFailPenalty
			adjustments = append(adjustments, Adjustment{Rule: "geo_penalty", Delta: -p.GeoFailPenalty})
		}
	}

	if rejected {
		score = 0
	}
	score = clamp(score, 0, 100)
	return Decision{
		Composite:   score,
		Eligible:    score >= p.Threshold,
		Adjustments: adjustments,
	}
}

// Rationale renders the adjustments for the client message.
func (d Decision) Rationale(visionReason string) string {
	msg := visionReason
	for _, a := range d.Adjustments {
		msg += fmt.Sprintf(" [%s %+d]", a.Rule, a.Delta)
	}
	return msg
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
