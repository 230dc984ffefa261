// Package verifytoken issues and validates the short-lived signed tokens that
// carry an eligible verification into the claim step.
package verifytoken

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"eventlens/internal/attestation/models"
	"eventlens/internal/platform/config"
	dErrors "eventlens/pkg/domain-errors"
)

// Claims bind a token to one (event, identity, fingerprint).
type Claims struct {
	EventID     string `json:"event_id"`
	Identity    string `json:"identity"`
	Fingerprint string `json:"fingerprint"`
	Score       int    `json:"score"`
	DisplayName string `json:"display_name,omitempty"`
	jwt.RegisteredClaims
}

// Service signs with HS256. There is no revocation list: single use is
// enforced by the claim record.
type Service struct {
	signingKey []byte
	issuer     string
	audience   string
	ttl        time.Duration
	now        func() time.Time
}

type Option func(*Service)

// WithClock overrides time.Now for issuing and validating.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func New(cfg config.TokenConfig, opts ...Option) *Service {
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	s := &Service{
		signingKey: []byte(cfg.Secret),
		issuer:     cfg.Issuer,
		audience:   cfg.Audience,
		ttl:        ttl,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Issue signs a token for an eligible attempt.
func (s *Service) Issue(a models.VerificationAttempt) (string, time.Time, error) {
	if !a.Eligible {
		return "", time.Time{}, dErrors.New(dErrors.CodeInvariantViolation, "token requested for an ineligible attempt")
	}
	if a.EventID == "" || a.Identity == "" || a.Fingerprint == "" {
		return "", time.Time{}, dErrors.New(dErrors.CodeInvariantViolation, "token binding incomplete")
	}

	now := s.now()
	exp := now.Add(s.ttl)
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		EventID:     a.EventID,
		Identity:    a.Identity,
		Fingerprint: a.Fingerprint,
		Score:       a.Composite,
		DisplayName: a.DisplayName,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(exp),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    s.issuer,
			Audience:  []string{s.audience},
			Subject:   a.Identity,
			ID:        uuid.NewString(),
		},
	})
	signed, err := tok.SignedString(s.signingKey)
	if err != nil {
		return "", time.Time{}, dErrors.Wrap(err, dErrors.CodeInternal, "sign verification token")
	}
	return signed, exp, nil
}

// Validate checks signature, expiry and the (event, identity, fingerprint)
// binding, in that order.
func (s *Service) Validate(token, eventID, identity, fingerprint string) (*Claims, error) {
	parsed, err := jwt.ParseWithClaims(token, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		return s.signingKey, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(s.issuer),
		jwt.WithAudience(s.audience),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, dErrors.New(dErrors.CodeTokenExpired, "verification token has expired")
		}
		return nil, dErrors.New(dErrors.CodeTokenInvalid, "invalid verification token")
	}

	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid || claims.ID == "" {
		return nil, dErrors.New(dErrors.CodeTokenInvalid, "invalid verification token claims")
	}

	if claims.EventID != eventID || claims.Identity != identity || claims.Fingerprint != fingerprint {
		return nil, dErrors.New(dErrors.CodeTokenMismatch, "verification token does not match this claim")
	}
	return claims, nil
}
