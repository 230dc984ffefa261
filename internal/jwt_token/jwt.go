// Package jwttoken issues the HS256 session tokens returned by /admin/login
// and checks them for the admin routes.
package jwttoken

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	dErrors "eventlens/pkg/domain-errors"
	adminmw "eventlens/pkg/platform/middleware/admin"
)

const (
	roleAdmin  = "admin"
	defaultTTL = 24 * time.Hour
)

type Claims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

type JWTService struct {
	key      []byte
	issuer   string
	audience string
	ttl      time.Duration
	now      func() time.Time
	parser   *jwt.Parser
}

type Option func(*JWTService)

func WithClock(now func() time.Time) Option {
	return func(s *JWTService) {
		if now != nil {
			s.now = now
		}
	}
}

func NewJWTService(signingKey, issuer, audience string, ttl time.Duration, opts ...Option) *JWTService {
	s := &JWTService{
		key:      []byte(signingKey),
		issuer:   issuer,
		audience: audience,
		ttl:      ttl,
		now:      time.Now,
	}
	if s.ttl <= 0 {
		s.ttl = defaultTTL
	}
	for _, opt := range opts {
		opt(s)
	}
	s.parser = jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(issuer),
		jwt.WithAudience(audience),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(func() time.Time { return s.now() }),
	)
	return s
}

// GenerateSessionToken signs an admin session for subject (the admin wallet,
// or "admin" for password logins) and returns it with its expiry.
func (s *JWTService) GenerateSessionToken(subject string) (string, time.Time, error) {
	issued := s.now()
	expires := issued.Add(s.ttl)
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		Role: roleAdmin,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   subject,
			Issuer:    s.issuer,
			Audience:  jwt.ClaimStrings{s.audience},
			IssuedAt:  jwt.NewNumericDate(issued),
			ExpiresAt: jwt.NewNumericDate(expires),
		},
	}).SignedString(s.key)
	if err != nil {
		return "", time.Time{}, dErrors.Wrap(err, dErrors.CodeInternal, "sign session token")
	}
	return signed, expires, nil
}

func (s *JWTService) ValidateToken(raw string) (*Claims, error) {
	var claims Claims
	_, err := s.parser.ParseWithClaims(raw, &claims, func(*jwt.Token) (any, error) { return s.key, nil })
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return nil, dErrors.New(dErrors.CodeUnauthorized, "token has expired")
	case err != nil:
		return nil, dErrors.New(dErrors.CodeUnauthorized, "invalid token")
	case claims.Role != roleAdmin:
		return nil, dErrors.New(dErrors.CodeUnauthorized, "invalid token claims")
	}
	return &claims, nil
}

// JWTServiceAdapter narrows ValidateToken to the claims the admin middleware reads.
type JWTServiceAdapter struct {
	service *JWTService
}

func NewJWTServiceAdapter(service *JWTService) *JWTServiceAdapter {
	return &JWTServiceAdapter{service: service}
}

func (a *JWTServiceAdapter) ValidateToken(raw string) (*adminmw.SessionClaims, error) {
	claims, err := a.service.ValidateToken(raw)
	if err != nil {
		return nil, err
	}
	return &adminmw.SessionClaims{Subject: claims.Subject, JTI: claims.ID}, nil
}
