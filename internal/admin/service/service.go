package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/crypto/bcrypt"

	"eventlens/internal/admin/models"
	eventmodels "eventlens/internal/event/models"
	"eventlens/internal/platform/config"
	dErrors "eventlens/pkg/domain-errors"
	"eventlens/pkg/platform/audit"
	"eventlens/pkg/requestcontext"
)

// IssuanceLister reads open issuances.
type IssuanceLister interface {
	ListUnresolvedIssuances(ctx context.Context, olderThan time.Time, limit int) ([]*eventmodels.Issuance, error)
}

// SessionIssuer signs admin sessions.
type SessionIssuer interface {
	GenerateSessionToken(subject string) (string, time.Time, error)
}

type SecurityPublisher interface {
	Emit(ctx context.Context, event audit.SecurityEvent)
}

const defaultSubject = "admin"

type Service struct {
	passwordHash []byte
	wallets      map[string]struct{}
	sessions     SessionIssuer
	issuances    IssuanceLister
	security     SecurityPublisher
	logger       *slog.Logger
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

func WithSecurityPublisher(p SecurityPublisher) Option {
	return func(s *Service) {
		s.security = p
	}
}

// WithWallets sets the wallets the UI treats as admins.
func WithWallets(wallets []string) Option {
	return func(s *Service) {
		for _, w := range wallets {
			s.wallets[w] = struct{}{}
		}
	}
}

// New builds the admin service. An empty password hash disables login.
func New(cfg config.AdminConfig, sessions SessionIssuer, issuances IssuanceLister, opts ...Option) (*Service, error) {
	if sessions == nil {
		return nil, fmt.Errorf("session issuer is required")
	}
	if issuances == nil {
		return nil, fmt.Errorf("issuance lister is required")
	}
	if cfg.PasswordHash != "" {
		if _, err := bcrypt.Cost([]byte(cfg.PasswordHash)); err != nil {
			return nil, fmt.Errorf("admin password hash: %w", err)
		}
	}
	s := &Service{
		passwordHash: []byte(cfg.PasswordHash),
		wallets:      make(map[string]struct{}),
		sessions:     sessions,
		issuances:    issuances,
		logger:       slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Login checks the shared admin password and issues a session.
func (s *Service) Login(ctx context.Context, req *models.LoginRequest) (*models.LoginResponse, error) {
	if len(s.passwordHash) == 0 {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "admin login is disabled")
	}

	if err := bcrypt.CompareHashAndPassword(s.passwordHash, []byte(req.Password)); err != nil {
		if !errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
			s.logger.ErrorContext(ctx, "admin password check failed", "error", err)
		}
		s.loginFailed(ctx, req.Wallet, "invalid_password")
		return nil, dErrors.New(dErrors.CodeUnauthorized, "invalid admin password")
	}

	subject := defaultSubject
	if req.Wallet != "" {
		if len(s.wallets) > 0 && !s.IsAdmin(req.Wallet) {
			s.loginFailed(ctx, req.Wallet, "wallet_not_admin")
			return nil, dErrors.New(dErrors.CodeForbidden, "wallet is not an admin")
		}
		subject = req.Wallet
	}

	token, exp, err := s.sessions.GenerateSessionToken(subject)
	if err != nil {
		return nil, err
	}
	s.logger.InfoContext(ctx, "admin session issued", "subject", subject, "request_id", requestcontext.RequestID(ctx))
	return &models.LoginResponse{Success: true, AdminToken: token, ExpiresAt: exp}, nil
}

func (s *Service) loginFailed(ctx context.Context, wallet, reason string) {
	ip := requestcontext.ClientIP(ctx)
	subject := wallet
	if subject == "" {
		subject = ip
	}
	s.logger.WarnContext(ctx, string(audit.EventAdminLoginFailed), "reason", reason, "ip", ip, "log_type", "audit")
	if s.security == nil {
		return
	}
	s.security.Emit(ctx, audit.SecurityEvent{
		Subject:   subject,
		Action:    audit.EventAdminLoginFailed,
		Reason:    reason,
		IP:        ip,
		Device:    requestcontext.Device(ctx),
		RequestID: requestcontext.RequestID(ctx),
		Severity:  audit.SeverityWarning,
	})
}

// IsAdmin reports whether wallet is on the configured admin list.
func (s *Service) IsAdmin(wallet string) bool {
	_, ok := s.wallets[wallet]
	return ok
}

// Unresolved lists open issuances regardless of age, oldest first.
func (s *Service) Unresolved(ctx context.Context, limit int) ([]*eventmodels.Issuance, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	list, err := s.issuances.ListUnresolvedIssuances(ctx, requestcontext.Now(ctx).Add(time.Second), limit)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "list unresolved issuances")
	}
	return list, nil
}
