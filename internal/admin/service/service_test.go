package service

//go:generate mockgen -source=service.go -destination=../mocks/mocks.go -package=mocks IssuanceLister SessionIssuer

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"
	"golang.org/x/crypto/bcrypt"

	"eventlens/internal/admin/mocks"
	"eventlens/internal/admin/models"
	eventmodels "eventlens/internal/event/models"
	"eventlens/internal/platform/config"
	dErrors "eventlens/pkg/domain-errors"
	"eventlens/pkg/platform/audit"
	"eventlens/pkg/requestcontext"
)

const (
	adminWallet = "ZKLYCEWKDO64V6WCGGZZUI64JWTYN37YCR6E44VZQB3YLL7OJC53HXOGMM"
	otherWallet = "HYR6QFQAHFMUUM4JJ5SWJYNRGSF326QARDKCYSWLOPXK5VM4ACO7NUA6YM"
	password    = "correct horse battery staple"
)

type recordingPublisher struct {
	mu     sync.Mutex
	events []audit.SecurityEvent
}

func (p *recordingPublisher) Emit(_ context.Context, e audit.SecurityEvent) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
}

type AdminServiceSuite struct {
	suite.Suite
	hash      string
	ctrl      *gomock.Controller
	sessions  *mocks.MockSessionIssuer
	issuances *mocks.MockIssuanceLister
	security  *recordingPublisher
	service   *Service
	ctx       context.Context
}

func TestAdminServiceSuite(t *testing.T) {
	suite.Run(t, new(AdminServiceSuite))
}

func (s *AdminServiceSuite) SetupSuite() {
	h, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	s.Require().NoError(err)
	s.hash = string(h)
}

func (s *AdminServiceSuite) SetupTest() {
	s.ctrl = gomock.NewController(s.T())
	s.sessions = mocks.NewMockSessionIssuer(s.ctrl)
	s.issuances = mocks.NewMockIssuanceLister(s.ctrl)
	s.security = &recordingPublisher{}

	svc, err := New(config.AdminConfig{PasswordHash: s.hash}, s.sessions, s.issuances,
		WithWallets([]string{adminWallet}),
		WithSecurityPublisher(s.security),
	)
	s.Require().NoError(err)
	s.service = svc
	s.ctx = requestcontext.WithClientMetadata(context.Background(), "203.0.113.9", "curl/8.0")
}

func (s *AdminServiceSuite) TearDownTest() {
	s.ctrl.Finish()
}

func (s *AdminServiceSuite) TestNew() {
	s.Run("rejects a value that is not a bcrypt hash", func() {
		_, err := New(config.AdminConfig{PasswordHash: "plaintext"}, s.sessions, s.issuances)
		s.Error(err)
	})
	s.Run("requires ports", func() {
		_, err := New(config.AdminConfig{}, nil, s.issuances)
		s.Error(err)
		_, err = New(config.AdminConfig{}, s.sessions, nil)
		s.Error(err)
	})
}

func (s *AdminServiceSuite) TestLoginIssuesSession() {
	exp := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)
	s.sessions.EXPECT().GenerateSessionToken(adminWallet).Return("session-token", exp, nil)

	resp, err := s.service.Login(s.ctx, &models.LoginRequest{Password: password, Wallet: adminWallet})
	s.Require().NoError(err)
	s.True(resp.Success)
	s.Equal("session-token", resp.AdminToken)
	s.Equal(exp, resp.ExpiresAt)
	s.Empty(s.security.events)
}

func (s *AdminServiceSuite) TestLoginWithoutWalletUsesDefaultSubject() {
	s.sessions.EXPECT().GenerateSessionToken("admin").Return("t", time.Now(), nil)

	_, err := s.service.Login(s.ctx, &models.LoginRequest{Password: password})
	s.NoError(err)
}

func (s *AdminServiceSuite) TestWrongPasswordIsAudited() {
	_, err := s.service.Login(s.ctx, &models.LoginRequest{Password: "guess"})
	s.True(dErrors.HasCode(err, dErrors.CodeUnauthorized))

	s.Require().Len(s.security.events, 1)
	ev := s.security.events[0]
	s.Equal(audit.EventAdminLoginFailed, ev.Action)
	s.Equal("invalid_password", ev.Reason)
	s.Equal("203.0.113.9", ev.Subject)
	s.Equal("203.0.113.9", ev.IP)
}

func (s *AdminServiceSuite) TestWalletNotOnListIsForbidden() {
	_, err := s.service.Login(s.ctx, &models.LoginRequest{Password: password, Wallet: otherWallet})
	s.True(dErrors.HasCode(err, dErrors.CodeForbidden))
	s.Require().Len(s.security.events, 1)
	s.Equal("wallet_not_admin", s.security.events[0].Reason)
}

func (s *AdminServiceSuite) TestLoginDisabledWithoutHash() {
	svc, err := New(config.AdminConfig{}, s.sessions, s.issuances)
	s.Require().NoError(err)
	_, err = svc.Login(s.ctx, &models.LoginRequest{Password: password})
	s.True(dErrors.HasCode(err, dErrors.CodeUnauthorized))
}

func (s *AdminServiceSuite) TestIsAdmin() {
	s.True(s.service.IsAdmin(adminWallet))
	s.False(s.service.IsAdmin(otherWallet))
	s.False(s.service.IsAdmin(""))
}

func (s *AdminServiceSuite) TestUnresolved() {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	ctx := requestcontext.WithTime(s.ctx, now)

	s.Run("clamps the limit", func() {
		s.issuances.EXPECT().ListUnresolvedIssuances(ctx, now.Add(time.Second), 100).
			Return([]*eventmodels.Issuance{{EventID: "e1", Identity: adminWallet}}, nil)

		list, err := s.service.Unresolved(ctx, 10_000)
		s.Require().NoError(err)
		s.Len(list, 1)
	})

	s.Run("store failure is internal", func() {
		s.issuances.EXPECT().ListUnresolvedIssuances(ctx, gomock.Any(), 20).Return(nil, errors.New("db down"))

		_, err := s.service.Unresolved(ctx, 20)
		s.True(dErrors.HasCode(err, dErrors.CodeInternal))
	})
}
