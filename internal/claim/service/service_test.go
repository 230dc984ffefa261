package service

//go:generate mockgen -source=service.go -destination=../mocks/mocks.go -package=mocks Store,Ledger,TokenValidator,AuditPublisher,SecurityPublisher

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	"eventlens/internal/claim/mocks"
	"eventlens/internal/claim/models"
	eventmodels "eventlens/internal/event/models"
	"eventlens/internal/event/store/memory"
	"eventlens/internal/ledger"
	"eventlens/internal/platform/config"
	"eventlens/internal/verifytoken"
	dErrors "eventlens/pkg/domain-errors"
	audit "eventlens/pkg/platform/audit"
	"eventlens/pkg/platform/audit/publishers/compliance"
	auditmemory "eventlens/pkg/platform/audit/store/memory"
	"eventlens/pkg/platform/keylock"
	"eventlens/pkg/platform/sentinel"
)

const (
	walletA     = "ZKLYCEWKDO64V6WCGGZZUI64JWTYN37YCR6E44VZQB3YLL7OJC53HXOGMM"
	walletB     = "HYR6QFQAHFMUUM4JJ5SWJYNRGSF326QARDKCYSWLOPXK5VM4ACO7NUA6YM"
	fingerprint = "9f86d081884c7d659a2feaa0c55ad015a3bf4f1b2b0b822cd15d6c15b0f00a08"
	assetID     = uint64(1001)
)

type ClaimSuite struct {
	suite.Suite
	ctrl     *gomock.Controller
	ledger   *mocks.MockLedger
	tokens   *mocks.MockTokenValidator
	security *mocks.MockSecurityPublisher
	store    *memory.InMemory
	audits   *auditmemory.InMemoryStore
	service  *Service
	ctx      context.Context
}

func TestClaimSuite(t *testing.T) {
	suite.Run(t, new(ClaimSuite))
}

func (s *ClaimSuite) SetupTest() {
	s.ctrl = gomock.NewController(s.T())
	s.ledger = mocks.NewMockLedger(s.ctrl)
	s.tokens = mocks.NewMockTokenValidator(s.ctrl)
	s.security = mocks.NewMockSecurityPublisher(s.ctrl)
	s.store = memory.NewInMemory()
	s.audits = auditmemory.NewInMemoryStore()
	s.ctx = context.Background()

	var err error
	s.service, err = New(s.store, s.ledger, s.tokens, keylock.NewMemory(),
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		WithAuditPublisher(compliance.New(s.audits)),
		WithSecurityPublisher(s.security),
		WithConfig(config.ClaimConfig{RunTimeout: 5 * time.Second, FreezeRetries: 2, FreezeBackoff: time.Millisecond}),
	)
	s.Require().NoError(err)
	s.createEvent("evt00001", assetID, 10)
}

func (s *ClaimSuite) createEvent(id string, asset uint64, cap int) {
	s.Require().NoError(s.store.Create(s.ctx, &eventmodels.Event{
		ID:          id,
		Name:        "Gophercon",
		AssetID:     asset,
		IssuanceCap: cap,
		CreatedAt:   time.Now(),
	}))
}

func (s *ClaimSuite) request(eventID, wallet string) *models.ClaimRequest {
	return &models.ClaimRequest{EventID: eventID, Identity: wallet, VerifyToken: "token", Fingerprint: fingerprint}
}

func (s *ClaimSuite) validToken() {
	s.tokens.EXPECT().Validate("token", gomock.Any(), gomock.Any(), fingerprint).
		Return(&verifytoken.Claims{Fingerprint: fingerprint, Score: 91, DisplayName: "Ada"}, nil).AnyTimes()
}

// expectIssue expects one full ledger issuance to wallet.
func (s *ClaimSuite) expectIssue(wallet, txID string) {
	s.ledger.EXPECT().IsOptedIn(gomock.Any(), wallet, assetID).Return(true, nil)
	s.ledger.EXPECT().Transfer(gomock.Any(), assetID, wallet, gomock.Any()).Return(txID, nil)
	s.ledger.EXPECT().WaitForConfirmation(gomock.Any(), txID).Return(nil)
	s.ledger.EXPECT().Freeze(gomock.Any(), assetID, wallet, gomock.Any()).Return("FZ-"+txID, nil)
	s.ledger.EXPECT().WaitForConfirmation(gomock.Any(), "FZ-"+txID).Return(nil)
}

func (s *ClaimSuite) actions(action audit.AuditEvent) []audit.Event {
	events, err := s.audits.ListByAction(s.ctx, action)
	s.Require().NoError(err)
	return events
}

func (s *ClaimSuite) TestNewRequiresPorts() {
	_, err := New(nil, s.ledger, s.tokens, keylock.NewMemory())
	s.Error(err)
	_, err = New(s.store, nil, s.tokens, keylock.NewMemory())
	s.Error(err)
	_, err = New(s.store, s.ledger, nil, keylock.NewMemory())
	s.Error(err)
	_, err = New(s.store, s.ledger, s.tokens, nil)
	s.Error(err)
}

func (s *ClaimSuite) TestIssuesAndRecords() {
	s.validToken()
	s.ledger.EXPECT().IsOptedIn(gomock.Any(), walletA, assetID).Return(true, nil)
	var transferKey string
	s.ledger.EXPECT().Transfer(gomock.Any(), assetID, walletA, gomock.Any()).
		DoAndReturn(func(_ context.Context, _ uint64, _ string, key string) (string, error) {
			transferKey = key
			return "TX1", nil
		})
	s.ledger.EXPECT().WaitForConfirmation(gomock.Any(), "TX1").Return(nil)
	s.ledger.EXPECT().Freeze(gomock.Any(), assetID, walletA, gomock.Any()).
		DoAndReturn(func(_ context.Context, _ uint64, _ string, key string) (string, error) {
			s.True(strings.HasSuffix(key, ":freeze"))
			s.Equal(strings.TrimSuffix(transferKey, ":transfer"), strings.TrimSuffix(key, ":freeze"))
			return "FZ1", nil
		})
	s.ledger.EXPECT().WaitForConfirmation(gomock.Any(), "FZ1").Return(nil)

	out, err := s.service.Claim(s.ctx, s.request("evt00001", walletA))
	s.Require().NoError(err)
	s.Equal(models.StateRecorded, out.State)
	s.True(out.Recorded)
	s.False(out.AlreadyClaimed)
	s.Equal("TX1", out.TransferTxID)
	s.Equal(assetID, out.AssetID)

	rec, err := s.store.GetClaim(s.ctx, "evt00001", walletA)
	s.Require().NoError(err)
	s.Equal("FZ1", rec.FreezeTxID)
	s.Equal(91, rec.Score)
	s.Equal("Ada", rec.DisplayName)

	event, err := s.store.Get(s.ctx, "evt00001")
	s.Require().NoError(err)
	s.Equal(1, event.IssuedCount)

	_, err = s.store.GetIssuance(s.ctx, "evt00001", walletA)
	s.ErrorIs(err, sentinel.ErrNotFound)

	recorded := s.actions(audit.EventClaimRecorded)
	s.Require().Len(recorded, 1)
	s.Equal("TX1", recorded[0].TxID)
	s.Equal(audit.CategoryCompliance, recorded[0].Category)
}

func (s *ClaimSuite) TestReplayIsIdempotent() {
	s.validToken()
	s.expectIssue(walletA, "TX1")

	first, err := s.service.Claim(s.ctx, s.request("evt00001", walletA))
	s.Require().NoError(err)

	second, err := s.service.Claim(s.ctx, s.request("evt00001", walletA))
	s.Require().NoError(err)
	s.True(second.AlreadyClaimed)
	s.True(second.Recorded)
	s.Equal(first.TransferTxID, second.TransferTxID)
}

func (s *ClaimSuite) TestConcurrentClaimsTransferOnce() {
	s.validToken()
	s.expectIssue(walletA, "TX1")

	const n = 25
	var (
		wg      sync.WaitGroup
		fresh   atomic.Int32
		replays atomic.Int32
		txIDs   sync.Map
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			out, err := s.service.Claim(s.ctx, s.request("evt00001", walletA))
			if !s.NoError(err) {
				return
			}
			txIDs.Store(out.TransferTxID, true)
			if out.AlreadyClaimed {
				replays.Add(1)
			} else {
				fresh.Add(1)
			}
		}()
	}
	wg.Wait()

	s.Equal(int32(1), fresh.Load())
	s.Equal(int32(n-1), replays.Load())
	count := 0
	txIDs.Range(func(k, _ any) bool {
		count++
		s.Equal("TX1", k)
		return true
	})
	s.Equal(1, count)

	event, err := s.store.Get(s.ctx, "evt00001")
	s.Require().NoError(err)
	s.Equal(1, event.IssuedCount)
}

func (s *ClaimSuite) TestCapacityOfOne() {
	s.createEvent("evt00002", 2002, 1)
	s.validToken()
	s.ledger.EXPECT().IsOptedIn(gomock.Any(), walletA, uint64(2002)).Return(true, nil)
	s.ledger.EXPECT().Transfer(gomock.Any(), uint64(2002), walletA, gomock.Any()).Return("TX2", nil)
	s.ledger.EXPECT().WaitForConfirmation(gomock.Any(), gomock.Any()).Return(nil).Times(2)
	s.ledger.EXPECT().Freeze(gomock.Any(), uint64(2002), walletA, gomock.Any()).Return("FZ2", nil)
	s.security.EXPECT().Emit(gomock.Any(), gomock.Any()).
		Do(func(_ context.Context, e audit.SecurityEvent) {
			s.Equal(audit.EventClaimRejected, e.Action)
			s.Equal(walletB, e.Subject)
		})

	_, err := s.service.Claim(s.ctx, s.request("evt00002", walletA))
	s.Require().NoError(err)

	_, err = s.service.Claim(s.ctx, s.request("evt00002", walletB))
	s.True(dErrors.HasCode(err, dErrors.CodeCapacityExhausted), "got %v", err)
}

func (s *ClaimSuite) TestRejectedTokenTouchesNothing() {
	s.tokens.EXPECT().Validate(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).
		Return(nil, dErrors.New(dErrors.CodeTokenMismatch, "token does not match this claim"))
	s.security.EXPECT().Emit(gomock.Any(), gomock.Any()).
		Do(func(_ context.Context, e audit.SecurityEvent) {
			s.Equal(audit.EventTokenRejected, e.Action)
		})

	_, err := s.service.Claim(s.ctx, s.request("evt00001", walletA))
	s.True(dErrors.HasCode(err, dErrors.CodeTokenMismatch))
	_, err = s.store.GetIssuance(s.ctx, "evt00001", walletA)
	s.ErrorIs(err, sentinel.ErrNotFound)
}

func (s *ClaimSuite) TestUnknownEvent() {
	s.validToken()
	_, err := s.service.Claim(s.ctx, s.request("missing1", walletA))
	s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
}

func (s *ClaimSuite) TestNotOptedIn() {
	s.validToken()
	s.ledger.EXPECT().IsOptedIn(gomock.Any(), walletA, assetID).Return(false, nil)
	s.security.EXPECT().Emit(gomock.Any(), gomock.Any())

	_, err := s.service.Claim(s.ctx, s.request("evt00001", walletA))
	s.True(dErrors.HasCode(err, dErrors.CodeNotOptedIn))
	_, err = s.store.GetIssuance(s.ctx, "evt00001", walletA)
	s.ErrorIs(err, sentinel.ErrNotFound)
}

func (s *ClaimSuite) TestDefinitiveTransferFailureReleases() {
	s.validToken()
	s.ledger.EXPECT().IsOptedIn(gomock.Any(), walletA, assetID).Return(true, nil)
	s.ledger.EXPECT().Transfer(gomock.Any(), assetID, walletA, gomock.Any()).
		Return("", dErrors.New(dErrors.CodeMalformedInput, "receiver has not opted in"))
	s.security.EXPECT().Emit(gomock.Any(), gomock.Any())

	_, err := s.service.Claim(s.ctx, s.request("evt00001", walletA))
	s.True(dErrors.HasCode(err, dErrors.CodeMalformedInput))
	_, err = s.store.GetIssuance(s.ctx, "evt00001", walletA)
	s.ErrorIs(err, sentinel.ErrNotFound)
}

func (s *ClaimSuite) TestPoolRejectionReleases() {
	s.validToken()
	s.ledger.EXPECT().IsOptedIn(gomock.Any(), walletA, assetID).Return(true, nil)
	s.ledger.EXPECT().Transfer(gomock.Any(), assetID, walletA, gomock.Any()).Return("TX1", nil)
	s.ledger.EXPECT().WaitForConfirmation(gomock.Any(), "TX1").
		Return(dErrors.Wrap(ledger.ErrTxRejected, dErrors.CodeLedgerUnavailable, "transaction TX1 rejected"))
	s.security.EXPECT().Emit(gomock.Any(), gomock.Any())

	_, err := s.service.Claim(s.ctx, s.request("evt00001", walletA))
	s.True(dErrors.HasCode(err, dErrors.CodeLedgerUnavailable))
	_, err = s.store.GetIssuance(s.ctx, "evt00001", walletA)
	s.ErrorIs(err, sentinel.ErrNotFound)
}

func (s *ClaimSuite) TestAmbiguousTransferResumesWithSameKey() {
	s.validToken()
	reconciler := NewReconciler(s.service, config.ReconcilerConfig{BatchSize: 10})

	var keys []string
	s.ledger.EXPECT().IsOptedIn(gomock.Any(), walletA, assetID).Return(true, nil)
	gomock.InOrder(
		s.ledger.EXPECT().Transfer(gomock.Any(), assetID, walletA, gomock.Any()).
			DoAndReturn(func(_ context.Context, _ uint64, _ string, key string) (string, error) {
				keys = append(keys, key)
				return "", dErrors.New(dErrors.CodeLedgerUnavailable, "gateway timeout")
			}),
		s.ledger.EXPECT().Transfer(gomock.Any(), assetID, walletA, gomock.Any()).
			DoAndReturn(func(_ context.Context, _ uint64, _ string, key string) (string, error) {
				keys = append(keys, key)
				return "TX1", nil
			}),
	)
	s.ledger.EXPECT().WaitForConfirmation(gomock.Any(), "TX1").Return(nil)
	s.ledger.EXPECT().Freeze(gomock.Any(), assetID, walletA, gomock.Any()).Return("FZ1", nil)
	s.ledger.EXPECT().WaitForConfirmation(gomock.Any(), "FZ1").Return(nil)

	_, err := s.service.Claim(s.ctx, s.request("evt00001", walletA))
	s.True(dErrors.HasCode(err, dErrors.CodeLedgerUnavailable))

	iss, err := s.store.GetIssuance(s.ctx, "evt00001", walletA)
	s.Require().NoError(err)
	s.Equal(eventmodels.IssuanceNotYetClaimed, iss.State)
	s.NotEmpty(iss.LastError)

	pending, err := s.service.Claim(s.ctx, s.request("evt00001", walletA))
	s.Require().NoError(err)
	s.True(pending.Pending)

	res, err := reconciler.RunOnce(s.ctx)
	s.Require().NoError(err)
	s.Equal(ReconcileResult{Visited: 1, Resolved: 1}, res)
	s.Require().Len(keys, 2)
	s.Equal(keys[0], keys[1])

	rec, err := s.store.GetClaim(s.ctx, "evt00001", walletA)
	s.Require().NoError(err)
	s.Equal("TX1", rec.TransferTxID)
}

func (s *ClaimSuite) TestFreezeFailureParksThenReconciles() {
	s.validToken()
	reconciler := NewReconciler(s.service, config.ReconcilerConfig{BatchSize: 10})

	s.ledger.EXPECT().IsOptedIn(gomock.Any(), walletA, assetID).Return(true, nil)
	s.ledger.EXPECT().Transfer(gomock.Any(), assetID, walletA, gomock.Any()).Return("TX1", nil)
	s.ledger.EXPECT().WaitForConfirmation(gomock.Any(), "TX1").Return(nil)
	gomock.InOrder(
		s.ledger.EXPECT().Freeze(gomock.Any(), assetID, walletA, gomock.Any()).
			Return("", dErrors.New(dErrors.CodeLedgerUnavailable, "freeze failed")).Times(2),
		s.ledger.EXPECT().Freeze(gomock.Any(), assetID, walletA, gomock.Any()).Return("FZ1", nil),
	)
	s.ledger.EXPECT().WaitForConfirmation(gomock.Any(), "FZ1").Return(nil)

	out, err := s.service.Claim(s.ctx, s.request("evt00001", walletA))
	s.Require().NoError(err)
	s.True(out.Pending)
	s.False(out.Recorded)
	s.Equal(models.StatePartiallyIssued, out.State)
	s.Equal("TX1", out.TransferTxID)

	iss, err := s.store.GetIssuance(s.ctx, "evt00001", walletA)
	s.Require().NoError(err)
	s.Equal(eventmodels.IssuancePartiallyIssued, iss.State)
	s.Equal(2, iss.FreezeAttempts)
	s.Len(s.actions(audit.EventClaimUnresolved), 1)

	again, err := s.service.Claim(s.ctx, s.request("evt00001", walletA))
	s.Require().NoError(err)
	s.True(again.Pending)
	s.Equal("TX1", again.TransferTxID)

	res, err := reconciler.RunOnce(s.ctx)
	s.Require().NoError(err)
	s.Equal(1, res.Resolved)

	rec, err := s.store.GetClaim(s.ctx, "evt00001", walletA)
	s.Require().NoError(err)
	s.Equal("FZ1", rec.FreezeTxID)
	s.Len(s.actions(audit.EventClaimResolved), 1)
	s.Len(s.actions(audit.EventClaimRecorded), 1)
}

func (s *ClaimSuite) TestRunSurvivesCallerCancellation() {
	s.validToken()
	release := make(chan struct{})
	var runCtxErr error

	s.ledger.EXPECT().IsOptedIn(gomock.Any(), walletA, assetID).Return(true, nil)
	s.ledger.EXPECT().Transfer(gomock.Any(), assetID, walletA, gomock.Any()).
		DoAndReturn(func(ctx context.Context, _ uint64, _ string, _ string) (string, error) {
			<-release
			runCtxErr = ctx.Err()
			return "TX1", nil
		})
	s.ledger.EXPECT().WaitForConfirmation(gomock.Any(), gomock.Any()).Return(nil).Times(2)
	s.ledger.EXPECT().Freeze(gomock.Any(), assetID, walletA, gomock.Any()).Return("FZ1", nil)

	ctx, cancel := context.WithCancel(s.ctx)
	resCh := make(chan runResult, 1)
	go func() {
		out, err := s.service.Claim(ctx, s.request("evt00001", walletA))
		resCh <- runResult{out: out, err: err}
	}()

	s.Eventually(func() bool {
		_, err := s.store.GetIssuance(s.ctx, "evt00001", walletA)
		return err == nil
	}, time.Second, 5*time.Millisecond)
	cancel()
	res := <-resCh
	s.Require().NoError(res.err)
	s.True(res.out.Pending, "the claimant sees issuance pending, not a timeout")
	s.Equal(models.StateNotYetClaimed, res.out.State)
	s.Equal(walletA, res.out.Identity)
	s.Equal(assetID, res.out.AssetID)
	s.Empty(res.out.TransferTxID)

	close(release)
	s.service.Wait()
	s.NoError(runCtxErr)
	_, err := s.store.GetClaim(s.ctx, "evt00001", walletA)
	s.NoError(err)
}

func (s *ClaimSuite) TestRecordFailureLeavesIssuanceFrozen() {
	failing := &failingAuditor{err: errors.New("outbox down")}
	svc, err := New(s.store, s.ledger, s.tokens, keylock.NewMemory(),
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		WithAuditPublisher(failing),
	)
	s.Require().NoError(err)
	s.validToken()
	s.expectIssue(walletA, "TX1")

	out, err := svc.Claim(s.ctx, s.request("evt00001", walletA))
	s.Require().NoError(err)
	s.True(out.Pending)
	s.Equal(models.StateFrozen, out.State)

	iss, err := s.store.GetIssuance(s.ctx, "evt00001", walletA)
	s.Require().NoError(err)
	s.Equal(eventmodels.IssuanceFrozen, iss.State)
	_, err = s.store.GetClaim(s.ctx, "evt00001", walletA)
	s.ErrorIs(err, sentinel.ErrNotFound, "the claim rolls back with the failed audit")
	e, err := s.store.Get(s.ctx, "evt00001")
	s.Require().NoError(err)
	s.Equal(0, e.IssuedCount)
}

func (s *ClaimSuite) TestRejectedRecordWritesNoRecordedAudit() {
	svc, err := New(&rejectingStore{InMemory: s.store}, s.ledger, s.tokens, keylock.NewMemory(),
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		WithAuditPublisher(compliance.New(s.audits)),
	)
	s.Require().NoError(err)
	s.validToken()
	s.expectIssue(walletA, "TX1")

	out, err := svc.Claim(s.ctx, s.request("evt00001", walletA))
	s.Require().NoError(err)
	s.True(out.Pending)
	s.Empty(s.actions(audit.EventClaimRecorded))
	s.Empty(s.actions(audit.EventClaimResolved))
}

// rejectingStore fails every RecordClaim.
type rejectingStore struct {
	*memory.InMemory
}

func (r *rejectingStore) RecordClaim(context.Context, *eventmodels.ClaimRecord) error {
	return errors.New("disk full")
}

type failingAuditor struct{ err error }

func (f *failingAuditor) Emit(context.Context, audit.Event) error { return f.err }
