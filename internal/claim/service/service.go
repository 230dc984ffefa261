// Package service coordinates badge issuance: token validation, the
// per-claimant lock, reservation against the cap, the ledger transfer and
// freeze, and the atomic claim record.
package service

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"eventlens/internal/claim/metrics"
	"eventlens/internal/claim/models"
	eventmodels "eventlens/internal/event/models"
	eventstore "eventlens/internal/event/store"
	"eventlens/internal/ledger"
	"eventlens/internal/platform/config"
	"eventlens/internal/verifytoken"
	dErrors "eventlens/pkg/domain-errors"
	audit "eventlens/pkg/platform/audit"
	"eventlens/pkg/platform/keylock"
	"eventlens/pkg/platform/sentinel"
	"eventlens/pkg/requestcontext"
)

const journalTimeout = 5 * time.Second

var tracer = otel.Tracer("eventlens/claim")

type Store interface {
	Get(ctx context.Context, eventID string) (*eventmodels.Event, error)
	GetClaim(ctx context.Context, eventID, identity string) (*eventmodels.ClaimRecord, error)
	GetIssuance(ctx context.Context, eventID, identity string) (*eventmodels.Issuance, error)
	ReserveIssuance(ctx context.Context, iss *eventmodels.Issuance) error
	UpdateIssuance(ctx context.Context, iss *eventmodels.Issuance) error
	ReleaseIssuance(ctx context.Context, eventID, identity string) error
	ListUnresolvedIssuances(ctx context.Context, olderThan time.Time, limit int) ([]*eventmodels.Issuance, error)
	RecordClaim(ctx context.Context, rec *eventmodels.ClaimRecord) error
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}

type Ledger interface {
	IsOptedIn(ctx context.Context, address string, assetID uint64) (bool, error)
	Transfer(ctx context.Context, assetID uint64, receiver, idempotencyKey string) (string, error)
	Freeze(ctx context.Context, assetID uint64, target, idempotencyKey string) (string, error)
	WaitForConfirmation(ctx context.Context, txID string) error
	RecordProof(ctx context.Context, p ledger.Proof) (string, error)
}

type TokenValidator interface {
	Validate(token, eventID, identity, fingerprint string) (*verifytoken.Claims, error)
}

// AuditPublisher is fail-closed: a claim is not recorded unless its audit
// event is.
type AuditPublisher interface {
	Emit(ctx context.Context, event audit.Event) error
}

type SecurityPublisher interface {
	Emit(ctx context.Context, event audit.SecurityEvent)
}

type Service struct {
	store    Store
	ledger   Ledger
	tokens   TokenValidator
	locker   keylock.Locker
	auditor  AuditPublisher
	security SecurityPublisher
	metrics  *metrics.Metrics
	logger   *slog.Logger

	runTimeout    time.Duration
	freezeRetries int
	freezeBackoff time.Duration
	recordProof   bool

	inflight sync.WaitGroup
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

func WithAuditPublisher(p AuditPublisher) Option {
	return func(s *Service) { s.auditor = p }
}

func WithSecurityPublisher(p SecurityPublisher) Option {
	return func(s *Service) { s.security = p }
}

// WithConfig applies the run timeout and freeze retry settings. Zero values
// keep the defaults.
func WithConfig(cfg config.ClaimConfig) Option {
	return func(s *Service) {
		if cfg.RunTimeout > 0 {
			s.runTimeout = cfg.RunTimeout
		}
		if cfg.FreezeRetries > 0 {
			s.freezeRetries = cfg.FreezeRetries
		}
		if cfg.FreezeBackoff > 0 {
			s.freezeBackoff = cfg.FreezeBackoff
		}
	}
}

// WithProofRecording writes an attestation proof transaction before the
// claim is recorded. Proof failures never fail the claim.
func WithProofRecording(enabled bool) Option {
	return func(s *Service) { s.recordProof = enabled }
}

func New(store Store, ledgerClient Ledger, tokens TokenValidator, locker keylock.Locker, opts ...Option) (*Service, error) {
	if store == nil {
		return nil, errors.New("store is required")
	}
	if ledgerClient == nil {
		return nil, errors.New("ledger is required")
	}
	if tokens == nil {
		return nil, errors.New("token validator is required")
	}
	if locker == nil {
		return nil, errors.New("locker is required")
	}
	s := &Service{
		store:         store,
		ledger:        ledgerClient,
		tokens:        tokens,
		locker:        locker,
		logger:        slog.Default(),
		runTimeout:    2 * time.Minute,
		freezeRetries: 3,
		freezeBackoff: time.Second,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func pairKey(eventID, identity string) string {
	return "claim:" + eventID + ":" + identity
}

type runResult struct {
	out *models.Outcome
	err error
}

// Claim issues one badge for a verified attendance. Replays after success
// return the recorded transaction; a pair with an open issuance gets a
// pending outcome. Once the issuance is reserved the run completes on a
// context detached from ctx, bounded by the run timeout, and a caller whose
// ctx ends first also gets a pending outcome.
func (s *Service) Claim(ctx context.Context, req *models.ClaimRequest) (_ *models.Outcome, err error) {
	ctx, span := tracer.Start(ctx, "claim.Claim")
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, string(dErrors.CodeOf(err)))
		}
		span.End()
	}()
	span.SetAttributes(attribute.String("event.id", req.EventID))

	run := models.NewRun()
	claims, err := s.tokens.Validate(req.VerifyToken, req.EventID, req.Identity, req.Fingerprint)
	if err != nil {
		return nil, s.reject(ctx, run, req.EventID, req.Identity, audit.EventTokenRejected, err)
	}
	if err := run.Advance(models.StateTokenValidated); err != nil {
		return nil, err
	}

	lockStart := time.Now()
	unlock, err := s.locker.Lock(ctx, pairKey(req.EventID, req.Identity))
	s.metrics.ObserveLockWait(time.Since(lockStart))
	if err != nil {
		return nil, err
	}
	handedOff := false
	defer func() {
		if !handedOff {
			unlock()
		}
	}()

	event, err := s.loadEvent(ctx, req.EventID)
	if err != nil {
		return nil, err
	}
	if out, done, err := s.existing(ctx, event, req.Identity); err != nil || done {
		return out, err
	}

	iss, out, err := s.reserve(ctx, run, event, req.Identity, claims)
	if err != nil || out != nil {
		return out, err
	}

	// The detached run mutates iss and run; a caller that leaves early is
	// answered from this snapshot.
	reserved, reservedState := *iss, run.State()
	runCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.runTimeout)
	done := make(chan runResult, 1)
	handedOff = true
	s.inflight.Add(1)
	go func() {
		defer s.inflight.Done()
		defer unlock()
		defer cancel()
		start := time.Now()
		out, err := s.advance(runCtx, run, event, iss)
		s.metrics.ObserveRun(time.Since(start))
		done <- runResult{out: out, err: err}
	}()

	select {
	case r := <-done:
		return r.out, r.err
	case <-ctx.Done():
		s.metrics.IncOutcome("pending")
		s.logger.InfoContext(ctx, "caller left before the claim run finished",
			"request_id", requestcontext.RequestID(ctx),
			"event_id", event.ID,
			"identity", req.Identity,
			"error", ctx.Err(),
		)
		return pendingOutcome(event, &reserved, reservedState), nil
	}
}

// Wait blocks until every detached run has finished.
func (s *Service) Wait() {
	s.inflight.Wait()
}

func (s *Service) loadEvent(ctx context.Context, eventID string) (*eventmodels.Event, error) {
	event, err := s.store.Get(ctx, eventID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "event not found")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load event")
	}
	return event, nil
}

// existing short-circuits pairs that already hold a claim or an open issuance.
func (s *Service) existing(ctx context.Context, event *eventmodels.Event, identity string) (*models.Outcome, bool, error) {
	rec, err := s.store.GetClaim(ctx, event.ID, identity)
	switch {
	case err == nil:
		s.metrics.IncOutcome("already_claimed")
		return &models.Outcome{
			State:          models.StateRecorded,
			EventID:        event.ID,
			Identity:       identity,
			AssetID:        event.AssetID,
			TransferTxID:   rec.TransferTxID,
			ProofTxID:      rec.ProofTxID,
			Recorded:       true,
			AlreadyClaimed: true,
		}, true, nil
	case !errors.Is(err, sentinel.ErrNotFound):
		return nil, true, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load claim")
	}

	iss, err := s.store.GetIssuance(ctx, event.ID, identity)
	switch {
	case err == nil:
		s.metrics.IncOutcome("pending")
		return pendingOutcome(event, iss, models.StateFromIssuance(iss.State)), true, nil
	case !errors.Is(err, sentinel.ErrNotFound):
		return nil, true, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load issuance")
	}
	return nil, false, nil
}

// reserve runs the pre-issuance gates and journals the issuance. A non-nil
// outcome means another replica won the race for this pair.
func (s *Service) reserve(ctx context.Context, run *models.Run, event *eventmodels.Event, identity string, claims *verifytoken.Claims) (*eventmodels.Issuance, *models.Outcome, error) {
	now := requestcontext.Now(ctx)
	if err := event.CheckClaimable(now); err != nil {
		return nil, nil, s.reject(ctx, run, event.ID, identity, audit.EventClaimRejected, err)
	}

	optedIn, err := s.ledger.IsOptedIn(ctx, identity, event.AssetID)
	if err != nil {
		return nil, nil, s.reject(ctx, run, event.ID, identity, audit.EventClaimRejected, err)
	}
	if !optedIn {
		return nil, nil, s.reject(ctx, run, event.ID, identity, audit.EventClaimRejected,
			dErrors.New(dErrors.CodeNotOptedIn, "wallet has not opted in to the event asset"))
	}

	iss := &eventmodels.Issuance{
		EventID:        event.ID,
		Identity:       identity,
		Fingerprint:    claims.Fingerprint,
		Score:          claims.Score,
		DisplayName:    claims.DisplayName,
		IdempotencyKey: uuid.New(),
		State:          eventmodels.IssuanceNotYetClaimed,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	err = s.store.ReserveIssuance(ctx, iss)
	switch {
	case err == nil:
	case errors.Is(err, eventstore.ErrCapacityReached):
		return nil, nil, s.reject(ctx, run, event.ID, identity, audit.EventClaimRejected,
			dErrors.New(dErrors.CodeCapacityExhausted, "all badges have been claimed"))
	case errors.Is(err, sentinel.ErrAlreadyUsed), errors.Is(err, sentinel.ErrConflict):
		out, _, lookupErr := s.existing(ctx, event, identity)
		if lookupErr != nil {
			return nil, nil, lookupErr
		}
		if out == nil {
			return nil, nil, dErrors.Wrap(err, dErrors.CodeConflict, "claim raced with another request")
		}
		return nil, out, nil
	default:
		return nil, nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to reserve issuance")
	}

	if err := run.Advance(models.StateNotYetClaimed); err != nil {
		return nil, nil, err
	}
	return iss, nil, nil
}

// advance drives a reserved run as far as it can go. A run that cannot
// freeze parks in PartiallyIssued and reports a pending outcome.
func (s *Service) advance(ctx context.Context, run *models.Run, event *eventmodels.Event, iss *eventmodels.Issuance) (*models.Outcome, error) {
	if run.State() == models.StateNotYetClaimed {
		if err := s.transfer(ctx, run, event, iss); err != nil {
			return nil, err
		}
	}

	if st := run.State(); st == models.StateAssetTransferred || st == models.StatePartiallyIssued {
		if !s.freeze(ctx, run, event, iss) {
			s.metrics.IncOutcome("partially_issued")
			return pendingOutcome(event, iss, run.State()), nil
		}
	}

	if run.State() != models.StateFrozen {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "claim run stalled in state "+string(run.State()))
	}
	return s.record(ctx, run, event, iss)
}

func (s *Service) transfer(ctx context.Context, run *models.Run, event *eventmodels.Event, iss *eventmodels.Issuance) error {
	if iss.TransferTxID == "" {
		txID, err := s.ledger.Transfer(ctx, event.AssetID, iss.Identity, iss.TransferKey())
		if err != nil {
			return s.transferFailed(ctx, run, iss, err)
		}
		iss.TransferTxID = txID
		s.journal(ctx, iss)
	}
	if err := s.ledger.WaitForConfirmation(ctx, iss.TransferTxID); err != nil {
		return s.transferFailed(ctx, run, iss, err)
	}

	if err := run.Advance(models.StateAssetTransferred); err != nil {
		return err
	}
	iss.State = eventmodels.IssuanceAssetTransferred
	iss.LastError = ""
	s.journal(ctx, iss)
	return nil
}

// transferFailed releases the reservation when the ledger definitively
// refused the transfer. Anything ambiguous keeps the issuance open so the
// reconciler retries with the same idempotency key.
func (s *Service) transferFailed(ctx context.Context, run *models.Run, iss *eventmodels.Issuance, err error) error {
	if errors.Is(err, ledger.ErrTxRejected) || dErrors.HasCode(err, dErrors.CodeMalformedInput) {
		jctx, cancel := journalContext(ctx)
		defer cancel()
		if relErr := s.store.ReleaseIssuance(jctx, iss.EventID, iss.Identity); relErr != nil {
			s.logger.ErrorContext(ctx, "failed to release issuance", "event_id", iss.EventID, "identity", iss.Identity, "error", relErr)
		}
		return s.reject(ctx, run, iss.EventID, iss.Identity, audit.EventClaimRejected, err)
	}

	iss.LastError = err.Error()
	s.journal(ctx, iss)
	s.metrics.IncOutcome("transfer_unconfirmed")
	s.logger.WarnContext(ctx, "transfer not confirmed, issuance left open",
		"event_id", iss.EventID,
		"identity", iss.Identity,
		"tx_id", iss.TransferTxID,
		"error", err,
	)
	if dErrors.HasCode(err, dErrors.CodeLedgerUnavailable) {
		return err
	}
	return dErrors.Wrap(err, dErrors.CodeLedgerUnavailable, "ledger transfer not confirmed")
}

// freeze retries with exponential backoff and the same idempotency key.
// It returns false when the run parked in PartiallyIssued.
func (s *Service) freeze(ctx context.Context, run *models.Run, event *eventmodels.Event, iss *eventmodels.Issuance) bool {
	var lastErr error
	backoff := s.freezeBackoff
attempts:
	for attempt := 0; attempt < s.freezeRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				lastErr = ctx.Err()
				break attempts
			case <-time.After(backoff):
			}
			backoff *= 2
		}

		iss.FreezeAttempts++
		txID, err := s.ledger.Freeze(ctx, event.AssetID, iss.Identity, iss.FreezeKey())
		if err == nil {
			err = s.ledger.WaitForConfirmation(ctx, txID)
		}
		if err != nil {
			s.metrics.IncFreeze("error")
			lastErr = err
			continue
		}

		s.metrics.IncFreeze("ok")
		if advErr := run.Advance(models.StateFrozen); advErr != nil {
			lastErr = advErr
			break
		}
		iss.FreezeTxID = txID
		iss.State = eventmodels.IssuanceFrozen
		iss.LastError = ""
		s.journal(ctx, iss)
		return true
	}

	if lastErr == nil {
		lastErr = errors.New("freeze not attempted")
	}
	firstPark := run.State() == models.StateAssetTransferred
	if firstPark {
		if err := run.Advance(models.StatePartiallyIssued); err != nil {
			s.logger.ErrorContext(ctx, "claim state machine rejected park", "error", err)
		}
	}
	iss.State = eventmodels.IssuancePartiallyIssued
	iss.LastError = lastErr.Error()
	s.journal(ctx, iss)

	s.logger.WarnContext(ctx, "badge transferred but not frozen",
		"event_id", iss.EventID,
		"identity", iss.Identity,
		"tx_id", iss.TransferTxID,
		"attempts", iss.FreezeAttempts,
		"error", lastErr,
	)
	if firstPark {
		jctx, cancel := journalContext(ctx)
		defer cancel()
		if err := s.emit(jctx, audit.EventClaimUnresolved, iss, iss.TransferTxID, lastErr.Error()); err != nil {
			s.logger.ErrorContext(ctx, "failed to audit unresolved claim", "event_id", iss.EventID, "error", err)
		}
	}
	return false
}

// record writes the claim, bumps the issued count, drops the issuance and
// emits the compliance event in one transaction. A failure leaves the
// issuance Frozen for the reconciler.
func (s *Service) record(ctx context.Context, run *models.Run, event *eventmodels.Event, iss *eventmodels.Issuance) (*models.Outcome, error) {
	var proofTx string
	if s.recordProof {
		proofTx = s.proof(ctx, event, iss)
	}

	rec := &eventmodels.ClaimRecord{
		EventID:      iss.EventID,
		Identity:     iss.Identity,
		Fingerprint:  iss.Fingerprint,
		Score:        iss.Score,
		TransferTxID: iss.TransferTxID,
		FreezeTxID:   iss.FreezeTxID,
		ProofTxID:    proofTx,
		DisplayName:  iss.DisplayName,
		IssuedAt:     requestcontext.Now(ctx),
	}
	// Audits follow the write so a rejected claim never leaves a
	// claim_recorded row behind; a failed emit rolls the claim back.
	err := s.store.RunInTx(ctx, func(ctx context.Context) error {
		if err := s.store.RecordClaim(ctx, rec); err != nil {
			return err
		}
		if err := s.emit(ctx, audit.EventClaimRecorded, iss, rec.TransferTxID, "recorded"); err != nil {
			return err
		}
		if run.Visited(models.StatePartiallyIssued) {
			return s.emit(ctx, audit.EventClaimResolved, iss, rec.TransferTxID, "freeze landed after retry")
		}
		return nil
	})
	if err != nil {
		iss.LastError = err.Error()
		s.journal(ctx, iss)
		s.logger.ErrorContext(ctx, "failed to record claim; issuance left frozen",
			"event_id", iss.EventID,
			"identity", iss.Identity,
			"tx_id", iss.TransferTxID,
			"error", err,
		)
		s.metrics.IncOutcome("record_failed")
		return pendingOutcome(event, iss, run.State()), nil
	}

	if err := run.Advance(models.StateRecorded); err != nil {
		return nil, err
	}
	s.metrics.IncOutcome("recorded")
	s.logger.InfoContext(ctx, "badge issued",
		"request_id", requestcontext.RequestID(ctx),
		"event_id", rec.EventID,
		"identity", rec.Identity,
		"tx_id", rec.TransferTxID,
		"freeze_tx_id", rec.FreezeTxID,
	)
	return &models.Outcome{
		State:        models.StateRecorded,
		EventID:      rec.EventID,
		Identity:     rec.Identity,
		AssetID:      event.AssetID,
		TransferTxID: rec.TransferTxID,
		ProofTxID:    rec.ProofTxID,
		Recorded:     true,
	}, nil
}

func (s *Service) proof(ctx context.Context, event *eventmodels.Event, iss *eventmodels.Issuance) string {
	txID, err := s.ledger.RecordProof(ctx, ledger.Proof{
		EventID:    iss.EventID,
		Attendee:   iss.Identity,
		ImageHash:  iss.Fingerprint,
		Confidence: iss.Score,
		AssetID:    event.AssetID,
		TransferTx: iss.TransferTxID,
	})
	if err != nil {
		s.logger.WarnContext(ctx, "attestation proof not recorded", "event_id", iss.EventID, "error", err)
		return ""
	}
	return txID
}

// reject moves the run to Rejected and raises a security signal.
func (s *Service) reject(ctx context.Context, run *models.Run, eventID, identity string, action audit.AuditEvent, cause error) error {
	if err := run.Advance(models.StateRejected); err != nil {
		s.logger.ErrorContext(ctx, "claim state machine rejected transition", "error", err)
	}
	s.metrics.IncOutcome("rejected")
	s.logger.InfoContext(ctx, "claim rejected",
		"request_id", requestcontext.RequestID(ctx),
		"event_id", eventID,
		"identity", identity,
		"code", dErrors.CodeOf(cause),
	)
	if s.security != nil {
		s.security.Emit(ctx, audit.SecurityEvent{
			Subject:   identity,
			Action:    action,
			Reason:    eventID + ": " + string(dErrors.CodeOf(cause)),
			IP:        requestcontext.ClientIP(ctx),
			Device:    requestcontext.Device(ctx),
			RequestID: requestcontext.RequestID(ctx),
			Severity:  audit.SeverityWarning,
		})
	}
	return cause
}

func (s *Service) emit(ctx context.Context, action audit.AuditEvent, iss *eventmodels.Issuance, txID, reason string) error {
	if s.auditor == nil {
		return nil
	}
	return s.auditor.Emit(ctx, audit.Event{
		Action:      string(action),
		Subject:     iss.Identity,
		EventID:     iss.EventID,
		Fingerprint: iss.Fingerprint,
		Score:       iss.Score,
		TxID:        txID,
		Decision:    string(iss.State),
		Reason:      reason,
		IP:          requestcontext.ClientIP(ctx),
		Device:      requestcontext.Device(ctx),
		RequestID:   requestcontext.RequestID(ctx),
	})
}

// journal persists issuance progress. Failures are logged: the in-memory
// run continues and the reconciler works from whatever state was last saved.
func (s *Service) journal(ctx context.Context, iss *eventmodels.Issuance) {
	iss.UpdatedAt = time.Now()
	jctx, cancel := journalContext(ctx)
	defer cancel()
	if err := s.store.UpdateIssuance(jctx, iss); err != nil {
		s.logger.ErrorContext(ctx, "failed to journal issuance",
			"event_id", iss.EventID,
			"identity", iss.Identity,
			"state", iss.State,
			"error", err,
		)
	}
}

// journalContext outlives an expired run context so progress still lands.
func journalContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), journalTimeout)
}

func pendingOutcome(event *eventmodels.Event, iss *eventmodels.Issuance, st models.State) *models.Outcome {
	return &models.Outcome{
		State:        st,
		EventID:      iss.EventID,
		Identity:     iss.Identity,
		AssetID:      event.AssetID,
		TransferTxID: iss.TransferTxID,
		Pending:      true,
	}
}
