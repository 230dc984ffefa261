// Package service runs one attendance verification: it gathers the image,
// geo and vision signals concurrently, scores them and mints a token when
// the attempt is eligible.
package service

import (
	"context"
	"encoding/base64"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/errgroup"

	"eventlens/internal/attestation/extractor"
	"eventlens/internal/attestation/geofence"
	"eventlens/internal/attestation/metrics"
	"eventlens/internal/attestation/models"
	"eventlens/internal/attestation/scoring"
	eventmodels "eventlens/internal/event/models"
	"eventlens/internal/ledger"
	"eventlens/internal/vision"
	dErrors "eventlens/pkg/domain-errors"
	audit "eventlens/pkg/platform/audit"
	"eventlens/pkg/platform/sentinel"
	"eventlens/pkg/requestcontext"
)

const maxDisplayName = 100

var tracer = otel.Tracer("eventlens/attestation")

type EventReader interface {
	Get(ctx context.Context, eventID string) (*eventmodels.Event, error)
	GetClaim(ctx context.Context, eventID, identity string) (*eventmodels.ClaimRecord, error)
}

type VisionClient interface {
	Assess(ctx context.Context, req vision.Request) (*vision.Assessment, error)
}

type TokenIssuer interface {
	Issue(a models.VerificationAttempt) (string, time.Time, error)
}

// AuditPublisher is fire-and-forget; verification outcomes are operational.
type AuditPublisher interface {
	Emit(ctx context.Context, event audit.Event)
}

type Service struct {
	events    EventReader
	vision    VisionClient
	tokens    TokenIssuer
	extractor *extractor.Extractor
	policy    scoring.Policy
	auditor   AuditPublisher
	metrics   *metrics.Metrics
	logger    *slog.Logger
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

func WithPolicy(p scoring.Policy) Option {
	return func(s *Service) { s.policy = p }
}

func WithExtractor(e *extractor.Extractor) Option {
	return func(s *Service) { s.extractor = e }
}

func New(events EventReader, visionClient VisionClient, tokens TokenIssuer, opts ...Option) (*Service, error) {
	if events == nil {
		return nil, errors.New("event reader is required")
	}
	if visionClient == nil {
		return nil, errors.New("vision client is required")
	}
	if tokens == nil {
		return nil, errors.New("token issuer is required")
	}
	s := &Service{
		events:    events,
		vision:    visionClient,
		tokens:    tokens,
		extractor: extractor.New(extractor.DefaultMaxBytes),
		policy:    scoring.DefaultPolicy(),
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// signals collects the concurrently gathered inputs to the scorer.
type signals struct {
	image      extractor.Result
	geo        geofence.Evaluation
	assessment *vision.Assessment
}

// Verify checks the inputs, gathers signals and scores the attempt. Input
// errors surface before any external call.
func (s *Service) Verify(ctx context.Context, in models.VerifyInput) (_ *models.VerifyResult, err error) {
	ctx, span := tracer.Start(ctx, "attestation.Verify")
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, string(dErrors.CodeOf(err)))
		}
		span.End()
	}()
	span.SetAttributes(attribute.String("event.id", in.EventID))

	if err := validateInput(&in, s.extractor.MaxBytes()); err != nil {
		s.metrics.IncOutcome("rejected")
		return nil, err
	}
	now := requestcontext.Now(ctx)

	event, err := s.loadEvent(ctx, in.EventID, in.Identity, now)
	if err != nil {
		s.metrics.IncOutcome("rejected")
		return nil, err
	}

	sig, err := s.gatherSignals(ctx, in, event, now)
	if err != nil {
		s.metrics.IncOutcome("rejected")
		return nil, err
	}

	decision := scoring.Score(s.policy, scoring.Signals{
		VisionConfidence: sig.assessment.Confidence,
		Venue:            sig.assessment.Venue,
		Geo:              sig.geo.Result,
	})

	attempt := models.VerificationAttempt{
		EventID:          in.EventID,
		Identity:         in.Identity,
		DisplayName:      in.DisplayName,
		Fingerprint:      sig.image.Fingerprint,
		VisionConfidence: sig.assessment.Confidence,
		VisionReason:     sig.assessment.Reason,
		Venue:            sig.assessment.Venue,
		Geo:              sig.geo,
		Composite:        decision.Composite,
		Eligible:         decision.Eligible,
		Adjustments:      decision.Adjustments,
		Metadata:         sig.image.Metadata,
		Rationale:        decision.Rationale(sig.assessment.Reason),
		AttemptedAt:      now,
	}
	result := &models.VerifyResult{Attempt: attempt}

	if attempt.Eligible {
		token, expiresAt, err := s.tokens.Issue(attempt)
		if err != nil {
			s.logger.ErrorContext(ctx, "failed to issue verification token", "event_id", in.EventID, "error", err)
			return nil, err
		}
		result.Token = token
		result.ExpiresAt = expiresAt
	}

	s.record(ctx, attempt)
	span.SetAttributes(
		attribute.Int("attestation.composite", attempt.Composite),
		attribute.Bool("attestation.eligible", attempt.Eligible),
		attribute.String("attestation.geo", string(attempt.Geo.Result)),
	)
	return result, nil
}

func validateInput(in *models.VerifyInput, maxBytes int64) error {
	in.EventID = strings.TrimSpace(in.EventID)
	in.Identity = strings.TrimSpace(in.Identity)
	in.DisplayName = strings.TrimSpace(in.DisplayName)

	if int64(len(in.Image)) > maxBytes {
		return dErrors.New(dErrors.CodePayloadTooLarge, "image exceeds the upload limit")
	}
	if in.EventID == "" {
		return dErrors.New(dErrors.CodeMalformedInput, "event_id is required")
	}
	if !ledger.ValidAddress(in.Identity) {
		return dErrors.New(dErrors.CodeMalformedInput, "invalid wallet address")
	}
	if len(in.DisplayName) > maxDisplayName {
		return dErrors.New(dErrors.CodeMalformedInput, "student_name must be 100 characters or less")
	}
	if len(in.Image) == 0 {
		return dErrors.New(dErrors.CodeMalformedInput, "image is required")
	}
	if in.Claimed != nil {
		return in.Claimed.Validate()
	}
	return nil
}

// loadEvent rejects unknown events, already claimed identities and events
// that could not issue a badge anyway, so no vision quota is spent on them.
func (s *Service) loadEvent(ctx context.Context, eventID, identity string, now time.Time) (*eventmodels.Event, error) {
	event, err := s.events.Get(ctx, eventID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "event not found")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load event")
	}

	_, err = s.events.GetClaim(ctx, eventID, identity)
	switch {
	case err == nil:
		return nil, dErrors.New(dErrors.CodeAlreadyClaimed, "badge already claimed for this event")
	case !errors.Is(err, sentinel.ErrNotFound):
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load claim")
	}

	if err := event.CheckClaimable(now); err != nil {
		return nil, err
	}
	return event, nil
}

// gatherSignals runs extraction, geo and vision concurrently. A malformed
// image cancels the in-flight vision call.
func (s *Service) gatherSignals(ctx context.Context, in models.VerifyInput, event *eventmodels.Event, now time.Time) (*signals, error) {
	g, gctx := errgroup.WithContext(ctx)
	sig := &signals{}

	g.Go(func() error {
		start := time.Now()
		res, err := s.extractor.Extract(in.Image, now)
		s.metrics.ObserveSignalLatency("image", time.Since(start))
		if err != nil {
			return err
		}
		sig.image = res
		return nil
	})

	g.Go(func() error {
		start := time.Now()
		sig.geo = geofence.Evaluate(in.Claimed, event.Venue, s.policy.GeoRadiusKM)
		s.metrics.ObserveSignalLatency("geo", time.Since(start))
		return nil
	})

	g.Go(func() error {
		start := time.Now()
		assessment, err := s.vision.Assess(gctx, vision.Request{
			Image:      vision.Image{Data: in.Image, MimeType: http.DetectContentType(in.Image)},
			EventName:  event.Name,
			Location:   event.Location,
			References: referenceImages(event.VenueImages),
		})
		s.metrics.ObserveSignalLatency("vision", time.Since(start))
		if err != nil {
			return err
		}
		sig.assessment = assessment
		return nil
	})

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return sig, nil
}

func (s *Service) record(ctx context.Context, a models.VerificationAttempt) {
	outcome := "ineligible"
	action := audit.EventAttendanceRejected
	if a.Eligible {
		outcome = "eligible"
		action = audit.EventAttendanceVerified
	}
	s.metrics.IncOutcome(outcome)
	s.metrics.ObserveComposite(a.Composite)
	s.metrics.IncGeoResult(string(a.Geo.Result))
	for _, f := range a.Metadata.Flags {
		s.metrics.IncFlag(f)
	}

	s.logger.InfoContext(ctx, "attendance verified",
		"request_id", requestcontext.RequestID(ctx),
		"event_id", a.EventID,
		"identity", a.Identity,
		"fingerprint", a.Fingerprint,
		"vision", a.VisionConfidence,
		"composite", a.Composite,
		"eligible", a.Eligible,
		"geo", a.Geo.Result,
		"flags", a.Metadata.Flags,
	)

	if s.auditor == nil {
		return
	}
	reason := a.Rationale
	if len(a.Metadata.Flags) > 0 {
		reason += " flags=" + strings.Join(a.Metadata.Flags, ",")
	}
	s.auditor.Emit(ctx, audit.Event{
		Action:      string(action),
		Subject:     a.Identity,
		EventID:     a.EventID,
		Fingerprint: a.Fingerprint,
		Score:       a.Composite,
		Decision:    outcome,
		Reason:      reason,
		IP:          requestcontext.ClientIP(ctx),
		Device:      requestcontext.Device(ctx),
		RequestID:   requestcontext.RequestID(ctx),
	})
}

// referenceImages decodes the stored venue photos, dropping any that fail.
func referenceImages(encoded []string) []vision.Image {
	refs := make([]vision.Image, 0, len(encoded))
	for _, e := range encoded {
		raw, err := base64.StdEncoding.DecodeString(e)
		if err != nil || len(raw) == 0 {
			continue
		}
		refs = append(refs, vision.Image{Data: raw, MimeType: http.DetectContentType(raw)})
	}
	return refs
}
