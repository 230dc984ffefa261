// Package service manages events: creation with their ledger asset, lookup,
// opt-in helpers, platform stats and wallet badge profiles.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
	"unicode/utf8"

	"github.com/patrickmn/go-cache"

	"eventlens/internal/event/models"
	"eventlens/internal/ledger"
	dErrors "eventlens/pkg/domain-errors"
	audit "eventlens/pkg/platform/audit"
	"eventlens/pkg/platform/sentinel"
	"eventlens/pkg/requestcontext"
)

const (
	assetNamePrefix = "EventLens: "
	assetNameMax    = 32
	assetUnitName   = "EVTLN"
	assetIndexKey   = "assets"
	assetIndexTTL   = 30 * time.Second
)

type Store interface {
	Create(ctx context.Context, e *models.Event) error
	Get(ctx context.Context, eventID string) (*models.Event, error)
	List(ctx context.Context) ([]*models.Event, error)
	GetClaim(ctx context.Context, eventID, identity string) (*models.ClaimRecord, error)
	Stats(ctx context.Context) (models.Stats, error)
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}

type Ledger interface {
	CreateAsset(ctx context.Context, a ledger.Asset) (uint64, error)
	IsOptedIn(ctx context.Context, address string, assetID uint64) (bool, error)
	Holdings(ctx context.Context, address string) ([]ledger.Holding, error)
	BuildOptInTxn(ctx context.Context, address string, assetID uint64) (*ledger.OptInTxn, error)
}

type AuditPublisher interface {
	Emit(ctx context.Context, event audit.Event) error
}

type Service struct {
	store   Store
	ledger  Ledger
	auditor AuditPublisher
	logger  *slog.Logger
	assets  *cache.Cache
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

func WithAuditPublisher(p AuditPublisher) Option {
	return func(s *Service) { s.auditor = p }
}

func New(store Store, ledger Ledger, opts ...Option) *Service {
	s := &Service{
		store:  store,
		ledger: ledger,
		logger: slog.Default(),
		assets: cache.New(assetIndexTTL, time.Minute),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// AssetName builds the on-ledger asset name, capped at the ledger's 32 bytes.
func AssetName(eventName string) string {
	name := assetNamePrefix + eventName
	for len(name) > assetNameMax {
		_, size := utf8.DecodeLastRuneInString(name)
		name = name[:len(name)-size]
	}
	return name
}

// Create mints the event's asset first; an asset without an event row is
// harmless, an event row without an asset is not.
func (s *Service) Create(ctx context.Context, req *models.CreateEventRequest, createdBy string) (*models.Event, error) {
	assetID, err := s.ledger.CreateAsset(ctx, ledger.Asset{
		Name:     AssetName(req.Name),
		UnitName: assetUnitName,
		Total:    uint64(req.TotalBadges),
	})
	if err != nil {
		s.logger.ErrorContext(ctx, "failed to create event asset", "name", req.Name, "error", err)
		return nil, err
	}

	e := &models.Event{
		ID:          models.NewEventID(),
		Name:        req.Name,
		Description: req.Description,
		Location:    req.Location,
		DateStart:   req.DateStart,
		DateEnd:     req.DateEnd,
		Venue:       req.Venue(),
		VenueImages: append([]string(nil), req.VenuePhotos...),
		AssetID:     assetID,
		IssuanceCap: req.TotalBadges,
		ActiveFrom:  req.ActiveFrom,
		ActiveUntil: req.ActiveUntil,
		CreatedBy:   createdBy,
		CreatedAt:   requestcontext.Now(ctx),
	}

	err = s.store.RunInTx(ctx, func(ctx context.Context) error {
		if err := s.store.Create(ctx, e); err != nil {
			return err
		}
		if s.auditor == nil {
			return nil
		}
		return s.auditor.Emit(ctx, audit.Event{
			Action:    string(audit.EventEventCreated),
			Subject:   subjectOrSystem(createdBy),
			EventID:   e.ID,
			Reason:    fmt.Sprintf("asset %d cap %d", assetID, e.IssuanceCap),
			RequestID: requestcontext.RequestID(ctx),
		})
	})
	if err != nil {
		if errors.Is(err, sentinel.ErrConflict) {
			return nil, dErrors.Wrap(err, dErrors.CodeConflict, "event already exists")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to save event")
	}
	s.assets.Delete(assetIndexKey)

	s.logger.InfoContext(ctx, "event created", "event_id", e.ID, "asset_id", assetID, "cap", e.IssuanceCap)
	return e, nil
}

func (s *Service) Get(ctx context.Context, eventID string) (*models.Event, error) {
	e, err := s.store.Get(ctx, eventID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "event not found")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load event")
	}
	return e, nil
}

func (s *Service) List(ctx context.Context) ([]*models.Event, error) {
	events, err := s.store.List(ctx)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list events")
	}
	return events, nil
}

func (s *Service) Stats(ctx context.Context) (models.Stats, error) {
	st, err := s.store.Stats(ctx)
	if err != nil {
		return models.Stats{}, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load stats")
	}
	return st, nil
}

// OptInTxn returns the unsigned opt-in transaction the wallet signs before claiming.
func (s *Service) OptInTxn(ctx context.Context, eventID, wallet string) (*ledger.OptInTxn, error) {
	if err := requireAddress(wallet); err != nil {
		return nil, err
	}
	e, err := s.Get(ctx, eventID)
	if err != nil {
		return nil, err
	}
	return s.ledger.BuildOptInTxn(ctx, wallet, e.AssetID)
}

func (s *Service) OptInCheck(ctx context.Context, eventID, wallet string) (bool, error) {
	if err := requireAddress(wallet); err != nil {
		return false, err
	}
	e, err := s.Get(ctx, eventID)
	if err != nil {
		return false, err
	}
	return s.ledger.IsOptedIn(ctx, wallet, e.AssetID)
}

// Badges joins the wallet's ledger holdings with known event assets and the
// local claim records. Holdings of unknown assets are ignored.
func (s *Service) Badges(ctx context.Context, wallet string) ([]models.Badge, error) {
	if err := requireAddress(wallet); err != nil {
		return nil, err
	}
	index, err := s.assetIndex(ctx)
	if err != nil {
		return nil, err
	}
	badges := []models.Badge{}
	if len(index) == 0 {
		return badges, nil
	}

	holdings, err := s.ledger.Holdings(ctx, wallet)
	if err != nil {
		return nil, err
	}
	for _, h := range holdings {
		e, ok := index[h.AssetID]
		if !ok || h.Amount == 0 {
			continue
		}
		b := models.Badge{
			AssetID:   h.AssetID,
			EventName: e.Name,
			EventID:   e.ID,
			Amount:    h.Amount,
			Frozen:    h.IsFrozen,
		}
		claim, err := s.store.GetClaim(ctx, e.ID, wallet)
		switch {
		case err == nil:
			claimedAt := claim.IssuedAt
			b.ClaimedAt = &claimedAt
			b.ImageHash = claim.Fingerprint
			b.AIConfidence = claim.Score
			b.TxID = claim.TransferTxID
		case !errors.Is(err, sentinel.ErrNotFound):
			return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load claim")
		}
		badges = append(badges, b)
	}
	return badges, nil
}

// assetIndex maps asset id to event, cached briefly since events are never deleted.
func (s *Service) assetIndex(ctx context.Context) (map[uint64]*models.Event, error) {
	if cached, ok := s.assets.Get(assetIndexKey); ok {
		return cached.(map[uint64]*models.Event), nil
	}
	events, err := s.List(ctx)
	if err != nil {
		return nil, err
	}
	index := make(map[uint64]*models.Event, len(events))
	for _, e := range events {
		index[e.AssetID] = e
	}
	s.assets.SetDefault(assetIndexKey, index)
	return index, nil
}

func requireAddress(wallet string) error {
	if !ledger.ValidAddress(wallet) {
		return dErrors.New(dErrors.CodeMalformedInput, "invalid wallet address")
	}
	return nil
}

func subjectOrSystem(subject string) string {
	if subject == "" {
		return "system"
	}
	return subject
}
