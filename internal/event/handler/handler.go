package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"eventlens/internal/event/models"
	"eventlens/internal/ledger"
	"eventlens/pkg/platform/httputil"
	"eventlens/pkg/requestcontext"
)

type Service interface {
	Create(ctx context.Context, req *models.CreateEventRequest, createdBy string) (*models.Event, error)
	Get(ctx context.Context, eventID string) (*models.Event, error)
	List(ctx context.Context) ([]*models.Event, error)
	Stats(ctx context.Context) (models.Stats, error)
	OptInTxn(ctx context.Context, eventID, wallet string) (*ledger.OptInTxn, error)
	OptInCheck(ctx context.Context, eventID, wallet string) (bool, error)
	Badges(ctx context.Context, wallet string) ([]models.Badge, error)
}

type Handler struct {
	service Service
	logger  *slog.Logger
}

func New(service Service, logger *slog.Logger) *Handler {
	return &Handler{service: service, logger: logger}
}

// Register mounts the public event routes; requireAdmin guards event creation.
func (h *Handler) Register(r chi.Router, requireAdmin func(http.Handler) http.Handler) {
	r.Get("/events", h.handleList)
	r.Get("/events/{id}", h.handleGet)
	r.Get("/events/{id}/opt-in-txn", h.handleOptInTxn)
	r.Get("/events/{id}/opt-in-check", h.handleOptInCheck)
	r.Get("/stats", h.handleStats)
	r.Get("/profile/{wallet}/badges", h.handleBadges)
	r.With(requireAdmin).Post("/events", h.handleCreate)
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	req, ok := httputil.DecodeAndPrepare[models.CreateEventRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}

	e, err := h.service.Create(ctx, req, requestcontext.AdminSubject(ctx))
	if err != nil {
		h.logger.ErrorContext(ctx, "failed to create event", "request_id", requestID, "error", err)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, models.NewEventResponse(e))
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	events, err := h.service.List(ctx)
	if err != nil {
		h.logger.ErrorContext(ctx, "failed to list events", "request_id", requestcontext.RequestID(ctx), "error", err)
		httputil.WriteError(w, err)
		return
	}
	out := make([]models.EventResponse, 0, len(events))
	for _, e := range events {
		out = append(out, models.NewEventResponse(e))
	}
	httputil.WriteJSON(w, http.StatusOK, out)
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	e, err := h.service.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, models.NewEventResponse(e))
}

func (h *Handler) handleOptInTxn(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	txn, err := h.service.OptInTxn(ctx, chi.URLParam(r, "id"), r.URL.Query().Get("wallet"))
	if err != nil {
		h.logger.WarnContext(ctx, "opt-in txn failed", "request_id", requestcontext.RequestID(ctx), "error", err)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{
		"success":  true,
		"txn":      txn.Txn,
		"asset_id": txn.AssetID,
	})
}

func (h *Handler) handleOptInCheck(w http.ResponseWriter, r *http.Request) {
	optedIn, err := h.service.OptInCheck(r.Context(), chi.URLParam(r, "id"), r.URL.Query().Get("wallet"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]bool{"opted_in": optedIn})
}

func (h *Handler) handleStats(w http.ResponseWriter, r *http.Request) {
	st, err := h.service.Stats(r.Context())
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, st)
}

func (h *Handler) handleBadges(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	badges, err := h.service.Badges(ctx, chi.URLParam(r, "wallet"))
	if err != nil {
		h.logger.WarnContext(ctx, "badge lookup failed", "request_id", requestcontext.RequestID(ctx), "error", err)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, badges)
}
