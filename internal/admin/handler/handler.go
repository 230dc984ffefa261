package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"eventlens/internal/admin/models"
	eventmodels "eventlens/internal/event/models"
	"eventlens/pkg/platform/httputil"
	"eventlens/pkg/requestcontext"
)

type Service interface {
	Login(ctx context.Context, req *models.LoginRequest) (*models.LoginResponse, error)
	IsAdmin(wallet string) bool
	Unresolved(ctx context.Context, limit int) ([]*eventmodels.Issuance, error)
}

type Handler struct {
	service Service
	logger  *slog.Logger
}

func New(service Service, logger *slog.Logger) *Handler {
	return &Handler{service: service, logger: logger}
}

// Register mounts the admin routes. loginLimit throttles password attempts and
// requireAdmin guards the operator views.
func (h *Handler) Register(r chi.Router, loginLimit, requireAdmin func(http.Handler) http.Handler) {
	r.With(loginLimit).Post("/admin/login", h.handleLogin)
	r.Get("/is-admin", h.handleIsAdmin)
	r.With(requireAdmin).Get("/admin/issuances/unresolved", h.handleUnresolved)
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	req, ok := httputil.DecodeAndPrepare[models.LoginRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}

	resp, err := h.service.Login(ctx, req)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, resp)
}

func (h *Handler) handleIsAdmin(w http.ResponseWriter, r *http.Request) {
	wallet := r.URL.Query().Get("wallet")
	httputil.WriteJSON(w, http.StatusOK, models.IsAdminResponse{IsAdmin: wallet != "" && h.service.IsAdmin(wallet)})
}

func (h *Handler) handleUnresolved(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	list, err := h.service.Unresolved(ctx, limit)
	if err != nil {
		h.logger.ErrorContext(ctx, "failed to list unresolved issuances", "request_id", requestcontext.RequestID(ctx), "error", err)
		httputil.WriteError(w, err)
		return
	}

	out := models.UnresolvedResponse{Issuances: make([]models.UnresolvedIssuance, 0, len(list)), Total: len(list)}
	for _, iss := range list {
		out.Issuances = append(out.Issuances, models.UnresolvedIssuance{
			EventID:        iss.EventID,
			Identity:       iss.Identity,
			State:          string(iss.State),
			TransferTxID:   iss.TransferTxID,
			FreezeAttempts: iss.FreezeAttempts,
			LastError:      iss.LastError,
			CreatedAt:      iss.CreatedAt,
			UpdatedAt:      iss.UpdatedAt,
		})
	}
	httputil.WriteJSON(w, http.StatusOK, out)
}
