package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"eventlens/internal/claim/models"
	dErrors "eventlens/pkg/domain-errors"
	"eventlens/pkg/platform/httputil"
	"eventlens/pkg/requestcontext"
)

type Service interface {
	Claim(ctx context.Context, req *models.ClaimRequest) (*models.Outcome, error)
}

type Handler struct {
	service      Service
	logger       *slog.Logger
	explorerBase string
}

func New(service Service, logger *slog.Logger, explorerBase string) *Handler {
	return &Handler{service: service, logger: logger, explorerBase: explorerBase}
}

// Register mounts POST /mint-badge behind the given middlewares.
func (h *Handler) Register(r chi.Router, mw ...func(http.Handler) http.Handler) {
	r.With(mw...).Post("/mint-badge", h.handleMint)
}

func (h *Handler) handleMint(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	req, ok := httputil.DecodeAndPrepare[models.ClaimRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}

	out, err := h.service.Claim(ctx, req)
	if err != nil {
		switch dErrors.CodeOf(err) {
		case dErrors.CodeInternal, dErrors.CodeInvariantViolation, dErrors.CodeLedgerUnavailable:
			h.logger.ErrorContext(ctx, "claim failed", "request_id", requestID, "event_id", req.EventID, "error", err)
		}
		httputil.WriteError(w, err)
		return
	}

	status := http.StatusOK
	if out.Pending {
		status = http.StatusAccepted
	}
	httputil.WriteJSON(w, status, models.NewMintResponse(out, h.explorerBase))
}
