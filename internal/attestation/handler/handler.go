package handler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"eventlens/internal/attestation/geofence"
	"eventlens/internal/attestation/models"
	dErrors "eventlens/pkg/domain-errors"
	"eventlens/pkg/platform/httputil"
	"eventlens/pkg/requestcontext"
)

// formOverhead is the slack allowed on top of the image limit for the other
// multipart fields and boundaries.
const formOverhead = 64 << 10

type Service interface {
	Verify(ctx context.Context, in models.VerifyInput) (*models.VerifyResult, error)
}

type Handler struct {
	service  Service
	logger   *slog.Logger
	maxImage int64
}

func New(service Service, logger *slog.Logger, maxImage int64) *Handler {
	return &Handler{service: service, logger: logger, maxImage: maxImage}
}

// Register mounts POST /verify-attendance behind the given middlewares
// (rate limiting in production).
func (h *Handler) Register(r chi.Router, mw ...func(http.Handler) http.Handler) {
	r.With(mw...).Post("/verify-attendance", h.handleVerify)
}

func (h *Handler) handleVerify(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	in, err := h.parseForm(w, r)
	if err != nil {
		h.logger.WarnContext(ctx, "invalid verify form", "request_id", requestID, "error", err)
		httputil.WriteError(w, err)
		return
	}

	res, err := h.service.Verify(ctx, *in)
	if err != nil {
		if dErrors.CodeOf(err) == dErrors.CodeInternal {
			h.logger.ErrorContext(ctx, "verification failed", "request_id", requestID, "error", err)
		}
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, models.NewVerifyResponse(res))
}

func (h *Handler) parseForm(w http.ResponseWriter, r *http.Request) (*models.VerifyInput, error) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxImage+formOverhead)
	if err := r.ParseMultipartForm(h.maxImage + formOverhead); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, dErrors.New(dErrors.CodePayloadTooLarge, "image exceeds the upload limit")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeMalformedInput, "expected a multipart form")
	}

	file, _, err := r.FormFile("image")
	if err != nil {
		return nil, dErrors.New(dErrors.CodeMalformedInput, "image is required")
	}
	defer file.Close()
	img, err := io.ReadAll(file)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeMalformedInput, "failed to read image")
	}

	claimed, err := parseCoordinate(r.FormValue("latitude"), r.FormValue("longitude"))
	if err != nil {
		return nil, err
	}

	return &models.VerifyInput{
		EventID:     r.FormValue("event_id"),
		Identity:    r.FormValue("wallet_address"),
		DisplayName: r.FormValue("student_name"),
		Image:       img,
		Claimed:     claimed,
	}, nil
}

// parseCoordinate treats a coordinate as present only when both halves are.
func parseCoordinate(lat, lon string) (*geofence.Coordinate, error) {
	lat, lon = strings.TrimSpace(lat), strings.TrimSpace(lon)
	if lat == "" && lon == "" {
		return nil, nil
	}
	if lat == "" || lon == "" {
		return nil, dErrors.New(dErrors.CodeMalformedInput, "latitude and longitude must be sent together")
	}
	la, err := strconv.ParseFloat(lat, 64)
	if err != nil {
		return nil, dErrors.New(dErrors.CodeMalformedInput, "latitude is not a number")
	}
	lo, err := strconv.ParseFloat(lon, 64)
	if err != nil {
		return nil, dErrors.New(dErrors.CodeMalformedInput, "longitude is not a number")
	}
	return &geofence.Coordinate{Lat: la, Lon: lo}, nil
}
