package main

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	adminhandler "eventlens/internal/admin/handler"
	"eventlens/internal/app"
	attestationhandler "eventlens/internal/attestation/handler"
	claimhandler "eventlens/internal/claim/handler"
	eventhandler "eventlens/internal/event/handler"
	jwttoken "eventlens/internal/jwt_token"
	"eventlens/internal/platform/metrics"
	platformmw "eventlens/internal/platform/middleware"
	ratelimitmw "eventlens/internal/ratelimit/middleware"
	ratelimitmodels "eventlens/internal/ratelimit/models"
	"eventlens/pkg/platform/httputil"
	adminmw "eventlens/pkg/platform/middleware/admin"
	"eventlens/pkg/platform/middleware/metadata"
	"eventlens/pkg/platform/middleware/requesttime"
)

func newRouter(a *app.App) (http.Handler, error) {
	cfg := a.Config
	log := a.Logger

	trusted, err := cfg.TrustedProxies()
	if err != nil {
		return nil, err
	}

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(metadata.NewResolver(trusted).Middleware)
	r.Use(platformmw.RequestLogger(log))
	r.Use(chimw.Recoverer)
	r.Use(requesttime.Middleware)
	r.Use(metrics.New(nil).Middleware)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORSOrigins(),
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-Id"},
		ExposedHeaders:   []string{"Retry-After", "X-RateLimit-Limit", "X-RateLimit-Remaining", "X-RateLimit-Reset"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	limiter := ratelimitmw.New(a.RateLimiter, log, ratelimitmw.WithDisabled(cfg.RateLimit.Disabled))
	attendanceLimit := limiter.RateLimit(ratelimitmodels.ClassAttendance)
	requireAdmin := adminmw.RequireAdminSession(jwttoken.NewJWTServiceAdapter(a.Sessions), log)

	r.Get("/health", healthHandler(a))
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	attestationhandler.New(a.Attestation, log, cfg.Server.MaxImageBytes).Register(r, attendanceLimit)
	claimhandler.New(a.Claims, log, cfg.Ledger.ExplorerURL).Register(r, attendanceLimit)
	eventhandler.New(a.EventService, log).Register(r, requireAdmin)
	adminhandler.New(a.Admin, log).Register(r, limiter.RateLimit(ratelimitmodels.ClassAdminLogin), requireAdmin)

	return r, nil
}

type healthResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks"`
}

// healthHandler reports 503 when any backend check fails.
func healthHandler(a *app.App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
		defer cancel()

		resp := healthResponse{Status: "ok", Checks: map[string]string{}}
		status := http.StatusOK
		for name, err := range a.Health(ctx) {
			if err != nil {
				resp.Checks[name] = err.Error()
				resp.Status = "degraded"
				status = http.StatusServiceUnavailable
				continue
			}
			resp.Checks[name] = "ok"
		}
		httputil.WriteJSON(w, status, resp)
	}
}
