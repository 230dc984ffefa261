// Package middleware applies the per-IP budgets to chi route groups.
package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"eventlens/internal/ratelimit/models"
	dErrors "eventlens/pkg/domain-errors"
	"eventlens/pkg/platform/httputil"
	"eventlens/pkg/requestcontext"
)

type RateLimiter interface {
	CheckIPRateLimit(ctx context.Context, ip string, class models.EndpointClass) (*models.RateLimitResult, error)
}

var exceededMessage = map[models.EndpointClass]string{
	models.ClassAttendance: "Too many attendance attempts from this address. Wait before submitting another photo.",
	models.ClassAdminLogin: "Too many login attempts from this address.",
}

type Middleware struct {
	limiter RateLimiter
	logger  *slog.Logger
	off     bool
}

type Option func(*Middleware)

// WithDisabled turns every RateLimit handler into a pass-through.
func WithDisabled(disabled bool) Option {
	return func(m *Middleware) { m.off = disabled }
}

func New(limiter RateLimiter, logger *slog.Logger, opts ...Option) *Middleware {
	m := &Middleware{limiter: limiter, logger: logger}
	for _, opt := range opts {
		opt(m)
	}
	if m.off {
		logger.Warn("rate limiting disabled")
	}
	return m
}

// RateLimit charges one unit of class to the client IP set by the request
// metadata middleware. Limiter errors let the request through.
func (m *Middleware) RateLimit(class models.EndpointClass) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if m.off {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			res, err := m.limiter.CheckIPRateLimit(ctx, requestcontext.ClientIP(ctx), class)
			if err != nil {
				m.logger.ErrorContext(ctx, "rate limit check failed, allowing request",
					"class", class,
					"request_id", requestcontext.RequestID(ctx),
					"error", err,
				)
				next.ServeHTTP(w, r)
				return
			}

			h := w.Header()
			h.Set("X-RateLimit-Limit", strconv.Itoa(res.Limit))
			h.Set("X-RateLimit-Remaining", strconv.Itoa(res.Remaining))
			h.Set("X-RateLimit-Reset", strconv.FormatInt(res.ResetAt.Unix(), 10))
			if res.Allowed {
				next.ServeHTTP(w, r)
				return
			}

			h.Set("Retry-After", strconv.Itoa(res.RetryAfter))
			httputil.WriteJSON(w, http.StatusTooManyRequests, &models.RateLimitExceededResponse{
				Error:            string(dErrors.CodeRateLimited),
				ErrorDescription: exceededMessage[class],
				RetryAfter:       res.RetryAfter,
			})
		})
	}
}
