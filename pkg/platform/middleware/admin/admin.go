// Package admin guards admin-only routes with a Bearer session token.
package admin

import (
	"log/slog"
	"net/http"
	"strings"

	dErrors "eventlens/pkg/domain-errors"
	"eventlens/pkg/platform/httputil"
	"eventlens/pkg/requestcontext"
)

// SessionClaims are the parts of a validated session the routes need.
type SessionClaims struct {
	Subject string
	JTI     string
}

// SessionValidator validates an admin session token.
type SessionValidator interface {
	ValidateToken(tokenString string) (*SessionClaims, error)
}

// RequireAdminSession rejects requests without a valid admin session and
// stores the session subject in the request context.
func RequireAdminSession(validator SessionValidator, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			requestID := requestcontext.RequestID(ctx)

			token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
			if !ok || token == "" {
				logger.WarnContext(ctx, "admin route without session token", "request_id", requestID)
				httputil.WriteError(w, dErrors.New(dErrors.CodeUnauthorized, "missing or invalid Authorization header"))
				return
			}

			claims, err := validator.ValidateToken(token)
			if err != nil {
				logger.WarnContext(ctx, "admin session rejected", "request_id", requestID, "error", err)
				httputil.WriteError(w, dErrors.New(dErrors.CodeUnauthorized, "invalid or expired admin session"))
				return
			}

			ctx = requestcontext.WithAdminSubject(ctx, claims.Subject)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
