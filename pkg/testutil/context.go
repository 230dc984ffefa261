package testutil

import (
	"net/http"
	"time"

	"eventlens/pkg/requestcontext"
)

// WithAdmin marks the request as coming from an authenticated admin session,
// as the admin middleware would.
func WithAdmin(req *http.Request, subject string) *http.Request {
	return req.WithContext(requestcontext.WithAdminSubject(req.Context(), subject))
}

// WithClient sets the client IP and User-Agent the metadata middleware would extract.
func WithClient(req *http.Request, ip, userAgent string) *http.Request {
	return req.WithContext(requestcontext.WithClientMetadata(req.Context(), ip, userAgent))
}

// WithTime pins the request time.
func WithTime(req *http.Request, t time.Time) *http.Request {
	return req.WithContext(requestcontext.WithTime(req.Context(), t))
}
