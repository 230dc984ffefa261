package models

import (
	"strings"
	"time"
)

// EndpointClass names a budget shared by a group of routes.
type EndpointClass string

const (
	// ClassAttendance is charged by both /verify-attendance and /mint-badge.
	ClassAttendance EndpointClass = "attendance"
	ClassAdminLogin EndpointClass = "admin_login"
)

type RateLimitResult struct {
	Allowed   bool      `json:"allowed"`
	Limit     int       `json:"limit"`
	Remaining int       `json:"remaining"`
	ResetAt   time.Time `json:"reset_at"`
	// RetryAfter is in whole seconds and only set on a denial.
	RetryAfter int `json:"retry_after,omitempty"`
}

// RateLimitExceededResponse is the 429 body.
type RateLimitExceededResponse struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
	RetryAfter       int    `json:"retry_after"`
}

// NewIPRateLimitKey returns "rl:<class>:<ip>". Colons in the address (IPv6)
// become underscores so the key keeps exactly three segments. Requests with
// no resolvable address share the "unknown" bucket.
func NewIPRateLimitKey(ip string, class EndpointClass) string {
	ip = strings.TrimSpace(ip)
	if ip == "" {
		ip = "unknown"
	}
	return "rl:" + string(class) + ":" + strings.ReplaceAll(ip, ":", "_")
}
