// Package observability reports rate-limit denials to the log and the
// security audit stream.
package observability

import (
	"context"
	"log/slog"

	"eventlens/pkg/platform/audit"
	"eventlens/pkg/requestcontext"
)

// SecurityPublisher is satisfied by the security audit publisher.
type SecurityPublisher interface {
	Emit(ctx context.Context, event audit.SecurityEvent)
}

// LogDenied logs a denial and forwards it as a security event. The client IP
// is the subject since the limited routes are unauthenticated.
func LogDenied(ctx context.Context, logger *slog.Logger, publisher SecurityPublisher, ip, class string, retryAfter int) {
	requestID := requestcontext.RequestID(ctx)
	if logger != nil {
		logger.WarnContext(ctx, string(audit.EventRateLimitExceeded),
			"ip", ip,
			"class", class,
			"retry_after", retryAfter,
			"request_id", requestID,
			"log_type", "audit",
		)
	}
	if publisher == nil {
		return
	}
	publisher.Emit(ctx, audit.SecurityEvent{
		Subject:   ip,
		Action:    audit.EventRateLimitExceeded,
		Reason:    class,
		IP:        ip,
		Device:    requestcontext.Device(ctx),
		RequestID: requestID,
		Severity:  audit.SeverityWarning,
	})
}
