package audit

import (
	"context"
	"time"
)

// EventCategory decides which publisher handles an action and which Kafka
// topic the outbox relay routes its row to.
type EventCategory string

const (
	// CategoryCompliance covers issuance facts: what was granted to whom and on
	// what evidence. Fail-closed persistence.
	CategoryCompliance EventCategory = "compliance"

	// CategorySecurity covers abuse signals: rate limiting, rejected tokens,
	// failed admin logins.
	CategorySecurity EventCategory = "security"

	// CategoryOperations covers routine activity that can be sampled.
	CategoryOperations EventCategory = "operations"
)

// Event is one audit row. Badge-related fields stay empty for actions that
// are not about a specific claim.
type Event struct {
	Category  EventCategory
	Timestamp time.Time
	Action    string
	// Subject is the claimant identity (ledger address) or admin subject.
	Subject     string
	EventID     string
	Fingerprint string
	Score       int
	TxID        string
	Decision    string
	Reason      string
	IP          string
	Device      string
	RequestID   string
}

// Store persists audit events.
type Store interface {
	Append(ctx context.Context, event Event) error
}

type AuditEvent string

const (
	EventAttendanceVerified AuditEvent = "attendance_verified"
	EventAttendanceRejected AuditEvent = "attendance_rejected"

	EventClaimRecorded   AuditEvent = "claim_recorded"
	EventClaimUnresolved AuditEvent = "claim_unresolved"
	EventClaimResolved   AuditEvent = "claim_resolved"
	EventClaimRejected   AuditEvent = "claim_rejected"

	EventEventCreated AuditEvent = "event_created"

	EventRateLimitExceeded AuditEvent = "rate_limit_exceeded"
	EventTokenRejected     AuditEvent = "token_rejected"
	EventAdminLoginFailed  AuditEvent = "admin_login_failed"
)

var eventCategories = map[AuditEvent]EventCategory{
	EventClaimRecorded:   CategoryCompliance,
	EventClaimUnresolved: CategoryCompliance,
	EventClaimResolved:   CategoryCompliance,
	EventEventCreated:    CategoryCompliance,

	EventRateLimitExceeded: CategorySecurity,
	EventTokenRejected:     CategorySecurity,
	EventAdminLoginFailed:  CategorySecurity,
	EventClaimRejected:     CategorySecurity,

	EventAttendanceVerified: CategoryOperations,
	EventAttendanceRejected: CategoryOperations,
}

// Category falls back to operations for actions missing from the table.
func (e AuditEvent) Category() EventCategory {
	cat, ok := eventCategories[e]
	if !ok {
		return CategoryOperations
	}
	return cat
}

// Severity is stored in the Decision column of security rows.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// SecurityEvent is buffered by the security publisher and flushed in batches.
type SecurityEvent struct {
	Timestamp time.Time
	Subject   string
	Action    AuditEvent
	Reason    string
	IP        string
	Device    string
	RequestID string
	Severity  Severity
}

// ToEvent converts to the stored Event shape.
func (e SecurityEvent) ToEvent() Event {
	return Event{
		Category:  CategorySecurity,
		Timestamp: e.Timestamp,
		Action:    string(e.Action),
		Subject:   e.Subject,
		Reason:    e.Reason,
		Decision:  string(e.Severity),
		IP:        e.IP,
		Device:    e.Device,
		RequestID: e.RequestID,
	}
}
