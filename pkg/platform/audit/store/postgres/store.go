package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	audit "eventlens/pkg/platform/audit"
	txcontext "eventlens/pkg/platform/tx"
)

// Store implements audit.Store using the transactional outbox pattern.
// Rows land in the outbox table (inside the caller's transaction when one is
// present in ctx) and the outbox relay publishes them to Kafka.
type Store struct {
	db *sql.DB
}

func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// Payload is the JSON document published to Kafka. The relay and any
// downstream consumer decode this shape.
type Payload struct {
	ID          string `json:"id"`
	Category    string `json:"category"`
	Timestamp   string `json:"timestamp"`
	Action      string `json:"action"`
	Subject     string `json:"subject"`
	EventID     string `json:"event_id,omitempty"`
	Fingerprint string `json:"fingerprint,omitempty"`
	Score       int    `json:"score,omitempty"`
	TxID        string `json:"tx_id,omitempty"`
	Decision    string `json:"decision,omitempty"`
	Reason      string `json:"reason,omitempty"`
	IP          string `json:"ip,omitempty"`
	Device      string `json:"device,omitempty"`
	RequestID   string `json:"request_id,omitempty"`
}

// Append writes an audit event to the outbox table.
func (s *Store) Append(ctx context.Context, event audit.Event) error {
	eventID := uuid.New()

	category := event.Category
	if category == "" {
		category = audit.AuditEvent(event.Action).Category()
	}
	ts := event.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}

	payload := Payload{
		ID:          eventID.String(),
		Category:    string(category),
		Timestamp:   ts.UTC().Format(time.RFC3339Nano),
		Action:      event.Action,
		Subject:     event.Subject,
		EventID:     event.EventID,
		Fingerprint: event.Fingerprint,
		Score:       event.Score,
		TxID:        event.TxID,
		Decision:    event.Decision,
		Reason:      event.Reason,
		IP:          event.IP,
		Device:      event.Device,
		RequestID:   event.RequestID,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal audit payload: %w", err)
	}

	// Claims are keyed by (event, subject) so Kafka keeps one partition order per pair.
	aggregateType := "audit"
	aggregateID := eventID.String()
	if event.EventID != "" && event.Subject != "" {
		aggregateType = "claim"
		aggregateID = event.EventID + ":" + event.Subject
	}

	query := `
		INSERT INTO outbox (id, aggregate_type, aggregate_id, event_type, payload, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	_, err = txcontext.Pick(ctx, s.db).ExecContext(ctx, query,
		eventID,
		aggregateType,
		aggregateID,
		event.Action,
		body,
		time.Now(),
	)
	if err != nil {
		return fmt.Errorf("insert outbox entry: %w", err)
	}
	return nil
}
