package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	audit "redpocket/pkg/platform/audit"
	txcontext "redpocket/pkg/platform/tx"
)

// Store implements audit.Store using the transactional outbox pattern.
// Events are written to the outbox table in the same transaction as the
// ledger mutation and published to Kafka by the outbox worker. Kafka is the
// source of truth for downstream audit consumers.
type Store struct {
	db *sql.DB
}

// New creates a PostgreSQL audit store that writes to the outbox.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

type dbExecutor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (s *Store) execer(ctx context.Context) dbExecutor {
	if tx, ok := txcontext.From(ctx); ok {
		return tx
	}
	return s.db
}

// outboxPayload is the JSON structure published to Kafka.
// Field names match audit.Event for deserialization by the consumer.
type outboxPayload struct {
	ID         string `json:"ID"`
	Category   string `json:"Category"`
	Timestamp  string `json:"Timestamp"`
	EntityType string `json:"EntityType"`
	EntityID   string `json:"EntityID"`
	Actor      string `json:"Actor,omitempty"`
	Action     string `json:"Action"`
	Before     any    `json:"Before,omitempty"`
	After      any    `json:"After,omitempty"`
	Reason     string `json:"Reason,omitempty"`
	RequestID  string `json:"RequestID,omitempty"`
}

// Append writes an audit event to the outbox table for Kafka publishing.
func (s *Store) Append(ctx context.Context, event audit.Event) error {
	eventID := uuid.New()

	// Always derive category from action - eventCategories map is the
	// source of truth.
	category := event.Action.Category()

	payload := outboxPayload{
		ID:         eventID.String(),
		Category:   string(category),
		Timestamp:  event.Timestamp.Format(time.RFC3339Nano),
		EntityType: event.EntityType,
		EntityID:   event.EntityID,
		Actor:      event.Actor,
		Action:     string(event.Action),
		Before:     event.Before,
		After:      event.After,
		Reason:     event.Reason,
		RequestID:  event.RequestID,
	}

	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal audit payload: %w", err)
	}

	_, err = s.execer(ctx).ExecContext(ctx, `
		INSERT INTO audit_outbox (id, aggregate_type, aggregate_id, topic, payload, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		eventID, event.EntityType, event.EntityID, topicFor(category), payloadBytes, event.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("insert audit outbox row: %w", err)
	}
	return nil
}

// ListByEntity reads back events for one entity from the outbox. Used by the
// admin surface; long-term queries go against the Kafka-fed warehouse.
func (s *Store) ListByEntity(ctx context.Context, entityID string) ([]audit.Event, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT payload FROM audit_outbox
		WHERE aggregate_id = $1
		ORDER BY created_at ASC`,
		entityID,
	)
	if err != nil {
		return nil, fmt.Errorf("query audit outbox: %w", err)
	}
	defer rows.Close()

	var events []audit.Event
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("scan audit outbox row: %w", err)
		}
		var p outboxPayload
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, fmt.Errorf("unmarshal audit payload: %w", err)
		}
		ts, _ := time.Parse(time.RFC3339Nano, p.Timestamp)
		events = append(events, audit.Event{
			Category:   audit.EventCategory(p.Category),
			Timestamp:  ts,
			EntityType: p.EntityType,
			EntityID:   p.EntityID,
			Actor:      p.Actor,
			Action:     audit.AuditEvent(p.Action),
			Before:     p.Before,
			After:      p.After,
			Reason:     p.Reason,
			RequestID:  p.RequestID,
		})
	}
	return events, rows.Err()
}

// topicFor routes categories to their Kafka topics. Compliance events land on
// a compacted, long-retention topic.
func topicFor(category audit.EventCategory) string {
	switch category {
	case audit.CategoryCompliance:
		return "redpocket.audit.compliance"
	case audit.CategorySecurity:
		return "redpocket.audit.security"
	default:
		return "redpocket.audit.operations"
	}
}
