// Package audit defines the audit event model for the ledger core. One event
// is emitted per mutation and consumed by an external compliance sink; the
// event is transport-agnostic so stores and sinks can fan out.
package audit

import (
	"context"
	"time"
)

// EventCategory classifies audit events by their primary purpose.
// This enables different retention policies, storage backends, and routing.
type EventCategory string

const (
	// CategoryCompliance covers events with legal/regulatory significance.
	// These require tamper-proof storage and long retention.
	// Examples: claims, completed withdrawals, account merges.
	CategoryCompliance EventCategory = "compliance"

	// CategorySecurity covers events relevant to security monitoring.
	// Examples: identity bindings, merge requests.
	CategorySecurity EventCategory = "security"

	// CategoryOperations covers events useful for debugging and operational
	// visibility. These can be sampled with shorter retention.
	// Examples: pool creation, withdrawal requests.
	CategoryOperations EventCategory = "operations"
)

// Event is emitted from domain logic to capture a single mutation.
type Event struct {
	Category  EventCategory
	Timestamp time.Time
	// EntityType names the mutated aggregate: account, pool, withdrawal, merge.
	EntityType string
	// EntityID is the primary key of the mutated entity.
	EntityID string
	// Actor is the account that triggered the mutation, when known.
	Actor string
	// Action is one of the AuditEvent constants.
	Action AuditEvent
	// Before and After hold value snapshots surrounding the mutation: a
	// domain model, a result summary, or a short string. Stores serialize
	// them to JSON for the sink.
	Before any
	After  any
	// Reason carries failure detail for terminal failure events.
	Reason string
	// RequestID is the correlation ID from the request context.
	RequestID string
}

// AuditEvent enumerates every mutation the core emits.
type AuditEvent string

const (
	// Identity events
	EventAccountCreated AuditEvent = "account_created"
	EventIdentityLinked AuditEvent = "identity_linked"

	// Pool events
	EventPoolCreated AuditEvent = "pool_created"
	EventPoolClaimed AuditEvent = "pool_claimed"

	// Withdrawal events
	EventWithdrawalRequested AuditEvent = "withdrawal_requested"
	EventWithdrawalCompleted AuditEvent = "withdrawal_completed"
	EventWithdrawalFailed    AuditEvent = "withdrawal_failed"
	EventWithdrawalCancelled AuditEvent = "withdrawal_cancelled"

	// Merge events
	EventMergeRequested AuditEvent = "merge_requested"
	EventMergeCompleted AuditEvent = "merge_completed"
)

// eventCategories maps each audit event to its category.
// Compliance: fund movements that must be reconstructable years later.
// Security: account-surface changes relevant to takeover forensics.
// Operations: routine activity, can be sampled.
var eventCategories = map[AuditEvent]EventCategory{
	EventPoolClaimed:         CategoryCompliance,
	EventWithdrawalCompleted: CategoryCompliance,
	EventWithdrawalFailed:    CategoryCompliance,
	EventMergeCompleted:      CategoryCompliance,
	EventAccountCreated:      CategoryCompliance,

	EventIdentityLinked: CategorySecurity,
	EventMergeRequested: CategorySecurity,

	EventPoolCreated:         CategoryOperations,
	EventWithdrawalRequested: CategoryOperations,
	EventWithdrawalCancelled: CategoryOperations,
}

// Category returns the EventCategory for this audit event.
// Unknown events default to CategoryOperations.
func (e AuditEvent) Category() EventCategory {
	if cat, ok := eventCategories[e]; ok {
		return cat
	}
	return CategoryOperations
}

// Store is the persistence boundary for audit events. Implementations:
// memory (tests), postgres outbox (production, drained to Kafka by the
// outbox worker).
type Store interface {
	Append(ctx context.Context, event Event) error
	ListByEntity(ctx context.Context, entityID string) ([]Event, error)
}
