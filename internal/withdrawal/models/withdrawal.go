// Package models defines withdrawal requests and their fee quotes.
package models

import (
	"time"

	id "redpocket/pkg/domain"
	dErrors "redpocket/pkg/domain-errors"
)

// Status is the withdrawal lifecycle state.
//
// Transitions: Pending → Processing → Completed | Failed, and
// Pending → Cancelled. Terminal states never change.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusCancelled  Status = "cancelled"
)

// Terminal reports whether the status admits no further transition.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// canTransition encodes the legal state machine edges.
var canTransition = map[Status]map[Status]bool{
	StatusPending:    {StatusProcessing: true, StatusCancelled: true},
	StatusProcessing: {StatusCompleted: true, StatusFailed: true},
}

// FeeQuote is the fee breakdown for a prospective withdrawal.
type FeeQuote struct {
	GasFee      float64       `json:"gas_fee"`
	PlatformFee float64       `json:"platform_fee"`
	BridgeFee   float64       `json:"bridge_fee"`
	TotalFee    float64       `json:"total_fee"`
	NetAmount   float64       `json:"net_amount"`
	ETA         time.Duration `json:"eta"`
}

// WithdrawalRequest is one account's request to move funds off the ledger.
// The full Amount is debited when the request is created; Failed and
// Cancelled refund it.
type WithdrawalRequest struct {
	ID            id.WithdrawalID   `json:"id"`
	AccountID     id.AccountID      `json:"account_id"`
	Kind          id.WithdrawalKind `json:"kind"`
	Token         id.Token          `json:"token"`
	Amount        float64           `json:"amount"`
	Fee           FeeQuote          `json:"fee"`
	Destination   string            `json:"destination"`
	Chain         string            `json:"chain,omitempty"`
	Status        Status            `json:"status"`
	FailureReason string            `json:"failure_reason,omitempty"`
	SettlementRef string            `json:"settlement_ref,omitempty"`
	CreatedAt     time.Time         `json:"created_at"`
	UpdatedAt     time.Time         `json:"updated_at"`
	// ProcessedAt is set when the request enters Processing and never moves
	// again; the reconciliation sweep keys its stuck-clock on it.
	ProcessedAt *time.Time `json:"processed_at,omitempty"`
}

// Transition moves the request to next, rejecting illegal edges with
// CodeInvalidState.
func (w *WithdrawalRequest) Transition(next Status, now time.Time) error {
	if !canTransition[w.Status][next] {
		return dErrors.Newf(dErrors.CodeInvalidState,
			"cannot transition withdrawal from %s to %s", w.Status, next)
	}
	w.Status = next
	w.UpdatedAt = now
	if next == StatusProcessing {
		entered := now
		w.ProcessedAt = &entered
	}
	return nil
}
