// Package models defines account merge requests.
package models

import (
	"time"

	id "redpocket/pkg/domain"
)

// Status is the merge request lifecycle state.
type Status string

const (
	StatusPending   Status = "pending"
	StatusCompleted Status = "completed"
	StatusRejected  Status = "rejected"
)

// MergeRequest absorbs the source account into the target: identities,
// claim records, and balances all move to the target, and the source is
// deleted. Completion requires the out-of-band verification code.
type MergeRequest struct {
	ID          id.MergeID   `json:"id"`
	SourceID    id.AccountID `json:"source_id"`
	TargetID    id.AccountID `json:"target_id"`
	Status      Status       `json:"status"`
	CreatedAt   time.Time    `json:"created_at"`
	CompletedAt time.Time    `json:"completed_at,omitempty"`
}

// MergeResult summarizes what moved during a completed merge.
type MergeResult struct {
	Request          *MergeRequest        `json:"request"`
	MergedIdentities int                  `json:"merged_identities"`
	MergedClaims     int                  `json:"merged_claims"`
	MergedBalances   map[id.Token]float64 `json:"merged_balances"`
}
