// Package models defines distribution pools: fixed-total giveaways claimed
// share by share until exhausted or expired.
package models

import (
	"time"

	id "redpocket/pkg/domain"
	dErrors "redpocket/pkg/domain-errors"
)

// DistributionPool is a pot of tokens split across a fixed number of shares.
//
// Invariants:
//   - RemainingAmount decreases monotonically from TotalAmount to 0.
//   - RemainingShares decreases monotonically from TotalShares to 0.
//   - RemainingAmount == 0 iff RemainingShares == 0.
//   - Sum of granted claim amounts equals TotalAmount once drained.
type DistributionPool struct {
	ID              id.PoolID    `json:"id"`
	CreatorID       id.AccountID `json:"creator_id"`
	Token           id.Token     `json:"token"`
	TotalAmount     float64      `json:"total_amount"`
	TotalShares     int          `json:"total_shares"`
	RemainingAmount float64      `json:"remaining_amount"`
	RemainingShares int          `json:"remaining_shares"`
	CreatedAt       time.Time    `json:"created_at"`
	ExpiresAt       time.Time    `json:"expires_at"`
}

// NewDistributionPool validates the creation parameters and returns a full
// pool with remaining == total.
func NewDistributionPool(creator id.AccountID, token id.Token, totalAmount float64, totalShares int, now, expiresAt time.Time) (*DistributionPool, error) {
	if creator.IsNil() {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "creator account id is required")
	}
	if totalAmount <= 0 {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "total amount must be positive")
	}
	if totalShares < 1 {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "total shares must be at least 1")
	}
	if !expiresAt.After(now) {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "expiry must be in the future")
	}
	return &DistributionPool{
		ID:              id.NewPoolID(),
		CreatorID:       creator,
		Token:           token,
		TotalAmount:     totalAmount,
		TotalShares:     totalShares,
		RemainingAmount: totalAmount,
		RemainingShares: totalShares,
		CreatedAt:       now,
		ExpiresAt:       expiresAt,
	}, nil
}

// Exhausted reports whether every share has been claimed.
func (p *DistributionPool) Exhausted() bool {
	return p.RemainingShares == 0
}

// Expired reports whether the pool's claim window has closed.
func (p *DistributionPool) Expired(now time.Time) bool {
	return !now.Before(p.ExpiresAt)
}

// ClaimRecord is the durable record of one account's claim on one pool. The
// (PoolID, AccountID) pair is unique: an account claims a pool at most once,
// and the record survives account merges (re-homed to the surviving account).
type ClaimRecord struct {
	PoolID    id.PoolID    `json:"pool_id"`
	AccountID id.AccountID `json:"account_id"`
	Amount    float64      `json:"amount"`
	ClaimedAt time.Time    `json:"claimed_at"`
}
