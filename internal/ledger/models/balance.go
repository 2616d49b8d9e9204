package models

import (
	id "redpocket/pkg/domain"
)

// BalanceEntry is one (account, token) balance.
//
// Invariant: Amount >= 0 at every observable state. Debits that would go
// negative are rejected before any mutation.
type BalanceEntry struct {
	AccountID id.AccountID `json:"account_id"`
	Token     id.Token     `json:"token"`
	Amount    float64      `json:"amount"`
}
