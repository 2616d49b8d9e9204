// Package service implements the balance ledger: per-(account, token)
// non-negative balances with credit and debit primitives.
package service

import (
	"context"

	"redpocket/internal/ledger/models"
	id "redpocket/pkg/domain"
	dErrors "redpocket/pkg/domain-errors"
)

// BalanceStore is the persistence boundary for balances. Apply runs fn under
// the account's exclusive lock.
type BalanceStore interface {
	Apply(ctx context.Context, accountID id.AccountID, fn func(balances map[id.Token]float64) error) error
	Balance(ctx context.Context, accountID id.AccountID, token id.Token) (float64, error)
	Balances(ctx context.Context, accountID id.AccountID) ([]models.BalanceEntry, error)
}

// Ledger wraps a BalanceStore with the domain rules: credits must be
// positive, debits must not overdraw.
type Ledger struct {
	store BalanceStore
}

func New(store BalanceStore) *Ledger {
	return &Ledger{store: store}
}

// Credit increases the (account, token) balance by amount.
func (l *Ledger) Credit(ctx context.Context, accountID id.AccountID, token id.Token, amount float64) error {
	if amount <= 0 {
		return dErrors.New(dErrors.CodeInvalidInput, "credit amount must be positive")
	}
	return l.store.Apply(ctx, accountID, func(balances map[id.Token]float64) error {
		balances[token] += amount
		return nil
	})
}

// Debit decreases the (account, token) balance by amount. Fails with
// CodeInsufficientBalance when the current balance is smaller than amount;
// the balance never goes negative.
func (l *Ledger) Debit(ctx context.Context, accountID id.AccountID, token id.Token, amount float64) error {
	if amount <= 0 {
		return dErrors.New(dErrors.CodeInvalidInput, "debit amount must be positive")
	}
	return l.store.Apply(ctx, accountID, func(balances map[id.Token]float64) error {
		if balances[token] < amount {
			return dErrors.New(dErrors.CodeInsufficientBalance, "insufficient balance")
		}
		balances[token] -= amount
		return nil
	})
}

// Balance returns the current amount for one (account, token).
func (l *Ledger) Balance(ctx context.Context, accountID id.AccountID, token id.Token) (float64, error) {
	return l.store.Balance(ctx, accountID, token)
}

// Balances returns all non-zero entries for an account.
func (l *Ledger) Balances(ctx context.Context, accountID id.AccountID) ([]models.BalanceEntry, error) {
	return l.store.Balances(ctx, accountID)
}
