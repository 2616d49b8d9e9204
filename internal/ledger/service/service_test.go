package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"redpocket/internal/ledger/store"
	id "redpocket/pkg/domain"
	dErrors "redpocket/pkg/domain-errors"
)

func newLedger() *Ledger {
	return New(store.NewInMemory())
}

func TestLedger_CreditDebitRoundTrip(t *testing.T) {
	l := newLedger()
	ctx := context.Background()
	account := id.NewAccountID()

	require.NoError(t, l.Credit(ctx, account, "USDT", 100))
	require.NoError(t, l.Debit(ctx, account, "USDT", 40))

	got, err := l.Balance(ctx, account, "USDT")
	require.NoError(t, err)
	assert.Equal(t, 60.0, got)
}

func TestLedger_DebitInsufficientBalance(t *testing.T) {
	l := newLedger()
	ctx := context.Background()
	account := id.NewAccountID()

	require.NoError(t, l.Credit(ctx, account, "USDT", 10))

	err := l.Debit(ctx, account, "USDT", 10.01)
	require.Error(t, err)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeInsufficientBalance))

	// Failed debit leaves the balance untouched.
	got, err := l.Balance(ctx, account, "USDT")
	require.NoError(t, err)
	assert.Equal(t, 10.0, got)
}

func TestLedger_DebitUnknownTokenFails(t *testing.T) {
	l := newLedger()
	err := l.Debit(context.Background(), id.NewAccountID(), "ETH", 1)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeInsufficientBalance))
}

func TestLedger_RejectsNonPositiveAmounts(t *testing.T) {
	l := newLedger()
	ctx := context.Background()
	account := id.NewAccountID()

	for _, amount := range []float64{0, -1} {
		assert.True(t, dErrors.HasCode(l.Credit(ctx, account, "USDT", amount), dErrors.CodeInvalidInput))
		assert.True(t, dErrors.HasCode(l.Debit(ctx, account, "USDT", amount), dErrors.CodeInvalidInput))
	}
}

func TestLedger_BalancesPerToken(t *testing.T) {
	l := newLedger()
	ctx := context.Background()
	account := id.NewAccountID()

	require.NoError(t, l.Credit(ctx, account, "USDT", 5))
	require.NoError(t, l.Credit(ctx, account, "ETH", 1.25))

	entries, err := l.Balances(ctx, account)
	require.NoError(t, err)
	assert.Len(t, entries, 2)
}
