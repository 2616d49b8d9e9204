package store

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	id "redpocket/pkg/domain"
	"redpocket/pkg/platform/sentinel"
)

func TestInMemory_ApplySerializesPerAccount(t *testing.T) {
	s := NewInMemory()
	ctx := context.Background()
	account := id.NewAccountID()

	const workers = 50
	const perWorker = 20

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < perWorker; j++ {
				err := s.Apply(ctx, account, func(balances map[id.Token]float64) error {
					balances["USDT"]++
					return nil
				})
				assert.NoError(t, err)
			}
		}()
	}
	wg.Wait()

	got, err := s.Balance(ctx, account, "USDT")
	require.NoError(t, err)
	assert.Equal(t, float64(workers*perWorker), got)
}

func TestInMemory_ApplyErrorLeavesBalanceUntouched(t *testing.T) {
	s := NewInMemory()
	ctx := context.Background()
	account := id.NewAccountID()

	require.NoError(t, s.Apply(ctx, account, func(balances map[id.Token]float64) error {
		balances["USDT"] = 10
		return nil
	}))

	sentinelErr := sentinel.ErrInvalidState
	err := s.Apply(ctx, account, func(balances map[id.Token]float64) error {
		return sentinelErr
	})
	require.ErrorIs(t, err, sentinelErr)

	got, err := s.Balance(ctx, account, "USDT")
	require.NoError(t, err)
	assert.Equal(t, 10.0, got)
}

func TestInMemory_BalancesSkipsZeroEntries(t *testing.T) {
	s := NewInMemory()
	ctx := context.Background()
	account := id.NewAccountID()

	require.NoError(t, s.Apply(ctx, account, func(balances map[id.Token]float64) error {
		balances["USDT"] = 5
		balances["ETH"] = 0
		balances["BTC"] = 1.5
		return nil
	}))

	entries, err := s.Balances(ctx, account)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, id.Token("BTC"), entries[0].Token)
	assert.Equal(t, id.Token("USDT"), entries[1].Token)
}

func TestInMemory_TransferAll(t *testing.T) {
	s := NewInMemory()
	ctx := context.Background()
	source := id.NewAccountID()
	target := id.NewAccountID()

	require.NoError(t, s.Apply(ctx, source, func(balances map[id.Token]float64) error {
		balances["USDT"] = 30
		balances["ETH"] = 2
		return nil
	}))
	require.NoError(t, s.Apply(ctx, target, func(balances map[id.Token]float64) error {
		balances["USDT"] = 70
		return nil
	}))

	moved, err := s.TransferAll(ctx, source, target)
	require.NoError(t, err)
	assert.Equal(t, map[id.Token]float64{"USDT": 30, "ETH": 2}, moved)

	usdt, err := s.Balance(ctx, target, "USDT")
	require.NoError(t, err)
	assert.Equal(t, 100.0, usdt)

	eth, err := s.Balance(ctx, target, "ETH")
	require.NoError(t, err)
	assert.Equal(t, 2.0, eth)

	srcEntries, err := s.Balances(ctx, source)
	require.NoError(t, err)
	assert.Empty(t, srcEntries)
}

func TestInMemory_TransferAllSelfRejected(t *testing.T) {
	s := NewInMemory()
	account := id.NewAccountID()

	_, err := s.TransferAll(context.Background(), account, account)
	assert.ErrorIs(t, err, sentinel.ErrInvalidState)
}

func TestInMemory_ConcurrentTransfersDoNotDeadlock(t *testing.T) {
	s := NewInMemory()
	ctx := context.Background()
	a := id.NewAccountID()
	b := id.NewAccountID()
	c := id.NewAccountID()

	for _, acct := range []id.AccountID{a, b} {
		require.NoError(t, s.Apply(ctx, acct, func(balances map[id.Token]float64) error {
			balances["USDT"] = 50
			return nil
		}))
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		_, _ = s.TransferAll(ctx, a, c)
	}()
	go func() {
		defer wg.Done()
		_, _ = s.TransferAll(ctx, b, c)
	}()
	wg.Wait()

	got, err := s.Balance(ctx, c, "USDT")
	require.NoError(t, err)
	assert.Equal(t, 100.0, got)
}
