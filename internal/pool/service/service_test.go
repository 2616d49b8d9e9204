package service

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	ledgerservice "redpocket/internal/ledger/service"
	ledgerstore "redpocket/internal/ledger/store"
	"redpocket/internal/pool/models"
	"redpocket/internal/pool/store"
	id "redpocket/pkg/domain"
	dErrors "redpocket/pkg/domain-errors"
	audit "redpocket/pkg/platform/audit"
	auditpublisher "redpocket/pkg/platform/audit/publisher"
	auditmemory "redpocket/pkg/platform/audit/store/memory"
	"redpocket/pkg/requestcontext"
)

const amountTolerance = 1e-6

type fixture struct {
	svc    *Service
	ledger *ledgerservice.Ledger
}

func newFixture() *fixture {
	ledger := ledgerservice.New(ledgerstore.NewInMemory())
	return &fixture{
		svc:    New(store.NewInMemory(), ledger),
		ledger: ledger,
	}
}

func createPool(t *testing.T, f *fixture, amount float64, shares int) id.PoolID {
	t.Helper()
	pool, err := f.svc.Create(context.Background(), id.NewAccountID(), "USDT", amount, shares,
		time.Now().Add(time.Hour))
	require.NoError(t, err)
	return pool.ID
}

func TestCreate_Validation(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	creator := id.NewAccountID()
	future := time.Now().Add(time.Hour)

	_, err := f.svc.Create(ctx, creator, "USDT", 0, 5, future)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput))

	_, err = f.svc.Create(ctx, creator, "USDT", 100, 0, future)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput))

	_, err = f.svc.Create(ctx, creator, "USDT", 100, 5, time.Now().Add(-time.Minute))
	assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput))
}

func TestClaim_ConservationAcrossFullDrain(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	const total = 1000.0
	const shares = 10
	poolID := createPool(t, f, total, shares)

	sum := 0.0
	for i := 0; i < shares; i++ {
		amount, err := f.svc.Claim(ctx, poolID, id.NewAccountID())
		require.NoError(t, err)
		assert.InDelta(t, 100.0, amount, amountTolerance)
		sum += amount
	}

	assert.InDelta(t, total, sum, amountTolerance)

	pool, err := f.svc.Get(ctx, poolID)
	require.NoError(t, err)
	assert.Zero(t, pool.RemainingShares)
	assert.Zero(t, pool.RemainingAmount)
}

func TestClaim_FinalShareDrainsExactly(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	// 10/3 does not divide evenly; the last claim must still drain to 0.
	poolID := createPool(t, f, 10, 3)

	var last float64
	for i := 0; i < 3; i++ {
		amount, err := f.svc.Claim(ctx, poolID, id.NewAccountID())
		require.NoError(t, err)
		last = amount
	}

	pool, err := f.svc.Get(ctx, poolID)
	require.NoError(t, err)
	assert.Equal(t, 0.0, pool.RemainingAmount)
	assert.True(t, last > 0)
}

func TestClaim_ExactlyOncePerAccount(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	poolID := createPool(t, f, 100, 5)
	account := id.NewAccountID()

	first, err := f.svc.Claim(ctx, poolID, account)
	require.NoError(t, err)
	assert.InDelta(t, 20.0, first, amountTolerance)

	_, err = f.svc.Claim(ctx, poolID, account)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeAlreadyClaimed))

	// The failed second claim must not credit the account again.
	balance, err := f.ledger.Balance(ctx, account, "USDT")
	require.NoError(t, err)
	assert.InDelta(t, first, balance, amountTolerance)
}

func TestClaim_Exhausted(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	poolID := createPool(t, f, 50, 2)

	for i := 0; i < 2; i++ {
		_, err := f.svc.Claim(ctx, poolID, id.NewAccountID())
		require.NoError(t, err)
	}

	_, err := f.svc.Claim(ctx, poolID, id.NewAccountID())
	assert.True(t, dErrors.HasCode(err, dErrors.CodeExhausted))
}

func TestClaim_Expired(t *testing.T) {
	f := newFixture()
	now := time.Now()
	ctx := requestcontext.WithTime(context.Background(), now)

	pool, err := f.svc.Create(ctx, id.NewAccountID(), "USDT", 100, 5, now.Add(time.Minute))
	require.NoError(t, err)

	late := requestcontext.WithTime(context.Background(), now.Add(2*time.Minute))
	_, err = f.svc.Claim(late, pool.ID, id.NewAccountID())
	assert.True(t, dErrors.HasCode(err, dErrors.CodeExpired))
}

func TestClaim_ExpiredBeatsExhaustedAndAlreadyClaimed(t *testing.T) {
	f := newFixture()
	now := time.Now()
	ctx := requestcontext.WithTime(context.Background(), now)
	account := id.NewAccountID()

	pool, err := f.svc.Create(ctx, id.NewAccountID(), "USDT", 10, 1, now.Add(time.Minute))
	require.NoError(t, err)
	_, err = f.svc.Claim(ctx, pool.ID, account)
	require.NoError(t, err)

	// Pool is now exhausted AND the account already claimed; after expiry,
	// Expired wins the failure ordering.
	late := requestcontext.WithTime(context.Background(), now.Add(2*time.Minute))
	_, err = f.svc.Claim(late, pool.ID, account)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeExpired))
}

func TestClaim_PoolNotFound(t *testing.T) {
	f := newFixture()
	_, err := f.svc.Claim(context.Background(), id.NewPoolID(), id.NewAccountID())
	assert.True(t, dErrors.HasCode(err, dErrors.CodeNotFound))
}

func TestClaim_ConcurrentClaimersConserveTotal(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	const total = 1000.0
	const shares = 10
	poolID := createPool(t, f, total, shares)

	const claimers = 50
	results := make(chan float64, claimers)
	var wg sync.WaitGroup
	for i := 0; i < claimers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			amount, err := f.svc.Claim(ctx, poolID, id.NewAccountID())
			if err == nil {
				results <- amount
			}
		}()
	}
	wg.Wait()
	close(results)

	granted := 0
	sum := 0.0
	for amount := range results {
		granted++
		sum += amount
	}

	assert.Equal(t, shares, granted)
	assert.InDelta(t, total, sum, amountTolerance)

	pool, err := f.svc.Get(ctx, poolID)
	require.NoError(t, err)
	assert.Zero(t, pool.RemainingShares)
	assert.True(t, math.Abs(pool.RemainingAmount) < amountTolerance)
}

type failingLedger struct {
	err error
}

func (l failingLedger) Credit(context.Context, id.AccountID, id.Token, float64) error {
	return l.err
}

func TestClaim_FailedCreditReleasesClaim(t *testing.T) {
	svc := New(store.NewInMemory(), failingLedger{err: errors.New("ledger down")})
	ctx := context.Background()
	account := id.NewAccountID()

	pool, err := svc.Create(ctx, id.NewAccountID(), "USDT", 100, 4, time.Now().Add(time.Hour))
	require.NoError(t, err)

	_, err = svc.Claim(ctx, pool.ID, account)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeInternal))

	// The grant must not survive without its funds: the share returns to the
	// pool and no claim record remains.
	got, err := svc.Get(ctx, pool.ID)
	require.NoError(t, err)
	assert.Equal(t, 4, got.RemainingShares)
	assert.InDelta(t, 100.0, got.RemainingAmount, amountTolerance)

	records, err := svc.ClaimsByAccount(ctx, account)
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestClaim_EmitsAuditTrail(t *testing.T) {
	sink := auditmemory.NewInMemoryStore()
	pub := auditpublisher.NewPublisher(sink)
	defer pub.Close()

	ledger := ledgerservice.New(ledgerstore.NewInMemory())
	svc := New(store.NewInMemory(), ledger, WithAuditPublisher(pub))
	ctx := context.Background()
	account := id.NewAccountID()

	pool, err := svc.Create(ctx, id.NewAccountID(), "USDT", 100, 4, time.Now().Add(time.Hour))
	require.NoError(t, err)
	amount, err := svc.Claim(ctx, pool.ID, account)
	require.NoError(t, err)

	events, err := pub.List(ctx, pool.ID.String())
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, audit.EventPoolCreated, events[0].Action)
	assert.Equal(t, audit.EventPoolClaimed, events[1].Action)

	record, ok := events[1].After.(models.ClaimRecord)
	require.True(t, ok)
	assert.Equal(t, account, record.AccountID)
	assert.InDelta(t, amount, record.Amount, amountTolerance)
}

func TestClaim_CreditsLedger(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	poolID := createPool(t, f, 100, 4)
	account := id.NewAccountID()

	amount, err := f.svc.Claim(ctx, poolID, account)
	require.NoError(t, err)

	balance, err := f.ledger.Balance(ctx, account, "USDT")
	require.NoError(t, err)
	assert.InDelta(t, amount, balance, amountTolerance)
}

func TestClaimsByAccount(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	account := id.NewAccountID()

	first := createPool(t, f, 100, 5)
	second := createPool(t, f, 50, 2)

	_, err := f.svc.Claim(ctx, first, account)
	require.NoError(t, err)
	_, err = f.svc.Claim(ctx, second, account)
	require.NoError(t, err)

	records, err := f.svc.ClaimsByAccount(ctx, account)
	require.NoError(t, err)
	assert.Len(t, records, 2)
	for _, record := range records {
		assert.Equal(t, account, record.AccountID)
	}
}
