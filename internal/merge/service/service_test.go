package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	identitymodels "redpocket/internal/identity/models"
	identitystore "redpocket/internal/identity/store"
	ledgerstore "redpocket/internal/ledger/store"
	"redpocket/internal/merge/models"
	"redpocket/internal/merge/store"
	poolmodels "redpocket/internal/pool/models"
	poolstore "redpocket/internal/pool/store"
	id "redpocket/pkg/domain"
	dErrors "redpocket/pkg/domain-errors"
	txcontext "redpocket/pkg/platform/tx"
	"redpocket/pkg/requestcontext"
)

// capturingDelivery records the issued verification code so tests can
// complete the flow.
type capturingDelivery struct {
	mu   sync.Mutex
	code string
}

func (d *capturingDelivery) Deliver(_ context.Context, _ id.AccountID, code string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.code = code
	return nil
}

func (d *capturingDelivery) Code() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.code
}

type fixture struct {
	coord    *Coordinator
	accounts *identitystore.InMemory
	ledger   *ledgerstore.InMemory
	pools    *poolstore.InMemory
	delivery *capturingDelivery
}

func newFixture() *fixture {
	accounts := identitystore.NewInMemory()
	ledger := ledgerstore.NewInMemory()
	pools := poolstore.NewInMemory()
	delivery := &capturingDelivery{}
	coord := New(store.NewInMemory(), store.NewMemoryCodeStore(),
		accounts, pools, ledger, txcontext.NewNoop(),
		WithCodeDelivery(delivery))
	return &fixture{coord: coord, accounts: accounts, ledger: ledger, pools: pools, delivery: delivery}
}

func (f *fixture) createAccount(t *testing.T, platform id.Platform, platformID string) id.AccountID {
	t.Helper()
	account, err := identitymodels.NewUserAccount(id.NewAccountID(), "0xwallet-"+platformID,
		identitymodels.PlatformIdentity{
			Platform:   platform,
			PlatformID: platformID,
			LinkedAt:   time.Now(),
			Verified:   true,
		})
	require.NoError(t, err)
	require.NoError(t, f.accounts.Create(context.Background(), account))
	return account.ID
}

func TestRequest_SelfMergeForbidden(t *testing.T) {
	f := newFixture()
	account := f.createAccount(t, id.PlatformTelegram, "111")

	_, err := f.coord.Request(context.Background(), account, account)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeSelfMergeForbidden))
}

func TestRequest_BothAccountsMustExist(t *testing.T) {
	f := newFixture()
	account := f.createAccount(t, id.PlatformTelegram, "111")

	_, err := f.coord.Request(context.Background(), account, id.NewAccountID())
	assert.True(t, dErrors.HasCode(err, dErrors.CodeNotFound))

	_, err = f.coord.Request(context.Background(), id.NewAccountID(), account)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeNotFound))
}

func TestComplete_MovesEverythingAndDeletesSource(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	source := f.createAccount(t, id.PlatformTelegram, "111")
	target := f.createAccount(t, id.PlatformDiscord, "222")

	// Seed balances on both sides and a claim record on the source.
	require.NoError(t, f.ledger.Apply(ctx, source, func(b map[id.Token]float64) error {
		b["USDT"] = 30
		b["ETH"] = 1
		return nil
	}))
	require.NoError(t, f.ledger.Apply(ctx, target, func(b map[id.Token]float64) error {
		b["USDT"] = 70
		return nil
	}))
	pool := seedPool(t, f.pools, source)

	request, err := f.coord.Request(ctx, source, target)
	require.NoError(t, err)

	result, err := f.coord.Complete(ctx, request.ID, f.delivery.Code())
	require.NoError(t, err)

	assert.Equal(t, models.StatusCompleted, result.Request.Status)
	assert.Equal(t, 1, result.MergedIdentities)
	assert.Equal(t, 1, result.MergedClaims)
	assert.Equal(t, map[id.Token]float64{"USDT": 30, "ETH": 1}, result.MergedBalances)

	// Balances folded, totals conserved.
	usdt, err := f.ledger.Balance(ctx, target, "USDT")
	require.NoError(t, err)
	assert.Equal(t, 100.0, usdt)

	// Identity union: target now holds both platform bindings.
	merged, err := f.accounts.FindByID(ctx, target)
	require.NoError(t, err)
	assert.Len(t, merged.Identities, 2)

	// Source is gone and its binding resolves to the target.
	_, err = f.accounts.FindByID(ctx, source)
	assert.Error(t, err)
	rehomed, err := f.accounts.FindByIdentity(ctx, identitymodels.IdentityKey{
		Platform: id.PlatformTelegram, PlatformID: "111",
	})
	require.NoError(t, err)
	assert.Equal(t, target, rehomed.ID)

	// The claim record survives under the target: a future claim by the
	// merged account on the same pool must still be rejected.
	claim, err := f.pools.FindClaim(ctx, pool, target)
	require.NoError(t, err)
	assert.Equal(t, target, claim.AccountID)
}

func seedPool(t *testing.T, pools *poolstore.InMemory, claimer id.AccountID) id.PoolID {
	t.Helper()
	ctx := context.Background()
	pool, err := poolmodels.NewDistributionPool(id.NewAccountID(), "USDT", 100, 5,
		time.Now(), time.Now().Add(time.Hour))
	require.NoError(t, err)
	require.NoError(t, pools.Create(ctx, pool))
	require.NoError(t, pools.Execute(ctx, pool.ID,
		func(*poolmodels.DistributionPool, map[id.AccountID]poolmodels.ClaimRecord) error { return nil },
		func(p *poolmodels.DistributionPool) (poolmodels.ClaimRecord, error) {
			p.RemainingAmount -= 20
			p.RemainingShares--
			return poolmodels.ClaimRecord{
				PoolID: pool.ID, AccountID: claimer, Amount: 20, ClaimedAt: time.Now(),
			}, nil
		}))
	return pool.ID
}

func TestComplete_InvalidCode(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	source := f.createAccount(t, id.PlatformTelegram, "111")
	target := f.createAccount(t, id.PlatformDiscord, "222")

	request, err := f.coord.Request(ctx, source, target)
	require.NoError(t, err)

	_, err = f.coord.Complete(ctx, request.ID, "000000")
	if f.delivery.Code() == "000000" {
		t.Skip("generated code collided with the guess")
	}
	assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidVerificationCode))

	// The failed attempt must not have touched the accounts.
	_, err = f.accounts.FindByID(ctx, source)
	assert.NoError(t, err)
}

func TestComplete_ExpiredCode(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	source := f.createAccount(t, id.PlatformTelegram, "111")
	target := f.createAccount(t, id.PlatformDiscord, "222")

	coord := New(store.NewInMemory(), store.NewMemoryCodeStore(),
		f.accounts, f.pools, f.ledger, txcontext.NewNoop(),
		WithCodeDelivery(f.delivery), WithCodeTTL(-time.Second))

	request, err := coord.Request(ctx, source, target)
	require.NoError(t, err)

	_, err = coord.Complete(ctx, request.ID, f.delivery.Code())
	assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidVerificationCode))
}

func TestComplete_NotFoundAndNotPending(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	source := f.createAccount(t, id.PlatformTelegram, "111")
	target := f.createAccount(t, id.PlatformDiscord, "222")

	_, err := f.coord.Complete(ctx, id.NewMergeID(), "123456")
	assert.True(t, dErrors.HasCode(err, dErrors.CodeNotFound))

	request, err := f.coord.Request(ctx, source, target)
	require.NoError(t, err)
	_, err = f.coord.Complete(ctx, request.ID, f.delivery.Code())
	require.NoError(t, err)

	// Completing twice is an invalid state, not a silent success.
	_, err = f.coord.Complete(ctx, request.ID, f.delivery.Code())
	assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidState))
}

func TestRequest_IssuesSixDigitCode(t *testing.T) {
	f := newFixture()
	source := f.createAccount(t, id.PlatformTelegram, "111")
	target := f.createAccount(t, id.PlatformDiscord, "222")

	_, err := f.coord.Request(context.Background(), source, target)
	require.NoError(t, err)
	assert.Len(t, f.delivery.Code(), 6)
}

func TestComplete_UsesRequestTime(t *testing.T) {
	f := newFixture()
	source := f.createAccount(t, id.PlatformTelegram, "111")
	target := f.createAccount(t, id.PlatformDiscord, "222")

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	ctx := requestcontext.WithTime(context.Background(), now)

	request, err := f.coord.Request(ctx, source, target)
	require.NoError(t, err)
	result, err := f.coord.Complete(ctx, request.ID, f.delivery.Code())
	require.NoError(t, err)
	assert.Equal(t, now, result.Request.CompletedAt)
}
