package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	ledgerservice "redpocket/internal/ledger/service"
	ledgerstore "redpocket/internal/ledger/store"
	"redpocket/internal/withdrawal/models"
	"redpocket/internal/withdrawal/settlement"
	"redpocket/internal/withdrawal/store"
	id "redpocket/pkg/domain"
	dErrors "redpocket/pkg/domain-errors"
	"redpocket/pkg/requestcontext"
)

type fixture struct {
	svc       *Service
	processor *Processor
	store     *store.InMemory
	ledger    *ledgerservice.Ledger
	emitter   *settlement.MemoryEmitter
	account   id.AccountID
}

func newFixture(t *testing.T, balance float64) *fixture {
	t.Helper()
	ledger := ledgerservice.New(ledgerstore.NewInMemory())
	wstore := store.NewInMemory()
	emitter := settlement.NewMemoryEmitter()
	svc := New(wstore, ledger, WithQueueSize(16))
	account := id.NewAccountID()
	if balance > 0 {
		require.NoError(t, ledger.Credit(context.Background(), account, "USDT", balance))
	}
	return &fixture{
		svc:       svc,
		processor: NewProcessor(svc, emitter),
		store:     wstore,
		ledger:    ledger,
		emitter:   emitter,
		account:   account,
	}
}

// drainOne synchronously processes the next queued request.
func (f *fixture) drainOne(t *testing.T) {
	t.Helper()
	select {
	case requestID := <-f.svc.queue:
		f.processor.process(context.Background(), requestID)
	default:
		t.Fatal("no queued withdrawal to process")
	}
}

func TestCreate_DebitsImmediately(t *testing.T) {
	f := newFixture(t, 100)
	ctx := context.Background()

	request, err := f.svc.Create(ctx, f.account, id.WithdrawalWallet, 60, "USDT", "0xdest", "polygon")
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, request.Status)

	balance, err := f.ledger.Balance(ctx, f.account, "USDT")
	require.NoError(t, err)
	assert.Equal(t, 40.0, balance)
}

func TestCreate_InsufficientBalance(t *testing.T) {
	f := newFixture(t, 10)

	_, err := f.svc.Create(context.Background(), f.account, id.WithdrawalWallet, 60, "USDT", "0xdest", "polygon")
	assert.True(t, dErrors.HasCode(err, dErrors.CodeInsufficientBalance))
}

func TestCreate_BelowMinimum(t *testing.T) {
	f := newFixture(t, 100)
	ctx := context.Background()

	_, err := f.svc.Create(ctx, f.account, id.WithdrawalWallet, 0.5, "USDT", "0xdest", "polygon")
	assert.True(t, dErrors.HasCode(err, dErrors.CodeBelowMinimum))

	// Fees on ethereum exceed a tiny amount entirely; net would be negative.
	_, err = f.svc.Create(ctx, f.account, id.WithdrawalWallet, 2, "USDT", "0xdest", "ethereum")
	assert.True(t, dErrors.HasCode(err, dErrors.CodeBelowMinimum))

	// Rejected requests must not touch the balance.
	balance, err := f.ledger.Balance(ctx, f.account, "USDT")
	require.NoError(t, err)
	assert.Equal(t, 100.0, balance)
}

func TestProcess_CompletesAndEmitsInstruction(t *testing.T) {
	f := newFixture(t, 100)
	ctx := context.Background()

	request, err := f.svc.Create(ctx, f.account, id.WithdrawalWallet, 50, "USDT", "0xdest", "polygon")
	require.NoError(t, err)
	f.drainOne(t)

	got, err := f.svc.Get(ctx, request.ID, f.account)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, got.Status)
	assert.NotEmpty(t, got.SettlementRef)

	instructions := f.emitter.Instructions()
	require.Len(t, instructions, 1)
	assert.Equal(t, request.ID, instructions[0].RequestID)
	assert.Equal(t, "0xdest", instructions[0].Destination)
	assert.Equal(t, "polygon", instructions[0].Chain)
	// The instruction carries the net amount; fees stay with the platform.
	assert.InDelta(t, request.Fee.NetAmount, instructions[0].Amount, 1e-9)
}

func TestProcess_EmitFailureRefunds(t *testing.T) {
	f := newFixture(t, 100)
	ctx := context.Background()
	f.emitter.FailWith(errors.New("broker down"))

	request, err := f.svc.Create(ctx, f.account, id.WithdrawalWallet, 50, "USDT", "0xdest", "polygon")
	require.NoError(t, err)
	f.drainOne(t)

	got, err := f.svc.Get(ctx, request.ID, f.account)
	require.NoError(t, err)
	assert.Equal(t, models.StatusFailed, got.Status)
	assert.Contains(t, got.FailureReason, "broker down")

	// The full amount comes back, not the net.
	balance, err := f.ledger.Balance(ctx, f.account, "USDT")
	require.NoError(t, err)
	assert.Equal(t, 100.0, balance)
}

func TestCancel_RefundsPending(t *testing.T) {
	f := newFixture(t, 100)
	ctx := context.Background()

	request, err := f.svc.Create(ctx, f.account, id.WithdrawalWallet, 50, "USDT", "0xdest", "polygon")
	require.NoError(t, err)

	cancelled, err := f.svc.Cancel(ctx, request.ID, f.account)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCancelled, cancelled.Status)

	balance, err := f.ledger.Balance(ctx, f.account, "USDT")
	require.NoError(t, err)
	assert.Equal(t, 100.0, balance)
}

func TestCancel_FailsOncePickedUp(t *testing.T) {
	f := newFixture(t, 100)
	ctx := context.Background()

	request, err := f.svc.Create(ctx, f.account, id.WithdrawalWallet, 50, "USDT", "0xdest", "polygon")
	require.NoError(t, err)
	f.drainOne(t)

	_, err = f.svc.Cancel(ctx, request.ID, f.account)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidState))
}

func TestCancel_WrongOwner(t *testing.T) {
	f := newFixture(t, 100)
	ctx := context.Background()

	request, err := f.svc.Create(ctx, f.account, id.WithdrawalWallet, 50, "USDT", "0xdest", "polygon")
	require.NoError(t, err)

	_, err = f.svc.Cancel(ctx, request.ID, id.NewAccountID())
	assert.True(t, dErrors.HasCode(err, dErrors.CodeUnauthorized))
}

func TestGet_WrongOwnerAndMissing(t *testing.T) {
	f := newFixture(t, 100)
	ctx := context.Background()

	request, err := f.svc.Create(ctx, f.account, id.WithdrawalWallet, 50, "USDT", "0xdest", "polygon")
	require.NoError(t, err)

	_, err = f.svc.Get(ctx, request.ID, id.NewAccountID())
	assert.True(t, dErrors.HasCode(err, dErrors.CodeUnauthorized))

	_, err = f.svc.Get(ctx, id.NewWithdrawalID(), f.account)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeNotFound))
}

func TestSweep_RetiresStuckProcessing(t *testing.T) {
	f := newFixture(t, 100)
	now := time.Now()
	ctx := requestcontext.WithTime(context.Background(), now)

	request, err := f.svc.Create(ctx, f.account, id.WithdrawalWallet, 50, "USDT", "0xdest", "polygon")
	require.NoError(t, err)

	// Simulate a worker that picked the request up and crashed.
	require.NoError(t, f.store.Update(ctx, request.ID, func(r *models.WithdrawalRequest) error {
		return r.Transition(models.StatusProcessing, now)
	}))

	later := requestcontext.WithTime(context.Background(), now.Add(10*time.Minute))
	f.processor.sweep(later, f.store)

	got, err := f.svc.Get(ctx, request.ID, f.account)
	require.NoError(t, err)
	assert.Equal(t, models.StatusFailed, got.Status)
	assert.Equal(t, "processing timed out", got.FailureReason)

	balance, err := f.ledger.Balance(ctx, f.account, "USDT")
	require.NoError(t, err)
	assert.Equal(t, 100.0, balance)
}

func TestSweep_LeavesFreshProcessingAlone(t *testing.T) {
	f := newFixture(t, 100)
	now := time.Now()
	ctx := requestcontext.WithTime(context.Background(), now)

	request, err := f.svc.Create(ctx, f.account, id.WithdrawalWallet, 50, "USDT", "0xdest", "polygon")
	require.NoError(t, err)
	require.NoError(t, f.store.Update(ctx, request.ID, func(r *models.WithdrawalRequest) error {
		return r.Transition(models.StatusProcessing, now)
	}))

	soon := requestcontext.WithTime(context.Background(), now.Add(time.Minute))
	f.processor.sweep(soon, f.store)

	got, err := f.svc.Get(ctx, request.ID, f.account)
	require.NoError(t, err)
	assert.Equal(t, models.StatusProcessing, got.Status)
}

func TestSweep_KeysOnProcessingEntryTime(t *testing.T) {
	f := newFixture(t, 100)
	now := time.Now()
	ctx := requestcontext.WithTime(context.Background(), now)

	request, err := f.svc.Create(ctx, f.account, id.WithdrawalWallet, 50, "USDT", "0xdest", "polygon")
	require.NoError(t, err)
	require.NoError(t, f.store.Update(ctx, request.ID, func(r *models.WithdrawalRequest) error {
		return r.Transition(models.StatusProcessing, now)
	}))

	// A later unrelated write must not restart the stuck clock.
	require.NoError(t, f.store.Update(ctx, request.ID, func(r *models.WithdrawalRequest) error {
		r.UpdatedAt = now.Add(9 * time.Minute)
		return nil
	}))

	later := requestcontext.WithTime(context.Background(), now.Add(10*time.Minute))
	f.processor.sweep(later, f.store)

	got, err := f.svc.Get(ctx, request.ID, f.account)
	require.NoError(t, err)
	assert.Equal(t, models.StatusFailed, got.Status)
	assert.Equal(t, "processing timed out", got.FailureReason)
	require.NotNil(t, got.ProcessedAt)
	assert.True(t, got.ProcessedAt.Equal(now))
}

func TestEstimateFee_Validation(t *testing.T) {
	f := newFixture(t, 0)
	ctx := context.Background()

	_, err := f.svc.EstimateFee(ctx, "paypal", 10, "USDT", "")
	assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput))

	_, err = f.svc.EstimateFee(ctx, id.WithdrawalWallet, 0, "USDT", "")
	assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput))

	quote, err := f.svc.EstimateFee(ctx, id.WithdrawalInternal, 10, "USDT", "")
	require.NoError(t, err)
	assert.Equal(t, 10.0, quote.NetAmount)
}

func TestStatusMachine(t *testing.T) {
	now := time.Now()
	w := &models.WithdrawalRequest{Status: models.StatusPending}

	require.NoError(t, w.Transition(models.StatusProcessing, now))
	require.NoError(t, w.Transition(models.StatusCompleted, now))
	assert.True(t, w.Status.Terminal())

	err := w.Transition(models.StatusFailed, now)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidState))
}
