// Package service implements distribution pools: creating a fixed-total
// giveaway and handing out shares to claiming accounts until the pool is
// drained or expires.
package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"redpocket/internal/platform/metrics"
	"redpocket/internal/pool/models"
	id "redpocket/pkg/domain"
	dErrors "redpocket/pkg/domain-errors"
	audit "redpocket/pkg/platform/audit"
	"redpocket/pkg/platform/sentinel"
	txcontext "redpocket/pkg/platform/tx"
	"redpocket/pkg/requestcontext"
)

// PoolStore is the persistence boundary for pools and claim records.
// Execute must serialize all mutation of one pool.
type PoolStore interface {
	Create(ctx context.Context, pool *models.DistributionPool) error
	Find(ctx context.Context, poolID id.PoolID) (*models.DistributionPool, error)
	Execute(ctx context.Context, poolID id.PoolID,
		validate func(pool *models.DistributionPool, claims map[id.AccountID]models.ClaimRecord) error,
		apply func(pool *models.DistributionPool) (models.ClaimRecord, error)) error
	// ReleaseClaim undoes a claim: the record is removed and its amount and
	// share return to the pool. Compensation path for a failed ledger credit.
	ReleaseClaim(ctx context.Context, poolID id.PoolID, accountID id.AccountID) error
	FindClaim(ctx context.Context, poolID id.PoolID, accountID id.AccountID) (*models.ClaimRecord, error)
	ClaimsByAccount(ctx context.Context, accountID id.AccountID) ([]models.ClaimRecord, error)
}

// Ledger is the balance side effect boundary: a successful claim credits the
// claimer.
type Ledger interface {
	Credit(ctx context.Context, accountID id.AccountID, token id.Token, amount float64) error
}

// AuditPublisher is the audit sink boundary.
type AuditPublisher interface {
	Emit(ctx context.Context, event audit.Event) error
}

// Service orchestrates pool creation and claims.
type Service struct {
	pools   PoolStore
	ledger  Ledger
	policy  models.DistributionPolicy
	runner  txcontext.Runner
	logger  *slog.Logger
	auditor AuditPublisher
	metrics *metrics.Metrics
}

// Option configures a Service.
type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

func WithAuditPublisher(publisher AuditPublisher) Option {
	return func(s *Service) { s.auditor = publisher }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithPolicy overrides the default equal-split distribution policy.
func WithPolicy(policy models.DistributionPolicy) Option {
	return func(s *Service) { s.policy = policy }
}

// WithTxRunner sets the transaction runner that makes the claim record and
// its ledger credit one atomic unit on SQL stores.
func WithTxRunner(runner txcontext.Runner) Option {
	return func(s *Service) { s.runner = runner }
}

// New constructs a pool Service.
func New(pools PoolStore, ledger Ledger, opts ...Option) *Service {
	s := &Service{
		pools:  pools,
		ledger: ledger,
		policy: models.EqualSplit{},
		runner: txcontext.NewNoop(),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Create validates the parameters and persists a new pool.
func (s *Service) Create(ctx context.Context, creator id.AccountID, token id.Token, totalAmount float64, totalShares int, expiresAt time.Time) (*models.DistributionPool, error) {
	now := requestcontext.Now(ctx)
	pool, err := models.NewDistributionPool(creator, token, totalAmount, totalShares, now, expiresAt)
	if err != nil {
		return nil, err
	}

	if err := s.pools.Create(ctx, pool); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to create pool")
	}

	if s.metrics != nil {
		s.metrics.PoolsCreated.Inc()
	}
	s.emitAudit(ctx, audit.Event{
		EntityType: "pool",
		EntityID:   pool.ID.String(),
		Actor:      creator.String(),
		Action:     audit.EventPoolCreated,
		After:      pool,
	})
	return pool, nil
}

// Claim grants one share of the pool to accountID, credits the account's
// balance, and records the claim; the record and the credit land together or
// not at all. Failure checks run in a fixed order: not found, then expired,
// then exhausted, then already claimed. Claims on one pool are serialized by
// the store, so the remaining counters never race.
func (s *Service) Claim(ctx context.Context, poolID id.PoolID, accountID id.AccountID) (float64, error) {
	if accountID.IsNil() {
		return 0, dErrors.New(dErrors.CodeInvalidInput, "account id is required")
	}

	now := requestcontext.Now(ctx)
	var (
		granted models.ClaimRecord
		token   id.Token
	)

	err := s.runner.RunInTx(ctx, func(txCtx context.Context) error {
		err := s.pools.Execute(txCtx, poolID,
			func(pool *models.DistributionPool, claims map[id.AccountID]models.ClaimRecord) error {
				token = pool.Token
				if pool.Expired(now) {
					return dErrors.New(dErrors.CodeExpired, "pool has expired")
				}
				if pool.Exhausted() {
					return dErrors.New(dErrors.CodeExhausted, "pool is exhausted")
				}
				if _, claimed := claims[accountID]; claimed {
					return dErrors.New(dErrors.CodeAlreadyClaimed, "account already claimed this pool")
				}
				return nil
			},
			func(pool *models.DistributionPool) (models.ClaimRecord, error) {
				amount := s.policy.NextAmount(pool.RemainingAmount, pool.RemainingShares)
				pool.RemainingAmount -= amount
				pool.RemainingShares--
				if pool.RemainingShares == 0 {
					pool.RemainingAmount = 0
				}
				granted = models.ClaimRecord{
					PoolID:    poolID,
					AccountID: accountID,
					Amount:    amount,
					ClaimedAt: now,
				}
				return granted, nil
			},
		)
		if err != nil {
			return err
		}

		if err := s.ledger.Credit(txCtx, accountID, token, granted.Amount); err != nil {
			// The SQL runner discards the claim with the transaction; the
			// memory stores have none, so hand the share back explicitly.
			if relErr := s.pools.ReleaseClaim(txCtx, poolID, accountID); relErr != nil {
				s.logger.Error("failed to release claim after credit failure",
					"pool_id", poolID.String(), "account_id", accountID.String(),
					"amount", granted.Amount, "error", relErr)
			}
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to credit claim")
		}
		return nil
	})
	if err != nil {
		s.countClaimFailure(err)
		if errors.Is(err, sentinel.ErrNotFound) {
			return 0, dErrors.New(dErrors.CodeNotFound, "pool not found")
		}
		if errors.Is(err, sentinel.ErrConflict) {
			return 0, dErrors.New(dErrors.CodeAlreadyClaimed, "account already claimed this pool")
		}
		return 0, err
	}

	if s.metrics != nil {
		s.metrics.ClaimsTotal.Inc()
	}
	s.emitAudit(ctx, audit.Event{
		EntityType: "pool",
		EntityID:   poolID.String(),
		Actor:      accountID.String(),
		Action:     audit.EventPoolClaimed,
		After:      granted,
	})
	return granted.Amount, nil
}

func (s *Service) countClaimFailure(err error) {
	if s.metrics == nil {
		return
	}
	reason := "internal"
	switch {
	case dErrors.HasCode(err, dErrors.CodeExpired):
		reason = "expired"
	case dErrors.HasCode(err, dErrors.CodeExhausted):
		reason = "exhausted"
	case dErrors.HasCode(err, dErrors.CodeAlreadyClaimed), errors.Is(err, sentinel.ErrConflict):
		reason = "already_claimed"
	case errors.Is(err, sentinel.ErrNotFound):
		reason = "not_found"
	}
	s.metrics.ClaimFailures.WithLabelValues(reason).Inc()
}

// Get returns the pool's current state.
func (s *Service) Get(ctx context.Context, poolID id.PoolID) (*models.DistributionPool, error) {
	pool, err := s.pools.Find(ctx, poolID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "pool not found")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load pool")
	}
	return pool, nil
}

// ClaimsByAccount lists the account's claim history, newest first.
func (s *Service) ClaimsByAccount(ctx context.Context, accountID id.AccountID) ([]models.ClaimRecord, error) {
	records, err := s.pools.ClaimsByAccount(ctx, accountID)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list claims")
	}
	return records, nil
}

func (s *Service) emitAudit(ctx context.Context, event audit.Event) {
	if s.auditor == nil {
		return
	}
	event.RequestID = requestcontext.RequestID(ctx)
	if err := s.auditor.Emit(ctx, event); err != nil {
		s.logger.Warn("failed to emit audit event", "action", event.Action, "error", err)
	}
}
