// Package service implements account merges: absorbing one account's
// identities, claim records, and balances into another after out-of-band
// verification.
package service

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	identitymodels "redpocket/internal/identity/models"
	"redpocket/internal/merge/models"
	"redpocket/internal/platform/metrics"
	id "redpocket/pkg/domain"
	dErrors "redpocket/pkg/domain-errors"
	audit "redpocket/pkg/platform/audit"
	"redpocket/pkg/platform/sentinel"
	txcontext "redpocket/pkg/platform/tx"
	"redpocket/pkg/requestcontext"
)

// MergeStore is the persistence boundary for merge requests.
type MergeStore interface {
	Create(ctx context.Context, request *models.MergeRequest) error
	Find(ctx context.Context, requestID id.MergeID) (*models.MergeRequest, error)
	Update(ctx context.Context, requestID id.MergeID, fn func(request *models.MergeRequest) error) error
}

// CodeStore holds verification codes with a TTL.
type CodeStore interface {
	Put(ctx context.Context, requestID id.MergeID, code string, ttl time.Duration) error
	Get(ctx context.Context, requestID id.MergeID) (string, error)
	Delete(ctx context.Context, requestID id.MergeID) error
}

// IdentityStore is the identity side of the merge: the same store the
// resolver uses, narrowed to what a merge touches.
type IdentityStore interface {
	FindByID(ctx context.Context, accountID id.AccountID) (*identitymodels.UserAccount, error)
	// MoveIdentities re-binds every source identity to target, dropping keys
	// the target already holds, and returns how many moved.
	MoveIdentities(ctx context.Context, source, target id.AccountID) (int, error)
	DeleteAccount(ctx context.Context, accountID id.AccountID) error
}

// ClaimStore re-homes claim records during the merge.
type ClaimStore interface {
	ReassignClaims(ctx context.Context, source, target id.AccountID) (int, error)
}

// BalanceStore moves balances during the merge.
type BalanceStore interface {
	TransferAll(ctx context.Context, source, target id.AccountID) (map[id.Token]float64, error)
}

// AuditPublisher is the audit sink boundary.
type AuditPublisher interface {
	Emit(ctx context.Context, event audit.Event) error
}

// CodeDelivery hands the verification code to the account owner out-of-band.
type CodeDelivery interface {
	Deliver(ctx context.Context, accountID id.AccountID, code string) error
}

// Coordinator orchestrates the two-step merge flow.
type Coordinator struct {
	merges   MergeStore
	codes    CodeStore
	accounts IdentityStore
	claims   ClaimStore
	balances BalanceStore
	runner   txcontext.Runner
	delivery CodeDelivery
	codeTTL  time.Duration
	logger   *slog.Logger
	auditor  AuditPublisher
	metrics  *metrics.Metrics
}

// Option configures a Coordinator.
type Option func(*Coordinator)

func WithLogger(logger *slog.Logger) Option {
	return func(c *Coordinator) { c.logger = logger }
}

func WithAuditPublisher(publisher AuditPublisher) Option {
	return func(c *Coordinator) { c.auditor = publisher }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Coordinator) { c.metrics = m }
}

func WithCodeTTL(ttl time.Duration) Option {
	return func(c *Coordinator) { c.codeTTL = ttl }
}

func WithCodeDelivery(delivery CodeDelivery) Option {
	return func(c *Coordinator) { c.delivery = delivery }
}

// New constructs a merge Coordinator.
func New(merges MergeStore, codes CodeStore, accounts IdentityStore, claims ClaimStore, balances BalanceStore, runner txcontext.Runner, opts ...Option) *Coordinator {
	c := &Coordinator{
		merges:   merges,
		codes:    codes,
		accounts: accounts,
		claims:   claims,
		balances: balances,
		runner:   runner,
		codeTTL:  15 * time.Minute,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Request opens a merge of source into target and issues the verification
// code. Both accounts must exist and differ.
func (c *Coordinator) Request(ctx context.Context, source, target id.AccountID) (*models.MergeRequest, error) {
	if source.IsNil() || target.IsNil() {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "source and target account ids are required")
	}
	if source == target {
		return nil, dErrors.New(dErrors.CodeSelfMergeForbidden, "cannot merge an account into itself")
	}
	for _, accountID := range []id.AccountID{source, target} {
		if _, err := c.accounts.FindByID(ctx, accountID); err != nil {
			if errors.Is(err, sentinel.ErrNotFound) {
				return nil, dErrors.Newf(dErrors.CodeNotFound, "account %s not found", accountID)
			}
			return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load account")
		}
	}

	now := requestcontext.Now(ctx)
	request := &models.MergeRequest{
		ID:        id.NewMergeID(),
		SourceID:  source,
		TargetID:  target,
		Status:    models.StatusPending,
		CreatedAt: now,
	}
	if err := c.merges.Create(ctx, request); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to create merge request")
	}

	code, err := generateCode()
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to generate verification code")
	}
	if err := c.codes.Put(ctx, request.ID, code, c.codeTTL); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to store verification code")
	}
	if c.delivery != nil {
		if err := c.delivery.Deliver(ctx, source, code); err != nil {
			c.logger.Error("failed to deliver merge verification code",
				"merge_id", request.ID.String(), "error", err)
		}
	}

	c.emitAudit(ctx, audit.Event{
		EntityType: "merge",
		EntityID:   request.ID.String(),
		Actor:      target.String(),
		Action:     audit.EventMergeRequested,
		After:      request,
	})
	return request, nil
}

// Complete verifies the code and executes the merge atomically: identities
// union into the target, claim records re-home, every balance folds in, the
// source account is deleted, and the request is marked Completed. All checks
// precede the first mutation.
func (c *Coordinator) Complete(ctx context.Context, requestID id.MergeID, code string) (*models.MergeResult, error) {
	request, err := c.merges.Find(ctx, requestID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "merge request not found")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load merge request")
	}
	if request.Status != models.StatusPending {
		return nil, dErrors.Newf(dErrors.CodeInvalidState, "merge request is %s", request.Status)
	}

	stored, err := c.codes.Get(ctx, requestID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) || errors.Is(err, sentinel.ErrExpired) {
			return nil, dErrors.New(dErrors.CodeInvalidVerificationCode, "verification code expired or missing")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load verification code")
	}
	if subtle.ConstantTimeCompare([]byte(stored), []byte(code)) != 1 {
		return nil, dErrors.New(dErrors.CodeInvalidVerificationCode, "verification code does not match")
	}

	now := requestcontext.Now(ctx)
	result := &models.MergeResult{}
	err = c.runner.RunInTx(ctx, func(txCtx context.Context) error {
		movedIdentities, err := c.accounts.MoveIdentities(txCtx, request.SourceID, request.TargetID)
		if err != nil {
			return fmt.Errorf("move identities: %w", err)
		}
		movedClaims, err := c.claims.ReassignClaims(txCtx, request.SourceID, request.TargetID)
		if err != nil {
			return fmt.Errorf("reassign claims: %w", err)
		}
		movedBalances, err := c.balances.TransferAll(txCtx, request.SourceID, request.TargetID)
		if err != nil {
			return fmt.Errorf("transfer balances: %w", err)
		}
		if err := c.accounts.DeleteAccount(txCtx, request.SourceID); err != nil {
			return fmt.Errorf("delete source account: %w", err)
		}

		if err := c.merges.Update(txCtx, requestID, func(r *models.MergeRequest) error {
			if r.Status != models.StatusPending {
				return dErrors.Newf(dErrors.CodeInvalidState, "merge request is %s", r.Status)
			}
			r.Status = models.StatusCompleted
			r.CompletedAt = now
			result.Request = r
			return nil
		}); err != nil {
			return err
		}

		result.MergedIdentities = movedIdentities
		result.MergedClaims = movedClaims
		result.MergedBalances = movedBalances
		return nil
	})
	if err != nil {
		if dErrors.HasCode(err, dErrors.CodeInvalidState) {
			return nil, err
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "merge failed")
	}

	if err := c.codes.Delete(ctx, requestID); err != nil {
		c.logger.Warn("failed to delete used verification code",
			"merge_id", requestID.String(), "error", err)
	}
	if c.metrics != nil {
		c.metrics.MergesCompleted.Inc()
	}
	c.emitAudit(ctx, audit.Event{
		EntityType: "merge",
		EntityID:   requestID.String(),
		Actor:      request.TargetID.String(),
		Action:     audit.EventMergeCompleted,
		After:      result,
	})
	return result, nil
}

// Get returns one merge request.
func (c *Coordinator) Get(ctx context.Context, requestID id.MergeID) (*models.MergeRequest, error) {
	request, err := c.merges.Find(ctx, requestID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "merge request not found")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load merge request")
	}
	return request, nil
}

// generateCode returns a 6-digit numeric code from crypto/rand.
func generateCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(1_000_000))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%06d", n.Int64()), nil
}

func (c *Coordinator) emitAudit(ctx context.Context, event audit.Event) {
	if c.auditor == nil {
		return
	}
	event.RequestID = requestcontext.RequestID(ctx)
	if err := c.auditor.Emit(ctx, event); err != nil {
		c.logger.Warn("failed to emit audit event", "action", event.Action, "error", err)
	}
}
