// Package service implements the identity resolver: it maps
// (platform, platformId) pairs to a single canonical account with a
// deterministic wallet binding.
package service

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"redpocket/internal/identity/models"
	"redpocket/internal/platform/metrics"
	id "redpocket/pkg/domain"
	dErrors "redpocket/pkg/domain-errors"
	audit "redpocket/pkg/platform/audit"
	"redpocket/pkg/platform/sentinel"
	"redpocket/pkg/requestcontext"
)

// AccountStore is the persistence boundary for accounts and their identity
// bindings. Implementations must enforce the unique (platform, platformId)
// key under their own locking.
type AccountStore interface {
	// Create persists a new account with its first identity binding.
	// Returns sentinel.ErrConflict when the binding is already taken.
	Create(ctx context.Context, account *models.UserAccount) error
	FindByID(ctx context.Context, accountID id.AccountID) (*models.UserAccount, error)
	FindByIdentity(ctx context.Context, key models.IdentityKey) (*models.UserAccount, error)
	// AddIdentity binds a new identity to an existing account. It is a no-op
	// when the binding already points at the same account and returns
	// sentinel.ErrConflict when it points at a different one.
	AddIdentity(ctx context.Context, accountID id.AccountID, identity models.PlatformIdentity) (*models.UserAccount, error)
}

// AuditPublisher is the audit sink boundary.
type AuditPublisher interface {
	Emit(ctx context.Context, event audit.Event) error
}

// Resolver orchestrates identity resolution and linking.
type Resolver struct {
	accounts AccountStore
	deriver  WalletAddressDeriver
	logger   *slog.Logger
	auditor  AuditPublisher
	metrics  *metrics.Metrics
}

// Option configures a Resolver.
type Option func(*Resolver)

func WithLogger(logger *slog.Logger) Option {
	return func(r *Resolver) { r.logger = logger }
}

func WithAuditPublisher(publisher AuditPublisher) Option {
	return func(r *Resolver) { r.auditor = publisher }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Resolver) { r.metrics = m }
}

// NewResolver constructs a Resolver.
func NewResolver(accounts AccountStore, deriver WalletAddressDeriver, opts ...Option) *Resolver {
	r := &Resolver{
		accounts: accounts,
		deriver:  deriver,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve returns the account bound to (platform, platformId), creating one
// when the identity is unknown. Idempotent: the identity→account and
// identity→wallet mappings never change once created.
func (r *Resolver) Resolve(ctx context.Context, platform id.Platform, platformID, displayName string) (*models.UserAccount, error) {
	platformID = strings.TrimSpace(platformID)
	if platformID == "" {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "platform id cannot be empty")
	}
	if !platform.IsValid() {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "unsupported platform")
	}

	key := models.IdentityKey{Platform: platform, PlatformID: platformID}
	account, err := r.accounts.FindByIdentity(ctx, key)
	if err == nil {
		return account, nil
	}
	if !errors.Is(err, sentinel.ErrNotFound) {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to resolve identity")
	}

	return r.createAccount(ctx, key, displayName)
}

func (r *Resolver) createAccount(ctx context.Context, key models.IdentityKey, displayName string) (*models.UserAccount, error) {
	walletAddress, err := r.deriver.Derive(key.Platform, key.PlatformID)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to derive wallet address")
	}

	now := requestcontext.Now(ctx)
	account, err := models.NewUserAccount(id.NewAccountID(), walletAddress, models.PlatformIdentity{
		Platform:    key.Platform,
		PlatformID:  key.PlatformID,
		DisplayName: displayName,
		LinkedAt:    now,
		Verified:    true,
	})
	if err != nil {
		return nil, err
	}

	if err := r.accounts.Create(ctx, account); err != nil {
		if errors.Is(err, sentinel.ErrConflict) {
			// Lost a creation race: the binding now exists, return it.
			existing, findErr := r.accounts.FindByIdentity(ctx, key)
			if findErr != nil {
				return nil, dErrors.Wrap(findErr, dErrors.CodeInternal, "failed to resolve identity after conflict")
			}
			return existing, nil
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to create account")
	}

	r.emitAudit(ctx, audit.Event{
		EntityType: "account",
		EntityID:   account.ID.String(),
		Actor:      account.ID.String(),
		Action:     audit.EventAccountCreated,
		After:      string(key.Platform) + ":" + key.PlatformID + " -> " + account.PrimaryWalletAddress,
	})
	if r.metrics != nil {
		r.metrics.AccountsCreated.Inc()
	}
	return account, nil
}

// Link attaches a new identity to an existing account. It is a no-op success
// when the identity is already bound to the same account and fails with
// CodeIdentityConflict when bound to a different one.
func (r *Resolver) Link(ctx context.Context, accountID id.AccountID, platform id.Platform, platformID, displayName string) (*models.UserAccount, error) {
	platformID = strings.TrimSpace(platformID)
	if platformID == "" {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "platform id cannot be empty")
	}
	if !platform.IsValid() {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "unsupported platform")
	}

	identity := models.PlatformIdentity{
		Platform:    platform,
		PlatformID:  platformID,
		DisplayName: displayName,
		LinkedAt:    requestcontext.Now(ctx),
		Verified:    true,
	}

	account, err := r.accounts.AddIdentity(ctx, accountID, identity)
	if err != nil {
		switch {
		case errors.Is(err, sentinel.ErrNotFound):
			return nil, dErrors.New(dErrors.CodeNotFound, "account not found")
		case errors.Is(err, sentinel.ErrConflict):
			return nil, dErrors.New(dErrors.CodeIdentityConflict, "identity is bound to a different account")
		default:
			return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to link identity")
		}
	}

	r.emitAudit(ctx, audit.Event{
		EntityType: "account",
		EntityID:   accountID.String(),
		Actor:      requestcontext.ActorID(ctx).String(),
		Action:     audit.EventIdentityLinked,
		After:      string(platform) + ":" + platformID,
	})
	return account, nil
}

// Get returns an account by ID.
func (r *Resolver) Get(ctx context.Context, accountID id.AccountID) (*models.UserAccount, error) {
	account, err := r.accounts.FindByID(ctx, accountID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "account not found")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load account")
	}
	return account, nil
}

func (r *Resolver) emitAudit(ctx context.Context, event audit.Event) {
	if r.auditor == nil {
		return
	}
	event.RequestID = requestcontext.RequestID(ctx)
	if err := r.auditor.Emit(ctx, event); err != nil {
		r.logger.ErrorContext(ctx, "audit emit failed", "action", event.Action, "error", err)
	}
}
