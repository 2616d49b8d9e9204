package models

import (
	"time"

	id "redpocket/pkg/domain"
	dErrors "redpocket/pkg/domain-errors"
)

// PlatformIdentity is one external social-platform identity bound to a
// canonical account. Unique key = (Platform, PlatformID).
//
// Invariants:
//   - A binding belongs to at most one account at any time
//   - Bindings are immutable once created; they move only through merge
type PlatformIdentity struct {
	Platform    id.Platform `json:"platform"`
	PlatformID  string      `json:"platform_id"`
	DisplayName string      `json:"display_name"`
	LinkedAt    time.Time   `json:"linked_at"`
	Verified    bool        `json:"verified"`
}

// Key returns the unique binding key.
func (p PlatformIdentity) Key() IdentityKey {
	return IdentityKey{Platform: p.Platform, PlatformID: p.PlatformID}
}

// IdentityKey is the unique (platform, platformId) pair.
type IdentityKey struct {
	Platform   id.Platform
	PlatformID string
}

// UserAccount is the canonical account all linked identities resolve to.
//
// Invariants:
//   - PrimaryWalletAddress is derived deterministically from the first
//     identity and never changes
//   - Identities is non-empty except transiently during merge teardown
type UserAccount struct {
	ID                   id.AccountID       `json:"id"`
	PrimaryWalletAddress string             `json:"primary_wallet_address"`
	Identities           []PlatformIdentity `json:"identities"`
	CreatedAt            time.Time          `json:"created_at"`
}

// NewUserAccount constructs an account bound to its first identity.
func NewUserAccount(accountID id.AccountID, walletAddress string, first PlatformIdentity) (*UserAccount, error) {
	if walletAddress == "" {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "wallet address cannot be empty")
	}
	if first.PlatformID == "" {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "platform id cannot be empty")
	}
	if !first.Platform.IsValid() {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "unsupported platform")
	}
	return &UserAccount{
		ID:                   accountID,
		PrimaryWalletAddress: walletAddress,
		Identities:           []PlatformIdentity{first},
		CreatedAt:            first.LinkedAt,
	}, nil
}

// HasIdentity reports whether the account already holds the binding.
func (a *UserAccount) HasIdentity(key IdentityKey) bool {
	for _, existing := range a.Identities {
		if existing.Key() == key {
			return true
		}
	}
	return false
}
