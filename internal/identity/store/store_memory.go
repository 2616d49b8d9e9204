// Package store provides account/identity persistence: an in-memory
// implementation for development and tests and a postgres implementation for
// production.
package store

import (
	"context"
	"sync"

	"redpocket/internal/identity/models"
	id "redpocket/pkg/domain"
	"redpocket/pkg/platform/sentinel"
)

// InMemory keeps accounts and identity bindings in maps guarded by one
// RWMutex. The single mutex makes every operation atomic, which is what the
// identity invariants need: a binding can never point at two accounts, even
// transiently.
type InMemory struct {
	mu       sync.RWMutex
	accounts map[id.AccountID]*models.UserAccount
	bindings map[models.IdentityKey]id.AccountID
}

func NewInMemory() *InMemory {
	return &InMemory{
		accounts: make(map[id.AccountID]*models.UserAccount),
		bindings: make(map[models.IdentityKey]id.AccountID),
	}
}

func (s *InMemory) Create(_ context.Context, account *models.UserAccount) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, identity := range account.Identities {
		if _, taken := s.bindings[identity.Key()]; taken {
			return sentinel.ErrConflict
		}
	}
	if _, exists := s.accounts[account.ID]; exists {
		return sentinel.ErrConflict
	}

	s.accounts[account.ID] = cloneAccount(account)
	for _, identity := range account.Identities {
		s.bindings[identity.Key()] = account.ID
	}
	return nil
}

func (s *InMemory) FindByID(_ context.Context, accountID id.AccountID) (*models.UserAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	account, ok := s.accounts[accountID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return cloneAccount(account), nil
}

func (s *InMemory) FindByIdentity(_ context.Context, key models.IdentityKey) (*models.UserAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	accountID, ok := s.bindings[key]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	account, ok := s.accounts[accountID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return cloneAccount(account), nil
}

func (s *InMemory) AddIdentity(_ context.Context, accountID id.AccountID, identity models.PlatformIdentity) (*models.UserAccount, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	account, ok := s.accounts[accountID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}

	if boundTo, taken := s.bindings[identity.Key()]; taken {
		if boundTo == accountID {
			return cloneAccount(account), nil
		}
		return nil, sentinel.ErrConflict
	}

	account.Identities = append(account.Identities, identity)
	s.bindings[identity.Key()] = accountID
	return cloneAccount(account), nil
}

// MoveIdentities re-binds every source identity to the target account,
// skipping keys the target already holds. Used only by merge; it cannot fail
// once both accounts exist.
func (s *InMemory) MoveIdentities(_ context.Context, source, target id.AccountID) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	src, ok := s.accounts[source]
	if !ok {
		return 0, sentinel.ErrNotFound
	}
	dst, ok := s.accounts[target]
	if !ok {
		return 0, sentinel.ErrNotFound
	}

	moved := 0
	for _, identity := range src.Identities {
		key := identity.Key()
		if dst.HasIdentity(key) {
			delete(s.bindings, key)
			continue
		}
		dst.Identities = append(dst.Identities, identity)
		s.bindings[key] = target
		moved++
	}
	src.Identities = nil
	return moved, nil
}

// DeleteAccount removes the account and any bindings still pointing at it.
func (s *InMemory) DeleteAccount(_ context.Context, accountID id.AccountID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	account, ok := s.accounts[accountID]
	if !ok {
		return sentinel.ErrNotFound
	}
	for _, identity := range account.Identities {
		if s.bindings[identity.Key()] == accountID {
			delete(s.bindings, identity.Key())
		}
	}
	delete(s.accounts, accountID)
	return nil
}

func cloneAccount(a *models.UserAccount) *models.UserAccount {
	clone := *a
	clone.Identities = append([]models.PlatformIdentity{}, a.Identities...)
	return &clone
}
