// Package store provides balance persistence with per-account exclusive
// access, in memory and on postgres.
package store

import (
	"context"
	"sort"
	"sync"

	"redpocket/internal/ledger/models"
	id "redpocket/pkg/domain"
	"redpocket/pkg/platform/sentinel"
)

// InMemory keeps per-(account, token) balances. Mutations and reads of one
// account's entries run under that account's mutex, so concurrent credits
// and debits on one account are serialized while different accounts proceed
// in parallel. The outer mutex guards only the map structure.
type InMemory struct {
	mu       sync.Mutex
	balances map[id.AccountID]map[id.Token]float64
	locks    map[id.AccountID]*sync.Mutex
}

func NewInMemory() *InMemory {
	return &InMemory{
		balances: make(map[id.AccountID]map[id.Token]float64),
		locks:    make(map[id.AccountID]*sync.Mutex),
	}
}

// entry returns the account's mutex and balance map, creating both on first
// use.
func (s *InMemory) entry(accountID id.AccountID) (*sync.Mutex, map[id.Token]float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[accountID]
	if !ok {
		l = &sync.Mutex{}
		s.locks[accountID] = l
	}
	bal, ok := s.balances[accountID]
	if !ok {
		bal = make(map[id.Token]float64)
		s.balances[accountID] = bal
	}
	return l, bal
}

// Apply runs fn under the account's exclusive lock. fn receives the
// account's mutable token→amount map; returning an error aborts with no
// mutation visible (fn must not mutate before deciding to fail).
func (s *InMemory) Apply(_ context.Context, accountID id.AccountID, fn func(balances map[id.Token]float64) error) error {
	l, bal := s.entry(accountID)
	l.Lock()
	defer l.Unlock()
	return fn(bal)
}

// Balance returns the current amount for one (account, token); zero when the
// entry does not exist.
func (s *InMemory) Balance(_ context.Context, accountID id.AccountID, token id.Token) (float64, error) {
	l, bal := s.entry(accountID)
	l.Lock()
	defer l.Unlock()
	return bal[token], nil
}

// Balances returns all non-zero entries for an account, ordered by token for
// deterministic output.
func (s *InMemory) Balances(_ context.Context, accountID id.AccountID) ([]models.BalanceEntry, error) {
	l, bal := s.entry(accountID)
	l.Lock()
	defer l.Unlock()

	var entries []models.BalanceEntry
	for token, amount := range bal {
		if amount == 0 {
			continue
		}
		entries = append(entries, models.BalanceEntry{AccountID: accountID, Token: token, Amount: amount})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Token < entries[j].Token })
	return entries, nil
}

// TransferAll moves every source balance into target and deletes the source
// entries. Both account locks are taken in a fixed global order (UUID string
// compare) so concurrent merges cannot deadlock. Returns the moved amounts
// per token.
func (s *InMemory) TransferAll(_ context.Context, source, target id.AccountID) (map[id.Token]float64, error) {
	if source == target {
		return nil, sentinel.ErrInvalidState
	}

	first, second := source, target
	if first.String() > second.String() {
		first, second = second, first
	}
	firstLock, _ := s.entry(first)
	secondLock, _ := s.entry(second)
	firstLock.Lock()
	defer firstLock.Unlock()
	secondLock.Lock()
	defer secondLock.Unlock()

	s.mu.Lock()
	src := s.balances[source]
	dst := s.balances[target]
	s.mu.Unlock()

	moved := make(map[id.Token]float64)
	for token, amount := range src {
		if amount == 0 {
			continue
		}
		dst[token] += amount
		moved[token] = amount
	}

	s.mu.Lock()
	delete(s.balances, source)
	delete(s.locks, source)
	s.mu.Unlock()
	return moved, nil
}
