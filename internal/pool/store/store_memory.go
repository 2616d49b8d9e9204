// Package store provides pool and claim persistence with per-pool exclusive
// access, in memory and on postgres.
package store

import (
	"context"
	"sort"
	"sync"

	"redpocket/internal/pool/models"
	id "redpocket/pkg/domain"
	"redpocket/pkg/platform/sentinel"
)

// InMemory keeps pools and claim records. Execute serializes all mutation of
// one pool under that pool's mutex; different pools proceed in parallel. The
// outer mutex guards only map structure.
type InMemory struct {
	mu     sync.RWMutex
	pools  map[id.PoolID]*models.DistributionPool
	claims map[id.PoolID]map[id.AccountID]models.ClaimRecord
	locks  map[id.PoolID]*sync.Mutex
}

func NewInMemory() *InMemory {
	return &InMemory{
		pools:  make(map[id.PoolID]*models.DistributionPool),
		claims: make(map[id.PoolID]map[id.AccountID]models.ClaimRecord),
		locks:  make(map[id.PoolID]*sync.Mutex),
	}
}

func (s *InMemory) Create(_ context.Context, pool *models.DistributionPool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.pools[pool.ID]; exists {
		return sentinel.ErrConflict
	}
	cloned := *pool
	s.pools[pool.ID] = &cloned
	s.claims[pool.ID] = make(map[id.AccountID]models.ClaimRecord)
	s.locks[pool.ID] = &sync.Mutex{}
	return nil
}

func (s *InMemory) Find(_ context.Context, poolID id.PoolID) (*models.DistributionPool, error) {
	s.mu.RLock()
	pool, ok := s.pools[poolID]
	if !ok {
		s.mu.RUnlock()
		return nil, sentinel.ErrNotFound
	}
	lock := s.locks[poolID]
	s.mu.RUnlock()

	lock.Lock()
	defer lock.Unlock()
	cloned := *pool
	return &cloned, nil
}

// Execute runs validate and apply under the pool's exclusive lock. validate
// sees the current pool and claim records and decides whether the mutation
// may proceed; apply mutates the pool and appends the claim record. Either
// both effects land or neither does.
func (s *InMemory) Execute(
	_ context.Context,
	poolID id.PoolID,
	validate func(pool *models.DistributionPool, claims map[id.AccountID]models.ClaimRecord) error,
	apply func(pool *models.DistributionPool) (models.ClaimRecord, error),
) error {
	s.mu.RLock()
	pool, ok := s.pools[poolID]
	if !ok {
		s.mu.RUnlock()
		return sentinel.ErrNotFound
	}
	lock := s.locks[poolID]
	claims := s.claims[poolID]
	s.mu.RUnlock()

	lock.Lock()
	defer lock.Unlock()

	if err := validate(pool, claims); err != nil {
		return err
	}

	working := *pool
	record, err := apply(&working)
	if err != nil {
		return err
	}
	*pool = working
	claims[record.AccountID] = record
	return nil
}

// ReleaseClaim removes the account's claim record and returns its amount and
// share to the pool. Compensates a claim whose ledger credit failed.
func (s *InMemory) ReleaseClaim(_ context.Context, poolID id.PoolID, accountID id.AccountID) error {
	s.mu.RLock()
	pool, ok := s.pools[poolID]
	if !ok {
		s.mu.RUnlock()
		return sentinel.ErrNotFound
	}
	lock := s.locks[poolID]
	claims := s.claims[poolID]
	s.mu.RUnlock()

	lock.Lock()
	defer lock.Unlock()
	record, ok := claims[accountID]
	if !ok {
		return sentinel.ErrNotFound
	}
	delete(claims, accountID)
	pool.RemainingAmount += record.Amount
	pool.RemainingShares++
	return nil
}

func (s *InMemory) FindClaim(_ context.Context, poolID id.PoolID, accountID id.AccountID) (*models.ClaimRecord, error) {
	s.mu.RLock()
	claims, ok := s.claims[poolID]
	if !ok {
		s.mu.RUnlock()
		return nil, sentinel.ErrNotFound
	}
	lock := s.locks[poolID]
	s.mu.RUnlock()

	lock.Lock()
	defer lock.Unlock()
	record, ok := claims[accountID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return &record, nil
}

// ClaimsByAccount returns every claim record held by an account across all
// pools, newest first.
func (s *InMemory) ClaimsByAccount(_ context.Context, accountID id.AccountID) ([]models.ClaimRecord, error) {
	s.mu.RLock()
	poolIDs := make([]id.PoolID, 0, len(s.claims))
	for poolID := range s.claims {
		poolIDs = append(poolIDs, poolID)
	}
	s.mu.RUnlock()

	var records []models.ClaimRecord
	for _, poolID := range poolIDs {
		s.mu.RLock()
		lock, ok := s.locks[poolID]
		claims := s.claims[poolID]
		s.mu.RUnlock()
		if !ok {
			continue
		}
		lock.Lock()
		if record, ok := claims[accountID]; ok {
			records = append(records, record)
		}
		lock.Unlock()
	}
	sort.Slice(records, func(i, j int) bool { return records[i].ClaimedAt.After(records[j].ClaimedAt) })
	return records, nil
}

// ReassignClaims re-homes every claim record from source to target during an
// account merge. When both accounts claimed the same pool the target's record
// wins and the source's is dropped; the granted funds are untouched either
// way, they move with the balance transfer.
func (s *InMemory) ReassignClaims(_ context.Context, source, target id.AccountID) (int, error) {
	s.mu.RLock()
	poolIDs := make([]id.PoolID, 0, len(s.claims))
	for poolID := range s.claims {
		poolIDs = append(poolIDs, poolID)
	}
	s.mu.RUnlock()

	moved := 0
	for _, poolID := range poolIDs {
		s.mu.RLock()
		lock, ok := s.locks[poolID]
		claims := s.claims[poolID]
		s.mu.RUnlock()
		if !ok {
			continue
		}
		lock.Lock()
		if record, ok := claims[source]; ok {
			delete(claims, source)
			if _, taken := claims[target]; !taken {
				record.AccountID = target
				claims[target] = record
			}
			moved++
		}
		lock.Unlock()
	}
	return moved, nil
}
