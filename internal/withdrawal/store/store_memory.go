// Package store provides withdrawal request persistence, in memory and on
// postgres.
package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"redpocket/internal/withdrawal/models"
	id "redpocket/pkg/domain"
	"redpocket/pkg/platform/sentinel"
)

// InMemory keeps withdrawal requests. Update serializes all mutation of one
// request under the store mutex; requests are small and transitions cheap,
// so one lock suffices here.
type InMemory struct {
	mu       sync.RWMutex
	requests map[id.WithdrawalID]*models.WithdrawalRequest
}

func NewInMemory() *InMemory {
	return &InMemory{requests: make(map[id.WithdrawalID]*models.WithdrawalRequest)}
}

func (s *InMemory) Create(_ context.Context, request *models.WithdrawalRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.requests[request.ID]; exists {
		return sentinel.ErrConflict
	}
	cloned := *request
	s.requests[request.ID] = &cloned
	return nil
}

func (s *InMemory) Find(_ context.Context, requestID id.WithdrawalID) (*models.WithdrawalRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	request, ok := s.requests[requestID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	cloned := *request
	return &cloned, nil
}

// Update runs fn on the request under the store lock. fn decides the
// transition; returning an error aborts with no mutation visible.
func (s *InMemory) Update(_ context.Context, requestID id.WithdrawalID, fn func(request *models.WithdrawalRequest) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	request, ok := s.requests[requestID]
	if !ok {
		return sentinel.ErrNotFound
	}
	working := *request
	if err := fn(&working); err != nil {
		return err
	}
	*request = working
	return nil
}

// ListByAccount returns the account's requests, newest first.
func (s *InMemory) ListByAccount(_ context.Context, accountID id.AccountID) ([]models.WithdrawalRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var requests []models.WithdrawalRequest
	for _, request := range s.requests {
		if request.AccountID == accountID {
			requests = append(requests, *request)
		}
	}
	sort.Slice(requests, func(i, j int) bool { return requests[i].CreatedAt.After(requests[j].CreatedAt) })
	return requests, nil
}

// ListStuckProcessing returns requests that entered Processing before the
// cutoff and never reached a terminal state. Used by the reconciliation
// sweep.
func (s *InMemory) ListStuckProcessing(_ context.Context, cutoff time.Time) ([]models.WithdrawalRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var stuck []models.WithdrawalRequest
	for _, request := range s.requests {
		if request.Status != models.StatusProcessing {
			continue
		}
		if request.ProcessedAt != nil && request.ProcessedAt.Before(cutoff) {
			stuck = append(stuck, *request)
		}
	}
	return stuck, nil
}
