// Package store provides merge request persistence and the verification code
// store, in memory and on their production backends.
package store

import (
	"context"
	"sync"
	"time"

	"redpocket/internal/merge/models"
	id "redpocket/pkg/domain"
	"redpocket/pkg/platform/sentinel"
)

// InMemory keeps merge requests under one mutex; merges are rare and the
// critical section is small.
type InMemory struct {
	mu       sync.RWMutex
	requests map[id.MergeID]*models.MergeRequest
}

func NewInMemory() *InMemory {
	return &InMemory{requests: make(map[id.MergeID]*models.MergeRequest)}
}

func (s *InMemory) Create(_ context.Context, request *models.MergeRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.requests[request.ID]; exists {
		return sentinel.ErrConflict
	}
	cloned := *request
	s.requests[request.ID] = &cloned
	return nil
}

func (s *InMemory) Find(_ context.Context, requestID id.MergeID) (*models.MergeRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	request, ok := s.requests[requestID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	cloned := *request
	return &cloned, nil
}

// Update runs fn on the request under the store lock; an error from fn aborts
// with no mutation visible.
func (s *InMemory) Update(_ context.Context, requestID id.MergeID, fn func(request *models.MergeRequest) error) error {
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

// MemoryCodeStore holds verification codes with expiry, for tests and
// single-node deployments without redis.
type MemoryCodeStore struct {
	mu    sync.Mutex
	codes map[id.MergeID]memoryCode
}

type memoryCode struct {
	code      string
	expiresAt time.Time
}

func NewMemoryCodeStore() *MemoryCodeStore {
	return &MemoryCodeStore{codes: make(map[id.MergeID]memoryCode)}
}

func (s *MemoryCodeStore) Put(_ context.Context, requestID id.MergeID, code string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.codes[requestID] = memoryCode{code: code, expiresAt: time.Now().Add(ttl)}
	return nil
}

// Get returns the stored code; sentinel.ErrExpired once the TTL has passed
// and sentinel.ErrNotFound when no code was ever stored.
func (s *MemoryCodeStore) Get(_ context.Context, requestID id.MergeID) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.codes[requestID]
	if !ok {
		return "", sentinel.ErrNotFound
	}
	if time.Now().After(entry.expiresAt) {
		delete(s.codes, requestID)
		return "", sentinel.ErrExpired
	}
	return entry.code, nil
}

func (s *MemoryCodeStore) Delete(_ context.Context, requestID id.MergeID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.codes, requestID)
	return nil
}
