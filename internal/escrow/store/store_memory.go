// Package store persists escrow accounts.
package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"brickledger/internal/escrow/models"
	id "brickledger/pkg/domain"
	"brickledger/pkg/platform/sentinel"
)

// InMemoryStore keeps escrows in process memory. Intended for tests and
// single-node deployments.
type InMemoryStore struct {
	mu      sync.RWMutex
	escrows map[id.EscrowID]*models.Escrow
}

func NewInMemory() *InMemoryStore {
	return &InMemoryStore{escrows: make(map[id.EscrowID]*models.Escrow)}
}

func (s *InMemoryStore) Create(_ context.Context, escrow *models.Escrow) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.escrows[escrow.ID]; exists {
		return sentinel.ErrConflict
	}
	s.escrows[escrow.ID] = clone(escrow)
	return nil
}

func (s *InMemoryStore) FindByID(_ context.Context, escrowID id.EscrowID) (*models.Escrow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	escrow, ok := s.escrows[escrowID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return clone(escrow), nil
}

// ListExpired returns OPEN escrows whose deadline has passed as of asOf,
// oldest deadline first.
func (s *InMemoryStore) ListExpired(_ context.Context, asOf time.Time) ([]*models.Escrow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*models.Escrow
	for _, escrow := range s.escrows {
		if escrow.Status == models.StatusOpen && escrow.IsExpiredAt(asOf) {
			out = append(out, clone(escrow))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ExpiresAt.Before(out[j].ExpiresAt) })
	return out, nil
}

// Execute runs an atomic validate-then-mutate against one escrow.
func (s *InMemoryStore) Execute(_ context.Context, escrowID id.EscrowID, can func(*models.Escrow) error, apply func(*models.Escrow)) (*models.Escrow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	escrow, ok := s.escrows[escrowID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	if err := can(escrow); err != nil {
		return nil, err
	}
	apply(escrow)
	return clone(escrow), nil
}

func clone(e *models.Escrow) *models.Escrow {
	c := *e
	c.Signatories = append([]id.SignatoryID(nil), e.Signatories...)
	c.Conditions = append([]string(nil), e.Conditions...)
	return &c
}
