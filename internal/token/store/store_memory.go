// Package store persists token records.
package store

import (
	"context"
	"sync"

	"brickledger/internal/token/models"
	id "brickledger/pkg/domain"
	"brickledger/pkg/platform/sentinel"
)

// InMemoryStore keeps token records in process memory. Intended for tests
// and single-node deployments.
type InMemoryStore struct {
	mu     sync.RWMutex
	tokens map[id.TokenID]*models.Token
}

func NewInMemory() *InMemoryStore {
	return &InMemoryStore{tokens: make(map[id.TokenID]*models.Token)}
}

func (s *InMemoryStore) Create(_ context.Context, token *models.Token) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.tokens[token.ID]; exists {
		return sentinel.ErrConflict
	}
	s.tokens[token.ID] = token.Clone()
	return nil
}

func (s *InMemoryStore) FindByID(_ context.Context, tokenID id.TokenID) (*models.Token, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	token, ok := s.tokens[tokenID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return token.Clone(), nil
}

func (s *InMemoryStore) List(_ context.Context) ([]*models.Token, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*models.Token, 0, len(s.tokens))
	for _, token := range s.tokens {
		out = append(out, token.Clone())
	}
	return out, nil
}

// Execute runs an atomic validate-then-mutate against one token. The lock is
// held across both callbacks so no concurrent mutation can interleave
// between validation and apply.
func (s *InMemoryStore) Execute(_ context.Context, tokenID id.TokenID, can func(*models.Token) error, apply func(*models.Token)) (*models.Token, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	token, ok := s.tokens[tokenID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	if err := can(token); err != nil {
		return nil, err
	}
	apply(token)
	return token.Clone(), nil
}
