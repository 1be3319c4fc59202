// Package store persists governance proposals.
package store

import (
	"context"
	"sort"
	"sync"

	"brickledger/internal/governance/models"
	id "brickledger/pkg/domain"
	"brickledger/pkg/platform/sentinel"
)

// InMemoryStore keeps proposals in process memory. Intended for tests and
// single-node deployments.
type InMemoryStore struct {
	mu        sync.RWMutex
	proposals map[id.ProposalID]*models.Proposal
}

func NewInMemory() *InMemoryStore {
	return &InMemoryStore{proposals: make(map[id.ProposalID]*models.Proposal)}
}

func (s *InMemoryStore) Create(_ context.Context, proposal *models.Proposal) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.proposals[proposal.ID]; exists {
		return sentinel.ErrConflict
	}
	s.proposals[proposal.ID] = clone(proposal)
	return nil
}

func (s *InMemoryStore) FindByID(_ context.Context, proposalID id.ProposalID) (*models.Proposal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	proposal, ok := s.proposals[proposalID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return clone(proposal), nil
}

// ListPendingForToken returns the token's non-terminal proposals ordered by
// creation time.
func (s *InMemoryStore) ListPendingForToken(_ context.Context, tokenID id.TokenID) ([]*models.Proposal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*models.Proposal
	for _, proposal := range s.proposals {
		if proposal.TokenID == tokenID && !proposal.Status.IsTerminal() {
			out = append(out, clone(proposal))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// Execute runs an atomic validate-then-mutate against one proposal.
func (s *InMemoryStore) Execute(_ context.Context, proposalID id.ProposalID, can func(*models.Proposal) error, apply func(*models.Proposal)) (*models.Proposal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	proposal, ok := s.proposals[proposalID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	if err := can(proposal); err != nil {
		return nil, err
	}
	apply(proposal)
	return clone(proposal), nil
}

func clone(p *models.Proposal) *models.Proposal {
	c := *p
	c.Required = append([]id.SignatoryID(nil), p.Required...)
	c.Signatures = append([]models.Signature(nil), p.Signatures...)
	return &c
}
