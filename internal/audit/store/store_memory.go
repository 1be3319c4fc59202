// Package store persists the local audit read model.
package store

import (
	"context"
	"sort"
	"sync"

	"brickledger/internal/audit"
	"brickledger/pkg/domain"
	"brickledger/pkg/platform/sentinel"
)

// InMemoryEventStore keeps submitted events in process memory. Intended for
// tests and single-node deployments.
type InMemoryEventStore struct {
	mu     sync.RWMutex
	events map[domain.LedgerTopicID]map[uint64]audit.Event
}

func NewInMemory() *InMemoryEventStore {
	return &InMemoryEventStore{events: make(map[domain.LedgerTopicID]map[uint64]audit.Event)}
}

func (s *InMemoryEventStore) Append(_ context.Context, event audit.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	byTopic, ok := s.events[event.TopicID]
	if !ok {
		byTopic = make(map[uint64]audit.Event)
		s.events[event.TopicID] = byTopic
	}
	if _, exists := byTopic[event.SequenceNumber]; exists {
		return sentinel.ErrConflict
	}
	byTopic[event.SequenceNumber] = event
	return nil
}

// ListByTopic returns events ordered by consensus sequence number, starting
// strictly after afterSequence. Insertion order is ignored.
func (s *InMemoryEventStore) ListByTopic(_ context.Context, topicID domain.LedgerTopicID, afterSequence uint64, limit int) ([]audit.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	byTopic := s.events[topicID]
	out := make([]audit.Event, 0, len(byTopic))
	for seq, ev := range byTopic {
		if seq > afterSequence {
			out = append(out, ev)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SequenceNumber < out[j].SequenceNumber })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *InMemoryEventStore) GetBySequence(_ context.Context, topicID domain.LedgerTopicID, sequence uint64) (audit.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ev, ok := s.events[topicID][sequence]
	if !ok {
		return audit.Event{}, sentinel.ErrNotFound
	}
	return ev, nil
}
