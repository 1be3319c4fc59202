package audit

import (
	"context"

	"brickledger/pkg/domain"
)

// EventStore is the local read model over submitted audit events. It is a
// convenience index only; the consensus log is the source of truth.
type EventStore interface {
	Append(ctx context.Context, event Event) error
	ListByTopic(ctx context.Context, topicID domain.LedgerTopicID, afterSequence uint64, limit int) ([]Event, error)
	GetBySequence(ctx context.Context, topicID domain.LedgerTopicID, sequence uint64) (Event, error)
}
