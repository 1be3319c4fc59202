package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"brickledger/internal/ledger"
	derrors "brickledger/pkg/domain-errors"
	"brickledger/pkg/domain"
	"brickledger/pkg/requestcontext"
)

// Mirror republishes committed audit events to a secondary stream for
// downstream consumers. Mirroring is best effort and never blocks the
// consensus write.
type Mirror interface {
	Publish(ctx context.Context, event Event) error
}

// Recorder writes audit envelopes to a single consensus topic and keeps a
// local read-model copy keyed by the consensus sequence number.
type Recorder struct {
	gateway ledger.Gateway
	store   EventStore
	mirror  Mirror
	logger  *slog.Logger

	mu      sync.RWMutex
	topicID domain.LedgerTopicID
}

// RecorderOption configures a Recorder.
type RecorderOption func(*Recorder)

// WithMirror attaches a secondary event stream.
func WithMirror(mirror Mirror) RecorderOption {
	return func(r *Recorder) {
		if mirror != nil {
			r.mirror = mirror
		}
	}
}

// WithTopic pins the recorder to an existing consensus topic.
func WithTopic(topicID domain.LedgerTopicID) RecorderOption {
	return func(r *Recorder) {
		r.topicID = topicID
	}
}

// NewRecorder constructs an audit recorder.
func NewRecorder(gateway ledger.Gateway, store EventStore, logger *slog.Logger, opts ...RecorderOption) *Recorder {
	r := &Recorder{
		gateway: gateway,
		store:   store,
		logger:  logger,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	return r
}

// EnsureTopic creates the consensus topic on first use. Safe to call more
// than once; subsequent calls return the existing topic.
func (r *Recorder) EnsureTopic(ctx context.Context, memo string) (domain.LedgerTopicID, error) {
	r.mu.RLock()
	existing := r.topicID
	r.mu.RUnlock()
	if existing != "" {
		return existing, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.topicID != "" {
		return r.topicID, nil
	}

	receipt, err := r.gateway.CreateTopic(ctx, ledger.CreateTopicRequest{
		Memo:           memo,
		IdempotencyKey: ledger.DeriveKey("audit.topic.create", memo),
	})
	if err != nil {
		return "", fmt.Errorf("create audit topic: %w", err)
	}
	r.topicID = domain.LedgerTopicID(receipt.EntityID)
	r.logger.Info("audit topic ready", "topic_id", r.topicID)
	return r.topicID, nil
}

// Topic returns the consensus topic, or empty if EnsureTopic has not run.
func (r *Recorder) Topic() domain.LedgerTopicID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.topicID
}

// Record submits one audit envelope to the consensus topic and returns the
// committed event with its consensus-assigned sequence number. The sequence
// number, not submission order, is the authoritative ordering.
func (r *Recorder) Record(ctx context.Context, eventType EventType, payload any, causedBy domain.TransactionID) (Event, error) {
	r.mu.RLock()
	topicID := r.topicID
	r.mu.RUnlock()
	if topicID == "" {
		return Event{}, derrors.New(derrors.CodeInternal, "audit topic not initialized")
	}

	envelope, err := NewEnvelope(
		eventType,
		payload,
		causedBy,
		requestcontext.ActorID(ctx),
		requestcontext.RequestID(ctx),
		requestcontext.Now(ctx),
	)
	if err != nil {
		return Event{}, derrors.Wrap(err, derrors.CodeInternal, "encode audit envelope")
	}
	message, err := json.Marshal(envelope)
	if err != nil {
		return Event{}, derrors.Wrap(err, derrors.CodeInternal, "encode audit envelope")
	}

	// A fresh nonce per call: the retrying gateway reuses this key across
	// its own attempts, so replay safety holds without deduplicating
	// distinct events that happen to share a payload.
	receipt, err := r.gateway.SubmitTopicMessage(ctx, ledger.TopicMessageRequest{
		TopicID:        topicID,
		Message:        message,
		IdempotencyKey: ledger.DeriveKey("audit.record", topicID.String(), string(eventType), uuid.NewString()),
	})
	if err != nil {
		return Event{}, fmt.Errorf("submit audit event %s: %w", eventType, err)
	}

	event := Event{
		TopicID:            topicID,
		SequenceNumber:     receipt.SequenceNumber,
		ConsensusTimestamp: receipt.ConsensusTimestamp,
		TransactionID:      receipt.TransactionID,
		Envelope:           envelope,
	}
	if err := r.store.Append(ctx, event); err != nil {
		// The consensus write already committed; the read model can be
		// rebuilt from the topic, so an indexing failure is not fatal.
		r.logger.Error("audit read model append failed",
			"event_type", eventType,
			"sequence_number", event.SequenceNumber,
			"error", err,
		)
	}
	if r.mirror != nil {
		if err := r.mirror.Publish(ctx, event); err != nil {
			r.logger.Warn("audit mirror publish failed",
				"event_type", eventType,
				"sequence_number", event.SequenceNumber,
				"error", err,
			)
		}
	}
	return event, nil
}

// Events lists committed events ordered by sequence number, starting strictly
// after afterSequence.
func (r *Recorder) Events(ctx context.Context, afterSequence uint64, limit int) ([]Event, error) {
	topicID := r.Topic()
	if topicID == "" {
		return nil, derrors.New(derrors.CodeInternal, "audit topic not initialized")
	}
	return r.store.ListByTopic(ctx, topicID, afterSequence, limit)
}

// EventAt fetches one committed event by its sequence number.
func (r *Recorder) EventAt(ctx context.Context, sequence uint64) (Event, error) {
	topicID := r.Topic()
	if topicID == "" {
		return Event{}, derrors.New(derrors.CodeInternal, "audit topic not initialized")
	}
	return r.store.GetBySequence(ctx, topicID, sequence)
}
