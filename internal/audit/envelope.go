// Package audit submits tamper-evident, ordered event records to the
// append-only consensus log.
//
// The consensus log assigns the authoritative sequence number and timestamp;
// local call order means nothing under concurrent emitters, and consumers
// must reconstruct event order strictly from sequence numbers.
package audit

import (
	"encoding/json"
	"time"

	"brickledger/pkg/domain"
)

// EventType classifies an audit event.
type EventType string

const (
	// Token lifecycle
	EventTokenCreated   EventType = "TOKEN_CREATED"
	EventTokenActivated EventType = "TOKEN_ACTIVATED"
	EventTokensMinted   EventType = "TOKENS_MINTED"
	EventTokensBurned   EventType = "TOKENS_BURNED"
	EventTokenRetired   EventType = "TOKEN_RETIRED"
	EventTokenFrozen    EventType = "TOKEN_FROZEN"
	EventTokenUnfrozen  EventType = "TOKEN_UNFROZEN"
	EventFreezeFailed   EventType = "FREEZE_FAILED"
	EventUnfreezeFailed EventType = "UNFREEZE_FAILED"
	EventKeyRotated     EventType = "KEY_ROTATED"

	// Governance lifecycle
	EventProposalCreated  EventType = "PROPOSAL_CREATED"
	EventProposalSigned   EventType = "PROPOSAL_SIGNED"
	EventProposalExecuted EventType = "PROPOSAL_EXECUTED"
	EventProposalExpired  EventType = "PROPOSAL_EXPIRED"
	EventProposalRejected EventType = "PROPOSAL_REJECTED"
	EventAccountFrozen    EventType = "ACCOUNT_FROZEN"

	// Escrow lifecycle
	EventEscrowOpened    EventType = "ESCROW_OPENED"
	EventEscrowDeposited EventType = "ESCROW_DEPOSITED"
	EventEscrowReleased  EventType = "ESCROW_RELEASED"
	EventEscrowExpired   EventType = "ESCROW_EXPIRED"
)

// SchemaVersion is the current envelope schema. Bump on any incompatible
// envelope change; consumers route on it.
const SchemaVersion = 1

// Envelope is the versioned wire form written to the consensus topic.
// Envelopes are append-only and never mutated after submission.
type Envelope struct {
	SchemaVersion int             `json:"schema_version"`
	EventType     EventType       `json:"event_type"`
	Timestamp     string          `json:"timestamp"` // RFC 3339, submitter's clock; informational only
	CausedBy      string          `json:"caused_by_transaction_id,omitempty"`
	Actor         string          `json:"actor,omitempty"`
	RequestID     string          `json:"request_id,omitempty"`
	Payload       json.RawMessage `json:"payload"`
}

// NewEnvelope builds the wire envelope for one event.
func NewEnvelope(eventType EventType, payload any, causedBy domain.TransactionID, actor, requestID string, now time.Time) (Envelope, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{
		SchemaVersion: SchemaVersion,
		EventType:     eventType,
		Timestamp:     now.UTC().Format(time.RFC3339Nano),
		CausedBy:      causedBy.String(),
		Actor:         actor,
		RequestID:     requestID,
		Payload:       raw,
	}, nil
}

// Event is the locally persisted copy of a submitted envelope, keyed by the
// consensus-assigned sequence number. The consensus log remains the
// authority; this copy only serves convenience reads.
type Event struct {
	TopicID            domain.LedgerTopicID `json:"topic_id"`
	SequenceNumber     uint64               `json:"sequence_number"`
	ConsensusTimestamp time.Time            `json:"consensus_timestamp"`
	TransactionID      domain.TransactionID `json:"transaction_id"`
	Envelope           Envelope             `json:"envelope"`
}
