// Package ledger defines the gateway to the distributed ledger network.
//
// Everything else in the core talks to the ledger exclusively through the
// Gateway interface. Two implementations exist: a remote node-bridge client
// (internal/ledger/remote) and an in-memory simulator used by tests
// (internal/ledger/memory). Which one runs is decided at construction; no
// business logic ever branches on an environment flag.
//
// Every operation carries a caller-supplied idempotency key derived from a
// stable hash of the logical request; a resubmission with the same key has
// at most one ledger effect.
package ledger

import (
	"context"
	"time"

	"brickledger/pkg/domain"
)

// Receipt is the ledger's acknowledgment of a committed operation.
type Receipt struct {
	TransactionID      domain.TransactionID `json:"transaction_id"`
	ConsensusTimestamp time.Time            `json:"consensus_timestamp"`
	Status             string               `json:"status"`

	// EntityID is set on operations that create a ledger entity: the
	// ledger-native token id for CreateToken, the topic id for CreateTopic.
	EntityID string `json:"entity_id,omitempty"`

	// SequenceNumber is set on SubmitTopicMessage. It is the consensus
	// log's authoritative ordering for the topic; consumers must order
	// events by it, never by submission order.
	SequenceNumber uint64 `json:"sequence_number,omitempty"`
}

// StatusSuccess is the receipt status for a committed operation.
const StatusSuccess = "SUCCESS"

// KeyRole names a token authority on the ledger.
type KeyRole string

const (
	KeyRoleAdmin  KeyRole = "admin"
	KeyRoleSupply KeyRole = "supply"
	KeyRoleFreeze KeyRole = "freeze"
	KeyRoleWipe   KeyRole = "wipe"
	KeyRolePause  KeyRole = "pause"
)

// ThresholdKey is the wire form of a threshold key list: any Threshold of
// the listed public keys must co-sign to exercise the authority.
type ThresholdKey struct {
	Threshold  int      `json:"threshold"`
	PublicKeys []string `json:"public_keys"`
}

// CreateTokenRequest creates a fungible token for a tokenized property.
type CreateTokenRequest struct {
	IdempotencyKey IdempotencyKey
	Name           string
	Symbol         string
	Decimals       int
	InitialSupply  uint64
	MaxSupply      uint64
	Treasury       domain.AccountID
	Keys           map[KeyRole]ThresholdKey
}

// MintRequest mints additional supply to the treasury.
type MintRequest struct {
	IdempotencyKey IdempotencyKey
	LedgerTokenID  string
	Amount         uint64
}

// BurnRequest burns supply from the treasury.
type BurnRequest struct {
	IdempotencyKey IdempotencyKey
	LedgerTokenID  string
	Amount         uint64
}

// TransferTokensRequest moves token units between ledger accounts.
type TransferTokensRequest struct {
	IdempotencyKey IdempotencyKey
	LedgerTokenID  string
	From           domain.AccountID
	To             domain.AccountID
	Amount         uint64
}

// UpdateTokenKeysRequest swaps one or more authority key lists on a token.
type UpdateTokenKeysRequest struct {
	IdempotencyKey IdempotencyKey
	LedgerTokenID  string
	Keys           map[KeyRole]ThresholdKey
}

// FreezeTokenRequest pauses or resumes all transfers of a token.
type FreezeTokenRequest struct {
	IdempotencyKey IdempotencyKey
	LedgerTokenID  string
	Frozen         bool
}

// FreezeAccountRequest freezes or unfreezes a single holder account for a
// token (incident response against one investor, not the whole asset).
type FreezeAccountRequest struct {
	IdempotencyKey IdempotencyKey
	LedgerTokenID  string
	Account        domain.AccountID
	Frozen         bool
}

// CreateTopicRequest opens an append-only consensus topic.
type CreateTopicRequest struct {
	IdempotencyKey IdempotencyKey
	Memo           string
}

// TopicMessageRequest appends one message to a consensus topic.
type TopicMessageRequest struct {
	IdempotencyKey IdempotencyKey
	TopicID        domain.LedgerTopicID
	Message        []byte
}

// TransferValueRequest moves platform currency between ledger accounts
// (escrow funding, release, refund).
type TransferValueRequest struct {
	IdempotencyKey IdempotencyKey
	From           domain.AccountID
	To             domain.AccountID
	Amount         uint64
	Memo           string
}

// Gateway executes signed operations against the ledger network.
//
// Outcome contract: every method returns either a Receipt, an error carrying
// CodeLedgerRejected (the network declined; not retryable), or an error
// carrying CodeLedgerUnavailable (transient failure after bounded retries;
// the caller may try again later). Callers never see raw transport errors.
type Gateway interface {
	CreateToken(ctx context.Context, req CreateTokenRequest) (*Receipt, error)
	MintTokens(ctx context.Context, req MintRequest) (*Receipt, error)
	BurnTokens(ctx context.Context, req BurnRequest) (*Receipt, error)
	TransferTokens(ctx context.Context, req TransferTokensRequest) (*Receipt, error)
	UpdateTokenKeys(ctx context.Context, req UpdateTokenKeysRequest) (*Receipt, error)
	FreezeToken(ctx context.Context, req FreezeTokenRequest) (*Receipt, error)
	FreezeAccount(ctx context.Context, req FreezeAccountRequest) (*Receipt, error)
	CreateTopic(ctx context.Context, req CreateTopicRequest) (*Receipt, error)
	SubmitTopicMessage(ctx context.Context, req TopicMessageRequest) (*Receipt, error)
	TransferValue(ctx context.Context, req TransferValueRequest) (*Receipt, error)

	// LookupReceipt resolves an ambiguous outcome: after a timeout the
	// operation may or may not have committed, and the receipt must be
	// re-queried by idempotency key before any retry or compensation.
	// Returns sentinel.ErrNotFound (wrapped) when the ledger has no record
	// of the key.
	LookupReceipt(ctx context.Context, key IdempotencyKey) (*Receipt, error)
}
