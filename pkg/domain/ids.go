// Package domain holds shared identifier types used across the core.
//
// Platform-owned entities (tokens, escrows, proposals, signatories) are
// identified by UUIDs minted at creation. Ledger-native identifiers
// (accounts, topics, transactions) are opaque strings assigned by the
// network and are never parsed beyond non-emptiness.
package domain

import (
	"github.com/google/uuid"

	dErrors "brickledger/pkg/domain-errors"
)

type (
	// TokenID identifies a tokenized-property record.
	TokenID uuid.UUID
	// EscrowID identifies an escrow account record.
	EscrowID uuid.UUID
	// ProposalID identifies a governance proposal.
	ProposalID uuid.UUID
	// SignatoryID identifies a registered signatory.
	SignatoryID uuid.UUID
)

func (id TokenID) String() string     { return uuid.UUID(id).String() }
func (id EscrowID) String() string    { return uuid.UUID(id).String() }
func (id ProposalID) String() string  { return uuid.UUID(id).String() }
func (id SignatoryID) String() string { return uuid.UUID(id).String() }

func (id TokenID) IsZero() bool     { return uuid.UUID(id) == uuid.Nil }
func (id EscrowID) IsZero() bool    { return uuid.UUID(id) == uuid.Nil }
func (id ProposalID) IsZero() bool  { return uuid.UUID(id) == uuid.Nil }
func (id SignatoryID) IsZero() bool { return uuid.UUID(id) == uuid.Nil }

func (id TokenID) MarshalText() ([]byte, error)     { return []byte(id.String()), nil }
func (id EscrowID) MarshalText() ([]byte, error)    { return []byte(id.String()), nil }
func (id ProposalID) MarshalText() ([]byte, error)  { return []byte(id.String()), nil }
func (id SignatoryID) MarshalText() ([]byte, error) { return []byte(id.String()), nil }

func (id *TokenID) UnmarshalText(b []byte) error {
	u, err := parseUUID(string(b))
	if err != nil {
		return err
	}
	*id = TokenID(u)
	return nil
}

func (id *EscrowID) UnmarshalText(b []byte) error {
	u, err := parseUUID(string(b))
	if err != nil {
		return err
	}
	*id = EscrowID(u)
	return nil
}

func (id *ProposalID) UnmarshalText(b []byte) error {
	u, err := parseUUID(string(b))
	if err != nil {
		return err
	}
	*id = ProposalID(u)
	return nil
}

func (id *SignatoryID) UnmarshalText(b []byte) error {
	u, err := parseUUID(string(b))
	if err != nil {
		return err
	}
	*id = SignatoryID(u)
	return nil
}

// NewTokenID mints a fresh token identifier.
func NewTokenID() TokenID { return TokenID(uuid.New()) }

// NewEscrowID mints a fresh escrow identifier.
func NewEscrowID() EscrowID { return EscrowID(uuid.New()) }

// NewProposalID mints a fresh proposal identifier.
func NewProposalID() ProposalID { return ProposalID(uuid.New()) }

// NewSignatoryID mints a fresh signatory identifier.
func NewSignatoryID() SignatoryID { return SignatoryID(uuid.New()) }

// ParseTokenID parses and validates a token ID at a trust boundary.
func ParseTokenID(s string) (TokenID, error) {
	u, err := parseUUID(s)
	return TokenID(u), err
}

// ParseEscrowID parses and validates an escrow ID at a trust boundary.
func ParseEscrowID(s string) (EscrowID, error) {
	u, err := parseUUID(s)
	return EscrowID(u), err
}

// ParseProposalID parses and validates a proposal ID at a trust boundary.
func ParseProposalID(s string) (ProposalID, error) {
	u, err := parseUUID(s)
	return ProposalID(u), err
}

// ParseSignatoryID parses and validates a signatory ID at a trust boundary.
func ParseSignatoryID(s string) (SignatoryID, error) {
	u, err := parseUUID(s)
	return SignatoryID(u), err
}

// parseUUID enforces the shared invariant: IDs must be valid, non-nil UUIDs.
func parseUUID(s string) (uuid.UUID, error) {
	if s == "" {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, "id must not be empty")
	}
	u, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, dErrors.Newf(dErrors.CodeInvalidInput, "invalid id %q", s)
	}
	if u == uuid.Nil {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, "id must not be the nil UUID")
	}
	return u, nil
}

// Ledger-native identifiers. Shape is network-defined (for example "0.0.4812"
// on the configured network); the core treats them as opaque.
type (
	// AccountID is a ledger account.
	AccountID string
	// LedgerTopicID is an append-only consensus topic.
	LedgerTopicID string
	// TransactionID is a committed ledger transaction reference.
	TransactionID string
)

func (a AccountID) String() string     { return string(a) }
func (t LedgerTopicID) String() string { return string(t) }
func (t TransactionID) String() string { return string(t) }
