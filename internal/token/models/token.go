// Package models defines the tokenized-property aggregate.
package models

import (
	"time"

	"brickledger/internal/keyauth"
	id "brickledger/pkg/domain"
	dErrors "brickledger/pkg/domain-errors"
)

// Status is the lifecycle state of a token record.
type Status string

const (
	StatusDraft   Status = "DRAFT"
	StatusActive  Status = "ACTIVE"
	StatusFrozen  Status = "FROZEN"
	StatusRetired Status = "RETIRED"
)

// transitions is the full state machine: DRAFT activates once, ACTIVE and
// FROZEN toggle through freeze/unfreeze, RETIRED is terminal.
var transitions = map[Status][]Status{
	StatusDraft:  {StatusActive},
	StatusActive: {StatusFrozen, StatusRetired},
	StatusFrozen: {StatusActive, StatusRetired},
}

// CanTransitionTo reports whether the state machine allows moving to target.
func (s Status) CanTransitionTo(target Status) bool {
	for _, allowed := range transitions[s] {
		if allowed == target {
			return true
		}
	}
	return false
}

// Token is the aggregate root for one tokenized property.
//
// Invariants:
//   - Supply never exceeds MaxSupply when MaxSupply > 0
//   - LedgerTokenID is set exactly once, by the ledger create
//   - Status transitions: DRAFT → ACTIVE → (FROZEN ↔ ACTIVE | RETIRED)
//   - RETIRED is terminal; no operation reopens a retired token
//
// Supply mutations are quorum-gated and reach this aggregate only through
// governance execution; the service layer enforces that path.
//
// Keys is the durable record of the token's threshold key structures (public
// keys only). The key authority registry is rebuilt from it at boot; a
// committed rotation writes the new structures here before the registry cuts
// over.
type Token struct {
	ID            id.TokenID                                 `json:"id"`
	Name          string                                     `json:"name"`
	Symbol        string                                     `json:"symbol"`
	Decimals      int                                        `json:"decimals"`
	Supply        uint64                                     `json:"supply"`
	MaxSupply     uint64                                     `json:"max_supply"`
	Treasury      id.AccountID                               `json:"treasury"`
	LedgerTokenID string                                     `json:"ledger_token_id"`
	Keys          map[keyauth.Authority]keyauth.KeyStructure `json:"keys,omitempty"`
	Status        Status                                     `json:"status"`
	CreatedAt     time.Time                                  `json:"created_at"`
	UpdatedAt     time.Time                                  `json:"updated_at"`
}

// Clone returns a deep copy safe to hand across store boundaries.
func (t *Token) Clone() *Token {
	clone := *t
	clone.Keys = keyauth.CloneStructures(t.Keys)
	return &clone
}

// NewToken validates the draft invariants and constructs a DRAFT record.
func NewToken(tokenID id.TokenID, name, symbol string, decimals int, initialSupply, maxSupply uint64, treasury id.AccountID, now time.Time) (*Token, error) {
	if name == "" {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "token name cannot be empty")
	}
	if symbol == "" {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "token symbol cannot be empty")
	}
	if decimals < 0 || decimals > 18 {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "token decimals must be between 0 and 18")
	}
	if treasury == "" {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "treasury account is required")
	}
	if maxSupply > 0 && initialSupply > maxSupply {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "initial supply exceeds max supply")
	}
	return &Token{
		ID:        tokenID,
		Name:      name,
		Symbol:    symbol,
		Decimals:  decimals,
		Supply:    initialSupply,
		MaxSupply: maxSupply,
		Treasury:  treasury,
		Status:    StatusDraft,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

func (t *Token) IsActive() bool {
	return t.Status == StatusActive
}

// CanActivate checks the DRAFT → ACTIVE transition. The ledger create must
// have assigned a ledger-native token id first.
func (t *Token) CanActivate() error {
	if t.LedgerTokenID == "" {
		return dErrors.New(dErrors.CodeInvariantViolation, "token has no ledger id")
	}
	if !t.Status.CanTransitionTo(StatusActive) || t.Status != StatusDraft {
		return dErrors.Newf(dErrors.CodeInvariantViolation, "token in state %s cannot activate", t.Status)
	}
	return nil
}

func (t *Token) ApplyActivation(now time.Time) {
	t.Status = StatusActive
	t.UpdatedAt = now
}

// CanMint checks that minting amount keeps the supply cap invariant.
func (t *Token) CanMint(amount uint64) error {
	if !t.IsActive() {
		return dErrors.Newf(dErrors.CodeInvariantViolation, "token in state %s cannot mint", t.Status)
	}
	if amount == 0 {
		return dErrors.New(dErrors.CodeInvariantViolation, "mint amount must be positive")
	}
	if t.MaxSupply > 0 && t.Supply+amount > t.MaxSupply {
		return dErrors.Newf(dErrors.CodeInvariantViolation,
			"mint of %d would exceed max supply %d", amount, t.MaxSupply)
	}
	return nil
}

func (t *Token) ApplyMint(amount uint64, now time.Time) {
	t.Supply += amount
	t.UpdatedAt = now
}

// CanBurn checks that burning amount never underflows the supply.
func (t *Token) CanBurn(amount uint64) error {
	if !t.IsActive() {
		return dErrors.Newf(dErrors.CodeInvariantViolation, "token in state %s cannot burn", t.Status)
	}
	if amount == 0 {
		return dErrors.New(dErrors.CodeInvariantViolation, "burn amount must be positive")
	}
	if amount > t.Supply {
		return dErrors.Newf(dErrors.CodeInvariantViolation,
			"burn of %d exceeds supply %d", amount, t.Supply)
	}
	return nil
}

func (t *Token) ApplyBurn(amount uint64, now time.Time) {
	t.Supply -= amount
	t.UpdatedAt = now
}

// CanFreeze checks the ACTIVE → FROZEN transition.
func (t *Token) CanFreeze() error {
	if !t.Status.CanTransitionTo(StatusFrozen) {
		return dErrors.Newf(dErrors.CodeInvariantViolation, "token in state %s cannot freeze", t.Status)
	}
	return nil
}

func (t *Token) ApplyFreeze(now time.Time) {
	t.Status = StatusFrozen
	t.UpdatedAt = now
}

// CanUnfreeze checks the FROZEN → ACTIVE transition.
func (t *Token) CanUnfreeze() error {
	if t.Status != StatusFrozen {
		return dErrors.Newf(dErrors.CodeInvariantViolation, "token in state %s cannot unfreeze", t.Status)
	}
	return nil
}

func (t *Token) ApplyUnfreeze(now time.Time) {
	t.Status = StatusActive
	t.UpdatedAt = now
}

// ApplyKeyRotation installs the post-rotation key structures. Only reached
// through governance execution after the ledger confirmed the key update.
func (t *Token) ApplyKeyRotation(structures map[keyauth.Authority]keyauth.KeyStructure, now time.Time) {
	t.Keys = keyauth.CloneStructures(structures)
	t.UpdatedAt = now
}

// CanRetire checks the transition into the terminal RETIRED state. Supply
// must be wiped first so retired tokens never strand holder value.
func (t *Token) CanRetire() error {
	if !t.Status.CanTransitionTo(StatusRetired) {
		return dErrors.Newf(dErrors.CodeInvariantViolation, "token in state %s cannot retire", t.Status)
	}
	if t.Supply != 0 {
		return dErrors.Newf(dErrors.CodeInvariantViolation, "token with supply %d cannot retire", t.Supply)
	}
	return nil
}

func (t *Token) ApplyRetire(now time.Time) {
	t.Status = StatusRetired
	t.UpdatedAt = now
}
