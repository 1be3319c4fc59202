// Package models defines the governance proposal aggregate.
package models

import (
	"time"

	id "brickledger/pkg/domain"
	dErrors "brickledger/pkg/domain-errors"
)

// Type names a privileged, quorum-gated mutation.
type Type string

const (
	TypeKeyRotation   Type = "key_rotation"
	TypeSupplyChange  Type = "supply_change"
	TypeFreezeAccount Type = "freeze_account"
	TypeBurnTokens    Type = "burn_tokens"
)

// Status is the proposal lifecycle state.
type Status string

const (
	StatusProposed  Status = "PROPOSED"
	StatusExecuting Status = "EXECUTING"
	StatusExecuted  Status = "EXECUTED"
	StatusExpired   Status = "EXPIRED"
	StatusRejected  Status = "REJECTED"
)

// IsTerminal reports whether no further signatures or executions are accepted.
func (s Status) IsTerminal() bool {
	return s == StatusExecuted || s == StatusExpired || s == StatusRejected
}

// Parameters is a closed per-type parameter set, validated at the boundary
// so a malformed request never reaches the ledger.
type Parameters struct {
	// Amount applies to supply_change and burn_tokens.
	Amount uint64 `json:"amount,omitempty"`
	// Account applies to freeze_account.
	Account id.AccountID `json:"account,omitempty"`
	// The rotation fields apply to key_rotation: ReplaceSignatory leaves
	// the Authority's key list, NewPublicKey takes its place.
	Authority        string         `json:"authority,omitempty"`
	ReplaceSignatory id.SignatoryID `json:"replace_signatory,omitempty"`
	NewSignatory     id.SignatoryID `json:"new_signatory,omitempty"`
	NewPublicKey     string         `json:"new_public_key,omitempty"`
}

// Validate enforces the per-type parameter shape.
func (p Parameters) Validate(proposalType Type) error {
	switch proposalType {
	case TypeSupplyChange, TypeBurnTokens:
		if p.Amount == 0 {
			return dErrors.Newf(dErrors.CodeValidation, "%s requires a positive amount", proposalType)
		}
	case TypeFreezeAccount:
		if p.Account == "" {
			return dErrors.New(dErrors.CodeValidation, "freeze_account requires a target account")
		}
	case TypeKeyRotation:
		if p.Authority == "" || p.ReplaceSignatory.IsZero() || p.NewSignatory.IsZero() || p.NewPublicKey == "" {
			return dErrors.New(dErrors.CodeValidation,
				"key_rotation requires authority, replace_signatory, new_signatory and new_public_key")
		}
	default:
		return dErrors.Newf(dErrors.CodeValidation, "unknown proposal type %q", proposalType)
	}
	return nil
}

// Signature is one collected approval.
type Signature struct {
	SignatoryID id.SignatoryID `json:"signatory_id"`
	SignedAt    time.Time      `json:"signed_at"`
}

// Proposal is the aggregate root for one governance action.
//
// Invariants:
//   - Signatures only from the Required set, at most one per signatory
//   - No signature is accepted at or after ExpiresAt
//   - EXECUTED, EXPIRED and REJECTED are terminal
type Proposal struct {
	ID         id.ProposalID    `json:"id"`
	TokenID    id.TokenID       `json:"token_id"`
	Type       Type             `json:"type"`
	Parameters Parameters       `json:"parameters"`
	Required   []id.SignatoryID `json:"required"`
	Signatures []Signature      `json:"signatures"`
	Status     Status           `json:"status"`
	ExpiresAt  time.Time        `json:"expires_at"`
	CreatedAt  time.Time        `json:"created_at"`
	UpdatedAt  time.Time        `json:"updated_at"`
}

// NewProposal validates parameters and constructs a PROPOSED aggregate.
// required is the authority's current signer set; quorum over it is decided
// by the key authority, never locally.
func NewProposal(proposalID id.ProposalID, tokenID id.TokenID, proposalType Type, params Parameters, required []id.SignatoryID, ttl time.Duration, now time.Time) (*Proposal, error) {
	if err := params.Validate(proposalType); err != nil {
		return nil, err
	}
	if len(required) == 0 {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "proposal requires at least one signatory")
	}
	if ttl <= 0 {
		return nil, dErrors.New(dErrors.CodeValidation, "proposal ttl must be positive")
	}
	return &Proposal{
		ID:         proposalID,
		TokenID:    tokenID,
		Type:       proposalType,
		Parameters: params,
		Required:   required,
		Status:     StatusProposed,
		ExpiresAt:  now.Add(ttl),
		CreatedAt:  now,
		UpdatedAt:  now,
	}, nil
}

// IsExpiredAt reports whether the expiry deadline has passed. Signatures at
// the exact deadline are rejected.
func (p *Proposal) IsExpiredAt(now time.Time) bool {
	return !now.Before(p.ExpiresAt)
}

// CanSign checks whether signatoryID may add a signature at now.
func (p *Proposal) CanSign(signatoryID id.SignatoryID, now time.Time) error {
	if p.Status.IsTerminal() {
		return dErrors.Newf(dErrors.CodeAlreadyFinalized, "proposal is %s", p.Status)
	}
	if p.Status != StatusProposed {
		return dErrors.Newf(dErrors.CodeConflict, "proposal is %s", p.Status)
	}
	if p.IsExpiredAt(now) {
		return dErrors.New(dErrors.CodeProposalExpired, "proposal expired")
	}
	if !p.isRequired(signatoryID) {
		return dErrors.Newf(dErrors.CodeUnauthorized, "signatory %s is not required on this proposal", signatoryID)
	}
	for _, s := range p.Signatures {
		if s.SignatoryID == signatoryID {
			return dErrors.Newf(dErrors.CodeConflict, "signatory %s already signed", signatoryID)
		}
	}
	return nil
}

// ApplySignature records a collected approval.
func (p *Proposal) ApplySignature(signatoryID id.SignatoryID, now time.Time) {
	p.Signatures = append(p.Signatures, Signature{SignatoryID: signatoryID, SignedAt: now})
	p.UpdatedAt = now
}

// SignedIDs lists the signatories that have signed, in signing order.
func (p *Proposal) SignedIDs() []id.SignatoryID {
	out := make([]id.SignatoryID, 0, len(p.Signatures))
	for _, s := range p.Signatures {
		out = append(out, s.SignatoryID)
	}
	return out
}

// CanExecute checks the PROPOSED → EXECUTING transition.
func (p *Proposal) CanExecute(now time.Time) error {
	if p.Status != StatusProposed {
		return dErrors.Newf(dErrors.CodeConflict, "proposal is %s", p.Status)
	}
	if p.IsExpiredAt(now) {
		return dErrors.New(dErrors.CodeProposalExpired, "proposal expired")
	}
	return nil
}

func (p *Proposal) ApplyExecuting(now time.Time) {
	p.Status = StatusExecuting
	p.UpdatedAt = now
}

func (p *Proposal) ApplyExecuted(now time.Time) {
	p.Status = StatusExecuted
	p.UpdatedAt = now
}

// ApplyExecutionFailed returns an EXECUTING proposal to PROPOSED after a
// transient ledger failure so the quorum can retry execution.
func (p *Proposal) ApplyExecutionFailed(now time.Time) {
	p.Status = StatusProposed
	p.UpdatedAt = now
}

// CanReject checks that signatoryID may veto the proposal.
func (p *Proposal) CanReject(signatoryID id.SignatoryID) error {
	if p.Status.IsTerminal() {
		return dErrors.Newf(dErrors.CodeAlreadyFinalized, "proposal is %s", p.Status)
	}
	if p.Status != StatusProposed {
		return dErrors.Newf(dErrors.CodeConflict, "proposal is %s", p.Status)
	}
	if !p.isRequired(signatoryID) {
		return dErrors.Newf(dErrors.CodeUnauthorized, "signatory %s is not required on this proposal", signatoryID)
	}
	return nil
}

func (p *Proposal) ApplyRejected(now time.Time) {
	p.Status = StatusRejected
	p.UpdatedAt = now
}

// CanExpire checks the PROPOSED → EXPIRED transition at now.
func (p *Proposal) CanExpire(now time.Time) error {
	if p.Status != StatusProposed {
		return dErrors.Newf(dErrors.CodeConflict, "proposal is %s", p.Status)
	}
	if !p.IsExpiredAt(now) {
		return dErrors.New(dErrors.CodeConflict, "proposal has not expired")
	}
	return nil
}

func (p *Proposal) ApplyExpired(now time.Time) {
	p.Status = StatusExpired
	p.UpdatedAt = now
}

func (p *Proposal) isRequired(signatoryID id.SignatoryID) bool {
	for _, required := range p.Required {
		if required == signatoryID {
			return true
		}
	}
	return false
}
