// Package models defines the escrow aggregate.
package models

import (
	"sort"
	"time"

	id "brickledger/pkg/domain"
	dErrors "brickledger/pkg/domain-errors"
)

// Status is the escrow lifecycle state.
type Status string

const (
	StatusOpen     Status = "OPEN"
	StatusReleased Status = "RELEASED"
	StatusExpired  Status = "EXPIRED"
)

// IsTerminal reports whether the escrow can never move again. RELEASED and
// EXPIRED are both one-way; no operation reopens an escrow.
func (s Status) IsTerminal() bool {
	return s == StatusReleased || s == StatusExpired
}

// Escrow holds value under a multi-party release policy and an absolute
// expiry. None of the transacting parties controls it alone.
//
// Invariants:
//   - Balance only grows while OPEN and is transferred out exactly once,
//     either to the beneficiary (release) or back to the depositor (expiry)
//   - Release requires a majority of Signatories
//   - No transition out of RELEASED or EXPIRED
type Escrow struct {
	ID          id.EscrowID      `json:"id"`
	Depositor   id.AccountID     `json:"depositor"`
	Beneficiary id.AccountID     `json:"beneficiary"`
	Balance     uint64           `json:"balance"`
	Signatories []id.SignatoryID `json:"signatories"`
	Conditions  []string         `json:"conditions"`
	Status      Status           `json:"status"`
	ExpiresAt   time.Time        `json:"expires_at"`
	CreatedAt   time.Time        `json:"created_at"`
	UpdatedAt   time.Time        `json:"updated_at"`
}

// NewEscrow validates the opening invariants and constructs an OPEN escrow.
func NewEscrow(escrowID id.EscrowID, depositor, beneficiary id.AccountID, balance uint64, signatories []id.SignatoryID, conditions []string, expiry time.Duration, now time.Time) (*Escrow, error) {
	if depositor == "" || beneficiary == "" {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "escrow requires depositor and beneficiary accounts")
	}
	if len(signatories) == 0 {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "escrow requires at least one release signatory")
	}
	seen := make(map[id.SignatoryID]bool, len(signatories))
	for _, s := range signatories {
		if s.IsZero() {
			return nil, dErrors.New(dErrors.CodeInvariantViolation, "escrow signatory id cannot be zero")
		}
		if seen[s] {
			return nil, dErrors.New(dErrors.CodeInvariantViolation, "duplicate escrow signatory")
		}
		seen[s] = true
	}
	if expiry <= 0 {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "escrow expiry must be in the future")
	}
	return &Escrow{
		ID:          escrowID,
		Depositor:   depositor,
		Beneficiary: beneficiary,
		Balance:     balance,
		Signatories: signatories,
		Conditions:  conditions,
		Status:      StatusOpen,
		ExpiresAt:   now.Add(expiry),
		CreatedAt:   now,
		UpdatedAt:   now,
	}, nil
}

// ReleaseQuorum is the number of signatory approvals a release needs: a
// strict majority of the listed signatories.
func (e *Escrow) ReleaseQuorum() int {
	return len(e.Signatories)/2 + 1
}

// ApprovalsSatisfied reports whether approvals meet the majority quorum.
// Only listed signatories count; missing lists the listed signatories that
// have not approved, sorted for stable output.
func (e *Escrow) ApprovalsSatisfied(approvals []id.SignatoryID) (bool, []id.SignatoryID) {
	have := make(map[id.SignatoryID]bool, len(approvals))
	for _, a := range approvals {
		have[a] = true
	}
	count := 0
	var missing []id.SignatoryID
	for _, s := range e.Signatories {
		if have[s] {
			count++
		} else {
			missing = append(missing, s)
		}
	}
	if count >= e.ReleaseQuorum() {
		return true, nil
	}
	sort.Slice(missing, func(i, j int) bool { return missing[i].String() < missing[j].String() })
	return false, missing
}

// IsExpiredAt reports whether the expiry deadline has passed.
func (e *Escrow) IsExpiredAt(now time.Time) bool {
	return !now.Before(e.ExpiresAt)
}

// CanDeposit checks that funds may still be added.
func (e *Escrow) CanDeposit(amount uint64, now time.Time) error {
	if e.Status.IsTerminal() {
		return dErrors.Newf(dErrors.CodeAlreadyFinalized, "escrow is %s", e.Status)
	}
	if e.IsExpiredAt(now) {
		return dErrors.New(dErrors.CodeAlreadyFinalized, "escrow has expired")
	}
	if amount == 0 {
		return dErrors.New(dErrors.CodeValidation, "deposit amount must be positive")
	}
	return nil
}

func (e *Escrow) ApplyDeposit(amount uint64, now time.Time) {
	e.Balance += amount
	e.UpdatedAt = now
}

// CanRelease checks the OPEN → RELEASED transition at now.
func (e *Escrow) CanRelease(now time.Time) error {
	if e.Status.IsTerminal() {
		return dErrors.Newf(dErrors.CodeAlreadyFinalized, "escrow is %s", e.Status)
	}
	if e.IsExpiredAt(now) {
		return dErrors.New(dErrors.CodeAlreadyFinalized, "escrow has expired")
	}
	return nil
}

// ApplyRelease transfers the balance out to the beneficiary.
func (e *Escrow) ApplyRelease(now time.Time) {
	e.Status = StatusReleased
	e.Balance = 0
	e.UpdatedAt = now
}

// CanExpire checks the OPEN → EXPIRED transition at now.
func (e *Escrow) CanExpire(now time.Time) error {
	if e.Status.IsTerminal() {
		return dErrors.Newf(dErrors.CodeAlreadyFinalized, "escrow is %s", e.Status)
	}
	if !e.IsExpiredAt(now) {
		return dErrors.New(dErrors.CodeConflict, "escrow has not expired")
	}
	return nil
}

// ApplyExpire returns the balance to the depositor.
func (e *Escrow) ApplyExpire(now time.Time) {
	e.Status = StatusExpired
	e.Balance = 0
	e.UpdatedAt = now
}
