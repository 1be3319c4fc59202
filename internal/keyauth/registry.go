package keyauth

import (
	"sync"

	"brickledger/pkg/domain"
	dErrors "brickledger/pkg/domain-errors"
)

// Registry is the authority's view of which keys currently govern each
// token. Rotation is a staged two-phase change: the replacement key is
// staged, the quorum of *current* keys approves the swap, and only after
// ledger confirmation does CommitRotation make the new key count for future
// quorum checks. A compromised key can therefore never approve its own
// replacement.
type Registry struct {
	mu      sync.RWMutex
	current map[domain.TokenID]map[Authority]KeyStructure
	staged  map[domain.ProposalID]stagedRotation
}

type stagedRotation struct {
	tokenID   domain.TokenID
	authority Authority
	oldID     domain.SignatoryID
	newSig    Signatory
}

func NewRegistry() *Registry {
	return &Registry{
		current: make(map[domain.TokenID]map[Authority]KeyStructure),
		staged:  make(map[domain.ProposalID]stagedRotation),
	}
}

// Register installs the key structures of a token. Also called at boot with
// the structures persisted on each token record; registering the same token
// again replaces its entry wholesale.
func (r *Registry) Register(tokenID domain.TokenID, structures map[Authority]KeyStructure) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.current[tokenID] = CloneStructures(structures)
}

// Structure returns the current key structure governing an authority. The
// returned copy shares nothing with registry state, so holding it across a
// concurrent commit can never observe a half-rotated list.
func (r *Registry) Structure(tokenID domain.TokenID, authority Authority) (KeyStructure, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	structures, ok := r.current[tokenID]
	if !ok {
		return KeyStructure{}, dErrors.Newf(dErrors.CodeNotFound, "no key structures registered for token %s", tokenID)
	}
	ks, ok := structures[authority]
	if !ok {
		return KeyStructure{}, dErrors.Newf(dErrors.CodeNotFound, "token %s has no %q authority", tokenID, authority)
	}
	return ks.Clone(), nil
}

// Signatory resolves a signatory currently trusted for the token. Staged
// keys are invisible here until committed.
func (r *Registry) Signatory(tokenID domain.TokenID, signatoryID domain.SignatoryID) (Signatory, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	structures, ok := r.current[tokenID]
	if !ok {
		return Signatory{}, dErrors.Newf(dErrors.CodeNotFound, "no key structures registered for token %s", tokenID)
	}
	for _, ks := range structures {
		for _, s := range ks.Signers {
			if s.ID == signatoryID {
				return s, nil
			}
		}
	}
	return Signatory{}, dErrors.Newf(dErrors.CodeNotFound, "signatory %s not trusted for token %s", signatoryID, tokenID)
}

// StageRotation records the intended replacement without trusting it. The
// replacement keeps the outgoing signatory's role; the structural policy is
// re-validated against the post-swap structure so a rotation can never
// smuggle in a policy violation.
func (r *Registry) StageRotation(proposalID domain.ProposalID, tokenID domain.TokenID, authority Authority, oldID domain.SignatoryID, replacement Signatory) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	structures, ok := r.current[tokenID]
	if !ok {
		return dErrors.Newf(dErrors.CodeNotFound, "no key structures registered for token %s", tokenID)
	}
	ks, ok := structures[authority]
	if !ok {
		return dErrors.Newf(dErrors.CodeNotFound, "token %s has no %q authority", tokenID, authority)
	}

	idx := -1
	for i, s := range ks.Signers {
		if s.ID == oldID {
			idx = i
			break
		}
	}
	if idx < 0 {
		return dErrors.Newf(dErrors.CodePolicyViolation, "signatory %s is not on the %q key list", oldID, authority)
	}
	if replacement.PublicKey == "" || replacement.ID.IsZero() {
		return dErrors.New(dErrors.CodePolicyViolation, "replacement signatory is incomplete")
	}
	if replacement.PublicKey == ks.Signers[idx].PublicKey {
		return dErrors.New(dErrors.CodePolicyViolation, "replacement key must differ from the key it replaces")
	}

	// Validate the post-swap structure before staging anything.
	swapped := KeyStructure{Authority: ks.Authority, Threshold: ks.Threshold}
	swapped.Signers = make([]Signatory, len(ks.Signers))
	copy(swapped.Signers, ks.Signers)
	replacement.Role = swapped.Signers[idx].Role
	swapped.Signers[idx] = replacement
	if err := swapped.validate(); err != nil {
		return err
	}

	r.staged[proposalID] = stagedRotation{
		tokenID:   tokenID,
		authority: authority,
		oldID:     oldID,
		newSig:    replacement,
	}
	return nil
}

// StagedReplacement exposes the staged key for building the ledger update.
func (r *Registry) StagedReplacement(proposalID domain.ProposalID) (Signatory, Authority, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	st, ok := r.staged[proposalID]
	if !ok {
		return Signatory{}, "", dErrors.Newf(dErrors.CodeNotFound, "no staged rotation for proposal %s", proposalID)
	}
	return st.newSig, st.authority, nil
}

// PreviewRotation returns a deep copy of the token's structures with the
// staged swap applied. This is what the ledger key update carries; the
// registry itself stays on the current keys until CommitRotation.
func (r *Registry) PreviewRotation(proposalID domain.ProposalID) (map[Authority]KeyStructure, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	st, ok := r.staged[proposalID]
	if !ok {
		return nil, dErrors.Newf(dErrors.CodeNotFound, "no staged rotation for proposal %s", proposalID)
	}
	out := make(map[Authority]KeyStructure, len(r.current[st.tokenID]))
	for authority, ks := range r.current[st.tokenID] {
		clone := ks.Clone()
		if authority == st.authority {
			replaced := false
			for i, s := range clone.Signers {
				if s.ID == st.oldID {
					clone.Signers[i] = st.newSig
					replaced = true
					break
				}
			}
			if !replaced {
				return nil, staleRotation(st)
			}
		}
		out[authority] = clone
	}
	return out, nil
}

// CommitRotation cuts the registry over to the staged key. Called only
// after the ledger has confirmed the key update.
func (r *Registry) CommitRotation(proposalID domain.ProposalID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	st, ok := r.staged[proposalID]
	if !ok {
		return dErrors.Newf(dErrors.CodeNotFound, "no staged rotation for proposal %s", proposalID)
	}
	structures := r.current[st.tokenID]
	// Copy before swapping: structures handed out earlier alias the old
	// backing array and must keep seeing the pre-rotation list.
	ks := structures[st.authority].Clone()
	replaced := false
	for i, s := range ks.Signers {
		if s.ID == st.oldID {
			ks.Signers[i] = st.newSig
			replaced = true
			break
		}
	}
	if !replaced {
		return staleRotation(st)
	}
	structures[st.authority] = ks
	delete(r.staged, proposalID)
	return nil
}

// staleRotation reports a staged swap whose outgoing signatory was already
// rotated off the list by an earlier proposal.
func staleRotation(st stagedRotation) error {
	return dErrors.Newf(dErrors.CodePolicyViolation,
		"staged rotation is stale: signatory %s is no longer on the %q key list", st.oldID, st.authority)
}

// AbortRotation discards a staged key (proposal expired or rejected, or the
// ledger declined the update). The current keys remain authoritative.
func (r *Registry) AbortRotation(proposalID domain.ProposalID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.staged, proposalID)
}
