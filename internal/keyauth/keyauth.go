// Package keyauth builds and validates threshold key structures.
//
// This is the trust boundary every privileged operation leans on. The
// package is pure, has no network access, and never holds private key
// material, only public keys and structural metadata. Quorum checks always
// run before any ledger call so a policy violation can never leave partial
// ledger state.
package keyauth

import (
	"sort"

	"brickledger/pkg/domain"
	dErrors "brickledger/pkg/domain-errors"
)

// Role names a signatory's function on a tokenized property.
type Role string

const (
	RoleOwner    Role = "owner"
	RolePlatform Role = "platform"
	RoleLegal    Role = "legal"
	RoleEscrow   Role = "escrow"
)

// Signatory binds a role to one public key. Immutable once issued; replaced
// only through a successful key-rotation governance action.
type Signatory struct {
	ID        domain.SignatoryID `json:"id"`
	Role      Role               `json:"role"`
	PublicKey string             `json:"public_key"` // hex-encoded ed25519
}

// Authority names a privileged capability on a token.
type Authority string

const (
	AuthorityAdmin  Authority = "admin"
	AuthoritySupply Authority = "supply"
	AuthorityFreeze Authority = "freeze"
	AuthorityWipe   Authority = "wipe"
	AuthorityPause  Authority = "pause"
)

// Authorities lists every authority a token carries, in policy order.
var Authorities = []Authority{AuthorityAdmin, AuthoritySupply, AuthorityFreeze, AuthorityWipe, AuthorityPause}

// KeyStructure is a threshold key list for one authority: any Threshold of
// the listed signatories must co-sign to exercise it.
type KeyStructure struct {
	Authority Authority   `json:"authority"`
	Threshold int         `json:"threshold"`
	Signers   []Signatory `json:"signers"`
}

// ContainsRole reports whether a signatory with the role is on the list.
func (ks KeyStructure) ContainsRole(role Role) bool {
	for _, s := range ks.Signers {
		if s.Role == role {
			return true
		}
	}
	return false
}

// PublicKeys returns the ordered public keys of the list.
func (ks KeyStructure) PublicKeys() []string {
	keys := make([]string, len(ks.Signers))
	for i, s := range ks.Signers {
		keys[i] = s.PublicKey
	}
	return keys
}

// Clone returns a KeyStructure whose signer list shares no memory with the
// receiver.
func (ks KeyStructure) Clone() KeyStructure {
	signers := make([]Signatory, len(ks.Signers))
	copy(signers, ks.Signers)
	ks.Signers = signers
	return ks
}

// CloneStructures deep-copies a structure map. A nil map stays nil.
func CloneStructures(structures map[Authority]KeyStructure) map[Authority]KeyStructure {
	if structures == nil {
		return nil
	}
	out := make(map[Authority]KeyStructure, len(structures))
	for a, ks := range structures {
		out[a] = ks.Clone()
	}
	return out
}

// SignerIDs returns the ordered signatory ids of the list.
func (ks KeyStructure) SignerIDs() []domain.SignatoryID {
	ids := make([]domain.SignatoryID, len(ks.Signers))
	for i, s := range ks.Signers {
		ids[i] = s.ID
	}
	return ids
}

// policyRule fixes which roles sit on an authority's key list and the
// minimum co-signature count.
type policyRule struct {
	roles     []Role
	threshold int
}

// policy is the fixed threshold policy:
//   - admin and supply always include platform and legal with threshold >= 2,
//     preventing unilateral platform or legal control;
//   - freeze and wipe are single-signatory platform fast paths for incident
//     response;
//   - pause requires owner and platform.
var policy = map[Authority]policyRule{
	AuthorityAdmin:  {roles: []Role{RoleOwner, RolePlatform, RoleLegal}, threshold: 2},
	AuthoritySupply: {roles: []Role{RolePlatform, RoleLegal}, threshold: 2},
	AuthorityFreeze: {roles: []Role{RolePlatform}, threshold: 1},
	AuthorityWipe:   {roles: []Role{RolePlatform}, threshold: 1},
	AuthorityPause:  {roles: []Role{RoleOwner, RolePlatform}, threshold: 2},
}

// BuildKeyStructures deterministically applies the fixed threshold policy to
// the supplied signatories. Fails with CodePolicyViolation when a required
// role's key is missing or a signatory is malformed; by contract this
// happens before any network call.
func BuildKeyStructures(signatories []Signatory) (map[Authority]KeyStructure, error) {
	byRole := make(map[Role]Signatory, len(signatories))
	for _, s := range signatories {
		if s.ID.IsZero() {
			return nil, dErrors.Newf(dErrors.CodePolicyViolation, "signatory for role %q has no id", s.Role)
		}
		if s.PublicKey == "" {
			return nil, dErrors.Newf(dErrors.CodePolicyViolation, "signatory for role %q has no public key", s.Role)
		}
		if _, dup := byRole[s.Role]; dup {
			return nil, dErrors.Newf(dErrors.CodePolicyViolation, "duplicate signatory for role %q", s.Role)
		}
		switch s.Role {
		case RoleOwner, RolePlatform, RoleLegal, RoleEscrow:
		default:
			return nil, dErrors.Newf(dErrors.CodePolicyViolation, "unknown signatory role %q", s.Role)
		}
		byRole[s.Role] = s
	}

	out := make(map[Authority]KeyStructure, len(policy))
	for _, authority := range Authorities {
		rule := policy[authority]
		signers := make([]Signatory, 0, len(rule.roles))
		for _, role := range rule.roles {
			s, ok := byRole[role]
			if !ok {
				return nil, dErrors.Newf(dErrors.CodePolicyViolation,
					"authority %q requires a %q signatory", authority, role)
			}
			signers = append(signers, s)
		}
		ks := KeyStructure{Authority: authority, Threshold: rule.threshold, Signers: signers}
		if err := ks.validate(); err != nil {
			return nil, err
		}
		out[authority] = ks
	}
	return out, nil
}

// validate enforces the structural invariants that hold for every built (or
// rotated) key structure.
func (ks KeyStructure) validate() error {
	if ks.Threshold < 1 || ks.Threshold > len(ks.Signers) {
		return dErrors.Newf(dErrors.CodePolicyViolation,
			"authority %q threshold %d out of range for %d signers", ks.Authority, ks.Threshold, len(ks.Signers))
	}
	if ks.Authority == AuthorityAdmin || ks.Authority == AuthoritySupply {
		if !ks.ContainsRole(RolePlatform) || !ks.ContainsRole(RoleLegal) || ks.Threshold < 2 {
			return dErrors.Newf(dErrors.CodePolicyViolation,
				"authority %q must include platform and legal with threshold >= 2", ks.Authority)
		}
	}
	return nil
}

// QuorumResult reports whether provided signatures satisfy a requirement.
type QuorumResult struct {
	OK      bool
	Missing []domain.SignatoryID
}

// ValidateQuorum reports whether every required signatory appears in
// provided. It is pure: it never mutates its arguments and identical inputs
// always produce identical results. Missing preserves required order.
func ValidateQuorum(required, provided []domain.SignatoryID) QuorumResult {
	have := make(map[domain.SignatoryID]bool, len(provided))
	for _, id := range provided {
		have[id] = true
	}
	var missing []domain.SignatoryID
	for _, id := range required {
		if !have[id] {
			missing = append(missing, id)
		}
	}
	return QuorumResult{OK: len(missing) == 0, Missing: missing}
}

// Satisfies reports whether provided signatures meet the structure's
// threshold. Missing lists the listed signatories that have not signed,
// sorted by id for stable output; once the threshold is met Missing is nil.
func (ks KeyStructure) Satisfies(provided []domain.SignatoryID) QuorumResult {
	have := make(map[domain.SignatoryID]bool, len(provided))
	for _, id := range provided {
		have[id] = true
	}
	count := 0
	var missing []domain.SignatoryID
	for _, s := range ks.Signers {
		if have[s.ID] {
			count++
		} else {
			missing = append(missing, s.ID)
		}
	}
	if count >= ks.Threshold {
		return QuorumResult{OK: true}
	}
	sort.Slice(missing, func(i, j int) bool { return missing[i].String() < missing[j].String() })
	return QuorumResult{OK: false, Missing: missing}
}
