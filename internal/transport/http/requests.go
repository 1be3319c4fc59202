package httptransport

import (
	"encoding/hex"
	"encoding/json"
	"strings"
	"time"

	escrowservice "brickledger/internal/escrow/service"
	govmodels "brickledger/internal/governance/models"
	govservice "brickledger/internal/governance/service"
	"brickledger/internal/keyauth"
	tokenservice "brickledger/internal/token/service"
	id "brickledger/pkg/domain"
	dErrors "brickledger/pkg/domain-errors"
	platformstrings "brickledger/pkg/platform/strings"
)

// OperationRequest is the envelope the product backend posts for every
// privileged action. Parameters are decoded per operation type after the
// envelope itself validates.
type OperationRequest struct {
	OperationType  string          `json:"operationType"`
	EntityID       string          `json:"entityId,omitempty"`
	Parameters     json.RawMessage `json:"parameters,omitempty"`
	IdempotencyKey string          `json:"idempotencyKey"`
}

// Operation types accepted by the envelope. Mint and burn are absent on
// purpose: supply changes only happen through governance execution.
const (
	OpTokenCreate   = "token.create"
	OpTokenActivate = "token.activate"
	OpTokenFreeze   = "token.freeze"
	OpTokenUnfreeze = "token.unfreeze"
	OpTokenRetire   = "token.retire"

	OpGovernancePropose = "governance.propose"
	OpGovernanceSign    = "governance.sign"
	OpGovernanceExecute = "governance.execute"
	OpGovernanceReject  = "governance.reject"

	OpEscrowOpen    = "escrow.open"
	OpEscrowDeposit = "escrow.deposit"
	OpEscrowRelease = "escrow.release"
)

var operationTypes = map[string]bool{
	OpTokenCreate: true, OpTokenActivate: true, OpTokenFreeze: true,
	OpTokenUnfreeze: true, OpTokenRetire: true,
	OpGovernancePropose: true, OpGovernanceSign: true,
	OpGovernanceExecute: true, OpGovernanceReject: true,
	OpEscrowOpen: true, OpEscrowDeposit: true, OpEscrowRelease: true,
}

func (r *OperationRequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeBadRequest, "request body is required")
	}
	r.OperationType = strings.TrimSpace(r.OperationType)
	if r.OperationType == "" {
		return dErrors.New(dErrors.CodeValidation, "operationType is required")
	}
	if !operationTypes[r.OperationType] {
		return dErrors.Newf(dErrors.CodeValidation, "unknown operationType %q", r.OperationType)
	}
	r.IdempotencyKey = strings.TrimSpace(r.IdempotencyKey)
	if r.IdempotencyKey == "" {
		return dErrors.New(dErrors.CodeValidation, "idempotencyKey is required")
	}
	if len(r.IdempotencyKey) > 128 {
		return dErrors.New(dErrors.CodeValidation, "idempotencyKey must be at most 128 characters")
	}
	return nil
}

// decodeParams unmarshals the operation parameters into dst. A missing
// parameters object decodes as the zero value so operations without
// parameters stay valid.
func decodeParams(raw json.RawMessage, dst any) error {
	if len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return dErrors.New(dErrors.CodeValidation, "invalid parameters object")
	}
	return nil
}

type signatoryParam struct {
	ID        string `json:"id"`
	Role      string `json:"role"`
	PublicKey string `json:"publicKey"`
}

type createTokenParams struct {
	Name          string           `json:"name"`
	Symbol        string           `json:"symbol"`
	Decimals      int              `json:"decimals"`
	InitialSupply uint64           `json:"initialSupply"`
	MaxSupply     uint64           `json:"maxSupply"`
	Treasury      string           `json:"treasury"`
	Signatories   []signatoryParam `json:"signatories"`
}

func (p *createTokenParams) toServiceRequest() (tokenservice.CreateTokenRequest, error) {
	signatories := make([]keyauth.Signatory, 0, len(p.Signatories))
	for _, s := range p.Signatories {
		signatoryID, err := id.ParseSignatoryID(s.ID)
		if err != nil {
			return tokenservice.CreateTokenRequest{}, dErrors.Newf(dErrors.CodeValidation, "invalid signatory id %q", s.ID)
		}
		signatories = append(signatories, keyauth.Signatory{
			ID:        signatoryID,
			Role:      keyauth.Role(s.Role),
			PublicKey: s.PublicKey,
		})
	}
	return tokenservice.CreateTokenRequest{
		Name:          p.Name,
		Symbol:        p.Symbol,
		Decimals:      p.Decimals,
		InitialSupply: p.InitialSupply,
		MaxSupply:     p.MaxSupply,
		Treasury:      id.AccountID(p.Treasury),
		Signatories:   signatories,
	}, nil
}

type approvalsParams struct {
	Approvals []string `json:"approvals"`
}

func (p *approvalsParams) signatoryIDs() ([]id.SignatoryID, error) {
	// Clients commonly resubmit the same approver; duplicates never count
	// twice toward quorum, so collapse them at the edge.
	approvals := platformstrings.DedupeAndTrim(p.Approvals)
	out := make([]id.SignatoryID, 0, len(approvals))
	for _, a := range approvals {
		signatoryID, err := id.ParseSignatoryID(a)
		if err != nil {
			return nil, dErrors.Newf(dErrors.CodeValidation, "invalid approval signatory id %q", a)
		}
		out = append(out, signatoryID)
	}
	return out, nil
}

type proposeParams struct {
	Type       string               `json:"type"`
	Parameters govmodels.Parameters `json:"parameters"`
	TTLSeconds int64                `json:"ttlSeconds"`
}

func (p *proposeParams) toServiceRequest(tokenID id.TokenID) govservice.ProposeRequest {
	return govservice.ProposeRequest{
		TokenID:    tokenID,
		Type:       govmodels.Type(p.Type),
		Parameters: p.Parameters,
		TTL:        time.Duration(p.TTLSeconds) * time.Second,
	}
}

type signParams struct {
	SignatoryID string `json:"signatoryId"`
	Signature   string `json:"signature"` // hex-encoded ed25519 signature
}

func (p *signParams) decode() (id.SignatoryID, []byte, error) {
	signatoryID, err := id.ParseSignatoryID(p.SignatoryID)
	if err != nil {
		return id.SignatoryID{}, nil, dErrors.New(dErrors.CodeValidation, "invalid signatoryId")
	}
	signature, err := hex.DecodeString(p.Signature)
	if err != nil {
		return id.SignatoryID{}, nil, dErrors.New(dErrors.CodeValidation, "signature must be hex encoded")
	}
	return signatoryID, signature, nil
}

type rejectParams struct {
	SignatoryID string `json:"signatoryId"`
}

type openEscrowParams struct {
	Depositor     string   `json:"depositor"`
	Beneficiary   string   `json:"beneficiary"`
	Amount        uint64   `json:"amount"`
	Signatories   []string `json:"signatories"`
	Conditions    []string `json:"conditions"`
	ExpirySeconds int64    `json:"expirySeconds"`
}

func (p *openEscrowParams) toServiceRequest() (escrowservice.OpenEscrowRequest, error) {
	signatories := make([]id.SignatoryID, 0, len(p.Signatories))
	for _, s := range p.Signatories {
		signatoryID, err := id.ParseSignatoryID(s)
		if err != nil {
			return escrowservice.OpenEscrowRequest{}, dErrors.Newf(dErrors.CodeValidation, "invalid signatory id %q", s)
		}
		signatories = append(signatories, signatoryID)
	}
	return escrowservice.OpenEscrowRequest{
		Depositor:   id.AccountID(p.Depositor),
		Beneficiary: id.AccountID(p.Beneficiary),
		Amount:      p.Amount,
		Signatories: signatories,
		Conditions:  platformstrings.DedupeAndTrim(p.Conditions),
		Expiry:      time.Duration(p.ExpirySeconds) * time.Second,
	}, nil
}

type depositParams struct {
	Amount uint64 `json:"amount"`
}
