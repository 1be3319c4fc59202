package httptransport

import (
	"time"

	"brickledger/internal/audit"
	escrowmodels "brickledger/internal/escrow/models"
	govmodels "brickledger/internal/governance/models"
	tokenmodels "brickledger/internal/token/models"
)

// OperationResponse is the envelope answer. Status is "ok" or "error";
// errorKind carries the domain error code so the product backend can branch
// without parsing descriptions.
type OperationResponse struct {
	Status           string `json:"status"`
	Result           any    `json:"result,omitempty"`
	ErrorKind        string `json:"errorKind,omitempty"`
	ErrorDescription string `json:"errorDescription,omitempty"`
}

// TokenResponse is the wire form of a token record.
type TokenResponse struct {
	ID            string    `json:"id"`
	Name          string    `json:"name"`
	Symbol        string    `json:"symbol"`
	Decimals      int       `json:"decimals"`
	Supply        uint64    `json:"supply"`
	MaxSupply     uint64    `json:"maxSupply"`
	Treasury      string    `json:"treasury"`
	LedgerTokenID string    `json:"ledgerTokenId,omitempty"`
	Status        string    `json:"status"`
	CreatedAt     time.Time `json:"createdAt"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

func fromToken(t *tokenmodels.Token) TokenResponse {
	return TokenResponse{
		ID:            t.ID.String(),
		Name:          t.Name,
		Symbol:        t.Symbol,
		Decimals:      t.Decimals,
		Supply:        t.Supply,
		MaxSupply:     t.MaxSupply,
		Treasury:      t.Treasury.String(),
		LedgerTokenID: t.LedgerTokenID,
		Status:        string(t.Status),
		CreatedAt:     t.CreatedAt,
		UpdatedAt:     t.UpdatedAt,
	}
}

// SignatureResponse is one recorded approval.
type SignatureResponse struct {
	SignatoryID string    `json:"signatoryId"`
	SignedAt    time.Time `json:"signedAt"`
}

// ProposalResponse is the wire form of a governance proposal.
type ProposalResponse struct {
	ID         string               `json:"id"`
	TokenID    string               `json:"tokenId"`
	Type       string               `json:"type"`
	Parameters govmodels.Parameters `json:"parameters"`
	Required   []string             `json:"required"`
	Signatures []SignatureResponse  `json:"signatures"`
	Status     string               `json:"status"`
	ExpiresAt  time.Time            `json:"expiresAt"`
	CreatedAt  time.Time            `json:"createdAt"`
	UpdatedAt  time.Time            `json:"updatedAt"`
}

func fromProposal(p *govmodels.Proposal) ProposalResponse {
	required := make([]string, len(p.Required))
	for i, r := range p.Required {
		required[i] = r.String()
	}
	signatures := make([]SignatureResponse, len(p.Signatures))
	for i, s := range p.Signatures {
		signatures[i] = SignatureResponse{SignatoryID: s.SignatoryID.String(), SignedAt: s.SignedAt}
	}
	return ProposalResponse{
		ID:         p.ID.String(),
		TokenID:    p.TokenID.String(),
		Type:       string(p.Type),
		Parameters: p.Parameters,
		Required:   required,
		Signatures: signatures,
		Status:     string(p.Status),
		ExpiresAt:  p.ExpiresAt,
		CreatedAt:  p.CreatedAt,
		UpdatedAt:  p.UpdatedAt,
	}
}

func fromProposals(proposals []*govmodels.Proposal) []ProposalResponse {
	out := make([]ProposalResponse, len(proposals))
	for i, p := range proposals {
		out[i] = fromProposal(p)
	}
	return out
}

// EscrowResponse is the wire form of an escrow record.
type EscrowResponse struct {
	ID          string    `json:"id"`
	Depositor   string    `json:"depositor"`
	Beneficiary string    `json:"beneficiary"`
	Balance     uint64    `json:"balance"`
	Signatories []string  `json:"signatories"`
	Conditions  []string  `json:"conditions,omitempty"`
	Status      string    `json:"status"`
	ExpiresAt   time.Time `json:"expiresAt"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

func fromEscrow(e *escrowmodels.Escrow) EscrowResponse {
	signatories := make([]string, len(e.Signatories))
	for i, s := range e.Signatories {
		signatories[i] = s.String()
	}
	return EscrowResponse{
		ID:          e.ID.String(),
		Depositor:   e.Depositor.String(),
		Beneficiary: e.Beneficiary.String(),
		Balance:     e.Balance,
		Signatories: signatories,
		Conditions:  e.Conditions,
		Status:      string(e.Status),
		ExpiresAt:   e.ExpiresAt,
		CreatedAt:   e.CreatedAt,
		UpdatedAt:   e.UpdatedAt,
	}
}

// AuditEventResponse is one committed audit entry with its consensus
// ordering metadata.
type AuditEventResponse struct {
	TopicID            string         `json:"topicId"`
	SequenceNumber     uint64         `json:"sequenceNumber"`
	ConsensusTimestamp time.Time      `json:"consensusTimestamp"`
	TransactionID      string         `json:"transactionId"`
	Envelope           audit.Envelope `json:"envelope"`
}

func fromAuditEvents(events []audit.Event) []AuditEventResponse {
	out := make([]AuditEventResponse, len(events))
	for i, e := range events {
		out[i] = AuditEventResponse{
			TopicID:            e.TopicID.String(),
			SequenceNumber:     e.SequenceNumber,
			ConsensusTimestamp: e.ConsensusTimestamp,
			TransactionID:      e.TransactionID.String(),
			Envelope:           e.Envelope,
		}
	}
	return out
}
