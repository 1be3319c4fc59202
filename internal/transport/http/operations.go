// Package httptransport exposes the operations envelope API consumed by the
// product backend. Handlers delegate to domain services and never hold
// business rules of their own.
package httptransport

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"brickledger/internal/audit"
	escrowmodels "brickledger/internal/escrow/models"
	escrowservice "brickledger/internal/escrow/service"
	govmodels "brickledger/internal/governance/models"
	govservice "brickledger/internal/governance/service"
	tokenmodels "brickledger/internal/token/models"
	tokenservice "brickledger/internal/token/service"
	id "brickledger/pkg/domain"
	dErrors "brickledger/pkg/domain-errors"
	"brickledger/pkg/platform/httputil"
	"brickledger/pkg/requestcontext"
)

// TokenService is the slice of the token service the transport needs.
type TokenService interface {
	CreateToken(ctx context.Context, req tokenservice.CreateTokenRequest) (*tokenmodels.Token, error)
	Activate(ctx context.Context, tokenID id.TokenID) (*tokenmodels.Token, error)
	Freeze(ctx context.Context, tokenID id.TokenID, approvals []id.SignatoryID) (*tokenmodels.Token, error)
	Unfreeze(ctx context.Context, tokenID id.TokenID, approvals []id.SignatoryID) (*tokenmodels.Token, error)
	Retire(ctx context.Context, tokenID id.TokenID) (*tokenmodels.Token, error)
	GetToken(ctx context.Context, tokenID id.TokenID) (*tokenmodels.Token, error)
	ListTokens(ctx context.Context) ([]*tokenmodels.Token, error)
}

// GovernanceService is the slice of the governance service the transport needs.
type GovernanceService interface {
	Propose(ctx context.Context, req govservice.ProposeRequest) (*govmodels.Proposal, error)
	Sign(ctx context.Context, proposalID id.ProposalID, signatoryID id.SignatoryID, signature []byte) (*govmodels.Proposal, error)
	Execute(ctx context.Context, proposalID id.ProposalID) (*govmodels.Proposal, error)
	Reject(ctx context.Context, proposalID id.ProposalID, signatoryID id.SignatoryID) (*govmodels.Proposal, error)
	GetProposal(ctx context.Context, proposalID id.ProposalID) (*govmodels.Proposal, error)
	ListPendingForToken(ctx context.Context, tokenID id.TokenID) ([]*govmodels.Proposal, error)
}

// EscrowService is the slice of the escrow service the transport needs.
type EscrowService interface {
	Open(ctx context.Context, req escrowservice.OpenEscrowRequest) (*escrowmodels.Escrow, error)
	Deposit(ctx context.Context, escrowID id.EscrowID, amount uint64) (*escrowmodels.Escrow, error)
	Release(ctx context.Context, escrowID id.EscrowID, approvals []id.SignatoryID) (*escrowmodels.Escrow, error)
	GetEscrow(ctx context.Context, escrowID id.EscrowID) (*escrowmodels.Escrow, error)
}

// AuditReader serves the locally persisted copy of the consensus trail.
type AuditReader interface {
	Topic() id.LedgerTopicID
	Events(ctx context.Context, afterSequence uint64, limit int) ([]audit.Event, error)
}

// Handler wires the envelope and read endpoints to the domain services.
type Handler struct {
	tokens       TokenService
	governance   GovernanceService
	escrows      EscrowService
	auditTrail   AuditReader
	reservations ReservationStore
	logger       *slog.Logger
}

// New constructs the transport handler. A nil reservations store falls back
// to in-process reservations.
func New(tokens TokenService, governance GovernanceService, escrows EscrowService, auditTrail AuditReader, reservations ReservationStore, logger *slog.Logger) *Handler {
	if reservations == nil {
		reservations = NewMemoryReservations()
	}
	return &Handler{
		tokens:       tokens,
		governance:   governance,
		escrows:      escrows,
		auditTrail:   auditTrail,
		reservations: reservations,
		logger:       logger,
	}
}

// HandleOperations handles POST /v1/operations.
func (h *Handler) HandleOperations(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)
	start := time.Now()

	req, ok := httputil.DecodeAndPrepare[OperationRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}

	reserved := true
	stored, err := h.reservations.Reserve(ctx, req.IdempotencyKey)
	switch {
	case errors.Is(err, ErrInFlight):
		httputil.WriteError(w, dErrors.New(dErrors.CodeConflict, "a request with this idempotency key is still in flight"))
		return
	case err != nil:
		// Reservation store outage. The domain services dedupe on their own
		// ledger keys, so proceed without the replay cache.
		h.logger.WarnContext(ctx, "idempotency reservation unavailable",
			"request_id", requestID,
			"error", err,
		)
		reserved = false
	case stored != nil:
		h.logger.InfoContext(ctx, "operation replayed from idempotency cache",
			"request_id", requestID,
			"operation", req.OperationType,
		)
		httputil.WriteJSON(w, stored.Status, json.RawMessage(stored.Body))
		return
	}

	ctx = requestcontext.WithIdempotencyKey(ctx, req.IdempotencyKey)
	result, opErr := h.dispatch(ctx, req)

	var (
		status   int
		response OperationResponse
	)
	if opErr != nil {
		code := dErrors.CodeOf(opErr)
		status = httputil.StatusOf(code)
		response = OperationResponse{
			Status:           "error",
			ErrorKind:        string(code),
			ErrorDescription: opErr.Error(),
		}
		h.logger.ErrorContext(ctx, "operation failed",
			"request_id", requestID,
			"operation", req.OperationType,
			"error_kind", string(code),
			"error", opErr,
		)
		// Transient failures are not cached: the client retries the same
		// key and the operation runs again.
		if reserved && transient(code) {
			if err := h.reservations.Abandon(ctx, req.IdempotencyKey); err != nil {
				h.logger.WarnContext(ctx, "failed to release idempotency claim", "error", err)
			}
			reserved = false
		}
	} else {
		status = http.StatusOK
		response = OperationResponse{Status: "ok", Result: result}
		h.logger.InfoContext(ctx, "operation completed",
			"request_id", requestID,
			"operation", req.OperationType,
			"duration_ms", time.Since(start).Milliseconds(),
		)
	}

	if reserved {
		if body, err := json.Marshal(response); err == nil {
			if err := h.reservations.Complete(ctx, req.IdempotencyKey, Outcome{Status: status, Body: body}); err != nil {
				h.logger.WarnContext(ctx, "failed to store idempotency outcome", "error", err)
			}
		}
	}
	httputil.WriteJSON(w, status, response)
}

func (h *Handler) dispatch(ctx context.Context, req *OperationRequest) (any, error) {
	switch req.OperationType {
	case OpTokenCreate:
		var params createTokenParams
		if err := decodeParams(req.Parameters, &params); err != nil {
			return nil, err
		}
		svcReq, err := params.toServiceRequest()
		if err != nil {
			return nil, err
		}
		token, err := h.tokens.CreateToken(ctx, svcReq)
		if err != nil {
			return nil, err
		}
		return fromToken(token), nil

	case OpTokenActivate:
		tokenID, err := id.ParseTokenID(req.EntityID)
		if err != nil {
			return nil, err
		}
		token, err := h.tokens.Activate(ctx, tokenID)
		if err != nil {
			return nil, err
		}
		return fromToken(token), nil

	case OpTokenFreeze, OpTokenUnfreeze:
		tokenID, err := id.ParseTokenID(req.EntityID)
		if err != nil {
			return nil, err
		}
		var params approvalsParams
		if err := decodeParams(req.Parameters, &params); err != nil {
			return nil, err
		}
		approvals, err := params.signatoryIDs()
		if err != nil {
			return nil, err
		}
		var token *tokenmodels.Token
		if req.OperationType == OpTokenFreeze {
			token, err = h.tokens.Freeze(ctx, tokenID, approvals)
		} else {
			token, err = h.tokens.Unfreeze(ctx, tokenID, approvals)
		}
		if err != nil {
			return nil, err
		}
		return fromToken(token), nil

	case OpTokenRetire:
		tokenID, err := id.ParseTokenID(req.EntityID)
		if err != nil {
			return nil, err
		}
		token, err := h.tokens.Retire(ctx, tokenID)
		if err != nil {
			return nil, err
		}
		return fromToken(token), nil

	case OpGovernancePropose:
		tokenID, err := id.ParseTokenID(req.EntityID)
		if err != nil {
			return nil, err
		}
		var params proposeParams
		if err := decodeParams(req.Parameters, &params); err != nil {
			return nil, err
		}
		proposal, err := h.governance.Propose(ctx, params.toServiceRequest(tokenID))
		if err != nil {
			return nil, err
		}
		return fromProposal(proposal), nil

	case OpGovernanceSign:
		proposalID, err := id.ParseProposalID(req.EntityID)
		if err != nil {
			return nil, err
		}
		var params signParams
		if err := decodeParams(req.Parameters, &params); err != nil {
			return nil, err
		}
		signatoryID, signature, err := params.decode()
		if err != nil {
			return nil, err
		}
		proposal, err := h.governance.Sign(ctx, proposalID, signatoryID, signature)
		if err != nil {
			return nil, err
		}
		return fromProposal(proposal), nil

	case OpGovernanceExecute:
		proposalID, err := id.ParseProposalID(req.EntityID)
		if err != nil {
			return nil, err
		}
		proposal, err := h.governance.Execute(ctx, proposalID)
		if err != nil {
			return nil, err
		}
		return fromProposal(proposal), nil

	case OpGovernanceReject:
		proposalID, err := id.ParseProposalID(req.EntityID)
		if err != nil {
			return nil, err
		}
		var params rejectParams
		if err := decodeParams(req.Parameters, &params); err != nil {
			return nil, err
		}
		signatoryID, err := id.ParseSignatoryID(params.SignatoryID)
		if err != nil {
			return nil, err
		}
		proposal, err := h.governance.Reject(ctx, proposalID, signatoryID)
		if err != nil {
			return nil, err
		}
		return fromProposal(proposal), nil

	case OpEscrowOpen:
		var params openEscrowParams
		if err := decodeParams(req.Parameters, &params); err != nil {
			return nil, err
		}
		svcReq, err := params.toServiceRequest()
		if err != nil {
			return nil, err
		}
		escrow, err := h.escrows.Open(ctx, svcReq)
		if err != nil {
			return nil, err
		}
		return fromEscrow(escrow), nil

	case OpEscrowDeposit:
		escrowID, err := id.ParseEscrowID(req.EntityID)
		if err != nil {
			return nil, err
		}
		var params depositParams
		if err := decodeParams(req.Parameters, &params); err != nil {
			return nil, err
		}
		escrow, err := h.escrows.Deposit(ctx, escrowID, params.Amount)
		if err != nil {
			return nil, err
		}
		return fromEscrow(escrow), nil

	case OpEscrowRelease:
		escrowID, err := id.ParseEscrowID(req.EntityID)
		if err != nil {
			return nil, err
		}
		var params approvalsParams
		if err := decodeParams(req.Parameters, &params); err != nil {
			return nil, err
		}
		approvals, err := params.signatoryIDs()
		if err != nil {
			return nil, err
		}
		escrow, err := h.escrows.Release(ctx, escrowID, approvals)
		if err != nil {
			return nil, err
		}
		return fromEscrow(escrow), nil

	default:
		return nil, dErrors.Newf(dErrors.CodeValidation, "unknown operationType %q", req.OperationType)
	}
}

// transient reports whether a failed operation may succeed on retry with the
// same idempotency key.
func transient(code dErrors.Code) bool {
	switch code {
	case dErrors.CodeLedgerUnavailable, dErrors.CodeTimeout, dErrors.CodeInternal:
		return true
	default:
		return false
	}
}
