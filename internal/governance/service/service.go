// Package service runs the governance proposal state machine. Proposal
// execution is the single path to the token module's quorum-gated mutations;
// any required signatory may propose, but only collected signatures
// satisfying the key authority's quorum can execute.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"brickledger/internal/audit"
	govmetrics "brickledger/internal/governance/metrics"
	"brickledger/internal/governance/models"
	"brickledger/internal/keyauth"
	"brickledger/internal/ledger"
	tokenmodels "brickledger/internal/token/models"
	id "brickledger/pkg/domain"
	dErrors "brickledger/pkg/domain-errors"
	"brickledger/pkg/platform/keymutex"
	"brickledger/pkg/platform/sentinel"
	"brickledger/pkg/requestcontext"
)

// DefaultTTL bounds signature collection when the proposer does not choose
// an expiry.
const DefaultTTL = 72 * time.Hour

// ProposalStore persists proposals. Execute must hold the entity lock across
// both callbacks.
type ProposalStore interface {
	Create(ctx context.Context, proposal *models.Proposal) error
	FindByID(ctx context.Context, proposalID id.ProposalID) (*models.Proposal, error)
	ListPendingForToken(ctx context.Context, tokenID id.TokenID) ([]*models.Proposal, error)
	Execute(ctx context.Context, proposalID id.ProposalID, can func(*models.Proposal) error, apply func(*models.Proposal)) (*models.Proposal, error)
}

// TokenAuthority is the slice of the token service that proposal execution
// drives.
//
//go:generate mockgen -destination=mocks/mocks.go -package=mocks brickledger/internal/governance/service TokenAuthority
type TokenAuthority interface {
	GetToken(ctx context.Context, tokenID id.TokenID) (*tokenmodels.Token, error)
	Mint(ctx context.Context, tokenID id.TokenID, amount uint64, key ledger.IdempotencyKey) (*tokenmodels.Token, error)
	Burn(ctx context.Context, tokenID id.TokenID, amount uint64, key ledger.IdempotencyKey) (*tokenmodels.Token, error)
	RotateKeys(ctx context.Context, tokenID id.TokenID, structures map[keyauth.Authority]keyauth.KeyStructure, key ledger.IdempotencyKey) (*ledger.Receipt, error)
}

// AuditRecorder appends one event to the consensus audit trail.
type AuditRecorder interface {
	Record(ctx context.Context, eventType audit.EventType, payload any, causedBy id.TransactionID) (audit.Event, error)
}

// Service orchestrates proposal collection and execution.
type Service struct {
	proposals ProposalStore
	tokens    TokenAuthority
	keys      *keyauth.Registry
	gateway   ledger.Gateway
	recorder  AuditRecorder
	locks     *keymutex.KeyMutex
	logger    *slog.Logger
	metrics   *govmetrics.Metrics
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

func WithMetrics(m *govmetrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

// New constructs a governance service.
func New(proposals ProposalStore, tokens TokenAuthority, keys *keyauth.Registry, gateway ledger.Gateway, recorder AuditRecorder, opts ...Option) *Service {
	s := &Service{
		proposals: proposals,
		tokens:    tokens,
		keys:      keys,
		gateway:   gateway,
		recorder:  recorder,
		locks:     keymutex.New(),
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// ProposeRequest describes a new governance action.
type ProposeRequest struct {
	TokenID    id.TokenID
	Type       models.Type
	Parameters models.Parameters
	TTL        time.Duration
}

// Propose opens signature collection for a privileged action. For key
// rotations the replacement key is staged immediately, but the current keys
// stay authoritative until the ledger confirms the swap.
func (s *Service) Propose(ctx context.Context, req ProposeRequest) (*models.Proposal, error) {
	if _, err := s.tokens.GetToken(ctx, req.TokenID); err != nil {
		return nil, err
	}

	authority, err := authorityFor(req.Type, req.Parameters)
	if err != nil {
		return nil, err
	}
	structure, err := s.keys.Structure(req.TokenID, authority)
	if err != nil {
		return nil, err
	}

	ttl := req.TTL
	if ttl == 0 {
		ttl = DefaultTTL
	}
	now := requestcontext.Now(ctx)
	proposal, err := models.NewProposal(id.NewProposalID(), req.TokenID, req.Type, req.Parameters, structure.SignerIDs(), ttl, now)
	if err != nil {
		return nil, err
	}

	if req.Type == models.TypeKeyRotation {
		replacement := keyauth.Signatory{
			ID:        req.Parameters.NewSignatory,
			PublicKey: req.Parameters.NewPublicKey,
		}
		if err := s.keys.StageRotation(proposal.ID, req.TokenID, authority, req.Parameters.ReplaceSignatory, replacement); err != nil {
			return nil, err
		}
	}

	if err := s.proposals.Create(ctx, proposal); err != nil {
		s.keys.AbortRotation(proposal.ID)
		if errors.Is(err, sentinel.ErrConflict) {
			return nil, dErrors.New(dErrors.CodeConflict, "proposal already exists")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to persist proposal")
	}

	s.record(ctx, audit.EventProposalCreated, proposalEventPayload(proposal), "")
	if s.metrics != nil {
		s.metrics.IncrementProposalsCreated(string(req.Type))
	}
	return proposal, nil
}

// SigningPayload is the canonical byte string a signatory signs to approve a
// proposal. It binds the approval to one proposal, token and action.
func SigningPayload(proposal *models.Proposal) []byte {
	return fmt.Appendf(nil, "%s|%s|%s", proposal.ID, proposal.TokenID, proposal.Type)
}

// Sign verifies and records one approval. When the collected signatures
// satisfy the key authority's quorum the proposal executes immediately; a
// signature arriving at or after expiry is rejected and never counts.
func (s *Service) Sign(ctx context.Context, proposalID id.ProposalID, signatoryID id.SignatoryID, signature []byte) (*models.Proposal, error) {
	s.locks.Lock(lockKey(proposalID))
	defer s.locks.Unlock(lockKey(proposalID))

	proposal, err := s.proposals.FindByID(ctx, proposalID)
	if err != nil {
		return nil, wrapProposalErr(err)
	}

	now := requestcontext.Now(ctx)
	if proposal.Status == models.StatusProposed && proposal.IsExpiredAt(now) {
		if proposal, err = s.expireLocked(ctx, proposalID, now); err != nil {
			return nil, err
		}
		return proposal, dErrors.New(dErrors.CodeProposalExpired, "proposal expired")
	}

	signatory, err := s.keys.Signatory(proposal.TokenID, signatoryID)
	if err != nil {
		return nil, err
	}
	if err := keyauth.VerifySignature(signatory.PublicKey, SigningPayload(proposal), signature); err != nil {
		return nil, err
	}

	proposal, err = s.proposals.Execute(ctx, proposalID,
		func(p *models.Proposal) error { return p.CanSign(signatoryID, now) },
		func(p *models.Proposal) { p.ApplySignature(signatoryID, now) },
	)
	if err != nil {
		return nil, wrapProposalErr(err)
	}

	s.record(ctx, audit.EventProposalSigned, signatureEventPayload(proposal, signatoryID), "")
	if s.metrics != nil {
		s.metrics.IncrementSignatures()
	}

	authority, err := authorityFor(proposal.Type, proposal.Parameters)
	if err != nil {
		return nil, err
	}
	structure, err := s.keys.Structure(proposal.TokenID, authority)
	if err != nil {
		return nil, err
	}
	if quorum := structure.Satisfies(proposal.SignedIDs()); !quorum.OK {
		return proposal, nil
	}
	return s.execute(ctx, proposal)
}

// Execute retries a quorum-complete proposal whose previous execution hit a
// transient ledger failure. Fails with QuorumNotMet when the collected
// signatures no longer satisfy the current structure.
func (s *Service) Execute(ctx context.Context, proposalID id.ProposalID) (*models.Proposal, error) {
	s.locks.Lock(lockKey(proposalID))
	defer s.locks.Unlock(lockKey(proposalID))

	proposal, err := s.proposals.FindByID(ctx, proposalID)
	if err != nil {
		return nil, wrapProposalErr(err)
	}
	now := requestcontext.Now(ctx)
	if proposal.Status == models.StatusProposed && proposal.IsExpiredAt(now) {
		if proposal, err = s.expireLocked(ctx, proposalID, now); err != nil {
			return nil, err
		}
		return proposal, dErrors.New(dErrors.CodeProposalExpired, "proposal expired")
	}

	authority, err := authorityFor(proposal.Type, proposal.Parameters)
	if err != nil {
		return nil, err
	}
	structure, err := s.keys.Structure(proposal.TokenID, authority)
	if err != nil {
		return nil, err
	}
	if quorum := structure.Satisfies(proposal.SignedIDs()); !quorum.OK {
		return nil, dErrors.Newf(dErrors.CodeQuorumNotMet,
			"%d more signatures required", len(quorum.Missing))
	}
	return s.execute(ctx, proposal)
}

// Reject vetoes a proposal before quorum. Any required signatory may veto.
func (s *Service) Reject(ctx context.Context, proposalID id.ProposalID, signatoryID id.SignatoryID) (*models.Proposal, error) {
	s.locks.Lock(lockKey(proposalID))
	defer s.locks.Unlock(lockKey(proposalID))

	now := requestcontext.Now(ctx)
	proposal, err := s.proposals.Execute(ctx, proposalID,
		func(p *models.Proposal) error { return p.CanReject(signatoryID) },
		func(p *models.Proposal) { p.ApplyRejected(now) },
	)
	if err != nil {
		return nil, wrapProposalErr(err)
	}
	s.keys.AbortRotation(proposalID)

	s.record(ctx, audit.EventProposalRejected, signatureEventPayload(proposal, signatoryID), "")
	if s.metrics != nil {
		s.metrics.IncrementProposalsFinished("rejected")
	}
	return proposal, nil
}

// GetProposal returns a proposal, lazily expiring it when its deadline has
// passed so a stale aggregate can never act between sweeps.
func (s *Service) GetProposal(ctx context.Context, proposalID id.ProposalID) (*models.Proposal, error) {
	proposal, err := s.proposals.FindByID(ctx, proposalID)
	if err != nil {
		return nil, wrapProposalErr(err)
	}
	now := requestcontext.Now(ctx)
	if proposal.Status == models.StatusProposed && proposal.IsExpiredAt(now) {
		s.locks.Lock(lockKey(proposalID))
		defer s.locks.Unlock(lockKey(proposalID))
		return s.expireLocked(ctx, proposalID, now)
	}
	return proposal, nil
}

// ListPendingForToken returns a token's open proposals.
func (s *Service) ListPendingForToken(ctx context.Context, tokenID id.TokenID) ([]*models.Proposal, error) {
	proposals, err := s.proposals.ListPendingForToken(ctx, tokenID)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list proposals")
	}
	return proposals, nil
}

// execute runs the ledger side of a quorum-complete proposal. A transient
// ledger failure returns the proposal to PROPOSED for a later retry; a
// rejection is terminal.
func (s *Service) execute(ctx context.Context, proposal *models.Proposal) (*models.Proposal, error) {
	now := requestcontext.Now(ctx)
	proposal, err := s.proposals.Execute(ctx, proposal.ID,
		func(p *models.Proposal) error { return p.CanExecute(now) },
		func(p *models.Proposal) { p.ApplyExecuting(now) },
	)
	if err != nil {
		return nil, wrapProposalErr(err)
	}

	// One key per proposal: re-executing after a transient failure can
	// never duplicate the ledger effect.
	key := ledger.DeriveKey("governance.execute", proposal.ID.String())
	execErr := s.dispatch(ctx, proposal, key)
	if execErr != nil {
		if ledger.IsUnavailable(execErr) {
			if _, revertErr := s.proposals.Execute(ctx, proposal.ID,
				func(*models.Proposal) error { return nil },
				func(p *models.Proposal) { p.ApplyExecutionFailed(requestcontext.Now(ctx)) },
			); revertErr != nil {
				s.logger.ErrorContext(ctx, "proposal revert failed", "proposal_id", proposal.ID, "error", revertErr)
			}
			return nil, execErr
		}

		// The ledger (or a local invariant) declined; the proposal is dead.
		proposal, err = s.proposals.Execute(ctx, proposal.ID,
			func(*models.Proposal) error { return nil },
			func(p *models.Proposal) { p.ApplyRejected(requestcontext.Now(ctx)) },
		)
		if err != nil {
			return nil, wrapProposalErr(err)
		}
		s.keys.AbortRotation(proposal.ID)
		s.record(ctx, audit.EventProposalRejected, proposalEventPayload(proposal), "")
		if s.metrics != nil {
			s.metrics.IncrementProposalsFinished("rejected")
		}
		return proposal, execErr
	}

	proposal, err = s.proposals.Execute(ctx, proposal.ID,
		func(*models.Proposal) error { return nil },
		func(p *models.Proposal) { p.ApplyExecuted(requestcontext.Now(ctx)) },
	)
	if err != nil {
		return nil, wrapProposalErr(err)
	}
	s.record(ctx, audit.EventProposalExecuted, proposalEventPayload(proposal), "")
	if s.metrics != nil {
		s.metrics.IncrementProposalsFinished("executed")
	}
	return proposal, nil
}

func (s *Service) dispatch(ctx context.Context, proposal *models.Proposal, key ledger.IdempotencyKey) error {
	switch proposal.Type {
	case models.TypeSupplyChange:
		_, err := s.tokens.Mint(ctx, proposal.TokenID, proposal.Parameters.Amount, key)
		return err

	case models.TypeBurnTokens:
		_, err := s.tokens.Burn(ctx, proposal.TokenID, proposal.Parameters.Amount, key)
		return err

	case models.TypeFreezeAccount:
		token, err := s.tokens.GetToken(ctx, proposal.TokenID)
		if err != nil {
			return err
		}
		receipt, err := s.gateway.FreezeAccount(ctx, ledger.FreezeAccountRequest{
			IdempotencyKey: key,
			LedgerTokenID:  token.LedgerTokenID,
			Account:        proposal.Parameters.Account,
			Frozen:         true,
		})
		if err != nil {
			return err
		}
		s.record(ctx, audit.EventAccountFrozen, accountFrozenPayload(proposal), receipt.TransactionID)
		return nil

	case models.TypeKeyRotation:
		if err := s.ensureStaged(proposal); err != nil {
			return err
		}
		structures, err := s.keys.PreviewRotation(proposal.ID)
		if err != nil {
			return err
		}
		if _, err := s.tokens.RotateKeys(ctx, proposal.TokenID, structures, key); err != nil {
			return err
		}
		// Cutover only after the ledger confirmed the swap.
		return s.keys.CommitRotation(proposal.ID)

	default:
		return dErrors.Newf(dErrors.CodeValidation, "unknown proposal type %q", proposal.Type)
	}
}

// ensureStaged re-stages a rotation whose staged key did not survive a
// restart. The proposal parameters carry everything staging needs, and
// StageRotation re-validates the post-swap structure against the current
// keys, so re-staging an already-staged proposal is a no-op and a stale one
// still fails.
func (s *Service) ensureStaged(proposal *models.Proposal) error {
	if _, _, err := s.keys.StagedReplacement(proposal.ID); err == nil {
		return nil
	}
	authority, err := authorityFor(proposal.Type, proposal.Parameters)
	if err != nil {
		return err
	}
	return s.keys.StageRotation(proposal.ID, proposal.TokenID, authority, proposal.Parameters.ReplaceSignatory, keyauth.Signatory{
		ID:        proposal.Parameters.NewSignatory,
		PublicKey: proposal.Parameters.NewPublicKey,
	})
}

// expireLocked finalizes an overdue proposal. Caller holds the entity lock.
func (s *Service) expireLocked(ctx context.Context, proposalID id.ProposalID, now time.Time) (*models.Proposal, error) {
	proposal, err := s.proposals.Execute(ctx, proposalID,
		func(p *models.Proposal) error { return p.CanExpire(now) },
		func(p *models.Proposal) { p.ApplyExpired(now) },
	)
	if err != nil {
		if dErrors.HasCode(err, dErrors.CodeConflict) {
			// Lost the race against another expirer; read the settled state.
			return s.proposals.FindByID(ctx, proposalID)
		}
		return nil, wrapProposalErr(err)
	}
	s.keys.AbortRotation(proposalID)
	s.record(ctx, audit.EventProposalExpired, proposalEventPayload(proposal), "")
	if s.metrics != nil {
		s.metrics.IncrementProposalsFinished("expired")
	}
	return proposal, nil
}

func authorityFor(proposalType models.Type, params models.Parameters) (keyauth.Authority, error) {
	switch proposalType {
	case models.TypeSupplyChange, models.TypeBurnTokens:
		return keyauth.AuthoritySupply, nil
	case models.TypeFreezeAccount:
		return keyauth.AuthorityFreeze, nil
	case models.TypeKeyRotation:
		authority := keyauth.Authority(params.Authority)
		for _, known := range keyauth.Authorities {
			if authority == known {
				return authority, nil
			}
		}
		return "", dErrors.Newf(dErrors.CodeValidation, "unknown authority %q", params.Authority)
	default:
		return "", dErrors.Newf(dErrors.CodeValidation, "unknown proposal type %q", proposalType)
	}
}

func (s *Service) record(ctx context.Context, eventType audit.EventType, payload any, causedBy id.TransactionID) {
	if _, err := s.recorder.Record(ctx, eventType, payload, causedBy); err != nil {
		s.logger.ErrorContext(ctx, "audit record failed",
			"event_type", eventType,
			"error", err,
		)
	}
}

func lockKey(proposalID id.ProposalID) string {
	return "proposal/" + proposalID.String()
}

func wrapProposalErr(err error) error {
	if errors.Is(err, sentinel.ErrNotFound) {
		return dErrors.New(dErrors.CodeNotFound, "proposal not found")
	}
	return err
}

func proposalEventPayload(proposal *models.Proposal) map[string]any {
	return map[string]any{
		"proposal_id": proposal.ID.String(),
		"token_id":    proposal.TokenID.String(),
		"type":        string(proposal.Type),
		"status":      string(proposal.Status),
		"signatures":  len(proposal.Signatures),
	}
}

func signatureEventPayload(proposal *models.Proposal, signatoryID id.SignatoryID) map[string]any {
	payload := proposalEventPayload(proposal)
	payload["signatory_id"] = signatoryID.String()
	return payload
}

func accountFrozenPayload(proposal *models.Proposal) map[string]any {
	payload := proposalEventPayload(proposal)
	payload["account"] = proposal.Parameters.Account.String()
	return payload
}
