// Package service orchestrates the tokenized-property lifecycle.
package service

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"brickledger/internal/audit"
	"brickledger/internal/keyauth"
	"brickledger/internal/ledger"
	tokenmetrics "brickledger/internal/token/metrics"
	"brickledger/internal/token/models"
	id "brickledger/pkg/domain"
	dErrors "brickledger/pkg/domain-errors"
	"brickledger/pkg/platform/keymutex"
	"brickledger/pkg/platform/sentinel"
	"brickledger/pkg/requestcontext"
)

// TokenStore persists token records. Execute must hold the entity lock
// (mutex or FOR UPDATE) across both callbacks.
type TokenStore interface {
	Create(ctx context.Context, token *models.Token) error
	FindByID(ctx context.Context, tokenID id.TokenID) (*models.Token, error)
	List(ctx context.Context) ([]*models.Token, error)
	Execute(ctx context.Context, tokenID id.TokenID, can func(*models.Token) error, apply func(*models.Token)) (*models.Token, error)
}

// AuditRecorder appends one event to the consensus audit trail.
type AuditRecorder interface {
	Record(ctx context.Context, eventType audit.EventType, payload any, causedBy id.TransactionID) (audit.Event, error)
}

// Service orchestrates token creation and the quorum-gated mutations that
// governance execution invokes.
type Service struct {
	tokens   TokenStore
	gateway  ledger.Gateway
	keys     *keyauth.Registry
	recorder AuditRecorder
	locks    *keymutex.KeyMutex
	logger   *slog.Logger
	metrics  *tokenmetrics.Metrics
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

func WithMetrics(m *tokenmetrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

// New constructs a token service.
func New(tokens TokenStore, gateway ledger.Gateway, keys *keyauth.Registry, recorder AuditRecorder, opts ...Option) *Service {
	s := &Service{
		tokens:   tokens,
		gateway:  gateway,
		keys:     keys,
		recorder: recorder,
		locks:    keymutex.New(),
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// CreateTokenRequest describes a new tokenized property. The signatory set
// must cover every role the threshold policy requires.
type CreateTokenRequest struct {
	Name          string
	Symbol        string
	Decimals      int
	InitialSupply uint64
	MaxSupply     uint64
	Treasury      id.AccountID
	Signatories   []keyauth.Signatory
}

// CreateToken builds the key structures, creates the token on the ledger and
// persists a DRAFT record. Key configuration problems surface as
// InsufficientKeys before any network call, leaving no partial ledger state.
func (s *Service) CreateToken(ctx context.Context, req CreateTokenRequest) (*models.Token, error) {
	start := time.Now()

	structures, err := keyauth.BuildKeyStructures(req.Signatories)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInsufficientKeys, "key configuration rejected")
	}

	token, err := models.NewToken(
		id.NewTokenID(),
		strings.TrimSpace(req.Name),
		strings.TrimSpace(req.Symbol),
		req.Decimals,
		req.InitialSupply,
		req.MaxSupply,
		req.Treasury,
		requestcontext.Now(ctx),
	)
	if err != nil {
		if dErrors.HasCode(err, dErrors.CodeInvariantViolation) {
			return nil, dErrors.New(dErrors.CodeValidation, err.Error())
		}
		return nil, err
	}
	token.Keys = keyauth.CloneStructures(structures)

	receipt, err := s.gateway.CreateToken(ctx, ledger.CreateTokenRequest{
		IdempotencyKey: ledger.DeriveKey("token.create", token.ID.String()),
		Name:           token.Name,
		Symbol:         token.Symbol,
		Decimals:       token.Decimals,
		InitialSupply:  token.Supply,
		MaxSupply:      token.MaxSupply,
		Treasury:       token.Treasury,
		Keys:           wireKeys(structures),
	})
	if err != nil {
		return nil, err
	}
	token.LedgerTokenID = receipt.EntityID

	if err := s.tokens.Create(ctx, token); err != nil {
		if errors.Is(err, sentinel.ErrConflict) {
			return nil, dErrors.New(dErrors.CodeConflict, "token already exists")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to persist token")
	}
	s.keys.Register(token.ID, token.Keys)

	s.record(ctx, audit.EventTokenCreated, tokenEventPayload(token), receipt.TransactionID)
	if s.metrics != nil {
		s.metrics.IncrementTokensCreated()
		s.metrics.ObserveCreateToken(start)
	}
	return token, nil
}

// RestoreKeyRegistry reloads every persisted token's key structures into the
// key authority registry. Called once at startup: the token record is the
// durable source of key material, the registry its per-process view.
func (s *Service) RestoreKeyRegistry(ctx context.Context) (int, error) {
	tokens, err := s.tokens.List(ctx)
	if err != nil {
		return 0, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list tokens")
	}
	restored := 0
	for _, token := range tokens {
		if len(token.Keys) == 0 {
			continue
		}
		s.keys.Register(token.ID, token.Keys)
		restored++
	}
	return restored, nil
}

// Activate transitions a DRAFT token to ACTIVE once the ledger create has
// assigned its ledger-native id.
func (s *Service) Activate(ctx context.Context, tokenID id.TokenID) (*models.Token, error) {
	s.locks.Lock(lockKey(tokenID))
	defer s.locks.Unlock(lockKey(tokenID))

	now := requestcontext.Now(ctx)
	token, err := s.tokens.Execute(ctx, tokenID,
		func(t *models.Token) error { return t.CanActivate() },
		func(t *models.Token) { t.ApplyActivation(now) },
	)
	if err != nil {
		return nil, wrapTokenErr(err)
	}
	s.record(ctx, audit.EventTokenActivated, tokenEventPayload(token), "")
	return token, nil
}

// Mint adds supply to the treasury. The amount's quorum was collected by
// governance; this is only ever invoked from proposal execution, which
// supplies the proposal-scoped idempotency key.
func (s *Service) Mint(ctx context.Context, tokenID id.TokenID, amount uint64, key ledger.IdempotencyKey) (*models.Token, error) {
	s.locks.Lock(lockKey(tokenID))
	defer s.locks.Unlock(lockKey(tokenID))

	token, err := s.tokens.FindByID(ctx, tokenID)
	if err != nil {
		return nil, wrapTokenErr(err)
	}
	if err := token.CanMint(amount); err != nil {
		return nil, dErrors.New(dErrors.CodePolicyViolation, err.Error())
	}

	receipt, err := s.gateway.MintTokens(ctx, ledger.MintRequest{
		IdempotencyKey: key,
		LedgerTokenID:  token.LedgerTokenID,
		Amount:         amount,
	})
	if err != nil {
		return nil, err
	}

	now := requestcontext.Now(ctx)
	token, err = s.tokens.Execute(ctx, tokenID,
		func(t *models.Token) error { return t.CanMint(amount) },
		func(t *models.Token) { t.ApplyMint(amount, now) },
	)
	if err != nil {
		return nil, wrapTokenErr(err)
	}

	s.record(ctx, audit.EventTokensMinted, supplyEventPayload(token, amount), receipt.TransactionID)
	if s.metrics != nil {
		s.metrics.IncrementSupplyChange("mint")
	}
	return token, nil
}

// Burn removes supply from the treasury. Like Mint, only proposal execution
// reaches this path.
func (s *Service) Burn(ctx context.Context, tokenID id.TokenID, amount uint64, key ledger.IdempotencyKey) (*models.Token, error) {
	s.locks.Lock(lockKey(tokenID))
	defer s.locks.Unlock(lockKey(tokenID))

	token, err := s.tokens.FindByID(ctx, tokenID)
	if err != nil {
		return nil, wrapTokenErr(err)
	}
	if err := token.CanBurn(amount); err != nil {
		return nil, dErrors.New(dErrors.CodePolicyViolation, err.Error())
	}

	receipt, err := s.gateway.BurnTokens(ctx, ledger.BurnRequest{
		IdempotencyKey: key,
		LedgerTokenID:  token.LedgerTokenID,
		Amount:         amount,
	})
	if err != nil {
		return nil, err
	}

	now := requestcontext.Now(ctx)
	token, err = s.tokens.Execute(ctx, tokenID,
		func(t *models.Token) error { return t.CanBurn(amount) },
		func(t *models.Token) { t.ApplyBurn(amount, now) },
	)
	if err != nil {
		return nil, wrapTokenErr(err)
	}

	s.record(ctx, audit.EventTokensBurned, supplyEventPayload(token, amount), receipt.TransactionID)
	if s.metrics != nil {
		s.metrics.IncrementSupplyChange("burn")
	}
	return token, nil
}

// Freeze is the incident-response fast path. It validates the freeze
// authority's quorum, then attempts the ledger freeze. The attempt is
// audited regardless of outcome so a responder's action is traceable even
// when the ledger rejects it.
func (s *Service) Freeze(ctx context.Context, tokenID id.TokenID, approvals []id.SignatoryID) (*models.Token, error) {
	return s.setFrozen(ctx, tokenID, approvals, true)
}

// Unfreeze reverses a freeze under the same authority and audit rules.
func (s *Service) Unfreeze(ctx context.Context, tokenID id.TokenID, approvals []id.SignatoryID) (*models.Token, error) {
	return s.setFrozen(ctx, tokenID, approvals, false)
}

func (s *Service) setFrozen(ctx context.Context, tokenID id.TokenID, approvals []id.SignatoryID, frozen bool) (*models.Token, error) {
	s.locks.Lock(lockKey(tokenID))
	defer s.locks.Unlock(lockKey(tokenID))

	action := "freeze"
	if !frozen {
		action = "unfreeze"
	}

	token, err := s.tokens.FindByID(ctx, tokenID)
	if err != nil {
		return nil, wrapTokenErr(err)
	}

	structure, err := s.keys.Structure(tokenID, keyauth.AuthorityFreeze)
	if err != nil {
		return nil, err
	}
	if quorum := structure.Satisfies(approvals); !quorum.OK {
		return nil, dErrors.Newf(dErrors.CodeQuorumNotMet,
			"%s requires %d of %d freeze signatories", action, structure.Threshold, len(structure.Signers))
	}
	if frozen {
		err = token.CanFreeze()
	} else {
		err = token.CanUnfreeze()
	}
	if err != nil {
		return nil, dErrors.New(dErrors.CodeConflict, err.Error())
	}

	receipt, ledgerErr := s.gateway.FreezeToken(ctx, ledger.FreezeTokenRequest{
		IdempotencyKey: ledger.DeriveKey("token."+action, tokenID.String(), requestcontext.Nonce(ctx)),
		LedgerTokenID:  token.LedgerTokenID,
		Frozen:         frozen,
	})
	if ledgerErr != nil {
		// The attempt is part of the record even though nothing changed.
		failureEvent := audit.EventFreezeFailed
		if !frozen {
			failureEvent = audit.EventUnfreezeFailed
		}
		s.record(ctx, failureEvent, freezeFailurePayload(token, ledgerErr), "")
		if s.metrics != nil {
			s.metrics.IncrementFreezeAttempt(action, "failed")
		}
		return nil, ledgerErr
	}

	now := requestcontext.Now(ctx)
	token, err = s.tokens.Execute(ctx, tokenID,
		func(t *models.Token) error {
			if frozen {
				return t.CanFreeze()
			}
			return t.CanUnfreeze()
		},
		func(t *models.Token) {
			if frozen {
				t.ApplyFreeze(now)
			} else {
				t.ApplyUnfreeze(now)
			}
		},
	)
	if err != nil {
		return nil, wrapTokenErr(err)
	}

	successEvent := audit.EventTokenFrozen
	if !frozen {
		successEvent = audit.EventTokenUnfrozen
	}
	s.record(ctx, successEvent, tokenEventPayload(token), receipt.TransactionID)
	if s.metrics != nil {
		s.metrics.IncrementFreezeAttempt(action, "ok")
	}
	return token, nil
}

// RotateKeys pushes a new key structure set to the ledger. Proposal
// execution calls this after the current keys' quorum approved the swap; the
// registry cutover happens only after this returns successfully.
func (s *Service) RotateKeys(ctx context.Context, tokenID id.TokenID, structures map[keyauth.Authority]keyauth.KeyStructure, key ledger.IdempotencyKey) (*ledger.Receipt, error) {
	s.locks.Lock(lockKey(tokenID))
	defer s.locks.Unlock(lockKey(tokenID))

	token, err := s.tokens.FindByID(ctx, tokenID)
	if err != nil {
		return nil, wrapTokenErr(err)
	}

	receipt, err := s.gateway.UpdateTokenKeys(ctx, ledger.UpdateTokenKeysRequest{
		IdempotencyKey: key,
		LedgerTokenID:  token.LedgerTokenID,
		Keys:           wireKeys(structures),
	})
	if err != nil {
		return nil, err
	}

	// The persisted record is what rebuilds the registry on boot, so the new
	// structures must land in the store before the registry cuts over.
	now := requestcontext.Now(ctx)
	token, err = s.tokens.Execute(ctx, tokenID,
		func(*models.Token) error { return nil },
		func(t *models.Token) { t.ApplyKeyRotation(structures, now) },
	)
	if err != nil {
		return nil, wrapTokenErr(err)
	}

	s.record(ctx, audit.EventKeyRotated, tokenEventPayload(token), receipt.TransactionID)
	return receipt, nil
}

// Retire moves a burned-down token into its terminal state.
func (s *Service) Retire(ctx context.Context, tokenID id.TokenID) (*models.Token, error) {
	s.locks.Lock(lockKey(tokenID))
	defer s.locks.Unlock(lockKey(tokenID))

	now := requestcontext.Now(ctx)
	token, err := s.tokens.Execute(ctx, tokenID,
		func(t *models.Token) error { return t.CanRetire() },
		func(t *models.Token) { t.ApplyRetire(now) },
	)
	if err != nil {
		return nil, wrapTokenErr(err)
	}
	s.record(ctx, audit.EventTokenRetired, tokenEventPayload(token), "")
	return token, nil
}

// GetToken returns a token record by id.
func (s *Service) GetToken(ctx context.Context, tokenID id.TokenID) (*models.Token, error) {
	token, err := s.tokens.FindByID(ctx, tokenID)
	if err != nil {
		return nil, wrapTokenErr(err)
	}
	return token, nil
}

// ListTokens returns all token records.
func (s *Service) ListTokens(ctx context.Context) ([]*models.Token, error) {
	tokens, err := s.tokens.List(ctx)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list tokens")
	}
	return tokens, nil
}

// record appends to the audit trail as the operation's last step. The
// business effect already committed, so an audit failure is logged rather
// than unwound.
func (s *Service) record(ctx context.Context, eventType audit.EventType, payload any, causedBy id.TransactionID) {
	if _, err := s.recorder.Record(ctx, eventType, payload, causedBy); err != nil {
		s.logger.ErrorContext(ctx, "audit record failed",
			"event_type", eventType,
			"error", err,
		)
	}
}

func wireKeys(structures map[keyauth.Authority]keyauth.KeyStructure) map[ledger.KeyRole]ledger.ThresholdKey {
	keys := make(map[ledger.KeyRole]ledger.ThresholdKey, len(structures))
	for authority, structure := range structures {
		keys[ledger.KeyRole(authority)] = ledger.ThresholdKey{
			Threshold:  structure.Threshold,
			PublicKeys: structure.PublicKeys(),
		}
	}
	return keys
}

func lockKey(tokenID id.TokenID) string {
	return "token/" + tokenID.String()
}

func wrapTokenErr(err error) error {
	switch {
	case errors.Is(err, sentinel.ErrNotFound):
		return dErrors.New(dErrors.CodeNotFound, "token not found")
	case dErrors.HasCode(err, dErrors.CodeInvariantViolation):
		return dErrors.New(dErrors.CodeConflict, err.Error())
	default:
		return err
	}
}

func tokenEventPayload(token *models.Token) map[string]any {
	return map[string]any{
		"token_id":        token.ID.String(),
		"ledger_token_id": token.LedgerTokenID,
		"symbol":          token.Symbol,
		"status":          string(token.Status),
		"supply":          token.Supply,
	}
}

func supplyEventPayload(token *models.Token, amount uint64) map[string]any {
	payload := tokenEventPayload(token)
	payload["amount"] = amount
	return payload
}

func freezeFailurePayload(token *models.Token, err error) map[string]any {
	payload := tokenEventPayload(token)
	payload["error_kind"] = string(dErrors.CodeOf(err))
	payload["error"] = err.Error()
	return payload
}
