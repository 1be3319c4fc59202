// Package service orchestrates escrow funding, release and expiry.
package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"brickledger/internal/audit"
	escrowmetrics "brickledger/internal/escrow/metrics"
	"brickledger/internal/escrow/models"
	"brickledger/internal/ledger"
	id "brickledger/pkg/domain"
	dErrors "brickledger/pkg/domain-errors"
	"brickledger/pkg/platform/keymutex"
	"brickledger/pkg/platform/sentinel"
	"brickledger/pkg/requestcontext"
)

// EscrowStore persists escrow records. Execute must hold the entity lock
// (mutex or FOR UPDATE) across both callbacks.
type EscrowStore interface {
	Create(ctx context.Context, escrow *models.Escrow) error
	FindByID(ctx context.Context, escrowID id.EscrowID) (*models.Escrow, error)
	ListExpired(ctx context.Context, asOf time.Time) ([]*models.Escrow, error)
	Execute(ctx context.Context, escrowID id.EscrowID, can func(*models.Escrow) error, apply func(*models.Escrow)) (*models.Escrow, error)
}

// AuditRecorder appends one event to the consensus audit trail.
type AuditRecorder interface {
	Record(ctx context.Context, eventType audit.EventType, payload any, causedBy id.TransactionID) (audit.Event, error)
}

// Service holds escrowed value under a majority release policy. Funds move
// on the ledger; the store tracks the mirrored balance and lifecycle state.
type Service struct {
	escrows  EscrowStore
	gateway  ledger.Gateway
	recorder AuditRecorder
	locks    *keymutex.KeyMutex
	logger   *slog.Logger
	metrics  *escrowmetrics.Metrics
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

func WithMetrics(m *escrowmetrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

// New constructs an escrow service.
func New(escrows EscrowStore, gateway ledger.Gateway, recorder AuditRecorder, opts ...Option) *Service {
	s := &Service{
		escrows:  escrows,
		gateway:  gateway,
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

// OpenEscrowRequest funds a new escrow from the depositor's account.
type OpenEscrowRequest struct {
	Depositor   id.AccountID
	Beneficiary id.AccountID
	Amount      uint64
	Signatories []id.SignatoryID
	Conditions  []string
	Expiry      time.Duration
}

// Open creates an escrow and moves the initial amount from the depositor to
// the escrow's ledger account. A failed funding transfer leaves no record; a
// record that fails to persist after funding refunds the depositor.
func (s *Service) Open(ctx context.Context, req OpenEscrowRequest) (*models.Escrow, error) {
	now := requestcontext.Now(ctx)
	escrow, err := models.NewEscrow(
		id.NewEscrowID(),
		req.Depositor,
		req.Beneficiary,
		req.Amount,
		req.Signatories,
		req.Conditions,
		req.Expiry,
		now,
	)
	if err != nil {
		if dErrors.HasCode(err, dErrors.CodeInvariantViolation) {
			return nil, dErrors.New(dErrors.CodeValidation, err.Error())
		}
		return nil, err
	}

	var causedBy id.TransactionID
	if req.Amount > 0 {
		receipt, err := s.gateway.TransferValue(ctx, ledger.TransferValueRequest{
			IdempotencyKey: ledger.DeriveKey("escrow.open", escrow.ID.String()),
			From:           escrow.Depositor,
			To:             escrowAccount(escrow.ID),
			Amount:         req.Amount,
		})
		if err != nil {
			return nil, err
		}
		causedBy = receipt.TransactionID
	}

	if err := s.escrows.Create(ctx, escrow); err != nil {
		s.refundAbandonedOpen(ctx, escrow)
		if errors.Is(err, sentinel.ErrConflict) {
			return nil, dErrors.New(dErrors.CodeConflict, "escrow already exists")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to persist escrow")
	}

	s.record(ctx, audit.EventEscrowOpened, escrowEventPayload(escrow), causedBy)
	if s.metrics != nil {
		s.metrics.IncrementEscrowsOpened()
	}
	return escrow, nil
}

// refundAbandonedOpen returns funding for an escrow whose record never
// persisted; without it the value would sit in the escrow account with
// nothing tracking it. The stable refund key cannot collide with a later
// escrow: the id it derives from was never stored, so no expiry will ever
// refund it again.
func (s *Service) refundAbandonedOpen(ctx context.Context, escrow *models.Escrow) {
	if escrow.Balance == 0 {
		return
	}
	if _, err := s.gateway.TransferValue(ctx, ledger.TransferValueRequest{
		IdempotencyKey: ledger.DeriveKey("escrow.refund", escrow.ID.String()),
		From:           escrowAccount(escrow.ID),
		To:             escrow.Depositor,
		Amount:         escrow.Balance,
	}); err != nil {
		s.logger.ErrorContext(ctx, "refund of unpersisted escrow failed",
			"escrow_id", escrow.ID.String(),
			"error", err,
		)
	}
}

// Deposit adds funds to an open escrow from its depositor's account.
func (s *Service) Deposit(ctx context.Context, escrowID id.EscrowID, amount uint64) (*models.Escrow, error) {
	s.locks.Lock(lockKey(escrowID))
	defer s.locks.Unlock(lockKey(escrowID))

	now := requestcontext.Now(ctx)
	escrow, err := s.escrows.FindByID(ctx, escrowID)
	if err != nil {
		return nil, wrapEscrowErr(err)
	}
	if escrow.Status == models.StatusOpen && escrow.IsExpiredAt(now) {
		s.expireLocked(ctx, escrow, now)
		return nil, dErrors.New(dErrors.CodeAlreadyFinalized, "escrow has expired")
	}
	if err := escrow.CanDeposit(amount, now); err != nil {
		return nil, err
	}

	receipt, err := s.gateway.TransferValue(ctx, ledger.TransferValueRequest{
		IdempotencyKey: ledger.DeriveKey("escrow.deposit", escrowID.String(), requestcontext.Nonce(ctx)),
		From:           escrow.Depositor,
		To:             escrowAccount(escrowID),
		Amount:         amount,
	})
	if err != nil {
		return nil, err
	}

	escrow, err = s.escrows.Execute(ctx, escrowID,
		func(e *models.Escrow) error { return e.CanDeposit(amount, now) },
		func(e *models.Escrow) { e.ApplyDeposit(amount, now) },
	)
	if err != nil {
		return nil, wrapEscrowErr(err)
	}

	s.record(ctx, audit.EventEscrowDeposited, depositEventPayload(escrow, amount), receipt.TransactionID)
	if s.metrics != nil {
		s.metrics.IncrementDeposits()
	}
	return escrow, nil
}

// Release pays the balance to the beneficiary once a majority of the
// escrow's signatories have approved. An expired escrow refunds instead,
// regardless of approvals.
func (s *Service) Release(ctx context.Context, escrowID id.EscrowID, approvals []id.SignatoryID) (*models.Escrow, error) {
	s.locks.Lock(lockKey(escrowID))
	defer s.locks.Unlock(lockKey(escrowID))

	now := requestcontext.Now(ctx)
	escrow, err := s.escrows.FindByID(ctx, escrowID)
	if err != nil {
		return nil, wrapEscrowErr(err)
	}
	if escrow.Status == models.StatusOpen && escrow.IsExpiredAt(now) {
		s.expireLocked(ctx, escrow, now)
		return nil, dErrors.New(dErrors.CodeAlreadyFinalized, "escrow has expired")
	}
	if err := escrow.CanRelease(now); err != nil {
		return nil, err
	}
	if ok, missing := escrow.ApprovalsSatisfied(approvals); !ok {
		return nil, dErrors.Newf(dErrors.CodeQuorumNotMet,
			"release requires %d of %d signatories, missing %d approvals",
			escrow.ReleaseQuorum(), len(escrow.Signatories), len(missing))
	}

	var causedBy id.TransactionID
	if escrow.Balance > 0 {
		receipt, err := s.gateway.TransferValue(ctx, ledger.TransferValueRequest{
			IdempotencyKey: ledger.DeriveKey("escrow.release", escrowID.String()),
			From:           escrowAccount(escrowID),
			To:             escrow.Beneficiary,
			Amount:         escrow.Balance,
		})
		if err != nil {
			return nil, err
		}
		causedBy = receipt.TransactionID
	}

	escrow, err = s.escrows.Execute(ctx, escrowID,
		func(e *models.Escrow) error { return e.CanRelease(now) },
		func(e *models.Escrow) { e.ApplyRelease(now) },
	)
	if err != nil {
		return nil, wrapEscrowErr(err)
	}

	s.record(ctx, audit.EventEscrowReleased, escrowEventPayload(escrow), causedBy)
	if s.metrics != nil {
		s.metrics.IncrementEscrowsFinished("released")
	}
	return escrow, nil
}

// GetEscrow returns an escrow by id. A deadline that passed since the last
// write settles the expiry before the record is returned.
func (s *Service) GetEscrow(ctx context.Context, escrowID id.EscrowID) (*models.Escrow, error) {
	s.locks.Lock(lockKey(escrowID))
	defer s.locks.Unlock(lockKey(escrowID))

	escrow, err := s.escrows.FindByID(ctx, escrowID)
	if err != nil {
		return nil, wrapEscrowErr(err)
	}
	now := requestcontext.Now(ctx)
	if escrow.Status == models.StatusOpen && escrow.IsExpiredAt(now) {
		return s.expireLocked(ctx, escrow, now)
	}
	return escrow, nil
}

// Sweep settles every escrow whose deadline has passed and returns the
// number settled. The sweeper calls this on a ticker; lazy expiry on the
// read and write paths covers the gap between ticks.
func (s *Service) Sweep(ctx context.Context) (int, error) {
	now := requestcontext.Now(ctx)
	expired, err := s.escrows.ListExpired(ctx, now)
	if err != nil {
		return 0, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list expired escrows")
	}

	settled := 0
	for _, escrow := range expired {
		s.locks.Lock(lockKey(escrow.ID))
		current, err := s.escrows.FindByID(ctx, escrow.ID)
		if err == nil && current.Status == models.StatusOpen {
			if _, err := s.expireLocked(ctx, current, now); err == nil {
				settled++
			}
		}
		s.locks.Unlock(lockKey(escrow.ID))
	}
	if s.metrics != nil {
		s.metrics.ObserveSweepBatch(settled)
	}
	return settled, nil
}

// expireLocked refunds the balance to the depositor and moves the escrow to
// EXPIRED. The caller holds the escrow lock. The refund key is derived from
// the escrow id alone, so a sweep and a lazy expiry racing across processes
// resolve to a single ledger transfer.
func (s *Service) expireLocked(ctx context.Context, escrow *models.Escrow, now time.Time) (*models.Escrow, error) {
	var causedBy id.TransactionID
	if escrow.Balance > 0 {
		receipt, err := s.gateway.TransferValue(ctx, ledger.TransferValueRequest{
			IdempotencyKey: ledger.DeriveKey("escrow.refund", escrow.ID.String()),
			From:           escrowAccount(escrow.ID),
			To:             escrow.Depositor,
			Amount:         escrow.Balance,
		})
		if err != nil {
			s.logger.ErrorContext(ctx, "escrow refund failed",
				"escrow_id", escrow.ID.String(),
				"error", err,
			)
			return nil, err
		}
		causedBy = receipt.TransactionID
	}

	settled, err := s.escrows.Execute(ctx, escrow.ID,
		func(e *models.Escrow) error { return e.CanExpire(now) },
		func(e *models.Escrow) { e.ApplyExpire(now) },
	)
	if err != nil {
		// Another process settled it between the refund and the update. The
		// idempotent refund key means no value moved twice.
		if dErrors.HasCode(err, dErrors.CodeAlreadyFinalized) {
			return s.escrows.FindByID(ctx, escrow.ID)
		}
		return nil, wrapEscrowErr(err)
	}

	s.record(ctx, audit.EventEscrowExpired, escrowEventPayload(settled), causedBy)
	if s.metrics != nil {
		s.metrics.IncrementEscrowsFinished("expired")
	}
	return settled, nil
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

// escrowAccount is the ledger account holding an escrow's funds. Derived
// from the escrow id so the mapping needs no extra state.
func escrowAccount(escrowID id.EscrowID) id.AccountID {
	return id.AccountID("escrow:" + escrowID.String())
}

func lockKey(escrowID id.EscrowID) string {
	return "escrow/" + escrowID.String()
}

func wrapEscrowErr(err error) error {
	switch {
	case errors.Is(err, sentinel.ErrNotFound):
		return dErrors.New(dErrors.CodeNotFound, "escrow not found")
	case dErrors.HasCode(err, dErrors.CodeInvariantViolation):
		return dErrors.New(dErrors.CodeConflict, err.Error())
	default:
		return err
	}
}

func escrowEventPayload(escrow *models.Escrow) map[string]any {
	return map[string]any{
		"escrow_id":   escrow.ID.String(),
		"depositor":   escrow.Depositor.String(),
		"beneficiary": escrow.Beneficiary.String(),
		"balance":     escrow.Balance,
		"status":      string(escrow.Status),
		"expires_at":  escrow.ExpiresAt,
	}
}

func depositEventPayload(escrow *models.Escrow, amount uint64) map[string]any {
	payload := escrowEventPayload(escrow)
	payload["amount"] = amount
	return payload
}
