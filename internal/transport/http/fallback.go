package httptransport

import (
	"context"
	"errors"
	"log/slog"

	"brickledger/pkg/platform/circuit"
)

// FallbackReservations serves idempotency claims from a primary store and
// degrades to a per-process memory store while the primary is unhealthy.
// The primary is probed on every call, so the breaker closes again on its
// own once the store recovers. Claims taken on the fallback during an
// outage replay only within this process; the services behind the envelope
// stay idempotent on their own ledger keys, so the worst case is a re-run
// that the ledger deduplicates.
type FallbackReservations struct {
	primary  ReservationStore
	fallback ReservationStore
	breaker  *circuit.Breaker
	logger   *slog.Logger
}

var _ ReservationStore = (*FallbackReservations)(nil)

func NewFallbackReservations(primary ReservationStore, logger *slog.Logger) *FallbackReservations {
	return &FallbackReservations{
		primary:  primary,
		fallback: NewMemoryReservations(),
		breaker:  circuit.New("reservations"),
		logger:   logger,
	}
}

func (f *FallbackReservations) Reserve(ctx context.Context, key string) (*Outcome, error) {
	outcome, err := f.primary.Reserve(ctx, key)
	if err != nil && !errors.Is(err, ErrInFlight) {
		f.recordFailure(ctx, err)
		return f.fallback.Reserve(ctx, key)
	}
	f.recordSuccess(ctx)
	return outcome, err
}

func (f *FallbackReservations) Complete(ctx context.Context, key string, outcome Outcome) error {
	if err := f.primary.Complete(ctx, key, outcome); err != nil {
		f.recordFailure(ctx, err)
		return f.fallback.Complete(ctx, key, outcome)
	}
	f.recordSuccess(ctx)
	return nil
}

func (f *FallbackReservations) Abandon(ctx context.Context, key string) error {
	if err := f.primary.Abandon(ctx, key); err != nil {
		f.recordFailure(ctx, err)
		return f.fallback.Abandon(ctx, key)
	}
	f.recordSuccess(ctx)
	return nil
}

func (f *FallbackReservations) recordFailure(ctx context.Context, err error) {
	if _, change := f.breaker.RecordFailure(); change.Opened {
		f.logger.WarnContext(ctx, "reservation store degraded to memory fallback", "error", err)
	}
}

func (f *FallbackReservations) recordSuccess(ctx context.Context) {
	if _, change := f.breaker.RecordSuccess(); change.Closed {
		f.logger.InfoContext(ctx, "reservation store recovered")
	}
}
