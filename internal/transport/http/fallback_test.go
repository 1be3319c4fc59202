package httptransport

import (
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// flakyReservations fails every call while down is set.
type flakyReservations struct {
	inner ReservationStore
	down  bool
}

func (f *flakyReservations) Reserve(ctx context.Context, key string) (*Outcome, error) {
	if f.down {
		return nil, errors.New("connection refused")
	}
	return f.inner.Reserve(ctx, key)
}

func (f *flakyReservations) Complete(ctx context.Context, key string, outcome Outcome) error {
	if f.down {
		return errors.New("connection refused")
	}
	return f.inner.Complete(ctx, key, outcome)
}

func (f *flakyReservations) Abandon(ctx context.Context, key string) error {
	if f.down {
		return errors.New("connection refused")
	}
	return f.inner.Abandon(ctx, key)
}

func TestFallbackReservations_DegradesAndRecovers(t *testing.T) {
	ctx := context.Background()
	primary := &flakyReservations{inner: NewMemoryReservations(), down: true}
	store := NewFallbackReservations(primary, slog.Default())

	// Primary down: the claim lands in the memory fallback and still
	// dedupes within this process.
	outcome, err := store.Reserve(ctx, "op-1")
	require.NoError(t, err)
	assert.Nil(t, outcome)

	_, err = store.Reserve(ctx, "op-1")
	assert.ErrorIs(t, err, ErrInFlight)

	require.NoError(t, store.Complete(ctx, "op-1", Outcome{Status: 200, Body: []byte(`{"ok":true}`)}))
	outcome, err = store.Reserve(ctx, "op-1")
	require.NoError(t, err)
	require.NotNil(t, outcome)
	assert.Equal(t, 200, outcome.Status)

	// Primary back: fresh keys go through it again.
	primary.down = false
	outcome, err = store.Reserve(ctx, "op-2")
	require.NoError(t, err)
	assert.Nil(t, outcome)

	_, err = primary.inner.Reserve(ctx, "op-2")
	assert.ErrorIs(t, err, ErrInFlight)
}

func TestFallbackReservations_InFlightIsNotAFailure(t *testing.T) {
	ctx := context.Background()
	primary := &flakyReservations{inner: NewMemoryReservations()}
	store := NewFallbackReservations(primary, slog.Default())

	_, err := store.Reserve(ctx, "op-1")
	require.NoError(t, err)

	// A concurrent holder is a normal answer from the primary, not an
	// outage; the claim must not be retried against the fallback.
	_, err = store.Reserve(ctx, "op-1")
	assert.ErrorIs(t, err, ErrInFlight)
}
