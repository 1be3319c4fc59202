package store_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"brickledger/internal/escrow/models"
	"brickledger/internal/escrow/store"
	id "brickledger/pkg/domain"
	"brickledger/pkg/platform/sentinel"
)

var testNow = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func newEscrow(t *testing.T, expiry time.Duration) *models.Escrow {
	t.Helper()
	escrow, err := models.NewEscrow(
		id.NewEscrowID(), "0.0.500", "0.0.501", 1_000,
		[]id.SignatoryID{id.NewSignatoryID(), id.NewSignatoryID()},
		nil, expiry, testNow,
	)
	require.NoError(t, err)
	return escrow
}

func TestInMemoryStore_CreateAndFind(t *testing.T) {
	s := store.NewInMemory()
	ctx := context.Background()
	escrow := newEscrow(t, time.Hour)

	require.NoError(t, s.Create(ctx, escrow))

	found, err := s.FindByID(ctx, escrow.ID)
	require.NoError(t, err)
	assert.Equal(t, escrow.ID, found.ID)
	assert.Equal(t, uint64(1_000), found.Balance)

	assert.ErrorIs(t, s.Create(ctx, escrow), sentinel.ErrConflict)

	_, err = s.FindByID(ctx, id.NewEscrowID())
	assert.ErrorIs(t, err, sentinel.ErrNotFound)
}

func TestInMemoryStore_ExecuteDoesNotMutateOnFailure(t *testing.T) {
	s := store.NewInMemory()
	ctx := context.Background()
	escrow := newEscrow(t, time.Hour)
	require.NoError(t, s.Create(ctx, escrow))

	wantErr := errors.New("blocked")
	_, err := s.Execute(ctx, escrow.ID,
		func(e *models.Escrow) error { return wantErr },
		func(e *models.Escrow) { e.ApplyRelease(testNow) },
	)
	assert.ErrorIs(t, err, wantErr)

	found, err := s.FindByID(ctx, escrow.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusOpen, found.Status)
}

func TestInMemoryStore_ReturnsCopies(t *testing.T) {
	s := store.NewInMemory()
	ctx := context.Background()
	escrow := newEscrow(t, time.Hour)
	require.NoError(t, s.Create(ctx, escrow))

	found, err := s.FindByID(ctx, escrow.ID)
	require.NoError(t, err)
	found.Balance = 0
	found.Signatories[0] = id.NewSignatoryID()

	again, err := s.FindByID(ctx, escrow.ID)
	require.NoError(t, err)
	assert.Equal(t, uint64(1_000), again.Balance)
	assert.Equal(t, escrow.Signatories[0], again.Signatories[0])
}

func TestInMemoryStore_ListExpired(t *testing.T) {
	s := store.NewInMemory()
	ctx := context.Background()

	soon := newEscrow(t, time.Minute)
	later := newEscrow(t, time.Hour)
	settled := newEscrow(t, time.Minute)
	require.NoError(t, s.Create(ctx, soon))
	require.NoError(t, s.Create(ctx, later))
	require.NoError(t, s.Create(ctx, settled))

	_, err := s.Execute(ctx, settled.ID,
		func(e *models.Escrow) error { return nil },
		func(e *models.Escrow) { e.ApplyRelease(testNow) },
	)
	require.NoError(t, err)

	expired, err := s.ListExpired(ctx, testNow.Add(30*time.Minute))
	require.NoError(t, err)
	require.Len(t, expired, 1, "only OPEN escrows past their deadline")
	assert.Equal(t, soon.ID, expired[0].ID)

	expired, err = s.ListExpired(ctx, testNow.Add(2*time.Hour))
	require.NoError(t, err)
	require.Len(t, expired, 2)
	assert.Equal(t, soon.ID, expired[0].ID, "oldest deadline first")
	assert.Equal(t, later.ID, expired[1].ID)
}
