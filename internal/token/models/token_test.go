package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	id "brickledger/pkg/domain"
)

func draft(t *testing.T) *Token {
	t.Helper()
	token, err := NewToken(id.NewTokenID(), "12 Harbor Street", "HARB12", 2, 0, 1_000, "0.0.900", time.Now())
	require.NoError(t, err)
	return token
}

func TestStatusTransitions(t *testing.T) {
	cases := []struct {
		from    Status
		to      Status
		allowed bool
	}{
		{StatusDraft, StatusActive, true},
		{StatusDraft, StatusFrozen, false},
		{StatusDraft, StatusRetired, false},
		{StatusActive, StatusFrozen, true},
		{StatusActive, StatusRetired, true},
		{StatusFrozen, StatusActive, true},
		{StatusFrozen, StatusRetired, true},
		{StatusRetired, StatusActive, false},
		{StatusRetired, StatusFrozen, false},
		{StatusRetired, StatusDraft, false},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.allowed, tc.from.CanTransitionTo(tc.to), "%s -> %s", tc.from, tc.to)
	}
}

func TestNewToken_Invariants(t *testing.T) {
	now := time.Now()

	_, err := NewToken(id.NewTokenID(), "", "SYM", 0, 0, 0, "0.0.900", now)
	assert.Error(t, err, "empty name")

	_, err = NewToken(id.NewTokenID(), "name", "SYM", 19, 0, 0, "0.0.900", now)
	assert.Error(t, err, "decimals out of range")

	_, err = NewToken(id.NewTokenID(), "name", "SYM", 2, 500, 100, "0.0.900", now)
	assert.Error(t, err, "initial supply above cap")

	_, err = NewToken(id.NewTokenID(), "name", "SYM", 2, 0, 0, "", now)
	assert.Error(t, err, "missing treasury")
}

func TestSupplyCap(t *testing.T) {
	token := draft(t)
	token.ApplyActivation(time.Now())
	token.LedgerTokenID = "0.0.1000"

	require.NoError(t, token.CanMint(1_000))
	assert.Error(t, token.CanMint(1_001))
	assert.Error(t, token.CanMint(0))

	token.ApplyMint(1_000, time.Now())
	assert.Error(t, token.CanMint(1))
	assert.Error(t, token.CanBurn(1_001))
	require.NoError(t, token.CanBurn(1_000))
}

func TestRetire_OnlyWithZeroSupply(t *testing.T) {
	token := draft(t)
	token.LedgerTokenID = "0.0.1000"
	require.NoError(t, token.CanActivate())
	token.ApplyActivation(time.Now())

	token.ApplyMint(10, time.Now())
	assert.Error(t, token.CanRetire())

	token.ApplyBurn(10, time.Now())
	require.NoError(t, token.CanRetire())
	token.ApplyRetire(time.Now())
	assert.Error(t, token.CanFreeze())
	assert.Error(t, token.CanActivate())
}
