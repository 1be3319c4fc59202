package ledger

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dErrors "brickledger/pkg/domain-errors"
	"brickledger/pkg/platform/sentinel"
)

// scriptedGateway returns canned outcomes per call and records the
// idempotency keys it saw.
type scriptedGateway struct {
	Gateway
	outcomes []func() (*Receipt, error)
	calls    int
	keys     []IdempotencyKey

	lookupReceipt *Receipt
	lookups       int
}

func (s *scriptedGateway) MintTokens(ctx context.Context, req MintRequest) (*Receipt, error) {
	s.keys = append(s.keys, req.IdempotencyKey)
	out := s.outcomes[s.calls]
	s.calls++
	return out()
}

func (s *scriptedGateway) LookupReceipt(ctx context.Context, key IdempotencyKey) (*Receipt, error) {
	s.lookups++
	if s.lookupReceipt != nil {
		return s.lookupReceipt, nil
	}
	return nil, fmt.Errorf("no receipt: %w", sentinel.ErrNotFound)
}

func noSleep(context.Context, time.Duration) error { return nil }

func newRetrying(inner Gateway, maxAttempts int) *RetryingGateway {
	g := NewRetrying(inner, RetryPolicy{MaxAttempts: maxAttempts, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond}, nil)
	g.sleep = noSleep
	return g
}

func success() (*Receipt, error) {
	return &Receipt{TransactionID: "0.0.2@1", Status: StatusSuccess}, nil
}

func TestRetrying_TransientFailureRetriesWithSameKey(t *testing.T) {
	inner := &scriptedGateway{outcomes: []func() (*Receipt, error){
		func() (*Receipt, error) { return nil, MarkTransient(errors.New("connection refused")) },
		func() (*Receipt, error) { return nil, MarkTransient(errors.New("connection refused")) },
		success,
	}}
	g := newRetrying(inner, 4)

	key := DeriveKey("mint_tokens", "token-1", "500")
	receipt, err := g.MintTokens(context.Background(), MintRequest{IdempotencyKey: key, LedgerTokenID: "0.0.1001", Amount: 500})
	require.NoError(t, err)
	assert.Equal(t, StatusSuccess, receipt.Status)

	require.Len(t, inner.keys, 3)
	for _, k := range inner.keys {
		assert.Equal(t, key, k, "every retry must reuse the original idempotency key")
	}
}

func TestRetrying_AmbiguousOutcomeReconcilesBeforeResubmit(t *testing.T) {
	committed := &Receipt{TransactionID: "0.0.2@9", Status: StatusSuccess}
	inner := &scriptedGateway{
		outcomes: []func() (*Receipt, error){
			func() (*Receipt, error) { return nil, MarkAmbiguous(errors.New("request timed out")) },
		},
		lookupReceipt: committed,
	}
	g := newRetrying(inner, 4)

	receipt, err := g.MintTokens(context.Background(), MintRequest{IdempotencyKey: "k", Amount: 1})
	require.NoError(t, err)
	assert.Equal(t, committed, receipt, "the committed receipt must be returned, not re-executed")
	assert.Equal(t, 1, inner.calls, "no resubmission after the receipt was found")
	assert.Equal(t, 1, inner.lookups)
}

func TestRetrying_AmbiguousWithoutReceiptRetries(t *testing.T) {
	inner := &scriptedGateway{outcomes: []func() (*Receipt, error){
		func() (*Receipt, error) { return nil, MarkAmbiguous(errors.New("request timed out")) },
		success,
	}}
	g := newRetrying(inner, 4)

	receipt, err := g.MintTokens(context.Background(), MintRequest{IdempotencyKey: "k", Amount: 1})
	require.NoError(t, err)
	assert.Equal(t, StatusSuccess, receipt.Status)
	assert.Equal(t, 2, inner.calls)
	assert.Equal(t, 1, inner.lookups, "lookup must precede the retry")
}

func TestRetrying_RejectionIsNeverRetried(t *testing.T) {
	inner := &scriptedGateway{outcomes: []func() (*Receipt, error){
		func() (*Receipt, error) { return nil, Reject("MAX_SUPPLY_REACHED", "mint would exceed max supply") },
	}}
	g := newRetrying(inner, 4)

	_, err := g.MintTokens(context.Background(), MintRequest{IdempotencyKey: "k", Amount: 1})
	require.Error(t, err)
	assert.True(t, IsRejected(err))
	assert.Equal(t, 1, inner.calls)
}

func TestRetrying_ExhaustionSurfacesUnavailable(t *testing.T) {
	fail := func() (*Receipt, error) { return nil, MarkTransient(errors.New("node overloaded")) }
	inner := &scriptedGateway{outcomes: []func() (*Receipt, error){fail, fail, fail}}
	g := newRetrying(inner, 3)

	_, err := g.MintTokens(context.Background(), MintRequest{IdempotencyKey: "k", Amount: 1})
	require.Error(t, err)
	assert.True(t, IsUnavailable(err))
	assert.False(t, IsRejected(err))
	assert.Equal(t, 3, inner.calls)
}

func TestDeriveKey_StableAndSeparatorSafe(t *testing.T) {
	k1 := DeriveKey("mint_tokens", "token-1", "500")
	k2 := DeriveKey("mint_tokens", "token-1", "500")
	assert.Equal(t, k1, k2, "same logical request must derive the same key")

	assert.NotEqual(t, DeriveKey("op", "ab", "c"), DeriveKey("op", "a", "bc"))
	assert.NotEqual(t, DeriveKey("mint_tokens", "token-1"), DeriveKey("burn_tokens", "token-1"))
}

func TestErrorClassification(t *testing.T) {
	assert.True(t, IsTransient(MarkTransient(errors.New("x"))))
	assert.True(t, IsAmbiguous(MarkAmbiguous(errors.New("x"))))
	assert.False(t, IsAmbiguous(MarkTransient(errors.New("x"))))
	assert.Nil(t, MarkTransient(nil))

	assert.True(t, dErrors.HasCode(Reject("S", "m"), dErrors.CodeLedgerRejected))
	assert.True(t, dErrors.HasCode(Unavailable(errors.New("x")), dErrors.CodeLedgerUnavailable))
}
