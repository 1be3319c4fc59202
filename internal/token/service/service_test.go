package service_test

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"brickledger/internal/audit"
	"brickledger/internal/keyauth"
	"brickledger/internal/ledger"
	ledgermem "brickledger/internal/ledger/memory"
	"brickledger/internal/token/models"
	"brickledger/internal/token/service"
	"brickledger/internal/token/store"
	id "brickledger/pkg/domain"
	dErrors "brickledger/pkg/domain-errors"
)

type recorderStub struct {
	mu     sync.Mutex
	events []audit.EventType
}

func (r *recorderStub) Record(_ context.Context, eventType audit.EventType, _ any, _ id.TransactionID) (audit.Event, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, eventType)
	return audit.Event{}, nil
}

func (r *recorderStub) count(eventType audit.EventType) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.events {
		if e == eventType {
			n++
		}
	}
	return n
}

type fixture struct {
	svc      *service.Service
	store    *store.InMemoryStore
	sim      *ledgermem.Ledger
	keys     *keyauth.Registry
	recorder *recorderStub
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	tokens := store.NewInMemory()
	sim := ledgermem.New()
	keys := keyauth.NewRegistry()
	recorder := &recorderStub{}
	svc := service.New(tokens, sim, keys, recorder)
	return &fixture{svc: svc, store: tokens, sim: sim, keys: keys, recorder: recorder}
}

func signatory(role keyauth.Role, key string) keyauth.Signatory {
	return keyauth.Signatory{ID: id.NewSignatoryID(), Role: role, PublicKey: key}
}

func fullSignatorySet() []keyauth.Signatory {
	return []keyauth.Signatory{
		signatory(keyauth.RoleOwner, "aa01"),
		signatory(keyauth.RolePlatform, "bb02"),
		signatory(keyauth.RoleLegal, "cc03"),
		signatory(keyauth.RoleEscrow, "dd04"),
	}
}

func createRequest(signatories []keyauth.Signatory) service.CreateTokenRequest {
	return service.CreateTokenRequest{
		Name:          "12 Harbor Street",
		Symbol:        "HARB12",
		Decimals:      2,
		InitialSupply: 0,
		MaxSupply:     10_000,
		Treasury:      "0.0.900",
		Signatories:   signatories,
	}
}

func (f *fixture) createActive(t *testing.T) *models.Token {
	t.Helper()
	ctx := context.Background()
	token, err := f.svc.CreateToken(ctx, createRequest(fullSignatorySet()))
	require.NoError(t, err)
	token, err = f.svc.Activate(ctx, token.ID)
	require.NoError(t, err)
	return token
}

func TestCreateToken_PersistsDraftWithLedgerID(t *testing.T) {
	f := newFixture(t)

	token, err := f.svc.CreateToken(context.Background(), createRequest(fullSignatorySet()))
	require.NoError(t, err)

	assert.Equal(t, models.StatusDraft, token.Status)
	assert.NotEmpty(t, token.LedgerTokenID)
	assert.Equal(t, 1, f.recorder.count(audit.EventTokenCreated))

	structure, err := f.keys.Structure(token.ID, keyauth.AuthorityAdmin)
	require.NoError(t, err)
	assert.Equal(t, 2, structure.Threshold)
}

func TestCreateToken_MissingRoleFailsBeforeLedger(t *testing.T) {
	f := newFixture(t)

	incomplete := []keyauth.Signatory{
		signatory(keyauth.RoleOwner, "aa01"),
		signatory(keyauth.RolePlatform, "bb02"),
		// no legal signatory: admin and supply cannot be built
	}
	_, err := f.svc.CreateToken(context.Background(), createRequest(incomplete))
	require.Error(t, err)
	assert.Equal(t, dErrors.CodeInsufficientKeys, dErrors.CodeOf(err))
	assert.Zero(t, f.recorder.count(audit.EventTokenCreated))
}

func TestCreateToken_PersistsKeyStructures(t *testing.T) {
	f := newFixture(t)

	token, err := f.svc.CreateToken(context.Background(), createRequest(fullSignatorySet()))
	require.NoError(t, err)

	stored, err := f.svc.GetToken(context.Background(), token.ID)
	require.NoError(t, err)
	require.Len(t, stored.Keys, len(keyauth.Authorities))
	assert.Equal(t, 2, stored.Keys[keyauth.AuthorityAdmin].Threshold)
}

func TestRestoreKeyRegistry_RebuildsFromStore(t *testing.T) {
	f := newFixture(t)
	token := f.createActive(t)

	// A restart starts with an empty registry while the store survives.
	keys := keyauth.NewRegistry()
	restarted := service.New(f.store, f.sim, keys, f.recorder)

	_, err := restarted.Freeze(context.Background(), token.ID, f.freezeApprovals(t, token.ID))
	require.Error(t, err, "nothing registered before the restore")

	restored, err := restarted.RestoreKeyRegistry(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, restored)

	frozen, err := restarted.Freeze(context.Background(), token.ID, f.freezeApprovals(t, token.ID))
	require.NoError(t, err)
	assert.Equal(t, models.StatusFrozen, frozen.Status)
}

func TestActivate_OnlyFromDraft(t *testing.T) {
	f := newFixture(t)
	token := f.createActive(t)

	_, err := f.svc.Activate(context.Background(), token.ID)
	require.Error(t, err)
	assert.Equal(t, dErrors.CodeConflict, dErrors.CodeOf(err))
}

func TestMint_IncreasesSupplyAndAudits(t *testing.T) {
	f := newFixture(t)
	token := f.createActive(t)
	ctx := context.Background()

	minted, err := f.svc.Mint(ctx, token.ID, 2_500, ledger.DeriveKey("test.mint", "1"))
	require.NoError(t, err)
	assert.Equal(t, uint64(2_500), minted.Supply)
	assert.Equal(t, 1, f.recorder.count(audit.EventTokensMinted))

	supply, ok := f.sim.TokenSupply(token.LedgerTokenID)
	require.True(t, ok)
	assert.Equal(t, uint64(2_500), supply)
}

func TestMint_OverMaxSupplyFailsLocally(t *testing.T) {
	f := newFixture(t)
	token := f.createActive(t)

	_, err := f.svc.Mint(context.Background(), token.ID, 10_001, ledger.DeriveKey("test.mint", "2"))
	require.Error(t, err)
	assert.Equal(t, dErrors.CodePolicyViolation, dErrors.CodeOf(err))

	supply, ok := f.sim.TokenSupply(token.LedgerTokenID)
	require.True(t, ok)
	assert.Zero(t, supply)
}

func TestBurn_DecreasesSupply(t *testing.T) {
	f := newFixture(t)
	token := f.createActive(t)
	ctx := context.Background()

	_, err := f.svc.Mint(ctx, token.ID, 1_000, ledger.DeriveKey("test.mint", "3"))
	require.NoError(t, err)
	burned, err := f.svc.Burn(ctx, token.ID, 400, ledger.DeriveKey("test.burn", "1"))
	require.NoError(t, err)
	assert.Equal(t, uint64(600), burned.Supply)
	assert.Equal(t, 1, f.recorder.count(audit.EventTokensBurned))
}

func TestFreeze_QuorumNotMet(t *testing.T) {
	f := newFixture(t)
	token := f.createActive(t)

	_, err := f.svc.Freeze(context.Background(), token.ID, nil)
	require.Error(t, err)
	assert.Equal(t, dErrors.CodeQuorumNotMet, dErrors.CodeOf(err))
}

func (f *fixture) freezeApprovals(t *testing.T, tokenID id.TokenID) []id.SignatoryID {
	t.Helper()
	structure, err := f.keys.Structure(tokenID, keyauth.AuthorityFreeze)
	require.NoError(t, err)
	return structure.SignerIDs()
}

func TestFreeze_TransitionsAndAudits(t *testing.T) {
	f := newFixture(t)
	token := f.createActive(t)
	ctx := context.Background()

	frozen, err := f.svc.Freeze(ctx, token.ID, f.freezeApprovals(t, token.ID))
	require.NoError(t, err)
	assert.Equal(t, models.StatusFrozen, frozen.Status)
	assert.Equal(t, 1, f.recorder.count(audit.EventTokenFrozen))

	unfrozen, err := f.svc.Unfreeze(ctx, token.ID, f.freezeApprovals(t, token.ID))
	require.NoError(t, err)
	assert.Equal(t, models.StatusActive, unfrozen.Status)
}

func TestFreeze_LedgerRejectionStillAudited(t *testing.T) {
	f := newFixture(t)
	token := f.createActive(t)
	ctx := context.Background()

	f.sim.FailNext("freeze_token", ledger.Reject("TOKEN_IS_IMMUTABLE", "freeze key not recognized"))

	_, err := f.svc.Freeze(ctx, token.ID, f.freezeApprovals(t, token.ID))
	require.Error(t, err)
	assert.True(t, ledger.IsRejected(err))

	// The record shows the attempt even though nothing changed.
	assert.Equal(t, 1, f.recorder.count(audit.EventFreezeFailed))
	got, err := f.svc.GetToken(ctx, token.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusActive, got.Status)
}

func TestRetire_RequiresZeroSupply(t *testing.T) {
	f := newFixture(t)
	token := f.createActive(t)
	ctx := context.Background()

	_, err := f.svc.Mint(ctx, token.ID, 100, ledger.DeriveKey("test.mint", "4"))
	require.NoError(t, err)

	_, err = f.svc.Retire(ctx, token.ID)
	require.Error(t, err)
	assert.Equal(t, dErrors.CodeConflict, dErrors.CodeOf(err))

	_, err = f.svc.Burn(ctx, token.ID, 100, ledger.DeriveKey("test.burn", "2"))
	require.NoError(t, err)

	retired, err := f.svc.Retire(ctx, token.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusRetired, retired.Status)

	// RETIRED is terminal.
	_, err = f.svc.Activate(ctx, token.ID)
	require.Error(t, err)
}

func TestGetToken_NotFound(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.GetToken(context.Background(), id.NewTokenID())
	require.Error(t, err)
	assert.Equal(t, dErrors.CodeNotFound, dErrors.CodeOf(err))
}
