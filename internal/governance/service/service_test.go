package service_test

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"brickledger/internal/audit"
	"brickledger/internal/governance/models"
	"brickledger/internal/governance/service"
	govstore "brickledger/internal/governance/store"
	"brickledger/internal/keyauth"
	"brickledger/internal/ledger"
	ledgermem "brickledger/internal/ledger/memory"
	tokenservice "brickledger/internal/token/service"
	tokenstore "brickledger/internal/token/store"
	id "brickledger/pkg/domain"
	dErrors "brickledger/pkg/domain-errors"
	"brickledger/pkg/requestcontext"
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

type signer struct {
	id   id.SignatoryID
	pub  string
	priv ed25519.PrivateKey
}

func newSigner(t *testing.T) signer {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	return signer{id: id.NewSignatoryID(), pub: hex.EncodeToString(pub), priv: priv}
}

func (s signer) sign(proposal *models.Proposal) []byte {
	raw := ed25519.Sign(s.priv, service.SigningPayload(proposal))
	return []byte(hex.EncodeToString(raw))
}

type fixture struct {
	svc        *service.Service
	tokens     *tokenservice.Service
	sim        *ledgermem.Ledger
	keys       *keyauth.Registry
	recorder   *recorderStub
	proposals  *govstore.InMemoryStore
	tokenStore *tokenstore.InMemoryStore

	tokenID id.TokenID
	token   string // ledger-native id

	owner    signer
	platform signer
	legal    signer
	escrow   signer
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		sim:        ledgermem.New(),
		keys:       keyauth.NewRegistry(),
		recorder:   &recorderStub{},
		proposals:  govstore.NewInMemory(),
		tokenStore: tokenstore.NewInMemory(),
		owner:      newSigner(t),
		platform:   newSigner(t),
		legal:      newSigner(t),
		escrow:     newSigner(t),
	}
	f.tokens = tokenservice.New(f.tokenStore, f.sim, f.keys, f.recorder)
	f.svc = service.New(f.proposals, f.tokens, f.keys, f.sim, f.recorder)

	ctx := context.Background()
	token, err := f.tokens.CreateToken(ctx, tokenservice.CreateTokenRequest{
		Name:      "12 Harbor Street",
		Symbol:    "HARB12",
		Decimals:  2,
		MaxSupply: 100_000,
		Treasury:  "0.0.900",
		Signatories: []keyauth.Signatory{
			{ID: f.owner.id, Role: keyauth.RoleOwner, PublicKey: f.owner.pub},
			{ID: f.platform.id, Role: keyauth.RolePlatform, PublicKey: f.platform.pub},
			{ID: f.legal.id, Role: keyauth.RoleLegal, PublicKey: f.legal.pub},
			{ID: f.escrow.id, Role: keyauth.RoleEscrow, PublicKey: f.escrow.pub},
		},
	})
	require.NoError(t, err)
	token, err = f.tokens.Activate(ctx, token.ID)
	require.NoError(t, err)
	f.tokenID = token.ID
	f.token = token.LedgerTokenID
	return f
}

func (f *fixture) proposeMint(t *testing.T, amount uint64) *models.Proposal {
	t.Helper()
	proposal, err := f.svc.Propose(context.Background(), service.ProposeRequest{
		TokenID:    f.tokenID,
		Type:       models.TypeSupplyChange,
		Parameters: models.Parameters{Amount: amount},
	})
	require.NoError(t, err)
	return proposal
}

func TestPropose_SupplyChangeRequiresSupplySigners(t *testing.T) {
	f := newFixture(t)
	proposal := f.proposeMint(t, 5_000)

	assert.Equal(t, models.StatusProposed, proposal.Status)
	assert.ElementsMatch(t, []id.SignatoryID{f.platform.id, f.legal.id}, proposal.Required)
	assert.Equal(t, 1, f.recorder.count(audit.EventProposalCreated))
}

func TestPropose_UnknownTokenFails(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.Propose(context.Background(), service.ProposeRequest{
		TokenID:    id.NewTokenID(),
		Type:       models.TypeSupplyChange,
		Parameters: models.Parameters{Amount: 1},
	})
	require.Error(t, err)
	assert.Equal(t, dErrors.CodeNotFound, dErrors.CodeOf(err))
}

func TestSign_QuorumExecutesMint(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	proposal := f.proposeMint(t, 5_000)

	pending, err := f.svc.Sign(ctx, proposal.ID, f.platform.id, f.platform.sign(proposal))
	require.NoError(t, err)
	assert.Equal(t, models.StatusProposed, pending.Status)

	done, err := f.svc.Sign(ctx, proposal.ID, f.legal.id, f.legal.sign(proposal))
	require.NoError(t, err)
	assert.Equal(t, models.StatusExecuted, done.Status)

	supply, ok := f.sim.TokenSupply(f.token)
	require.True(t, ok)
	assert.Equal(t, uint64(5_000), supply)
	assert.Equal(t, 1, f.recorder.count(audit.EventProposalExecuted))
	assert.Equal(t, 1, f.recorder.count(audit.EventTokensMinted))
}

func TestSign_BadSignatureRejected(t *testing.T) {
	f := newFixture(t)
	proposal := f.proposeMint(t, 5_000)

	// Signed by the right signatory id but the wrong private key.
	_, err := f.svc.Sign(context.Background(), proposal.ID, f.platform.id, f.legal.sign(proposal))
	require.Error(t, err)
	assert.Equal(t, dErrors.CodeUnauthorized, dErrors.CodeOf(err))

	got, err := f.svc.GetProposal(context.Background(), proposal.ID)
	require.NoError(t, err)
	assert.Empty(t, got.Signatures)
}

func TestSign_UnrequiredSignatoryRejected(t *testing.T) {
	f := newFixture(t)
	proposal := f.proposeMint(t, 5_000)

	// The owner key exists on the token but is not on the supply list.
	_, err := f.svc.Sign(context.Background(), proposal.ID, f.owner.id, f.owner.sign(proposal))
	require.Error(t, err)
	assert.Equal(t, dErrors.CodeUnauthorized, dErrors.CodeOf(err))
}

func TestSign_DuplicateSignatureRejected(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	proposal := f.proposeMint(t, 5_000)

	_, err := f.svc.Sign(ctx, proposal.ID, f.platform.id, f.platform.sign(proposal))
	require.NoError(t, err)
	_, err = f.svc.Sign(ctx, proposal.ID, f.platform.id, f.platform.sign(proposal))
	require.Error(t, err)
	assert.Equal(t, dErrors.CodeConflict, dErrors.CodeOf(err))
}

func TestSign_AfterExpiryNeverCountsTowardQuorum(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	proposal, err := f.svc.Propose(ctx, service.ProposeRequest{
		TokenID:    f.tokenID,
		Type:       models.TypeSupplyChange,
		Parameters: models.Parameters{Amount: 5_000},
		TTL:        time.Hour,
	})
	require.NoError(t, err)

	_, err = f.svc.Sign(ctx, proposal.ID, f.platform.id, f.platform.sign(proposal))
	require.NoError(t, err)

	// The final signature would have completed the threshold, but arrives
	// past the deadline.
	late := requestcontext.WithTime(ctx, proposal.ExpiresAt.Add(time.Second))
	_, err = f.svc.Sign(late, proposal.ID, f.legal.id, f.legal.sign(proposal))
	require.Error(t, err)
	assert.Equal(t, dErrors.CodeProposalExpired, dErrors.CodeOf(err))

	got, err := f.svc.GetProposal(ctx, proposal.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusExpired, got.Status)
	assert.Len(t, got.Signatures, 1)

	supply, ok := f.sim.TokenSupply(f.token)
	require.True(t, ok)
	assert.Zero(t, supply)
	assert.Equal(t, 1, f.recorder.count(audit.EventProposalExpired))
}

func TestReject_TerminalAndBlocksFurtherSignatures(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	proposal := f.proposeMint(t, 5_000)

	rejected, err := f.svc.Reject(ctx, proposal.ID, f.legal.id)
	require.NoError(t, err)
	assert.Equal(t, models.StatusRejected, rejected.Status)

	_, err = f.svc.Sign(ctx, proposal.ID, f.platform.id, f.platform.sign(proposal))
	require.Error(t, err)
	assert.Equal(t, dErrors.CodeAlreadyFinalized, dErrors.CodeOf(err))
}

func TestExecute_LedgerRejectionFinalizesProposal(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	proposal := f.proposeMint(t, 5_000)

	f.sim.FailNext("mint_tokens", ledger.Reject("TOKEN_PAUSED", "token is paused"))

	_, err := f.svc.Sign(ctx, proposal.ID, f.platform.id, f.platform.sign(proposal))
	require.NoError(t, err)
	_, err = f.svc.Sign(ctx, proposal.ID, f.legal.id, f.legal.sign(proposal))
	require.Error(t, err)
	assert.True(t, ledger.IsRejected(err))

	got, err := f.svc.GetProposal(ctx, proposal.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusRejected, got.Status)
}

func TestExecute_TransientFailureAllowsRetry(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	proposal := f.proposeMint(t, 5_000)

	f.sim.FailNext("mint_tokens", ledger.Unavailable(errors.New("network partition")))

	_, err := f.svc.Sign(ctx, proposal.ID, f.platform.id, f.platform.sign(proposal))
	require.NoError(t, err)
	_, err = f.svc.Sign(ctx, proposal.ID, f.legal.id, f.legal.sign(proposal))
	require.Error(t, err)
	assert.True(t, ledger.IsUnavailable(err))

	got, err := f.svc.GetProposal(ctx, proposal.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusProposed, got.Status)

	// The signatures survive; a retry completes with exactly one mint.
	done, err := f.svc.Execute(ctx, proposal.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusExecuted, done.Status)

	supply, ok := f.sim.TokenSupply(f.token)
	require.True(t, ok)
	assert.Equal(t, uint64(5_000), supply)
}

func TestKeyRotation_CutsOverOnlyAfterLedgerCommit(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	replacement := newSigner(t)

	proposal, err := f.svc.Propose(ctx, service.ProposeRequest{
		TokenID: f.tokenID,
		Type:    models.TypeKeyRotation,
		Parameters: models.Parameters{
			Authority:        string(keyauth.AuthorityAdmin),
			ReplaceSignatory: f.owner.id,
			NewSignatory:     replacement.id,
			NewPublicKey:     replacement.pub,
		},
	})
	require.NoError(t, err)

	// Staged only: the current keys still decide quorum.
	_, err = f.keys.Signatory(f.tokenID, replacement.id)
	require.Error(t, err)

	_, err = f.svc.Sign(ctx, proposal.ID, f.platform.id, f.platform.sign(proposal))
	require.NoError(t, err)
	done, err := f.svc.Sign(ctx, proposal.ID, f.legal.id, f.legal.sign(proposal))
	require.NoError(t, err)
	assert.Equal(t, models.StatusExecuted, done.Status)

	// After commit the admin structure requires the new key, not the old.
	structure, err := f.keys.Structure(f.tokenID, keyauth.AuthorityAdmin)
	require.NoError(t, err)
	assert.False(t, structure.Satisfies([]id.SignatoryID{f.owner.id, f.platform.id}).OK)
	assert.True(t, structure.Satisfies([]id.SignatoryID{replacement.id, f.platform.id}).OK)

	assert.Equal(t, 1, f.recorder.count(audit.EventKeyRotated))

	keys, ok := f.sim.TokenKeys(f.token)
	require.True(t, ok)
	assert.Contains(t, keys[ledger.KeyRoleAdmin].PublicKeys, replacement.pub)
	assert.NotContains(t, keys[ledger.KeyRoleAdmin].PublicKeys, f.owner.pub)
}

func TestKeyRotation_LedgerRejectionKeepsOldKeys(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	replacement := newSigner(t)

	proposal, err := f.svc.Propose(ctx, service.ProposeRequest{
		TokenID: f.tokenID,
		Type:    models.TypeKeyRotation,
		Parameters: models.Parameters{
			Authority:        string(keyauth.AuthorityAdmin),
			ReplaceSignatory: f.owner.id,
			NewSignatory:     replacement.id,
			NewPublicKey:     replacement.pub,
		},
	})
	require.NoError(t, err)

	f.sim.FailNext("update_token_keys", ledger.Reject("TOKEN_IS_IMMUTABLE", "admin key update declined"))

	_, err = f.svc.Sign(ctx, proposal.ID, f.platform.id, f.platform.sign(proposal))
	require.NoError(t, err)
	_, err = f.svc.Sign(ctx, proposal.ID, f.legal.id, f.legal.sign(proposal))
	require.Error(t, err)

	structure, err := f.keys.Structure(f.tokenID, keyauth.AuthorityAdmin)
	require.NoError(t, err)
	assert.True(t, structure.Satisfies([]id.SignatoryID{f.owner.id, f.platform.id}).OK)
	assert.False(t, structure.Satisfies([]id.SignatoryID{replacement.id, f.platform.id}).OK)
}

func TestKeyRotation_SurvivesRestartBetweenSignatures(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	replacement := newSigner(t)

	proposal, err := f.svc.Propose(ctx, service.ProposeRequest{
		TokenID: f.tokenID,
		Type:    models.TypeKeyRotation,
		Parameters: models.Parameters{
			Authority:        string(keyauth.AuthorityAdmin),
			ReplaceSignatory: f.owner.id,
			NewSignatory:     replacement.id,
			NewPublicKey:     replacement.pub,
		},
	})
	require.NoError(t, err)
	_, err = f.svc.Sign(ctx, proposal.ID, f.platform.id, f.platform.sign(proposal))
	require.NoError(t, err)

	// A restart keeps the stores but loses the in-process registry and its
	// staged rotation. Boot restoration rebuilds the current keys from the
	// token records; the rotation is re-staged from the proposal itself.
	keys := keyauth.NewRegistry()
	tokens := tokenservice.New(f.tokenStore, f.sim, keys, f.recorder)
	restored, err := tokens.RestoreKeyRegistry(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, restored)
	svc := service.New(f.proposals, tokens, keys, f.sim, f.recorder)

	done, err := svc.Sign(ctx, proposal.ID, f.legal.id, f.legal.sign(proposal))
	require.NoError(t, err)
	assert.Equal(t, models.StatusExecuted, done.Status)

	structure, err := keys.Structure(f.tokenID, keyauth.AuthorityAdmin)
	require.NoError(t, err)
	assert.True(t, structure.Satisfies([]id.SignatoryID{replacement.id, f.platform.id}).OK)
	assert.False(t, structure.Satisfies([]id.SignatoryID{f.owner.id, f.platform.id}).OK)

	// The token record carries the rotated structures, so the next boot
	// starts from the new key list.
	rebuilt := keyauth.NewRegistry()
	_, err = tokenservice.New(f.tokenStore, f.sim, rebuilt, f.recorder).RestoreKeyRegistry(ctx)
	require.NoError(t, err)
	structure, err = rebuilt.Structure(f.tokenID, keyauth.AuthorityAdmin)
	require.NoError(t, err)
	assert.True(t, structure.Satisfies([]id.SignatoryID{replacement.id, f.platform.id}).OK)
}

func TestKeyRotation_StaleReplacementRejectsProposal(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	first := newSigner(t)
	second := newSigner(t)

	rotate := func(replacement signer) *models.Proposal {
		proposal, err := f.svc.Propose(ctx, service.ProposeRequest{
			TokenID: f.tokenID,
			Type:    models.TypeKeyRotation,
			Parameters: models.Parameters{
				Authority:        string(keyauth.AuthorityAdmin),
				ReplaceSignatory: f.owner.id,
				NewSignatory:     replacement.id,
				NewPublicKey:     replacement.pub,
			},
		})
		require.NoError(t, err)
		return proposal
	}

	winner := rotate(first)
	loser := rotate(second)

	_, err := f.svc.Sign(ctx, winner.ID, f.platform.id, f.platform.sign(winner))
	require.NoError(t, err)
	done, err := f.svc.Sign(ctx, winner.ID, f.legal.id, f.legal.sign(winner))
	require.NoError(t, err)
	require.Equal(t, models.StatusExecuted, done.Status)

	// The owner is already off the admin list; the competing rotation must
	// not execute, and must not report a rotation it never performed.
	_, err = f.svc.Sign(ctx, loser.ID, f.platform.id, f.platform.sign(loser))
	require.NoError(t, err)
	_, err = f.svc.Sign(ctx, loser.ID, f.legal.id, f.legal.sign(loser))
	require.Error(t, err)
	assert.Equal(t, dErrors.CodePolicyViolation, dErrors.CodeOf(err))

	got, err := f.svc.GetProposal(ctx, loser.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusRejected, got.Status)
	assert.Equal(t, 1, f.recorder.count(audit.EventKeyRotated))

	structure, err := f.keys.Structure(f.tokenID, keyauth.AuthorityAdmin)
	require.NoError(t, err)
	assert.True(t, structure.Satisfies([]id.SignatoryID{first.id, f.platform.id}).OK)
	assert.False(t, structure.Satisfies([]id.SignatoryID{second.id, f.platform.id}).OK)
}

func TestFreezeAccount_ExecutesThroughGateway(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	proposal, err := f.svc.Propose(ctx, service.ProposeRequest{
		TokenID:    f.tokenID,
		Type:       models.TypeFreezeAccount,
		Parameters: models.Parameters{Account: "0.0.42"},
	})
	require.NoError(t, err)
	assert.ElementsMatch(t, []id.SignatoryID{f.platform.id}, proposal.Required)

	done, err := f.svc.Sign(ctx, proposal.ID, f.platform.id, f.platform.sign(proposal))
	require.NoError(t, err)
	assert.Equal(t, models.StatusExecuted, done.Status)
	assert.Equal(t, 1, f.recorder.count(audit.EventAccountFrozen))
}

func TestListPendingForToken(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first := f.proposeMint(t, 1_000)
	second := f.proposeMint(t, 2_000)

	_, err := f.svc.Reject(ctx, second.ID, f.legal.id)
	require.NoError(t, err)

	pending, err := f.svc.ListPendingForToken(ctx, f.tokenID)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, first.ID, pending[0].ID)
}
