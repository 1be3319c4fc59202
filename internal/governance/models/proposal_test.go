package models_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"brickledger/internal/governance/models"
	id "brickledger/pkg/domain"
	dErrors "brickledger/pkg/domain-errors"
)

func newProposal(t *testing.T, proposalType models.Type, params models.Parameters, required []id.SignatoryID, ttl time.Duration, now time.Time) *models.Proposal {
	t.Helper()
	proposal, err := models.NewProposal(id.NewProposalID(), id.NewTokenID(), proposalType, params, required, ttl, now)
	require.NoError(t, err)
	return proposal
}

func TestParameters_ValidatePerType(t *testing.T) {
	tests := []struct {
		name         string
		proposalType models.Type
		params       models.Parameters
		wantErr      bool
	}{
		{"supply change needs amount", models.TypeSupplyChange, models.Parameters{}, true},
		{"supply change with amount", models.TypeSupplyChange, models.Parameters{Amount: 100}, false},
		{"burn needs amount", models.TypeBurnTokens, models.Parameters{}, true},
		{"freeze needs account", models.TypeFreezeAccount, models.Parameters{}, true},
		{"freeze with account", models.TypeFreezeAccount, models.Parameters{Account: "0.0.1234"}, false},
		{"rotation needs all fields", models.TypeKeyRotation, models.Parameters{Authority: "admin"}, true},
		{
			"rotation complete", models.TypeKeyRotation,
			models.Parameters{
				Authority:        "admin",
				ReplaceSignatory: id.NewSignatoryID(),
				NewSignatory:     id.NewSignatoryID(),
				NewPublicKey:     "abcd1234",
			},
			false,
		},
		{"unknown type", models.Type("dissolve_entity"), models.Parameters{Amount: 1}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.params.Validate(tt.proposalType)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, dErrors.HasCode(err, dErrors.CodeValidation))
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestNewProposal_Invariants(t *testing.T) {
	now := time.Now()
	params := models.Parameters{Amount: 100}

	_, err := models.NewProposal(id.NewProposalID(), id.NewTokenID(), models.TypeSupplyChange, params, nil, time.Hour, now)
	require.Error(t, err)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeInvariantViolation))

	_, err = models.NewProposal(id.NewProposalID(), id.NewTokenID(), models.TypeSupplyChange, params, []id.SignatoryID{id.NewSignatoryID()}, 0, now)
	require.Error(t, err)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeValidation))

	proposal := newProposal(t, models.TypeSupplyChange, params, []id.SignatoryID{id.NewSignatoryID()}, time.Hour, now)
	assert.Equal(t, models.StatusProposed, proposal.Status)
	assert.Equal(t, now.Add(time.Hour), proposal.ExpiresAt)
}

func TestCanSign_EnforcesSignatureRules(t *testing.T) {
	now := time.Now()
	alice := id.NewSignatoryID()
	bob := id.NewSignatoryID()
	stranger := id.NewSignatoryID()
	proposal := newProposal(t, models.TypeSupplyChange, models.Parameters{Amount: 100}, []id.SignatoryID{alice, bob}, time.Hour, now)

	require.NoError(t, proposal.CanSign(alice, now))
	proposal.ApplySignature(alice, now)

	err := proposal.CanSign(alice, now)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeConflict), "double signing must conflict")

	err = proposal.CanSign(stranger, now)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeUnauthorized))

	assert.Equal(t, []id.SignatoryID{alice}, proposal.SignedIDs())
}

func TestCanSign_DeadlineIsExclusive(t *testing.T) {
	now := time.Now()
	alice := id.NewSignatoryID()
	proposal := newProposal(t, models.TypeSupplyChange, models.Parameters{Amount: 100}, []id.SignatoryID{alice}, time.Hour, now)

	deadline := proposal.ExpiresAt
	require.NoError(t, proposal.CanSign(alice, deadline.Add(-time.Nanosecond)))

	err := proposal.CanSign(alice, deadline)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeProposalExpired), "signature at the exact deadline never counts")
}

func TestTerminalStates_AreOneWay(t *testing.T) {
	now := time.Now()
	alice := id.NewSignatoryID()

	for _, apply := range []func(*models.Proposal){
		func(p *models.Proposal) { p.ApplyExecuting(now); p.ApplyExecuted(now) },
		func(p *models.Proposal) { p.ApplyRejected(now) },
		func(p *models.Proposal) { p.ApplyExpired(now) },
	} {
		proposal := newProposal(t, models.TypeSupplyChange, models.Parameters{Amount: 100}, []id.SignatoryID{alice}, time.Hour, now)
		apply(proposal)
		require.True(t, proposal.Status.IsTerminal())

		err := proposal.CanSign(alice, now)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeAlreadyFinalized))
		err = proposal.CanReject(alice)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeAlreadyFinalized))
		err = proposal.CanExecute(now)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeConflict))
	}
}

func TestExecutionFailure_ReturnsToCollection(t *testing.T) {
	now := time.Now()
	alice := id.NewSignatoryID()
	proposal := newProposal(t, models.TypeSupplyChange, models.Parameters{Amount: 100}, []id.SignatoryID{alice}, time.Hour, now)
	proposal.ApplySignature(alice, now)

	require.NoError(t, proposal.CanExecute(now))
	proposal.ApplyExecuting(now)

	err := proposal.CanSign(alice, now)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeConflict), "no signatures while executing")

	proposal.ApplyExecutionFailed(now)
	assert.Equal(t, models.StatusProposed, proposal.Status)
	assert.Len(t, proposal.Signatures, 1, "collected signatures survive a transient failure")
	require.NoError(t, proposal.CanExecute(now))
}

func TestCanExpire_OnlyAfterDeadline(t *testing.T) {
	now := time.Now()
	proposal := newProposal(t, models.TypeSupplyChange, models.Parameters{Amount: 100}, []id.SignatoryID{id.NewSignatoryID()}, time.Hour, now)

	err := proposal.CanExpire(now)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeConflict))

	require.NoError(t, proposal.CanExpire(proposal.ExpiresAt))
	proposal.ApplyExpired(proposal.ExpiresAt)
	assert.Equal(t, models.StatusExpired, proposal.Status)
}
