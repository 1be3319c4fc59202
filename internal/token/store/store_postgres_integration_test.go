//go:build integration

package store_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"brickledger/internal/keyauth"
	"brickledger/internal/token/models"
	"brickledger/internal/token/store"
	id "brickledger/pkg/domain"
	"brickledger/pkg/platform/sentinel"
	"brickledger/pkg/testutil/containers"
)

type PostgresStoreSuite struct {
	suite.Suite
	postgres *containers.PostgresContainer
	store    *store.PostgresStore
}

func TestPostgresStoreSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(PostgresStoreSuite))
}

func (s *PostgresStoreSuite) SetupSuite() {
	mgr := containers.GetManager()
	s.postgres = mgr.GetPostgres(s.T())
	s.store = store.NewPostgres(s.postgres.DB)
}

func (s *PostgresStoreSuite) SetupTest() {
	s.Require().NoError(s.postgres.TruncateTables(context.Background(), "tokens"))
}

func (s *PostgresStoreSuite) newToken() *models.Token {
	now := time.Now().UTC().Truncate(time.Microsecond)
	token, err := models.NewToken(id.NewTokenID(), "12 Harbor Street", "HARB12", 2, 0, 1_000, "0.0.900", now)
	s.Require().NoError(err)
	token.LedgerTokenID = "0.0.1000"
	return token
}

func (s *PostgresStoreSuite) TestRoundTrip() {
	ctx := context.Background()
	token := s.newToken()

	s.Require().NoError(s.store.Create(ctx, token))
	s.Require().ErrorIs(s.store.Create(ctx, token), sentinel.ErrConflict)

	found, err := s.store.FindByID(ctx, token.ID)
	s.Require().NoError(err)
	s.Equal(token.Symbol, found.Symbol)
	s.Equal(token.Treasury, found.Treasury)
	s.Equal(models.StatusDraft, found.Status)

	_, err = s.store.FindByID(ctx, id.NewTokenID())
	s.Require().ErrorIs(err, sentinel.ErrNotFound)
}

func (s *PostgresStoreSuite) TestKeyStructuresRoundTrip() {
	ctx := context.Background()
	token := s.newToken()
	admin := id.NewSignatoryID()
	token.Keys = map[keyauth.Authority]keyauth.KeyStructure{
		keyauth.AuthorityAdmin: {
			Authority: keyauth.AuthorityAdmin,
			Threshold: 2,
			Signers: []keyauth.Signatory{
				{ID: admin, Role: keyauth.RoleOwner, PublicKey: "aa01"},
				{ID: id.NewSignatoryID(), Role: keyauth.RolePlatform, PublicKey: "bb02"},
			},
		},
	}
	s.Require().NoError(s.store.Create(ctx, token))

	found, err := s.store.FindByID(ctx, token.ID)
	s.Require().NoError(err)
	s.Require().Len(found.Keys, 1)
	structure := found.Keys[keyauth.AuthorityAdmin]
	s.Equal(2, structure.Threshold)
	s.Require().Len(structure.Signers, 2)
	s.Equal(admin, structure.Signers[0].ID)

	// A rotation persisted through Execute replaces the stored structures.
	replacement := keyauth.Signatory{ID: id.NewSignatoryID(), Role: keyauth.RoleOwner, PublicKey: "cc03"}
	rotated := found.Keys
	structure.Signers[0] = replacement
	rotated[keyauth.AuthorityAdmin] = structure
	now := time.Now().UTC().Truncate(time.Microsecond)
	_, err = s.store.Execute(ctx, token.ID,
		func(*models.Token) error { return nil },
		func(tok *models.Token) { tok.ApplyKeyRotation(rotated, now) },
	)
	s.Require().NoError(err)

	found, err = s.store.FindByID(ctx, token.ID)
	s.Require().NoError(err)
	s.Equal(replacement.ID, found.Keys[keyauth.AuthorityAdmin].Signers[0].ID)
}

func (s *PostgresStoreSuite) TestExecutePersistsTransition() {
	ctx := context.Background()
	token := s.newToken()
	s.Require().NoError(s.store.Create(ctx, token))

	now := time.Now().UTC().Truncate(time.Microsecond)
	updated, err := s.store.Execute(ctx, token.ID,
		func(tok *models.Token) error { return tok.CanActivate() },
		func(tok *models.Token) { tok.ApplyActivation(now) },
	)
	s.Require().NoError(err)
	s.Equal(models.StatusActive, updated.Status)

	found, err := s.store.FindByID(ctx, token.ID)
	s.Require().NoError(err)
	s.Equal(models.StatusActive, found.Status)
}

// TestExecuteSerializesConcurrentMints verifies the FOR UPDATE row lock: 20
// concurrent mints of 50 against a cap of 1000 commit exactly 1000.
func (s *PostgresStoreSuite) TestExecuteSerializesConcurrentMints() {
	ctx := context.Background()
	token := s.newToken()
	s.Require().NoError(s.store.Create(ctx, token))

	_, err := s.store.Execute(ctx, token.ID,
		func(tok *models.Token) error { return tok.CanActivate() },
		func(tok *models.Token) { tok.ApplyActivation(time.Now()) },
	)
	s.Require().NoError(err)

	const goroutines = 20
	var wg sync.WaitGroup
	for range goroutines {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = s.store.Execute(ctx, token.ID,
				func(tok *models.Token) error { return tok.CanMint(50) },
				func(tok *models.Token) { tok.ApplyMint(50, time.Now()) },
			)
		}()
	}
	wg.Wait()

	found, err := s.store.FindByID(ctx, token.ID)
	s.Require().NoError(err)
	s.Equal(uint64(1_000), found.Supply)
}
