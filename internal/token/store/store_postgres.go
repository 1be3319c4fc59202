package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"brickledger/internal/token/models"
	id "brickledger/pkg/domain"
	"brickledger/pkg/platform/sentinel"
)

// PostgresStore persists token records in PostgreSQL.
//
// Schema:
//
//	CREATE TABLE tokens (
//	    id              UUID        PRIMARY KEY,
//	    name            TEXT        NOT NULL,
//	    symbol          TEXT        NOT NULL,
//	    decimals        INT         NOT NULL,
//	    supply          BIGINT      NOT NULL,
//	    max_supply      BIGINT      NOT NULL,
//	    treasury        TEXT        NOT NULL,
//	    ledger_token_id TEXT        NOT NULL DEFAULT '',
//	    keys            JSONB       NOT NULL DEFAULT '{}',
//	    status          TEXT        NOT NULL,
//	    created_at      TIMESTAMPTZ NOT NULL,
//	    updated_at      TIMESTAMPTZ NOT NULL
//	);
type PostgresStore struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Create(ctx context.Context, token *models.Token) error {
	keys, err := json.Marshal(token.Keys)
	if err != nil {
		return fmt.Errorf("marshal token keys: %w", err)
	}
	query := `
		INSERT INTO tokens (id, name, symbol, decimals, supply, max_supply, treasury, ledger_token_id, keys, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`
	_, err = s.db.ExecContext(ctx, query,
		token.ID.String(), token.Name, token.Symbol, token.Decimals,
		int64(token.Supply), int64(token.MaxSupply), token.Treasury.String(),
		token.LedgerTokenID, keys, string(token.Status), token.CreatedAt, token.UpdatedAt,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return sentinel.ErrConflict
		}
		return fmt.Errorf("create token: %w", err)
	}
	return nil
}

func (s *PostgresStore) FindByID(ctx context.Context, tokenID id.TokenID) (*models.Token, error) {
	row := s.db.QueryRowContext(ctx, selectToken+` WHERE id = $1`, tokenID.String())
	return scanToken(row.Scan)
}

func (s *PostgresStore) List(ctx context.Context) ([]*models.Token, error) {
	rows, err := s.db.QueryContext(ctx, selectToken+` ORDER BY created_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("list tokens: %w", err)
	}
	defer rows.Close()

	var tokens []*models.Token
	for rows.Next() {
		token, err := scanToken(rows.Scan)
		if err != nil {
			return nil, err
		}
		tokens = append(tokens, token)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list tokens: %w", err)
	}
	return tokens, nil
}

// Execute runs an atomic validate-then-mutate under SELECT ... FOR UPDATE so
// concurrent mutations of the same token serialize at the row lock.
func (s *PostgresStore) Execute(ctx context.Context, tokenID id.TokenID, can func(*models.Token) error, apply func(*models.Token)) (*models.Token, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin token update: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	row := tx.QueryRowContext(ctx, selectToken+` WHERE id = $1 FOR UPDATE`, tokenID.String())
	token, err := scanToken(row.Scan)
	if err != nil {
		return nil, err
	}
	if err := can(token); err != nil {
		return nil, err
	}
	apply(token)

	keys, err := json.Marshal(token.Keys)
	if err != nil {
		return nil, fmt.Errorf("marshal token keys: %w", err)
	}
	query := `
		UPDATE tokens
		SET supply = $2, ledger_token_id = $3, keys = $4, status = $5, updated_at = $6
		WHERE id = $1
	`
	if _, err := tx.ExecContext(ctx, query,
		token.ID.String(), int64(token.Supply), token.LedgerTokenID,
		keys, string(token.Status), token.UpdatedAt,
	); err != nil {
		return nil, fmt.Errorf("update token: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit token update: %w", err)
	}
	return token, nil
}

const selectToken = `
	SELECT id, name, symbol, decimals, supply, max_supply, treasury, ledger_token_id, keys, status, created_at, updated_at
	FROM tokens
`

func scanToken(scan func(dest ...any) error) (*models.Token, error) {
	var (
		token    models.Token
		tokenID  string
		treasury string
		supply   int64
		maxSup   int64
		keysRaw  []byte
		status   string
	)
	err := scan(&tokenID, &token.Name, &token.Symbol, &token.Decimals,
		&supply, &maxSup, &treasury, &token.LedgerTokenID, &keysRaw, &status,
		&token.CreatedAt, &token.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("scan token: %w", err)
	}
	if len(keysRaw) > 0 {
		if err := json.Unmarshal(keysRaw, &token.Keys); err != nil {
			return nil, fmt.Errorf("scan token keys: %w", err)
		}
	}
	parsed, err := id.ParseTokenID(tokenID)
	if err != nil {
		return nil, fmt.Errorf("scan token id: %w", err)
	}
	token.ID = parsed
	token.Treasury = id.AccountID(treasury)
	token.Supply = uint64(supply)
	token.MaxSupply = uint64(maxSup)
	token.Status = models.Status(status)
	return &token, nil
}
