package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"brickledger/internal/escrow/models"
	id "brickledger/pkg/domain"
	"brickledger/pkg/platform/sentinel"
)

// PostgresStore persists escrows in PostgreSQL.
//
// Schema:
//
//	CREATE TABLE escrows (
//	    id             UUID        PRIMARY KEY,
//	    depositor      TEXT        NOT NULL,
//	    beneficiary    TEXT        NOT NULL,
//	    balance        BIGINT      NOT NULL,
//	    signatories    JSONB       NOT NULL,
//	    conditions     JSONB       NOT NULL,
//	    status         TEXT        NOT NULL,
//	    expires_at     TIMESTAMPTZ NOT NULL,
//	    created_at     TIMESTAMPTZ NOT NULL,
//	    updated_at     TIMESTAMPTZ NOT NULL
//	);
type PostgresStore struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Create(ctx context.Context, escrow *models.Escrow) error {
	signatories, conditions, err := encodeJSON(escrow)
	if err != nil {
		return err
	}
	query := `
		INSERT INTO escrows (id, depositor, beneficiary, balance, signatories, conditions, status, expires_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`
	_, err = s.db.ExecContext(ctx, query,
		escrow.ID.String(), escrow.Depositor.String(), escrow.Beneficiary.String(),
		int64(escrow.Balance), signatories, conditions, string(escrow.Status),
		escrow.ExpiresAt, escrow.CreatedAt, escrow.UpdatedAt,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return sentinel.ErrConflict
		}
		return fmt.Errorf("create escrow: %w", err)
	}
	return nil
}

func (s *PostgresStore) FindByID(ctx context.Context, escrowID id.EscrowID) (*models.Escrow, error) {
	row := s.db.QueryRowContext(ctx, selectEscrow+` WHERE id = $1`, escrowID.String())
	return scanEscrow(row.Scan)
}

// ListExpired returns OPEN escrows whose deadline has passed as of asOf,
// oldest deadline first.
func (s *PostgresStore) ListExpired(ctx context.Context, asOf time.Time) ([]*models.Escrow, error) {
	query := selectEscrow + ` WHERE status = 'OPEN' AND expires_at <= $1 ORDER BY expires_at ASC`
	rows, err := s.db.QueryContext(ctx, query, asOf)
	if err != nil {
		return nil, fmt.Errorf("list expired escrows: %w", err)
	}
	defer rows.Close()

	var escrows []*models.Escrow
	for rows.Next() {
		escrow, err := scanEscrow(rows.Scan)
		if err != nil {
			return nil, err
		}
		escrows = append(escrows, escrow)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list expired escrows: %w", err)
	}
	return escrows, nil
}

// Execute runs an atomic validate-then-mutate under SELECT ... FOR UPDATE so
// a release and an expiry sweep cannot both move the balance out.
func (s *PostgresStore) Execute(ctx context.Context, escrowID id.EscrowID, can func(*models.Escrow) error, apply func(*models.Escrow)) (*models.Escrow, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin escrow update: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	row := tx.QueryRowContext(ctx, selectEscrow+` WHERE id = $1 FOR UPDATE`, escrowID.String())
	escrow, err := scanEscrow(row.Scan)
	if err != nil {
		return nil, err
	}
	if err := can(escrow); err != nil {
		return nil, err
	}
	apply(escrow)

	query := `
		UPDATE escrows
		SET balance = $2, status = $3, updated_at = $4
		WHERE id = $1
	`
	if _, err := tx.ExecContext(ctx, query,
		escrow.ID.String(), int64(escrow.Balance), string(escrow.Status), escrow.UpdatedAt,
	); err != nil {
		return nil, fmt.Errorf("update escrow: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit escrow update: %w", err)
	}
	return escrow, nil
}

const selectEscrow = `
	SELECT id, depositor, beneficiary, balance, signatories, conditions, status, expires_at, created_at, updated_at
	FROM escrows
`

func encodeJSON(e *models.Escrow) (signatories, conditions []byte, err error) {
	if signatories, err = json.Marshal(e.Signatories); err != nil {
		return nil, nil, fmt.Errorf("encode signatories: %w", err)
	}
	if e.Conditions == nil {
		conditions = []byte("[]")
	} else if conditions, err = json.Marshal(e.Conditions); err != nil {
		return nil, nil, fmt.Errorf("encode conditions: %w", err)
	}
	return signatories, conditions, nil
}

func scanEscrow(scan func(dest ...any) error) (*models.Escrow, error) {
	var (
		escrow      models.Escrow
		escrowID    string
		depositor   string
		beneficiary string
		balance     int64
		signatories []byte
		conditions  []byte
		status      string
	)
	err := scan(&escrowID, &depositor, &beneficiary, &balance, &signatories, &conditions,
		&status, &escrow.ExpiresAt, &escrow.CreatedAt, &escrow.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("scan escrow: %w", err)
	}
	if escrow.ID, err = id.ParseEscrowID(escrowID); err != nil {
		return nil, fmt.Errorf("scan escrow id: %w", err)
	}
	escrow.Depositor = id.AccountID(depositor)
	escrow.Beneficiary = id.AccountID(beneficiary)
	escrow.Balance = uint64(balance)
	escrow.Status = models.Status(status)
	if err := json.Unmarshal(signatories, &escrow.Signatories); err != nil {
		return nil, fmt.Errorf("decode signatories: %w", err)
	}
	if err := json.Unmarshal(conditions, &escrow.Conditions); err != nil {
		return nil, fmt.Errorf("decode conditions: %w", err)
	}
	return &escrow, nil
}
