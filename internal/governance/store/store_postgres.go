package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"brickledger/internal/governance/models"
	id "brickledger/pkg/domain"
	"brickledger/pkg/platform/sentinel"
)

// PostgresStore persists proposals in PostgreSQL.
//
// Schema:
//
//	CREATE TABLE proposals (
//	    id             UUID        PRIMARY KEY,
//	    token_id       UUID        NOT NULL,
//	    proposal_type  TEXT        NOT NULL,
//	    parameters     JSONB       NOT NULL,
//	    required       JSONB       NOT NULL,
//	    signatures     JSONB       NOT NULL,
//	    status         TEXT        NOT NULL,
//	    expires_at     TIMESTAMPTZ NOT NULL,
//	    created_at     TIMESTAMPTZ NOT NULL,
//	    updated_at     TIMESTAMPTZ NOT NULL
//	);
//	CREATE INDEX idx_proposals_token_status ON proposals (token_id, status);
type PostgresStore struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Create(ctx context.Context, proposal *models.Proposal) error {
	params, required, signatures, err := encodeJSON(proposal)
	if err != nil {
		return err
	}
	query := `
		INSERT INTO proposals (id, token_id, proposal_type, parameters, required, signatures, status, expires_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`
	_, err = s.db.ExecContext(ctx, query,
		proposal.ID.String(), proposal.TokenID.String(), string(proposal.Type),
		params, required, signatures, string(proposal.Status),
		proposal.ExpiresAt, proposal.CreatedAt, proposal.UpdatedAt,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return sentinel.ErrConflict
		}
		return fmt.Errorf("create proposal: %w", err)
	}
	return nil
}

func (s *PostgresStore) FindByID(ctx context.Context, proposalID id.ProposalID) (*models.Proposal, error) {
	row := s.db.QueryRowContext(ctx, selectProposal+` WHERE id = $1`, proposalID.String())
	return scanProposal(row.Scan)
}

func (s *PostgresStore) ListPendingForToken(ctx context.Context, tokenID id.TokenID) ([]*models.Proposal, error) {
	query := selectProposal + ` WHERE token_id = $1 AND status IN ('PROPOSED', 'EXECUTING') ORDER BY created_at ASC`
	rows, err := s.db.QueryContext(ctx, query, tokenID.String())
	if err != nil {
		return nil, fmt.Errorf("list pending proposals: %w", err)
	}
	defer rows.Close()

	var proposals []*models.Proposal
	for rows.Next() {
		proposal, err := scanProposal(rows.Scan)
		if err != nil {
			return nil, err
		}
		proposals = append(proposals, proposal)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list pending proposals: %w", err)
	}
	return proposals, nil
}

// Execute runs an atomic validate-then-mutate under SELECT ... FOR UPDATE so
// two concurrent signatures cannot race past the same quorum check.
func (s *PostgresStore) Execute(ctx context.Context, proposalID id.ProposalID, can func(*models.Proposal) error, apply func(*models.Proposal)) (*models.Proposal, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin proposal update: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	row := tx.QueryRowContext(ctx, selectProposal+` WHERE id = $1 FOR UPDATE`, proposalID.String())
	proposal, err := scanProposal(row.Scan)
	if err != nil {
		return nil, err
	}
	if err := can(proposal); err != nil {
		return nil, err
	}
	apply(proposal)

	_, required, signatures, err := encodeJSON(proposal)
	if err != nil {
		return nil, err
	}
	query := `
		UPDATE proposals
		SET required = $2, signatures = $3, status = $4, updated_at = $5
		WHERE id = $1
	`
	if _, err := tx.ExecContext(ctx, query,
		proposal.ID.String(), required, signatures, string(proposal.Status), proposal.UpdatedAt,
	); err != nil {
		return nil, fmt.Errorf("update proposal: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit proposal update: %w", err)
	}
	return proposal, nil
}

const selectProposal = `
	SELECT id, token_id, proposal_type, parameters, required, signatures, status, expires_at, created_at, updated_at
	FROM proposals
`

func encodeJSON(p *models.Proposal) (params, required, signatures []byte, err error) {
	if params, err = json.Marshal(p.Parameters); err != nil {
		return nil, nil, nil, fmt.Errorf("encode parameters: %w", err)
	}
	if required, err = json.Marshal(p.Required); err != nil {
		return nil, nil, nil, fmt.Errorf("encode required set: %w", err)
	}
	if p.Signatures == nil {
		signatures = []byte("[]")
	} else if signatures, err = json.Marshal(p.Signatures); err != nil {
		return nil, nil, nil, fmt.Errorf("encode signatures: %w", err)
	}
	return params, required, signatures, nil
}

func scanProposal(scan func(dest ...any) error) (*models.Proposal, error) {
	var (
		proposal     models.Proposal
		proposalID   string
		tokenID      string
		proposalType string
		params       []byte
		required     []byte
		signatures   []byte
		status       string
	)
	err := scan(&proposalID, &tokenID, &proposalType, &params, &required, &signatures,
		&status, &proposal.ExpiresAt, &proposal.CreatedAt, &proposal.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("scan proposal: %w", err)
	}
	if proposal.ID, err = id.ParseProposalID(proposalID); err != nil {
		return nil, fmt.Errorf("scan proposal id: %w", err)
	}
	if proposal.TokenID, err = id.ParseTokenID(tokenID); err != nil {
		return nil, fmt.Errorf("scan proposal token id: %w", err)
	}
	proposal.Type = models.Type(proposalType)
	proposal.Status = models.Status(status)
	if err := json.Unmarshal(params, &proposal.Parameters); err != nil {
		return nil, fmt.Errorf("decode parameters: %w", err)
	}
	if err := json.Unmarshal(required, &proposal.Required); err != nil {
		return nil, fmt.Errorf("decode required set: %w", err)
	}
	if err := json.Unmarshal(signatures, &proposal.Signatures); err != nil {
		return nil, fmt.Errorf("decode signatures: %w", err)
	}
	return &proposal, nil
}
