//go:build integration

package containers

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"testing"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

// schema mirrors the production DDL the stores document in their package
// comments. Integration tests run against exactly these tables.
const schema = `
CREATE TABLE IF NOT EXISTS tokens (
    id              UUID        PRIMARY KEY,
    name            TEXT        NOT NULL,
    symbol          TEXT        NOT NULL,
    decimals        INT         NOT NULL,
    supply          BIGINT      NOT NULL,
    max_supply      BIGINT      NOT NULL,
    treasury        TEXT        NOT NULL,
    ledger_token_id TEXT        NOT NULL DEFAULT '',
    keys            JSONB       NOT NULL DEFAULT '{}',
    status          TEXT        NOT NULL,
    created_at      TIMESTAMPTZ NOT NULL,
    updated_at      TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS escrows (
    id             UUID        PRIMARY KEY,
    depositor      TEXT        NOT NULL,
    beneficiary    TEXT        NOT NULL,
    balance        BIGINT      NOT NULL,
    signatories    JSONB       NOT NULL,
    conditions     JSONB       NOT NULL,
    status         TEXT        NOT NULL,
    expires_at     TIMESTAMPTZ NOT NULL,
    created_at     TIMESTAMPTZ NOT NULL,
    updated_at     TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS proposals (
    id             UUID        PRIMARY KEY,
    token_id       UUID        NOT NULL,
    proposal_type  TEXT        NOT NULL,
    parameters     JSONB       NOT NULL,
    required       JSONB       NOT NULL,
    signatures     JSONB       NOT NULL,
    status         TEXT        NOT NULL,
    expires_at     TIMESTAMPTZ NOT NULL,
    created_at     TIMESTAMPTZ NOT NULL,
    updated_at     TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_proposals_token_status ON proposals (token_id, status);

CREATE TABLE IF NOT EXISTS audit_events (
    topic_id        TEXT        NOT NULL,
    sequence_number BIGINT      NOT NULL,
    consensus_ts    TIMESTAMPTZ NOT NULL,
    transaction_id  TEXT        NOT NULL,
    envelope        JSONB       NOT NULL,
    PRIMARY KEY (topic_id, sequence_number)
);
`

// PostgresContainer wraps a testcontainers PostgreSQL instance with the
// schema already applied.
type PostgresContainer struct {
	Container testcontainers.Container
	DSN       string
	DB        *sql.DB
}

// NewPostgresContainer starts a PostgreSQL container and applies the schema.
func NewPostgresContainer(t *testing.T) *PostgresContainer {
	t.Helper()
	ctx := context.Background()

	container, err := tcpostgres.Run(ctx, "postgres:16-alpine",
		tcpostgres.WithDatabase("brickledger_test"),
		tcpostgres.WithUsername("brickledger"),
		tcpostgres.WithPassword("brickledger"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	if err != nil {
		t.Fatalf("failed to start postgres container: %v", err)
	}

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		_ = container.Terminate(ctx)
		t.Fatalf("failed to get postgres connection string: %v", err)
	}

	db, err := sql.Open("pgx", dsn)
	if err != nil {
		_ = container.Terminate(ctx)
		t.Fatalf("failed to open postgres connection: %v", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		_ = container.Terminate(ctx)
		t.Fatalf("failed to ping postgres: %v", err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		_ = container.Terminate(ctx)
		t.Fatalf("failed to apply schema: %v", err)
	}

	return &PostgresContainer{Container: container, DSN: dsn, DB: db}
}

// TruncateTables empties the given tables. Use between tests for isolation.
func (p *PostgresContainer) TruncateTables(ctx context.Context, tables ...string) error {
	if len(tables) == 0 {
		return nil
	}
	_, err := p.DB.ExecContext(ctx, fmt.Sprintf("TRUNCATE TABLE %s", strings.Join(tables, ", ")))
	return err
}
