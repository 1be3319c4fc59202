package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"brickledger/internal/audit"
	"brickledger/pkg/domain"
	"brickledger/pkg/platform/sentinel"
)

// PostgresEventStore persists the audit read model in PostgreSQL.
//
// Schema:
//
//	CREATE TABLE audit_events (
//	    topic_id        TEXT        NOT NULL,
//	    sequence_number BIGINT      NOT NULL,
//	    consensus_ts    TIMESTAMPTZ NOT NULL,
//	    transaction_id  TEXT        NOT NULL,
//	    envelope        JSONB       NOT NULL,
//	    PRIMARY KEY (topic_id, sequence_number)
//	);
type PostgresEventStore struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *PostgresEventStore {
	return &PostgresEventStore{db: db}
}

func (s *PostgresEventStore) Append(ctx context.Context, event audit.Event) error {
	raw, err := json.Marshal(event.Envelope)
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}
	query := `
		INSERT INTO audit_events (topic_id, sequence_number, consensus_ts, transaction_id, envelope)
		VALUES ($1, $2, $3, $4, $5)
	`
	_, err = s.db.ExecContext(ctx, query,
		event.TopicID.String(),
		int64(event.SequenceNumber),
		event.ConsensusTimestamp,
		event.TransactionID.String(),
		raw,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return sentinel.ErrConflict
		}
		return fmt.Errorf("append audit event: %w", err)
	}
	return nil
}

func (s *PostgresEventStore) ListByTopic(ctx context.Context, topicID domain.LedgerTopicID, afterSequence uint64, limit int) ([]audit.Event, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `
		SELECT topic_id, sequence_number, consensus_ts, transaction_id, envelope
		FROM audit_events
		WHERE topic_id = $1 AND sequence_number > $2
		ORDER BY sequence_number ASC
		LIMIT $3
	`
	rows, err := s.db.QueryContext(ctx, query, topicID.String(), int64(afterSequence), limit)
	if err != nil {
		return nil, fmt.Errorf("list audit events: %w", err)
	}
	defer rows.Close()

	var events []audit.Event
	for rows.Next() {
		event, err := scanEvent(rows.Scan)
		if err != nil {
			return nil, err
		}
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list audit events: %w", err)
	}
	return events, nil
}

func (s *PostgresEventStore) GetBySequence(ctx context.Context, topicID domain.LedgerTopicID, sequence uint64) (audit.Event, error) {
	query := `
		SELECT topic_id, sequence_number, consensus_ts, transaction_id, envelope
		FROM audit_events
		WHERE topic_id = $1 AND sequence_number = $2
	`
	row := s.db.QueryRowContext(ctx, query, topicID.String(), int64(sequence))
	event, err := scanEvent(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return audit.Event{}, sentinel.ErrNotFound
	}
	return event, err
}

func scanEvent(scan func(dest ...any) error) (audit.Event, error) {
	var (
		event    audit.Event
		topicID  string
		sequence int64
		txnID    string
		raw      []byte
	)
	if err := scan(&topicID, &sequence, &event.ConsensusTimestamp, &txnID, &raw); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return audit.Event{}, sql.ErrNoRows
		}
		return audit.Event{}, fmt.Errorf("scan audit event: %w", err)
	}
	event.TopicID = domain.LedgerTopicID(topicID)
	event.SequenceNumber = uint64(sequence)
	event.TransactionID = domain.TransactionID(txnID)
	if err := json.Unmarshal(raw, &event.Envelope); err != nil {
		return audit.Event{}, fmt.Errorf("decode envelope: %w", err)
	}
	return event, nil
}
