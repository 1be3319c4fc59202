package audit_test

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"brickledger/internal/audit"
	auditstore "brickledger/internal/audit/store"
	ledgermem "brickledger/internal/ledger/memory"
	"brickledger/pkg/requestcontext"
)

type captureMirror struct {
	mu     sync.Mutex
	events []audit.Event
	err    error
}

func (m *captureMirror) Publish(_ context.Context, event audit.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.events = append(m.events, event)
	return nil
}

func newRecorder(t *testing.T, opts ...audit.RecorderOption) (*audit.Recorder, *ledgermem.Ledger) {
	t.Helper()
	sim := ledgermem.New()
	recorder := audit.NewRecorder(sim, auditstore.NewInMemory(), slog.New(slog.DiscardHandler), opts...)
	_, err := recorder.EnsureTopic(context.Background(), "audit trail")
	require.NoError(t, err)
	return recorder, sim
}

func TestRecorder_SequenceNumbersAreAuthoritative(t *testing.T) {
	recorder, _ := newRecorder(t)
	ctx := context.Background()

	first, err := recorder.Record(ctx, audit.EventTokenCreated, map[string]string{"token": "a"}, "txn-1")
	require.NoError(t, err)
	second, err := recorder.Record(ctx, audit.EventTokensMinted, map[string]string{"token": "a"}, "txn-2")
	require.NoError(t, err)

	assert.Equal(t, first.SequenceNumber+1, second.SequenceNumber)
	assert.True(t, second.ConsensusTimestamp.After(first.ConsensusTimestamp))

	events, err := recorder.Events(ctx, 0, 10)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, audit.EventTokenCreated, events[0].Envelope.EventType)
	assert.Equal(t, audit.EventTokensMinted, events[1].Envelope.EventType)
}

func TestRecorder_EnvelopeCarriesContext(t *testing.T) {
	recorder, sim := newRecorder(t)

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	ctx := requestcontext.WithTime(context.Background(), now)
	ctx = requestcontext.WithActorID(ctx, "actor-7")
	ctx = requestcontext.WithRequestID(ctx, "req-42")

	event, err := recorder.Record(ctx, audit.EventEscrowReleased, map[string]uint64{"amount": 500}, "txn-99")
	require.NoError(t, err)

	assert.Equal(t, audit.SchemaVersion, event.Envelope.SchemaVersion)
	assert.Equal(t, "actor-7", event.Envelope.Actor)
	assert.Equal(t, "req-42", event.Envelope.RequestID)
	assert.Equal(t, "txn-99", event.Envelope.CausedBy)
	assert.Equal(t, now.Format(time.RFC3339Nano), event.Envelope.Timestamp)

	// The consensus topic holds the same bytes the recorder returned.
	messages := sim.TopicMessages(event.TopicID)
	require.Len(t, messages, 1)
	var stored audit.Envelope
	require.NoError(t, json.Unmarshal(messages[0], &stored))
	assert.Equal(t, event.Envelope, stored)
}

func TestRecorder_EnsureTopicIsIdempotent(t *testing.T) {
	recorder, _ := newRecorder(t)

	topicID := recorder.Topic()
	again, err := recorder.EnsureTopic(context.Background(), "audit trail")
	require.NoError(t, err)
	assert.Equal(t, topicID, again)
}

func TestRecorder_RecordWithoutTopicFails(t *testing.T) {
	recorder := audit.NewRecorder(ledgermem.New(), auditstore.NewInMemory(), slog.New(slog.DiscardHandler))

	_, err := recorder.Record(context.Background(), audit.EventTokenCreated, nil, "")
	require.Error(t, err)
}

func TestRecorder_MirrorFailureDoesNotFailRecord(t *testing.T) {
	mirror := &captureMirror{err: errors.New("broker down")}
	recorder, _ := newRecorder(t, audit.WithMirror(mirror))

	_, err := recorder.Record(context.Background(), audit.EventTokenFrozen, nil, "txn-1")
	require.NoError(t, err)
}

func TestRecorder_MirrorReceivesCommittedEvent(t *testing.T) {
	mirror := &captureMirror{}
	recorder, _ := newRecorder(t, audit.WithMirror(mirror))

	event, err := recorder.Record(context.Background(), audit.EventEscrowOpened, nil, "txn-1")
	require.NoError(t, err)

	require.Len(t, mirror.events, 1)
	assert.Equal(t, event.SequenceNumber, mirror.events[0].SequenceNumber)
}

func TestRecorder_EventsPaginatesBySequence(t *testing.T) {
	recorder, _ := newRecorder(t)
	ctx := context.Background()

	var last audit.Event
	for range 5 {
		var err error
		last, err = recorder.Record(ctx, audit.EventProposalSigned, nil, "")
		require.NoError(t, err)
	}

	tail, err := recorder.Events(ctx, last.SequenceNumber-2, 10)
	require.NoError(t, err)
	require.Len(t, tail, 2)
	assert.Equal(t, last.SequenceNumber-1, tail[0].SequenceNumber)
	assert.Equal(t, last.SequenceNumber, tail[1].SequenceNumber)

	got, err := recorder.EventAt(ctx, last.SequenceNumber)
	require.NoError(t, err)
	assert.Equal(t, last.TransactionID, got.TransactionID)
}
