// Package mirror republishes committed audit events to a Kafka-compatible
// stream for downstream consumers. The consensus topic stays authoritative;
// the mirror exists only so consumers do not need ledger access.
package mirror

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/twmb/franz-go/pkg/kadm"
	"github.com/twmb/franz-go/pkg/kgo"

	"brickledger/internal/audit"
	"brickledger/internal/platform/config"
)

// Publisher writes audit events to one Kafka topic, keyed by consensus
// sequence number so partition-local ordering follows consensus ordering.
type Publisher struct {
	client *kgo.Client
	topic  string
	logger *slog.Logger
}

// New connects to the configured brokers and ensures the mirror topic exists.
// Returns (nil, nil) when no brokers are configured so callers can treat the
// mirror as optional.
func New(ctx context.Context, cfg config.KafkaConfig, logger *slog.Logger) (*Publisher, error) {
	if len(cfg.Brokers) == 0 {
		return nil, nil
	}

	client, err := kgo.NewClient(
		kgo.SeedBrokers(cfg.Brokers...),
		kgo.DefaultProduceTopic(cfg.MirrorTopic),
		kgo.ProducerBatchCompression(kgo.SnappyCompression()),
	)
	if err != nil {
		return nil, fmt.Errorf("connect kafka: %w", err)
	}

	admin := kadm.NewClient(client)
	if _, err := admin.CreateTopic(ctx, 1, 1, nil, cfg.MirrorTopic); err != nil {
		// Already-exists is the steady state after first boot.
		logger.Debug("mirror topic create skipped", "topic", cfg.MirrorTopic, "error", err)
	}

	return &Publisher{client: client, topic: cfg.MirrorTopic, logger: logger}, nil
}

// Publish appends one committed event to the mirror topic. Delivery is
// asynchronous; failures are logged, never surfaced to the consensus write.
func (p *Publisher) Publish(ctx context.Context, event audit.Event) error {
	value, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode mirror event: %w", err)
	}
	record := &kgo.Record{
		Topic: p.topic,
		Key:   []byte(strconv.FormatUint(event.SequenceNumber, 10)),
		Value: value,
	}
	p.client.Produce(ctx, record, func(_ *kgo.Record, err error) {
		if err != nil {
			p.logger.Warn("mirror delivery failed",
				"topic", p.topic,
				"sequence_number", event.SequenceNumber,
				"error", err,
			)
		}
	})
	return nil
}

// Close flushes pending records and releases the client.
func (p *Publisher) Close(ctx context.Context) error {
	if err := p.client.Flush(ctx); err != nil {
		return fmt.Errorf("flush mirror: %w", err)
	}
	p.client.Close()
	return nil
}
