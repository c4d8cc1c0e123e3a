// Package kafka streams derived updates to a Kafka topic keyed by mint, and
// consumes that topic back into a local broadcaster.
package kafka

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"

	"openclaw-indexer/internal/broadcast"
	"openclaw-indexer/internal/domain"
)

// headerType carries the update type so consumers can route without decoding.
const headerType = "type"

// Config holds broker settings.
type Config struct {
	Brokers []string
	Topic   string
	// GroupID is the consumer group used by Consumer.
	GroupID string
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type messageReader interface {
	ReadMessage(ctx context.Context) (kafka.Message, error)
	Close() error
}

// Publisher writes every update as one message.
type Publisher struct {
	writer messageWriter
}

// NewPublisher creates a Publisher writing to cfg.Topic.
func NewPublisher(cfg Config) *Publisher {
	return &Publisher{writer: &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		BatchTimeout: 5 * time.Millisecond,
		RequiredAcks: kafka.RequireOne,
	}}
}

// key returns the partition key of u. Per-token updates stay ordered on one partition.
func key(u domain.Update) []byte {
	switch m := u.(type) {
	case domain.NewTokenUpdate:
		return []byte(m.Token.Mint)
	case domain.TradeUpdate:
		return []byte(m.Mint)
	case domain.PriceUpdate:
		return []byte(m.Mint)
	case domain.MigrationUpdate:
		return []byte(m.Mint)
	default:
		return nil
	}
}

// PublishUpdate implements broadcast.Publisher.
func (p *Publisher) PublishUpdate(ctx context.Context, u domain.Update) error {
	payload, err := broadcast.Encode(u)
	if err != nil {
		return err
	}
	err = p.writer.WriteMessages(ctx, kafka.Message{
		Key:     key(u),
		Value:   payload,
		Headers: []kafka.Header{{Key: headerType, Value: []byte(u.UpdateType())}},
	})
	if err != nil {
		return fmt.Errorf("write %s update: %w", u.UpdateType(), err)
	}
	return nil
}

// Close flushes pending writes.
func (p *Publisher) Close() error {
	return p.writer.Close()
}

// Consumer reads the update topic and republishes into a Broadcaster.
type Consumer struct {
	reader messageReader
	target broadcast.Broadcaster
	logger *slog.Logger
}

// NewConsumer creates a Consumer for cfg.Topic in cfg.GroupID.
func NewConsumer(cfg Config, target broadcast.Broadcaster, logger *slog.Logger) *Consumer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Consumer{
		reader: kafka.NewReader(kafka.ReaderConfig{
			Brokers: cfg.Brokers,
			Topic:   cfg.Topic,
			GroupID: cfg.GroupID,
		}),
		target: target,
		logger: logger.With("component", "kafka-consumer", "topic", cfg.Topic),
	}
}

// Run consumes until ctx is cancelled, then closes the reader.
func (c *Consumer) Run(ctx context.Context) error {
	defer c.reader.Close()
	for {
		m, err := c.reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("read message: %w", err)
		}
		c.handle(m)
	}
}

func (c *Consumer) handle(m kafka.Message) {
	env, err := broadcast.DecodeEnvelope(m.Value)
	if err == nil {
		var topic string
		if topic, err = env.Topic(); err == nil {
			c.target.Publish(topic, m.Value)
			return
		}
	}
	c.logger.Warn("dropping malformed update", "offset", m.Offset, "partition", m.Partition, "err", err)
}

var _ broadcast.Publisher = (*Publisher)(nil)
