package broker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/IBM/sarama"
	"github.com/rs/zerolog"
)

// PublisherConfig holds the configuration for a Publisher.
type PublisherConfig struct {
	Brokers      []string      `koanf:"brokers"`
	RequiredAcks int16         `koanf:"required_acks"` // 0, 1 or -1
	MaxRetries   int           `koanf:"max_retries"`
	Timeout      time.Duration `koanf:"timeout"`
}

// LoadDefaultPublisherConfig returns a PublisherConfig with defaults suited to
// the ingestion path: full acks, a handful of retries.
func LoadDefaultPublisherConfig(brokers []string) *PublisherConfig {
	return &PublisherConfig{
		Brokers:      brokers,
		RequiredAcks: int16(sarama.WaitForAll),
		MaxRetries:   3,
		Timeout:      10 * time.Second,
	}
}

// MessagePublisher is the narrow producer contract the ingestion API depends
// on. The Kafka-backed Publisher is the production implementation; tests
// substitute a recorder.
type MessagePublisher interface {
	Publish(ctx context.Context, topic, key string, value []byte) error
	Close() error
}

// Publisher writes records to Kafka synchronously. The record key is the
// partition-routing key, which is what preserves per-key ordering downstream.
type Publisher struct {
	producer sarama.SyncProducer
	logger   zerolog.Logger
}

// NewPublisher connects a synchronous producer to the configured brokers.
func NewPublisher(cfg *PublisherConfig, logger zerolog.Logger) (*Publisher, error) {
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("at least one broker address is required")
	}

	sc := sarama.NewConfig()
	sc.Producer.RequiredAcks = sarama.RequiredAcks(cfg.RequiredAcks)
	sc.Producer.Retry.Max = cfg.MaxRetries
	sc.Producer.Return.Successes = true
	if cfg.Timeout > 0 {
		sc.Producer.Timeout = cfg.Timeout
	}

	producer, err := sarama.NewSyncProducer(cfg.Brokers, sc)
	if err != nil {
		return nil, fmt.Errorf("failed to create sync producer: %w", err)
	}

	return &Publisher{
		producer: producer,
		logger:   logger.With().Str("component", "Publisher").Logger(),
	}, nil
}

// NewPublisherFromSarama wraps an existing sarama producer. Used by tests with
// sarama's mock producer.
func NewPublisherFromSarama(producer sarama.SyncProducer, logger zerolog.Logger) *Publisher {
	return &Publisher{
		producer: producer,
		logger:   logger.With().Str("component", "Publisher").Logger(),
	}
}

// Publish sends one record and waits for the broker acknowledgement.
func (p *Publisher) Publish(ctx context.Context, topic, key string, value []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	msg := &sarama.ProducerMessage{
		Topic: topic,
		Value: sarama.ByteEncoder(value),
	}
	if key != "" {
		msg.Key = sarama.StringEncoder(key)
	}

	partition, offset, err := p.producer.SendMessage(msg)
	if err != nil {
		p.logger.Error().Err(err).Str("topic", topic).Msg("Failed to publish record.")
		return fmt.Errorf("failed to publish to %s: %w", topic, err)
	}

	p.logger.Debug().
		Str("topic", topic).
		Int32("partition", partition).
		Int64("offset", offset).
		Msg("Record published.")
	return nil
}

// Close releases the underlying producer.
func (p *Publisher) Close() error {
	return p.producer.Close()
}
