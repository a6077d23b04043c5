// Package kafka exports engine records to Kafka topics.
package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/alanyoungcy/arbsim/internal/domain"
)

// Config configures the producer.
type Config struct {
	Brokers      []string
	TopicPrefix  string
	MaxAttempts  int
	BatchSize    int
	BatchTimeout time.Duration
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Producer implements domain.EventSink on a kafka-go Writer. Topics are
// prefixed with Config.TopicPrefix.
type Producer struct {
	writer messageWriter
	prefix string
	logger *slog.Logger
}

var _ domain.EventSink = (*Producer)(nil)

// NewProducer creates a Producer. The writer connects lazily on the first
// write.
func NewProducer(cfg Config, logger *slog.Logger) (*Producer, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("kafka: no brokers configured")
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.BatchTimeout <= 0 {
		cfg.BatchTimeout = 50 * time.Millisecond
	}
	w := &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Balancer:               &kafka.Hash{},
		AllowAutoTopicCreation: true,
		Compression:            kafka.Snappy,
		RequiredAcks:           kafka.RequireOne,
		MaxAttempts:            cfg.MaxAttempts,
		BatchSize:              cfg.BatchSize,
		BatchTimeout:           cfg.BatchTimeout,
	}
	return newProducer(w, cfg.TopicPrefix, logger), nil
}

func newProducer(w messageWriter, prefix string, logger *slog.Logger) *Producer {
	return &Producer{
		writer: w,
		prefix: strings.TrimSuffix(prefix, "."),
		logger: logger.With(slog.String("component", "kafka_producer")),
	}
}

// Topic returns the full topic name for name.
func (p *Producer) Topic(name string) string {
	if p.prefix == "" {
		return name
	}
	return p.prefix + "." + name
}

// Emit writes value as JSON to topic, keyed by key.
func (p *Producer) Emit(ctx context.Context, topic, key string, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("kafka: marshal %s: %w", topic, err)
	}
	msg := kafka.Message{
		Topic: p.Topic(topic),
		Key:   []byte(key),
		Value: data,
		Time:  time.Now(),
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("kafka: write %s: %w", msg.Topic, err)
	}
	p.logger.Debug("event emitted", slog.String("topic", msg.Topic), slog.String("key", key))
	return nil
}

// Close flushes pending messages and closes the writer.
func (p *Producer) Close() error {
	return p.writer.Close()
}
