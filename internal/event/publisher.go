package event

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"

	"photoshare.io/sessiond/internal/audit"
	"photoshare.io/sessiond/internal/auth"
)

const source = "sessiond"

// Config holds Kafka producer settings.
type Config struct {
	Brokers      []string
	Topic        string
	BatchTimeout time.Duration
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Publisher sends session events to a Kafka topic keyed by account id.
type Publisher struct {
	writer messageWriter
	topic  string
	logger *slog.Logger
}

var _ auth.EventPublisher = (*Publisher)(nil)

// envelope is the wire format of a published event.
type envelope struct {
	EventID   string            `json:"event_id"`
	Type      string            `json:"type"`
	AccountID string            `json:"account_id"`
	Source    string            `json:"source"`
	At        time.Time         `json:"at"`
	Attrs     map[string]string `json:"attrs,omitempty"`
}

// NewPublisher builds an async kafka-go writer. Async keeps the login path
// from waiting on broker acks.
func NewPublisher(cfg Config, logger *slog.Logger) (*Publisher, error) {
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("event: no brokers configured")
	}
	if cfg.Topic == "" {
		return nil, errors.New("event: topic is required")
	}
	if cfg.BatchTimeout <= 0 {
		cfg.BatchTimeout = 10 * time.Millisecond
	}
	if logger == nil {
		logger = slog.Default()
	}
	w := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		BatchTimeout: cfg.BatchTimeout,
		Async:        true,
		RequiredAcks: kafka.RequireOne,
		Completion: func(msgs []kafka.Message, err error) {
			if err != nil {
				logger.Error("session events delivery failed",
					slog.Int("messages", len(msgs)),
					slog.String("error", err.Error()),
				)
			}
		},
	}
	return newPublisher(w, cfg.Topic, logger), nil
}

func newPublisher(w messageWriter, topic string, logger *slog.Logger) *Publisher {
	return &Publisher{writer: w, topic: topic, logger: logger}
}

// Publish encodes ev and hands it to the writer.
func (p *Publisher) Publish(ctx context.Context, ev auth.Event) error {
	data, err := json.Marshal(envelope{
		EventID:   uuid.NewString(),
		Type:      ev.Type,
		AccountID: ev.AccountID,
		Source:    source,
		At:        ev.At,
		Attrs:     ev.Attrs,
	})
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	msg := kafka.Message{
		Key:   []byte(ev.AccountID),
		Value: data,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(ev.Type)},
			{Key: "source", Value: []byte(source)},
		},
	}
	if rid := audit.RequestIDFromContext(ctx); rid != "" {
		msg.Headers = append(msg.Headers, kafka.Header{Key: "request_id", Value: []byte(rid)})
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("publish event to %s: %w", p.topic, err)
	}
	p.logger.DebugContext(ctx, "event published",
		slog.String("topic", p.topic),
		slog.String("event_type", ev.Type),
		slog.String("account_id", ev.AccountID),
	)
	return nil
}

// Close flushes pending messages.
func (p *Publisher) Close() error {
	return p.writer.Close()
}
