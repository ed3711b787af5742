package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"ms-credentials/internal/config"
	"ms-credentials/internal/models"

	"github.com/segmentio/kafka-go"
)

// MessageWriter is the subset of *kafka.Writer the producer uses.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type Logger interface {
	Warn(category, message string)
	Error(category, message string)
	LogKafka(action, topic, message string)
}

type Producer struct {
	Writer MessageWriter
	Topics config.TopicConfig
	Logger Logger
}

// NewProducer builds a producer that picks the topic per message.
func NewProducer(brokers []string, topics config.TopicConfig, logger Logger) *Producer {
	writer := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
		BatchTimeout: 50 * time.Millisecond,
	}
	return &Producer{Writer: writer, Topics: topics, Logger: logger}
}

// PublishTicketIssued streams the issuance of one credential. The secure code
// never leaves the service.
func (p *Producer) PublishTicketIssued(ctx context.Context, c models.TicketCredential) error {
	return p.publish(ctx, p.Topics.TicketIssued, c.PurchaseID, TicketIssuedEvent{
		CredentialID: c.ID,
		PurchaseID:   c.PurchaseID,
		EventID:      c.EventID,
		UserID:       c.UserID,
		TicketNumber: c.TicketNumber,
		IssuedAt:     c.GeneratedAt,
	})
}

// PublishTicketCheckedIn streams a successful redemption.
func (p *Producer) PublishTicketCheckedIn(ctx context.Context, c models.TicketCredential) error {
	ev := TicketCheckedInEvent{
		CredentialID: c.ID,
		PurchaseID:   c.PurchaseID,
		EventID:      c.EventID,
		TicketNumber: c.TicketNumber,
	}
	if c.ScannedAt != nil {
		ev.ScannedAt = *c.ScannedAt
	}
	if c.ScannedBy != nil {
		ev.ScannedBy = *c.ScannedBy
	}
	return p.publish(ctx, p.Topics.TicketCheckedIn, c.PurchaseID, ev)
}

// PublishTicketsCancelled streams a cancellation cascade for an event or purchase.
func (p *Producer) PublishTicketsCancelled(ctx context.Context, scope, id string, count int64) error {
	return p.publish(ctx, p.Topics.TicketCancelled, id, TicketsCancelledEvent{
		Scope:       scope,
		ID:          id,
		Count:       count,
		CancelledAt: time.Now().UTC(),
	})
}

func (p *Producer) publish(ctx context.Context, topic, key string, payload interface{}) error {
	msgBytes, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	if p.Logger != nil {
		p.Logger.LogKafka("PUBLISH", topic, string(msgBytes))
	}

	err = p.Writer.WriteMessages(ctx, kafka.Message{
		Topic: topic,
		Key:   []byte(key),
		Value: msgBytes,
	})
	if err != nil {
		return fmt.Errorf("failed to publish to %s: %w", topic, err)
	}
	return nil
}

func (p *Producer) Close() error {
	return p.Writer.Close()
}
