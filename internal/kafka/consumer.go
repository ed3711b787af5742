package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"ms-credentials/internal/config"
	tickets "ms-credentials/internal/tickets/service"

	"github.com/segmentio/kafka-go"
)

// MessageReader is the subset of *kafka.Reader the consumer uses.
type MessageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// TicketHandler is what inbound platform events drive.
type TicketHandler interface {
	IssueTickets(ctx context.Context, purchaseID string) (*tickets.IssueResult, error)
	CancelPurchaseTickets(ctx context.Context, purchaseID string) (int64, error)
	CancelEventTickets(ctx context.Context, eventID string) (int64, error)
}

// EventInvalidator drops cached event data after a cancellation.
type EventInvalidator interface {
	Invalidate(ctx context.Context, eventID string) error
}

type Consumer struct {
	reader  MessageReader
	topics  config.TopicConfig
	handler TicketHandler
	cache   EventInvalidator
	logger  Logger
}

// NewConsumer subscribes the group to the purchase and event topics.
func NewConsumer(brokers []string, groupID string, topics config.TopicConfig, handler TicketHandler, cache EventInvalidator, logger Logger) *Consumer {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     brokers,
		GroupID:     groupID,
		GroupTopics: []string{topics.PurchaseCompleted, topics.PurchaseRefunded, topics.EventCancelled},
		MinBytes:    10e3, // 10KB
		MaxBytes:    10e6, // 10MB
	})
	return &Consumer{reader: reader, topics: topics, handler: handler, cache: cache, logger: logger}
}

// Start consumes until ctx is cancelled. Messages are committed after handling,
// including ones that failed: issuance gaps are closed by the repair job.
func (c *Consumer) Start(ctx context.Context) error {
	c.logger.LogKafka("START", "", "consumer started")
	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			c.logger.Error("KAFKA", fmt.Sprintf("error reading message: %v", err))
			continue
		}

		if err := c.handle(ctx, msg); err != nil {
			c.logger.Error("KAFKA", fmt.Sprintf("failed to handle %s message %s: %v", msg.Topic, string(msg.Key), err))
		}
		if err := c.reader.CommitMessages(ctx, msg); err != nil && ctx.Err() == nil {
			c.logger.Warn("KAFKA", fmt.Sprintf("failed to commit offset on %s: %v", msg.Topic, err))
		}
	}
}

func (c *Consumer) handle(ctx context.Context, msg kafka.Message) error {
	c.logger.LogKafka("RECEIVE", msg.Topic, string(msg.Value))

	switch msg.Topic {
	case c.topics.PurchaseCompleted:
		var ev PurchaseEvent
		if err := decode(msg.Value, &ev); err != nil {
			return err
		}
		if ev.PurchaseID == "" {
			return errMissingID
		}
		_, err := c.handler.IssueTickets(ctx, ev.PurchaseID)
		return err

	case c.topics.PurchaseRefunded:
		var ev PurchaseEvent
		if err := decode(msg.Value, &ev); err != nil {
			return err
		}
		if ev.PurchaseID == "" {
			return errMissingID
		}
		_, err := c.handler.CancelPurchaseTickets(ctx, ev.PurchaseID)
		return err

	case c.topics.EventCancelled:
		var ev EventCancelledEvent
		if err := decode(msg.Value, &ev); err != nil {
			return err
		}
		if ev.EventID == "" {
			return errMissingID
		}
		if c.cache != nil {
			if err := c.cache.Invalidate(ctx, ev.EventID); err != nil {
				c.logger.Warn("KAFKA", err.Error())
			}
		}
		_, err := c.handler.CancelEventTickets(ctx, ev.EventID)
		return err
	}

	c.logger.Warn("KAFKA", fmt.Sprintf("ignoring message on unexpected topic %s", msg.Topic))
	return nil
}

var errMissingID = errors.New("message is missing its identifier")

func decode(value []byte, v interface{}) error {
	if err := json.Unmarshal(value, v); err != nil {
		return fmt.Errorf("failed to unmarshal message: %w", err)
	}
	return nil
}

func (c *Consumer) Close() error {
	return c.reader.Close()
}
