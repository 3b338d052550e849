// Package kafka publishes and consumes ledger events on a Kafka topic.
// Messages are keyed by user id so one user's events stay ordered.
package kafka

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"finapp/internal/events"
	"finapp/internal/log"
)

const (
	handleAttempts = 5
	handleBackoff  = 500 * time.Millisecond
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type Publisher struct {
	writer messageWriter
}

func NewPublisher(brokers []string, topic string) *Publisher {
	return &Publisher{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireAll,
		},
	}
}

func (p *Publisher) Publish(ctx context.Context, e events.Event) error {
	msg, err := message(e)
	if err != nil {
		return err
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("write %s: %w", e.Type, err)
	}
	return nil
}

func (p *Publisher) Close() error {
	return p.writer.Close()
}

func message(e events.Event) (kafka.Message, error) {
	data, err := e.ToJSON()
	if err != nil {
		return kafka.Message{}, fmt.Errorf("marshal event: %w", err)
	}
	return kafka.Message{
		Key:   []byte(e.UserID),
		Value: data,
		Time:  e.Timestamp,
		Headers: []kafka.Header{
			{Key: "type", Value: []byte(e.Type)},
		},
	}, nil
}

type Consumer struct {
	reader  messageReader
	logger  *log.Logger
	backoff time.Duration
}

func NewConsumer(brokers []string, topic, groupID string, logger *log.Logger) *Consumer {
	if logger == nil {
		logger = log.Nop()
	}
	return &Consumer{
		reader: kafka.NewReader(kafka.ReaderConfig{
			Brokers:  brokers,
			GroupID:  groupID,
			Topic:    topic,
			MinBytes: 1,
			MaxBytes: 10e6,
		}),
		logger:  logger.WithComponent(log.ComponentKafka),
		backoff: handleBackoff,
	}
}

// Consume commits each message once its handler succeeds. A message that
// keeps failing is logged and skipped after handleAttempts tries.
func (c *Consumer) Consume(ctx context.Context, h events.Handler) error {
	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("fetch message: %w", err)
		}

		if err := c.handle(ctx, msg, h); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			c.logger.ErrorContext(ctx, "Dropping event after repeated failures",
				"partition", msg.Partition,
				"offset", msg.Offset,
				log.FieldError, err.Error())
		}
		if err := c.reader.CommitMessages(ctx, msg); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("commit offset %d: %w", msg.Offset, err)
		}
	}
}

func (c *Consumer) handle(ctx context.Context, msg kafka.Message, h events.Handler) error {
	e, err := events.FromJSON(msg.Value)
	if err != nil {
		return fmt.Errorf("unmarshal event: %w", err)
	}
	for attempt := 1; ; attempt++ {
		err = h(ctx, e)
		if err == nil {
			return nil
		}
		if attempt == handleAttempts {
			return err
		}
		c.logger.WarnContext(ctx, "Event handler failed, retrying",
			log.FieldEventType, string(e.Type),
			log.FieldEventID, e.ID,
			log.FieldAttempt, attempt,
			log.FieldError, err.Error())
		select {
		case <-ctx.Done():
			return errors.Join(err, ctx.Err())
		case <-time.After(c.backoff * time.Duration(attempt)):
		}
	}
}

func (c *Consumer) Close() error {
	return c.reader.Close()
}
