package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"prayerflow/internal/models"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

// ErrMalformed marks a delivery that can never be processed. It is dropped
// instead of requeued.
var ErrMalformed = errors.New("malformed delivery")

// Handler processes one delivery body
type Handler func(ctx context.Context, body []byte) error

// Consumer consumes deliveries from one durable queue with manual acks
type Consumer struct {
	conn      *Connection
	queueName string
	handler   Handler
	logger    *zap.Logger
	stopChan  chan struct{}
	doneChan  chan struct{}
}

// NewConsumer declares the queue and returns a consumer for it
func NewConsumer(conn *Connection, queueName string, handler Handler, logger *zap.Logger) (*Consumer, error) {
	if conn == nil {
		return nil, errors.New("connection cannot be nil")
	}
	if queueName == "" {
		return nil, errors.New("queue name cannot be empty")
	}
	if handler == nil {
		return nil, errors.New("handler cannot be nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	if err := conn.DeclareQueue(queueName); err != nil {
		return nil, err
	}

	return &Consumer{
		conn:      conn,
		queueName: queueName,
		handler:   handler,
		logger:    logger.With(zap.String("queue", queueName)),
		stopChan:  make(chan struct{}),
		doneChan:  make(chan struct{}),
	}, nil
}

// Start begins consuming in a background goroutine
func (c *Consumer) Start(ctx context.Context) error {
	ch, err := c.conn.Channel()
	if err != nil {
		return fmt.Errorf("failed to get channel: %w", err)
	}

	// one unacked delivery at a time
	if err := ch.Qos(1, 0, false); err != nil {
		return fmt.Errorf("failed to set QoS: %w", err)
	}

	msgs, err := ch.Consume(
		c.queueName,
		"",    // consumer tag (auto-generated)
		false, // auto-ack
		false, // exclusive
		false, // no-local
		false, // no-wait
		nil,
	)
	if err != nil {
		return fmt.Errorf("failed to start consuming: %w", err)
	}

	go func() {
		defer close(c.doneChan)

		for {
			select {
			case <-c.stopChan:
				return
			case <-ctx.Done():
				return
			case d, ok := <-msgs:
				if !ok {
					c.logger.Warn("Delivery channel closed")
					return
				}
				c.deliver(ctx, d)
			}
		}
	}()

	c.logger.Info("Consumer started")
	return nil
}

func (c *Consumer) deliver(ctx context.Context, d amqp.Delivery) {
	err := c.handler(ctx, d.Body)
	switch {
	case err == nil:
		d.Ack(false)
	case errors.Is(err, ErrMalformed):
		c.logger.Error("Dropping malformed delivery", zap.Error(err))
		d.Nack(false, false)
	default:
		c.logger.Error("Error processing delivery", zap.Error(err))
		d.Nack(false, true)
	}
}

// Stop stops consuming and waits for the loop to exit
func (c *Consumer) Stop() {
	close(c.stopChan)
	<-c.doneChan
	c.logger.Info("Consumer stopped")
}

// DecodeMessageJob parses a nudge body
func DecodeMessageJob(body []byte) (*models.MessageJob, error) {
	var job models.MessageJob
	if err := json.Unmarshal(body, &job); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return &job, nil
}

// DecodeLifecycleEvent parses and validates an event body
func DecodeLifecycleEvent(body []byte) (*models.LifecycleEvent, error) {
	var event models.LifecycleEvent
	if err := json.Unmarshal(body, &event); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if err := event.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return &event, nil
}
