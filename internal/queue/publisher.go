package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"prayerflow/internal/models"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Publisher publishes JSON payloads to one durable queue
type Publisher struct {
	conn      *Connection
	queueName string
}

// NewPublisher declares the queue and returns a publisher for it
func NewPublisher(conn *Connection, queueName string) (*Publisher, error) {
	if conn == nil {
		return nil, errors.New("connection cannot be nil")
	}
	if queueName == "" {
		return nil, errors.New("queue name cannot be empty")
	}

	if err := conn.DeclareQueue(queueName); err != nil {
		return nil, err
	}

	return &Publisher{conn: conn, queueName: queueName}, nil
}

// Publish marshals v and publishes it as a persistent message
func (p *Publisher) Publish(ctx context.Context, v interface{}) error {
	body, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	ch, err := p.conn.Channel()
	if err != nil {
		return fmt.Errorf("failed to get channel: %w", err)
	}

	err = ch.PublishWithContext(
		ctx,
		"",          // exchange (default)
		p.queueName, // routing key
		false,       // mandatory
		false,       // immediate
		amqp.Publishing{
			DeliveryMode: amqp.Persistent,
			ContentType:  "application/json",
			Body:         body,
		},
	)
	if err != nil {
		return fmt.Errorf("failed to publish to %s: %w", p.queueName, err)
	}

	return nil
}

// PublishMessageJob publishes a wake-up nudge for an enqueued message
func (p *Publisher) PublishMessageJob(ctx context.Context, job *models.MessageJob) error {
	return p.Publish(ctx, job)
}
