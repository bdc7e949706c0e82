package queue

import (
	"errors"
	"fmt"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

// Connection is a RabbitMQ connection that redials when its channel is gone
type Connection struct {
	conn    *amqp.Connection
	channel *amqp.Channel
	url     string
	logger  *zap.Logger
	mu      sync.Mutex
}

// NewConnection dials RabbitMQ and opens a channel
func NewConnection(url string, logger *zap.Logger) (*Connection, error) {
	if url == "" {
		return nil, errors.New("rabbitmq url cannot be empty")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	c := &Connection{url: url, logger: logger}
	if err := c.dial(); err != nil {
		return nil, err
	}

	logger.Info("Connected to RabbitMQ")
	return c, nil
}

func (c *Connection) dial() error {
	conn, err := amqp.Dial(c.url)
	if err != nil {
		return fmt.Errorf("failed to connect to rabbitmq: %w", err)
	}

	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return fmt.Errorf("failed to create channel: %w", err)
	}

	c.conn = conn
	c.channel = channel
	return nil
}

// Channel returns the channel, reconnecting if necessary
func (c *Connection) Channel() (*amqp.Channel, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.channel == nil || c.channel.IsClosed() || c.conn == nil || c.conn.IsClosed() {
		c.logger.Warn("RabbitMQ channel closed, reconnecting")
		c.closeLocked()
		if err := c.dial(); err != nil {
			return nil, fmt.Errorf("failed to reconnect: %w", err)
		}
		c.logger.Info("Reconnected to RabbitMQ")
	}

	return c.channel, nil
}

// DeclareQueue declares a durable, non-exclusive queue
func (c *Connection) DeclareQueue(name string) error {
	ch, err := c.Channel()
	if err != nil {
		return fmt.Errorf("failed to get channel: %w", err)
	}

	_, err = ch.QueueDeclare(
		name,
		true,  // durable
		false, // auto-delete
		false, // exclusive
		false, // no-wait
		nil,
	)
	if err != nil {
		return fmt.Errorf("failed to declare queue %s: %w", name, err)
	}
	return nil
}

func (c *Connection) closeLocked() []error {
	var errs []error
	if c.channel != nil {
		if err := c.channel.Close(); err != nil && !errors.Is(err, amqp.ErrClosed) {
			errs = append(errs, fmt.Errorf("failed to close channel: %w", err))
		}
		c.channel = nil
	}
	if c.conn != nil {
		if err := c.conn.Close(); err != nil && !errors.Is(err, amqp.ErrClosed) {
			errs = append(errs, fmt.Errorf("failed to close connection: %w", err))
		}
		c.conn = nil
	}
	return errs
}

// Close closes the connection gracefully
func (c *Connection) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if errs := c.closeLocked(); len(errs) > 0 {
		return errors.Join(errs...)
	}

	c.logger.Info("RabbitMQ connection closed")
	return nil
}

// IsConnected checks if the connection is active
func (c *Connection) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.conn != nil && !c.conn.IsClosed() && c.channel != nil && !c.channel.IsClosed()
}
