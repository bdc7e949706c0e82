package service

import (
	"context"
	"database/sql"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Health status constants
const (
	StatusHealthy      = "healthy"
	StatusDegraded     = "degraded"
	StatusUnhealthy    = "unhealthy"
	StatusConnected    = "connected"
	StatusDisconnected = "disconnected"
	StatusDisabled     = "disabled"
)

// HealthStatus represents the overall health status of the application
type HealthStatus struct {
	Status    string            `json:"status"`
	Services  map[string]string `json:"services"`
	Timestamp time.Time         `json:"timestamp"`
	Version   string            `json:"version,omitempty"`
}

// Pinger is anything that can report its own connectivity
type Pinger interface {
	Ping(ctx context.Context) error
}

// ConnectionStatus reports whether a long-lived broker connection is up
type ConnectionStatus interface {
	IsConnected() bool
}

// HealthChecker handles health check operations
type HealthChecker struct {
	db       *sql.DB
	queueURL string
	queue    ConnectionStatus
	cache    Pinger
	version  string
}

// NewHealthService creates a new HealthChecker instance. cache may be nil
// when Redis is not configured.
func NewHealthService(db *sql.DB, queueURL string, cache Pinger, version string) *HealthChecker {
	return &HealthChecker{
		db:       db,
		queueURL: queueURL,
		cache:    cache,
		version:  version,
	}
}

// WithQueueConnection makes the queue check report the state of an open
// connection instead of dialing the broker on every request
func (h *HealthChecker) WithQueueConnection(conn ConnectionStatus) *HealthChecker {
	h.queue = conn
	return h
}

func (h *HealthChecker) checkDatabase(ctx context.Context) string {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	if err := h.db.PingContext(ctx); err != nil {
		return StatusDisconnected
	}
	return StatusConnected
}

func (h *HealthChecker) checkQueue() string {
	if h.queue != nil {
		if h.queue.IsConnected() {
			return StatusConnected
		}
		return StatusDisconnected
	}

	conn, err := amqp.DialConfig(h.queueURL, amqp.Config{Dial: amqp.DefaultDial(2 * time.Second)})
	if err != nil {
		return StatusDisconnected
	}
	defer conn.Close()

	return StatusConnected
}

func (h *HealthChecker) checkCache(ctx context.Context) string {
	if h.cache == nil {
		return StatusDisabled
	}
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	if err := h.cache.Ping(ctx); err != nil {
		return StatusDisconnected
	}
	return StatusConnected
}

// DetermineOverallStatus derives the overall status. Only the database is
// critical; the queue and the sweep lock store degrade the service.
func DetermineOverallStatus(services map[string]string) string {
	if services["database"] == StatusDisconnected {
		return StatusUnhealthy
	}
	if services["queue"] == StatusDisconnected || services["cache"] == StatusDisconnected {
		return StatusDegraded
	}
	return StatusHealthy
}

// CheckHealth performs health checks on all dependencies and returns the overall status
func (h *HealthChecker) CheckHealth(ctx context.Context) *HealthStatus {
	services := map[string]string{
		"database": h.checkDatabase(ctx),
		"queue":    h.checkQueue(),
		"cache":    h.checkCache(ctx),
	}

	return &HealthStatus{
		Status:    DetermineOverallStatus(services),
		Services:  services,
		Timestamp: time.Now().UTC(),
		Version:   h.version,
	}
}
