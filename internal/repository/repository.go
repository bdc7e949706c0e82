package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"prayerflow/internal/models"
)

var (
	// ErrNotFound is returned when a row does not exist
	ErrNotFound = errors.New("not found")
	// ErrVersionConflict is returned when an optimistic update lost the race
	ErrVersionConflict = errors.New("version conflict")
	// ErrClaimLost is returned when a worker no longer holds the message it tries to complete
	ErrClaimLost = errors.New("claim lost")
	// ErrInvalidState is returned when a transition is not allowed from the row's current status
	ErrInvalidState = errors.New("invalid state")
)

// ContactRepository defines read access to contacts
type ContactRepository interface {
	GetByID(ctx context.Context, id int) (*models.Contact, error)
}

// CategoryRepository defines read access to prayer categories
type CategoryRepository interface {
	GetByID(ctx context.Context, id int) (*models.Category, error)
}

// PrayerRequestRepository defines read access to prayer requests
type PrayerRequestRepository interface {
	GetByID(ctx context.Context, id int) (*models.PrayerRequest, error)
	// ListUnfired returns requests created at or before createdBefore that
	// pass the filter and have no firing marker for the rule, in ID order
	// starting after afterID
	ListUnfired(ctx context.Context, ruleID int, filter models.ConditionFilter, createdBefore time.Time, afterID, limit int) ([]*models.PrayerRequest, error)
}

// RuleRepository defines automation rule data access operations
type RuleRepository interface {
	Create(ctx context.Context, rule *models.AutomationRule) error
	GetByID(ctx context.Context, id int) (*models.AutomationRule, error)
	List(ctx context.Context, activeOnly bool) ([]*models.AutomationRule, error)
	ListActiveByTrigger(ctx context.Context, triggerTypes ...models.TriggerType) ([]*models.AutomationRule, error)
	Update(ctx context.Context, rule *models.AutomationRule) error
	SetActive(ctx context.Context, id int, isActive bool, version int) (int, error)
	RecordRun(ctx context.Context, ruleID int, success bool, ranAt time.Time, responseSeconds float64) error
	MarkFired(ctx context.Context, ruleID, prayerRequestID int, firedAt time.Time) (bool, error)
	UnmarkFired(ctx context.Context, ruleID, prayerRequestID int) error
}

// TemplateRepository defines read access to response templates
type TemplateRepository interface {
	GetByID(ctx context.Context, id int) (*models.ResponseTemplate, error)
	ListActive(ctx context.Context) ([]*models.ResponseTemplate, error)
}

// MessageRepository defines message queue data access operations
type MessageRepository interface {
	Create(ctx context.Context, message *models.QueuedMessage) error
	GetByID(ctx context.Context, id int) (*models.QueuedMessage, error)
	List(ctx context.Context, filter models.MessageFilter) ([]*models.QueuedMessage, error)

	// ClaimNext atomically moves the oldest due message to processing for the
	// worker. It returns nil, nil when nothing is due.
	ClaimNext(ctx context.Context, workerID string, now time.Time) (*models.QueuedMessage, error)
	MarkSent(ctx context.Context, id int, workerID, providerMessageID string, sentAt time.Time) error
	MarkRetry(ctx context.Context, id int, workerID string, retryCount int, nextAttempt time.Time, errMsg string) error
	MarkFailed(ctx context.Context, id int, workerID string, retryCount int, errMsg string) error
	// MarkReleased hands an unfinished claim back without counting an attempt
	MarkReleased(ctx context.Context, id int, workerID string) error
	ReleaseExpired(ctx context.Context, claimedBefore time.Time) (int64, error)

	Cancel(ctx context.Context, id int) error
	Retry(ctx context.Context, id int, now time.Time) error
	RecordConfirmation(ctx context.Context, id int, readAt, responseReceived *time.Time) error
	Aggregates(ctx context.Context, topN int) (*models.QueueAggregates, error)
}

// DB is a wrapper around *sql.DB to allow passing in transaction
type DB interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func checkAffected(result sql.Result, missing error) error {
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return missing
	}
	return nil
}
