package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"prayerflow/internal/models"
)

type messageRepository struct {
	db *sql.DB
}

// NewMessageRepository creates a new message queue repository
func NewMessageRepository(db *sql.DB) MessageRepository {
	return &messageRepository{db: db}
}

const messageColumns = `id, prayer_request_id, contact_id, message_type, subject, body, status,
	scheduled_at, sent_at, error_message, delivered, read_at, response_received,
	automation_rule_id, template_id, retry_count, claimed_by, claimed_at, provider_message_id,
	created_at, updated_at`

func scanMessage(row rowScanner) (*models.QueuedMessage, error) {
	m := &models.QueuedMessage{}
	err := row.Scan(
		&m.ID,
		&m.PrayerRequestID,
		&m.ContactID,
		&m.MessageType,
		&m.Content.Subject,
		&m.Content.Body,
		&m.Status,
		&m.ScheduledAt,
		&m.SentAt,
		&m.ErrorMessage,
		&m.DeliveryConfirmation.Delivered,
		&m.DeliveryConfirmation.ReadAt,
		&m.DeliveryConfirmation.ResponseReceived,
		&m.AutomationRuleID,
		&m.TemplateID,
		&m.RetryCount,
		&m.ClaimedBy,
		&m.ClaimedAt,
		&m.ProviderMessageID,
		&m.CreatedAt,
		&m.UpdatedAt,
	)
	return m, err
}

// Create inserts a new queued message
func (r *messageRepository) Create(ctx context.Context, message *models.QueuedMessage) error {
	query := `
		INSERT INTO prayer_message_queue
			(prayer_request_id, contact_id, message_type, subject, body, status, scheduled_at,
			 automation_rule_id, template_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $10)
		RETURNING id
	`

	if message.CreatedAt.IsZero() {
		message.CreatedAt = time.Now().UTC()
	}
	message.UpdatedAt = message.CreatedAt

	err := r.db.QueryRowContext(
		ctx,
		query,
		message.PrayerRequestID,
		message.ContactID,
		message.MessageType,
		message.Content.Subject,
		message.Content.Body,
		message.Status,
		message.ScheduledAt,
		message.AutomationRuleID,
		message.TemplateID,
		message.CreatedAt,
	).Scan(&message.ID)

	if err != nil {
		return fmt.Errorf("failed to create message: %w", err)
	}

	return nil
}

// GetByID retrieves a message by ID
func (r *messageRepository) GetByID(ctx context.Context, id int) (*models.QueuedMessage, error) {
	query := `SELECT ` + messageColumns + ` FROM prayer_message_queue WHERE id = $1`

	message, err := scanMessage(r.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("message %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get message: %w", err)
	}

	return message, nil
}

// List retrieves messages newest first, optionally filtered by status and type
func (r *messageRepository) List(ctx context.Context, filter models.MessageFilter) ([]*models.QueuedMessage, error) {
	var (
		conditions []string
		args       []interface{}
	)
	if filter.Status != nil {
		args = append(args, *filter.Status)
		conditions = append(conditions, fmt.Sprintf("status = $%d", len(args)))
	}
	if filter.MessageType != nil {
		args = append(args, *filter.MessageType)
		conditions = append(conditions, fmt.Sprintf("message_type = $%d", len(args)))
	}

	query := `SELECT ` + messageColumns + ` FROM prayer_message_queue`
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}
	args = append(args, limit)
	query += fmt.Sprintf(" ORDER BY created_at DESC, id DESC LIMIT $%d", len(args))

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}
	defer rows.Close()

	messages := []*models.QueuedMessage{}
	for rows.Next() {
		message, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		messages = append(messages, message)
	}

	return messages, rows.Err()
}

// ClaimNext locks the oldest due row with SKIP LOCKED so that concurrent
// workers never receive the same message
func (r *messageRepository) ClaimNext(ctx context.Context, workerID string, now time.Time) (*models.QueuedMessage, error) {
	query := `
		UPDATE prayer_message_queue
		SET status = 'processing', claimed_by = $1, claimed_at = $2, updated_at = $2
		WHERE id = (
			SELECT id FROM prayer_message_queue
			WHERE status IN ('pending', 'scheduled') AND scheduled_at <= $2
			ORDER BY scheduled_at ASC, id ASC
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING ` + messageColumns

	message, err := scanMessage(r.db.QueryRowContext(ctx, query, workerID, now))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to claim message: %w", err)
	}

	return message, nil
}

// MarkSent records a successful delivery for the claiming worker
func (r *messageRepository) MarkSent(ctx context.Context, id int, workerID, providerMessageID string, sentAt time.Time) error {
	query := `
		UPDATE prayer_message_queue
		SET status = 'sent', sent_at = $3, delivered = true, provider_message_id = $4,
		    error_message = NULL, claimed_by = NULL, claimed_at = NULL, updated_at = $3
		WHERE id = $1 AND status = 'processing' AND claimed_by = $2
	`

	result, err := r.db.ExecContext(ctx, query, id, workerID, sentAt, providerMessageID)
	if err != nil {
		return fmt.Errorf("failed to mark message sent: %w", err)
	}

	return checkAffected(result, fmt.Errorf("message %d: %w", id, ErrClaimLost))
}

// MarkRetry puts the message back to pending for a later attempt
func (r *messageRepository) MarkRetry(ctx context.Context, id int, workerID string, retryCount int, nextAttempt time.Time, errMsg string) error {
	query := `
		UPDATE prayer_message_queue
		SET status = 'pending', retry_count = $3, scheduled_at = $4, error_message = $5,
		    claimed_by = NULL, claimed_at = NULL, updated_at = CURRENT_TIMESTAMP
		WHERE id = $1 AND status = 'processing' AND claimed_by = $2
	`

	result, err := r.db.ExecContext(ctx, query, id, workerID, retryCount, nextAttempt, errMsg)
	if err != nil {
		return fmt.Errorf("failed to reschedule message: %w", err)
	}

	return checkAffected(result, fmt.Errorf("message %d: %w", id, ErrClaimLost))
}

// MarkFailed moves the message to the terminal failed state
func (r *messageRepository) MarkFailed(ctx context.Context, id int, workerID string, retryCount int, errMsg string) error {
	query := `
		UPDATE prayer_message_queue
		SET status = 'failed', retry_count = $3, error_message = $4,
		    claimed_by = NULL, claimed_at = NULL, updated_at = CURRENT_TIMESTAMP
		WHERE id = $1 AND status = 'processing' AND claimed_by = $2
	`

	result, err := r.db.ExecContext(ctx, query, id, workerID, retryCount, errMsg)
	if err != nil {
		return fmt.Errorf("failed to mark message failed: %w", err)
	}

	return checkAffected(result, fmt.Errorf("message %d: %w", id, ErrClaimLost))
}

// MarkReleased returns a claimed message to pending. retry_count and
// scheduled_at are kept since the attempt never completed.
func (r *messageRepository) MarkReleased(ctx context.Context, id int, workerID string) error {
	query := `
		UPDATE prayer_message_queue
		SET status = 'pending', claimed_by = NULL, claimed_at = NULL, updated_at = CURRENT_TIMESTAMP
		WHERE id = $1 AND status = 'processing' AND claimed_by = $2
	`

	result, err := r.db.ExecContext(ctx, query, id, workerID)
	if err != nil {
		return fmt.Errorf("failed to release message: %w", err)
	}

	return checkAffected(result, fmt.Errorf("message %d: %w", id, ErrClaimLost))
}

// ReleaseExpired returns processing rows claimed before the cutoff to pending.
// retry_count is untouched since no attempt outcome was recorded.
func (r *messageRepository) ReleaseExpired(ctx context.Context, claimedBefore time.Time) (int64, error) {
	query := `
		UPDATE prayer_message_queue
		SET status = 'pending', claimed_by = NULL, claimed_at = NULL, updated_at = CURRENT_TIMESTAMP
		WHERE status = 'processing' AND claimed_at < $1
	`

	result, err := r.db.ExecContext(ctx, query, claimedBefore)
	if err != nil {
		return 0, fmt.Errorf("failed to release expired claims: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return rows, nil
}

// Cancel moves a pending or scheduled message to cancelled
func (r *messageRepository) Cancel(ctx context.Context, id int) error {
	query := `
		UPDATE prayer_message_queue
		SET status = 'cancelled', updated_at = CURRENT_TIMESTAMP
		WHERE id = $1 AND status IN ('pending', 'scheduled')
	`

	result, err := r.db.ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("failed to cancel message: %w", err)
	}

	return checkAffected(result, fmt.Errorf("message %d: %w", id, ErrInvalidState))
}

// Retry makes a failed message due again, keeping its retry count
func (r *messageRepository) Retry(ctx context.Context, id int, now time.Time) error {
	query := `
		UPDATE prayer_message_queue
		SET status = 'pending', scheduled_at = $2, error_message = NULL, updated_at = $2
		WHERE id = $1 AND status = 'failed'
	`

	result, err := r.db.ExecContext(ctx, query, id, now)
	if err != nil {
		return fmt.Errorf("failed to retry message: %w", err)
	}

	return checkAffected(result, fmt.Errorf("message %d: %w", id, ErrInvalidState))
}

// RecordConfirmation stores read and response timestamps on a sent message.
// Nil arguments keep the stored value.
func (r *messageRepository) RecordConfirmation(ctx context.Context, id int, readAt, responseReceived *time.Time) error {
	query := `
		UPDATE prayer_message_queue
		SET read_at = COALESCE($2, read_at),
		    response_received = COALESCE($3, response_received),
		    updated_at = CURRENT_TIMESTAMP
		WHERE id = $1 AND status = 'sent'
	`

	result, err := r.db.ExecContext(ctx, query, id, readAt, responseReceived)
	if err != nil {
		return fmt.Errorf("failed to record confirmation: %w", err)
	}

	return checkAffected(result, fmt.Errorf("message %d: %w", id, ErrInvalidState))
}

// Aggregates computes the raw counts behind the queue statistics
func (r *messageRepository) Aggregates(ctx context.Context, topN int) (*models.QueueAggregates, error) {
	agg := &models.QueueAggregates{
		MessagesByType:   map[models.Channel]int{},
		MessagesByStatus: map[models.MessageStatus]int{},
		TopTemplates:     []models.TopTemplate{},
	}

	totals := `
		SELECT
			COUNT(*),
			COUNT(*) FILTER (WHERE status = 'sent'),
			COUNT(*) FILTER (WHERE status = 'sent' AND response_received IS NOT NULL),
			COALESCE(AVG(EXTRACT(EPOCH FROM (sent_at - created_at))) FILTER (WHERE status = 'sent'), 0)
		FROM prayer_message_queue
	`
	if err := r.db.QueryRowContext(ctx, totals).Scan(&agg.Total, &agg.Sent, &agg.Responded, &agg.AvgDeliverySecs); err != nil {
		return nil, fmt.Errorf("failed to get queue totals: %w", err)
	}

	if err := r.countBy(ctx, "message_type", func(key string, n int) {
		agg.MessagesByType[models.Channel(key)] = n
	}); err != nil {
		return nil, err
	}
	if err := r.countBy(ctx, "status", func(key string, n int) {
		agg.MessagesByStatus[models.MessageStatus(key)] = n
	}); err != nil {
		return nil, err
	}

	top := `
		SELECT t.id, t.name, COUNT(m.id), COUNT(m.id) FILTER (WHERE m.status = 'sent')
		FROM prayer_message_queue m
		JOIN response_templates t ON t.id = m.template_id
		GROUP BY t.id, t.name
		ORDER BY COUNT(m.id) DESC, t.id ASC
		LIMIT $1
	`
	rows, err := r.db.QueryContext(ctx, top, topN)
	if err != nil {
		return nil, fmt.Errorf("failed to get top templates: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			t    models.TopTemplate
			sent int
		)
		if err := rows.Scan(&t.ID, &t.Name, &t.UsageCount, &sent); err != nil {
			return nil, fmt.Errorf("failed to scan top template: %w", err)
		}
		if t.UsageCount > 0 {
			t.SuccessRate = float64(sent) / float64(t.UsageCount) * 100
		}
		agg.TopTemplates = append(agg.TopTemplates, t)
	}

	return agg, rows.Err()
}

// countBy groups the queue by a fixed column name
func (r *messageRepository) countBy(ctx context.Context, column string, add func(key string, n int)) error {
	rows, err := r.db.QueryContext(ctx, `SELECT `+column+`, COUNT(*) FROM prayer_message_queue GROUP BY `+column)
	if err != nil {
		return fmt.Errorf("failed to count messages by %s: %w", column, err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			key string
			n   int
		)
		if err := rows.Scan(&key, &n); err != nil {
			return fmt.Errorf("failed to scan %s count: %w", column, err)
		}
		add(key, n)
	}
	return rows.Err()
}
