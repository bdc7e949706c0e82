package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"prayerflow/internal/metrics"
	"prayerflow/internal/models"
	"prayerflow/internal/repository"

	"go.uber.org/zap"
)

// NudgePublisher wakes idle workers after a message is enqueued
type NudgePublisher interface {
	PublishMessageJob(ctx context.Context, job *models.MessageJob) error
}

// EnqueueRequest describes one message to add to the queue
type EnqueueRequest struct {
	PrayerRequestID int
	Contact         *models.Contact
	Channel         models.Channel
	Content         models.MessageContent
	ScheduledAt     time.Time
	RuleID          *int
	TemplateID      *int
}

// QueueService handles message queue business logic
type QueueService struct {
	messageRepo repository.MessageRepository
	publisher   NudgePublisher
	logger      *zap.Logger
	now         func() time.Time
}

// NewQueueService creates a new queue service. publisher may be nil, in
// which case workers find new messages on their next poll.
func NewQueueService(messageRepo repository.MessageRepository, publisher NudgePublisher, logger *zap.Logger) *QueueService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &QueueService{
		messageRepo: messageRepo,
		publisher:   publisher,
		logger:      logger,
		now:         time.Now,
	}
}

// SetClock overrides the time source (for testing)
func (s *QueueService) SetClock(now func() time.Time) {
	s.now = now
}

// ScheduledAt computes when a message rendered from tmpl should be due,
// shifting by the action's extra delay
func ScheduledAt(tmpl *models.ResponseTemplate, now time.Time, extraDelayMinutes int) (time.Time, error) {
	due, err := tmpl.DueAt(now)
	if err != nil {
		return time.Time{}, err
	}
	return due.Add(time.Duration(extraDelayMinutes) * time.Minute).UTC(), nil
}

// Build validates an enqueue request and returns the unsaved message
func (s *QueueService) Build(req EnqueueRequest) (*models.QueuedMessage, error) {
	if req.Contact == nil {
		return nil, &ValidationError{Message: "contact is required"}
	}
	if !req.Channel.IsDelivery() {
		return nil, &ValidationError{Message: fmt.Sprintf("channel %q is not a delivery channel", req.Channel)}
	}
	if _, ok := req.Contact.Destination(req.Channel); !ok {
		field := "phone"
		if req.Channel == models.ChannelEmail {
			field = "email"
		}
		return nil, &ValidationError{Message: fmt.Sprintf("contact %d has no %s for %s", req.Contact.ID, field, req.Channel)}
	}
	if req.Content.Body == "" {
		return nil, &ValidationError{Message: "message body cannot be empty"}
	}

	// stored times are UTC; the schedule location only shapes wall-clock math
	now := s.now().UTC()
	scheduledAt := req.ScheduledAt.UTC()
	if scheduledAt.Before(now) {
		scheduledAt = now
	}

	status := models.MessageStatusPending
	if scheduledAt.After(now) {
		status = models.MessageStatusScheduled
	}

	return &models.QueuedMessage{
		PrayerRequestID:  req.PrayerRequestID,
		ContactID:        req.Contact.ID,
		MessageType:      req.Channel,
		Content:          req.Content,
		Status:           status,
		ScheduledAt:      scheduledAt,
		AutomationRuleID: req.RuleID,
		TemplateID:       req.TemplateID,
		CreatedAt:        now,
		UpdatedAt:        now,
	}, nil
}

// Enqueue validates and stores a message, then nudges the workers
func (s *QueueService) Enqueue(ctx context.Context, req EnqueueRequest) (*models.QueuedMessage, error) {
	message, err := s.Build(req)
	if err != nil {
		return nil, err
	}
	if err := s.Save(ctx, message); err != nil {
		return nil, err
	}
	return message, nil
}

// Save stores an already built message and nudges the workers
func (s *QueueService) Save(ctx context.Context, message *models.QueuedMessage) error {
	if err := s.messageRepo.Create(ctx, message); err != nil {
		return fmt.Errorf("failed to enqueue message: %w", err)
	}

	metrics.RecordEnqueued(string(message.MessageType))
	s.logger.Info("Message enqueued",
		zap.Int("message_id", message.ID),
		zap.Int("prayer_request_id", message.PrayerRequestID),
		zap.String("channel", string(message.MessageType)),
		zap.String("status", string(message.Status)),
		zap.Time("scheduled_at", message.ScheduledAt),
	)

	if s.publisher != nil {
		job := &models.MessageJob{MessageID: message.ID, ScheduledAt: message.ScheduledAt}
		if err := s.publisher.PublishMessageJob(ctx, job); err != nil {
			s.logger.Warn("Failed to publish wake-up nudge",
				zap.Int("message_id", message.ID),
				zap.Error(err),
			)
		}
	}
	return nil
}

// GetMessage retrieves a message by ID
func (s *QueueService) GetMessage(ctx context.Context, id int) (*models.QueuedMessage, error) {
	message, err := s.messageRepo.GetByID(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, &NotFoundError{Resource: "message", ID: id}
	}
	if err != nil {
		return nil, err
	}
	return message, nil
}

// ListMessages lists queued messages
func (s *QueueService) ListMessages(ctx context.Context, filter models.MessageFilter) ([]*models.QueuedMessage, error) {
	if filter.Limit <= 0 {
		filter.Limit = 50
	}
	if filter.Limit > 500 {
		return nil, &ValidationError{Message: "limit cannot exceed 500"}
	}
	messages, err := s.messageRepo.List(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}
	return messages, nil
}

// CancelMessage cancels a message that has not been picked up yet
func (s *QueueService) CancelMessage(ctx context.Context, id int) (*models.QueuedMessage, error) {
	message, err := s.GetMessage(ctx, id)
	if err != nil {
		return nil, err
	}
	if !message.CanCancel() {
		return nil, &BusinessLogicError{Message: fmt.Sprintf("message %d is %s and cannot be cancelled", id, message.Status)}
	}

	if err := s.messageRepo.Cancel(ctx, id); err != nil {
		if errors.Is(err, repository.ErrInvalidState) {
			// a worker claimed it between the read and the update
			return nil, &BusinessLogicError{Message: fmt.Sprintf("message %d was picked up and cannot be cancelled", id)}
		}
		return nil, fmt.Errorf("failed to cancel message: %w", err)
	}

	s.logger.Info("Message cancelled", zap.Int("message_id", id))
	return s.GetMessage(ctx, id)
}

// RetryMessage makes a failed message due now. The retry count is kept.
func (s *QueueService) RetryMessage(ctx context.Context, id int) (*models.QueuedMessage, error) {
	message, err := s.GetMessage(ctx, id)
	if err != nil {
		return nil, err
	}
	if !message.CanRetry() {
		return nil, &BusinessLogicError{Message: fmt.Sprintf("message %d is %s; only failed messages can be retried", id, message.Status)}
	}

	now := s.now().UTC()
	if err := s.messageRepo.Retry(ctx, id, now); err != nil {
		if errors.Is(err, repository.ErrInvalidState) {
			return nil, &BusinessLogicError{Message: fmt.Sprintf("message %d is no longer failed", id)}
		}
		return nil, fmt.Errorf("failed to retry message: %w", err)
	}

	s.logger.Info("Message retried manually", zap.Int("message_id", id), zap.Int("retry_count", message.RetryCount))

	if s.publisher != nil {
		if err := s.publisher.PublishMessageJob(ctx, &models.MessageJob{MessageID: id, ScheduledAt: now}); err != nil {
			s.logger.Warn("Failed to publish wake-up nudge", zap.Int("message_id", id), zap.Error(err))
		}
	}
	return s.GetMessage(ctx, id)
}

// RecordConfirmation stores read/response timestamps reported by a channel
func (s *QueueService) RecordConfirmation(ctx context.Context, id int, readAt, responseReceived *time.Time) (*models.QueuedMessage, error) {
	if readAt == nil && responseReceived == nil {
		return nil, &ValidationError{Message: "read_at or response_received is required"}
	}
	message, err := s.GetMessage(ctx, id)
	if err != nil {
		return nil, err
	}
	if message.Status != models.MessageStatusSent {
		return nil, &BusinessLogicError{Message: fmt.Sprintf("message %d has not been sent", id)}
	}

	if err := s.messageRepo.RecordConfirmation(ctx, id, readAt, responseReceived); err != nil {
		return nil, fmt.Errorf("failed to record confirmation: %w", err)
	}
	return s.GetMessage(ctx, id)
}

// ReleaseExpiredClaims returns messages whose worker lease expired to pending
func (s *QueueService) ReleaseExpiredClaims(ctx context.Context, lease time.Duration) (int64, error) {
	released, err := s.messageRepo.ReleaseExpired(ctx, s.now().Add(-lease).UTC())
	if err != nil {
		return 0, err
	}
	if released > 0 {
		s.logger.Warn("Released expired message claims", zap.Int64("count", released))
	}
	return released, nil
}
