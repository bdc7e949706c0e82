package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"prayerflow/internal/metrics"
	"prayerflow/internal/models"
	"prayerflow/internal/repository"
	"prayerflow/internal/service"
	"prayerflow/internal/tracing"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// Deliverer performs one delivery attempt for a claimed message and records
// the outcome
type Deliverer struct {
	messages repository.MessageRepository
	contacts repository.ContactRepository
	sender   service.Sender
	policy   RetryPolicy
	logger   *zap.Logger
	now      func() time.Time
}

// NewDeliverer creates a deliverer
func NewDeliverer(
	messages repository.MessageRepository,
	contacts repository.ContactRepository,
	sender service.Sender,
	policy RetryPolicy,
	logger *zap.Logger,
) *Deliverer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Deliverer{
		messages: messages,
		contacts: contacts,
		sender:   sender,
		policy:   policy,
		logger:   logger,
		now:      time.Now,
	}
}

// SetClock overrides the time source (for testing)
func (d *Deliverer) SetClock(now func() time.Time) {
	d.now = now
}

// Deliver sends a message the worker has claimed. Only errors writing the
// outcome are returned; delivery failures are recorded on the row.
func (d *Deliverer) Deliver(ctx context.Context, workerID string, msg *models.QueuedMessage) error {
	ctx, span := tracing.StartSpan(ctx, "worker.Deliver",
		attribute.Int("message.id", msg.ID),
		attribute.String("message.channel", string(msg.MessageType)),
		attribute.Int("message.retry_count", msg.RetryCount),
	)
	defer span.End()

	// outcomes are written even when shutdown cancels ctx mid-attempt
	writeCtx := context.WithoutCancel(ctx)

	log := d.logger.With(
		zap.String("worker_id", workerID),
		zap.Int("message_id", msg.ID),
		zap.String("channel", string(msg.MessageType)),
	)

	destination, err := d.resolveDestination(ctx, msg)
	if err != nil {
		var ve *service.ValidationError
		if errors.As(err, &ve) {
			log.Warn("Message cannot be delivered", zap.Error(err))
			return d.record(log, msg.ID, d.messages.MarkFailed(writeCtx, msg.ID, workerID, msg.RetryCount, err.Error()))
		}
		if ctx.Err() != nil {
			return d.release(writeCtx, log, workerID, msg, err)
		}
		// lookup failure: give the row back through the retry path
		return d.handleTransient(writeCtx, log, workerID, msg, err)
	}

	start := time.Now()
	result, err := d.sender.Send(ctx, msg.MessageType, destination, msg.Content.Subject, msg.Content.Body)
	elapsed := time.Since(start)

	if err == nil {
		metrics.RecordDelivery(string(msg.MessageType), "sent", elapsed)
		log.Info("Message sent", zap.String("provider_id", result.ProviderID), zap.Duration("latency", elapsed))
		return d.record(log, msg.ID, d.messages.MarkSent(writeCtx, msg.ID, workerID, result.ProviderID, d.now().UTC()))
	}

	tracing.RecordError(span, err)

	if ctx.Err() != nil {
		// interrupted by shutdown; the provider gave no verdict
		return d.release(writeCtx, log, workerID, msg, err)
	}

	var permanent *service.PermanentDeliveryError
	if errors.As(err, &permanent) {
		metrics.RecordDelivery(string(msg.MessageType), "failed", elapsed)
		log.Warn("Permanent delivery failure", zap.Error(err))
		return d.record(log, msg.ID, d.messages.MarkFailed(writeCtx, msg.ID, workerID, msg.RetryCount, err.Error()))
	}

	// transient, or an unclassified error treated as transient
	return d.handleTransient(writeCtx, log, workerID, msg, err)
}

func (d *Deliverer) handleTransient(writeCtx context.Context, log *zap.Logger, workerID string, msg *models.QueuedMessage, cause error) error {
	retryCount, again := d.policy.Next(msg.RetryCount)
	if !again {
		metrics.RecordDelivery(string(msg.MessageType), "failed", 0)
		log.Warn("Delivery failed, retries exhausted", zap.Int("retry_count", retryCount), zap.Error(cause))
		return d.record(log, msg.ID, d.messages.MarkFailed(writeCtx, msg.ID, workerID, retryCount, cause.Error()))
	}

	next := d.now().Add(d.policy.Delay(retryCount)).UTC()
	metrics.RecordDelivery(string(msg.MessageType), "retry", 0)
	log.Info("Delivery failed, will retry",
		zap.Int("retry_count", retryCount),
		zap.Time("next_attempt", next),
		zap.Error(cause),
	)
	return d.record(log, msg.ID, d.messages.MarkRetry(writeCtx, msg.ID, workerID, retryCount, next, cause.Error()))
}

func (d *Deliverer) release(writeCtx context.Context, log *zap.Logger, workerID string, msg *models.QueuedMessage, cause error) error {
	log.Info("Delivery interrupted, releasing message",
		zap.Int("retry_count", msg.RetryCount),
		zap.Error(cause),
	)
	return d.record(log, msg.ID, d.messages.MarkReleased(writeCtx, msg.ID, workerID))
}

// record turns a lost claim into a logged conflict and passes other errors on
func (d *Deliverer) record(log *zap.Logger, messageID int, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, repository.ErrClaimLost) {
		conflict := &service.ConcurrencyConflict{Resource: "message", ID: messageID, Message: "claim expired before the outcome was recorded"}
		log.Warn("Abandoning message", zap.Error(conflict))
		return nil
	}
	return fmt.Errorf("failed to record delivery outcome: %w", err)
}

func (d *Deliverer) resolveDestination(ctx context.Context, msg *models.QueuedMessage) (string, error) {
	contact, err := d.contacts.GetByID(ctx, msg.ContactID)
	if errors.Is(err, repository.ErrNotFound) {
		return "", &service.ValidationError{Message: fmt.Sprintf("contact %d no longer exists", msg.ContactID)}
	}
	if err != nil {
		return "", err
	}
	if !contact.IsReachable() {
		return "", &service.ValidationError{Message: fmt.Sprintf("contact %d is unsubscribed", contact.ID)}
	}
	destination, ok := contact.Destination(msg.MessageType)
	if !ok {
		return "", &service.ValidationError{Message: fmt.Sprintf("contact %d has no data for %s", contact.ID, msg.MessageType)}
	}
	return destination, nil
}
