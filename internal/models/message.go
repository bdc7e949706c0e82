package models

import (
	"fmt"
	"time"
)

// MessageStatus represents valid queued message statuses
type MessageStatus string

const (
	MessageStatusPending    MessageStatus = "pending"
	MessageStatusScheduled  MessageStatus = "scheduled"
	MessageStatusProcessing MessageStatus = "processing"
	MessageStatusSent       MessageStatus = "sent"
	MessageStatusFailed     MessageStatus = "failed"
	MessageStatusCancelled  MessageStatus = "cancelled"
)

// ParseMessageStatus validates a message status string
func ParseMessageStatus(s string) (MessageStatus, error) {
	switch st := MessageStatus(s); st {
	case MessageStatusPending, MessageStatusScheduled, MessageStatusProcessing,
		MessageStatusSent, MessageStatusFailed, MessageStatusCancelled:
		return st, nil
	}
	return "", fmt.Errorf("invalid message status %q", s)
}

// MessageContent is the rendered subject and body of a message
type MessageContent struct {
	Subject *string `json:"subject,omitempty"`
	Body    string  `json:"body"`
}

// DeliveryConfirmation tracks what happened after a message was sent
type DeliveryConfirmation struct {
	Delivered        bool       `json:"delivered"`
	ReadAt           *time.Time `json:"read_at,omitempty"`
	ResponseReceived *time.Time `json:"response_received,omitempty"`
}

// QueuedMessage is a unit of outbound work in the message queue
type QueuedMessage struct {
	ID                   int                  `json:"id" db:"id"`
	PrayerRequestID      int                  `json:"prayer_request_id" db:"prayer_request_id"`
	ContactID            int                  `json:"contact_id" db:"contact_id"`
	MessageType          Channel              `json:"message_type" db:"message_type"`
	Content              MessageContent       `json:"content"`
	Status               MessageStatus        `json:"status" db:"status"`
	ScheduledAt          time.Time            `json:"scheduled_at" db:"scheduled_at"`
	SentAt               *time.Time           `json:"sent_at,omitempty" db:"sent_at"`
	ErrorMessage         *string              `json:"error_message,omitempty" db:"error_message"`
	DeliveryConfirmation DeliveryConfirmation `json:"delivery_confirmation"`
	AutomationRuleID     *int                 `json:"automation_rule_id,omitempty" db:"automation_rule_id"`
	TemplateID           *int                 `json:"template_id,omitempty" db:"template_id"`
	RetryCount           int                  `json:"retry_count" db:"retry_count"`
	ClaimedBy            *string              `json:"claimed_by,omitempty" db:"claimed_by"`
	ClaimedAt            *time.Time           `json:"claimed_at,omitempty" db:"claimed_at"`
	ProviderMessageID    *string              `json:"provider_message_id,omitempty" db:"provider_message_id"`
	CreatedAt            time.Time            `json:"created_at" db:"created_at"`
	UpdatedAt            time.Time            `json:"updated_at" db:"updated_at"`
}

// CanCancel reports whether the message has not been picked up yet
func (m *QueuedMessage) CanCancel() bool {
	return m.Status == MessageStatusPending || m.Status == MessageStatusScheduled
}

// CanRetry reports whether a manual retry is allowed
func (m *QueuedMessage) CanRetry() bool {
	return m.Status == MessageStatusFailed
}

// IsDue reports whether the message is waiting and its scheduled time has come
func (m *QueuedMessage) IsDue(now time.Time) bool {
	return m.CanCancel() && !m.ScheduledAt.After(now)
}

// MessageFilter narrows a message queue listing
type MessageFilter struct {
	Status      *MessageStatus
	MessageType *Channel
	Limit       int
}

// MessageJob is the wake-up nudge published after a message is enqueued
type MessageJob struct {
	MessageID   int       `json:"message_id"`
	ScheduledAt time.Time `json:"scheduled_at"`
}
