package models

import (
	"fmt"
	"time"
)

// RequestStatus represents valid prayer request statuses
type RequestStatus string

const (
	RequestStatusPending  RequestStatus = "pending"
	RequestStatusApproved RequestStatus = "approved"
	RequestStatusRejected RequestStatus = "rejected"
)

// Priority represents a prayer request priority
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityNormal Priority = "normal"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

// Category groups prayer requests (health, family, finances...)
type Category struct {
	ID   int    `json:"id" db:"id"`
	Name string `json:"name" db:"name"`
}

// PrayerRequest represents a submitted prayer request
type PrayerRequest struct {
	ID         int           `json:"id" db:"id"`
	ContactID  int           `json:"contact_id" db:"contact_id"`
	CategoryID int           `json:"category_id" db:"category_id"`
	Priority   Priority      `json:"priority" db:"priority"`
	Status     RequestStatus `json:"status" db:"status"`
	Message    string        `json:"message" db:"message"`
	CreatedAt  time.Time     `json:"created_at" db:"created_at"`
}

// IsApproved reports whether the request has been approved
func (r *PrayerRequest) IsApproved() bool {
	return r.Status == RequestStatusApproved
}

// Age returns how long ago the request was created
func (r *PrayerRequest) Age(now time.Time) time.Duration {
	return now.Sub(r.CreatedAt)
}

// ParseRequestStatus validates a request status string
func ParseRequestStatus(s string) (RequestStatus, error) {
	switch st := RequestStatus(s); st {
	case RequestStatusPending, RequestStatusApproved, RequestStatusRejected:
		return st, nil
	}
	return "", fmt.Errorf("invalid request status %q", s)
}

// ParsePriority validates a priority string
func ParsePriority(s string) (Priority, error) {
	switch p := Priority(s); p {
	case PriorityLow, PriorityNormal, PriorityHigh, PriorityUrgent:
		return p, nil
	}
	return "", fmt.Errorf("invalid priority %q", s)
}

// EventType represents a prayer request lifecycle event
type EventType string

const (
	EventRequestCreated  EventType = "request_created"
	EventRequestApproved EventType = "request_approved"
	EventPriorityChanged EventType = "priority_changed"
)

// LifecycleEvent is the notification that drives synchronous triggers
type LifecycleEvent struct {
	Type            EventType `json:"type"`
	PrayerRequestID int       `json:"prayer_request_id"`
	OccurredAt      time.Time `json:"occurred_at"`
}

// Validate checks the event fields
func (e *LifecycleEvent) Validate() error {
	switch e.Type {
	case EventRequestCreated, EventRequestApproved, EventPriorityChanged:
	default:
		return fmt.Errorf("invalid event type %q", e.Type)
	}
	if e.PrayerRequestID <= 0 {
		return fmt.Errorf("prayer_request_id must be positive")
	}
	return nil
}
