package models

import (
	"fmt"
	"time"
)

// DeliveryTiming controls when a rendered template is due
type DeliveryTiming string

const (
	TimingImmediate DeliveryTiming = "immediate"
	TimingDelayed   DeliveryTiming = "delayed"
	TimingScheduled DeliveryTiming = "scheduled"
)

// ResponseTemplate is a reusable message body with {variable} placeholders
type ResponseTemplate struct {
	ID             int            `json:"id" db:"id"`
	Name           string         `json:"name" db:"name"`
	Subject        *string        `json:"subject,omitempty" db:"subject"`
	Content        string         `json:"content" db:"content"`
	DeliveryTiming DeliveryTiming `json:"delivery_timing" db:"delivery_timing"`
	DelayHours     *int           `json:"delay_hours,omitempty" db:"delay_hours"`
	ScheduledTime  *string        `json:"scheduled_time,omitempty" db:"scheduled_time"`
	MessageType    Channel        `json:"message_type" db:"message_type"`
	CategoryID     *int           `json:"category_id,omitempty" db:"category_id"`
	IsActive       bool           `json:"is_active" db:"is_active"`
	IsDefault      bool           `json:"is_default" db:"is_default"`
	CreatedAt      time.Time      `json:"created_at" db:"created_at"`
}

// DueAt computes when a message rendered from this template should go out.
// A scheduled template whose time has already passed today moves to tomorrow.
func (t *ResponseTemplate) DueAt(now time.Time) (time.Time, error) {
	switch t.DeliveryTiming {
	case TimingImmediate, "":
		return now, nil
	case TimingDelayed:
		if t.DelayHours == nil || *t.DelayHours < 0 {
			return time.Time{}, fmt.Errorf("template %d: delayed timing requires delay_hours", t.ID)
		}
		return now.Add(time.Duration(*t.DelayHours) * time.Hour), nil
	case TimingScheduled:
		if t.ScheduledTime == nil {
			return time.Time{}, fmt.Errorf("template %d: scheduled timing requires scheduled_time", t.ID)
		}
		at, err := ParseTimeOfDay(*t.ScheduledTime)
		if err != nil {
			return time.Time{}, fmt.Errorf("template %d: %w", t.ID, err)
		}
		return at.Next(now), nil
	}
	return time.Time{}, fmt.Errorf("template %d: invalid delivery timing %q", t.ID, t.DeliveryTiming)
}
