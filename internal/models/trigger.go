package models

import (
	"encoding/json"
	"fmt"
	"slices"
	"time"
)

// TriggerConditions is the stored JSON shape of a rule's conditions
type TriggerConditions struct {
	Status       []string `json:"status,omitempty"`
	Priority     []string `json:"priority,omitempty"`
	Category     []int    `json:"category,omitempty"`
	DelayMinutes *int     `json:"delay_minutes,omitempty"`
	ScheduleTime *string  `json:"schedule_time,omitempty"`
}

// ConditionFilter is the typed status/priority/category filter shared by
// every trigger variant. An empty slice matches any value on that dimension.
type ConditionFilter struct {
	Statuses   []RequestStatus
	Priorities []Priority
	Categories []int
}

// Matches reports whether the request satisfies every dimension of the filter
func (f ConditionFilter) Matches(req *PrayerRequest) bool {
	if len(f.Statuses) > 0 && !slices.Contains(f.Statuses, req.Status) {
		return false
	}
	if len(f.Priorities) > 0 && !slices.Contains(f.Priorities, req.Priority) {
		return false
	}
	if len(f.Categories) > 0 && !slices.Contains(f.Categories, req.CategoryID) {
		return false
	}
	return true
}

// Trigger is the typed variant of a rule's trigger conditions
type Trigger interface {
	Type() TriggerType
	Filter() ConditionFilter
}

// ApprovalTrigger fires when a request transitions to approved
type ApprovalTrigger struct {
	Conditions ConditionFilter
}

func (t ApprovalTrigger) Type() TriggerType       { return TriggerApproval }
func (t ApprovalTrigger) Filter() ConditionFilter { return t.Conditions }

// PriorityTrigger fires on request creation or priority change
type PriorityTrigger struct {
	Conditions ConditionFilter
}

func (t PriorityTrigger) Type() TriggerType       { return TriggerPriority }
func (t PriorityTrigger) Filter() ConditionFilter { return t.Conditions }

// TimeDelayTrigger fires once per approved request older than Delay
type TimeDelayTrigger struct {
	Conditions ConditionFilter
	Delay      time.Duration
}

func (t TimeDelayTrigger) Type() TriggerType       { return TriggerTimeDelay }
func (t TimeDelayTrigger) Filter() ConditionFilter { return t.Conditions }

// ScheduledTrigger fires once per matching request at the daily sweep
type ScheduledTrigger struct {
	Conditions ConditionFilter
	At         TimeOfDay
}

func (t ScheduledTrigger) Type() TriggerType       { return TriggerScheduled }
func (t ScheduledTrigger) Filter() ConditionFilter { return t.Conditions }

// ParseTrigger decodes raw conditions for the given trigger type. Any bad
// enum value, time format or missing required field is an error.
func ParseTrigger(triggerType TriggerType, raw json.RawMessage) (Trigger, error) {
	var conds TriggerConditions
	if len(raw) > 0 && string(raw) != "null" {
		if err := json.Unmarshal(raw, &conds); err != nil {
			return nil, fmt.Errorf("malformed trigger conditions: %w", err)
		}
	}

	filter, err := conds.filter()
	if err != nil {
		return nil, err
	}

	switch triggerType {
	case TriggerApproval:
		return ApprovalTrigger{Conditions: filter}, nil
	case TriggerPriority:
		return PriorityTrigger{Conditions: filter}, nil
	case TriggerTimeDelay:
		if conds.DelayMinutes == nil || *conds.DelayMinutes <= 0 {
			return nil, fmt.Errorf("time_delay trigger requires a positive delay_minutes")
		}
		return TimeDelayTrigger{
			Conditions: filter,
			Delay:      time.Duration(*conds.DelayMinutes) * time.Minute,
		}, nil
	case TriggerScheduled:
		if conds.ScheduleTime == nil {
			return nil, fmt.Errorf("scheduled trigger requires schedule_time")
		}
		at, err := ParseTimeOfDay(*conds.ScheduleTime)
		if err != nil {
			return nil, err
		}
		return ScheduledTrigger{Conditions: filter, At: at}, nil
	}
	return nil, fmt.Errorf("invalid trigger type %q", triggerType)
}

func (c TriggerConditions) filter() (ConditionFilter, error) {
	var f ConditionFilter
	for _, s := range c.Status {
		st, err := ParseRequestStatus(s)
		if err != nil {
			return ConditionFilter{}, err
		}
		f.Statuses = append(f.Statuses, st)
	}
	for _, p := range c.Priority {
		pr, err := ParsePriority(p)
		if err != nil {
			return ConditionFilter{}, err
		}
		f.Priorities = append(f.Priorities, pr)
	}
	f.Categories = append(f.Categories, c.Category...)
	return f, nil
}

// TimeOfDay is a wall clock HH:MM
type TimeOfDay struct {
	Hour   int
	Minute int
}

// ParseTimeOfDay parses a strict HH:MM string
func ParseTimeOfDay(s string) (TimeOfDay, error) {
	t, err := time.Parse("15:04", s)
	if err != nil || len(s) != 5 {
		return TimeOfDay{}, fmt.Errorf("invalid time %q: expected HH:MM", s)
	}
	return TimeOfDay{Hour: t.Hour(), Minute: t.Minute()}, nil
}

// String formats the time as HH:MM
func (t TimeOfDay) String() string {
	return fmt.Sprintf("%02d:%02d", t.Hour, t.Minute)
}

// On returns the instant of t on now's calendar day in now's location
func (t TimeOfDay) On(now time.Time) time.Time {
	y, m, d := now.Date()
	return time.Date(y, m, d, t.Hour, t.Minute, 0, 0, now.Location())
}

// Next returns the next occurrence of t that is not before now: today if it
// has not yet passed, otherwise tomorrow
func (t TimeOfDay) Next(now time.Time) time.Time {
	today := t.On(now)
	if today.Before(now) {
		return today.AddDate(0, 0, 1)
	}
	return today
}
