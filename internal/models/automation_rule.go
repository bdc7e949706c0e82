package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// TriggerType represents the condition class under which a rule considers firing
type TriggerType string

const (
	TriggerApproval  TriggerType = "approval"
	TriggerTimeDelay TriggerType = "time_delay"
	TriggerScheduled TriggerType = "scheduled"
	TriggerPriority  TriggerType = "priority"
)

// ActionType represents what a rule does when it fires
type ActionType string

const (
	ActionSendMessage    ActionType = "send_message"
	ActionUpdateStatus   ActionType = "update_status"
	ActionAssignTag      ActionType = "assign_tag"
	ActionCreateFollowup ActionType = "create_followup"
)

// ActionConfig holds the settings of a rule action. Only the send_message
// fields are interpreted by the engine.
type ActionConfig struct {
	TemplateID    *int    `json:"template_id,omitempty"`
	MessageType   Channel `json:"message_type,omitempty"`
	DelayMinutes  int     `json:"delay_minutes,omitempty"`
	PreferredOnly bool    `json:"preferred_only,omitempty"`
	Status        string  `json:"status,omitempty"`
	Tag           string  `json:"tag,omitempty"`
}

// RuleAction is a single action of an automation rule
type RuleAction struct {
	Type   ActionType   `json:"type"`
	Config ActionConfig `json:"config"`
}

// RuleStats holds engine-maintained execution counters
type RuleStats struct {
	TotalRuns       int        `json:"total_runs" db:"total_runs"`
	SuccessRuns     int        `json:"success_runs" db:"success_runs"`
	LastRun         *time.Time `json:"last_run,omitempty" db:"last_run"`
	AvgResponseTime float64    `json:"avg_response_time" db:"avg_response_time"`
}

// AutomationRule represents an operator-defined automation rule.
// TriggerConditions is kept raw so that a malformed row can still be loaded;
// use Trigger to obtain the typed form.
type AutomationRule struct {
	ID                int             `json:"id" db:"id"`
	Name              string          `json:"name" db:"name"`
	Description       string          `json:"description" db:"description"`
	IsActive          bool            `json:"is_active" db:"is_active"`
	TriggerType       TriggerType     `json:"trigger_type" db:"trigger_type"`
	TriggerConditions json.RawMessage `json:"trigger_conditions" db:"trigger_conditions"`
	Actions           []RuleAction    `json:"actions" db:"actions"`
	Stats             RuleStats       `json:"stats"`
	Version           int             `json:"version" db:"version"`
	CreatedAt         time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt         time.Time       `json:"updated_at" db:"updated_at"`
}

// Trigger decodes the rule's trigger conditions into their typed variant
func (r *AutomationRule) Trigger() (Trigger, error) {
	return ParseTrigger(r.TriggerType, r.TriggerConditions)
}

// SuccessRate returns successRuns / totalRuns as a percentage
func (r *AutomationRule) SuccessRate() float64 {
	if r.Stats.TotalRuns == 0 {
		return 0
	}
	return float64(r.Stats.SuccessRuns) / float64(r.Stats.TotalRuns) * 100
}

// Validate checks if the rule fields are valid
func (r *AutomationRule) Validate() error {
	if r.Name == "" {
		return fmt.Errorf("rule name is required")
	}
	if _, err := r.Trigger(); err != nil {
		return err
	}
	if len(r.Actions) == 0 {
		return fmt.Errorf("at least one action is required")
	}
	for i, action := range r.Actions {
		switch action.Type {
		case ActionSendMessage:
			if action.Config.MessageType != "" {
				if _, err := ParseChannel(string(action.Config.MessageType)); err != nil {
					return fmt.Errorf("action %d: %w", i, err)
				}
			}
			if action.Config.DelayMinutes < 0 {
				return fmt.Errorf("action %d: delay_minutes cannot be negative", i)
			}
		case ActionUpdateStatus, ActionAssignTag, ActionCreateFollowup:
		default:
			return fmt.Errorf("action %d: invalid action type %q", i, action.Type)
		}
	}
	return nil
}
