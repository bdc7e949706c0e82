package service

import (
	"fmt"
	"sort"
	"time"

	"prayerflow/internal/models"
)

// MatchKind identifies what caused an evaluation
type MatchKind string

const (
	MatchRequestCreated  = MatchKind(models.EventRequestCreated)
	MatchRequestApproved = MatchKind(models.EventRequestApproved)
	MatchPriorityChanged = MatchKind(models.EventPriorityChanged)
	MatchTimeDelaySweep  MatchKind = "time_delay_sweep"
	MatchScheduledSweep  MatchKind = "scheduled_sweep"
)

// TriggerTypes returns the rule trigger types a kind of evaluation considers
func (k MatchKind) TriggerTypes() []models.TriggerType {
	switch k {
	case MatchRequestApproved:
		return []models.TriggerType{models.TriggerApproval}
	case MatchRequestCreated, MatchPriorityChanged:
		return []models.TriggerType{models.TriggerPriority}
	case MatchTimeDelaySweep:
		return []models.TriggerType{models.TriggerTimeDelay}
	case MatchScheduledSweep:
		return []models.TriggerType{models.TriggerScheduled}
	}
	return nil
}

// FireIntent is a decision that one rule fires for one request
type FireIntent struct {
	Rule        *models.AutomationRule
	Trigger     models.Trigger
	Request     *models.PrayerRequest
	EvaluatedAt time.Time
}

// RuleError reports a rule that could not be evaluated
type RuleError struct {
	RuleID int
	Err    error
}

func (e RuleError) Error() string {
	return fmt.Sprintf("rule %d: %v", e.RuleID, e.Err)
}

// RuleMatcher decides which rules fire. It has no side effects.
type RuleMatcher struct{}

// NewRuleMatcher creates a new rule matcher
func NewRuleMatcher() *RuleMatcher {
	return &RuleMatcher{}
}

// Evaluate returns the intents for every active rule matching the request,
// in rule creation order. Rules with malformed conditions are reported
// separately and never match.
func (m *RuleMatcher) Evaluate(kind MatchKind, req *models.PrayerRequest, rules []*models.AutomationRule, now time.Time) ([]FireIntent, []RuleError) {
	ordered := make([]*models.AutomationRule, len(rules))
	copy(ordered, rules)
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].ID < ordered[j].ID })

	var (
		intents []FireIntent
		errs    []RuleError
	)
	for _, rule := range ordered {
		if !rule.IsActive {
			continue
		}
		trigger, err := rule.Trigger()
		if err != nil {
			errs = append(errs, RuleError{RuleID: rule.ID, Err: err})
			continue
		}
		if m.Matches(kind, trigger, req, now) {
			intents = append(intents, FireIntent{
				Rule:        rule,
				Trigger:     trigger,
				Request:     req,
				EvaluatedAt: now,
			})
		}
	}
	return intents, errs
}

// Matches reports whether a single trigger fires for the request under kind.
// The fired-marker check for sweeps is the caller's job.
func (m *RuleMatcher) Matches(kind MatchKind, trigger models.Trigger, req *models.PrayerRequest, now time.Time) bool {
	switch t := trigger.(type) {
	case models.ApprovalTrigger:
		return kind == MatchRequestApproved && req.IsApproved() && t.Conditions.Matches(req)
	case models.PriorityTrigger:
		return (kind == MatchRequestCreated || kind == MatchPriorityChanged) && t.Conditions.Matches(req)
	case models.TimeDelayTrigger:
		return kind == MatchTimeDelaySweep && req.IsApproved() &&
			req.Age(now) >= t.Delay && t.Conditions.Matches(req)
	case models.ScheduledTrigger:
		return kind == MatchScheduledSweep && t.Conditions.Matches(req)
	}
	return false
}

// MatchesConditions checks the trigger's filters without any timing or event
// requirement. Approval and time_delay triggers still require an approved request.
func (m *RuleMatcher) MatchesConditions(trigger models.Trigger, req *models.PrayerRequest) bool {
	switch trigger.(type) {
	case models.ApprovalTrigger, models.TimeDelayTrigger:
		if !req.IsApproved() {
			return false
		}
	}
	return trigger.Filter().Matches(req)
}
