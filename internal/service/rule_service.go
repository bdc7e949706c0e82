package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"prayerflow/internal/models"
	"prayerflow/internal/repository"

	"go.uber.org/zap"
)

// RuleService handles automation rule administration
type RuleService struct {
	ruleRepo repository.RuleRepository
	logger   *zap.Logger
}

// NewRuleService creates a new rule service
func NewRuleService(ruleRepo repository.RuleRepository, logger *zap.Logger) *RuleService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RuleService{ruleRepo: ruleRepo, logger: logger}
}

// CreateRule validates and stores a new rule
func (s *RuleService) CreateRule(ctx context.Context, req *RuleRequest) (*models.AutomationRule, error) {
	rule := req.toModel()
	if err := rule.Validate(); err != nil {
		return nil, &ValidationError{Message: err.Error()}
	}

	if err := s.ruleRepo.Create(ctx, rule); err != nil {
		return nil, fmt.Errorf("failed to create rule: %w", err)
	}

	s.logger.Info("Automation rule created", zap.Int("rule_id", rule.ID), zap.String("trigger_type", string(rule.TriggerType)))
	return rule, nil
}

// GetRule retrieves a rule by ID
func (s *RuleService) GetRule(ctx context.Context, id int) (*models.AutomationRule, error) {
	rule, err := s.ruleRepo.GetByID(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, &NotFoundError{Resource: "automation rule", ID: id}
	}
	if err != nil {
		return nil, err
	}
	return rule, nil
}

// ListRules lists rules in creation order
func (s *RuleService) ListRules(ctx context.Context, activeOnly bool) ([]*models.AutomationRule, error) {
	rules, err := s.ruleRepo.List(ctx, activeOnly)
	if err != nil {
		return nil, fmt.Errorf("failed to list rules: %w", err)
	}
	return rules, nil
}

// UpdateRule replaces the operator-editable fields of a rule. The caller's
// version must match the stored one.
func (s *RuleService) UpdateRule(ctx context.Context, id int, req *RuleRequest) (*models.AutomationRule, error) {
	if req.Version == nil {
		return nil, &ValidationError{Message: "version is required"}
	}

	existing, err := s.GetRule(ctx, id)
	if err != nil {
		return nil, err
	}

	rule := req.toModel()
	rule.ID = id
	rule.Version = *req.Version
	if err := rule.Validate(); err != nil {
		return nil, &ValidationError{Message: err.Error()}
	}

	if err := s.ruleRepo.Update(ctx, rule); err != nil {
		return nil, s.mapWriteError(id, err)
	}

	rule.Stats = existing.Stats
	rule.CreatedAt = existing.CreatedAt
	s.logger.Info("Automation rule updated", zap.Int("rule_id", id), zap.Int("version", rule.Version))
	return rule, nil
}

// ToggleRule activates or deactivates a rule. When version is nil the
// current version is used.
func (s *RuleService) ToggleRule(ctx context.Context, id int, isActive bool, version *int) (*models.AutomationRule, error) {
	rule, err := s.GetRule(ctx, id)
	if err != nil {
		return nil, err
	}

	expected := rule.Version
	if version != nil {
		expected = *version
	}

	newVersion, err := s.ruleRepo.SetActive(ctx, id, isActive, expected)
	if err != nil {
		return nil, s.mapWriteError(id, err)
	}

	rule.IsActive = isActive
	rule.Version = newVersion
	s.logger.Info("Automation rule toggled", zap.Int("rule_id", id), zap.Bool("is_active", isActive))
	return rule, nil
}

func (s *RuleService) mapWriteError(id int, err error) error {
	switch {
	case errors.Is(err, repository.ErrNotFound):
		return &NotFoundError{Resource: "automation rule", ID: id}
	case errors.Is(err, repository.ErrVersionConflict):
		return &ConcurrencyConflict{Resource: "automation rule", ID: id, Message: "rule was modified by someone else; reload and retry"}
	}
	return fmt.Errorf("failed to update rule: %w", err)
}

// Request/Response types

// RuleRequest represents a request to create or update a rule
type RuleRequest struct {
	Name              string              `json:"name"`
	Description       string              `json:"description"`
	IsActive          *bool               `json:"is_active,omitempty"`
	TriggerType       models.TriggerType  `json:"trigger_type"`
	TriggerConditions json.RawMessage     `json:"trigger_conditions"`
	Actions           []models.RuleAction `json:"actions"`
	Version           *int                `json:"version,omitempty"`
}

func (r *RuleRequest) toModel() *models.AutomationRule {
	active := true
	if r.IsActive != nil {
		active = *r.IsActive
	}
	return &models.AutomationRule{
		Name:              r.Name,
		Description:       r.Description,
		IsActive:          active,
		TriggerType:       r.TriggerType,
		TriggerConditions: r.TriggerConditions,
		Actions:           r.Actions,
	}
}

// ToggleRuleRequest represents a request to activate or deactivate a rule
type ToggleRuleRequest struct {
	IsActive *bool `json:"is_active"`
	Version  *int  `json:"version,omitempty"`
}
