package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"prayerflow/internal/models"

	"github.com/lib/pq"
)

type ruleRepository struct {
	db *sql.DB
}

// NewRuleRepository creates a new automation rule repository
func NewRuleRepository(db *sql.DB) RuleRepository {
	return &ruleRepository{db: db}
}

const ruleColumns = `id, name, description, is_active, trigger_type, trigger_conditions, actions,
	total_runs, success_runs, last_run, avg_response_time, version, created_at, updated_at`

func scanRule(row rowScanner) (*models.AutomationRule, error) {
	rule := &models.AutomationRule{}
	var conditions, actions []byte
	err := row.Scan(
		&rule.ID,
		&rule.Name,
		&rule.Description,
		&rule.IsActive,
		&rule.TriggerType,
		&conditions,
		&actions,
		&rule.Stats.TotalRuns,
		&rule.Stats.SuccessRuns,
		&rule.Stats.LastRun,
		&rule.Stats.AvgResponseTime,
		&rule.Version,
		&rule.CreatedAt,
		&rule.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	rule.TriggerConditions = json.RawMessage(conditions)
	if len(actions) > 0 {
		if err := json.Unmarshal(actions, &rule.Actions); err != nil {
			return nil, fmt.Errorf("rule %d has malformed actions: %w", rule.ID, err)
		}
	}
	return rule, nil
}

func (r *ruleRepository) queryRules(ctx context.Context, query string, args ...interface{}) ([]*models.AutomationRule, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list rules: %w", err)
	}
	defer rows.Close()

	rules := []*models.AutomationRule{}
	for rows.Next() {
		rule, err := scanRule(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan rule: %w", err)
		}
		rules = append(rules, rule)
	}

	return rules, rows.Err()
}

func conditionsOrEmpty(raw json.RawMessage) []byte {
	if len(raw) == 0 {
		return []byte("{}")
	}
	return raw
}

// Create creates a new automation rule at version 1 with zeroed stats
func (r *ruleRepository) Create(ctx context.Context, rule *models.AutomationRule) error {
	actions, err := json.Marshal(rule.Actions)
	if err != nil {
		return fmt.Errorf("failed to encode actions: %w", err)
	}

	query := `
		INSERT INTO automation_rules (name, description, is_active, trigger_type, trigger_conditions, actions)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, version, created_at, updated_at
	`

	err = r.db.QueryRowContext(
		ctx,
		query,
		rule.Name,
		rule.Description,
		rule.IsActive,
		rule.TriggerType,
		conditionsOrEmpty(rule.TriggerConditions),
		actions,
	).Scan(&rule.ID, &rule.Version, &rule.CreatedAt, &rule.UpdatedAt)

	if err != nil {
		return fmt.Errorf("failed to create rule: %w", err)
	}

	rule.Stats = models.RuleStats{}
	return nil
}

// GetByID retrieves a rule by ID
func (r *ruleRepository) GetByID(ctx context.Context, id int) (*models.AutomationRule, error) {
	query := `SELECT ` + ruleColumns + ` FROM automation_rules WHERE id = $1`

	rule, err := scanRule(r.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("rule %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get rule: %w", err)
	}

	return rule, nil
}

// List retrieves rules in creation order
func (r *ruleRepository) List(ctx context.Context, activeOnly bool) ([]*models.AutomationRule, error) {
	query := `SELECT ` + ruleColumns + ` FROM automation_rules WHERE ($1 = false OR is_active) ORDER BY id ASC`
	return r.queryRules(ctx, query, activeOnly)
}

// ListActiveByTrigger retrieves active rules of the given trigger types in creation order
func (r *ruleRepository) ListActiveByTrigger(ctx context.Context, triggerTypes ...models.TriggerType) ([]*models.AutomationRule, error) {
	types := make([]string, len(triggerTypes))
	for i, t := range triggerTypes {
		types[i] = string(t)
	}

	query := `SELECT ` + ruleColumns + ` FROM automation_rules WHERE is_active AND trigger_type = ANY($1) ORDER BY id ASC`
	return r.queryRules(ctx, query, pq.Array(types))
}

// Update overwrites the operator-editable fields when rule.Version matches
// the stored version. On success rule.Version holds the new version.
func (r *ruleRepository) Update(ctx context.Context, rule *models.AutomationRule) error {
	actions, err := json.Marshal(rule.Actions)
	if err != nil {
		return fmt.Errorf("failed to encode actions: %w", err)
	}

	query := `
		UPDATE automation_rules
		SET name = $1, description = $2, is_active = $3, trigger_type = $4,
		    trigger_conditions = $5, actions = $6,
		    version = version + 1, updated_at = CURRENT_TIMESTAMP
		WHERE id = $7 AND version = $8
		RETURNING version, updated_at
	`

	err = r.db.QueryRowContext(
		ctx,
		query,
		rule.Name,
		rule.Description,
		rule.IsActive,
		rule.TriggerType,
		conditionsOrEmpty(rule.TriggerConditions),
		actions,
		rule.ID,
		rule.Version,
	).Scan(&rule.Version, &rule.UpdatedAt)

	if err == sql.ErrNoRows {
		return r.missingOrConflict(ctx, rule.ID)
	}
	if err != nil {
		return fmt.Errorf("failed to update rule: %w", err)
	}

	return nil
}

// SetActive toggles a rule under the optimistic version check and returns the new version
func (r *ruleRepository) SetActive(ctx context.Context, id int, isActive bool, version int) (int, error) {
	query := `
		UPDATE automation_rules
		SET is_active = $1, version = version + 1, updated_at = CURRENT_TIMESTAMP
		WHERE id = $2 AND version = $3
		RETURNING version
	`

	var newVersion int
	err := r.db.QueryRowContext(ctx, query, isActive, id, version).Scan(&newVersion)
	if err == sql.ErrNoRows {
		return 0, r.missingOrConflict(ctx, id)
	}
	if err != nil {
		return 0, fmt.Errorf("failed to toggle rule: %w", err)
	}

	return newVersion, nil
}

func (r *ruleRepository) missingOrConflict(ctx context.Context, id int) error {
	var exists bool
	err := r.db.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM automation_rules WHERE id = $1)`, id).Scan(&exists)
	if err != nil {
		return fmt.Errorf("failed to check rule: %w", err)
	}
	if !exists {
		return fmt.Errorf("rule %d: %w", id, ErrNotFound)
	}
	return fmt.Errorf("rule %d: %w", id, ErrVersionConflict)
}

// RecordRun applies one evaluation to the rule's stats with in-row arithmetic
// so that concurrent evaluations never lose an increment. The version column
// is left alone; stats are not operator edits.
func (r *ruleRepository) RecordRun(ctx context.Context, ruleID int, success bool, ranAt time.Time, responseSeconds float64) error {
	query := `
		UPDATE automation_rules
		SET total_runs = total_runs + 1,
		    success_runs = success_runs + CASE WHEN $2 THEN 1 ELSE 0 END,
		    last_run = $3,
		    avg_response_time = (avg_response_time * total_runs + $4) / (total_runs + 1)
		WHERE id = $1
	`

	result, err := r.db.ExecContext(ctx, query, ruleID, success, ranAt, responseSeconds)
	if err != nil {
		return fmt.Errorf("failed to record rule run: %w", err)
	}

	return checkAffected(result, fmt.Errorf("rule %d: %w", ruleID, ErrNotFound))
}

// MarkFired claims the (rule, request) pair. It returns false when another
// evaluation already fired the rule for this request.
func (r *ruleRepository) MarkFired(ctx context.Context, ruleID, prayerRequestID int, firedAt time.Time) (bool, error) {
	query := `
		INSERT INTO automation_rule_firings (rule_id, prayer_request_id, fired_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (rule_id, prayer_request_id) DO NOTHING
	`

	result, err := r.db.ExecContext(ctx, query, ruleID, prayerRequestID, firedAt)
	if err != nil {
		return false, fmt.Errorf("failed to mark rule fired: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}

	return rows == 1, nil
}

// UnmarkFired removes a firing marker so a later sweep can fire the pair again
func (r *ruleRepository) UnmarkFired(ctx context.Context, ruleID, prayerRequestID int) error {
	query := `DELETE FROM automation_rule_firings WHERE rule_id = $1 AND prayer_request_id = $2`

	if _, err := r.db.ExecContext(ctx, query, ruleID, prayerRequestID); err != nil {
		return fmt.Errorf("failed to unmark rule firing: %w", err)
	}
	return nil
}
