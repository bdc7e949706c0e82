package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"prayerflow/internal/models"

	"github.com/lib/pq"
)

type prayerRequestRepository struct {
	db *sql.DB
}

// NewPrayerRequestRepository creates a new prayer request repository
func NewPrayerRequestRepository(db *sql.DB) PrayerRequestRepository {
	return &prayerRequestRepository{db: db}
}

func scanPrayerRequest(row rowScanner) (*models.PrayerRequest, error) {
	req := &models.PrayerRequest{}
	err := row.Scan(
		&req.ID,
		&req.ContactID,
		&req.CategoryID,
		&req.Priority,
		&req.Status,
		&req.Message,
		&req.CreatedAt,
	)
	return req, err
}

// GetByID retrieves a prayer request by ID
func (r *prayerRequestRepository) GetByID(ctx context.Context, id int) (*models.PrayerRequest, error) {
	query := `
		SELECT id, contact_id, category_id, priority, status, message, created_at
		FROM prayer_requests
		WHERE id = $1
	`

	req, err := scanPrayerRequest(r.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("prayer request %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get prayer request: %w", err)
	}

	return req, nil
}

// ListUnfired retrieves sweep candidates for a rule. Empty filter
// dimensions match everything. Paging is keyed on id so candidates a sweep
// skipped are not returned again within that sweep.
func (r *prayerRequestRepository) ListUnfired(ctx context.Context, ruleID int, filter models.ConditionFilter, createdBefore time.Time, afterID, limit int) ([]*models.PrayerRequest, error) {
	query := `
		SELECT p.id, p.contact_id, p.category_id, p.priority, p.status, p.message, p.created_at
		FROM prayer_requests p
		WHERE p.created_at <= $2
		  AND (cardinality($3::text[]) = 0 OR p.status = ANY($3))
		  AND (cardinality($4::text[]) = 0 OR p.priority = ANY($4))
		  AND (cardinality($5::int[]) = 0 OR p.category_id = ANY($5))
		  AND NOT EXISTS (
			SELECT 1 FROM automation_rule_firings f
			WHERE f.rule_id = $1 AND f.prayer_request_id = p.id
		  )
		  AND p.id > $7
		ORDER BY p.id ASC
		LIMIT $6
	`

	statuses := make([]string, len(filter.Statuses))
	for i, st := range filter.Statuses {
		statuses[i] = string(st)
	}
	priorities := make([]string, len(filter.Priorities))
	for i, p := range filter.Priorities {
		priorities[i] = string(p)
	}
	categories := filter.Categories
	if categories == nil {
		categories = []int{}
	}

	rows, err := r.db.QueryContext(ctx, query,
		ruleID,
		createdBefore,
		pq.Array(statuses),
		pq.Array(priorities),
		pq.Array(categories),
		limit,
		afterID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list unfired prayer requests: %w", err)
	}
	defer rows.Close()

	requests := []*models.PrayerRequest{}
	for rows.Next() {
		req, err := scanPrayerRequest(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan prayer request: %w", err)
		}
		requests = append(requests, req)
	}

	return requests, rows.Err()
}
