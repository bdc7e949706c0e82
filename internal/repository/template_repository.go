package repository

import (
	"context"
	"database/sql"
	"fmt"

	"prayerflow/internal/models"
)

type templateRepository struct {
	db *sql.DB
}

// NewTemplateRepository creates a new response template repository
func NewTemplateRepository(db *sql.DB) TemplateRepository {
	return &templateRepository{db: db}
}

const templateColumns = `id, name, subject, content, delivery_timing, delay_hours, scheduled_time,
	message_type, category_id, is_active, is_default, created_at`

func scanTemplate(row rowScanner) (*models.ResponseTemplate, error) {
	tmpl := &models.ResponseTemplate{}
	err := row.Scan(
		&tmpl.ID,
		&tmpl.Name,
		&tmpl.Subject,
		&tmpl.Content,
		&tmpl.DeliveryTiming,
		&tmpl.DelayHours,
		&tmpl.ScheduledTime,
		&tmpl.MessageType,
		&tmpl.CategoryID,
		&tmpl.IsActive,
		&tmpl.IsDefault,
		&tmpl.CreatedAt,
	)
	return tmpl, err
}

// GetByID retrieves a template by ID
func (r *templateRepository) GetByID(ctx context.Context, id int) (*models.ResponseTemplate, error) {
	query := `SELECT ` + templateColumns + ` FROM response_templates WHERE id = $1`

	tmpl, err := scanTemplate(r.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("template %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get template: %w", err)
	}

	return tmpl, nil
}

// ListActive retrieves every active template ordered by ID
func (r *templateRepository) ListActive(ctx context.Context) ([]*models.ResponseTemplate, error) {
	query := `SELECT ` + templateColumns + ` FROM response_templates WHERE is_active ORDER BY id ASC`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list templates: %w", err)
	}
	defer rows.Close()

	templates := []*models.ResponseTemplate{}
	for rows.Next() {
		tmpl, err := scanTemplate(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan template: %w", err)
		}
		templates = append(templates, tmpl)
	}

	return templates, rows.Err()
}
