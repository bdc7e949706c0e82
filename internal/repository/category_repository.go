package repository

import (
	"context"
	"database/sql"
	"fmt"

	"prayerflow/internal/models"
)

type categoryRepository struct {
	db *sql.DB
}

// NewCategoryRepository creates a new category repository
func NewCategoryRepository(db *sql.DB) CategoryRepository {
	return &categoryRepository{db: db}
}

// GetByID retrieves a category by ID
func (r *categoryRepository) GetByID(ctx context.Context, id int) (*models.Category, error) {
	category := &models.Category{}
	err := r.db.QueryRowContext(ctx, `SELECT id, name FROM prayer_categories WHERE id = $1`, id).
		Scan(&category.ID, &category.Name)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("category %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get category: %w", err)
	}
	return category, nil
}
