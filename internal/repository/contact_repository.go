package repository

import (
	"context"
	"database/sql"
	"fmt"

	"prayerflow/internal/models"
)

type contactRepository struct {
	db *sql.DB
}

// NewContactRepository creates a new contact repository
func NewContactRepository(db *sql.DB) ContactRepository {
	return &contactRepository{db: db}
}

const contactColumns = `id, full_name, email, phone, preferred_contact, status, total_requests, last_contact_date, created_at`

func scanContact(row rowScanner) (*models.Contact, error) {
	contact := &models.Contact{}
	err := row.Scan(
		&contact.ID,
		&contact.FullName,
		&contact.Email,
		&contact.Phone,
		&contact.PreferredContact,
		&contact.Status,
		&contact.TotalRequests,
		&contact.LastContactDate,
		&contact.CreatedAt,
	)
	return contact, err
}

// GetByID retrieves a contact by ID
func (r *contactRepository) GetByID(ctx context.Context, id int) (*models.Contact, error) {
	query := `SELECT ` + contactColumns + ` FROM contacts WHERE id = $1`

	contact, err := scanContact(r.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("contact %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get contact: %w", err)
	}

	return contact, nil
}
