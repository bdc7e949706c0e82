package migrations

import (
	"context"
	"database/sql"
	"fmt"
)

// SampleResult counts what SeedSample inserted
type SampleResult struct {
	Contacts int
	Requests int
	Rules    int
}

// Sample contacts use the email pattern miembro%03d@ejemplo.org so ClearSample
// can find them again
const sampleEmailPattern = "miembro%03d@ejemplo.org"

var (
	sampleNames = []string{
		"María García", "José Martínez", "Ana López", "Carlos Hernández", "Lucía Gómez",
		"Pedro Sánchez", "Carmen Díaz", "Juan Torres", "Rosa Ramírez", "Miguel Flores",
	}
	sampleRequests = []struct {
		category string
		priority string
		message  string
	}{
		{"Familia", "normal", "Oro por la unidad de mi familia."},
		{"Salud", "high", "Oro por la salud de mi madre que está enferma."},
		{"Finanzas", "normal", "Pido oración por un nuevo empleo."},
		{"Salud", "urgent", "Mi hijo tiene una cirugía mañana."},
		{"Espiritual", "low", "Quiero crecer en mi fe."},
	}
)

// SeedSample inserts sample contacts, one prayer request per contact and two
// sample rules. Running it twice does not duplicate contacts or rules.
func SeedSample(ctx context.Context, db *sql.DB, contacts int) (*SampleResult, error) {
	result := &SampleResult{}

	for i := 1; i <= contacts; i++ {
		email := fmt.Sprintf(sampleEmailPattern, i)

		var phone *string
		// every third contact is email-only
		if i%3 != 0 {
			p := fmt.Sprintf("+3460000%04d", i)
			phone = &p
		}
		preferred := "email"
		if i%2 == 0 && phone != nil {
			preferred = "whatsapp"
		}

		var contactID int
		err := db.QueryRowContext(ctx, `
			INSERT INTO contacts (full_name, email, phone, preferred_contact)
			SELECT $1, $2, $3, $4
			WHERE NOT EXISTS (SELECT 1 FROM contacts WHERE email = $2)
			RETURNING id
		`, sampleNames[(i-1)%len(sampleNames)], email, phone, preferred).Scan(&contactID)
		if err == sql.ErrNoRows {
			continue
		}
		if err != nil {
			return result, fmt.Errorf("failed to insert contact %s: %w", email, err)
		}
		result.Contacts++

		req := sampleRequests[(i-1)%len(sampleRequests)]
		status := "approved"
		if i%4 == 0 {
			status = "pending"
		}
		_, err = db.ExecContext(ctx, `
			INSERT INTO prayer_requests (contact_id, category_id, priority, status, message)
			SELECT $1, c.id, $2, $3, $4 FROM prayer_categories c WHERE c.name = $5
		`, contactID, req.priority, status, req.message, req.category)
		if err != nil {
			return result, fmt.Errorf("failed to insert prayer request for %s: %w", email, err)
		}
		result.Requests++
	}

	rules := []struct {
		name, description, trigger, conditions, actions string
	}{
		{
			name:        "Respuesta inmediata al aprobar",
			description: "Envía la plantilla de la categoría cuando se aprueba una petición",
			trigger:     "approval",
			conditions:  `{"status":["approved"]}`,
			actions:     `[{"type":"send_message","config":{"message_type":"all"}}]`,
		},
		{
			name:        "Seguimiento a las 24 horas",
			description: "Mensaje de seguimiento por el canal preferido",
			trigger:     "time_delay",
			conditions:  `{"delay_minutes":1440}`,
			actions:     `[{"type":"send_message","config":{"preferred_only":true}}]`,
		},
	}
	for _, rule := range rules {
		res, err := db.ExecContext(ctx, `
			INSERT INTO automation_rules (name, description, trigger_type, trigger_conditions, actions)
			SELECT $1, $2, $3, $4::jsonb, $5::jsonb
			WHERE NOT EXISTS (SELECT 1 FROM automation_rules WHERE name = $1)
		`, rule.name, rule.description, rule.trigger, rule.conditions, rule.actions)
		if err != nil {
			return result, fmt.Errorf("failed to insert rule %s: %w", rule.name, err)
		}
		if n, _ := res.RowsAffected(); n > 0 {
			result.Rules++
		}
	}

	return result, nil
}

// ClearSample removes the sample contacts, which cascades to their requests
// and queued messages
func ClearSample(ctx context.Context, db *sql.DB) (int64, error) {
	res, err := db.ExecContext(ctx, `DELETE FROM contacts WHERE email LIKE 'miembro%@ejemplo.org'`)
	if err != nil {
		return 0, fmt.Errorf("failed to clear sample contacts: %w", err)
	}
	return res.RowsAffected()
}
