// Package migrations applies the embedded schema and seed SQL files.
package migrations

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"regexp"
	"sort"
	"strconv"
	"time"
)

//go:embed sql/*.sql
var schemaFS embed.FS

//go:embed seed/*.sql
var seedFS embed.FS

// Schema files are 001_name.up.sql with a matching 001_name.down.sql
var (
	schemaPattern = regexp.MustCompile(`^(\d{3})_(.+)\.up\.sql$`)
	seedPattern   = regexp.MustCompile(`^(\d{3})_(.+)\.sql$`)
)

// Migration represents a database migration
type Migration struct {
	Version   int
	Name      string
	Applied   bool
	AppliedAt *time.Time
	up        string
	down      string
}

// Migrator applies and rolls back the embedded migrations, tracking them in
// schema_migrations
type Migrator struct {
	db     *sql.DB
	schema fs.FS
	seeds  fs.FS
}

// New creates a migrator over the embedded files
func New(db *sql.DB) *Migrator {
	return &Migrator{db: db, schema: schemaFS, seeds: seedFS}
}

// NewWithFS creates a migrator reading from the given file systems. Both must
// hold their files under sql/ and seed/ respectively.
func NewWithFS(db *sql.DB, schema, seeds fs.FS) *Migrator {
	return &Migrator{db: db, schema: schema, seeds: seeds}
}

// EnsureTable creates the schema_migrations tracking table
func (m *Migrator) EnsureTable(ctx context.Context) error {
	query := `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INT PRIMARY KEY,
			name VARCHAR(255) NOT NULL,
			applied_at TIMESTAMPTZ DEFAULT CURRENT_TIMESTAMP
		)
	`
	if _, err := m.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("failed to create schema_migrations table: %w", err)
	}
	return nil
}

// Available lists the embedded schema migrations sorted by version
func (m *Migrator) Available() ([]Migration, error) {
	entries, err := fs.ReadDir(m.schema, "sql")
	if err != nil {
		return nil, fmt.Errorf("failed to read migrations: %w", err)
	}

	var migrations []Migration
	for _, entry := range entries {
		matches := schemaPattern.FindStringSubmatch(entry.Name())
		if len(matches) != 3 {
			continue
		}
		version, _ := strconv.Atoi(matches[1])

		up, err := fs.ReadFile(m.schema, "sql/"+entry.Name())
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", entry.Name(), err)
		}
		downName := fmt.Sprintf("sql/%s_%s.down.sql", matches[1], matches[2])
		down, err := fs.ReadFile(m.schema, downName)
		if err != nil {
			return nil, fmt.Errorf("migration %03d has no down file: %w", version, err)
		}

		migrations = append(migrations, Migration{
			Version: version,
			Name:    matches[2],
			up:      string(up),
			down:    string(down),
		})
	}

	sort.Slice(migrations, func(i, j int) bool {
		return migrations[i].Version < migrations[j].Version
	})
	return migrations, nil
}

// Applied returns the applied migrations keyed by version
func (m *Migrator) Applied(ctx context.Context) (map[int]Migration, error) {
	rows, err := m.db.QueryContext(ctx, `SELECT version, name, applied_at FROM schema_migrations ORDER BY version`)
	if err != nil {
		return nil, fmt.Errorf("failed to query applied migrations: %w", err)
	}
	defer rows.Close()

	applied := make(map[int]Migration)
	for rows.Next() {
		var mig Migration
		if err := rows.Scan(&mig.Version, &mig.Name, &mig.AppliedAt); err != nil {
			return nil, fmt.Errorf("failed to scan migration row: %w", err)
		}
		mig.Applied = true
		applied[mig.Version] = mig
	}
	return applied, rows.Err()
}

// Status merges available and applied migrations
func (m *Migrator) Status(ctx context.Context) ([]Migration, error) {
	available, err := m.Available()
	if err != nil {
		return nil, err
	}
	applied, err := m.Applied(ctx)
	if err != nil {
		return nil, err
	}
	for i := range available {
		if a, ok := applied[available[i].Version]; ok {
			available[i].Applied = true
			available[i].AppliedAt = a.AppliedAt
		}
	}
	return available, nil
}

// Up applies every pending migration in order and returns the ones applied
func (m *Migrator) Up(ctx context.Context) ([]Migration, error) {
	status, err := m.Status(ctx)
	if err != nil {
		return nil, err
	}

	var done []Migration
	for _, mig := range status {
		if mig.Applied {
			continue
		}
		err := m.inTx(ctx, mig.up, `INSERT INTO schema_migrations (version, name) VALUES ($1, $2)`, mig.Version, mig.Name)
		if err != nil {
			return done, fmt.Errorf("failed to apply migration %03d_%s: %w", mig.Version, mig.Name, err)
		}
		done = append(done, mig)
	}
	return done, nil
}

// Down rolls back the most recently applied migration. It returns nil when
// nothing is applied.
func (m *Migrator) Down(ctx context.Context) (*Migration, error) {
	status, err := m.Status(ctx)
	if err != nil {
		return nil, err
	}

	for i := len(status) - 1; i >= 0; i-- {
		mig := status[i]
		if !mig.Applied {
			continue
		}
		err := m.inTx(ctx, mig.down, `DELETE FROM schema_migrations WHERE version = $1`, mig.Version)
		if err != nil {
			return nil, fmt.Errorf("failed to rollback migration %03d_%s: %w", mig.Version, mig.Name, err)
		}
		return &mig, nil
	}
	return nil, nil
}

// Reset rolls back every applied migration and reapplies all of them
func (m *Migrator) Reset(ctx context.Context) ([]Migration, error) {
	for {
		mig, err := m.Down(ctx)
		if err != nil {
			return nil, err
		}
		if mig == nil {
			break
		}
	}
	return m.Up(ctx)
}

// Seed runs every seed file. Seed files are idempotent and untracked.
func (m *Migrator) Seed(ctx context.Context) ([]string, error) {
	entries, err := fs.ReadDir(m.seeds, "seed")
	if err != nil {
		return nil, fmt.Errorf("failed to read seeds: %w", err)
	}

	var names []string
	for _, entry := range entries {
		if !seedPattern.MatchString(entry.Name()) {
			continue
		}
		names = append(names, entry.Name())
	}
	sort.Strings(names)

	for _, name := range names {
		content, err := fs.ReadFile(m.seeds, "seed/"+name)
		if err != nil {
			return nil, fmt.Errorf("failed to read seed %s: %w", name, err)
		}
		if _, err := m.db.ExecContext(ctx, string(content)); err != nil {
			return nil, fmt.Errorf("failed to execute seed %s: %w", name, err)
		}
	}
	return names, nil
}

// inTx runs a migration body and its bookkeeping statement in one transaction
func (m *Migrator) inTx(ctx context.Context, body, record string, args ...interface{}) error {
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, body); err != nil {
		return fmt.Errorf("failed to execute migration SQL: %w", err)
	}
	if _, err := tx.ExecContext(ctx, record, args...); err != nil {
		return fmt.Errorf("failed to record migration: %w", err)
	}
	return tx.Commit()
}
