package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"strings"

	"prayerflow/internal/config"
	"prayerflow/internal/migrations"

	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	"github.com/spf13/cobra"
)

// ANSI color codes for terminal output
const (
	colorReset  = "\033[0m"
	colorRed    = "\033[31m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
	colorCyan   = "\033[36m"
	colorBold   = "\033[1m"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		printError(err.Error())
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "migrate",
		Short:         "PrayerFlow database migration runner",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	var (
		contacts int
		clearFirst bool
	)

	root.AddCommand(
		&cobra.Command{
			Use:   "up",
			Short: "Apply all pending migrations",
			RunE: withMigrator(func(ctx context.Context, m *migrations.Migrator, _ *sql.DB) error {
				applied, err := m.Up(ctx)
				for _, mig := range applied {
					printSuccess(fmt.Sprintf("  ✓ Migration %03d_%s applied", mig.Version, mig.Name))
				}
				if err != nil {
					return err
				}
				if len(applied) == 0 {
					printSuccess("✓ All migrations are up to date")
				}
				return nil
			}),
		},
		&cobra.Command{
			Use:   "down",
			Short: "Rollback the last applied migration",
			RunE: withMigrator(func(ctx context.Context, m *migrations.Migrator, _ *sql.DB) error {
				mig, err := m.Down(ctx)
				if err != nil {
					return err
				}
				if mig == nil {
					printWarning("No migrations to rollback")
					return nil
				}
				printSuccess(fmt.Sprintf("✓ Rolled back migration %03d_%s", mig.Version, mig.Name))
				return nil
			}),
		},
		&cobra.Command{
			Use:   "status",
			Short: "Show current migration status",
			RunE: withMigrator(func(ctx context.Context, m *migrations.Migrator, _ *sql.DB) error {
				status, err := m.Status(ctx)
				if err != nil {
					return err
				}
				printStatus(status)
				return nil
			}),
		},
		&cobra.Command{
			Use:   "reset",
			Short: "Rollback all migrations and reapply them",
			RunE: withMigrator(func(ctx context.Context, m *migrations.Migrator, _ *sql.DB) error {
				printWarning("Resetting database (rollback all + reapply all)...")
				applied, err := m.Reset(ctx)
				if err != nil {
					return err
				}
				printSuccess(fmt.Sprintf("✓ Reapplied %d migration(s)", len(applied)))
				return nil
			}),
		},
		&cobra.Command{
			Use:   "seed",
			Short: "Insert categories and the default response templates",
			RunE: withMigrator(func(ctx context.Context, m *migrations.Migrator, _ *sql.DB) error {
				names, err := m.Seed(ctx)
				if err != nil {
					return err
				}
				for _, name := range names {
					printSuccess("  ✓ Seed " + name + " applied")
				}
				return nil
			}),
		},
	)

	sample := &cobra.Command{
		Use:   "sample",
		Short: "Insert sample contacts, prayer requests and rules",
		RunE: withMigrator(func(ctx context.Context, _ *migrations.Migrator, db *sql.DB) error {
			if clearFirst {
				removed, err := migrations.ClearSample(ctx, db)
				if err != nil {
					return err
				}
				printWarning(fmt.Sprintf("Removed %d sample contact(s)", removed))
			}
			result, err := migrations.SeedSample(ctx, db, contacts)
			if err != nil {
				return err
			}
			printSuccess(fmt.Sprintf("✓ Contacts created: %d", result.Contacts))
			printSuccess(fmt.Sprintf("✓ Prayer requests created: %d", result.Requests))
			printSuccess(fmt.Sprintf("✓ Rules created: %d", result.Rules))
			return nil
		}),
	}
	sample.Flags().IntVar(&contacts, "contacts", 10, "number of sample contacts to create")
	sample.Flags().BoolVar(&clearFirst, "clear", false, "remove existing sample contacts first")
	root.AddCommand(sample)

	return root
}

type migrateFunc func(ctx context.Context, m *migrations.Migrator, db *sql.DB) error

// withMigrator opens the database and ensures the tracking table before run
func withMigrator(run migrateFunc) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, _ []string) error {
		// Load .env file (ignore error if not present)
		_ = godotenv.Load()

		cfg, err := config.Load()
		if err != nil {
			return fmt.Errorf("failed to load configuration: %w", err)
		}

		printInfo("Connecting to database...")
		db, err := sql.Open("postgres", cfg.GetDatabaseDSN())
		if err != nil {
			return fmt.Errorf("failed to open database connection: %w", err)
		}
		defer db.Close()

		ctx := cmd.Context()
		if ctx == nil {
			ctx = context.Background()
		}
		if err := db.PingContext(ctx); err != nil {
			return fmt.Errorf("failed to ping database: %w", err)
		}
		printSuccess("✓ Connected to database\n")

		m := migrations.New(db)
		if err := m.EnsureTable(ctx); err != nil {
			return err
		}
		if err := run(ctx, m, db); err != nil {
			return err
		}

		printInfo("\n✨ Operation completed successfully!")
		return nil
	}
}

func printStatus(status []migrations.Migration) {
	if len(status) == 0 {
		printWarning("No migrations found")
		return
	}

	fmt.Printf("%s%-10s %-40s %-12s %-20s%s\n",
		colorBold, "VERSION", "NAME", "STATUS", "APPLIED AT", colorReset)
	fmt.Println(strings.Repeat("-", 85))

	appliedCount := 0
	for _, mig := range status {
		state, stateColor, appliedAt := "pending", colorYellow, "-"
		if mig.Applied {
			appliedCount++
			state, stateColor = "applied", colorGreen
			if mig.AppliedAt != nil {
				appliedAt = mig.AppliedAt.Format("2006-01-02 15:04:05")
			}
		}
		fmt.Printf("%-10s %-40s %s%-12s%s %-20s\n",
			fmt.Sprintf("%03d", mig.Version), mig.Name, stateColor, state, colorReset, appliedAt)
	}

	fmt.Println(strings.Repeat("-", 85))
	printInfo(fmt.Sprintf("\nSummary: %d/%d migrations applied", appliedCount, len(status)))
}

func printSuccess(msg string) {
	fmt.Printf("%s%s%s\n", colorGreen, msg, colorReset)
}

func printError(msg string) {
	fmt.Fprintf(os.Stderr, "%s%s%s\n", colorRed, msg, colorReset)
}

func printInfo(msg string) {
	fmt.Printf("%s%s%s\n", colorCyan, msg, colorReset)
}

func printWarning(msg string) {
	fmt.Printf("%s%s%s\n", colorYellow, msg, colorReset)
}
