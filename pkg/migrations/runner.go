package migrations

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"time"
)

// Runner executes database migrations and records them in schema_migrations.
type Runner struct {
	db            *sql.DB
	migrationsDir string
	out           io.Writer
}

// NewRunner creates a new migration runner. Progress is written to out.
func NewRunner(db *sql.DB, migrationsDir string, out io.Writer) *Runner {
	if out == nil {
		out = io.Discard
	}
	return &Runner{
		db:            db,
		migrationsDir: migrationsDir,
		out:           out,
	}
}

// Record represents a migration in the schema_migrations table.
type Record struct {
	Version   string
	AppliedAt time.Time
}

// EnsureTable creates the schema_migrations table if it doesn't exist.
func (r *Runner) EnsureTable(ctx context.Context) error {
	query := `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version VARCHAR(14) PRIMARY KEY,
			applied_at TIMESTAMP WITH TIME ZONE DEFAULT NOW()
		)
	`
	_, err := r.db.ExecContext(ctx, query)
	return err
}

// Applied returns all applied migrations ordered by version.
func (r *Runner) Applied(ctx context.Context) ([]Record, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT version, applied_at FROM schema_migrations ORDER BY version`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var rec Record
		if err := rows.Scan(&rec.Version, &rec.AppliedAt); err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// Pending returns the up migrations that have not been applied.
func (r *Runner) Pending(ctx context.Context) ([]Migration, error) {
	available, err := LoadFromDir(r.migrationsDir, Up)
	if err != nil {
		return nil, fmt.Errorf("failed to scan migrations: %w", err)
	}

	applied, err := r.Applied(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get applied migrations: %w", err)
	}
	done := make(map[string]bool, len(applied))
	for _, rec := range applied {
		done[rec.Version] = true
	}

	var pending []Migration
	for _, m := range available {
		if !done[m.Version] {
			pending = append(pending, m)
		}
	}
	return pending, nil
}

// Up runs all pending migrations, each in its own transaction.
func (r *Runner) Up(ctx context.Context) error {
	if err := r.EnsureTable(ctx); err != nil {
		return fmt.Errorf("failed to ensure migration table: %w", err)
	}

	pending, err := r.Pending(ctx)
	if err != nil {
		return err
	}
	if len(pending) == 0 {
		fmt.Fprintln(r.out, "No pending migrations")
		return nil
	}

	fmt.Fprintf(r.out, "Running %d migrations...\n", len(pending))
	for _, m := range pending {
		if err := r.run(ctx, m); err != nil {
			return fmt.Errorf("migration %s failed: %w", m.Version, err)
		}
		fmt.Fprintf(r.out, "  Applied: %s\n", m)
	}
	return nil
}

// Down rolls back the last applied migration.
func (r *Runner) Down(ctx context.Context) error {
	applied, err := r.Applied(ctx)
	if err != nil {
		return err
	}
	if len(applied) == 0 {
		fmt.Fprintln(r.out, "No migrations to rollback")
		return nil
	}
	last := applied[len(applied)-1]

	downs, err := LoadFromDir(r.migrationsDir, Down)
	if err != nil {
		return fmt.Errorf("failed to scan migrations: %w", err)
	}
	for _, m := range downs {
		if m.Version == last.Version {
			if err := r.run(ctx, m); err != nil {
				return fmt.Errorf("rollback %s failed: %w", last.Version, err)
			}
			fmt.Fprintf(r.out, "Rolled back: %s\n", m)
			return nil
		}
	}
	return fmt.Errorf("no down migration for version %s", last.Version)
}

// run executes one migration file and updates schema_migrations in the same transaction.
func (r *Runner) run(ctx context.Context, m Migration) error {
	content, err := ReadContent(m)
	if err != nil {
		return err
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, string(content)); err != nil {
		return err
	}

	if m.Direction == Up {
		_, err = tx.ExecContext(ctx, "INSERT INTO schema_migrations (version) VALUES ($1)", m.Version)
	} else {
		_, err = tx.ExecContext(ctx, "DELETE FROM schema_migrations WHERE version = $1", m.Version)
	}
	if err != nil {
		return err
	}

	return tx.Commit()
}

// Status writes each known migration and whether it was applied.
func (r *Runner) Status(ctx context.Context) error {
	if err := r.EnsureTable(ctx); err != nil {
		return err
	}
	applied, err := r.Applied(ctx)
	if err != nil {
		return err
	}
	available, err := LoadFromDir(r.migrationsDir, Up)
	if err != nil {
		return err
	}

	at := make(map[string]time.Time, len(applied))
	for _, rec := range applied {
		at[rec.Version] = rec.AppliedAt
	}

	fmt.Fprintln(r.out, "Migration Status")
	fmt.Fprintln(r.out, "================")
	for _, m := range available {
		status := "pending"
		if t, ok := at[m.Version]; ok {
			status = fmt.Sprintf("applied (%s)", t.Format(time.DateOnly))
		}
		fmt.Fprintf(r.out, "  %s_%s: %s\n", m.Version, m.Name, status)
	}
	return nil
}
