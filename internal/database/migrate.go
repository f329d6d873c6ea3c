package database

import (
	"bufio"
	"context"
	"embed"
	"fmt"
	"io/fs"
	"log/slog"
	"sort"
	"strings"

	"github.com/jmoiron/sqlx"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

// migrationLockID serializes migration runs across instances.
const migrationLockID = 727_001

// RequiredTables must exist before the service accepts traffic.
var RequiredTables = []string{
	"users",
	"drivers",
	"trip_requests",
	"bids",
	"active_trips",
	"driver_credit_accounts",
	"credit_transactions",
	"pix_credit_requests",
	"notifications",
}

type Migration struct {
	Version string
	SQL     string
}

// Migrations returns the embedded migrations in version order.
func Migrations() ([]Migration, error) {
	entries, err := fs.ReadDir(migrationFS, "migrations")
	if err != nil {
		return nil, err
	}

	var out []Migration
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".sql") {
			continue
		}
		content, err := migrationFS.ReadFile("migrations/" + e.Name())
		if err != nil {
			return nil, err
		}
		out = append(out, Migration{
			Version: strings.TrimSuffix(e.Name(), ".sql"),
			SQL:     string(content),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Version < out[j].Version })
	return out, nil
}

// Migrate applies every embedded migration that has not been recorded yet.
// Each migration runs in its own transaction together with its bookkeeping row.
func Migrate(ctx context.Context, db *sqlx.DB) error {
	if _, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version    VARCHAR(64) PRIMARY KEY,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`); err != nil {
		return fmt.Errorf("create schema_migrations: %w", err)
	}

	migrations, err := Migrations()
	if err != nil {
		return fmt.Errorf("load migrations: %w", err)
	}

	for _, m := range migrations {
		applied, err := applyMigration(ctx, db, m)
		if err != nil {
			return fmt.Errorf("migration %s: %w", m.Version, err)
		}
		if applied {
			slog.Info("migration applied", "version", m.Version)
		}
	}
	return nil
}

func applyMigration(ctx context.Context, db *sqlx.DB, m Migration) (bool, error) {
	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, migrationLockID); err != nil {
		return false, err
	}

	var done bool
	if err := tx.GetContext(ctx, &done,
		`SELECT EXISTS (SELECT 1 FROM schema_migrations WHERE version = $1)`, m.Version); err != nil {
		return false, err
	}
	if done {
		return false, nil
	}

	for _, stmt := range SplitStatements(m.SQL) {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return false, err
		}
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO schema_migrations (version) VALUES ($1)`, m.Version); err != nil {
		return false, err
	}
	return true, tx.Commit()
}

// ValidateSchema fails when a required table or the latest migration is missing.
func ValidateSchema(ctx context.Context, db *sqlx.DB) error {
	var present []string
	if err := db.SelectContext(ctx, &present, `
		SELECT table_name FROM information_schema.tables
		WHERE table_schema = current_schema()`); err != nil {
		return fmt.Errorf("list tables: %w", err)
	}

	have := make(map[string]bool, len(present))
	for _, t := range present {
		have[t] = true
	}
	var missing []string
	for _, t := range RequiredTables {
		if !have[t] {
			missing = append(missing, t)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("schema missing tables: %s", strings.Join(missing, ", "))
	}

	migrations, err := Migrations()
	if err != nil {
		return err
	}
	if len(migrations) == 0 {
		return nil
	}
	latest := migrations[len(migrations)-1].Version

	var applied bool
	if err := db.GetContext(ctx, &applied,
		`SELECT EXISTS (SELECT 1 FROM schema_migrations WHERE version = $1)`, latest); err != nil {
		return fmt.Errorf("check schema version: %w", err)
	}
	if !applied {
		return fmt.Errorf("schema is behind: migration %s not applied", latest)
	}
	return nil
}

// SplitStatements drops comment lines and splits on semicolons.
// Migrations must not contain semicolons inside literals or function bodies.
func SplitStatements(input string) []string {
	var b strings.Builder
	scanner := bufio.NewScanner(strings.NewReader(input))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "--") {
			continue
		}
		b.WriteString(scanner.Text())
		b.WriteString("\n")
	}

	parts := strings.Split(b.String(), ";")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if stmt := strings.TrimSpace(p); stmt != "" {
			out = append(out, stmt)
		}
	}
	return out
}
