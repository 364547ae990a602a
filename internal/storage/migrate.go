package storage

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"sort"
	"strings"
	"time"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// MigrationError is returned when applying schema migrations fails. It is
// fatal: callers are expected to abort startup.
type MigrationError struct {
	msg string
	err error
}

func (e *MigrationError) Error() string {
	if e.err != nil {
		return e.msg + ": " + e.err.Error()
	}
	return e.msg
}

func (e *MigrationError) Unwrap() error { return e.err }

const (
	createMigrationsTableSQL = `
CREATE TABLE IF NOT EXISTS schema_migrations (
    version TEXT PRIMARY KEY,
    applied_at TEXT NOT NULL
)`

	selectMigrationsSQL = `SELECT version FROM schema_migrations`
	insertMigrationSQL  = `INSERT INTO schema_migrations (version, applied_at) VALUES (?, ?)`
)

// Migrate applies all embedded schema scripts that have not run yet, in
// name order, each in its own transaction. Applied versions are tracked in
// schema_migrations, so Migrate is idempotent.
func (s *Store) Migrate(ctx context.Context) error {
	db, err := s.getWriteDB()
	if err != nil {
		return &MigrationError{msg: "opening database", err: err}
	}

	if _, err := db.ExecContext(ctx, createMigrationsTableSQL); err != nil {
		return &MigrationError{msg: "creating schema_migrations table", err: err}
	}

	applied := make(map[string]bool)
	rows, err := db.QueryContext(ctx, selectMigrationsSQL)
	if err != nil {
		return &MigrationError{msg: "querying applied migrations", err: err}
	}
	for rows.Next() {
		var version string
		if err := rows.Scan(&version); err != nil {
			_ = rows.Close()
			return &MigrationError{msg: "scanning applied migrations", err: err}
		}
		applied[version] = true
	}
	if err := rows.Close(); err != nil {
		return &MigrationError{msg: "reading applied migrations", err: err}
	}

	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return &MigrationError{msg: "listing migrations", err: err}
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	for _, entry := range entries {
		name := entry.Name()
		if !strings.HasSuffix(name, ".sql") {
			continue
		}
		version := strings.TrimSuffix(name, ".sql")
		if applied[version] {
			continue
		}

		script, err := migrationsFS.ReadFile("migrations/" + name)
		if err != nil {
			return &MigrationError{msg: "reading migration " + name, err: err}
		}

		if err := s.applyMigration(ctx, db, version, string(script)); err != nil {
			return &MigrationError{msg: "applying migration " + name, err: err}
		}
	}

	return nil
}

func (s *Store) applyMigration(ctx context.Context, db *sql.DB, version, script string) (err error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer rollbackWithError(tx, &err)

	if _, err = tx.ExecContext(ctx, script); err != nil {
		return fmt.Errorf("executing script: %w", err)
	}

	appliedAt := time.Now().UTC().Format(time.RFC3339)
	if _, err = tx.ExecContext(ctx, insertMigrationSQL, version, appliedAt); err != nil {
		return fmt.Errorf("recording version: %w", err)
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}
