package storage

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"sort"
	"strings"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

// MigrationManager applies the embedded schema migrations.
type MigrationManager struct {
	db     *sql.DB
	files  fs.FS
	driver string // "sqlite" or "postgres"
}

// NewMigrationManager creates a migration manager for the embedded migrations.
func NewMigrationManager(db *sql.DB, driver string) *MigrationManager {
	sub, _ := fs.Sub(migrationFiles, "migrations")
	return &MigrationManager{
		db:     db,
		files:  sub,
		driver: driver,
	}
}

// MigrationStatus represents the status of migrations.
type MigrationStatus struct {
	UpToDate bool
	Applied  []string
	Pending  []string
	Total    int
}

// CheckMigrations reports which migrations have not been applied yet.
func (m *MigrationManager) CheckMigrations(ctx context.Context) (*MigrationStatus, error) {
	if err := m.ensureSchemaMigrationsTable(ctx); err != nil {
		return nil, fmt.Errorf("ensure schema_migrations table: %w", err)
	}

	migrations, err := m.listMigrationFiles()
	if err != nil {
		return nil, fmt.Errorf("list migration files: %w", err)
	}

	applied, err := m.appliedVersions(ctx)
	if err != nil {
		return nil, fmt.Errorf("read applied migrations: %w", err)
	}

	status := &MigrationStatus{Total: len(migrations), Pending: []string{}}
	for _, name := range migrations {
		if applied[migrationVersion(name)] {
			status.Applied = append(status.Applied, name)
			continue
		}
		status.Pending = append(status.Pending, name)
	}
	status.UpToDate = len(status.Pending) == 0
	return status, nil
}

// RunMigrations runs all pending migrations in order.
func (m *MigrationManager) RunMigrations(ctx context.Context, status *MigrationStatus) error {
	if len(status.Pending) == 0 {
		return nil
	}

	sort.Strings(status.Pending)
	for _, name := range status.Pending {
		if err := m.runMigration(ctx, name); err != nil {
			return fmt.Errorf("run migration %s: %w", name, err)
		}
	}
	return nil
}

// Migrate checks and runs pending migrations, returning what was applied.
func (m *MigrationManager) Migrate(ctx context.Context) ([]string, error) {
	status, err := m.CheckMigrations(ctx)
	if err != nil {
		return nil, err
	}
	if err := m.RunMigrations(ctx, status); err != nil {
		return nil, err
	}
	return status.Pending, nil
}

func (m *MigrationManager) ensureSchemaMigrationsTable(ctx context.Context) error {
	var query string
	switch m.driver {
	case "sqlite", "":
		query = `
			CREATE TABLE IF NOT EXISTS schema_migrations (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				version TEXT UNIQUE NOT NULL,
				applied_at TEXT NOT NULL DEFAULT (datetime('now'))
			);
		`
	default:
		query = `
			CREATE TABLE IF NOT EXISTS schema_migrations (
				id SERIAL PRIMARY KEY,
				version TEXT UNIQUE NOT NULL,
				applied_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
			);
		`
	}
	_, err := m.db.ExecContext(ctx, query)
	return err
}

// listMigrationFiles lists migration files for the driver. SQLite prefers a
// "_sqlite.sql" variant of a migration when one exists.
func (m *MigrationManager) listMigrationFiles() ([]string, error) {
	entries, err := fs.ReadDir(m.files, ".")
	if err != nil {
		return nil, err
	}

	sqliteMigrations := make(map[string]string)
	regularMigrations := make(map[string]string)
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".sql") {
			continue
		}
		if strings.HasSuffix(name, "_sqlite.sql") {
			sqliteMigrations[strings.TrimSuffix(name, "_sqlite.sql")] = name
		} else {
			regularMigrations[strings.TrimSuffix(name, ".sql")] = name
		}
	}

	var migrations []string
	for base, regular := range regularMigrations {
		if m.driver == "sqlite" {
			if sqliteFile, ok := sqliteMigrations[base]; ok {
				migrations = append(migrations, sqliteFile)
				continue
			}
		}
		migrations = append(migrations, regular)
	}
	if m.driver == "sqlite" {
		for base, sqliteFile := range sqliteMigrations {
			if _, ok := regularMigrations[base]; !ok {
				migrations = append(migrations, sqliteFile)
			}
		}
	}

	sort.Strings(migrations)
	return migrations, nil
}

func (m *MigrationManager) appliedVersions(ctx context.Context) (map[string]bool, error) {
	rows, err := m.db.QueryContext(ctx, "SELECT version FROM schema_migrations")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	applied := make(map[string]bool)
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		applied[v] = true
	}
	return applied, rows.Err()
}

// runMigration executes one migration and records it in the same transaction.
func (m *MigrationManager) runMigration(ctx context.Context, name string) error {
	data, err := fs.ReadFile(m.files, name)
	if err != nil {
		return fmt.Errorf("read migration file: %w", err)
	}

	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, string(data)); err != nil {
		return fmt.Errorf("execute migration: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		"INSERT INTO schema_migrations (version) VALUES ($1)", migrationVersion(name),
	); err != nil {
		return fmt.Errorf("record migration: %w", err)
	}
	return tx.Commit()
}

// migrationVersion strips the driver suffix so both variants of a migration
// record the same version.
func migrationVersion(name string) string {
	name = strings.TrimSuffix(name, ".sql")
	return strings.TrimSuffix(name, "_sqlite")
}
