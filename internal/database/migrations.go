package database

import (
	"context"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Migration is one versioned schema change.
type Migration struct {
	Version int
	Name    string
	UpSQL   string
	DownSQL string
}

// MigrationRecord is a row of schema_migrations.
type MigrationRecord struct {
	Version   int
	Name      string
	AppliedAt time.Time
}

// Migrator applies migrations in version order, one transaction each.
type Migrator struct {
	pool       *Pool
	migrations []Migration
}

// NewMigrator loads NNN_name.up.sql / NNN_name.down.sql files from dir.
func NewMigrator(pool *Pool, fsys fs.FS, dir string) (*Migrator, error) {
	migrations, err := LoadMigrations(fsys, dir)
	if err != nil {
		return nil, fmt.Errorf("failed to load migrations: %w", err)
	}
	return NewMigratorWithMigrations(pool, migrations), nil
}

// NewMigratorWithMigrations creates a Migrator with provided migrations.
func NewMigratorWithMigrations(pool *Pool, migrations []Migration) *Migrator {
	return &Migrator{pool: pool, migrations: migrations}
}

// LoadMigrations parses migration files. Files that do not follow the
// naming scheme are ignored.
func LoadMigrations(fsys fs.FS, dir string) ([]Migration, error) {
	entries, err := fs.ReadDir(fsys, dir)
	if err != nil {
		return nil, err
	}

	byVersion := make(map[int]*Migration)
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".sql") {
			continue
		}

		version, rest, ok := strings.Cut(name, "_")
		if !ok {
			continue
		}
		v, err := strconv.Atoi(version)
		if err != nil {
			continue
		}

		base := strings.TrimSuffix(rest, ".sql")
		var direction string
		switch {
		case strings.HasSuffix(base, ".up"):
			direction = "up"
		case strings.HasSuffix(base, ".down"):
			direction = "down"
		default:
			continue
		}
		base = strings.TrimSuffix(base, "."+direction)

		content, err := fs.ReadFile(fsys, path.Join(dir, name))
		if err != nil {
			return nil, fmt.Errorf("failed to read migration %s: %w", name, err)
		}

		m, exists := byVersion[v]
		if !exists {
			m = &Migration{Version: v, Name: base}
			byVersion[v] = m
		}
		if direction == "up" {
			m.UpSQL = string(content)
		} else {
			m.DownSQL = string(content)
		}
	}

	migrations := make([]Migration, 0, len(byVersion))
	for _, m := range byVersion {
		migrations = append(migrations, *m)
	}
	sort.Slice(migrations, func(i, j int) bool {
		return migrations[i].Version < migrations[j].Version
	})
	return migrations, nil
}

// Migrations returns the loaded migrations.
func (m *Migrator) Migrations() []Migration {
	return m.migrations
}

func (m *Migrator) ensureTable(ctx context.Context) error {
	_, err := m.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			name VARCHAR(255) NOT NULL,
			applied_at TIMESTAMPTZ DEFAULT NOW()
		)`)
	return err
}

// Applied returns the applied migrations in version order.
func (m *Migrator) Applied(ctx context.Context) ([]MigrationRecord, error) {
	if err := m.ensureTable(ctx); err != nil {
		return nil, fmt.Errorf("failed to ensure migrations table: %w", err)
	}

	rows, err := m.pool.Query(ctx, `SELECT version, name, applied_at FROM schema_migrations ORDER BY version`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []MigrationRecord
	for rows.Next() {
		var r MigrationRecord
		if err := rows.Scan(&r.Version, &r.Name, &r.AppliedAt); err != nil {
			return nil, err
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

// Up applies every pending migration and returns how many ran.
func (m *Migrator) Up(ctx context.Context) (int, error) {
	applied, err := m.Applied(ctx)
	if err != nil {
		return 0, err
	}

	done := make(map[int]bool, len(applied))
	for _, r := range applied {
		done[r.Version] = true
	}

	count := 0
	for _, mig := range m.migrations {
		if done[mig.Version] {
			continue
		}
		if err := m.exec(ctx, mig.UpSQL,
			`INSERT INTO schema_migrations (version, name) VALUES ($1, $2)`, mig.Version, mig.Name); err != nil {
			return count, fmt.Errorf("failed to apply migration %d (%s): %w", mig.Version, mig.Name, err)
		}
		count++
	}
	return count, nil
}

// Down rolls back the most recent migration. It is a no-op when nothing
// is applied.
func (m *Migrator) Down(ctx context.Context) error {
	applied, err := m.Applied(ctx)
	if err != nil {
		return err
	}
	if len(applied) == 0 {
		return nil
	}

	last := applied[len(applied)-1]
	for _, mig := range m.migrations {
		if mig.Version == last.Version {
			return m.exec(ctx, mig.DownSQL,
				`DELETE FROM schema_migrations WHERE version = $1`, mig.Version)
		}
	}
	return fmt.Errorf("migration %d not found", last.Version)
}

// Version returns the highest applied version, or 0.
func (m *Migrator) Version(ctx context.Context) (int, error) {
	applied, err := m.Applied(ctx)
	if err != nil || len(applied) == 0 {
		return 0, err
	}
	return applied[len(applied)-1].Version, nil
}

// exec runs schema SQL and the bookkeeping statement in one transaction.
func (m *Migrator) exec(ctx context.Context, schemaSQL, bookkeeping string, args ...any) error {
	tx, err := m.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if strings.TrimSpace(schemaSQL) != "" {
		if _, err := tx.Exec(ctx, schemaSQL); err != nil {
			return fmt.Errorf("failed to execute migration SQL: %w", err)
		}
	}
	if _, err := tx.Exec(ctx, bookkeeping, args...); err != nil {
		return fmt.Errorf("failed to record migration: %w", err)
	}
	return tx.Commit(ctx)
}
