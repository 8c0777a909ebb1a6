package storage

import (
	"context"
	"database/sql"
	"fmt"
	"io/fs"
	"sort"
	"strconv"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	migratepostgres "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	"github.com/matnordlund/netwall-flow-analyzer/internal/logger"
	"github.com/matnordlund/netwall-flow-analyzer/internal/storage/migrations"
)

// runPostgresMigrations applies the embedded postgres/*.sql set against db
// using golang-migrate, which takes a Postgres advisory lock automatically
// so concurrent process starts don't race (spec §6.4).
func runPostgresMigrations(ctx context.Context, db *sql.DB) error {
	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping database: %w", err)
	}

	driver, err := migratepostgres.WithInstance(db, &migratepostgres.Config{
		MigrationsTable: "schema_migrations",
	})
	if err != nil {
		return fmt.Errorf("create postgres migration driver: %w", err)
	}

	sourceDriver, err := iofs.New(migrations.Postgres, "postgres")
	if err != nil {
		return fmt.Errorf("create migration source: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "postgres", driver)
	if err != nil {
		return fmt.Errorf("create migrate instance: %w", err)
	}

	return applyMigrations(m)
}

// runSQLiteMigrations applies the embedded sqlite/*.sql set directly
// against db. golang-migrate's only SQLite driver requires CGO
// (mattn/go-sqlite3), which conflicts with the pure-Go glebarez/sqlite
// driver the embedded backend otherwise uses, so migrations are applied
// by hand here: each numbered *.up.sql file runs once, tracked in a
// schema_migrations table, inside one transaction. There is no advisory
// lock primitive in SQLite; the process holds a single connection (see
// NewSQLite), which already serialises startup.
func runSQLiteMigrations(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (version INTEGER PRIMARY KEY)`); err != nil {
		return fmt.Errorf("create schema_migrations table: %w", err)
	}

	entries, err := fs.ReadDir(migrations.SQLite, "sqlite")
	if err != nil {
		return fmt.Errorf("read embedded sqlite migrations: %w", err)
	}

	type step struct {
		version int
		name    string
	}
	var steps []step
	for _, e := range entries {
		if !strings.HasSuffix(e.Name(), ".up.sql") {
			continue
		}
		versionStr, _, ok := strings.Cut(e.Name(), "_")
		if !ok {
			continue
		}
		version, err := strconv.Atoi(versionStr)
		if err != nil {
			continue
		}
		steps = append(steps, step{version: version, name: e.Name()})
	}
	sort.Slice(steps, func(i, j int) bool { return steps[i].version < steps[j].version })

	for _, s := range steps {
		var applied int
		err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM schema_migrations WHERE version = ?`, s.version).Scan(&applied)
		if err != nil {
			return fmt.Errorf("check migration %d: %w", s.version, err)
		}
		if applied > 0 {
			continue
		}

		body, err := fs.ReadFile(migrations.SQLite, "sqlite/"+s.name)
		if err != nil {
			return fmt.Errorf("read migration %s: %w", s.name, err)
		}

		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin migration %d: %w", s.version, err)
		}
		if _, err := tx.ExecContext(ctx, string(body)); err != nil {
			tx.Rollback()
			return fmt.Errorf("apply migration %d (%s): %w", s.version, s.name, err)
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO schema_migrations (version) VALUES (?)`, s.version); err != nil {
			tx.Rollback()
			return fmt.Errorf("record migration %d: %w", s.version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %d: %w", s.version, err)
		}
		logger.Info("applied sqlite migration", "version", s.version, "file", s.name)
	}

	return nil
}

func applyMigrations(m *migrate.Migrate) error {
	logger.Info("applying database migrations")
	err := m.Up()
	if err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("migration failed: %w", err)
	}
	if err == migrate.ErrNoChange {
		logger.Info("no migrations to apply, database is up to date")
		return nil
	}

	version, dirty, err := m.Version()
	if err != nil && err != migrate.ErrNilVersion {
		return fmt.Errorf("get migration version: %w", err)
	}
	if dirty {
		logger.Warn("database schema is in a dirty state, manual intervention may be required", "version", version)
	} else {
		logger.Info("migrations applied", "version", version)
	}
	return nil
}
