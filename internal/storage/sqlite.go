package storage

import (
	"context"
	"database/sql"
	"fmt"

	glebarez "github.com/glebarez/sqlite"
	"github.com/jackc/pgx/v5/pgxpool"
	"gorm.io/gorm"

	"github.com/matnordlund/netwall-flow-analyzer/internal/logger"
)

type sqliteBackend struct {
	db  *sql.DB
	orm *gorm.DB
}

// NewSQLite opens an embedded single-file store for small deployments
// (spec §6.4) and runs migrations. The connection pool is pinned to a
// single connection: the embedded engine serialises writers itself, and
// sharing one *sql.DB connection between the hand-written-SQL
// repositories and GORM keeps both views of the data consistent without
// a second physical handle (matching the Postgres backend's "one pool
// per process" design at the connection-count level, here reduced to
// its degenerate single-connection case).
func NewSQLite(ctx context.Context, path string) (Backend, error) {
	orm, err := gorm.Open(glebarez.Open(path), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("open gorm over sqlite: %w", err)
	}

	sqlDB, err := orm.DB()
	if err != nil {
		return nil, fmt.Errorf("extract sql.DB from gorm: %w", err)
	}
	sqlDB.SetMaxOpenConns(1)

	if err := runSQLiteMigrations(ctx, sqlDB); err != nil {
		sqlDB.Close()
		return nil, err
	}

	logger.Info("connected to sqlite backend", "path", path)
	return &sqliteBackend{db: sqlDB, orm: orm}, nil
}

func (b *sqliteBackend) Kind() Kind { return KindSQLite }

// Pool always returns nil for the SQLite backend; hot-path repositories
// must check Kind() before assuming a pgx pool is available.
func (b *sqliteBackend) Pool() *pgxpool.Pool { return nil }

func (b *sqliteBackend) SQL() *sql.DB  { return b.db }
func (b *sqliteBackend) ORM() *gorm.DB { return b.orm }

func (b *sqliteBackend) Ping(ctx context.Context) error {
	return b.db.PingContext(ctx)
}

func (b *sqliteBackend) Close() error {
	return b.db.Close()
}
