package storage

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/jackc/pgx/v5/stdlib" // registers the "pgx" database/sql driver
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/matnordlund/netwall-flow-analyzer/internal/logger"
)

type postgresBackend struct {
	pool *pgxpool.Pool
	db   *sql.DB
	orm  *gorm.DB
}

// NewPostgres connects to Postgres, runs migrations, and returns a Backend
// holding a pgxpool.Pool and a separate GORM handle for the repositories
// (see pkg.go.dev/gorm.io/driver/postgres's
// NewWithConn-by-DSN-reuse pattern: GORM opens its own *sql.DB over the
// pgx stdlib driver against the same DSN, so both share the same
// connection string but are independently pooled — matching the
// teacher's single-registry design at the DSN level, since pgxpool.Pool
// itself cannot be handed to database/sql).
func NewPostgres(ctx context.Context, cfg PostgresConfig) (Backend, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid postgres config: %w", err)
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	poolCfg.MaxConns = cfg.MaxConns
	poolCfg.MinConns = cfg.MinConns
	poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	poolCfg.MaxConnIdleTime = cfg.MaxConnIdleTime
	poolCfg.HealthCheckPeriod = cfg.HealthCheckPeriod

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("create postgres pool: %w", err)
	}

	sqlDB, err := sql.Open("pgx", cfg.DSN)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("open database/sql handle: %w", err)
	}

	if err := runPostgresMigrations(ctx, sqlDB); err != nil {
		pool.Close()
		sqlDB.Close()
		return nil, err
	}

	orm, err := gorm.Open(postgres.New(postgres.Config{Conn: sqlDB}), &gorm.Config{})
	if err != nil {
		pool.Close()
		sqlDB.Close()
		return nil, fmt.Errorf("open gorm over postgres: %w", err)
	}

	logger.Info("connected to postgres backend", "max_conns", cfg.MaxConns)
	return &postgresBackend{pool: pool, db: sqlDB, orm: orm}, nil
}

func (b *postgresBackend) Kind() Kind            { return KindPostgres }
func (b *postgresBackend) Pool() *pgxpool.Pool   { return b.pool }
func (b *postgresBackend) SQL() *sql.DB          { return b.db }
func (b *postgresBackend) ORM() *gorm.DB         { return b.orm }

func (b *postgresBackend) Ping(ctx context.Context) error {
	return b.pool.Ping(ctx)
}

func (b *postgresBackend) Close() error {
	b.pool.Close()
	return b.db.Close()
}
