// Package storage is the Backend-agnostic persistence layer (spec §3,
// C12). Two concrete backends are supported: Postgres (pgx driver) and an
// embedded SQLite file for small deployments. On both, repositories reach
// every table through GORM: hand-written SQL via Raw/Exec for the
// hot-path tables, GORM models for the control-plane tables.
//
// Grounded on the teacher's pkg/store/metadata/postgres package (raw-SQL,
// typed-row-scan idiom; PgError translation; golang-migrate runner) and
// pkg/controlplane/store (GORM model idiom).
package storage

import (
	"context"
	"database/sql"

	"github.com/jackc/pgx/v5/pgxpool"
	"gorm.io/gorm"
)

// Kind names the physical backend selected at startup.
type Kind string

const (
	KindPostgres Kind = "postgres"
	KindSQLite   Kind = "sqlite"
)

// Backend is implemented by both concrete backends. All repositories
// take the *gorm.DB from ORM(): the hot-path ones (internal/ingest,
// internal/query, internal/retention) issue hand-written SQL through its
// Raw/Exec, the control-plane ones (internal/jobs, internal/firewall,
// internal/settings) use GORM models.
type Backend interface {
	Kind() Kind

	// Pool returns the pgx connection pool for the Postgres backend, or
	// nil for SQLite.
	Pool() *pgxpool.Pool

	// SQL returns the database/sql handle that GORM is layered over
	// (always non-nil; for Postgres it is opened through pgx's stdlib
	// driver against the same DSN and is pooled separately from Pool()).
	SQL() *sql.DB

	// ORM returns the *gorm.DB used by every repository, layered over
	// SQL().
	ORM() *gorm.DB

	// Ping verifies connectivity, used by the /health/ready probe.
	Ping(ctx context.Context) error

	Close() error
}
