package storage

import (
	"context"
	"fmt"
)

// Open dispatches to NewPostgres or NewSQLite based on the --database-url
// value (spec §6.3), via ParseDatabaseURL.
func Open(ctx context.Context, databaseURL string) (Backend, error) {
	kind, target := ParseDatabaseURL(databaseURL)
	switch kind {
	case "postgres":
		return NewPostgres(ctx, PostgresConfig{DSN: target})
	case "sqlite":
		return NewSQLite(ctx, target)
	default:
		return nil, fmt.Errorf("unrecognised database backend for url %q", databaseURL)
	}
}
