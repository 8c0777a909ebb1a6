// Package migrations embeds the forward-only SQL migration sets for both
// backends, grounded on the teacher's embed.FS + golang-migrate/source/iofs
// pattern (pkg/store/metadata/postgres/migrate.go).
package migrations

import "embed"

//go:embed postgres/*.sql
var Postgres embed.FS

//go:embed sqlite/*.sql
var SQLite embed.FS
