package storage

import (
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/matnordlund/netwall-flow-analyzer/internal/netwallerr"
)

// MapError maps a PostgreSQL/pgx error into the application error
// taxonomy (internal/netwallerr) for callers outside this package. No
// repository calls it at present; they wrap storage errors themselves.
func MapError(err error, operation string) error { return mapPgError(err, operation) }

// IsUniqueViolation reports whether err is a Postgres unique_violation.
// The flow upsert does not use it: its inserts rely on ON CONFLICT DO
// NOTHING.
func IsUniqueViolation(err error) bool { return isUniqueViolation(err) }

// IsSerializationFailure reports whether err is a transaction conflict
// the caller should retry (spec §4.3).
func IsSerializationFailure(err error) bool { return isSerializationFailure(err) }

// mapPgError maps a PostgreSQL/pgx error into the application error
// taxonomy (internal/netwallerr), mirroring the teacher's mapPgError.
func mapPgError(err error, operation string) error {
	if err == nil {
		return nil
	}

	if errors.Is(err, pgx.ErrNoRows) {
		return netwallerr.NotFound(fmt.Sprintf("%s: not found", operation))
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return mapPgErrorCode(pgErr, operation)
	}

	return netwallerr.StorageUnavailable(fmt.Errorf("%s: %w", operation, err))
}

// mapPgErrorCode maps PostgreSQL error codes to the application error
// taxonomy. See https://www.postgresql.org/docs/current/errcodes-appendix.html
func mapPgErrorCode(pgErr *pgconn.PgError, operation string) error {
	switch pgErr.Code {
	case "23505": // unique_violation
		return netwallerr.Conflict(fmt.Sprintf("%s: already exists", operation))

	case "23503": // foreign_key_violation
		return netwallerr.NotFound(fmt.Sprintf("%s: referenced row not found", operation))

	case "23514": // check_violation
		return netwallerr.Validation("", fmt.Sprintf("%s: check constraint violated: %s", operation, pgErr.Message))

	case "23502": // not_null_violation
		return netwallerr.Validation(pgErr.ColumnName, fmt.Sprintf("%s: missing required field", operation))

	case "40001": // serialization_failure
		return netwallerr.Conflict(fmt.Sprintf("%s: transaction conflict, retry", operation))

	case "40P01": // deadlock_detected
		return netwallerr.Conflict(fmt.Sprintf("%s: deadlock detected, retry", operation))

	case "57014": // query_canceled
		return netwallerr.Canceled(fmt.Sprintf("%s: operation canceled", operation))

	case "08000", "08003", "08006": // connection errors
		return netwallerr.StorageUnavailable(fmt.Errorf("%s: database connection error: %s", operation, pgErr.Message))

	default:
		return netwallerr.StorageUnavailable(fmt.Errorf("%s: database error [%s] %s", operation, pgErr.Code, pgErr.Message))
	}
}

// isUniqueViolation reports whether err is a Postgres unique_violation.
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

// isSerializationFailure reports whether err is a transaction conflict
// the caller should retry (spec §4.3: "three consecutive transaction
// conflicts abort the record").
func isSerializationFailure(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "40001" || pgErr.Code == "40P01"
	}
	return false
}
