// Package repositories implements the data access layer for docverctl's
// metadata store. Each repository type encapsulates all database queries for a
// domain entity; handlers never issue SQL directly. Lookups that find nothing
// return (nil, nil) so callers can distinguish absence from query failure.
package repositories

import (
	"errors"

	"github.com/lib/pq"
)

// ErrDuplicate is returned when an insert violates a uniqueness constraint
// (duplicate allowlist entry, duplicate project slug or repository binding,
// contested file lock). Handlers surface it as a Conflict response.
var ErrDuplicate = errors.New("record already exists")

// isUniqueViolation reports whether err is a PostgreSQL unique_violation.
func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}
