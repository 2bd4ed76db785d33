package repository

import "strings"

// isUniqueViolation reports whether err looks like a unique-constraint
// violation from either SQLite (modernc) or Postgres, since both drivers
// are supported by internal/db and neither wraps a shared sentinel type.
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique constraint") ||
		strings.Contains(msg, "duplicate key") ||
		strings.Contains(msg, "unique_violation")
}
