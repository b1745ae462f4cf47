package config

import (
	"errors"
	"strings"
)

// ErrNotFound is returned when a requested resource does not exist in the store.
var ErrNotFound = errors.New("not found")

// ErrConflict is returned when a write would violate a uniqueness constraint.
var ErrConflict = errors.New("already exists")

// ErrDatasetInUse is returned when deleting a dataset that endpoints still reference.
var ErrDatasetInUse = errors.New("dataset is referenced by an endpoint")

// ErrAdminExists is returned when the one-time first admin promotion has
// already been claimed.
var ErrAdminExists = errors.New("an admin already exists")

// isUniqueViolation reports whether err is a SQLite UNIQUE constraint failure.
func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// isForeignKeyViolation reports whether err is a SQLite FOREIGN KEY constraint failure.
func isForeignKeyViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "FOREIGN KEY constraint failed")
}
