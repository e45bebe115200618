package storage

import "errors"

var (
	// ErrConnection indicates the embedded engine could not be opened.
	ErrConnection = errors.New("storage: connection failure")
	// ErrMigration indicates schema initialization failed.
	ErrMigration = errors.New("storage: migration failure")
	// ErrMigrationTimeout indicates schema initialization exceeded its
	// bounded timeout.
	ErrMigrationTimeout = errors.New("storage: migration timed out")
	// ErrNotFound indicates a requested key/row does not exist.
	ErrNotFound = errors.New("storage: not found")
)
