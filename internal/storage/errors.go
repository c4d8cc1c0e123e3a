package storage

import "errors"

// Storage errors shared by every StateStore backend.
var (
	// ErrNotFound is returned when a requested record does not exist.
	ErrNotFound = errors.New("not found")

	// ErrDuplicateKey is returned when attempting to insert a record
	// with a key that already exists. Tokens and trades are never updated in place.
	ErrDuplicateKey = errors.New("duplicate key")

	// ErrMigrated is returned when a trade or migration targets a curve
	// that has already migrated. Migration is terminal.
	ErrMigrated = errors.New("bonding curve already migrated")

	// ErrInvalidInput is returned when input validation fails,
	// including reserve deltas that would underflow a curve.
	ErrInvalidInput = errors.New("invalid input")
)
