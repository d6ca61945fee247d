package storage

import "errors"

// Sentinel errors for storage operations.
var (
	// ErrNotFound is returned when a record does not exist, has expired, or
	// is not owned by the caller.
	ErrNotFound = errors.New("record not found")

	// ErrConflict is returned when a write would violate a uniqueness
	// constraint (email, token digest, provider identity).
	ErrConflict = errors.New("record already exists")

	// ErrLastAuthMethod is returned when deleting a linked account would
	// leave the user with no way to sign in.
	ErrLastAuthMethod = errors.New("last authentication method")
)
