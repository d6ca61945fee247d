package api

import "github.com/google/uuid"

// NewID returns a random (version 4) UUID string. Users, sessions, and
// linked accounts all use this format for their display-safe identifiers.
func NewID() string {
	return uuid.NewString()
}

// ValidateID reports whether s is a well-formed UUID. Handlers use it to
// reject malformed path parameters before they reach the store.
func ValidateID(s string) bool {
	if len(s) != 36 {
		return false
	}
	_, err := uuid.Parse(s)
	return err == nil
}
