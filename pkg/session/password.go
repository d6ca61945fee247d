package session

import (
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

const (
	minPasswordLen = 8
	// bcrypt ignores input beyond 72 bytes.
	maxPasswordLen = 72
)

// HashPassword hashes a password with bcrypt at the given cost.
func HashPassword(password string, cost int) (string, error) {
	b, err := bcrypt.GenerateFromPassword([]byte(password), cost)
	if err != nil {
		return "", fmt.Errorf("hashing password: %w", err)
	}
	return string(b), nil
}

// CheckPassword reports whether password matches hash.
func CheckPassword(hash, password string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}

// ValidatePassword enforces length bounds.
func ValidatePassword(password string) error {
	switch {
	case len(password) < minPasswordLen:
		return fmt.Errorf("%w: must be at least %d characters", ErrWeakPassword, minPasswordLen)
	case len(password) > maxPasswordLen:
		return fmt.Errorf("%w: must be at most %d bytes", ErrWeakPassword, maxPasswordLen)
	}
	return nil
}

// dummyHash is compared against when the email is unknown, so a failed
// login costs the same whether or not the account exists.
var dummyHash = mustHash("authcore-timing-equalizer")

func mustHash(s string) []byte {
	b, err := bcrypt.GenerateFromPassword([]byte(s), bcrypt.DefaultCost)
	if err != nil {
		panic(errors.Join(errors.New("session: precomputing dummy hash"), err))
	}
	return b
}
