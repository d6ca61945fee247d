package api

import (
	"net/mail"
	"strings"
)

// NormalizeEmail returns the canonical, lower-cased form under which
// emails are stored and compared.
func NormalizeEmail(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// ValidEmail reports whether s is a bare address (no display name).
func ValidEmail(s string) bool {
	addr, err := mail.ParseAddress(s)
	return err == nil && addr.Address == s
}
