// Package session issues, validates, rotates, and revokes opaque bearer
// session tokens.
//
// A token is random bytes rendered as hex. It is returned to the client
// exactly once, at issuance; the store only ever sees its SHA-256 digest,
// so a leaked database does not leak usable credentials. Validation is a
// digest lookup and never mutates state. Refresh is a single store
// operation that consumes the old token and inserts the new one, so of
// several concurrent refreshes of one token exactly one succeeds.
//
// The package also owns password credentials (bcrypt) because password
// login is the first way a session gets minted.
package session
