// Package api defines the shared types of the authentication service:
// stored records (User, Session, OAuthAccount), the JSON shapes returned to
// clients, request bodies, the error taxonomy, and ID generation.
//
// The package performs no I/O.
//
// Core types:
//   - [User]: an account with an optional password credential and a role
//   - [Session]: a bearer session bound to one device; only the token digest is stored
//   - [OAuthAccount]: a provider identity linked to a user
//   - [APIError]: a classified, client-safe error; [ErrorResponse] is its wire envelope
package api
