// Package auth resolves the caller of a request and gates handlers on
// authentication, role, and permission.
//
// Resolution uses a chain of authenticators with three-outcome voting:
// each returns Yes (principal found), No (credentials present but
// invalid), or Abstain (credential type not handled). The first Yes or No
// ends the chain; when every authenticator abstains the request is
// unauthenticated.
//
// The chain is ordered bearer first. When an Authorization: Bearer header
// is present it decides on its own, so an invalid bearer token is rejected
// even if a valid browser cookie accompanies it.
package auth
