// Package oauth exchanges provider authorization codes for identity
// profiles and maintains the links between provider identities and users.
//
// Providers come in two flavours: OAuth2Provider talks to a plain OAuth 2.0
// authorization server and reads a userinfo endpoint (Google and GitHub
// presets are built in), while OIDCProvider discovers an OpenID Connect
// issuer and verifies the returned ID token. Both satisfy Provider.
//
// Linker applies the account rules on top: a provider identity belongs to
// at most one user, a user holds at most one identity per provider, a new
// identity whose verified email matches an existing user is linked to that
// user, and a user can never unlink their last way to sign in.
package oauth
