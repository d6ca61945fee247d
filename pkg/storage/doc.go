// Package storage defines the persistence contracts of the authentication
// service and the sentinel errors shared by every backend.
//
// Backends:
//   - memory: a single-process store guarded by one mutex
//   - postgres: pgx connection pool with embedded schema migrations
//   - redis: sessions only, for deployments that keep users in postgres
//     and want session lookups served from Redis
//
// Every mutating method is atomic with respect to concurrent callers. In
// particular RotateSession and DeleteAccountIfNotLast perform their checks
// and writes in one transaction, never as a separate read followed by a
// write.
package storage
