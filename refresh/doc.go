// Package refresh defines the durable record model for rotating refresh tokens
// and the stores that persist it.
//
// # Record model
//
// A refresh token is an opaque random secret. Stores never see the secret,
// only its SHA-256 hash, which is the primary key of a [Record]. Every record
// carries a family ID shared by all tokens descended from one login, so a
// replayed token can revoke its whole lineage in one bulk conditional update.
//
// Records are revoked, never deleted, by the rotation engine. Deletion only
// happens through [Store.PurgeExpired], long after expiry.
//
// # Implementations
//
//   - [RedisStore]: records as Redis hashes with family and owner index sets.
//     Conditional revocation runs in Lua.
//   - [PostgresStore]: a refresh_tokens table over database/sql with the pgx
//     driver. Conditional revocation is an UPDATE guarded by revoked = FALSE.
//     Schema is applied with [Migrate].
//
// # What this package must NOT do
//
//   - Decide rotation policy or theft detection.
//   - Generate or hash token secrets.
//   - Import authcore or session.
package refresh
