// Package session provides the Redis-backed session projection cache and its
// compact binary snapshot encoding.
//
// # Projection, not authority
//
// A [Snapshot] is a denormalized copy of the profile fields a client needs
// after login. It is written as a side effect of issuing a token pair and may
// be missing or stale at any time. A cache miss is never an authentication
// failure; callers fall back to the user store.
//
// # Binary encoding
//
// Snapshots are stored as a versioned binary blob (schema v1 and v2). Decoding
// accepts older versions and fills new fields with zero values.
//
// # Keys
//
// Entries are keyed by the SHA-256 of the access token. The raw token never
// reaches Redis.
//
// # What this package must NOT do
//
//   - Import authcore, jwt, or refresh (no upward imports).
//   - Validate access tokens or make authorization decisions.
package session
