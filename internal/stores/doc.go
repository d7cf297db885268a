// Package stores provides Redis-backed, short-lived record stores for the
// OTP challenge engine, password reset and email verification.
//
// # Design
//
// OTP challenges live in a Redis hash keyed by (purpose, identifier); saving a
// new challenge replaces the hash inside MULTI, which is how an active
// challenge is superseded. Verification is one Lua script so the attempt cap
// check, the code comparison and the attempt increment form a single atomic
// step per record.
//
// Password reset records are hashes keyed by a random reset id. Consumption
// is also one script: secret, used flag and expiry are checked and the used
// flag is set together, so concurrent redemptions have one winner.
//
// Email verification records follow the reset layout and consume script.
// A confirmed address also gets a short-lived marker keyed by the SHA-256 of
// the address, so status reads can skip the user store for a while.
//
// # Architecture boundaries
//
// This package owns persistence and concurrency control for transient
// challenge records. It does NOT generate codes, enforce rate limits, or
// decide what a verified challenge grants; those belong to internal/flows and
// the Engine.
//
// # What this package must NOT do
//
//   - Import authcore or any sibling internal package.
//   - Store or log plaintext codes or secrets.
package stores
