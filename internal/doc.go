// Package internal contains helpers that are intentionally private to authcore:
// secure random generation, one-way hashing of secrets, identifier
// normalization and device description.
//
// # Sub-packages
//
//   - audit: async event dispatch (Dispatcher + Sink implementations)
//   - flows: flow orchestrators for rotation, OTP and revocation
//   - rate: Redis-backed fixed-window counter
//   - stores: Redis-backed OTP and password reset records
//   - memusers: in-memory UserProvider for the commands and tests
//
// # What this package must NOT do
//
//   - Export types that appear in the public authcore API.
//   - Be imported by any package outside the authcore module.
package internal
