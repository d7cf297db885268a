// Package middleware adapts authcore.Engine access token validation to
// net/http.
//
// # Handlers
//
//   - [Guard] validates the Bearer token and stores the result in the
//     request context.
//   - [RequireRole] rejects requests whose validated role is not allowed.
//     It must run after Guard.
//   - [ClientInfo] copies the caller's address and User-Agent into the
//     context so the engine can record them on refresh tokens.
//
// # What this package must NOT do
//
//   - Parse or sign JWTs directly. Every decision comes from
//     Engine.ValidateAccess.
//   - Access Redis.
package middleware
