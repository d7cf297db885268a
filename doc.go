// Package authcore is the authentication and session lifecycle engine behind
// the storefront API. It issues short-lived JWT access tokens and rotating
// opaque refresh tokens, runs one-time-password challenges, and guards every
// entry point with fixed-window rate limits.
//
// Engine methods are safe for concurrent use once [Builder.Build] returns.
//
// # Refresh tokens
//
// Refresh tokens are random 256-bit values. Only their SHA-256 digest is
// stored. Each rotation revokes the presented token and issues a successor in
// the same family. Presenting a revoked token is treated as theft and revokes
// the whole family, unless the token was rotated within the configured grace
// window.
//
// # Storage
//
// Redis is required. It holds rate-limit counters, OTP challenges, reset
// tokens, the session projection cache and the access-token denylist. Refresh
// token records default to Redis and can be moved to Postgres with
// [Builder.WithTokenStore] and refresh.NewPostgresStore.
//
// # Failure policy
//
// Infrastructure errors surface as the *Unavailable sentinels in errors.go.
// The rate limiter fails closed unless RateLimitConfig.FailOpen is set. The
// session cache is advisory and never fails a sign-in.
package authcore
