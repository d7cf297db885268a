// Package flows contains the orchestrators behind the token and challenge
// operations of the root Engine.
//
// Each flow (RunIssue, RunRotate, RunRequestOTP, RunVerifyOTP, RunLogout)
// takes a typed dependency struct and returns a result that carries a
// failure kind instead of a root-level error. The Engine maps kinds to its
// public sentinels, emits audit events and records metrics.
//
// # What this package must NOT do
//
//   - Hold mutable state between calls.
//   - Import authcore (to avoid import cycles).
//   - Retry store operations. A failed step is reported, never repeated.
package flows
