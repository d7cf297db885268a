// Package rate provides the fixed-window request throttle shared by every
// authentication entry point.
//
// # Window semantics
//
// One Lua script performs INCR, sets the window expiry on the first hit and
// reads the remaining TTL, so increment-and-compare is a single atomic step
// against Redis. The increment always happens, including on denial, so a
// denied scope stays denied until the window expires. Scope keys are chosen
// by callers (login:<id>, otp:<id>, refresh:<hash>, ...) and stored under the
// "arl:" prefix.
//
// # What this package must NOT do
//
//   - Implement domain-specific policies (the engine picks limits per scope).
//   - Decrement or reset counters on denial.
//   - Be imported outside the authcore module.
package rate
