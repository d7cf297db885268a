// Package audit implements async event dispatching for security-relevant
// state transitions: token rotation, reuse detection, OTP verification, rate
// limit denials.
//
// # Components
//
//   - [Sink]: interface for event consumers (channel, JSON writer, slog, no-op).
//   - [Dispatcher]: buffered async relay with drop-if-full or block-if-full.
//   - [Event]: structured audit record.
//
// This package owns buffering and delivery only. The engine decides which
// events to emit.
package audit
