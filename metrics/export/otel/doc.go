// Package otel publishes authcore engine metrics through an OpenTelemetry
// Meter.
//
// [New] registers an Int64ObservableCounter per engine counter
// and a rotation latency bucket gauge labelled by "le". A single callback
// reads authcore.Engine.MetricsSnapshot on each collection cycle.
//
// # What this package must NOT do
//
//   - Own the MeterProvider. Callers supply the Meter.
//   - Mutate engine state.
package otel
