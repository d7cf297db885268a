// Package prometheus exposes authcore engine metrics to Prometheus.
//
// [Collector] implements prometheus.Collector over
// authcore.Engine.MetricsSnapshot. Counters are published as
// authcore_*_total and rotation latency as the
// authcore_refresh_rotate_latency_seconds histogram.
//
// # What this package must NOT do
//
//   - Register with the global Prometheus registry. Callers register the
//     Collector or mount [Handler].
//   - Mutate engine state.
package prometheus
