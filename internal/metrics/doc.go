// Package metrics provides Prometheus metrics for monitoring.
//
// Key metrics:
//   - Shard connection state, heartbeat latency and reconnects
//   - Dispatch counts per event type
//   - Handler failures and handler durations
//
// A nil *Metrics is valid and records nothing.
package metrics
