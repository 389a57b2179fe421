// Package report implements event.Reporter sinks for handler failures.
//
// Reporters:
//   - Log: writes each failure to slog
//   - Journal: batches failures into the handler_failures table (PostgreSQL)
//   - Multi: fans a failure out to several reporters
//
// The journal is append-only.
package report
