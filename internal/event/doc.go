// Package event delivers decoded gateway events to registered handlers.
//
// Handlers are registered on a Builder and frozen into a Registry. A
// Dispatcher resolves the handlers for each event (exact type, then the
// AnyEvent catch-all), opens one Scope per dispatch, runs every handler in
// its own goroutine and closes the scope after all of them return. Handler
// errors and panics are wrapped in *HandlerError and passed to a Reporter;
// they never reach the caller or sibling handlers.
//
// Shutdown is one-way. Dispatches accepted before it keep running.
package event
