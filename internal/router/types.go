package router

import "github.com/rickgao/shardline/internal/event"

// RouterConfig holds configuration for the Event Router.
type RouterConfig struct {
	// Drop dispatches without a typed payload instead of emitting RawEvent.
	DropUnknown bool
}

// DefaultRouterConfig returns default configuration.
func DefaultRouterConfig() RouterConfig {
	return RouterConfig{}
}

// Dispatcher receives decoded events.
type Dispatcher interface {
	Dispatch(ev event.Event)
}

// RouterStats contains runtime statistics.
type RouterStats struct {
	MessagesReceived int64
	MessagesRouted   int64
	ParseErrors      int64
	UnknownMessages  int64
}
