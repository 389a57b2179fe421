package event

import (
	"context"
	"errors"
	"fmt"
)

// Errors
var (
	ErrHostClosed   = errors.New("dispatcher host closed")
	ErrTypeMismatch = errors.New("event type mismatch")
)

// EventType is the dispatch name of an event (e.g. MESSAGE_CREATE).
type EventType string

// AnyEvent is the catch-all registration key.
const AnyEvent EventType = "*"

// Event is a decoded gateway event.
type Event interface {
	Type() EventType
}

// Sender is the client handle passed to handlers for outbound traffic.
type Sender interface {
	Route(ctx context.Context, payload []byte, entityID uint64) error
	Broadcast(ctx context.Context, payload []byte) error
}

// Reporter receives handler failures. Implementations should not panic;
// a panicking or failing reporter is logged and otherwise ignored.
type Reporter interface {
	Report(ctx context.Context, err *HandlerError) error
}

// ReporterFunc adapts a function to Reporter.
type ReporterFunc func(ctx context.Context, err *HandlerError) error

// Report calls f.
func (f ReporterFunc) Report(ctx context.Context, err *HandlerError) error {
	return f(ctx, err)
}

// HandlerRef identifies one registration.
type HandlerRef struct {
	Name      string
	EventType EventType
	Index     int // Position within EventType's handlers
}

func (r HandlerRef) String() string {
	return fmt.Sprintf("%s[%d]:%s", r.EventType, r.Index, r.Name)
}

// HandlerError is a failed handler invocation.
type HandlerError struct {
	EventType EventType
	Err       error
	Handler   HandlerRef
	Client    Sender
	Event     Event
}

func (e *HandlerError) Error() string {
	return fmt.Sprintf("handler %s failed on %s: %v", e.Handler.Name, e.EventType, e.Err)
}

func (e *HandlerError) Unwrap() error {
	return e.Err
}

// PanicError is a recovered handler panic.
type PanicError struct {
	Value any
	Stack []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("handler panic: %v", e.Value)
}

// Stats contains dispatcher counters.
type Stats struct {
	Dispatched     int64 // Events handed to at least one handler
	Skipped        int64 // Events with no handlers
	ScopesOpened   int64
	HandlerErrors  int64
	ReporterErrors int64
}
