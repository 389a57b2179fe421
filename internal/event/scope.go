package event

import (
	"context"
	"errors"
	"runtime/debug"
	"sync"

	"github.com/google/uuid"
)

// Scope is the per-dispatch context shared by every handler of one event.
// It is closed once after all handlers return.
type Scope struct {
	id     uuid.UUID
	ctx    context.Context
	cancel context.CancelFunc
	event  Event
	client Sender

	mu       sync.Mutex
	values   map[string]any
	cleanups []func()
	closed   bool
}

func newScope(root context.Context, ev Event, client Sender) (*Scope, error) {
	if root.Err() != nil {
		return nil, ErrHostClosed
	}
	ctx, cancel := context.WithCancel(root)
	return &Scope{
		id:     uuid.New(),
		ctx:    ctx,
		cancel: cancel,
		event:  ev,
		client: client,
	}, nil
}

// ID returns the dispatch id.
func (s *Scope) ID() uuid.UUID { return s.id }

// Context is cancelled when the scope closes.
func (s *Scope) Context() context.Context { return s.ctx }

// Event returns the event being dispatched.
func (s *Scope) Event() Event { return s.event }

// Client returns the outbound handle.
func (s *Scope) Client() Sender { return s.client }

// Set stores a value visible to the other handlers of this dispatch.
func (s *Scope) Set(key string, v any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.values == nil {
		s.values = make(map[string]any)
	}
	s.values[key] = v
}

// Value returns a value stored with Set.
func (s *Scope) Value(key string) (any, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.values[key]
	return v, ok
}

// Defer registers fn to run when the scope closes, last in first out.
// On a closed scope fn runs immediately.
func (s *Scope) Defer(fn func()) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		fn()
		return
	}
	s.cleanups = append(s.cleanups, fn)
	s.mu.Unlock()
}

// Closed reports whether the scope has been released.
func (s *Scope) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// close cancels the context and runs cleanups. Panicking cleanups are
// collected and do not stop the rest.
func (s *Scope) close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	cleanups := s.cleanups
	s.cleanups = nil
	s.mu.Unlock()

	s.cancel()

	var errs []error
	for i := len(cleanups) - 1; i >= 0; i-- {
		if err := runCleanup(cleanups[i]); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func runCleanup(fn func()) (err error) {
	defer func() {
		if v := recover(); v != nil {
			err = newPanicError(v)
		}
	}()
	fn()
	return nil
}

func newPanicError(v any) *PanicError {
	return &PanicError{Value: v, Stack: debug.Stack()}
}
