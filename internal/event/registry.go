package event

import (
	"context"
	"fmt"
	"slices"
)

// HandlerFunc is the type-erased form every registration is stored as.
type HandlerFunc func(ctx context.Context, s *Scope, ev Event) error

// Registration is one handler bound to an event type.
type Registration struct {
	Ref    HandlerRef
	invoke HandlerFunc
}

// Invoke runs the handler. A panic is returned as *PanicError.
func (r Registration) Invoke(ctx context.Context, s *Scope, ev Event) (err error) {
	defer func() {
		if v := recover(); v != nil {
			err = newPanicError(v)
		}
	}()
	return r.invoke(ctx, s, ev)
}

// Builder collects registrations. It is not safe for concurrent use.
type Builder struct {
	handlers map[EventType][]Registration
}

// NewBuilder creates an empty Builder.
func NewBuilder() *Builder {
	return &Builder{handlers: make(map[EventType][]Registration)}
}

func (b *Builder) add(t EventType, name string, fn HandlerFunc) HandlerRef {
	ref := HandlerRef{
		Name:      name,
		EventType: t,
		Index:     len(b.handlers[t]),
	}
	b.handlers[t] = append(b.handlers[t], Registration{Ref: ref, invoke: fn})
	return ref
}

// On registers fn for the event type reported by E's zero value.
// It panics if that type is empty; use OnType for events such as RawEvent
// whose type is only known per instance.
func On[E Event](b *Builder, name string, fn func(context.Context, *Scope, E) error) HandlerRef {
	var zero E
	t := zero.Type()
	if t == "" {
		panic(fmt.Sprintf("event: %T has no static type, use OnType", zero))
	}
	return OnType(b, t, name, fn)
}

// OnType registers fn for t. Events of type t that are not an E fail with
// ErrTypeMismatch.
func OnType[E Event](b *Builder, t EventType, name string, fn func(context.Context, *Scope, E) error) HandlerRef {
	return b.add(t, name, func(ctx context.Context, s *Scope, ev Event) error {
		e, ok := ev.(E)
		if !ok {
			return fmt.Errorf("%w: %s got %T", ErrTypeMismatch, t, ev)
		}
		return fn(ctx, s, e)
	})
}

// OnAny registers fn for every event.
func OnAny(b *Builder, name string, fn func(context.Context, *Scope, Event) error) HandlerRef {
	return b.add(AnyEvent, name, fn)
}

// Build freezes the registrations. The Builder may keep being used; later
// registrations do not affect the returned Registry.
func (b *Builder) Build() *Registry {
	handlers := make(map[EventType][]Registration, len(b.handlers))
	for t, regs := range b.handlers {
		handlers[t] = slices.Clone(regs)
	}
	return &Registry{handlers: handlers}
}

// Registry is an immutable handler table, safe for concurrent reads.
type Registry struct {
	handlers map[EventType][]Registration
}

// Lookup returns the handlers for t in registration order. The result must
// not be modified.
func (r *Registry) Lookup(t EventType) []Registration {
	if r == nil {
		return nil
	}
	return slices.Clip(r.handlers[t])
}

// Len returns the total number of registrations.
func (r *Registry) Len() int {
	if r == nil {
		return 0
	}
	n := 0
	for _, regs := range r.handlers {
		n += len(regs)
	}
	return n
}
