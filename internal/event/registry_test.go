package event

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOn_RegistersUnderStaticType(t *testing.T) {
	b := NewBuilder()

	first := On(b, "first", func(context.Context, *Scope, MessageCreate) error { return nil })
	second := On(b, "second", func(context.Context, *Scope, MessageCreate) error { return nil })
	ready := On(b, "ready", func(context.Context, *Scope, Ready) error { return nil })

	assert.Equal(t, HandlerRef{Name: "first", EventType: TypeMessageCreate, Index: 0}, first)
	assert.Equal(t, HandlerRef{Name: "second", EventType: TypeMessageCreate, Index: 1}, second)
	assert.Equal(t, TypeReady, ready.EventType)

	reg := b.Build()
	regs := reg.Lookup(TypeMessageCreate)
	require.Len(t, regs, 2)
	assert.Equal(t, first, regs[0].Ref)
	assert.Equal(t, second, regs[1].Ref)
	assert.Equal(t, 3, reg.Len())
}

func TestOn_PanicsWithoutStaticType(t *testing.T) {
	b := NewBuilder()

	assert.Panics(t, func() {
		On(b, "raw", func(context.Context, *Scope, RawEvent) error { return nil })
	})
}

func TestOnType_Mismatch(t *testing.T) {
	b := NewBuilder()
	OnType(b, "TYPING_START", "typing", func(context.Context, *Scope, RawEvent) error { return nil })
	regs := b.Build().Lookup("TYPING_START")
	require.Len(t, regs, 1)

	err := regs[0].Invoke(context.Background(), nil, Ready{})
	assert.ErrorIs(t, err, ErrTypeMismatch)

	err = regs[0].Invoke(context.Background(), nil, RawEvent{Name: "TYPING_START"})
	assert.NoError(t, err)
}

func TestRegistration_InvokeRecoversPanic(t *testing.T) {
	b := NewBuilder()
	OnAny(b, "boom", func(context.Context, *Scope, Event) error { panic("boom") })

	err := b.Build().Lookup(AnyEvent)[0].Invoke(context.Background(), nil, Resumed{})

	var perr *PanicError
	require.True(t, errors.As(err, &perr))
	assert.Equal(t, "boom", perr.Value)
	assert.NotEmpty(t, perr.Stack)
}

func TestBuild_Frozen(t *testing.T) {
	b := NewBuilder()
	OnAny(b, "a", func(context.Context, *Scope, Event) error { return nil })
	reg := b.Build()

	OnAny(b, "b", func(context.Context, *Scope, Event) error { return nil })

	assert.Len(t, reg.Lookup(AnyEvent), 1)
	assert.Len(t, b.Build().Lookup(AnyEvent), 2)
}

func TestRegistry_Nil(t *testing.T) {
	var reg *Registry

	assert.Nil(t, reg.Lookup(TypeReady))
	assert.Equal(t, 0, reg.Len())
}

func TestHandlerRef_String(t *testing.T) {
	ref := HandlerRef{Name: "log", EventType: TypeMessageCreate, Index: 2}
	assert.Equal(t, "MESSAGE_CREATE[2]:log", ref.String())
}
