package event

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingReporter struct {
	mu      sync.Mutex
	reports []*HandlerError
}

func (r *recordingReporter) Report(_ context.Context, err *HandlerError) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reports = append(r.reports, err)
	return nil
}

func (r *recordingReporter) all() []*HandlerError {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*HandlerError(nil), r.reports...)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestDispatcher(t *testing.T, reg *Registry, reporter Reporter) *Dispatcher {
	t.Helper()
	return NewDispatcher(context.Background(), reg, DispatcherConfig{
		Reporter: reporter,
		Logger:   testLogger(),
	})
}

func waitDispatcher(t *testing.T, d *Dispatcher) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, d.Wait(ctx))
}

func TestDispatcher_NoHandlers(t *testing.T) {
	b := NewBuilder()
	On(b, "ready", func(context.Context, *Scope, Ready) error { return nil })
	d := newTestDispatcher(t, b.Build(), nil)

	d.Dispatch(MessageCreate{})
	waitDispatcher(t, d)

	stats := d.Stats()
	assert.Equal(t, int64(1), stats.Skipped)
	assert.Equal(t, int64(0), stats.ScopesOpened)
	assert.Equal(t, int64(0), stats.Dispatched)
}

func TestDispatcher_FailureIsolation(t *testing.T) {
	var completed atomic.Bool
	boom := errors.New("boom")

	b := NewBuilder()
	failing := On(b, "failing", func(context.Context, *Scope, MessageCreate) error {
		return boom
	})
	On(b, "ok", func(context.Context, *Scope, MessageCreate) error {
		time.Sleep(10 * time.Millisecond)
		completed.Store(true)
		return nil
	})

	reporter := &recordingReporter{}
	d := newTestDispatcher(t, b.Build(), reporter)

	ev := MessageCreate{Content: "hello"}
	d.Dispatch(ev)
	waitDispatcher(t, d)

	assert.True(t, completed.Load())

	reports := reporter.all()
	require.Len(t, reports, 1)
	assert.Equal(t, TypeMessageCreate, reports[0].EventType)
	assert.Equal(t, failing, reports[0].Handler)
	assert.ErrorIs(t, reports[0], boom)
	assert.Equal(t, ev, reports[0].Event)
	assert.Equal(t, int64(1), d.Stats().HandlerErrors)
}

func TestDispatcher_PanicReported(t *testing.T) {
	b := NewBuilder()
	ref := On(b, "panics", func(context.Context, *Scope, Ready) error {
		panic("handler exploded")
	})

	reporter := &recordingReporter{}
	d := newTestDispatcher(t, b.Build(), reporter)

	d.Dispatch(Ready{})
	waitDispatcher(t, d)

	reports := reporter.all()
	require.Len(t, reports, 1)
	assert.Equal(t, ref, reports[0].Handler)

	var perr *PanicError
	require.ErrorAs(t, reports[0], &perr)
	assert.Equal(t, "handler exploded", perr.Value)
}

func TestDispatcher_CatchAll(t *testing.T) {
	var (
		mu   sync.Mutex
		seen []EventType
	)

	b := NewBuilder()
	OnAny(b, "all", func(_ context.Context, _ *Scope, ev Event) error {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, ev.Type())
		return nil
	})
	d := newTestDispatcher(t, b.Build(), nil)

	d.Dispatch(RawEvent{Name: "TYPING_START"})
	waitDispatcher(t, d)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []EventType{"TYPING_START"}, seen)
}

func TestDispatcher_ExactAndCatchAllShareScope(t *testing.T) {
	var (
		mu     sync.Mutex
		scopes []*Scope
	)
	record := func(s *Scope) {
		mu.Lock()
		defer mu.Unlock()
		scopes = append(scopes, s)
	}

	var cleanups atomic.Int32
	b := NewBuilder()
	On(b, "exact", func(_ context.Context, s *Scope, _ GuildCreate) error {
		s.Defer(func() { cleanups.Add(1) })
		record(s)
		return nil
	})
	OnAny(b, "any", func(_ context.Context, s *Scope, _ Event) error {
		record(s)
		return errors.New("fails")
	})
	d := newTestDispatcher(t, b.Build(), &recordingReporter{})

	d.Dispatch(GuildCreate{ID: 1})
	waitDispatcher(t, d)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, scopes, 2)
	assert.Same(t, scopes[0], scopes[1])
	assert.True(t, scopes[0].Closed())
	assert.Error(t, scopes[0].Context().Err())
	assert.Equal(t, int32(1), cleanups.Load())
	assert.Equal(t, int64(1), d.Stats().ScopesOpened)
}

func TestDispatcher_ScopePerDispatch(t *testing.T) {
	var (
		mu  sync.Mutex
		ids = make(map[string]bool)
	)

	b := NewBuilder()
	On(b, "msg", func(_ context.Context, s *Scope, _ MessageCreate) error {
		mu.Lock()
		defer mu.Unlock()
		ids[s.ID().String()] = true
		return nil
	})
	d := newTestDispatcher(t, b.Build(), nil)

	for range 5 {
		d.Dispatch(MessageCreate{})
	}
	waitDispatcher(t, d)

	mu.Lock()
	defer mu.Unlock()
	assert.Len(t, ids, 5)
}

func TestDispatcher_AfterShutdownIsNoop(t *testing.T) {
	var calls atomic.Int32

	b := NewBuilder()
	OnAny(b, "count", func(context.Context, *Scope, Event) error {
		calls.Add(1)
		return nil
	})
	d := newTestDispatcher(t, b.Build(), nil)

	assert.False(t, d.IsShutdown())
	assert.True(t, d.Shutdown())
	assert.False(t, d.Shutdown())
	assert.True(t, d.IsShutdown())

	d.Dispatch(Ready{})
	d.Dispatch(RawEvent{Name: "TYPING_START"})
	waitDispatcher(t, d)

	assert.Equal(t, int32(0), calls.Load())
	assert.Equal(t, int64(0), d.Stats().ScopesOpened)
}

func TestDispatcher_InFlightSurvivesShutdown(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	var finished atomic.Bool

	b := NewBuilder()
	On(b, "slow", func(ctx context.Context, _ *Scope, _ Ready) error {
		close(started)
		<-release
		if ctx.Err() == nil {
			finished.Store(true)
		}
		return nil
	})
	d := newTestDispatcher(t, b.Build(), nil)

	d.Dispatch(Ready{})
	<-started

	require.True(t, d.Shutdown())
	close(release)
	waitDispatcher(t, d)

	assert.True(t, finished.Load())
}

func TestDispatcher_HostClosedIgnored(t *testing.T) {
	var calls atomic.Int32
	reporter := &recordingReporter{}

	b := NewBuilder()
	OnAny(b, "count", func(context.Context, *Scope, Event) error {
		calls.Add(1)
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	d := NewDispatcher(ctx, b.Build(), DispatcherConfig{Reporter: reporter, Logger: testLogger()})

	d.Dispatch(Ready{})
	waitDispatcher(t, d)

	assert.Equal(t, int32(0), calls.Load())
	assert.Empty(t, reporter.all())
	assert.Equal(t, int64(0), d.Stats().ScopesOpened)
}

func TestDispatcher_ReporterFailureContained(t *testing.T) {
	b := NewBuilder()
	On(b, "fails", func(context.Context, *Scope, Ready) error { return errors.New("x") })
	On(b, "fails-too", func(context.Context, *Scope, Ready) error { return errors.New("y") })

	var calls atomic.Int32
	reporter := ReporterFunc(func(_ context.Context, herr *HandlerError) error {
		calls.Add(1)
		if herr.Handler.Name == "fails" {
			panic("reporter exploded")
		}
		return errors.New("journal unavailable")
	})
	d := newTestDispatcher(t, b.Build(), reporter)

	assert.NotPanics(t, func() {
		d.Dispatch(Ready{})
		waitDispatcher(t, d)
	})

	assert.Equal(t, int32(2), calls.Load())
	assert.Equal(t, int64(2), d.Stats().ReporterErrors)
}

func TestDispatcher_WaitHonorsContext(t *testing.T) {
	release := make(chan struct{})
	defer close(release)

	b := NewBuilder()
	On(b, "blocks", func(context.Context, *Scope, Ready) error {
		<-release
		return nil
	})
	d := newTestDispatcher(t, b.Build(), nil)
	d.Dispatch(Ready{})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	assert.ErrorIs(t, d.Wait(ctx), context.DeadlineExceeded)
}

func TestDispatcher_ClientPassedThrough(t *testing.T) {
	client := &nopSender{}
	var got atomic.Value

	b := NewBuilder()
	On(b, "client", func(_ context.Context, s *Scope, _ Ready) error {
		got.Store(s.Client())
		return errors.New("report me")
	})
	reporter := &recordingReporter{}
	d := NewDispatcher(context.Background(), b.Build(), DispatcherConfig{
		Client:   client,
		Reporter: reporter,
		Logger:   testLogger(),
	})

	d.Dispatch(Ready{})
	waitDispatcher(t, d)

	assert.Same(t, client, got.Load())
	require.Len(t, reporter.all(), 1)
	assert.Same(t, client, reporter.all()[0].Client)
}

type nopSender struct{}

func (*nopSender) Route(context.Context, []byte, uint64) error { return nil }
func (*nopSender) Broadcast(context.Context, []byte) error     { return nil }
