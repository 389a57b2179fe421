package main

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
)

type callRecorder struct {
	calls []string
}

func (r *callRecorder) record(name string) { r.calls = append(r.calls, name) }

type fakeStopper struct {
	rec  *callRecorder
	name string
	err  error
}

func (f fakeStopper) Stop(context.Context) error {
	f.rec.record(f.name)
	return f.err
}

func (f fakeStopper) Shutdown(context.Context) error {
	f.rec.record(f.name)
	return f.err
}

type fakeDrainer struct {
	rec      *callRecorder
	released *bool
	// releasedBeforeWait records whether the dispatch context was already
	// cancelled when Wait ran.
	releasedBeforeWait bool
}

func (f *fakeDrainer) Shutdown() bool {
	f.rec.record("dispatcher.shutdown")
	return true
}

func (f *fakeDrainer) Wait(context.Context) error {
	f.rec.record("dispatcher.wait")
	f.releasedBeforeWait = *f.released
	return nil
}

func newServices(rec *callRecorder, journal bool, healthErr error) (services, *fakeDrainer) {
	released := false
	d := &fakeDrainer{rec: rec, released: &released}
	svc := services{
		dispatcher: d,
		router:     fakeStopper{rec: rec, name: "router"},
		releaseDispatch: func() {
			released = true
			rec.record("release")
		},
		shards: fakeStopper{rec: rec, name: "shards"},
		quota:  fakeStopper{rec: rec, name: "quota"},
		health: fakeStopper{rec: rec, name: "health", err: healthErr},
	}
	if journal {
		svc.journal = fakeStopper{rec: rec, name: "journal"}
	}
	return svc, d
}

func TestShutdown_Order(t *testing.T) {
	rec := &callRecorder{}
	svc, d := newServices(rec, true, nil)

	shutdown(context.Background(), slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil)), shutdownSteps(svc))

	assert.Equal(t, []string{
		"dispatcher.shutdown",
		"router",
		"dispatcher.wait",
		"release",
		"shards",
		"quota",
		"journal",
		"health",
	}, rec.calls)
	assert.False(t, d.releasedBeforeWait, "journal context cancelled before handlers drained")
}

func TestShutdown_WithoutJournal(t *testing.T) {
	rec := &callRecorder{}
	svc, _ := newServices(rec, false, nil)

	shutdown(context.Background(), slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil)), shutdownSteps(svc))

	assert.NotContains(t, rec.calls, "journal")
	assert.Equal(t, "health", rec.calls[len(rec.calls)-1])
}

func TestShutdown_LogsFailuresAndContinues(t *testing.T) {
	rec := &callRecorder{}
	svc, _ := newServices(rec, true, errors.New("listener busy"))
	svc.shards = fakeStopper{rec: rec, name: "shards", err: errors.New("shard 3 close")}

	var buf bytes.Buffer
	shutdown(context.Background(), slog.New(slog.NewTextHandler(&buf, nil)), shutdownSteps(svc))

	assert.Contains(t, rec.calls, "journal", "steps after a failure still run")
	out := buf.String()
	assert.Contains(t, out, "level=WARN")
	assert.Contains(t, out, "step=shards")
	assert.Contains(t, out, `step="health server"`)
	assert.Contains(t, out, `error="listener busy"`)
}
