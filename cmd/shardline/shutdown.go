package main

import (
	"context"
	"log/slog"
)

type stopper interface {
	Stop(ctx context.Context) error
}

type drainer interface {
	Shutdown() bool
	Wait(ctx context.Context) error
}

type httpShutdowner interface {
	Shutdown(ctx context.Context) error
}

// services are the components stopped on exit. journal may be nil.
type services struct {
	dispatcher drainer
	router     stopper
	// releaseDispatch cancels the context handlers and the journal run on.
	releaseDispatch context.CancelFunc
	shards          stopper
	quota           stopper
	journal         stopper
	health          httpShutdowner
}

type shutdownStep struct {
	name string
	run  func(ctx context.Context) error
}

// shutdownSteps orders the exit sequence: stop intake, drain handlers, then
// tear down what they depend on. The journal keeps consuming until the
// drain is over so failures reported by in-flight handlers are persisted.
func shutdownSteps(s services) []shutdownStep {
	steps := []shutdownStep{
		{"dispatcher", func(context.Context) error { s.dispatcher.Shutdown(); return nil }},
		{"router", s.router.Stop},
		{"in-flight dispatches", s.dispatcher.Wait},
		{"dispatch context", func(context.Context) error { s.releaseDispatch(); return nil }},
		{"shards", s.shards.Stop},
		{"quota poller", s.quota.Stop},
	}
	if s.journal != nil {
		steps = append(steps, shutdownStep{"failure journal", s.journal.Stop})
	}
	return append(steps, shutdownStep{"health server", s.health.Shutdown})
}

// shutdown runs every step in order. A failing step is logged and the rest
// still run.
func shutdown(ctx context.Context, logger *slog.Logger, steps []shutdownStep) {
	for _, step := range steps {
		if err := step.run(ctx); err != nil {
			logger.Warn("shutdown step failed", "step", step.name, "error", err)
		}
	}
}
