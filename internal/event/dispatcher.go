package event

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rickgao/shardline/internal/metrics"
)

// DispatcherConfig holds a Dispatcher's collaborators.
type DispatcherConfig struct {
	Client   Sender
	Reporter Reporter // nil logs failures only
	Logger   *slog.Logger
	Metrics  *metrics.Metrics
}

// Dispatcher fans events out to handlers.
type Dispatcher struct {
	registry *Registry
	client   Sender
	reporter Reporter
	logger   *slog.Logger
	metrics  *metrics.Metrics

	// Host lifetime. Scopes derive from it.
	root context.Context

	// mu orders wg.Add against Shutdown so Wait never races a late Add.
	mu       sync.RWMutex
	shutdown atomic.Bool
	wg       sync.WaitGroup

	dispatched     atomic.Int64
	skipped        atomic.Int64
	scopesOpened   atomic.Int64
	handlerErrors  atomic.Int64
	reporterErrors atomic.Int64
}

// NewDispatcher creates a Dispatcher bound to the host context ctx. Once ctx
// is done, dispatches are dropped silently.
func NewDispatcher(ctx context.Context, registry *Registry, cfg DispatcherConfig) *Dispatcher {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Dispatcher{
		registry: registry,
		client:   cfg.Client,
		reporter: cfg.Reporter,
		logger:   logger.With("component", "dispatcher"),
		metrics:  cfg.Metrics,
		root:     ctx,
	}
}

// Dispatch delivers ev to its handlers in the background. It is a no-op
// after Shutdown or when no handler matches.
func (d *Dispatcher) Dispatch(ev Event) {
	if ev == nil || d.shutdown.Load() {
		return
	}

	t := ev.Type()
	exact := d.registry.Lookup(t)
	var catchAll []Registration
	if t != AnyEvent {
		catchAll = d.registry.Lookup(AnyEvent)
	}
	if len(exact) == 0 && len(catchAll) == 0 {
		d.skipped.Add(1)
		return
	}

	regs := make([]Registration, 0, len(exact)+len(catchAll))
	regs = append(regs, exact...)
	regs = append(regs, catchAll...)

	d.mu.RLock()
	if d.shutdown.Load() {
		d.mu.RUnlock()
		return
	}
	d.wg.Add(1)
	d.mu.RUnlock()

	go d.run(ev, regs)
}

// Shutdown stops accepting dispatches. It returns true for the call that
// made the transition. In-flight dispatches are not cancelled.
func (d *Dispatcher) Shutdown() bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.shutdown.CompareAndSwap(false, true) {
		return false
	}
	d.logger.Info("dispatcher shut down")
	return true
}

// IsShutdown reports whether Shutdown has been called.
func (d *Dispatcher) IsShutdown() bool {
	return d.shutdown.Load()
}

// Wait blocks until every accepted dispatch has finished or ctx is done.
// Call it after Shutdown to drain.
func (d *Dispatcher) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stats returns current counters.
func (d *Dispatcher) Stats() Stats {
	return Stats{
		Dispatched:     d.dispatched.Load(),
		Skipped:        d.skipped.Load(),
		ScopesOpened:   d.scopesOpened.Load(),
		HandlerErrors:  d.handlerErrors.Load(),
		ReporterErrors: d.reporterErrors.Load(),
	}
}

func (d *Dispatcher) run(ev Event, regs []Registration) {
	defer d.wg.Done()

	scope, err := newScope(d.root, ev, d.client)
	if err != nil {
		if !errors.Is(err, ErrHostClosed) {
			d.logger.Error("failed to open dispatch scope", "event", ev.Type(), "error", err)
		}
		return
	}
	d.scopesOpened.Add(1)
	defer func() {
		if err := scope.close(); err != nil {
			d.logger.Warn("dispatch scope cleanup failed", "event", ev.Type(), "scope", scope.ID(), "error", err)
		}
	}()

	d.dispatched.Add(1)
	d.metrics.Dispatch(string(ev.Type()))

	var wg sync.WaitGroup
	for _, reg := range regs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d.invoke(scope, ev, reg)
		}()
	}
	wg.Wait()
}

func (d *Dispatcher) invoke(scope *Scope, ev Event, reg Registration) {
	start := time.Now()
	err := reg.Invoke(scope.Context(), scope, ev)
	d.metrics.HandlerDone(string(ev.Type()), reg.Ref.Name, time.Since(start), err != nil)
	if err == nil {
		return
	}

	d.handlerErrors.Add(1)
	d.report(scope, &HandlerError{
		EventType: ev.Type(),
		Err:       err,
		Handler:   reg.Ref,
		Client:    d.client,
		Event:     ev,
	})
}

func (d *Dispatcher) report(scope *Scope, herr *HandlerError) {
	defer func() {
		if v := recover(); v != nil {
			d.reporterErrors.Add(1)
			d.logger.Error("error reporter panicked",
				"event", herr.EventType,
				"handler", herr.Handler.Name,
				"panic", v,
			)
		}
	}()

	if d.reporter == nil {
		d.logger.Error("handler failed",
			"event", herr.EventType,
			"handler", herr.Handler.Name,
			"scope", scope.ID(),
			"error", herr.Err,
		)
		return
	}

	if err := d.reporter.Report(scope.Context(), herr); err != nil {
		d.reporterErrors.Add(1)
		d.logger.Error("failed to report handler error",
			"event", herr.EventType,
			"handler", herr.Handler.Name,
			"error", err,
		)
	}
}
