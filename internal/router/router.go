package router

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/rickgao/shardline/internal/connection"
	"github.com/rickgao/shardline/internal/event"
)

// Router decodes raw dispatch frames and hands them to the dispatcher.
type Router interface {
	// Start begins routing messages from the input channel.
	Start(ctx context.Context) error

	// Stop gracefully shuts down the router.
	Stop(ctx context.Context) error

	// Stats returns current router statistics.
	Stats() RouterStats
}

// router is the internal implementation.
type router struct {
	cfg        RouterConfig
	logger     *slog.Logger
	dispatcher Dispatcher

	// Input from the orchestrator
	input <-chan connection.RawMessage

	// Lifecycle
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	received        atomic.Int64
	routed          atomic.Int64
	parseErrors     atomic.Int64
	unknownMessages atomic.Int64
}

// NewRouter creates a new Event Router.
func NewRouter(cfg RouterConfig, input <-chan connection.RawMessage, dispatcher Dispatcher, logger *slog.Logger) Router {
	if logger == nil {
		logger = slog.Default()
	}

	return &router{
		cfg:        cfg,
		logger:     logger.With("component", "router"),
		dispatcher: dispatcher,
		input:      input,
	}
}

// Start begins routing messages.
func (r *router) Start(ctx context.Context) error {
	r.ctx, r.cancel = context.WithCancel(ctx)

	r.wg.Add(1)
	go r.routeLoop()

	r.logger.Info("event router started", "drop_unknown", r.cfg.DropUnknown)
	return nil
}

// Stop gracefully shuts down the router.
func (r *router) Stop(ctx context.Context) error {
	r.logger.Info("stopping event router")

	if r.cancel != nil {
		r.cancel()
	}

	// Wait for goroutine to finish
	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		r.logger.Info("event router stopped")
		return nil
	case <-ctx.Done():
		r.logger.Warn("event router stop timed out")
		return ctx.Err()
	}
}

// Stats returns current statistics.
func (r *router) Stats() RouterStats {
	return RouterStats{
		MessagesReceived: r.received.Load(),
		MessagesRouted:   r.routed.Load(),
		ParseErrors:      r.parseErrors.Load(),
		UnknownMessages:  r.unknownMessages.Load(),
	}
}

// routeLoop is the main routing goroutine.
func (r *router) routeLoop() {
	defer r.wg.Done()

	for {
		select {
		case <-r.ctx.Done():
			return
		case raw, ok := <-r.input:
			if !ok {
				r.logger.Info("input channel closed")
				return
			}
			r.route(raw)
		}
	}
}

// route decodes and dispatches a single message.
func (r *router) route(raw connection.RawMessage) {
	r.received.Add(1)

	ev, known, err := Decode(raw)
	if err != nil {
		r.logger.Warn("failed to decode dispatch",
			"shard", raw.ShardID,
			"type", raw.Type,
			"seq", raw.Seq,
			"error", err,
		)
		r.parseErrors.Add(1)
		return
	}

	if !known {
		r.unknownMessages.Add(1)
		if r.cfg.DropUnknown {
			r.logger.Debug("skipping dispatch", "type", raw.Type)
			return
		}
	}

	r.dispatcher.Dispatch(ev)
	r.routed.Add(1)
}

// Decode converts a dispatch frame into an event. known is false when the
// dispatch has no typed payload and ev is an event.RawEvent.
func Decode(raw connection.RawMessage) (ev event.Event, known bool, err error) {
	switch event.EventType(raw.Type) {
	case event.TypeReady:
		var e event.Ready
		if err := unmarshal(raw, &e); err != nil {
			return nil, true, err
		}
		e.ShardID = raw.ShardID
		return e, true, nil

	case event.TypeResumed:
		return event.Resumed{ShardID: raw.ShardID}, true, nil

	case event.TypeGuildCreate:
		var e event.GuildCreate
		if err := unmarshal(raw, &e); err != nil {
			return nil, true, err
		}
		e.ShardID = raw.ShardID
		return e, true, nil

	case event.TypeMessageCreate:
		var e event.MessageCreate
		if err := unmarshal(raw, &e); err != nil {
			return nil, true, err
		}
		e.ShardID = raw.ShardID
		return e, true, nil
	}

	if raw.Type == "" {
		return nil, false, fmt.Errorf("dispatch without type (seq %d)", raw.Seq)
	}

	return event.RawEvent{
		ShardID: raw.ShardID,
		Name:    event.EventType(raw.Type),
		Seq:     raw.Seq,
		Data:    raw.Data,
	}, false, nil
}

func unmarshal(raw connection.RawMessage, v any) error {
	if err := json.Unmarshal(raw.Data, v); err != nil {
		return fmt.Errorf("decode %s: %w", raw.Type, err)
	}
	return nil
}
