package report

import (
	"context"
	"errors"
	"log/slog"

	"github.com/rickgao/shardline/internal/event"
)

// Log reports handler failures to a logger.
type Log struct {
	logger *slog.Logger
}

// NewLog creates a Log reporter.
func NewLog(logger *slog.Logger) *Log {
	if logger == nil {
		logger = slog.Default()
	}
	return &Log{logger: logger.With("component", "reporter")}
}

// Report logs the failure. It never fails.
func (l *Log) Report(ctx context.Context, herr *event.HandlerError) error {
	attrs := []any{
		"event", herr.EventType,
		"handler", herr.Handler.Name,
		"handler_index", herr.Handler.Index,
		"error", herr.Err,
	}
	if id, ok := shardOf(herr.Event); ok {
		attrs = append(attrs, "shard", id)
	}

	var perr *event.PanicError
	if errors.As(herr.Err, &perr) {
		attrs = append(attrs, "stack", string(perr.Stack))
	}

	l.logger.ErrorContext(ctx, "event handler failed", attrs...)
	return nil
}

// Multi reports to every reporter in order and joins their errors.
func Multi(reporters ...event.Reporter) event.Reporter {
	return event.ReporterFunc(func(ctx context.Context, herr *event.HandlerError) error {
		var errs []error
		for _, r := range reporters {
			if r == nil {
				continue
			}
			if err := r.Report(ctx, herr); err != nil {
				errs = append(errs, err)
			}
		}
		return errors.Join(errs...)
	})
}

// shardOf returns the shard an event arrived on.
func shardOf(ev event.Event) (int, bool) {
	switch e := ev.(type) {
	case event.Ready:
		return e.ShardID, true
	case event.Resumed:
		return e.ShardID, true
	case event.GuildCreate:
		return e.ShardID, true
	case event.MessageCreate:
		return e.ShardID, true
	case event.RawEvent:
		return e.ShardID, true
	}
	return 0, false
}
