package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// MinBatchInterval is the platform-mandated floor between batch starts.
const MinBatchInterval = 5 * time.Second

// ConnectFunc starts the shard at a local index.
type ConnectFunc func(ctx context.Context, index int) error

// Scheduler runs shard connects in rate-limited batches.
type Scheduler struct {
	interval time.Duration
	logger   *slog.Logger

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// New creates a Scheduler using MinBatchInterval.
func New(logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		interval: MinBatchInterval,
		logger:   logger,
		now:      time.Now,
		sleep:    sleepContext,
	}
}

// Run connects every index in order. The first connect error aborts the run;
// shards that already started are left running.
func (s *Scheduler) Run(ctx context.Context, indices []int, maxConcurrency int, connect ConnectFunc) error {
	if maxConcurrency < 1 {
		maxConcurrency = 1
	}

	for start := 0; start < len(indices); start += maxConcurrency {
		end := min(start+maxConcurrency, len(indices))
		batch := indices[start:end]
		began := s.now()

		for _, idx := range batch {
			if err := connect(ctx, idx); err != nil {
				return fmt.Errorf("start shard %d: %w", idx, err)
			}
		}

		if end == len(indices) {
			break
		}

		elapsed := s.now().Sub(began)
		if wait := s.interval - elapsed; wait > 0 {
			s.logger.Debug("waiting for session start window",
				"batch_size", len(batch),
				"wait", wait,
			)
			if err := s.sleep(ctx, wait); err != nil {
				return err
			}
		}
	}

	return nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
