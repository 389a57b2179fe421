package poller

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rickgao/shardline/internal/api"
	"github.com/rickgao/shardline/internal/metrics"
)

// InfoSource fetches gateway connection info.
type InfoSource interface {
	GatewayInfo(ctx context.Context) (api.GatewayInfo, error)
}

// Config holds poller configuration.
type Config struct {
	Interval time.Duration // Poll interval (default: 10m)
	Timeout  time.Duration // Per-request timeout (default: 10s)
	LowWater int           // Warn at or below this many remaining starts
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Interval: 10 * time.Minute,
		Timeout:  10 * time.Second,
		LowWater: 10,
	}
}

// Stats reports poll outcomes.
type Stats struct {
	Polls  int64
	Errors int64
}

// Poller periodically refreshes the identify quota via REST API.
type Poller struct {
	cfg     Config
	source  InfoSource
	metrics *metrics.Metrics
	logger  *slog.Logger

	latest atomic.Pointer[api.SessionStartLimit]
	polls  atomic.Int64
	errors atomic.Int64

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a new Poller.
func New(cfg Config, source InfoSource, m *metrics.Metrics, logger *slog.Logger) *Poller {
	if logger == nil {
		logger = slog.Default()
	}
	def := DefaultConfig()
	if cfg.Interval <= 0 {
		cfg.Interval = def.Interval
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	return &Poller{
		cfg:     cfg,
		source:  source,
		metrics: m,
		logger:  logger.With("component", "poller"),
	}
}

// Start begins the polling loop.
func (p *Poller) Start(ctx context.Context) error {
	p.ctx, p.cancel = context.WithCancel(ctx)

	p.wg.Add(1)
	go p.run()

	p.logger.Info("session quota poller started", "interval", p.cfg.Interval)

	return nil
}

// Stop gracefully shuts down the poller.
func (p *Poller) Stop(ctx context.Context) error {
	if p.cancel != nil {
		p.cancel()
	}

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.logger.Info("session quota poller stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Latest returns the most recently fetched quota.
func (p *Poller) Latest() (api.SessionStartLimit, bool) {
	l := p.latest.Load()
	if l == nil {
		return api.SessionStartLimit{}, false
	}
	return *l, true
}

// Stats returns poll counters.
func (p *Poller) Stats() Stats {
	return Stats{
		Polls:  p.polls.Load(),
		Errors: p.errors.Load(),
	}
}

func (p *Poller) run() {
	defer p.wg.Done()

	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()

	// Poll immediately on start.
	p.poll()

	for {
		select {
		case <-p.ctx.Done():
			return
		case <-ticker.C:
			p.poll()
		}
	}
}

func (p *Poller) poll() {
	ctx, cancel := context.WithTimeout(p.ctx, p.cfg.Timeout)
	defer cancel()

	p.polls.Add(1)
	info, err := p.source.GatewayInfo(ctx)
	if err != nil {
		if p.ctx.Err() == nil {
			p.errors.Add(1)
			p.logger.Warn("failed to poll session quota", "err", err)
		}
		return
	}

	limit := info.SessionStartLimit
	p.latest.Store(&limit)
	p.metrics.SetSessionStarts(limit.Remaining, limit.Total, limit.MaxConcurrency)

	if limit.Remaining <= p.cfg.LowWater {
		p.logger.Warn("session start quota low",
			"remaining", limit.Remaining,
			"total", limit.Total,
			"reset_in", limit.ResetIn(),
		)
		return
	}
	p.logger.Debug("session quota refreshed",
		"remaining", limit.Remaining,
		"total", limit.Total,
	)
}
