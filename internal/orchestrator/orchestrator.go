package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"net/url"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/rickgao/shardline/internal/connection"
	"github.com/rickgao/shardline/internal/metrics"
	"github.com/rickgao/shardline/internal/scheduler"
	"github.com/rickgao/shardline/internal/shard"
)

// Orchestrator starts, stops and routes over this process's shards.
type Orchestrator struct {
	cfg       Config
	info      InfoProvider
	factory   ConnFactory
	scheduler *scheduler.Scheduler
	logger    *slog.Logger
	metrics   *metrics.Metrics

	messages chan connection.RawMessage

	// Published once by Start, cleared by Stop.
	state atomic.Pointer[shardSet]

	// Serializes Start and Stop.
	lifecycleMu sync.Mutex

	// Serializes every reconnect, explicit or automatic.
	reconnectMu sync.Mutex

	// Background work (auto-reconnect, monitor)
	bgMu     sync.Mutex
	bgCtx    context.Context
	bgCancel context.CancelFunc
	stopped  bool
	wg       sync.WaitGroup
}

// New creates an Orchestrator. A nil factory uses ClientFactory with
// connection.DefaultClientConfig.
func New(cfg Config, info InfoProvider, factory ConnFactory, logger *slog.Logger, m *metrics.Metrics) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "orchestrator")

	defaults := DefaultConfig()
	if cfg.GatewayVersion == 0 {
		cfg.GatewayVersion = defaults.GatewayVersion
	}
	if cfg.ReconnectBaseDelay <= 0 {
		cfg.ReconnectBaseDelay = defaults.ReconnectBaseDelay
	}
	if cfg.ReconnectMaxDelay < cfg.ReconnectBaseDelay {
		cfg.ReconnectMaxDelay = max(defaults.ReconnectMaxDelay, cfg.ReconnectBaseDelay)
	}
	if cfg.MessageBuffer <= 0 {
		cfg.MessageBuffer = defaults.MessageBuffer
	}
	if cfg.MonitorInterval <= 0 {
		cfg.MonitorInterval = defaults.MonitorInterval
	}
	if factory == nil {
		factory = ClientFactory(connection.DefaultClientConfig(), logger)
	}

	return &Orchestrator{
		cfg:       cfg,
		info:      info,
		factory:   factory,
		scheduler: scheduler.New(logger),
		logger:    logger,
		metrics:   m,
		messages:  make(chan connection.RawMessage, cfg.MessageBuffer),
	}
}

// Start resolves the topology, creates every shard connection and connects
// them in quota-sized batches. On a connect failure the shards already
// started keep running; call Stop to release them.
func (o *Orchestrator) Start(ctx context.Context, presence *connection.Presence) error {
	o.lifecycleMu.Lock()
	defer o.lifecycleMu.Unlock()

	if o.state.Load() != nil {
		return ErrAlreadyStarted
	}

	gi, err := o.info.GatewayInfo(ctx)
	if err != nil {
		return fmt.Errorf("get gateway info: %w", err)
	}

	topo, err := shard.Resolve(o.cfg.Shards, gi.Shards)
	if err != nil {
		return err
	}

	endpoint, err := buildEndpoint(gi.URL, o.cfg.GatewayVersion, o.cfg.Compression)
	if err != nil {
		return err
	}

	o.bgMu.Lock()
	o.bgCtx, o.bgCancel = context.WithCancel(context.WithoutCancel(ctx))
	o.stopped = false
	o.bgMu.Unlock()

	set := &shardSet{
		topology: topo,
		url:      endpoint,
		conns:    make([]connection.Conn, topo.LocalShardCount),
	}
	indices := make([]int, topo.LocalShardCount)
	for i := range set.conns {
		set.conns[i] = o.factory(i, o.messages, o.dropHandler(i))
		indices[i] = i
	}
	o.state.Store(set)

	o.spawn(o.monitorLoop)

	o.logger.Info("starting shards",
		"local", topo.LocalShardCount,
		"total", topo.TotalShards,
		"stride", topo.Stride,
		"max_concurrency", gi.SessionStartLimit.MaxConcurrency,
		"remaining_starts", gi.SessionStartLimit.Remaining,
	)

	err = o.scheduler.Run(ctx, indices, gi.SessionStartLimit.MaxConcurrency, func(ctx context.Context, i int) error {
		if err := set.conns[i].Connect(ctx, endpoint, presence, topo.Info(i)); err != nil {
			return err
		}
		o.logger.Info("shard connected", "shard", topo.GlobalID(i))
		return nil
	})
	o.metrics.SetShardsConnected(countConnected(set.conns))
	if err != nil {
		return err
	}

	o.logger.Info("all shards started", "local", topo.LocalShardCount)
	return nil
}

// Stop disconnects every shard in order. A failing shard does not prevent
// the rest from being disconnected; all failures are returned joined.
func (o *Orchestrator) Stop(ctx context.Context) error {
	o.lifecycleMu.Lock()
	defer o.lifecycleMu.Unlock()

	set := o.state.Load()
	if set == nil {
		return nil
	}

	o.logger.Info("stopping shards")

	o.bgMu.Lock()
	o.stopped = true
	o.bgCancel()
	o.bgMu.Unlock()

	// Wait for background goroutines with timeout
	done := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		o.logger.Warn("shutdown timeout, forcing close")
	}

	var errs []error
	for i, conn := range set.conns {
		if err := conn.Disconnect(ctx); err != nil {
			id := set.topology.GlobalID(i)
			o.logger.Warn("failed to disconnect shard", "shard", id, "error", err)
			errs = append(errs, fmt.Errorf("disconnect shard %d: %w", id, err))
		}
	}

	o.state.Store(nil)
	o.metrics.SetShardsConnected(0)
	o.logger.Info("shards stopped")

	return errors.Join(errs...)
}

// ReconnectAll reconnects every shard in ascending index order, one at a
// time. Failures are collected and the remaining shards still reconnect.
func (o *Orchestrator) ReconnectAll(ctx context.Context) error {
	set, err := o.snapshot()
	if err != nil {
		return err
	}

	o.reconnectMu.Lock()
	defer o.reconnectMu.Unlock()

	var errs []error
	for i, conn := range set.conns {
		id := set.topology.GlobalID(i)
		if err := ctx.Err(); err != nil {
			return errors.Join(append(errs, err)...)
		}

		err := conn.Reconnect(ctx)
		o.metrics.Reconnect(id, err)
		if err != nil {
			o.logger.Warn("reconnect failed", "shard", id, "error", err)
			errs = append(errs, fmt.Errorf("reconnect shard %d: %w", id, err))
			continue
		}
		o.logger.Info("shard reconnected", "shard", id)
	}

	return errors.Join(errs...)
}

// Route writes payload to the shard that owns entityID. The zero entity id
// is not entity scoped and goes to local index 0.
func (o *Orchestrator) Route(ctx context.Context, payload []byte, entityID uint64) error {
	set, err := o.snapshot()
	if err != nil {
		return err
	}

	if entityID == 0 {
		return writeShard(ctx, set, 0, payload)
	}

	id, err := set.topology.ForEntity(entityID)
	if err != nil {
		return err
	}
	index, err := set.topology.LocalIndex(id)
	if err != nil {
		return err
	}

	return writeShard(ctx, set, index, payload)
}

// Broadcast writes payload to every shard concurrently. It fails with
// ErrNotAllConnected, writing nothing, unless every shard is connected.
func (o *Orchestrator) Broadcast(ctx context.Context, payload []byte) error {
	set, err := o.snapshot()
	if err != nil {
		return err
	}

	if n := countConnected(set.conns); n != len(set.conns) {
		return fmt.Errorf("%w: %d of %d", ErrNotAllConnected, n, len(set.conns))
	}

	var g errgroup.Group
	for i := range set.conns {
		g.Go(func() error {
			return writeShard(ctx, set, i, payload)
		})
	}
	return g.Wait()
}

// IsConnected reports whether an owned shard is connected.
func (o *Orchestrator) IsConnected(shardID int) (bool, error) {
	conn, err := o.conn(shardID)
	if err != nil {
		return false, err
	}
	return conn.IsConnected(), nil
}

// IsConnectedFor reports whether the shard owning entityID is connected.
func (o *Orchestrator) IsConnectedFor(entityID uint64) (bool, error) {
	id, err := o.shardFor(entityID)
	if err != nil {
		return false, err
	}
	return o.IsConnected(id)
}

// Latency returns an owned shard's heartbeat latency.
func (o *Orchestrator) Latency(shardID int) (time.Duration, error) {
	conn, err := o.conn(shardID)
	if err != nil {
		return 0, err
	}
	return conn.Latency(), nil
}

// LatencyFor returns the heartbeat latency of the shard owning entityID.
func (o *Orchestrator) LatencyFor(entityID uint64) (time.Duration, error) {
	id, err := o.shardFor(entityID)
	if err != nil {
		return 0, err
	}
	return o.Latency(id)
}

// ShardIDs yields the owned global shard ids from the current topology.
// Before Start the sequence is empty.
func (o *Orchestrator) ShardIDs() iter.Seq[int] {
	set := o.state.Load()
	if set == nil {
		return func(func(int) bool) {}
	}
	return set.topology.ShardIDs()
}

// Topology returns the resolved topology.
func (o *Orchestrator) Topology() (shard.Topology, error) {
	set, err := o.snapshot()
	if err != nil {
		return shard.Topology{}, err
	}
	return set.topology, nil
}

// Messages returns the dispatch frames of every shard. The channel is never
// closed.
func (o *Orchestrator) Messages() <-chan connection.RawMessage {
	return o.messages
}

// Stats returns current statistics.
func (o *Orchestrator) Stats() Stats {
	stats := Stats{BufferedMessages: len(o.messages)}

	set := o.state.Load()
	if set == nil {
		return stats
	}

	stats.LocalShards = set.topology.LocalShardCount
	stats.TotalShards = set.topology.TotalShards
	stats.Stride = set.topology.Stride
	stats.ConnectedCount = countConnected(set.conns)
	return stats
}

func (o *Orchestrator) snapshot() (*shardSet, error) {
	set := o.state.Load()
	if set == nil {
		return nil, ErrNotStarted
	}
	return set, nil
}

func (o *Orchestrator) conn(shardID int) (connection.Conn, error) {
	set, err := o.snapshot()
	if err != nil {
		return nil, err
	}
	index, err := set.topology.LocalIndex(shardID)
	if err != nil {
		return nil, err
	}
	return set.conns[index], nil
}

func (o *Orchestrator) shardFor(entityID uint64) (int, error) {
	set, err := o.snapshot()
	if err != nil {
		return 0, err
	}
	return set.topology.ForEntity(entityID)
}

// spawn runs fn in the background unless Stop has begun.
func (o *Orchestrator) spawn(fn func(ctx context.Context)) bool {
	o.bgMu.Lock()
	defer o.bgMu.Unlock()

	if o.stopped || o.bgCtx == nil {
		return false
	}

	ctx := o.bgCtx
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		fn(ctx)
	}()
	return true
}

// dropHandler returns the OnDrop callback for a local index.
func (o *Orchestrator) dropHandler(index int) func(error) {
	return func(err error) {
		set := o.state.Load()
		if set == nil || index >= len(set.conns) {
			return
		}
		o.logger.Warn("shard dropped", "shard", set.topology.GlobalID(index), "error", err)
		o.metrics.SetShardsConnected(countConnected(set.conns))
		o.spawn(func(ctx context.Context) {
			o.reconnect(ctx, set, index)
		})
	}
}

// reconnect retries one shard with exponential backoff until it is
// connected again or the orchestrator stops.
func (o *Orchestrator) reconnect(ctx context.Context, set *shardSet, index int) {
	conn := set.conns[index]
	id := set.topology.GlobalID(index)
	wait := o.cfg.ReconnectBaseDelay

	for {
		select {
		case <-ctx.Done():
			return
		case <-time.After(wait):
		}

		o.reconnectMu.Lock()
		if conn.IsConnected() {
			o.reconnectMu.Unlock()
			return
		}
		o.logger.Info("attempting reconnection", "shard", id)
		err := conn.Reconnect(ctx)
		o.reconnectMu.Unlock()

		o.metrics.Reconnect(id, err)
		if err == nil {
			o.logger.Info("reconnected", "shard", id)
			o.metrics.SetShardsConnected(countConnected(set.conns))
			return
		}

		o.logger.Warn("reconnection failed", "shard", id, "error", err, "retry_in", wait*2)

		// Exponential backoff
		wait *= 2
		if wait > o.cfg.ReconnectMaxDelay {
			wait = o.cfg.ReconnectMaxDelay
		}
	}
}

// monitorLoop publishes connection state and latency gauges.
func (o *Orchestrator) monitorLoop(ctx context.Context) {
	if o.metrics == nil {
		return
	}

	ticker := time.NewTicker(o.cfg.MonitorInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			set := o.state.Load()
			if set == nil {
				continue
			}
			o.metrics.SetShardsConnected(countConnected(set.conns))
			for i, conn := range set.conns {
				o.metrics.ObserveLatency(set.topology.GlobalID(i), conn.Latency())
			}
		}
	}
}

func writeShard(ctx context.Context, set *shardSet, index int, payload []byte) error {
	if err := set.conns[index].Write(ctx, payload); err != nil {
		return fmt.Errorf("write shard %d: %w", set.topology.GlobalID(index), err)
	}
	return nil
}

func countConnected(conns []connection.Conn) int {
	n := 0
	for _, c := range conns {
		if c.IsConnected() {
			n++
		}
	}
	return n
}

// buildEndpoint adds the protocol query parameters to the gateway URL.
func buildEndpoint(base string, version int, compression connection.Compression) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("parse gateway url: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("parse gateway url: %q is not absolute", base)
	}

	q := u.Query()
	q.Set("v", strconv.Itoa(version))
	q.Set("encoding", "json")
	if compression.Enabled && compression.Token != "" {
		q.Set("compress", compression.Token)
	}
	u.RawQuery = q.Encode()

	return u.String(), nil
}
