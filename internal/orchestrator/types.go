package orchestrator

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/rickgao/shardline/internal/api"
	"github.com/rickgao/shardline/internal/connection"
	"github.com/rickgao/shardline/internal/shard"
)

// Errors
var (
	ErrNotAllConnected = errors.New("not all shards connected")
	ErrNotStarted      = errors.New("orchestrator not started")
	ErrAlreadyStarted  = errors.New("orchestrator already started")
)

// InfoProvider supplies the platform's gateway recommendation.
type InfoProvider interface {
	GatewayInfo(ctx context.Context) (api.GatewayInfo, error)
}

// ConnFactory creates the connection for a local shard index. The connection
// must forward dispatches to sink and call onDrop when its session is lost
// without Disconnect.
type ConnFactory func(index int, sink chan<- connection.RawMessage, onDrop func(error)) connection.Conn

// ClientFactory returns a ConnFactory building websocket clients from cfg.
func ClientFactory(cfg connection.ClientConfig, logger *slog.Logger) ConnFactory {
	if logger == nil {
		logger = slog.Default()
	}
	return func(index int, sink chan<- connection.RawMessage, onDrop func(error)) connection.Conn {
		c := cfg
		c.Sink = sink
		c.OnDrop = onDrop
		return connection.NewClient(c, logger.With("shard_index", index))
	}
}

// Config holds orchestrator configuration.
type Config struct {
	Shards             shard.Options
	GatewayVersion     int                    // Default: 10
	Compression        connection.Compression // Must match the clients' setting
	ReconnectBaseDelay time.Duration          // Default: 1s
	ReconnectMaxDelay  time.Duration          // Default: 60s
	MessageBuffer      int                    // Default: 1000
	MonitorInterval    time.Duration          // Default: 15s
}

// DefaultConfig returns default configuration.
func DefaultConfig() Config {
	return Config{
		GatewayVersion:     10,
		ReconnectBaseDelay: time.Second,
		ReconnectMaxDelay:  60 * time.Second,
		MessageBuffer:      1000,
		MonitorInterval:    15 * time.Second,
	}
}

// Stats provides statistics about the shard set.
type Stats struct {
	LocalShards      int
	TotalShards      int
	Stride           int
	ConnectedCount   int
	BufferedMessages int
}

// shardSet is the immutable result of Start.
type shardSet struct {
	topology shard.Topology
	url      string
	conns    []connection.Conn
}
