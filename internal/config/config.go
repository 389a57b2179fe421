package config

import (
	"log/slog"
	"strings"
	"time"

	"github.com/rickgao/shardline/internal/shard"
)

// Config is the root configuration for a shardline instance.
type Config struct {
	Instance InstanceConfig `yaml:"instance"`
	API      APIConfig      `yaml:"api"`
	Gateway  GatewayConfig  `yaml:"gateway"`
	Shards   ShardsConfig   `yaml:"shards"`
	Dispatch DispatchConfig `yaml:"dispatch"`
	Database DatabaseConfig `yaml:"database"`
	Metrics  MetricsConfig  `yaml:"metrics"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// InstanceConfig identifies this process.
type InstanceConfig struct {
	ID string `yaml:"id"`
}

// APIConfig holds REST API settings.
type APIConfig struct {
	RestURL           string        `yaml:"rest_url"`
	Token             string        `yaml:"token"` // Bot token, also sent in IDENTIFY
	Timeout           time.Duration `yaml:"timeout"`
	MaxRetries        int           `yaml:"max_retries"`
	QuotaPollInterval time.Duration `yaml:"quota_poll_interval"` // Session start limit refresh
	QuotaLowWater     int           `yaml:"quota_low_water"`     // Warn at or below this many remaining starts
}

// GatewayConfig holds gateway session settings.
type GatewayConfig struct {
	Version          int            `yaml:"version"`
	Intents          int            `yaml:"intents"`
	Compress         bool           `yaml:"compress"` // Negotiate zlib-stream
	LargeThreshold   int            `yaml:"large_threshold"`
	HandshakeTimeout time.Duration  `yaml:"handshake_timeout"`
	WriteTimeout     time.Duration  `yaml:"write_timeout"`
	WriteRate        time.Duration  `yaml:"write_rate"` // Average spacing between outbound writes per shard
	WriteBurst       int            `yaml:"write_burst"`
	Presence         PresenceConfig `yaml:"presence"`
}

// PresenceConfig is the status sent when identifying.
type PresenceConfig struct {
	Status   string `yaml:"status"`
	Activity string `yaml:"activity"`
}

// ShardsConfig holds shard topology and orchestrator settings.
type ShardsConfig struct {
	Count              int           `yaml:"count"`  // 0 = platform recommended
	Total              int           `yaml:"total"`  // 0 = count
	Stride             int           `yaml:"stride"` // Global id of local shard 0
	ReconnectBaseDelay time.Duration `yaml:"reconnect_base_delay"`
	ReconnectMaxDelay  time.Duration `yaml:"reconnect_max_delay"`
	MessageBuffer      int           `yaml:"message_buffer"`
}

// Options returns the topology options.
func (s ShardsConfig) Options() shard.Options {
	return shard.Options{
		ShardCount:  s.Count,
		TotalShards: s.Total,
		Stride:      s.Stride,
	}
}

// DispatchConfig holds event dispatch settings.
type DispatchConfig struct {
	DropUnknown          bool          `yaml:"drop_unknown"`
	ShutdownTimeout      time.Duration `yaml:"shutdown_timeout"`
	Journal              bool          `yaml:"journal"` // Persist handler failures to database.postgres
	JournalBatchSize     int           `yaml:"journal_batch_size"`
	JournalFlushInterval time.Duration `yaml:"journal_flush_interval"`
}

// DatabaseConfig holds the PostgreSQL connection for the failure journal.
type DatabaseConfig struct {
	Postgres DBConfig `yaml:"postgres"`
}

// DBConfig holds a single database connection.
type DBConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Name     string `yaml:"name"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	SSLMode  string `yaml:"ssl_mode"`
	MaxConns int    `yaml:"max_conns"`
	MinConns int    `yaml:"min_conns"`
}

// MetricsConfig holds Prometheus metrics settings.
type MetricsConfig struct {
	Port int    `yaml:"port"`
	Path string `yaml:"path"`
}

// LoggingConfig holds log settings.
type LoggingConfig struct {
	Level string `yaml:"level"` // debug, info, warn, error
}

// SlogLevel returns the configured level. Unknown values map to info.
func (l LoggingConfig) SlogLevel() slog.Level {
	switch strings.ToLower(l.Level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}
