package config

import "time"

// Default values for optional configuration fields.
const (
	DefaultRestURL              = "https://discord.com/api/v10"
	DefaultAPITimeout           = 30 * time.Second
	DefaultMaxRetries           = 3
	DefaultQuotaPollInterval    = 10 * time.Minute
	DefaultQuotaLowWater        = 10
	DefaultGatewayVersion       = 10
	DefaultHandshakeTimeout     = 10 * time.Second
	DefaultWriteTimeout         = 5 * time.Second
	DefaultWriteRate            = 500 * time.Millisecond
	DefaultWriteBurst           = 2
	DefaultPresenceStatus       = "online"
	DefaultReconnectBaseDelay   = 1 * time.Second
	DefaultReconnectMaxDelay    = 60 * time.Second
	DefaultMessageBuffer        = 1000
	DefaultShutdownTimeout      = 30 * time.Second
	DefaultJournalBatchSize     = 100
	DefaultJournalFlushInterval = 1 * time.Second
	DefaultDBPort               = 5432
	DefaultDBSSLMode            = "prefer"
	DefaultMaxConns             = 4
	DefaultMinConns             = 1
	DefaultMetricsPort          = 9090
	DefaultMetricsPath          = "/metrics"
	DefaultLogLevel             = "info"
)

func (c *Config) applyDefaults() {
	// API defaults
	if c.API.RestURL == "" {
		c.API.RestURL = DefaultRestURL
	}
	if c.API.Timeout == 0 {
		c.API.Timeout = DefaultAPITimeout
	}
	if c.API.MaxRetries == 0 {
		c.API.MaxRetries = DefaultMaxRetries
	}
	if c.API.QuotaPollInterval == 0 {
		c.API.QuotaPollInterval = DefaultQuotaPollInterval
	}
	if c.API.QuotaLowWater == 0 {
		c.API.QuotaLowWater = DefaultQuotaLowWater
	}

	// Gateway defaults
	if c.Gateway.Version == 0 {
		c.Gateway.Version = DefaultGatewayVersion
	}
	if c.Gateway.HandshakeTimeout == 0 {
		c.Gateway.HandshakeTimeout = DefaultHandshakeTimeout
	}
	if c.Gateway.WriteTimeout == 0 {
		c.Gateway.WriteTimeout = DefaultWriteTimeout
	}
	if c.Gateway.WriteRate == 0 {
		c.Gateway.WriteRate = DefaultWriteRate
	}
	if c.Gateway.WriteBurst == 0 {
		c.Gateway.WriteBurst = DefaultWriteBurst
	}
	if c.Gateway.Presence.Status == "" {
		c.Gateway.Presence.Status = DefaultPresenceStatus
	}

	// Shards defaults (count, total and stride stay zero: resolved at start)
	if c.Shards.ReconnectBaseDelay == 0 {
		c.Shards.ReconnectBaseDelay = DefaultReconnectBaseDelay
	}
	if c.Shards.ReconnectMaxDelay == 0 {
		c.Shards.ReconnectMaxDelay = DefaultReconnectMaxDelay
	}
	if c.Shards.MessageBuffer == 0 {
		c.Shards.MessageBuffer = DefaultMessageBuffer
	}

	// Dispatch defaults
	if c.Dispatch.ShutdownTimeout == 0 {
		c.Dispatch.ShutdownTimeout = DefaultShutdownTimeout
	}
	if c.Dispatch.JournalBatchSize == 0 {
		c.Dispatch.JournalBatchSize = DefaultJournalBatchSize
	}
	if c.Dispatch.JournalFlushInterval == 0 {
		c.Dispatch.JournalFlushInterval = DefaultJournalFlushInterval
	}

	// Database defaults
	applyDBDefaults(&c.Database.Postgres)

	// Metrics defaults
	if c.Metrics.Port == 0 {
		c.Metrics.Port = DefaultMetricsPort
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = DefaultMetricsPath
	}

	if c.Logging.Level == "" {
		c.Logging.Level = DefaultLogLevel
	}
}

func applyDBDefaults(db *DBConfig) {
	if db.Port == 0 {
		db.Port = DefaultDBPort
	}
	if db.SSLMode == "" {
		db.SSLMode = DefaultDBSSLMode
	}
	if db.MaxConns == 0 {
		db.MaxConns = DefaultMaxConns
	}
	if db.MinConns == 0 {
		db.MinConns = DefaultMinConns
	}
}
