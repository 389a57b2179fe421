package config

import (
	"errors"
	"fmt"
	"strings"
)

// Validate checks that all required fields are set and values are valid.
func (c *Config) Validate() error {
	if c.Instance.ID == "" {
		return errors.New("instance.id is required")
	}

	if c.API.Token == "" {
		return errors.New("api.token is required")
	}
	if c.API.MaxRetries < 0 {
		return errors.New("api.max_retries must be >= 0")
	}
	if c.API.QuotaPollInterval < 0 {
		return errors.New("api.quota_poll_interval must be >= 0")
	}

	if c.Gateway.Version < 1 {
		return errors.New("gateway.version must be >= 1")
	}
	if c.Gateway.Intents < 0 {
		return errors.New("gateway.intents must be >= 0")
	}
	if c.Gateway.WriteBurst < 1 {
		return errors.New("gateway.write_burst must be >= 1")
	}

	if c.Shards.Count < 0 {
		return errors.New("shards.count must be >= 0")
	}
	if c.Shards.Total < 0 {
		return errors.New("shards.total must be >= 0")
	}
	if c.Shards.Stride < 0 {
		return errors.New("shards.stride must be >= 0")
	}
	if c.Shards.Stride != 0 && c.Shards.Total == 0 {
		return errors.New("shards.total is required when shards.stride is set")
	}
	if c.Shards.Count > 0 && c.Shards.Total > 0 && c.Shards.Stride+c.Shards.Count > c.Shards.Total {
		return fmt.Errorf("shards.stride (%d) + shards.count (%d) cannot exceed shards.total (%d)",
			c.Shards.Stride, c.Shards.Count, c.Shards.Total)
	}
	if c.Shards.ReconnectMaxDelay < c.Shards.ReconnectBaseDelay {
		return fmt.Errorf("shards.reconnect_max_delay (%s) cannot be less than reconnect_base_delay (%s)",
			c.Shards.ReconnectMaxDelay, c.Shards.ReconnectBaseDelay)
	}
	if c.Shards.MessageBuffer < 1 {
		return errors.New("shards.message_buffer must be >= 1")
	}

	if c.Dispatch.Journal {
		if err := c.Database.Postgres.validate("database.postgres"); err != nil {
			return err
		}
		if c.Dispatch.JournalBatchSize < 1 {
			return errors.New("dispatch.journal_batch_size must be >= 1")
		}
	}

	if c.Metrics.Port < 1 || c.Metrics.Port > 65535 {
		return fmt.Errorf("metrics.port must be between 1 and 65535, got %d", c.Metrics.Port)
	}

	switch strings.ToLower(c.Logging.Level) {
	case "", "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("logging.level %q is not one of debug, info, warn, error", c.Logging.Level)
	}

	return nil
}

func (db *DBConfig) validate(prefix string) error {
	if db.Host == "" {
		return fmt.Errorf("%s.host is required", prefix)
	}
	if db.Name == "" {
		return fmt.Errorf("%s.name is required", prefix)
	}
	if db.User == "" {
		return fmt.Errorf("%s.user is required", prefix)
	}
	if db.Password == "" {
		return fmt.Errorf("%s.password is required", prefix)
	}
	if db.MaxConns < 1 {
		return fmt.Errorf("%s.max_conns must be >= 1", prefix)
	}
	if db.MinConns < 0 {
		return fmt.Errorf("%s.min_conns must be >= 0", prefix)
	}
	if db.MinConns > db.MaxConns {
		return fmt.Errorf("%s.min_conns (%d) cannot exceed max_conns (%d)", prefix, db.MinConns, db.MaxConns)
	}
	return nil
}
