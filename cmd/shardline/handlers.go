package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/rickgao/shardline/internal/event"
)

// guildTracker tracks the guilds owned by each shard.
type guildTracker struct {
	mu     sync.RWMutex
	shards map[int]map[event.Snowflake]struct{}
}

func newGuildTracker() *guildTracker {
	return &guildTracker{shards: make(map[int]map[event.Snowflake]struct{})}
}

func (g *guildTracker) add(shardID int, id event.Snowflake) {
	g.mu.Lock()
	defer g.mu.Unlock()
	set, ok := g.shards[shardID]
	if !ok {
		set = make(map[event.Snowflake]struct{})
		g.shards[shardID] = set
	}
	set[id] = struct{}{}
}

func (g *guildTracker) remove(shardID int, id event.Snowflake) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.shards[shardID], id)
}

func (g *guildTracker) count(shardID int) int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.shards[shardID])
}

type guildDelete struct {
	ID          event.Snowflake `json:"id"`
	Unavailable bool            `json:"unavailable"`
}

// registerHandlers installs the built-in handlers.
func registerHandlers(b *event.Builder, guilds *guildTracker, logger *slog.Logger) {
	event.On(b, "log-ready", func(_ context.Context, _ *event.Scope, e event.Ready) error {
		logger.Info("shard ready",
			"shard", e.ShardID,
			"session", e.SessionID,
			"user", e.User.Username,
			"guilds", len(e.Guilds),
		)
		// Handlers for one shard run concurrently, so READY only adds.
		// Guilds that left are removed by GUILD_DELETE.
		for _, g := range e.Guilds {
			guilds.add(e.ShardID, g.ID)
		}
		return nil
	})

	event.On(b, "log-resumed", func(_ context.Context, _ *event.Scope, e event.Resumed) error {
		logger.Info("shard resumed", "shard", e.ShardID)
		return nil
	})

	event.On(b, "track-guild-create", func(_ context.Context, _ *event.Scope, e event.GuildCreate) error {
		if !e.Unavailable {
			guilds.add(e.ShardID, e.ID)
		}
		return nil
	})

	event.OnType(b, "GUILD_DELETE", "track-guild-delete", func(_ context.Context, _ *event.Scope, e event.RawEvent) error {
		var d guildDelete
		if err := json.Unmarshal(e.Data, &d); err != nil {
			return fmt.Errorf("decode GUILD_DELETE: %w", err)
		}
		// Unavailable means an outage, not removal.
		if !d.Unavailable {
			guilds.remove(e.ShardID, d.ID)
		}
		return nil
	})
}
