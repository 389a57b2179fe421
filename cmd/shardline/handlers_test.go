package main

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rickgao/shardline/internal/event"
)

func dispatchAll(t *testing.T, reg *event.Registry, ev event.Event) {
	t.Helper()
	for _, r := range reg.Lookup(ev.Type()) {
		require.NoError(t, r.Invoke(context.Background(), nil, ev))
	}
}

func TestRegisterHandlers_TracksGuilds(t *testing.T) {
	guilds := newGuildTracker()
	b := event.NewBuilder()
	registerHandlers(b, guilds, slog.New(slog.NewTextHandler(io.Discard, nil)))
	reg := b.Build()

	dispatchAll(t, reg, event.GuildCreate{ShardID: 2, ID: 10})
	dispatchAll(t, reg, event.GuildCreate{ShardID: 2, ID: 11})
	dispatchAll(t, reg, event.GuildCreate{ShardID: 2, ID: 12, Unavailable: true})
	dispatchAll(t, reg, event.GuildCreate{ShardID: 3, ID: 20})
	assert.Equal(t, 2, guilds.count(2))
	assert.Equal(t, 1, guilds.count(3))

	data, err := json.Marshal(map[string]any{"id": "10"})
	require.NoError(t, err)
	dispatchAll(t, reg, event.RawEvent{ShardID: 2, Name: "GUILD_DELETE", Data: data})
	assert.Equal(t, 1, guilds.count(2))

	data, err = json.Marshal(map[string]any{"id": "11", "unavailable": true})
	require.NoError(t, err)
	dispatchAll(t, reg, event.RawEvent{ShardID: 2, Name: "GUILD_DELETE", Data: data})
	assert.Equal(t, 1, guilds.count(2), "outage must not untrack the guild")

	dispatchAll(t, reg, event.Ready{
		ShardID:   3,
		SessionID: "abc",
		Guilds:    []event.UnavailableGuild{{ID: 20, Unavailable: true}, {ID: 21, Unavailable: true}},
	})
	assert.Equal(t, 2, guilds.count(3))
	assert.Equal(t, 1, guilds.count(2))
}

// slowWriter delays log output so the READY handler finishes after later
// events' handlers.
type slowWriter struct{}

func (slowWriter) Write(p []byte) (int, error) {
	time.Sleep(20 * time.Millisecond)
	return len(p), nil
}

func TestRegisterHandlers_DispatchOrderIndependent(t *testing.T) {
	guilds := newGuildTracker()
	b := event.NewBuilder()
	registerHandlers(b, guilds, slog.New(slog.NewTextHandler(slowWriter{}, nil)))

	d := event.NewDispatcher(context.Background(), b.Build(), event.DispatcherConfig{
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	})

	d.Dispatch(event.Ready{
		ShardID:   0,
		SessionID: "s1",
		Guilds:    []event.UnavailableGuild{{ID: 1, Unavailable: true}, {ID: 2, Unavailable: true}, {ID: 3, Unavailable: true}},
	})
	for id := event.Snowflake(1); id <= 3; id++ {
		d.Dispatch(event.GuildCreate{ShardID: 0, ID: id})
	}
	d.Dispatch(event.GuildCreate{ShardID: 0, ID: 4})

	d.Shutdown()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, d.Wait(ctx))

	assert.Equal(t, 4, guilds.count(0))
}

func TestRegisterHandlers_BadGuildDelete(t *testing.T) {
	b := event.NewBuilder()
	registerHandlers(b, newGuildTracker(), slog.New(slog.NewTextHandler(io.Discard, nil)))
	regs := b.Build().Lookup("GUILD_DELETE")
	require.Len(t, regs, 1)

	err := regs[0].Invoke(context.Background(), nil, event.RawEvent{Name: "GUILD_DELETE", Data: json.RawMessage(`{`)})
	assert.Error(t, err)
}
