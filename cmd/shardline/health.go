package main

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/rickgao/shardline/internal/api"
	"github.com/rickgao/shardline/internal/orchestrator"
	"github.com/rickgao/shardline/internal/shard"
	"github.com/rickgao/shardline/internal/version"
)

// shardSource is the orchestrator surface the health endpoint reads.
type shardSource interface {
	Topology() (shard.Topology, error)
	IsConnected(shardID int) (bool, error)
	Latency(shardID int) (time.Duration, error)
	Stats() orchestrator.Stats
}

// quotaSource reports the last known identify quota.
type quotaSource interface {
	Latest() (api.SessionStartLimit, bool)
}

type quotaHealth struct {
	Remaining int     `json:"remaining"`
	Total     int     `json:"total"`
	ResetInS  float64 `json:"reset_in_s"`
}

type shardHealth struct {
	ID        int     `json:"id"`
	Connected bool    `json:"connected"`
	LatencyMS float64 `json:"latency_ms"`
	Guilds    int     `json:"guilds"`
}

type healthResponse struct {
	Status           string        `json:"status"`
	Version          string        `json:"version"`
	TotalShards      int           `json:"total_shards,omitempty"`
	Connected        int           `json:"connected"`
	BufferedMessages int           `json:"buffered_messages"`
	SessionQuota     *quotaHealth  `json:"session_quota,omitempty"`
	Shards           []shardHealth `json:"shards,omitempty"`
}

// createHealthHandler creates the HTTP handler for health checks and metrics.
func createHealthHandler(shards shardSource, guilds *guildTracker, quota quotaSource, metricsHandler http.Handler, metricsPath string) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		health := collectHealth(shards, guilds, quota)

		w.Header().Set("Content-Type", "application/json")
		if health.Status == "unhealthy" || health.Status == "starting" {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		json.NewEncoder(w).Encode(health)
	})

	mux.Handle(metricsPath, metricsHandler)

	return mux
}

func collectHealth(shards shardSource, guilds *guildTracker, quota quotaSource) healthResponse {
	stats := shards.Stats()
	health := healthResponse{
		Status:           "healthy",
		Version:          version.Version,
		BufferedMessages: stats.BufferedMessages,
	}
	if quota != nil {
		if l, ok := quota.Latest(); ok {
			health.SessionQuota = &quotaHealth{
				Remaining: l.Remaining,
				Total:     l.Total,
				ResetInS:  l.ResetIn().Seconds(),
			}
		}
	}

	topo, err := shards.Topology()
	if errors.Is(err, orchestrator.ErrNotStarted) {
		health.Status = "starting"
		return health
	}
	health.TotalShards = topo.TotalShards

	for i := range topo.LocalShardCount {
		id := topo.GlobalID(i)
		connected, err := shards.IsConnected(id)
		if err != nil {
			continue
		}
		latency, _ := shards.Latency(id)

		health.Shards = append(health.Shards, shardHealth{
			ID:        id,
			Connected: connected,
			LatencyMS: float64(latency) / float64(time.Millisecond),
			Guilds:    guilds.count(id),
		})
		if connected {
			health.Connected++
		}
	}

	switch {
	case health.Connected == 0:
		health.Status = "unhealthy"
	case health.Connected < len(health.Shards):
		health.Status = "degraded"
	}
	return health
}
