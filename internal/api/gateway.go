package api

import (
	"context"
	"fmt"
)

// GatewayInfo fetches the gateway URL, recommended shard count and session
// start limit for the authenticated bot.
func (c *Client) GatewayInfo(ctx context.Context) (GatewayInfo, error) {
	var info GatewayInfo
	if err := c.get(ctx, "/gateway/bot", &info); err != nil {
		return GatewayInfo{}, fmt.Errorf("get gateway bot: %w", err)
	}

	if info.SessionStartLimit.MaxConcurrency < 1 {
		info.SessionStartLimit.MaxConcurrency = 1
	}

	c.logger.Debug("gateway info",
		"url", info.URL,
		"shards", info.Shards,
		"max_concurrency", info.SessionStartLimit.MaxConcurrency,
		"remaining", info.SessionStartLimit.Remaining,
	)

	return info, nil
}
