// Package api provides the REST lookups the gateway client needs before
// opening shards.
//
// Endpoints:
//   - GET /gateway/bot: gateway URL, recommended shard count and the
//     session start limit (max_concurrency drives startup batching)
package api
