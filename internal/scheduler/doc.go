// Package scheduler spaces shard session starts to honour the platform's
// session start bucket.
//
// Shards start in consecutive batches of max_concurrency. Connects inside a
// batch run one at a time, and a new batch never begins until at least
// MinBatchInterval has passed since the previous batch began.
package scheduler
