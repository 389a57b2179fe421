// Package orchestrator owns this process's shard set.
//
// Start asks the gateway info provider for the recommended shard count and
// session start quota, resolves the topology, creates every connection and
// starts them through the scheduler. After Start the shard set is read-only:
// routing, broadcast and state queries read an atomic snapshot without
// locking. Reconnects are serialized; a shard that drops on its own is
// reconnected in the background with exponential backoff.
package orchestrator
