// Package shard implements shard topology and entity routing.
//
// Routing:
//   - An entity id maps to shard (id >> 22) % total_shards
//   - A process owns global shard ids [stride, stride+local_count)
//   - Local index = global shard id - stride
package shard
