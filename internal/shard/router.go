package shard

import "fmt"

// ForEntity returns the global shard id that owns entityID.
func ForEntity(entityID uint64, totalShards int) (int, error) {
	if totalShards < 1 {
		return 0, fmt.Errorf("%w: total shards must be >= 1, got %d", ErrInvalidTopology, totalShards)
	}
	return int((entityID >> EntityShift) % uint64(totalShards)), nil
}

// LocalIndex translates a global shard id into an index into this
// process's shard set.
func LocalIndex(shardID, stride, localCount int) (int, error) {
	if shardID < stride || shardID >= stride+localCount {
		return 0, &RangeError{ShardID: shardID, Min: stride, Max: stride + localCount}
	}
	return shardID - stride, nil
}
