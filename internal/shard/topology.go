package shard

import (
	"fmt"
	"iter"
)

// Resolve builds the topology from operator options, falling back to the
// platform-recommended shard count.
func Resolve(opts Options, recommended int) (Topology, error) {
	if opts.Stride != 0 && opts.TotalShards == 0 {
		return Topology{}, fmt.Errorf("%w: stride %d requires total shards", ErrInvalidTopology, opts.Stride)
	}
	if opts.ShardCount < 0 || opts.TotalShards < 0 || opts.Stride < 0 {
		return Topology{}, fmt.Errorf("%w: negative shard option", ErrInvalidTopology)
	}

	count := opts.ShardCount
	if count == 0 {
		count = recommended
	}
	if count < 1 {
		return Topology{}, fmt.Errorf("%w: no shard count configured or recommended", ErrInvalidTopology)
	}

	total := opts.TotalShards
	if total == 0 {
		total = count
	}
	if opts.Stride+count > total {
		return Topology{}, fmt.Errorf("%w: shards %d..%d exceed total shards %d",
			ErrInvalidTopology, opts.Stride, opts.Stride+count-1, total)
	}

	return Topology{
		LocalShardCount: count,
		TotalShards:     total,
		Stride:          opts.Stride,
	}, nil
}

// GlobalID returns the global shard id of a local index.
func (t Topology) GlobalID(index int) int {
	return t.Stride + index
}

// Info returns the identify pair for a local index.
func (t Topology) Info(index int) Info {
	return Info{t.GlobalID(index), t.TotalShards}
}

// LocalIndex translates a global shard id owned by this topology.
func (t Topology) LocalIndex(shardID int) (int, error) {
	return LocalIndex(shardID, t.Stride, t.LocalShardCount)
}

// ForEntity resolves the owning global shard for an entity.
func (t Topology) ForEntity(entityID uint64) (int, error) {
	return ForEntity(entityID, t.TotalShards)
}

// ShardIDs yields the global shard ids run by this process. The sequence is
// computed from the receiver copy on every iteration.
func (t Topology) ShardIDs() iter.Seq[int] {
	return func(yield func(int) bool) {
		for i := 0; i < t.LocalShardCount; i++ {
			id := i
			if t.Stride != 0 {
				id = i * t.Stride
				if id >= t.TotalShards {
					continue
				}
			}
			if !yield(id) {
				return
			}
		}
	}
}
