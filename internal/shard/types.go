package shard

import (
	"errors"
	"fmt"
)

// Errors
var (
	ErrInvalidTopology = errors.New("invalid shard topology")
	ErrOutOfRange      = errors.New("shard id out of range")
)

// EntityShift is the width of the low-order id fields below the timestamp.
const EntityShift = 22

// Topology describes which shards this process owns.
type Topology struct {
	LocalShardCount int // Shards run by this process
	TotalShards     int // Shards across every cooperating process
	Stride          int // Offset of this process in the global shard space
}

// Options are the operator-supplied topology overrides. Zero means unset.
type Options struct {
	ShardCount  int `yaml:"count"`
	TotalShards int `yaml:"total"`
	Stride      int `yaml:"stride"`
}

// Info is the shard pair sent when identifying a session.
type Info [2]int

// ID returns the global shard id.
func (i Info) ID() int { return i[0] }

// Total returns the global shard count.
func (i Info) Total() int { return i[1] }

// RangeError reports a shard id that this process does not own.
type RangeError struct {
	ShardID int
	Min     int // Inclusive
	Max     int // Exclusive
}

func (e *RangeError) Error() string {
	return fmt.Sprintf("shard %d out of range [%d, %d)", e.ShardID, e.Min, e.Max)
}

func (e *RangeError) Unwrap() error {
	return ErrOutOfRange
}
