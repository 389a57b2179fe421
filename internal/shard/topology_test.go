package shard

import (
	"slices"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolve(t *testing.T) {
	tests := []struct {
		name        string
		opts        Options
		recommended int
		want        Topology
		wantErr     bool
	}{
		{
			name:        "recommended",
			recommended: 4,
			want:        Topology{LocalShardCount: 4, TotalShards: 4},
		},
		{
			name:        "explicit count defaults total",
			opts:        Options{ShardCount: 2},
			recommended: 4,
			want:        Topology{LocalShardCount: 2, TotalShards: 2},
		},
		{
			name:        "multi process",
			opts:        Options{ShardCount: 2, TotalShards: 10, Stride: 2},
			recommended: 4,
			want:        Topology{LocalShardCount: 2, TotalShards: 10, Stride: 2},
		},
		{
			name:    "stride without total",
			opts:    Options{ShardCount: 2, Stride: 2},
			wantErr: true,
		},
		{
			name:        "last shards of the space",
			opts:        Options{ShardCount: 2, TotalShards: 4, Stride: 2},
			recommended: 4,
			want:        Topology{LocalShardCount: 2, TotalShards: 4, Stride: 2},
		},
		{
			name:    "stride past total",
			opts:    Options{ShardCount: 2, TotalShards: 4, Stride: 8},
			wantErr: true,
		},
		{
			name:    "shards overrun total",
			opts:    Options{ShardCount: 3, TotalShards: 4, Stride: 2},
			wantErr: true,
		},
		{
			name:    "count above total",
			opts:    Options{ShardCount: 5, TotalShards: 4},
			wantErr: true,
		},
		{
			name:    "nothing recommended",
			wantErr: true,
		},
		{
			name:    "negative stride",
			opts:    Options{ShardCount: 1, TotalShards: 2, Stride: -1},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Resolve(tt.opts, tt.recommended)
			if tt.wantErr {
				require.ErrorIs(t, err, ErrInvalidTopology)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestTopology_ShardIDs(t *testing.T) {
	tests := []struct {
		name string
		topo Topology
		want []int
	}{
		{
			name: "no stride",
			topo: Topology{LocalShardCount: 3, TotalShards: 3},
			want: []int{0, 1, 2},
		},
		{
			name: "strided",
			topo: Topology{LocalShardCount: 2, TotalShards: 10, Stride: 2},
			want: []int{0, 2},
		},
		{
			name: "strided filtered by total",
			topo: Topology{LocalShardCount: 4, TotalShards: 7, Stride: 3},
			want: []int{0, 3, 6},
		},
		{
			name: "empty",
			topo: Topology{},
			want: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			seq := tt.topo.ShardIDs()
			assert.Equal(t, tt.want, slices.Collect(seq))
			// Restartable.
			assert.Equal(t, tt.want, slices.Collect(seq))
		})
	}
}

func TestTopology_ShardIDs_EarlyStop(t *testing.T) {
	topo := Topology{LocalShardCount: 5, TotalShards: 5}

	var got []int
	for id := range topo.ShardIDs() {
		got = append(got, id)
		if id == 1 {
			break
		}
	}
	assert.Equal(t, []int{0, 1}, got)
}

func TestTopology_Info(t *testing.T) {
	topo := Topology{LocalShardCount: 2, TotalShards: 8, Stride: 4}

	info := topo.Info(1)
	assert.Equal(t, 5, info.ID())
	assert.Equal(t, 8, info.Total())

	idx, err := topo.LocalIndex(5)
	require.NoError(t, err)
	assert.Equal(t, 1, idx)

	_, err = topo.LocalIndex(3)
	assert.ErrorIs(t, err, ErrOutOfRange)
}
