package topology_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/distquery/coordinator/topology"
)

func clusterSetArgs(s string) []string {
	return strings.Fields(s)
}

func TestParseClusterSetValid(t *testing.T) {
	args := clusterSetArgs(`MYID node-1 HASHFUNC CRC16 NUMSLOTS 16384 RANGES 2
		SHARD shard-0 SLOTRANGE 0 8191 ADDR 127.0.0.1:7000 MASTER
		SHARD shard-1 SLOTRANGE 8192 16383 ADDR 127.0.0.1:7001 MASTER`)

	top, err := topology.ParseClusterSet(args)
	require.NoError(t, err)
	assert.Equal(t, "node-1", top.MyID)
	assert.Equal(t, uint32(16384), top.NumSlots)
	require.Len(t, top.Shards, 2)

	shard, ok := top.FindShard(100)
	require.True(t, ok)
	assert.Equal(t, "shard-0", shard.ID)

	shard, ok = top.FindShard(16383)
	require.True(t, ok)
	assert.Equal(t, "shard-1", shard.ID)
}

func TestParseClusterSetGapRejected(t *testing.T) {
	args := clusterSetArgs(`MYID node-1 NUMSLOTS 100 RANGES 2
		SHARD shard-0 SLOTRANGE 0 40 ADDR 127.0.0.1:7000 MASTER
		SHARD shard-1 SLOTRANGE 50 99 ADDR 127.0.0.1:7001 MASTER`)

	_, err := topology.ParseClusterSet(args)
	assert.Error(t, err)
}

func TestParseClusterSetOverlapRejected(t *testing.T) {
	args := clusterSetArgs(`MYID node-1 NUMSLOTS 100 RANGES 2
		SHARD shard-0 SLOTRANGE 0 60 ADDR 127.0.0.1:7000 MASTER
		SHARD shard-1 SLOTRANGE 50 99 ADDR 127.0.0.1:7001 MASTER`)

	_, err := topology.ParseClusterSet(args)
	assert.Error(t, err)
}

func TestCloneIsDeepEqualPointerDisjoint(t *testing.T) {
	args := clusterSetArgs(`MYID node-1 NUMSLOTS 100 RANGES 1
		SHARD shard-0 SLOTRANGE 0 99 ADDR 127.0.0.1:7000 MASTER`)
	top, err := topology.ParseClusterSet(args)
	require.NoError(t, err)

	clone := top.Clone()
	require.Equal(t, top.Shards, clone.Shards)

	clone.Shards[0].SlotRanges[0].End = 50
	assert.NotEqual(t, top.Shards[0].SlotRanges[0].End, clone.Shards[0].SlotRanges[0].End)
}

func TestMergeFlagsIdempotent(t *testing.T) {
	var flags topology.NodeFlags
	topology.MergeFlags(&flags, topology.FlagMaster)
	once := flags
	topology.MergeFlags(&flags, topology.FlagMaster)
	assert.Equal(t, once, flags)
}

func TestStoreSwap(t *testing.T) {
	var store topology.Store
	assert.Nil(t, store.Load())

	top := &topology.ClusterTopology{NumSlots: 0}
	require.NoError(t, top.Validate())
	prev := store.Swap(top)
	assert.Nil(t, prev)
	assert.Same(t, top, store.Load())
}
