// Package router computes the slot a command hashes to and selects which
// shard node fanout dispatches it to.
package router

import (
	"hash/fnv"

	"github.com/distquery/coordinator/topology"
)

// Strategy selects which node of a shard a fanout talks to.
type Strategy int

const (
	// MastersOnly sends to each shard's primary node only.
	MastersOnly Strategy = iota
	// FlatCoordination deterministically picks one (shard, node) pair per
	// shard, spreading load across replicas.
	FlatCoordination
	// LocalCoordination prefers the node matching the coordinator's own
	// node ID, falling back to the primary.
	LocalCoordination
)

// Slot hashes key per the topology's configured hash function and folds
// it into [0, numSlots).
func Slot(key []byte, hf topology.HashFunc, numSlots uint32) uint16 {
	if numSlots == 0 {
		return 0
	}
	var h uint32
	switch hf {
	case topology.HashCRC16:
		h = uint32(CRC16(key))
	case topology.HashCRC12:
		h = uint32(CRC12(key))
	default:
		fn := fnv.New32a()
		fn.Write(key)
		h = fn.Sum32()
	}
	return uint16(h % numSlots)
}

// ShardForKey resolves the slot for key against top and returns its owning
// shard, honoring an explicit targetSlot override (>= 0) if provided.
func ShardForKey(top *topology.ClusterTopology, key []byte, targetSlot int32) (*topology.ClusterShard, bool) {
	slot := targetSlot
	if slot < 0 {
		slot = int32(Slot(key, top.HashFunc, top.NumSlots))
	}
	return top.FindShard(uint16(slot))
}

// TargetNode picks the node within shard that strategy routes to.
func TargetNode(shard *topology.ClusterShard, strategy Strategy, myID string) (topology.ClusterNode, bool) {
	if len(shard.Nodes) == 0 {
		return topology.ClusterNode{}, false
	}

	switch strategy {
	case LocalCoordination:
		for _, n := range shard.Nodes {
			if n.ID == myID {
				return n, true
			}
		}
		return shard.Primary()

	case FlatCoordination:
		idx := int(CRC16([]byte(shard.ID))) % len(shard.Nodes)
		return shard.Nodes[idx], true

	default: // MastersOnly
		return shard.Primary()
	}
}

// FanoutTarget pairs a shard with the node a fanout should dispatch to.
type FanoutTarget struct {
	Shard *topology.ClusterShard
	Node  topology.ClusterNode
}

// FanoutTargets returns one target per shard in top, per strategy. A
// shard with no reachable node is skipped (the caller treats this as a
// reduced "expected" shard count; the "zero shards reachable" error only
// fires when every shard is unreachable).
func FanoutTargets(top *topology.ClusterTopology, strategy Strategy) []FanoutTarget {
	targets := make([]FanoutTarget, 0, len(top.Shards))
	for i := range top.Shards {
		shard := &top.Shards[i]
		node, ok := TargetNode(shard, strategy, top.MyID)
		if !ok {
			continue
		}
		targets = append(targets, FanoutTarget{Shard: shard, Node: node})
	}
	return targets
}
