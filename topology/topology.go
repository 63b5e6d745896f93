// Package topology models the slot-to-shard partitioning table: parsing
// CLUSTERSET descriptions, validating that slot ranges partition the
// keyspace exactly, and serving fast slot lookups.
package topology

import (
	"sort"

	"github.com/RoaringBitmap/roaring"
	"github.com/pkg/errors"

	"github.com/distquery/coordinator/endpoint"
)

// HashFunc selects the slot-hashing function a topology uses.
type HashFunc int

const (
	HashCRC16 HashFunc = iota
	HashCRC12
	HashNone
)

// NodeFlags is a bitset of roles a ClusterNode plays.
type NodeFlags uint8

const (
	FlagMaster NodeFlags = 1 << iota
	FlagSelf
	FlagCoordinator
)

// MergeFlags ORs source into *target. OR is idempotent: calling this twice
// with the same source leaves target unchanged on the second call.
func MergeFlags(target *NodeFlags, source NodeFlags) {
	*target |= source
}

// ClusterNode is one reachable replica (or primary) of a shard.
type ClusterNode struct {
	ID       string
	Endpoint endpoint.Endpoint
	Flags    NodeFlags
}

// SlotRange is an inclusive [Start, End] range of hash slots.
type SlotRange struct {
	Start, End uint16
}

func (r SlotRange) contains(slot uint16) bool {
	return slot >= r.Start && slot <= r.End
}

// ClusterShard is a keyspace partition: one or more contiguous slot
// ranges owned by a primary (Nodes[0]) and its replicas (Nodes[1:]).
type ClusterShard struct {
	ID         string
	SlotRanges []SlotRange
	Nodes      []ClusterNode
}

// Primary returns the shard's primary node.
func (s ClusterShard) Primary() (ClusterNode, bool) {
	if len(s.Nodes) == 0 {
		return ClusterNode{}, false
	}
	return s.Nodes[0], true
}

// ClusterTopology is a complete, validated slot partitioning. Instances
// are treated as immutable snapshots once built: readers load one atomic
// pointer and use it for the lifetime of a single fanout (see
// topology.Store).
type ClusterTopology struct {
	MyID     string
	HashFunc HashFunc
	NumSlots uint32
	Shards   []ClusterShard

	index []routeEntry // sorted by Start; built by Validate
}

type routeEntry struct {
	rng      SlotRange
	shardIdx int
}

// Validate checks that the union of every shard's slot ranges partitions
// [0, NumSlots) exactly (no gaps, no overlaps), and builds the lookup
// index FindShard depends on.
func (t *ClusterTopology) Validate() error {
	covered := roaring.New()
	var entries []routeEntry

	for si, shard := range t.Shards {
		for _, r := range shard.SlotRanges {
			if r.Start > r.End {
				return errors.Errorf("topology: shard %s has inverted range [%d,%d]", shard.ID, r.Start, r.End)
			}
			if uint32(r.End) >= t.NumSlots {
				return errors.Errorf("topology: slot range [%d,%d] lies outside [0, %d)", r.Start, r.End, t.NumSlots)
			}
			rb := roaring.New()
			rb.AddRange(uint64(r.Start), uint64(r.End)+1)
			if covered.Intersects(rb) {
				return errors.Errorf("topology: slot range [%d,%d] overlaps an already-assigned range", r.Start, r.End)
			}
			covered.Or(rb)
			entries = append(entries, routeEntry{rng: r, shardIdx: si})
		}
	}

	if covered.GetCardinality() != uint64(t.NumSlots) {
		return errors.Errorf("topology: slot ranges cover %d of %d slots", covered.GetCardinality(), t.NumSlots)
	}
	if t.NumSlots > 0 && (!covered.Contains(0) || !covered.Contains(t.NumSlots-1)) {
		return errors.New("topology: slot ranges do not cover [0, num_slots) exactly")
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].rng.Start < entries[j].rng.Start })
	t.index = entries
	return nil
}

// FindShard returns the shard owning slot, found by binary search over
// the validated, sorted range index.
func (t *ClusterTopology) FindShard(slot uint16) (*ClusterShard, bool) {
	i := sort.Search(len(t.index), func(i int) bool { return t.index[i].rng.End >= slot })
	if i == len(t.index) || !t.index[i].rng.contains(slot) {
		return nil, false
	}
	return &t.Shards[t.index[i].shardIdx], true
}

// Clone returns a deep, pointer-disjoint copy of t.
func (t *ClusterTopology) Clone() *ClusterTopology {
	out := &ClusterTopology{
		MyID:     t.MyID,
		HashFunc: t.HashFunc,
		NumSlots: t.NumSlots,
		Shards:   make([]ClusterShard, len(t.Shards)),
	}
	for i, s := range t.Shards {
		cs := ClusterShard{
			ID:         s.ID,
			SlotRanges: append([]SlotRange(nil), s.SlotRanges...),
			Nodes:      append([]ClusterNode(nil), s.Nodes...),
		}
		out.Shards[i] = cs
	}
	// index is immutable and safe to recompute lazily; re-run Validate to
	// populate it rather than aliasing t.index's backing array.
	_ = out.Validate()
	return out
}

// MyShard returns the shard containing a node whose ID equals t.MyID, the
// "local" shard used by LocalCoordination routing.
func (t *ClusterTopology) MyShard() (*ClusterShard, bool) {
	if t.MyID == "" {
		return nil, false
	}
	for i := range t.Shards {
		for _, n := range t.Shards[i].Nodes {
			if n.ID == t.MyID {
				return &t.Shards[i], true
			}
		}
	}
	return nil, false
}
