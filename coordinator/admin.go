package coordinator

import (
	"github.com/distquery/coordinator/resp"
	"github.com/distquery/coordinator/topology"
)

// ClusterInfo renders the current topology as a map of partition count,
// cluster type, hash function, slot count, and per-shard slot ranges.
// It is built as a resp.Map throughout; resp.Encode already renders a
// Map as a RESP3 map or a flat RESP2 array of alternating keys and
// values depending on the
// connection's negotiated protocol, so this one construction satisfies
// both wire shapes a CLUSTERINFO caller may ask for.
func (r *Runtime) ClusterInfo() resp.Reply {
	top := r.store.Load()
	if top == nil {
		return resp.Map(
			resp.MapEntry{Key: resp.String("num_partitions"), Value: resp.Int(0)},
			resp.MapEntry{Key: resp.String("cluster_type"), Value: resp.String(r.Config.Type.String())},
			resp.MapEntry{Key: resp.String("hash_func"), Value: resp.String("none")},
			resp.MapEntry{Key: resp.String("num_slots"), Value: resp.Int(0)},
			resp.MapEntry{Key: resp.String("slots"), Value: resp.Array()},
		)
	}

	return resp.Map(
		resp.MapEntry{Key: resp.String("num_partitions"), Value: resp.Int(int64(len(top.Shards)))},
		resp.MapEntry{Key: resp.String("cluster_type"), Value: resp.String(r.Config.Type.String())},
		resp.MapEntry{Key: resp.String("hash_func"), Value: resp.String(hashFuncName(top.HashFunc))},
		resp.MapEntry{Key: resp.String("num_slots"), Value: resp.Int(int64(top.NumSlots))},
		resp.MapEntry{Key: resp.String("slots"), Value: slotsReply(top)},
	)
}

func hashFuncName(hf topology.HashFunc) string {
	switch hf {
	case topology.HashCRC16:
		return "CRC16"
	case topology.HashCRC12:
		return "CRC12"
	default:
		return "none"
	}
}

func slotsReply(top *topology.ClusterTopology) resp.Reply {
	items := make([]resp.Reply, 0, len(top.Shards))
	for _, shard := range top.Shards {
		for _, rng := range shard.SlotRanges {
			items = append(items, resp.Map(
				resp.MapEntry{Key: resp.String("start"), Value: resp.Int(int64(rng.Start))},
				resp.MapEntry{Key: resp.String("end"), Value: resp.Int(int64(rng.End))},
				resp.MapEntry{Key: resp.String("nodes"), Value: nodesReply(shard)},
			))
		}
	}
	return resp.Array(items...)
}

func nodesReply(shard topology.ClusterShard) resp.Reply {
	items := make([]resp.Reply, len(shard.Nodes))
	for i, n := range shard.Nodes {
		role := "replica"
		if n.Flags&topology.FlagMaster != 0 {
			role = "master"
		}
		items[i] = resp.Map(
			resp.MapEntry{Key: resp.String("id"), Value: resp.String(n.ID)},
			resp.MapEntry{Key: resp.String("host"), Value: resp.String(n.Endpoint.Host)},
			resp.MapEntry{Key: resp.String("port"), Value: resp.Int(int64(n.Endpoint.Port))},
			resp.MapEntry{Key: resp.String("role"), Value: resp.String(role)},
		)
	}
	return resp.Array(items...)
}
