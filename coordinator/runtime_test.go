package coordinator_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/distquery/coordinator/command"
	"github.com/distquery/coordinator/coordinator"
	"github.com/distquery/coordinator/endpoint"
	"github.com/distquery/coordinator/fanout"
	"github.com/distquery/coordinator/resp"
	"github.com/distquery/coordinator/topology"
)

func twoShardClusterSetArgs() []string {
	return []string{
		"MYID", "node-a",
		"RANGES", "2",
		"SHARD", "shard-0", "SLOTRANGE", "0", "8191", "ADDR", "127.0.0.1:1", "MASTER",
		"SHARD", "shard-1", "SLOTRANGE", "8192", "16383", "ADDR", "127.0.0.1:2", "MASTER",
	}
}

func TestTopologyBeforeClusterSetIsClusterDown(t *testing.T) {
	r := coordinator.NewRuntime(coordinator.DefaultConfig(), "node-a")
	_, err := r.Topology()
	var cerr *coordinator.Error
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, coordinator.KindClusterDown, cerr.Kind)
}

func TestClusterSetInstallsTopology(t *testing.T) {
	r := coordinator.NewRuntime(coordinator.DefaultConfig(), "node-a")
	require.NoError(t, r.ClusterSet(twoShardClusterSetArgs()))

	top, err := r.Topology()
	require.NoError(t, err)
	assert.Len(t, top.Shards, 2)
	assert.Equal(t, "node-a", top.MyID)
}

func TestClusterSetRejectsMalformedArgs(t *testing.T) {
	r := coordinator.NewRuntime(coordinator.DefaultConfig(), "node-a")
	err := r.ClusterSet([]string{"MYID"})
	var cerr *coordinator.Error
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, coordinator.KindParseArgs, cerr.Kind)

	_, topErr := r.Topology()
	require.Error(t, topErr, "a failed CLUSTERSET must not leave a partial topology installed")
}

func TestClusterRefreshWithoutSourceErrors(t *testing.T) {
	r := coordinator.NewRuntime(coordinator.DefaultConfig(), "node-a")
	err := r.ClusterRefresh(context.Background())
	assert.Error(t, err)
}

func TestClusterRefreshInstallsTopology(t *testing.T) {
	r := coordinator.NewRuntime(coordinator.DefaultConfig(), "node-a")
	require.NoError(t, r.ClusterSet(twoShardClusterSetArgs()))

	r.Refresh = func(ctx context.Context) (*topology.ClusterTopology, error) {
		return &topology.ClusterTopology{
			HashFunc: topology.HashCRC16,
			NumSlots: 16384,
			Shards: []topology.ClusterShard{
				{
					ID:         "shard-0",
					SlotRanges: []topology.SlotRange{{Start: 0, End: 16383}},
					Nodes:      []topology.ClusterNode{{ID: "node-a", Endpoint: endpoint.Endpoint{Host: "127.0.0.1", Port: 1}, Flags: topology.FlagMaster}},
				},
			},
		}, nil
	}

	require.NoError(t, r.ClusterRefresh(context.Background()))
	top, err := r.Topology()
	require.NoError(t, err)
	assert.Len(t, top.Shards, 1)
	assert.Equal(t, "node-a", top.MyID, "ClusterRefresh must stamp MyID the same way ClusterSet does")
}

func TestSearchUsesInjectedSender(t *testing.T) {
	var sentEndpoints []endpoint.Endpoint
	sender := fanout.SenderFunc(func(_ context.Context, ep endpoint.Endpoint, cmd *command.Command) (resp.Reply, error) {
		sentEndpoints = append(sentEndpoints, ep)
		assert.Equal(t, "_FT.SEARCH", string(cmd.Args[0]))
		return resp.Array(resp.Int(1), resp.String("doc1"), resp.Double(0.5)), nil
	})

	r := coordinator.NewRuntime(coordinator.DefaultConfig(), "node-a", coordinator.WithSender(sender))
	require.NoError(t, r.ClusterSet(twoShardClusterSetArgs()))

	reply, err := r.Search(context.Background(), 2, []string{"idx", "hello world"})
	require.NoError(t, err)
	assert.Len(t, sentEndpoints, 2)
	assert.Equal(t, resp.KindArray, reply.Kind)
}
