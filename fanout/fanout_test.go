package fanout_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/distquery/coordinator/command"
	"github.com/distquery/coordinator/endpoint"
	"github.com/distquery/coordinator/fanout"
	"github.com/distquery/coordinator/resp"
	"github.com/distquery/coordinator/router"
	"github.com/distquery/coordinator/topology"
)

func twoShardTopology(t *testing.T) *topology.ClusterTopology {
	t.Helper()
	top := &topology.ClusterTopology{
		MyID:     "node-a",
		HashFunc: topology.HashCRC16,
		NumSlots: 16384,
		Shards: []topology.ClusterShard{
			{
				ID:         "shard-0",
				SlotRanges: []topology.SlotRange{{Start: 0, End: 8191}},
				Nodes:      []topology.ClusterNode{{ID: "node-a", Endpoint: endpoint.Endpoint{Host: "127.0.0.1", Port: 1}, Flags: topology.FlagMaster}},
			},
			{
				ID:         "shard-1",
				SlotRanges: []topology.SlotRange{{Start: 8192, End: 16383}},
				Nodes:      []topology.ClusterNode{{ID: "node-b", Endpoint: endpoint.Endpoint{Host: "127.0.0.1", Port: 2}, Flags: topology.FlagMaster}},
			},
		},
	}
	require.NoError(t, top.Validate())
	return top
}

func TestMRFanoutCollectsAllShardReplies(t *testing.T) {
	top := twoShardTopology(t)
	fc := &fanout.Context{
		Topology: top,
		Strategy: router.MastersOnly,
		Sender: fanout.SenderFunc(func(_ context.Context, ep endpoint.Endpoint, _ *command.Command) (resp.Reply, error) {
			return resp.Int(int64(ep.Port)), nil
		}),
	}

	cmd := command.New(command.RootSearch, 2, "_FT.SEARCH", "idx", "foo")
	var seen []int64
	out, err := fanout.MR_Fanout(context.Background(), fc, cmd, func(_ context.Context, replies []fanout.ShardReply) (resp.Reply, error) {
		for _, r := range replies {
			seen = append(seen, r.Reply.Int)
		}
		return resp.String("ok"), nil
	})
	require.NoError(t, err)
	assert.Equal(t, "ok", out.Str)
	assert.ElementsMatch(t, []int64{1, 2}, seen)
}

func TestMRFanoutNoShardsError(t *testing.T) {
	top := &topology.ClusterTopology{NumSlots: 0}
	require.NoError(t, top.Validate())

	fc := &fanout.Context{
		Topology: top,
		Strategy: router.MastersOnly,
		Sender:   fanout.SenderFunc(func(context.Context, endpoint.Endpoint, *command.Command) (resp.Reply, error) { return resp.Reply{}, nil }),
	}
	_, err := fanout.MR_Fanout(context.Background(), fc, command.New(command.RootSearch, 2, "_FT.SEARCH"), nil)
	assert.ErrorIs(t, err, fanout.ErrNoShards)
}

func TestReducerChainsASecondFanoutRound(t *testing.T) {
	top := twoShardTopology(t)
	var secondRoundCmds []string
	fc := &fanout.Context{
		Topology: top,
		Strategy: router.MastersOnly,
		Sender: fanout.SenderFunc(func(_ context.Context, _ endpoint.Endpoint, cmd *command.Command) (resp.Reply, error) {
			secondRoundCmds = append(secondRoundCmds, string(cmd.Args[0]))
			if string(cmd.Args[0]) == "_FT.SYNUPDATE" {
				return resp.Int(1), nil
			}
			return resp.String("ok"), nil
		}),
	}

	cmd := command.New(command.RootSearch, 2, "_FT.SYNUPDATE", "idx", "group")
	out, err := fanout.MR_Fanout(context.Background(), fc, cmd, func(ctx context.Context, first []fanout.ShardReply) (resp.Reply, error) {
		follow := command.New(command.RootSearch, 2, "_FT.SYNFORCEUPDATE", "idx", "group")
		return fanout.MR_Fanout(ctx, fc, follow, func(_ context.Context, second []fanout.ShardReply) (resp.Reply, error) {
			for _, r := range second {
				if r.Err != nil {
					return resp.Reply{}, r.Err
				}
			}
			return resp.String("ok"), nil
		})
	})
	require.NoError(t, err)
	assert.Equal(t, "ok", out.Str)
	assert.Contains(t, secondRoundCmds, "_FT.SYNUPDATE")
	assert.Contains(t, secondRoundCmds, "_FT.SYNFORCEUPDATE")
}

func TestShardResponseBarrierWaitsForAll(t *testing.T) {
	b := fanout.NewShardResponseBarrier(2)
	b.Notify(0, 10, nil)
	go b.Notify(1, 15, nil)

	total, err := b.Wait(context.Background(), time.Time{})
	require.NoError(t, err)
	assert.EqualValues(t, 25, total)
}

func TestShardResponseBarrierShortCircuitsOnError(t *testing.T) {
	b := fanout.NewShardResponseBarrier(2)
	wantErr := assert.AnError
	b.Notify(0, 10, wantErr)

	_, err := b.Wait(context.Background(), time.Time{})
	assert.ErrorIs(t, err, wantErr)
}
