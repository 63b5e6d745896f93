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
)

func newRuntimeWithSender(t *testing.T, sender fanout.ShardSender) *coordinator.Runtime {
	t.Helper()
	r := coordinator.NewRuntime(coordinator.DefaultConfig(), "node-a", coordinator.WithSender(sender))
	require.NoError(t, r.ClusterSet(twoShardClusterSetArgs()))
	return r
}

// shardRow builds a one-row shard reply, "[total, doc_id, score,
// fields...]", the layout
// reduceSearch expects when WITHSCORES was appended and no SORTBY was
// requested.
func shardRow(docID string, score float64, total int64, fields ...resp.Reply) resp.Reply {
	items := []resp.Reply{resp.Int(total), resp.String(docID), resp.Double(score)}
	items = append(items, fields...)
	return resp.Array(items...)
}

func TestSearchRewritesLimitAndAppendsWithscores(t *testing.T) {
	var gotArgs [][]string
	sender := fanout.SenderFunc(func(_ context.Context, _ endpoint.Endpoint, cmd *command.Command) (resp.Reply, error) {
		args := make([]string, len(cmd.Args))
		for i, a := range cmd.Args {
			args[i] = string(a)
		}
		gotArgs = append(gotArgs, args)
		return resp.Array(resp.Int(0)), nil
	})
	r := newRuntimeWithSender(t, sender)

	_, err := r.Search(context.Background(), 2, []string{"idx", "hello", "LIMIT", "5", "10"})
	require.NoError(t, err)
	require.Len(t, gotArgs, 2)

	for _, args := range gotArgs {
		assert.Equal(t, "_FT.SEARCH", args[0])
		assert.Contains(t, args, "WITHSCORES")
		assert.Contains(t, args, "_NUM_SSTRING")

		for i, a := range args {
			if a == "LIMIT" {
				assert.Equal(t, "0", args[i+1])
				assert.Equal(t, "15", args[i+2])
			}
		}
	}
}

func TestSearchMergesAcrossShards(t *testing.T) {
	call := 0
	sender := fanout.SenderFunc(func(_ context.Context, ep endpoint.Endpoint, _ *command.Command) (resp.Reply, error) {
		call++
		if ep.Port == 1 {
			return resp.Array(resp.Int(1), resp.String("doc-a"), resp.Double(2.0)), nil
		}
		return resp.Array(resp.Int(1), resp.String("doc-b"), resp.Double(5.0)), nil
	})
	r := newRuntimeWithSender(t, sender)

	reply, err := r.Search(context.Background(), 2, []string{"idx", "hello"})
	require.NoError(t, err)
	require.Equal(t, resp.KindArray, reply.Kind)

	total, _ := reply.Array[0].AsInt64()
	assert.EqualValues(t, 2, total)
	// Higher score (doc-b, 5.0) must rank first under the no-SORTBY
	// comparator.
	docID, _ := reply.Array[1].AsString()
	assert.Equal(t, "doc-b", docID)
}

func TestSearchReturnsShardErrorWhenEveryShardErrors(t *testing.T) {
	sender := fanout.SenderFunc(func(context.Context, endpoint.Endpoint, *command.Command) (resp.Reply, error) {
		return resp.Err("ERR backend down"), nil
	})
	r := newRuntimeWithSender(t, sender)

	_, err := r.Search(context.Background(), 2, []string{"idx", "hello"})
	var cerr *coordinator.Error
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, coordinator.KindShardError, cerr.Kind)
}

func TestSearchToleratesPartialShardError(t *testing.T) {
	sender := fanout.SenderFunc(func(_ context.Context, ep endpoint.Endpoint, _ *command.Command) (resp.Reply, error) {
		if ep.Port == 1 {
			return resp.Err("ERR backend down"), nil
		}
		return resp.Array(resp.Int(1), resp.String("doc-b"), resp.Double(1.0)), nil
	})
	r := newRuntimeWithSender(t, sender)

	reply, err := r.Search(context.Background(), 2, []string{"idx", "hello"})
	require.NoError(t, err)
	docID, _ := reply.Array[1].AsString()
	assert.Equal(t, "doc-b", docID)
}

func TestSearchNoShardsWhenClusterNeverSet(t *testing.T) {
	r := coordinator.NewRuntime(coordinator.DefaultConfig(), "node-a")
	_, err := r.Search(context.Background(), 2, []string{"idx", "hello"})
	var cerr *coordinator.Error
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, coordinator.KindClusterDown, cerr.Kind)
}

func TestSearchRewritesKNNLiteral(t *testing.T) {
	var gotQuery string
	sender := fanout.SenderFunc(func(_ context.Context, _ endpoint.Endpoint, cmd *command.Command) (resp.Reply, error) {
		gotQuery = string(cmd.Args[2])
		return resp.Array(resp.Int(0)), nil
	})
	r := newRuntimeWithSender(t, sender)

	_, err := r.Search(context.Background(), 2, []string{"idx", "*=>[KNN 100 @vec $BLOB]", "SHARD_WINDOW_RATIO", "0.5"})
	require.NoError(t, err)

	// Two shards, ratio 0.5: effective_k = max(ceil(100/2), ceil(100*0.5)) = 50.
	assert.Contains(t, gotQuery, "KNN 50 ")
	assert.NotContains(t, gotQuery, "KNN 100")
}

func TestSearchWithCountWaitsOnBarrier(t *testing.T) {
	sender := fanout.SenderFunc(func(_ context.Context, ep endpoint.Endpoint, _ *command.Command) (resp.Reply, error) {
		if ep.Port == 1 {
			return resp.Array(resp.Int(3), resp.String("doc-a"), resp.Double(1.0)), nil
		}
		return resp.Array(resp.Int(4), resp.String("doc-b"), resp.Double(2.0)), nil
	})
	r := newRuntimeWithSender(t, sender)

	reply, err := r.Search(context.Background(), 2, []string{"idx", "hello", "WITHCOUNT"})
	require.NoError(t, err)
	total, _ := reply.Array[0].AsInt64()
	assert.EqualValues(t, 7, total, "WITHCOUNT's total must be the sum of every shard's reported count, not the merged doc count")
}

func TestSearchRejectsBadArgs(t *testing.T) {
	r := coordinator.NewRuntime(coordinator.DefaultConfig(), "node-a")
	_, err := r.Search(context.Background(), 2, []string{"onlyindex"})
	var cerr *coordinator.Error
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, coordinator.KindParseArgs, cerr.Kind)
}

