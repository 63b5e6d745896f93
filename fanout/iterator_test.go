package fanout_test

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/distquery/coordinator/command"
	"github.com/distquery/coordinator/endpoint"
	"github.com/distquery/coordinator/fanout"
	"github.com/distquery/coordinator/resp"
	"github.com/distquery/coordinator/router"
)

func TestMRIteratorStreamsUntilDepleted(t *testing.T) {
	top := twoShardTopology(t)

	var calls atomic.Int64
	fc := &fanout.Context{
		Topology: top,
		Strategy: router.MastersOnly,
		Sender: fanout.SenderFunc(func(_ context.Context, _ endpoint.Endpoint, cmd *command.Command) (resp.Reply, error) {
			n := calls.Add(1)
			cursorID := int64(0)
			if n <= 2 {
				// First round for each of the 2 shards still has more to give.
				cursorID = 42
			}
			return resp.Array(resp.String("row"), resp.Int(cursorID)), nil
		}),
	}

	it := fanout.NewMRIterator(context.Background(), fc, func(router.FanoutTarget) *command.Command {
		return command.New(command.RootCursor, 2, "_FT.CURSOR", "READ", "idx", "0")
	}, 8)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	got := 0
	for got < 2 {
		_, ok := it.Next(ctx)
		require.True(t, ok)
		got++
	}
	assert.False(t, it.AllDepleted())

	it.ManuallyTriggerNext(ctx, 100)
	for got < 4 {
		_, ok := it.Next(ctx)
		require.True(t, ok)
		got++
	}
	assert.True(t, it.AllDepleted())

	it.WaitDone(ctx, true)
}

func TestMRIteratorTimeoutRewritesToCursorDel(t *testing.T) {
	top := twoShardTopology(t)
	fc := &fanout.Context{
		Topology: top,
		Strategy: router.MastersOnly,
		Sender: fanout.SenderFunc(func(context.Context, endpoint.Endpoint, *command.Command) (resp.Reply, error) {
			return resp.Array(resp.String("row"), resp.Int(42)), nil
		}),
	}

	it := fanout.NewMRIterator(context.Background(), fc, func(router.FanoutTarget) *command.Command {
		return command.New(command.RootCursor, 2, "_FT.CURSOR", "READ", "idx", "0")
	}, 8)

	ctx := context.Background()
	for i := 0; i < 2; i++ {
		_, ok := it.Next(ctx)
		require.True(t, ok)
	}

	it.Timeout()
	assert.True(t, it.TimedOut())
	it.WaitDone(ctx, false)
}
