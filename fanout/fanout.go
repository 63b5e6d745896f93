package fanout

import (
	"context"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/distquery/coordinator/command"
	"github.com/distquery/coordinator/resp"
	"github.com/distquery/coordinator/router"
	"github.com/distquery/coordinator/topology"
)

// Context carries everything one fanout needs: the topology snapshot it
// was dispatched against (outstanding fanouts keep the topology they
// captured at dispatch time, even if a CLUSTERSET lands mid-flight), the
// coordination strategy, and the sender used to reach shard nodes.
type Context struct {
	Topology *topology.ClusterTopology
	Strategy router.Strategy
	MyID     string
	Sender   ShardSender
}

// ShardReply pairs one shard/node target with the reply (or error) its
// command produced.
type ShardReply struct {
	Target router.FanoutTarget
	Reply  resp.Reply
	Err    error
}

// Reducer combines every shard's reply into the coordinator's single
// reply to the client. A reducer that needs a second round of fanout
// (for example: inspect the first round's replies, then dispatch a
// follow-up command to every shard) can simply call MR_Fanout or MR_Map
// again and return its result; because every fanout here already blocks
// its calling goroutine until the round completes, chaining reducers
// this way gives the same two-phase dispatch a reference coordinator
// gets from deferring its client-unblock callback to an inner reduce
// function, with no separate "don't unblock yet" signal required.
type Reducer func(ctx context.Context, replies []ShardReply) (resp.Reply, error)

// MR_Fanout dispatches cmd to every shard per fc's strategy, then invokes
// reduce once every shard has replied or errored.
func MR_Fanout(ctx context.Context, fc *Context, cmd *command.Command, reduce Reducer) (resp.Reply, error) {
	return MR_Map(ctx, fc, func(router.FanoutTarget) *command.Command { return cmd.Clone() }, reduce)
}

// MR_Map dispatches a per-target command produced by generator to every
// shard, then invokes reduce once every shard has replied or errored.
// Generator may return nil to skip a target (e.g. a node with no
// reachable connection). MR_Map always runs to completion before
// returning: there is no non-blocking variant, since a goroutine has no
// caller-visible resource to hold open while it waits, the way a
// blocked client connection does in an event-loop server.
func MR_Map(ctx context.Context, fc *Context, generator func(router.FanoutTarget) *command.Command, reduce Reducer) (resp.Reply, error) {
	targets := router.FanoutTargets(fc.Topology, fc.Strategy)

	replies := make([]ShardReply, 0, len(targets))
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	expected := 0
	for _, target := range targets {
		target := target
		cmd := generator(target)
		if cmd == nil {
			continue
		}
		expected++
		g.Go(func() error {
			reply, err := fc.Sender.Send(gctx, target.Node.Endpoint, cmd)
			mu.Lock()
			replies = append(replies, ShardReply{Target: target, Reply: reply, Err: err})
			mu.Unlock()
			return nil
		})
	}

	if expected == 0 {
		return resp.Reply{}, ErrNoShards
	}

	// MR_Fanout/MR_Map never abort early on a single shard error. The
	// reducer decides how to interpret a mix of replies and errors, so
	// the errgroup above never returns a non-nil error from a Send
	// failure; it is only used for its WaitGroup-with-cancellation
	// shape.
	_ = g.Wait()

	return reduce(ctx, replies)
}

// ErrNoShards is returned when a fanout's target set is empty: the
// topology has no shards reachable under the configured strategy.
var ErrNoShards = errNoShards{}

type errNoShards struct{}

func (errNoShards) Error() string { return "fanout: could not distribute command" }
