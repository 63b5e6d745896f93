package coordinator

import (
	"context"
	"strconv"

	"github.com/pkg/errors"

	"github.com/distquery/coordinator/command"
	"github.com/distquery/coordinator/fanout"
	"github.com/distquery/coordinator/profile"
	"github.com/distquery/coordinator/resp"
	"github.com/distquery/coordinator/router"
	"github.com/distquery/coordinator/rpnet"
)

var errNeedIndexQuery = errors.New("coordinator: AGGREGATE: expected <index> <query> [pipeline...]")

// AggregateResult is the outcome of one Aggregate call: the rows the
// pipeline produced, any non-fatal shard warnings surfaced along the
// way, and, when profiling was requested, the profiler's report.
type AggregateResult struct {
	Rows     []resp.Reply
	Warnings []rpnet.Warning
	Profile  resp.Reply // zero value when profiling was not requested
}

// Aggregate executes the coordinator's RPNet pipeline: an initial
// fanout of the pipeline clauses with WITHCURSOR, followed by the
// MRIterator/RPNet cursor-read loop until every shard depletes. Unlike
// a Redis module's FT.AGGREGATE, which hands a live cursor back to the
// client for CURSOR READ to continue, this coordinator's surface is a
// synchronous Go API: RPNet drives the cursor loop to completion inside
// this call rather than leaving it open across separate calls.
func (r *Runtime) Aggregate(ctx context.Context, protocol uint8, args []string, profileActive bool) (*AggregateResult, error) {
	if len(args) < 2 {
		return nil, newError(KindParseArgs, errNeedIndexQuery)
	}
	index, pipeline := args[0], args[1:]

	fc, err := r.fanoutContext(router.MastersOnly)
	if err != nil {
		return nil, err
	}

	ctx, cancel := r.deadline(ctx, 0)
	defer cancel()

	it := fanout.NewMRIterator(ctx, fc, func(router.FanoutTarget) *command.Command {
		return buildAggregateCommand(index, pipeline, protocol)
	}, 64)

	proc, err := r.scheduler.Acquire(ctx)
	if err != nil {
		return nil, newError(KindTimeout, ErrTimeout)
	}
	defer proc.Release()

	rp := rpnet.New(ctx, it, rpnet.TimeoutReturn, profileActive)
	var node *profile.Node
	var root profile.Processor = rp
	if profileActive {
		node = profile.Wrap("Aggregate", nil, rp)
		root = node
	}

	var rows []resp.Reply
	for {
		if err := proc.Yield(ctx); err != nil {
			return nil, newError(KindTimeout, ErrTimeout)
		}
		row, ok, err := root.Next()
		if err != nil {
			return nil, newError(KindShardError, err)
		}
		if !ok {
			break
		}
		rows = append(rows, row)
	}

	result := &AggregateResult{Rows: rows, Warnings: rp.Warnings}
	if profileActive {
		result.Profile = profile.ToReply(profile.Report(node), rp.ProfileSegments())
	}
	return result, nil
}

// buildAggregateCommand rewrites a client's FT.AGGREGATE pipeline into
// the shard-visible _FT.AGGREGATE ... WITHCURSOR form used for every
// streaming command this coordinator fans out.
func buildAggregateCommand(index string, pipeline []string, protocol uint8) *command.Command {
	args := append([]string{"FT.AGGREGATE", index}, pipeline...)
	args = append(args, "WITHCURSOR")
	cmd := command.New(command.RootAgg, protocol, args...)
	cmd.SetPrefix("_")
	return cmd
}

// CursorDel issues an out-of-band _FT.CURSOR DEL against a single shard,
// for callers that held an aggregate open (profile tooling, debugging)
// and want to release shard state early instead of waiting for natural
// depletion.
func (r *Runtime) CursorDel(ctx context.Context, target router.FanoutTarget, indexName string, cursorID int64, sender fanout.ShardSender) error {
	cmd := command.New(command.RootCursorDel, 2, "_FT.CURSOR", "DEL", indexName, strconv.FormatInt(cursorID, 10))
	_, err := sender.Send(ctx, target.Node.Endpoint, cmd)
	return err
}
