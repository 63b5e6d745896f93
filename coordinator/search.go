package coordinator

import (
	"context"
	"strconv"
	"time"

	"github.com/pkg/errors"

	"github.com/distquery/coordinator/command"
	"github.com/distquery/coordinator/fanout"
	"github.com/distquery/coordinator/merge"
	"github.com/distquery/coordinator/resp"
	"github.com/distquery/coordinator/router"
)

// Search executes a fanout search and merge: the command is rewritten
// once, fanned out to every shard, and the per-shard replies are merged
// under the same comparator a single per-shard engine would apply.
func (r *Runtime) Search(ctx context.Context, protocol uint8, args []string) (resp.Reply, error) {
	sa, err := parseSearchArgs(args)
	if err != nil {
		return resp.Reply{}, newError(KindParseArgs, err)
	}

	fc, err := r.fanoutContext(router.MastersOnly)
	if err != nil {
		return resp.Reply{}, err
	}

	ctx, cancel := r.deadline(ctx, sa.TimeoutMS)
	defer cancel()

	numShards := len(fc.Topology.Shards)
	cmd := buildSearchCommand(sa, protocol, numShards)

	var barrier *fanout.ShardResponseBarrier
	deadline, _ := ctx.Deadline()

	if sa.WithCount {
		barrier = fanout.NewShardResponseBarrier(numShards)
	}

	reply, err := fanout.MR_Fanout(ctx, fc, cmd, func(ctx context.Context, replies []fanout.ShardReply) (resp.Reply, error) {
		return reduceSearch(ctx, replies, sa, barrier, deadline)
	})
	if err == fanout.ErrNoShards {
		return resp.Reply{}, newError(KindResource, ErrNoShards)
	}
	if err != nil {
		return resp.Reply{}, err
	}
	return reply, nil
}

// buildSearchCommand applies the coordinator's per-shard rewrite: LIMIT
// widened to 0..(offset+limit), WITHSORTKEYS/WITHSCORES appended for
// merge ordering, the KNN K substituted per the shard-window-ratio
// formula, and _REQUIRED_FIELDS appended so shards inline the fields the
// merger needs.
func buildSearchCommand(sa *searchArgs, protocol uint8, numShards int) *command.Command {
	args := append([]string(nil), sa.rest...)
	args = rewriteLimitArg(args, sa.Offset, sa.Limit)

	if sa.HasSortBy {
		args = append(args, "WITHSORTKEYS")
	} else {
		args = append(args, "WITHSCORES")
	}
	if len(sa.ReturnFields) > 0 {
		args = append(args, "_REQUIRED_FIELDS", strconv.Itoa(len(sa.ReturnFields)))
		args = append(args, sa.ReturnFields...)
	}
	args = append(args, "_NUM_SSTRING")

	cmd := command.New(command.RootSearch, protocol, append([]string{"FT.SEARCH"}, args...)...)
	cmd.SetPrefix("_")

	if sa.KNN != nil && sa.KNN.ShardWindowRatio < 1.0 {
		rewriteKNN(cmd, sa, numShards)
	}
	return cmd
}

// rewriteLimitArg widens a user-supplied "LIMIT offset limit" to
// "LIMIT 0 (offset+limit)" so the coordinator sees every candidate that
// could rank inside the final window; if the user supplied no LIMIT, one
// is appended (RediSearch's own default offset/limit are 0/10).
func rewriteLimitArg(args []string, offset, limit int) []string {
	total := strconv.Itoa(offset + limit)
	for i := 0; i+2 < len(args); i++ {
		if args[i] == "LIMIT" {
			out := append([]string(nil), args[:i+1]...)
			out = append(out, "0", total)
			out = append(out, args[i+3:]...)
			return out
		}
	}
	return append(args, "LIMIT", "0", total)
}

// rewriteKNN substitutes the query text's KNN K for its per-shard
// effective_k, an exact-substring rewrite that only applies to a
// literal K; the parameterized case (rewritten in the PARAMS section,
// not the query text) is a follow-up this coordinator does not yet
// implement.
func rewriteKNN(cmd *command.Command, sa *searchArgs, numShards int) {
	if !sa.KNN.Literal {
		return
	}
	effective := merge.EffectiveK(sa.KNN.K, numShards, sa.KNN.ShardWindowRatio)
	// Args[0] is "_FT.SEARCH", Args[1] the index, Args[2] the query text.
	cmd.ReplaceSubstring(2, sa.KNN.MatchStart, sa.KNN.MatchLen, []byte(strconv.Itoa(effective)))
}

// reduceSearch merges every shard's parsed documents under the shared
// comparator and renders the final windowed reply.
func reduceSearch(ctx context.Context, replies []fanout.ShardReply, sa *searchArgs, barrier *fanout.ShardResponseBarrier, deadline time.Time) (resp.Reply, error) {
	opts := sa.rowOptions()

	var mopts merge.Options
	mopts.SortBy = sa.HasSortBy
	mopts.Dir = sa.SortDir
	mopts.Offset = sa.Offset
	mopts.Limit = sa.Limit
	if sa.KNN != nil {
		mopts.KNN = &merge.KNNOptions{
			K:                sa.KNN.K,
			ShardWindowRatio: sa.KNN.ShardWindowRatio,
			NumShards:        len(replies),
			ShouldSort:       !sa.HasSortBy,
		}
	}

	shardDocs := make([][]merge.Document, len(replies))
	var lastErr error
	nonErrored := 0

	for i, sr := range replies {
		if sr.Err != nil {
			lastErr = sr.Err
			continue
		}
		if sr.Reply.IsError() {
			lastErr = errors.New(sr.Reply.Str)
			continue
		}

		total, docs := parseSearchReply(sr.Reply, opts)
		shardDocs[i] = docs
		nonErrored++
		if barrier != nil {
			barrier.Notify(i, total, nil)
		}
	}

	if nonErrored == 0 && lastErr != nil {
		return resp.Reply{}, newError(KindShardError, lastErr)
	}

	merged := merge.Merge(shardDocs, mopts)
	total := int64(len(merged))
	if barrier != nil {
		var err error
		total, err = barrier.Wait(ctx, deadline)
		if err != nil {
			return resp.Reply{}, newError(KindTimeout, ErrTimeout)
		}
	}

	return renderSearchReply(total, merged, opts), nil
}

// parseSearchReply splits a shard's search reply ([total, doc, doc, ...])
// into its total-results count and the per-document parses the merger
// consumes.
func parseSearchReply(r resp.Reply, opts merge.RowOptions) (int64, []merge.Document) {
	if r.Kind != resp.KindArray || len(r.Array) == 0 {
		return 0, nil
	}
	total, _ := r.Array[0].AsInt64()

	step := opts.Step()
	if step <= 0 {
		return total, nil
	}
	docs := make([]merge.Document, 0, (len(r.Array)-1)/step+1)
	for i := 1; i < len(r.Array); i += step {
		end := i + step
		if end > len(r.Array) {
			end = len(r.Array)
		}
		docs = append(docs, merge.ParseRow(r.Array[i:end], opts))
	}
	return total, docs
}

// renderSearchReply builds the final client-visible reply: total count
// followed by each document's doc_id and, unless NOCONTENT was
// requested, its fields.
func renderSearchReply(total int64, docs []merge.Document, opts merge.RowOptions) resp.Reply {
	items := make([]resp.Reply, 0, 1+len(docs)*2)
	items = append(items, resp.Int(total))
	for _, d := range docs {
		items = append(items, resp.String(d.DocID))
		if !opts.NoContent {
			items = append(items, resp.Array(d.Fields...))
		}
	}
	return resp.Array(items...)
}
