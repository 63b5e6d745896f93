package fanout

import (
	"context"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/distquery/coordinator/command"
	"github.com/distquery/coordinator/resp"
	"github.com/distquery/coordinator/router"
)

// cursorState tracks one shard's position in a streaming aggregate.
type cursorState struct {
	target   router.FanoutTarget
	cmd      *command.Command
	cursorID int64
	depleted bool
}

// MRIterator streams CURSOR READ replies from every shard of one
// aggregate query, re-dispatching non-depleted shards as the consumer
// drains the bounded channel, and rewriting non-depleted shards' commands
// to CURSOR DEL once Timeout is called.
type MRIterator struct {
	fc     *Context
	shards []*cursorState

	ch chan ShardReply

	pending   atomic.Int64 // commands dispatched, not yet replied
	inProcess atomic.Int64 // commands currently in flight this round
	timedOut  atomic.Bool  // re-checked every loop iteration; no stronger ordering required

	mu     sync.Mutex
	closed bool
}

// NewMRIterator starts the first CURSOR READ dispatch to every shard
// target and returns an iterator over the stream of replies.
func NewMRIterator(ctx context.Context, fc *Context, initial func(router.FanoutTarget) *command.Command, bufSize int) *MRIterator {
	targets := router.FanoutTargets(fc.Topology, fc.Strategy)
	it := &MRIterator{
		fc: fc,
		ch: make(chan ShardReply, bufSize),
	}
	it.shards = make([]*cursorState, 0, len(targets))
	for _, t := range targets {
		it.shards = append(it.shards, &cursorState{target: t, cmd: initial(t)})
	}
	it.dispatchAll(ctx)
	return it
}

// dispatchAll sends every non-depleted shard's current command and
// tracks the round in pending/inProcess.
func (it *MRIterator) dispatchAll(ctx context.Context) {
	var n int64
	for _, s := range it.shards {
		if s.depleted {
			continue
		}
		n++
		s := s
		go func() {
			reply, err := it.fc.Sender.Send(ctx, s.target.Node.Endpoint, s.cmd)
			it.onReply(s, reply, err)
		}()
	}
	it.pending.Add(n)
	it.inProcess.Store(n)
}

func (it *MRIterator) onReply(s *cursorState, reply resp.Reply, err error) {
	if err == nil {
		s.cursorID = extractCursorID(reply)
		s.depleted = s.cursorID == 0
		if !s.depleted {
			// Later rounds continue this shard's stream from the cursor it
			// returned, as "_FT.CURSOR READ <index> <cursor_id>".
			index := s.cmd.IndexName()
			if string(s.cmd.Args[0]) == "_FT.CURSOR" && len(s.cmd.Args) > 2 {
				index = s.cmd.Args[2]
			}
			s.cmd = command.New(command.RootCursor, s.cmd.Protocol, "_FT.CURSOR", "READ", string(index), strconv.FormatInt(s.cursorID, 10))
			if it.timedOut.Load() {
				s.cmd = cursorDel(s.cmd, s.cursorID)
			}
		}
	}

	it.pending.Add(-1)
	it.inProcess.Add(-1)

	it.mu.Lock()
	closed := it.closed
	it.mu.Unlock()
	if closed {
		return
	}
	it.ch <- ShardReply{Target: s.target, Reply: reply, Err: err}
}

// extractCursorID reads cursor_id out of a CURSOR READ reply, whose wire
// shape is [results, cursor_id] (RESP2 array) or a map with a "cursor"
// key (RESP3); anything else is treated as depleted (cursor_id 0).
func extractCursorID(r resp.Reply) int64 {
	switch r.Kind {
	case resp.KindArray:
		if len(r.Array) >= 2 {
			return r.Array[len(r.Array)-1].Int
		}
	case resp.KindMap:
		for _, e := range r.Map {
			if e.Key.Str == "cursor" {
				return e.Value.Int
			}
		}
	}
	return 0
}

// Next blocks until the next shard reply is available or ctx is done.
func (it *MRIterator) Next(ctx context.Context) (ShardReply, bool) {
	select {
	case r, ok := <-it.ch:
		return r, ok
	case <-ctx.Done():
		return ShardReply{}, false
	}
}

// ManuallyTriggerNext re-dispatches every non-depleted shard with CURSOR
// READ if no commands are currently in flight and the channel has
// drained to at most threshold buffered items, matching the spec's
// backpressured re-dispatch rule.
func (it *MRIterator) ManuallyTriggerNext(ctx context.Context, threshold int) {
	if it.inProcess.Load() != 0 || len(it.ch) > threshold {
		return
	}
	if it.AllDepleted() {
		return
	}
	it.dispatchAll(ctx)
}

// Buffered reports how many replies are sitting in the channel, not yet
// read by the consumer.
func (it *MRIterator) Buffered() int { return len(it.ch) }

// AllDepleted reports whether every shard has signaled cursor_id == 0.
func (it *MRIterator) AllDepleted() bool {
	for _, s := range it.shards {
		if !s.depleted {
			return false
		}
	}
	return true
}

// Timeout marks the iterator timed out: every pending shard's next
// dispatch becomes CURSOR DEL instead of CURSOR READ, so shards release
// cursor state instead of continuing to produce rows nobody will read.
func (it *MRIterator) Timeout() {
	it.timedOut.Store(true)
	for _, s := range it.shards {
		if !s.depleted {
			s.cmd = cursorDel(s.cmd, s.cursorID)
		}
	}
}

// TimedOut reports whether Timeout has fired. Callers re-check this on
// every loop iteration rather than caching it once.
func (it *MRIterator) TimedOut() bool {
	return it.timedOut.Load()
}

// WaitDone blocks until no shard command is in flight, then closes the
// reply channel. If mayBeIdle is false and some shard command is still
// pending, it first calls Timeout, which rewrites each non-depleted
// shard's command to CURSOR DEL; WaitDone itself dispatches no command,
// so those CURSOR DEL commands are not sent to the shards.
func (it *MRIterator) WaitDone(ctx context.Context, mayBeIdle bool) {
	if !mayBeIdle && it.pending.Load() > 0 {
		it.Timeout()
	}
	for it.inProcess.Load() != 0 {
		select {
		case <-it.ch:
		case <-ctx.Done():
			break
		}
	}
	it.mu.Lock()
	it.closed = true
	it.mu.Unlock()
	close(it.ch)
}

// cursorDel rewrites a "... CURSOR READ cursorID" command into
// "... CURSOR DEL cursorID" in place via the same command surface used
// for every other shard-command rewrite.
func cursorDel(cmd *command.Command, cursorID int64) *command.Command {
	for i, a := range cmd.Args {
		if string(a) == "READ" {
			cmd.Replace(i, []byte("DEL"))
			break
		}
	}
	cmd.ForCursor = true
	return cmd
}

// NewCursorID returns a fresh, process-unique cursor identifier for a
// newly created streaming aggregate.
func NewCursorID() string {
	return uuid.NewString()
}
