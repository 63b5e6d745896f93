package fanout

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// ShardResponseBarrier implements WITHCOUNT: no row may be emitted until
// every shard's first reply (carrying total_results) has landed, so the
// accumulated total the client sees is never a partial count.
type ShardResponseBarrier struct {
	numShards int

	mu        sync.Mutex
	responded []bool

	accumulatedTotal atomic.Int64
	numResponded     atomic.Int32

	err atomic.Value // error, set by the first shard error reply
}

// NewShardResponseBarrier creates a barrier for numShards expected
// first-replies.
func NewShardResponseBarrier(numShards int) *ShardResponseBarrier {
	return &ShardResponseBarrier{
		numShards: numShards,
		responded: make([]bool, numShards),
	}
}

// Notify records shard i's first reply: totalResults is added into the
// running total and the shard is marked responded. An error reply short-
// circuits the barrier: subsequent Wait calls return immediately with
// err regardless of how many shards have responded.
func (b *ShardResponseBarrier) Notify(i int, totalResults int64, err error) {
	if err != nil {
		b.err.CompareAndSwap(nil, err)
		b.numResponded.Store(int32(b.numShards))
		return
	}

	b.mu.Lock()
	already := b.responded[i]
	b.responded[i] = true
	b.mu.Unlock()
	if already {
		return
	}

	b.accumulatedTotal.Add(totalResults)
	b.numResponded.Add(1)
}

// Wait blocks until every shard has responded, the deadline fires, or an
// error reply short-circuits the barrier.
func (b *ShardResponseBarrier) Wait(ctx context.Context, deadline time.Time) (total int64, err error) {
	poll := time.NewTicker(time.Millisecond)
	defer poll.Stop()

	for {
		if e, ok := b.err.Load().(error); ok && e != nil {
			return 0, e
		}
		if int(b.numResponded.Load()) == b.numShards {
			return b.accumulatedTotal.Load(), nil
		}
		if !deadline.IsZero() && time.Now().After(deadline) {
			return b.accumulatedTotal.Load(), context.DeadlineExceeded
		}
		select {
		case <-ctx.Done():
			return b.accumulatedTotal.Load(), ctx.Err()
		case <-poll.C:
		}
	}
}
