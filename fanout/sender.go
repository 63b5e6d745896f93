// Package fanout dispatches coordinator commands to shard nodes and
// collects their replies: MR_Fanout/MR_Map for one-shot reducers,
// MRIterator for cursor-based streaming aggregates, and
// ShardResponseBarrier for WITHCOUNT semantics.
package fanout

import (
	"context"

	"github.com/redis/go-redis/v9"

	"github.com/distquery/coordinator/command"
	"github.com/distquery/coordinator/endpoint"
	"github.com/distquery/coordinator/ioruntime"
	"github.com/distquery/coordinator/resp"
)

// ShardSender is the interface used to issue one command against one
// shard node and retrieve its reply.
type ShardSender interface {
	Send(ctx context.Context, ep endpoint.Endpoint, cmd *command.Command) (resp.Reply, error)
}

// SenderFunc is an adapter to allow the use of ordinary functions as
// ShardSenders.
type SenderFunc func(ctx context.Context, ep endpoint.Endpoint, cmd *command.Command) (resp.Reply, error)

func (f SenderFunc) Send(ctx context.Context, ep endpoint.Endpoint, cmd *command.Command) (resp.Reply, error) {
	return f(ctx, ep, cmd)
}

// PoolSender sends shard commands over a pooled go-redis client per
// node, converting the client's decoded result back into a resp.Reply so
// downstream merge/profile code has one reply shape regardless of
// whether it came from a real wire read or a test double.
type PoolSender struct {
	pool *ioruntime.Pool
}

// NewPoolSender wraps pool as a ShardSender.
func NewPoolSender(pool *ioruntime.Pool) *PoolSender {
	return &PoolSender{pool: pool}
}

func (s *PoolSender) Send(ctx context.Context, ep endpoint.Endpoint, cmd *command.Command) (resp.Reply, error) {
	client := s.pool.Get(ep)

	args := make([]interface{}, len(cmd.Args))
	for i, a := range cmd.Args {
		args[i] = a
	}

	v, err := client.Do(ctx, args...).Result()
	if err == redis.Nil {
		return resp.Nil(), nil
	}
	if err != nil {
		return resp.Reply{}, err
	}
	return fromRedisResult(v), nil
}

// fromRedisResult converts a value decoded by go-redis's client (which
// already parses the RESP2/RESP3 wire reply into native Go types) into
// the coordinator's own Reply shape.
func fromRedisResult(v interface{}) resp.Reply {
	switch t := v.(type) {
	case nil:
		return resp.Nil()
	case string:
		return resp.String(t)
	case int64:
		return resp.Int(t)
	case float64:
		return resp.Double(t)
	case bool:
		if t {
			return resp.Int(1)
		}
		return resp.Int(0)
	case []interface{}:
		items := make([]resp.Reply, len(t))
		for i, e := range t {
			items[i] = fromRedisResult(e)
		}
		return resp.Array(items...)
	case map[interface{}]interface{}:
		entries := make([]resp.MapEntry, 0, len(t))
		for k, val := range t {
			entries = append(entries, resp.MapEntry{Key: fromRedisResult(k), Value: fromRedisResult(val)})
		}
		return resp.Map(entries...)
	case map[string]interface{}:
		entries := make([]resp.MapEntry, 0, len(t))
		for k, val := range t {
			entries = append(entries, resp.MapEntry{Key: resp.String(k), Value: fromRedisResult(val)})
		}
		return resp.Map(entries...)
	default:
		return resp.Nil()
	}
}
