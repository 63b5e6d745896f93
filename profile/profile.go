// Package profile wraps a chain of result processors with a
// counting/timing proxy, reported back to the client in FT.PROFILE mode.
package profile

import (
	"time"

	"github.com/distquery/coordinator/internal/xtrace"
	"github.com/distquery/coordinator/resp"
)

// Processor is the minimal shape the profiler wraps: a one-row-at-a-time
// pull interface, matching rpnet.Processor and every other node in the
// local result-processor chain.
type Processor interface {
	Next() (resp.Reply, bool, error)
}

// Node wraps one Processor with cumulative timing and a row counter, and
// chains to the Processor it pulls from (upstream), so elapsed time can
// be reported net of upstream cost.
type Node struct {
	name      string
	upstream  *Node
	inner     Processor
	cumulated time.Duration
	count     int
}

// Wrap builds one profiled link in the chain: name identifies this node
// in the report (e.g. "Aggregate/Sort", "Aggregate/Limit"), upstream is
// the previously wrapped node this one pulls from (nil at the root).
func Wrap(name string, upstream *Node, inner Processor) *Node {
	return &Node{name: name, upstream: upstream, inner: inner}
}

// Next pulls one row from inner, charging the elapsed wall time to this
// node.
func (n *Node) Next() (resp.Reply, bool, error) {
	start := time.Now()
	r, ok, err := n.inner.Next()
	n.cumulated += time.Since(start)
	if ok {
		n.count++
	}
	return r, ok, err
}

// Segment is one row of the profiler's report: this node's name, the
// time spent in it net of any upstream node's own reported time, and how
// many rows it produced.
type Segment struct {
	Name     string
	Elapsed  time.Duration
	Count    int
}

// Report walks the chain from root (the node with no upstream reachable
// by following end's upstream pointers) to end, emitting one Segment per
// node. A node's inner.Next pulls its rows through the upstream node, so
// its cumulative time includes the upstream's; each Segment's elapsed
// time is the node's cumulative time minus its upstream node's.
func Report(end *Node) []Segment {
	var chain []*Node
	for n := end; n != nil; n = n.upstream {
		chain = append(chain, n)
	}
	segments := make([]Segment, len(chain))
	for i, n := range chain {
		elapsed := n.cumulated
		if n.upstream != nil {
			elapsed -= n.upstream.cumulated
		}
		segments[len(chain)-1-i] = Segment{Name: n.name, Elapsed: elapsed, Count: n.count}
	}
	return segments
}

// ToReply renders a profiler's segments as a Reply: a coordinator
// section (this process's own root-to-end chain) plus a Shards section
// carrying each shard's own reported profile segment, verbatim, as
// supplied by the caller.
func ToReply(coordinator []Segment, shardSegments []resp.Reply) resp.Reply {
	entries := make([]resp.MapEntry, 0, 2)
	entries = append(entries, resp.MapEntry{
		Key:   resp.String("Coordinator"),
		Value: segmentsToReply(coordinator),
	})
	entries = append(entries, resp.MapEntry{
		Key:   resp.String("Shards"),
		Value: resp.Array(shardSegments...),
	})
	return resp.Map(entries...)
}

func segmentsToReply(segments []Segment) resp.Reply {
	items := make([]resp.Reply, len(segments))
	for i, s := range segments {
		items[i] = resp.Map(
			resp.MapEntry{Key: resp.String("Type"), Value: resp.String(s.Name)},
			resp.MapEntry{Key: resp.String("Time"), Value: resp.Double(s.Elapsed.Seconds())},
			resp.MapEntry{Key: resp.String("Counter"), Value: resp.Int(int64(s.Count))},
		)
	}
	return resp.Array(items...)
}

// TraceNode pairs a profiled Node with an xtrace.Trace for a request
// that also wants human-readable lazy log lines alongside its numeric
// profile.
type TraceNode struct {
	*Node
	Trace *xtrace.Trace
}
