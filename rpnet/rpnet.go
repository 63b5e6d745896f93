// Package rpnet implements RPNet, the aggregate query's root result
// processor: it drives an MRIterator and hands back one row at a time to
// whatever local pipeline stage pulls from it.
package rpnet

import (
	"context"

	"github.com/distquery/coordinator/fanout"
	"github.com/distquery/coordinator/logging"
	"github.com/distquery/coordinator/resp"
)

// Warning is a non-fatal condition a shard reported alongside its rows
// (a timeout, a prefix-expansion cap, an OOM guard), surfaced to the
// caller without stopping the stream unless the query's timeout policy
// is Fail.
type Warning struct {
	Shard   string
	Message string
}

// TimeoutPolicy controls whether a shard Warning about a reached timeout
// stops the stream.
type TimeoutPolicy int

const (
	TimeoutReturn TimeoutPolicy = iota
	TimeoutFail
)

// Processor pulls rows off an MRIterator's stream of shard replies,
// flattening each reply's inner row array/map into individual rows and
// re-dispatching CURSOR READ as replies are exhausted.
type Processor struct {
	ctx    context.Context
	it     *fanout.MRIterator
	policy TimeoutPolicy

	started bool
	cur     []resp.Reply // rows remaining in the current shard reply
	curIdx  int

	profileSegments []resp.Reply
	profileActive   bool

	Warnings []Warning
	Err      error
}

// New builds an RPNet processor over it. profileActive controls whether
// a shard reply's profile segment (if any) is appended to
// ProfileSegments before the processor advances.
func New(ctx context.Context, it *fanout.MRIterator, policy TimeoutPolicy, profileActive bool) *Processor {
	return &Processor{ctx: ctx, it: it, policy: policy, profileActive: profileActive}
}

// Next returns the next row, or (zero, false, nil) once the iterator is
// exhausted. A shard error aborts the stream and is also recorded in
// Err.
func (p *Processor) Next() (resp.Reply, bool, error) {
	for {
		if p.curIdx < len(p.cur) {
			row := p.cur[p.curIdx]
			p.curIdx++
			return row, true, nil
		}

		if !p.advance() {
			return resp.Reply{}, false, p.Err
		}
	}
}

// advance pulls the next shard reply off the iterator, unpacking its
// rows into p.cur. It returns false once the iterator is fully drained
// or an error has aborted the stream.
func (p *Processor) advance() bool {
	if p.Err != nil {
		return false
	}

	p.it.ManuallyTriggerNext(p.ctx, 0)
	if p.it.AllDepleted() && p.it.Buffered() == 0 {
		p.it.WaitDone(p.ctx, true)
		return false
	}

	sr, ok := p.it.Next(p.ctx)
	if !ok {
		if !p.it.AllDepleted() {
			p.it.WaitDone(p.ctx, false)
		}
		return false
	}

	if sr.Err != nil {
		p.Err = sr.Err
		return false
	}
	if sr.Reply.IsError() {
		p.Err = rpnetError(sr.Reply.Str)
		return false
	}

	rows, warning, profileSeg, hasProfile := unpackReply(sr.Reply)
	if warning != "" {
		w := Warning{Shard: sr.Target.Shard.ID, Message: warning}
		p.Warnings = append(p.Warnings, w)
		if p.policy == TimeoutFail && isTimeoutWarning(warning) {
			p.Err = rpnetError(warning)
			return false
		}
	}

	if hasProfile {
		if p.profileActive {
			p.profileSegments = append(p.profileSegments, profileSeg)
		} else if logging.IsInitialized() {
			logging.Get().Sugar().Debugw("discarding profile info: profile mode not active", "shard", sr.Target.Shard.ID)
		}
	}

	p.cur = rows
	p.curIdx = 0
	return true
}

// ProfileSegments returns every shard profile segment collected so far.
func (p *Processor) ProfileSegments() []resp.Reply {
	return p.profileSegments
}

// unpackReply extracts the row array, an optional warning string, and an
// optional profile segment out of one CURSOR READ reply, handling both
// the RESP2 array shape ([rows, cursor_id]) and the RESP3 map shape
// ({"results": [...], "warning": "...", "profile": {...}}).
func unpackReply(r resp.Reply) (rows []resp.Reply, warning string, profileSeg resp.Reply, hasProfile bool) {
	switch r.Kind {
	case resp.KindMap:
		for _, e := range r.Map {
			switch e.Key.Str {
			case "results":
				rows = e.Value.Array
			case "warning":
				warning = e.Value.Str
			case "profile":
				profileSeg = e.Value
				hasProfile = true
			}
		}
	case resp.KindArray:
		if len(r.Array) > 0 {
			rows = r.Array[0].Array
		}
	}
	return rows, warning, profileSeg, hasProfile
}

func isTimeoutWarning(w string) bool {
	return w == "Timeout limit was reached"
}

type rpnetError string

func (e rpnetError) Error() string { return string(e) }
