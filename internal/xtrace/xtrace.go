// Package xtrace wraps golang.org/x/net/trace with the New/LazyPrintf/
// Finish shape the profiler (package profile) walks to build its
// per-result-processor timing report.
package xtrace

import (
	"time"

	"golang.org/x/net/trace"
)

// Trace is one named span in the coordinator's local result-processor
// chain.
type Trace struct {
	tr    trace.Trace
	start time.Time
}

// New starts a trace of family/title, matching golang.org/x/net/trace's
// own constructor shape.
func New(family, title string) *Trace {
	return &Trace{tr: trace.New(family, title), start: time.Now()}
}

// LazyPrintf adds a log line to the trace, formatted lazily (only if the
// trace is ever rendered).
func (t *Trace) LazyPrintf(format string, a ...interface{}) {
	if t == nil || t.tr == nil {
		return
	}
	t.tr.LazyPrintf(format, a...)
}

// SetError marks the trace as having failed.
func (t *Trace) SetError() {
	if t == nil || t.tr == nil {
		return
	}
	t.tr.SetError()
}

// Elapsed reports time since New was called.
func (t *Trace) Elapsed() time.Duration {
	if t == nil {
		return 0
	}
	return time.Since(t.start)
}

// Finish closes out the trace.
func (t *Trace) Finish() {
	if t == nil || t.tr == nil {
		return
	}
	t.tr.Finish()
}
