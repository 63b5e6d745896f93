// Package ioruntime is the coordinator's cooperative I/O runtime: a FIFO
// work queue with backpressure, a per-shard connection pool, and a
// reducer scheduler that limits concurrent CPU-bound merge work while
// still letting slow requests cooperatively yield to interactive ones.
package ioruntime

import (
	"context"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/distquery/coordinator/logging"
)

// scheduler governs how many reducers (the worker-thread-pool jobs that
// merge shard replies into a client reply) run concurrently.
type scheduler interface {
	// Acquire blocks until a normal reducer slot is available. It only
	// returns an error if ctx expires first.
	Acquire(ctx context.Context) (*process, error)

	// Exclusive blocks until it holds every slot, used while installing
	// a new topology snapshot, which must not race a running reducer.
	Exclusive() *process
}

// The FTCOORD_SCHED environment variable tunes the scheduler. It is a
// comma-separated list of name=val pairs:
//
//	batchdiv: batch queue capacity is 1/batchdiv of interactive capacity
//	(default 4).
//
//	interactiveseconds: how long a reducer runs at interactive priority
//	before being downgraded to the batch queue (default 5).
var tuneables = parseTuneables(os.Getenv("FTCOORD_SCHED"))

// newScheduler returns the multi-priority scheduler sized to capacity
// concurrent reducers.
func newScheduler(capacity int64) scheduler {
	return newMultiScheduler(capacity)
}

// Scheduler is the exported handle callers outside this package use to
// admit reducer work (Acquire) and to take the exclusive slot while
// installing a new topology snapshot (coordinator's CLUSTERSET and
// CLUSTERREFRESH). The exclusive slot waits only for processes admitted
// through Acquire; coordinator.Search and Aggregate do not call Acquire.
type Scheduler struct {
	inner scheduler
}

// NewScheduler returns a Scheduler admitting at most capacity concurrent
// reducers at interactive priority.
func NewScheduler(capacity int64) *Scheduler {
	return &Scheduler{inner: newScheduler(capacity)}
}

// Process is a running reducer's or an exclusive topology-swap's claim on
// the scheduler. Release must be called exactly once.
type Process struct {
	inner *process
}

// Acquire blocks until a reducer slot is available.
func (s *Scheduler) Acquire(ctx context.Context) (*Process, error) {
	p, err := s.inner.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	return &Process{inner: p}, nil
}

// Exclusive blocks until every reducer slot is free, for installing a new
// topology snapshot.
func (s *Scheduler) Exclusive() *Process {
	return &Process{inner: s.inner.Exclusive()}
}

// Release frees whatever locks/semaphores this process holds.
func (p *Process) Release() { p.inner.Release() }

// Yield may downgrade this process to the batch queue once it has run
// past its interactive budget; see process.Yield.
func (p *Process) Yield(ctx context.Context) error { return p.inner.Yield(ctx) }

// multiScheduler limits concurrent reducers to #CPU-ish capacity while
// allowing an exclusive process (a topology swap) to wait for the field
// to clear, and cooperatively downgrading long-running reducers from an
// "interactive" semaphore to a smaller "batch" one so large aggregations
// don't starve small searches.
type multiScheduler struct {
	mu             *rwmutex
	semInteractive *sema
	semBatch       *sema

	interactiveDuration time.Duration
}

func newMultiScheduler(capacity int64) *multiScheduler {
	batchdiv := tuneables["batchdiv"]
	if batchdiv == 0 {
		batchdiv = 4
	}
	batchCap := capacity / int64(batchdiv)
	if batchCap == 0 {
		batchCap = 1
	}

	interactiveSeconds := tuneables["interactiveseconds"]
	if interactiveSeconds == 0 {
		interactiveSeconds = 5
	}

	return &multiScheduler{
		mu:                  newRWMutex(),
		semInteractive:      newSema(capacity, "interactive"),
		semBatch:            newSema(batchCap, "batch"),
		interactiveDuration: time.Duration(interactiveSeconds) * time.Second,
	}
}

func (s *multiScheduler) Acquire(ctx context.Context) (*process, error) {
	if err := s.mu.RLock(ctx); err != nil {
		return nil, err
	}

	sem := s.semInteractive
	if err := sem.Acquire(ctx); err != nil {
		s.mu.RUnlock()
		return nil, err
	}

	return &process{
		releaseFunc: func() {
			if sem != nil {
				sem.Release()
				sem = nil
			}
			s.mu.RUnlock()
		},
		yieldTimer: newDeadlineTimer(time.Now().Add(s.interactiveDuration)),
		yieldFunc: func(ctx context.Context) error {
			if sem != nil {
				sem.Release()
				sem = nil
			}
			semNext := s.semBatch
			if err := semNext.Acquire(ctx); err != nil {
				return err
			}
			sem = semNext
			return nil
		},
	}, nil
}

func (s *multiScheduler) Exclusive() *process {
	s.mu.Lock()
	return &process{releaseFunc: func() { s.mu.Unlock() }}
}

// process represents one running reducer or the exclusive topology-swap
// process. Release must be called exactly once.
type process struct {
	yieldTimer  *deadlineTimer
	yieldFunc   func(context.Context) error
	releaseFunc func()
}

// Release frees whatever locks/semaphores this process holds.
func (p *process) Release() {
	if p.yieldTimer != nil {
		p.yieldTimer.Stop()
	}
	p.releaseFunc()
}

// Yield may downgrade this process to the batch queue if it has run past
// its interactive budget. It must not be called concurrently. The only
// error it returns is a context error, in which case the caller must
// stop and call Release.
func (p *process) Yield(ctx context.Context) error {
	if p.yieldTimer == nil || !p.yieldTimer.Exceeded() {
		return nil
	}
	if err := p.yieldFunc(ctx); err != nil {
		return err
	}
	p.yieldTimer.Stop()
	p.yieldTimer = nil
	return nil
}

func newDeadlineTimer(deadline time.Time) *deadlineTimer {
	return &deadlineTimer{t: time.NewTimer(time.Until(deadline))}
}

type deadlineTimer struct {
	t *time.Timer
}

func (t *deadlineTimer) Exceeded() bool {
	if t.t == nil {
		return true
	}
	select {
	case <-t.t.C:
	default:
		return false
	}
	t.Stop()
	return true
}

func (t *deadlineTimer) Stop() {
	if t.t == nil {
		return
	}
	t.t.Stop()
	t.t = nil
}

func parseTuneables(v string) map[string]int {
	m := map[string]int{}
	for _, kv := range strings.Split(v, ",") {
		if kv == "" {
			continue
		}
		p := strings.SplitN(kv, "=", 2)
		if len(p) == 1 {
			m[p[0]] = 1
		} else {
			m[p[0]], _ = strconv.Atoi(p[1])
		}
	}
	return m
}

var (
	metricSched = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "ftcoord_ioruntime_sched",
		Help: "Current number of coordinator scheduler processes in a state.",
	}, []string{"type", "state"})
	metricSchedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ftcoord_ioruntime_sched_total",
		Help: "Total number of coordinator scheduler processes that reached a state.",
	}, []string{"type", "state"})
)

// sema is a semaphore that also reports its occupancy to prometheus.
type sema struct {
	sem *semaphore.Weighted

	metricQueued        *gaugeCounter
	metricRunning        *gaugeCounter
	metricTimedoutTotal prometheus.Counter
}

func newSema(capacity int64, typ string) *sema {
	return &sema{
		sem: semaphore.NewWeighted(capacity),
		metricQueued: &gaugeCounter{
			gauge:   metricSched.WithLabelValues(typ, "queued"),
			counter: metricSchedTotal.WithLabelValues(typ, "queued"),
		},
		metricRunning: &gaugeCounter{
			gauge:   metricSched.WithLabelValues(typ, "running"),
			counter: metricSchedTotal.WithLabelValues(typ, "running"),
		},
		metricTimedoutTotal: metricSchedTotal.WithLabelValues(typ, "timedout"),
	}
}

func (s *sema) Acquire(ctx context.Context) error {
	s.metricQueued.Inc()
	defer s.metricQueued.Dec()

	if err := s.sem.Acquire(ctx, 1); err != nil {
		s.metricTimedoutTotal.Inc()
		return err
	}
	s.metricRunning.Inc()
	return nil
}

func (s *sema) Release() {
	s.sem.Release(1)
	s.metricRunning.Dec()
}

// rwmutex wraps sync.RWMutex, respecting context cancellation on RLock
// and reporting occupancy to prometheus.
type rwmutex struct {
	mu sync.RWMutex

	metricQueued        *gaugeCounter
	metricRunning        *gaugeCounter
	metricTimedoutTotal prometheus.Counter

	metricExclusiveQueued  *gaugeCounter
	metricExclusiveRunning *gaugeCounter
}

func newRWMutex() *rwmutex {
	return &rwmutex{
		metricQueued: &gaugeCounter{
			gauge:   metricSched.WithLabelValues("global", "queued"),
			counter: metricSchedTotal.WithLabelValues("global", "queued"),
		},
		metricRunning: &gaugeCounter{
			gauge:   metricSched.WithLabelValues("global", "running"),
			counter: metricSchedTotal.WithLabelValues("global", "running"),
		},
		metricTimedoutTotal: metricSchedTotal.WithLabelValues("global", "timedout"),
		metricExclusiveQueued: &gaugeCounter{
			gauge:   metricSched.WithLabelValues("exclusive", "queued"),
			counter: metricSchedTotal.WithLabelValues("exclusive", "queued"),
		},
		metricExclusiveRunning: &gaugeCounter{
			gauge:   metricSched.WithLabelValues("exclusive", "running"),
			counter: metricSchedTotal.WithLabelValues("exclusive", "running"),
		},
	}
}

func (s *rwmutex) RLock(ctx context.Context) error {
	s.metricQueued.Inc()
	defer s.metricQueued.Dec()

	if err := rlockAcquire(ctx, &s.mu); err != nil {
		s.metricTimedoutTotal.Inc()
		return err
	}
	s.metricRunning.Inc()
	return nil
}

func (s *rwmutex) RUnlock() {
	s.mu.RUnlock()
	s.metricRunning.Dec()
}

func (s *rwmutex) Lock() {
	s.metricExclusiveQueued.Inc()
	defer s.metricExclusiveQueued.Dec()

	s.mu.Lock()
	s.metricExclusiveRunning.Inc()
}

func (s *rwmutex) Unlock() {
	s.mu.Unlock()
	s.metricExclusiveRunning.Dec()
}

func rlockAcquire(ctx context.Context, mu *sync.RWMutex) error {
	done := make(chan struct{})
	go func() {
		mu.RLock()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		go func() {
			<-done
			mu.RUnlock()
		}()
		return ctx.Err()
	}
}

type gaugeCounter struct {
	gauge   prometheus.Gauge
	counter prometheus.Counter
}

func (m *gaugeCounter) Inc() {
	m.gauge.Inc()
	m.counter.Inc()
}

func (m *gaugeCounter) Dec() {
	m.gauge.Dec()
}

func logger() *zap.Logger {
	if !logging.IsInitialized() {
		return zap.NewNop()
	}
	return logging.Get()
}
