package ioruntime

import (
	"context"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Job is one unit of work submitted to a Queue.
type Job func(ctx context.Context)

// Queue is a single-threaded FIFO work queue with admission backpressure:
// once MaxPending jobs are queued or running, Push blocks (or returns
// ErrQueueFull for TryPush) rather than growing unbounded. One call to
// Run drains it on the calling goroutine, so the queue behaves like the
// coordinator's single I/O thread: jobs never run concurrently with each
// other, including those on the topology-refresh slot described below.
//
// A dedicated, uncounted slot exists for topology updates (PushTopology)
// so a CLUSTERREFRESH is never blocked behind a backlog of slow searches.
type Queue struct {
	mu       sync.Mutex
	cond     *sync.Cond
	jobs     []Job
	topology []Job

	pending    int
	maxPending int
	closed     bool

	metricSize    prometheus.Gauge
	metricPending prometheus.Gauge
	metricPushed  prometheus.Counter
	metricDone    prometheus.Counter
	metricRejected prometheus.Counter
}

var (
	queueSize = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "ftcoord_ioruntime_queue_size",
		Help: "Jobs currently resident in the coordinator I/O queue.",
	}, []string{"queue"})
	queuePending = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "ftcoord_ioruntime_queue_pending",
		Help: "Jobs admitted but not yet finished on the coordinator I/O queue.",
	}, []string{"queue"})
	queuePushedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ftcoord_ioruntime_queue_pushed_total",
		Help: "Jobs ever pushed onto the coordinator I/O queue.",
	}, []string{"queue"})
	queueDoneTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ftcoord_ioruntime_queue_done_total",
		Help: "Jobs ever completed on the coordinator I/O queue.",
	}, []string{"queue"})
	queueRejectedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ftcoord_ioruntime_queue_rejected_total",
		Help: "Jobs rejected by TryPush because the queue was full.",
	}, []string{"queue"})
)

// NewQueue returns a Queue that admits at most maxPending jobs at once.
// name labels this queue's metrics (e.g. "shard-1", "topology").
func NewQueue(name string, maxPending int) *Queue {
	q := &Queue{
		maxPending:     maxPending,
		metricSize:     queueSize.WithLabelValues(name),
		metricPending:  queuePending.WithLabelValues(name),
		metricPushed:   queuePushedTotal.WithLabelValues(name),
		metricDone:     queueDoneTotal.WithLabelValues(name),
		metricRejected: queueRejectedTotal.WithLabelValues(name),
	}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// ErrQueueFull is returned by TryPush when the queue is already at
// MaxPending.
type ErrQueueFull struct{}

func (ErrQueueFull) Error() string { return "ioruntime: queue is at max_pending" }

// Push appends job to the FIFO, blocking until a slot is free or ctx is
// done.
func (q *Queue) Push(ctx context.Context, job Job) error {
	q.mu.Lock()
	for q.pending >= q.maxPending && !q.closed {
		if ctx.Err() != nil {
			q.mu.Unlock()
			return ctx.Err()
		}
		// cond.Wait can't select on ctx.Done, so a waiter goroutine
		// nudges the condvar when the context expires.
		done := make(chan struct{})
		go func() {
			select {
			case <-ctx.Done():
				q.cond.Broadcast()
			case <-done:
			}
		}()
		q.cond.Wait()
		close(done)
	}
	if q.closed {
		q.mu.Unlock()
		return context.Canceled
	}
	q.push(job)
	q.mu.Unlock()
	return nil
}

// TryPush appends job without blocking, returning ErrQueueFull if the
// queue is at capacity.
func (q *Queue) TryPush(job Job) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.pending >= q.maxPending {
		q.metricRejected.Inc()
		return ErrQueueFull{}
	}
	q.push(job)
	return nil
}

func (q *Queue) push(job Job) {
	q.jobs = append(q.jobs, job)
	q.pending++
	q.metricSize.Set(float64(len(q.jobs) + len(q.topology)))
	q.metricPending.Set(float64(q.pending))
	q.metricPushed.Inc()
}

// PushTopology enqueues a topology-refresh job onto the dedicated,
// uncounted slot that always runs before the regular backlog, bypassing
// max_pending admission control.
func (q *Queue) PushTopology(job Job) {
	q.mu.Lock()
	q.topology = append(q.topology, job)
	q.metricSize.Set(float64(len(q.jobs) + len(q.topology)))
	q.cond.Broadcast()
	q.mu.Unlock()
}

// Run drains the queue on the calling goroutine until ctx is done or
// Close is called. Jobs run strictly one at a time, topology jobs ahead
// of regular ones.
func (q *Queue) Run(ctx context.Context) {
	for {
		job, isTopology, ok := q.pop(ctx)
		if !ok {
			return
		}
		job(ctx)
		q.mu.Lock()
		if !isTopology {
			q.pending--
			q.metricPending.Set(float64(q.pending))
			q.metricDone.Inc()
		}
		q.metricSize.Set(float64(len(q.jobs) + len(q.topology)))
		q.cond.Broadcast()
		q.mu.Unlock()
	}
}

func (q *Queue) pop(ctx context.Context) (Job, bool, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for len(q.jobs) == 0 && len(q.topology) == 0 && !q.closed && ctx.Err() == nil {
		done := make(chan struct{})
		go func() {
			select {
			case <-ctx.Done():
				q.cond.Broadcast()
			case <-done:
			}
		}()
		q.cond.Wait()
		close(done)
	}
	if len(q.topology) > 0 {
		job := q.topology[0]
		q.topology = q.topology[1:]
		return job, true, true
	}
	if len(q.jobs) > 0 {
		job := q.jobs[0]
		q.jobs = q.jobs[1:]
		return job, false, true
	}
	return nil, false, false
}

// Close unblocks every pending Push and Run, permanently.
func (q *Queue) Close() {
	q.mu.Lock()
	q.closed = true
	q.cond.Broadcast()
	q.mu.Unlock()
}

// Len reports jobs currently resident (queued, not yet run).
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.jobs) + len(q.topology)
}

// Pending reports jobs admitted under max_pending (excludes topology
// jobs, which don't count against it).
func (q *Queue) Pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.pending
}
