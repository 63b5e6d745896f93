package coordinator

import (
	"context"
	"time"

	"github.com/pkg/errors"

	"github.com/distquery/coordinator/fanout"
	"github.com/distquery/coordinator/ioruntime"
	"github.com/distquery/coordinator/logging"
	"github.com/distquery/coordinator/router"
	"github.com/distquery/coordinator/topology"
)

// RefreshFunc pulls a fresh topology description from the host's cluster
// API, backing the CLUSTERREFRESH admin command. What "the host's
// cluster API" means is deployment-specific (a managed control plane's
// REST API in production, a static file in a single-node test harness),
// so the runtime takes it as an injected hook rather than hard-coding a
// transport.
type RefreshFunc func(ctx context.Context) (*topology.ClusterTopology, error)

// Runtime owns the topology snapshot, the shard connection pool, the
// cooperative scheduler, and the admin-command surface for one
// coordinator process, in place of the process-wide globals a
// single-threaded module build would reach for.
type Runtime struct {
	Config Config
	MyID   string

	store     topology.Store
	pool      *ioruntime.Pool
	scheduler *ioruntime.Scheduler
	sender    fanout.ShardSender

	Refresh RefreshFunc

	stopRefresh chan struct{}
}

// Option configures a Runtime at construction.
type Option func(*Runtime)

// WithSender overrides the default pooled go-redis sender, used by
// tests that stand in a fanout.SenderFunc for a real shard connection.
func WithSender(sender fanout.ShardSender) Option {
	return func(r *Runtime) { r.sender = sender }
}

// NewRuntime builds a Runtime from cfg. myID is this coordinator's node
// ID, used by router.LocalCoordination routing and reported by
// CLUSTERINFO.
func NewRuntime(cfg Config, myID string, opts ...Option) *Runtime {
	pool := ioruntime.NewPool(cfg.ConnPerShard)
	r := &Runtime{
		Config:    cfg,
		MyID:      myID,
		pool:      pool,
		scheduler: ioruntime.NewScheduler(int64(schedulerCapacity(cfg))),
		sender:    fanout.NewPoolSender(pool),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func schedulerCapacity(cfg Config) int {
	if cfg.Partitions > 0 {
		return cfg.Partitions
	}
	return 1
}

// Close releases every pooled shard connection and stops any running
// refresh loop.
func (r *Runtime) Close() error {
	r.StopRefreshLoop()
	return r.pool.CloseAll()
}

// Topology returns the current snapshot, or ErrClusterDown if no
// CLUSTERSET has ever landed.
func (r *Runtime) Topology() (*topology.ClusterTopology, error) {
	t := r.store.Load()
	if t == nil {
		return nil, newError(KindClusterDown, ErrClusterDown)
	}
	return t, nil
}

// fanoutContext captures the current topology snapshot and builds a
// fanout.Context for one request: a fanout captures the pointer once
// and uses it for the rest of its lifetime, even if a CLUSTERSET lands
// while it is in flight.
func (r *Runtime) fanoutContext(strategy router.Strategy) (*fanout.Context, error) {
	top, err := r.Topology()
	if err != nil {
		return nil, err
	}
	return &fanout.Context{
		Topology: top,
		Strategy: strategy,
		MyID:     r.MyID,
		Sender:   r.sender,
	}, nil
}

// deadline derives an absolute deadline from Config.Timeout, or the
// explicit override timeoutMS if it is positive (a per-query TIMEOUT
// clause overrides the module default), relative to parent so the
// caller's own cancellation still propagates.
func (r *Runtime) deadline(parent context.Context, timeoutMS int) (context.Context, context.CancelFunc) {
	d := r.Config.Timeout
	if timeoutMS > 0 {
		d = time.Duration(timeoutMS) * time.Millisecond
	}
	return context.WithTimeout(parent, d)
}

// ClusterSet installs a fresh topology atomically: the new snapshot is
// fully parsed and validated before anything is swapped, and the swap
// itself runs under the scheduler's exclusive slot, so it waits for any
// process admitted through Scheduler.Acquire. Search and Aggregate do not
// acquire a scheduler slot; each keeps the topology pointer it captured
// when it started.
func (r *Runtime) ClusterSet(args []string) error {
	top, err := topology.ParseClusterSet(args)
	if err != nil {
		return newError(KindParseArgs, err)
	}
	top.MyID = r.MyID

	proc := r.scheduler.Exclusive()
	defer proc.Release()
	r.store.Swap(top)
	return nil
}

// ClusterRefresh pulls a topology from r.Refresh and installs it, the same way
// ClusterSet does. It is a no-op returning an error if no RefreshFunc was
// configured.
func (r *Runtime) ClusterRefresh(ctx context.Context) error {
	if r.Refresh == nil {
		return errors.New("coordinator: CLUSTERREFRESH: no refresh source configured")
	}
	top, err := r.Refresh(ctx)
	if err != nil {
		return errors.Wrap(err, "coordinator: CLUSTERREFRESH")
	}
	top.MyID = r.MyID
	if err := top.Validate(); err != nil {
		return errors.Wrap(err, "coordinator: CLUSTERREFRESH: invalid topology")
	}

	proc := r.scheduler.Exclusive()
	defer proc.Release()
	r.store.Swap(top)
	return nil
}

// StartRefreshLoop runs ClusterRefresh on an interval until ctx is done
// or StopRefreshLoop is called, logging (never panicking) on failure.
func (r *Runtime) StartRefreshLoop(ctx context.Context, interval time.Duration) {
	r.stopRefresh = make(chan struct{})
	go func() {
		t := time.NewTicker(interval)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-r.stopRefresh:
				return
			case <-t.C:
				if err := r.ClusterRefresh(ctx); err != nil && logging.IsInitialized() {
					logging.Get().Sugar().Warnw("cluster refresh failed", "error", err)
				}
			}
		}
	}()
}

// StopRefreshLoop stops a running refresh loop. It is safe to call when
// none is running.
func (r *Runtime) StopRefreshLoop() {
	if r.stopRefresh == nil {
		return
	}
	select {
	case <-r.stopRefresh:
	default:
		close(r.stopRefresh)
	}
}
