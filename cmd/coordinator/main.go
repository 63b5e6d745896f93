// Command coordinator runs the distributed query coordination core as a
// long-lived process: it holds the coordinator.Runtime other code in this
// process drives Search/Aggregate/ClusterSet through, and exposes health
// and Prometheus metrics endpoints the way cmd/zoekt-webserver exposes its
// own /healthz and metrics registry.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/distquery/coordinator/coordinator"
	"github.com/distquery/coordinator/logging"
)

func main() {
	listen := flag.String("listen", ":6380", "address to serve /healthz and /metrics on.")
	myID := flag.String("my-id", "", "this coordinator's node ID, used for LOCAL coordination routing and reported by CLUSTERINFO.")

	partitions := flag.Int("partitions", 1, "expected shard count, sizes default pool/queue capacities before the first CLUSTERSET.")
	clusterType := flag.String("type", "oss", "cluster type: oss or enterprise.")
	timeout := flag.Duration("timeout", 500*time.Millisecond, "default per-request fanout deadline.")
	globalPass := flag.String("globalpass", "", "password sent to shard connections that carry no per-node password in their ADDR.")
	connPerShard := flag.Int("conn-per-shard", 0, "go-redis pool size per shard node; 0 means auto.")
	refreshInterval := flag.Duration("refresh-interval", 0, "if set and a refresh source is wired in, run CLUSTERREFRESH on this interval.")

	flag.Parse()

	liblog := logging.Init()
	defer liblog()

	cfg := coordinator.DefaultConfig()
	cfg.Partitions = *partitions
	cfg.Timeout = *timeout
	cfg.GlobalPass = *globalPass
	cfg.ConnPerShard = *connPerShard
	switch *clusterType {
	case "oss":
		cfg.Type = coordinator.TypeOSS
	case "enterprise":
		cfg.Type = coordinator.TypeEnterprise
	default:
		log.Fatalf("unknown -type %q: expected oss or enterprise", *clusterType)
	}

	if *myID == "" {
		log.Fatal("-my-id is required")
	}

	rt := coordinator.NewRuntime(cfg, *myID)
	defer rt.Close()

	if *refreshInterval > 0 {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		rt.StartRefreshLoop(ctx, *refreshInterval)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", healthzHandler(rt))
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{Addr: *listen, Handler: mux}

	go func() {
		logging.Get().Sugar().Infow("starting server", "address", *listen)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("ListenAndServe: %v", err)
		}
	}()

	watchdogTick := 30 * time.Second
	if v := os.Getenv("FTCOORD_WATCHDOG_TICK"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			watchdogTick = d
		}
	}
	watchdogErrCount := 3
	if v := os.Getenv("FTCOORD_WATCHDOG_ERRORS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			watchdogErrCount = n
		}
	}
	if watchdogTick > 0 && watchdogErrCount > 0 {
		go watchdog(watchdogTick, watchdogErrCount, "http://"+*listen+"/healthz")
	}

	if err := shutdownOnSignal(srv); err != nil {
		log.Fatalf("http.Server.Shutdown: %v", err)
	}
}

// healthzHandler reports 200 once a topology has been installed by a
// CLUSTERSET/CLUSTERREFRESH, 503 (ErrClusterDown) otherwise: a caller
// load-balancing across coordinator processes should not route to one
// that cannot yet fan anything out.
func healthzHandler(rt *coordinator.Runtime) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if _, err := rt.Topology(); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			fmt.Fprintln(w, err)
			return
		}
		w.WriteHeader(http.StatusOK)
		fmt.Fprintln(w, "ok")
	}
}

// shutdownOnSignal blocks until SIGINT or SIGTERM, then drains srv with a
// bounded grace period; a second signal forces an immediate shutdown.
func shutdownOnSignal(srv *http.Server) error {
	c := make(chan os.Signal, 3)
	signal.Notify(c, os.Interrupt)
	signal.Notify(c, syscall.SIGTERM)

	<-c

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		select {
		case <-ctx.Done():
		case sig := <-c:
			log.Printf("received another signal (%v), immediate shutdown", sig)
			cancel()
		}
	}()

	ctx, cancel2 := context.WithTimeout(ctx, 10*time.Second)
	defer cancel2()

	log.Printf("shutting down")
	return srv.Shutdown(ctx)
}

func watchdogOnce(ctx context.Context, client *http.Client, addr string) error {
	defer metricWatchdogTotal.Inc()

	ctx, cancel := context.WithDeadline(ctx, time.Now().Add(30*time.Second))
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, addr, nil)
	if err != nil {
		return err
	}

	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("watchdog: status %v", resp.StatusCode)
	}
	return nil
}

func watchdog(dt time.Duration, maxErrCount int, addr string) {
	client := &http.Client{}
	tick := time.NewTicker(dt)
	defer tick.Stop()

	errCount := 0
	for range tick.C {
		err := watchdogOnce(context.Background(), client, addr)
		if err != nil {
			errCount++
			metricWatchdogErrors.Set(float64(errCount))
			metricWatchdogErrorsTotal.Inc()
			if errCount >= maxErrCount {
				log.Panicf("watchdog: %v", err)
			}
			log.Printf("watchdog: failed, will try %d more times: %v", maxErrCount-errCount, err)
		} else if errCount > 0 {
			errCount = 0
			metricWatchdogErrors.Set(0)
			log.Printf("watchdog: success, resetting error count")
		}
	}
}

var (
	metricWatchdogErrors = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "ftcoord_watchdog_errors",
		Help: "The current error count for the coordinator's self-watchdog.",
	})
	metricWatchdogTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ftcoord_watchdog_total",
		Help: "The total number of watchdog health checks performed.",
	})
	metricWatchdogErrorsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ftcoord_watchdog_errors_total",
		Help: "The total number of failed watchdog health checks.",
	})
)
