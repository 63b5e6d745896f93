// Package coordinator ties the topology, fanout, merge, and rpnet
// packages together into the request-handling surface: Search/Aggregate
// over the shard cluster, the CLUSTERSET/CLUSTERREFRESH/CLUSTERINFO
// admin commands, and the module's configuration and error surface.
package coordinator

import "time"

// ClusterType distinguishes the oss vs enterprise deployment, reported
// back verbatim by CLUSTERINFO.
type ClusterType int

const (
	TypeOSS ClusterType = iota
	TypeEnterprise
)

func (t ClusterType) String() string {
	if t == TypeEnterprise {
		return "enterprise"
	}
	return "oss"
}

// Config mirrors the coordinator module's load-time options.
type Config struct {
	// Partitions is the expected shard count, used only to size default
	// pool/queue capacities before the first CLUSTERSET lands.
	Partitions int
	Type       ClusterType
	// Timeout is the default per-request fanout deadline.
	Timeout time.Duration
	// GlobalPass is sent to every shard connection that does not carry
	// its own per-node password in its ADDR.
	GlobalPass string
	// ConnPerShard is go-redis's PoolSize per shard node; 0 means
	// "auto" (ioruntime.NewPool treats <=0 as one connection).
	ConnPerShard int
}

// DefaultConfig returns the module's documented default load options.
func DefaultConfig() Config {
	return Config{
		Partitions:   1,
		Type:         TypeOSS,
		Timeout:      500 * time.Millisecond,
		ConnPerShard: 0,
	}
}
