package coordinator

import "github.com/pkg/errors"

// Sentinel errors for the coordinator's error kinds. Call sites wrap
// these with errors.Wrap/Wrapf for context and compare with errors.Is.
var (
	// ErrClusterDown is returned when no CLUSTERSET has ever landed,
	// leaving the topology pointer nil; a failed CLUSTERSET leaves the
	// previously installed snapshot in place.
	ErrClusterDown = errors.New("ERRCLUSTER Uninitialized cluster state, could not perform command")

	// ErrTimeout is returned when a fanout's deadline expired with zero
	// usable replies.
	ErrTimeout = errors.New("Timeout calling command")

	// ErrProtocol is returned when a shard's reply did not have the
	// shape the merger expected.
	ErrProtocol = errors.New("could not parse redisearch results")

	// ErrNoShards is returned when zero shards were reachable under the
	// configured routing strategy.
	ErrNoShards = errors.New("Could not distribute command")
)

// Kind classifies an error for logging/metrics without callers needing to
// errors.Is against every sentinel individually.
type Kind int

const (
	KindClusterDown Kind = iota
	KindParseArgs
	KindShardError
	KindTimeout
	KindProtocol
	KindResource
)

func (k Kind) String() string {
	switch k {
	case KindClusterDown:
		return "cluster_down"
	case KindParseArgs:
		return "parse_args"
	case KindShardError:
		return "shard_error"
	case KindTimeout:
		return "timeout"
	case KindProtocol:
		return "protocol"
	case KindResource:
		return "resource"
	default:
		return "unknown"
	}
}

// Error wraps an underlying cause with the Kind that drove how it
// should be surfaced to the client.
type Error struct {
	Kind  Kind
	cause error
}

func newError(kind Kind, cause error) *Error {
	return &Error{Kind: kind, cause: cause}
}

func (e *Error) Error() string { return e.cause.Error() }
func (e *Error) Unwrap() error { return e.cause }
