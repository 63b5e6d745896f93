package topology

import "sync/atomic"

// Store holds the process-wide topology pointer. Updates swap the pointer
// atomically (release); readers load it atomically (acquire) and hold
// onto the returned snapshot for the lifetime of one fanout, so an update
// mid-fanout never changes the topology an in-flight request sees.
type Store struct {
	ptr atomic.Pointer[ClusterTopology]
}

// Load returns the current snapshot, or nil if no CLUSTERSET has landed
// yet (ClusterDown).
func (s *Store) Load() *ClusterTopology {
	return s.ptr.Load()
}

// Swap installs t as the current snapshot, returning the previous one.
func (s *Store) Swap(t *ClusterTopology) *ClusterTopology {
	return s.ptr.Swap(t)
}
