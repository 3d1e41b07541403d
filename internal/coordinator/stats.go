package coordinator

import "sync/atomic"

// SessionStats counts handled sessions by outcome.
// Counters are updated atomically and may be read at any time.
type SessionStats struct {
	registers     atomic.Uint64
	heartbeats    atomic.Uint64
	taskRequests  atomic.Uint64
	tasksAssigned atomic.Uint64
	results       atomic.Uint64
	peerQueries   atomic.Uint64
	failed        atomic.Uint64
}

// SessionCounts is a point-in-time copy of SessionStats.
type SessionCounts struct {
	Registers     uint64 `json:"registers"`
	Heartbeats    uint64 `json:"heartbeats"`
	TaskRequests  uint64 `json:"task_requests"`
	TasksAssigned uint64 `json:"tasks_assigned"`
	Results       uint64 `json:"results"`
	PeerQueries   uint64 `json:"peer_queries"`
	Failed        uint64 `json:"failed"`
}

// Snapshot returns the current counter values.
func (s *SessionStats) Snapshot() SessionCounts {
	return SessionCounts{
		Registers:     s.registers.Load(),
		Heartbeats:    s.heartbeats.Load(),
		TaskRequests:  s.taskRequests.Load(),
		TasksAssigned: s.tasksAssigned.Load(),
		Results:       s.results.Load(),
		PeerQueries:   s.peerQueries.Load(),
		Failed:        s.failed.Load(),
	}
}
