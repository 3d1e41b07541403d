// Package coordinator implements the authoritative side of tasknet.
// This file implements liveness tracking for registered peers.
package coordinator

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Liveness statuses.
const (
	LivenessAlive = "alive"
	LivenessStale = "stale"
)

// PeerLiveness is the liveness view of a single registered peer.
// Thread-safe: Protected by LivenessMonitor's mutex when accessed.
type PeerLiveness struct {
	LastCheck time.Time `json:"last_check"` // Timestamp of the last classification
	LastSeen  time.Time `json:"last_seen"`  // Registry LastSeen at the last classification
	PeerID    string    `json:"peer_id"`    // Peer identifier
	Status    string    `json:"status"`     // "alive" or "stale"
}

// LivenessMonitor periodically classifies registered peers as alive or stale
// from the age of their last heartbeat. It only observes: stale peers stay in
// the registry and keep any task they were handed.
// Thread-safe: All methods are safe for concurrent access.
type LivenessMonitor struct {
	peers      map[string]*PeerLiveness // Current classification per peer
	onStale    func(peerID string)      // Callback when a peer turns stale
	now        func() time.Time         // Clock, replaceable in tests
	log        *zap.Logger
	interval   time.Duration // How often to classify peers
	staleAfter time.Duration // Silence after which a peer is stale
	mu         sync.RWMutex  // Protects peers map
}

// NewLivenessMonitor creates a monitor that scans every interval and marks a
// peer stale once it has been silent longer than staleAfter.
//
// Example:
//
//	monitor := NewLivenessMonitor(30*time.Second, 90*time.Second, logger)
//	go monitor.Start(ctx, coord.Peers)
func NewLivenessMonitor(interval, staleAfter time.Duration, logger *zap.Logger) *LivenessMonitor {
	if logger == nil {
		logger = zap.L()
	}
	return &LivenessMonitor{
		peers:      make(map[string]*PeerLiveness),
		now:        time.Now,
		log:        logger,
		interval:   interval,
		staleAfter: staleAfter,
	}
}

// SetOnStale sets the callback invoked when a peer transitions to stale.
// The callback runs in its own goroutine.
func (m *LivenessMonitor) SetOnStale(callback func(peerID string)) {
	m.onStale = callback
}

// Start classifies the peers returned by peerProvider every interval until ctx
// is done. It blocks; run it in its own goroutine.
func (m *LivenessMonitor) Start(ctx context.Context, peerProvider func() []PeerRecord) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	m.log.Info("liveness monitor started",
		zap.Duration("interval", m.interval),
		zap.Duration("stale_after", m.staleAfter))

	m.checkAll(peerProvider())

	for {
		select {
		case <-ticker.C:
			m.checkAll(peerProvider())
		case <-ctx.Done():
			return
		}
	}
}

// checkAll classifies every peer and logs transitions.
func (m *LivenessMonitor) checkAll(peers []PeerRecord) {
	now := m.now()

	m.mu.Lock()
	defer m.mu.Unlock()

	for _, p := range peers {
		status := LivenessAlive
		if now.Sub(p.LastSeen) > m.staleAfter {
			status = LivenessStale
		}

		entry, exists := m.peers[p.ID]
		if !exists {
			entry = &PeerLiveness{PeerID: p.ID}
			m.peers[p.ID] = entry
		}
		previous := entry.Status
		entry.Status = status
		entry.LastSeen = p.LastSeen
		entry.LastCheck = now

		switch {
		case status == LivenessStale && previous != LivenessStale:
			m.log.Warn("peer stale",
				zap.String("peer_id", p.ID),
				zap.Duration("silent_for", now.Sub(p.LastSeen)))
			if m.onStale != nil {
				go m.onStale(p.ID)
			}
		case status == LivenessAlive && previous == LivenessStale:
			m.log.Info("peer alive again", zap.String("peer_id", p.ID))
		}
	}
}

// Snapshot returns copies of all liveness entries keyed by peer id.
func (m *LivenessMonitor) Snapshot() map[string]*PeerLiveness {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make(map[string]*PeerLiveness, len(m.peers))
	for id, entry := range m.peers {
		cp := *entry
		out[id] = &cp
	}
	return out
}
