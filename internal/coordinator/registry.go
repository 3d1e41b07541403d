// Package coordinator implements the authoritative side of tasknet.
// See doc.go for complete package documentation.
package coordinator

import (
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/exp/slices"

	"github.com/dreamware/tasknet/internal/taskstore"
)

// ErrNoTaskAvailable is returned by ClaimTask when the pending area is empty.
var ErrNoTaskAvailable = errors.New("no task available")

// PeerRecord is the registry entry for one worker.
//
// Addr is the source address observed on the registration connection, never a
// value the peer reported about itself. AnnouncedPort is whatever the peer
// claimed in p2p_port; 0 when it sent none.
type PeerRecord struct {
	RegisteredAt  time.Time
	LastSeen      time.Time
	ID            string
	Addr          string
	AnnouncedPort int
}

// Coordinator owns the peer registry and the task store. One mutex serializes
// every registry mutation and the select-and-claim step of task hand-off, so
// no two requests can ever be given the same task.
//
// The registry only grows: records are never evicted, and staleness is
// something callers observe (see LivenessMonitor), not something enforced.
type Coordinator struct {
	peers map[string]*PeerRecord // registered workers by id
	store taskstore.Store        // pending / in-flight / results
	now   func() time.Time       // clock, replaceable in tests
	log   *zap.Logger
	mu    sync.Mutex // the coordinator-wide lock
}

// New creates a coordinator over store. A nil logger uses the global zap logger.
func New(store taskstore.Store, logger *zap.Logger) *Coordinator {
	if logger == nil {
		logger = zap.L()
	}
	return &Coordinator{
		peers: make(map[string]*PeerRecord),
		store: store,
		now:   time.Now,
		log:   logger,
	}
}

// Store returns the task store the coordinator hands work out of.
func (c *Coordinator) Store() taskstore.Store {
	return c.store
}

// Register inserts or refreshes the record for id. Re-registering keeps the
// original RegisteredAt and replaces the contact details and LastSeen.
func (c *Coordinator) Register(id, addr string, announcedPort int) PeerRecord {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	rec, ok := c.peers[id]
	if !ok {
		rec = &PeerRecord{ID: id, RegisteredAt: now}
		c.peers[id] = rec
	}
	rec.Addr = addr
	rec.AnnouncedPort = announcedPort
	rec.LastSeen = now
	return *rec
}

// Touch refreshes LastSeen for a known peer. Unknown ids are ignored and
// reported as false; no record is created.
func (c *Coordinator) Touch(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	rec, ok := c.peers[id]
	if !ok {
		return false
	}
	rec.LastSeen = c.now()
	return true
}

// ListPeerIDs returns every registered id except exclude, sorted.
func (c *Coordinator) ListPeerIDs(exclude string) []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	ids := make([]string, 0, len(c.peers))
	for id := range c.peers {
		if id != exclude {
			ids = append(ids, id)
		}
	}
	slices.Sort(ids)
	return ids
}

// LookupPeer returns a copy of the record for id.
func (c *Coordinator) LookupPeer(id string) (PeerRecord, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	rec, ok := c.peers[id]
	if !ok {
		return PeerRecord{}, false
	}
	return *rec, true
}

// Peers returns copies of all records ordered by id.
func (c *Coordinator) Peers() []PeerRecord {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]PeerRecord, 0, len(c.peers))
	for _, rec := range c.peers {
		out = append(out, *rec)
	}
	slices.SortFunc(out, func(a, b PeerRecord) int {
		switch {
		case a.ID < b.ID:
			return -1
		case a.ID > b.ID:
			return 1
		}
		return 0
	})
	return out
}
