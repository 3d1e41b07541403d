// Package coordinator implements the authoritative side of tasknet: the peer
// registry, the task hand-off protocol, the per-connection session handler,
// and liveness observation of registered workers.
//
// # Overview
//
// A single coordinator process owns the queue of task archives and the set of
// workers that have registered with it. Workers never touch either directly;
// every change arrives as one request on one TCP connection.
//
// # Architecture
//
//	┌─────────────────────────────────────┐
//	│            COORDINATOR              │
//	├─────────────────────────────────────┤
//	│  Server                             │
//	│   - accept loop, bounded sessions   │
//	│   - one goroutine per connection    │
//	│   - dispatch by action              │
//	│                │                    │
//	│                ▼                    │
//	│  Coordinator (one mutex)            │
//	│   - peers: id → PeerRecord          │
//	│   - store: taskstore.Store          │
//	│                                     │
//	│  LivenessMonitor                    │
//	│   - periodic alive/stale scan       │
//	└─────────────────────────────────────┘
//
// # Core Components
//
// Coordinator: Registry and hand-off state
//   - Register / Touch / ListPeerIDs / LookupPeer for the registry
//   - ClaimTask / SubmitResult for the queue
//   - Every registry mutation and the select-and-move step of ClaimTask run
//     under the same mutex
//
// Server: Session handler
//   - Reads exactly one request, writes exactly one reply
//   - Failed sessions are logged and dropped without a structured error
//   - Concurrency capped by a weighted semaphore
//
// LivenessMonitor: Observation only
//   - Marks a peer stale when its last heartbeat is older than a threshold
//   - Never evicts registry entries and never reclaims tasks
//
// # Hand-off Protocol
//
// REQUEST_TASK:
//  1. Lock; list pending tasks (sorted)
//  2. Empty list: unlock, reply with null task fields
//  3. Otherwise move the first name to in-flight; unlock
//  4. Read the archive outside the lock and reply with name and base64 data
//
// SUBMIT_RESULT:
//  1. Decode and write the result file outside the lock
//  2. Lock; delete the in-flight entry if present; unlock
//  3. Reply OK
//
// Because step 1 of REQUEST_TASK and the move in step 3 are inside one
// critical section, a task is handed to at most one worker. A task whose
// worker disappears stays in-flight; there is no reclaim.
//
// # Trust Model
//
// Peers are not authenticated. Any peer may submit a result for any task name
// and a later submission overwrites an earlier one. Names are validated only
// to keep writes inside the results directory.
package coordinator
