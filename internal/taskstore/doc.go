// Package taskstore holds the coordinator's task queue: archives waiting to be
// handed out, archives handed out but not yet answered, and recorded results.
//
// # States
//
// A task's state is where its archive lives, not a field on a record:
//
//	Pending ──Claim──► InFlight ──Complete──► Completed
//	                      │
//	                      └── stays here forever if no result arrives
//
// Completed means a result is recorded under ResultName(task). A task name is
// never in Pending and InFlight at the same time.
//
// # Backends
//
// DirStore maps the three areas onto sibling directories and uses rename for
// the Pending→InFlight move. MemoryStore keeps the same semantics in maps so
// the hand-off logic can be exercised without touching disk.
//
// # Concurrency
//
// Backends are safe for concurrent use, but Pending followed by Claim is not
// atomic on its own. Callers that select a task and claim it must serialize
// that pair themselves; the coordinator does so under its lock.
package taskstore
