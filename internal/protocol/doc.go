// Package protocol defines the wire format shared by the tasknet coordinator and
// its workers, and the helpers both sides use to exchange messages.
//
// # Overview
//
// Two protocols are in play. Discovery is connectionless: a worker broadcasts a
// probe on the discovery port and the coordinator answers the sender directly
// with its reachable address. Coordination is connection oriented: every
// request opens a fresh TCP connection, sends exactly one JSON object, reads
// exactly one JSON object back, and closes.
//
//	Worker                                   Coordinator
//	  │  UDP :50001 {"action":"DISCOVER_SUPER_PEER"}  │
//	  │ ────────────────────────────────────────────► │
//	  │  {"action":"SUPER_PEER_ANNOUNCEMENT",...}     │
//	  │ ◄──────────────────────────────────────────── │
//	  │                                               │
//	  │  TCP :50000  one request / one reply          │
//	  │ ◄───────────────────────────────────────────► │
//
// # Coordination Actions
//
//	REGISTER       peer_id, p2p_port             → status "REGISTERED"
//	HEARTBEAT      peer_id                       → status "ALIVE"
//	REQUEST_TASK   peer_id                       → TASK_PACKAGE (task_name/task_data nullable)
//	SUBMIT_RESULT  peer_id, result_name/_data    → status "OK"
//	LIST_PEERS     peer_id                       → peers
//	GET_PEER_INFO  peer_id, target_peer_id       → status "ok" + contact, or status "error"
//
// # Framing
//
// The client writes one JSON object and half-closes its write side. The server
// decodes a single JSON value, so it does not depend on the half-close, writes
// its reply, and closes the connection. Messages larger than MaxMessageSize are
// rejected by the reader.
//
// # Payloads
//
// Task archives and result archives travel as standard base64 text inside the
// JSON objects. EncodePayload and DecodePayload are the only conversion points.
//
// # Failure Model
//
// A failed exchange (dial error, malformed reply, closed connection) is returned
// to the caller as an error. The coordinator never answers a bad request with a
// structured error; it logs and drops the connection, and callers treat that as
// a transient failure.
package protocol
